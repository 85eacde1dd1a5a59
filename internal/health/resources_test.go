// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeFakeProc(t *testing.T, procPath string, pid int, fdCount int) {
	t.Helper()
	procDir := filepath.Join(procPath, strconv.Itoa(pid))
	fdDir := filepath.Join(procDir, "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < fdCount; i++ {
		if err := os.WriteFile(filepath.Join(fdDir, strconv.Itoa(i)), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stat := "12345 (zureshotd) S 1 12345 12345 0 -1 4194304 100 0 0 0 10 5 0 0 20 0 3 0 1000 1000000 100 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n"
	if err := os.WriteFile(filepath.Join(procDir, "stat"), []byte(stat), 0o644); err != nil {
		t.Fatal(err)
	}
	statm := "1000 500 100 10 0 500 0\n"
	if err := os.WriteFile(filepath.Join(procDir, "statm"), []byte(statm), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResourceMonitorSampleReadsProcFiles(t *testing.T) {
	procPath := t.TempDir()
	writeFakeProc(t, procPath, 12345, 5)

	m := NewResourceMonitor(WithProcPath(procPath))
	metrics, err := m.Sample(12345)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if metrics.FileDescriptors != 5 {
		t.Errorf("FileDescriptors = %d, want 5", metrics.FileDescriptors)
	}
	if metrics.MemoryBytes == 0 {
		t.Error("expected non-zero MemoryBytes")
	}

	if m.Last() != metrics {
		t.Error("expected Last() to return the just-sampled metrics")
	}
}

func TestResourceMonitorSampleErrorsForMissingProcess(t *testing.T) {
	m := NewResourceMonitor(WithProcPath(t.TempDir()))
	if _, err := m.Sample(99999); err == nil {
		t.Fatal("expected an error for a nonexistent process")
	}
}

func TestCheckThresholdsFlagsCriticalFDCount(t *testing.T) {
	m := NewResourceMonitor(WithThresholds(ResourceThresholds{FDWarning: 10, FDCritical: 20}))
	alerts := m.CheckThresholds(&ResourceMetrics{FileDescriptors: 25})
	if len(alerts) != 1 || alerts[0].Level != AlertCritical || alerts[0].Resource != "fd" {
		t.Fatalf("alerts = %+v, want one critical fd alert", alerts)
	}
}

func TestRunInvokesCallbackOnBreach(t *testing.T) {
	procPath := t.TempDir()
	pid := os.Getpid()
	writeFakeProc(t, procPath, pid, 2)

	m := NewResourceMonitor(WithProcPath(procPath), WithThresholds(ResourceThresholds{FDWarning: 1, FDCritical: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var alertCount int
	m.Run(ctx, 10*time.Millisecond, func(alerts []ResourceAlert) { alertCount += len(alerts) })

	if alertCount == 0 {
		t.Error("expected at least one alert callback invocation")
	}
}

func TestFormatBytesHumanReadable(t *testing.T) {
	cases := map[int64]string{
		500:             "500 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
