// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResourceMetrics is a snapshot of the daemon's own resource usage, read
// from /proc rather than any recording-specific source.
type ResourceMetrics struct {
	PID             int
	FileDescriptors int
	MemoryBytes     int64
	ThreadCount     int
	Uptime          time.Duration
	Timestamp       time.Time
}

// ResourceThresholds defines warning and critical thresholds the daemon
// surfaces via /healthz, distinct from the recording pipeline's own
// failure handling. A zero threshold is not checked.
type ResourceThresholds struct {
	FDWarning      int
	FDCritical     int
	MemoryWarning  int64
	MemoryCritical int64
}

// DefaultThresholds returns conservative defaults for a single-process
// desktop daemon (much lower than a multi-stream server's).
func DefaultThresholds() ResourceThresholds {
	return ResourceThresholds{
		FDWarning:      100,
		FDCritical:     250,
		MemoryWarning:  256 * 1024 * 1024,
		MemoryCritical: 512 * 1024 * 1024,
	}
}

// AlertLevel indicates the severity of a resource alert.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertWarning
	AlertCritical
)

func (a AlertLevel) String() string {
	switch a {
	case AlertWarning:
		return "WARNING"
	case AlertCritical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// ResourceAlert represents a single threshold breach.
type ResourceAlert struct {
	Level    AlertLevel
	Resource string // "fd" or "memory"
	Message  string
	Value    int64
}

// ResourceMonitor samples the daemon process's own /proc entry. Unlike a
// multi-process supervisor's monitor, there is exactly one PID to watch:
// os.Getpid().
type ResourceMonitor struct {
	thresholds ResourceThresholds
	procPath   string

	mu   sync.RWMutex
	last *ResourceMetrics
}

// MonitorOption configures a ResourceMonitor.
type MonitorOption func(*ResourceMonitor)

// WithThresholds sets custom resource thresholds.
func WithThresholds(t ResourceThresholds) MonitorOption {
	return func(m *ResourceMonitor) { m.thresholds = t }
}

// WithProcPath sets a custom /proc path, for tests.
func WithProcPath(path string) MonitorOption {
	return func(m *ResourceMonitor) { m.procPath = path }
}

// NewResourceMonitor creates a ResourceMonitor.
func NewResourceMonitor(opts ...MonitorOption) *ResourceMonitor {
	m := &ResourceMonitor{thresholds: DefaultThresholds(), procPath: "/proc"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sample collects current resource metrics for pid and caches them.
func (m *ResourceMonitor) Sample(pid int) (*ResourceMetrics, error) {
	procDir := filepath.Join(m.procPath, strconv.Itoa(pid))
	if _, err := os.Stat(procDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("process %d not found", pid)
	}

	metrics := &ResourceMetrics{PID: pid, Timestamp: time.Now()}

	if entries, err := os.ReadDir(filepath.Join(procDir, "fd")); err == nil {
		metrics.FileDescriptors = len(entries)
	}
	if data, err := os.ReadFile(filepath.Join(procDir, "stat")); err == nil {
		metrics.ThreadCount = parseThreadCount(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(procDir, "statm")); err == nil {
		metrics.MemoryBytes = parseMemoryBytes(string(data))
	}
	if startTime, err := m.processStartTime(pid); err == nil {
		metrics.Uptime = time.Since(startTime)
	}

	m.mu.Lock()
	m.last = metrics
	m.mu.Unlock()
	return metrics, nil
}

// CheckThresholds checks metrics against thresholds and returns alerts.
func (m *ResourceMonitor) CheckThresholds(metrics *ResourceMetrics) []ResourceAlert {
	var alerts []ResourceAlert

	fd := int64(metrics.FileDescriptors)
	switch {
	case m.thresholds.FDCritical > 0 && fd >= int64(m.thresholds.FDCritical):
		alerts = append(alerts, ResourceAlert{AlertCritical, "fd",
			fmt.Sprintf("file descriptors at critical level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDCritical), fd})
	case m.thresholds.FDWarning > 0 && fd >= int64(m.thresholds.FDWarning):
		alerts = append(alerts, ResourceAlert{AlertWarning, "fd",
			fmt.Sprintf("file descriptors at warning level: %d >= %d", metrics.FileDescriptors, m.thresholds.FDWarning), fd})
	}

	switch {
	case m.thresholds.MemoryCritical > 0 && metrics.MemoryBytes >= m.thresholds.MemoryCritical:
		alerts = append(alerts, ResourceAlert{AlertCritical, "memory",
			fmt.Sprintf("memory usage at critical level: %s >= %s", FormatBytes(metrics.MemoryBytes), FormatBytes(m.thresholds.MemoryCritical)), metrics.MemoryBytes})
	case m.thresholds.MemoryWarning > 0 && metrics.MemoryBytes >= m.thresholds.MemoryWarning:
		alerts = append(alerts, ResourceAlert{AlertWarning, "memory",
			fmt.Sprintf("memory usage at warning level: %s >= %s", FormatBytes(metrics.MemoryBytes), FormatBytes(m.thresholds.MemoryWarning)), metrics.MemoryBytes})
	}

	return alerts
}

// Run samples the daemon's own process on interval until ctx is
// cancelled, invoking alertCallback whenever a threshold is breached.
func (m *ResourceMonitor) Run(ctx context.Context, interval time.Duration, alertCallback func([]ResourceAlert)) {
	pid := os.Getpid()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics, err := m.Sample(pid)
			if err != nil {
				return
			}
			if alerts := m.CheckThresholds(metrics); len(alerts) > 0 && alertCallback != nil {
				alertCallback(alerts)
			}
		}
	}
}

// Last returns the most recently sampled metrics, or nil if Sample has
// never been called.
func (m *ResourceMonitor) Last() *ResourceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *ResourceMonitor) processStartTime(pid int) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(m.procPath, strconv.Itoa(pid), "stat"))
	if err != nil {
		return time.Time{}, err
	}
	content := string(data)
	idx := strings.LastIndex(content, ")")
	if idx == -1 {
		return time.Time{}, fmt.Errorf("invalid stat format")
	}
	fields := strings.Fields(content[idx+1:])
	if len(fields) < 20 {
		return time.Time{}, fmt.Errorf("insufficient fields in stat")
	}
	startTicks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	bootTime := systemBootTime(m.procPath)
	const ticksPerSecond = 100
	return bootTime.Add(time.Duration(startTicks/ticksPerSecond) * time.Second), nil
}

func parseThreadCount(stat string) int {
	idx := strings.LastIndex(stat, ")")
	if idx == -1 {
		return 0
	}
	fields := strings.Fields(stat[idx+1:])
	if len(fields) < 18 {
		return 0
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return 0
	}
	return threads
}

func parseMemoryBytes(statm string) int64 {
	fields := strings.Fields(statm)
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}

func systemBootTime(procPath string) time.Time {
	data, err := os.ReadFile(filepath.Join(procPath, "stat"))
	if err != nil {
		return time.Now()
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			if fields := strings.Fields(line); len(fields) >= 2 {
				if secs, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					return time.Unix(secs, 0)
				}
			}
		}
	}
	return time.Now()
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
