// SPDX-License-Identifier: MIT

package transcode

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeFFmpeg writes a small shell script named ffmpeg onto PATH that
// simply creates whatever output file it was asked for, so ToGIF's
// command plumbing can be exercised without a real ffmpeg binary.
func fakeFFmpeg(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
for arg in "$@"; do
  last="$arg"
done
touch "$last"
`
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func TestToGIFInvokesFFmpegTwice(t *testing.T) {
	fakeFFmpeg(t)
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(videoPath, []byte("fake mp4"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	gifPath := filepath.Join(dir, "out.gif")

	if err := ToGIF(context.Background(), videoPath, gifPath); err != nil {
		t.Fatalf("ToGIF: %v", err)
	}
	if _, err := os.Stat(gifPath); err != nil {
		t.Errorf("expected gif output file: %v", err)
	}
}

func TestToGIFErrorsWhenFFmpegMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if err := ToGIF(context.Background(), "/tmp/in.mp4", "/tmp/out.gif"); err == nil {
		t.Fatal("expected an error when ffmpeg is not on PATH")
	}
}
