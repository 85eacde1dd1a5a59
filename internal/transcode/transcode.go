// SPDX-License-Identifier: MIT

// Package transcode implements the external GIF conversion collaborator
// the coordinator hands a finalized MP4 to when output_format is "gif":
// a fixed-recipe ffmpeg invocation (fps 15, max-width 640,
// palette-generated), never part of the recording pipeline's own
// critical path.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/anxiong2025/zureshot/internal/util"
)

// procs tracks the lifetime of every ffmpeg child process this package
// spawns, so a caller can assert none outlive ToGIF (e.g. after a ctx
// cancellation kills the pipe early).
var procs = util.NewResourceTracker()

// LeakedProcesses reports ffmpeg processes started by ToGIF that never
// reached completion, for use in shutdown diagnostics or tests.
func LeakedProcesses() []string {
	return procs.LeakedResources()
}

const (
	// GIFFPS is the fixed frame rate of the generated GIF.
	GIFFPS = 15
	// GIFMaxWidth is the max width of the generated GIF; narrower video
	// keeps its width, aspect ratio is preserved and height is forced even
	// (scale filter "-2").
	GIFMaxWidth = 640
)

// ToGIF converts the MP4 at videoPath to an animated GIF at gifPath using
// ffmpeg's two-pass palette recipe (palettegen + paletteuse), the standard
// way to get a reasonably sized, non-banded GIF out of ffmpeg. On any
// failure, the caller is expected to fall back to keeping videoPath —
// ToGIF itself never removes or modifies videoPath.
func ToGIF(ctx context.Context, videoPath, gifPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	palettePath := filepath.Join(os.TempDir(), fmt.Sprintf("zureshot-palette-%d.png", os.Getpid()))
	defer os.Remove(palettePath)

	scaleFilter := fmt.Sprintf("fps=%d,scale='min(%d,iw)':-2:flags=lanczos", GIFFPS, GIFMaxWidth)

	paletteCmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", videoPath,
		"-vf", scaleFilter+",palettegen",
		palettePath,
	)
	if out, err := runTracked(paletteCmd, "ffmpeg-palettegen"); err != nil {
		return fmt.Errorf("ffmpeg palettegen: %w, output: %s", err, trimOutput(out))
	}

	gifCmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-i", videoPath,
		"-i", palettePath,
		"-lavfi", scaleFilter+" [x]; [x][1:v] paletteuse",
		gifPath,
	)
	if out, err := runTracked(gifCmd, "ffmpeg-paletteuse"); err != nil {
		return fmt.Errorf("ffmpeg paletteuse: %w, output: %s", err, trimOutput(out))
	}

	return nil
}

// runTracked starts cmd, registers its process with the package's
// ResourceTracker for the run's duration, and waits for it to exit,
// returning combined stdout+stderr the way CombinedOutput does.
func runTracked(cmd *exec.Cmd, name string) ([]byte, error) {
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	procs.TrackProcess(name, cmd.Process)
	err := cmd.Wait()
	procs.UntrackProcess(name)
	return out.Bytes(), err
}

func trimOutput(out []byte) string {
	return strings.TrimSpace(string(bytes.TrimRight(out, "\n")))
}
