// SPDX-License-Identifier: MIT

// Package writer implements the encoder/muxer: construction of a
// container writer plus hardware-encoded video/audio inputs, the
// create→attach→start→append→finalize lifecycle, and the bitrate table
// behind quality-hint encoding.
package writer

import (
	"context"
	"time"

	"github.com/anxiong2025/zureshot/internal/sample"
)

// Quality selects the HEVC variable-bitrate quality hint.
type Quality int

const (
	QualityStandard Quality = iota // 0.72
	QualityHigh                    // 0.85
)

// Input is the common shape of a VideoInput/AudioInput: a one-shot session
// start, readiness gating, and per-sample append.
type Input interface {
	// ReadyForMoreData reports whether the encoder can accept another
	// sample right now; callers must drop (and count) on false rather than
	// block.
	ReadyForMoreData() bool

	// StartSession anchors the container's shared source-time origin to
	// pts. It is a one-shot call across the whole writer: whichever input
	// (video, system audio, or mic) receives the first accepted sample of
	// the session calls this, and every other input's Append computes its
	// timestamp relative to that same origin. Subsequent calls are no-ops.
	StartSession(pts sample.PTS) error

	// Append encodes and muxes one sample. The first call to Append on any
	// input must be preceded by StartSession with that sample's PTS.
	Append(buf sample.Buffer) error
}

// VideoInput is the hardware-encoded HEVC (or H.264 fallback) track.
type VideoInput interface {
	Input
}

// AudioInput is an AAC LC 48kHz/2ch 128kbps track (system audio or mic).
type AudioInput interface {
	Input
	Label() string
}

// FinalizeResult reports what finalize() observed.
type FinalizeResult struct {
	Completed bool // true iff status reached "completed" before the deadline
	Path      string
	Size      int64
	Duration  time.Duration
}

// Writer is the container writer returned by CreateWriter. It is not
// writing until StartWriting is called, and accepts no new inputs after.
type Writer interface {
	// AddInput attaches input; must be called before StartWriting. Audio
	// attachment is best-effort: implementations return a non-nil error
	// the caller is expected to log and continue past, never fatal.
	AddInput(input Input) error

	// StartWriting transitions to the writing state.
	StartWriting(ctx context.Context) error

	// Finalize marks every input finished and waits for completion with
	// the hybrid strategy: block on the completion signal, polling status
	// every 500ms as fallback, bounded by a 15s deadline.
	Finalize(ctx context.Context) (FinalizeResult, error)

	// Failed reports whether the writer has entered a failed state during
	// append; once true, the frame router must stop appending to it.
	Failed() bool
}

// Muxer is the platform encoder/muxer factory.
type Muxer interface {
	// CreateWriter constructs the container writer and its hardware video
	// input. width/height must already be even.
	CreateWriter(ctx context.Context, path string, width, height int, quality Quality) (Writer, VideoInput, error)

	// CreateAudioInput constructs an unattached AAC input labeled for
	// logging (e.g. "system", "mic").
	CreateAudioInput(label string) (AudioInput, error)
}

// BitrateKbps returns the variable-bitrate ceiling for quality at the given
// pixel count, looked up from the resolution-tiered ceiling table.
func BitrateKbps(quality Quality, pixels int64) int {
	return bitrateTable.lookup(quality, pixels)
}
