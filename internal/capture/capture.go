// SPDX-License-Identifier: MIT

// Package capture implements the platform-abstract frame/audio producer:
// it hands out video sample buffers (with PTS + image surface), audio
// sample buffers, and accepts dynamic reconfiguration (crop rect,
// resolution, fps, audio toggles).
package capture

import (
	"context"
	"time"

	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/sample"
)

// DefaultQueueDepth is the default bounded queue depth for sample delivery.
const DefaultQueueDepth = 3

// Config enumerates every property a capture Source accepts at start()
// and on every update_config() call. Updates are replace-all: a caller
// re-specifies every field it wants preserved.
type Config struct {
	Width, Height int // output dimensions, must already be even
	FrameInterval time.Duration
	PixelFormat   string // native hardware-encoder format, no CPU conversion

	QueueDepth int // bounded, default DefaultQueueDepth

	CursorVisible bool
	SourceRect    *geom.Rect // nil ⇒ full display
	DestRect      *geom.Rect // required when SourceRect is set
	ScalesToFit   bool

	ExcludeWindows []WindowID

	SampleRate      int
	Channels        int
	SystemAudio     bool
	ExcludeOwnAudio bool
	Microphone      bool
}

// WindowID opaquely identifies a window the coordinator wants excluded
// from capture (its own overlay/bar windows).
type WindowID string

// WindowInfo describes a window returned by open()'s topology query.
type WindowInfo struct {
	ID    WindowID
	Title string
	PID   int
}

// DisplayInfo describes the primary display returned by open().
type DisplayInfo struct {
	WidthPoints  float64
	HeightPoints float64
	Scale        float64 // logical-to-physical scale factor (Retina)
}

// Hook is the callback a Stream delivers samples to, invoked on the
// capture subsystem's single serial delivery queue, which is the sole
// ordering authority for sample delivery.
type Hook func(sample.Buffer)

// Stream represents a started capture session. The capture framework
// retains the registered Hook internally; Source implementations must not
// release their own reference to router state until after Start has
// registered the hook.
type Stream interface {
	// UpdateConfig applies a new configuration in place, replace-all
	// semantics, used by the zoom controller at up to 60Hz.
	UpdateConfig(ctx context.Context, cfg Config) error

	// Stop blocks for confirmation, bounded by a 5s timeout; on timeout
	// it warns and returns nil rather than failing the whole recording.
	Stop(ctx context.Context) error
}

// Source is the platform-abstract capture entry point; the Linux/Apple
// split implements this.
type Source interface {
	// Open performs the blocking query of OS capture permission and
	// topology. Returns zerr.KindPermissionDenied or zerr.KindUnavailable
	// on failure — both fatal to the session.
	Open(ctx context.Context) (DisplayInfo, []WindowInfo, error)

	// Start begins delivering samples to hook on the delivery queue.
	Start(ctx context.Context, cfg Config, hook Hook) (Stream, error)
}
