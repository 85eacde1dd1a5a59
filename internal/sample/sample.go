// SPDX-License-Identifier: MIT

// Package sample defines the opaque sample-buffer data model shared by
// the capture source, frame router, and writer: a presentation timestamp
// stored as a packed rational, plus the flags that distinguish a real
// video frame from a status frame.
package sample

import (
	"fmt"
	"math/bits"
)

// PTS is a presentation timestamp expressed as a rational Value/Timescale,
// e.g. {Value: 2, Timescale: 30} means "frame 2 at 30fps" = 2/30s.
type PTS struct {
	Value     int64
	Timescale int64
}

// Zero is the zero-value PTS, never a valid sample timestamp (timescale
// must be positive).
var Zero = PTS{}

// Valid reports whether p could be a legal sample PTS: positive value,
// positive timescale. A non-positive value or timescale is always
// rejected.
func (p PTS) Valid() bool {
	return p.Value > 0 && p.Timescale > 0
}

// Seconds returns the PTS as a floating-point second offset. Used only for
// reporting/logging, never for the monotonicity comparison itself.
func (p PTS) Seconds() float64 {
	if p.Timescale == 0 {
		return 0
	}
	return float64(p.Value) / float64(p.Timescale)
}

func (p PTS) String() string {
	return fmt.Sprintf("%d/%d", p.Value, p.Timescale)
}

// Greater reports whether a > b as rationals, via cross-multiplication into
// 128-bit unsigned products so that no product overflows. Both a and b must
// be Valid(); callers are expected to have already rejected non-positive
// values and timescales before calling this.
func Greater(a, b PTS) bool {
	ahi, alo := bits.Mul64(uint64(a.Value), uint64(b.Timescale))
	bhi, blo := bits.Mul64(uint64(b.Value), uint64(a.Timescale))
	return ahi > bhi || (ahi == bhi && alo > blo)
}

// Kind distinguishes the stream a sample belongs to.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindMic
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindMic:
		return "mic"
	default:
		return "unknown"
	}
}

// Buffer is the opaque sample carrier handed from the capture source to
// the frame router. The core never touches the pixel/audio bytes directly
// except to pass them through to the writer's append call.
type Buffer struct {
	Kind      Kind
	PTS       PTS
	Valid     bool // the OS marked this buffer as valid
	DataReady bool // the OS marked sample data as ready to read
	HasImage  bool // video only: false ⇒ status frame, must be dropped
	Data      []byte
}

// EvenDim rounds v up to the nearest even integer. Spec §3 invariant:
// "Output-pixel dimensions are always even (rounded up if needed)."
func EvenDim(v int) int {
	if v%2 != 0 {
		return v + 1
	}
	return v
}
