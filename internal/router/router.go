// SPDX-License-Identifier: MIT

// Package router implements the per-sample validation, monotonicity
// check, and writer append/drop decision that sits on the capture
// subsystem's single serial delivery queue.
package router

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/anxiong2025/zureshot/internal/sample"
	"github.com/anxiong2025/zureshot/internal/writer"
)

// progressLogInterval is the number of successful frames between progress
// log lines.
const progressLogInterval = 60

// Router is the stateful per-session delegate capture.Hook forwards every
// sample to. One Router exists per recording session.
type Router struct {
	logger      *slog.Logger
	videoInput  writer.VideoInput
	audioInput  writer.AudioInput
	micInput    writer.AudioInput

	paused atomic.Bool

	frameCount   atomic.Int64
	droppedCount atomic.Int64
	ptsSkipCount atomic.Int64

	sessionStarted atomic.Bool
	lastPTS        sample.PTS

	failureLogged atomic.Bool
}

// New creates a Router appending video samples to video and, when non-nil,
// audio/mic samples to their respective inputs.
func New(logger *slog.Logger, video writer.VideoInput, audio, mic writer.AudioInput) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:     logger.With("component", "router"),
		videoInput: video,
		audioInput: audio,
		micInput:   mic,
	}
}

// SetPaused implements the coordinator's shared paused flag: while set,
// Route returns immediately without touching any writer input.
func (r *Router) SetPaused(paused bool) {
	r.paused.Store(paused)
}

// Counters snapshots the router's three running counters.
type Counters struct {
	FrameCount   int64
	DroppedCount int64
	PTSSkipCount int64
}

// Counters returns the current counter values.
func (r *Router) Counters() Counters {
	return Counters{
		FrameCount:   r.frameCount.Load(),
		DroppedCount: r.droppedCount.Load(),
		PTSSkipCount: r.ptsSkipCount.Load(),
	}
}

// Route is the capture.Hook this router registers at stream start. It
// runs through pause-check, routing, and bookkeeping in a fixed order.
func (r *Router) Route(buf sample.Buffer) {
	// Step 1: paused ⇒ silent drop.
	if r.paused.Load() {
		return
	}

	switch buf.Kind {
	case sample.KindAudio, sample.KindMic:
		r.routeAudio(buf)
	case sample.KindVideo:
		r.routeVideo(context.Background(), buf)
	}
}

// routeAudio implements step 2. It shares sessionStarted with routeVideo:
// whichever of audio or video delivers the first accepted sample anchors
// the writer's session-start origin, so an audio-first or audio-only
// session still gets a correct origin rather than leaving video's
// StartSession as the only path that ever fires.
func (r *Router) routeAudio(buf sample.Buffer) {
	if !buf.Valid || !buf.DataReady {
		r.droppedCount.Add(1)
		return
	}
	input := r.audioInput
	if buf.Kind == sample.KindMic {
		input = r.micInput
	}
	if input == nil {
		return
	}
	if r.sessionStarted.CompareAndSwap(false, true) {
		if err := input.StartSession(buf.PTS); err != nil {
			r.logFailureOnce(err)
		}
	}
	if !input.ReadyForMoreData() {
		r.droppedCount.Add(1)
		return
	}
	if err := input.Append(buf); err != nil {
		r.logFailureOnce(err)
		r.droppedCount.Add(1)
	}
}

// routeVideo implements steps 3-7.
func (r *Router) routeVideo(ctx context.Context, buf sample.Buffer) {
	// Step 3: validity + image surface.
	if !buf.Valid || !buf.DataReady {
		r.droppedCount.Add(1)
		return
	}
	if !buf.HasImage {
		// Status frame carrying no image surface: silently dropped, never
		// counted as a drop, and never handed to the writer.
		return
	}

	// Step 4: reject non-positive PTS/timescale.
	if !buf.PTS.Valid() {
		r.droppedCount.Add(1)
		return
	}

	// Step 5: monotonicity, cross-multiplied integer comparison.
	if r.sessionStarted.Load() && r.lastPTS.Valid() && !sample.Greater(buf.PTS, r.lastPTS) {
		n := r.ptsSkipCount.Add(1)
		r.logPTSSkip(n, buf.PTS)
		r.droppedCount.Add(1)
		return
	}

	// Step 6: atomically start the session on first accepted video sample.
	if r.sessionStarted.CompareAndSwap(false, true) {
		if err := r.videoInput.StartSession(buf.PTS); err != nil {
			r.logFailureOnce(err)
		}
	}

	// Step 7: append if ready.
	if !r.videoInput.ReadyForMoreData() {
		r.droppedCount.Add(1)
		return
	}
	if err := r.videoInput.Append(buf); err != nil {
		r.logFailureOnce(err)
		r.droppedCount.Add(1)
		return
	}

	r.lastPTS = buf.PTS
	n := r.frameCount.Add(1)
	if n%progressLogInterval == 0 {
		r.logger.Info("frame progress", "frames", n, "dropped", r.droppedCount.Load())
	}
}

// logPTSSkip logs the first 5 non-monotonic samples and then every 100th
// one after that, to keep a buggy capture source from flooding the log.
func (r *Router) logPTSSkip(n int64, pts sample.PTS) {
	if n <= 5 || n%100 == 0 {
		r.logger.Warn("non-monotonic sample PTS, dropping", "skip_count", n, "pts", pts.String())
	}
}

// logFailureOnce ensures the writer-failure log line, with the full error,
// fires at most once per Router.
func (r *Router) logFailureOnce(err error) {
	if r.failureLogged.CompareAndSwap(false, true) {
		r.logger.Error("writer append failed, dropping subsequent samples", "err", err)
	}
}
