// SPDX-License-Identifier: MIT

package writer

import (
	"context"
	"sync"

	"github.com/anxiong2025/zureshot/internal/sample"
)

// FakeMuxer is an in-memory Muxer for router/coordinator tests.
type FakeMuxer struct {
	mu      sync.Mutex
	writers []*FakeWriter
}

// CreateWriter implements Muxer.
func (m *FakeMuxer) CreateWriter(ctx context.Context, path string, width, height int, quality Quality) (Writer, VideoInput, error) {
	w := &FakeWriter{path: path, width: width, height: height, quality: quality}
	vi := &FakeVideoInput{ready: true}
	w.video = vi
	m.mu.Lock()
	m.writers = append(m.writers, w)
	m.mu.Unlock()
	return w, vi, nil
}

// CreateAudioInput implements Muxer.
func (m *FakeMuxer) CreateAudioInput(label string) (AudioInput, error) {
	return &FakeAudioInput{label: label, ready: true}, nil
}

// Writers returns every FakeWriter created so far, in order.
func (m *FakeMuxer) Writers() []*FakeWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*FakeWriter, len(m.writers))
	copy(out, m.writers)
	return out
}

// FakeWriter is an in-memory Writer.
type FakeWriter struct {
	mu sync.Mutex

	path          string
	width, height int
	quality       Quality
	video         *FakeVideoInput
	audioInputs   []AudioInput
	rejectAudio   bool
	started       bool
	finalized     bool
	failed        bool
}

// Dimensions returns the width/height this writer was created with.
func (w *FakeWriter) Dimensions() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// AddInput implements Writer; set RejectAudio to simulate the best-effort
// attach failure path.
func (w *FakeWriter) AddInput(input Input) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ai, ok := input.(AudioInput); ok {
		if w.rejectAudio {
			return &refusedInputError{label: ai.Label()}
		}
		w.audioInputs = append(w.audioInputs, ai)
	}
	return nil
}

// RejectAudio configures AddInput to refuse every subsequent audio input.
func (w *FakeWriter) RejectAudio(reject bool) {
	w.mu.Lock()
	w.rejectAudio = reject
	w.mu.Unlock()
}

func (w *FakeWriter) StartWriting(ctx context.Context) error {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	return nil
}

func (w *FakeWriter) Finalize(ctx context.Context) (FinalizeResult, error) {
	w.mu.Lock()
	w.finalized = true
	w.mu.Unlock()
	return FinalizeResult{Completed: true, Path: w.path}, nil
}

func (w *FakeWriter) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// SetFailed flips the writer into the failed state a real encoder would
// enter on an append error, for exercising the router's "log once, drop
// the rest" path.
func (w *FakeWriter) SetFailed(failed bool) {
	w.mu.Lock()
	w.failed = failed
	w.mu.Unlock()
}

// Started reports whether StartWriting was called.
func (w *FakeWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Finalized reports whether Finalize was called.
func (w *FakeWriter) Finalized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalized
}

type refusedInputError struct{ label string }

func (e *refusedInputError) Error() string { return "writer refused input: " + e.label }

// FakeVideoInput is an in-memory VideoInput that records every appended
// sample for assertions.
type FakeVideoInput struct {
	mu         sync.Mutex
	ready      bool
	appended   []sample.Buffer
	dropped    int
	sessionSet bool
	sessionPTS sample.PTS
	failAppend bool
}

func (v *FakeVideoInput) ReadyForMoreData() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ready
}

// SetReady controls the readiness gate a test drives the router's
// drop-on-not-ready path with.
func (v *FakeVideoInput) SetReady(ready bool) {
	v.mu.Lock()
	v.ready = ready
	v.mu.Unlock()
}

// SetFailAppend makes the next Append calls return an error.
func (v *FakeVideoInput) SetFailAppend(fail bool) {
	v.mu.Lock()
	v.failAppend = fail
	v.mu.Unlock()
}

func (v *FakeVideoInput) StartSession(pts sample.PTS) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sessionSet {
		return nil
	}
	v.sessionSet = true
	v.sessionPTS = pts
	return nil
}

func (v *FakeVideoInput) Append(buf sample.Buffer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failAppend {
		return &refusedInputError{label: "video"}
	}
	v.appended = append(v.appended, buf)
	return nil
}

// Appended returns every sample.Buffer passed to Append, in order.
func (v *FakeVideoInput) Appended() []sample.Buffer {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]sample.Buffer, len(v.appended))
	copy(out, v.appended)
	return out
}

// SessionStarted reports whether StartSession was ever called, and with
// what PTS.
func (v *FakeVideoInput) SessionStarted() (sample.PTS, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionPTS, v.sessionSet
}

// FakeAudioInput is an in-memory AudioInput.
type FakeAudioInput struct {
	mu         sync.Mutex
	label      string
	ready      bool
	appended   []sample.Buffer
	sessionSet bool
	sessionPTS sample.PTS
}

func (a *FakeAudioInput) Label() string { return a.label }

func (a *FakeAudioInput) ReadyForMoreData() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// SetReady controls the readiness gate.
func (a *FakeAudioInput) SetReady(ready bool) {
	a.mu.Lock()
	a.ready = ready
	a.mu.Unlock()
}

func (a *FakeAudioInput) StartSession(pts sample.PTS) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionSet {
		return nil
	}
	a.sessionSet = true
	a.sessionPTS = pts
	return nil
}

// SessionStarted reports whether StartSession was ever called, and with
// what PTS.
func (a *FakeAudioInput) SessionStarted() (sample.PTS, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionPTS, a.sessionSet
}

func (a *FakeAudioInput) Append(buf sample.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appended = append(a.appended, buf)
	return nil
}

// Appended returns every sample.Buffer passed to Append, in order.
func (a *FakeAudioInput) Appended() []sample.Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sample.Buffer, len(a.appended))
	copy(out, a.appended)
	return out
}
