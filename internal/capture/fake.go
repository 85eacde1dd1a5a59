// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/anxiong2025/zureshot/internal/sample"
)

// FakeSource is a deterministic in-memory Source for exercising the router
// and coordinator without a D-Bus/GStreamer environment. It never opens a
// real display; tests drive frame production via Emit/EmitAudio.
type FakeSource struct {
	Display DisplayInfo
	Windows []WindowInfo
	OpenErr error

	mu      sync.Mutex
	streams []*FakeStream
}

// Open returns the configured Display/Windows, or OpenErr if set.
func (f *FakeSource) Open(ctx context.Context) (DisplayInfo, []WindowInfo, error) {
	if f.OpenErr != nil {
		return DisplayInfo{}, nil, f.OpenErr
	}
	return f.Display, f.Windows, nil
}

// Start records the hook and returns a FakeStream the test can push samples
// through; it also tracks every started stream so the test can assert on
// reconfigure/stop history across the whole source.
func (f *FakeSource) Start(ctx context.Context, cfg Config, hook Hook) (Stream, error) {
	st := &FakeStream{cfg: cfg, hook: hook}
	f.mu.Lock()
	f.streams = append(f.streams, st)
	f.mu.Unlock()
	return st, nil
}

// Streams returns every FakeStream created by Start, in order.
func (f *FakeSource) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeStream, len(f.streams))
	copy(out, f.streams)
	return out
}

// FakeStream is the Stream handle returned by FakeSource.Start.
type FakeStream struct {
	mu        sync.Mutex
	cfg       Config
	hook      Hook
	reconfigs []Config
	stopped   bool
	stopDelay time.Duration
}

// Emit delivers a video sample.Buffer through the registered hook,
// synchronously, from the calling goroutine (mirrors the single serial
// delivery queue a real Source maintains internally).
func (s *FakeStream) Emit(buf sample.Buffer) {
	s.hook(buf)
}

// Config returns the most recently applied configuration.
func (s *FakeStream) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reconfigures returns every UpdateConfig call this stream received.
func (s *FakeStream) Reconfigures() []Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Config, len(s.reconfigs))
	copy(out, s.reconfigs)
	return out
}

// UpdateConfig implements Stream.
func (s *FakeStream) UpdateConfig(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.reconfigs = append(s.reconfigs, cfg)
	s.mu.Unlock()
	return nil
}

// Stop implements Stream, optionally sleeping stopDelay first so tests can
// exercise the 5s "warn on timeout" path.
func (s *FakeStream) Stop(ctx context.Context) error {
	if s.stopDelay > 0 {
		time.Sleep(s.stopDelay)
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// Stopped reports whether Stop has been called.
func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SetStopDelay configures an artificial delay for the next Stop call.
func (s *FakeStream) SetStopDelay(d time.Duration) {
	s.mu.Lock()
	s.stopDelay = d
	s.mu.Unlock()
}
