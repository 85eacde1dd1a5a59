// SPDX-License-Identifier: MIT

// Package cursor implements a poll thread sampling global cursor position
// at 20Hz and a passive event-hook thread recording button/scroll
// activity, both tied to the recording session's lifetime.
package cursor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/util"
)

// pollInterval is the poll thread's sample period (20 Hz).
const pollInterval = 50 * time.Millisecond

// EventKind distinguishes the records a Tracker collects.
type EventKind int

const (
	KindMove EventKind = iota
	KindLeftDown
	KindLeftUp
	KindRightDown
	KindRightUp
	KindScroll
)

func (k EventKind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindLeftDown:
		return "left_down"
	case KindLeftUp:
		return "left_up"
	case KindRightDown:
		return "right_down"
	case KindRightUp:
		return "right_up"
	case KindScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the kind as its string name, for the sidecar format.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Event is one recorded sample or discrete input action.
type Event struct {
	Time time.Duration // elapsed since session start
	X, Y float64
	Kind EventKind
}

type sidecarRecord struct {
	Time float64   `json:"time"` // seconds
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Kind EventKind `json:"kind"`
}

// PositionSource supplies the current global cursor position, in logical
// points relative to the captured region's coordinate space.
type PositionSource interface {
	Position() (geom.Point, error)
}

// HookSource runs a passive, listen-only OS event hook for button/scroll
// activity until ctx is cancelled. An implementation that cannot install
// the hook (permission not granted) should return promptly with an error;
// Tracker logs it and degrades to poll-only.
type HookSource interface {
	Run(ctx context.Context, onEvent func(EventKind)) error
}

// Tracker owns the two cooperating goroutines for one recording session.
// Restartable: no. A new Tracker must be created per session.
type Tracker struct {
	logger   *slog.Logger
	position PositionSource
	hook     HookSource

	mu     sync.Mutex
	events []Event
	start  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker. hook may be nil, in which case the tracker runs
// poll-only from the start (no degraded-mode logging needed).
func New(logger *slog.Logger, position PositionSource, hook HookSource) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger.With("component", "cursor"),
		position: position,
		hook:     hook,
	}
}

// Start begins both threads. Lifetime = from session start to session stop.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.start = time.Now()

	t.wg.Add(1)
	util.SafeGo("cursor-poll", t.logger, func() { t.pollLoop(ctx) }, nil)

	if t.hook != nil {
		t.wg.Add(1)
		util.SafeGo("cursor-hook", t.logger, func() { t.hookLoop(ctx) }, nil)
	}
}

// Stop signals both threads, joins them, and sorts the collected buffer by
// time: the two goroutines append independently, so storage order is not
// guaranteed until this sort runs.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	sort.Slice(t.events, func(i, j int) bool { return t.events[i].Time < t.events[j].Time })
	t.mu.Unlock()
}

// Events returns a copy of the collected buffer, sorted by time only after
// Stop has been called.
func (t *Tracker) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Position implements zoom.CursorSource directly, so a Tracker can drive
// the Zoom Controller without an adapter: it forwards to the position
// source, treating a read error as "no movement" (last-known zero point).
func (t *Tracker) Position() geom.Point {
	p, err := t.position.Position()
	if err != nil {
		return geom.Point{}
	}
	return p
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := t.position.Position()
			if err != nil {
				continue
			}
			t.append(Event{Time: time.Since(t.start), X: p.X, Y: p.Y, Kind: KindMove})
		}
	}
}

func (t *Tracker) hookLoop(ctx context.Context) {
	defer t.wg.Done()
	err := t.hook.Run(ctx, func(kind EventKind) {
		p := t.Position()
		t.append(Event{Time: time.Since(t.start), X: p.X, Y: p.Y, Kind: kind})
	})
	if err != nil && ctx.Err() == nil {
		t.logger.Warn("event hook disabled, degrading to poll-only", "err", err)
	}
}

func (t *Tracker) append(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// WriteSidecar serializes the collected buffer as a JSON array of
// {time, x, y, kind} records alongside the output file.
func (t *Tracker) WriteSidecar(path string) error {
	events := t.Events()
	records := make([]sidecarRecord, len(events))
	for i, e := range events {
		records[i] = sidecarRecord{Time: e.Time.Seconds(), X: e.X, Y: e.Y, Kind: e.Kind}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
