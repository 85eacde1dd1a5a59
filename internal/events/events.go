// SPDX-License-Identifier: MIT

// Package events implements a small topic-based publish/subscribe bus the
// coordinator, writer, and menu/CLI layers use to decouple the recording
// lifecycle from whatever is watching it (tray icon, CLI status command,
// health endpoint).
package events

import (
	"sync"
	"time"

	"github.com/anxiong2025/zureshot/internal/geom"
)

// Topic names published on the Bus.
const (
	TopicRecordingStarted = "recording-started"
	TopicRecordingStopped = "recording-stopped"
	TopicRecordingPreview = "recording-preview"
)

// RecordingStarted is published on TopicRecordingStarted.
type RecordingStarted struct {
	Path        string
	Time        time.Time
	Region      *geom.Rect    // nil ⇒ full display
	Format      string        // "video" or "gif"
	MaxDuration time.Duration // 0 ⇒ unlimited
}

// RecordingStopped is published on TopicRecordingStopped.
type RecordingStopped struct {
	Path     string
	Duration time.Duration
	Size     int64
	Format   string
}

// RecordingPreview is the payload for TopicRecordingPreview, carrying a
// live thumbnail for a tray icon to display. Nothing in this repository
// publishes it: the writer pipeline has no preview branch, and no tray UI
// subscribes. The type and topic exist only as a hook.
type RecordingPreview struct {
	JPEG []byte
}

// Handler receives a published value. Handlers are invoked synchronously,
// in subscription order, on the publisher's goroutine — callers needing
// to do slow work should hand off to their own goroutine.
type Handler func(payload any)

// Bus is a small in-process pub/sub registry, safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers handler for topic. Returns an Unsubscribe func.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	idx := len(b.subscribers[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[topic]
		if idx >= len(handlers) {
			return
		}
		handlers[idx] = nil // leave a hole rather than reindexing concurrent readers
	}
}

// publish dispatches payload to topic's subscribers, skipping
// unsubscribed (nil) slots.
func (b *Bus) publish(topic string, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
}

// Publish dispatches a typed event to its well-known topic.
func (b *Bus) Publish(payload any) {
	switch payload.(type) {
	case RecordingStarted:
		b.publish(TopicRecordingStarted, payload)
	case RecordingStopped:
		b.publish(TopicRecordingStopped, payload)
	case RecordingPreview:
		b.publish(TopicRecordingPreview, payload)
	}
}

// Status is a point-in-time snapshot for a CLI `status` command or the
// health endpoint, mirroring supervisor.ServiceStatus's read-locked
// snapshot pattern.
type Status struct {
	Recording bool
	Paused    bool
	Path      string
	Duration  time.Duration
}
