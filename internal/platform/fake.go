// SPDX-License-Identifier: MIT

package platform

import (
	"context"
	"sync"

	"github.com/anxiong2025/zureshot/internal/capture"
	"github.com/anxiong2025/zureshot/internal/screenshot"
	"github.com/anxiong2025/zureshot/internal/writer"
)

// FakePlatform is a deterministic Platform for tests of callers (the CLI,
// the coordinator's wiring code) that need a Platform without a real
// desktop session.
type FakePlatform struct {
	Source capture.Source
	Mux    writer.Muxer
	Shots  screenshot.Capturer

	ConfirmResult bool
	ConfirmErr    error
	AutostartErr  error

	mu              sync.Mutex
	revealed        []string
	clipboardCopies []string
	autostart       bool
}

func (f *FakePlatform) CaptureSource() capture.Source   { return f.Source }
func (f *FakePlatform) Muxer() writer.Muxer             { return f.Mux }
func (f *FakePlatform) Screenshot() screenshot.Capturer { return f.Shots }

func (f *FakePlatform) RevealInFileManager(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revealed = append(f.revealed, path)
	return nil
}

func (f *FakePlatform) OpenFolder(ctx context.Context, path string) error {
	return f.RevealInFileManager(ctx, path)
}

func (f *FakePlatform) CopyImageToClipboard(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clipboardCopies = append(f.clipboardCopies, path)
	return nil
}

func (f *FakePlatform) ShowConfirmDialog(ctx context.Context, title, message string) (bool, error) {
	return f.ConfirmResult, f.ConfirmErr
}

func (f *FakePlatform) ShowInfoDialog(ctx context.Context, title, message string) error {
	return nil
}

func (f *FakePlatform) SetAutostartEnabled(enabled bool) error {
	if f.AutostartErr != nil {
		return f.AutostartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autostart = enabled
	return nil
}

// AutostartEnabled reports the most recent value passed to SetAutostartEnabled.
func (f *FakePlatform) AutostartEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autostart
}

// Revealed returns every path passed to RevealInFileManager/OpenFolder.
func (f *FakePlatform) Revealed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.revealed))
	copy(out, f.revealed)
	return out
}
