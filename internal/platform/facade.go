// SPDX-License-Identifier: MIT

// Package platform implements the single abstract interface binding the
// capture source, the encoder/muxer, screenshot capture, and the handful
// of desktop-integration helpers the coordinator and CLI need but that
// have no home in the recording pipeline itself.
package platform

import (
	"context"

	"github.com/anxiong2025/zureshot/internal/capture"
	"github.com/anxiong2025/zureshot/internal/screenshot"
	"github.com/anxiong2025/zureshot/internal/writer"
)

// Platform is the "B (Freedesktop)" / "A (Apple-family)" split point: one
// implementation per OS family, composing that OS's capture source,
// muxer, screenshot capturer, and shell-out integrations.
type Platform interface {
	CaptureSource() capture.Source
	Muxer() writer.Muxer
	Screenshot() screenshot.Capturer

	// RevealInFileManager opens the containing folder of path in the
	// desktop's file manager.
	RevealInFileManager(ctx context.Context, path string) error

	// CopyImageToClipboard copies the PNG at path onto the system
	// clipboard.
	CopyImageToClipboard(ctx context.Context, path string) error

	// ShowConfirmDialog presents a yes/no dialog and reports the choice.
	ShowConfirmDialog(ctx context.Context, title, message string) (bool, error)

	// ShowInfoDialog presents an acknowledge-only dialog.
	ShowInfoDialog(ctx context.Context, title, message string) error

	// OpenFolder opens path itself (as opposed to revealing a file within
	// its parent) in the desktop's file manager.
	OpenFolder(ctx context.Context, path string) error

	// SetAutostartEnabled toggles whether zureshotd launches at login.
	SetAutostartEnabled(enabled bool) error
}
