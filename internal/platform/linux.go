// SPDX-License-Identifier: MIT

//go:build linux

package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/anxiong2025/zureshot/internal/capture"
	"github.com/anxiong2025/zureshot/internal/screenshot"
	"github.com/anxiong2025/zureshot/internal/writer"
	"github.com/anxiong2025/zureshot/internal/zerr"
)

// autostartDesktopEntry is the freedesktop .desktop file zureshotd writes
// to enable launch-at-login, per the XDG autostart specification.
const autostartDesktopEntry = `[Desktop Entry]
Type=Application
Name=Zureshot
Exec=%s
Icon=zureshot
Comment=Menu-bar screen recorder
X-GNOME-Autostart-enabled=true
`

// linuxPlatform is the Freedesktop platform implementation: portal-
// negotiated capture, an in-process GStreamer muxer, and os/exec-based
// desktop integration shell-outs.
type linuxPlatform struct {
	logger *slog.Logger
	source capture.Source
	muxer  writer.Muxer
	shots  screenshot.Capturer
}

// New returns the Linux Platform implementation used by cmd/zureshotd and
// cmd/zureshot.
func New(logger *slog.Logger) Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &linuxPlatform{
		logger: logger,
		source: capture.NewLinuxSource(logger),
		muxer:  writer.NewLinuxMuxer(logger),
		shots:  screenshot.NewLinuxCapturer(logger),
	}
}

func (p *linuxPlatform) CaptureSource() capture.Source   { return p.source }
func (p *linuxPlatform) Muxer() writer.Muxer             { return p.muxer }
func (p *linuxPlatform) Screenshot() screenshot.Capturer { return p.shots }

func (p *linuxPlatform) RevealInFileManager(ctx context.Context, path string) error {
	return p.OpenFolder(ctx, filepath.Dir(path))
}

func (p *linuxPlatform) OpenFolder(ctx context.Context, path string) error {
	if err := runBestEffort(ctx, "xdg-open", path); err != nil {
		p.logger.Warn("reveal-in-file-manager failed", "path", path, "err", err)
		return err
	}
	return nil
}

// CopyImageToClipboard shells out to wl-copy under Wayland and xclip
// under X11, picking the tool for the active session type. Both are
// best-effort: a missing binary is logged and returned as a soft error,
// never a panic.
func (p *linuxPlatform) CopyImageToClipboard(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "read image for clipboard", err)
	}

	var cmd *exec.Cmd
	if os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		cmd = exec.CommandContext(ctx, "wl-copy", "--type", "image/png")
	} else {
		cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard", "-t", "image/png")
	}
	cmd.Stdin = bytes.NewReader(data)

	if err := cmd.Run(); err != nil {
		p.logger.Warn("copy-image-to-clipboard failed", "err", err)
		return zerr.Wrap(zerr.KindUnavailable, "copy image to clipboard", err)
	}
	return nil
}

func (p *linuxPlatform) ShowConfirmDialog(ctx context.Context, title, message string) (bool, error) {
	cmd := exec.CommandContext(ctx, "zenity", "--question", "--title", title, "--text", message)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil // user clicked "No"
	}
	p.logger.Warn("show-confirm-dialog failed", "err", err)
	return false, zerr.Wrap(zerr.KindUnavailable, "show confirm dialog", err)
}

func (p *linuxPlatform) ShowInfoDialog(ctx context.Context, title, message string) error {
	if err := runBestEffort(ctx, "zenity", "--info", "--title", title, "--text", message); err != nil {
		p.logger.Warn("show-info-dialog failed", "err", err)
		return err
	}
	return nil
}

// SetAutostartEnabled writes or removes ~/.config/autostart/zureshot.desktop.
func (p *linuxPlatform) SetAutostartEnabled(enabled bool) error {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return zerr.Wrap(zerr.KindUnavailable, "resolve home directory", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	autostartDir := filepath.Join(configHome, "autostart")
	desktopPath := filepath.Join(autostartDir, "zureshot.desktop")

	if !enabled {
		if err := os.Remove(desktopPath); err != nil && !os.IsNotExist(err) {
			return zerr.Wrap(zerr.KindUnavailable, "remove autostart entry", err)
		}
		return nil
	}

	if err := os.MkdirAll(autostartDir, 0o755); err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "create autostart directory", err)
	}
	exePath, err := os.Executable()
	if err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "resolve executable path", err)
	}
	content := fmt.Sprintf(autostartDesktopEntry, exePath)
	if err := os.WriteFile(desktopPath, []byte(content), 0o644); err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "write autostart entry", err)
	}
	return nil
}

func runBestEffort(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Run(); err != nil {
		return zerr.Wrap(zerr.KindUnavailable, fmt.Sprintf("run %s", name), err)
	}
	return nil
}
