// SPDX-License-Identifier: MIT

package udev

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePointerDeviceSkipsNonPointerLinks(t *testing.T) {
	dir := t.TempDir()
	eventsDir := filepath.Join(dir, "events")
	if err := os.Mkdir(eventsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	keyboardEvent := filepath.Join(eventsDir, "event3")
	mouseEvent := filepath.Join(eventsDir, "event5")
	if err := os.WriteFile(keyboardEvent, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mouseEvent, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	byID := filepath.Join(dir, "by-id")
	if err := os.Mkdir(byID, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(keyboardEvent, filepath.Join(byID, "usb-Vendor_Keyboard-event-kbd")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(mouseEvent, filepath.Join(byID, "usb-Vendor_Mouse-event-mouse")); err != nil {
		t.Fatal(err)
	}

	got, err := ResolvePointerDevice(byID)
	if err != nil {
		t.Fatalf("ResolvePointerDevice: %v", err)
	}
	if got != mouseEvent {
		t.Errorf("got %q, want %q", got, mouseEvent)
	}
}

func TestResolvePointerDeviceErrorsWhenNoneFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolvePointerDevice(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
