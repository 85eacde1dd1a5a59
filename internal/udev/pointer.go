// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolvePointerDevice scans byIDDir (normally /dev/input/by-id) for the
// first stable symlink naming an event-producing pointer device and
// returns the resolved /dev/input/eventN path it points to.
//
// Mirrors GetUSBPhysicalPort's approach of scanning every entry rather than
// guessing a fixed name, so a desktop with several pointer devices doesn't
// silently bind to the wrong one: entries are sorted for determinism and
// the first match wins.
func ResolvePointerDevice(byIDDir string) (string, error) {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", byIDDir, err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !isPointerLinkName(name) {
			continue
		}
		target, err := filepath.EvalSymlinks(filepath.Join(byIDDir, name))
		if err != nil {
			continue
		}
		return target, nil
	}
	return "", fmt.Errorf("no pointer device found under %s", byIDDir)
}

// isPointerLinkName matches the udev-assigned suffixes for devices exposing
// relative pointer motion: "-event-mouse" for mice/trackpads, and the
// generic "-if01-event-mouse" pattern some HID composite devices use for
// their second interface.
func isPointerLinkName(name string) bool {
	return strings.HasSuffix(name, "-event-mouse")
}
