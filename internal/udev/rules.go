// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RulesFilePath is the conventional udev rules path for persistent USB
// sound-card symlinks.
const RulesFilePath = "/etc/udev/rules.d/99-usb-soundcards.rules"

// DeviceInfo describes a USB sound card by its physical port, as returned
// by GetUSBPhysicalPort, for udev rule generation.
type DeviceInfo struct {
	PortPath string // Physical USB port (e.g., "1-1.4")
	BusNum   int
	DevNum   int
	Product  string // Optional, for the rule file's comment
	Serial   string // Optional, for the rule file's comment
}

// GenerateRule formats a single udev rule that adds a SYMLINK under
// /dev/snd/by-usb-port/, named after the card's physical port. The rule
// matches the card by ATTRS{busnum} and ATTRS{devnum}; the port path
// appears only in the symlink name, not in the match.
//
// Callers that need input validation should use GenerateRuleWithValidation.
func GenerateRule(portPath string, busNum, devNum int) string {
	return fmt.Sprintf(
		`SUBSYSTEM=="sound", KERNEL=="controlC[0-9]*", ATTRS{busnum}=="%d", ATTRS{devnum}=="%d", SYMLINK+="snd/by-usb-port/%s"`,
		busNum, devNum, portPath,
	)
}

// GenerateRuleWithValidation is GenerateRule with input validation, for
// callers that cannot guarantee portPath/busNum/devNum came from
// GetUSBPhysicalPort.
func GenerateRuleWithValidation(portPath string, busNum, devNum int) (string, error) {
	if !IsValidUSBPortPath(portPath) {
		return "", fmt.Errorf("invalid USB port path: %s", portPath)
	}
	if busNum <= 0 {
		return "", fmt.Errorf("invalid bus number: %d (must be positive)", busNum)
	}
	if devNum <= 0 {
		return "", fmt.Errorf("invalid dev number: %d (must be positive)", devNum)
	}
	return GenerateRule(portPath, busNum, devNum), nil
}

// GenerateRule formats the udev rule for this device.
func (d *DeviceInfo) GenerateRule() string {
	return GenerateRule(d.PortPath, d.BusNum, d.DevNum)
}

// GenerateRulesFile renders a complete udev rules file for devices: a
// header comment followed by one rule per device, one per line.
func GenerateRulesFile(devices []*DeviceInfo) string {
	var sb strings.Builder

	sb.WriteString("# Zureshot persistent USB sound card mappings\n")
	sb.WriteString("# Generated — do not edit by hand, re-run the microphone setup command instead\n")
	sb.WriteString(fmt.Sprintf("# Generated at: %s\n", time.Now().UTC().Format(time.RFC3339)))
	sb.WriteString("#\n")

	for _, d := range devices {
		if d.Product != "" || d.Serial != "" {
			sb.WriteString(fmt.Sprintf("# Port %s: %s %s\n", d.PortPath, d.Product, d.Serial))
		}
		sb.WriteString(d.GenerateRule())
		sb.WriteString("\n")
	}

	return sb.String()
}

// validateDevices checks every device's fields before any rule is written,
// so a single bad entry in the middle of a batch fails the whole batch
// rather than leaving a partially-written rules file.
func validateDevices(devices []*DeviceInfo) error {
	for i, d := range devices {
		if _, err := GenerateRuleWithValidation(d.PortPath, d.BusNum, d.DevNum); err != nil {
			return fmt.Errorf("invalid device %d: %w", i, err)
		}
	}
	return nil
}

// commandRunner abstracts exec.Command for tests.
type commandRunner func(name string, args ...string) ([]byte, error)

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// reloadUdevRulesWith asks udevadm to reload rules and re-trigger device
// events, so a freshly written rules file takes effect without a reboot.
func reloadUdevRulesWith(runner commandRunner) error {
	if out, err := runner("udevadm", "control", "--reload-rules"); err != nil {
		return fmt.Errorf("udevadm reload-rules failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	if out, err := runner("udevadm", "trigger", "--subsystem-match=sound"); err != nil {
		return fmt.Errorf("udevadm trigger failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// writeRulesFileToPathWithRunner is WriteRulesFileToPath with an injectable
// command runner, for testing the reload path without invoking udevadm.
func writeRulesFileToPathWithRunner(devices []*DeviceInfo, path string, reload bool, runner commandRunner) error {
	if err := validateDevices(devices); err != nil {
		return err
	}

	content := GenerateRulesFile(devices)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	if reload {
		if err := reloadUdevRulesWith(runner); err != nil {
			return fmt.Errorf("failed to reload udev rules: %w", err)
		}
	}

	return nil
}

// WriteRulesFileToPath writes a generated udev rules file to path, useful
// in tests and for previewing the rules before installing them at
// RulesFilePath.
func WriteRulesFileToPath(devices []*DeviceInfo, path string, reload bool) error {
	return writeRulesFileToPathWithRunner(devices, path, reload, runCommand)
}

// WriteRulesFile installs the generated udev rules at RulesFilePath,
// requiring root to write under /etc/udev/rules.d/.
func WriteRulesFile(devices []*DeviceInfo, reload bool) error {
	return WriteRulesFileToPath(devices, RulesFilePath, reload)
}
