// SPDX-License-Identifier: MIT

// Package main implements zureshot, the command-line front end to the
// zureshotd daemon: start/stop/pause/resume/status talk to the running
// daemon's control API, screenshot/record/devices/diagnose/menu/config
// run standalone or against the daemon as appropriate for each command.
//
// Usage:
//
//	zureshot <command> [arguments]
//
// Commands:
//
//	start [--region=X,Y,W,H] [--quality=standard|high] [--system-audio]
//	      [--mic] [--zoom] [--cursor-sidecar]
//	stop
//	pause
//	resume
//	status [--json]
//	record --interactive
//	screenshot [--output=PATH]
//	devices
//	diagnose [--quick] [--json]
//	config show | toggle-auto-update | autostart --enable|--disable
//	update [--check]
//	menu
//	version
//	help
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anxiong2025/zureshot/internal/audio"
	"github.com/anxiong2025/zureshot/internal/config"
	"github.com/anxiong2025/zureshot/internal/coordinator"
	"github.com/anxiong2025/zureshot/internal/diagnostics"
	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/menu"
	"github.com/anxiong2025/zureshot/internal/platform"
	"github.com/anxiong2025/zureshot/internal/transcode"
	"github.com/anxiong2025/zureshot/internal/updater"
	"github.com/anxiong2025/zureshot/internal/writer"
)

// Build information (set by ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		if err := runMenu(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "start":
		err = runStart(rest)
	case "stop":
		err = runControlNoBody("/control/stop")
	case "pause":
		err = runControlNoBody("/control/pause")
	case "resume":
		err = runControlNoBody("/control/resume")
	case "status":
		err = runStatus(rest)
	case "record":
		err = runRecord(rest)
	case "screenshot":
		err = runScreenshot(rest)
	case "gif":
		err = runGIF(rest)
	case "devices":
		err = runDevices()
	case "diagnose":
		err = runDiagnose(rest)
	case "config":
		err = runConfig(rest)
	case "update":
		err = runUpdate(rest)
	case "menu":
		err = runMenu()
	case "version":
		fmt.Printf("zureshot %s (%s)\n", Version, Commit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("zureshot - Zureshot command-line interface")
	fmt.Println()
	fmt.Println("Usage: zureshot <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start [--region=X,Y,W,H] [--quality=standard|high] [--system-audio]")
	fmt.Println("        [--mic] [--zoom] [--cursor-sidecar]   Start recording")
	fmt.Println("  stop                                        Stop the active recording")
	fmt.Println("  pause                                       Pause the active recording")
	fmt.Println("  resume                                      Resume a paused recording")
	fmt.Println("  status [--json]                             Show daemon/recording status")
	fmt.Println("  record --interactive                        Guided recording wizard")
	fmt.Println("  screenshot [--output=PATH]                   Capture a screenshot")
	fmt.Println("  gif <input.mp4> [output.gif]                 Convert a recording to GIF")
	fmt.Println("  devices                                     List detected microphones")
	fmt.Println("  diagnose [--quick] [--json]                 Run environment diagnostics")
	fmt.Println("  config show|toggle-auto-update|autostart    Manage settings")
	fmt.Println("  update [--check]                            Check for a newer release")
	fmt.Println("  menu                                        Open the interactive menu")
	fmt.Println("  version                                     Print version information")
}

// daemonAddr returns the address cmd/zureshotd serves its control API on,
// read from config.yaml (falling back to the built-in default so the CLI
// works against a daemon that has never had a config file written).
func daemonAddr() string {
	cfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil || cfg.Health.Addr == "" {
		return "127.0.0.1:9998"
	}
	return cfg.Health.Addr
}

func controlClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func runControlNoBody(path string) error {
	client := controlClient()
	resp, err := client.Post("http://"+daemonAddr()+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("zureshotd unreachable (is it running? systemctl --user status zureshotd): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}

func runStart(args []string) error {
	cfg := coordinator.StartConfig{Quality: writer.QualityStandard}

	settings, err := config.LoadSettings(config.DefaultSettingsPath())
	if err != nil {
		return err
	}

	for _, a := range args {
		switch {
		case a == "--system-audio":
			cfg.SystemAudio = true
		case a == "--mic":
			cfg.Microphone = true
		case a == "--zoom":
			cfg.Zoom = true
		case a == "--cursor-sidecar":
			cfg.CursorSidecar = true
		case strings.HasPrefix(a, "--quality="):
			if strings.TrimPrefix(a, "--quality=") == "high" {
				cfg.Quality = writer.QualityHigh
			}
		case strings.HasPrefix(a, "--region="):
			r, err := parseRegion(strings.TrimPrefix(a, "--region="))
			if err != nil {
				return err
			}
			cfg.Region = &r
		}
	}

	if cfg.Region == nil && settings.LastRegion != nil {
		cfg.Region = settings.LastRegion
	}
	if cfg.Region != nil {
		_ = settings.SetLastRegion(config.DefaultSettingsPath(), *cfg.Region)
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	client := controlClient()
	resp, err := client.Post("http://"+daemonAddr()+"/control/start", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("zureshotd unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("recording started")
	return nil
}

func parseRegion(spec string) (geom.Rect, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return geom.Rect{}, fmt.Errorf("--region must be X,Y,W,H")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Rect{}, fmt.Errorf("--region: invalid number %q", p)
		}
		vals[i] = n
	}
	return geom.NewRect(vals[0], vals[1], vals[2], vals[3]), nil
}

func runStatus(args []string) error {
	jsonOutput := false
	for _, a := range args {
		if a == "--json" || a == "-j" {
			jsonOutput = true
		}
	}

	client := controlClient()
	resp, err := client.Get("http://" + daemonAddr() + "/control/status")
	if err != nil {
		if jsonOutput {
			fmt.Println(`{"reachable":false}`)
			return nil
		}
		fmt.Println("zureshotd is not reachable (not running?)")
		return nil
	}
	defer resp.Body.Close()

	var status struct {
		Recording bool          `json:"Recording"`
		Paused    bool          `json:"Paused"`
		Path      string        `json:"Path"`
		Duration  time.Duration `json:"Duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return err
	}

	if jsonOutput {
		data, _ := json.Marshal(status)
		fmt.Println(string(data))
		return nil
	}

	if !status.Recording {
		fmt.Println("idle")
		return nil
	}
	state := "recording"
	if status.Paused {
		state = "paused"
	}
	fmt.Printf("%s (%s elapsed)\n", state, status.Duration.Round(time.Second))
	return nil
}

func runRecord(args []string) error {
	interactive := false
	for _, a := range args {
		if a == "--interactive" || a == "-i" {
			interactive = true
		}
	}
	if !interactive {
		return runStart(args)
	}

	mics, err := audio.DetectDevices("/proc/asound")
	if err != nil {
		mics = nil
	}

	result, err := menu.RunRecordWizard(os.Stdin, os.Stdout, mics)
	if err != nil {
		return err
	}

	cfg := coordinator.StartConfig{
		Quality:       result.Quality,
		SystemAudio:   result.SystemAudio,
		Microphone:    result.Microphone,
		Zoom:          result.Zoom,
		CursorSidecar: result.CursorSidecar,
	}

	settings, err := config.LoadSettings(config.DefaultSettingsPath())
	if err == nil && settings.LastRegion != nil {
		cfg.Region = settings.LastRegion
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	client := controlClient()
	resp, err := client.Post("http://"+daemonAddr()+"/control/start", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("zureshotd unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("recording started")
	return nil
}

func runScreenshot(args []string) error {
	output := ""
	for _, a := range args {
		if strings.HasPrefix(a, "--output=") {
			output = strings.TrimPrefix(a, "--output=")
		}
	}

	client := controlClient()
	url := "http://" + daemonAddr() + "/control/screenshot"
	if output != "" {
		url += "?path=" + output
	}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("zureshotd unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var result struct {
		Path string `json:"Path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	fmt.Println("saved:", result.Path)
	return nil
}

// runGIF converts a finished recording to an animated GIF via ffmpeg, run
// locally rather than through the daemon's control API since it's a
// one-shot file transform with no session state involved. On failure the
// original MP4 is left untouched; transcode.ToGIF never modifies it.
func runGIF(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: zureshot gif <input.mp4> [output.gif]")
	}
	videoPath := args[0]
	gifPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".gif"
	if len(args) > 1 {
		gifPath = args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := transcode.ToGIF(ctx, videoPath, gifPath); err != nil {
		fmt.Fprintln(os.Stderr, "gif conversion failed, keeping original file:", err)
		return err
	}
	fmt.Println("saved:", gifPath)
	return nil
}

func runDevices() error {
	devices, err := audio.DetectDevices("/proc/asound")
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no microphone devices detected")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("card %d: %s\n", d.CardNumber, d.FriendlyName())
	}
	return nil
}

func runDiagnose(args []string) error {
	opts := diagnostics.DefaultOptions()
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--quick", "-q":
			opts.Mode = diagnostics.ModeQuick
		case "--json":
			jsonOutput = true
		}
	}

	runner := diagnostics.NewRunner(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := report.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	diagnostics.PrintReport(os.Stdout, report)
	if !report.Healthy {
		os.Exit(1)
	}
	return nil
}

func runConfig(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: zureshot config show|toggle-auto-update|autostart --enable|--disable")
	}

	settingsPath := config.DefaultSettingsPath()

	switch args[0] {
	case "show":
		cfg, err := loadOrDefaultConfig()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil

	case "toggle-auto-update":
		settings, err := config.LoadSettings(settingsPath)
		if err != nil {
			return err
		}
		settings.AutoUpdate = !settings.AutoUpdate
		if err := settings.Save(settingsPath); err != nil {
			return err
		}
		fmt.Println("auto_update:", settings.AutoUpdate)
		return nil

	case "autostart":
		enable := true
		for _, a := range args[1:] {
			if a == "--disable" {
				enable = false
			}
		}
		plat := platform.New(nil)
		if err := plat.SetAutostartEnabled(enable); err != nil {
			return err
		}
		fmt.Println("autostart enabled:", enable)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand: %s", args[0])
	}
}

func loadOrDefaultConfig() (*config.Config, error) {
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func runUpdate(args []string) error {
	checkOnly := false
	for _, a := range args {
		if a == "--check" {
			checkOnly = true
		}
	}
	_ = checkOnly // zureshot never self-updates; --check is accepted for symmetry with the menu.

	up := updater.New(updater.WithCurrentVersion(Version))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := up.CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if info.UpdateAvailable {
		fmt.Println(updater.FormatUpdateInfo(info))
	} else {
		fmt.Println("zureshot is up to date")
	}
	return nil
}

func runMenu() error {
	return menu.CreateMainMenu().Display()
}
