// SPDX-License-Identifier: MIT

// Package main implements zureshotd, the long-running daemon that owns
// the recording coordinator.
//
// zureshotd is designed to run as a systemd --user service: it loads
// config.yaml, wires the Linux capture/writer/screenshot backends behind
// the platform facade, and serves /healthz, /metrics, and a small
// control API over HTTP so cmd/zureshot (and the tray menu it drives)
// can start, stop, pause, resume, and screenshot the running session.
//
// Usage:
//
//	zureshotd [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: ~/.config/zureshot/config.yaml)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anxiong2025/zureshot/internal/config"
	"github.com/anxiong2025/zureshot/internal/coordinator"
	"github.com/anxiong2025/zureshot/internal/cursor"
	"github.com/anxiong2025/zureshot/internal/events"
	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/health"
	"github.com/anxiong2025/zureshot/internal/lock"
	"github.com/anxiong2025/zureshot/internal/platform"
	"github.com/anxiong2025/zureshot/internal/supervisor"
	"github.com/anxiong2025/zureshot/internal/udev"
	"github.com/anxiong2025/zureshot/internal/updater"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to configuration file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("zureshotd starting", "version", Version, "commit", Commit, "built", BuildTime)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	runtimeDir := defaultRuntimeDir()
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		logger.Error("failed to create runtime directory", "dir", runtimeDir, "err", err)
		os.Exit(1)
	}

	fl, err := lock.DaemonLock(runtimeDir)
	if err != nil {
		logger.Error("failed to construct daemon lock", "err", err)
		os.Exit(1)
	}
	if err := fl.Acquire(5 * time.Second); err != nil {
		logger.Error("another zureshotd instance is already running", "err", err)
		os.Exit(1)
	}
	defer fl.Release()

	plat := platform.New(logger)
	bus := events.NewBus()
	downloadsDir := defaultDownloadsDir()

	coord := coordinator.New(logger, plat.CaptureSource(), plat.Muxer(), bus, downloadsDir, newCursorFactory(logger))
	coord.SetZoomConfig(cfg.Zoom.ToZoomConfig())

	state := &daemonState{coord: coord, plat: plat, bus: bus, logger: logger, startedAt: time.Now()}
	bus.Subscribe(events.TopicRecordingStarted, func(any) { state.noteActivity() })
	bus.Subscribe(events.TopicRecordingStopped, func(any) { state.noteActivity() })

	resourceMon := health.NewResourceMonitor(health.WithThresholds(cfg.Health.ToResourceThresholds()))

	sup := supervisor.New(supervisor.DefaultConfig())

	// The control API (start/stop/pause/resume/status/screenshot) shares
	// this listener with /healthz and /metrics: cmd/zureshot has no other
	// way to reach a running daemon, so the server always starts even
	// when cfg.Health.Enabled only opts out of the self-monitor checks.
	handler := health.NewHandler(state).WithSystemInfo(state)
	mux := http.NewServeMux()
	mux.Handle("/healthz", handler)
	mux.Handle("/metrics", handler)
	registerControlRoutes(mux, state)

	addr := cfg.Health.Addr
	if addr == "" {
		addr = "127.0.0.1:9998"
	}
	if err := sup.Add(&httpService{name: "control-server", addr: addr, handler: mux}); err != nil {
		logger.Error("failed to register control server", "err", err)
	}

	if cfg.Health.Enabled {
		interval := cfg.Health.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		if err := sup.Add(&resourceMonitorService{monitor: resourceMon, interval: interval, logger: logger}); err != nil {
			logger.Error("failed to register resource monitor", "err", err)
		}
	}

	up := updater.New(updater.WithCurrentVersion(Version))
	if err := sup.Add(&updaterPollService{updater: up, logger: logger, interval: 6 * time.Hour}); err != nil {
		logger.Error("failed to register updater poller", "err", err)
	}

	ctx := setupSignalHandler(logger)

	logger.Info("zureshotd ready", "services", sup.ServiceCount(), "runtime_dir", runtimeDir)
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("supervisor exited with error", "err", err)
	}

	if coord.State() != coordinator.StateIdle {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := coord.Stop(stopCtx); err != nil {
			logger.Error("failed to finalize recording during shutdown", "err", err)
		}
		cancel()
	}

	logger.Info("zureshotd shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfiguration loads the config file, falling back to built-in
// defaults if it doesn't exist yet (a fresh install has no config.yaml).
func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// defaultRuntimeDir returns the directory the daemon lock and any other
// runtime-only state lives in: $XDG_RUNTIME_DIR/zureshot, falling back to
// a temp directory when the session has no runtime dir set (e.g. under a
// display manager that doesn't export it).
func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "zureshot")
	}
	return filepath.Join(os.TempDir(), "zureshot")
}

// defaultDownloadsDir returns the directory synthesized recording output
// paths are written under: ~/Videos/Zureshot, creating it lazily on first
// use via coordinator.buildSession's os.MkdirAll.
func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "Videos", "Zureshot")
}

// newCursorFactory resolves the system's pointer device once at startup
// and returns a coordinator.CursorFactory backed by it. A desktop with no
// resolvable pointer device (headless, or /dev/input/by-id missing) gets
// nil: zoom and the cursor sidecar are then unavailable, but recording
// still works.
func newCursorFactory(logger *slog.Logger) coordinator.CursorFactory {
	devicePath, err := udev.ResolvePointerDevice("/dev/input/by-id")
	if err != nil {
		logger.Warn("no pointer device resolved, zoom and cursor sidecar disabled", "err", err)
		return nil
	}
	logger.Info("resolved pointer device", "path", devicePath)
	return func(bounds geom.Rect) (cursor.PositionSource, cursor.HookSource) {
		p := cursor.NewEvdevPointer(devicePath, bounds)
		return p, p
	}
}

func setupSignalHandler(logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	return ctx
}

func printUsage() {
	fmt.Println("zureshotd - Zureshot recording daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: zureshotd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("The daemon owns the recording coordinator and serves /healthz,")
	fmt.Println("/metrics, and a control API for cmd/zureshot on health.addr from config.yaml.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown (finalizes an active recording)")
}

// httpService adapts an http.Handler into a supervisor.Service.
type httpService struct {
	name    string
	addr    string
	handler http.Handler
}

func (s *httpService) Name() string { return s.name }

func (s *httpService) Run(ctx context.Context) error {
	return health.ListenAndServe(ctx, s.addr, s.handler)
}

// resourceMonitorService samples the daemon's own /proc entry on interval
// and logs threshold breaches, wrapping health.ResourceMonitor as a
// supervisor.Service.
type resourceMonitorService struct {
	monitor  *health.ResourceMonitor
	interval time.Duration
	logger   *slog.Logger
}

func (s *resourceMonitorService) Name() string { return "resource-monitor" }

func (s *resourceMonitorService) Run(ctx context.Context) error {
	s.monitor.Run(ctx, s.interval, func(alerts []health.ResourceAlert) {
		for _, alert := range alerts {
			s.logger.Warn("resource threshold breached",
				"level", alert.Level.String(), "resource", alert.Resource, "message", alert.Message)
		}
	})
	return ctx.Err()
}

// updaterPollService periodically checks GitHub for a newer release and
// logs when one is available; it never applies updates unattended.
type updaterPollService struct {
	updater  *updater.Updater
	logger   *slog.Logger
	interval time.Duration
}

func (s *updaterPollService) Name() string { return "updater-poll" }

func (s *updaterPollService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		info, err := s.updater.CheckForUpdates(ctx)
		if err != nil {
			s.logger.Debug("update check failed", "err", err)
		} else if info != nil && info.UpdateAvailable {
			s.logger.Info("update available", "details", updater.FormatUpdateInfo(info))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// daemonState implements health.StatusProvider, health.SystemInfoProvider,
// and is the receiver for the control API handlers.
type daemonState struct {
	coord     *coordinator.Coordinator
	plat      platform.Platform
	bus       *events.Bus
	logger    *slog.Logger
	startedAt time.Time

	lastActivity time.Time
}

func (s *daemonState) noteActivity() { s.lastActivity = time.Now() }

func (s *daemonState) Services() []health.ServiceInfo {
	healthy := true
	errMsg := ""

	return []health.ServiceInfo{{
		Name:    "coordinator",
		State:   s.coord.State().String(),
		Uptime:  time.Since(s.startedAt),
		Healthy: healthy,
		Error:   errMsg,
	}}
}

func (s *daemonState) SystemInfo() health.SystemInfo {
	return health.SystemInfo{NTPSynced: true}
}

func registerControlRoutes(mux *http.ServeMux, s *daemonState) {
	mux.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, events.Status{
			Recording: s.coord.State() == coordinator.StateRecording || s.coord.State() == coordinator.StatePaused,
			Paused:    s.coord.State() == coordinator.StatePaused,
			Duration:  s.coord.Duration(),
		})
	})

	mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		controlAction(w, s.coord.Pause)
	})

	mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
		controlAction(w, s.coord.Resume)
	})

	mux.HandleFunc("/control/stop", func(w http.ResponseWriter, r *http.Request) {
		result, err := s.coord.Stop(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, result)
	})

	mux.HandleFunc("/control/start", func(w http.ResponseWriter, r *http.Request) {
		var cfg coordinator.StartConfig
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := s.coord.Start(r.Context(), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/control/screenshot", func(w http.ResponseWriter, r *http.Request) {
		outputPath := r.URL.Query().Get("path")
		result, err := s.plat.Screenshot().Capture(r.Context(), nil, outputPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, result)
	})
}

func controlAction(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
