// Package diagnostics provides an environment health report for Zureshot:
// whether the screen-capture portal, PipeWire, and the GStreamer plugins
// the writer needs are present, alongside the ambient system-resource
// checks (disk, memory, file descriptors, entropy) any long-running daemon
// wants.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anxiong2025/zureshot/internal/config"
	"github.com/anxiong2025/zureshot/internal/udev"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusSkipped  CheckStatus = "SKIPPED"
	StatusError    CheckStatus = "ERROR"
)

// DiagnosticReport contains results from all diagnostic checks.
type DiagnosticReport struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Kernel       string `json:"kernel"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	Memory       int64  `json:"memory_bytes"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
}

// Summary contains a summary of check results.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Skipped  int `json:"skipped"`
	Error    int `json:"error"`
}

// CheckMode determines which checks to run.
type CheckMode string

const (
	ModeQuick CheckMode = "quick" // Essential checks only
	ModeFull  CheckMode = "full"  // All checks (default)
	ModeDebug CheckMode = "debug" // All checks with verbose output
)

// Diagnostic thresholds - all configurable for different deployment scenarios.
const (
	// LogSizeWarningBytes is the threshold for warning about log file sizes (100MB).
	LogSizeWarningBytes = 100 * 1024 * 1024

	// DiskUsageCriticalPercent is the disk usage percentage that triggers critical status.
	DiskUsageCriticalPercent = 95

	// DiskUsageWarningPercent is the disk usage percentage that triggers warning status.
	DiskUsageWarningPercent = 85

	// FDUsageCriticalPercent is the file descriptor usage percentage that triggers critical status.
	FDUsageCriticalPercent = 80

	// FDUsageWarningPercent is the file descriptor usage percentage that triggers warning status.
	FDUsageWarningPercent = 50

	// MemoryUsageCriticalPercent is the memory usage percentage that triggers critical status.
	MemoryUsageCriticalPercent = 90

	// MemoryUsageWarningPercent is the memory usage percentage that triggers warning status.
	MemoryUsageWarningPercent = 75

	// DefaultHealthAddr is cmd/zureshotd's default /healthz bind address,
	// matching internal/config's HealthConfig.Addr default.
	DefaultHealthAddr = "127.0.0.1:9998"

	// MinInotifyWatches is the minimum recommended inotify watches (the YAML
	// config reloader registers watches).
	MinInotifyWatches = 8192

	// MinEntropyBytes is the minimum recommended entropy pool size.
	MinEntropyBytes = 256
)

// Options configures the diagnostic run.
type Options struct {
	Mode       CheckMode
	ConfigPath string
	LogDir     string
	Output     io.Writer
	Verbose    bool
}

// DefaultOptions returns default diagnostic options.
func DefaultOptions() Options {
	return Options{
		Mode:       ModeFull,
		ConfigPath: config.DefaultConfigPath(),
		LogDir:     defaultLogDir(),
		Output:     os.Stdout,
		Verbose:    false,
	}
}

func defaultLogDir() string {
	return filepath.Join(config.DefaultConfigDir(), "logs")
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "zureshot")
	}
	return filepath.Join(os.TempDir(), "zureshot")
}

// Runner executes diagnostic checks.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes all diagnostic checks and returns a report.
func (r *Runner) Run(ctx context.Context) (*DiagnosticReport, error) {
	start := time.Now()

	report := &DiagnosticReport{
		Timestamp:  start,
		SystemInfo: r.collectSystemInfo(),
		Summary:    &Summary{},
	}

	// Define checks based on mode
	checks := r.getChecks()

	// Run each check
	for _, check := range checks {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
			result := check(ctx)
			report.Checks = append(report.Checks, result)

			// Update summary
			report.Summary.Total++
			switch result.Status {
			case StatusOK:
				report.Summary.OK++
			case StatusWarning:
				report.Summary.Warning++
			case StatusCritical:
				report.Summary.Critical++
			case StatusSkipped:
				report.Summary.Skipped++
			case StatusError:
				report.Summary.Error++
			}
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0

	return report, nil
}

// getChecks returns the checks to run based on mode.
func (r *Runner) getChecks() []func(context.Context) CheckResult {
	// Quick mode: essential checks only, enough to tell whether `record`
	// would even start.
	quickChecks := []func(context.Context) CheckResult{
		r.checkFFmpeg,
		r.checkALSA,
		r.checkMicDevices,
		r.checkScreenCapturePortal,
		r.checkConfig,
	}

	if r.opts.Mode == ModeQuick {
		return quickChecks
	}

	// Full mode: all 24 checks
	return []func(context.Context) CheckResult{
		// 1. Prerequisites & Dependencies
		r.checkPrerequisites,
		// 2. Versions
		r.checkVersions,
		// 3. System Information
		r.checkSystemInfo,
		// 4. USB Microphones
		r.checkMicDevices,
		// 5. Audio Capabilities
		r.checkAudioCapabilities,
		// 6. FFmpeg (GIF transcode)
		r.checkFFmpeg,
		// 7. ALSA
		r.checkALSA,
		// 8. Screen Capture Portal
		r.checkScreenCapturePortal,
		// 9. PipeWire Service
		r.checkPipeWireService,
		// 10. Configuration
		r.checkConfig,
		// 11. udev Rules
		r.checkUdevRules,
		// 12. Runtime/Lock Directory
		r.checkLockDir,
		// 13. Log Files
		r.checkLogFiles,
		// 14. Disk Space
		r.checkDiskSpace,
		// 15. File Descriptors
		r.checkFileDescriptors,
		// 16. Memory
		r.checkMemory,
		// 17. GStreamer Plugins
		r.checkGStreamerPlugins,
		// 18. Time Synchronization
		r.checkTimeSynchronization,
		// 19. Daemon Service
		r.checkDaemonService,
		// 20. Process Stability
		r.checkProcessStability,
		// 21. Audio Server Conflicts
		r.checkAudioConflicts,
		// 22. inotify Limits
		r.checkInotifyLimits,
		// 23. Health Endpoint
		r.checkHealthEndpoint,
		// 24. Entropy
		r.checkEntropy,
	}
}

// collectSystemInfo gathers basic system information.
func (r *Runner) collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	// Hostname
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}

	// Kernel version
	if data, err := os.ReadFile("/proc/version"); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 3 {
			info.Kernel = parts[2]
		}
	}

	// Memory
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemTotal:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						info.Memory = kb * 1024
					}
				}
				break
			}
		}
	}

	// Uptime
	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 1 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				d := time.Duration(secs) * time.Second
				info.Uptime = formatDuration(d)
			}
		}
	}

	return info
}

// Individual check implementations

func (r *Runner) checkPrerequisites(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Prerequisites",
		Category: "System",
	}

	required := []string{"ffmpeg"}
	optional := []string{"udevadm", "systemctl", "gst-inspect-1.0", "wl-copy", "zenity"}

	var missing []string
	var warnings []string

	for _, cmd := range required {
		if _, err := exec.LookPath(cmd); err != nil {
			missing = append(missing, cmd)
		}
	}

	for _, cmd := range optional {
		if _, err := exec.LookPath(cmd); err != nil {
			warnings = append(warnings, cmd)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Missing required tools: %s", strings.Join(missing, ", "))
		result.Suggestions = append(result.Suggestions, "Install missing tools with: apt-get install "+strings.Join(missing, " "))
	} else if len(warnings) > 0 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Missing optional tools: %s", strings.Join(warnings, ", "))
	} else {
		result.Status = StatusOK
		result.Message = "All required tools available"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkVersions(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Versions",
		Category: "System",
	}

	var versions []string

	if out, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output(); err == nil {
		lines := strings.Split(string(out), "\n")
		if len(lines) > 0 {
			versions = append(versions, "FFmpeg: "+strings.TrimPrefix(lines[0], "ffmpeg version "))
		}
	}

	if out, err := exec.CommandContext(ctx, "gst-inspect-1.0", "--version").Output(); err == nil {
		lines := strings.Split(string(out), "\n")
		if len(lines) > 0 {
			versions = append(versions, "GStreamer: "+strings.TrimSpace(lines[0]))
		}
	}

	result.Status = StatusOK
	result.Message = "Version information collected"
	result.Details = strings.Join(versions, "\n")
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkSystemInfo(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "System Info",
		Category: "System",
		Status:   StatusOK,
		Message:  "System information collected",
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkMicDevices(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "USB Microphones",
		Category: "Audio",
	}

	pattern := "/proc/asound/card*/usbid"
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		result.Status = StatusOK
		result.Message = "No USB microphones detected (system audio capture still works)"
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Found %d USB microphone(s)", len(matches))

		var devices []string
		for _, m := range matches {
			cardDir := filepath.Dir(m)
			// #nosec G304 -- reading from /proc/asound, controlled path
			if id, err := os.ReadFile(filepath.Join(cardDir, "id")); err == nil {
				devices = append(devices, strings.TrimSpace(string(id)))
			}
		}
		result.Details = strings.Join(devices, ", ")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkAudioCapabilities(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Audio Capabilities",
		Category: "Audio",
	}

	if _, err := exec.LookPath("amixer"); err != nil {
		result.Status = StatusWarning
		result.Message = "amixer not available"
	} else if out, err := exec.CommandContext(ctx, "amixer", "info").Output(); err == nil {
		result.Status = StatusOK
		result.Message = "ALSA mixer available"
		result.Details = string(out)
	} else {
		result.Status = StatusWarning
		result.Message = "ALSA mixer check failed"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFFmpeg(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "FFmpeg",
		Category: "Tools",
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		result.Status = StatusWarning
		result.Message = "FFmpeg not found (GIF export will be unavailable)"
		result.Suggestions = append(result.Suggestions, "Install FFmpeg: apt-get install ffmpeg")
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G204 -- path is from exec.LookPath, not user input
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		result.Status = StatusWarning
		result.Message = "FFmpeg found but version check failed"
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusOK
	result.Message = "FFmpeg available (used for GIF export)"
	lines := strings.Split(string(out), "\n")
	if len(lines) > 0 {
		result.Details = lines[0]
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkALSA(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "ALSA",
		Category: "Audio",
	}

	if _, err := os.Stat("/proc/asound"); os.IsNotExist(err) {
		result.Status = StatusCritical
		result.Message = "ALSA not available (/proc/asound missing)"
		result.Suggestions = append(result.Suggestions, "Load ALSA kernel modules")
		result.Duration = time.Since(start)
		return result
	}

	cards, _ := filepath.Glob("/proc/asound/card*")
	if len(cards) == 0 {
		result.Status = StatusWarning
		result.Message = "No ALSA audio cards found"
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("ALSA available with %d card(s)", len(cards))
	}

	result.Duration = time.Since(start)
	return result
}

// checkScreenCapturePortal checks that a session D-Bus connection is
// available and the xdg-desktop-portal ScreenCast interface is reachable,
// the prerequisite internal/capture needs before it can open() a session.
func (r *Runner) checkScreenCapturePortal(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Screen Capture Portal",
		Category: "Capture",
	}

	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		result.Status = StatusCritical
		result.Message = "No session D-Bus address set (DBUS_SESSION_BUS_ADDRESS empty)"
		result.Suggestions = append(result.Suggestions, "Run zureshot inside a graphical login session")
		result.Duration = time.Since(start)
		return result
	}

	if _, err := exec.LookPath("busctl"); err != nil {
		result.Status = StatusWarning
		result.Message = "busctl not available, cannot verify portal interface"
		result.Duration = time.Since(start)
		return result
	}

	out, err := exec.CommandContext(ctx, "busctl", "--user", "introspect",
		"org.freedesktop.portal.Desktop", "/org/freedesktop/portal/desktop").Output()
	if err != nil {
		result.Status = StatusCritical
		result.Message = "xdg-desktop-portal not reachable over D-Bus"
		result.Suggestions = append(result.Suggestions, "Install and start xdg-desktop-portal + a backend (GNOME/KDE/wlroots)")
		result.Duration = time.Since(start)
		return result
	}

	if !strings.Contains(string(out), "org.freedesktop.portal.ScreenCast") {
		result.Status = StatusCritical
		result.Message = "Portal is reachable but ScreenCast interface is missing"
		result.Suggestions = append(result.Suggestions, "Install a portal backend that implements ScreenCast")
	} else {
		result.Status = StatusOK
		result.Message = "xdg-desktop-portal ScreenCast interface available"
	}

	result.Duration = time.Since(start)
	return result
}

// checkPipeWireService checks the PipeWire user services the portal hands
// capture frames through.
func (r *Runner) checkPipeWireService(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "PipeWire Service",
		Category: "Capture",
	}

	out, err := exec.CommandContext(ctx, "systemctl", "--user", "is-active", "pipewire.socket").Output()
	if err != nil {
		result.Status = StatusWarning
		result.Message = "Could not query PipeWire service status (systemd --user unavailable?)"
		result.Duration = time.Since(start)
		return result
	}

	if strings.TrimSpace(string(out)) == "active" {
		result.Status = StatusOK
		result.Message = "PipeWire service active"
	} else {
		result.Status = StatusCritical
		result.Message = "PipeWire service not active"
		result.Suggestions = append(result.Suggestions, "Start it: systemctl --user start pipewire pipewire-pulse wireplumber")
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkConfig(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Configuration",
		Category: "Config",
	}

	if _, err := os.Stat(r.opts.ConfigPath); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "No config.yaml yet; built-in defaults will be used"
		result.Details = r.opts.ConfigPath
	} else {
		result.Status = StatusOK
		result.Message = "Configuration file exists"
		result.Details = r.opts.ConfigPath
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkUdevRules(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "udev Rules",
		Category: "Config",
	}

	if _, err := os.Stat(udev.RulesFilePath); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "No persistent microphone udev rules installed yet"
		result.Suggestions = append(result.Suggestions, "Run: zureshot devices --install-udev-rules")
	} else {
		result.Status = StatusOK
		result.Message = "udev rules configured"
		result.Details = udev.RulesFilePath
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkLockDir(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Runtime/Lock Directory",
		Category: "System",
	}

	runtimeDir := defaultRuntimeDir()
	if info, err := os.Stat(runtimeDir); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "Runtime directory will be created on first run"
	} else if !info.IsDir() {
		result.Status = StatusCritical
		result.Message = "Runtime path exists but is not a directory"
	} else {
		result.Status = StatusOK
		result.Message = "Runtime directory exists"

		entries, _ := os.ReadDir(runtimeDir)
		locks := 0
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".lock") {
				locks++
			}
		}
		if locks > 0 {
			result.Details = fmt.Sprintf("%d active lock(s)", locks)
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkLogFiles(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Log Files",
		Category: "System",
	}

	if _, err := os.Stat(r.opts.LogDir); os.IsNotExist(err) {
		result.Status = StatusOK
		result.Message = "Log directory will be created on first run"
		result.Duration = time.Since(start)
		return result
	}

	var totalSize int64
	_ = filepath.Walk(r.opts.LogDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if totalSize > LogSizeWarningBytes {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Log directory size: %s", formatBytes(totalSize))
		result.Suggestions = append(result.Suggestions, "Consider cleaning old logs")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Log directory size: %s", formatBytes(totalSize))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDiskSpace(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Disk Space",
		Category: "Resources",
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		result.Status = StatusError
		result.Message = "Failed to check disk space"
		result.Duration = time.Since(start)
		return result
	}

	// #nosec G115 -- Bsize is always positive on Linux filesystems
	available := stat.Bavail * uint64(stat.Bsize)
	// #nosec G115 -- Bsize is always positive on Linux filesystems
	total := stat.Blocks * uint64(stat.Bsize)
	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	if usedPercent > DiskUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Disk usage critical: %.1f%%", usedPercent)
		result.Suggestions = append(result.Suggestions, "Free up disk space before recording (large MP4/MOV output files)")
	} else if usedPercent > DiskUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Disk usage high: %.1f%%", usedPercent)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Disk usage: %.1f%% (%.1f GB available)", usedPercent, float64(available)/(1024*1024*1024))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFileDescriptors(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "File Descriptors",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		result.Status = StatusError
		result.Message = "Failed to read file descriptor info"
		result.Duration = time.Since(start)
		return result
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		result.Status = StatusError
		result.Message = "Invalid file-nr format"
		result.Duration = time.Since(start)
		return result
	}

	used, _ := strconv.ParseInt(fields[0], 10, 64)
	max, _ := strconv.ParseInt(fields[2], 10, 64)
	usedPercent := float64(used) / float64(max) * 100

	if usedPercent > FDUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("FD usage critical: %.1f%% (%d/%d)", usedPercent, used, max)
	} else if usedPercent > FDUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("FD usage elevated: %.1f%% (%d/%d)", usedPercent, used, max)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("FD usage normal: %.1f%% (%d/%d)", usedPercent, used, max)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkMemory(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Memory",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		result.Status = StatusError
		result.Message = "Failed to read memory info"
		result.Duration = time.Since(start)
		return result
	}

	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				total, _ = strconv.ParseInt(fields[1], 10, 64)
				total *= 1024
			}
		} else if strings.HasPrefix(line, "MemAvailable:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				available, _ = strconv.ParseInt(fields[1], 10, 64)
				available *= 1024
			}
		}
	}

	usedPercent := 100.0 - (float64(available)/float64(total))*100.0

	if usedPercent > MemoryUsageCriticalPercent {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Memory usage critical: %.1f%%", usedPercent)
	} else if usedPercent > MemoryUsageWarningPercent {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Memory usage elevated: %.1f%%", usedPercent)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Memory usage: %.1f%% (%s available)", usedPercent, formatBytes(available))
	}

	result.Duration = time.Since(start)
	return result
}

// checkGStreamerPlugins verifies the writer/capture pipeline's required
// elements are installed: pipewiresrc for capture, at least one H.264/HEVC
// encoder, and avenc_aac for audio.
func (r *Runner) checkGStreamerPlugins(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "GStreamer Plugins",
		Category: "Capture",
	}

	if _, err := exec.LookPath("gst-inspect-1.0"); err != nil {
		result.Status = StatusWarning
		result.Message = "gst-inspect-1.0 not available, cannot verify plugins"
		result.Duration = time.Since(start)
		return result
	}

	required := []string{"pipewiresrc", "avenc_aac"}
	encoders := []string{"vaapih265enc", "nvh265enc", "vaapih264enc", "nvh264enc", "x264enc"}

	var missing []string
	for _, elem := range required {
		if exec.CommandContext(ctx, "gst-inspect-1.0", elem).Run() != nil {
			missing = append(missing, elem)
		}
	}

	hasEncoder := false
	for _, enc := range encoders {
		if exec.CommandContext(ctx, "gst-inspect-1.0", enc).Run() == nil {
			hasEncoder = true
			break
		}
	}

	switch {
	case len(missing) > 0:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Missing required GStreamer elements: %s", strings.Join(missing, ", "))
		result.Suggestions = append(result.Suggestions, "Install gstreamer1.0-pipewire and gstreamer1.0-plugins-good/bad")
	case !hasEncoder:
		result.Status = StatusCritical
		result.Message = "No usable H.264/HEVC encoder element found"
		result.Suggestions = append(result.Suggestions, "Install gstreamer1.0-plugins-ugly (x264enc) or vendor VA-API/NVENC plugins")
	default:
		result.Status = StatusOK
		result.Message = "Required GStreamer elements present"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTimeSynchronization(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Time Sync",
		Category: "System",
	}

	out, err := exec.CommandContext(ctx, "timedatectl", "status").Output()
	if err != nil {
		result.Status = StatusOK
		result.Message = "Time sync check skipped (timedatectl not available)"
		result.Duration = time.Since(start)
		return result
	}

	if strings.Contains(string(out), "synchronized: yes") {
		result.Status = StatusOK
		result.Message = "System time synchronized"
	} else {
		result.Status = StatusWarning
		result.Message = "System time may not be synchronized"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDaemonService(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Daemon Service",
		Category: "Services",
	}

	out, err := exec.CommandContext(ctx, "systemctl", "--user", "is-active", "zureshotd").Output()
	if err != nil {
		result.Status = StatusOK
		result.Message = "zureshotd not running as a user service (CLI-only usage is fine)"
		result.Duration = time.Since(start)
		return result
	}

	if strings.TrimSpace(string(out)) == "active" {
		result.Status = StatusOK
		result.Message = "zureshotd user service running"
	} else {
		result.Status = StatusWarning
		result.Message = "zureshotd service state: " + strings.TrimSpace(string(out))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkProcessStability(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Process Stability",
		Category: "Services",
	}

	out, err := exec.CommandContext(ctx, "journalctl", "--user", "-u", "zureshotd", "--since", "1 hour ago", "-q").Output()
	if err != nil {
		result.Status = StatusOK
		result.Message = "Process stability check skipped"
		result.Duration = time.Since(start)
		return result
	}

	restarts := strings.Count(string(out), "Started")
	if restarts > 3 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("zureshotd restarted %d times in last hour", restarts)
	} else {
		result.Status = StatusOK
		result.Message = "Service stable"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkAudioConflicts(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Audio Server Conflicts",
		Category: "Audio",
	}

	out, _ := exec.CommandContext(ctx, "pgrep", "-x", "pulseaudio").Output()
	pulseRunning := len(out) > 0

	if pulseRunning {
		result.Status = StatusWarning
		result.Message = "Standalone PulseAudio running alongside PipeWire"
		result.Suggestions = append(result.Suggestions, "Prefer pipewire-pulse over a standalone PulseAudio daemon for consistent mic routing")
	} else {
		result.Status = StatusOK
		result.Message = "No audio server conflicts detected"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkInotifyLimits(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "inotify Limits",
		Category: "Resources",
	}

	data, err := os.ReadFile("/proc/sys/fs/inotify/max_user_watches")
	if err != nil {
		result.Status = StatusOK
		result.Message = "inotify check skipped"
		result.Duration = time.Since(start)
		return result
	}

	maxWatches, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)

	if maxWatches < MinInotifyWatches {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("inotify max_user_watches low: %d", maxWatches)
		result.Suggestions = append(result.Suggestions, "Increase with: sysctl fs.inotify.max_user_watches=65536")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("inotify max_user_watches: %d", maxWatches)
	}

	result.Duration = time.Since(start)
	return result
}

// checkHealthEndpoint probes cmd/zureshotd's /healthz port, reachable only
// when the daemon (rather than a one-shot CLI invocation) is running.
func (r *Runner) checkHealthEndpoint(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Health Endpoint",
		Category: "Network",
	}

	if !isPortOpen(DefaultHealthAddr) {
		result.Status = StatusOK
		result.Message = "Health endpoint not reachable (daemon not running, or a custom address is configured)"
		result.Duration = time.Since(start)
		return result
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + DefaultHealthAddr + "/healthz")
	if err != nil {
		result.Status = StatusWarning
		result.Message = "Health port open but /healthz did not respond"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		result.Status = StatusOK
		result.Message = "Daemon health endpoint reachable"
	} else {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Health endpoint returned status %d", resp.StatusCode)
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkEntropy(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:     "Entropy",
		Category: "System",
	}

	data, err := os.ReadFile("/proc/sys/kernel/random/entropy_avail")
	if err != nil {
		result.Status = StatusOK
		result.Message = "Entropy check skipped"
		result.Duration = time.Since(start)
		return result
	}

	entropy, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)

	if entropy < MinEntropyBytes {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("Entropy pool low: %d", entropy)
		result.Suggestions = append(result.Suggestions, "Install haveged or rng-tools")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("Entropy pool: %d", entropy)
	}

	result.Duration = time.Since(start)
	return result
}

// Helper functions

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func isPortOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PrintReport prints a formatted diagnostic report.
func PrintReport(w io.Writer, report *DiagnosticReport) {
	_, _ = fmt.Fprintf(w, "Zureshot Diagnostics Report\n")
	_, _ = fmt.Fprintf(w, "===========================\n\n")

	_, _ = fmt.Fprintf(w, "System: %s (%s/%s)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture)
	_, _ = fmt.Fprintf(w, "Kernel: %s\n", report.SystemInfo.Kernel)
	_, _ = fmt.Fprintf(w, "Uptime: %s\n", report.SystemInfo.Uptime)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	// Group checks by category
	categories := make(map[string][]CheckResult)
	for _, check := range report.Checks {
		categories[check.Category] = append(categories[check.Category], check)
	}

	for category, checks := range categories {
		_, _ = fmt.Fprintf(w, "\n%s\n%s\n", category, strings.Repeat("-", len(category)))
		for _, check := range checks {
			status := "✓"
			switch check.Status {
			case StatusWarning:
				status = "⚠"
			case StatusCritical:
				status = "✗"
			case StatusError:
				status = "!"
			case StatusSkipped:
				status = "○"
			}
			_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "    %s\n", check.Details)
			}
			for _, suggestion := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "    → %s\n", suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\n\nSummary\n-------\n")
	_, _ = fmt.Fprintf(w, "Total: %d | OK: %d | Warning: %d | Critical: %d | Error: %d | Skipped: %d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning,
		report.Summary.Critical, report.Summary.Error, report.Summary.Skipped)
	_, _ = fmt.Fprintf(w, "Duration: %v\n", report.Duration)

	if report.Healthy {
		_, _ = fmt.Fprintf(w, "\nSystem Status: HEALTHY\n")
	} else {
		_, _ = fmt.Fprintf(w, "\nSystem Status: ISSUES DETECTED\n")
	}
}

// ToJSON converts the report to JSON format.
func (r *DiagnosticReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
