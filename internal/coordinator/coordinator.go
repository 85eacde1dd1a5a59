// SPDX-License-Identifier: MIT

// Package coordinator implements the lifecycle owner that composes the
// capture source, router, writer, and zoom controller into one recording
// session and exposes start/pause/resume/stop.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/anxiong2025/zureshot/internal/capture"
	"github.com/anxiong2025/zureshot/internal/cursor"
	"github.com/anxiong2025/zureshot/internal/events"
	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/router"
	"github.com/anxiong2025/zureshot/internal/sample"
	"github.com/anxiong2025/zureshot/internal/transcode"
	"github.com/anxiong2025/zureshot/internal/util"
	"github.com/anxiong2025/zureshot/internal/writer"
	"github.com/anxiong2025/zureshot/internal/zerr"
	"github.com/anxiong2025/zureshot/internal/zoom"
)

// Output formats accepted in StartConfig.OutputFormat. The empty string is
// treated as OutputFormatVideo.
const (
	OutputFormatVideo = "video"
	OutputFormatGIF   = "gif"
)

// State is the coordinator's lifecycle state machine: Idle → Starting →
// Recording ↔ Paused → Stopping → Idle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// captureStopTimeout bounds Stop's wait for the capture stream's
// confirmation.
const captureStopTimeout = 5 * time.Second

// drainSleep lets the capture delivery queue empty before finalize.
const drainSleep = 200 * time.Millisecond

// CursorFactory builds the platform's position/hook sources for a cursor
// tracker scoped to bounds, the capture region in logical points. Injected
// so the coordinator stays platform-neutral; cmd/zureshotd supplies the
// Linux evdev-backed factory.
type CursorFactory func(bounds geom.Rect) (cursor.PositionSource, cursor.HookSource)

// StartConfig is the argument to Start.
type StartConfig struct {
	OutputPath string // optional; synthesized if empty
	Quality    writer.Quality
	Region     *geom.Rect // nil ⇒ full display
	DestWidth  int        // 0 ⇒ same as physical region size (no scaling)
	DestHeight int

	SystemAudio     bool
	ExcludeOwnAudio bool
	Microphone      bool

	Zoom          bool
	CursorSidecar bool // export the cursor event buffer alongside the output

	// OutputFormat is "video" or "gif"; empty ⇒ OutputFormatVideo. "gif"
	// hands the finalized MP4 to the external ffmpeg transcoder at stop
	// time; a transcode failure falls back to keeping the MP4.
	OutputFormat string
	// MaxDuration caps the session's wall-clock duration; 0 ⇒ unlimited.
	// Reaching the cap triggers the same stop path a manual stop() call
	// would.
	MaxDuration time.Duration
}

// outputFormat returns cfg.OutputFormat, defaulting to OutputFormatVideo.
func (cfg StartConfig) outputFormat() string {
	if cfg.OutputFormat == "" {
		return OutputFormatVideo
	}
	return cfg.OutputFormat
}

// StopResult reports what stop() observed, published as recording-stopped.
type StopResult struct {
	Path     string
	Duration time.Duration
	Size     int64
}

// session is exactly one per coordinator, created on start, destroyed on
// stop.
type session struct {
	outputPath string
	cfg        StartConfig

	stream     capture.Stream
	wr         writer.Writer
	videoInput writer.VideoInput
	audioInput writer.AudioInput
	micInput   writer.AudioInput
	router     *router.Router
	zoomCtl    *zoom.Controller
	tracker    *cursor.Tracker

	paused atomic.Bool

	startInstant     time.Time
	pauseAccumulated time.Duration
	pauseStart       time.Time

	maxDurationTimer *time.Timer

	width, height int
}

// Coordinator orchestrates exactly one session at a time.
type Coordinator struct {
	logger        *slog.Logger
	source        capture.Source
	muxer         writer.Muxer
	bus           *events.Bus
	downloadsDir  string
	cursorFactory CursorFactory
	zoomConfig    zoom.Config

	mu    sync.Mutex
	state State
	sess  *session
}

// New creates a Coordinator. downloadsDir is the directory synthesized
// output paths are written under (the user's default downloads
// subdirectory). cursorFactory may be nil if zoom/cursor sidecar support
// is not available on this platform.
func New(logger *slog.Logger, source capture.Source, muxer writer.Muxer, bus *events.Bus, downloadsDir string, cursorFactory CursorFactory) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:        logger.With("component", "coordinator"),
		source:        source,
		muxer:         muxer,
		bus:           bus,
		downloadsDir:  downloadsDir,
		cursorFactory: cursorFactory,
		zoomConfig:    zoom.DefaultConfig(),
	}
}

// SetZoomConfig overrides the spring tuning used for future sessions'
// zoom controllers. cmd/zureshotd calls this once at startup with the
// values loaded from config.Config.
func (c *Coordinator) SetZoomConfig(cfg zoom.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoomConfig = cfg
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Duration reports pause-adjusted wall-clock elapsed time for the active
// session, or zero if idle: (now - start_instant) - pause_accumulated,
// minus (now - pause_start) while currently paused.
func (c *Coordinator) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return sessionDuration(c.sess, c.state)
}

func sessionDuration(s *session, state State) time.Duration {
	d := time.Since(s.startInstant) - s.pauseAccumulated
	if state == StatePaused {
		d -= time.Since(s.pauseStart)
	}
	return d
}

// Start validates Idle, wires the capture source, writer, and router (plus
// the zoom controller when enabled), and publishes a recording-started event.
func (c *Coordinator) Start(ctx context.Context, cfg StartConfig) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return zerr.New(zerr.KindAlreadyRecording, "a recording is already in progress")
	}
	c.state = StateStarting
	c.mu.Unlock()

	sess, err := c.buildSession(ctx, cfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateRecording
	c.mu.Unlock()

	if cfg.MaxDuration > 0 {
		sess.maxDurationTimer = time.AfterFunc(cfg.MaxDuration, c.autoStopOnMaxDuration)
	}

	c.bus.Publish(events.RecordingStarted{
		Path:        sess.outputPath,
		Time:        sess.startInstant,
		Region:      cfg.Region,
		Format:      cfg.outputFormat(),
		MaxDuration: cfg.MaxDuration,
	})
	return nil
}

// autoStopOnMaxDuration fires from a timer goroutine when a session's
// MaxDuration elapses. It runs the same Stop path a manual call would; a
// KindNotRecording error means the session was already stopped manually and
// lost the race, which is expected and not logged as a failure.
func (c *Coordinator) autoStopOnMaxDuration() {
	if err := util.RecoverToPanic(func() error {
		_, err := c.Stop(context.Background())
		return err
	}); err != nil && !zerr.Is(err, zerr.KindNotRecording) {
		c.logger.Warn("automatic max-duration stop failed", "err", err)
	}
}

func (c *Coordinator) buildSession(ctx context.Context, cfg StartConfig) (*session, error) {
	path := cfg.OutputPath
	if path == "" {
		path = c.synthesizePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, zerr.Wrap(zerr.KindWriterFailed, "create output directory", err)
	}
	// The writer cannot overwrite an existing file at path.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, zerr.Wrap(zerr.KindWriterFailed, "remove existing output file", err)
	}

	display, windows, err := c.source.Open(ctx)
	if err != nil {
		return nil, err
	}

	width, height := physicalDims(cfg.Region, display, cfg.DestWidth, cfg.DestHeight)
	excluded := ownWindowIDs(windows)

	wr, videoInput, err := c.muxer.CreateWriter(ctx, path, width, height, cfg.Quality)
	if err != nil {
		return nil, err
	}

	var audioInput, micInput writer.AudioInput
	if cfg.SystemAudio {
		audioInput = c.attachBestEffortAudio(wr, "system")
	}
	if cfg.Microphone {
		micInput = c.attachBestEffortAudio(wr, "mic")
	}

	if err := wr.StartWriting(ctx); err != nil {
		return nil, err
	}

	rtr := router.New(c.logger, videoInput, audioInput, micInput)

	captureCfg := capture.Config{
		Width:           width,
		Height:          height,
		FrameInterval:   time.Second / 30,
		QueueDepth:      capture.DefaultQueueDepth,
		CursorVisible:   true,
		SourceRect:      cfg.Region,
		ExcludeWindows:  excluded,
		SampleRate:      48000,
		Channels:        2,
		SystemAudio:     cfg.SystemAudio,
		ExcludeOwnAudio: cfg.ExcludeOwnAudio,
		Microphone:      cfg.Microphone,
	}
	if cfg.Region != nil {
		dest := geom.NewRect(0, 0, float64(width), float64(height))
		captureCfg.DestRect = &dest
		captureCfg.ScalesToFit = true
	}

	stream, err := c.source.Start(ctx, captureCfg, rtr.Route)
	if err != nil {
		wr.Finalize(ctx)
		return nil, err
	}

	sess := &session{
		outputPath: path,
		cfg:        cfg,
		stream:     stream,
		wr:         wr,
		videoInput: videoInput,
		audioInput: audioInput,
		micInput:   micInput,
		router:     rtr,
		width:      width,
		height:     height,
	}
	sess.startInstant = time.Now()

	fullRegion := geom.NewRect(0, 0, float64(width), float64(height))
	if cfg.Region != nil {
		fullRegion = *cfg.Region
	}

	if (cfg.Zoom || cfg.CursorSidecar) && c.cursorFactory != nil {
		pos, hook := c.cursorFactory(fullRegion)
		sess.tracker = cursor.New(c.logger, pos, hook)
		sess.tracker.Start(ctx)
	}

	if cfg.Zoom {
		if sess.tracker == nil {
			c.logger.Warn("zoom requested but no cursor source available, continuing without zoom")
		} else {
			reconf := &streamReconfigurer{stream: stream, base: captureCfg}
			c.mu.Lock()
			zoomCfg := c.zoomConfig
			c.mu.Unlock()
			sess.zoomCtl = zoom.New(zoomCfg, fullRegion, sess.tracker, reconf, c.logger)
			sess.zoomCtl.Start(ctx)
		}
	}

	return sess, nil
}

func (c *Coordinator) attachBestEffortAudio(wr writer.Writer, label string) writer.AudioInput {
	input, err := c.muxer.CreateAudioInput(label)
	if err != nil {
		c.logger.Warn("failed to construct audio input, continuing without it", "label", label, "err", err)
		return nil
	}
	if err := wr.AddInput(input); err != nil {
		c.logger.Warn("writer refused audio input, continuing without it", "label", label, "err", err)
		return nil
	}
	return input
}

// Pause sets the shared paused flag; rejects if not recording or already
// paused.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		return zerr.New(zerr.KindAlreadyPaused, "cannot pause: already paused")
	}
	if c.state != StateRecording {
		return zerr.New(zerr.KindNotRecording, "cannot pause: not recording")
	}
	c.sess.pauseStart = time.Now()
	c.sess.paused.Store(true)
	c.sess.router.SetPaused(true)
	c.state = StatePaused
	return nil
}

// Resume clears the shared paused flag; rejects if not paused.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return zerr.New(zerr.KindNotPaused, "cannot resume: not paused")
	}
	c.sess.pauseAccumulated += time.Since(c.sess.pauseStart)
	c.sess.paused.Store(false)
	c.sess.router.SetPaused(false)
	c.state = StateRecording
	return nil
}

// Stop extracts session state under the mutex then releases it before any
// blocking OS call: those calls may dispatch completions to a thread the
// UI also depends on.
func (c *Coordinator) Stop(ctx context.Context) (StopResult, error) {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return StopResult{}, zerr.New(zerr.KindNotRecording, "cannot stop: not recording")
	}
	sess := c.sess
	priorState := c.state
	c.state = StateStopping
	c.mu.Unlock()

	if sess.maxDurationTimer != nil {
		sess.maxDurationTimer.Stop()
	}

	if sess.zoomCtl != nil {
		sess.zoomCtl.Stop() // restores full source-rect first
	}
	if sess.tracker != nil {
		sess.tracker.Stop()
	}

	stopCtx, cancel := context.WithTimeout(ctx, captureStopTimeout)
	defer cancel()
	if err := sess.stream.Stop(stopCtx); err != nil {
		c.logger.Warn("capture stream stop reported an error", "err", err)
	}

	time.Sleep(drainSleep)

	_, finErr := sess.wr.Finalize(ctx)
	if finErr != nil {
		c.logger.Error("writer finalize did not complete cleanly", "err", finErr)
	}

	duration := sessionDuration(sess, priorState)

	outputPath := sess.outputPath
	format := sess.cfg.outputFormat()
	if format == OutputFormatGIF {
		outputPath = convertToGIF(ctx, c.logger, sess.outputPath)
	}

	var size int64
	if fi, statErr := os.Stat(outputPath); statErr == nil {
		size = fi.Size()
	}

	if sess.tracker != nil && sess.cfg.CursorSidecar {
		sidecarPath := sess.outputPath + ".cursor.json"
		if err := sess.tracker.WriteSidecar(sidecarPath); err != nil {
			c.logger.Warn("failed to write cursor sidecar", "err", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.sess = nil
	c.mu.Unlock()

	result := StopResult{Path: outputPath, Duration: duration, Size: size}
	c.bus.Publish(events.RecordingStopped{Path: result.Path, Duration: result.Duration, Size: result.Size, Format: format})
	return result, finErr
}

// convertToGIF hands videoPath to the external ffmpeg transcoder. On
// success it removes the original MP4 and returns the GIF path; on
// failure it logs a warning and returns videoPath unchanged, so the
// recording is never lost to a transcode error.
func convertToGIF(ctx context.Context, logger *slog.Logger, videoPath string) string {
	gifPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".gif"
	if err := transcode.ToGIF(ctx, videoPath, gifPath); err != nil {
		logger.Warn("gif conversion failed, keeping the recorded video", "err", err)
		return videoPath
	}
	if err := os.Remove(videoPath); err != nil {
		logger.Warn("failed to remove source video after gif conversion", "err", err)
	}
	return gifPath
}

func (c *Coordinator) synthesizePath() string {
	name := fmt.Sprintf("Zureshot %s.mp4", time.Now().Format("2006-01-02 15.04.05"))
	return filepath.Join(c.downloadsDir, name)
}

func ownWindowIDs(windows []capture.WindowInfo) []capture.WindowID {
	pid := os.Getpid()
	var ids []capture.WindowID
	for _, w := range windows {
		if w.PID == pid {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// physicalDims computes output dimensions = region (or full display) ×
// scale, rounded up to even dimensions (most encoders require even width
// and height for 4:2:0 chroma subsampling).
func physicalDims(region *geom.Rect, display capture.DisplayInfo, destW, destH int) (int, int) {
	if destW > 0 && destH > 0 {
		return sample.EvenDim(destW), sample.EvenDim(destH)
	}
	wPts, hPts := display.WidthPoints, display.HeightPoints
	if region != nil {
		wPts, hPts = region.Size.W, region.Size.H
	}
	scale := display.Scale
	if scale <= 0 {
		scale = 1
	}
	w := sample.EvenDim(int(math.Round(wPts * scale)))
	h := sample.EvenDim(int(math.Round(hPts * scale)))
	return w, h
}

// streamReconfigurer adapts a capture.Stream into zoom.Reconfigurer,
// replaying every other field of the session's original Config alongside
// the zoom-driven source-rect, since capture reconfiguration is replace-all
// rather than a partial patch.
type streamReconfigurer struct {
	stream capture.Stream
	base   capture.Config
}

func (r *streamReconfigurer) Reconfigure(ctx context.Context, rect geom.Rect) error {
	cfg := r.base
	cfg.SourceRect = &rect
	dest := geom.NewRect(0, 0, float64(r.base.Width), float64(r.base.Height))
	cfg.DestRect = &dest
	cfg.ScalesToFit = true
	return r.stream.UpdateConfig(ctx, cfg)
}
