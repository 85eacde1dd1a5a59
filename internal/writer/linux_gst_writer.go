// SPDX-License-Identifier: MIT

//go:build linux

package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/anxiong2025/zureshot/internal/sample"
	"github.com/anxiong2025/zureshot/internal/util"
	"github.com/anxiong2025/zureshot/internal/zerr"
)

var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() { gst.Init(nil) })
}

// encoderChoice names the fallback priority order: hardware HEVC, hardware
// H.264, software H.264. VA-API element names are tried first; absence of
// the plugin (not installed, or no supported hardware) falls through to
// the next candidate.
type encoderChoice struct {
	videoFactory string
	parseFactory string
	isHEVC       bool
}

var encoderPriority = []encoderChoice{
	{"vah265enc", "h265parse", true},
	{"x265enc", "h265parse", true},
	{"vah264enc", "h264parse", false},
	{"x264enc", "h264parse", false},
}

func pickEncoder() encoderChoice {
	for _, c := range encoderPriority {
		if gst.FindElementFactory(c.videoFactory) != nil {
			return c
		}
	}
	// Software H.264 ships with every distribution's gst-plugins-ugly/bad;
	// used as the unconditional last resort.
	return encoderChoice{"x264enc", "h264parse", false}
}

// linuxMuxer implements Muxer using an in-process GStreamer mp4mux pipeline
// driven by appsrc elements, one per track. Grounded on the appsrc
// push-buffer pattern of the pack's mic playback streamer, generalized from
// audio-only playback to a record-to-file video+audio muxing pipeline.
type linuxMuxer struct {
	logger *slog.Logger
}

// NewLinuxMuxer returns the Muxer used by cmd/zureshotd on Linux.
func NewLinuxMuxer(logger *slog.Logger) Muxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &linuxMuxer{logger: logger.With("component", "writer.linux")}
}

func (m *linuxMuxer) CreateWriter(ctx context.Context, path string, width, height int, quality Quality) (Writer, VideoInput, error) {
	initGStreamer()
	if width%2 != 0 || height%2 != 0 {
		return nil, nil, zerr.New(zerr.KindWriterFailed, "writer dimensions must be even")
	}

	enc := pickEncoder()
	bitrate := ScaledBitrateKbps(quality, int64(width)*int64(height), enc.isHEVC)

	pipelineStr := fmt.Sprintf(
		"appsrc name=videosrc format=time is-live=true block=false ! "+
			"video/x-raw,width=%d,height=%d,format=NV12 ! queue max-size-buffers=8 ! "+
			"%s bitrate=%d key-int-max=%d ! %s ! "+
			"mp4mux name=mux ! filesink location=%q",
		width, height, enc.videoFactory, bitrate, keyframeIntervalFrames(quality), enc.parseFactory, path)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, nil, zerr.Wrap(zerr.KindWriterFailed, "parse writer pipeline", err)
	}

	srcElem, err := pipeline.GetElementByName("videosrc")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, zerr.Wrap(zerr.KindWriterFailed, "videosrc element missing", err)
	}
	videoSrc := app.SrcFromElement(srcElem)
	videoSrc.SetProperty("format", gst.FormatTime)

	w := &gstWriter{
		logger:   m.logger,
		pipeline: pipeline,
		path:     path,
		doneCh:   make(chan struct{}),
	}

	vi := &gstVideoInput{src: videoSrc, w: w}
	videoSrc.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc:   func(*app.Source, uint) { vi.ready.Store(true) },
		EnoughDataFunc: func(*app.Source) { vi.ready.Store(false) },
	})
	w.videoInput = vi

	// Construct at PAUSED, not yet writing: StartWriting transitions to
	// PLAYING once the caller is ready to begin appending samples.
	if err := pipeline.SetState(gst.StatePaused); err != nil {
		return nil, nil, zerr.Wrap(zerr.KindWriterFailed, "preroll writer pipeline", err)
	}

	return w, vi, nil
}

func keyframeIntervalFrames(quality Quality) int {
	// 4-second max keyframe interval by duration; encoder elements take a
	// frame-count key-int-max, so this assumes a nominal 30fps capture and
	// is conservative for slower rates (more frequent keyframes, never
	// fewer).
	const fps = 30
	return 4 * fps
}

func (m *linuxMuxer) CreateAudioInput(label string) (AudioInput, error) {
	initGStreamer()
	name := "audiosrc_" + label

	elems := make(map[string]*gst.Element, 4)
	factories := []struct{ factory, name string }{
		{"appsrc", name},
		{"audioconvert", name + "_conv"},
		{"avenc_aac", name + "_enc"},
		{"aacparse", name + "_parse"},
	}
	for _, f := range factories {
		elem, err := gst.NewElementWithName(f.factory, f.name)
		if err != nil {
			return nil, zerr.Wrapf(zerr.KindWriterFailed, err, "create %s element for audio input %s", f.factory, label)
		}
		elems[f.factory] = elem
	}
	elems["avenc_aac"].SetProperty("bitrate", 128000)

	appsrc := app.SrcFromElement(elems["appsrc"])
	appsrc.SetProperty("format", gst.FormatTime)
	appsrc.SetProperty("is-live", true)
	caps := gst.NewCapsFromString("audio/x-raw,format=S16LE,rate=48000,channels=2,layout=interleaved")
	appsrc.SetProperty("caps", caps)

	ai := &gstAudioInput{
		label:     label,
		src:       appsrc,
		chain:     []*gst.Element{elems["appsrc"], elems["audioconvert"], elems["avenc_aac"], elems["aacparse"]},
	}
	appsrc.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc:   func(*app.Source, uint) { ai.ready.Store(true) },
		EnoughDataFunc: func(*app.Source) { ai.ready.Store(false) },
	})
	return ai, nil
}

// gstWriter is the Writer implementation wrapping one gst.Pipeline.
type gstWriter struct {
	logger *slog.Logger
	mu     sync.Mutex

	pipeline    *gst.Pipeline
	path        string
	videoInput  *gstVideoInput
	audioInputs []*gstAudioInput

	started  bool
	failed   atomic.Bool
	doneCh   chan struct{}
	eosOnce  sync.Once

	// sessionOnce/origin anchor every input's relative timestamp to the
	// PTS of whichever input (video, system audio, or mic) the router
	// appends first; shared across gstVideoInput/gstAudioInput so an
	// audio-first session doesn't compute timestamps off its own origin.
	sessionOnce sync.Once
	origin      sample.PTS
}

// startSession records origin the first time it's called for this writer
// and is a no-op on every subsequent call, from any input.
func (w *gstWriter) startSession(pts sample.PTS) {
	w.sessionOnce.Do(func() { w.origin = pts })
}

// AddInput attaches input to the mp4mux before StartWriting. Audio inputs
// are plugged into a dynamic mp4mux "audio_%u" request pad; if linking
// fails the caller is expected to log and continue without that track
// rather than aborting the recording.
func (w *gstWriter) AddInput(input Input) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return zerr.New(zerr.KindWriterFailed, "cannot add input after StartWriting")
	}

	ai, ok := input.(*gstAudioInput)
	if !ok {
		// The video input is already wired into the pipeline string built
		// by CreateWriter; nothing further to attach.
		return nil
	}
	ai.w = w

	muxElem, err := w.pipeline.GetElementByName("mux")
	if err != nil {
		return zerr.Wrap(zerr.KindWriterFailed, "mux element missing", err)
	}

	for _, e := range ai.chain {
		if err := w.pipeline.Add(e); err != nil {
			return zerr.Wrapf(zerr.KindWriterFailed, err, "add audio element to pipeline for %s", ai.label)
		}
	}
	for i := 0; i < len(ai.chain)-1; i++ {
		if err := ai.chain[i].Link(ai.chain[i+1]); err != nil {
			return zerr.Wrapf(zerr.KindWriterFailed, err, "link audio chain for %s", ai.label)
		}
	}
	last := ai.chain[len(ai.chain)-1]
	if err := last.Link(muxElem); err != nil {
		return zerr.Wrapf(zerr.KindWriterFailed, err, "link audio track %s into mux", ai.label)
	}
	for _, e := range ai.chain {
		e.SyncStateWithParent()
	}

	w.audioInputs = append(w.audioInputs, ai)
	return nil
}

func (w *gstWriter) StartWriting(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.pipeline.SetState(gst.StatePlaying); err != nil {
		return zerr.Wrap(zerr.KindWriterFailed, "start writer pipeline", err)
	}
	w.started = true
	util.SafeGo("gst-writer-bus-watch", w.logger, w.watchBus, nil)
	return nil
}

func (w *gstWriter) watchBus() {
	bus := w.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for {
		msg := bus.TimedPop(gst.ClockTime(200 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			w.eosOnce.Do(func() { close(w.doneCh) })
			return
		case gst.MessageError:
			w.failed.Store(true)
			if gerr := msg.ParseError(); gerr != nil {
				w.logger.Error("writer pipeline entered failed state",
					"path", w.path, "err", gerr.Error())
			}
			w.eosOnce.Do(func() { close(w.doneCh) })
			return
		}
	}
}

func (w *gstWriter) Failed() bool {
	return w.failed.Load()
}

// Finalize sends end-of-stream on every input and waits for completion
// with a hybrid strategy: block on the EOS signal, but poll pipeline state
// every 500ms as a fallback, bounded by a 15s deadline.
func (w *gstWriter) Finalize(ctx context.Context) (FinalizeResult, error) {
	w.mu.Lock()
	vi := w.videoInput
	audios := append([]*gstAudioInput(nil), w.audioInputs...)
	w.mu.Unlock()

	if vi != nil {
		vi.src.EndStream()
	}
	for _, ai := range audios {
		ai.src.EndStream()
	}

	deadline := time.NewTimer(15 * time.Second)
	defer deadline.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	completed := false
loop:
	for {
		select {
		case <-w.doneCh:
			completed = !w.failed.Load()
			break loop
		case <-poll.C:
			_, cur, _ := w.pipeline.GetState(gst.ClockTime(0))
			if cur != gst.StatePlaying {
				completed = !w.failed.Load()
				break loop
			}
		case <-deadline.C:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	w.pipeline.SetState(gst.StateNull)

	result := FinalizeResult{Completed: completed, Path: w.path}
	if !completed {
		return result, zerr.New(zerr.KindFinalizeTimeout, "writer did not reach completed state before deadline")
	}
	return result, nil
}

// gstVideoInput is the VideoInput implementation backing the appsrc the
// pipeline string names "videosrc".
type gstVideoInput struct {
	src   *app.Source
	w     *gstWriter
	ready atomic.Bool
}

func (v *gstVideoInput) ReadyForMoreData() bool { return v.ready.Load() }

// StartSession delegates to the writer's shared origin so it agrees with
// whatever audio input may have started the session first.
func (v *gstVideoInput) StartSession(pts sample.PTS) error {
	v.w.startSession(pts)
	return nil
}

func (v *gstVideoInput) Append(buf sample.Buffer) error {
	if v.w.Failed() {
		return zerr.New(zerr.KindWriterFailed, "writer already in failed state")
	}
	gbuf := gst.NewBufferFromBytes(buf.Data)
	gbuf.SetPresentationTimestamp(gst.ClockTime(relativeNanos(v.w.origin, buf.PTS)))
	if ret := v.src.PushBuffer(gbuf); ret != gst.FlowOK {
		return zerr.New(zerr.KindWriterFailed, "appsrc push-buffer failed for video input")
	}
	return nil
}

// gstAudioInput is the AudioInput implementation; its GStreamer elements
// are floating until gstWriter.AddInput wires them into the pipeline (and
// sets w, giving it access to the writer's shared session origin).
type gstAudioInput struct {
	label string
	src   *app.Source
	chain []*gst.Element
	ready atomic.Bool
	w     *gstWriter
}

func (a *gstAudioInput) ReadyForMoreData() bool { return a.ready.Load() }
func (a *gstAudioInput) Label() string          { return a.label }

// StartSession delegates to the writer's shared origin so an audio-first
// session anchors video's relative timestamps too.
func (a *gstAudioInput) StartSession(pts sample.PTS) error {
	a.w.startSession(pts)
	return nil
}

func (a *gstAudioInput) Append(buf sample.Buffer) error {
	gbuf := gst.NewBufferFromBytes(buf.Data)
	gbuf.SetPresentationTimestamp(gst.ClockTime(relativeNanos(a.w.origin, buf.PTS)))
	if ret := a.src.PushBuffer(gbuf); ret != gst.FlowOK {
		return zerr.New(zerr.KindWriterFailed, "appsrc push-buffer failed for audio input "+a.label)
	}
	return nil
}

func relativeNanos(origin, pts sample.PTS) int64 {
	if origin.Timescale == 0 {
		return 0
	}
	offsetSeconds := pts.Seconds() - origin.Seconds()
	if offsetSeconds < 0 {
		return 0
	}
	return int64(offsetSeconds * float64(time.Second))
}
