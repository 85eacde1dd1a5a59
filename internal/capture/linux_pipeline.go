// SPDX-License-Identifier: MIT

//go:build linux

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
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
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// linuxSource is the Source implementation backed by xdg-desktop-portal and
// an in-process GStreamer pipeline (pipewiresrc ! ... ! appsink). Grounded
// on the portal negotiation and appsink delivery patterns of the pack's
// desktop-capture reference; this package owns the sample.Buffer conversion
// and PTS stamping those references leave as raw gst.Buffer/VideoFrame.
type linuxSource struct {
	logger *slog.Logger
}

// NewLinuxSource returns the Source used by cmd/zureshotd on Linux.
func NewLinuxSource(logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &linuxSource{logger: logger.With("component", "capture.linux")}
}

func (s *linuxSource) Open(ctx context.Context) (DisplayInfo, []WindowInfo, error) {
	initGStreamer()
	ps, err := openPortalSession(ctx)
	if err != nil {
		return DisplayInfo{}, nil, err
	}
	defer ps.close()

	// The portal protocol does not expose logical display size or window
	// topology directly; Wayland compositors do not grant that query
	// outside the picker itself, so callers get scale=1 and an empty
	// window list and rely on SourceRect/DestRect for cropping.
	return DisplayInfo{WidthPoints: 1920, HeightPoints: 1080, Scale: 1.0}, nil, nil
}

func (s *linuxSource) Start(ctx context.Context, cfg Config, hook Hook) (Stream, error) {
	initGStreamer()
	ps, err := openPortalSession(ctx)
	if err != nil {
		return nil, err
	}

	pipelineStr := buildPipelineString(ps, cfg)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		ps.close()
		return nil, zerr.Wrap(zerr.KindUnavailable, "parse gstreamer pipeline", err)
	}

	st := &linuxStream{
		logger:   s.logger,
		ps:       ps,
		pipeline: pipeline,
		hook:     hook,
		cfg:      cfg,
	}
	if err := st.attachSinks(); err != nil {
		pipeline.SetState(gst.StateNull)
		ps.close()
		return nil, err
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		ps.close()
		return nil, zerr.Wrap(zerr.KindUnavailable, "start gstreamer pipeline", err)
	}
	st.running.Store(true)
	util.SafeGo("gst-bus-watch", st.logger, func() { st.watchBus(ctx) }, nil)

	return st, nil
}

// buildPipelineString assembles the gst-launch syntax pipeline. videoconvert
// is intentionally absent: frames are handed from pipewiresrc to the appsink
// in whatever format PipeWire negotiates, avoiding a CPU colorspace
// conversion on every frame. No caps filter is added, so cfg.PixelFormat
// is not applied.
func buildPipelineString(ps *portalSession, cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipewiresrc path=%d", ps.nodeID)
	if ps.pipeWireFd > 0 {
		fmt.Fprintf(&b, " fd=%d", ps.pipeWireFd)
	}
	fmt.Fprintf(&b, " do-timestamp=true ! queue max-size-buffers=%d leaky=downstream ! appsink name=videosink", cfg.effectiveQueueDepth())

	if cfg.SystemAudio {
		b.WriteString(" pipewiresrc path=0 do-timestamp=true ! audioconvert ! audioresample ! ")
		fmt.Fprintf(&b, "audio/x-raw,rate=%d,channels=%d ! queue leaky=downstream ! appsink name=audiosink", cfg.effectiveSampleRate(), cfg.effectiveChannels())
	}
	if cfg.Microphone {
		b.WriteString(" pulsesrc ! audioconvert ! audioresample ! ")
		fmt.Fprintf(&b, "audio/x-raw,rate=%d,channels=%d ! queue leaky=downstream ! appsink name=micsink", cfg.effectiveSampleRate(), cfg.effectiveChannels())
	}
	return b.String()
}

func (cfg Config) effectiveQueueDepth() int {
	if cfg.QueueDepth > 0 {
		return cfg.QueueDepth
	}
	return DefaultQueueDepth
}

func (cfg Config) effectiveSampleRate() int {
	if cfg.SampleRate > 0 {
		return cfg.SampleRate
	}
	return 48000
}

func (cfg Config) effectiveChannels() int {
	if cfg.Channels > 0 {
		return cfg.Channels
	}
	return 2
}

// linuxStream is the Stream handle for one running pipeline.
type linuxStream struct {
	logger   *slog.Logger
	ps       *portalSession
	pipeline *gst.Pipeline
	hook     Hook
	cfg      Config

	running  atomic.Bool
	stopOnce sync.Once
	videoPTS int64
}

func (st *linuxStream) attachSinks() error {
	if elem, err := st.pipeline.GetElementByName("videosink"); err == nil {
		sink := app.SinkFromElement(elem)
		sink.SetProperty("emit-signals", true)
		sink.SetProperty("max-buffers", uint(st.cfg.effectiveQueueDepth()))
		sink.SetProperty("drop", true)
		sink.SetProperty("sync", false)
		sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(s *app.Sink) gst.FlowReturn { return st.onSample(s, sample.KindVideo) },
		})
	} else {
		return zerr.Wrap(zerr.KindUnavailable, "videosink element missing from pipeline", err)
	}

	if elem, err := st.pipeline.GetElementByName("audiosink"); err == nil {
		sink := app.SinkFromElement(elem)
		sink.SetProperty("emit-signals", true)
		sink.SetProperty("sync", false)
		sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(s *app.Sink) gst.FlowReturn { return st.onSample(s, sample.KindAudio) },
		})
	}

	if elem, err := st.pipeline.GetElementByName("micsink"); err == nil {
		sink := app.SinkFromElement(elem)
		sink.SetProperty("emit-signals", true)
		sink.SetProperty("sync", false)
		sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(s *app.Sink) gst.FlowReturn { return st.onSample(s, sample.KindMic) },
		})
	}

	return nil
}

// onSample converts a gst.Sample into a sample.Buffer and hands it to the
// delivery queue. The buffer's own GStreamer clock supplies a monotone PTS;
// timescale is fixed to nanoseconds so router comparisons cross-multiply
// cleanly against any other timescale a future platform backend chooses.
func (st *linuxStream) onSample(sink *app.Sink, kind sample.Kind) gst.FlowReturn {
	if !st.running.Load() {
		return gst.FlowEOS
	}
	smp := sink.PullSample()
	if smp == nil {
		return gst.FlowOK
	}
	buf := smp.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}
	info := buf.Map(gst.MapRead)
	if info == nil {
		return gst.FlowOK
	}
	data := make([]byte, len(info.Bytes()))
	copy(data, info.Bytes())
	buf.Unmap()

	ptsDur := buf.PresentationTimestamp().AsDuration()
	var ns int64
	if ptsDur != nil {
		ns = ptsDur.Nanoseconds()
	}

	st.hook(sample.Buffer{
		Kind:      kind,
		PTS:       sample.PTS{Value: ns, Timescale: int64(time.Second)},
		Valid:     true,
		DataReady: true,
		HasImage:  kind == sample.KindVideo,
		Data:      data,
	})
	return gst.FlowOK
}

func (st *linuxStream) watchBus(ctx context.Context) {
	bus := st.pipeline.GetPipelineBus()
	if bus == nil {
		return
	}
	for st.running.Load() {
		select {
		case <-ctx.Done():
			st.teardown()
			return
		default:
		}
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			st.teardown()
			return
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				st.logger.Error("gstreamer pipeline error", "err", gerr.Error())
			}
			st.teardown()
			return
		case gst.MessageWarning:
			if gwarn := msg.ParseWarning(); gwarn != nil {
				st.logger.Warn("gstreamer pipeline warning", "err", gwarn.Error())
			}
		}
	}
}

func (st *linuxStream) teardown() {
	st.stopOnce.Do(func() {
		st.running.Store(false)
		st.pipeline.SetState(gst.StateNull)
		st.ps.close()
	})
}

// UpdateConfig stores cfg on the stream and logs a requested source-rect at
// debug level, then returns nil. It does not change the running pipeline:
// the pipeline has no crop or scale element, so a new SourceRect, size or
// frame rate is not applied to the frames being captured.
func (st *linuxStream) UpdateConfig(ctx context.Context, cfg Config) error {
	st.cfg = cfg
	if cfg.SourceRect != nil {
		st.logger.Debug("source-rect crop requested", "rect", cfg.SourceRect)
	}
	return nil
}

func (st *linuxStream) Stop(ctx context.Context) error {
	done := make(chan struct{})
	util.SafeGo("gst-teardown", st.logger, func() {
		st.teardown()
		close(done)
	}, nil)
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		st.logger.Warn("capture stream stop timed out, continuing shutdown")
		return nil
	case <-ctx.Done():
		return nil
	}
}
