// SPDX-License-Identifier: MIT

//go:build linux

package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/anxiong2025/zureshot/internal/capture"
	"github.com/anxiong2025/zureshot/internal/zerr"
)

const (
	captureTimeout = 10 * time.Second
	previewQuality = 60
)

// linuxCapturer takes a still PNG by opening its own short-lived
// xdg-desktop-portal ScreenCast session (internal/capture.
// OpenScreenCastSession) and running a one-buffer GStreamer pipeline that
// ends in pngenc, rather than decoding raw video frames itself. This keeps
// the recording pipeline (internal/capture) and the screenshot path
// independent: a screenshot works with no recording in progress, and a
// screenshot failure never touches an active recording session.
type linuxCapturer struct {
	logger *slog.Logger
}

// NewLinuxCapturer returns the Capturer used by cmd/zureshot on Linux.
func NewLinuxCapturer(logger *slog.Logger) Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &linuxCapturer{logger: logger.With("component", "screenshot.linux")}
}

func (c *linuxCapturer) Capture(ctx context.Context, region *Region, outputPath string) (Result, error) {
	handle, err := capture.OpenScreenCastSession(ctx)
	if err != nil {
		return Result{}, err
	}
	defer handle.Close()

	pipeline, err := gst.NewPipelineFromString(buildStillPipeline(handle))
	if err != nil {
		return Result{}, zerr.Wrap(zerr.KindUnavailable, "parse screenshot pipeline", err)
	}
	defer pipeline.SetState(gst.StateNull)

	elem, err := pipeline.GetElementByName("stillsink")
	if err != nil {
		return Result{}, zerr.Wrap(zerr.KindUnavailable, "stillsink element missing from pipeline", err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetProperty("sync", false)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return Result{}, zerr.Wrap(zerr.KindUnavailable, "start screenshot pipeline", err)
	}

	captureCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	full, err := pullOnePNG(captureCtx, sink)
	if err != nil {
		return Result{}, err
	}

	// Cropping happens in Go, not in the pipeline: the portal protocol does
	// not expose the full display's pixel size ahead of time (see
	// internal/capture's DisplayInfo comment), so a videocrop element would
	// need dimensions this process cannot negotiate for without first
	// decoding a frame anyway.
	png, width, height, err := cropAndEncode(full, region)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return Result{}, zerr.Wrap(zerr.KindUnavailable, "create screenshot directory", err)
	}
	if err := os.WriteFile(outputPath, png, 0o644); err != nil {
		return Result{}, zerr.Wrap(zerr.KindUnavailable, "write screenshot file", err)
	}

	preview, err := previewJPEG(png)
	if err != nil {
		c.logger.Warn("could not build screenshot preview thumbnail", "err", err)
	}

	return Result{
		Path:          outputPath,
		Width:         width,
		Height:        height,
		FileSize:      int64(len(png)),
		Base64Preview: preview,
	}, nil
}

// buildStillPipeline assembles a one-buffer gst-launch syntax pipeline.
// num-buffers=1 on pipewiresrc makes the source send EOS right after its
// first buffer, which drains pngenc and appsink and lets pullOnePNG return
// without this package tracking pipeline state itself.
func buildStillPipeline(handle capture.ScreenCastHandle) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "pipewiresrc path=%d num-buffers=1", handle.NodeID)
	if handle.PipeWireFD > 0 {
		fmt.Fprintf(&b, " fd=%d", handle.PipeWireFD)
	}
	b.WriteString(" ! videoconvert ! pngenc ! appsink name=stillsink")
	return b.String()
}

// cropAndEncode decodes the full-frame PNG, crops it to region if given,
// and re-encodes using only image/png — no external image library needed
// for a crop-and-recompress this simple.
func cropAndEncode(fullPNG []byte, region *Region) ([]byte, int, int, error) {
	if region == nil {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(fullPNG))
		if err != nil {
			return nil, 0, 0, zerr.Wrap(zerr.KindUnavailable, "decode screenshot PNG header", err)
		}
		return fullPNG, cfg.Width, cfg.Height, nil
	}

	img, err := decodePNG(fullPNG)
	if err != nil {
		return nil, 0, 0, err
	}
	bounds := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Intersect(img.Bounds())
	if bounds.Empty() {
		return nil, 0, 0, zerr.New(zerr.KindUnavailable, "screenshot region is outside the captured frame")
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, 0, 0, zerr.New(zerr.KindUnavailable, "decoded screenshot image does not support cropping")
	}
	cropped := sub.SubImage(bounds)

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, 0, 0, zerr.Wrap(zerr.KindUnavailable, "encode cropped screenshot PNG", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

func pullOnePNG(ctx context.Context, sink *app.Sink) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sample := sink.PullSample()
		if sample == nil {
			done <- result{err: zerr.New(zerr.KindUnavailable, "screenshot pipeline produced no sample")}
			return
		}
		buf := sample.GetBuffer()
		if buf == nil {
			done <- result{err: zerr.New(zerr.KindUnavailable, "screenshot sample had no buffer")}
			return
		}
		info := buf.Map(gst.MapRead)
		if info == nil {
			done <- result{err: zerr.New(zerr.KindUnavailable, "could not map screenshot buffer")}
			return
		}
		data := make([]byte, len(info.Bytes()))
		copy(data, info.Bytes())
		buf.Unmap()
		done <- result{data: data}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, zerr.Wrap(zerr.KindUnavailable, "screenshot capture timed out", ctx.Err())
	}
}

// previewJPEG converts the captured PNG into a small JPEG thumbnail: decode
// then re-encode at a fixed quality, no resizing.
func previewJPEG(pngData []byte) (string, error) {
	img, err := decodePNG(pngData)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		return "", fmt.Errorf("encode preview JPEG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot PNG: %w", err)
	}
	return img, nil
}
