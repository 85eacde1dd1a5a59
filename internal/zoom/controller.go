// SPDX-License-Identifier: MIT

package zoom

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/anxiong2025/zureshot/internal/geom"
	"github.com/anxiong2025/zureshot/internal/util"
)

// Config holds the zoom controller's tunable spring/delay parameters.
type Config struct {
	MaxZoom       float64
	PanOmega      float64
	PanZeta       float64
	ZoomOmega     float64
	ZoomZeta      float64
	IdleDelay     time.Duration
	MoveDelay     time.Duration
	MoveThreshold float64
	UpdateRate    float64 // Hz
}

// DefaultConfig returns the zoom controller's built-in default tuning.
func DefaultConfig() Config {
	return Config{
		MaxZoom:       2.0,
		PanOmega:      4.0,
		PanZeta:       0.85,
		ZoomOmega:     2.5,
		ZoomZeta:      1.0,
		IdleDelay:     1 * time.Second,
		MoveDelay:     400 * time.Millisecond,
		MoveThreshold: 3.0,
		UpdateRate:    60,
	}
}

const (
	substeps            = 4
	zoomDeadband        = 0.005
	zoomVelDeadband     = 0.01
	panVelDeadband      = 0.1
	idleResetThreshold  = 150 * time.Millisecond
	zoomedThreshold     = 1.05
	zoomedMoveThreshold = 0.5
	hardMarginFrac      = 0.10
)

// CursorSource supplies the live cursor position, in logical points
// relative to the captured region's coordinate space.
type CursorSource interface {
	Position() geom.Point
}

// Reconfigurer is the subset of the capture source the zoom controller
// drives: a full replace-all configuration push, never an incremental
// patch of just the source-rect.
type Reconfigurer interface {
	// Reconfigure pushes a new source-rect (and re-specified audio/mic
	// toggles, handled by the caller building the full config) to the
	// capture source. A failure here only warns and continues with the
	// previous configuration (zerr.KindReconfigureFailed) rather than
	// aborting the recording.
	Reconfigure(ctx context.Context, rect geom.Rect) error
}

// Controller runs the 60Hz zoom loop for the lifetime of a recording
// session with zoom enabled.
type Controller struct {
	cfg    Config
	cursor CursorSource
	target Reconfigurer
	region geom.Rect
	logger *slog.Logger

	mu       sync.Mutex
	zoomSpr  *Spring
	panX     *Spring
	panY     *Spring
	lastPos  geom.Point
	moveTime time.Duration
	idleTime time.Duration
	haveLast bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller for the given region (the capture source's full
// uncropped rect) driving target via cursor positions read from cursor.
func New(cfg Config, region geom.Rect, cursor CursorSource, target Reconfigurer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		cursor:  cursor,
		target:  target,
		region:  region,
		logger:  logger.With("component", "zoom"),
		zoomSpr: NewSpring(1.0, cfg.ZoomOmega, cfg.ZoomZeta),
		panX:    NewSpring(region.CenterX(), cfg.PanOmega, cfg.PanZeta),
		panY:    NewSpring(region.CenterY(), cfg.PanOmega, cfg.PanZeta),
	}
}

// Start begins the background tick loop. Lifetime = from session start to
// session stop.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	dt := time.Duration(float64(time.Second) / c.cfg.UpdateRate)
	util.SafeGo("zoom-tick", c.logger, func() {
		defer close(c.done)
		ticker := time.NewTicker(dt)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.restoreFullRegion(context.Background())
				return
			case <-ticker.C:
				c.tick(ctx, 1.0/c.cfg.UpdateRate)
			}
		}
	}, nil)
}

// Stop signals the loop to exit and waits for it to finish restoring the
// full-region configuration.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Controller) restoreFullRegion(ctx context.Context) {
	if err := c.target.Reconfigure(ctx, c.region); err != nil {
		c.logger.Warn("reconfigure failed while restoring full region", "err", err)
	}
	time.Sleep(100 * time.Millisecond)
}

// tick runs one iteration of the per-tick zoom/pan update algorithm.
func (c *Controller) tick(ctx context.Context, dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.cursor.Position()

	// Step 2: movement distance, active threshold depends on current zoom.
	threshold := c.cfg.MoveThreshold
	if c.zoomSpr.Pos > zoomedThreshold {
		threshold = zoomedMoveThreshold
	}
	if c.haveLast {
		dist := math.Hypot(pos.X-c.lastPos.X, pos.Y-c.lastPos.Y)
		stepDur := time.Duration(dt * float64(time.Second))
		if dist > c.cfg.MoveThreshold {
			c.moveTime += stepDur
		}
		if dist > threshold {
			c.idleTime = 0
		} else {
			c.idleTime += stepDur
		}
		if c.idleTime > idleResetThreshold {
			c.moveTime = 0
		}
	}
	c.lastPos = pos
	c.haveLast = true

	// Step 3: target zoom.
	targetZoom := 1.0
	if c.moveTime >= c.cfg.MoveDelay && c.idleTime < c.cfg.IdleDelay {
		targetZoom = c.cfg.MaxZoom
	}

	// Step 4: sub-step zoom spring, clamp.
	c.zoomSpr.SubStep(targetZoom, dt, substeps)
	c.zoomSpr.Clamp(1.0, c.cfg.MaxZoom)
	zoomNow := c.zoomSpr.Pos

	// Step 5: viewport size.
	viewW := c.region.Size.W / zoomNow
	viewH := c.region.Size.H / zoomNow

	// Step 6: clamp cursor into region accounting for viewport half-extents.
	halfW, halfH := viewW/2, viewH/2
	clampedCenter := geom.Point{
		X: geom.Clamp(pos.X, c.region.MinX()+halfW, c.region.MaxX()-halfW),
		Y: geom.Clamp(pos.Y, c.region.MinY()+halfH, c.region.MaxY()-halfH),
	}
	if viewW >= c.region.Size.W {
		clampedCenter.X = c.region.CenterX()
	}
	if viewH >= c.region.Size.H {
		clampedCenter.Y = c.region.CenterY()
	}

	// Step 7: two-pass pan policy.
	panTarget := c.computePanTarget(clampedCenter, halfW, halfH, zoomNow, targetZoom > 1.0)

	// Step 8: sub-step pan springs.
	c.panX.SubStep(panTarget.X, dt, substeps)
	c.panY.SubStep(panTarget.Y, dt, substeps)

	// Step 9: final viewport rect, clamped to stay inside the region.
	cx := geom.Clamp(c.panX.Pos, c.region.MinX()+halfW, c.region.MaxX()-halfW)
	cy := geom.Clamp(c.panY.Pos, c.region.MinY()+halfH, c.region.MaxY()-halfH)
	rect := geom.Rect{
		Origin: geom.Point{X: cx - halfW, Y: cy - halfH},
		Size:   geom.Size{W: viewW, H: viewH},
	}

	// Step 10: skip reconfigure if within deadband.
	zoomSettled := math.Abs(zoomNow-1.0) < zoomDeadband
	velSettled := c.zoomSpr.BelowDeadband(zoomVelDeadband) &&
		c.panX.BelowDeadband(panVelDeadband) &&
		c.panY.BelowDeadband(panVelDeadband)
	if zoomSettled && velSettled {
		return
	}

	// Step 11: push the new configuration.
	if err := c.target.Reconfigure(ctx, rect); err != nil {
		c.logger.Warn("zoom reconfigure failed, continuing with previous config", "err", err)
	}
}

// computePanTarget implements the two-pass ease-in-then-clamp pan policy.
// zoomingIn reflects the target zoom level's intent (targetZoom > 1.0), not
// the spring's current progress toward it: while actively zooming in the
// blend ratio is forced to 1.0 so the cursor-follow engages immediately
// rather than easing in alongside the zoom spring, which otherwise lags
// cursor tracking during the transient.
func (c *Controller) computePanTarget(cursor geom.Point, halfW, halfH, zoomNow float64, zoomingIn bool) geom.Point {
	centerNow := geom.Point{X: c.panX.Pos, Y: c.panY.Pos}

	// Pass 1: soft ease-in, cubic on normalized distance.
	soft := geom.Point{
		X: easeInAxis(centerNow.X, cursor.X, halfW),
		Y: easeInAxis(centerNow.Y, cursor.Y, halfH),
	}

	// Pass 2: hard guarantee - clamp so cursor stays within a 90%-of-
	// viewport box (10% margin per edge) centered on soft.
	viewport := geom.Rect{
		Origin: geom.Point{X: soft.X - halfW, Y: soft.Y - halfH},
		Size:   geom.Size{W: halfW * 2, H: halfH * 2},
	}
	inset := viewport.Shrink(hardMarginFrac)
	hard := geom.Point{
		X: geom.Clamp(cursor.X, inset.MinX(), inset.MaxX()),
		Y: geom.Clamp(cursor.Y, inset.MinY(), inset.MaxY()),
	}
	// Re-derive the center such that the cursor sits at `hard` inside the
	// viewport: if the cursor was outside the inset box, recentre the
	// viewport by the amount it was clamped.
	softClamped := geom.Point{
		X: soft.X + (cursor.X - hard.X),
		Y: soft.Y + (cursor.Y - hard.Y),
	}

	if zoomNow <= 1.0+1e-9 && !zoomingIn {
		return c.region.Center()
	}

	ratio := 1.0
	if !zoomingIn {
		ratio = (zoomNow - 1.0) / (c.cfg.MaxZoom - 1.0)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
	}
	regionCenter := c.region.Center()
	return geom.Point{
		X: regionCenter.X + (softClamped.X-regionCenter.X)*ratio,
		Y: regionCenter.Y + (softClamped.Y-regionCenter.Y)*ratio,
	}
}

// easeInAxis computes the cubic ease-in target on one axis: normalized
// distance of the cursor from center, raised to the third power, moved
// proportionally. Small excursions (|n| << 1) cube down toward ~0,
// suppressing jitter; large excursions approach the cursor directly.
func easeInAxis(center, cursor, halfExtent float64) float64 {
	if halfExtent == 0 {
		return center
	}
	n := (cursor - center) / halfExtent
	if n > 1 {
		n = 1
	}
	if n < -1 {
		n = -1
	}
	eased := n * n * n
	return center + eased*halfExtent
}
