// SPDX-License-Identifier: MIT

//go:build linux

package cursor

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/anxiong2025/zureshot/internal/geom"
)

// Linux input_event field codes this reader cares about (linux/input-event-codes.h).
const (
	evKey = 0x01
	evRel = 0x02

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	btnLeft  = 0x110
	btnRight = 0x111

	keyDown = 1
	keyUp   = 0
)

// rawInputEvent mirrors struct input_event on a 64-bit Linux kernel: two
// 8-byte timeval fields followed by type/code/value. No cgo: plain
// encoding/binary decoding of the fixed-size record the kernel writes to
// /dev/input/eventN.
type rawInputEvent struct {
	Sec, Usec int64
	Type      uint16
	Code      uint16
	Value     int32
}

const rawInputEventSize = 24

// EvdevPointer is both a PositionSource and a HookSource backed by one
// evdev device: relative motion accumulates into a clamped position;
// button/wheel activity is reported through the HookSource callback. Using
// one fd for both avoids a second open() racing against the same device
// node, while still presenting Tracker's two-thread split cleanly
// (Tracker's poll thread samples Position(); Tracker's hook thread owns
// Run()).
type EvdevPointer struct {
	devicePath string
	bounds     geom.Rect

	mu   chan struct{} // binary semaphore, cheaper than sync.Mutex for this hot path
	x, y float64
}

// NewEvdevPointer opens no file descriptor yet; devicePath is resolved via
// udev.ResolvePointerDevice by the caller. bounds clamps accumulated
// relative motion into the capture region's coordinate space.
func NewEvdevPointer(devicePath string, bounds geom.Rect) *EvdevPointer {
	return &EvdevPointer{
		devicePath: devicePath,
		bounds:     bounds,
		mu:         make(chan struct{}, 1),
		x:          bounds.CenterX(),
		y:          bounds.CenterY(),
	}
}

func (p *EvdevPointer) lock()   { p.mu <- struct{}{} }
func (p *EvdevPointer) unlock() { <-p.mu }

// Position implements PositionSource.
func (p *EvdevPointer) Position() (geom.Point, error) {
	p.lock()
	pt := geom.Point{X: p.x, Y: p.y}
	p.unlock()
	return pt, nil
}

func (p *EvdevPointer) applyMotion(dx, dy float64) {
	p.lock()
	p.x = geom.Clamp(p.x+dx, p.bounds.MinX(), p.bounds.MaxX())
	p.y = geom.Clamp(p.y+dy, p.bounds.MinY(), p.bounds.MaxY())
	p.unlock()
}

// Run implements HookSource: reads raw input_event records until ctx is
// cancelled, feeding REL motion into the shared position and KEY/wheel
// activity into onEvent.
func (p *EvdevPointer) Run(ctx context.Context, onEvent func(EventKind)) error {
	fd, err := unix.Open(p.devicePath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.devicePath, err)
	}
	defer unix.Close(fd)

	go func() {
		<-ctx.Done()
		// Unblock the read loop below; closing here is safe because the
		// loop only touches fd through unix.Read.
		unix.Close(fd)
	}()

	buf := make([]byte, rawInputEventSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", p.devicePath, err)
		}
		if n < rawInputEventSize {
			continue
		}

		ev := decodeRawInputEvent(buf)
		switch ev.Type {
		case evRel:
			switch ev.Code {
			case relX:
				p.applyMotion(float64(ev.Value), 0)
			case relY:
				p.applyMotion(0, float64(ev.Value))
			case relWheel:
				onEvent(KindScroll)
			}
		case evKey:
			switch ev.Code {
			case btnLeft:
				if ev.Value == keyDown {
					onEvent(KindLeftDown)
				} else if ev.Value == keyUp {
					onEvent(KindLeftUp)
				}
			case btnRight:
				if ev.Value == keyDown {
					onEvent(KindRightDown)
				} else if ev.Value == keyUp {
					onEvent(KindRightUp)
				}
			}
		}
	}
}

func decodeRawInputEvent(buf []byte) rawInputEvent {
	return rawInputEvent{
		Sec:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Usec:  int64(binary.LittleEndian.Uint64(buf[8:16])),
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}
