// SPDX-License-Identifier: MIT

//go:build linux

package capture

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/anxiong2025/zureshot/internal/zerr"
)

// newPortalToken returns a handle/session token unique enough to avoid
// colliding with another portal request in flight. D-Bus object path
// segments only allow [A-Za-z0-9_], so the UUID's hyphens are stripped.
func newPortalToken(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// XDG Desktop Portal D-Bus surface (org.freedesktop.portal.ScreenCast), the
// permissioned path open() uses on every Wayland compositor. Grounded on the
// portal negotiation sequence: CreateSession, SelectSources, Start,
// OpenPipeWireRemote.
const (
	portalBus   = "org.freedesktop.portal.Desktop"
	portalPath  = "/org/freedesktop/portal/desktop"
	portalCast  = "org.freedesktop.portal.ScreenCast"
	portalReq   = "org.freedesktop.portal.Request"

	portalSourceMonitor = uint32(1)
	portalCursorHidden  = uint32(1)

	portalResponseTimeout = 30 * time.Second
)

// portalSession holds the live handles negotiated with xdg-desktop-portal
// for one recording session's lifetime.
type portalSession struct {
	conn         *dbus.Conn
	sessionPath  dbus.ObjectPath
	nodeID       uint32
	pipeWireFd   int
}

// openPortalSession walks the full CreateSession/SelectSources/Start/
// OpenPipeWireRemote sequence and returns a ready-to-consume PipeWire node.
// Any failure here is zerr.KindPermissionDenied (user declined the portal
// picker) or zerr.KindUnavailable (no portal backend running).
func openPortalSession(ctx context.Context) (*portalSession, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, zerr.Wrap(zerr.KindUnavailable, "connect session bus", err)
	}

	portalObj := conn.Object(portalBus, portalPath)
	if err := portalObj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Err; err != nil {
		conn.Close()
		return nil, zerr.Wrap(zerr.KindUnavailable, "no portal backend registered", err)
	}

	ps := &portalSession{conn: conn}

	sessionHandle, err := ps.createSession(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ps.sessionPath = dbus.ObjectPath(sessionHandle)

	if err := ps.selectSources(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if err := ps.start(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if err := ps.openPipeWireRemote(); err != nil {
		// Zerocopy via the explicit remote FD is an optimization: some
		// compositors hand PipeWire access without it.
		ps.pipeWireFd = -1
	}

	return ps, nil
}

func senderRequestPath(conn *dbus.Conn, requestToken string) dbus.ObjectPath {
	sender := conn.Names()[0]
	path := ""
	for _, c := range sender[1:] { // strip leading ":"
		if c == '.' {
			path += "_"
		} else {
			path += string(c)
		}
	}
	return dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s/%s", path, requestToken))
}

func (ps *portalSession) subscribeResponse(requestPath dbus.ObjectPath) (chan *dbus.Signal, error) {
	if err := ps.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(requestPath),
		dbus.WithMatchInterface(portalReq),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, fmt.Errorf("add signal match: %w", err)
	}
	ch := make(chan *dbus.Signal, 4)
	ps.conn.Signal(ch)
	return ch, nil
}

func (ps *portalSession) createSession(ctx context.Context) (string, error) {
	requestToken := newPortalToken("zureshot_req")
	sessionToken := newPortalToken("zureshot_sess")
	requestPath := senderRequestPath(ps.conn, requestToken)

	sig, err := ps.subscribeResponse(requestPath)
	if err != nil {
		return "", zerr.Wrap(zerr.KindUnavailable, "subscribe CreateSession response", err)
	}
	defer ps.conn.RemoveSignal(sig)

	portalObj := ps.conn.Object(portalBus, portalPath)
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(requestToken),
		"session_handle_token": dbus.MakeVariant(sessionToken),
	}
	var returned dbus.ObjectPath
	if err := portalObj.Call(portalCast+".CreateSession", 0, options).Store(&returned); err != nil {
		return "", zerr.Wrap(zerr.KindUnavailable, "CreateSession call", err)
	}

	handle, err := waitPortalString(ctx, sig, "session_handle")
	if err != nil {
		return "", zerr.Wrap(zerr.KindPermissionDenied, "CreateSession response", err)
	}
	return handle, nil
}

func (ps *portalSession) selectSources(ctx context.Context) error {
	requestToken := newPortalToken("zureshot_req")
	requestPath := senderRequestPath(ps.conn, requestToken)

	sig, err := ps.subscribeResponse(requestPath)
	if err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "subscribe SelectSources response", err)
	}
	defer ps.conn.RemoveSignal(sig)

	portalObj := ps.conn.Object(portalBus, portalPath)
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(requestToken),
		"types":        dbus.MakeVariant(portalSourceMonitor),
		"cursor_mode":  dbus.MakeVariant(portalCursorHidden),
		"persist_mode": dbus.MakeVariant(uint32(0)),
	}
	var returned dbus.ObjectPath
	if err := portalObj.Call(portalCast+".SelectSources", 0, ps.sessionPath, options).Store(&returned); err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "SelectSources call", err)
	}

	if _, err := waitPortalString(ctx, sig, ""); err != nil {
		return zerr.Wrap(zerr.KindPermissionDenied, "SelectSources response", err)
	}
	return nil
}

func (ps *portalSession) start(ctx context.Context) error {
	requestToken := newPortalToken("zureshot_req")
	requestPath := senderRequestPath(ps.conn, requestToken)

	sig, err := ps.subscribeResponse(requestPath)
	if err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "subscribe Start response", err)
	}
	defer ps.conn.RemoveSignal(sig)

	portalObj := ps.conn.Object(portalBus, portalPath)
	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(requestToken)}
	var returned dbus.ObjectPath
	if err := portalObj.Call(portalCast+".Start", 0, ps.sessionPath, "", options).Store(&returned); err != nil {
		return zerr.Wrap(zerr.KindUnavailable, "Start call", err)
	}

	streams, err := waitPortalStreams(ctx, sig)
	if err != nil {
		return zerr.Wrap(zerr.KindPermissionDenied, "Start response", err)
	}
	if len(streams) == 0 {
		return zerr.New(zerr.KindUnavailable, "portal returned no streams")
	}
	nodeID, ok := streams[0].(uint32)
	if !ok {
		if pair, ok := streams[0].([]interface{}); ok && len(pair) > 0 {
			nodeID, _ = pair[0].(uint32)
		}
	}
	if nodeID == 0 {
		return zerr.New(zerr.KindUnavailable, "could not extract PipeWire node id from portal response")
	}
	ps.nodeID = nodeID
	return nil
}

func (ps *portalSession) openPipeWireRemote() error {
	portalObj := ps.conn.Object(portalBus, portalPath)
	var fd dbus.UnixFD
	if err := portalObj.Call(portalCast+".OpenPipeWireRemote", 0, ps.sessionPath, map[string]dbus.Variant{}).Store(&fd); err != nil {
		return fmt.Errorf("OpenPipeWireRemote: %w", err)
	}
	// Dup so the descriptor survives the dbus library closing its own copy.
	dup, err := syscall.Dup(int(fd))
	if err != nil {
		ps.pipeWireFd = int(fd)
		return nil
	}
	ps.pipeWireFd = dup
	return nil
}

func (ps *portalSession) close() {
	if ps.pipeWireFd > 0 {
		_ = os.NewFile(uintptr(ps.pipeWireFd), "pipewire-remote").Close()
	}
	if ps.conn != nil {
		ps.conn.Close()
	}
}

// ScreenCastHandle is the subset of a negotiated portal session a caller
// outside this package needs to build its own PipeWire-consuming pipeline
// (internal/screenshot's one-shot still capture, in particular). It exists
// so the CreateSession/SelectSources/Start/OpenPipeWireRemote dance is
// implemented exactly once in this module.
type ScreenCastHandle struct {
	NodeID     uint32
	PipeWireFD int
	Close      func()
}

// OpenScreenCastSession negotiates a fresh xdg-desktop-portal ScreenCast
// session and returns the PipeWire node a GStreamer pipeline can consume.
// Every call re-runs the full picker flow: the portal protocol has no
// "reuse the last grant silently" mode without a persisted restore token,
// and a one-shot screenshot is too infrequent to justify managing one.
func OpenScreenCastSession(ctx context.Context) (ScreenCastHandle, error) {
	initGStreamer()
	ps, err := openPortalSession(ctx)
	if err != nil {
		return ScreenCastHandle{}, err
	}
	return ScreenCastHandle{NodeID: ps.nodeID, PipeWireFD: ps.pipeWireFd, Close: ps.close}, nil
}

func waitPortalString(ctx context.Context, sig chan *dbus.Signal, key string) (string, error) {
	timeout := time.After(portalResponseTimeout)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case s := <-sig:
			if s.Name != portalReq+".Response" || len(s.Body) < 2 {
				continue
			}
			code, ok := s.Body[0].(uint32)
			if !ok {
				continue
			}
			if code != 0 {
				return "", fmt.Errorf("portal request denied (code %d)", code)
			}
			if key == "" {
				return "", nil
			}
			results, ok := s.Body[1].(map[string]dbus.Variant)
			if !ok {
				return "", nil
			}
			if v, ok := results[key]; ok {
				if str, ok := v.Value().(string); ok {
					return str, nil
				}
			}
			return "", nil
		case <-timeout:
			return "", fmt.Errorf("timed out waiting for portal response")
		}
	}
}

func waitPortalStreams(ctx context.Context, sig chan *dbus.Signal) ([]interface{}, error) {
	timeout := time.After(portalResponseTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case s := <-sig:
			if s.Name != portalReq+".Response" || len(s.Body) < 2 {
				continue
			}
			code, ok := s.Body[0].(uint32)
			if !ok {
				continue
			}
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			results, ok := s.Body[1].(map[string]dbus.Variant)
			if !ok {
				return nil, fmt.Errorf("malformed portal response")
			}
			streams, ok := results["streams"]
			if !ok {
				return nil, fmt.Errorf("portal response missing streams")
			}
			if arr, ok := streams.Value().([][]interface{}); ok && len(arr) > 0 {
				return arr[0], nil
			}
			if arr, ok := streams.Value().([]interface{}); ok {
				return arr, nil
			}
			return nil, fmt.Errorf("unrecognized streams encoding")
		case <-timeout:
			return nil, fmt.Errorf("timed out waiting for portal streams")
		}
	}
}
