// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/anxiong2025/zureshot/internal/config"
	"github.com/anxiong2025/zureshot/internal/coordinator"
	"github.com/anxiong2025/zureshot/internal/events"
)

// withDaemon points the CLI's config-derived daemonAddr() at a local
// httptest.Server by writing a config.yaml under a scratch XDG_CONFIG_HOME,
// mirroring how cmd/zureshotd and cmd/zureshot agree on an address in
// production.
func withDaemon(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Health.Addr = u.Host
	if err := cfg.Save(config.DefaultConfigPath()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return srv
}

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("10,20,300,400")
	if err != nil {
		t.Fatalf("parseRegion: %v", err)
	}
	if r.Origin.X != 10 || r.Origin.Y != 20 || r.Size.W != 300 || r.Size.H != 400 {
		t.Fatalf("unexpected rect: %+v", r)
	}
}

func TestParseRegionRejectsWrongArity(t *testing.T) {
	if _, err := parseRegion("1,2,3"); err == nil {
		t.Fatal("expected an error for a 3-field region")
	}
}

func TestParseRegionRejectsNonNumeric(t *testing.T) {
	if _, err := parseRegion("a,b,c,d"); err == nil {
		t.Fatal("expected an error for non-numeric fields")
	}
}

func TestDaemonAddrFallsBackWhenUnconfigured(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if got := daemonAddr(); got != "127.0.0.1:9998" {
		t.Fatalf("daemonAddr() = %q, want the built-in default", got)
	}
}

func TestDaemonAddrReadsConfiguredValue(t *testing.T) {
	srv := withDaemon(t, http.NewServeMux())
	u, _ := url.Parse(srv.URL)
	if got := daemonAddr(); got != u.Host {
		t.Fatalf("daemonAddr() = %q, want %q", got, u.Host)
	}
}

func TestRunControlNoBodySucceeds(t *testing.T) {
	var hit string
	mux := http.NewServeMux()
	mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	withDaemon(t, mux)

	if err := runControlNoBody("/control/pause"); err != nil {
		t.Fatalf("runControlNoBody: %v", err)
	}
	if hit != "/control/pause" {
		t.Fatalf("handler hit %q, want /control/pause", hit)
	}
}

func TestRunControlNoBodyPropagatesDaemonError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/stop", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not recording", http.StatusConflict)
	})
	withDaemon(t, mux)

	if err := runControlNoBody("/control/stop"); err == nil {
		t.Fatal("expected an error when the daemon reports a conflict")
	}
}

func TestRunStatusIdle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(events.Status{Recording: false})
	})
	withDaemon(t, mux)

	if err := runStatus(nil); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
}

func TestRunStatusUnreachableDoesNotError(t *testing.T) {
	// No server set up: config points at an address nothing listens on.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Health.Addr = "127.0.0.1:1" // reserved, nothing should be listening
	if err := cfg.Save(config.DefaultConfigPath()); err != nil {
		t.Fatalf("save config: %v", err)
	}

	if err := runStatus(nil); err != nil {
		t.Fatalf("runStatus should report unreachable rather than error: %v", err)
	}
}

func TestRunStartPostsStartConfig(t *testing.T) {
	var decoded coordinator.StartConfig
	mux := http.NewServeMux()
	mux.HandleFunc("/control/start", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&decoded); err != nil {
			t.Errorf("decode start body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	})
	withDaemon(t, mux)

	if err := runStart([]string{"--system-audio", "--zoom", "--quality=high"}); err != nil {
		t.Fatalf("runStart: %v", err)
	}
	if !decoded.SystemAudio || !decoded.Zoom {
		t.Fatalf("unexpected decoded config: %+v", decoded)
	}
}

func TestRunGIFFailsGracefullyWithoutFFmpeg(t *testing.T) {
	// This environment may or may not have ffmpeg installed; either way
	// runGIF must not panic and must report a clear error on failure.
	dir := t.TempDir()
	missing := dir + "/does-not-exist.mp4"
	if err := runGIF([]string{missing}); err == nil {
		t.Fatal("expected an error converting a nonexistent input file")
	}
}

func TestRunGIFRequiresInputArgument(t *testing.T) {
	if err := runGIF(nil); err == nil {
		t.Fatal("expected usage error with no arguments")
	}
}
