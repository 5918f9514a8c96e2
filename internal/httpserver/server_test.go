package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/meshrtc/signaling-relay/internal/config"
	"github.com/meshrtc/signaling-relay/internal/signaling"
)

type fakeBackend struct {
	rooms       int
	connections int
	members     map[string][]signaling.RoomUser
}

func (f *fakeBackend) Stats() (int, int) { return f.rooms, f.connections }

func (f *fakeBackend) RoomMembers(roomID string) ([]signaling.RoomUser, bool) {
	users, ok := f.members[roomID]
	return users, ok
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{
		rooms:       1,
		connections: 2,
		members: map[string][]signaling.RoomUser{
			"r1": {{UserID: "u1", ConnectionID: "c1"}},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"}, backend)
	return srv, backend
}

func get(t *testing.T, h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestRoutes_Healthz(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	rec := get(t, srv.Mux(), "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]bool
	decodeJSON(t, rec, &body)
	if !body["ok"] {
		t.Fatalf("body = %v", body)
	}
}

func TestRoutes_ReadyzFollowsLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	if rec := get(t, srv.Mux(), "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before Serve: status = %d, want 503", rec.Code)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	url := fmt.Sprintf("http://%s/readyz", ln.Addr())
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz never turned ready (last err %v)", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRoutes_Version(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	rec := get(t, srv.Mux(), "/version", nil)
	var body BuildInfo
	decodeJSON(t, rec, &body)
	if body.Commit != "abc123" || body.BuildTime == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRoutes_Stats(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	rec := get(t, srv.Mux(), "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Rooms       int `json:"rooms"`
		Connections int `json:"connections"`
	}
	decodeJSON(t, rec, &body)
	if body.Rooms != 1 || body.Connections != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestRoutes_RoomMembers(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	rec := get(t, srv.Mux(), "/rooms/r1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		RoomID    string               `json:"roomId"`
		Users     []signaling.RoomUser `json:"users"`
		UserCount int                  `json:"userCount"`
	}
	decodeJSON(t, rec, &body)
	if body.RoomID != "r1" || body.UserCount != 1 || body.Users[0].UserID != "u1" {
		t.Fatalf("body = %+v", body)
	}

	if rec := get(t, srv.Mux(), "/rooms/ghost", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing room status = %d, want 404", rec.Code)
	}
}

func TestRoutes_ICEServers(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	})

	rec := get(t, srv.Mux(), "/webrtc/ice", nil)
	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	decodeJSON(t, rec, &body)
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("body = %+v", body)
	}
}

func TestOriginPolicy_StatusEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{
		AllowedOrigins: []string{"https://app.example.com"},
	})

	t.Run("no origin header passes", func(t *testing.T) {
		if rec := get(t, srv.Mux(), "/stats", nil); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("allowed origin gets CORS headers", func(t *testing.T) {
		rec := get(t, srv.Mux(), "/stats", http.Header{"Origin": {"https://app.example.com"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("Allow-Origin = %q", got)
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Fatalf("Vary = %q", rec.Header().Get("Vary"))
		}
	})

	t.Run("disallowed origin rejected", func(t *testing.T) {
		rec := get(t, srv.Mux(), "/stats", http.Header{"Origin": {"https://evil.example.com"}})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("preflight answered", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/stats", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		srv.Mux().ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,OPTIONS" {
			t.Fatalf("Allow-Methods = %q", got)
		}
	})
}
