package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestManager(t *testing.T) (*WSManager, *httptest.Server) {
	t.Helper()
	m := NewWSManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Serve(w, r, "session", func() ([]byte, error) {
			return []byte(`{"hello":true}`), nil
		})
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestWSManagerInitialAndBroadcast(t *testing.T) {
	m, srv := newTestManager(t)
	conn := dial(t, srv)

	if got := readText(t, conn); got != `{"hello":true}` {
		t.Fatalf("initial message = %q", got)
	}

	m.Broadcast("other", map[string]int{"skip": 1})
	m.Broadcast("session", map[string]int{"version": 2})
	if got := readText(t, conn); got != `{"version":2}` {
		t.Fatalf("broadcast = %q", got)
	}
	if m.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", m.Clients())
	}
}

func TestWSManagerStopDropsBroadcast(t *testing.T) {
	m := NewWSManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			m.BroadcastRaw("session", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastRaw blocked after Stop")
	}
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		allow  []string
		want   bool
	}{
		{"", "api.local", nil, true},
		{"http://api.local:3000", "api.local:8080", nil, true},
		{"http://localhost:5173", "api.local", nil, true},
		{"http://evil.local", "api.local", nil, false},
		{"http://ui.local", "api.local", []string{"http://ui.local"}, true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := checkOrigin(r, tc.allow); got != tc.want {
			t.Errorf("checkOrigin(%q, %q) = %v, want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}

func TestWSManagerInitialAfterRegister(t *testing.T) {
	m := NewWSManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	// 取首条消息时客户端已注册，期间的广播紧随其后送达
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Serve(w, r, "session", func() ([]byte, error) {
			m.Broadcast("session", map[string]int{"version": 2})
			return []byte(`{"version":1}`), nil
		})
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	conn := dial(t, srv)
	if got := readText(t, conn); got != `{"version":1}` {
		t.Fatalf("initial message = %q", got)
	}
	if got := readText(t, conn); got != `{"version":2}` {
		t.Fatalf("broadcast during registration = %q", got)
	}
}

func TestWSManagerInitialError(t *testing.T) {
	m := NewWSManager(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Serve(w, r, "session", func() ([]byte, error) {
			return nil, io.ErrUnexpectedEOF
		})
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	conn := dial(t, srv)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := m.Clients(); n != 0 {
		t.Fatalf("clients = %d, want 0", n)
	}
}
