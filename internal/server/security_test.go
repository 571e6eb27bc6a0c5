package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

func newSecurityServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := NewHub()
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	ts := httptest.NewServer(SetupRoutes(hub, st))
	t.Cleanup(ts.Close)
	return hub, ts
}

func dialWS(ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	SetConfig(nil)
	_, ts := newSecurityServer(t)

	tests := []struct {
		name   string
		origin string
	}{
		{name: "origin not on the allow list", origin: "http://evil.example.com"},
		{name: "missing origin header", origin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := dialWS(ts, tt.origin)
			if err == nil {
				conn.Close()
				t.Fatal("upgrade succeeded for a request that should be blocked")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("handshake response = %+v, want status %d", resp, http.StatusForbidden)
			}
		})
	}
}

func TestUpgradeAcceptsAllowedOrigin(t *testing.T) {
	SetConfig(nil)
	_, ts := newSecurityServer(t)

	conn, _, err := dialWS(ts, "http://localhost:8080")
	if err != nil {
		t.Fatalf("upgrade with an allowed origin failed: %v", err)
	}
	conn.Close()
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	SetConfig(&Config{
		RateLimit: RateLimitConfig{Burst: 2, RefillInterval: time.Minute},
	})
	t.Cleanup(func() { SetConfig(nil) })

	h := NewHub()
	c := NewClient(nil, h, nil, "10.0.0.1:5001")

	// checkRateLimit is the gate the read pump consults before every frame.
	for i := 0; i < 2; i++ {
		if !c.checkRateLimit() {
			t.Fatalf("frame %d inside the burst was dropped", i+1)
		}
	}
	if c.checkRateLimit() {
		t.Fatal("frame beyond the burst was not dropped")
	}
}

// TestReadLimitClosesConnection feeds a frame past MaxMessageSize through a
// real connection and expects the server to tear the session down.
func TestReadLimitClosesConnection(t *testing.T) {
	SetConfig(&Config{
		MaxMessageSize: 64,
		AllowedOrigins: []string{"http://localhost:8080"},
	})
	t.Cleanup(func() { SetConfig(nil) })

	hub, ts := newSecurityServer(t)

	conn, _, err := dialWS(ts, "http://localhost:8080")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	oversized := strings.Repeat("x", 256)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(oversized)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The handshake frames may still be in flight; keep reading until the
	// server closes the connection.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection stayed open after an oversized frame")
		}
	}

	for i := 0; hub.ClientCount() != 0; i++ {
		if i > 100 {
			t.Fatalf("client still registered after read-limit violation, count = %d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
