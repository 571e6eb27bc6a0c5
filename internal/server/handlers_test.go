package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Steven-Theuerl/Chat-App/internal/store"
)

func doRename(handler http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/change-name", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rr := httptest.NewRecorder()

	HealthHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("content type = %q, want text/plain", got)
	}
	if rr.Body.String() != "Chat server is running!" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestChangeNameValidation(t *testing.T) {
	h, st := newSessionFixture(t)
	handler := ChangeNameHandler(h, st)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			body:       "",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "malformed JSON",
			method:     http.MethodPut,
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing newName",
			method:     http.MethodPut,
			body:       `{"oldName":"alice"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing oldName",
			method:     http.MethodPut,
			body:       `{"newName":"bob"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown old name",
			method:     http.MethodPut,
			body:       `{"oldName":"ghost","newName":"bob"}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRename(handler, tt.method, tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestChangeNameSuccess(t *testing.T) {
	h, st := newSessionFixture(t)
	handler := ChangeNameHandler(h, st)

	alice := connectClient(t, h, st, "10.0.0.1:5001")
	carol := connectClient(t, h, st, "10.0.0.2:5002")
	alice.handleInbound([]byte("alice"))
	carol.handleInbound([]byte("carol"))
	drainFrames(alice)
	drainFrames(carol)

	rr := doRename(handler, http.MethodPut, `{"oldName":"alice","newName":"bob"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["message"] == "" {
		t.Error("success response carries no message")
	}

	if h.FindByUsername("alice") != nil {
		t.Error("old name still resolves in the registry")
	}
	if h.FindByUsername("bob") != alice {
		t.Error("new name does not resolve to the renamed connection")
	}

	// Exactly one system notice reaches every connection.
	want := "System: alice has changed their name to bob."
	for _, c := range []*Client{alice, carol} {
		if got := recvFrame(t, c); got != want {
			t.Errorf("notice = %q, want %q", got, want)
		}
		expectNoFrame(t, c)
	}

	visitors, err := st.Visitors()
	if err != nil {
		t.Fatalf("Visitors failed: %v", err)
	}
	names := map[string]bool{}
	for _, v := range visitors {
		names[v.Username] = true
	}
	if !names["bob"] || names["alice"] {
		t.Errorf("visitor rows = %+v, want alice's row renamed to bob", visitors)
	}
}

func TestChangeNameConflict(t *testing.T) {
	h, st := newSessionFixture(t)
	handler := ChangeNameHandler(h, st)

	alice := connectClient(t, h, st, "10.0.0.1:5001")
	bob := connectClient(t, h, st, "10.0.0.2:5002")
	alice.handleInbound([]byte("alice"))
	bob.handleInbound([]byte("bob"))
	drainFrames(alice)
	drainFrames(bob)

	rr := doRename(handler, http.MethodPut, `{"oldName":"alice","newName":"bob"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	if h.FindByUsername("alice") != alice {
		t.Error("conflicting rename mutated the registry")
	}
	expectNoFrame(t, alice)
	expectNoFrame(t, bob)
}

// TestWebSocketSessionEndToEnd drives a real connection through the upgrade,
// the handshake, and one chat message.
func TestWebSocketSessionEndToEnd(t *testing.T) {
	SetConfig(nil)
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := NewHub()
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	ts := httptest.NewServer(SetupRoutes(hub, st))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readText := func() string {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return string(msg)
	}

	if got := readText(); got != "Please enter your name:" {
		t.Fatalf("first frame = %q", got)
	}
	if got := readText(); got != "Current visitors: 1" {
		t.Fatalf("count frame = %q", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("Eve")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := readText(); got != "Welcome, Eve!" {
		t.Fatalf("welcome frame = %q", got)
	}
	if got := readText(); got != "Eve has joined the chat." {
		t.Fatalf("join frame = %q", got)
	}
	if got := readText(); got != "System: Currently connected: Eve" {
		t.Fatalf("roster frame = %q", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello there")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line := readText()
	if !strings.HasPrefix(line, "Eve [") || !strings.HasSuffix(line, "]: hello there") {
		t.Fatalf("chat line = %q, want \"Eve [<time>]: hello there\"", line)
	}
}
