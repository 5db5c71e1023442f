package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/hub"
)

func dialVersions(t *testing.T, env *testEnv, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sync/ws?token=" + env.token(t, "user-1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketPingPong(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialVersions(t, env, srv)

	var hello hub.VersionMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if hello.Type != hub.TypeVersion {
		t.Fatalf("expected version frame first, got %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp["type"] != "pong" {
		t.Fatalf("expected pong, got %v", resp)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sync/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}

func TestWebSocketReceivesVersionOnWrite(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialVersions(t, env, srv)
	var hello hub.VersionMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	w := env.do(t, http.MethodPost, "/api/conversations", env.token(t, "user-2"), map[string]any{"id": "c1"})
	expectStatus(t, w, http.StatusCreated)

	var pushed hub.VersionMessage
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if pushed.Type != hub.TypeVersion || pushed.Version <= hello.Version {
		t.Fatalf("expected a newer version than %d, got %+v", hello.Version, pushed)
	}
}
