package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/taskstream/internal/auth"
)

// mockSSEServer creates a test event-stream server. handler writes frames
// through send and returns when the stream should end.
func mockSSEServer(t *testing.T, handler func(r *http.Request, send func(string))) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not flush")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		handler(r, func(raw string) {
			fmt.Fprint(w, raw)
			flusher.Flush()
		})
	}))
}

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextFrame(t *testing.T, c Client) Frame {
	t.Helper()
	select {
	case f := <-c.Frames():
		return f
	case err := <-c.Errors():
		// Frames queued before the error still win.
		select {
		case f := <-c.Frames():
			return f
		default:
		}
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return Frame{}
}

func nextError(t *testing.T, c Client) error {
	t.Helper()
	select {
	case err := <-c.Errors():
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
	return nil
}

func TestSSEClient_ConnectAndFrames(t *testing.T) {
	release := make(chan struct{})
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		send(": connected\n\n")
		send("event: notification_update\ndata: {\"count\":2,\"ids\":[1,2]}\n\n")
		send("data: {\"plain\":true}\n\n")
		<-release
	})
	defer server.Close()
	defer close(release)

	cfg := DefaultClientConfig()
	cfg.URL = server.URL + "/sse/notifications"
	client := NewSSEClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	f := nextFrame(t, client)
	if f.Event != "notification_update" {
		t.Errorf("Event = %q, want notification_update", f.Event)
	}
	if string(f.Data) != `{"count":2,"ids":[1,2]}` {
		t.Errorf("Data = %s", f.Data)
	}

	f = nextFrame(t, client)
	if f.Event != "" || string(f.Data) != `{"plain":true}` {
		t.Errorf("unnamed frame = %+v", f)
	}
}

func TestSSEClient_Headers(t *testing.T) {
	got := make(chan http.Header, 1)
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		got <- r.Header.Clone()
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = server.URL
	cfg.Session = auth.NewSession("tok", "cookie-value", "client-7")
	client := NewSSEClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	h := <-got
	if h.Get("Accept") != "text/event-stream" {
		t.Errorf("Accept = %q", h.Get("Accept"))
	}
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get(auth.HeaderClientID) != "client-7" {
		t.Errorf("X-Client-ID = %q", h.Get(auth.HeaderClientID))
	}
}

func TestSSEClient_ServerClose(t *testing.T) {
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		send("event: heartbeat\ndata: {}\n\n")
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = server.URL
	client := NewSSEClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	nextFrame(t, client)
	if err := nextError(t, client); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("error = %v, want ErrStreamClosed", err)
	}
}

func TestSSEClient_RejectsBadResponse(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			want: ErrUnexpectedStatus,
		},
		{
			name: "content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html>login</html>"))
			},
			want: ErrNotEventStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			cfg := DefaultClientConfig()
			cfg.URL = server.URL
			client := NewSSEClient(cfg, nil)
			defer client.Close()

			if err := client.Connect(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
			if client.IsConnected() {
				t.Error("expected IsConnected to return false")
			}
		})
	}
}

func TestSSEClient_StaleWatchdog(t *testing.T) {
	release := make(chan struct{})
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer server.Close()
	defer close(release)

	cfg := DefaultClientConfig()
	cfg.URL = server.URL
	cfg.ReadTimeout = 60 * time.Millisecond
	client := NewSSEClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := nextError(t, client); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("error = %v, want ErrStaleConnection", err)
	}
}

func TestSSEClient_Close(t *testing.T) {
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		<-r.Context().Done()
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = server.URL
	client := NewSSEClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close error = %v, want ErrAlreadyClosed", err)
	}

	select {
	case err := <-client.Errors():
		t.Errorf("error reported after Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSClient_ConnectAndFrames(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"comment_added","data":{"id":5}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	client := NewWSClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	f := nextFrame(t, client)
	if f.Event != "comment_added" || string(f.Data) != `{"id":5}` {
		t.Errorf("frame = {%s %s}, want {comment_added {\"id\":5}}", f.Event, f.Data)
	}

	f = nextFrame(t, client)
	if f.Event != "" || string(f.Data) != `{"type":"heartbeat"}` {
		t.Errorf("bare frame = {%s %s}", f.Event, f.Data)
	}
}

func TestWSClient_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	client := NewWSClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := nextError(t, client); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("error = %v, want ErrStreamClosed", err)
	}
}

func TestWSClient_Close(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	client := NewWSClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		in        string
		wantEvent string
		wantData  string
	}{
		{`{"event":"comment_deleted","data":{"comment_id":3}}`, "comment_deleted", `{"comment_id":3}`},
		{`{"event":"ping"}`, "ping", `{}`},
		{`{"type":"reconnect"}`, "", `{"type":"reconnect"}`},
		{`not json`, "", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f := decodeEnvelope([]byte(tt.in))
			if f.Event != tt.wantEvent {
				t.Errorf("Event = %q, want %q", f.Event, tt.wantEvent)
			}
			if string(f.Data) != tt.wantData {
				t.Errorf("Data = %s, want %s", f.Data, tt.wantData)
			}
		})
	}
}

func TestNewDialer(t *testing.T) {
	dial := NewDialer(DefaultClientConfig(), nil)

	tests := []struct {
		url     string
		wantSSE bool
		wantErr error
	}{
		{"http://localhost/sse/notifications", true, nil},
		{"https://tasks.example.com/sse/notifications", true, nil},
		{"ws://localhost/ws", false, nil},
		{"wss://tasks.example.com/ws", false, nil},
		{"ftp://localhost/x", false, ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c, err := dial(tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("dial() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("dial() error = %v", err)
			}
			_, isSSE := c.(*sseClient)
			if isSSE != tt.wantSSE {
				t.Errorf("dial(%s) = %T", tt.url, c)
			}
		})
	}
}

func TestManager_EndToEndSSE(t *testing.T) {
	release := make(chan struct{})
	server := mockSSEServer(t, func(r *http.Request, send func(string)) {
		send("event: new_comments\ndata: {\"comments\":[{\"id\":1}],\"total_count\":1}\n\n")
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer server.Close()
	defer close(release)

	m := NewManager(DefaultManagerConfig(), NewDialer(DefaultClientConfig(), nil), nil, nil)
	defer m.Stop(context.Background())

	got := make(chan string, 1)
	err := m.Connect("task-comments-1", server.URL+"/sse/tasks/1/comments", Callbacks{
		Events: map[string]EventHandler{
			"new_comments": func(p json.RawMessage) { got <- string(p) },
		},
	}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case p := <-got:
		if !strings.Contains(p, `"total_count":1`) {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	if !m.IsConnected("task-comments-1") {
		t.Error("IsConnected() = false, want true")
	}
}
