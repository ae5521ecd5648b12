package connection

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/taskstream/internal/auth"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no data)")
	ErrStreamClosed      = errors.New("stream closed by server")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrNotEventStream    = errors.New("response is not an event stream")
	ErrUnsupportedScheme = errors.New("unsupported stream url scheme")
	ErrEmptyName         = errors.New("channel name is required")
	ErrEmptyURL          = errors.New("stream url is required")
	ErrEmptyEventName    = errors.New("event handler registered under empty name")
	ErrManagerStopped    = errors.New("manager stopped")
)

// Mode is the transport currently serving a channel.
type Mode string

const (
	ModeStreaming    Mode = "sse"
	ModePolling      Mode = "polling"
	ModeDisconnected Mode = "disconnected"
)

// EventHandler receives the JSON payload of one event.
type EventHandler func(payload json.RawMessage)

// Callbacks are the consumer hooks registered with Connect.
type Callbacks struct {
	OnOpen    func()
	OnError   func(err error, attempts int) // attempts before this failure is counted
	Events    map[string]EventHandler       // keyed by event name
	OnMessage EventHandler                  // unnamed frames
}

// Fallback describes the polling loop used when streaming is unavailable.
type Fallback struct {
	URL      string
	Interval time.Duration
	OnData   func(json.RawMessage)
}

// Status is a point-in-time view of one channel.
type Status struct {
	Connected         bool      `json:"connected"`
	Mode              Mode      `json:"type"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	ConnectedAt       time.Time `json:"connected_at,omitempty"`
	ReconnectPending  bool      `json:"reconnect_pending,omitempty"`
	Exhausted         bool      `json:"exhausted,omitempty"` // budget spent with no fallback
}

// Frame is one event received on a stream.
type Frame struct {
	Event string // empty or "message" for unnamed frames
	Data  []byte
	ID    string
}

// ClientConfig configures a streaming client.
type ClientConfig struct {
	URL          string
	Session      *auth.Session // nil = unauthenticated
	HTTPClient   *http.Client  // SSE only; must not set a Timeout
	ReadTimeout  time.Duration // Max time without data before the stream is stale
	WriteTimeout time.Duration // Write deadline for WebSocket control frames
	PingInterval time.Duration // WebSocket keepalive interval
	BufferSize   int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadTimeout:  90 * time.Second, // server heartbeats every 45s
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		BufferSize:   256,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	MaxConnections        int           // Ceiling on concurrent streams
	MaxReconnectAttempts  int           // Reconnects before falling back
	ReconnectBaseDelay    time.Duration // Delay of the first reconnect
	ReconnectMaxDelay     time.Duration // Backoff cap
	ControlReconnectDelay time.Duration // Delay after a server rotation frame
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnections:        3,
		MaxReconnectAttempts:  3,
		ReconnectBaseDelay:    3 * time.Second,
		ReconnectMaxDelay:     60 * time.Second,
		ControlReconnectDelay: time.Second,
	}
}
