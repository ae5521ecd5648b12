package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rickgao/taskstream/internal/sse"
	"github.com/rickgao/taskstream/internal/version"
)

// Client is one streaming attempt. Clients never retry internally; the
// Manager owns reconnection.
type Client interface {
	// Connect opens the stream. It returns once the server has accepted it.
	Connect(ctx context.Context) error

	// Close gracefully closes the stream.
	Close() error

	// Frames returns received events in arrival order.
	Frames() <-chan Frame

	// Errors returns at most one terminal stream error.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// NewDialer returns a Dialer that opens SSE streams for http(s) URLs and
// WebSocket streams for ws(s) URLs. cfg.URL is ignored.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(rawURL string) (Client, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse stream url: %w", err)
		}
		c := cfg
		c.URL = rawURL
		switch u.Scheme {
		case "http", "https":
			return NewSSEClient(c, logger), nil
		case "ws", "wss":
			return NewWSClient(c, logger), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	}
}

// sseClient implements Client over a text/event-stream response.
type sseClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	frames chan Frame
	errors chan error
	done   chan struct{}

	mu         sync.RWMutex
	cancel     context.CancelFunc
	body       io.ReadCloser
	connected  bool
	closed     bool
	lastReadAt time.Time
}

// NewSSEClient creates a new event-stream client.
func NewSSEClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &sseClient{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect issues the GET and validates the response.
func (c *sseClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", version.UserAgent())
	c.cfg.Session.Apply(req.Header)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		resp.Body.Close()
		cancel()
		return ErrAlreadyClosed
	}
	c.cancel = cancel
	c.body = resp.Body
	c.connected = true
	c.lastReadAt = time.Now()
	c.mu.Unlock()

	go c.readLoop(resp.Body)
	if c.cfg.ReadTimeout > 0 {
		go c.watchdog()
	}

	c.logger.Debug("event stream connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the stream.
func (c *sseClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	cancel, body := c.cancel, c.body
	c.mu.Unlock()

	close(c.done)

	if cancel != nil {
		cancel()
	}
	if body != nil {
		return body.Close()
	}
	return nil
}

// Frames returns the frames channel.
func (c *sseClient) Frames() <-chan Frame {
	return c.frames
}

// Errors returns the errors channel.
func (c *sseClient) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *sseClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// touch records activity for the stale watchdog.
func (c *sseClient) touch() {
	c.mu.Lock()
	c.lastReadAt = time.Now()
	c.mu.Unlock()
}

// activityReader stamps every successful read.
type activityReader struct {
	r     io.Reader
	touch func()
}

func (a activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}

// readLoop decodes frames until the body ends.
func (c *sseClient) readLoop(body io.Reader) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	dec := sse.NewDecoder(activityReader{r: body, touch: c.touch})
	for {
		f, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			c.report(err)
			return
		}

		select {
		case c.frames <- Frame{Event: f.Event, Data: f.Data, ID: f.ID}:
		case <-c.done:
			return
		}
	}
}

// watchdog reports a stale stream when no bytes arrive within ReadTimeout.
func (c *sseClient) watchdog() {
	interval := c.cfg.ReadTimeout / 3
	if interval <= 0 {
		interval = c.cfg.ReadTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			last, connected, cancel := c.lastReadAt, c.connected, c.cancel
			c.mu.RUnlock()

			if !connected {
				return
			}
			if time.Since(last) > c.cfg.ReadTimeout {
				c.logger.Warn("no data received, stream stale",
					"last_read", last,
					"timeout", c.cfg.ReadTimeout,
				)
				c.report(ErrStaleConnection)
				if cancel != nil {
					cancel()
				}
				return
			}
		}
	}
}

// report publishes a terminal error unless the client was closed.
func (c *sseClient) report(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}
