package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/taskstream/internal/model"
	"github.com/rickgao/taskstream/internal/poller"
)

// Dialer creates an unconnected client for one streaming attempt.
type Dialer func(url string) (Client, error)

// FallbackRunner runs polling loops keyed by channel name.
// Stop must not wait for an in-flight fetch.
type FallbackRunner interface {
	Start(name string, t poller.Target)
	Stop(name string)
	Running(name string) bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the clock used for reconnect timers.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// channel is one live stream channel.
type channel struct {
	name     string
	url      string
	cb       Callbacks
	fallback *Fallback

	gen         uint64 // identifies the current attempt
	cancel      context.CancelFunc
	connecting  bool
	connected   bool
	connectedAt time.Time
}

// Manager owns the named stream channels of one process.
type Manager struct {
	cfg      ManagerConfig
	dial     Dialer
	fallback FallbackRunner
	clock    Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	channels  map[string]*channel // live stream channels
	attempts  map[string]int
	timers    map[string]Timer
	polling   map[string]struct{} // channels handed to the fallback runner
	exhausted map[string]struct{}
	gen       uint64
	visible   bool
	stopped   bool
}

// NewManager creates a new Manager. A nil dial means streaming is unavailable
// and every channel polls. A nil fallback disables polling.
func NewManager(cfg ManagerConfig, dial Dialer, fallback FallbackRunner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectBaseDelay
	}
	if cfg.ControlReconnectDelay <= 0 {
		cfg.ControlReconnectDelay = def.ControlReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		dial:      dial,
		fallback:  fallback,
		clock:     realClock{},
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		channels:  make(map[string]*channel),
		attempts:  make(map[string]int),
		timers:    make(map[string]Timer),
		polling:   make(map[string]struct{}),
		exhausted: make(map[string]struct{}),
		visible:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect registers channel name and opens a stream to url. Transport
// failures are never returned; they surface through cb.OnError and Status.
func (m *Manager) Connect(name, url string, cb Callbacks, fb *Fallback) error {
	if name == "" {
		return ErrEmptyName
	}
	if url == "" {
		return ErrEmptyURL
	}
	for event := range cb.Events {
		if event == "" {
			return fmt.Errorf("channel %s: %w", name, ErrEmptyEventName)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	delete(m.exhausted, name)

	_, live := m.channels[name]
	if m.dial == nil {
		m.logger.Debug("streaming unavailable, polling", "channel", name)
		m.startPollingLocked(name, fb)
		return nil
	}
	if !live && len(m.channels) >= m.cfg.MaxConnections {
		m.logger.Info("connection ceiling reached, polling",
			"channel", name,
			"max_connections", m.cfg.MaxConnections,
		)
		m.startPollingLocked(name, fb)
		return nil
	}

	m.openLocked(name, url, cb, fb)
	return nil
}

// Disconnect tears channel name down: pending reconnect, stream and polling
// loop. clearAttempts forgets the reconnect counter. Unknown names are a no-op.
//
// Disconnect does not wait for callbacks. A frame or poll result that was
// already accepted for delivery may still reach its handler once after
// Disconnect returns; nothing received later is delivered.
func (m *Manager) Disconnect(name string, clearAttempts bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(name, clearAttempts)
}

// DisconnectAll disconnects every known channel.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.namesLocked() {
		m.disconnectLocked(name, true)
	}
}

// Stop disconnects everything and waits for stream goroutines to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	m.stopped = true
	for _, name := range m.namesLocked() {
		m.disconnectLocked(name, true)
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// IsConnected reports whether name has an open stream.
func (m *Manager) IsConnected(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	return ok && ch.connected
}

// Status returns the current state of name.
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(name)
}

// Channels returns every known channel name, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

// Snapshot returns the status of every known channel.
func (m *Manager) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status)
	for _, name := range m.namesLocked() {
		out[name] = m.statusLocked(name)
	}
	return out
}

// Resume reopens every live channel whose stream is closed, skipping any
// pending backoff. Attempt counters are kept.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	for _, name := range m.namesLocked() {
		ch, ok := m.channels[name]
		if !ok || ch.connected || ch.connecting {
			continue
		}
		m.logger.Info("resuming channel", "channel", name)
		m.openLocked(name, ch.url, ch.cb, ch.fallback)
	}
}

// SetVisible records host visibility. A hidden to visible transition resumes
// closed channels.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	was := m.visible
	m.visible = visible
	m.mu.Unlock()

	if visible && !was {
		m.Resume()
	}
}

// -----------------------------------------------------------------------------
// Locked helpers (caller holds m.mu)
// -----------------------------------------------------------------------------

func (m *Manager) namesLocked() []string {
	seen := make(map[string]struct{}, len(m.channels)+len(m.polling)+len(m.exhausted))
	for name := range m.channels {
		seen[name] = struct{}{}
	}
	for name := range m.polling {
		seen[name] = struct{}{}
	}
	for name := range m.exhausted {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) statusLocked(name string) Status {
	_, exhausted := m.exhausted[name]
	st := Status{
		Mode:              ModeDisconnected,
		ReconnectAttempts: m.attempts[name],
		Exhausted:         exhausted,
	}
	if ch, ok := m.channels[name]; ok {
		st.Mode = ModeStreaming
		st.Connected = ch.connected
		st.ConnectedAt = ch.connectedAt
		_, st.ReconnectPending = m.timers[name]
		return st
	}
	if m.isPollingLocked(name) {
		st.Mode = ModePolling
	}
	return st
}

func (m *Manager) isPollingLocked(name string) bool {
	if _, ok := m.polling[name]; !ok {
		return false
	}
	return m.fallback != nil && m.fallback.Running(name)
}

// openLocked starts a new streaming attempt for name, replacing any previous
// one without touching its attempt counter.
func (m *Manager) openLocked(name, url string, cb Callbacks, fb *Fallback) {
	m.stopTimerLocked(name)

	ch, ok := m.channels[name]
	if ok {
		m.closeStreamLocked(ch)
	} else {
		ch = &channel{name: name}
		m.channels[name] = ch
	}

	m.gen++
	ch.gen = m.gen
	ch.url = url
	ch.cb = cb
	ch.fallback = fb
	ch.connecting = true
	ch.connected = false

	ctx, cancel := context.WithCancel(m.ctx)
	ch.cancel = cancel

	m.logger.Debug("opening stream",
		"channel", name,
		"url", url,
		"attempts", m.attempts[name],
	)

	m.wg.Add(1)
	go m.run(ctx, ch, ch.gen, url)
}

// closeStreamLocked cancels the current attempt. The attempt's goroutine
// closes the client.
func (m *Manager) closeStreamLocked(ch *channel) {
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	m.gen++
	ch.gen = m.gen
	ch.connecting = false
	ch.connected = false
}

func (m *Manager) disconnectLocked(name string, clearAttempts bool) {
	m.stopTimerLocked(name)
	if ch, ok := m.channels[name]; ok {
		m.closeStreamLocked(ch)
		delete(m.channels, name)
	}
	m.stopPollingLocked(name)
	delete(m.exhausted, name)
	if clearAttempts {
		delete(m.attempts, name)
	}
}

func (m *Manager) stopTimerLocked(name string) {
	if t, ok := m.timers[name]; ok {
		t.Stop()
		delete(m.timers, name)
	}
}

func (m *Manager) scheduleLocked(ch *channel, delay time.Duration) {
	m.stopTimerLocked(ch.name)
	name, gen := ch.name, ch.gen
	m.timers[name] = m.clock.AfterFunc(delay, func() {
		m.reconnect(name, gen)
	})
}

func (m *Manager) startPollingLocked(name string, fb *Fallback) {
	if fb == nil {
		return
	}
	if m.fallback == nil {
		m.logger.Warn("no fallback runner, channel silent", "channel", name)
		return
	}
	m.polling[name] = struct{}{}
	m.fallback.Start(name, poller.Target{
		URL:      fb.URL,
		Interval: fb.Interval,
		OnData:   fb.OnData,
	})
}

func (m *Manager) stopPollingLocked(name string) {
	if _, ok := m.polling[name]; !ok {
		return
	}
	delete(m.polling, name)
	if m.fallback != nil {
		m.fallback.Stop(name)
	}
}

// current reports whether gen is still the live attempt of ch.
func (m *Manager) currentLocked(ch *channel, gen uint64) bool {
	live, ok := m.channels[ch.name]
	return ok && live == ch && ch.gen == gen
}

// -----------------------------------------------------------------------------
// Attempt lifecycle
// -----------------------------------------------------------------------------

// run dials, connects and reads one streaming attempt. The channel is shared
// with later attempts, so run only reads its mutable fields under m.mu.
func (m *Manager) run(ctx context.Context, ch *channel, gen uint64, url string) {
	defer m.wg.Done()

	client, err := m.dial(url)
	if err != nil {
		m.fail(ch, gen, fmt.Errorf("dial: %w", err))
		return
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(ch, gen, err)
		return
	}

	if !m.opened(ch, gen, url) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-client.Frames():
			if !ok {
				m.fail(ch, gen, ErrStreamClosed)
				return
			}
			if !m.dispatch(ch, gen, f) {
				return
			}

		case err := <-client.Errors():
			// Deliver frames that arrived before the error.
			for drained := false; !drained; {
				select {
				case f, ok := <-client.Frames():
					if !ok {
						drained = true
						break
					}
					if !m.dispatch(ch, gen, f) {
						return
					}
				default:
					drained = true
				}
			}
			m.fail(ch, gen, err)
			return
		}
	}
}

// opened marks a successful open. It returns false if the attempt was superseded.
func (m *Manager) opened(ch *channel, gen uint64, url string) bool {
	m.mu.Lock()
	if !m.currentLocked(ch, gen) {
		m.mu.Unlock()
		return false
	}
	ch.connecting = false
	ch.connected = true
	ch.connectedAt = m.clock.Now()
	delete(m.attempts, ch.name)
	delete(m.exhausted, ch.name)
	m.stopPollingLocked(ch.name)
	onOpen := ch.cb.OnOpen
	m.mu.Unlock()

	m.logger.Info("stream connected", "channel", ch.name, "url", url)

	if onOpen != nil {
		m.safeCall(ch.name, "open", onOpen)
	}
	return true
}

// fail handles a transport failure: report, then back off or fall back.
func (m *Manager) fail(ch *channel, gen uint64, err error) {
	m.mu.Lock()
	if !m.currentLocked(ch, gen) {
		m.mu.Unlock()
		return
	}

	prev := m.attempts[ch.name]
	onError := ch.cb.OnError
	ch.connecting = false
	ch.connected = false
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}

	attempts := prev + 1
	if attempts <= m.cfg.MaxReconnectAttempts {
		m.attempts[ch.name] = attempts
		delay := BackoffDelay(attempts, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
		m.scheduleLocked(ch, delay)
		m.logger.Warn("stream failed, reconnecting",
			"channel", ch.name,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
	} else {
		m.logger.Warn("reconnect budget exhausted",
			"channel", ch.name,
			"attempts", prev,
			"fallback", ch.fallback != nil,
			"error", err,
		)
		m.stopTimerLocked(ch.name)
		delete(m.channels, ch.name)
		delete(m.attempts, ch.name)
		if ch.fallback != nil && m.fallback != nil {
			m.startPollingLocked(ch.name, ch.fallback)
		} else {
			m.exhausted[ch.name] = struct{}{}
		}
	}
	m.mu.Unlock()

	if onError != nil {
		m.safeCall(ch.name, "error", func() { onError(err, prev) })
	}
}

// reconnect fires from a reconnect timer.
func (m *Manager) reconnect(name string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok || ch.gen != gen || m.stopped {
		return
	}
	delete(m.timers, name)
	m.openLocked(name, ch.url, ch.cb, ch.fallback)
}

// rotate closes the stream on a server rotation frame and reconnects after
// the control delay without counting an attempt.
func (m *Manager) rotate(ch *channel, gen uint64, ctrl model.Control) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ch, gen) {
		return
	}
	m.logger.Info("server requested reconnect",
		"channel", ch.name,
		"type", ctrl.Type,
		"message", ctrl.Message,
	)
	m.closeStreamLocked(ch)
	m.scheduleLocked(ch, m.cfg.ControlReconnectDelay)
}

// dispatch delivers one frame. It returns false when the attempt must end.
func (m *Manager) dispatch(ch *channel, gen uint64, f Frame) bool {
	if !json.Valid(f.Data) {
		m.logger.Warn("dropping malformed event",
			"channel", ch.name,
			"event", f.Event,
			"bytes", len(f.Data),
		)
		return true
	}

	if ctrl := model.ParseControl(f.Data); ctrl.IsRotation() {
		m.rotate(ch, gen, ctrl)
		return false
	}

	m.mu.Lock()
	if !m.currentLocked(ch, gen) {
		m.mu.Unlock()
		return false
	}
	var handler EventHandler
	if f.Event == "" || f.Event == "message" {
		handler = ch.cb.OnMessage
	} else {
		handler = ch.cb.Events[f.Event]
	}
	m.mu.Unlock()

	if handler == nil {
		return true
	}
	payload := json.RawMessage(f.Data)
	m.safeCall(ch.name, f.Event, func() { handler(payload) })
	return true
}

// safeCall runs a consumer callback, recovering panics.
func (m *Manager) safeCall(name, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked",
				"channel", name,
				"event", event,
				"panic", r,
			)
		}
	}()
	fn()
}
