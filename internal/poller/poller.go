package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Fetcher performs one GET and returns the JSON body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// FetcherFunc is a function adapter for Fetcher.
type FetcherFunc func(ctx context.Context, url string) (json.RawMessage, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	return f(ctx, url)
}

// Target describes one polling loop.
type Target struct {
	URL      string
	Interval time.Duration
	OnData   func(json.RawMessage)
}

// Config holds poller configuration.
type Config struct {
	DefaultInterval time.Duration // Used when a Target has no interval (default: 20s)
	Timeout         time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultInterval: 20 * time.Second,
		Timeout:         10 * time.Second,
	}
}

type loop struct {
	id     uint64
	cancel context.CancelFunc
}

// Poller runs named polling loops.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	loops  map[string]*loop
	nextID uint64
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = DefaultConfig().DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		loops:   make(map[string]*loop),
	}
}

// Start begins polling t under name. A loop already running under name is stopped first.
func (p *Poller) Start(name string, t Target) {
	if t.Interval <= 0 {
		t.Interval = p.cfg.DefaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return
	}
	if old, ok := p.loops[name]; ok {
		old.cancel()
	}

	p.nextID++
	ctx, cancel := context.WithCancel(p.ctx)
	l := &loop{id: p.nextID, cancel: cancel}
	p.loops[name] = l

	p.wg.Add(1)
	go p.run(ctx, name, l.id, t)

	p.logger.Info("polling started",
		"channel", name,
		"url", t.URL,
		"interval", t.Interval,
	)
}

// Stop cancels the loop running under name. It does not wait for an
// in-flight fetch and is a no-op when nothing is running.
func (p *Poller) Stop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.loops[name]
	if !ok {
		return
	}
	l.cancel()
	delete(p.loops, name)

	p.logger.Info("polling stopped", "channel", name)
}

// Running reports whether a loop is active under name.
func (p *Poller) Running(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[name]
	return ok
}

// StopAll cancels every loop and waits for them to exit.
func (p *Poller) StopAll(ctx context.Context) error {
	p.mu.Lock()
	p.cancel()
	p.loops = make(map[string]*loop)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the polling loop for one channel.
func (p *Poller) run(ctx context.Context, name string, id uint64, t Target) {
	defer p.wg.Done()
	defer p.release(name, id)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(ctx, name, t)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, name, t)
		}
	}
}

// release drops the loop entry if it still belongs to this loop.
func (p *Poller) release(name string, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loops[name]; ok && l.id == id {
		delete(p.loops, name)
	}
}

// poll fetches once and hands the body to OnData.
func (p *Poller) poll(ctx context.Context, name string, t Target) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	body, err := p.fetcher.Fetch(fctx, t.URL)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed",
				"channel", name,
				"url", t.URL,
				"err", err,
			)
		}
		return
	}

	// Stopped while the request was in flight.
	if ctx.Err() != nil || t.OnData == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll handler panicked",
				"channel", name,
				"panic", r,
			)
		}
	}()
	t.OnData(body)
}
