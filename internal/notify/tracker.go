package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/taskstream/internal/connection"
	"github.com/rickgao/taskstream/internal/model"
	"github.com/rickgao/taskstream/internal/seen"
)

// Channel and event names used on the notifications stream.
const (
	Channel        = "notifications"
	Scope          = "notifications"
	EventUpdate    = "notification_update"
	EventNew       = "new_notification"
	EventHeartbeat = "heartbeat"
)

// DefaultPollInterval is the fallback polling period.
const DefaultPollInterval = 20 * time.Second

var ErrAlreadyStarted = errors.New("tracker already started")

// Streams is the part of the connection manager the tracker needs.
type Streams interface {
	Connect(name, url string, cb connection.Callbacks, fb *connection.Fallback) error
	Disconnect(name string, clearAttempts bool)
}

// Source resolves notification details for bare IDs.
type Source interface {
	LatestNotifications(ctx context.Context) ([]model.Notification, error)
}

// Config holds tracker settings. URLs must be absolute.
type Config struct {
	StreamURL    string
	PollURL      string
	PollInterval time.Duration
}

// Hooks receive tracker output. Both are optional and must not call back
// into the Tracker.
type Hooks struct {
	OnNew   func(n model.Notification)
	OnCount func(unread int)
}

// Update is one observation of the unread state.
type Update struct {
	// Snapshot marks IDs as the complete unread list; seen IDs missing from
	// it are pruned.
	Snapshot bool
	IDs      []int64

	// Notifications carry details, either alone (a pushed notification) or
	// alongside a snapshot.
	Notifications []model.Notification
}

// Tracker announces unread notifications once.
type Tracker struct {
	cfg     Config
	streams Streams
	source  Source
	store   seen.Store
	seen    *seen.Set
	hooks   Hooks
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	unread  int
}

// New creates a tracker. store may be nil to keep the seen set in memory only.
func New(cfg Config, streams Streams, source Source, store seen.Store, set *seen.Set, hooks Hooks, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if store == nil {
		store = seen.NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		cfg:     cfg,
		streams: streams,
		source:  source,
		store:   store,
		seen:    set,
		hooks:   hooks,
		logger:  logger.With("component", "notify"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start loads the persisted seen IDs and registers the channel.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	ids, err := t.store.Load(ctx, Scope)
	if err != nil {
		// Without history every unread notification is announced again.
		t.logger.Warn("failed to load seen notifications", "error", err)
	} else {
		t.seen.Add(ids...)
		t.logger.Debug("loaded seen notifications", "count", len(ids))
	}

	cb := connection.Callbacks{
		OnOpen: func() {
			t.logger.Info("notification stream open")
		},
		OnError: func(err error, attempts int) {
			t.logger.Warn("notification stream error", "error", err, "attempts", attempts)
		},
		Events: map[string]connection.EventHandler{
			EventUpdate:    t.handleUpdate,
			EventNew:       t.handleNew,
			EventHeartbeat: t.handleHeartbeat,
		},
	}
	fb := &connection.Fallback{
		URL:      t.cfg.PollURL,
		Interval: t.cfg.PollInterval,
		OnData:   t.handleUpdate,
	}

	if err := t.streams.Connect(Channel, t.cfg.StreamURL, cb, fb); err != nil {
		return fmt.Errorf("register %s: %w", Channel, err)
	}
	return nil
}

// Stop tears the channel down and flushes the seen set.
func (t *Tracker) Stop(ctx context.Context) error {
	t.streams.Disconnect(Channel, true)
	t.cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistLocked(ctx)
}

// Unread returns the last reported unread count.
func (t *Tracker) Unread() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unread
}

// Apply merges an observation and returns the IDs announced as new.
func (t *Tracker) Apply(ctx context.Context, u Update) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	details := make(map[int64]model.Notification, len(u.Notifications))
	for _, n := range u.Notifications {
		details[n.ID] = n
	}

	var fresh, pruned []int64
	if u.Snapshot {
		fresh = t.seen.Add(u.IDs...)
		pruned = t.seen.Retain(u.IDs)
		t.setUnreadLocked(len(u.IDs))
	} else {
		for _, n := range u.Notifications {
			fresh = append(fresh, t.seen.Add(n.ID)...)
		}
		if len(fresh) > 0 {
			t.setUnreadLocked(t.unread + len(fresh))
		}
	}

	if len(fresh) == 0 && len(pruned) == 0 {
		return nil
	}
	if len(pruned) > 0 {
		t.logger.Debug("pruned read notifications", "ids", pruned)
	}
	if err := t.persistLocked(ctx); err != nil {
		t.logger.Warn("failed to persist seen notifications", "error", err)
	}

	t.resolveLocked(ctx, fresh, details)
	for _, id := range fresh {
		n, ok := details[id]
		if !ok {
			n = model.Notification{ID: id}
		}
		t.logger.Info("new notification", "id", id, "type", n.Type)
		if t.hooks.OnNew != nil {
			t.hooks.OnNew(n)
		}
	}
	return fresh
}

// resolveLocked fills details for fresh IDs that arrived without them.
func (t *Tracker) resolveLocked(ctx context.Context, fresh []int64, details map[int64]model.Notification) {
	missing := 0
	for _, id := range fresh {
		if _, ok := details[id]; !ok {
			missing++
		}
	}
	if missing == 0 || t.source == nil {
		return
	}

	latest, err := t.source.LatestNotifications(ctx)
	if err != nil {
		t.logger.Warn("failed to resolve notifications", "missing", missing, "error", err)
		return
	}
	for _, n := range latest {
		if _, ok := details[n.ID]; !ok {
			details[n.ID] = n
		}
	}
}

func (t *Tracker) setUnreadLocked(n int) {
	if n == t.unread {
		return
	}
	t.unread = n
	if t.hooks.OnCount != nil {
		t.hooks.OnCount(n)
	}
}

func (t *Tracker) persistLocked(ctx context.Context) error {
	if err := t.store.Save(ctx, Scope, t.seen.IDs()); err != nil {
		return fmt.Errorf("save %s: %w", Scope, err)
	}
	return nil
}

// handleUpdate decodes a snapshot from the stream or the poll endpoint.
func (t *Tracker) handleUpdate(payload json.RawMessage) {
	if t.ctx.Err() != nil {
		return
	}
	var snap model.NotificationSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.logger.Warn("invalid notification snapshot", "error", err)
		return
	}
	if snap.IDs == nil {
		snap.IDs = []int64{}
	}
	t.Apply(t.ctx, Update{Snapshot: true, IDs: snap.IDs})
}

func (t *Tracker) handleNew(payload json.RawMessage) {
	if t.ctx.Err() != nil {
		return
	}
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		t.logger.Warn("invalid notification", "error", err)
		return
	}
	if n.ID == 0 {
		t.logger.Warn("notification without id")
		return
	}
	t.Apply(t.ctx, Update{Notifications: []model.Notification{n}})
}

func (t *Tracker) handleHeartbeat(json.RawMessage) {
	t.logger.Debug("notification heartbeat")
}
