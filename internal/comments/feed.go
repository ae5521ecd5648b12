package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/taskstream/internal/api"
	"github.com/rickgao/taskstream/internal/connection"
	"github.com/rickgao/taskstream/internal/model"
	"github.com/rickgao/taskstream/internal/seen"
)

// Stream event names.
const (
	EventNew       = "new_comments"
	EventSync      = "comments_sync"
	EventHeartbeat = "heartbeat"
	EventAdded     = "comment_added"   // WebSocket room event
	EventDeleted   = "comment_deleted" // WebSocket room event
)

const (
	// DefaultPollInterval is the fallback polling period.
	DefaultPollInterval = 3 * time.Second

	// maxKnown bounds the IDs remembered per thread.
	maxKnown = 10000

	unknownTotal = -1
)

var ErrAlreadyStarted = errors.New("feed already started")

// Streams is the part of the connection manager the feed needs.
type Streams interface {
	Connect(name, url string, cb connection.Callbacks, fb *connection.Fallback) error
	Disconnect(name string, clearAttempts bool)
}

// Source loads thread snapshots and resolves paths against the server.
type Source interface {
	Comments(ctx context.Context, kind api.ThreadKind, id int64) (model.CommentsPage, error)
	ResolveURL(pathOrURL string) string
}

// Hooks receive feed output. All are optional and must not call back into
// the Feed.
type Hooks struct {
	OnAdded   func(c model.Comment)
	OnDeleted func(id int64)
	OnCount   func(total int)
}

// Update is one observation of a thread.
type Update struct {
	Added []model.Comment

	// Sync marks Existing as the complete list of live IDs; known IDs
	// missing from it are reported deleted.
	Sync     bool
	Existing []int64
	Deleted  []int64

	// Total is the server-side comment count, or -1 when the update
	// carries none.
	Total int
}

// ChannelName returns the connection-manager channel of a thread.
func ChannelName(kind api.ThreadKind, id int64) string {
	prefix := "task"
	if kind == api.ThreadNews {
		prefix = "news"
	}
	return prefix + "-comments-" + strconv.FormatInt(id, 10)
}

// Feed follows a single comment thread.
type Feed struct {
	kind     api.ThreadKind
	id       int64
	name     string
	interval time.Duration
	streams  Streams
	source   Source
	hooks    Hooks
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	known   *seen.Set
	cursor  float64
	total   int
	primed  bool
	started bool
	opens   int
}

// New creates a feed for one thread.
func New(kind api.ThreadKind, id int64, interval time.Duration, streams Streams, source Source, hooks Hooks, logger *slog.Logger) (*Feed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	known, err := seen.NewSet(maxKnown)
	if err != nil {
		return nil, err
	}
	name := ChannelName(kind, id)
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		kind:     kind,
		id:       id,
		name:     name,
		interval: interval,
		streams:  streams,
		source:   source,
		hooks:    hooks,
		logger:   logger.With("component", "comments", "channel", name),
		ctx:      ctx,
		cancel:   cancel,
		known:    known,
		total:    unknownTotal,
	}, nil
}

// Name returns the feed's channel name.
func (f *Feed) Name() string {
	return f.name
}

// Cursor returns the creation timestamp of the newest known comment.
func (f *Feed) Cursor() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Known reports whether a comment has been seen.
func (f *Feed) Known(id int64) bool {
	return f.known.Has(id)
}

// Prime marks the current thread contents as already shown. Comments in the
// snapshot are not reported through OnAdded.
func (f *Feed) Prime(ctx context.Context) error {
	page, err := f.source.Comments(ctx, f.kind, f.id)
	if err != nil {
		return fmt.Errorf("prime %s: %w", f.name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range page.Comments {
		f.known.Add(c.ID)
		f.advanceLocked(c)
	}
	f.primed = true
	f.setTotalLocked(page.Total)
	f.logger.Debug("primed", "comments", len(page.Comments), "cursor", f.cursor)
	return nil
}

// StreamURL returns the stream URL carrying the current cursor.
func (f *Feed) StreamURL() string {
	base := f.source.ResolveURL(api.CommentsStreamPath(f.kind, f.id))
	cursor := f.Cursor()
	if cursor <= 0 {
		return base
	}
	q := url.Values{}
	q.Set("last_timestamp", strconv.FormatFloat(cursor, 'f', -1, 64))
	return base + "?" + q.Encode()
}

// Start primes the feed if needed and registers its channel.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	primed := f.primed
	f.mu.Unlock()

	if !primed {
		if err := f.Prime(ctx); err != nil {
			// The stream still works without a cursor; existing comments
			// are then reported once by the first poll or sync.
			f.logger.Warn("failed to prime", "error", err)
		}
	}

	cb := connection.Callbacks{
		OnOpen: f.handleOpen,
		OnError: func(err error, attempts int) {
			f.logger.Warn("comment stream error", "error", err, "attempts", attempts)
		},
		Events: map[string]connection.EventHandler{
			EventNew:       f.handleNew,
			EventSync:      f.handleSync,
			EventHeartbeat: f.handleHeartbeat,
			EventAdded:     f.handleAdded,
			EventDeleted:   f.handleDeleted,
		},
	}
	fb := &connection.Fallback{
		URL:      f.source.ResolveURL(api.CommentsPath(f.kind, f.id)),
		Interval: f.interval,
		OnData:   f.handlePage,
	}

	if err := f.streams.Connect(f.name, f.StreamURL(), cb, fb); err != nil {
		return fmt.Errorf("register %s: %w", f.name, err)
	}
	return nil
}

// Stop tears the channel down.
func (f *Feed) Stop() {
	f.streams.Disconnect(f.name, true)
	f.cancel()
}

// Apply merges an observation and returns what it reported.
func (f *Feed) Apply(u Update) (added []model.Comment, deleted []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	incoming := slices.Clone(u.Added)
	slices.SortStableFunc(incoming, func(a, b model.Comment) int {
		switch {
		case a.CreatedAtTimestamp < b.CreatedAtTimestamp:
			return -1
		case a.CreatedAtTimestamp > b.CreatedAtTimestamp:
			return 1
		}
		return 0
	})
	for _, c := range incoming {
		if len(f.known.Add(c.ID)) == 0 {
			continue
		}
		f.advanceLocked(c)
		added = append(added, c)
	}

	if u.Sync {
		deleted = f.known.Retain(u.Existing)
	}
	for _, id := range u.Deleted {
		if f.known.Has(id) && !slices.Contains(deleted, id) {
			f.known.Remove(id)
			deleted = append(deleted, id)
		}
	}

	for _, c := range added {
		f.logger.Debug("comment added", "id", c.ID, "author", c.User.FullName)
		if f.hooks.OnAdded != nil {
			f.hooks.OnAdded(c)
		}
	}
	for _, id := range deleted {
		f.logger.Debug("comment deleted", "id", id)
		if f.hooks.OnDeleted != nil {
			f.hooks.OnDeleted(id)
		}
	}

	total := u.Total
	if total == unknownTotal && f.total != unknownTotal {
		total = f.total + len(added) - len(deleted)
	}
	f.setTotalLocked(total)
	return added, deleted
}

func (f *Feed) advanceLocked(c model.Comment) {
	if c.CreatedAtTimestamp > f.cursor {
		f.cursor = c.CreatedAtTimestamp
	}
}

func (f *Feed) setTotalLocked(total int) {
	if total < 0 || total == f.total {
		return
	}
	f.total = total
	if f.hooks.OnCount != nil {
		f.hooks.OnCount(total)
	}
}

// handleOpen resyncs after a reconnect. A fresh stream only reports comments
// created after it opened, so anything posted in the gap comes from the
// snapshot.
func (f *Feed) handleOpen() {
	f.mu.Lock()
	f.opens++
	reopen := f.opens > 1
	f.mu.Unlock()

	f.logger.Info("comment stream open", "reopen", reopen)
	if reopen {
		go f.resync()
	}
}

func (f *Feed) resync() {
	page, err := f.source.Comments(f.ctx, f.kind, f.id)
	if err != nil {
		if f.ctx.Err() == nil {
			f.logger.Warn("resync failed", "error", err)
		}
		return
	}
	if f.stopped() {
		return
	}
	f.applyPage(page)
}

// stopped reports whether Stop has been called. Events still in flight from
// the manager or poller are dropped after that.
func (f *Feed) stopped() bool {
	return f.ctx.Err() != nil
}

func (f *Feed) applyPage(page model.CommentsPage) {
	existing := make([]int64, len(page.Comments))
	for i, c := range page.Comments {
		existing[i] = c.ID
	}
	f.Apply(Update{Added: page.Comments, Sync: true, Existing: existing, Total: page.Total})
}

func (f *Feed) handlePage(payload json.RawMessage) {
	if f.stopped() {
		return
	}
	var page model.CommentsPage
	if err := json.Unmarshal(payload, &page); err != nil {
		f.logger.Warn("invalid comments page", "error", err)
		return
	}
	if page.Comments == nil {
		f.logger.Warn("comments page without comments")
		return
	}
	f.applyPage(page)
}

func (f *Feed) handleNew(payload json.RawMessage) {
	if f.stopped() {
		return
	}
	var ev model.NewComments
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("invalid new_comments event", "error", err)
		return
	}
	f.Apply(Update{Added: ev.Comments, Total: totalOf(ev.TotalCount)})
}

func (f *Feed) handleSync(payload json.RawMessage) {
	if f.stopped() {
		return
	}
	var ev model.CommentsSync
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("invalid comments_sync event", "error", err)
		return
	}
	if ev.ExistingIDs == nil {
		f.Apply(Update{Deleted: ev.DeletedIDs, Total: totalOf(ev.TotalCount)})
		return
	}
	f.Apply(Update{Sync: true, Existing: ev.ExistingIDs, Deleted: ev.DeletedIDs, Total: totalOf(ev.TotalCount)})
}

// totalOf maps an absent total_count to unknownTotal.
func totalOf(n *int) int {
	if n == nil {
		return unknownTotal
	}
	return *n
}

func (f *Feed) handleAdded(payload json.RawMessage) {
	if f.stopped() {
		return
	}
	var ev model.CommentAdded
	if err := json.Unmarshal(payload, &ev); err != nil || ev.ID == 0 {
		f.logger.Warn("invalid comment_added event", "error", err)
		return
	}
	f.Apply(Update{Added: []model.Comment{ev.Comment()}, Total: unknownTotal})
}

func (f *Feed) handleDeleted(payload json.RawMessage) {
	if f.stopped() {
		return
	}
	var ev model.CommentDeleted
	if err := json.Unmarshal(payload, &ev); err != nil || ev.CommentID == 0 {
		f.logger.Warn("invalid comment_deleted event", "error", err)
		return
	}
	f.Apply(Update{Deleted: []int64{ev.CommentID}, Total: unknownTotal})
}

func (f *Feed) handleHeartbeat(json.RawMessage) {
	f.logger.Debug("comment heartbeat")
}
