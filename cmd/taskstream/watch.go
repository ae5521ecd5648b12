package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/taskstream/internal/api"
	"github.com/rickgao/taskstream/internal/auth"
	"github.com/rickgao/taskstream/internal/comments"
	"github.com/rickgao/taskstream/internal/config"
	"github.com/rickgao/taskstream/internal/connection"
	"github.com/rickgao/taskstream/internal/logging"
	"github.com/rickgao/taskstream/internal/model"
	"github.com/rickgao/taskstream/internal/notify"
	"github.com/rickgao/taskstream/internal/poller"
	"github.com/rickgao/taskstream/internal/seen"
	"github.com/rickgao/taskstream/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow notifications and comment threads until interrupted",
		Long: `Follow notifications and comment threads until interrupted.

Streams fall back to polling when the server is unreachable or too many
streams are open. Send SIGUSR1 to reopen closed streams immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/taskstream.example.yaml", "path to config file")
	return cmd
}

func runWatch(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting taskstream",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.BaseURL,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := auth.NewSession(cfg.API.Token, cfg.API.SessionCookie, cfg.Instance.ID)
	client := api.NewClient(
		cfg.API.BaseURL,
		api.WithSession(session),
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithRateLimit(cfg.API.RateLimit),
	)

	store, err := seen.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open seen store: %w", err)
	}
	defer store.Close()

	polls := poller.New(poller.Config{
		DefaultInterval: cfg.Notifications.PollInterval,
		Timeout:         cfg.Stream.PollTimeout,
	}, client, logger)

	var dial connection.Dialer
	if cfg.Stream.Disabled {
		logger.Info("streaming disabled, every channel polls")
	} else {
		clientCfg := connection.DefaultClientConfig()
		clientCfg.Session = session
		clientCfg.ReadTimeout = cfg.Stream.ReadTimeout
		dial = connection.NewDialer(clientCfg, logger)
	}

	manager := connection.NewManager(connection.ManagerConfig{
		MaxConnections:        cfg.Stream.MaxConnections,
		MaxReconnectAttempts:  cfg.Stream.MaxReconnectAttempts,
		ReconnectBaseDelay:    cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:     cfg.Stream.ReconnectMaxDelay,
		ControlReconnectDelay: cfg.Stream.ControlReconnectDelay,
	}, dial, polls, logger)

	w := &watcher{
		cfg:     cfg,
		client:  client,
		manager: manager,
		store:   store,
		logger:  logger,
	}
	if err := w.start(ctx); err != nil {
		w.stop()
		shutdown(manager, polls, logger)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Health.Port > 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(manager, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return resumeOnSignal(gctx, manager, logger)
	})

	logger.Info("taskstream running", "channels", manager.Channels())
	err = g.Wait()

	logger.Info("shutting down...")
	w.stop()
	shutdown(manager, polls, logger)
	logger.Info("taskstream stopped")
	return err
}

// resumeOnSignal treats SIGUSR1 as the client becoming visible again.
func resumeOnSignal(ctx context.Context, manager *connection.Manager, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			logger.Info("resume requested")
			manager.Resume()
		}
	}
}

func shutdown(manager *connection.Manager, polls *poller.Poller, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Stop(ctx); err != nil {
		logger.Warn("connection manager shutdown", "error", err)
	}
	if err := polls.StopAll(ctx); err != nil {
		logger.Warn("poller shutdown", "error", err)
	}
}

// watcher owns the consumers registered with the manager.
type watcher struct {
	cfg     *config.Config
	client  *api.Client
	manager *connection.Manager
	store   seen.Store
	logger  *slog.Logger

	tracker *notify.Tracker
	feeds   []*comments.Feed
}

func (w *watcher) start(ctx context.Context) error {
	if w.cfg.Notifications.Enabled {
		set, err := seen.NewSet(w.cfg.Store.MaxIDs)
		if err != nil {
			return err
		}
		full := w.cfg.Notifications.FullSummary
		w.tracker = notify.New(notify.Config{
			StreamURL:    w.client.ResolveURL(w.cfg.Notifications.StreamPath),
			PollURL:      w.client.ResolveURL(w.cfg.Notifications.PollPath),
			PollInterval: w.cfg.Notifications.PollInterval,
		}, w.manager, w.client, w.store, set, notify.Hooks{
			OnNew: func(n model.Notification) {
				w.logger.Info("notification", "id", n.ID, "type", n.Type, "text", notify.Summary(n, full), "link", n.Link)
			},
			OnCount: func(unread int) {
				w.logger.Info("unread notifications", "count", unread)
			},
		}, w.logger)
		if err := w.tracker.Start(ctx); err != nil {
			return fmt.Errorf("start notifications: %w", err)
		}
	}

	for _, id := range w.cfg.Comments.TaskIDs {
		if err := w.follow(ctx, api.ThreadTask, id); err != nil {
			return err
		}
	}
	for _, id := range w.cfg.Comments.NewsIDs {
		if err := w.follow(ctx, api.ThreadNews, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *watcher) follow(ctx context.Context, kind api.ThreadKind, id int64) error {
	name := comments.ChannelName(kind, id)
	logger := w.logger.With("thread", name)
	feed, err := comments.New(kind, id, w.cfg.Comments.PollInterval, w.manager, w.client, comments.Hooks{
		OnAdded: func(c model.Comment) {
			logger.Info("comment", "id", c.ID, "author", c.User.FullName, "text", c.Content)
		},
		OnDeleted: func(commentID int64) {
			logger.Info("comment deleted", "id", commentID)
		},
		OnCount: func(total int) {
			logger.Debug("comment count", "total", total)
		},
	}, w.logger)
	if err != nil {
		return fmt.Errorf("create feed %s: %w", name, err)
	}
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed %s: %w", name, err)
	}
	w.feeds = append(w.feeds, feed)
	return nil
}

func (w *watcher) stop() {
	for _, f := range w.feeds {
		f.Stop()
	}
	if w.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := w.tracker.Stop(ctx); err != nil {
			w.logger.Warn("failed to flush seen notifications", "error", err)
		}
	}
}
