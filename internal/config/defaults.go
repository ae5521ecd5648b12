package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultAPITimeout            = 30 * time.Second
	DefaultMaxRetries            = 3
	DefaultRetryBackoff          = 1 * time.Second
	DefaultRateLimit             = 5.0
	DefaultMaxConnections        = 3
	DefaultMaxReconnectAttempts  = 3
	DefaultReconnectBaseDelay    = 3 * time.Second
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultControlReconnectDelay = 1 * time.Second
	DefaultReadTimeout           = 90 * time.Second // Two missed 45s server heartbeats
	DefaultPollTimeout           = 10 * time.Second
	DefaultNotificationStream    = "/sse/notifications"
	DefaultNotificationPoll      = "/notifications/unread-ids"
	DefaultNotificationInterval  = 20 * time.Second
	DefaultCommentInterval       = 3 * time.Second
	DefaultStoreDriver           = StoreMemory
	DefaultSQLitePath            = "taskstream-seen.db"
	DefaultMaxSeenIDs            = 1000
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 4
	DefaultMinConns              = 1
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}

	// Stream defaults
	if c.Stream.MaxConnections == 0 {
		c.Stream.MaxConnections = DefaultMaxConnections
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.ControlReconnectDelay == 0 {
		c.Stream.ControlReconnectDelay = DefaultControlReconnectDelay
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.PollTimeout == 0 {
		c.Stream.PollTimeout = DefaultPollTimeout
	}

	// Consumer defaults
	if c.Notifications.StreamPath == "" {
		c.Notifications.StreamPath = DefaultNotificationStream
	}
	if c.Notifications.PollPath == "" {
		c.Notifications.PollPath = DefaultNotificationPoll
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = DefaultNotificationInterval
	}
	if c.Comments.PollInterval == 0 {
		c.Comments.PollInterval = DefaultCommentInterval
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = DefaultSQLitePath
	}
	if c.Store.MaxIDs == 0 {
		c.Store.MaxIDs = DefaultMaxSeenIDs
	}
	if c.Store.Driver == StorePostgres {
		applyDBDefaults(&c.Store.Postgres)
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
