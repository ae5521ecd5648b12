package config

import "time"

// Config is the root configuration for a taskstream client.
type Config struct {
	Instance      InstanceConfig      `yaml:"instance"`
	API           APIConfig           `yaml:"api"`
	Stream        StreamConfig        `yaml:"stream"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Comments      CommentsConfig      `yaml:"comments"`
	Store         StoreConfig         `yaml:"store"`
	Log           LogConfig           `yaml:"log"`
	Health        HealthConfig        `yaml:"health"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"` // Sent as X-Client-ID; generated when empty
}

// APIConfig holds workflow server settings.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`          // Bearer token (optional)
	SessionCookie string        `yaml:"session_cookie"` // Value of the "session" cookie (optional)
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	RateLimit     float64       `yaml:"rate_limit"` // Requests per second across all endpoints
}

// StreamConfig holds connection manager settings.
type StreamConfig struct {
	Disabled              bool          `yaml:"disabled"` // Force polling for every channel
	MaxConnections        int           `yaml:"max_connections"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	ControlReconnectDelay time.Duration `yaml:"control_reconnect_delay"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	PollTimeout           time.Duration `yaml:"poll_timeout"`
}

// NotificationsConfig holds notification tracker settings.
type NotificationsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	StreamPath   string        `yaml:"stream_path"`
	PollPath     string        `yaml:"poll_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FullSummary  bool          `yaml:"full_summary"` // Title + body instead of title only
}

// CommentsConfig holds comment feed settings.
type CommentsConfig struct {
	TaskIDs      []int64       `yaml:"task_ids"`
	NewsIDs      []int64       `yaml:"news_ids"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects where seen notification IDs are kept.
type StoreConfig struct {
	Driver     string   `yaml:"driver"` // "memory", "sqlite" or "postgres"
	SQLitePath string   `yaml:"sqlite_path"`
	Postgres   DBConfig `yaml:"postgres"`
	MaxIDs     int      `yaml:"max_ids"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, pretty
}

// HealthConfig holds the optional status server settings.
type HealthConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}
