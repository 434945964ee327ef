package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string

	ListenAddr string

	// RetentionDays is how long raw events are kept when a project does
	// not override it.
	RetentionDays int

	// BucketWidthMinutes is the system-wide bucket width used when a
	// project does not override it. Must evenly divide 1440.
	BucketWidthMinutes int

	// MaxPageSize caps event listings; longer results are truncated.
	MaxPageSize int

	// MaxMetaBytes bounds the serialized size of an event's meta payload.
	MaxMetaBytes int

	// StoreTimeout bounds every call that reaches the backing store.
	StoreTimeout time.Duration

	// CounterBackend selects where bucket counters live: "db" or "redis".
	CounterBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	AlertWorkers     int
	AlertQueueSize   int
	DispatchInterval time.Duration
	NotifyTimeout    time.Duration

	// Notifier selects alert delivery: "webhook" posts to project targets,
	// "log" only writes alerts to the service log.
	Notifier      string
	SMSGatewayURL string

	LogLevel    string
	LogEncoding string

	// InternalAPIKey is used for self-reporting request logs from this instance.
	// It must be a prod_ key. If empty, internal reporting is disabled.
	InternalAPIKey string

	// BootstrapProject, when set, is created on startup together with a
	// member user reachable through BootstrapSessionToken.
	BootstrapProject      string
	BootstrapSessionToken string
}

// Load reads configuration from environment variables and applies
// defaults for anything unset or unparsable.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:           os.Getenv("APP_DATABASE_URL"),
		ListenAddr:            getenv("APP_LISTEN_ADDR", ":8080"),
		RetentionDays:         getint("APP_RETENTION_DAYS", 30),
		BucketWidthMinutes:    getint("APP_BUCKET_WIDTH_MINUTES", 5),
		MaxPageSize:           getint("APP_MAX_PAGE_SIZE", 500),
		MaxMetaBytes:          getint("APP_MAX_META_BYTES", 8192),
		StoreTimeout:          getduration("APP_STORE_TIMEOUT", 5*time.Second),
		CounterBackend:        getenv("APP_COUNTER_BACKEND", "db"),
		RedisAddr:             getenv("APP_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("APP_REDIS_PASSWORD"),
		RedisDB:               getint("APP_REDIS_DB", 0),
		AlertWorkers:          getint("APP_ALERT_WORKERS", 4),
		AlertQueueSize:        getint("APP_ALERT_QUEUE_SIZE", 1024),
		DispatchInterval:      getduration("APP_DISPATCH_INTERVAL", 15*time.Second),
		NotifyTimeout:         getduration("APP_NOTIFY_TIMEOUT", 5*time.Second),
		Notifier:              getenv("APP_NOTIFIER", "webhook"),
		SMSGatewayURL:         os.Getenv("APP_SMS_GATEWAY_URL"),
		LogLevel:              getenv("APP_LOG_LEVEL", "info"),
		LogEncoding:           getenv("APP_LOG_ENCODING", "json"),
		InternalAPIKey:        getenv("APP_INTERNAL_API_KEY", ""),
		BootstrapProject:      getenv("APP_BOOTSTRAP_PROJECT", ""),
		BootstrapSessionToken: getenv("APP_BOOTSTRAP_SESSION_TOKEN", ""),
	}
	return cfg
}

// Validate reports configuration values the service cannot run with.
func (c *Config) Validate() error {
	if c.BucketWidthMinutes <= 0 || 1440%c.BucketWidthMinutes != 0 {
		return fmt.Errorf("APP_BUCKET_WIDTH_MINUTES must be a positive divisor of 1440, got %d", c.BucketWidthMinutes)
	}
	switch c.CounterBackend {
	case "db", "redis":
	default:
		return fmt.Errorf("APP_COUNTER_BACKEND must be db or redis, got %q", c.CounterBackend)
	}
	switch c.Notifier {
	case "webhook", "log":
	default:
		return fmt.Errorf("APP_NOTIFIER must be webhook or log, got %q", c.Notifier)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("APP_STORE_TIMEOUT must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
