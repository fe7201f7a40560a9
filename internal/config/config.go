package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for marketwatch.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	// DatabaseDriver: "sqlite" (single file, the default) or "postgres".
	DatabaseDriver string `json:"database_driver"`
	DatabaseURL    string `json:"database_url,omitempty"`
	DatabasePath   string `json:"database_path"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	HTTPAddr       string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// DefaultInterval is assigned to keywords created without one and is the
	// base inter-cycle sleep.
	DefaultInterval    time.Duration `json:"-"`
	DefaultIntervalStr string        `json:"default_interval"`
	SleepFloor         time.Duration `json:"-"`
	SleepFloorStr      string        `json:"sleep_floor"`
	CourtesyDelay      time.Duration `json:"-"`
	CourtesyDelayStr   string        `json:"courtesy_delay"`
	GroupDelay         time.Duration `json:"-"`
	GroupDelayStr      string        `json:"group_delay"`
	FetchTimeout       time.Duration `json:"-"`
	FetchTimeoutStr    string        `json:"fetch_timeout"`
	FetchLimit         int           `json:"fetch_limit"`
	DispatcherWorkers  int           `json:"dispatcher_workers"`
	ShutdownGrace      time.Duration `json:"-"`
	ShutdownGraceStr   string        `json:"shutdown_grace"`

	HousekeepingEvery  int           `json:"housekeeping_every"`
	StatsRetention     time.Duration `json:"-"`
	StatsRetentionStr  string        `json:"stats_retention"`
	MaxStorageFailures int           `json:"max_storage_failures"`
	NotifyBatchSize    int           `json:"notify_batch_size"`

	// FetchMode: "http", "browser", "feed" or "static".
	FetchMode         string `json:"fetch_mode"`
	FetchURLTemplate  string `json:"fetch_url_template,omitempty"`
	FetchItemSelector string `json:"fetch_item_selector,omitempty"`
	FetchIDPattern    string `json:"fetch_id_pattern,omitempty"`
	FetchUserAgent    string `json:"fetch_user_agent,omitempty"`
	FetchRetries      int    `json:"fetch_retries"`
	FetchStaticFile   string `json:"fetch_static_file,omitempty"`
	BrowserRemoteURL  string `json:"browser_remote_url,omitempty"`
	BrowserHeadless   bool   `json:"browser_headless"`

	// NotifySinks: any of "console", "file", "webhook", "redis".
	NotifySinks             []string      `json:"notify_sinks"`
	NotifyFilePath          string        `json:"notify_file_path"`
	NotifyFileFormat        string        `json:"notify_file_format"`
	NotifyConsoleDetailed   bool          `json:"notify_console_detailed"`
	NotifyWebhookURL        string        `json:"notify_webhook_url,omitempty"`
	NotifyWebhookSecret     string        `json:"notify_webhook_secret,omitempty"`
	NotifyWebhookTimeout    time.Duration `json:"-"`
	NotifyWebhookTimeoutStr string        `json:"notify_webhook_timeout"`
	NotifyRedisChannel      string        `json:"notify_redis_channel"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// LeaderElection requires the postgres driver.
	LeaderElection bool `json:"leader_election"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseDriver:        strings.ToLower(os.Getenv("DATABASE_DRIVER")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DatabasePath:          os.Getenv("DATABASE_PATH"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		HTTPAddr:              os.Getenv("HTTP_ADDR"),
		FetchMode:             strings.ToLower(os.Getenv("FETCH_MODE")),
		FetchURLTemplate:      os.Getenv("FETCH_URL_TEMPLATE"),
		FetchItemSelector:     os.Getenv("FETCH_ITEM_SELECTOR"),
		FetchIDPattern:        os.Getenv("FETCH_ID_PATTERN"),
		FetchUserAgent:        os.Getenv("FETCH_USER_AGENT"),
		FetchStaticFile:       os.Getenv("FETCH_STATIC_FILE"),
		BrowserRemoteURL:      os.Getenv("BROWSER_REMOTE_URL"),
		BrowserHeadless:       os.Getenv("BROWSER_HEADLESS") != "false",
		NotifyFilePath:        os.Getenv("NOTIFY_FILE_PATH"),
		NotifyFileFormat:      strings.ToLower(os.Getenv("NOTIFY_FILE_FORMAT")),
		NotifyConsoleDetailed: os.Getenv("NOTIFY_CONSOLE_DETAILED") == "true",
		NotifyWebhookURL:      os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret:   os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		NotifyRedisChannel:    os.Getenv("NOTIFY_REDIS_CHANNEL"),
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:           os.Getenv("METRICS_PATH"),
		MetricsPort:           os.Getenv("METRICS_PORT"),
		LeaderElection:        os.Getenv("LEADER_ELECTION") == "true",

		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DefaultIntervalStr:         os.Getenv("DEFAULT_INTERVAL"),
		SleepFloorStr:              os.Getenv("SLEEP_FLOOR"),
		CourtesyDelayStr:           os.Getenv("COURTESY_DELAY"),
		GroupDelayStr:              os.Getenv("GROUP_DELAY"),
		FetchTimeoutStr:            os.Getenv("FETCH_TIMEOUT"),
		ShutdownGraceStr:           os.Getenv("SHUTDOWN_GRACE"),
		StatsRetentionStr:          os.Getenv("STATS_RETENTION"),
		NotifyWebhookTimeoutStr:    os.Getenv("NOTIFY_WEBHOOK_TIMEOUT"),
		CircuitBreakerCooldownStr:  os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.FetchLimit = positiveInt("FETCH_LIMIT", 50)
	cfg.FetchRetries = positiveInt("FETCH_RETRIES", 3)
	cfg.DispatcherWorkers = positiveInt("DISPATCHER_WORKERS", 1)
	cfg.HousekeepingEvery = positiveInt("HOUSEKEEPING_EVERY", 10)
	cfg.MaxStorageFailures = positiveInt("MAX_STORAGE_FAILURES", 5)
	cfg.NotifyBatchSize = positiveInt("NOTIFY_BATCH_SIZE", 500)

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 728380", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 728380
	}

	cfg.NotifySinks = splitList(os.Getenv("NOTIFY_SINKS"))
	if len(cfg.NotifySinks) == 0 {
		cfg.NotifySinks = []string{"console", "file"}
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "sqlite"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/marketwatch.db"
	}
	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.FetchMode == "" {
		cfg.FetchMode = "http"
	}
	if cfg.NotifyFilePath == "" {
		cfg.NotifyFilePath = "data/notifications.json"
	}
	if cfg.NotifyFileFormat == "" {
		cfg.NotifyFileFormat = "json"
	}
	if cfg.NotifyRedisChannel == "" {
		cfg.NotifyRedisChannel = "marketwatch:listings"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}

	defaultStr(&cfg.DBOpTimeoutStr, "5s")
	defaultStr(&cfg.DBConnMaxLifetimeStr, "30m")
	defaultStr(&cfg.DBConnMaxIdleTimeStr, "5m")
	defaultStr(&cfg.HTTPShutdownTimeoutStr, "10s")
	defaultStr(&cfg.DefaultIntervalStr, "120s")
	defaultStr(&cfg.SleepFloorStr, "30s")
	defaultStr(&cfg.CourtesyDelayStr, "2s")
	defaultStr(&cfg.GroupDelayStr, "5s")
	defaultStr(&cfg.FetchTimeoutStr, "60s")
	defaultStr(&cfg.ShutdownGraceStr, "30s")
	defaultStr(&cfg.StatsRetentionStr, "720h")
	defaultStr(&cfg.NotifyWebhookTimeoutStr, "10s")
	defaultStr(&cfg.CircuitBreakerCooldownStr, "2m")
	defaultStr(&cfg.LeaderRetryIntervalStr, "5s")
	defaultStr(&cfg.LeaderHeartbeatIntervalStr, "2s")

	// Parse durations; validation is handled separately by Validate().
	cfg.DBOpTimeout = parseDuration(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = parseDuration(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = parseDuration(cfg.DBConnMaxIdleTimeStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.DefaultInterval = parseDuration(cfg.DefaultIntervalStr)
	cfg.SleepFloor = parseDuration(cfg.SleepFloorStr)
	cfg.CourtesyDelay = parseDuration(cfg.CourtesyDelayStr)
	cfg.GroupDelay = parseDuration(cfg.GroupDelayStr)
	cfg.FetchTimeout = parseDuration(cfg.FetchTimeoutStr)
	cfg.ShutdownGrace = parseDuration(cfg.ShutdownGraceStr)
	cfg.StatsRetention = parseDuration(cfg.StatsRetentionStr)
	cfg.NotifyWebhookTimeout = parseDuration(cfg.NotifyWebhookTimeoutStr)
	cfg.CircuitBreakerCooldown = parseDuration(cfg.CircuitBreakerCooldownStr)
	cfg.LeaderRetryInterval = parseDuration(cfg.LeaderRetryIntervalStr)
	cfg.LeaderHeartbeatInterval = parseDuration(cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

// HasSink reports whether name is listed in NOTIFY_SINKS.
func (c Config) HasSink(name string) bool {
	for _, s := range c.NotifySinks {
		if s == name {
			return true
		}
	}
	return false
}

func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

func defaultStr(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

// parseDuration returns zero for unparsable input. Bare integers are seconds.
func parseDuration(s string) time.Duration {
	if n, err := parseInt(s); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.NotifyWebhookSecret = maskSecret(c.NotifyWebhookSecret)
	masked.BrowserRemoteURL = maskSecret(c.BrowserRemoteURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "ws://", "wss://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
