package config

import (
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"DATABASE_DRIVER", "DATABASE_URL", "DATABASE_PATH", "REDIS_ADDR", "HTTP_ADDR", "PORT",
	"DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	"HTTP_SHUTDOWN_TIMEOUT", "DEFAULT_INTERVAL", "SLEEP_FLOOR", "COURTESY_DELAY", "GROUP_DELAY", "FETCH_TIMEOUT",
	"FETCH_LIMIT", "DISPATCHER_WORKERS", "SHUTDOWN_GRACE", "HOUSEKEEPING_EVERY", "STATS_RETENTION",
	"MAX_STORAGE_FAILURES", "NOTIFY_BATCH_SIZE", "FETCH_MODE", "FETCH_RETRIES", "NOTIFY_SINKS",
	"NOTIFY_FILE_PATH", "NOTIFY_FILE_FORMAT", "NOTIFY_WEBHOOK_SECRET", "NOTIFY_WEBHOOK_TIMEOUT",
	"NOTIFY_REDIS_CHANNEL", "CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN",
	"METRICS_PATH", "LEADER_LOCK_KEY", "LEADER_RETRY_INTERVAL", "LEADER_HEARTBEAT_INTERVAL",
	"BROWSER_HEADLESS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver: expected sqlite, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabasePath != "data/marketwatch.db" {
		t.Errorf("DatabasePath: expected data/marketwatch.db, got %q", cfg.DatabasePath)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.DBOpTimeout != 5*time.Second {
		t.Errorf("DBOpTimeout: expected 5s, got %v", cfg.DBOpTimeout)
	}
	if cfg.DBMaxOpenConns != 25 || cfg.DBMaxIdleConns != 5 {
		t.Errorf("pool: expected 25/5, got %d/%d", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
	if cfg.DBConnMaxLifetime != 30*time.Minute {
		t.Errorf("DBConnMaxLifetime: expected 30m, got %v", cfg.DBConnMaxLifetime)
	}
	if cfg.DefaultInterval != 120*time.Second {
		t.Errorf("DefaultInterval: expected 120s, got %v", cfg.DefaultInterval)
	}
	if cfg.SleepFloor != 30*time.Second {
		t.Errorf("SleepFloor: expected 30s, got %v", cfg.SleepFloor)
	}
	if cfg.CourtesyDelay != 2*time.Second {
		t.Errorf("CourtesyDelay: expected 2s, got %v", cfg.CourtesyDelay)
	}
	if cfg.GroupDelay != 5*time.Second {
		t.Errorf("GroupDelay: expected 5s, got %v", cfg.GroupDelay)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("FetchTimeout: expected 60s, got %v", cfg.FetchTimeout)
	}
	if cfg.FetchLimit != 50 {
		t.Errorf("FetchLimit: expected 50, got %d", cfg.FetchLimit)
	}
	if cfg.DispatcherWorkers != 1 {
		t.Errorf("DispatcherWorkers: expected 1, got %d", cfg.DispatcherWorkers)
	}
	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("ShutdownGrace: expected 30s, got %v", cfg.ShutdownGrace)
	}
	if cfg.HousekeepingEvery != 10 {
		t.Errorf("HousekeepingEvery: expected 10, got %d", cfg.HousekeepingEvery)
	}
	if cfg.StatsRetention != 720*time.Hour {
		t.Errorf("StatsRetention: expected 720h, got %v", cfg.StatsRetention)
	}
	if cfg.MaxStorageFailures != 5 {
		t.Errorf("MaxStorageFailures: expected 5, got %d", cfg.MaxStorageFailures)
	}
	if cfg.NotifyBatchSize != 500 {
		t.Errorf("NotifyBatchSize: expected 500, got %d", cfg.NotifyBatchSize)
	}
	if cfg.FetchMode != "http" {
		t.Errorf("FetchMode: expected http, got %q", cfg.FetchMode)
	}
	if !cfg.BrowserHeadless {
		t.Error("BrowserHeadless: expected true")
	}
	if strings.Join(cfg.NotifySinks, ",") != "console,file" {
		t.Errorf("NotifySinks: expected console,file, got %v", cfg.NotifySinks)
	}
	if cfg.NotifyRedisChannel != "marketwatch:listings" {
		t.Errorf("NotifyRedisChannel: got %q", cfg.NotifyRedisChannel)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerCooldown != 2*time.Minute {
		t.Errorf("circuit breaker: expected 5/2m, got %d/%v", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if cfg.LeaderLockKey != 728380 {
		t.Errorf("LeaderLockKey: expected 728380, got %d", cfg.LeaderLockKey)
	}
	if cfg.LeaderRetryInterval != 5*time.Second || cfg.LeaderHeartbeatInterval != 2*time.Second {
		t.Errorf("leader intervals: got %v/%v", cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate, got: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DEFAULT_INTERVAL", "300")
	t.Setenv("COURTESY_DELAY", "500ms")
	t.Setenv("GROUP_DELAY", "0")
	t.Setenv("DISPATCHER_WORKERS", "4")
	t.Setenv("NOTIFY_SINKS", " Console , webhook,,redis ")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("PORT", "9000")

	cfg := Load()

	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("DatabaseDriver: expected postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.DefaultInterval != 5*time.Minute {
		t.Errorf("DefaultInterval: bare integers are seconds, got %v", cfg.DefaultInterval)
	}
	if cfg.CourtesyDelay != 500*time.Millisecond {
		t.Errorf("CourtesyDelay: expected 500ms, got %v", cfg.CourtesyDelay)
	}
	if cfg.GroupDelay != 0 {
		t.Errorf("GroupDelay: expected 0, got %v", cfg.GroupDelay)
	}
	if cfg.DispatcherWorkers != 4 {
		t.Errorf("DispatcherWorkers: expected 4, got %d", cfg.DispatcherWorkers)
	}
	if got := strings.Join(cfg.NotifySinks, ","); got != "console,webhook,redis" {
		t.Errorf("NotifySinks: got %q", got)
	}
	if !cfg.HasSink("webhook") || cfg.HasSink("file") {
		t.Errorf("HasSink mismatch for %v", cfg.NotifySinks)
	}
	if cfg.BrowserHeadless {
		t.Error("BrowserHeadless: expected false")
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: expected PORT fallback :9000, got %q", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidIntegersFallBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"negative", "-1"},
		{"zero", "0"},
		{"non-numeric", "abc"},
		{"float", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("FETCH_LIMIT", tt.value)

			cfg := Load()

			if cfg.FetchLimit != 50 {
				t.Errorf("FetchLimit: expected fallback to 50 for %q, got %d", tt.value, cfg.FetchLimit)
			}
		})
	}
}

func TestLoad_CircuitBreakerZeroDisables(t *testing.T) {
	clearEnv(t)
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")

	if cfg := Load(); cfg.CircuitBreakerThreshold != 0 {
		t.Errorf("CircuitBreakerThreshold: expected 0, got %d", cfg.CircuitBreakerThreshold)
	}
}

func TestMaskedJSON_MasksSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db/marketwatch")
	t.Setenv("NOTIFY_WEBHOOK_SECRET", "s3cret")

	cfg := Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "s3cret") {
		t.Errorf("MaskedJSON leaked a secret:\n%s", out)
	}
	for _, field := range []string{`"database_url": "postgres://***"`, `"default_interval"`, `"notify_sinks"`, `"db_op_timeout"`} {
		if !strings.Contains(out, field) {
			t.Errorf("MaskedJSON missing %s", field)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"postgres://u:p@h/db", "postgres://***"},
		{"postgresql://u:p@h/db", "postgresql://***"},
		{"ws://127.0.0.1:9222/devtools/browser/abc", "ws://***"},
		{"plain", "***"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
