package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dalexandrias/marketwatch/internal/interval"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

var (
	fetchModes  = []string{"http", "browser", "feed", "static"}
	sinkNames   = []string{"console", "file", "webhook", "redis"}
	fileFormats = []string{"json", "text"}
)

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.DatabaseDriver {
	case "", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when DATABASE_DRIVER is postgres")
		}
	default:
		add("DATABASE_DRIVER", "must be 'sqlite' or 'postgres', got %q", cfg.DatabaseDriver)
	}

	if cfg.LeaderElection && cfg.DatabaseDriver != "postgres" {
		add("LEADER_ELECTION", "requires DATABASE_DRIVER=postgres")
	}

	positive := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"FETCH_TIMEOUT", cfg.FetchTimeoutStr},
		{"SHUTDOWN_GRACE", cfg.ShutdownGraceStr},
		{"STATS_RETENTION", cfg.StatsRetentionStr},
		{"NOTIFY_WEBHOOK_TIMEOUT", cfg.NotifyWebhookTimeoutStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, p := range positive {
		if p.value == "" {
			continue
		}
		if d, err := checkDuration(p.value); err != nil {
			add(p.field, "invalid duration: %v", err)
		} else if d <= 0 {
			add(p.field, "must be positive")
		}
	}

	// Zero is allowed here.
	for _, p := range []struct{ field, value string }{
		{"COURTESY_DELAY", cfg.CourtesyDelayStr},
		{"GROUP_DELAY", cfg.GroupDelayStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
	} {
		if p.value == "" {
			continue
		}
		if d, err := checkDuration(p.value); err != nil {
			add(p.field, "invalid duration: %v", err)
		} else if d < 0 {
			add(p.field, "must not be negative")
		}
	}

	for _, p := range []struct{ field, value string }{
		{"DEFAULT_INTERVAL", cfg.DefaultIntervalStr},
		{"SLEEP_FLOOR", cfg.SleepFloorStr},
	} {
		if p.value == "" {
			continue
		}
		if d, err := checkDuration(p.value); err != nil {
			add(p.field, "invalid duration: %v", err)
		} else if d < interval.Minimum {
			add(p.field, "must be at least %s", interval.Format(interval.Minimum))
		}
	}

	if cfg.FetchMode != "" && !oneOf(cfg.FetchMode, fetchModes) {
		add("FETCH_MODE", "must be one of %s, got %q", strings.Join(fetchModes, ", "), cfg.FetchMode)
	}
	if cfg.FetchMode == "static" && cfg.FetchStaticFile == "" {
		add("FETCH_STATIC_FILE", "required when FETCH_MODE is static")
	}
	if cfg.FetchIDPattern != "" {
		re, err := regexp.Compile(cfg.FetchIDPattern)
		if err != nil {
			add("FETCH_ID_PATTERN", "invalid regexp: %v", err)
		} else if re.NumSubexp() < 1 {
			add("FETCH_ID_PATTERN", "must contain a capture group for the listing id")
		}
	}
	if cfg.FetchURLTemplate != "" && !strings.Contains(cfg.FetchURLTemplate, "{term}") {
		add("FETCH_URL_TEMPLATE", "must contain {term}")
	}

	for _, s := range cfg.NotifySinks {
		if !oneOf(s, sinkNames) {
			add("NOTIFY_SINKS", "unknown sink %q (valid: %s)", s, strings.Join(sinkNames, ", "))
		}
	}
	if cfg.HasSink("file") && cfg.NotifyFileFormat != "" && !oneOf(cfg.NotifyFileFormat, fileFormats) {
		add("NOTIFY_FILE_FORMAT", "must be 'json' or 'text', got %q", cfg.NotifyFileFormat)
	}
	if cfg.HasSink("webhook") {
		if cfg.NotifyWebhookURL == "" {
			add("NOTIFY_WEBHOOK_URL", "required when the webhook sink is enabled")
		} else if u, err := url.Parse(cfg.NotifyWebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("NOTIFY_WEBHOOK_URL", "must be an absolute http(s) URL")
		}
	}
	if cfg.HasSink("redis") && cfg.RedisAddr == "" {
		add("REDIS_ADDR", "required when the redis sink is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDuration(s string) (time.Duration, error) {
	if n, err := parseInt(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
