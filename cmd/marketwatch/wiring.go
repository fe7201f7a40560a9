package main

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dalexandrias/marketwatch/internal/circuitbreaker"
	"github.com/dalexandrias/marketwatch/internal/config"
	"github.com/dalexandrias/marketwatch/internal/fetch"
	"github.com/dalexandrias/marketwatch/internal/notify"
)

// Webhook retry schedule: three attempts spread over at most ~30s.
const (
	webhookAttempts = 3
	webhookDelay    = time.Second
	webhookMaxDelay = 30 * time.Second
)

func fetchOptions(cfg config.Config) (fetch.Options, error) {
	opts := fetch.Options{
		URLTemplate:  cfg.FetchURLTemplate,
		ItemSelector: cfg.FetchItemSelector,
		UserAgent:    cfg.FetchUserAgent,
		Retries:      uint(cfg.FetchRetries),
	}
	if cfg.FetchIDPattern != "" {
		re, err := regexp.Compile(cfg.FetchIDPattern)
		if err != nil {
			return fetch.Options{}, fmt.Errorf("FETCH_ID_PATTERN: %w", err)
		}
		opts.IDPattern = re
	}
	return opts, nil
}

// buildOpener returns the fetch adapter selected by FETCH_MODE.
func buildOpener(cfg config.Config) (fetch.Opener, error) {
	opts, err := fetchOptions(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.FetchMode {
	case "", "http":
		return fetch.NewHTTPOpener(opts), nil
	case "browser":
		return fetch.NewBrowserOpener(fetch.BrowserConfig{
			Options:   opts,
			RemoteURL: cfg.BrowserRemoteURL,
			Headless:  cfg.BrowserHeadless,
		}), nil
	case "feed":
		return fetch.NewFeedOpener(opts), nil
	case "static":
		o, err := fetch.LoadStaticFile(cfg.FetchStaticFile)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown FETCH_MODE %q", cfg.FetchMode)
	}
}

// buildSinks creates the sinks named in NOTIFY_SINKS, in that order.
// webhookMetrics may be nil.
func buildSinks(cfg config.Config, redisClient redis.UniversalClient, webhookMetrics notify.WebhookMetrics) ([]notify.Sink, error) {
	var sinks []notify.Sink
	for _, name := range cfg.NotifySinks {
		switch name {
		case "console":
			sinks = append(sinks, notify.NewConsoleSink(cfg.NotifyConsoleDetailed))
		case "file":
			sinks = append(sinks, notify.NewFileSink(cfg.NotifyFilePath, cfg.NotifyFileFormat))
		case "webhook":
			sink := notify.NewWebhookSink(notify.WebhookConfig{
				URL:      cfg.NotifyWebhookURL,
				Secret:   cfg.NotifyWebhookSecret,
				Timeout:  cfg.NotifyWebhookTimeout,
				Attempts: webhookAttempts,
				Delay:    webhookDelay,
				MaxDelay: webhookMaxDelay,
			})
			if cfg.CircuitBreakerThreshold > 0 {
				sink = sink.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
			}
			if webhookMetrics != nil {
				sink = sink.WithMetrics(webhookMetrics)
			}
			sinks = append(sinks, sink)
		case "redis":
			if redisClient == nil {
				return nil, errors.New("redis sink requires REDIS_ADDR")
			}
			sinks = append(sinks, notify.NewRedisSink(redisClient, cfg.NotifyRedisChannel))
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, nil
}

// logConfigWarnings logs operational warnings for risky configurations.
// Does not block startup.
func logConfigWarnings(cfg *config.Config) {
	if len(cfg.NotifySinks) == 0 {
		log.Println("WARNING [P0]: NOTIFY_SINKS is empty. New listings are stored but nobody is told.")
	}

	if cfg.CourtesyDelay == 0 {
		log.Println("WARNING [P0]: COURTESY_DELAY=0. Back-to-back searches for one term are likely to get the session blocked.")
	}

	if cfg.FetchMode == "static" {
		log.Printf("WARNING [P1]: FETCH_MODE=static. Candidates come from %s; the live feed is never contacted.", cfg.FetchStaticFile)
	}

	if cfg.HasSink("webhook") && cfg.NotifyWebhookSecret == "" {
		log.Println("WARNING [P1]: NOTIFY_WEBHOOK_SECRET is empty. Webhook deliveries are unsigned.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. No visibility into blocked fetches or failed notifications.")
	}

	if cfg.DatabaseDriver == "postgres" && !cfg.LeaderElection {
		log.Println("INFO: LEADER_ELECTION=false. Run a single instance per database or listings may be fetched twice.")
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DispatcherWorkers > 1 {
		log.Printf("INFO: DISPATCHER_WORKERS=%d on sqlite. Fetches run concurrently but bookkeeping writes are serialized.",
			cfg.DispatcherWorkers)
	}
}
