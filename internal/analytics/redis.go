// Package analytics keeps time-bucketed counters of admitted listings in
// Redis, keyed by search term and region.
package analytics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

type Config struct {
	// Window is the bucket width: one minute, five minutes, or one hour.
	Window    time.Duration
	Retention time.Duration
	Prefix    string
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 7 * 24 * time.Hour,
		Prefix:    "marketwatch",
	}
}

type RedisSink struct {
	client redis.UniversalClient
	config Config
}

func NewRedisSink(client redis.UniversalClient, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	if config.Prefix == "" {
		config.Prefix = DefaultConfig().Prefix
	}
	return &RedisSink{client: client, config: config}
}

// Record increments the bucket for the listing's term and region. Failures
// are logged and dropped.
func (s *RedisSink) Record(ctx context.Context, listing domain.ListingRecord) {
	if err := s.Write(ctx, listing); err != nil {
		log.Printf("analytics: listing=%s: %v", listing.ID, err)
	}
}

func (s *RedisSink) Write(ctx context.Context, listing domain.ListingRecord) error {
	key := BuildKey(s.config.Prefix, listing.Term, listing.Region, listing.DiscoveredAt, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count reads the bucket containing t.
func (s *RedisSink) Count(ctx context.Context, term, region string, t time.Time) (int64, error) {
	key := BuildKey(s.config.Prefix, term, region, t, s.config.Window)
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// BuildKey returns "<prefix>:t:<term>:r:<region>:admitted:<bucket>" with
// spaces in the term replaced by underscores.
func BuildKey(prefix, term, region string, t time.Time, window time.Duration) string {
	term = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(term)), " ", "_")
	return fmt.Sprintf("%s:t:%s:r:%s:admitted:%s", prefix, term, region, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
