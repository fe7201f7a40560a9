// Package housekeeper prunes statistics and settled notification attempts
// that have aged past the retention window.
//
// Listings themselves are never pruned: the ledger is the dedup memory and
// must keep every source id it has admitted.
package housekeeper

import (
	"context"
	"log"
	"time"
)

// Store defines the pruning operations the housekeeper needs.
type Store interface {
	// PruneOutcomes removes execution outcomes and cycle reports started
	// before the cutoff.
	PruneOutcomes(ctx context.Context, before time.Time) (int64, error)
	// PruneAttempts removes attempts older than the cutoff whose listing is
	// already notified.
	PruneAttempts(ctx context.Context, before time.Time) (int64, error)
}

// MetricsSink defines the interface for recording housekeeping metrics.
type MetricsSink interface {
	RowsPruned(kind string, n int64)
}

// Config holds housekeeper configuration.
type Config struct {
	// Retention is how long statistics are kept.
	// Default: 30 days.
	Retention time.Duration
}

// DefaultConfig returns the default housekeeper configuration.
func DefaultConfig() Config {
	return Config{
		Retention: 720 * time.Hour,
	}
}

// Result reports what one sweep removed.
type Result struct {
	Outcomes int64
	Attempts int64
}

type Housekeeper struct {
	config  Config
	store   Store
	metrics MetricsSink
	clock   func() time.Time
}

func New(config Config, store Store) *Housekeeper {
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &Housekeeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the housekeeper.
func (h *Housekeeper) WithMetrics(sink MetricsSink) *Housekeeper {
	h.metrics = sink
	return h
}

// WithClock replaces the time source. Used by tests.
func (h *Housekeeper) WithClock(clock func() time.Time) *Housekeeper {
	h.clock = clock
	return h
}

// Sweep runs one pruning pass. Errors are logged; the two prunes are
// independent and one failing does not skip the other.
func (h *Housekeeper) Sweep(ctx context.Context) Result {
	var res Result
	cutoff := h.clock().UTC().Add(-h.config.Retention)

	n, err := h.store.PruneOutcomes(ctx, cutoff)
	if err != nil {
		log.Printf("housekeeper: prune outcomes: %v", err)
	}
	res.Outcomes = n

	if ctx.Err() != nil {
		return res
	}

	n, err = h.store.PruneAttempts(ctx, cutoff)
	if err != nil {
		log.Printf("housekeeper: prune attempts: %v", err)
	}
	res.Attempts = n

	if h.metrics != nil {
		h.metrics.RowsPruned("outcomes", res.Outcomes)
		h.metrics.RowsPruned("attempts", res.Attempts)
	}
	if res.Outcomes > 0 || res.Attempts > 0 {
		log.Printf("housekeeper: sweep complete cutoff=%s outcomes=%d attempts=%d",
			cutoff.Format(time.RFC3339), res.Outcomes, res.Attempts)
	}
	return res
}
