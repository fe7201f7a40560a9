// Package notify delivers admitted listings to the configured sinks and
// flips the ledger's notified flag once every sink has been attempted.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

type Ledger interface {
	// Unnotified returns listings with notified = false, oldest first.
	Unnotified(ctx context.Context, limit int) ([]domain.ListingRecord, error)
	MarkNotified(ctx context.Context, listingID uuid.UUID, at time.Time) error
}

type AttemptStore interface {
	InsertAttempt(ctx context.Context, a domain.NotificationAttempt) error
	UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error
	// SentSinks returns the sinks that already delivered the listing.
	SentSinks(ctx context.Context, listingID uuid.UUID) ([]string, error)
}

type Store interface {
	Ledger
	AttemptStore
}

// Sink delivers a single listing. Implementations must be safe for
// sequential reuse across listings.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, listing domain.ListingRecord) error
}

// MetricsSink defines the interface for recording notification metrics.
type MetricsSink interface {
	NotificationAttempted(sink, status string, duration time.Duration)
	ListingsNotified(n int)
	PendingListingsUpdate(n int)
}

// Report summarizes one DeliverPending pass.
type Report struct {
	Listings int
	Sent     int
	Failed   int
	Marked   int
}

type Pipeline struct {
	store     Store
	sinks     []Sink
	batchSize int
	opTimeout time.Duration
	metrics   MetricsSink
	clock     func() time.Time
}

func NewPipeline(store Store, sinks []Sink, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Pipeline{
		store:     store,
		sinks:     sinks,
		batchSize: batchSize,
		opTimeout: 5 * time.Second,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a metrics sink to the pipeline.
func (p *Pipeline) WithMetrics(sink MetricsSink) *Pipeline {
	p.metrics = sink
	return p
}

// WithOpTimeout bounds each attempt and notified-flag write.
func (p *Pipeline) WithOpTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.opTimeout = d
	}
	return p
}

// WithClock replaces the time source. Used by tests.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Sinks returns the names of the configured sinks.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// DeliverPending offers every unnotified listing to each sink that has not
// yet delivered it. A listing is marked notified after all sinks have been
// attempted, whether or not they succeeded. Once ctx is cancelled no further
// sink is attempted, but outcomes already reached are still recorded. The
// only error returned is a failure to read the pending listings.
func (p *Pipeline) DeliverPending(ctx context.Context) (Report, error) {
	var report Report

	listings, err := p.store.Unnotified(ctx, p.batchSize)
	if err != nil {
		return report, fmt.Errorf("get unnotified listings: %w", err)
	}
	if p.metrics != nil {
		p.metrics.PendingListingsUpdate(len(listings))
	}

	for _, listing := range listings {
		if ctx.Err() != nil {
			break
		}
		report.Listings++

		sent, err := p.store.SentSinks(ctx, listing.ID)
		if err != nil {
			log.Printf("notify: listing=%s cannot read attempts, will retry next pass: %v", listing.ID, err)
			continue
		}
		done := make(map[string]bool, len(sent))
		for _, name := range sent {
			done[name] = true
		}

		interrupted := false
		for _, sink := range p.sinks {
			if done[sink.Name()] {
				continue
			}
			// Sinks not yet attempted stay pending for the next pass.
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			if p.attempt(ctx, sink, listing) {
				report.Sent++
				continue
			}
			report.Failed++
			// A delivery cut short by shutdown does not count as attempted.
			if ctx.Err() != nil {
				interrupted = true
				break
			}
		}
		if interrupted {
			break
		}

		opCtx, cancel := p.opContext(ctx)
		err = p.store.MarkNotified(opCtx, listing.ID, p.clock())
		cancel()
		if err != nil {
			log.Printf("notify: listing=%s mark notified: %v", listing.ID, err)
			continue
		}
		report.Marked++
	}

	if p.metrics != nil && report.Marked > 0 {
		p.metrics.ListingsNotified(report.Marked)
	}
	if report.Listings > 0 {
		log.Printf("notify: pass complete listings=%d sent=%d failed=%d marked=%d",
			report.Listings, report.Sent, report.Failed, report.Marked)
	}
	return report, nil
}

// attempt records a pending attempt, delivers, and settles the attempt.
func (p *Pipeline) attempt(ctx context.Context, sink Sink, listing domain.ListingRecord) bool {
	att := domain.NotificationAttempt{
		ID:        uuid.New(),
		ListingID: listing.ID,
		Sink:      sink.Name(),
		Status:    domain.NotificationStatusPending,
		CreatedAt: p.clock(),
	}
	recorded := true
	opCtx, cancel := p.opContext(ctx)
	err := p.store.InsertAttempt(opCtx, att)
	cancel()
	if err != nil {
		recorded = false
		log.Printf("notify: listing=%s sink=%s insert attempt: %v", listing.ID, sink.Name(), err)
	}

	start := time.Now()
	err = safeDeliver(ctx, sink, listing)
	duration := time.Since(start)

	status := domain.NotificationStatusSent
	errMsg := ""
	var sentAt *time.Time
	if err != nil {
		status = domain.NotificationStatusFailed
		errMsg = err.Error()
		log.Printf("notify: listing=%s sink=%s delivery failed: %v", listing.ID, sink.Name(), err)
	} else {
		now := p.clock()
		sentAt = &now
	}

	if p.metrics != nil {
		p.metrics.NotificationAttempted(sink.Name(), string(status), duration)
	}

	if recorded {
		opCtx, cancel := p.opContext(ctx)
		uerr := p.store.UpdateAttempt(opCtx, att.ID, status, errMsg, sentAt)
		cancel()
		if uerr != nil {
			log.Printf("notify: listing=%s sink=%s update attempt: %v", listing.ID, sink.Name(), uerr)
		}
	}
	return err == nil
}

// opContext outlives cancellation of ctx so a delivery that already happened
// is always recorded.
func (p *Pipeline) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.opTimeout)
}

func safeDeliver(ctx context.Context, sink Sink, listing domain.ListingRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", sink.Name(), r)
		}
	}()
	return sink.Deliver(ctx, listing)
}
