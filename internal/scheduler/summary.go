package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// Summary is the operator view of the monitor.
type Summary struct {
	State                      State
	StartedAt                  time.Time
	Uptime                     time.Duration
	Cycles                     int
	ConsecutiveStorageFailures int
	LastCycle                  *domain.CycleReport

	Window        time.Duration
	Stats         domain.StatsSummary
	Notifications domain.NotificationSummary
	Upcoming      []domain.SearchTask
}

const (
	summaryTopTerms = 5
	summaryUpcoming = 10
)

// Snapshot builds the store-derived part of a Summary. It works without a
// running scheduler.
func Snapshot(ctx context.Context, store StatusStore, now time.Time, window time.Duration) (Summary, error) {
	since := now.Add(-window)
	sum := Summary{State: StateIdle, Window: window}

	stats, err := store.StatsSummary(ctx, since, summaryTopTerms)
	if err != nil {
		return sum, fmt.Errorf("stats summary: %w", err)
	}
	sum.Stats = stats

	notifications, err := store.NotificationSummary(ctx, since)
	if err != nil {
		return sum, fmt.Errorf("notification summary: %w", err)
	}
	sum.Notifications = notifications

	upcoming, err := store.UpcomingTasks(ctx, summaryUpcoming)
	if err != nil {
		return sum, fmt.Errorf("upcoming tasks: %w", err)
	}
	sum.Upcoming = upcoming
	return sum, nil
}

// Summary returns runtime state plus the last 24 hours of statistics.
func (s *Scheduler) Summary(ctx context.Context) (Summary, error) {
	now := s.clock()
	sum, err := Snapshot(ctx, s.store, now, 24*time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	sum.State = s.state
	sum.StartedAt = s.startedAt
	if !s.startedAt.IsZero() && s.state != StateStopped {
		sum.Uptime = now.Sub(s.startedAt)
	}
	sum.Cycles = s.cycles
	sum.ConsecutiveStorageFailures = s.consecutiveFailures
	if s.lastCycle != nil {
		last := *s.lastCycle
		sum.LastCycle = &last
	}
	return sum, err
}
