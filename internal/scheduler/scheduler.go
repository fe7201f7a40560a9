package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/housekeeper"
	"github.com/dalexandrias/marketwatch/internal/notify"
)

var (
	// ErrStorageUnrecoverable ends Run after too many consecutive cycles
	// failed on storage.
	ErrStorageUnrecoverable = errors.New("storage unrecoverable")

	ErrAlreadyRunning = errors.New("scheduler already running")
)

type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateCycleExecuting State = "cycle_executing"
	StateSleeping       State = "sleeping"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
)

// StatusStore is the read side used for operator summaries.
type StatusStore interface {
	UpcomingTasks(ctx context.Context, limit int) ([]domain.SearchTask, error)
	StatsSummary(ctx context.Context, since time.Time, topN int) (domain.StatsSummary, error)
	NotificationSummary(ctx context.Context, since time.Time) (domain.NotificationSummary, error)
}

type Store interface {
	StatusStore
	Ping(ctx context.Context) error
	// SyncTasks materializes a task for every active keyword x active
	// region pair and deactivates the rest.
	SyncTasks(ctx context.Context, now time.Time) (int, error)
	// DueTasks returns active tasks with last_run unset or older than their
	// interval, never-run first, then oldest last_run.
	DueTasks(ctx context.Context, now time.Time) ([]domain.SearchTask, error)
	InsertCycle(ctx context.Context, c domain.CycleReport) error
}

type Dispatcher interface {
	RunCycle(ctx context.Context, tasks []domain.SearchTask) (domain.CycleReport, error)
}

type Notifier interface {
	DeliverPending(ctx context.Context) (notify.Report, error)
}

type Housekeeper interface {
	Sweep(ctx context.Context) housekeeper.Result
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	CycleStarted()
	CycleCompleted(duration time.Duration, tasksRun int, err error)
	DueTasksUpdate(count int)
	StorageFailure()
}

type Config struct {
	// DefaultInterval is the base cadence; the loop sleeps a quarter of it.
	DefaultInterval time.Duration
	SleepFloor      time.Duration

	// HousekeepingEvery runs a housekeeping pass every N cycles. Zero
	// disables housekeeping.
	HousekeepingEvery int

	// MaxStorageFailures is the number of consecutive cycles that may fail
	// on storage before Run gives up.
	MaxStorageFailures int

	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultInterval:    120 * time.Second,
		SleepFloor:         30 * time.Second,
		HousekeepingEvery:  10,
		MaxStorageFailures: 5,
		OpTimeout:          5 * time.Second,
	}
}

// SleepDuration is the pause between cycles: a quarter of the default
// interval, never below the floor.
func (c Config) SleepDuration() time.Duration {
	d := c.DefaultInterval / 4
	if d < c.SleepFloor {
		d = c.SleepFloor
	}
	return d
}

type Scheduler struct {
	config      Config
	store       Store
	dispatcher  Dispatcher
	notifier    Notifier
	housekeeper Housekeeper // optional
	metrics     MetricsSink // optional
	clock       func() time.Time

	mu                  sync.RWMutex
	state               State
	startedAt           time.Time
	cycles              int
	consecutiveFailures int
	lastCycle           *domain.CycleReport
}

func New(config Config, store Store, dispatcher Dispatcher, notifier Notifier) *Scheduler {
	if config.MaxStorageFailures < 1 {
		config.MaxStorageFailures = 1
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 5 * time.Second
	}
	return &Scheduler{
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		clock:      func() time.Time { return time.Now().UTC() },
		state:      StateIdle,
	}
}

func (s *Scheduler) WithHousekeeper(h Housekeeper) *Scheduler {
	s.housekeeper = h
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives cycles until ctx is cancelled, in which case it returns nil.
// It returns an error when storage is unavailable at startup, when storage
// stays unavailable for MaxStorageFailures consecutive cycles, or when the
// dispatcher reports a fatal error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.startedAt = s.clock()
	s.cycles = 0
	s.consecutiveFailures = 0
	s.mu.Unlock()

	defer func() {
		s.setState(StateStopped)
		log.Println("scheduler: stopped")
	}()

	if err := s.start(ctx); err != nil {
		s.setState(StateStopping)
		return err
	}

	sleep := s.config.SleepDuration()
	log.Printf("scheduler: started, sleep=%s housekeeping_every=%d", sleep, s.config.HousekeepingEvery)

	for {
		if ctx.Err() != nil {
			s.setState(StateStopping)
			return nil
		}

		s.setState(StateCycleExecuting)
		if err := s.runCycle(ctx); err != nil {
			s.setState(StateStopping)
			return err
		}

		s.setState(StateSleeping)
		if !sleepCtx(ctx, sleep) {
			s.setState(StateStopping)
			return nil
		}
	}
}

func (s *Scheduler) start(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	if err := s.store.Ping(opCtx); err != nil {
		return fmt.Errorf("storage unavailable at startup: %w", err)
	}
	n, err := s.store.SyncTasks(opCtx, s.clock())
	if err != nil {
		return fmt.Errorf("sync tasks at startup: %w", err)
	}
	log.Printf("scheduler: %d active tasks", n)
	return nil
}

// RunCycle executes a single cycle outside of Run. Used by the CLI for
// one-shot runs.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.CycleStarted()
	}

	tasks, err := s.loadDueTasks(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if s.metrics != nil {
			s.metrics.CycleCompleted(s.clock().Sub(start), 0, err)
		}
		return s.storageFailure(err)
	}
	s.resetStorageFailures()

	if s.metrics != nil {
		s.metrics.DueTasksUpdate(len(tasks))
	}

	report, err := s.dispatcher.RunCycle(ctx, tasks)
	if err != nil {
		log.Printf("scheduler: dispatcher fatal error: %v", err)
		if s.metrics != nil {
			s.metrics.CycleCompleted(s.clock().Sub(start), report.TasksRun, err)
		}
		return fmt.Errorf("run cycle: %w", err)
	}
	report.ID = uuid.New()
	report.StartedAt = start

	if ctx.Err() == nil {
		nr, err := s.notifier.DeliverPending(ctx)
		if err != nil {
			log.Printf("scheduler: notification pass failed: %v", err)
		}
		report.NotificationsSent = nr.Sent
		report.NotificationsFailed = nr.Failed
	}

	s.mu.Lock()
	s.cycles++
	cycles := s.cycles
	s.mu.Unlock()

	if s.housekeeper != nil && s.config.HousekeepingEvery > 0 && cycles%s.config.HousekeepingEvery == 0 && ctx.Err() == nil {
		s.housekeeper.Sweep(ctx)
	}

	report.Duration = s.clock().Sub(start)

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.OpTimeout)
	if err := s.store.InsertCycle(opCtx, report); err != nil {
		log.Printf("scheduler: persist cycle report: %v", err)
	}
	cancel()

	s.mu.Lock()
	s.lastCycle = &report
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CycleCompleted(report.Duration, report.TasksRun, nil)
	}

	log.Printf("scheduler: cycle=%d complete due=%d run=%d failed=%d blocked=%d seen=%d admitted=%d notified=%d duration=%s",
		cycles, report.TasksDue, report.TasksRun, report.TasksFailed, report.TasksBlocked,
		report.CandidatesSeen, report.Admitted, report.NotificationsSent, report.Duration.Round(time.Millisecond))
	return nil
}

func (s *Scheduler) loadDueTasks(ctx context.Context, now time.Time) ([]domain.SearchTask, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OpTimeout)
	defer cancel()

	if _, err := s.store.SyncTasks(opCtx, now); err != nil {
		return nil, fmt.Errorf("sync tasks: %w", err)
	}
	tasks, err := s.store.DueTasks(opCtx, now)
	if err != nil {
		return nil, fmt.Errorf("get due tasks: %w", err)
	}
	return tasks, nil
}

// storageFailure records a failed cycle. It returns nil while the failure
// budget lasts so the next cycle retries.
func (s *Scheduler) storageFailure(err error) error {
	if s.metrics != nil {
		s.metrics.StorageFailure()
	}

	s.mu.Lock()
	s.consecutiveFailures++
	n := s.consecutiveFailures
	s.mu.Unlock()

	if n >= s.config.MaxStorageFailures {
		log.Printf("scheduler: storage failed %d consecutive cycles, giving up: %v", n, err)
		return fmt.Errorf("%w: %d consecutive failures: %v", ErrStorageUnrecoverable, n, err)
	}
	log.Printf("scheduler: cycle skipped, storage failure %d/%d: %v", n, s.config.MaxStorageFailures, err)
	return nil
}

func (s *Scheduler) resetStorageFailures() {
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
