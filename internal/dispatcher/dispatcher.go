package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/fetch"
	"github.com/dalexandrias/marketwatch/internal/metrics"
)

// ErrAdapterUnavailable is returned by RunCycle when a fetch session cannot
// be opened. It is fatal to the scheduler loop.
var ErrAdapterUnavailable = errors.New("fetch adapter unavailable")

type TaskStore interface {
	// MarkRun sets last_run and increments the run count atomically.
	MarkRun(ctx context.Context, taskID uuid.UUID, at time.Time) error
	RecordFound(ctx context.Context, taskID uuid.UUID, n int) error
}

type Ledger interface {
	// Admit must be idempotent: a source id already present is reported as
	// not admitted, never as an error.
	Admit(ctx context.Context, req domain.AdmitRequest) (domain.AdmitResult, error)
}

type StatsStore interface {
	InsertOutcome(ctx context.Context, o domain.ExecutionOutcome) error
}

type Store interface {
	TaskStore
	Ledger
	StatsStore
}

type AnalyticsSink interface {
	Record(ctx context.Context, listing domain.ListingRecord)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TaskCompleted(outcome string, duration time.Duration)
	CandidatesProcessed(seen, admitted int)
	BookkeepingError(op string)
	TasksInFlightIncr()
	TasksInFlightDecr()
}

// Config bounds a cycle's concurrency and pacing.
type Config struct {
	// Workers is the number of courtesy groups processed concurrently.
	Workers int

	// CourtesyDelay separates consecutive fetches within one group.
	CourtesyDelay time.Duration

	// GroupDelay separates a worker's last fetch of one group from its first
	// fetch of the next.
	GroupDelay time.Duration

	FetchTimeout time.Duration
	FetchLimit   int

	// ShutdownGrace is how long in-flight fetches may continue after the
	// cycle context is cancelled.
	ShutdownGrace time.Duration

	// OpTimeout bounds each storage call made after a fetch.
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       1,
		CourtesyDelay: 2 * time.Second,
		GroupDelay:    5 * time.Second,
		FetchTimeout:  60 * time.Second,
		FetchLimit:    50,
		ShutdownGrace: 30 * time.Second,
		OpTimeout:     5 * time.Second,
	}
}

type Dispatcher struct {
	store     Store
	opener    fetch.Opener
	cfg       Config
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
}

func New(store Store, opener fetch.Opener, cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:  store,
		opener: opener,
		cfg:    cfg,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithClock replaces the time source. Used by tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// GroupByTerm partitions tasks into courtesy groups. Groups are ordered by
// the first appearance of their term and keep the input order inside.
func GroupByTerm(tasks []domain.SearchTask) [][]domain.SearchTask {
	index := make(map[string]int)
	var groups [][]domain.SearchTask
	for _, t := range tasks {
		i, ok := index[t.Term]
		if !ok {
			i = len(groups)
			index[t.Term] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}

// RunCycle executes the given due tasks. Fetch failures become outcome data
// and never abort the cycle; the only error returned is ErrAdapterUnavailable.
//
// Cancelling ctx stops new tasks from starting. Fetches already in flight
// get ShutdownGrace to finish; tasks that finish complete their bookkeeping
// on a detached context.
func (d *Dispatcher) RunCycle(ctx context.Context, tasks []domain.SearchTask) (domain.CycleReport, error) {
	acc := &accumulator{report: domain.CycleReport{TasksDue: len(tasks)}}

	groups := GroupByTerm(tasks)
	if len(groups) == 0 {
		return acc.report, nil
	}

	// runCtx gates starting work; fetchCtx bounds work already started.
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	fetchCtx, cancelFetch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFetch()
	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(d.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			log.Printf("dispatcher: shutdown grace %s elapsed, cancelling in-flight fetches", d.cfg.ShutdownGrace)
			cancelFetch()
		case <-fetchCtx.Done():
		}
	})
	defer stopGrace()

	workers := d.cfg.Workers
	if workers > len(groups) {
		workers = len(groups)
	}

	work := make(chan []domain.SearchTask)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(runCtx, fetchCtx, id, work, acc, abort)
		}(i)
	}

feed:
	for _, g := range groups {
		select {
		case work <- g:
		case <-runCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if cause := context.Cause(runCtx); errors.Is(cause, ErrAdapterUnavailable) {
		return acc.snapshot(), cause
	}
	return acc.snapshot(), nil
}

func (d *Dispatcher) worker(runCtx, fetchCtx context.Context, id int, work <-chan []domain.SearchTask, acc *accumulator, abort context.CancelCauseFunc) {
	var session fetch.Session
	defer func() {
		if session == nil {
			return
		}
		if err := session.Close(); err != nil {
			log.Printf("dispatcher: worker=%d session close: %v", id, err)
		}
	}()

	started := false
	for group := range work {
		for i, task := range group {
			if runCtx.Err() != nil {
				return
			}
			delay := d.cfg.CourtesyDelay
			if i == 0 {
				delay = d.cfg.GroupDelay
			}
			if started && !sleepCtx(runCtx, delay) {
				return
			}
			started = true

			if session == nil {
				s, err := d.opener.Open(runCtx)
				if err != nil {
					if runCtx.Err() != nil {
						return
					}
					log.Printf("dispatcher: worker=%d cannot open fetch session: %v", id, err)
					abort(fmt.Errorf("%w: %v", ErrAdapterUnavailable, err))
					return
				}
				session = s
			}

			outcome, completed := d.runTask(fetchCtx, session, task)
			if !completed {
				return
			}
			d.bookkeep(fetchCtx, task, outcome)
			acc.add(outcome)
		}
	}
}

// runTask fetches one task and admits its candidates. It reports false when
// the fetch was cut short by shutdown, in which case nothing is recorded.
func (d *Dispatcher) runTask(ctx context.Context, session fetch.Session, task domain.SearchTask) (domain.ExecutionOutcome, bool) {
	if d.metrics != nil {
		d.metrics.TasksInFlightIncr()
		defer d.metrics.TasksInFlightDecr()
	}

	startedAt := d.clock()
	outcome := domain.ExecutionOutcome{
		ID:        uuid.New(),
		TaskID:    task.ID,
		Term:      task.Term,
		Region:    task.Region,
		StartedAt: startedAt,
	}

	fctx, cancel := ctx, context.CancelFunc(func() {})
	if d.cfg.FetchTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, d.cfg.FetchTimeout)
	}
	candidates, err := session.Fetch(fctx, task.Term, task.Region, d.cfg.FetchLimit)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			log.Printf("dispatcher: task=%s term=%q region=%s abandoned at shutdown", task.ID, task.Term, task.Region)
			return outcome, false
		}
		fe := fetch.Classify(err)
		outcome.Errors++
		outcome.FailureKind = string(fe.Kind)
		outcome.FailureReason = fe.Error()
		if fe.Kind == fetch.KindBlocked {
			log.Printf("dispatcher: WARNING task=%s term=%q region=%s blocked by source: %v", task.ID, task.Term, task.Region, fe.Err)
		} else {
			log.Printf("dispatcher: task=%s term=%q region=%s fetch failed kind=%s: %v", task.ID, task.Term, task.Region, fe.Kind, fe.Err)
		}
	}

	for _, c := range candidates {
		if c.SourceID == "" {
			continue
		}
		outcome.CandidatesSeen++

		opCtx, cancel := d.opContext(ctx)
		res, err := d.store.Admit(opCtx, domain.AdmitRequest{
			Candidate: c,
			TaskID:    task.ID,
			RegionID:  task.RegionID,
			Region:    task.Region,
			Term:      task.Term,
			At:        d.clock(),
		})
		if err != nil {
			cancel()
			outcome.Errors++
			if outcome.FailureKind == "" {
				outcome.FailureKind = "storage"
				outcome.FailureReason = err.Error()
			}
			log.Printf("dispatcher: task=%s admit source_id=%s: %v", task.ID, c.SourceID, err)
			if d.metrics != nil {
				d.metrics.BookkeepingError("admit")
			}
			continue
		}
		if res.Admitted {
			outcome.Admitted++
			if d.analytics != nil {
				d.analytics.Record(opCtx, res.Record)
			}
		}
		cancel()
	}

	outcome.Duration = d.clock().Sub(startedAt)

	if d.metrics != nil {
		label := metrics.OutcomeSuccess
		if outcome.FailureKind != "" {
			label = outcome.FailureKind
		}
		d.metrics.TaskCompleted(label, outcome.Duration)
		d.metrics.CandidatesProcessed(outcome.CandidatesSeen, outcome.Admitted)
	}

	log.Printf("dispatcher: task=%s term=%q region=%s seen=%d admitted=%d duplicates=%d duration=%s",
		task.ID, task.Term, task.Region, outcome.CandidatesSeen, outcome.Admitted, outcome.Duplicates(), outcome.Duration)
	return outcome, true
}

// bookkeep records the run regardless of its success. Each write is
// independent; a failure is logged and counted and the others still run.
func (d *Dispatcher) bookkeep(ctx context.Context, task domain.SearchTask, outcome domain.ExecutionOutcome) {
	now := d.clock()

	steps := []struct {
		op string
		fn func(context.Context) error
	}{
		{"mark_run", func(c context.Context) error { return d.store.MarkRun(c, task.ID, now) }},
		{"record_found", func(c context.Context) error { return d.store.RecordFound(c, task.ID, outcome.Admitted) }},
		{"insert_outcome", func(c context.Context) error { return d.store.InsertOutcome(c, outcome) }},
	}
	for _, step := range steps {
		opCtx, cancel := d.opContext(ctx)
		err := step.fn(opCtx)
		cancel()
		if err != nil {
			log.Printf("dispatcher: task=%s %s: %v", task.ID, step.op, err)
			if d.metrics != nil {
				d.metrics.BookkeepingError(step.op)
			}
		}
	}
}

// opContext detaches storage calls from cancellation so a finished task is
// always recorded, bounded by OpTimeout.
func (d *Dispatcher) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.cfg.OpTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		return false
	case <-timer.C:
		return true
	}
}

type accumulator struct {
	mu     sync.Mutex
	report domain.CycleReport
}

func (a *accumulator) add(o domain.ExecutionOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.TasksRun++
	a.report.CandidatesSeen += o.CandidatesSeen
	a.report.Admitted += o.Admitted
	if o.FailureKind != "" {
		a.report.TasksFailed++
	}
	if o.FailureKind == string(fetch.KindBlocked) {
		a.report.TasksBlocked++
	}
}

func (a *accumulator) snapshot() domain.CycleReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}
