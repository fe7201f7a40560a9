package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	cyclesTotal      prometheus.Counter
	cycleErrorsTotal prometheus.Counter
	tasksRunTotal    prometheus.Counter
	cycleDuration    prometheus.Histogram
	dueTasks         prometheus.Gauge
	storageFailures  prometheus.Counter
	isLeader         prometheus.Gauge

	// Dispatcher metrics
	tasksTotal        *prometheus.CounterVec
	fetchDuration     prometheus.Histogram
	candidatesTotal   prometheus.Counter
	admittedTotal     prometheus.Counter
	duplicatesTotal   prometheus.Counter
	bookkeepingErrors *prometheus.CounterVec
	tasksInFlight     prometheus.Gauge

	// Notification metrics
	notificationsTotal    *prometheus.CounterVec
	notificationDuration  *prometheus.HistogramVec
	listingsNotifiedTotal prometheus.Counter
	pendingListings       prometheus.Gauge
	webhookAttemptsTotal  *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec

	// Housekeeping metrics
	rowsPrunedTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initNotificationMetrics(reg)
	s.initHousekeepingMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_scheduler_cycles_total",
		Help: "Total number of monitoring cycles started.",
	})
	s.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_scheduler_cycle_errors_total",
		Help: "Total number of cycles that ended with a storage or dispatcher error.",
	})
	s.tasksRunTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_scheduler_tasks_run_total",
		Help: "Total number of search tasks run across cycles.",
	})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketwatch_scheduler_cycle_duration_seconds",
		Help:    "Duration of each monitoring cycle in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	s.dueTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_scheduler_due_tasks",
		Help: "Number of tasks found due at the start of the last cycle.",
	})
	s.storageFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_scheduler_storage_failures_total",
		Help: "Total number of cycle-level storage failures.",
	})
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_scheduler_is_leader",
		Help: "1 when this instance holds the scheduling lock.",
	})

	s.register(reg, s.cyclesTotal, "marketwatch_scheduler_cycles_total")
	s.register(reg, s.cycleErrorsTotal, "marketwatch_scheduler_cycle_errors_total")
	s.register(reg, s.tasksRunTotal, "marketwatch_scheduler_tasks_run_total")
	s.register(reg, s.cycleDuration, "marketwatch_scheduler_cycle_duration_seconds")
	s.register(reg, s.dueTasks, "marketwatch_scheduler_due_tasks")
	s.register(reg, s.storageFailures, "marketwatch_scheduler_storage_failures_total")
	s.register(reg, s.isLeader, "marketwatch_scheduler_is_leader")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_dispatcher_tasks_total",
		Help: "Total number of tasks completed, by outcome.",
	}, []string{"outcome"})

	s.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketwatch_dispatcher_task_duration_seconds",
		Help:    "Task duration in seconds, fetch and admission included.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
	})

	s.candidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_dispatcher_candidates_total",
		Help: "Total number of candidates returned by fetches.",
	})
	s.admittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_dispatcher_admitted_total",
		Help: "Total number of listings admitted into the ledger.",
	})
	s.duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_dispatcher_duplicates_total",
		Help: "Total number of candidates already present in the ledger.",
	})

	s.bookkeepingErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_dispatcher_bookkeeping_errors_total",
		Help: "Total number of storage errors while recording task results.",
	}, []string{"op"})

	s.tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_dispatcher_tasks_in_flight",
		Help: "Number of tasks currently being fetched.",
	})

	s.register(reg, s.tasksTotal, "marketwatch_dispatcher_tasks_total")
	s.register(reg, s.fetchDuration, "marketwatch_dispatcher_task_duration_seconds")
	s.register(reg, s.candidatesTotal, "marketwatch_dispatcher_candidates_total")
	s.register(reg, s.admittedTotal, "marketwatch_dispatcher_admitted_total")
	s.register(reg, s.duplicatesTotal, "marketwatch_dispatcher_duplicates_total")
	s.register(reg, s.bookkeepingErrors, "marketwatch_dispatcher_bookkeeping_errors_total")
	s.register(reg, s.tasksInFlight, "marketwatch_dispatcher_tasks_in_flight")
}

func (s *PrometheusSink) initNotificationMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_notify_attempts_total",
		Help: "Total number of sink delivery attempts, by sink and status.",
	}, []string{"sink", "status"})

	s.notificationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketwatch_notify_duration_seconds",
		Help:    "Sink delivery latency in seconds.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"sink"})

	s.listingsNotifiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_notify_listings_notified_total",
		Help: "Total number of listings marked notified.",
	})
	s.pendingListings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketwatch_notify_pending_listings",
		Help: "Unnotified listings seen at the start of the last pass.",
	})

	s.webhookAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_notify_webhook_attempts_total",
		Help: "Total number of webhook HTTP requests.",
	}, []string{"attempt", "status_class"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketwatch_notify_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_notify_webhook_retries_total",
		Help: "Total number of webhook retries (excludes first attempt).",
	}, []string{"retryable"})

	s.register(reg, s.notificationsTotal, "marketwatch_notify_attempts_total")
	s.register(reg, s.notificationDuration, "marketwatch_notify_duration_seconds")
	s.register(reg, s.listingsNotifiedTotal, "marketwatch_notify_listings_notified_total")
	s.register(reg, s.pendingListings, "marketwatch_notify_pending_listings")
	s.register(reg, s.webhookAttemptsTotal, "marketwatch_notify_webhook_attempts_total")
	s.register(reg, s.webhookDuration, "marketwatch_notify_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "marketwatch_notify_webhook_retries_total")
}

func (s *PrometheusSink) initHousekeepingMetrics(reg prometheus.Registerer) {
	s.rowsPrunedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_housekeeper_rows_pruned_total",
		Help: "Total number of rows removed by housekeeping, by kind.",
	}, []string{"kind"})

	s.register(reg, s.rowsPrunedTotal, "marketwatch_housekeeper_rows_pruned_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) CycleStarted() {
	s.cyclesTotal.Inc()
}

func (s *PrometheusSink) CycleCompleted(duration time.Duration, tasksRun int, err error) {
	s.cycleDuration.Observe(duration.Seconds())
	s.tasksRunTotal.Add(float64(tasksRun))
	if err != nil {
		s.cycleErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) DueTasksUpdate(count int) {
	s.dueTasks.Set(float64(count))
}

func (s *PrometheusSink) StorageFailure() {
	s.storageFailures.Inc()
}

func (s *PrometheusSink) LeaderStatusUpdate(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

// Dispatcher metrics implementation

func (s *PrometheusSink) TaskCompleted(outcome string, duration time.Duration) {
	s.tasksTotal.WithLabelValues(outcome).Inc()
	s.fetchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) CandidatesProcessed(seen, admitted int) {
	s.candidatesTotal.Add(float64(seen))
	s.admittedTotal.Add(float64(admitted))
	if dup := seen - admitted; dup > 0 {
		s.duplicatesTotal.Add(float64(dup))
	}
}

func (s *PrometheusSink) BookkeepingError(op string) {
	s.bookkeepingErrors.WithLabelValues(op).Inc()
}

func (s *PrometheusSink) TasksInFlightIncr() {
	s.tasksInFlight.Inc()
}

func (s *PrometheusSink) TasksInFlightDecr() {
	s.tasksInFlight.Dec()
}

// Notification metrics implementation

func (s *PrometheusSink) NotificationAttempted(sink, status string, duration time.Duration) {
	s.notificationsTotal.WithLabelValues(sink, status).Inc()
	s.notificationDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

func (s *PrometheusSink) ListingsNotified(n int) {
	s.listingsNotifiedTotal.Add(float64(n))
}

func (s *PrometheusSink) PendingListingsUpdate(n int) {
	s.pendingListings.Set(float64(n))
}

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.webhookAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

// Housekeeping metrics implementation

func (s *PrometheusSink) RowsPruned(kind string, n int64) {
	s.rowsPrunedTotal.WithLabelValues(kind).Add(float64(n))
}
