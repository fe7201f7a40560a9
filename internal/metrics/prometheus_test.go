package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_CycleStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CycleStarted()
	sink.CycleStarted()

	val := getCounterValue(t, reg, "marketwatch_scheduler_cycles_total")
	if val != 2 {
		t.Errorf("cycles_total = %v, want 2", val)
	}
}

func TestPrometheusSink_CycleCompleted_WithError(t *testing.T) {
	sink, reg := newTestSink(t)

	// No error
	sink.CycleCompleted(100*time.Millisecond, 5, nil)
	errCount := getCounterValue(t, reg, "marketwatch_scheduler_cycle_errors_total")
	if errCount != 0 {
		t.Errorf("cycle_errors_total = %v after success, want 0", errCount)
	}
	if got := getCounterValue(t, reg, "marketwatch_scheduler_tasks_run_total"); got != 5 {
		t.Errorf("tasks_run_total = %v, want 5", got)
	}

	// With error
	sink.CycleCompleted(100*time.Millisecond, 0, errors.New("db error"))
	errCount = getCounterValue(t, reg, "marketwatch_scheduler_cycle_errors_total")
	if errCount != 1 {
		t.Errorf("cycle_errors_total = %v after error, want 1", errCount)
	}
}

func TestPrometheusSink_LeaderStatus(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusUpdate(true)
	if val := getGaugeValue(t, reg, "marketwatch_scheduler_is_leader"); val != 1 {
		t.Errorf("is_leader = %v, want 1", val)
	}
	sink.LeaderStatusUpdate(false)
	if val := getGaugeValue(t, reg, "marketwatch_scheduler_is_leader"); val != 0 {
		t.Errorf("is_leader = %v, want 0", val)
	}
}

func TestPrometheusSink_TaskOutcomes(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TaskCompleted(OutcomeSuccess, time.Second)
	sink.TaskCompleted("blocked", time.Second)
	sink.TaskCompleted(OutcomeSuccess, time.Second)

	if val := getCounterVecValue(t, reg, "marketwatch_dispatcher_tasks_total",
		map[string]string{"outcome": "success"}); val != 2 {
		t.Errorf("outcome=success = %v, want 2", val)
	}
	if val := getCounterVecValue(t, reg, "marketwatch_dispatcher_tasks_total",
		map[string]string{"outcome": "blocked"}); val != 1 {
		t.Errorf("outcome=blocked = %v, want 1", val)
	}
}

func TestPrometheusSink_CandidatesProcessed(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CandidatesProcessed(10, 3)
	sink.CandidatesProcessed(4, 4)

	if val := getCounterValue(t, reg, "marketwatch_dispatcher_candidates_total"); val != 14 {
		t.Errorf("candidates_total = %v, want 14", val)
	}
	if val := getCounterValue(t, reg, "marketwatch_dispatcher_admitted_total"); val != 7 {
		t.Errorf("admitted_total = %v, want 7", val)
	}
	if val := getCounterValue(t, reg, "marketwatch_dispatcher_duplicates_total"); val != 7 {
		t.Errorf("duplicates_total = %v, want 7", val)
	}
}

func TestPrometheusSink_TasksInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TasksInFlightIncr()
	sink.TasksInFlightIncr()
	sink.TasksInFlightDecr()

	val := getGaugeValue(t, reg, "marketwatch_dispatcher_tasks_in_flight")
	if val != 1 {
		t.Errorf("tasks_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSink_NotificationLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.NotificationAttempted("webhook", "sent", 100*time.Millisecond)
	sink.NotificationAttempted("webhook", "failed", 100*time.Millisecond)
	sink.NotificationAttempted("console", "sent", time.Millisecond)

	if val := getCounterVecValue(t, reg, "marketwatch_notify_attempts_total",
		map[string]string{"sink": "webhook", "status": "failed"}); val != 1 {
		t.Errorf("sink=webhook,status=failed = %v, want 1", val)
	}
	if val := getCounterVecValue(t, reg, "marketwatch_notify_attempts_total",
		map[string]string{"sink": "console", "status": "sent"}); val != 1 {
		t.Errorf("sink=console,status=sent = %v, want 1", val)
	}
}

func TestPrometheusSink_WebhookAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted(1, "2xx", 100*time.Millisecond)
	sink.DeliveryAttemptCompleted(2, "5xx", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "marketwatch_notify_webhook_attempts_total",
		map[string]string{"attempt": "1", "status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("attempt=1,status=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "marketwatch_notify_webhook_attempts_total",
		map[string]string{"attempt": "2", "status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("attempt=2,status=5xx = %v, want 1", val2)
	}
}

func TestPrometheusSink_RowsPruned(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RowsPruned("outcomes", 12)
	sink.RowsPruned("attempts", 0)

	if val := getCounterVecValue(t, reg, "marketwatch_housekeeper_rows_pruned_total",
		map[string]string{"kind": "outcomes"}); val != 12 {
		t.Errorf("kind=outcomes = %v, want 12", val)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	// Second registration will fail for all metrics, but should not panic.
	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
