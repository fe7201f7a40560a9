package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.CycleStarted()
	s.CycleCompleted(100*time.Millisecond, 5, nil)
	s.CycleCompleted(100*time.Millisecond, 0, errors.New("db down"))
	s.DueTasksUpdate(3)
	s.StorageFailure()
	s.LeaderStatusUpdate(true)

	// Dispatcher metrics
	s.TaskCompleted(OutcomeSuccess, time.Second)
	s.CandidatesProcessed(10, 2)
	s.BookkeepingError("mark_run")
	s.TasksInFlightIncr()
	s.TasksInFlightDecr()

	// Notification metrics
	s.NotificationAttempted("console", "sent", time.Millisecond)
	s.ListingsNotified(2)
	s.PendingListingsUpdate(0)
	s.DeliveryAttemptCompleted(1, StatusClass2xx, 200*time.Millisecond)
	s.RetryAttempt(true)

	// Housekeeping metrics
	s.RowsPruned("outcomes", 4)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
