package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CycleStarted()                                                             {}
func (n *NoopSink) CycleCompleted(duration time.Duration, tasksRun int, err error)            {}
func (n *NoopSink) DueTasksUpdate(count int)                                                  {}
func (n *NoopSink) StorageFailure()                                                           {}
func (n *NoopSink) LeaderStatusUpdate(isLeader bool)                                          {}
func (n *NoopSink) TaskCompleted(outcome string, duration time.Duration)                      {}
func (n *NoopSink) CandidatesProcessed(seen, admitted int)                                    {}
func (n *NoopSink) BookkeepingError(op string)                                                {}
func (n *NoopSink) TasksInFlightIncr()                                                        {}
func (n *NoopSink) TasksInFlightDecr()                                                        {}
func (n *NoopSink) NotificationAttempted(sink, status string, d time.Duration)                {}
func (n *NoopSink) ListingsNotified(count int)                                                {}
func (n *NoopSink) PendingListingsUpdate(count int)                                           {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) RowsPruned(kind string, count int64)                                       {}
