package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	CycleStarted()
	CycleCompleted(duration time.Duration, tasksRun int, err error)
	DueTasksUpdate(count int)
	StorageFailure()
	LeaderStatusUpdate(isLeader bool)

	// Dispatcher metrics
	TaskCompleted(outcome string, duration time.Duration)
	CandidatesProcessed(seen, admitted int)
	BookkeepingError(op string)
	TasksInFlightIncr()
	TasksInFlightDecr()

	// Notification metrics
	NotificationAttempted(sink, status string, duration time.Duration)
	ListingsNotified(n int)
	PendingListingsUpdate(n int)
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	RetryAttempt(retryable bool)

	// Housekeeping metrics
	RowsPruned(kind string, n int64)
}

// Outcome constants for TaskCompleted. Failures use the fetch error kind.
const (
	OutcomeSuccess = "success"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		default:
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
