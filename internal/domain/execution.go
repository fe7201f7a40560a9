package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionOutcome is the statistics row for one task run.
type ExecutionOutcome struct {
	ID     uuid.UUID
	TaskID uuid.UUID
	Term   string
	Region string

	StartedAt time.Time
	Duration  time.Duration

	CandidatesSeen int
	Admitted       int
	Errors         int

	// FailureKind is empty on success.
	FailureKind   string
	FailureReason string
}

// Succeeded reports whether the run completed without a fetch error.
func (o ExecutionOutcome) Succeeded() bool {
	return o.Errors == 0
}

// Duplicates is the number of candidates that were already in the ledger.
func (o ExecutionOutcome) Duplicates() int {
	return o.CandidatesSeen - o.Admitted
}

// CycleReport summarises one scheduler cycle.
type CycleReport struct {
	ID        uuid.UUID
	StartedAt time.Time
	Duration  time.Duration

	TasksDue     int
	TasksRun     int
	TasksFailed  int
	TasksBlocked int

	CandidatesSeen int
	Admitted       int

	NotificationsSent   int
	NotificationsFailed int
}
