package domain

import (
	"time"

	"github.com/google/uuid"
)

// Keyword is a search term the operator wants monitored.
type Keyword struct {
	ID       uuid.UUID
	Term     string
	Interval time.Duration
	Active   bool

	TotalChecks int64
	TotalFound  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Region is a location the feed can be searched in. Slug is the feed's own
// identifier for it.
type Region struct {
	ID     uuid.UUID
	Name   string
	Slug   string
	Active bool

	CreatedAt time.Time
}

// SearchTask is one (keyword x region) combination.
// A nil LastRunAt means the task has never run and is due immediately.
type SearchTask struct {
	ID        uuid.UUID
	KeywordID uuid.UUID
	RegionID  uuid.UUID

	Term     string
	Region   string // region slug
	Interval time.Duration

	LastRunAt *time.Time
	Active    bool

	RunCount   int64
	FoundCount int64

	CreatedAt time.Time
}

// NextDue returns when the task becomes due. Never-run tasks are due at the zero time.
func (t SearchTask) NextDue() time.Time {
	if t.LastRunAt == nil {
		return time.Time{}
	}
	return t.LastRunAt.Add(t.Interval)
}

// DueAt reports whether the task is due at now.
func (t SearchTask) DueAt(now time.Time) bool {
	if !t.Active {
		return false
	}
	return t.LastRunAt == nil || !t.NextDue().After(now)
}
