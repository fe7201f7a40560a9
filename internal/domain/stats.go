package domain

import "time"

// TermStat is the per-term row of a statistics summary.
type TermStat struct {
	Term       string
	Executions int
	Admitted   int
}

// StatsSummary aggregates execution outcomes since a point in time.
type StatsSummary struct {
	Since          time.Time
	Executions     int
	AvgDuration    time.Duration
	CandidatesSeen int
	Admitted       int
	Errors         int
	TopTerms       []TermStat
}

// NotificationSummary counts notification attempts by final status.
type NotificationSummary struct {
	Since   time.Time
	Sent    int
	Failed  int
	Pending int
}
