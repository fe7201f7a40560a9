package api

import (
	"time"

	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/interval"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
)

type CreateKeywordRequest struct {
	Term string `json:"term"`
	// Interval accepts seconds, a Go duration or a cron expression.
	// Empty uses the configured default.
	Interval string `json:"interval,omitempty"`
	Active   *bool  `json:"active,omitempty"` // default true
}

type UpdateIntervalRequest struct {
	Interval string `json:"interval"`
}

type CreateRegionRequest struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active *bool  `json:"active,omitempty"` // default true
}

type KeywordResponse struct {
	ID          string `json:"id"`
	Term        string `json:"term"`
	Interval    string `json:"interval"`
	Active      bool   `json:"active"`
	TotalChecks int64  `json:"total_checks"`
	TotalFound  int64  `json:"total_found"`
	CreatedAt   string `json:"created_at"`
}

type RegionResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type ListingResponse struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Price        string `json:"price,omitempty"`
	URL          string `json:"url"`
	Location     string `json:"location,omitempty"`
	Term         string `json:"term"`
	Region       string `json:"region"`
	DiscoveredAt string `json:"discovered_at"`
	Notified     bool   `json:"notified"`
}

type ToggleResponse struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

type UpdateIntervalResponse struct {
	ID       string `json:"id"`
	Interval string `json:"interval"`
}

type ListKeywordsResponse struct {
	Keywords []KeywordResponse `json:"keywords"`
}

type ListRegionsResponse struct {
	Regions []RegionResponse `json:"regions"`
}

type ListListingsResponse struct {
	Listings []ListingResponse `json:"listings"`
}

type TermStatResponse struct {
	Term       string `json:"term"`
	Executions int    `json:"executions"`
	Admitted   int    `json:"admitted"`
}

type StatsResponse struct {
	Executions     int                `json:"executions"`
	AvgDurationMS  int64              `json:"avg_duration_ms"`
	CandidatesSeen int                `json:"candidates_seen"`
	Admitted       int                `json:"admitted"`
	Errors         int                `json:"errors"`
	TopTerms       []TermStatResponse `json:"top_terms"`
}

type NotificationsResponse struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type UpcomingTaskResponse struct {
	Term    string `json:"term"`
	Region  string `json:"region"`
	NextDue string `json:"next_due"` // empty when never run
}

type CycleResponse struct {
	StartedAt      string `json:"started_at"`
	DurationMS     int64  `json:"duration_ms"`
	TasksDue       int    `json:"tasks_due"`
	TasksRun       int    `json:"tasks_run"`
	TasksFailed    int    `json:"tasks_failed"`
	TasksBlocked   int    `json:"tasks_blocked"`
	CandidatesSeen int    `json:"candidates_seen"`
	Admitted       int    `json:"admitted"`
}

type StatusResponse struct {
	State                      string                 `json:"state"`
	StartedAt                  string                 `json:"started_at,omitempty"`
	UptimeSeconds              int64                  `json:"uptime_seconds"`
	Cycles                     int                    `json:"cycles"`
	ConsecutiveStorageFailures int                    `json:"consecutive_storage_failures"`
	LastCycle                  *CycleResponse         `json:"last_cycle,omitempty"`
	Stats                      StatsResponse          `json:"stats_24h"`
	Notifications              NotificationsResponse  `json:"notifications_24h"`
	Upcoming                   []UpcomingTaskResponse `json:"upcoming"`
}

type ReportResponse struct {
	Hours         int                   `json:"hours"`
	Since         string                `json:"since"`
	Stats         StatsResponse         `json:"stats"`
	Notifications NotificationsResponse `json:"notifications"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newKeywordResponse(k domain.Keyword) KeywordResponse {
	return KeywordResponse{
		ID:          k.ID.String(),
		Term:        k.Term,
		Interval:    interval.Format(k.Interval),
		Active:      k.Active,
		TotalChecks: k.TotalChecks,
		TotalFound:  k.TotalFound,
		CreatedAt:   formatTime(k.CreatedAt),
	}
}

func newRegionResponse(r domain.Region) RegionResponse {
	return RegionResponse{
		ID:        r.ID.String(),
		Name:      r.Name,
		Slug:      r.Slug,
		Active:    r.Active,
		CreatedAt: formatTime(r.CreatedAt),
	}
}

func newListingResponse(l domain.ListingRecord) ListingResponse {
	return ListingResponse{
		ID:           l.ID.String(),
		SourceID:     l.SourceID,
		Title:        l.Title,
		Price:        l.Price,
		URL:          l.URL,
		Location:     l.Location,
		Term:         l.Term,
		Region:       l.Region,
		DiscoveredAt: formatTime(l.DiscoveredAt),
		Notified:     l.Notified,
	}
}

func newStatsResponse(s domain.StatsSummary) StatsResponse {
	resp := StatsResponse{
		Executions:     s.Executions,
		AvgDurationMS:  s.AvgDuration.Milliseconds(),
		CandidatesSeen: s.CandidatesSeen,
		Admitted:       s.Admitted,
		Errors:         s.Errors,
		TopTerms:       make([]TermStatResponse, len(s.TopTerms)),
	}
	for i, t := range s.TopTerms {
		resp.TopTerms[i] = TermStatResponse{Term: t.Term, Executions: t.Executions, Admitted: t.Admitted}
	}
	return resp
}

func newNotificationsResponse(n domain.NotificationSummary) NotificationsResponse {
	return NotificationsResponse{Sent: n.Sent, Failed: n.Failed, Pending: n.Pending}
}

func newStatusResponse(sum scheduler.Summary) StatusResponse {
	resp := StatusResponse{
		State:                      string(sum.State),
		UptimeSeconds:              int64(sum.Uptime / time.Second),
		Cycles:                     sum.Cycles,
		ConsecutiveStorageFailures: sum.ConsecutiveStorageFailures,
		Stats:                      newStatsResponse(sum.Stats),
		Notifications:              newNotificationsResponse(sum.Notifications),
		Upcoming:                   make([]UpcomingTaskResponse, len(sum.Upcoming)),
	}
	if !sum.StartedAt.IsZero() {
		resp.StartedAt = formatTime(sum.StartedAt)
	}
	if c := sum.LastCycle; c != nil {
		resp.LastCycle = &CycleResponse{
			StartedAt:      formatTime(c.StartedAt),
			DurationMS:     c.Duration.Milliseconds(),
			TasksDue:       c.TasksDue,
			TasksRun:       c.TasksRun,
			TasksFailed:    c.TasksFailed,
			TasksBlocked:   c.TasksBlocked,
			CandidatesSeen: c.CandidatesSeen,
			Admitted:       c.Admitted,
		}
	}
	for i, t := range sum.Upcoming {
		u := UpcomingTaskResponse{Term: t.Term, Region: t.Region}
		if t.LastRunAt != nil {
			u.NextDue = formatTime(t.NextDue())
		}
		resp.Upcoming[i] = u
	}
	return resp
}

func newReportResponse(hours int, sum scheduler.Summary) ReportResponse {
	return ReportResponse{
		Hours:         hours,
		Since:         formatTime(sum.Stats.Since),
		Stats:         newStatsResponse(sum.Stats),
		Notifications: newNotificationsResponse(sum.Notifications),
	}
}
