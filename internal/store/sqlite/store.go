// Package sqlite is the embedded storage backend. It is the default for
// single-instance deployments and the backend used by the package tests.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dalexandrias/marketwatch/internal/api"
	"github.com/dalexandrias/marketwatch/internal/dispatcher"
	"github.com/dalexandrias/marketwatch/internal/domain"
	"github.com/dalexandrias/marketwatch/internal/housekeeper"
	"github.com/dalexandrias/marketwatch/internal/notify"
	"github.com/dalexandrias/marketwatch/internal/scheduler"
	"github.com/dalexandrias/marketwatch/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) CreateKeyword(ctx context.Context, k domain.Keyword) error {
	_, err := s.db.ExecContext(ctx, queryInsertKeyword,
		k.ID,
		k.Term,
		int64(k.Interval/time.Second),
		k.Active,
		millis(k.CreatedAt),
		millis(k.UpdatedAt),
	)
	return store.Wrap("create keyword", err)
}

func (s *Store) ListKeywords(ctx context.Context, activeOnly bool) ([]domain.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, queryListKeywords, activeOnly)
	if err != nil {
		return nil, store.Wrap("list keywords", err)
	}
	defer rows.Close()

	var result []domain.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, store.Wrap("list keywords", err)
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list keywords", err)
	}
	return result, nil
}

func (s *Store) GetKeywordByTerm(ctx context.Context, term string) (domain.Keyword, error) {
	k, err := scanKeyword(s.db.QueryRowContext(ctx, queryGetKeywordByTerm, term))
	if err != nil {
		return domain.Keyword{}, store.Wrap("get keyword", err)
	}
	return k, nil
}

func (s *Store) ToggleKeyword(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var active bool
	if err := s.db.QueryRowContext(ctx, queryToggleKeyword, millis(now), id).Scan(&active); err != nil {
		return false, store.Wrap("toggle keyword", err)
	}
	return active, nil
}

func (s *Store) UpdateKeywordInterval(ctx context.Context, id uuid.UUID, interval time.Duration, now time.Time) error {
	result, err := s.db.ExecContext(ctx, queryUpdateKeywordInterval, int64(interval/time.Second), millis(now), id)
	if err != nil {
		return store.Wrap("update keyword interval", err)
	}
	return expectRow("update keyword interval", result)
}

func (s *Store) CreateRegion(ctx context.Context, r domain.Region) error {
	_, err := s.db.ExecContext(ctx, queryInsertRegion, r.ID, r.Name, r.Slug, r.Active, millis(r.CreatedAt))
	return store.Wrap("create region", err)
}

func (s *Store) ListRegions(ctx context.Context, activeOnly bool) ([]domain.Region, error) {
	rows, err := s.db.QueryContext(ctx, queryListRegions, activeOnly)
	if err != nil {
		return nil, store.Wrap("list regions", err)
	}
	defer rows.Close()

	var result []domain.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, store.Wrap("list regions", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list regions", err)
	}
	return result, nil
}

func (s *Store) GetRegionBySlug(ctx context.Context, slug string) (domain.Region, error) {
	r, err := scanRegion(s.db.QueryRowContext(ctx, queryGetRegionBySlug, slug))
	if err != nil {
		return domain.Region{}, store.Wrap("get region", err)
	}
	return r, nil
}

func (s *Store) ToggleRegion(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	if err := s.db.QueryRowContext(ctx, queryToggleRegion, id).Scan(&active); err != nil {
		return false, store.Wrap("toggle region", err)
	}
	return active, nil
}

// SyncTasks creates a task for every active keyword x region pair that lacks
// one and aligns each task's active flag with its keyword and region.
func (s *Store) SyncTasks(ctx context.Context, now time.Time) (int, error) {
	created := 0
	err := s.inTx(ctx, "sync tasks", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, queryMissingTaskPairs)
		if err != nil {
			return err
		}
		var pairs [][2]uuid.UUID
		for rows.Next() {
			var p [2]uuid.UUID
			if err := rows.Scan(&p[0], &p[1]); err != nil {
				rows.Close()
				return err
			}
			pairs = append(pairs, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range pairs {
			result, err := tx.ExecContext(ctx, queryInsertTask, uuid.New(), p[0], p[1], millis(now))
			if err != nil {
				return err
			}
			if n, _ := result.RowsAffected(); n > 0 {
				created++
			}
		}

		_, err = tx.ExecContext(ctx, querySyncTaskActive)
		return err
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]domain.SearchTask, error) {
	return s.queryTasks(ctx, "due tasks", queryDueTasks, millis(now))
}

func (s *Store) UpcomingTasks(ctx context.Context, limit int) ([]domain.SearchTask, error) {
	return s.queryTasks(ctx, "upcoming tasks", queryUpcomingTasks, limit)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, arg any) ([]domain.SearchTask, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	defer rows.Close()

	var result []domain.SearchTask
	for rows.Next() {
		var t domain.SearchTask
		var intervalSec, createdAt int64
		var lastRun sql.NullInt64
		err := rows.Scan(
			&t.ID,
			&t.KeywordID,
			&t.RegionID,
			&t.Term,
			&t.Region,
			&intervalSec,
			&lastRun,
			&t.Active,
			&t.RunCount,
			&t.FoundCount,
			&createdAt,
		)
		if err != nil {
			return nil, store.Wrap(op, err)
		}
		t.Interval = time.Duration(intervalSec) * time.Second
		t.LastRunAt = fromNullMillis(lastRun)
		t.CreatedAt = fromMillis(createdAt)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(op, err)
	}
	return result, nil
}

// MarkRun returns store.ErrNotFound for an unknown task.
func (s *Store) MarkRun(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	return s.inTx(ctx, "mark run", func(tx *sql.Tx) error {
		var keywordID uuid.UUID
		if err := tx.QueryRowContext(ctx, queryMarkTaskRun, millis(at), taskID).Scan(&keywordID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, queryBumpKeywordChecks, keywordID)
		return err
	})
}

func (s *Store) RecordFound(ctx context.Context, taskID uuid.UUID, n int) error {
	return s.inTx(ctx, "record found", func(tx *sql.Tx) error {
		var keywordID uuid.UUID
		if err := tx.QueryRowContext(ctx, queryRecordTaskFound, n, taskID).Scan(&keywordID); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, queryBumpKeywordFound, n, keywordID)
		return err
	})
}

func (s *Store) Exists(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, queryListingExists, sourceID).Scan(&exists); err != nil {
		return false, store.Wrap("listing exists", err)
	}
	return exists, nil
}

// Admit inserts the candidate unless its source id is already present.
func (s *Store) Admit(ctx context.Context, req domain.AdmitRequest) (domain.AdmitResult, error) {
	c := req.Candidate
	rec := domain.ListingRecord{
		ID:           uuid.New(),
		SourceID:     c.SourceID,
		Title:        c.Title,
		Price:        c.Price,
		URL:          c.URL,
		Location:     c.Location,
		ImageURL:     c.ImageURL,
		TaskID:       req.TaskID,
		RegionID:     req.RegionID,
		Region:       req.Region,
		Term:         req.Term,
		DiscoveredAt: fromMillis(millis(req.At)),
	}
	result, err := s.db.ExecContext(ctx, queryAdmitListing,
		rec.ID,
		rec.SourceID,
		rec.Title,
		rec.Price,
		rec.URL,
		rec.Location,
		rec.ImageURL,
		rec.TaskID,
		rec.RegionID,
		rec.Region,
		rec.Term,
		millis(req.At),
	)
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}
	if n == 1 {
		return domain.AdmitResult{Admitted: true, Record: rec}, nil
	}

	existing, err := scanListing(s.db.QueryRowContext(ctx, queryGetListingBySource, c.SourceID))
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}
	return domain.AdmitResult{Admitted: false, Record: existing}, nil
}

func (s *Store) Unnotified(ctx context.Context, limit int) ([]domain.ListingRecord, error) {
	return s.queryListings(ctx, "unnotified listings", queryUnnotifiedListings, limit)
}

func (s *Store) RecentListings(ctx context.Context, since time.Time, limit int) ([]domain.ListingRecord, error) {
	return s.queryListings(ctx, "recent listings", queryRecentListings, millis(since), limit)
}

func (s *Store) queryListings(ctx context.Context, op, query string, args ...any) ([]domain.ListingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	defer rows.Close()

	var result []domain.ListingRecord
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, store.Wrap(op, err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(op, err)
	}
	return result, nil
}

// MarkNotified is idempotent for already-notified listings and returns
// store.ErrNotFound for unknown ids.
func (s *Store) MarkNotified(ctx context.Context, listingID uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkNotified, millis(at), listingID)
	if err != nil {
		return store.Wrap("mark notified", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.Wrap("mark notified", err)
	}
	if n > 0 {
		return nil
	}

	var notified bool
	if err := s.db.QueryRowContext(ctx, queryListingNotified, listingID).Scan(&notified); err != nil {
		return store.Wrap("mark notified", err)
	}
	return nil
}

func (s *Store) InsertOutcome(ctx context.Context, o domain.ExecutionOutcome) error {
	_, err := s.db.ExecContext(ctx, queryInsertOutcome,
		o.ID,
		o.TaskID,
		o.Term,
		o.Region,
		millis(o.StartedAt),
		o.Duration.Milliseconds(),
		o.CandidatesSeen,
		o.Admitted,
		o.Errors,
		o.FailureKind,
		o.FailureReason,
	)
	return store.Wrap("insert outcome", err)
}

func (s *Store) InsertCycle(ctx context.Context, c domain.CycleReport) error {
	_, err := s.db.ExecContext(ctx, queryInsertCycle,
		c.ID,
		millis(c.StartedAt),
		c.Duration.Milliseconds(),
		c.TasksDue,
		c.TasksRun,
		c.TasksFailed,
		c.TasksBlocked,
		c.CandidatesSeen,
		c.Admitted,
		c.NotificationsSent,
		c.NotificationsFailed,
	)
	return store.Wrap("insert cycle", err)
}

func (s *Store) StatsSummary(ctx context.Context, since time.Time, topN int) (domain.StatsSummary, error) {
	sum := domain.StatsSummary{Since: since}
	var avgMs float64
	err := s.db.QueryRowContext(ctx, queryStatsSummary, millis(since)).Scan(
		&sum.Executions, &avgMs, &sum.CandidatesSeen, &sum.Admitted, &sum.Errors,
	)
	if err != nil {
		return domain.StatsSummary{}, store.Wrap("stats summary", err)
	}
	sum.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))

	rows, err := s.db.QueryContext(ctx, queryTopTerms, millis(since), topN)
	if err != nil {
		return domain.StatsSummary{}, store.Wrap("stats summary", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ts domain.TermStat
		if err := rows.Scan(&ts.Term, &ts.Executions, &ts.Admitted); err != nil {
			return domain.StatsSummary{}, store.Wrap("stats summary", err)
		}
		sum.TopTerms = append(sum.TopTerms, ts)
	}
	if err := rows.Err(); err != nil {
		return domain.StatsSummary{}, store.Wrap("stats summary", err)
	}
	return sum, nil
}

func (s *Store) PruneOutcomes(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, q := range []string{queryPruneOutcomes, queryPruneCycles} {
		result, err := s.db.ExecContext(ctx, q, millis(before))
		if err != nil {
			return total, store.Wrap("prune outcomes", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *Store) InsertAttempt(ctx context.Context, a domain.NotificationAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertAttempt,
		a.ID,
		a.ListingID,
		a.Sink,
		string(a.Status),
		a.Error,
		millis(a.CreatedAt),
		nullMillis(a.SentAt),
	)
	return store.Wrap("insert attempt", err)
}

func (s *Store) UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, queryUpdateAttempt, string(status), errMsg, nullMillis(sentAt), id)
	if err != nil {
		return store.Wrap("update attempt", err)
	}
	return expectRow("update attempt", result)
}

func (s *Store) SentSinks(ctx context.Context, listingID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, querySentSinks, listingID)
	if err != nil {
		return nil, store.Wrap("sent sinks", err)
	}
	defer rows.Close()

	var sinks []string
	for rows.Next() {
		var sink string
		if err := rows.Scan(&sink); err != nil {
			return nil, store.Wrap("sent sinks", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, store.Wrap("sent sinks", rows.Err())
}

func (s *Store) NotificationSummary(ctx context.Context, since time.Time) (domain.NotificationSummary, error) {
	rows, err := s.db.QueryContext(ctx, queryNotificationSummary, millis(since))
	if err != nil {
		return domain.NotificationSummary{}, store.Wrap("notification summary", err)
	}
	defer rows.Close()

	sum := domain.NotificationSummary{Since: since}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.NotificationSummary{}, store.Wrap("notification summary", err)
		}
		switch domain.NotificationStatus(status) {
		case domain.NotificationStatusSent:
			sum.Sent = n
		case domain.NotificationStatusFailed:
			sum.Failed = n
		case domain.NotificationStatusPending:
			sum.Pending = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.NotificationSummary{}, store.Wrap("notification summary", err)
	}
	return sum, nil
}

func (s *Store) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryPruneAttempts, millis(before))
	if err != nil {
		return 0, store.Wrap("prune attempts", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return store.Wrap(op, err)
	}
	return store.Wrap(op, tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyword(r rowScanner) (domain.Keyword, error) {
	var k domain.Keyword
	var intervalSec, createdAt, updatedAt int64
	err := r.Scan(
		&k.ID,
		&k.Term,
		&intervalSec,
		&k.Active,
		&k.TotalChecks,
		&k.TotalFound,
		&createdAt,
		&updatedAt,
	)
	k.Interval = time.Duration(intervalSec) * time.Second
	k.CreatedAt = fromMillis(createdAt)
	k.UpdatedAt = fromMillis(updatedAt)
	return k, err
}

func scanRegion(r rowScanner) (domain.Region, error) {
	var reg domain.Region
	var createdAt int64
	err := r.Scan(&reg.ID, &reg.Name, &reg.Slug, &reg.Active, &createdAt)
	reg.CreatedAt = fromMillis(createdAt)
	return reg, err
}

func scanListing(r rowScanner) (domain.ListingRecord, error) {
	var l domain.ListingRecord
	var discoveredAt int64
	var notifiedAt sql.NullInt64
	err := r.Scan(
		&l.ID,
		&l.SourceID,
		&l.Title,
		&l.Price,
		&l.URL,
		&l.Location,
		&l.ImageURL,
		&l.TaskID,
		&l.RegionID,
		&l.Region,
		&l.Term,
		&discoveredAt,
		&l.Notified,
		&notifiedAt,
	)
	l.DiscoveredAt = fromMillis(discoveredAt)
	l.NotifiedAt = fromNullMillis(notifiedAt)
	return l, err
}

func expectRow(op string, result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return store.Wrap(op, err)
	}
	if n == 0 {
		return store.NotFound(op)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

var (
	_ scheduler.Store   = (*Store)(nil)
	_ dispatcher.Store  = (*Store)(nil)
	_ notify.Store      = (*Store)(nil)
	_ housekeeper.Store = (*Store)(nil)
	_ api.Store         = (*Store)(nil)
)
