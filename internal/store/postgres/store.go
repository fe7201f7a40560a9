package postgres

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

// Store implements the task store, listing ledger and statistics tables on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

// CreateKeyword inserts a keyword. A duplicate term returns store.ErrConflict.
func (s *Store) CreateKeyword(ctx context.Context, k domain.Keyword) error {
	_, err := s.db.ExecContext(ctx, queryInsertKeyword,
		k.ID,
		k.Term,
		int64(k.Interval/time.Second),
		k.Active,
		k.CreatedAt,
		k.UpdatedAt,
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

// ToggleKeyword flips the active flag and returns the new value.
func (s *Store) ToggleKeyword(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, queryToggleKeyword, id, now).Scan(&active)
	if err != nil {
		return false, store.Wrap("toggle keyword", err)
	}
	return active, nil
}

func (s *Store) UpdateKeywordInterval(ctx context.Context, id uuid.UUID, interval time.Duration, now time.Time) error {
	result, err := s.db.ExecContext(ctx, queryUpdateKeywordInterval, id, int64(interval/time.Second), now)
	if err != nil {
		return store.Wrap("update keyword interval", err)
	}
	return expectRow("update keyword interval", result)
}

// CreateRegion inserts a region. A duplicate slug returns store.ErrConflict.
func (s *Store) CreateRegion(ctx context.Context, r domain.Region) error {
	_, err := s.db.ExecContext(ctx, queryInsertRegion, r.ID, r.Name, r.Slug, r.Active, r.CreatedAt)
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
		var r domain.Region
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &r.Active, &r.CreatedAt); err != nil {
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
	var r domain.Region
	err := s.db.QueryRowContext(ctx, queryGetRegionBySlug, slug).Scan(&r.ID, &r.Name, &r.Slug, &r.Active, &r.CreatedAt)
	if err != nil {
		return domain.Region{}, store.Wrap("get region", err)
	}
	return r, nil
}

// ToggleRegion flips the active flag and returns the new value.
func (s *Store) ToggleRegion(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	if err := s.db.QueryRowContext(ctx, queryToggleRegion, id).Scan(&active); err != nil {
		return false, store.Wrap("toggle region", err)
	}
	return active, nil
}

// SyncTasks creates a task for every active keyword x region pair that lacks
// one and aligns each task's active flag with its keyword and region.
// Tasks are never deleted, so run history survives deactivation.
func (s *Store) SyncTasks(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, store.Wrap("sync tasks", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, queryMissingTaskPairs)
	if err != nil {
		return 0, store.Wrap("sync tasks", err)
	}
	var pairs [][2]uuid.UUID
	for rows.Next() {
		var p [2]uuid.UUID
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			rows.Close()
			return 0, store.Wrap("sync tasks", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, store.Wrap("sync tasks", err)
	}

	created := 0
	for _, p := range pairs {
		result, err := tx.ExecContext(ctx, queryInsertTask, uuid.New(), p[0], p[1], now)
		if err != nil {
			return 0, store.Wrap("sync tasks", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
		}
	}

	if _, err := tx.ExecContext(ctx, querySyncTaskActive); err != nil {
		return 0, store.Wrap("sync tasks", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, store.Wrap("sync tasks", err)
	}
	return created, nil
}

// DueTasks returns active tasks whose interval has elapsed at now, never-run
// tasks first, then by last run ascending.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]domain.SearchTask, error) {
	return s.queryTasks(ctx, "due tasks", queryDueTasks, now)
}

// UpcomingTasks returns active tasks ordered by next due time.
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
		var intervalSec int64
		var lastRun sql.NullTime
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
			&t.CreatedAt,
		)
		if err != nil {
			return nil, store.Wrap(op, err)
		}
		t.Interval = time.Duration(intervalSec) * time.Second
		if lastRun.Valid {
			ts := lastRun.Time
			t.LastRunAt = &ts
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(op, err)
	}
	return result, nil
}

// MarkRun sets last_run_at and increments run_count in one statement.
// Returns store.ErrNotFound for an unknown task.
func (s *Store) MarkRun(ctx context.Context, taskID uuid.UUID, at time.Time) error {
	return s.inTx(ctx, "mark run", func(tx *sql.Tx) error {
		var keywordID uuid.UUID
		if err := tx.QueryRowContext(ctx, queryMarkTaskRun, taskID, at).Scan(&keywordID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, queryBumpKeywordChecks, keywordID)
		return err
	})
}

// RecordFound adds n to the task's found count.
func (s *Store) RecordFound(ctx context.Context, taskID uuid.UUID, n int) error {
	return s.inTx(ctx, "record found", func(tx *sql.Tx) error {
		var keywordID uuid.UUID
		if err := tx.QueryRowContext(ctx, queryRecordTaskFound, taskID, n).Scan(&keywordID); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, queryBumpKeywordFound, keywordID, n)
		return err
	})
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

func (s *Store) Exists(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, queryListingExists, sourceID).Scan(&exists); err != nil {
		return false, store.Wrap("listing exists", err)
	}
	return exists, nil
}

// Admit inserts the candidate unless its source id is already present.
// The unique constraint on source_id makes concurrent admissions of the same
// id race-free: exactly one caller observes Admitted = true.
func (s *Store) Admit(ctx context.Context, req domain.AdmitRequest) (domain.AdmitResult, error) {
	c := req.Candidate
	id := uuid.New()
	result, err := s.db.ExecContext(ctx, queryAdmitListing,
		id,
		c.SourceID,
		c.Title,
		c.Price,
		c.URL,
		c.Location,
		c.ImageURL,
		req.TaskID,
		req.RegionID,
		req.Region,
		req.Term,
		req.At,
	)
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}

	if n == 1 {
		return domain.AdmitResult{
			Admitted: true,
			Record: domain.ListingRecord{
				ID:           id,
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
				DiscoveredAt: req.At,
			},
		}, nil
	}

	existing, err := scanListing(s.db.QueryRowContext(ctx, queryGetListingBySource, c.SourceID))
	if err != nil {
		return domain.AdmitResult{}, store.Wrap("admit listing", err)
	}
	return domain.AdmitResult{Admitted: false, Record: existing}, nil
}

// Unnotified returns listings not yet notified, oldest discovery first.
func (s *Store) Unnotified(ctx context.Context, limit int) ([]domain.ListingRecord, error) {
	return s.queryListings(ctx, "unnotified listings", queryUnnotifiedListings, limit)
}

func (s *Store) RecentListings(ctx context.Context, since time.Time, limit int) ([]domain.ListingRecord, error) {
	return s.queryListings(ctx, "recent listings", queryRecentListings, since, limit)
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

// MarkNotified flips notified to true. Already-notified listings are left
// untouched and return nil; unknown ids return store.ErrNotFound.
func (s *Store) MarkNotified(ctx context.Context, listingID uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkNotified, listingID, at)
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

	// Either the listing does not exist or it was already notified.
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
		o.StartedAt,
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
		c.StartedAt,
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

// StatsSummary aggregates execution outcomes since the given time, with the
// topN terms ranked by admitted listings.
func (s *Store) StatsSummary(ctx context.Context, since time.Time, topN int) (domain.StatsSummary, error) {
	sum := domain.StatsSummary{Since: since}
	var avgMs float64
	err := s.db.QueryRowContext(ctx, queryStatsSummary, since).Scan(
		&sum.Executions, &avgMs, &sum.CandidatesSeen, &sum.Admitted, &sum.Errors,
	)
	if err != nil {
		return domain.StatsSummary{}, store.Wrap("stats summary", err)
	}
	sum.AvgDuration = time.Duration(avgMs * float64(time.Millisecond))

	rows, err := s.db.QueryContext(ctx, queryTopTerms, since, topN)
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

// PruneOutcomes deletes execution outcomes and cycle reports older than before.
func (s *Store) PruneOutcomes(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, q := range []string{queryPruneOutcomes, queryPruneCycles} {
		result, err := s.db.ExecContext(ctx, q, before)
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
		a.CreatedAt,
		a.SentAt,
	)
	return store.Wrap("insert attempt", err)
}

func (s *Store) UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, errMsg string, sentAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, queryUpdateAttempt, id, string(status), errMsg, sentAt)
	if err != nil {
		return store.Wrap("update attempt", err)
	}
	return expectRow("update attempt", result)
}

// SentSinks returns the sinks that already delivered the listing.
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
	rows, err := s.db.QueryContext(ctx, queryNotificationSummary, since)
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

// PruneAttempts deletes attempts older than before whose listing is already notified.
func (s *Store) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryPruneAttempts, before)
	if err != nil {
		return 0, store.Wrap("prune attempts", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyword(r rowScanner) (domain.Keyword, error) {
	var k domain.Keyword
	var intervalSec int64
	err := r.Scan(
		&k.ID,
		&k.Term,
		&intervalSec,
		&k.Active,
		&k.TotalChecks,
		&k.TotalFound,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	k.Interval = time.Duration(intervalSec) * time.Second
	return k, err
}

func scanListing(r rowScanner) (domain.ListingRecord, error) {
	var l domain.ListingRecord
	var notifiedAt sql.NullTime
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
		&l.DiscoveredAt,
		&l.Notified,
		&notifiedAt,
	)
	if notifiedAt.Valid {
		ts := notifiedAt.Time
		l.NotifiedAt = &ts
	}
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

// Compile-time interface assertions
var (
	_ scheduler.Store   = (*Store)(nil)
	_ dispatcher.Store  = (*Store)(nil)
	_ notify.Store      = (*Store)(nil)
	_ housekeeper.Store = (*Store)(nil)
	_ api.Store         = (*Store)(nil)
)
