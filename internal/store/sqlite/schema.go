package sqlite

import (
	"context"

	"github.com/dalexandrias/marketwatch/internal/store"
)

// Schema is the DDL for the SQLite backend. Timestamps are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS keywords (
    id               TEXT PRIMARY KEY,
    term             TEXT NOT NULL UNIQUE,
    interval_seconds INTEGER NOT NULL CHECK (interval_seconds > 0),
    active           INTEGER NOT NULL DEFAULT 1,
    total_checks     INTEGER NOT NULL DEFAULT 0,
    total_found      INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS regions (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    slug       TEXT NOT NULL UNIQUE,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS search_tasks (
    id          TEXT PRIMARY KEY,
    keyword_id  TEXT NOT NULL REFERENCES keywords(id),
    region_id   TEXT NOT NULL REFERENCES regions(id),
    active      INTEGER NOT NULL DEFAULT 1,
    last_run_at INTEGER,
    run_count   INTEGER NOT NULL DEFAULT 0,
    found_count INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    UNIQUE (keyword_id, region_id)
);
CREATE INDEX IF NOT EXISTS idx_search_tasks_due ON search_tasks (active, last_run_at);

CREATE TABLE IF NOT EXISTS listings (
    id            TEXT PRIMARY KEY,
    source_id     TEXT NOT NULL UNIQUE,
    title         TEXT NOT NULL,
    price         TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL,
    location      TEXT NOT NULL DEFAULT '',
    image_url     TEXT NOT NULL DEFAULT '',
    task_id       TEXT NOT NULL,
    region_id     TEXT NOT NULL,
    region        TEXT NOT NULL,
    term          TEXT NOT NULL,
    discovered_at INTEGER NOT NULL,
    notified      INTEGER NOT NULL DEFAULT 0,
    notified_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_listings_unnotified ON listings (notified, discovered_at);

CREATE TABLE IF NOT EXISTS execution_outcomes (
    id              TEXT PRIMARY KEY,
    task_id         TEXT NOT NULL,
    term            TEXT NOT NULL,
    region          TEXT NOT NULL,
    started_at      INTEGER NOT NULL,
    duration_ms     INTEGER NOT NULL,
    candidates_seen INTEGER NOT NULL,
    admitted        INTEGER NOT NULL,
    errors          INTEGER NOT NULL,
    failure_kind    TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_execution_outcomes_started ON execution_outcomes (started_at);

CREATE TABLE IF NOT EXISTS cycle_reports (
    id                   TEXT PRIMARY KEY,
    started_at           INTEGER NOT NULL,
    duration_ms          INTEGER NOT NULL,
    tasks_due            INTEGER NOT NULL,
    tasks_run            INTEGER NOT NULL,
    tasks_failed         INTEGER NOT NULL,
    tasks_blocked        INTEGER NOT NULL,
    candidates_seen      INTEGER NOT NULL,
    admitted             INTEGER NOT NULL,
    notifications_sent   INTEGER NOT NULL,
    notifications_failed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_reports_started ON cycle_reports (started_at);

CREATE TABLE IF NOT EXISTS notification_attempts (
    id         TEXT PRIMARY KEY,
    listing_id TEXT NOT NULL REFERENCES listings(id),
    sink       TEXT NOT NULL,
    status     TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    sent_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_notification_attempts_listing ON notification_attempts (listing_id, sink);
CREATE INDEX IF NOT EXISTS idx_notification_attempts_created ON notification_attempts (created_at);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return store.Wrap("migrate", err)
}
