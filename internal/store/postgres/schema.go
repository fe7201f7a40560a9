package postgres

import (
	"context"

	"github.com/dalexandrias/marketwatch/internal/store"
)

// Schema is the complete DDL for the PostgreSQL backend. Every statement is
// idempotent so Migrate can run on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS keywords (
    id               UUID PRIMARY KEY,
    term             TEXT NOT NULL UNIQUE,
    interval_seconds INTEGER NOT NULL CHECK (interval_seconds > 0),
    active           BOOLEAN NOT NULL DEFAULT true,
    total_checks     BIGINT NOT NULL DEFAULT 0,
    total_found      BIGINT NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS regions (
    id         UUID PRIMARY KEY,
    name       TEXT NOT NULL,
    slug       TEXT NOT NULL UNIQUE,
    active     BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS search_tasks (
    id          UUID PRIMARY KEY,
    keyword_id  UUID NOT NULL REFERENCES keywords(id),
    region_id   UUID NOT NULL REFERENCES regions(id),
    active      BOOLEAN NOT NULL DEFAULT true,
    last_run_at TIMESTAMPTZ,
    run_count   BIGINT NOT NULL DEFAULT 0,
    found_count BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (keyword_id, region_id)
);
CREATE INDEX IF NOT EXISTS idx_search_tasks_due ON search_tasks (active, last_run_at NULLS FIRST);

CREATE TABLE IF NOT EXISTS listings (
    id            UUID PRIMARY KEY,
    source_id     TEXT NOT NULL UNIQUE,
    title         TEXT NOT NULL,
    price         TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL,
    location      TEXT NOT NULL DEFAULT '',
    image_url     TEXT NOT NULL DEFAULT '',
    task_id       UUID NOT NULL,
    region_id     UUID NOT NULL,
    region        TEXT NOT NULL,
    term          TEXT NOT NULL,
    discovered_at TIMESTAMPTZ NOT NULL,
    notified      BOOLEAN NOT NULL DEFAULT false,
    notified_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_listings_unnotified ON listings (discovered_at) WHERE notified = false;

CREATE TABLE IF NOT EXISTS execution_outcomes (
    id              UUID PRIMARY KEY,
    task_id         UUID NOT NULL,
    term            TEXT NOT NULL,
    region          TEXT NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    duration_ms     BIGINT NOT NULL,
    candidates_seen INTEGER NOT NULL,
    admitted        INTEGER NOT NULL,
    errors          INTEGER NOT NULL,
    failure_kind    TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_execution_outcomes_started ON execution_outcomes (started_at);

CREATE TABLE IF NOT EXISTS cycle_reports (
    id                   UUID PRIMARY KEY,
    started_at           TIMESTAMPTZ NOT NULL,
    duration_ms          BIGINT NOT NULL,
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
    id         UUID PRIMARY KEY,
    listing_id UUID NOT NULL REFERENCES listings(id),
    sink       TEXT NOT NULL,
    status     TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_notification_attempts_listing ON notification_attempts (listing_id, sink);
CREATE INDEX IF NOT EXISTS idx_notification_attempts_created ON notification_attempts (created_at);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return store.Wrap("migrate", err)
}
