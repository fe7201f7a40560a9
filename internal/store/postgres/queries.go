package postgres

// Catalog

const queryInsertKeyword = `
INSERT INTO keywords (id, term, interval_seconds, active, total_checks, total_found, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
`

const queryListKeywords = `
SELECT id, term, interval_seconds, active, total_checks, total_found, created_at, updated_at
FROM keywords
WHERE ($1::boolean = false OR active = true)
ORDER BY term
`

const queryGetKeywordByTerm = `
SELECT id, term, interval_seconds, active, total_checks, total_found, created_at, updated_at
FROM keywords
WHERE term = $1
`

const queryToggleKeyword = `
UPDATE keywords SET active = NOT active, updated_at = $2
WHERE id = $1
RETURNING active
`

const queryUpdateKeywordInterval = `
UPDATE keywords SET interval_seconds = $2, updated_at = $3
WHERE id = $1
`

const queryInsertRegion = `
INSERT INTO regions (id, name, slug, active, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryListRegions = `
SELECT id, name, slug, active, created_at
FROM regions
WHERE ($1::boolean = false OR active = true)
ORDER BY name
`

const queryGetRegionBySlug = `
SELECT id, name, slug, active, created_at
FROM regions
WHERE slug = $1
`

const queryToggleRegion = `
UPDATE regions SET active = NOT active
WHERE id = $1
RETURNING active
`

// Tasks

const queryMissingTaskPairs = `
SELECT k.id, r.id
FROM keywords k
CROSS JOIN regions r
WHERE k.active = true AND r.active = true
  AND NOT EXISTS (
      SELECT 1 FROM search_tasks t WHERE t.keyword_id = k.id AND t.region_id = r.id
  )
ORDER BY k.created_at, r.created_at
`

const queryInsertTask = `
INSERT INTO search_tasks (id, keyword_id, region_id, active, created_at)
VALUES ($1, $2, $3, true, $4)
ON CONFLICT (keyword_id, region_id) DO NOTHING
`

const querySyncTaskActive = `
UPDATE search_tasks t
SET active = (k.active AND r.active)
FROM keywords k, regions r
WHERE t.keyword_id = k.id AND t.region_id = r.id
  AND t.active <> (k.active AND r.active)
`

const taskColumns = `
    t.id, t.keyword_id, t.region_id, k.term, r.slug, k.interval_seconds,
    t.last_run_at, t.active, t.run_count, t.found_count, t.created_at
FROM search_tasks t
JOIN keywords k ON k.id = t.keyword_id
JOIN regions r ON r.id = t.region_id
`

const queryDueTasks = `
SELECT` + taskColumns + `
WHERE t.active = true
  AND (t.last_run_at IS NULL OR t.last_run_at + k.interval_seconds * INTERVAL '1 second' <= $1)
ORDER BY t.last_run_at ASC NULLS FIRST, t.created_at, t.id
`

const queryUpcomingTasks = `
SELECT` + taskColumns + `
WHERE t.active = true
ORDER BY t.last_run_at + k.interval_seconds * INTERVAL '1 second' ASC NULLS FIRST, t.id
LIMIT $1
`

const queryMarkTaskRun = `
UPDATE search_tasks SET last_run_at = $2, run_count = run_count + 1
WHERE id = $1
RETURNING keyword_id
`

const queryRecordTaskFound = `
UPDATE search_tasks SET found_count = found_count + $2
WHERE id = $1
RETURNING keyword_id
`

const queryBumpKeywordChecks = `
UPDATE keywords SET total_checks = total_checks + 1 WHERE id = $1
`

const queryBumpKeywordFound = `
UPDATE keywords SET total_found = total_found + $2 WHERE id = $1
`

// Ledger

const listingColumns = `
    id, source_id, title, price, url, location, image_url,
    task_id, region_id, region, term, discovered_at, notified, notified_at
`

const queryListingExists = `
SELECT EXISTS (SELECT 1 FROM listings WHERE source_id = $1)
`

const queryAdmitListing = `
INSERT INTO listings (id, source_id, title, price, url, location, image_url,
                      task_id, region_id, region, term, discovered_at, notified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false)
ON CONFLICT (source_id) DO NOTHING
`

const queryGetListingBySource = `
SELECT` + listingColumns + `
FROM listings
WHERE source_id = $1
`

const queryUnnotifiedListings = `
SELECT` + listingColumns + `
FROM listings
WHERE notified = false
ORDER BY discovered_at ASC, id
LIMIT $1
`

const queryMarkNotified = `
UPDATE listings SET notified = true, notified_at = $2
WHERE id = $1 AND notified = false
`

const queryListingNotified = `
SELECT notified FROM listings WHERE id = $1
`

const queryRecentListings = `
SELECT` + listingColumns + `
FROM listings
WHERE discovered_at >= $1
ORDER BY discovered_at DESC, id
LIMIT $2
`

// Statistics

const queryInsertOutcome = `
INSERT INTO execution_outcomes (id, task_id, term, region, started_at, duration_ms,
                                candidates_seen, admitted, errors, failure_kind, failure_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryInsertCycle = `
INSERT INTO cycle_reports (id, started_at, duration_ms, tasks_due, tasks_run, tasks_failed, tasks_blocked,
                           candidates_seen, admitted, notifications_sent, notifications_failed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const queryStatsSummary = `
SELECT COUNT(*), COALESCE(AVG(duration_ms), 0)::float8,
       COALESCE(SUM(candidates_seen), 0), COALESCE(SUM(admitted), 0), COALESCE(SUM(errors), 0)
FROM execution_outcomes
WHERE started_at >= $1
`

const queryTopTerms = `
SELECT term, COUNT(*), COALESCE(SUM(admitted), 0) AS total_admitted
FROM execution_outcomes
WHERE started_at >= $1
GROUP BY term
ORDER BY total_admitted DESC, term
LIMIT $2
`

const queryPruneOutcomes = `
DELETE FROM execution_outcomes WHERE started_at < $1
`

const queryPruneCycles = `
DELETE FROM cycle_reports WHERE started_at < $1
`

// Notification attempts

const queryInsertAttempt = `
INSERT INTO notification_attempts (id, listing_id, sink, status, error, created_at, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryUpdateAttempt = `
UPDATE notification_attempts SET status = $2, error = $3, sent_at = $4
WHERE id = $1
`

const querySentSinks = `
SELECT DISTINCT sink FROM notification_attempts
WHERE listing_id = $1 AND status = 'sent'
ORDER BY sink
`

const queryNotificationSummary = `
SELECT status, COUNT(*) FROM notification_attempts
WHERE created_at >= $1
GROUP BY status
`

const queryPruneAttempts = `
DELETE FROM notification_attempts a
USING listings l
WHERE a.listing_id = l.id AND l.notified = true AND a.created_at < $1
`
