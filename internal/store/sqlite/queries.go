package sqlite

const queryInsertKeyword = `
INSERT INTO keywords (id, term, interval_seconds, active, total_checks, total_found, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, 0, ?, ?)
`

const keywordColumns = `
SELECT id, term, interval_seconds, active, total_checks, total_found, created_at, updated_at
FROM keywords
`

const queryListKeywords = keywordColumns + `
WHERE (? = 0 OR active = 1)
ORDER BY term
`

const queryGetKeywordByTerm = keywordColumns + `
WHERE term = ?
`

const queryToggleKeyword = `
UPDATE keywords SET active = NOT active, updated_at = ?
WHERE id = ?
RETURNING active
`

const queryUpdateKeywordInterval = `
UPDATE keywords SET interval_seconds = ?, updated_at = ?
WHERE id = ?
`

const queryInsertRegion = `
INSERT INTO regions (id, name, slug, active, created_at)
VALUES (?, ?, ?, ?, ?)
`

const queryListRegions = `
SELECT id, name, slug, active, created_at
FROM regions
WHERE (? = 0 OR active = 1)
ORDER BY name
`

const queryGetRegionBySlug = `
SELECT id, name, slug, active, created_at
FROM regions
WHERE slug = ?
`

const queryToggleRegion = `
UPDATE regions SET active = NOT active
WHERE id = ?
RETURNING active
`

const queryMissingTaskPairs = `
SELECT k.id, r.id
FROM keywords k
CROSS JOIN regions r
WHERE k.active = 1 AND r.active = 1
  AND NOT EXISTS (
      SELECT 1 FROM search_tasks t WHERE t.keyword_id = k.id AND t.region_id = r.id
  )
ORDER BY k.created_at, r.created_at
`

const queryInsertTask = `
INSERT INTO search_tasks (id, keyword_id, region_id, active, created_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (keyword_id, region_id) DO NOTHING
`

const querySyncTaskActive = `
UPDATE search_tasks
SET active = (
    SELECT k.active AND r.active
    FROM keywords k, regions r
    WHERE k.id = search_tasks.keyword_id AND r.id = search_tasks.region_id
)
`

const taskColumns = `
SELECT t.id, t.keyword_id, t.region_id, k.term, r.slug, k.interval_seconds,
       t.last_run_at, t.active, t.run_count, t.found_count, t.created_at
FROM search_tasks t
JOIN keywords k ON k.id = t.keyword_id
JOIN regions r ON r.id = t.region_id
`

const queryDueTasks = taskColumns + `
WHERE t.active = 1
  AND (t.last_run_at IS NULL OR t.last_run_at + k.interval_seconds * 1000 <= ?)
ORDER BY t.last_run_at ASC NULLS FIRST, t.created_at, t.id
`

const queryUpcomingTasks = taskColumns + `
WHERE t.active = 1
ORDER BY t.last_run_at + k.interval_seconds * 1000 ASC NULLS FIRST, t.id
LIMIT ?
`

const queryMarkTaskRun = `
UPDATE search_tasks SET last_run_at = ?, run_count = run_count + 1
WHERE id = ?
RETURNING keyword_id
`

const queryRecordTaskFound = `
UPDATE search_tasks SET found_count = found_count + ?
WHERE id = ?
RETURNING keyword_id
`

const queryBumpKeywordChecks = `
UPDATE keywords SET total_checks = total_checks + 1 WHERE id = ?
`

const queryBumpKeywordFound = `
UPDATE keywords SET total_found = total_found + ? WHERE id = ?
`

const listingColumns = `
SELECT id, source_id, title, price, url, location, image_url,
       task_id, region_id, region, term, discovered_at, notified, notified_at
FROM listings
`

const queryListingExists = `
SELECT EXISTS (SELECT 1 FROM listings WHERE source_id = ?)
`

const queryAdmitListing = `
INSERT INTO listings (id, source_id, title, price, url, location, image_url,
                      task_id, region_id, region, term, discovered_at, notified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
ON CONFLICT (source_id) DO NOTHING
`

const queryGetListingBySource = listingColumns + `
WHERE source_id = ?
`

const queryUnnotifiedListings = listingColumns + `
WHERE notified = 0
ORDER BY discovered_at ASC, id
LIMIT ?
`

const queryMarkNotified = `
UPDATE listings SET notified = 1, notified_at = ?
WHERE id = ? AND notified = 0
`

const queryListingNotified = `
SELECT notified FROM listings WHERE id = ?
`

const queryRecentListings = listingColumns + `
WHERE discovered_at >= ?
ORDER BY discovered_at DESC, id
LIMIT ?
`

const queryInsertOutcome = `
INSERT INTO execution_outcomes (id, task_id, term, region, started_at, duration_ms,
                                candidates_seen, admitted, errors, failure_kind, failure_reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryInsertCycle = `
INSERT INTO cycle_reports (id, started_at, duration_ms, tasks_due, tasks_run, tasks_failed, tasks_blocked,
                           candidates_seen, admitted, notifications_sent, notifications_failed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryStatsSummary = `
SELECT COUNT(*), COALESCE(AVG(duration_ms), 0.0),
       COALESCE(SUM(candidates_seen), 0), COALESCE(SUM(admitted), 0), COALESCE(SUM(errors), 0)
FROM execution_outcomes
WHERE started_at >= ?
`

const queryTopTerms = `
SELECT term, COUNT(*), COALESCE(SUM(admitted), 0) AS total_admitted
FROM execution_outcomes
WHERE started_at >= ?
GROUP BY term
ORDER BY total_admitted DESC, term
LIMIT ?
`

const queryPruneOutcomes = `
DELETE FROM execution_outcomes WHERE started_at < ?
`

const queryPruneCycles = `
DELETE FROM cycle_reports WHERE started_at < ?
`

const queryInsertAttempt = `
INSERT INTO notification_attempts (id, listing_id, sink, status, error, created_at, sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const queryUpdateAttempt = `
UPDATE notification_attempts SET status = ?, error = ?, sent_at = ?
WHERE id = ?
`

const querySentSinks = `
SELECT DISTINCT sink FROM notification_attempts
WHERE listing_id = ? AND status = 'sent'
ORDER BY sink
`

const queryNotificationSummary = `
SELECT status, COUNT(*) FROM notification_attempts
WHERE created_at >= ?
GROUP BY status
`

const queryPruneAttempts = `
DELETE FROM notification_attempts
WHERE created_at < ?
  AND listing_id IN (SELECT id FROM listings WHERE notified = 1)
`
