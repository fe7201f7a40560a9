// Package leaderelection makes sure only one marketwatch instance polls the
// feed when several share a Postgres database.
//
// Leadership is a session-scoped Postgres advisory lock held on a dedicated
// connection; there is no renewal or TTL. If the connection dies, Postgres
// releases the lock server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop polling promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusUpdate(isLeader bool)
}

// Lease is a held lock.
type Lease interface {
	// Ping fails once the lock can no longer be assumed held.
	Ping(ctx context.Context) error
	Release() error
}

// Locker makes one non-blocking acquisition attempt. A nil Lease with a nil
// error means another instance holds the lock.
type Locker interface {
	TryAcquire(ctx context.Context) (Lease, error)
}

// Elector runs leader duties while it holds the lock.
type Elector struct {
	locker            Locker
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the lease
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the lock.
// The provided context is cancelled when leadership is lost.
// onElected should start the scheduler and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop the scheduler and block until it has fully stopped.
// It must be idempotent.
func New(
	locker Locker,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		locker:            locker,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (retry=%s, heartbeat=%s)", e.retryInterval, e.heartbeatInterval)
	if e.metrics != nil {
		e.metrics.LeaderStatusUpdate(false)
	}

	for {
		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), will retry in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}

	lease, err := e.locker.TryAcquire(ctx)
	if err != nil {
		log.Printf("leader: lock attempt failed: %v", err)
		return ""
	}
	if lease == nil {
		log.Printf("leader: lock held by another instance, retrying in %s", e.retryInterval)
		return ""
	}

	log.Println("leader: acquired lock")
	if e.metrics != nil {
		e.metrics.LeaderStatusUpdate(true)
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx, lease)

	cancelLeader()
	e.onDemoted()

	if err := lease.Release(); err != nil {
		log.Printf("leader: release failed: %v", err)
	}
	if e.metrics != nil {
		e.metrics.LeaderStatusUpdate(false)
	}

	log.Println("leader: released lock")
	return reason
}

// hold blocks while pinging the lease.
// Returns the reason the lock was lost.
func (e *Elector) hold(ctx context.Context, lease Lease) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := lease.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: lease ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}

// AdvisoryLocker takes pg_try_advisory_lock on a dedicated connection.
type AdvisoryLocker struct {
	db      *sql.DB
	lockKey int64
}

// NewAdvisoryLocker returns a Locker for lockKey. All instances sharing the
// database must use the same key.
func NewAdvisoryLocker(db *sql.DB, lockKey int64) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, lockKey: lockKey}
}

func (l *AdvisoryLocker) TryAcquire(ctx context.Context) (Lease, error) {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedicated connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockKey).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock %d: %w", l.lockKey, err)
	}
	if !acquired {
		conn.Close()
		return nil, nil
	}
	return &advisoryLease{conn: conn, lockKey: l.lockKey}, nil
}

type advisoryLease struct {
	conn    *sql.Conn
	lockKey int64
}

func (l *advisoryLease) Ping(ctx context.Context) error {
	return l.conn.PingContext(ctx)
}

// Release unlocks explicitly; closing the connection would release it too,
// but the pool may keep the session alive.
func (l *advisoryLease) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey)
	if cerr := l.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
