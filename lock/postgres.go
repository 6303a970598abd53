package lock

import (
	"context"
	"crypto/md5"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const backendPostgres = "postgres"

// PostgresLockKey maps a lock name onto Postgres's 64-bit advisory-lock key
// space: the first 8 bytes of md5(name), big-endian, as a signed integer.
// Every client of a name must use this encoding; two encodings of the same
// name would not collide at the arbiter. A held key shows up split across
// classid/objid in pg_locks.
func PostgresLockKey(name string) int64 {
	sum := md5.Sum([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// PostgresLocker takes session-scoped advisory locks on a Postgres server.
// Each attempt pins its own dedicated session out of db; the session is
// yielded to the holder for the critical section and torn down on release.
type PostgresLocker struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPostgresLocker constructs a Postgres-based advisory lock manager.
func NewPostgresLocker(db *sql.DB, opts ...Option) *PostgresLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresLocker{db: db, log: o.log}
}

// Acquire makes one non-blocking attempt to take the named lock on a fresh
// dedicated session. The returned Lock is a *PostgresLock; use WithConn for
// scoped access to the held session.
func (l *PostgresLocker) Acquire(ctx context.Context, name string) (Lock, error) {
	lk, err := l.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return lk, nil
}

// WithConn acquires the named lock, runs fn with the dedicated session that
// holds it, and releases on every exit path once fn has finished.
func (l *PostgresLocker) WithConn(ctx context.Context, name string, fn func(context.Context, *sql.Conn) error) error {
	lk, err := l.acquire(ctx, name)
	if err != nil {
		return err
	}
	return runLocked(ctx, lk, func(ctx context.Context) error {
		return fn(ctx, lk.conn)
	})
}

func (l *PostgresLocker) acquire(ctx context.Context, name string) (*PostgresLock, error) {
	if name == "" {
		return nil, errEmptyName
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lock session: %w", err)
	}

	// Label the session so the holder of a name is attributable in
	// pg_stat_activity while the lock is held.
	label := fmt.Sprintf("%s-%s-lock", uuid.NewString(), name)
	if _, err := conn.ExecContext(ctx, "SELECT set_config('application_name', $1, false)", label); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("label lock session: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", PostgresLockKey(name)).Scan(&acquired)
	if err != nil {
		// The server may have granted the lock before the exchange broke, so
		// the session must not be reused: discard it and let the arbiter
		// release on teardown.
		discardSession(conn)
		deniedTotal.WithLabelValues(backendPostgres).Inc()
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, err)
	}
	if !acquired {
		_ = conn.Close()
		deniedTotal.WithLabelValues(backendPostgres).Inc()
		return nil, ErrNotAcquired
	}

	acquiredTotal.WithLabelValues(backendPostgres).Inc()
	l.log.WithFields(logrus.Fields{"name": name, "session": label}).Debug("acquired advisory lock")

	return &PostgresLock{name: name, conn: conn, log: l.log}, nil
}

// PostgresLock is one held (or already released) Postgres advisory lock
// attempt and the dedicated session backing it.
type PostgresLock struct {
	name string
	conn *sql.Conn
	log  logrus.FieldLogger

	mu       sync.Mutex
	released bool
}

// Name returns the lock name this attempt was made for.
func (lk *PostgresLock) Name() string { return lk.name }

// Conn returns the dedicated session holding the lock. It must only be used
// before Release.
func (lk *PostgresLock) Conn() *sql.Conn { return lk.conn }

// Release unlocks everything this session holds and closes the session. If
// the unlock fails the session is discarded instead, so that teardown frees
// whatever it still held. Safe to call more than once.
func (lk *PostgresLock) Release(ctx context.Context) error {
	lk.mu.Lock()
	if lk.released {
		lk.mu.Unlock()
		return nil
	}
	lk.released = true
	lk.mu.Unlock()

	// Clearing the label in the same statement keeps a pooled reuse of this
	// session from being attributed to the lock in pg_stat_activity.
	if _, err := lk.conn.ExecContext(ctx, "SELECT pg_advisory_unlock_all(), set_config('application_name', '', false)"); err != nil {
		releaseFailuresTotal.WithLabelValues(backendPostgres).Inc()
		lk.log.WithField("name", lk.name).WithError(err).Warn("discarding lock session after failed release")
		discardSession(lk.conn)
		return fmt.Errorf("release advisory lock %q: %w", lk.name, err)
	}

	lk.log.WithField("name", lk.name).Debug("released advisory lock")
	return lk.conn.Close()
}

// discardSession poisons the dedicated session so the pool destroys it
// instead of handing it out again; the server then releases any advisory
// locks the session still held.
func discardSession(conn *sql.Conn) {
	_ = conn.Raw(func(driverConn any) error {
		return driver.ErrBadConn
	})
}
