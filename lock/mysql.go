package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const backendMySQL = "mysql"

// MySQL enforces this on GET_LOCK names since 5.7.
const mysqlMaxNameLen = 64

var errNameTooLong = errors.New("lock name exceeds 64 characters")

// MySQLLocker takes session-scoped named locks on a MySQL server via
// GET_LOCK. Names are used verbatim as the server-wide lock identifier, so
// no key encoding is involved. Each attempt pins its own dedicated session
// out of db; a lock taken on a pooled connection without pinning would be
// held by whichever session the pool happened to pick.
type MySQLLocker struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewMySQLLocker constructs a MySQL-based named lock manager.
func NewMySQLLocker(db *sql.DB, opts ...Option) *MySQLLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MySQLLocker{db: db, log: o.log}
}

// Acquire makes one non-blocking attempt to take the named lock on a fresh
// dedicated session.
func (l *MySQLLocker) Acquire(ctx context.Context, name string) (Lock, error) {
	lk, err := l.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return lk, nil
}

// WithConn acquires the named lock, runs fn with the dedicated session that
// holds it, and releases on every exit path once fn has finished.
func (l *MySQLLocker) WithConn(ctx context.Context, name string, fn func(context.Context, *sql.Conn) error) error {
	lk, err := l.acquire(ctx, name)
	if err != nil {
		return err
	}
	return runLocked(ctx, lk, func(ctx context.Context) error {
		return fn(ctx, lk.conn)
	})
}

func (l *MySQLLocker) acquire(ctx context.Context, name string) (*MySQLLock, error) {
	if name == "" {
		return nil, errEmptyName
	}
	if len(name) > mysqlMaxNameLen {
		return nil, errNameTooLong
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lock session: %w", err)
	}

	// Timeout 0 keeps the attempt non-blocking: the server answers
	// immediately instead of queueing behind the current holder.
	var res sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&res)
	if err != nil {
		discardSession(conn)
		deniedTotal.WithLabelValues(backendMySQL).Inc()
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, err)
	}
	if !res.Valid {
		// NULL means the server aborted the attempt (out of memory, thread
		// killed). The session state is unknown, so discard it.
		discardSession(conn)
		deniedTotal.WithLabelValues(backendMySQL).Inc()
		return nil, fmt.Errorf("%w: GET_LOCK returned null", ErrNotAcquired)
	}
	if res.Int64 != 1 {
		_ = conn.Close()
		deniedTotal.WithLabelValues(backendMySQL).Inc()
		return nil, ErrNotAcquired
	}

	acquiredTotal.WithLabelValues(backendMySQL).Inc()
	l.log.WithField("name", name).Debug("acquired named lock")

	return &MySQLLock{name: name, conn: conn, log: l.log}, nil
}

// MySQLLock is one held (or already released) MySQL named lock attempt and
// the dedicated session backing it.
type MySQLLock struct {
	name string
	conn *sql.Conn
	log  logrus.FieldLogger

	mu       sync.Mutex
	released bool
}

func (lk *MySQLLock) Name() string { return lk.name }

// Conn returns the dedicated session holding the lock. It must only be used
// before Release.
func (lk *MySQLLock) Conn() *sql.Conn { return lk.conn }

// Release explicitly drops the named lock and closes the session. If the
// server reports anything other than a successful release, the session is
// discarded so that teardown frees whatever it still held. Safe to call more
// than once.
func (lk *MySQLLock) Release(ctx context.Context) error {
	lk.mu.Lock()
	if lk.released {
		lk.mu.Unlock()
		return nil
	}
	lk.released = true
	lk.mu.Unlock()

	var res sql.NullInt64
	err := lk.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", lk.name).Scan(&res)
	if err != nil {
		releaseFailuresTotal.WithLabelValues(backendMySQL).Inc()
		lk.log.WithField("name", lk.name).WithError(err).Warn("discarding lock session after failed release")
		discardSession(lk.conn)
		return fmt.Errorf("release named lock %q: %w", lk.name, err)
	}
	if !res.Valid || res.Int64 != 1 {
		releaseFailuresTotal.WithLabelValues(backendMySQL).Inc()
		lk.log.WithField("name", lk.name).Warn("discarding lock session after unexpected release result")
		discardSession(lk.conn)
		return fmt.Errorf("release named lock %q: lock was not held by this session", lk.name)
	}

	lk.log.WithField("name", lk.name).Debug("released named lock")
	return lk.conn.Close()
}
