package lock

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrNotAcquired is returned when a lock is held elsewhere, and wrapped around
// any error raised during the lock-request exchange itself: from the caller's
// perspective both mean the critical section cannot be entered. Test with
// errors.Is.
var ErrNotAcquired = errors.New("lock not acquired")

var errEmptyName = errors.New("lock name is empty")

// Lock is the handle for one acquisition attempt. A Lock is never reused:
// after Release it is terminal and a new attempt must go through the Locker.
type Lock interface {
	// Name returns the lock name this attempt was made for.
	Name() string
	// Release frees the lock and tears down whatever backs it. It is
	// idempotent; calls after the first are no-ops returning nil. An error
	// means the explicit unlock failed; the backing resource is discarded
	// regardless, so the arbiter releases the lock on its own.
	Release(ctx context.Context) error
}

// SessionLock is a Lock whose dedicated arbiter session is available to the
// holder for queries inside the critical section. The SQL backends return
// SessionLocks; the connection must not be retained past Release.
type SessionLock interface {
	Lock
	Conn() *sql.Conn
}

// Locker mints lock attempts against one arbiter.
type Locker interface {
	// Acquire makes a single non-blocking attempt to take the named lock.
	// It returns ErrNotAcquired when another holder owns the name.
	Acquire(ctx context.Context, name string) (Lock, error)
}

// Option configures a locker.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

func defaultOptions() options {
	return options{log: logrus.StandardLogger()}
}

// WithLogger replaces the locker's logger, logrus.StandardLogger by default.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithLock runs fn while holding the named lock and guarantees the lock is
// released on every exit path, after fn has finished. Release failures never
// mask fn's error; when both fail the errors are joined.
func WithLock(ctx context.Context, l Locker, name string, fn func(context.Context) error) error {
	lk, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}
	return runLocked(ctx, lk, fn)
}

// runLocked invokes fn and releases lk afterwards, on panic included. Release
// runs on a fresh context so caller cancellation cannot skip cleanup.
func runLocked(ctx context.Context, lk Lock, fn func(context.Context) error) (err error) {
	defer func() {
		if relErr := lk.Release(context.Background()); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()
	return fn(ctx)
}
