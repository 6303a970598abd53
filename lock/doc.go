// Package lock provides named exclusive locks held by an external arbiter:
// PostgreSQL and MySQL session advisory locks, plus a Redis TTL-based variant.
//
// The SQL backends pin one dedicated database session per acquisition attempt
// and yield it to the caller for the duration of the critical section. The
// arbiter ties the lock to that session's lifetime, so a holder that crashes
// without releasing self-heals once the session is torn down. Acquisition is
// always non-blocking: a lock held elsewhere fails fast with ErrNotAcquired
// rather than waiting, leaving retry policy to the caller.
package lock
