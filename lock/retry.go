package lock

import (
	"context"
	"errors"
	"time"
)

// AcquireWithRetry attempts to take the named lock up to attempts times,
// sleeping interval between attempts. Only ErrNotAcquired is retried;
// anything else means the attempt itself could not be made and is returned
// as is. The last denial is returned once attempts are exhausted.
func AcquireWithRetry(ctx context.Context, l Locker, name string, attempts int, interval time.Duration) (Lock, error) {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var lk Lock
		lk, err = l.Acquire(ctx, name)
		if err == nil {
			return lk, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
	}
	return nil, err
}
