package registry

import (
	"context"
	"time"
)

// busyBackoff is the fixed retry schedule for transient storage errors
// (SQLite SQLITE_BUSY, Postgres serialization_failure/deadlock_detected),
// per spec §4.6/§7: 3 attempts at 10ms, 40ms, 160ms.
var busyBackoff = []time.Duration{10 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond}

// withBusyRetry runs op, retrying on the fixed backoff schedule while
// isTransient(err) reports true. The final attempt's error (transient or
// not) is returned if every attempt fails.
func withBusyRetry(ctx context.Context, isTransient func(error) bool, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isTransient(err) || attempt >= len(busyBackoff) {
			return err
		}

		select {
		case <-time.After(busyBackoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
