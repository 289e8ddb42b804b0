// Package clock provides context-aware sleeps backed by pooled timers.
package clock

import (
	"context"
	"sync"
	"time"
)

var timers = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	},
}

func acquire(d time.Duration) *time.Timer {
	t, _ := timers.Get().(*time.Timer)
	t.Reset(d)

	return t
}

// Go 1.23+ timers: Stop guarantees no stale value is received after Reset.
func release(t *time.Timer) {
	t.Stop()
	timers.Put(t)
}

// Sleep pauses for d. It returns false if ctx was done before d elapsed.
// A non-positive d only reports whether ctx is still alive.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := acquire(d)
	defer release(t)

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// PollUntil calls cond every interval until it returns true or ctx is done.
// It reports whether cond became true.
func PollUntil(ctx context.Context, interval time.Duration, cond func() bool) bool {
	for !cond() {
		if !Sleep(ctx, interval) {
			return false
		}
	}

	return true
}
