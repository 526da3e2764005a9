package engine

import (
	"context"
	"time"
)

// Clock abstracts time so cycle cadence and bracket-refresh cadence can
// be tested without real elapsed time.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }
