package common

import (
	"context"
	"time"
)

// RunLoop standardizes the scanner-loop boilerplate shared by the
// auxiliary engines: a ticker, ctx cancellation, and a stop channel.
// run is invoked once per tick; errors are the callee's business.
func RunLoop(ctx context.Context, stop <-chan struct{}, tick time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// SleepCtx cancellable sleep. Returns false if ctx was cancelled.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
