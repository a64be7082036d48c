package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is implemented by connection pools and clients that can verify
// connectivity, such as *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineCountCheck fails above limit running goroutines, which usually
// means handlers are piling up behind a stuck dependency.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// gcPauseWindow is how many of the most recent GC pauses are inspected.
const gcPauseWindow = 16

// GCMaxPauseCheck fails when one of the most recent GC pauses exceeded limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		stats := debug.GCStats{Pause: make([]time.Duration, 0, gcPauseWindow)}
		debug.ReadGCStats(&stats)

		recent := stats.Pause
		if len(recent) > gcPauseWindow {
			recent = recent[:gcPauseWindow]
		}
		for _, pause := range recent {
			if pause > limit {
				return errors.Errorf("GC paused for %s, limit %s", pause, limit)
			}
		}
		return nil
	}
}
