package main

import (
	"context"
	"log/slog"
	"time"
)

// tickerFactory lets tests drive sweep timing without real clocks.
type tickerFactory func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}

// runSweep invokes fn at the given interval until the context is cancelled.
// Sweep failures are logged and the loop keeps going; a sweep that cannot run
// this round runs next round.
func runSweep(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, newTicker tickerFactory, fn func(context.Context) error) error {
	if newTicker == nil {
		newTicker = realTicker
	}
	tick, stop := newTicker(interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := fn(ctx); err != nil {
				logger.Warn("sweep failed", "sweep", name, "error", err)
			}
		}
	}
}
