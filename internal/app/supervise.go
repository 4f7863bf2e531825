// Package app runs the long-lived units and keeps one unit's crash
// from taking down the other.
package app

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"time"
)

// restartDelay spaces unit restarts. The units carry their own backoff
// for expected failures; this only paces the unexpected ones.
const restartDelay = time.Second

// Supervise runs fn until ctx is done, restarting it after a panic or
// an unexpected error return. It blocks for the lifetime of the unit.
func Supervise(ctx context.Context, name string, fn func(context.Context) error) {
	for {
		err := runRecovered(ctx, name, fn)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[%s] unit failed: %v; restarting in %s", name, err, restartDelay)
		} else {
			log.Printf("[%s] unit returned unexpectedly; restarting in %s", name, restartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func runRecovered(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] panic: %v\n%s", name, r, debug.Stack())
			err = errors.New("unit panicked")
		}
	}()
	return fn(ctx)
}
