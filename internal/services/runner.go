package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// sideEffectTimeout bounds a single background task (a guardian fan-out or a
// responder lookup).
const sideEffectTimeout = 2 * time.Minute

// Runner executes side effects off the request path. A transition is
// durable before anything is handed to the runner, so a task that fails or
// is cut short never undoes the state change that triggered it.
//
// Shutdown waits for in-flight tasks; tests call Wait to make assertions
// deterministic.
type Runner struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner returns a Runner whose tasks run until they finish or Shutdown's
// deadline passes.
func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel}
}

// Go runs fn in the background. name is used for logging only.
func (r *Runner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("task", name).Msg("Background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(r.ctx, sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every task started so far has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown waits for in-flight tasks until ctx is done, then cancels the
// stragglers and waits for them to return.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Cancelling unfinished background tasks")
		r.cancel()
		<-done
		return ctx.Err()
	}
}
