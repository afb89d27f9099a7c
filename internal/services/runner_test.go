package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunner(t *testing.T) {
	t.Run("wait returns after all tasks", func(t *testing.T) {
		r := NewRunner()
		var done atomic.Int32

		for i := 0; i < 5; i++ {
			r.Go("count", func(ctx context.Context) {
				time.Sleep(5 * time.Millisecond)
				done.Add(1)
			})
		}
		r.Wait()

		assert.Equal(t, int32(5), done.Load())
	})

	t.Run("a panicking task does not take the process down", func(t *testing.T) {
		r := NewRunner()

		r.Go("boom", func(ctx context.Context) { panic("boom") })
		r.Wait()
	})

	t.Run("shutdown cancels stragglers after the deadline", func(t *testing.T) {
		r := NewRunner()
		cancelled := make(chan struct{})
		r.Go("slow", func(ctx context.Context) {
			<-ctx.Done()
			close(cancelled)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := r.Shutdown(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		select {
		case <-cancelled:
		default:
			t.Fatal("task was not cancelled")
		}
	})

	t.Run("shutdown with nothing running returns nil", func(t *testing.T) {
		assert.NoError(t, NewRunner().Shutdown(context.Background()))
	})
}
