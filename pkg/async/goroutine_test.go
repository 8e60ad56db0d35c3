package async

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	SetLogger(log)
	t.Cleanup(func() { SetLogger(nil) })
	return hook
}

func lastMessage(hook *logtest.Hook) string {
	if e := hook.LastEntry(); e != nil {
		return e.Message
	}
	return ""
}

func TestSafeGo(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(context.Context) error
		wantLog string
	}{
		{
			name: "success logs nothing",
			fn:   func(context.Context) error { return nil },
		},
		{
			name:    "error is logged",
			fn:      func(context.Context) error { return errors.New("metadata file unreadable") },
			wantLog: "Background task failed",
		},
		{
			name:    "panic is recovered",
			fn:      func(context.Context) error { panic("nil role table") },
			wantLog: "Background task panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := captureLogs(t)
			done := make(chan struct{})

			SafeGo(context.Background(), time.Second, "metadata watcher", func(ctx context.Context) error {
				defer close(done)
				return tt.fn(ctx)
			})

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("task did not run")
			}

			if tt.wantLog == "" {
				assert.Never(t, func() bool { return len(hook.AllEntries()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
				return
			}
			assert.Eventually(t, func() bool { return lastMessage(hook) == tt.wantLog }, time.Second, 10*time.Millisecond)
			entry := hook.LastEntry()
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			assert.Equal(t, "metadata watcher", entry.Data["task"])
		})
	}
}

func TestSafeGo_TimeoutIsNotReported(t *testing.T) {
	hook := captureLogs(t)
	done := make(chan error, 1)

	SafeGo(context.Background(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout was not applied")
	}
	assert.Never(t, func() bool { return len(hook.AllEntries()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestSafeGo_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	SafeGo(ctx, 0, "watcher", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task ignored cancellation")
	}
}

func TestSafeGoNoError(t *testing.T) {
	var ran atomic.Bool
	done := make(chan struct{})
	SafeGoNoError(context.Background(), time.Second, "ticker", func(context.Context) {
		ran.Store(true)
		close(done)
	})
	<-done
	assert.True(t, ran.Load())
}

func TestWorkerPool(t *testing.T) {
	t.Run("runs every task", func(t *testing.T) {
		pool := NewWorkerPool(context.Background(), 3, "warm-up", time.Second)
		var count atomic.Int32
		for i := 0; i < 20; i++ {
			require.NoError(t, pool.Submit(func(context.Context) error {
				count.Add(1)
				return nil
			}))
		}
		pool.Wait()
		assert.EqualValues(t, 20, count.Load())
	})

	t.Run("task errors and panics reach Errors", func(t *testing.T) {
		captureLogs(t)
		pool := NewWorkerPool(context.Background(), 2, "warm-up", time.Second)
		require.NoError(t, pool.Submit(func(context.Context) error { return errors.New("resolve failed") }))
		require.NoError(t, pool.Submit(func(context.Context) error { panic("boom") }))
		require.NoError(t, pool.Submit(func(context.Context) error { return nil }))
		pool.Wait()

		var msgs []string
		for len(pool.Errors()) > 0 {
			msgs = append(msgs, (<-pool.Errors()).Error())
		}
		assert.ElementsMatch(t, []string{"resolve failed", "panic: boom"}, msgs)
	})

	t.Run("per-task timeout", func(t *testing.T) {
		pool := NewWorkerPool(context.Background(), 1, "warm-up", 10*time.Millisecond)
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		pool.Wait()
		assert.ErrorIs(t, <-pool.Errors(), context.DeadlineExceeded)
	})

	t.Run("submit after shutdown fails", func(t *testing.T) {
		pool := NewWorkerPool(context.Background(), 1, "warm-up", time.Second)
		require.NoError(t, pool.Shutdown(time.Second))
		assert.Error(t, pool.Submit(func(context.Context) error { return nil }))
	})

	t.Run("submit after cancellation fails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pool := NewWorkerPool(ctx, 1, "warm-up", time.Second)
		cancel()
		assert.ErrorIs(t, pool.Submit(func(context.Context) error { return nil }), context.Canceled)
		pool.Wait()
	})

	t.Run("shutdown times out on a stuck task", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		pool := NewWorkerPool(context.Background(), 1, "warm-up", 0)
		require.NoError(t, pool.Submit(func(context.Context) error {
			<-release
			return nil
		}))
		assert.Error(t, pool.Shutdown(20*time.Millisecond))
	})
}

func TestBatch(t *testing.T) {
	users := []int{1, 2, 3, 4, 5, 6, 7}

	t.Run("all succeed", func(t *testing.T) {
		res := Batch(context.Background(), users, 3, "warm-up", time.Second, func(context.Context, int) error {
			return nil
		})
		assert.Equal(t, len(users), res.Processed)
		assert.Empty(t, res.Errors)
	})

	t.Run("failures are collected", func(t *testing.T) {
		res := Batch(context.Background(), users, 3, "warm-up", time.Second, func(_ context.Context, id int) error {
			if id%3 == 0 {
				return fmt.Errorf("user %d", id)
			}
			return nil
		})
		assert.Equal(t, 5, res.Processed)
		assert.Len(t, res.Errors, 2)
	})

	t.Run("cancelled context stops submission", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := Batch(ctx, users, 2, "warm-up", time.Second, func(context.Context, int) error { return nil })
		assert.Less(t, res.Processed, len(users))
		assert.NotEmpty(t, res.Errors)
	})

	t.Run("empty input", func(t *testing.T) {
		res := Batch(context.Background(), []int(nil), 2, "warm-up", time.Second, func(context.Context, int) error {
			t.Fatal("fn called for empty input")
			return nil
		})
		assert.Zero(t, res.Processed)
		assert.Empty(t, res.Errors)
	})
}
