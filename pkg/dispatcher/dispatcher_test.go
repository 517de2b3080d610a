package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunil55999/Zorox/pkg/config"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/senderpool"
)

func newTestDispatcher(t *testing.T, cfg config.DispatcherConfig) (*Dispatcher, *senderpool.Pool) {
	t.Helper()
	pool := senderpool.New(30 * time.Second)
	pool.Register(model.Sender{ID: 1, Enabled: true}, 0, 0)
	d := New(cfg, pool)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(cancel)
	return d, pool
}

type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
	order    []string
}

func (c *collector) onTerminal(label string) func(Outcome, error) {
	return func(o Outcome, _ error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.outcomes = append(c.outcomes, o)
		c.order = append(c.order, label)
	}
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.outcomes)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outcomes", n)
}

func TestSubmitAndSucceed(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 1, QueueCapacity: 10, RetryBaseSeconds: 0.01, RetryCapSeconds: 1, MaxAttempts: 3, DrainTimeout: time.Second}
	d, _ := newTestDispatcher(t, cfg)
	var c collector

	task := NewTask(1, model.PriorityNormal, 0, func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		return time.Millisecond, nil
	})
	task.OnTerminal = c.onTerminal("t1")
	require.NoError(t, d.Submit(task))

	c.waitFor(t, 1)
	require.Equal(t, OutcomeDone, c.outcomes[0])
}

func TestPermanentFailureDropsImmediately(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 1, QueueCapacity: 10, RetryBaseSeconds: 0.01, RetryCapSeconds: 1, MaxAttempts: 3, DrainTimeout: time.Second}
	d, _ := newTestDispatcher(t, cfg)
	var c collector
	attempts := 0

	task := NewTask(1, model.PriorityNormal, 0, func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		attempts++
		return time.Millisecond, errs.Permanent(errs.ErrSendFailed)
	})
	task.OnTerminal = c.onTerminal("t1")
	require.NoError(t, d.Submit(task))

	c.waitFor(t, 1)
	require.Equal(t, OutcomeFailed, c.outcomes[0])
	require.Equal(t, 1, attempts)
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 1, QueueCapacity: 10, RetryBaseSeconds: 0.01, RetryCapSeconds: 1, MaxAttempts: 3, DrainTimeout: time.Second}
	d, _ := newTestDispatcher(t, cfg)
	var c collector
	var mu sync.Mutex
	attempts := 0

	task := NewTask(1, model.PriorityNormal, 0, func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return time.Millisecond, errs.Transient(errs.ErrTemporary)
		}
		return time.Millisecond, nil
	})
	task.OnTerminal = c.onTerminal("t1")
	require.NoError(t, d.Submit(task))

	c.waitFor(t, 1)
	require.Equal(t, OutcomeDone, c.outcomes[0])
	require.Equal(t, 2, attempts)
}

func TestExhaustedRetriesFails(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 1, QueueCapacity: 10, RetryBaseSeconds: 0.01, RetryCapSeconds: 0.05, MaxAttempts: 2, DrainTimeout: time.Second}
	d, _ := newTestDispatcher(t, cfg)
	var c collector

	task := NewTask(1, model.PriorityNormal, 0, func(ctx context.Context, sender *model.Sender) (time.Duration, error) {
		return time.Millisecond, errs.Transient(errs.ErrTemporary)
	})
	task.OnTerminal = c.onTerminal("t1")
	require.NoError(t, d.Submit(task))

	c.waitFor(t, 1)
	require.Equal(t, OutcomeFailed, c.outcomes[0])
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 0, QueueCapacity: 1, RetryBaseSeconds: 0.01, RetryCapSeconds: 1, MaxAttempts: 3, DrainTimeout: time.Second}
	d, _ := newTestDispatcher(t, cfg)

	noop := func(ctx context.Context, sender *model.Sender) (time.Duration, error) { return 0, nil }
	require.NoError(t, d.Submit(NewTask(1, model.PriorityLow, 0, noop)))
	err := d.Submit(NewTask(1, model.PriorityLow, 0, noop))
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestShutdownCancelsRemainingTasks(t *testing.T) {
	cfg := config.DispatcherConfig{MaxWorkers: 0, QueueCapacity: 10, RetryBaseSeconds: 0.01, RetryCapSeconds: 1, MaxAttempts: 3, DrainTimeout: 50 * time.Millisecond}
	d, _ := newTestDispatcher(t, cfg)
	var c collector

	noop := func(ctx context.Context, sender *model.Sender) (time.Duration, error) { return 0, nil }
	task := NewTask(1, model.PriorityLow, 0, noop)
	task.OnTerminal = c.onTerminal("t1")
	require.NoError(t, d.Submit(task))

	require.NoError(t, d.Shutdown(context.Background()))
	c.waitFor(t, 1)
	require.Equal(t, OutcomeCancelled, c.outcomes[0])
}
