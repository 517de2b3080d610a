// Package dispatcher implements C5 (spec §4.5): a bounded priority queue,
// a fixed worker pool, retry/backoff, and a circuit breaker over the
// sender pool. Grounded on the teacher's bounded-channel + goroutine-pool
// worker shape (pkg/agent's task loop), generalized from one FIFO channel
// to four priority-tiered channels with strict high-to-low preference,
// which keeps the "teacher style" (plain channels, no external queue
// library) while satisfying the spec's priority ordering.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sunil55999/Zorox/pkg/backoff"
	"github.com/sunil55999/Zorox/pkg/config"
	"github.com/sunil55999/Zorox/pkg/errs"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/senderpool"
)

const component = "dispatcher"

var (
	ErrQueueFull     = errors.New("dispatcher: queue at capacity")
	ErrClosed        = errors.New("dispatcher: not accepting new tasks")
	ErrBackpressure  = &errs.TaskError{Kind: errs.KindOverflow, Err: errors.New("dispatcher: circuit open, priority below HIGH rejected")}
)

// Outcome is the terminal state of a DispatchTask (spec §4.6 state machine).
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Executor performs the actual send/edit/delete against a chosen sender
// and reports how long it took. The pipeline supplies this closure; the
// dispatcher never knows about platform transports.
type Executor func(ctx context.Context, sender *model.Sender) (latency time.Duration, err error)

// DispatchTask is a single queued unit of work (spec §4.5).
type DispatchTask struct {
	ID             string
	PairID         int64
	Priority       model.Priority
	Attempts       int
	EarliestSendAt time.Time
	BoundSenderID  int64
	Platform       string // restricts sender-pool fallback; empty means unconstrained
	Execute        Executor
	OnTerminal     func(Outcome, error)
}

// NewTask fills in a fresh task's ID and zeroes attempts.
func NewTask(pairID int64, priority model.Priority, boundSender int64, exec Executor) *DispatchTask {
	return &DispatchTask{
		ID:            uuid.NewString(),
		PairID:        pairID,
		Priority:      priority,
		BoundSenderID: boundSender,
		Execute:       exec,
	}
}

// Dispatcher owns the queue, worker pool, and circuit breaker.
type Dispatcher struct {
	cfg  config.DispatcherConfig
	pool *senderpool.Pool

	queues    [4]chan *DispatchTask // indexed by model.Priority
	stopCh    chan struct{}
	stopOnce  sync.Once
	accepting atomic.Bool
	count     atomic.Int64

	cb *circuitBreaker
	wg sync.WaitGroup
}

func New(cfg config.DispatcherConfig, pool *senderpool.Pool) *Dispatcher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 50000
	}
	if cfg.MaxWorkers < 0 { // zero is kept: Start then launches no workers
		cfg.MaxWorkers = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	d := &Dispatcher{
		cfg:    cfg,
		pool:   pool,
		stopCh: make(chan struct{}),
		cb:     newCircuitBreaker(cfg.CircuitOpenThreshold, cfg.CircuitCloseThreshold),
	}
	for i := range d.queues {
		d.queues[i] = make(chan *DispatchTask, cfg.QueueCapacity)
	}
	d.accepting.Store(true)
	return d
}

// Start launches the worker pool. Call once; the ctx passed in should
// be the dispatcher's own lifetime context, separate from per-task
// contexts the pipeline may pass into Submit later.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.MaxWorkers; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx)
	}
	d.wg.Add(1)
	go d.circuitResetLoop(ctx)
}

// Submit enqueues task, honoring capacity and circuit-breaker backpressure
// (spec §4.5: "new enqueues below HIGH priority are rejected... until the
// rate drops below 10%").
func (d *Dispatcher) Submit(task *DispatchTask) error {
	if !d.accepting.Load() {
		return ErrClosed
	}
	if task.Priority < model.PriorityHigh && d.cb.isOpen() {
		return ErrBackpressure
	}
	if d.count.Load() >= int64(d.cfg.QueueCapacity) {
		return ErrQueueFull
	}
	d.count.Add(1)
	d.schedule(task)
	return nil
}

// schedule places task directly into its priority channel, or — if
// earliest_send_at is in the future — arranges for that to happen later
// without blocking the caller.
func (d *Dispatcher) schedule(task *DispatchTask) {
	delay := time.Until(task.EarliestSendAt)
	if delay <= 0 {
		d.push(task)
		return
	}
	time.AfterFunc(delay, func() { d.push(task) })
}

func (d *Dispatcher) push(task *DispatchTask) {
	select {
	case d.queues[task.Priority] <- task:
	case <-d.stopCh:
		d.finish(task, OutcomeCancelled, errs.Cancelled())
	}
}

// workerLoop pops the highest-priority ready task, preferring URGENT over
// HIGH over NORMAL over LOW on every iteration, and falls back to a
// blocking multi-way select once all tiers are momentarily empty.
func (d *Dispatcher) workerLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		task, ok := d.popNext(ctx)
		if !ok {
			return
		}
		d.execute(ctx, task)
	}
}

func (d *Dispatcher) popNext(ctx context.Context) (*DispatchTask, bool) {
	for tier := 3; tier >= 0; tier-- {
		select {
		case t := <-d.queues[tier]:
			return t, true
		default:
		}
	}
	select {
	case t := <-d.queues[3]:
		return t, true
	case t := <-d.queues[2]:
		return t, true
	case t := <-d.queues[1]:
		return t, true
	case t := <-d.queues[0]:
		return t, true
	case <-ctx.Done():
		return nil, false
	case <-d.stopCh:
		return nil, false
	}
}

func (d *Dispatcher) execute(ctx context.Context, task *DispatchTask) {
	sender, err := d.pool.Select(ctx, task.BoundSenderID, task.Platform)
	if err != nil {
		delay := d.pool.NextEligibleDelay()
		if fallback := backoff.Compute(d.retryBase(), d.retryCap(), task.Attempts+1); fallback > delay {
			delay = fallback
		}
		task.EarliestSendAt = time.Now().Add(delay)
		d.schedule(task)
		return
	}

	if err := d.pool.Acquire(ctx, sender.ID); err != nil {
		d.finish(task, OutcomeCancelled, errs.Cancelled())
		return
	}

	start := time.Now()
	latency, sendErr := task.Execute(ctx, sender)
	if latency == 0 {
		latency = time.Since(start)
	}

	retryAfter := time.Duration(0)
	var taskErr *errs.TaskError
	if errors.As(sendErr, &taskErr) && taskErr.Kind == errs.KindRateLimited {
		retryAfter = taskErr.RetryAfter
	}
	d.pool.RecordOutcome(sender.ID, sendErr == nil, latency, retryAfter)

	if sendErr == nil {
		d.cb.recordSuccess()
		d.finish(task, OutcomeDone, nil)
		return
	}
	d.cb.recordFailure()

	if errs.Is(sendErr, errs.KindPermanent) {
		logger.WarnCF(component, "Task failed permanently", map[string]any{"task_id": task.ID, "error": sendErr.Error()})
		d.finish(task, OutcomeFailed, sendErr)
		return
	}

	task.Attempts++
	if task.Attempts >= d.cfg.MaxAttempts {
		logger.WarnCF(component, "Task exhausted retries", map[string]any{"task_id": task.ID, "attempts": task.Attempts})
		d.finish(task, OutcomeFailed, sendErr)
		return
	}

	delay := backoff.Compute(d.retryBase(), d.retryCap(), task.Attempts)
	if retryAfter > delay {
		delay = retryAfter
	}
	task.EarliestSendAt = time.Now().Add(delay)
	d.schedule(task)
}

// ErrorRate returns the circuit breaker's current rolling-window failure
// rate, for HealthMonitor's error-rate alerting (spec §4.7).
func (d *Dispatcher) ErrorRate() float64 {
	return d.cb.rate()
}

// QueueDepth reports the total queued task count across all priority
// tiers and the configured total capacity (the limit Submit enforces on
// that same cross-tier count), for HealthMonitor's queue
// depth alert (spec §4.7: "queue depth > 80% of capacity").
func (d *Dispatcher) QueueDepth() (depth, capacity int) {
	return int(d.count.Load()), d.cfg.QueueCapacity
}

func (d *Dispatcher) retryBase() time.Duration {
	return time.Duration(d.cfg.RetryBaseSeconds * float64(time.Second))
}

func (d *Dispatcher) retryCap() time.Duration {
	return time.Duration(d.cfg.RetryCapSeconds * float64(time.Second))
}

func (d *Dispatcher) finish(task *DispatchTask, outcome Outcome, err error) {
	d.count.Add(-1)
	if task.OnTerminal != nil {
		task.OnTerminal(outcome, err)
	}
}

// Shutdown stops accepting new tasks, waits up to cfg.DrainTimeout for the
// in-flight+queued count to reach zero, then force-stops workers and
// drains whatever remains with a Cancelled outcome (spec §4.5).
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.accepting.Store(false)

	deadline := time.Now().Add(d.cfg.DrainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
drain:
	for d.count.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break drain
		}
	}

	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	abandoned := d.count.Load()
	d.drainRemaining()
	logger.InfoCF(component, "Dispatcher shut down", map[string]any{"abandoned": abandoned})
	return nil
}

func (d *Dispatcher) drainRemaining() {
	for _, q := range d.queues {
		drainQueue(q, func(task *DispatchTask) { d.finish(task, OutcomeCancelled, errs.Cancelled()) })
	}
}

func drainQueue(q chan *DispatchTask, onTask func(*DispatchTask)) {
	for {
		select {
		case task := <-q:
			onTask(task)
		default:
			return
		}
	}
}
