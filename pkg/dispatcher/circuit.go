package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// circuitBreaker tracks a rolling 1-minute failure rate and flips open/
// closed at the two thresholds from spec §4.5: "if the rolling 1-minute
// failure rate exceeds 25%, new enqueues below HIGH priority are
// rejected... until the rate drops below 10%" — a classic hysteresis
// band so the breaker doesn't flap right at one threshold.
type circuitBreaker struct {
	openThreshold  float64
	closeThreshold float64

	mu        sync.Mutex
	open      bool
	successes int64
	failures  int64
}

func newCircuitBreaker(openThreshold, closeThreshold float64) *circuitBreaker {
	if openThreshold <= 0 {
		openThreshold = 0.25
	}
	if closeThreshold <= 0 {
		closeThreshold = 0.10
	}
	return &circuitBreaker{openThreshold: openThreshold, closeThreshold: closeThreshold}
}

func (cb *circuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.successes, 1)
	cb.reevaluate()
}

func (cb *circuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.failures, 1)
	cb.reevaluate()
}

func (cb *circuitBreaker) reevaluate() {
	s := atomic.LoadInt64(&cb.successes)
	f := atomic.LoadInt64(&cb.failures)
	total := s + f
	if total == 0 {
		return
	}
	rate := float64(f) / float64(total)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open && rate > cb.openThreshold {
		cb.open = true
	} else if cb.open && rate < cb.closeThreshold {
		cb.open = false
	}
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// rate returns the current rolling-window failure rate, for HealthMonitor's
// error-rate EMA (spec §4.7); it does not itself reset or mutate state.
func (cb *circuitBreaker) rate() float64 {
	s := atomic.LoadInt64(&cb.successes)
	f := atomic.LoadInt64(&cb.failures)
	total := s + f
	if total == 0 {
		return 0
	}
	return float64(f) / float64(total)
}

// reset clears the rolling window; called once per minute by
// circuitResetLoop so the "1-minute failure rate" stays current rather
// than averaging over the dispatcher's entire lifetime.
func (cb *circuitBreaker) reset() {
	atomic.StoreInt64(&cb.successes, 0)
	atomic.StoreInt64(&cb.failures, 0)
}

func (d *Dispatcher) circuitResetLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cb.reset()
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		}
	}
}
