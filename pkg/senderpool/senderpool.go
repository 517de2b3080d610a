// Package senderpool implements C4 (spec §4.4): the set of sending
// identities, their runtime health/load metrics, and the selection policy
// the dispatcher calls before every send attempt. Per-sender rate limiting
// is layered on top of health via a token bucket, grounded on
// zilin-picoclaw's per-worker golang.org/x/time/rate usage.
package senderpool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
)

const component = "senderpool"

// fMax is the consecutive-failure threshold past which a sender is
// excluded from selection until a periodic probe succeeds (spec §4.4).
const fMax = 5

// emaAlpha weights the exponential moving average for success_rate and
// avg_latency (spec §4.4: "α = 0.2").
const emaAlpha = 0.2

// ErrNoEligibleSender is returned by Select when every sender is
// unhealthy, disabled, or rate-limited.
var ErrNoEligibleSender = errors.New("senderpool: no eligible sender")

type metrics struct {
	mu                  sync.Mutex
	inFlight            int
	successRate         float64
	avgLatency          time.Duration
	consecutiveFailures int
	rateLimitedUntil    time.Time
	lastProbeEligibleAt time.Time
	seenFirstOutcome    bool
}

type tracked struct {
	sender  model.Sender
	limiter *rate.Limiter
	m       metrics
}

// Pool tracks every sender registered for this deployment and answers
// Select/RecordOutcome calls from the dispatcher.
type Pool struct {
	probeInterval time.Duration

	mu      sync.RWMutex
	senders map[int64]*tracked
}

func New(probeInterval time.Duration) *Pool {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	return &Pool{probeInterval: probeInterval, senders: make(map[int64]*tracked)}
}

// Register adds or replaces a sender. ratePerSecond/burst configure the
// per-sender token bucket; a zero rate means unlimited.
func (p *Pool) Register(sender model.Sender, ratePerSecond float64, burst int) {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.senders[sender.ID] = &tracked{sender: sender, limiter: limiter}
}

func (p *Pool) SetEnabled(id int64, enabled bool) {
	p.mu.RLock()
	t, ok := p.senders[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	t.sender.Enabled = enabled
}

// eligible reports whether t may be chosen right now (spec §4.4 invariant):
// enabled && now >= rate_limited_until && consecutive_failures < F_max,
// with a probe-window relaxation once probeInterval has passed since the
// sender became unhealthy.
func (t *tracked) eligible(now time.Time, probeInterval time.Duration) bool {
	if !t.sender.Enabled {
		return false
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if now.Before(t.m.rateLimitedUntil) {
		return false
	}
	if t.m.consecutiveFailures < fMax {
		return true
	}
	if t.m.lastProbeEligibleAt.IsZero() || !now.Before(t.m.lastProbeEligibleAt.Add(probeInterval)) {
		t.m.lastProbeEligibleAt = now
		return true // one probe attempt; RecordOutcome will re-close the breaker on failure
	}
	return false
}

// Select chooses a sender for a task. If bound is non-zero the pair's
// bound sender is used when eligible; otherwise the eligible sender with
// the lowest in_flight wins, tie-broken by highest success_rate then
// lowest consecutive_failures (spec §4.4 step 2). platform, when
// non-empty, restricts the pool fallback to senders on that transport —
// a pair's destination chat only makes sense on one platform, so a
// cross-platform fallback would address the wrong client entirely. An
// empty platform leaves the fallback unconstrained (single-platform
// deployments, and existing callers that predate multi-platform pools).
func (p *Pool) Select(ctx context.Context, bound int64, platform string) (*model.Sender, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()

	if bound != 0 {
		if t, ok := p.senders[bound]; ok && t.eligible(now, p.probeInterval) {
			sender := t.sender
			return &sender, nil
		}
	}

	var candidates []*tracked
	for _, t := range p.senders {
		if platform != "" && t.sender.Platform != platform {
			continue
		}
		if t.eligible(now, p.probeInterval) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleSender
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		a.m.mu.Lock()
		b.m.mu.Lock()
		defer a.m.mu.Unlock()
		defer b.m.mu.Unlock()

		if a.m.inFlight != b.m.inFlight {
			return a.m.inFlight < b.m.inFlight
		}
		if a.m.successRate != b.m.successRate {
			return a.m.successRate > b.m.successRate
		}
		return a.m.consecutiveFailures < b.m.consecutiveFailures
	})

	sender := candidates[0].sender
	return &sender, nil
}

// EligibleCount returns how many registered senders are eligible right
// now, for HealthMonitor's "fewer than one eligible sender" alert (spec
// §4.7).
func (p *Pool) EligibleCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, t := range p.senders {
		if t.eligible(now, p.probeInterval) {
			n++
		}
	}
	return n
}

// NextEligibleDelay returns how long until at least one sender might
// become eligible again — the dispatcher's re-queue floor when Select
// returns ErrNoEligibleSender (spec §4.4 step 3).
func (p *Pool) NextEligibleDelay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	best := time.Duration(-1)
	for _, t := range p.senders {
		t.m.mu.Lock()
		until := t.m.rateLimitedUntil
		t.m.mu.Unlock()
		if until.After(now) {
			if d := until.Sub(now); best < 0 || d < best {
				best = d
			}
		}
	}
	if best < 0 {
		return p.probeInterval
	}
	return best
}

// Acquire waits on the sender's token bucket (if any) and marks it
// in-flight. The caller must call RecordOutcome exactly once afterward.
func (p *Pool) Acquire(ctx context.Context, id int64) error {
	p.mu.RLock()
	t, ok := p.senders[id]
	p.mu.RUnlock()
	if !ok {
		return errors.New("senderpool: unknown sender")
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	t.m.mu.Lock()
	t.m.inFlight++
	t.m.mu.Unlock()
	return nil
}

// RecordOutcome updates EMA success_rate/avg_latency, decrements
// in_flight, and applies rate-limit/failure bookkeeping (spec §4.4).
// retryAfter > 0 marks the sender rate-limited without counting toward
// consecutive_failures, matching the spec's carve-out for platform
// rate-limit signals.
func (p *Pool) RecordOutcome(id int64, success bool, latency, retryAfter time.Duration) {
	p.mu.RLock()
	t, ok := p.senders[id]
	p.mu.RUnlock()
	if !ok {
		return
	}

	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.m.inFlight > 0 {
		t.m.inFlight--
	}

	successVal := 0.0
	if success {
		successVal = 1.0
	}
	if !t.m.seenFirstOutcome {
		t.m.successRate = successVal
		t.m.avgLatency = latency
		t.m.seenFirstOutcome = true
	} else {
		t.m.successRate = emaAlpha*successVal + (1-emaAlpha)*t.m.successRate
		t.m.avgLatency = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(t.m.avgLatency))
	}

	switch {
	case retryAfter > 0:
		t.m.rateLimitedUntil = time.Now().Add(retryAfter)
		// not counted toward consecutive_failures per spec §4.4
	case success:
		t.m.consecutiveFailures = 0
	default:
		t.m.consecutiveFailures++
		if t.m.consecutiveFailures >= fMax {
			t.m.lastProbeEligibleAt = time.Now() // next probe waits a full probeInterval
			logger.WarnCF(component, "Sender crossed failure threshold", map[string]any{
				"sender_id": id, "consecutive_failures": t.m.consecutiveFailures,
			})
		}
	}
}
