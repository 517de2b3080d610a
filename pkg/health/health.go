// Package health implements C7 (spec §4.7): rolling alert evaluation over
// the dispatcher/sender-pool's own counters, plus the hourly subscription
// sweeper and scheduled backups. Cron parsing is grounded on the teacher's
// own unused-but-present github.com/adhocore/gronx dependency.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sunil55999/Zorox/pkg/config"
	"github.com/sunil55999/Zorox/pkg/dispatcher"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/model"
	"github.com/sunil55999/Zorox/pkg/platform"
	"github.com/sunil55999/Zorox/pkg/senderpool"
)

const component = "health"

// Store is the slice of *store.Store the health monitor needs.
type Store interface {
	ListPairs(ctx context.Context) ([]model.Pair, error)
	Expired(ctx context.Context, now time.Time) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, userID string) error
	Backup(ctx context.Context, destPath string) error
}

// Severity classifies an Alert (spec §4.7).
type Severity string

const (
	SeverityElevated Severity = "elevated"
	SeverityCritical Severity = "critical"
)

// Alert is one threshold breach, handed to Notify.
type Alert struct {
	Severity Severity
	Reason   string
	At       time.Time
}

// Monitor evaluates alert thresholds on a timer and runs the subscription
// and backup sweepers on their own cron schedules.
type Monitor struct {
	cfg       config.HealthConfig
	backupDir string
	store     Store
	pool      *senderpool.Pool
	dispatch  *dispatcher.Dispatcher
	senders   map[string]platform.Sender
	gron      gronx.Gronx

	// Notify receives alerts as they fire; defaults to logging if nil.
	Notify func(Alert)

	errorRateSince time.Time
	lastSeverity   Severity
}

func New(cfg config.HealthConfig, backupDir string, store Store, pool *senderpool.Pool, dispatch *dispatcher.Dispatcher, senders map[string]platform.Sender) *Monitor {
	return &Monitor{
		cfg:       cfg,
		backupDir: backupDir,
		store:     store,
		pool:      pool,
		dispatch:  dispatch,
		senders:   senders,
		gron:      gronx.New(),
	}
}

// Run evaluates alert thresholds every 5s and checks the cron schedules
// every minute, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	alertTicker := time.NewTicker(5 * time.Second)
	defer alertTicker.Stop()
	cronTicker := time.NewTicker(time.Minute)
	defer cronTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-alertTicker.C:
			m.evaluateAlerts(time.Now())
		case <-cronTicker.C:
			m.evaluateCron(ctx, time.Now())
		}
	}
}

// evaluateAlerts checks the three threshold conditions from spec §4.7.
// The error-rate EMA is approximated by requiring the breach to persist
// across the evaluation window (cfg.ErrorRateWindow) before firing, rather
// than tracking a true exponential average, since the dispatcher's
// circuit breaker already maintains the rolling 1-minute window this
// reads from.
func (m *Monitor) evaluateAlerts(now time.Time) {
	rate := m.dispatch.ErrorRate()

	severity, ok := m.classifyErrorRate(rate)
	if ok {
		if m.errorRateSince.IsZero() || m.lastSeverity != severity {
			m.errorRateSince = now
			m.lastSeverity = severity
		} else if now.Sub(m.errorRateSince) >= m.cfg.ErrorRateWindow {
			m.fire(Alert{Severity: severity, Reason: fmt.Sprintf("dispatcher error rate %.0f%% sustained for %s", rate*100, m.cfg.ErrorRateWindow), At: now})
		}
	} else {
		m.errorRateSince = time.Time{}
		m.lastSeverity = ""
	}

	depth, capacity := m.dispatch.QueueDepth()
	if capacity > 0 && float64(depth)/float64(capacity) > m.cfg.QueueDepthAlertPct {
		m.fire(Alert{Severity: SeverityElevated, Reason: fmt.Sprintf("queue depth %d/%d exceeds %.0f%%", depth, capacity, m.cfg.QueueDepthAlertPct*100), At: now})
	}

	if m.pool.EligibleCount() < 1 {
		m.fire(Alert{Severity: SeverityCritical, Reason: "no eligible sender", At: now})
	}
}

func (m *Monitor) classifyErrorRate(rate float64) (Severity, bool) {
	switch {
	case rate > m.cfg.ErrorRateCritical:
		return SeverityCritical, true
	case rate > m.cfg.ErrorRateElevated:
		return SeverityElevated, true
	default:
		return "", false
	}
}

func (m *Monitor) fire(a Alert) {
	if m.Notify != nil {
		m.Notify(a)
		return
	}
	logger.WarnCF(component, "Alert fired", map[string]any{"severity": string(a.Severity), "reason": a.Reason})
}

func (m *Monitor) evaluateCron(ctx context.Context, now time.Time) {
	if m.cfg.SweepCron != "" {
		if due, _ := m.gron.IsDue(m.cfg.SweepCron, now); due {
			if err := m.SweepExpiredSubscriptions(ctx, now); err != nil {
				logger.ErrorCF(component, "Subscription sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
	if m.cfg.BackupCron != "" {
		if due, _ := m.gron.IsDue(m.cfg.BackupCron, now); due {
			dest := filepath.Join(m.backupDir, fmt.Sprintf("zorox-%s.db", now.UTC().Format("20060102T150405Z")))
			if err := m.store.Backup(ctx, dest); err != nil {
				logger.ErrorCF(component, "Backup failed", map[string]any{"error": err.Error()})
			} else {
				logger.InfoCF(component, "Backup complete", map[string]any{"dest": dest})
			}
		}
	}
}

// SweepExpiredSubscriptions implements spec §4.7's sweeper: for every
// expired subscription, remove the user from every distinct destination
// chat across active pairs, rate-limited at ≥ SweepChatDelay between
// chats, then delete the subscription once every removal has been
// attempted.
func (m *Monitor) SweepExpiredSubscriptions(ctx context.Context, now time.Time) error {
	expired, err := m.store.Expired(ctx, now)
	if err != nil {
		return fmt.Errorf("load expired subscriptions: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	pairs, err := m.store.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("list pairs: %w", err)
	}
	destinations := distinctDestinations(pairs)

	delay := m.cfg.SweepChatDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	for _, sub := range expired {
		for i, dest := range destinations {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			sender, ok := m.senders[dest.platform]
			if !ok {
				continue
			}
			if err := sender.RemoveUser(ctx, dest.chatID, sub.UserID); err != nil {
				logger.WarnCF(component, "Remove-from-chat failed", map[string]any{
					"user_id": sub.UserID, "chat_id": dest.chatID, "platform": dest.platform, "error": err.Error(),
				})
			}
		}
		if err := m.store.DeleteSubscription(ctx, sub.UserID); err != nil {
			logger.ErrorCF(component, "Failed to delete expired subscription", map[string]any{"user_id": sub.UserID, "error": err.Error()})
		}
	}
	return nil
}

type destination struct {
	platform string
	chatID   int64
}

func distinctDestinations(pairs []model.Pair) []destination {
	seen := make(map[destination]bool)
	var out []destination
	for _, p := range pairs {
		if p.Status != model.PairActive {
			continue
		}
		d := destination{platform: p.DestinationPlatform, chatID: p.DestinationChat}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
