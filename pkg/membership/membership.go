// Package membership keeps the set of tracked channels in line with the
// configured targets.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"replybot/pkg/bus"
	"replybot/pkg/channel"
	"replybot/pkg/pacing"
)

// Client is the part of channel.Client the manager needs.
type Client interface {
	Resolve(ctx context.Context, target string) (channel.ResolvedChannel, error)
	JoinByInvite(ctx context.Context, hash string) error
	Join(ctx context.Context, ch channel.ResolvedChannel) (channel.JoinResult, error)
}

type Pacer interface {
	HumanDelay(ctx context.Context, r pacing.Range) error
	OnRateLimited(ctx context.Context, wait time.Duration) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type Options struct {
	JoinDelay pacing.Range
	Events    EventPublisher
	Logger    *slog.Logger
}

// Failure records a target that could not be tracked in a pass.
type Failure struct {
	Target string
	Err    error
}

// Report summarizes one reconcile pass.
type Report struct {
	Added   []Tracked
	Removed []string
	Failed  []Failure
	Total   int
}

// Changed reports whether the pass altered the tracked set.
func (r Report) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Manager reconciles desired targets against the tracked set. Reconcile calls
// are serialized; Snapshot may be called from any goroutine.
type Manager struct {
	client    Client
	pacer     Pacer
	events    EventPublisher
	joinDelay pacing.Range
	log       *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[TrackedSet]
}

func NewManager(client Client, pacer Pacer, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		client:    client,
		pacer:     pacer,
		events:    opts.Events,
		joinDelay: opts.JoinDelay,
		log:       log.With("component", "membership"),
	}
	m.current.Store(NewTrackedSet(nil))

	return m
}

// Snapshot returns the currently published tracked set.
func (m *Manager) Snapshot() *TrackedSet {
	return m.current.Load()
}

// Reconcile joins targets that are desired but not tracked, drops targets that
// are tracked but no longer desired, and publishes the resulting set.
func (m *Manager) Reconcile(ctx context.Context, desired []string) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()

	wanted := make(map[string]struct{}, len(desired))
	var toAdd []string
	for _, target := range desired {
		if _, dup := wanted[target]; dup {
			continue
		}
		wanted[target] = struct{}{}
		if !current.HasTarget(target) {
			toAdd = append(toAdd, target)
		}
	}

	var report Report
	next := make([]Tracked, 0, current.Len()+len(toAdd))
	for _, t := range current.Targets() {
		if _, ok := wanted[t.Target]; ok {
			next = append(next, t)
			continue
		}
		report.Removed = append(report.Removed, t.Target)
	}

	for _, target := range toAdd {
		if ctx.Err() != nil {
			break
		}

		resolved, err := m.track(ctx, target)
		if err != nil {
			m.log.Warn("Skipped tracking target", "target", target, "error", err)
			report.Failed = append(report.Failed, Failure{Target: target, Err: err})
		} else {
			m.log.Info("Tracking channel", "target", target, "chat_id", resolved.ID, "channel", resolved.DisplayName())
			tracked := Tracked{Target: target, Channel: resolved}
			next = append(next, tracked)
			report.Added = append(report.Added, tracked)
		}

		if err := m.pacer.HumanDelay(ctx, m.joinDelay); err != nil {
			break
		}
	}

	for _, target := range report.Removed {
		m.log.Info("Stopped tracking channel", "target", target)
	}

	m.current.Store(NewTrackedSet(next))
	report.Total = len(next)
	m.publish(ctx, report)

	m.log.Info("Reconcile complete",
		"added", len(report.Added),
		"removed", len(report.Removed),
		"failed", len(report.Failed),
		"tracked", report.Total,
	)

	return report
}

func (m *Manager) track(ctx context.Context, target string) (channel.ResolvedChannel, error) {
	cleaned := CleanTarget(target)
	if cleaned == "" {
		return channel.ResolvedChannel{}, channel.NewError(channel.KindResolve, target, errors.New("empty target"))
	}

	if hash, ok := InviteHash(cleaned); ok {
		if err := m.client.JoinByInvite(ctx, hash); err != nil {
			m.log.Warn("Invite join failed, falling back to resolution", "target", target, "error", err)
		}
	}

	resolved, err := m.client.Resolve(ctx, cleaned)
	if err != nil {
		return channel.ResolvedChannel{}, channel.NewError(channel.KindResolve, target, err)
	}

	result, err := m.client.Join(ctx, resolved)
	if wait, limited := channel.AsRateLimit(err); limited {
		if sleepErr := m.pacer.OnRateLimited(ctx, wait); sleepErr != nil {
			return channel.ResolvedChannel{}, channel.NewError(channel.KindJoin, target, sleepErr)
		}
		result, err = m.client.Join(ctx, resolved)
	}
	if err != nil {
		return channel.ResolvedChannel{}, channel.NewError(channel.KindJoin, target, err)
	}

	switch result {
	case channel.Joined, channel.AlreadyMember:
		m.log.Debug("Join confirmed", "target", target, "result", result.String())
		return resolved, nil
	default:
		return channel.ResolvedChannel{}, channel.NewError(channel.KindJoin, target, fmt.Errorf("unexpected join result %d", result))
	}
}

func (m *Manager) publish(ctx context.Context, report Report) {
	if m.events == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, t := range report.Added {
		m.events.PublishEvent(ctx, bus.Event{
			Type:   bus.EventTargetTracked,
			Target: t.Target,
			ChatID: t.Channel.ID,
		})
	}
	for _, target := range report.Removed {
		m.events.PublishEvent(ctx, bus.Event{Type: bus.EventTargetUntracked, Target: target})
	}
	for _, f := range report.Failed {
		m.events.PublishEvent(ctx, bus.Event{
			Type:   bus.EventTargetFailed,
			Target: f.Target,
			Reason: channel.KindFromError(f.Err),
			Error:  f.Err.Error(),
		})
	}
}
