// Package pacing spaces out outbound actions with randomized human-like
// delays and honors provider flood waits.
package pacing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"replybot/pkg/config"
)

const DefaultFloodMargin = 5 * time.Second

// Range is an inclusive delay interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// FromConfig converts a seconds-based config range.
func FromConfig(r config.Range) Range {
	return Range{Min: r.Min(), Max: r.Max()}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Controller)

// WithSleep replaces the sleep implementation.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithRand replaces the uniform [0,1) source used for human delays.
func WithRand(fn func() float64) Option {
	return func(c *Controller) {
		if fn != nil {
			c.random = fn
		}
	}
}

// WithLogger sets the logger used for wait announcements.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// Controller is safe for concurrent use.
type Controller struct {
	margin  time.Duration
	limiter *rate.Limiter
	sleep   SleepFunc
	random  func() float64
	log     *slog.Logger
}

func New(cfg config.PacingConfig, opts ...Option) *Controller {
	margin := config.Seconds(cfg.FloodMarginSeconds)
	if margin <= 0 {
		margin = DefaultFloodMargin
	}

	c := &Controller{
		margin: margin,
		sleep:  Sleep,
		random: rand.Float64,
		log:    slog.Default().With("component", "pacing"),
	}
	if cfg.MaxRepliesPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRepliesPerMinute/60.0), 1)
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HumanDelay waits a uniformly random duration within r.
func (c *Controller) HumanDelay(ctx context.Context, r Range) error {
	d := c.pick(r)
	c.log.Info("Waiting before next action", "delay", d.Round(100*time.Millisecond).String())
	return c.sleep(ctx, d)
}

// OnRateLimited waits the provider-imposed duration plus the safety margin.
func (c *Controller) OnRateLimited(ctx context.Context, wait time.Duration) error {
	if wait < 0 {
		wait = 0
	}
	total := wait + c.margin
	c.log.Warn("Flood wait imposed by provider", "wait", wait.String(), "sleeping", total.String())
	return c.sleep(ctx, total)
}

// Throttle blocks until the outbound rate cap admits one more reply.
func (c *Controller) Throttle(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}

	return c.limiter.Wait(ctx)
}

func (c *Controller) pick(r Range) time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}

	return lo + time.Duration(c.random()*float64(hi-lo))
}

// Sleep waits for d, returning ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
