package pacing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"replybot/pkg/config"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) last() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.waits) == 0 {
		return 0
	}
	return r.waits[len(r.waits)-1]
}

func TestOnRateLimitedAddsMargin(t *testing.T) {
	sleeper := &recordingSleeper{}
	c := New(config.PacingConfig{}, WithSleep(sleeper.sleep))

	if err := c.OnRateLimited(context.Background(), 10*time.Second); err != nil {
		t.Fatalf("OnRateLimited error: %v", err)
	}
	if got := sleeper.last(); got < 15*time.Second {
		t.Fatalf("slept %s, want at least 15s", got)
	}
}

func TestOnRateLimitedUsesConfiguredMargin(t *testing.T) {
	sleeper := &recordingSleeper{}
	c := New(config.PacingConfig{FloodMarginSeconds: 2}, WithSleep(sleeper.sleep))

	_ = c.OnRateLimited(context.Background(), 3*time.Second)
	if got := sleeper.last(); got != 5*time.Second {
		t.Fatalf("slept %s, want 5s", got)
	}
}

func TestHumanDelayStaysWithinRange(t *testing.T) {
	tests := []struct {
		name string
		draw float64
		want time.Duration
	}{
		{name: "lower bound", draw: 0, want: 5 * time.Second},
		{name: "midpoint", draw: 0.5, want: 10 * time.Second},
		{name: "near upper bound", draw: 0.999999, want: 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			c := New(config.PacingConfig{},
				WithSleep(sleeper.sleep),
				WithRand(func() float64 { return tt.draw }),
			)

			if err := c.HumanDelay(context.Background(), Range{Min: 5 * time.Second, Max: 15 * time.Second}); err != nil {
				t.Fatalf("HumanDelay error: %v", err)
			}
			got := sleeper.last()
			if got < 5*time.Second || got > 15*time.Second {
				t.Fatalf("slept %s, outside [5s, 15s]", got)
			}
			if diff := got - tt.want; diff > time.Millisecond || diff < -time.Millisecond {
				t.Fatalf("slept %s, want about %s", got, tt.want)
			}
		})
	}
}

func TestHumanDelayDegenerateRange(t *testing.T) {
	sleeper := &recordingSleeper{}
	c := New(config.PacingConfig{}, WithSleep(sleeper.sleep))

	_ = c.HumanDelay(context.Background(), Range{Min: 3 * time.Second, Max: 3 * time.Second})
	if got := sleeper.last(); got != 3*time.Second {
		t.Fatalf("slept %s, want 3s", got)
	}
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep did not return promptly after cancel")
	}
}

func TestThrottleUnlimitedByDefault(t *testing.T) {
	c := New(config.PacingConfig{})

	for i := 0; i < 5; i++ {
		if err := c.Throttle(context.Background()); err != nil {
			t.Fatalf("Throttle error: %v", err)
		}
	}
}

func TestThrottleCapsRate(t *testing.T) {
	c := New(config.PacingConfig{MaxRepliesPerMinute: 1})

	if err := c.Throttle(context.Background()); err != nil {
		t.Fatalf("first Throttle error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Throttle(ctx); err == nil {
		t.Fatal("expected second Throttle to wait beyond the deadline")
	}
}
