// Package metrics exposes Prometheus counters for replies and membership.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"replybot/pkg/bus"
)

var (
	once sync.Once

	Replies           *prometheus.CounterVec
	Skips             *prometheus.CounterVec
	Reconciles        *prometheus.CounterVec
	TrackedChannels   prometheus.Gauge
	GenerationSeconds prometheus.Histogram
	BreakerOpen       prometheus.Gauge
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		Replies = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "replybot_replies_total",
			Help: "Replies by result (sent, fallback, failed)",
		}, []string{"result"})
		Skips = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "replybot_skips_total",
			Help: "Posts skipped after passing the membership filter, by reason",
		}, []string{"reason"})
		Reconciles = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "replybot_reconcile_total",
			Help: "Reconcile outcomes per target (tracked, untracked, failed)",
		}, []string{"outcome"})
		TrackedChannels = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "replybot_tracked_channels",
			Help: "Current number of tracked targets",
		})
		GenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "replybot_generation_seconds",
			Help:    "Reply generation duration seconds",
			Buckets: prometheus.DefBuckets,
		})
		BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "replybot_breaker_open",
			Help: "Generator circuit breaker open=1 closed=0",
		})
	})
}

// SetBreakerOpen records the generator breaker state.
func SetBreakerOpen(open bool) {
	if BreakerOpen == nil {
		return
	}
	if open {
		BreakerOpen.Set(1)
	} else {
		BreakerOpen.Set(0)
	}
}

// SetTracked records the size of the tracked set.
func SetTracked(n int) {
	if TrackedChannels != nil {
		TrackedChannels.Set(float64(n))
	}
}

// Observe updates counters for one lifecycle event.
func Observe(event bus.Event) {
	Init()

	switch event.Type {
	case bus.EventReplySent:
		result := "sent"
		if event.Reason == bus.ReasonFallback {
			result = "fallback"
		}
		Replies.WithLabelValues(result).Inc()
		if event.Duration > 0 {
			GenerationSeconds.Observe(event.Duration.Seconds())
		}
	case bus.EventReplyFailed:
		Replies.WithLabelValues("failed").Inc()
	case bus.EventReplySkipped:
		Skips.WithLabelValues(event.Reason).Inc()
	case bus.EventTargetTracked:
		Reconciles.WithLabelValues("tracked").Inc()
	case bus.EventTargetUntracked:
		Reconciles.WithLabelValues("untracked").Inc()
	case bus.EventTargetFailed:
		Reconciles.WithLabelValues("failed").Inc()
	}
}

// Consume feeds events into the counters until ctx ends or events closes.
// Subscribe before publishing starts; the bus drops events nobody listens to.
func Consume(ctx context.Context, events <-chan bus.Event) {
	Init()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			Observe(event)
		}
	}
}
