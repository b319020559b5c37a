// Package reply turns a post into comment text, falling back to a fixed reply
// whenever generation fails.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"replybot/pkg/config"
	providertypes "replybot/pkg/provider/types"
)

// ErrSkip reports a post with neither text nor image.
var ErrSkip = errors.New("post has no text and no image")

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerOpen            = 60 * time.Second
	defaultBreakerInterval        = 2 * time.Minute
)

type Input struct {
	Text  string
	Image *providertypes.Image
}

// Result is the text to send. Cause is set when the fallback was used.
type Result struct {
	Text       string
	IsFallback bool
	Cause      error
	Metadata   providertypes.Metadata
}

type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log.With("component", "reply")
		}
	}
}

// WithBreakerObserver is called with true when the breaker opens and false
// when it closes again.
func WithBreakerObserver(fn func(open bool)) Option {
	return func(p *Pipeline) {
		p.onBreaker = fn
	}
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	generator providertypes.Generator
	cfg       config.ReplyConfig
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker[providertypes.Response]
	onBreaker func(open bool)
	log       *slog.Logger
}

func New(generator providertypes.Generator, cfg config.ReplyConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		generator: generator,
		cfg:       cfg,
		timeout:   config.Seconds(cfg.TimeoutSeconds),
		log:       slog.Default().With("component", "reply"),
	}
	if p.timeout <= 0 {
		p.timeout = config.DefaultTimeoutSeconds * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = p.newBreaker(cfg.Breaker)

	return p
}

func (p *Pipeline) newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[providertypes.Response] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	openFor := time.Duration(cfg.OpenSeconds) * time.Second
	if openFor <= 0 {
		openFor = defaultBreakerOpen
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultBreakerInterval
	}

	return gobreaker.NewCircuitBreaker[providertypes.Response](gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn("Generator circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if p.onBreaker != nil {
				p.onBreaker(to == gobreaker.StateOpen)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, providertypes.ErrBlocked) ||
				errors.Is(err, providertypes.ErrEmpty) ||
				errors.Is(err, providertypes.ErrUnavailable) ||
				errors.Is(err, context.Canceled)
		},
	})
}

// Timeout returns the generation ceiling.
func (p *Pipeline) Timeout() time.Duration {
	return p.timeout
}

// Fallback returns the static reply.
func (p *Pipeline) Fallback(cause error) Result {
	return Result{Text: p.cfg.FallbackText, IsFallback: true, Cause: cause}
}

// BreakerState reports the generator circuit breaker state.
func (p *Pipeline) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Generate returns ErrSkip for an empty post and otherwise always yields a
// Result: generated text on success, the fallback on any failure.
func (p *Pipeline) Generate(ctx context.Context, in Input) (Result, error) {
	hasImage := in.Image != nil && len(in.Image.Data) > 0
	if Normalize(in.Text) == "" && !hasImage {
		return Result{}, ErrSkip
	}

	req := providertypes.Request{Prompt: BuildPrompt(p.cfg, in.Text, hasImage)}
	if hasImage {
		req.Image = in.Image
	}

	startedAt := time.Now()
	resp, err := Bounded(ctx, p.timeout, func(ctx context.Context) (providertypes.Response, error) {
		return p.breaker.Execute(func() (providertypes.Response, error) {
			return p.generator.Generate(ctx, req)
		})
	})
	elapsed := time.Since(startedAt)

	if err != nil {
		p.logFailure(err, elapsed)
		return p.Fallback(err), nil
	}

	text := Normalize(resp.Text)
	if text == "" {
		p.log.Warn("Generator returned blank text, using fallback", "duration_ms", elapsed.Milliseconds())
		return p.Fallback(providertypes.ErrEmpty), nil
	}

	p.log.Debug("Reply generated", "duration_ms", elapsed.Milliseconds(), "length", len(text), "model", resp.Metadata.Model)
	return Result{Text: text, Metadata: resp.Metadata}, nil
}

func (p *Pipeline) logFailure(err error, elapsed time.Duration) {
	attrs := []any{"duration_ms", elapsed.Milliseconds(), "error", err}

	switch {
	case errors.Is(err, ErrDeadline):
		p.log.Warn(fmt.Sprintf("Generation timed out after %s, using fallback", p.timeout), attrs...)
	case errors.Is(err, providertypes.ErrBlocked), errors.Is(err, providertypes.ErrEmpty):
		p.log.Warn("Generation blocked or empty, using fallback", attrs...)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.log.Warn("Generator circuit open, using fallback", attrs...)
	case errors.Is(err, providertypes.ErrUnavailable):
		p.log.Debug("Generator disabled, using fallback")
	default:
		p.log.Error("Generation failed, using fallback", attrs...)
	}
}
