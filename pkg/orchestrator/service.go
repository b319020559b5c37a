// Package orchestrator wires membership, dispatch and the chat subscription
// into one long-running service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"replybot/pkg/bus"
	"replybot/pkg/channel"
	"replybot/pkg/config"
	"replybot/pkg/dispatch"
	"replybot/pkg/membership"
	"replybot/pkg/metrics"
	"replybot/pkg/pacing"
	providertypes "replybot/pkg/provider/types"
	"replybot/pkg/reply"
	"replybot/pkg/targets"
)

const metricsBuffer = 256

// Pacer covers every delay the service applies before outbound actions.
type Pacer interface {
	HumanDelay(ctx context.Context, r pacing.Range) error
	OnRateLimited(ctx context.Context, wait time.Duration) error
	Throttle(ctx context.Context) error
}

// Deps are the external collaborators of a Service. Pacer is optional.
type Deps struct {
	Client    channel.Client
	Generator providertypes.Generator
	Source    targets.Source
	Pacer     Pacer
}

type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	client    channel.Client
	generator providertypes.Generator
	source    targets.Source
	pacer     Pacer
	bus       *bus.MessageBus
	members   *membership.Manager
	pipeline  *reply.Pipeline

	mu                sync.RWMutex
	startedAt         time.Time
	dispatcher        *dispatch.Dispatcher
	reconciled        bool
	subscribed        bool
	lastRefreshAt     time.Time
	lastRefreshErr    string
	generatorLastOKAt time.Time
	generatorLastErr  string
}

func NewService(cfg *config.Config, deps Deps, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Client == nil {
		return nil, errors.New("chat client is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("reply generator is required")
	}
	if deps.Source == nil {
		return nil, errors.New("target source is required")
	}
	if log == nil {
		log = slog.Default()
	}

	pacer := deps.Pacer
	if pacer == nil {
		pacer = pacing.New(cfg.Pacing, pacing.WithLogger(log))
	}

	messageBus := bus.NewMessageBusSize(cfg.Dispatch.QueueSize)
	members := membership.NewManager(deps.Client, pacer, membership.Options{
		JoinDelay: pacing.FromConfig(cfg.Pacing.JoinDelay),
		Events:    messageBus,
		Logger:    log,
	})
	pipeline := reply.New(deps.Generator, cfg.Reply,
		reply.WithLogger(log),
		reply.WithBreakerObserver(metrics.SetBreakerOpen),
	)

	return &Service{
		cfg:       cfg,
		log:       log.With("component", "orchestrator"),
		client:    deps.Client,
		generator: deps.Generator,
		source:    deps.Source,
		pacer:     pacer,
		bus:       messageBus,
		members:   members,
		pipeline:  pipeline,
	}, nil
}

// Members exposes the membership manager, mostly for status and tests.
func (s *Service) Members() *membership.Manager {
	return s.members
}

// Run blocks until ctx is cancelled or the subscription or status server
// fails. In-flight replies are drained before it returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now()
	metrics.Init()

	dispatcher := dispatch.New(s.client, s.members, s.pipeline, s.pacer, s.dispatchOptions(startedAt))

	s.mu.Lock()
	s.startedAt = startedAt.UTC()
	s.dispatcher = dispatcher
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := s.bus.SubscribeEvents(runCtx, metricsBuffer)
	defer unsubscribe()
	go metrics.Consume(runCtx, events)

	s.checkGeneratorHealth(runCtx)

	s.refresh(runCtx)
	s.mu.Lock()
	s.reconciled = true
	s.mu.Unlock()

	errCh := make(chan error, 2)
	if s.cfg.StatusEnabled() {
		go s.runStatusServer(runCtx, errCh)
	}

	go s.refreshLoop(runCtx)

	go func() {
		s.setSubscribed(true)
		err := s.client.Subscribe(runCtx, s.bus)
		s.setSubscribed(false)
		if runCtx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("subscription ended")
		}
		errCh <- fmt.Errorf("run subscription: %w", err)
	}()

	dispatchDone := make(chan error, 1)
	go func() {
		dispatchDone <- dispatcher.Run(runCtx, s.bus)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested")
	case runErr = <-errCh:
		s.log.Error("Service failed", "error", runErr)
	}

	cancel()
	if err := <-dispatchDone; err != nil && runErr == nil {
		runErr = err
	}
	s.bus.Close()

	return runErr
}

// dispatchOptions bounds each generation by the same ceiling the pipeline
// applies internally.
func (s *Service) dispatchOptions(startedAt time.Time) dispatch.Options {
	return dispatch.Options{
		StartTime:     startedAt,
		ReplyChance:   s.cfg.ReplyChance(),
		AlbumGrace:    config.Seconds(s.cfg.Dispatch.AlbumGraceSeconds),
		MaxImageBytes: s.cfg.Dispatch.MaxImageBytes,
		MaxConcurrent: s.cfg.Dispatch.MaxConcurrentReplies,
		DrainTimeout:  config.Seconds(s.cfg.Dispatch.DrainTimeoutSeconds),
		ReplyDelay:    pacing.FromConfig(s.cfg.Pacing.ReplyDelay),
		Ceiling:       s.pipeline.Timeout(),
		Events:        s.bus,
		Logger:        s.log,
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Membership.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(config.DefaultRefreshSeconds) * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh loads the desired targets and reconciles. A failed or empty load
// keeps the current membership.
func (s *Service) refresh(ctx context.Context) {
	desired, err := s.source.Load(ctx)
	if err != nil {
		s.log.Warn("Failed to load targets, keeping current membership", "error", err)
		s.recordRefresh(err)
		return
	}
	if len(desired) == 0 {
		s.log.Warn("Target list is empty, keeping current membership", "tracked", s.members.Snapshot().Len())
		s.recordRefresh(nil)
		return
	}

	report := s.members.Reconcile(ctx, desired)
	tracked := s.members.Snapshot().Len()
	metrics.SetTracked(tracked)

	log := s.log.Debug
	if report.Changed() || len(report.Failed) > 0 {
		log = s.log.Info
	}
	log("Membership reconciled",
		"desired", report.Total,
		"added", len(report.Added),
		"removed", len(report.Removed),
		"failed", len(report.Failed),
		"tracked", tracked,
	)
	s.recordRefresh(nil)
}

func (s *Service) checkGeneratorHealth(ctx context.Context) {
	err := s.generator.Health(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.generatorLastErr = err.Error()
		s.log.Warn("Reply generator health check failed, replies will use the fallback until it recovers", "error", err)
		return
	}
	s.generatorLastErr = ""
	s.generatorLastOKAt = time.Now().UTC()
	s.log.Info("Reply generator reachable")
}

func (s *Service) recordRefresh(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRefreshAt = time.Now().UTC()
	s.lastRefreshErr = errorString(err)
}

func (s *Service) setSubscribed(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = running
}

func (s *Service) statusAddr() string {
	return s.cfg.Status.Host + ":" + strconv.Itoa(s.cfg.Status.Port)
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.statusAddr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
