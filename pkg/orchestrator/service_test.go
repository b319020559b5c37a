package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"replybot/pkg/channel"
	"replybot/pkg/config"
	"replybot/pkg/metrics"
	"replybot/pkg/pacing"
	providertypes "replybot/pkg/provider/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type sentReply struct {
	ChatID  int64
	Text    string
	ReplyTo int64
}

type scriptedClient struct {
	ids          map[string]int64
	posts        []channel.Event
	subscribeErr error

	mu   sync.Mutex
	sent []sentReply
}

func (c *scriptedClient) Resolve(_ context.Context, target string) (channel.ResolvedChannel, error) {
	id, ok := c.ids[target]
	if !ok {
		return channel.ResolvedChannel{}, channel.NewError(channel.KindResolve, target, errors.New("not found"))
	}
	return channel.ResolvedChannel{ID: id, Username: target}, nil
}

func (c *scriptedClient) JoinByInvite(context.Context, string) error {
	return channel.ErrUnsupported
}

func (c *scriptedClient) Join(context.Context, channel.ResolvedChannel) (channel.JoinResult, error) {
	return channel.AlreadyMember, nil
}

func (c *scriptedClient) Subscribe(ctx context.Context, sink channel.Sink) error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	for _, event := range c.posts {
		if post, ok := event.(channel.PostEvent); ok && post.Timestamp.IsZero() {
			post.Timestamp = time.Now()
			event = post
		}
		if !sink.PublishInbound(ctx, event) {
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *scriptedClient) Send(_ context.Context, chatID int64, text string, replyTo int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentReply{ChatID: chatID, Text: text, ReplyTo: replyTo})
	return nil
}

func (c *scriptedClient) DownloadMedia(context.Context, channel.MediaRef, int64) (providertypes.Image, error) {
	return providertypes.Image{}, channel.ErrMediaTooLarge
}

func (c *scriptedClient) replies() []sentReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentReply(nil), c.sent...)
}

type stubGenerator struct {
	text      string
	err       error
	healthErr error
}

func (g *stubGenerator) Generate(context.Context, providertypes.Request) (providertypes.Response, error) {
	if g.err != nil {
		return providertypes.Response{}, g.err
	}
	return providertypes.Response{Text: g.text}, nil
}

func (g *stubGenerator) Health(context.Context) error { return g.healthErr }

type sequenceSource struct {
	mu    sync.Mutex
	loads [][]string
	errs  []error
	calls int
}

func (s *sequenceSource) Load(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.loads) {
		i = len(s.loads) - 1
	}
	return s.loads[i], nil
}

type instantPacer struct{}

func (instantPacer) HumanDelay(ctx context.Context, _ pacing.Range) error { return ctx.Err() }
func (instantPacer) OnRateLimited(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
func (instantPacer) Throttle(ctx context.Context) error { return ctx.Err() }

func testConfig() *config.Config {
	disabled := false
	cfg := config.Default()
	cfg.Status.Enabled = &disabled
	cfg.Dispatch.DrainTimeoutSeconds = 1
	cfg.Reply.TimeoutSeconds = 1
	return cfg
}

func newTestService(t *testing.T, client *scriptedClient, generator *stubGenerator, source *sequenceSource) *Service {
	t.Helper()

	svc, err := NewService(testConfig(), Deps{
		Client:    client,
		Generator: generator,
		Source:    source,
		Pacer:     instantPacer{},
	}, nil)
	require.NoError(t, err)
	return svc
}

func runService(t *testing.T, svc *Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func TestServiceRepliesToTrackedChannelPost(t *testing.T) {
	client := &scriptedClient{
		ids: map[string]int64{"@alpha": 100},
		posts: []channel.Event{
			channel.PostEvent{ChatID: 200, MessageID: 1, IsChannelPost: true, Text: "untracked"},
			channel.PostEvent{ChatID: 100, MessageID: 7, IsChannelPost: true, Text: "Hello world"},
		},
	}
	svc := newTestService(t, client, &stubGenerator{text: "Nice post"}, &sequenceSource{loads: [][]string{{"@alpha"}}})

	cancel, done := runService(t, svc)

	require.Eventually(t, func() bool { return len(client.replies()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, sentReply{ChatID: 100, Text: "Nice post", ReplyTo: 7}, client.replies()[0])
	require.True(t, svc.Members().Snapshot().Contains(100))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	require.Len(t, client.replies(), 1)
}

func TestServiceSendsFallbackWhenGenerationFails(t *testing.T) {
	client := &scriptedClient{
		ids:   map[string]int64{"@alpha": 100},
		posts: []channel.Event{channel.PostEvent{ChatID: 100, MessageID: 3, IsChannelPost: true, Text: "Hello"}},
	}
	generator := &stubGenerator{err: errors.New("quota exceeded"), healthErr: errors.New("unreachable")}
	svc := newTestService(t, client, generator, &sequenceSource{loads: [][]string{{"@alpha"}}})

	runService(t, svc)

	require.Eventually(t, func() bool { return len(client.replies()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, config.DefaultFallbackText, client.replies()[0].Text)
}

func TestServiceStopsOnSubscriptionFailure(t *testing.T) {
	client := &scriptedClient{
		ids:          map[string]int64{"@alpha": 100},
		subscribeErr: errors.New("unauthorized"),
	}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, &sequenceSource{loads: [][]string{{"@alpha"}}})

	_, done := runService(t, svc)

	select {
	case err := <-done:
		require.ErrorContains(t, err, "unauthorized")
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop after subscription failure")
	}
}

func TestInitialReconcileIsCounted(t *testing.T) {
	metrics.Init()
	tracked := metrics.Reconciles.WithLabelValues("tracked")
	failed := metrics.Reconciles.WithLabelValues("failed")
	trackedBefore := testutil.ToFloat64(tracked)
	failedBefore := testutil.ToFloat64(failed)

	client := &scriptedClient{ids: map[string]int64{"@alpha": 100, "@beta": 101}}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, &sequenceSource{loads: [][]string{{"@alpha", "@beta", "@gone"}}})

	runService(t, svc)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(tracked) >= trackedBefore+2 && testutil.ToFloat64(failed) >= failedBefore+1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatchCeilingMatchesPipelineTimeout(t *testing.T) {
	client := &scriptedClient{ids: map[string]int64{}}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, &sequenceSource{loads: [][]string{{"@alpha"}}})

	opts := svc.dispatchOptions(time.Now())
	require.Equal(t, svc.pipeline.Timeout(), opts.Ceiling)
	require.Equal(t, time.Second, opts.Ceiling)
}

func TestRefreshKeepsMembershipOnFailedOrEmptyLoad(t *testing.T) {
	source := &sequenceSource{
		loads: [][]string{{"@alpha"}, nil, {}},
		errs:  []error{nil, errors.New("permission denied")},
	}
	client := &scriptedClient{ids: map[string]int64{"@alpha": 100}}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, source)
	ctx := context.Background()

	svc.refresh(ctx)
	require.True(t, svc.Members().Snapshot().Contains(100))

	svc.refresh(ctx)
	require.True(t, svc.Members().Snapshot().Contains(100))
	require.Equal(t, "permission denied", svc.currentStatus("ok").LastRefreshErr)

	svc.refresh(ctx)
	require.True(t, svc.Members().Snapshot().Contains(100))
	require.Empty(t, svc.currentStatus("ok").LastRefreshErr)
}

func TestRefreshRemovesDroppedTargets(t *testing.T) {
	source := &sequenceSource{loads: [][]string{{"@alpha", "@beta"}, {"@beta"}}}
	client := &scriptedClient{ids: map[string]int64{"@alpha": 100, "@beta": 101}}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, source)

	svc.refresh(context.Background())
	require.Equal(t, []int64{100, 101}, svc.Members().Snapshot().IDs())

	svc.refresh(context.Background())
	require.Equal(t, []int64{101}, svc.Members().Snapshot().IDs())
}

func TestReadinessRequiresReconcileAndSubscription(t *testing.T) {
	client := &scriptedClient{ids: map[string]int64{"@alpha": 100}}
	svc := newTestService(t, client, &stubGenerator{text: "ok"}, &sequenceSource{loads: [][]string{{"@alpha"}}})
	handler := svc.routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.refresh(context.Background())
	svc.mu.Lock()
	svc.reconciled = true
	svc.mu.Unlock()
	svc.setSubscribed(true)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "ready", payload.Status)
	require.Equal(t, []string{"@alpha"}, payload.Tracked)
	require.Equal(t, "closed", payload.Breaker)
}

func TestHealthzAlwaysOK(t *testing.T) {
	svc := newTestService(t, &scriptedClient{}, &stubGenerator{}, &sequenceSource{loads: [][]string{nil}})

	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServiceValidatesDeps(t *testing.T) {
	_, err := NewService(nil, Deps{}, nil)
	require.Error(t, err)

	_, err = NewService(testConfig(), Deps{Generator: &stubGenerator{}, Source: &sequenceSource{}}, nil)
	require.ErrorContains(t, err, "chat client")
}
