package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"replybot/pkg/channel"
	"replybot/pkg/config"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"
)

type apiCall struct {
	Method string
	Body   map[string]any
}

// botAPI is a minimal Bot API server. chats maps chat ids to getChat results.
type botAPI struct {
	chats map[int64]string

	mu    sync.Mutex
	calls []apiCall
}

func (a *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	raw, _ := io.ReadAll(r.Body)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)

	a.mu.Lock()
	a.calls = append(a.calls, apiCall{Method: method, Body: body})
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getChat":
		id, _ := body["chat_id"].(float64)
		chat, ok := a.chats[int64(id)]
		if !ok {
			_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":`+chat+`}`)
	case "sendMessage":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":900,"date":1,"chat":{"id":1,"type":"supergroup"}}}`)
	default:
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (a *botAPI) sent() []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []apiCall
	for _, call := range a.calls {
		if call.Method == "sendMessage" {
			out = append(out, call)
		}
	}
	return out
}

func newTestClient(t *testing.T, api *botAPI) *Client {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	client, err := NewClient(config.TelegramConfig{Token: testToken, APIServer: server.URL, RequestTimeoutSeconds: 5}, nil)
	require.NoError(t, err)
	client.commentWait = 200 * time.Millisecond
	return client
}

const (
	linkedChannel   = `{"id":-100123,"type":"channel","title":"Alpha","username":"alpha","linked_chat_id":-100999}`
	unlinkedChannel = `{"id":-100124,"type":"channel","title":"Quiet"}`
	supergroup      = `{"id":-100555,"type":"supergroup","title":"Chat"}`
)

func TestResolveKeepsDiscussionGroup(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100123: linkedChannel}}
	client := newTestClient(t, api)

	resolved, err := client.Resolve(context.Background(), "-100123")
	require.NoError(t, err)
	require.Equal(t, channel.ResolvedChannel{ID: -100123, Title: "Alpha", Username: "alpha", DiscussionID: -100999}, resolved)
}

func TestSendCommentsInDiscussionThread(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100123: linkedChannel}}
	client := newTestClient(t, api)

	_, err := client.Resolve(context.Background(), "-100123")
	require.NoError(t, err)

	client.threads.record(threadKey{channelID: -100123, postID: 5}, -100999, 42)

	require.NoError(t, client.Send(context.Background(), -100123, "hi", 5))

	sent := api.sent()
	require.Len(t, sent, 1)
	require.Equal(t, float64(-100999), sent[0].Body["chat_id"])
	require.Equal(t, "hi", sent[0].Body["text"])
	params, ok := sent[0].Body["reply_parameters"].(map[string]any)
	require.True(t, ok, "reply_parameters missing: %v", sent[0].Body)
	require.Equal(t, float64(42), params["message_id"])
}

func TestSendWaitsForAutomaticForward(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100123: linkedChannel}}
	client := newTestClient(t, api)
	client.commentWait = 2 * time.Second

	go func() {
		time.Sleep(50 * time.Millisecond)
		client.threads.record(threadKey{channelID: -100123, postID: 8}, -100999, 77)
	}()

	require.NoError(t, client.Send(context.Background(), -100123, "late", 8))

	sent := api.sent()
	require.Len(t, sent, 1)
	require.Equal(t, float64(-100999), sent[0].Body["chat_id"])
}

func TestSendFailsWithoutDiscussionGroup(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100124: unlinkedChannel}}
	client := newTestClient(t, api)

	err := client.Send(context.Background(), -100124, "hi", 5)
	require.ErrorIs(t, err, channel.ErrNoDiscussion)
	require.Equal(t, channel.KindSend, channel.KindFromError(err))
	require.Empty(t, api.sent())
}

func TestSendFailsWhenThreadNeverAppears(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100123: linkedChannel}}
	client := newTestClient(t, api)
	client.commentWait = 20 * time.Millisecond

	err := client.Send(context.Background(), -100123, "hi", 5)
	require.Error(t, err)
	require.Equal(t, channel.KindSend, channel.KindFromError(err))
	require.Empty(t, api.sent())
}

func TestSendRepliesInPlaceOutsideChannels(t *testing.T) {
	api := &botAPI{chats: map[int64]string{-100555: supergroup}}
	client := newTestClient(t, api)

	require.NoError(t, client.Send(context.Background(), -100555, "hello", 3))

	sent := api.sent()
	require.Len(t, sent, 1)
	require.Equal(t, float64(-100555), sent[0].Body["chat_id"])
	params, ok := sent[0].Body["reply_parameters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(3), params["message_id"])
}

func TestSendReportsUnknownChat(t *testing.T) {
	client := newTestClient(t, &botAPI{chats: map[int64]string{}})

	err := client.Send(context.Background(), -1, "hi", 1)
	require.Error(t, err)
	require.Equal(t, channel.KindSend, channel.KindFromError(err))
}

func TestAutomaticForward(t *testing.T) {
	forward := &telego.Message{
		MessageID:          42,
		Chat:               telego.Chat{ID: -100999, Type: "supergroup"},
		IsAutomaticForward: true,
		ForwardOrigin: &telego.MessageOriginChannel{
			Type:      telego.OriginTypeChannel,
			Chat:      telego.Chat{ID: -100123, Type: "channel"},
			MessageID: 5,
		},
	}

	key, ok := automaticForward(forward)
	require.True(t, ok)
	require.Equal(t, threadKey{channelID: -100123, postID: 5}, key)

	manual := *forward
	manual.IsAutomaticForward = false
	_, ok = automaticForward(&manual)
	require.False(t, ok)

	_, ok = automaticForward(&telego.Message{IsAutomaticForward: true, ForwardOrigin: &telego.MessageOriginUser{}})
	require.False(t, ok)

	_, ok = automaticForward(nil)
	require.False(t, ok)
}

func TestThreadIndexWaitHonorsContext(t *testing.T) {
	idx := newThreadIndex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := idx.wait(ctx, threadKey{channelID: 1, postID: 1}, time.Minute)
	require.False(t, ok)
	require.Empty(t, idx.waiters)
}

func TestThreadIndexExpiresOldEntries(t *testing.T) {
	idx := newThreadIndex()
	now := time.Unix(1_700_000_000, 0)
	idx.now = func() time.Time { return now }

	idx.record(threadKey{channelID: 1, postID: 1}, 9, 10)
	now = now.Add(threadTTL + time.Minute)
	idx.record(threadKey{channelID: 1, postID: 2}, 9, 11)

	_, stale := idx.entries[threadKey{channelID: 1, postID: 1}]
	require.False(t, stale)
	_, fresh := idx.entries[threadKey{channelID: 1, postID: 2}]
	require.True(t, fresh)
}

