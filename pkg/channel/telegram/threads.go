package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/mymmrac/telego"
)

const (
	defaultCommentWait = 15 * time.Second
	threadTTL          = 30 * time.Minute
)

type threadKey struct {
	channelID int64
	postID    int64
}

type threadEntry struct {
	chatID    int64
	messageID int64
	seenAt    time.Time
}

// threadIndex maps channel posts to their automatic forwards in the linked
// discussion group. A comment is a reply to that forwarded copy.
type threadIndex struct {
	mu      sync.Mutex
	entries map[threadKey]threadEntry
	waiters map[threadKey][]chan struct{}
	now     func() time.Time
}

func newThreadIndex() *threadIndex {
	return &threadIndex{
		entries: make(map[threadKey]threadEntry),
		waiters: make(map[threadKey][]chan struct{}),
		now:     time.Now,
	}
}

func (t *threadIndex) record(key threadKey, chatID int64, messageID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, e := range t.entries {
		if now.Sub(e.seenAt) > threadTTL {
			delete(t.entries, k)
		}
	}

	t.entries[key] = threadEntry{chatID: chatID, messageID: messageID, seenAt: now}
	for _, ch := range t.waiters[key] {
		close(ch)
	}
	delete(t.waiters, key)
}

// wait returns the discussion copy of key, blocking up to timeout for the
// forward to arrive.
func (t *threadIndex) wait(ctx context.Context, key threadKey, timeout time.Duration) (threadEntry, bool) {
	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		t.mu.Unlock()
		return e, true
	}
	ready := make(chan struct{})
	t.waiters[key] = append(t.waiters[key], ready)
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
	case <-ctx.Done():
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		t.dropWaiter(key, ready)
	}

	return e, ok
}

func (t *threadIndex) dropWaiter(key threadKey, ready chan struct{}) {
	list := t.waiters[key]
	for i, ch := range list {
		if ch == ready {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.waiters, key)
		return
	}
	t.waiters[key] = list
}

// automaticForward reports the channel post an automatic discussion forward
// was copied from.
func automaticForward(msg *telego.Message) (threadKey, bool) {
	if msg == nil || !msg.IsAutomaticForward {
		return threadKey{}, false
	}

	origin, ok := msg.ForwardOrigin.(*telego.MessageOriginChannel)
	if !ok || origin == nil {
		return threadKey{}, false
	}

	return threadKey{channelID: origin.Chat.ID, postID: int64(origin.MessageID)}, true
}
