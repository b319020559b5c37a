package channel

import (
	"context"
	"time"

	providertypes "replybot/pkg/provider/types"
)

// ResolvedChannel is a configured target mapped to a stable numeric chat id.
// DiscussionID is the linked comment group, zero when comments are off.
type ResolvedChannel struct {
	ID           int64
	Title        string
	Username     string
	DiscussionID int64
}

// DisplayName returns the most readable identifier available for logs.
func (c ResolvedChannel) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.Username != "":
		return "@" + c.Username
	default:
		return formatID(c.ID)
	}
}

// JoinResult is the non-error outcome of a join request.
type JoinResult int

const (
	Joined JoinResult = iota + 1
	AlreadyMember
)

func (r JoinResult) String() string {
	switch r {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	default:
		return "unknown"
	}
}

// Sink receives inbound events from a subscription.
type Sink interface {
	PublishInbound(ctx context.Context, event Event) bool
}

// Client is the chat transport capability consumed by the orchestrator.
//
// Join may return a *RateLimitError when the provider asks the caller to wait.
type Client interface {
	Resolve(ctx context.Context, target string) (ResolvedChannel, error)
	JoinByInvite(ctx context.Context, hash string) error
	Join(ctx context.Context, ch ResolvedChannel) (JoinResult, error)
	Subscribe(ctx context.Context, sink Sink) error
	// Send posts text as a comment on message replyTo of channel chatID.
	Send(ctx context.Context, chatID int64, text string, replyTo int64) error
	DownloadMedia(ctx context.Context, ref MediaRef, limit int64) (providertypes.Image, error)
}

// Event is an inbound update. The set of implementations is closed: PostEvent
// and OtherEvent.
type Event interface {
	EventChatID() int64
	isEvent()
}

// MediaRef points at a downloadable image attached to a post.
type MediaRef struct {
	FileID string
	Size   int64
	MIME   string
}

// PostEvent is a newly published message. IsChannelPost separates broadcast
// channel posts from ordinary chat messages.
type PostEvent struct {
	ChatID        int64
	ChatTitle     string
	MessageID     int64
	Timestamp     time.Time
	IsChannelPost bool
	Text          string
	Image         *MediaRef
	AlbumID       int64
}

// HasImage reports whether the post carries an image attachment.
func (p PostEvent) HasImage() bool { return p.Image != nil }

// HasAlbum reports whether the post is one part of a grouped message.
func (p PostEvent) HasAlbum() bool { return p.AlbumID != 0 }

func (p PostEvent) EventChatID() int64 { return p.ChatID }
func (PostEvent) isEvent() {}

// OtherEvent is any update that is not a new message (edits, service messages).
type OtherEvent struct {
	ChatID int64
	Kind   string
}

func (o OtherEvent) EventChatID() int64 { return o.ChatID }
func (OtherEvent) isEvent() {}
