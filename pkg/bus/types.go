package bus

import "time"

type EventType string

const (
	EventReplySent       EventType = "reply_sent"
	EventReplySkipped    EventType = "reply_skipped"
	EventReplyFailed     EventType = "reply_failed"
	EventTargetTracked   EventType = "target_tracked"
	EventTargetUntracked EventType = "target_untracked"
	EventTargetFailed    EventType = "target_failed"
)

// Skip and outcome reasons carried in Event.Reason.
const (
	ReasonFallback     = "fallback"
	ReasonGenerated    = "generated"
	ReasonChance       = "chance"
	ReasonNoContent    = "no_content"
	ReasonSendFailed   = "send_failed"
	ReasonRateLimited  = "rate_limited"
	ReasonShuttingDown = "shutting_down"
)

// Event is a lifecycle record published for observers such as metrics.
type Event struct {
	Type      EventType     `json:"type"`
	At        time.Time     `json:"at"`
	EventID   string        `json:"event_id,omitempty"`
	ChatID    int64         `json:"chat_id,omitempty"`
	MessageID int64         `json:"message_id,omitempty"`
	Target    string        `json:"target,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}
