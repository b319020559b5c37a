package channel

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	KindResolve = "resolve"
	KindJoin    = "join"
	KindSend    = "send"
	KindMedia   = "media"
)

var (
	// ErrUnsupported is returned for operations the transport cannot perform.
	ErrUnsupported = errors.New("operation not supported by chat client")
	// ErrNotMember is returned by Join when membership cannot be established.
	ErrNotMember = errors.New("not a member of the channel")
	// ErrMediaTooLarge is returned when an attachment exceeds the download limit.
	ErrMediaTooLarge = errors.New("media exceeds size limit")
	// ErrNoDiscussion is returned by Send for channels without a comment group.
	ErrNoDiscussion = errors.New("channel has no linked discussion group")
)

// Error is a categorized chat client failure tied to one target or chat.
type Error struct {
	Kind   string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Kind, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and target.
func NewError(kind string, target string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Target: target, Err: err}
}

// KindFromError returns the error kind when available.
func KindFromError(err error) string {
	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	return ""
}

// RateLimitError is a provider flood-wait signal.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// AsRateLimit reports the requested wait if err carries a rate-limit signal.
func AsRateLimit(err error) (time.Duration, bool) {
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited.Wait, true
	}

	return 0, false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
