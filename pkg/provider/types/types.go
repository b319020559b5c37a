package types

import (
	"context"
	"encoding/base64"
	"errors"
)

var (
	// ErrBlocked reports that the model refused or safety-filtered the request.
	ErrBlocked = errors.New("generation blocked by provider")
	// ErrEmpty reports that the model returned no text.
	ErrEmpty = errors.New("generation returned no text")
	// ErrUnavailable reports that no generator backend is configured.
	ErrUnavailable = errors.New("generator unavailable")
)

// Image is an inline image passed alongside a prompt.
type Image struct {
	Data []byte
	MIME string
}

// DataURL encodes the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/jpeg"
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Request is one generation call.
type Request struct {
	Prompt string
	Image  *Image
}

// Response is the normalized provider response payload.
type Response struct {
	Text     string
	Metadata Metadata
}

// Metadata carries provider/model identity and optional usage accounting.
type Metadata struct {
	Provider     string
	Model        string
	FinishReason string
	Usage        *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0
}

// Generator produces reply text for a prompt and optional image.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Health(ctx context.Context) error
}
