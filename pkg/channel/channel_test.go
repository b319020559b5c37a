package channel

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		ch   ResolvedChannel
		want string
	}{
		{ch: ResolvedChannel{ID: 1, Title: "Alpha", Username: "alpha"}, want: "Alpha"},
		{ch: ResolvedChannel{ID: 1, Username: "alpha"}, want: "@alpha"},
		{ch: ResolvedChannel{ID: -100123}, want: "-100123"},
	}

	for _, tt := range tests {
		if got := tt.ch.DisplayName(); got != tt.want {
			t.Fatalf("DisplayName(%+v) = %q, want %q", tt.ch, got, tt.want)
		}
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	base := errors.New("chat not found")
	err := fmt.Errorf("reconcile: %w", NewError(KindResolve, "@alpha", base))

	if got := KindFromError(err); got != KindResolve {
		t.Fatalf("KindFromError = %q, want %q", got, KindResolve)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to unwrap to base")
	}
	if got := err.Error(); got != "reconcile: resolve @alpha: chat not found" {
		t.Fatalf("Error() = %q", got)
	}
	if NewError(KindJoin, "@alpha", nil) != nil {
		t.Fatal("NewError(nil) should return nil")
	}
}

func TestAsRateLimit(t *testing.T) {
	err := NewError(KindJoin, "@alpha", &RateLimitError{Wait: 10 * time.Second})

	wait, ok := AsRateLimit(err)
	if !ok {
		t.Fatal("expected rate limit to be detected through wrapping")
	}
	if wait != 10*time.Second {
		t.Fatalf("wait = %v, want 10s", wait)
	}

	if _, ok := AsRateLimit(errors.New("boom")); ok {
		t.Fatal("plain error must not be a rate limit")
	}
}

func TestPostEventVariant(t *testing.T) {
	var ev Event = PostEvent{ChatID: 100, AlbumID: 77, Image: &MediaRef{FileID: "f"}}

	post, ok := ev.(PostEvent)
	if !ok {
		t.Fatal("expected PostEvent variant")
	}
	if !post.HasAlbum() || !post.HasImage() {
		t.Fatal("expected album and image flags")
	}
	if ev.EventChatID() != 100 {
		t.Fatalf("EventChatID = %d, want 100", ev.EventChatID())
	}

	var other Event = OtherEvent{ChatID: 5, Kind: "edited_channel_post"}
	if _, ok := other.(PostEvent); ok {
		t.Fatal("OtherEvent must not match the post variant")
	}
}
