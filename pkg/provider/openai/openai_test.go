package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"replybot/pkg/config"
	providertypes "replybot/pkg/provider/types"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(config.ProviderConfig{Model: "gpt-4o-mini"})
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-4o-mini", want: "gpt-4o-mini"},
		{name: "openai prefix", input: "openai/gpt-4o-mini", want: "gpt-4o-mini"},
		{name: "compatible endpoint prefix", input: "google/gemini-2.5-flash", want: "google/gemini-2.5-flash"},
		{name: "dangling prefix", input: "openai/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func newCompletionServer(t *testing.T, finishReason string, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": finishReason,
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	client, err := New(config.ProviderConfig{
		APIKey:  "sk-test",
		Model:   "openai/gpt-4o-mini",
		BaseURL: server.URL + "/",
	})
	require.NoError(t, err)
	return client
}

func TestGenerateReturnsText(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, "stop", "  Nice post!  ", &captured)
	client := newTestClient(t, server)

	resp, err := client.Generate(context.Background(), providertypes.Request{Prompt: "Comment on: hello"})
	require.NoError(t, err)
	require.Equal(t, "Nice post!", resp.Text)
	require.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 1)
	require.Equal(t, "user", captured.Messages[0].Role)
	require.NotNil(t, resp.Metadata.Usage)
	require.Equal(t, int64(17), resp.Metadata.Usage.TotalTokens)
}

func TestGenerateSendsImageAsDataURL(t *testing.T) {
	var captured capturedRequest
	server := newCompletionServer(t, "stop", "Lovely", &captured)
	client := newTestClient(t, server)

	_, err := client.Generate(context.Background(), providertypes.Request{
		Prompt: "Comment on the image",
		Image:  &providertypes.Image{Data: []byte{0xff, 0xd8}, MIME: "image/jpeg"},
	})
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	require.Contains(t, string(captured.Messages[0].Content), "data:image/jpeg;base64,")
}

func TestGenerateMapsContentFilterToBlocked(t *testing.T) {
	server := newCompletionServer(t, "content_filter", "", nil)
	client := newTestClient(t, server)

	_, err := client.Generate(context.Background(), providertypes.Request{Prompt: "x"})
	if !errors.Is(err, providertypes.ErrBlocked) {
		t.Fatalf("error = %v, want ErrBlocked", err)
	}
}

func TestGenerateMapsBlankOutputToEmpty(t *testing.T) {
	server := newCompletionServer(t, "stop", "   ", nil)
	client := newTestClient(t, server)

	_, err := client.Generate(context.Background(), providertypes.Request{Prompt: "x"})
	if !errors.Is(err, providertypes.ErrEmpty) {
		t.Fatalf("error = %v, want ErrEmpty", err)
	}
}
