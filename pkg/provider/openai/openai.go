package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"replybot/pkg/config"
	providertypes "replybot/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const finishReasonContentFilter = "content_filter"

// Client generates replies through the OpenAI chat completions API or any
// compatible endpoint selected with base_url.
type Client struct {
	client         osdk.Client
	model          string
	maxTokens      int64
	temperature    float64
	requestTimeout time.Duration
}

func New(cfg config.ProviderConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("provider api key is required (set provider.api_key_env or OPENAI_API_KEY)")
	}

	model, err := normalizeModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		model:          model,
		maxTokens:      int64(cfg.MaxTokens),
		temperature:    cfg.Temperature,
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

func (c *Client) Generate(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "generate")
	startedAt := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	log.Debug("provider request started",
		"model", c.model,
		"prompt_length", len(prompt),
		"has_image", req.Image != nil,
	)

	params := osdk.ChatCompletionNewParams{
		Model:    osdk.ChatModel(c.model),
		Messages: []osdk.ChatCompletionMessageParamUnion{userMessage(prompt, req.Image)},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = osdk.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = osdk.Float(c.temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("generate failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no choices")
		return providertypes.Response{}, providertypes.ErrEmpty
	}

	choice := completion.Choices[0]
	if choice.FinishReason == finishReasonContentFilter || strings.TrimSpace(choice.Message.Refusal) != "" {
		log.Debug("provider request blocked", "duration_ms", time.Since(startedAt).Milliseconds(), "finish_reason", choice.FinishReason)
		return providertypes.Response{}, providertypes.ErrBlocked
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.Response{}, providertypes.ErrEmpty
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	metadata := providertypes.Metadata{
		Provider:     "openai",
		Model:        c.model,
		FinishReason: choice.FinishReason,
	}
	usage := providertypes.TokenUsage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		TotalTokens:  completion.Usage.TotalTokens,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Response{Text: text, Metadata: metadata}, nil
}

// userMessage builds a single user turn, adding the image as a data URL part.
func userMessage(prompt string, image *providertypes.Image) osdk.ChatCompletionMessageParamUnion {
	if image == nil || len(image.Data) == 0 {
		return osdk.UserMessage(prompt)
	}

	return osdk.UserMessage([]osdk.ChatCompletionContentPartUnionParam{
		osdk.TextContentPart(prompt),
		osdk.ImageContentPart(osdk.ChatCompletionContentPartImageImageURLParam{URL: image.DataURL()}),
	})
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

// normalizeModel strips an optional "openai/" prefix. Other provider prefixes
// are accepted as-is because compatible endpoints use their own model names.
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return model, nil
	}

	return modelID, nil
}
