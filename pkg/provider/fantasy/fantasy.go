package fantasy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"replybot/pkg/config"
	providertypes "replybot/pkg/provider/types"
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client generates replies with a fantasy agent over the OpenAI provider.
type Client struct {
	provider        languageModelProvider
	requestTimeout  time.Duration
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg config.ProviderConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("provider api key is required (set provider.api_key_env or OPENAI_API_KEY)")
	}

	modelID, err := normalizeOpenAIModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	client := &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		modelID:        modelID,
		generate:       generateWithFantasyAgent,
	}

	if cfg.MaxTokens > 0 {
		maxTokens := int64(cfg.MaxTokens)
		client.maxOutputTokens = &maxTokens
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		client.temperature = &temp
	}

	return client, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Generate(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
	if err != nil {
		return providertypes.Response{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{Prompt: prompt}
	if req.Image != nil && len(req.Image.Data) > 0 {
		call.Files = []core.FilePart{{
			Filename:  "post-image",
			Data:      req.Image.Data,
			MediaType: imageMIME(req.Image.MIME),
		}}
	}
	if c.maxOutputTokens != nil {
		call.MaxOutputTokens = c.maxOutputTokens
	}
	if c.temperature != nil {
		call.Temperature = c.temperature
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		return providertypes.Response{}, fmt.Errorf("generate failed: %w", err)
	}
	if result.Response.FinishReason == core.FinishReasonContentFilter {
		return providertypes.Response{}, providertypes.ErrBlocked
	}

	text := extractText(result.Response.Content)
	if text == "" {
		return providertypes.Response{}, providertypes.ErrEmpty
	}

	usage := providertypes.TokenUsage{
		InputTokens:  result.TotalUsage.InputTokens,
		OutputTokens: result.TotalUsage.OutputTokens,
		TotalTokens:  result.TotalUsage.TotalTokens,
	}

	metadata := providertypes.Metadata{
		Provider:     "fantasy",
		Model:        c.modelID,
		FinishReason: string(result.Response.FinishReason),
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.Response{Text: text, Metadata: metadata}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func imageMIME(mime string) string {
	if strings.TrimSpace(mime) == "" {
		return "image/jpeg"
	}

	return mime
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
