package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"replybot/pkg/config"
	providerfantasy "replybot/pkg/provider/fantasy"
	provideropenai "replybot/pkg/provider/openai"
	providertypes "replybot/pkg/provider/types"
)

// New builds the generator selected by cfg.Backend. Without an API key the
// returned generator is disabled and every call fails with ErrUnavailable.
func New(cfg config.ProviderConfig) (providertypes.Generator, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = config.DefaultBackend
	}

	log := slog.Default().With("component", "provider.factory")
	log.Debug("Resolving generator backend", "backend", backend, "model", cfg.Model)

	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Warn("No provider API key configured, AI replies disabled; the fallback text will be used", "backend", backend)
		return Disabled{}, nil
	}

	switch backend {
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider backend: %s", backend)
	}
}

// Disabled is the generator used when no backend can be configured.
type Disabled struct{}

func (Disabled) Generate(context.Context, providertypes.Request) (providertypes.Response, error) {
	return providertypes.Response{}, providertypes.ErrUnavailable
}

func (Disabled) Health(context.Context) error {
	return providertypes.ErrUnavailable
}
