package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearReplyEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		envConfigPath, envTelegramBotToken, envChannelsCSV, envLogFile, envReplyChance,
		"REPLY_MODEL", "GEMINI_MODEL", "REPLY_PROMPT", "GEMINI_PROMPT",
		"REPLY_PROMPT_IMAGE", "GEMINI_PROMPT_IMAGE", "PROMPT_IMAGE_TPL",
		"REPLY_FALLBACK_TEXT", "TG_REPLY_TEXT", "OPENAI_API_KEY", "GEMINI_KEY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearReplyEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "telegram": {"token": "file-token"},
	  "targets": {"csv_path": "/data/channels.csv"},
	  "provider": {"backend": "fantasy", "model": "openai/gpt-5.2"},
	  "reply": {"prompt_template": "Comment: {text}", "fallback_text": "..."},
	  "pacing": {"join_delay": {"min_seconds": 1, "max_seconds": 2}},
	  "dispatch": {"reply_chance": 0.25},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Telegram.Token != "file-token" {
		t.Fatalf("telegram.token = %q, want %q", cfg.Telegram.Token, "file-token")
	}
	if cfg.Provider.Backend != "fantasy" {
		t.Fatalf("provider.backend = %q, want %q", cfg.Provider.Backend, "fantasy")
	}
	if cfg.ReplyChance() != 0.25 {
		t.Fatalf("reply chance = %v, want 0.25", cfg.ReplyChance())
	}
	if cfg.Pacing.JoinDelay.Max() != 2*time.Second {
		t.Fatalf("join delay max = %v, want 2s", cfg.Pacing.JoinDelay.Max())
	}
	if cfg.Pacing.ReplyDelay != DefaultReplyDelay {
		t.Fatalf("reply delay = %+v, want default %+v", cfg.Pacing.ReplyDelay, DefaultReplyDelay)
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	clearReplyEnv(t)
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearReplyEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Reply.PromptTemplate != DefaultPromptTemplate {
		t.Fatalf("prompt template = %q, want default", cfg.Reply.PromptTemplate)
	}
	if cfg.Membership.RefreshIntervalSeconds != DefaultRefreshSeconds {
		t.Fatalf("refresh interval = %d, want %d", cfg.Membership.RefreshIntervalSeconds, DefaultRefreshSeconds)
	}
	if cfg.Dispatch.MaxImageBytes != DefaultMaxImageBytes {
		t.Fatalf("max image bytes = %d, want %d", cfg.Dispatch.MaxImageBytes, DefaultMaxImageBytes)
	}
	if cfg.ReplyChance() != DefaultReplyChance {
		t.Fatalf("reply chance = %v, want %v", cfg.ReplyChance(), DefaultReplyChance)
	}
	if !cfg.StatusEnabled() {
		t.Fatal("status server should be enabled by default")
	}
}

func TestEnvOverridesAcceptLegacyNames(t *testing.T) {
	clearReplyEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("TG_REPLY_TEXT", "fallback from env")
	t.Setenv("GEMINI_PROMPT", "Legacy {text}")
	t.Setenv("PROMPT_IMAGE_TPL", "legacy image prompt")
	t.Setenv("GEMINI_KEY", "key-123")
	t.Setenv(envChannelsCSV, "/tmp/list.csv")
	t.Setenv(envReplyChance, "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Reply.FallbackText != "fallback from env" {
		t.Fatalf("fallback = %q", cfg.Reply.FallbackText)
	}
	if cfg.Reply.PromptTemplate != "Legacy {text}" {
		t.Fatalf("prompt = %q", cfg.Reply.PromptTemplate)
	}
	if cfg.Reply.ImageOnlyPrompt != "legacy image prompt" {
		t.Fatalf("image prompt = %q", cfg.Reply.ImageOnlyPrompt)
	}
	if cfg.Provider.APIKey != "key-123" {
		t.Fatalf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Targets.CSVPath != "/tmp/list.csv" {
		t.Fatalf("csv path = %q", cfg.Targets.CSVPath)
	}
	if cfg.ReplyChance() != 0.5 {
		t.Fatalf("reply chance = %v", cfg.ReplyChance())
	}
}

func TestValidateRejectsBrokenValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing placeholder",
			mutate:  func(c *Config) { c.Reply.PromptTemplate = "no placeholder" },
			wantErr: "prompt_template",
		},
		{
			name: "chance above one",
			mutate: func(c *Config) {
				chance := 1.5
				c.Dispatch.ReplyChance = &chance
			},
			wantErr: "reply_chance",
		},
		{
			name:    "inverted range",
			mutate:  func(c *Config) { c.Pacing.ReplyDelay = Range{MinSeconds: 10, MaxSeconds: 5} },
			wantErr: "pacing.reply_delay",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Pacing.MaxRepliesPerMinute = -1 },
			wantErr: "max_replies_per_minute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want it to mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
