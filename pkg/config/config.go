package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envConfigPath       = "REPLYBOT_CONFIG"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envChannelsCSV      = "CHANNELS_CSV"
	envLogFile          = "LOG_FILE"
	envReplyChance      = "REPLY_CHANCE"
)

// TextPlaceholder is replaced by the post text inside the prompt template.
const TextPlaceholder = "{text}"

// Config is the root runtime configuration.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Targets    TargetsConfig    `json:"targets"`
	Provider   ProviderConfig   `json:"provider"`
	Reply      ReplyConfig      `json:"reply"`
	Pacing     PacingConfig     `json:"pacing"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Membership MembershipConfig `json:"membership"`
	Status     StatusConfig     `json:"status"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	File      string `json:"file,omitempty"`
}

// TelegramConfig configures the Telegram chat client.
type TelegramConfig struct {
	Token                 string `json:"token"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`

	// APIServer points at a self-hosted Bot API server.
	APIServer string `json:"api_server,omitempty"`
}

// TargetsConfig points at the channel list source.
type TargetsConfig struct {
	CSVPath string `json:"csv_path"`
}

// ProviderConfig selects and configures the reply generator backend.
type ProviderConfig struct {
	Backend               string  `json:"backend"`
	Model                 string  `json:"model"`
	BaseURL               string  `json:"base_url"`
	APIKeyEnv             string  `json:"api_key_env"`
	APIKey                string  `json:"-"`
	Organization          string  `json:"organization"`
	Project               string  `json:"project"`
	MaxTokens             int     `json:"max_tokens"`
	Temperature           float64 `json:"temperature"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`
}

// ReplyConfig holds prompt templates and generation limits.
type ReplyConfig struct {
	PromptTemplate  string        `json:"prompt_template"`
	ImageOnlyPrompt string        `json:"image_only_prompt"`
	FallbackText    string        `json:"fallback_text"`
	MaxTextRunes    int           `json:"max_text_runes"`
	TimeoutSeconds  float64       `json:"timeout_seconds"`
	Breaker         BreakerConfig `json:"breaker"`
}

// BreakerConfig configures the generator circuit breaker.
type BreakerConfig struct {
	MaxFailures     uint32 `json:"max_failures"`
	OpenSeconds     int    `json:"open_seconds"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// Range is an inclusive interval in seconds.
type Range struct {
	MinSeconds float64 `json:"min_seconds"`
	MaxSeconds float64 `json:"max_seconds"`
}

// Min returns the lower bound as a duration.
func (r Range) Min() time.Duration { return seconds(r.MinSeconds) }

// Max returns the upper bound as a duration.
func (r Range) Max() time.Duration { return seconds(r.MaxSeconds) }

// PacingConfig controls delays applied before outbound actions.
type PacingConfig struct {
	JoinDelay           Range   `json:"join_delay"`
	ReplyDelay          Range   `json:"reply_delay"`
	FloodMarginSeconds  float64 `json:"flood_margin_seconds"`
	MaxRepliesPerMinute float64 `json:"max_replies_per_minute"`
}

// DispatchConfig controls inbound event handling.
type DispatchConfig struct {
	ReplyChance          *float64 `json:"reply_chance,omitempty"`
	AlbumGraceSeconds    float64  `json:"album_grace_seconds"`
	MaxImageBytes        int64    `json:"max_image_bytes"`
	QueueSize            int      `json:"queue_size"`
	MaxConcurrentReplies int      `json:"max_concurrent_replies"`
	DrainTimeoutSeconds  float64  `json:"drain_timeout_seconds"`
}

// MembershipConfig controls periodic reconciliation.
type MembershipConfig struct {
	RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
}

// StatusConfig configures the health/metrics HTTP server.
type StatusConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Load reads .env, resolves the optional JSON config file, applies environment
// overrides and defaults, and validates the result.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config path taking precedence over REPLYBOT_CONFIG.
func LoadFrom(path string) (*Config, error) {
	// Values already present in the environment win over .env entries.
	_ = godotenv.Load()

	var cfg Config

	configPath, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides injects env-driven settings on top of file config.
//
// Legacy names (GEMINI_*, TG_REPLY_TEXT) are accepted as aliases.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := envFirst(envTelegramBotToken); token != "" {
		cfg.Telegram.Token = token
	}
	if path := envFirst(envChannelsCSV); path != "" {
		cfg.Targets.CSVPath = path
	}
	if model := envFirst("REPLY_MODEL", "GEMINI_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if prompt := envFirst("REPLY_PROMPT", "GEMINI_PROMPT"); prompt != "" {
		cfg.Reply.PromptTemplate = prompt
	}
	if prompt := envFirst("REPLY_PROMPT_IMAGE", "GEMINI_PROMPT_IMAGE", "PROMPT_IMAGE_TPL"); prompt != "" {
		cfg.Reply.ImageOnlyPrompt = prompt
	}
	if fallback := envFirst("REPLY_FALLBACK_TEXT", "TG_REPLY_TEXT"); fallback != "" {
		cfg.Reply.FallbackText = fallback
	}
	if file := envFirst(envLogFile); file != "" {
		cfg.Logging.File = file
	}
	if raw := envFirst(envReplyChance); raw != "" {
		if chance, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Dispatch.ReplyChance = &chance
		}
	}

	apiKeyEnv := strings.TrimSpace(cfg.Provider.APIKeyEnv)
	if apiKeyEnv != "" {
		cfg.Provider.APIKey = envFirst(apiKeyEnv)
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = envFirst("OPENAI_API_KEY", "GEMINI_KEY")
	}
}

func envFirst(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}

	return ""
}

// findConfigPath resolves the active config file location.
//
// Precedence is the explicit path, then REPLYBOT_CONFIG, then cwd-local fallback
// paths. An empty result without error means "run on defaults and env only".
func findConfigPath(explicit string) (string, error) {
	if value := strings.TrimSpace(explicit); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("config path does not point to a file: %s", value)
	}

	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}

// Validate reports configuration values that would break the runtime contracts.
func (c *Config) Validate() error {
	var errs []error

	if !strings.Contains(c.Reply.PromptTemplate, TextPlaceholder) {
		errs = append(errs, fmt.Errorf("reply.prompt_template must contain %s", TextPlaceholder))
	}
	if strings.TrimSpace(c.Reply.FallbackText) == "" {
		errs = append(errs, errors.New("reply.fallback_text must not be empty"))
	}
	if c.Reply.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("reply.timeout_seconds must be greater than zero"))
	}
	if chance := c.ReplyChance(); chance < 0 || chance > 1 {
		errs = append(errs, fmt.Errorf("dispatch.reply_chance must be within [0,1], got %v", chance))
	}
	if err := validateRange("pacing.join_delay", c.Pacing.JoinDelay); err != nil {
		errs = append(errs, err)
	}
	if err := validateRange("pacing.reply_delay", c.Pacing.ReplyDelay); err != nil {
		errs = append(errs, err)
	}
	if c.Pacing.MaxRepliesPerMinute < 0 {
		errs = append(errs, errors.New("pacing.max_replies_per_minute must not be negative"))
	}
	if c.Membership.RefreshIntervalSeconds <= 0 {
		errs = append(errs, errors.New("membership.refresh_interval_seconds must be greater than zero"))
	}

	return errors.Join(errs...)
}

func validateRange(name string, r Range) error {
	if r.MinSeconds < 0 || r.MaxSeconds < 0 {
		return fmt.Errorf("%s must not be negative", name)
	}
	if r.MinSeconds > r.MaxSeconds {
		return fmt.Errorf("%s min_seconds (%v) exceeds max_seconds (%v)", name, r.MinSeconds, r.MaxSeconds)
	}

	return nil
}

// ReplyChance returns the configured probability of answering a post.
func (c *Config) ReplyChance() float64 {
	if c.Dispatch.ReplyChance == nil {
		return DefaultReplyChance
	}

	return *c.Dispatch.ReplyChance
}

// StatusEnabled reports whether the status server should run.
func (c *Config) StatusEnabled() bool {
	if c.Status.Enabled == nil {
		return true
	}

	return *c.Status.Enabled
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// Seconds converts a fractional seconds setting into a duration.
func Seconds(value float64) time.Duration {
	return seconds(value)
}
