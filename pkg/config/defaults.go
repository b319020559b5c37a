package config

import "strings"

const (
	DefaultBackend             = "openai"
	DefaultModel               = "gpt-4o-mini"
	DefaultPromptTemplate      = "Write a comment on this post: «{text}»"
	DefaultImageOnlyPrompt     = "Write a short comment on this image without describing it."
	DefaultFallbackText        = "🤖 ..."
	DefaultReplyChance         = 1.0
	DefaultMaxTextRunes        = 2000
	DefaultTimeoutSeconds      = 30
	DefaultRefreshSeconds      = 300
	DefaultFloodMarginSeconds  = 5
	DefaultAlbumGraceSeconds   = 5
	DefaultMaxImageBytes       = 15 * 1024 * 1024
	DefaultQueueSize           = 100
	DefaultMaxConcurrent       = 4
	DefaultDrainTimeoutSeconds = 45
	DefaultCSVPath             = "channels.csv"
	DefaultStatusHost          = "127.0.0.1"
	DefaultStatusPort          = 18790
)

var (
	DefaultJoinDelay  = Range{MinSeconds: 5, MaxSeconds: 15}
	DefaultReplyDelay = Range{MinSeconds: 5, MaxSeconds: 10}
)

// ApplyDefaults fills every unset tunable with its documented default.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Provider.Backend) == "" {
		c.Provider.Backend = DefaultBackend
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		c.Provider.Model = DefaultModel
	}
	if strings.TrimSpace(c.Targets.CSVPath) == "" {
		c.Targets.CSVPath = DefaultCSVPath
	}

	if strings.TrimSpace(c.Reply.PromptTemplate) == "" {
		c.Reply.PromptTemplate = DefaultPromptTemplate
	}
	if strings.TrimSpace(c.Reply.ImageOnlyPrompt) == "" {
		c.Reply.ImageOnlyPrompt = DefaultImageOnlyPrompt
	}
	if strings.TrimSpace(c.Reply.FallbackText) == "" {
		c.Reply.FallbackText = DefaultFallbackText
	}
	if c.Reply.MaxTextRunes <= 0 {
		c.Reply.MaxTextRunes = DefaultMaxTextRunes
	}
	if c.Reply.TimeoutSeconds <= 0 {
		c.Reply.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Pacing.JoinDelay == (Range{}) {
		c.Pacing.JoinDelay = DefaultJoinDelay
	}
	if c.Pacing.ReplyDelay == (Range{}) {
		c.Pacing.ReplyDelay = DefaultReplyDelay
	}
	if c.Pacing.FloodMarginSeconds <= 0 {
		c.Pacing.FloodMarginSeconds = DefaultFloodMarginSeconds
	}

	if c.Dispatch.AlbumGraceSeconds <= 0 {
		c.Dispatch.AlbumGraceSeconds = DefaultAlbumGraceSeconds
	}
	if c.Dispatch.MaxImageBytes <= 0 {
		c.Dispatch.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}
	if c.Dispatch.MaxConcurrentReplies <= 0 {
		c.Dispatch.MaxConcurrentReplies = DefaultMaxConcurrent
	}
	if c.Dispatch.DrainTimeoutSeconds <= 0 {
		c.Dispatch.DrainTimeoutSeconds = DefaultDrainTimeoutSeconds
	}

	if c.Membership.RefreshIntervalSeconds <= 0 {
		c.Membership.RefreshIntervalSeconds = DefaultRefreshSeconds
	}

	if strings.TrimSpace(c.Status.Host) == "" {
		c.Status.Host = DefaultStatusHost
	}
	if c.Status.Port <= 0 {
		c.Status.Port = DefaultStatusPort
	}
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
