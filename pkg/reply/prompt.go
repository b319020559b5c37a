package reply

import (
	"strings"
	"unicode/utf8"

	"replybot/pkg/config"
)

// BuildPrompt selects and fills the prompt for a post. hasImage switches in
// the image prompt; with both text and image the two prompts are joined.
func BuildPrompt(cfg config.ReplyConfig, text string, hasImage bool) string {
	text = strings.TrimSpace(text)

	var textPrompt string
	if text != "" {
		textPrompt = strings.ReplaceAll(cfg.PromptTemplate, config.TextPlaceholder, truncateRunes(text, cfg.MaxTextRunes))
	}

	switch {
	case hasImage && textPrompt == "":
		return cfg.ImageOnlyPrompt
	case hasImage:
		return cfg.ImageOnlyPrompt + "\n\n" + textPrompt
	default:
		return textPrompt
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := 0
	for i := range s {
		if runes == limit {
			return s[:i]
		}
		runes++
	}

	return s
}

// Normalize collapses whitespace runs into single spaces and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
