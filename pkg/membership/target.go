package membership

import "strings"

// CleanTarget strips whitespace and the trailing colons and zero-width
// characters that tend to sneak into hand-edited lists.
func CleanTarget(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimRight(cleaned, ":\u200b\u200c\u200d\ufeff")
	return strings.TrimSpace(cleaned)
}

// InviteHash extracts the hash from a private invite link such as
// https://t.me/+AbCd or https://t.me/joinchat/AbCd.
func InviteHash(target string) (string, bool) {
	rest := strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "http://")
	if !strings.Contains(rest, "joinchat/") &&
		!strings.HasPrefix(rest, "t.me/+") &&
		!strings.HasPrefix(rest, "telegram.me/+") {
		return "", false
	}

	hash := rest[strings.LastIndex(rest, "/")+1:]
	hash = strings.TrimSpace(strings.TrimPrefix(hash, "+"))
	if hash == "" {
		return "", false
	}

	return hash, true
}
