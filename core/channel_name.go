package core

import "strings"

const maxChannelNameLength = 21

// NormalizeChannelName maps arbitrary input onto the channel provider's
// naming rules: at most 21 characters, lowercase, leading '#' stripped,
// spaces become hyphens, anything outside [a-z0-9_-] becomes an
// underscore, and runs of '-' or '_' collapse to a single character.
// The function is total and idempotent; empty input maps to empty output.
func NormalizeChannelName(raw string) string {
	if raw == "" {
		return ""
	}
	if runes := []rune(raw); len(runes) > maxChannelNameLength {
		raw = string(runes[:maxChannelNameLength])
	}
	raw = strings.ReplaceAll(raw, " ", "-")
	raw = strings.ToLower(raw)
	raw = strings.TrimLeft(raw, "#")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}
