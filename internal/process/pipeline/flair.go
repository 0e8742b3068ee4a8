package pipeline

import "strings"

// FlairTexts are the destination flair labels. An empty FlairTable disables flair.
type FlairTexts struct {
	Gaming  string
	Series  string
	General string
}

// FlairTable maps a source channel and title to a destination flair.
type FlairTable struct {
	enabled bool
	texts   FlairTexts
}

// NewFlairTable creates a lookup. When enabled is false Lookup always returns "".
func NewFlairTable(enabled bool, texts FlairTexts) FlairTable {
	return FlairTable{enabled: enabled, texts: texts}
}

// Lookup picks the flair for a post from channel with the given title.
func (f FlairTable) Lookup(channel, title string) string {
	if !f.enabled {
		return ""
	}

	switch strings.ToLower(strings.TrimPrefix(channel, "r/")) {
	case "gaming":
		return f.texts.Gaming
	case "funny", "comics":
		return f.texts.General
	case "rimworld":
		if strings.Contains(title, "#") {
			return f.texts.Series
		}

		return f.texts.General
	default:
		return f.texts.General
	}
}
