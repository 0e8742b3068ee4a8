// Package linkextract finds markdown links in comment bodies and strips them
// back to plain prose.
package linkextract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/lueurxax/edit-relay/internal/core/domain"
)

// markdownLinkRegex matches "[anchor](url)" on a single line, shortest match first.
var markdownLinkRegex = regexp.MustCompile(`\[([^\]\r\n]*?)\]\(([^)\r\n]+?)\)`)

const (
	lineJoin      = ". "
	trailingSlash = `\/`
)

// punctuationFixes repairs the doubled punctuation created when newlines are
// replaced with lineJoin.
var punctuationFixes = strings.NewReplacer(
	". . ", ". ",
	"..", ".",
	"?.", "?",
	"!.", "!",
)

// ExtractLinks returns every well-formed link in body, in order of appearance.
// Links whose target is not an absolute http(s) URL are skipped.
func ExtractLinks(body string) []domain.LinkCandidate {
	matches := markdownLinkRegex.FindAllStringSubmatch(body, -1)

	var candidates []domain.LinkCandidate

	for _, match := range matches {
		target := strings.TrimSpace(match[2])
		if !isAbsoluteHTTP(target) {
			continue
		}

		candidates = append(candidates, domain.LinkCandidate{
			AnchorText: match[1],
			URL:        target,
		})
	}

	return candidates
}

// StripLinks replaces every link with its anchor text, joins lines into one
// sentence run and cleans the punctuation that joining leaves behind.
// The result is a fixpoint: StripLinks(StripLinks(s)) == StripLinks(s).
func StripLinks(body string) string {
	current := body

	for {
		next := stripOnce(current)
		if next == current {
			return next
		}

		current = next
	}
}

func stripOnce(text string) string {
	text = markdownLinkRegex.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\n", lineJoin)
	text = punctuationFixes.Replace(text)
	text = strings.TrimSpace(text)

	return strings.TrimRight(text, trailingSlash)
}

func isAbsoluteHTTP(raw string) bool {
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
