package pipeline

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	"github.com/lueurxax/edit-relay/internal/core/links/linkextract"
)

// SanitizeTitle reduces s to printable ASCII: accents are folded onto their
// base letter, everything else outside ASCII is dropped, and the result is
// capped at 300 bytes.
func SanitizeTitle(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(dropFromTitle)),
	)

	out, _, err := transform.String(t, s)
	if err != nil {
		out = asciiOnly(s)
	}

	out = strings.Join(strings.Fields(out), " ")

	if len(out) > maxTitleLength {
		out = strings.TrimSpace(out[:maxTitleLength])
	}

	return out
}

func dropFromTitle(r rune) bool {
	return r > unicode.MaxASCII || (unicode.IsControl(r) && !unicode.IsSpace(r))
}

func asciiOnly(s string) string {
	var b strings.Builder

	for _, r := range s {
		if !dropFromTitle(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// BuildTitle derives the destination post title from the item's parent.
func BuildTitle(parent domain.ParentRef) string {
	switch p := parent.(type) {
	case domain.PostParent:
		if title := SanitizeTitle(p.Title); title != "" {
			return title
		}

		return fmt.Sprintf(editTitleFormat, mysteryUser)
	case domain.CommentParent:
		author := p.Author
		if author == "" {
			author = mysteryUser
		}

		return SanitizeTitle(fmt.Sprintf(editTitleFormat, author))
	default:
		return fmt.Sprintf(editTitleFormat, mysteryUser)
	}
}

// ContextOptions tunes BuildContextReply.
type ContextOptions struct {
	WatchedUser string
	Footer      string
}

// BuildContextReply composes the reply attached to a published post.
func BuildContextReply(item domain.InboundItem, parent domain.ParentRef, opts ContextOptions) string {
	var (
		text    string
		author  string
		mention = mentionFormat
		nsfw    = item.NSFW
	)

	switch p := parent.(type) {
	case domain.PostParent:
		text = p.Title
		author = p.Author
		mention = postMentionFormat
		nsfw = nsfw || p.NSFW
	case domain.CommentParent:
		text = linkextract.StripLinks(p.Body)
		author = p.Author
		nsfw = nsfw || p.SubmissionNSFW
	}

	text = strings.NewReplacer("[", "(", "]", ")").Replace(text)

	parts := make([]string, 0, 4)
	if nsfw {
		parts = append(parts, nsfwBanner)
	}

	permalink := ""
	if parent != nil {
		permalink = parent.ParentPermalink()
	}

	parts = append(parts, fmt.Sprintf(contextFormat, text, permalink))

	if author != "" && !strings.EqualFold(author, opts.WatchedUser) {
		parts = append(parts, fmt.Sprintf(mention, author))
	}

	if footer := strings.TrimSpace(opts.Footer); footer != "" {
		parts = append(parts, footer)
	}

	return strings.Join(parts, "\n\n")
}
