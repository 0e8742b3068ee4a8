package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lueurxax/edit-relay/internal/core/domain"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain ascii", "When you see it", "When you see it"},
		{"accents fold to base letters", "Café déjà vu", "Cafe deja vu"},
		{"emoji dropped and spaces collapsed", "Hello 👋 world", "Hello world"},
		{"cjk dropped", "日本 comic #3", "comic #3"},
		{"control characters dropped", "line\u0000one\ttwo", "lineone two"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTitle(tt.input))
		})
	}
}

func TestSanitizeTitle_CapsLength(t *testing.T) {
	got := SanitizeTitle(strings.Repeat("a", 400))

	assert.Len(t, got, maxTitleLength)
}

func TestBuildTitle(t *testing.T) {
	tests := []struct {
		name   string
		parent domain.ParentRef
		want   string
	}{
		{"post parent keeps its title", domain.PostParent{Title: "My comic #12"}, "My comic #12"},
		{"post parent title sanitized", domain.PostParent{Title: "Naïve ✨ take"}, "Naive take"},
		{"unusable post title falls back", domain.PostParent{Title: "✨✨"}, "EDIT to Mystery user"},
		{"comment parent names author", domain.CommentParent{Author: "someone"}, "EDIT to someone"},
		{"deleted author", domain.CommentParent{}, "EDIT to Mystery user"},
		{"nil parent", nil, "EDIT to Mystery user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildTitle(tt.parent))
		})
	}
}

func TestBuildContextReply(t *testing.T) {
	opts := ContextOptions{WatchedUser: "Artist"}

	tests := []struct {
		name   string
		item   domain.InboundItem
		parent domain.ParentRef
		opts   ContextOptions
		want   string
	}{
		{
			name:   "post parent quotes title",
			parent: domain.PostParent{Title: "A title", Permalink: "https://r/p"},
			opts:   opts,
			want:   "[Context for the post: A title](https://r/p)",
		},
		{
			name:   "post parent mentions its author",
			parent: domain.PostParent{Title: "A title", Author: "poster", Permalink: "https://r/p"},
			opts:   opts,
			want:   "[Context for the post: A title](https://r/p)\n\nOriginal post by /u/poster",
		},
		{
			name:   "watched account post is not mentioned",
			parent: domain.PostParent{Title: "A title", Author: "ARTIST", Permalink: "https://r/p"},
			opts:   opts,
			want:   "[Context for the post: A title](https://r/p)",
		},
		{
			name:   "comment parent strips links and mentions author",
			parent: domain.CommentParent{Body: "look [here](http://a/b)", Author: "bob", Permalink: "https://r/c"},
			opts:   opts,
			want:   "[Context for the post: look here](https://r/c)\n\nOriginal comment by /u/bob",
		},
		{
			name:   "watched account is not mentioned",
			parent: domain.CommentParent{Body: "hi", Author: "artist", Permalink: "https://r/c"},
			opts:   opts,
			want:   "[Context for the post: hi](https://r/c)",
		},
		{
			name:   "nsfw banner from item",
			item:   domain.InboundItem{NSFW: true},
			parent: domain.PostParent{Title: "t", Permalink: "https://r/p"},
			opts:   opts,
			want:   "**NSFW**\n\n[Context for the post: t](https://r/p)",
		},
		{
			name:   "nsfw banner from post parent and footer",
			parent: domain.PostParent{Title: "t", NSFW: true, Permalink: "https://r/p"},
			opts:   ContextOptions{WatchedUser: "artist", Footer: "I am a bot."},
			want:   "**NSFW**\n\n[Context for the post: t](https://r/p)\n\nI am a bot.",
		},
		{
			name:   "brackets in quoted text do not break the link",
			parent: domain.PostParent{Title: "[OC] thing", Permalink: "https://r/p"},
			opts:   opts,
			want:   "[Context for the post: (OC) thing](https://r/p)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildContextReply(tt.item, tt.parent, tt.opts))
		})
	}
}
