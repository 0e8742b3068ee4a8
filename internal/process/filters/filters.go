// Package filters decides which links found in the watched account's comments
// qualify for republication.
//
// The package provides:
//   - Image link detection by host and file extension
//   - Approved anchor text matching (case-folded, punctuation-trimmed)
//   - Ignored source channel matching
//   - Template/test artifact detection
//   - Hot-reloadable list files backing the approved and ignored sets
package filters

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
)

const (
	ReasonIgnoredChannel = "filter_ignored_channel"
	ReasonCheckpoint     = "filter_checkpoint"
	ReasonTemplate       = "filter_template"
	ReasonNoCandidate    = "filter_no_candidate"
	ReasonDuplicate      = "filter_duplicate"
)

// DefaultImageHost is the platform's native image host.
const DefaultImageHost = "i.redd.it"

// anchorTrimSet is stripped from both ends of anchor text before matching.
const anchorTrimSet = " \t\r\n.,:;!?*_~\"'`()[]-"

var imageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
}

// Classifier holds the static part of the filtering rules.
type Classifier struct {
	imageHosts      []string
	templateMarkers []string
}

// NewClassifier creates a Classifier. An empty host list falls back to DefaultImageHost.
func NewClassifier(imageHosts, templateMarkers []string) *Classifier {
	hosts := make([]string, 0, len(imageHosts))

	for _, h := range imageHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}

	if len(hosts) == 0 {
		hosts = []string{DefaultImageHost}
	}

	markers := make([]string, 0, len(templateMarkers))

	for _, m := range templateMarkers {
		m = strings.TrimSpace(m)
		if m != "" {
			markers = append(markers, fold(m))
		}
	}

	return &Classifier{
		imageHosts:      hosts,
		templateMarkers: markers,
	}
}

// IsImageLink reports whether raw points at an image: either it is hosted on a
// native image host or its path ends in a known image extension.
func (c *Classifier) IsImageLink(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, h := range c.imageHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}

	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return false
	}

	_, ok := imageExtensions[strings.ToLower(ext)]

	return ok
}

// HasTemplateMarker reports whether body carries one of the configured
// template/test markers.
func (c *Classifier) HasTemplateMarker(body string) bool {
	if len(c.templateMarkers) == 0 {
		return false
	}

	folded := fold(body)
	for _, m := range c.templateMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}

	return false
}

// Snapshot is an immutable view of the externally maintained lists.
type Snapshot struct {
	ApprovedTexts   map[string]struct{}
	IgnoredChannels map[string]struct{}
}

// IsApproved reports whether anchor text, once normalized, is on the approved list.
func (s Snapshot) IsApproved(anchor string) bool {
	key := NormalizeAnchor(anchor)
	if key == "" {
		return false
	}

	_, ok := s.ApprovedTexts[key]

	return ok
}

// ShouldIgnore reports whether items from channel must be skipped.
func (s Snapshot) ShouldIgnore(channel string) bool {
	_, ok := s.IgnoredChannels[normalizeChannel(channel)]
	return ok
}

// NormalizeAnchor case-folds text and trims surrounding punctuation and whitespace.
func NormalizeAnchor(text string) string {
	return strings.Trim(fold(text), anchorTrimSet)
}

func normalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(strings.ToLower(name), "r/")

	return fold(name)
}

// fold builds a fresh Caser per call; a Caser must not be shared between goroutines.
func fold(s string) string {
	return cases.Fold().String(s)
}
