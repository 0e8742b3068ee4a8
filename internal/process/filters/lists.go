package filters

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

const (
	listApproved = "approved_texts"
	listIgnored  = "ignored_channels"
)

type listFile struct {
	name      string
	path      string
	normalize func(string) string
	modTime   time.Time
	entries   map[string]struct{}
}

// Lists keeps the approved-text and ignored-channel sets in memory and reloads
// each one when its backing file changes. A failed read never clears a set.
type Lists struct {
	approved  *listFile
	ignored   *listFile
	interval  time.Duration
	lastCheck time.Time
	logger    *zerolog.Logger
}

// NewLists creates Lists backed by the two files. interval throttles
// MaybeRefresh; zero checks on every call.
func NewLists(approvedPath, ignoredPath string, interval time.Duration, logger *zerolog.Logger) *Lists {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Lists{
		approved: &listFile{
			name:      listApproved,
			path:      approvedPath,
			normalize: NormalizeAnchor,
			entries:   map[string]struct{}{},
		},
		ignored: &listFile{
			name:      listIgnored,
			path:      ignoredPath,
			normalize: normalizeChannel,
			entries:   map[string]struct{}{},
		},
		interval: interval,
		logger:   logger,
	}
}

// Load reads both files. A missing or unreadable file leaves that set empty.
func (l *Lists) Load() Snapshot {
	for _, f := range []*listFile{l.approved, l.ignored} {
		if err := l.reload(f, true); err != nil {
			l.logger.Warn().Err(err).Str("list", f.name).Str("path", f.path).Msg("filter list not loaded")
		}
	}

	l.lastCheck = time.Now()

	return l.Current()
}

// MaybeRefresh reloads any file whose modification time moved forward since
// it was last read. It is a no-op until the refresh interval has elapsed.
func (l *Lists) MaybeRefresh(now time.Time) Snapshot {
	if l.interval > 0 && !l.lastCheck.IsZero() && now.Sub(l.lastCheck) < l.interval {
		return l.Current()
	}

	l.lastCheck = now

	for _, f := range []*listFile{l.approved, l.ignored} {
		if err := l.reload(f, false); err != nil {
			l.logger.Debug().Err(err).Str("list", f.name).Msg("filter list refresh skipped")
		}
	}

	return l.Current()
}

// Current returns the in-memory snapshot without touching the files.
func (l *Lists) Current() Snapshot {
	return Snapshot{
		ApprovedTexts:   l.approved.entries,
		IgnoredChannels: l.ignored.entries,
	}
}

func (l *Lists) reload(f *listFile, force bool) error {
	if f.path == "" {
		return nil
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.name, err)
	}

	if !force && !info.ModTime().After(f.modTime) {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.name, err)
	}

	entries, err := parseList(data, f.normalize)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.name, err)
	}

	f.entries = entries
	f.modTime = info.ModTime()

	observability.FilterReloads.WithLabelValues(f.name).Inc()
	observability.FilterListSize.WithLabelValues(f.name).Set(float64(len(entries)))

	l.logger.Info().Str("list", f.name).Int("entries", len(entries)).Msg("filter list loaded")

	return nil
}

func parseList(data []byte, normalize func(string) string) (map[string]struct{}, error) {
	entries := make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if key := normalize(line); key != "" {
			entries[key] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan list: %w", err)
	}

	return entries, nil
}
