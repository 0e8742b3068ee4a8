package reddit

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

const defaultSeenCacheSize = 4096

// CommentSource lists a user's newest comments.
type CommentSource interface {
	UserComments(ctx context.Context, user string, limit int) ([]domain.InboundItem, error)
}

// HandleFunc consumes one item. Returning an error stops the poll and leaves
// the item undelivered, so it is offered again on the next poll.
type HandleFunc func(ctx context.Context, item domain.InboundItem) error

// Stream turns repeated listing fetches into a feed of unseen comments.
type Stream struct {
	source CommentSource
	user   string
	limit  int
	seen   *lru.Cache[string, struct{}]
	logger *zerolog.Logger
}

// NewStream creates a Stream over user's comments.
func NewStream(source CommentSource, user string, limit, cacheSize int, logger *zerolog.Logger) (*Stream, error) {
	if cacheSize <= 0 {
		cacheSize = defaultSeenCacheSize
	}

	seen, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	return &Stream{
		source: source,
		user:   user,
		limit:  limit,
		seen:   seen,
		logger: logger,
	}, nil
}

// Poll fetches the latest comments and hands every unseen one to handle,
// oldest first.
func (s *Stream) Poll(ctx context.Context, handle HandleFunc) error {
	items, err := s.source.UserComments(ctx, s.user, s.limit)
	if err != nil {
		return fmt.Errorf("poll comments of %s: %w", s.user, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	delivered := 0

	for _, item := range items {
		if s.seen.Contains(item.ID) {
			continue
		}

		observability.ItemsIngested.WithLabelValues(item.Channel).Inc()

		if err := handle(ctx, item); err != nil {
			return err
		}

		s.seen.Add(item.ID, struct{}{})
		delivered++
	}

	if delivered > 0 {
		s.logger.Debug().Int("delivered", delivered).Int("fetched", len(items)).Msg("stream poll")
	}

	return nil
}

// Reset forgets every delivered id, so the next poll replays the live feed
// from its beginning.
func (s *Stream) Reset() {
	s.seen.Purge()
	observability.StreamRestarts.Inc()
}
