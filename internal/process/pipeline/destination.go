package pipeline

import (
	"context"
	"fmt"

	"github.com/lueurxax/edit-relay/internal/platform/observability"
	"github.com/lueurxax/edit-relay/internal/process/dedup"
)

// SyncDestination adds the URLs of the destination's recent posts to the
// run set, so an image someone else already posted there is skipped. These
// URLs are not written to the ledger.
func (p *Pipeline) SyncDestination(ctx context.Context) error {
	posts, err := p.backend.RecentPosts(ctx, p.recentLimit)
	if err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}

	added := 0

	for _, post := range posts {
		if post.URL == "" {
			continue
		}

		key := dedup.EscapeASCII(post.URL)
		if _, ok := p.runSet[key]; ok {
			continue
		}

		p.runSet[key] = struct{}{}
		added++
	}

	observability.DestinationPostsSeen.Set(float64(len(p.runSet)))

	p.logger.Debug().Int("posts", len(posts)).Int("added", added).Msg("destination synced")

	return nil
}

// KnownURLs returns the size of the run set.
func (p *Pipeline) KnownURLs() int {
	return len(p.runSet)
}
