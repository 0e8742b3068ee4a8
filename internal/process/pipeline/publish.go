package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
	"github.com/lueurxax/edit-relay/internal/process/dedup"
	"github.com/lueurxax/edit-relay/internal/process/retry"
)

// publishCandidate takes one candidate from PUBLISHING to CONTEXT_POSTED.
func (p *Pipeline) publishCandidate(ctx context.Context, logger zerolog.Logger, item domain.InboundItem, parent domain.ParentRef, title string, c domain.LinkCandidate) (Publication, error) {
	logger = logger.With().Str(LogFieldURL, c.URL).Logger()

	sub := domain.Submission{
		Title:     title,
		URL:       c.URL,
		FlairText: p.flair.Lookup(item.Channel, title),
	}

	logger.Info().Str("title", title).Msg("publishing candidate")

	started := time.Now()

	pub, err := p.submitWithRetry(ctx, logger, sub)
	if err != nil {
		if errors.Is(err, ErrPublishAbandoned) {
			observability.PublishesTotal.WithLabelValues(statusFailed).Inc()
			logger.Error().Err(err).Msg("candidate abandoned")
			p.notify(ctx, logger, fmt.Sprintf("Failed to publish %s from %s: %v", c.URL, item.ID, err))
		}

		return Publication{}, err
	}

	observability.PublishDuration.Observe(time.Since(started).Seconds())

	if pub.Adopted {
		observability.PublishesTotal.WithLabelValues(statusAdopted).Inc()
	} else {
		observability.PublishesTotal.WithLabelValues(statusSuccess).Inc()
	}

	if err := p.recordPublished(ctx, logger, item, c.URL); err != nil {
		return pub, err
	}

	logger = logger.With().Str(LogFieldSubmission, pub.Ref.ID).Logger()
	logger.Info().Bool("adopted", pub.Adopted).Msg("candidate published")

	if isNSFW(item, parent) {
		if err := p.backend.MarkNSFW(ctx, pub.Ref); err != nil {
			logger.Warn().Err(err).Msg("mark nsfw failed")
		}
	}

	p.notify(ctx, logger, fmt.Sprintf("Published %q\n%s\n%s", title, c.URL, pub.Ref.Permalink))

	reply := ContextReply{
		ItemID: item.ID,
		URL:    c.URL,
		Ref:    pub.Ref,
		Body:   BuildContextReply(item, parent, p.contextOpts),
	}

	if p.replies != nil {
		if err := p.replies.PostContext(ctx, reply); err != nil {
			return pub, fmt.Errorf("context reply for %s: %w", pub.Ref.ID, err)
		}
	}

	return pub, nil
}

// recordPublished writes the ledger entry, then moves the checkpoint. A
// ledger failure is fatal; a checkpoint save failure is only logged because
// the ledger alone already prevents a second publish.
func (p *Pipeline) recordPublished(ctx context.Context, logger zerolog.Logger, item domain.InboundItem, url string) error {
	p.runSet[dedup.EscapeASCII(url)] = struct{}{}

	if p.ledger != nil {
		if err := p.ledger.Record(ctx, url); err != nil {
			return fmt.Errorf("record %s: %w", url, err)
		}
	}

	if p.checkpoint == nil || p.checkpoint.Covers(item.CreatedAt) {
		return nil
	}

	if err := p.checkpoint.Advance(ctx, item.CreatedAt); err != nil {
		if errors.Is(err, apperrors.ErrInvariantViolation) {
			return err
		}

		logger.Warn().Err(err).Time("created_at", item.CreatedAt).Msg("checkpoint not saved")
	}

	return nil
}

// submitWithRetry drives Submit through the retry controller. Rate-limit and
// validation failures share one bounded budget; server failures retry without
// bound; a transport failure is verified against the destination, retried
// once, and verified again.
func (p *Pipeline) submitWithRetry(ctx context.Context, logger zerolog.Logger, sub domain.Submission) (Publication, error) {
	var (
		transient      int
		transportRetry bool
	)

	for attempt := 1; ; attempt++ {
		ref, err := p.backend.Submit(ctx, sub)
		if err == nil {
			return Publication{URL: sub.URL, Ref: ref}, nil
		}

		d := p.policy.Classify(err, transient+1)
		if d.Class == retry.ClassRateLimit || d.Class == retry.ClassValidation {
			transient++
		}

		observability.PublishRetries.WithLabelValues(string(d.Class)).Inc()

		logger.Warn().Err(err).
			Str(LogFieldClass, string(d.Class)).
			Str("action", d.Action.String()).
			Int(LogFieldAttempt, attempt).
			Dur("wait", d.Wait).
			Msg("submit failed")

		switch d.Action {
		case retry.Retry:
			if err := p.sleep(ctx, d.Wait); err != nil {
				return Publication{}, fmt.Errorf("submit %s: %w", sub.URL, err)
			}
		case retry.Verify:
			if err := p.sleep(ctx, d.Wait); err != nil {
				return Publication{}, fmt.Errorf("submit %s: %w", sub.URL, err)
			}

			found, ok, verr := p.verifyOnDestination(ctx, logger, sub)
			if verr != nil {
				return Publication{}, verr
			}

			if ok {
				return Publication{URL: sub.URL, Ref: found, Adopted: true}, nil
			}

			if transportRetry {
				return Publication{}, fmt.Errorf("%w: %s not on destination after transport retry: %w", ErrPublishAbandoned, sub.URL, err)
			}

			transportRetry = true
		case retry.AbortItem:
			return Publication{}, fmt.Errorf("%w: %s (%s): %w", ErrPublishAbandoned, sub.URL, d.Class, err)
		default:
			return Publication{}, fmt.Errorf("submit %s: %w", sub.URL, err)
		}
	}
}

// verifyOnDestination repeats the destination lookup until it answers. A
// failed lookup leaves the outcome of the submit unknown, so it never counts
// as not found: retryable failures wait and look again, anything else
// abandons the candidate.
func (p *Pipeline) verifyOnDestination(ctx context.Context, logger zerolog.Logger, sub domain.Submission) (domain.SubmissionRef, bool, error) {
	for attempt := 1; ; attempt++ {
		ref, ok, err := p.findOnDestination(ctx, logger, sub)
		if err == nil {
			return ref, ok, nil
		}

		d := p.policy.Classify(err, attempt)

		logger.Warn().Err(err).
			Str(LogFieldClass, string(d.Class)).
			Str("action", d.Action.String()).
			Int(LogFieldAttempt, attempt).
			Dur("wait", d.Wait).
			Msg("verify lookup failed")

		switch d.Action {
		case retry.Retry, retry.Verify:
			if err := p.sleep(ctx, d.Wait); err != nil {
				return domain.SubmissionRef{}, false, fmt.Errorf("verify %s: %w", sub.URL, err)
			}
		case retry.AbortItem:
			return domain.SubmissionRef{}, false, fmt.Errorf("%w: %s outcome unknown, verify failed (%s): %w", ErrPublishAbandoned, sub.URL, d.Class, err)
		default:
			return domain.SubmissionRef{}, false, fmt.Errorf("verify %s: %w", sub.URL, err)
		}
	}
}

// findOnDestination looks for a recent destination post with the same title
// and URL.
func (p *Pipeline) findOnDestination(ctx context.Context, logger zerolog.Logger, sub domain.Submission) (domain.SubmissionRef, bool, error) {
	posts, err := p.backend.RecentPosts(ctx, p.recentLimit)
	if err != nil {
		return domain.SubmissionRef{}, false, err
	}

	for _, post := range posts {
		if post.Title != sub.Title {
			continue
		}

		if post.URL != "" && post.URL != sub.URL {
			continue
		}

		logger.Info().Str(LogFieldSubmission, post.Ref.ID).Msg("ambiguous submit found on destination")

		return post.Ref, true, nil
	}

	return domain.SubmissionRef{}, false, nil
}

func isNSFW(item domain.InboundItem, parent domain.ParentRef) bool {
	if item.NSFW {
		return true
	}

	switch p := parent.(type) {
	case domain.PostParent:
		return p.NSFW
	case domain.CommentParent:
		return p.SubmissionNSFW
	default:
		return false
	}
}
