// Package pipeline is the publish orchestrator: it takes one inbound item at a
// time through filtering, dedup, publishing with retries, state updates and
// the context reply.
//
// A Pipeline is not safe for concurrent use. Items must be processed one at
// a time so the ledger check and the ledger write for an item complete before
// the next item is checked.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	"github.com/lueurxax/edit-relay/internal/core/links/linkextract"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
	"github.com/lueurxax/edit-relay/internal/platform/worker"
	"github.com/lueurxax/edit-relay/internal/process/dedup"
	"github.com/lueurxax/edit-relay/internal/process/filters"
	"github.com/lueurxax/edit-relay/internal/process/retry"
)

// ErrPublishAbandoned marks a candidate given up on after its retry budget or
// an unclassified failure. The item loop continues.
var ErrPublishAbandoned = errors.New("publish abandoned")

// Backend is the destination platform as seen by the orchestrator.
type Backend interface {
	ResolveParent(ctx context.Context, item domain.InboundItem) (domain.ParentRef, error)
	Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionRef, error)
	MarkNSFW(ctx context.Context, ref domain.SubmissionRef) error
	RecentPosts(ctx context.Context, limit int) ([]domain.RecentPost, error)
}

// FilterSource yields the current approved and ignored sets.
type FilterSource interface {
	MaybeRefresh(now time.Time) filters.Snapshot
}

// Notifier sends short operator messages. Failures are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Backend    Backend
	Classifier *filters.Classifier
	Filters    FilterSource
	Ledger     *dedup.Ledger
	Checkpoint *dedup.Checkpoint
	Replies    ContextPoster
	Notifier   Notifier
	Logger     *zerolog.Logger
}

// Options tune a Pipeline. Zero values pick production defaults.
type Options struct {
	Policy           retry.Policy
	Sleep            worker.SleepFunc
	Now              func() time.Time
	RecentPostsLimit int
	Context          ContextOptions
	Flair            FlairTable
}

// Publication is one successfully published candidate.
type Publication struct {
	URL     string
	Ref     domain.SubmissionRef
	Adopted bool // found on the destination after an ambiguous submit
}

// Outcome reports where an item ended up.
type Outcome struct {
	ItemID        string
	CorrelationID string
	State         State
	Reason        string
	Published     []Publication
	Abandoned     []string
}

// Pipeline is the publish orchestrator.
type Pipeline struct {
	backend    Backend
	classifier *filters.Classifier
	filters    FilterSource
	ledger     *dedup.Ledger
	checkpoint *dedup.Checkpoint
	replies    ContextPoster
	notifier   Notifier
	logger     *zerolog.Logger

	policy      retry.Policy
	sleep       worker.SleepFunc
	now         func() time.Time
	recentLimit int
	contextOpts ContextOptions
	flair       FlairTable

	// runSet holds URLs known to be on the destination during this run:
	// our own publishes plus whatever SyncDestination has seen.
	runSet map[string]struct{}
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	p := &Pipeline{
		backend:     deps.Backend,
		classifier:  deps.Classifier,
		filters:     deps.Filters,
		ledger:      deps.Ledger,
		checkpoint:  deps.Checkpoint,
		replies:     deps.Replies,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		policy:      opts.Policy.WithDefaults(),
		sleep:       opts.Sleep,
		now:         opts.Now,
		recentLimit: opts.RecentPostsLimit,
		contextOpts: opts.Context,
		flair:       opts.Flair,
		runSet:      make(map[string]struct{}),
	}

	if p.sleep == nil {
		p.sleep = worker.Wait
	}

	if p.now == nil {
		p.now = time.Now
	}

	if p.recentLimit <= 0 {
		p.recentLimit = DefaultRecentPostsLimit
	}

	if p.classifier == nil {
		p.classifier = filters.NewClassifier(nil, nil)
	}

	if p.logger == nil {
		nop := zerolog.Nop()
		p.logger = &nop
	}

	return p
}

// Process runs one item through the state machine. A non-nil error means the
// caller must stop or restart: either an invariant was violated (fatal) or a
// lookup failed transiently and the item should be replayed.
func (p *Pipeline) Process(ctx context.Context, item domain.InboundItem) (Outcome, error) {
	out := Outcome{
		ItemID:        item.ID,
		CorrelationID: uuid.New().String(),
		State:         StateReceived,
	}

	logger := p.logger.With().
		Str(LogFieldCorrelationID, out.CorrelationID).
		Str(LogFieldItemID, item.ID).
		Str(LogFieldChannel, item.Channel).
		Logger()

	snapshot := currentSnapshot(p.filters, p.now())

	if reason := p.skipReason(item, snapshot); reason != "" {
		p.finish(&out, StateFilteredOut, reason)
		logger.Debug().Str("reason", reason).Msg("item filtered out")

		return out, nil
	}

	candidates, sawDuplicate := p.selectCandidates(item, snapshot, logger)
	if len(candidates) == 0 {
		if sawDuplicate {
			p.finish(&out, StateDupSkipped, filters.ReasonDuplicate)
		} else {
			p.finish(&out, StateFilteredOut, filters.ReasonNoCandidate)
		}

		return out, nil
	}

	out.State = StateCandidateFound

	parent, err := p.backend.ResolveParent(ctx, item)
	if err != nil {
		return p.handleResolveError(ctx, &out, logger, err)
	}

	title := BuildTitle(parent)

	for _, c := range candidates {
		pub, err := p.publishCandidate(ctx, logger, item, parent, title, c)
		if err != nil {
			if errors.Is(err, ErrPublishAbandoned) {
				out.Abandoned = append(out.Abandoned, c.URL)
				continue
			}

			return out, err
		}

		out.Published = append(out.Published, pub)
	}

	if len(out.Published) == 0 {
		p.finish(&out, StateFailedPermanent, statusAbandon)
		return out, nil
	}

	p.finish(&out, StateContextPosted, "")

	return out, nil
}

func currentSnapshot(src FilterSource, now time.Time) filters.Snapshot {
	if src == nil {
		return filters.Snapshot{}
	}

	return src.MaybeRefresh(now)
}

func (p *Pipeline) finish(out *Outcome, state State, reason string) {
	out.State = state
	out.Reason = reason

	observability.ItemsProcessed.WithLabelValues(string(state)).Inc()

	if reason != "" && (state == StateFilteredOut || state == StateDupSkipped) {
		observability.DropsTotal.WithLabelValues(reason).Inc()
	}
}

func (p *Pipeline) skipReason(item domain.InboundItem, snapshot filters.Snapshot) string {
	switch {
	case snapshot.ShouldIgnore(item.Channel):
		return filters.ReasonIgnoredChannel
	case p.checkpoint != nil && p.checkpoint.Covers(item.CreatedAt):
		return filters.ReasonCheckpoint
	case p.classifier.HasTemplateMarker(item.Body):
		return filters.ReasonTemplate
	default:
		return ""
	}
}

// selectCandidates returns the qualifying links in body order, each URL once.
func (p *Pipeline) selectCandidates(item domain.InboundItem, snapshot filters.Snapshot, logger zerolog.Logger) ([]domain.LinkCandidate, bool) {
	var (
		selected     []domain.LinkCandidate
		sawDuplicate bool
		chosen       = make(map[string]struct{})
	)

	for _, c := range linkextract.ExtractLinks(item.Body) {
		if !p.classifier.IsImageLink(c.URL) || !snapshot.IsApproved(c.AnchorText) {
			continue
		}

		key := dedup.EscapeASCII(c.URL)
		_, picked := chosen[key]

		if picked || p.isKnown(c.URL) {
			sawDuplicate = true

			logger.Debug().Str(LogFieldURL, c.URL).Msg("candidate already published")

			continue
		}

		chosen[key] = struct{}{}
		selected = append(selected, c)
	}

	return selected, sawDuplicate
}

func (p *Pipeline) isKnown(url string) bool {
	if p.ledger != nil && p.ledger.Contains(url) {
		return true
	}

	_, ok := p.runSet[dedup.EscapeASCII(url)]

	return ok
}

func (p *Pipeline) handleResolveError(ctx context.Context, out *Outcome, logger zerolog.Logger, err error) (Outcome, error) {
	d := p.policy.Classify(err, 1)

	logger.Warn().Err(err).Str(LogFieldClass, string(d.Class)).Msg("resolve parent failed")

	switch d.Action {
	case retry.AbortItem:
		p.finish(out, StateFailedPermanent, string(d.Class))
		p.notify(ctx, logger, fmt.Sprintf("Could not resolve parent of %s: %v", out.ItemID, err))

		return *out, nil
	default:
		return *out, fmt.Errorf("resolve parent of %s: %w", out.ItemID, err)
	}
}

func (p *Pipeline) notify(ctx context.Context, logger zerolog.Logger, text string) {
	if p.notifier == nil {
		return
	}

	if err := p.notifier.Notify(ctx, text); err != nil {
		logger.Warn().Err(err).Msg("operator notification failed")
	}
}
