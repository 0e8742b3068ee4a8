package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
	"github.com/lueurxax/edit-relay/internal/platform/worker"
)

const defaultReplyQueueSize = 64

// ReplyBackend attaches a comment to a published post.
type ReplyBackend interface {
	Reply(ctx context.Context, ref domain.SubmissionRef, body string) error
}

// ContextReply is one pending context comment.
type ContextReply struct {
	ItemID string
	URL    string
	Ref    domain.SubmissionRef
	Body   string
}

// ContextPoster delivers context replies. Replier posts inline; ReplyQueue
// hands off to a background goroutine.
type ContextPoster interface {
	PostContext(ctx context.Context, reply ContextReply) error
}

// Replier posts a context reply, retrying every failure after a fixed wait
// until it succeeds or ctx is canceled.
type Replier struct {
	backend ReplyBackend
	wait    time.Duration
	sleep   worker.SleepFunc
	logger  *zerolog.Logger
}

// NewReplier creates a Replier. A nil sleep uses worker.Wait.
func NewReplier(backend ReplyBackend, wait time.Duration, sleep worker.SleepFunc, logger *zerolog.Logger) *Replier {
	if sleep == nil {
		sleep = worker.Wait
	}

	return &Replier{backend: backend, wait: wait, sleep: sleep, logger: logger}
}

// PostContext blocks until the reply is posted.
func (r *Replier) PostContext(ctx context.Context, reply ContextReply) error {
	for attempt := 1; ; attempt++ {
		err := r.backend.Reply(ctx, reply.Ref, reply.Body)
		if err == nil {
			observability.ReplyAttempts.WithLabelValues(statusSuccess).Inc()

			r.logger.Info().
				Str(LogFieldItemID, reply.ItemID).
				Str(LogFieldSubmission, reply.Ref.ID).
				Int(LogFieldAttempt, attempt).
				Msg("context reply posted")

			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("post context for %s: %w", reply.Ref.ID, ctx.Err())
		}

		observability.ReplyAttempts.WithLabelValues(statusReplyErr).Inc()

		r.logger.Warn().Err(err).
			Str(LogFieldItemID, reply.ItemID).
			Str(LogFieldURL, reply.URL).
			Str(LogFieldSubmission, reply.Ref.ID).
			Int(LogFieldAttempt, attempt).
			Dur("wait", r.wait).
			Msg("context reply failed, retrying")

		if err := r.sleep(ctx, r.wait); err != nil {
			return fmt.Errorf("post context for %s: %w", reply.Ref.ID, err)
		}
	}
}

// ReplyQueue decouples context replies from the item loop so a reply stuck
// in its retry loop never delays the next publish.
type ReplyQueue struct {
	replier *Replier
	queue   chan ContextReply
	logger  *zerolog.Logger
}

// NewReplyQueue creates a queue with room for size pending replies.
func NewReplyQueue(replier *Replier, size int, logger *zerolog.Logger) *ReplyQueue {
	if size <= 0 {
		size = defaultReplyQueueSize
	}

	return &ReplyQueue{
		replier: replier,
		queue:   make(chan ContextReply, size),
		logger:  logger,
	}
}

// PostContext enqueues reply. It blocks only while the queue is full.
func (q *ReplyQueue) PostContext(ctx context.Context, reply ContextReply) error {
	select {
	case q.queue <- reply:
		observability.ReplyQueueDepth.Set(float64(len(q.queue)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue context reply: %w", ctx.Err())
	}
}

// Run posts queued replies one at a time until ctx is canceled. Replies still
// pending at shutdown are logged so they can be posted by hand.
func (q *ReplyQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return fmt.Errorf("reply queue: %w", ctx.Err())
		case reply := <-q.queue:
			observability.ReplyQueueDepth.Set(float64(len(q.queue)))

			if err := q.replier.PostContext(ctx, reply); err != nil {
				q.logger.Error().Err(err).
					Str(LogFieldItemID, reply.ItemID).
					Str(LogFieldSubmission, reply.Ref.ID).
					Str("permalink", reply.Ref.Permalink).
					Msg("context reply not posted")
			}
		}
	}
}

// Pending returns the number of queued replies.
func (q *ReplyQueue) Pending() int {
	return len(q.queue)
}

func (q *ReplyQueue) drain() {
	for {
		select {
		case reply := <-q.queue:
			q.logger.Error().
				Str(LogFieldItemID, reply.ItemID).
				Str(LogFieldSubmission, reply.Ref.ID).
				Str("permalink", reply.Ref.Permalink).
				Msg("context reply dropped at shutdown")
		default:
			observability.ReplyQueueDepth.Set(0)
			return
		}
	}
}
