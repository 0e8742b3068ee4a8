package dedup

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

// CheckpointStore persists the single checkpoint timestamp.
// LoadCheckpoint returns the zero time when nothing has been saved.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context) (time.Time, error)
	SaveCheckpoint(ctx context.Context, t time.Time) error
}

// Checkpoint is the timestamp at or before which items are treated as
// already processed. It never moves backwards.
type Checkpoint struct {
	store CheckpointStore
	value time.Time
}

// LoadCheckpoint reads the persisted checkpoint once at startup.
func LoadCheckpoint(ctx context.Context, store CheckpointStore) (*Checkpoint, error) {
	t, err := store.LoadCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	c := &Checkpoint{store: store, value: t.UTC()}
	c.publish()

	return c, nil
}

// Value returns the current checkpoint.
func (c *Checkpoint) Value() time.Time {
	return c.value
}

// Covers reports whether t is at or before the checkpoint.
func (c *Checkpoint) Covers(t time.Time) bool {
	return !t.After(c.value)
}

// Advance durably replaces the checkpoint with t. Moving backwards is a
// programming error and returns ErrCheckpointRegression without writing.
func (c *Checkpoint) Advance(ctx context.Context, t time.Time) error {
	t = t.UTC()

	if t.Before(c.value) {
		return fmt.Errorf("%w: %w: %s < %s", apperrors.ErrInvariantViolation, apperrors.ErrCheckpointRegression,
			t.Format(time.RFC3339Nano), c.value.Format(time.RFC3339Nano))
	}

	if t.Equal(c.value) {
		return nil
	}

	if err := c.store.SaveCheckpoint(ctx, t); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	c.value = t
	c.publish()

	return nil
}

func (c *Checkpoint) publish() {
	if c.value.IsZero() {
		observability.CheckpointUnixSeconds.Set(0)
		return
	}

	observability.CheckpointUnixSeconds.Set(float64(c.value.Unix()))
}
