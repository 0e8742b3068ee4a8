package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lueurxax/edit-relay/internal/process/pipeline"
)

// statusBoard is the relay state the operator bot reports. The item loop
// writes it and the bot goroutine reads it.
type statusBoard struct {
	mu         sync.Mutex
	published  int
	failed     int
	known      int
	checkpoint time.Time
	lastItem   string
	lastState  pipeline.State
}

func newStatusBoard(ledgerSize int, checkpoint time.Time) *statusBoard {
	return &statusBoard{published: ledgerSize, checkpoint: checkpoint}
}

func (s *statusBoard) observe(out pipeline.Outcome, known int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published += len(out.Published)
	s.known = known
	s.lastItem = out.ItemID
	s.lastState = out.State

	if out.State == pipeline.StateFailedPermanent {
		s.failed++
	}
}

func (s *statusBoard) setKnown(known int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.known = known
}

func (s *statusBoard) advance(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.After(s.checkpoint) {
		s.checkpoint = t
	}
}

func (s *statusBoard) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder

	fmt.Fprintf(&b, "published: %d\n", s.published)
	fmt.Fprintf(&b, "failed: %d\n", s.failed)
	fmt.Fprintf(&b, "known on destination: %d\n", s.known)

	if s.checkpoint.IsZero() {
		b.WriteString("checkpoint: none")
	} else {
		fmt.Fprintf(&b, "checkpoint: %s", s.checkpoint.UTC().Format(time.RFC3339))
	}

	if s.lastItem != "" {
		fmt.Fprintf(&b, "\nlast item: %s (%s)", s.lastItem, s.lastState)
	}

	return b.String()
}
