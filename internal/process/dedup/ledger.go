// Package dedup owns the two pieces of durable state that keep the relay from
// publishing the same content twice: the ledger of published URLs and the
// checkpoint timestamp.
//
// Neither type locks. Both are owned by the single publish worker; the
// check-then-record sequence for one item completes before the next begins.
package dedup

import (
	"context"
	"fmt"

	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

// LedgerStore is the durable, append-only backing of the ledger.
type LedgerStore interface {
	LoadPublishedURLs(ctx context.Context) ([]string, error)
	AppendPublishedURL(ctx context.Context, url string) error
}

// Ledger is the set of URLs already published. Entries are never removed.
type Ledger struct {
	store LedgerStore
	urls  map[string]struct{}
}

// NewLedger loads every persisted URL. It is called once at startup.
func NewLedger(ctx context.Context, store LedgerStore) (*Ledger, error) {
	persisted, err := store.LoadPublishedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load published urls: %w", err)
	}

	l := &Ledger{
		store: store,
		urls:  make(map[string]struct{}, len(persisted)),
	}

	for _, u := range persisted {
		if u == "" {
			continue
		}

		l.urls[EscapeASCII(u)] = struct{}{}
	}

	observability.LedgerSize.Set(float64(len(l.urls)))

	return l, nil
}

// Contains reports whether url has been recorded.
func (l *Ledger) Contains(url string) bool {
	_, ok := l.urls[EscapeASCII(url)]
	return ok
}

// Record durably appends url. Recording a known URL is a no-op. A failed
// append leaves the in-memory set unchanged and returns ErrLedgerWrite.
func (l *Ledger) Record(ctx context.Context, url string) error {
	key := EscapeASCII(url)
	if _, ok := l.urls[key]; ok {
		return nil
	}

	if err := l.store.AppendPublishedURL(ctx, key); err != nil {
		return fmt.Errorf("%w: %w: %w", apperrors.ErrInvariantViolation, apperrors.ErrLedgerWrite, err)
	}

	l.urls[key] = struct{}{}
	observability.LedgerSize.Set(float64(len(l.urls)))

	return nil
}

// Len returns the number of recorded URLs.
func (l *Ledger) Len() int {
	return len(l.urls)
}
