// Package retry maps publish failures to a recovery decision.
//
// The controller is pure: it never sleeps or calls the platform. Callers ask
// Classify what to do with an error and act on the returned Decision.
package retry

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
)

const (
	defaultTransientMaxAttempts = 3
	defaultTransientWait        = 30 * time.Second
	defaultTransportWait        = 30 * time.Second
	defaultOverloadedWait       = 10 * time.Minute
	defaultServerWait           = 2 * time.Minute
	defaultReplyWait            = 30 * time.Second
)

// Action is what the caller should do next.
type Action int

const (
	// Retry means wait Decision.Wait and repeat the same request.
	Retry Action = iota
	// Verify means wait, then check whether the request took effect.
	Verify
	// AbortItem gives up on the current item and moves on.
	AbortItem
	// AbortProcess stops the whole relay.
	AbortProcess
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Verify:
		return "verify"
	case AbortItem:
		return "abort_item"
	case AbortProcess:
		return "abort_process"
	default:
		return "unknown"
	}
}

// Class names the failure class for logs and metrics labels.
type Class string

const (
	ClassRateLimit    Class = "rate_limit"
	ClassValidation   Class = "validation"
	ClassTransport    Class = "transport"
	ClassOverloaded   Class = "overloaded"
	ClassServer       Class = "server_unavailable"
	ClassInvariant    Class = "invariant"
	ClassCanceled     Class = "canceled"
	ClassUnclassified Class = "unclassified"
)

// Policy holds the wait and attempt limits.
type Policy struct {
	TransientMaxAttempts int
	TransientWait        time.Duration
	TransportWait        time.Duration
	OverloadedWait       time.Duration
	ServerWait           time.Duration
	ReplyWait            time.Duration
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() Policy {
	return Policy{
		TransientMaxAttempts: defaultTransientMaxAttempts,
		TransientWait:        defaultTransientWait,
		TransportWait:        defaultTransportWait,
		OverloadedWait:       defaultOverloadedWait,
		ServerWait:           defaultServerWait,
		ReplyWait:            defaultReplyWait,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()

	if p.TransientMaxAttempts <= 0 {
		p.TransientMaxAttempts = d.TransientMaxAttempts
	}

	if p.TransientWait <= 0 {
		p.TransientWait = d.TransientWait
	}

	if p.TransportWait <= 0 {
		p.TransportWait = d.TransportWait
	}

	if p.OverloadedWait <= 0 {
		p.OverloadedWait = d.OverloadedWait
	}

	if p.ServerWait <= 0 {
		p.ServerWait = d.ServerWait
	}

	if p.ReplyWait <= 0 {
		p.ReplyWait = d.ReplyWait
	}

	return p
}

// Decision is the controller's answer for one failed attempt.
type Decision struct {
	Action Action
	Wait   time.Duration
	Class  Class
}

// Classify decides what to do after the attempt-th failure (1-based) of a
// request that returned err.
func (p Policy) Classify(err error, attempt int) Decision {
	switch {
	case errors.Is(err, apperrors.ErrInvariantViolation):
		return Decision{Action: AbortProcess, Class: ClassInvariant}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Decision{Action: AbortProcess, Class: ClassCanceled}
	case errors.Is(err, apperrors.ErrRateLimited):
		return p.bounded(attempt, ClassRateLimit)
	case errors.Is(err, apperrors.ErrValidation):
		return p.bounded(attempt, ClassValidation)
	case errors.Is(err, apperrors.ErrTransport):
		return Decision{Action: Verify, Wait: p.TransportWait, Class: ClassTransport}
	case errors.Is(err, apperrors.ErrOverloaded):
		return Decision{Action: Retry, Wait: p.OverloadedWait, Class: ClassOverloaded}
	case errors.Is(err, apperrors.ErrServerUnavailable):
		return Decision{Action: Retry, Wait: p.ServerWait, Class: ClassServer}
	default:
		return Decision{Action: AbortItem, Class: ClassUnclassified}
	}
}

func (p Policy) bounded(attempt int, class Class) Decision {
	if attempt >= p.TransientMaxAttempts {
		return Decision{Action: AbortItem, Class: class}
	}

	return Decision{Action: Retry, Wait: p.TransientWait, Class: class}
}
