package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("storage: record already exists")

	// ErrQuotaExceeded is returned when a pair has no actions left on its plan.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")

	// ErrNotReady is returned by Consume when the pair is not both-ready and
	// there is no recent consumption to replay.
	ErrNotReady = errors.New("storage: pair is not both-ready")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Pairs() PairStore
	PushSubscriptions() PushSubscriptionStore
	Contacts() ContactStore
}

// PairStore manages the pair aggregate and its rendezvous state.
//
// Every method that mutates more than one field is atomic in the backend.
type PairStore interface {
	Create(ctx context.Context, pair Pair) error
	Get(ctx context.Context, pairID string) (*Pair, error)

	// SetPressed writes the press timestamp of role only, after checking the
	// plan allows another action. It returns ErrQuotaExceeded without
	// writing anything when it does not.
	SetPressed(ctx context.Context, pairID string, role Role, at time.Time, gate QuotaGate) (*Pair, error)

	// ClearPresses clears both press timestamps.
	ClearPresses(ctx context.Context, pairID string) (*Pair, error)

	// Consume performs the compare-and-swap consumption described by req.
	Consume(ctx context.Context, pairID string, req ConsumeRequest) (*ConsumeOutcome, error)

	// SetPlan overwrites plan tier and remaining actions (billing).
	SetPlan(ctx context.Context, pairID string, tier PlanTier, actionsRemaining int) (*Pair, error)
}

// QuotaGate carries the inputs needed to decide whether a pair may act.
type QuotaGate struct {
	Now         time.Time
	TrialPeriod time.Duration
}

// ConsumeRequest is evaluated atomically against the stored pair.
type ConsumeRequest struct {
	Now          time.Time
	TTL          time.Duration
	ReplayWindow time.Duration
	TrialPeriod  time.Duration
	// Result is stored and returned only if this request wins the swap.
	Result Result
}

// ConsumeOutcome reports what Consume did.
type ConsumeOutcome struct {
	Pair     Pair
	Result   Result
	Replayed bool
}

// PushSubscriptionStore is the push-subscription registry keyed by (pair, role).
type PushSubscriptionStore interface {
	Put(ctx context.Context, sub PushSubscription) error
	Get(ctx context.Context, pairID string, role Role) (*PushSubscription, error)
	Delete(ctx context.Context, pairID string, role Role) error
}

// ContactStore is the SMS phone-number registry keyed by (pair, role).
type ContactStore interface {
	Put(ctx context.Context, contact Contact) error
	Get(ctx context.Context, pairID string, role Role) (*Contact, error)
	Delete(ctx context.Context, pairID string, role Role) error
}
