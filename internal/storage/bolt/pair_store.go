package bolt

import (
	"context"
	"time"

	"github.com/goodtune/duet/internal/storage"
	"go.etcd.io/bbolt"
)

type pairStore struct {
	db *bbolt.DB
}

// Create stores a new pair unless its ID is taken.
func (s *pairStore) Create(ctx context.Context, pair storage.Pair) error {
	pair.CreatedAt = millis(pair.CreatedAt)
	pair.TrialStartedAt = millis(pair.TrialStartedAt)

	data, err := marshal(pair)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPairs))
		if b.Get([]byte(pair.ID)) != nil {
			return storage.ErrAlreadyExists
		}
		return b.Put([]byte(pair.ID), data)
	})
}

// Get retrieves a pair by ID.
func (s *pairStore) Get(ctx context.Context, pairID string) (*storage.Pair, error) {
	return getBucketValue[storage.Pair](ctx, s.db, bucketPairs, pairID)
}

// SetPressed records a member's press after the quota gate.
func (s *pairStore) SetPressed(ctx context.Context, pairID string, role storage.Role, at time.Time, gate storage.QuotaGate) (*storage.Pair, error) {
	return s.update(ctx, pairID, func(pair *storage.Pair) error {
		if err := pair.CheckQuota(gate); err != nil {
			return err
		}
		pressed := millis(at)
		pair.SetPressedAt(role, &pressed)
		return nil
	})
}

// ClearPresses clears both press timestamps.
func (s *pairStore) ClearPresses(ctx context.Context, pairID string) (*storage.Pair, error) {
	return s.update(ctx, pairID, func(pair *storage.Pair) error {
		pair.Member1PressedAt = nil
		pair.Member2PressedAt = nil
		return nil
	})
}

// Consume performs the consumption inside one write transaction.
func (s *pairStore) Consume(ctx context.Context, pairID string, req storage.ConsumeRequest) (*storage.ConsumeOutcome, error) {
	now := millis(req.Now)
	replayed := false

	pair, err := s.update(ctx, pairID, func(pair *storage.Pair) error {
		if pair.BothReady(now, req.TTL) {
			if err := pair.CheckQuota(storage.QuotaGate{Now: now, TrialPeriod: req.TrialPeriod}); err != nil {
				return err
			}
			if !pair.Unlimited() {
				pair.ActionsRemaining--
			}

			result := req.Result
			pair.LastOccurrence = pair.Occurrence()
			pair.LastConsumedAt = &now
			pair.LastResult = &result
			pair.ConsumedCount++
			pair.Member1PressedAt = nil
			pair.Member2PressedAt = nil
			return nil
		}

		if pair.LastConsumedAt != nil && pair.LastResult != nil && now.Sub(*pair.LastConsumedAt) < req.ReplayWindow {
			replayed = true
			return errNoWrite
		}

		// A pair with no actions left cannot consume whatever its presses say
		if err := pair.CheckQuota(storage.QuotaGate{Now: now, TrialPeriod: req.TrialPeriod}); err != nil {
			return err
		}
		return storage.ErrNotReady
	})
	if err != nil {
		return nil, err
	}

	return &storage.ConsumeOutcome{
		Pair:     *pair,
		Result:   *pair.LastResult,
		Replayed: replayed,
	}, nil
}

// SetPlan overwrites the plan fields of a pair.
func (s *pairStore) SetPlan(ctx context.Context, pairID string, tier storage.PlanTier, actionsRemaining int) (*storage.Pair, error) {
	return s.update(ctx, pairID, func(pair *storage.Pair) error {
		pair.PlanTier = tier
		pair.ActionsRemaining = actionsRemaining
		return nil
	})
}

// errNoWrite lets a mutation return the current pair without persisting it.
var errNoWrite = noWriteError{}

type noWriteError struct{}

func (noWriteError) Error() string { return "no write" }

// update loads the pair, applies fn and stores the result in one transaction.
func (s *pairStore) update(ctx context.Context, pairID string, fn func(*storage.Pair) error) (*storage.Pair, error) {
	var pair storage.Pair

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketPairs))
		value := b.Get([]byte(pairID))
		if value == nil {
			return storage.ErrNotFound
		}
		if err := unmarshal(value, &pair); err != nil {
			return err
		}

		if err := fn(&pair); err != nil {
			return err
		}

		data, err := marshal(pair)
		if err != nil {
			return err
		}
		return b.Put([]byte(pairID), data)
	})
	if err == errNoWrite {
		return &pair, nil
	}
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// millis truncates t to the millisecond precision every backend persists.
func millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}
