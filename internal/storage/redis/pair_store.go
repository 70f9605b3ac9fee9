package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/duet/internal/storage"
	"github.com/redis/go-redis/v9"
)

type pairStore struct {
	client       *redis.Client
	createPair   *redis.Script
	setPressed   *redis.Script
	clearPresses *redis.Script
	consume      *redis.Script
	setPlan      *redis.Script
}

func newPairStore(client *redis.Client) *pairStore {
	return &pairStore{
		client:       client,
		createPair:   redis.NewScript(createPairScript),
		setPressed:   redis.NewScript(setPressedScript),
		clearPresses: redis.NewScript(clearPressesScript),
		consume:      redis.NewScript(consumeScript),
		setPlan:      redis.NewScript(setPlanScript),
	}
}

// Create stores a new pair
func (s *pairStore) Create(ctx context.Context, pair storage.Pair) error {
	keys := []string{pairKey(pair.ID)}
	args := []interface{}{
		pair.ID,
		formatMillis(pair.CreatedAt),
		pair.ActionsRemaining,
		string(pair.PlanTier),
		formatMillis(pair.TrialStartedAt),
	}

	status, _, err := s.run(ctx, s.createPair, keys, args...)
	if err != nil {
		return err
	}
	if status == statusExists {
		return storage.ErrAlreadyExists
	}
	return nil
}

// Get retrieves a pair by ID
func (s *pairStore) Get(ctx context.Context, pairID string) (*storage.Pair, error) {
	data, err := s.client.HGetAll(ctx, pairKey(pairID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parsePair(data)
}

// SetPressed records a member's press after the quota gate
func (s *pairStore) SetPressed(ctx context.Context, pairID string, role storage.Role, at time.Time, gate storage.QuotaGate) (*storage.Pair, error) {
	keys := []string{pairKey(pairID)}
	args := []interface{}{
		pressField(role),
		formatMillis(at),
		formatMillis(gate.Now),
		gate.TrialPeriod.Milliseconds(),
	}

	status, data, err := s.run(ctx, s.setPressed, keys, args...)
	if err != nil {
		return nil, err
	}

	switch status {
	case statusNotFound:
		return nil, storage.ErrNotFound
	case statusQuota:
		return nil, storage.ErrQuotaExceeded
	}

	return parsePair(data)
}

// ClearPresses clears both members' press timestamps
func (s *pairStore) ClearPresses(ctx context.Context, pairID string) (*storage.Pair, error) {
	status, data, err := s.run(ctx, s.clearPresses, []string{pairKey(pairID)})
	if err != nil {
		return nil, err
	}
	if status == statusNotFound {
		return nil, storage.ErrNotFound
	}
	return parsePair(data)
}

// Consume runs the atomic consumption script
func (s *pairStore) Consume(ctx context.Context, pairID string, req storage.ConsumeRequest) (*storage.ConsumeOutcome, error) {
	result, err := json.Marshal(req.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	keys := []string{pairKey(pairID)}
	args := []interface{}{
		formatMillis(req.Now),
		req.TTL.Milliseconds(),
		req.ReplayWindow.Milliseconds(),
		req.TrialPeriod.Milliseconds(),
		string(result),
	}

	status, data, err := s.run(ctx, s.consume, keys, args...)
	if err != nil {
		return nil, err
	}

	switch status {
	case statusNotFound:
		return nil, storage.ErrNotFound
	case statusQuota:
		return nil, storage.ErrQuotaExceeded
	case statusNotReady:
		return nil, storage.ErrNotReady
	case statusConsumed, statusReplayed:
	default:
		return nil, fmt.Errorf("unexpected consume status %q", status)
	}

	pair, err := parsePair(data)
	if err != nil {
		return nil, err
	}
	if pair.LastResult == nil {
		return nil, fmt.Errorf("consumed pair %s has no stored result", pairID)
	}

	return &storage.ConsumeOutcome{
		Pair:     *pair,
		Result:   *pair.LastResult,
		Replayed: status == statusReplayed,
	}, nil
}

// SetPlan overwrites the plan fields of a pair
func (s *pairStore) SetPlan(ctx context.Context, pairID string, tier storage.PlanTier, actionsRemaining int) (*storage.Pair, error) {
	args := []interface{}{string(tier), strconv.Itoa(actionsRemaining)}

	status, data, err := s.run(ctx, s.setPlan, []string{pairKey(pairID)}, args...)
	if err != nil {
		return nil, err
	}
	if status == statusNotFound {
		return nil, storage.ErrNotFound
	}
	return parsePair(data)
}

func (s *pairStore) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (string, map[string]string, error) {
	reply, err := script.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return "", nil, err
	}
	return scriptReply(reply)
}

func pressField(role storage.Role) string {
	return string(role) + "_pressed_at"
}
