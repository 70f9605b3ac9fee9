package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/duet/internal/storage"
)

// scriptReply splits a {status, HGETALL} script reply
func scriptReply(reply []interface{}) (string, map[string]string, error) {
	if len(reply) == 0 {
		return "", nil, fmt.Errorf("empty script reply")
	}

	status, ok := reply[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("unexpected script status type %T", reply[0])
	}

	if len(reply) < 2 {
		return status, nil, nil
	}

	flat, ok := reply[1].([]interface{})
	if !ok {
		return "", nil, fmt.Errorf("unexpected script payload type %T", reply[1])
	}

	data := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		data[k] = v
	}

	return status, data, nil
}

// parsePair converts a Redis hash to Pair
func parsePair(data map[string]string) (*storage.Pair, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseMillis(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	trialStartedAt, err := parseMillis(data["trial_started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse trial_started_at: %w", err)
	}

	actionsRemaining, err := strconv.Atoi(data["actions_remaining"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse actions_remaining: %w", err)
	}

	var consumedCount int64
	if raw := data["consumed_count"]; raw != "" {
		consumedCount, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse consumed_count: %w", err)
		}
	}

	pair := &storage.Pair{
		ID:               data["id"],
		CreatedAt:        createdAt,
		ActionsRemaining: actionsRemaining,
		PlanTier:         storage.PlanTier(data["plan_tier"]),
		TrialStartedAt:   trialStartedAt,
		ConsumedCount:    consumedCount,
		LastOccurrence:   data["last_occurrence"],
	}

	if pair.Member1PressedAt, err = parseOptionalMillis(data["member1_pressed_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse member1_pressed_at: %w", err)
	}
	if pair.Member2PressedAt, err = parseOptionalMillis(data["member2_pressed_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse member2_pressed_at: %w", err)
	}
	if pair.LastConsumedAt, err = parseOptionalMillis(data["last_consumed_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse last_consumed_at: %w", err)
	}

	if raw := data["last_result"]; raw != "" {
		var result storage.Result
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to parse last_result: %w", err)
		}
		pair.LastResult = &result
	}

	return pair, nil
}

// parsePushSubscription converts a Redis hash to PushSubscription
func parsePushSubscription(data map[string]string) (*storage.PushSubscription, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseMillis(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.PushSubscription{
		PairID:    data["pair_id"],
		Role:      storage.Role(data["role"]),
		Endpoint:  data["endpoint"],
		P256dh:    data["p256dh"],
		Auth:      data["auth"],
		CreatedAt: createdAt,
	}, nil
}

// parseContact converts a Redis hash to Contact
func parseContact(data map[string]string) (*storage.Contact, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseMillis(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.Contact{
		PairID:    data["pair_id"],
		Role:      storage.Role(data["role"]),
		Phone:     data["phone"],
		CreatedAt: createdAt,
	}, nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseOptionalMillis(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseMillis(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
