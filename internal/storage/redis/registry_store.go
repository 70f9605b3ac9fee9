package redis

import (
	"context"

	"github.com/goodtune/duet/internal/storage"
	"github.com/redis/go-redis/v9"
)

type pushSubscriptionStore struct {
	client *redis.Client
}

// Put registers or replaces a member's push subscription
func (s *pushSubscriptionStore) Put(ctx context.Context, sub storage.PushSubscription) error {
	return s.client.HSet(ctx, pushKey(sub.PairID, sub.Role),
		"pair_id", sub.PairID,
		"role", string(sub.Role),
		"endpoint", sub.Endpoint,
		"p256dh", sub.P256dh,
		"auth", sub.Auth,
		"created_at", formatMillis(sub.CreatedAt),
	).Err()
}

// Get retrieves a member's push subscription
func (s *pushSubscriptionStore) Get(ctx context.Context, pairID string, role storage.Role) (*storage.PushSubscription, error) {
	data, err := s.client.HGetAll(ctx, pushKey(pairID, role)).Result()
	if err != nil {
		return nil, err
	}
	return parsePushSubscription(data)
}

// Delete removes a member's push subscription
func (s *pushSubscriptionStore) Delete(ctx context.Context, pairID string, role storage.Role) error {
	return s.client.Del(ctx, pushKey(pairID, role)).Err()
}

type contactStore struct {
	client *redis.Client
}

// Put registers or replaces a member's SMS contact
func (s *contactStore) Put(ctx context.Context, contact storage.Contact) error {
	return s.client.HSet(ctx, contactKey(contact.PairID, contact.Role),
		"pair_id", contact.PairID,
		"role", string(contact.Role),
		"phone", contact.Phone,
		"created_at", formatMillis(contact.CreatedAt),
	).Err()
}

// Get retrieves a member's SMS contact
func (s *contactStore) Get(ctx context.Context, pairID string, role storage.Role) (*storage.Contact, error) {
	data, err := s.client.HGetAll(ctx, contactKey(pairID, role)).Result()
	if err != nil {
		return nil, err
	}
	return parseContact(data)
}

// Delete removes a member's SMS contact
func (s *contactStore) Delete(ctx context.Context, pairID string, role storage.Role) error {
	return s.client.Del(ctx, contactKey(pairID, role)).Err()
}
