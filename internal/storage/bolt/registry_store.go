package bolt

import (
	"context"

	"github.com/goodtune/duet/internal/storage"
	"go.etcd.io/bbolt"
)

type pushSubscriptionStore struct {
	db *bbolt.DB
}

func (s *pushSubscriptionStore) Put(ctx context.Context, sub storage.PushSubscription) error {
	return putBucketValue(ctx, s.db, bucketPush, memberKey(sub.PairID, sub.Role), sub)
}

func (s *pushSubscriptionStore) Get(ctx context.Context, pairID string, role storage.Role) (*storage.PushSubscription, error) {
	return getBucketValue[storage.PushSubscription](ctx, s.db, bucketPush, memberKey(pairID, role))
}

func (s *pushSubscriptionStore) Delete(ctx context.Context, pairID string, role storage.Role) error {
	return deleteBucketValue(ctx, s.db, bucketPush, memberKey(pairID, role))
}

type contactStore struct {
	db *bbolt.DB
}

func (s *contactStore) Put(ctx context.Context, contact storage.Contact) error {
	return putBucketValue(ctx, s.db, bucketContacts, memberKey(contact.PairID, contact.Role), contact)
}

func (s *contactStore) Get(ctx context.Context, pairID string, role storage.Role) (*storage.Contact, error) {
	return getBucketValue[storage.Contact](ctx, s.db, bucketContacts, memberKey(pairID, role))
}

func (s *contactStore) Delete(ctx context.Context, pairID string, role storage.Role) error {
	return deleteBucketValue(ctx, s.db, bucketContacts, memberKey(pairID, role))
}
