package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/duet/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "duet.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedPair(t *testing.T, store *Store, id string, tier storage.PlanTier, actions int) {
	t.Helper()

	pair := storage.Pair{ID: id, CreatedAt: t0, ActionsRemaining: actions, PlanTier: tier, TrialStartedAt: t0}
	if err := store.Pairs().Create(context.Background(), pair); err != nil {
		t.Fatalf("create pair: %v", err)
	}
}

func pressBoth(t *testing.T, store *Store, id string, m1, m2 time.Time) {
	t.Helper()

	ctx := context.Background()
	if _, err := store.Pairs().SetPressed(ctx, id, storage.RoleMember1, m1, storage.QuotaGate{Now: m1}); err != nil {
		t.Fatalf("press member1: %v", err)
	}
	if _, err := store.Pairs().SetPressed(ctx, id, storage.RoleMember2, m2, storage.QuotaGate{Now: m2}); err != nil {
		t.Fatalf("press member2: %v", err)
	}
}

func request(now time.Time) storage.ConsumeRequest {
	return storage.ConsumeRequest{
		Now:          now,
		TTL:          5 * time.Minute,
		ReplayWindow: 30 * time.Second,
		Result:       storage.Result{Activity: "board-games", NavigateTarget: "/activities/board-games", ProducedAt: now},
	}
}

func TestPairStoreCreateDuplicate(t *testing.T) {
	store := openTestStore(t)
	seedPair(t, store, "p1", storage.PlanTrial, 2)

	err := store.Pairs().Create(context.Background(), storage.Pair{ID: "p1"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPairStoreConsumeDecrementsOnce(t *testing.T) {
	store := openTestStore(t)
	seedPair(t, store, "p1", storage.PlanTrial, 2)
	pressBoth(t, store, "p1", t0, t0.Add(3*time.Second))

	ctx := context.Background()
	first, err := store.Pairs().Consume(ctx, "p1", request(t0.Add(4*time.Second)))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if first.Replayed {
		t.Fatal("first consume must not replay")
	}
	if first.Pair.ActionsRemaining != 1 {
		t.Fatalf("expected 1 action remaining, got %d", first.Pair.ActionsRemaining)
	}
	if first.Pair.Member1PressedAt != nil || first.Pair.Member2PressedAt != nil {
		t.Fatal("expected presses cleared")
	}

	second, err := store.Pairs().Consume(ctx, "p1", request(t0.Add(5*time.Second)))
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second consume must replay")
	}
	if second.Pair.ActionsRemaining != 1 {
		t.Fatalf("replay must not decrement, got %d", second.Pair.ActionsRemaining)
	}

	if _, err := store.Pairs().Consume(ctx, "p1", request(t0.Add(time.Minute))); !errors.Is(err, storage.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestPairStoreConsumeWithoutQuota(t *testing.T) {
	store := openTestStore(t)
	seedPair(t, store, "p1", storage.PlanTrial, 0)

	if _, err := store.Pairs().Consume(context.Background(), "p1", request(t0)); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestPairStoreConsumeConcurrent(t *testing.T) {
	store := openTestStore(t)
	seedPair(t, store, "p1", storage.PlanStandard, 5)
	pressBoth(t, store, "p1", t0, t0)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.Pairs().Consume(context.Background(), "p1", request(t0.Add(time.Second)))
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if !outcome.Replayed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("expected one fresh consumption, got %d", fresh)
	}
	pair, err := store.Pairs().Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pair.ActionsRemaining != 4 {
		t.Fatalf("expected 4 actions remaining, got %d", pair.ActionsRemaining)
	}
}

func TestPairStoreQuotaGate(t *testing.T) {
	store := openTestStore(t)
	seedPair(t, store, "p1", storage.PlanTrial, 0)

	_, err := store.Pairs().SetPressed(context.Background(), "p1", storage.RoleMember1, t0, storage.QuotaGate{Now: t0})
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	pair, _ := store.Pairs().Get(context.Background(), "p1")
	if pair.Member1PressedAt != nil {
		t.Fatal("rejected press must not persist")
	}
}

func TestRegistryStores(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Contacts().Put(ctx, storage.Contact{PairID: "p1", Role: storage.RoleMember2, Phone: "+15550199"}); err != nil {
		t.Fatalf("put contact: %v", err)
	}
	contact, err := store.Contacts().Get(ctx, "p1", storage.RoleMember2)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact.Phone != "+15550199" {
		t.Fatalf("unexpected phone %s", contact.Phone)
	}

	if _, err := store.PushSubscriptions().Get(ctx, "p1", storage.RoleMember2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
