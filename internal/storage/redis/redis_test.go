package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/duet/internal/config"
	"github.com/goodtune/duet/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func createTestPair(t *testing.T, store *Store, id string, tier storage.PlanTier, actions int) {
	t.Helper()

	pair := storage.Pair{
		ID:               id,
		CreatedAt:        t0,
		ActionsRemaining: actions,
		PlanTier:         tier,
		TrialStartedAt:   t0,
	}
	if err := store.Pairs().Create(context.Background(), pair); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func consumeRequest(now time.Time, activity string) storage.ConsumeRequest {
	return storage.ConsumeRequest{
		Now:          now,
		TTL:          5 * time.Minute,
		ReplayWindow: 30 * time.Second,
		TrialPeriod:  7 * 24 * time.Hour,
		Result: storage.Result{
			Activity:       activity,
			NavigateTarget: "/activities/" + activity,
			ProducedAt:     now,
		},
	}
}

func TestPairStore_CreateAndGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	createTestPair(t, store, "p1", storage.PlanTrial, 2)

	pair, err := store.Pairs().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pair.ActionsRemaining != 2 {
		t.Errorf("Expected 2 actions, got %d", pair.ActionsRemaining)
	}
	if pair.PlanTier != storage.PlanTrial {
		t.Errorf("Expected trial plan, got %s", pair.PlanTier)
	}
	if !pair.TrialStartedAt.Equal(t0) {
		t.Errorf("Expected trial start %v, got %v", t0, pair.TrialStartedAt)
	}
	if pair.Member1PressedAt != nil || pair.Member2PressedAt != nil {
		t.Error("Expected no presses on a new pair")
	}

	err = store.Pairs().Create(ctx, storage.Pair{ID: "p1", PlanTier: storage.PlanTrial})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	if _, err := store.Pairs().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPairStore_SetPressedWritesOnlyOwnField(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanTrial, 2)

	gate := storage.QuotaGate{Now: t0, TrialPeriod: 7 * 24 * time.Hour}
	pair, err := store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, t0, gate)
	if err != nil {
		t.Fatalf("SetPressed failed: %v", err)
	}

	if pair.Member1PressedAt == nil || !pair.Member1PressedAt.Equal(t0) {
		t.Errorf("Expected member1 press at %v, got %v", t0, pair.Member1PressedAt)
	}
	if pair.Member2PressedAt != nil {
		t.Errorf("Expected member2 untouched, got %v", pair.Member2PressedAt)
	}
}

func TestPairStore_SetPressedQuotaGate(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		tier    storage.PlanTier
		actions int
		now     time.Time
		wantErr error
	}{
		{name: "trial with actions", tier: storage.PlanTrial, actions: 1, now: t0, wantErr: nil},
		{name: "trial exhausted", tier: storage.PlanTrial, actions: 0, now: t0, wantErr: storage.ErrQuotaExceeded},
		{name: "trial window over", tier: storage.PlanTrial, actions: 3, now: t0.Add(8 * 24 * time.Hour), wantErr: storage.ErrQuotaExceeded},
		{name: "standard exhausted", tier: storage.PlanStandard, actions: 0, now: t0, wantErr: storage.ErrQuotaExceeded},
		{name: "unlimited", tier: storage.PlanUnlimited, actions: storage.UnlimitedActions, now: t0.Add(30 * 24 * time.Hour), wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "gate-" + tt.name
			createTestPair(t, store, id, tt.tier, tt.actions)

			gate := storage.QuotaGate{Now: tt.now, TrialPeriod: 7 * 24 * time.Hour}
			_, err := store.Pairs().SetPressed(ctx, id, storage.RoleMember1, tt.now, gate)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}

			pair, err := store.Pairs().Get(ctx, id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if tt.wantErr != nil && pair.Member1PressedAt != nil {
				t.Error("Rejected press must not be persisted")
			}
		})
	}
}

func TestPairStore_ConsumeFlow(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanTrial, 2)

	gate := storage.QuotaGate{Now: t0, TrialPeriod: 7 * 24 * time.Hour}
	if _, err := store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, t0, gate); err != nil {
		t.Fatalf("SetPressed member1 failed: %v", err)
	}

	// Only one member ready
	if _, err := store.Pairs().Consume(ctx, "p1", consumeRequest(t0.Add(time.Second), "sunset-walk")); !errors.Is(err, storage.ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}

	second := t0.Add(3 * time.Second)
	gate.Now = second
	if _, err := store.Pairs().SetPressed(ctx, "p1", storage.RoleMember2, second, gate); err != nil {
		t.Fatalf("SetPressed member2 failed: %v", err)
	}

	outcome, err := store.Pairs().Consume(ctx, "p1", consumeRequest(second.Add(800*time.Millisecond), "sunset-walk"))
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if outcome.Replayed {
		t.Error("First consume must not be a replay")
	}
	if outcome.Result.Activity != "sunset-walk" {
		t.Errorf("Expected sunset-walk, got %s", outcome.Result.Activity)
	}
	if outcome.Pair.ActionsRemaining != 1 {
		t.Errorf("Expected 1 action remaining, got %d", outcome.Pair.ActionsRemaining)
	}
	if outcome.Pair.Member1PressedAt != nil || outcome.Pair.Member2PressedAt != nil {
		t.Error("Consume must clear both presses")
	}
	if outcome.Pair.ConsumedCount != 1 {
		t.Errorf("Expected consumed_count 1, got %d", outcome.Pair.ConsumedCount)
	}
	wantOccurrence := storage.Occurrence(&t0, &second)
	if outcome.Pair.LastOccurrence != wantOccurrence {
		t.Errorf("Expected occurrence %s, got %s", wantOccurrence, outcome.Pair.LastOccurrence)
	}

	// A late second call replays the stored result without decrementing
	replay, err := store.Pairs().Consume(ctx, "p1", consumeRequest(second.Add(2*time.Second), "board-games"))
	if err != nil {
		t.Fatalf("Replay consume failed: %v", err)
	}
	if !replay.Replayed {
		t.Error("Expected replay")
	}
	if replay.Result.Activity != "sunset-walk" {
		t.Errorf("Replay must return the stored result, got %s", replay.Result.Activity)
	}
	if replay.Pair.ActionsRemaining != 1 {
		t.Errorf("Replay must not decrement, got %d", replay.Pair.ActionsRemaining)
	}

	// Past the replay window there is nothing to consume
	if _, err := store.Pairs().Consume(ctx, "p1", consumeRequest(second.Add(time.Minute), "board-games")); !errors.Is(err, storage.ErrNotReady) {
		t.Errorf("Expected ErrNotReady after replay window, got %v", err)
	}
}

func TestPairStore_ConsumeWithoutQuota(t *testing.T) {
	store, _ := setupTestStore(t)
	createTestPair(t, store, "p1", storage.PlanTrial, 0)

	if _, err := store.Pairs().Consume(context.Background(), "p1", consumeRequest(t0, "date-night")); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
}

func TestPairStore_ConsumeRespectsTTL(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanTrial, 2)

	gate := storage.QuotaGate{Now: t0, TrialPeriod: 7 * 24 * time.Hour}
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, t0, gate)

	late := t0.Add(5*time.Minute + time.Second)
	gate.Now = late
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember2, late, gate)

	if _, err := store.Pairs().Consume(ctx, "p1", consumeRequest(late, "date-night")); !errors.Is(err, storage.ErrNotReady) {
		t.Fatalf("Expected ErrNotReady for expired first press, got %v", err)
	}

	pair, _ := store.Pairs().Get(ctx, "p1")
	if pair.ActionsRemaining != 2 {
		t.Errorf("Expected quota untouched, got %d", pair.ActionsRemaining)
	}
}

func TestPairStore_ConsumeUnlimitedKeepsSentinel(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanUnlimited, storage.UnlimitedActions)

	now := t0
	for i := 0; i < 5; i++ {
		gate := storage.QuotaGate{Now: now}
		_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, now, gate)
		_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember2, now, gate)

		outcome, err := store.Pairs().Consume(ctx, "p1", consumeRequest(now.Add(time.Second), "cook-together"))
		if err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
		if outcome.Pair.ActionsRemaining != storage.UnlimitedActions {
			t.Fatalf("Expected sentinel %d, got %d", storage.UnlimitedActions, outcome.Pair.ActionsRemaining)
		}
		now = now.Add(time.Minute)
	}
}

func TestPairStore_ConsumeConcurrentCallersDecrementOnce(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanTrial, 2)

	gate := storage.QuotaGate{Now: t0, TrialPeriod: 7 * 24 * time.Hour}
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, t0, gate)
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember2, t0, gate)

	const callers = 8
	var wg sync.WaitGroup
	outcomes := make([]*storage.ConsumeOutcome, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = store.Pairs().Consume(ctx, "p1", consumeRequest(t0.Add(time.Second), "movie-marathon"))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if !outcomes[i].Replayed {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("Expected exactly one fresh consumption, got %d", fresh)
	}

	pair, _ := store.Pairs().Get(ctx, "p1")
	if pair.ActionsRemaining != 1 {
		t.Errorf("Expected one decrement, got %d remaining", pair.ActionsRemaining)
	}
}

func TestPairStore_ClearPressesAndSetPlan(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	createTestPair(t, store, "p1", storage.PlanTrial, 0)

	if _, err := store.Pairs().ClearPresses(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	pair, err := store.Pairs().SetPlan(ctx, "p1", storage.PlanUnlimited, storage.UnlimitedActions)
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if pair.PlanTier != storage.PlanUnlimited || pair.ActionsRemaining != storage.UnlimitedActions {
		t.Errorf("Unexpected plan after SetPlan: %s/%d", pair.PlanTier, pair.ActionsRemaining)
	}

	gate := storage.QuotaGate{Now: t0}
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember1, t0, gate)
	_, _ = store.Pairs().SetPressed(ctx, "p1", storage.RoleMember2, t0, gate)

	pair, err = store.Pairs().ClearPresses(ctx, "p1")
	if err != nil {
		t.Fatalf("ClearPresses failed: %v", err)
	}
	if pair.Member1PressedAt != nil || pair.Member2PressedAt != nil {
		t.Error("Expected both presses cleared")
	}
}

func TestRegistryStores(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	sub := storage.PushSubscription{
		PairID:    "p1",
		Role:      storage.RoleMember2,
		Endpoint:  "https://push.example.com/abc",
		P256dh:    "key",
		Auth:      "secret",
		CreatedAt: t0,
	}
	if err := store.PushSubscriptions().Put(ctx, sub); err != nil {
		t.Fatalf("Put push failed: %v", err)
	}
	got, err := store.PushSubscriptions().Get(ctx, "p1", storage.RoleMember2)
	if err != nil {
		t.Fatalf("Get push failed: %v", err)
	}
	if got.Endpoint != sub.Endpoint {
		t.Errorf("Expected endpoint %s, got %s", sub.Endpoint, got.Endpoint)
	}
	if _, err := store.PushSubscriptions().Get(ctx, "p1", storage.RoleMember1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	contact := storage.Contact{PairID: "p1", Role: storage.RoleMember1, Phone: "+15550100", CreatedAt: t0}
	if err := store.Contacts().Put(ctx, contact); err != nil {
		t.Fatalf("Put contact failed: %v", err)
	}
	gotContact, err := store.Contacts().Get(ctx, "p1", storage.RoleMember1)
	if err != nil {
		t.Fatalf("Get contact failed: %v", err)
	}
	if gotContact.Phone != contact.Phone {
		t.Errorf("Expected phone %s, got %s", contact.Phone, gotContact.Phone)
	}
	if err := store.Contacts().Delete(ctx, "p1", storage.RoleMember1); err != nil {
		t.Fatalf("Delete contact failed: %v", err)
	}
	if _, err := store.Contacts().Get(ctx, "p1", storage.RoleMember1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
