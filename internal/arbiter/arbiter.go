// Package arbiter owns the press, reset and consume operations of a pair and
// guarantees that one both-ready occurrence is consumed at most once.
//
// The guarantee lives in the store: Consume is a single compare-and-swap, so
// the two members and the server-side settle scheduler may all race to
// consume and only one of them decrements the quota. The others get the
// stored result back as a replay.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/metrics"
	"github.com/goodtune/duet/internal/notify"
	"github.com/goodtune/duet/internal/rendezvous"
	"github.com/goodtune/duet/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultSettleDelay  = 800 * time.Millisecond
	DefaultReplayWindow = 30 * time.Second
	DefaultTrialActions = 3

	settleConsumeTimeout = 10 * time.Second
)

// ErrInvalidRequest is returned for malformed collaborator input.
var ErrInvalidRequest = errors.New("arbiter: invalid request")

// Live is the part of the live channel hub the arbiter uses.
type Live interface {
	Broadcast(pairID string, ev hub.Event)
	Connected(pairID string, role storage.Role) bool
}

// Notifier dispatches side-channel notifications.
type Notifier interface {
	Notify(intent notify.Intent)
}

// Producer creates the candidate result of a consumption.
type Producer interface {
	Produce() (storage.Result, error)
}

// Config holds arbiter settings
type Config struct {
	TTL          time.Duration
	SettleDelay  time.Duration
	ReplayWindow time.Duration
	TrialPeriod  time.Duration
	TrialActions int
	AutoConsume  bool
	NotifyAlways bool
	Logger       zerolog.Logger
}

// Service implements the pair operations.
type Service struct {
	store    storage.Store
	pairs    storage.PairStore
	live     Live
	notifier Notifier
	producer Producer
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*settle
	closed  bool
	wg      sync.WaitGroup
}

// settle is a scheduled server-side consumption of one pair.
type settle struct {
	timer *time.Timer
}

// New creates the arbiter. notifier may be nil.
func New(cfg Config, store storage.Store, live Live, notifier Notifier, producer Producer) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.TrialActions < 0 {
		cfg.TrialActions = DefaultTrialActions
	}

	return &Service{
		store:    store,
		pairs:    store.Pairs(),
		live:     live,
		notifier: notifier,
		producer: producer,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "arbiter").Logger(),
		now:      time.Now,
		pending:  make(map[string]*settle),
	}
}

// Press records the caller's press. It fails with storage.ErrQuotaExceeded,
// without writing anything, when the pair's plan allows no further action.
func (s *Service) Press(ctx context.Context, id identity.Identity) (*rendezvous.Snapshot, error) {
	now := s.now()
	pair, err := s.pairs.SetPressed(ctx, id.PairID, id.Role, now, storage.QuotaGate{
		Now:         now,
		TrialPeriod: s.cfg.TrialPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("press: %w", err)
	}

	metrics.PressesTotal.WithLabelValues(string(id.Role)).Inc()
	s.logger.Info().
		Str("pair_id", id.PairID).
		Str("role", string(id.Role)).
		Msg("Press recorded")

	s.live.Broadcast(id.PairID, hub.PressEvent{Role: id.Role})

	bothReady := pair.BothReady(now, s.cfg.TTL)
	partner := id.Role.Counterpart()
	if !bothReady && (s.cfg.NotifyAlways || !s.live.Connected(id.PairID, partner)) {
		s.notify(notify.PartnerReady{PairID: id.PairID, From: id.Role, To: partner})
	}

	if bothReady && s.cfg.AutoConsume {
		s.schedule(id.PairID)
	}

	return s.snapshot(pair, id.Role, now), nil
}

// Reset clears both presses and cancels any scheduled consumption.
func (s *Service) Reset(ctx context.Context, id identity.Identity) (*rendezvous.Snapshot, error) {
	s.cancel(id.PairID)

	pair, err := s.pairs.ClearPresses(ctx, id.PairID)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	metrics.ResetsTotal.Inc()
	s.logger.Info().
		Str("pair_id", id.PairID).
		Str("role", string(id.Role)).
		Msg("Presses reset")

	s.live.Broadcast(id.PairID, hub.ResetEvent{})
	return s.snapshot(pair, id.Role, s.now()), nil
}

// Consume consumes the current both-ready occurrence on behalf of the caller.
// A caller that lost the race inside the replay window gets the winner's
// result with Replayed set.
func (s *Service) Consume(ctx context.Context, id identity.Identity) (*rendezvous.Consumption, error) {
	return s.consume(ctx, id.PairID, string(id.Role))
}

func (s *Service) consume(ctx context.Context, pairID, trigger string) (*rendezvous.Consumption, error) {
	logger := s.logger.With().Str("pair_id", pairID).Str("trigger", trigger).Logger()

	candidate, err := s.producer.Produce()
	if err != nil {
		return nil, fmt.Errorf("produce result: %w", err)
	}

	out, err := s.pairs.Consume(ctx, pairID, storage.ConsumeRequest{
		Now:          s.now(),
		TTL:          s.cfg.TTL,
		ReplayWindow: s.cfg.ReplayWindow,
		TrialPeriod:  s.cfg.TrialPeriod,
		Result:       candidate,
	})
	switch {
	case errors.Is(err, storage.ErrNotReady):
		metrics.ConsumptionsTotal.WithLabelValues(metrics.OutcomeNotReady).Inc()
		return nil, fmt.Errorf("consume: %w", err)
	case errors.Is(err, storage.ErrQuotaExceeded):
		metrics.ConsumptionsTotal.WithLabelValues(metrics.OutcomeQuotaExceeded).Inc()
		return nil, fmt.Errorf("consume: %w", err)
	case err != nil:
		return nil, fmt.Errorf("consume: %w", err)
	}

	c := &rendezvous.Consumption{
		Result:           out.Result,
		NavigateTarget:   out.Result.NavigateTarget,
		Replayed:         out.Replayed,
		ActionsRemaining: out.Pair.ActionsRemaining,
	}

	if out.Replayed {
		metrics.ConsumptionsTotal.WithLabelValues(metrics.OutcomeReplayed).Inc()
		logger.Debug().Msg("Consumption replayed")
		return c, nil
	}

	metrics.ConsumptionsTotal.WithLabelValues(metrics.OutcomeConsumed).Inc()
	logger.Info().
		Str("activity", out.Result.Activity).
		Str("occurrence", out.Pair.LastOccurrence).
		Int("actions_remaining", out.Pair.ActionsRemaining).
		Msg("Action consumed")

	s.cancel(pairID)
	s.live.Broadcast(pairID, hub.ResultEvent{NavigateTarget: c.NavigateTarget, Result: c.Result})
	for _, role := range storage.Roles {
		if !s.live.Connected(pairID, role) {
			s.notify(notify.ActionConsumed{PairID: pairID, To: role, NavigateTarget: c.NavigateTarget})
		}
	}

	return c, nil
}

// Fetch returns the snapshot of pairID. The caller must be a member of it.
func (s *Service) Fetch(ctx context.Context, id identity.Identity, pairID string) (*rendezvous.Snapshot, error) {
	if err := id.Authorize(pairID); err != nil {
		return nil, err
	}

	pair, err := s.pairs.Get(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return s.snapshot(pair, id.Role, s.now()), nil
}

// CreatePair creates a pair on the trial plan.
func (s *Service) CreatePair(ctx context.Context) (*storage.Pair, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	pair := storage.Pair{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		ActionsRemaining: s.cfg.TrialActions,
		PlanTier:         storage.PlanTrial,
		TrialStartedAt:   now,
	}
	if err := s.pairs.Create(ctx, pair); err != nil {
		return nil, fmt.Errorf("create pair: %w", err)
	}

	s.logger.Info().Str("pair_id", pair.ID).Int("actions", pair.ActionsRemaining).Msg("Pair created")
	return &pair, nil
}

// GetPair returns a pair without an identity check, for the admin surface.
func (s *Service) GetPair(ctx context.Context, pairID string) (*storage.Pair, error) {
	pair, err := s.pairs.Get(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	return pair, nil
}

// SetPlan overwrites the pair's plan and remaining actions. The unlimited
// tier always stores the unlimited sentinel.
func (s *Service) SetPlan(ctx context.Context, pairID string, tier storage.PlanTier, actions int) (*storage.Pair, error) {
	if _, err := storage.ParsePlanTier(string(tier)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if tier == storage.PlanUnlimited {
		actions = storage.UnlimitedActions
	}
	if actions < storage.UnlimitedActions {
		return nil, fmt.Errorf("%w: actions must be >= %d", ErrInvalidRequest, storage.UnlimitedActions)
	}

	pair, err := s.pairs.SetPlan(ctx, pairID, tier, actions)
	if err != nil {
		return nil, fmt.Errorf("set plan: %w", err)
	}

	s.logger.Info().
		Str("pair_id", pairID).
		Str("plan", string(tier)).
		Int("actions", actions).
		Msg("Plan updated")
	return pair, nil
}

// RegisterPush stores the caller's push subscription.
func (s *Service) RegisterPush(ctx context.Context, id identity.Identity, endpoint, p256dh, auth string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidRequest)
	}
	if _, err := s.pairs.Get(ctx, id.PairID); err != nil {
		return fmt.Errorf("register push: %w", err)
	}

	return s.store.PushSubscriptions().Put(ctx, storage.PushSubscription{
		PairID:    id.PairID,
		Role:      id.Role,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: s.now().UTC(),
	})
}

// RegisterContact stores the caller's SMS phone number.
func (s *Service) RegisterContact(ctx context.Context, id identity.Identity, phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidRequest)
	}
	if _, err := s.pairs.Get(ctx, id.PairID); err != nil {
		return fmt.Errorf("register contact: %w", err)
	}

	return s.store.Contacts().Put(ctx, storage.Contact{
		PairID:    id.PairID,
		Role:      id.Role,
		Phone:     phone,
		CreatedAt: s.now().UTC(),
	})
}

// Close stops every scheduled consumption and waits for running ones.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for pairID, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, pairID)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) snapshot(pair *storage.Pair, role storage.Role, now time.Time) *rendezvous.Snapshot {
	snap := rendezvous.SnapshotOf(pair)
	view := rendezvous.Project(snap, role, now, s.cfg.TTL)
	snap.View = &view
	return &snap
}

func (s *Service) notify(intent notify.Intent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(intent)
}
