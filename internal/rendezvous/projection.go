package rendezvous

import (
	"time"

	"github.com/goodtune/duet/internal/storage"
)

// State is the logical rendezvous state of one member.
type State string

const (
	StateIdle         State = "IDLE"
	StatePartnerReady State = "PARTNER_READY"
	StateSelfReady    State = "SELF_READY"
	StateBothReady    State = "BOTH_READY"
	StateConsuming    State = "CONSUMING"
	StateConsumed     State = "CONSUMED"
)

// Snapshot is the server truth of a pair as returned by fetch and press.
type Snapshot struct {
	PairID           string           `json:"pair_id"`
	Member1PressedAt *time.Time       `json:"member1_pressed_at,omitempty"`
	Member2PressedAt *time.Time       `json:"member2_pressed_at,omitempty"`
	ActionsRemaining int              `json:"actions_remaining"`
	PlanTier         storage.PlanTier `json:"plan_tier"`
	ConsumedCount    int64            `json:"consumed_count"`
	LastConsumedAt   *time.Time       `json:"last_consumed_at,omitempty"`
	LastResult       *storage.Result  `json:"last_result,omitempty"`
	View             *View            `json:"view,omitempty"`
}

// SnapshotOf copies the client-visible fields of a pair.
func SnapshotOf(p *storage.Pair) Snapshot {
	return Snapshot{
		PairID:           p.ID,
		Member1PressedAt: p.Member1PressedAt,
		Member2PressedAt: p.Member2PressedAt,
		ActionsRemaining: p.ActionsRemaining,
		PlanTier:         p.PlanTier,
		ConsumedCount:    p.ConsumedCount,
		LastConsumedAt:   p.LastConsumedAt,
		LastResult:       p.LastResult,
	}
}

// PressedAt returns the press timestamp of role.
func (s Snapshot) PressedAt(role storage.Role) *time.Time {
	if role == storage.RoleMember1 {
		return s.Member1PressedAt
	}
	return s.Member2PressedAt
}

// View is one member's projection of a snapshot.
type View struct {
	Role             storage.Role `json:"role"`
	State            State        `json:"state"`
	SelfReady        bool         `json:"self_ready"`
	PartnerReady     bool         `json:"partner_ready"`
	BothReady        bool         `json:"both_ready"`
	SelfExpiresAt    *time.Time   `json:"self_expires_at,omitempty"`
	PartnerExpiresAt *time.Time   `json:"partner_expires_at,omitempty"`

	// Result is only set by Machine.Reconcile when it reports CONSUMED.
	Result *storage.Result `json:"result,omitempty"`
}

// Project derives the logical state of role from persisted timestamps.
// Expired presses count as absent, and with no live press the result is
// IDLE whatever the client believed before.
func Project(s Snapshot, role storage.Role, now time.Time, ttl time.Duration) View {
	self := s.PressedAt(role)
	partner := s.PressedAt(role.Counterpart())

	v := View{
		Role:         role,
		SelfReady:    storage.IsReady(self, now, ttl),
		PartnerReady: storage.IsReady(partner, now, ttl),
	}
	v.BothReady = v.SelfReady && v.PartnerReady

	if v.SelfReady {
		v.SelfExpiresAt = expiry(self, ttl)
	}
	if v.PartnerReady {
		v.PartnerExpiresAt = expiry(partner, ttl)
	}

	switch {
	case v.BothReady:
		v.State = StateBothReady
	case v.SelfReady:
		v.State = StateSelfReady
	case v.PartnerReady:
		v.State = StatePartnerReady
	default:
		v.State = StateIdle
	}

	return v
}

func expiry(pressedAt *time.Time, ttl time.Duration) *time.Time {
	at := pressedAt.Add(ttl)
	return &at
}
