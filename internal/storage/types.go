package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UnlimitedActions is the ActionsRemaining sentinel of the unlimited plan.
const UnlimitedActions = -1

// Role labels one member of a pair.
type Role string

const (
	RoleMember1 Role = "member1"
	RoleMember2 Role = "member2"
)

// Roles lists both roles in canonical order.
var Roles = []Role{RoleMember1, RoleMember2}

// ParseRole validates a role label.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleMember1, RoleMember2:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role: %q (must be member1 or member2)", s)
	}
}

// Counterpart returns the other member's role.
func (r Role) Counterpart() Role {
	if r == RoleMember1 {
		return RoleMember2
	}
	return RoleMember1
}

// PlanTier is the billing plan of a pair.
type PlanTier string

const (
	PlanTrial     PlanTier = "trial"
	PlanStandard  PlanTier = "standard"
	PlanUnlimited PlanTier = "unlimited"
)

// ParsePlanTier validates a plan tier.
func ParsePlanTier(s string) (PlanTier, error) {
	switch p := PlanTier(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanTrial, PlanStandard, PlanUnlimited:
		return p, nil
	default:
		return "", fmt.Errorf("invalid plan tier: %q (must be trial, standard, or unlimited)", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to normalize and validate the tier.
func (p *PlanTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	tier, err := ParsePlanTier(s)
	if err != nil {
		return err
	}
	*p = tier
	return nil
}

// Pair is the persistent aggregate owning all rendezvous state of two members.
type Pair struct {
	ID               string     `json:"id"`
	CreatedAt        time.Time  `json:"created_at"`
	Member1PressedAt *time.Time `json:"member1_pressed_at,omitempty"`
	Member2PressedAt *time.Time `json:"member2_pressed_at,omitempty"`
	ActionsRemaining int        `json:"actions_remaining"`
	PlanTier         PlanTier   `json:"plan_tier"`
	TrialStartedAt   time.Time  `json:"trial_started_at"`
	ConsumedCount    int64      `json:"consumed_count"`
	LastConsumedAt   *time.Time `json:"last_consumed_at,omitempty"`
	LastOccurrence   string     `json:"last_occurrence,omitempty"`
	LastResult       *Result    `json:"last_result,omitempty"`
}

// Result is the shared outcome of one consumption.
type Result struct {
	Activity       string    `json:"activity"`
	NavigateTarget string    `json:"navigate_target"`
	ProducedAt     time.Time `json:"produced_at"`
}

// PressedAt returns the press timestamp of role.
func (p *Pair) PressedAt(role Role) *time.Time {
	if role == RoleMember1 {
		return p.Member1PressedAt
	}
	return p.Member2PressedAt
}

// SetPressedAt writes the press timestamp of role.
func (p *Pair) SetPressedAt(role Role, at *time.Time) {
	if role == RoleMember1 {
		p.Member1PressedAt = at
		return
	}
	p.Member2PressedAt = at
}

// Unlimited reports whether the pair's quota is never decremented.
func (p *Pair) Unlimited() bool {
	return p.PlanTier == PlanUnlimited || p.ActionsRemaining == UnlimitedActions
}

// CheckQuota returns ErrQuotaExceeded when the pair may not start another action.
func (p *Pair) CheckQuota(gate QuotaGate) error {
	if p.Unlimited() {
		return nil
	}
	if p.ActionsRemaining <= 0 {
		return ErrQuotaExceeded
	}
	if p.PlanTier == PlanTrial && gate.TrialPeriod > 0 && !gate.Now.Before(p.TrialStartedAt.Add(gate.TrialPeriod)) {
		return ErrQuotaExceeded
	}
	return nil
}

// BothReady reports whether both presses are inside the readiness window.
func (p *Pair) BothReady(now time.Time, ttl time.Duration) bool {
	return IsReady(p.Member1PressedAt, now, ttl) && IsReady(p.Member2PressedAt, now, ttl)
}

// Occurrence identifies the current both-ready occurrence by its press timestamps.
func (p *Pair) Occurrence() string {
	return Occurrence(p.Member1PressedAt, p.Member2PressedAt)
}

// Occurrence formats the identifier of a both-ready occurrence. Timestamps
// are taken at millisecond precision, which is what every backend persists.
func Occurrence(member1, member2 *time.Time) string {
	return fmt.Sprintf("%d:%d", unixMilli(member1), unixMilli(member2))
}

// IsReady reports whether a press at pressedAt still counts at now.
func IsReady(pressedAt *time.Time, now time.Time, ttl time.Duration) bool {
	if pressedAt == nil {
		return false
	}
	return now.Sub(*pressedAt) < ttl
}

func unixMilli(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

// PushSubscription is a member's registered push endpoint.
type PushSubscription struct {
	PairID    string    `json:"pair_id"`
	Role      Role      `json:"role"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a member's registered SMS number.
type Contact struct {
	PairID    string    `json:"pair_id"`
	Role      Role      `json:"role"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}
