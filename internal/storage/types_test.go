package storage

import (
	"errors"
	"testing"
	"time"
)

func TestIsReady(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	tests := []struct {
		name  string
		press *time.Time
		now   time.Time
		want  bool
	}{
		{name: "never pressed", press: nil, now: t0, want: false},
		{name: "just pressed", press: &t0, now: t0, want: true},
		{name: "inside window", press: &t0, now: t0.Add(4*time.Minute + 59*time.Second), want: true},
		{name: "exactly ttl", press: &t0, now: t0.Add(ttl), want: false},
		{name: "ttl plus one second", press: &t0, now: t0.Add(ttl + time.Second), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsReady(tt.press, tt.now, ttl); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPairCheckQuota(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	tests := []struct {
		name string
		pair Pair
		now  time.Time
		want error
	}{
		{name: "trial with actions", pair: Pair{PlanTier: PlanTrial, ActionsRemaining: 2, TrialStartedAt: t0}, now: t0, want: nil},
		{name: "trial at zero", pair: Pair{PlanTier: PlanTrial, ActionsRemaining: 0, TrialStartedAt: t0}, now: t0, want: ErrQuotaExceeded},
		{name: "trial expired", pair: Pair{PlanTier: PlanTrial, ActionsRemaining: 2, TrialStartedAt: t0}, now: t0.Add(week), want: ErrQuotaExceeded},
		{name: "standard ignores trial window", pair: Pair{PlanTier: PlanStandard, ActionsRemaining: 1, TrialStartedAt: t0}, now: t0.Add(2 * week), want: nil},
		{name: "unlimited", pair: Pair{PlanTier: PlanUnlimited, ActionsRemaining: UnlimitedActions}, now: t0, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pair.CheckQuota(QuotaGate{Now: tt.now, TrialPeriod: week})
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckQuota() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseRoleAndCounterpart(t *testing.T) {
	role, err := ParseRole(" Member2 ")
	if err != nil {
		t.Fatalf("ParseRole: %v", err)
	}
	if role != RoleMember2 {
		t.Fatalf("expected member2, got %s", role)
	}
	if role.Counterpart() != RoleMember1 {
		t.Fatalf("expected member1 counterpart, got %s", role.Counterpart())
	}
	if _, err := ParseRole("member3"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestOccurrence(t *testing.T) {
	a := time.UnixMilli(1000)
	b := time.UnixMilli(2500)
	if got := Occurrence(&a, &b); got != "1000:2500" {
		t.Fatalf("unexpected occurrence %s", got)
	}
	if got := Occurrence(nil, &b); got != "0:2500" {
		t.Fatalf("unexpected occurrence %s", got)
	}
}
