package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultSettleDelay    = 800 * time.Millisecond
	DefaultConsumeTimeout = 10 * time.Second
	DefaultReplayWindow   = 30 * time.Second
)

// ErrInvalidTransition is returned when an operation is not allowed in the current state.
var ErrInvalidTransition = errors.New("rendezvous: invalid transition")

// Backend is the server side the machine drives.
type Backend interface {
	Press(ctx context.Context) (*Snapshot, error)
	Reset(ctx context.Context) (*Snapshot, error)
	Consume(ctx context.Context) (*Consumption, error)
}

// Consumption is the answer to a consume call.
type Consumption struct {
	Result           storage.Result `json:"result"`
	NavigateTarget   string         `json:"navigate_target"`
	Replayed         bool           `json:"replayed"`
	ActionsRemaining int            `json:"actions_remaining"`
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
}

// MachineConfig holds state machine settings
type MachineConfig struct {
	Role           storage.Role
	TTL            time.Duration
	SettleDelay    time.Duration
	ConsumeTimeout time.Duration
	ReplayWindow   time.Duration // how long after a consumption Reconcile restores a missed result
	Clock          Clock
	Logger         zerolog.Logger
}

// Machine is the client-side rendezvous state of one member. Its state is a
// cache of the server's; Reconcile replaces it with the projection of a
// fresh snapshot.
type Machine struct {
	mu sync.Mutex

	role           storage.Role
	ttl            time.Duration
	settleDelay    time.Duration
	consumeTimeout time.Duration
	replayWindow   time.Duration
	clock          Clock
	backend        Backend
	logger         zerolog.Logger

	state       State
	partnerAt   *time.Time // when the counterpart's current press happened
	result      *storage.Result
	delivered   *storage.Result // last result this machine entered CONSUMED with
	restored    bool            // SELF_READY came from Reconcile, so a press may be repeated
	lastErr     error
	settle      *time.Timer
	epoch       uint64 // bumped whenever a pending settle must be abandoned
	transitions chan Transition
}

// NewMachine creates a machine in IDLE.
func NewMachine(cfg MachineConfig, backend Backend) *Machine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ConsumeTimeout <= 0 {
		cfg.ConsumeTimeout = DefaultConsumeTimeout
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}

	return &Machine{
		role:           cfg.Role,
		ttl:            cfg.TTL,
		settleDelay:    cfg.SettleDelay,
		consumeTimeout: cfg.ConsumeTimeout,
		replayWindow:   cfg.ReplayWindow,
		clock:          cfg.Clock,
		backend:        backend,
		logger:         cfg.Logger.With().Str("component", "rendezvous").Str("role", string(cfg.Role)).Logger(),
		state:          StateIdle,
		transitions:    make(chan Transition, 64),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns the result of the last consumption while CONSUMED.
func (m *Machine) Result() *storage.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// LastError returns the error of the last settle-triggered consume, if any.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Transitions delivers state changes. Changes are dropped when nobody reads.
func (m *Machine) Transitions() <-chan Transition {
	return m.transitions
}

// Press records this member's press on the server. On error, including
// quota errors, the state is left untouched. A press from SELF_READY is only
// accepted when that state was restored by Reconcile.
func (m *Machine) Press(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	state, ok := m.state, m.pressableLocked()
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: press from %s", ErrInvalidTransition, state)
	}

	snap, err := m.backend.Press(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// An event may have moved us on while the request was in flight
	if !m.pressableLocked() {
		return snap, nil
	}
	m.restored = false

	now := m.clock.Now()
	v := Project(*snap, m.role, now, m.ttl)
	if v.PartnerReady {
		m.partnerAt = snap.PressedAt(m.role.Counterpart())
	}

	if v.BothReady || m.partnerReadyLocked(now) {
		m.enterBothReadyLocked()
	} else {
		m.transitionLocked(StateSelfReady)
	}
	return snap, nil
}

// HandleEvent applies a live channel event.
func (m *Machine) HandleEvent(ev hub.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case hub.PressEvent:
		if e.Role == m.role {
			return
		}
		now := m.clock.Now()
		m.partnerAt = &now
		switch m.state {
		case StateSelfReady:
			m.enterBothReadyLocked()
		case StateIdle:
			m.transitionLocked(StatePartnerReady)
		}
	case hub.ResetEvent:
		m.toIdleLocked()
	case hub.ResultEvent:
		m.cancelSettleLocked()
		result := e.Result
		if result.NavigateTarget == "" {
			result.NavigateTarget = e.NavigateTarget
		}
		m.consumedLocked(&result)
	}
}

// Reset cancels any pending settle, returns to IDLE and clears both presses
// on the server.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.toIdleLocked()
	m.mu.Unlock()

	if _, err := m.backend.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Acknowledge returns from CONSUMED to IDLE once the result was acted on.
func (m *Machine) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConsumed {
		return fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, m.state)
	}
	m.result = nil
	m.transitionLocked(StateIdle)
	return nil
}

// Reconcile replaces the cached state with the projection of snap. It is
// called after every (re)connect with a freshly fetched snapshot.
//
// An IDLE projection keeps a CONSUMED state, and restores CONSUMED when the
// snapshot carries a consumption inside the replay window that this machine
// never delivered. The returned view then reports CONSUMED with its result.
func (m *Machine) Reconcile(snap Snapshot) View {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	v := Project(snap, m.role, now, m.ttl)
	switch v.State {
	case StateIdle:
		if missed := m.missedResultLocked(snap, now); missed != nil {
			m.cancelSettleLocked()
			m.consumedLocked(missed)
		}
		if m.state == StateConsumed {
			v.State = StateConsumed
			v.Result = m.result
			break
		}
		m.toIdleLocked()
	case StatePartnerReady:
		m.cancelSettleLocked()
		m.result = nil
		m.partnerAt = snap.PressedAt(m.role.Counterpart())
		m.transitionLocked(StatePartnerReady)
	case StateSelfReady:
		m.cancelSettleLocked()
		m.result = nil
		m.partnerAt = nil
		m.transitionLocked(StateSelfReady)
		m.restored = true
	case StateBothReady:
		m.partnerAt = snap.PressedAt(m.role.Counterpart())
		if m.state != StateBothReady && m.state != StateConsuming {
			m.result = nil
			m.enterBothReadyLocked()
		}
	}
	return v
}

// Close stops any pending settle.
func (m *Machine) Close() {
	m.mu.Lock()
	m.cancelSettleLocked()
	m.mu.Unlock()
}

func (m *Machine) pressableLocked() bool {
	switch m.state {
	case StateIdle, StatePartnerReady:
		return true
	case StateSelfReady:
		return m.restored
	}
	return false
}

// missedResultLocked returns the snapshot's last result when it is recent
// enough to replay and was never shown by this machine.
func (m *Machine) missedResultLocked(snap Snapshot, now time.Time) *storage.Result {
	if m.state == StateConsumed || snap.LastConsumedAt == nil || snap.LastResult == nil {
		return nil
	}
	if now.Sub(*snap.LastConsumedAt) >= m.replayWindow {
		return nil
	}
	if m.delivered != nil && sameResult(*m.delivered, *snap.LastResult) {
		return nil
	}
	result := *snap.LastResult
	return &result
}

func sameResult(a, b storage.Result) bool {
	return a.Activity == b.Activity &&
		a.ProducedAt.Truncate(time.Millisecond).Equal(b.ProducedAt.Truncate(time.Millisecond))
}

func (m *Machine) consumedLocked(result *storage.Result) {
	m.result = result
	m.delivered = result
	m.partnerAt = nil
	m.transitionLocked(StateConsumed)
}

func (m *Machine) partnerReadyLocked(now time.Time) bool {
	return storage.IsReady(m.partnerAt, now, m.ttl)
}

func (m *Machine) enterBothReadyLocked() {
	m.cancelSettleLocked()
	m.transitionLocked(StateBothReady)

	epoch := m.epoch
	m.settle = time.AfterFunc(m.settleDelay, func() {
		m.settled(epoch)
	})
}

func (m *Machine) settled(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateBothReady {
		m.mu.Unlock()
		return
	}
	m.settle = nil
	m.transitionLocked(StateConsuming)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.consumeTimeout)
	defer cancel()
	c, err := m.backend.Consume(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.state != StateConsuming {
		// Reset or a result event got there first
		return
	}

	if err != nil {
		m.lastErr = err
		m.logger.Warn().Err(err).Msg("Consume failed")
		m.partnerAt = nil
		m.transitionLocked(StateIdle)
		return
	}

	m.lastErr = nil
	result := c.Result
	if result.NavigateTarget == "" {
		result.NavigateTarget = c.NavigateTarget
	}
	m.consumedLocked(&result)
}

func (m *Machine) toIdleLocked() {
	m.cancelSettleLocked()
	m.partnerAt = nil
	m.result = nil
	m.transitionLocked(StateIdle)
}

func (m *Machine) cancelSettleLocked() {
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	m.epoch++
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.restored = false
	m.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("State transition")

	select {
	case m.transitions <- Transition{From: from, To: to}:
	default:
	}
}
