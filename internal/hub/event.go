package hub

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/duet/internal/storage"
)

// Event type tags on the wire
const (
	TypePress  = "press"
	TypeReset  = "reset"
	TypeResult = "result"
	TypePing   = "ping"
	TypePong   = "pong"
)

// Event is a live channel message. The set of events is closed: PressEvent,
// ResetEvent, ResultEvent and the PongEvent keepalive reply.
type Event interface {
	EventType() string
}

// PressEvent announces that role pressed.
type PressEvent struct {
	Role storage.Role
}

// ResetEvent announces that the pair's presses were cleared.
type ResetEvent struct{}

// ResultEvent carries the outcome of a consumption.
type ResultEvent struct {
	NavigateTarget string
	Result         storage.Result
}

// PongEvent answers a client ping.
type PongEvent struct{}

func (PressEvent) EventType() string  { return TypePress }
func (ResetEvent) EventType() string  { return TypeReset }
func (ResultEvent) EventType() string { return TypeResult }
func (PongEvent) EventType() string   { return TypePong }

type envelope struct {
	Type           string          `json:"type"`
	Role           storage.Role    `json:"role,omitempty"`
	NavigateTarget string          `json:"navigateTarget,omitempty"`
	Result         *storage.Result `json:"result,omitempty"`
}

// Encode renders an event as a JSON frame
func Encode(ev Event) ([]byte, error) {
	env := envelope{Type: ev.EventType()}
	switch e := ev.(type) {
	case PressEvent:
		env.Role = e.Role
	case ResetEvent, PongEvent:
	case ResultEvent:
		result := e.Result
		env.NavigateTarget = e.NavigateTarget
		env.Result = &result
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
	return json.Marshal(env)
}

// Decode parses a JSON frame into an event. Ping frames decode to nil.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch env.Type {
	case TypePress:
		role, err := storage.ParseRole(string(env.Role))
		if err != nil {
			return nil, fmt.Errorf("decode press event: %w", err)
		}
		return PressEvent{Role: role}, nil
	case TypeReset:
		return ResetEvent{}, nil
	case TypeResult:
		ev := ResultEvent{NavigateTarget: env.NavigateTarget}
		if env.Result != nil {
			ev.Result = *env.Result
		}
		return ev, nil
	case TypePong:
		return PongEvent{}, nil
	case TypePing:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
