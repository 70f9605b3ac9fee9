package notify

import (
	"fmt"

	"github.com/goodtune/duet/internal/storage"
)

// Intent kinds
const (
	KindPartnerReady   = "partner_ready"
	KindActionConsumed = "action_consumed"
)

// Intent is something a member should be told about on a side channel. The
// set is closed: PartnerReady and ActionConsumed.
type Intent interface {
	Kind() string
	Recipient() (pairID string, role storage.Role)
	Message() Message
}

// Message is the rendered text of an intent.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// PartnerReady tells To that From pressed and is waiting.
type PartnerReady struct {
	PairID string
	From   storage.Role
	To     storage.Role
}

func (PartnerReady) Kind() string { return KindPartnerReady }

func (i PartnerReady) Recipient() (string, storage.Role) { return i.PairID, i.To }

func (i PartnerReady) Message() Message {
	return Message{
		Title: "Your partner is ready",
		Body:  "Your partner pressed. Press too and start something together.",
		URL:   "/",
	}
}

// ActionConsumed tells To, who was not connected, that an action was started.
type ActionConsumed struct {
	PairID         string
	To             storage.Role
	NavigateTarget string
}

func (ActionConsumed) Kind() string { return KindActionConsumed }

func (i ActionConsumed) Recipient() (string, storage.Role) { return i.PairID, i.To }

func (i ActionConsumed) Message() Message {
	return Message{
		Title: "It's a match",
		Body:  fmt.Sprintf("You both pressed. Open %s to see what's next.", i.NavigateTarget),
		URL:   i.NavigateTarget,
	}
}
