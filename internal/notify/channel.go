package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goodtune/duet/internal/storage"
)

// ErrNoRecipient is returned by a channel when the member registered no
// address for it. It is not a delivery failure.
var ErrNoRecipient = errors.New("notify: no recipient registered")

// Channel delivers an intent over one side channel.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, intent Intent) error
}

// PushChannel posts to a web push gateway with the recipient's subscription.
type PushChannel struct {
	url    string
	subs   storage.PushSubscriptionStore
	client *http.Client
}

// NewPushChannel creates a push channel posting to gatewayURL.
func NewPushChannel(gatewayURL string, subs storage.PushSubscriptionStore, client *http.Client) *PushChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &PushChannel{url: gatewayURL, subs: subs, client: client}
}

func (c *PushChannel) Name() string { return "push" }

type pushRequest struct {
	Subscription pushSubscription `json:"subscription"`
	Kind         string           `json:"kind"`
	Message
}

type pushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     pushKeys `json:"keys"`
}

type pushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Deliver sends intent to the recipient's push subscription.
func (c *PushChannel) Deliver(ctx context.Context, intent Intent) error {
	pairID, role := intent.Recipient()
	sub, err := c.subs.Get(ctx, pairID, role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoRecipient
		}
		return fmt.Errorf("lookup push subscription: %w", err)
	}

	body, err := json.Marshal(pushRequest{
		Subscription: pushSubscription{
			Endpoint: sub.Endpoint,
			Keys:     pushKeys{P256dh: sub.P256dh, Auth: sub.Auth},
		},
		Kind:    intent.Kind(),
		Message: intent.Message(),
	})
	if err != nil {
		return fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return do(c.client, req)
}

// SMSChannel posts a form to an SMS gateway with the recipient's phone number.
type SMSChannel struct {
	url      string
	from     string
	contacts storage.ContactStore
	client   *http.Client
}

// NewSMSChannel creates an SMS channel posting to gatewayURL.
func NewSMSChannel(gatewayURL, from string, contacts storage.ContactStore, client *http.Client) *SMSChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSChannel{url: gatewayURL, from: from, contacts: contacts, client: client}
}

func (c *SMSChannel) Name() string { return "sms" }

// Deliver texts intent to the recipient's registered phone.
func (c *SMSChannel) Deliver(ctx context.Context, intent Intent) error {
	pairID, role := intent.Recipient()
	contact, err := c.contacts.Get(ctx, pairID, role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoRecipient
		}
		return fmt.Errorf("lookup contact: %w", err)
	}

	msg := intent.Message()
	form := url.Values{}
	form.Set("To", contact.Phone)
	if c.from != "" {
		form.Set("From", c.from)
	}
	form.Set("Body", msg.Title+": "+msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return do(c.client, req)
}

func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
