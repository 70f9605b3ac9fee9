// Package client is the member-side Go client of the duet API. Client is a
// rendezvous.Backend, and Live keeps a rendezvous.Machine in step with the
// server over the live channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/duet/internal/rendezvous"
)

// PushSubscription is the payload for registering a browser push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Client is the duet member API client. It authenticates with one member's
// session token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Press records this member's press.
func (c *Client) Press(ctx context.Context) (*rendezvous.Snapshot, error) {
	var snap rendezvous.Snapshot
	if err := c.post(ctx, "/api/pair/press", nil, &snap); err != nil {
		return nil, fmt.Errorf("client.Press: %w", err)
	}
	return &snap, nil
}

// Reset clears both presses of the pair.
func (c *Client) Reset(ctx context.Context) (*rendezvous.Snapshot, error) {
	var snap rendezvous.Snapshot
	if err := c.post(ctx, "/api/pair/reset", nil, &snap); err != nil {
		return nil, fmt.Errorf("client.Reset: %w", err)
	}
	return &snap, nil
}

// Consume consumes the current both-ready occurrence, or replays the last one.
func (c *Client) Consume(ctx context.Context) (*rendezvous.Consumption, error) {
	var out rendezvous.Consumption
	if err := c.post(ctx, "/api/pair/consume", nil, &out); err != nil {
		return nil, fmt.Errorf("client.Consume: %w", err)
	}
	return &out, nil
}

// FetchOwn returns the snapshot of this member's pair.
func (c *Client) FetchOwn(ctx context.Context) (*rendezvous.Snapshot, error) {
	var snap rendezvous.Snapshot
	if err := c.get(ctx, "/api/pair", &snap); err != nil {
		return nil, fmt.Errorf("client.FetchOwn: %w", err)
	}
	return &snap, nil
}

// Fetch returns the snapshot of the named pair.
func (c *Client) Fetch(ctx context.Context, pairID string) (*rendezvous.Snapshot, error) {
	var snap rendezvous.Snapshot
	if err := c.get(ctx, "/api/pairs/"+url.PathEscape(pairID), &snap); err != nil {
		return nil, fmt.Errorf("client.Fetch: %w", err)
	}
	return &snap, nil
}

// RegisterPush stores this member's push subscription.
func (c *Client) RegisterPush(ctx context.Context, sub PushSubscription) error {
	if err := c.doRequest(ctx, http.MethodPut, "/api/pair/push", sub, nil); err != nil {
		return fmt.Errorf("client.RegisterPush: %w", err)
	}
	return nil
}

// RegisterContact stores this member's SMS phone number.
func (c *Client) RegisterContact(ctx context.Context, phone string) error {
	body := map[string]string{"phone": phone}
	if err := c.doRequest(ctx, http.MethodPut, "/api/pair/contact", body, nil); err != nil {
		return fmt.Errorf("client.RegisterContact: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Code: apiErr.Error, Message: apiErr.Message}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
