package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/duet/internal/hub"
	"github.com/goodtune/duet/internal/rendezvous"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultMinBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second
)

// Handler receives live events and reconciled snapshots.
// *rendezvous.Machine satisfies it.
type Handler interface {
	HandleEvent(ev hub.Event)
	Reconcile(snap rendezvous.Snapshot) rendezvous.View
}

// LiveConfig holds live channel settings
type LiveConfig struct {
	PingInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	// OnReconcile, if set, is called with the view applied after each
	// (re)connect. A view in CONSUMED carries the recovered result.
	OnReconcile func(rendezvous.View)
	Logger      zerolog.Logger
}

// Live keeps a Handler in step with the server. After every (re)connect it
// fetches the pair and reconciles before applying further events, so missed
// events are recovered from persisted state and never by re-pressing.
type Live struct {
	client  *Client
	handler Handler
	cfg     LiveConfig
	logger  zerolog.Logger
}

// Live creates the live channel of this client's member.
func (c *Client) Live(handler Handler, cfg LiveConfig) *Live {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	return &Live{
		client:  c,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "live").Logger(),
	}
}

// Run connects and reconnects until ctx is done. It returns ctx.Err().
func (l *Live) Run(ctx context.Context) error {
	backoff := l.cfg.MinBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = l.cfg.MinBackoff
		}
		l.logger.Debug().Err(err).Dur("retry_in", backoff).Msg("Live channel disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

// session runs one connection. connected reports whether the reconcile
// step was reached.
func (l *Live) session(ctx context.Context) (connected bool, err error) {
	ws, err := l.dial(ctx)
	if err != nil {
		return false, err
	}
	defer ws.Close()

	// Unblock the read loop when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	snap, err := l.client.FetchOwn(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch after connect: %w", err)
	}
	view := l.handler.Reconcile(*snap)
	if l.cfg.OnReconcile != nil {
		l.cfg.OnReconcile(view)
	}
	l.logger.Debug().Str("state", string(view.State)).Msg("Live channel connected")

	done := make(chan struct{})
	defer close(done)
	go l.keepalive(ws, done)

	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return true, err
		}

		ev, err := hub.Decode([]byte(msg))
		if err != nil {
			l.logger.Warn().Err(err).Msg("Ignoring malformed live event")
			continue
		}
		if ev == nil {
			continue
		}
		if _, ok := ev.(hub.PongEvent); ok {
			continue
		}
		l.handler.HandleEvent(ev)
	}
}

func (l *Live) keepalive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := websocket.Message.Send(ws, `{"type":"ping"}`); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

func (l *Live) dial(ctx context.Context) (*websocket.Conn, error) {
	base := l.client.baseURL
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/live"

	cfg, err := websocket.NewConfig(wsURL, base)
	if err != nil {
		return nil, fmt.Errorf("live config: %w", err)
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("Authorization", "Bearer "+l.client.token)

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial live channel: %w", err)
	}
	return ws, nil
}
