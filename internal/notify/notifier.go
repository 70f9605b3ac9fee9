// Package notify nudges members on side channels when the live channel
// cannot reach them.
//
// Every channel delivers in its own goroutine with its own timeout and
// panic boundary. Failures are logged and counted and never reach the
// caller; nothing is retried.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/duet/internal/metrics"
	"github.com/goodtune/duet/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultCooldown     = time.Minute
	DefaultCooldownSize = 4096
)

// Config holds notifier settings
type Config struct {
	PushURL      string
	SMSURL       string
	SMSFrom      string
	Timeout      time.Duration
	Cooldown     time.Duration
	CooldownSize int
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Notifier fans intents out to every enabled channel.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
	window   time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cooldown *lru.Cache[string, time.Time]

	wg sync.WaitGroup
}

// New creates a notifier with the push and SMS channels whose gateway URL is set.
func New(cfg Config, store storage.Store) (*Notifier, error) {
	var channels []Channel
	if cfg.PushURL != "" {
		channels = append(channels, NewPushChannel(cfg.PushURL, store.PushSubscriptions(), cfg.HTTPClient))
	}
	if cfg.SMSURL != "" {
		channels = append(channels, NewSMSChannel(cfg.SMSURL, cfg.SMSFrom, store.Contacts(), cfg.HTTPClient))
	}
	return NewWithChannels(cfg, channels...)
}

// NewWithChannels creates a notifier over explicit channels.
func NewWithChannels(cfg Config, channels ...Channel) (*Notifier, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.CooldownSize <= 0 {
		cfg.CooldownSize = DefaultCooldownSize
	}

	cache, err := lru.New[string, time.Time](cfg.CooldownSize)
	if err != nil {
		return nil, fmt.Errorf("create cooldown cache: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "notify").Logger()
	for _, ch := range channels {
		logger.Info().Str("channel", ch.Name()).Msg("Notification channel enabled")
	}

	return &Notifier{
		channels: channels,
		timeout:  cfg.Timeout,
		window:   cfg.Cooldown,
		logger:   logger,
		now:      time.Now,
		cooldown: cache,
	}, nil
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return len(n.channels) > 0
}

// Notify dispatches intent to every channel and returns immediately.
// Repeats of the same intent kind to the same member inside the cooldown
// window are suppressed.
func (n *Notifier) Notify(intent Intent) {
	if len(n.channels) == 0 {
		return
	}

	pairID, role := intent.Recipient()
	logger := n.logger.With().
		Str("pair_id", pairID).
		Str("role", string(role)).
		Str("intent", intent.Kind()).
		Logger()

	if !n.admit(pairID, role, intent.Kind()) {
		logger.Debug().Msg("Notification suppressed by cooldown")
		metrics.NotificationsTotal.WithLabelValues("all", "suppressed").Inc()
		return
	}

	for _, ch := range n.channels {
		n.wg.Add(1)
		go n.deliver(ch, intent, logger)
	}
}

// Wait blocks until every in-flight delivery finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) admit(pairID string, role storage.Role, kind string) bool {
	if n.window == 0 {
		return true
	}

	key := pairID + "|" + string(role) + "|" + kind
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.cooldown.Get(key); ok && now.Sub(last) < n.window {
		return false
	}
	n.cooldown.Add(key, now)
	return true
}

func (n *Notifier) deliver(ch Channel, intent Intent, logger zerolog.Logger) {
	defer n.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("channel", ch.Name()).Interface("panic", r).Msg("Notification channel panicked")
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), "panic").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err := ch.Deliver(ctx, intent)
	switch {
	case err == nil:
		logger.Debug().Str("channel", ch.Name()).Msg("Notification delivered")
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), "sent").Inc()
	case errors.Is(err, ErrNoRecipient):
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), "skipped").Inc()
	default:
		logger.Warn().Err(err).Str("channel", ch.Name()).Msg("Notification delivery failed")
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), "failed").Inc()
	}
}
