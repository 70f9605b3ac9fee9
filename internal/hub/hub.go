// Package hub keeps the live connection of every pair member and fans
// events out to them.
//
// Delivery is best effort. Every connection has its own writer goroutine and
// bounded queue; a full queue or failed write is logged and counted, and the
// caller is never blocked or told about it. Nothing is replayed on connect,
// the persisted pair state is the fallback.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/duet/internal/metrics"
	"github.com/goodtune/duet/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize    = 16
	DefaultWriteTimeout = 5 * time.Second
)

// Conn is one transport connection of a member.
type Conn interface {
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Config holds hub settings
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

type key struct {
	pairID string
	role   storage.Role
}

// Hub is the registry of live connections keyed by (pair, role).
type Hub struct {
	mu     sync.RWMutex
	conns  map[key]*client
	closed bool

	queueSize    int
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// New creates an empty hub
func New(cfg Config) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return &Hub{
		conns:        make(map[key]*client),
		queueSize:    cfg.QueueSize,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger.With().Str("component", "hub").Logger(),
	}
}

// Register makes conn the authoritative connection for (pairID, role). Any
// connection it replaces is closed.
func (h *Hub) Register(pairID string, role storage.Role, conn Conn) {
	h.register(pairID, role, conn)
}

func (h *Hub) register(pairID string, role storage.Role, conn Conn) *client {
	c := newClient(conn, h.queueSize, h.writeTimeout, h.logger.With().
		Str("pair_id", pairID).
		Str("role", string(role)).
		Logger())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return c
	}
	k := key{pairID: pairID, role: role}
	old := h.conns[k]
	h.conns[k] = c
	metrics.LiveConnections.Set(float64(len(h.conns)))
	h.mu.Unlock()

	if old != nil {
		h.logger.Debug().
			Str("pair_id", pairID).
			Str("role", string(role)).
			Msg("Replacing live connection")
		old.close()
	}

	go c.run()
	return c
}

// Unregister removes conn if it is still the registered connection for the key.
func (h *Hub) Unregister(pairID string, role storage.Role, conn Conn) {
	k := key{pairID: pairID, role: role}

	h.mu.Lock()
	c, ok := h.conns[k]
	if !ok || c.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.conns, k)
	metrics.LiveConnections.Set(float64(len(h.conns)))
	h.mu.Unlock()

	c.close()
}

// Connected reports whether (pairID, role) has a live connection.
func (h *Hub) Connected(pairID string, role storage.Role) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[key{pairID: pairID, role: role}]
	return ok
}

// Send queues ev for one member.
func (h *Hub) Send(pairID string, role storage.Role, ev Event) {
	frame, err := Encode(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode event")
		metrics.LiveSendFailures.WithLabelValues("encode").Inc()
		return
	}

	h.mu.RLock()
	c, ok := h.conns[key{pairID: pairID, role: role}]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug().
			Str("pair_id", pairID).
			Str("role", string(role)).
			Str("event", ev.EventType()).
			Msg("Member not connected, event dropped")
		metrics.LiveSendFailures.WithLabelValues("not_connected").Inc()
		return
	}

	c.enqueue(frame, ev.EventType())
}

// Broadcast queues ev for both members of a pair.
func (h *Hub) Broadcast(pairID string, ev Event) {
	for _, role := range storage.Roles {
		h.Send(pairID, role, ev)
	}
}

// Close closes every registered connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[key]*client)
	h.closed = true
	metrics.LiveConnections.Set(0)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// client owns the writer goroutine of one connection.
type client struct {
	conn         Conn
	queue        chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func newClient(conn Conn, queueSize int, writeTimeout time.Duration, logger zerolog.Logger) *client {
	return &client{
		conn:         conn,
		queue:        make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (c *client) enqueue(frame []byte, eventType string) {
	select {
	case <-c.done:
		metrics.LiveSendFailures.WithLabelValues("closed").Inc()
	case c.queue <- frame:
	default:
		c.logger.Warn().Str("event", eventType).Msg("Live queue full, event dropped")
		metrics.LiveSendFailures.WithLabelValues("queue_full").Inc()
	}
}

func (c *client) run() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.conn.Write(ctx, frame)
			cancel()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Live write failed")
				metrics.LiveSendFailures.WithLabelValues("write").Inc()
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing live connection")
		}
	})
}
