package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Rendezvous metrics
	PressesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_presses_total",
			Help: "Total accepted presses",
		},
		[]string{"role"},
	)

	ResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duet_resets_total",
			Help: "Total resets",
		},
	)

	ConsumptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_consumptions_total",
			Help: "Consume attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Live channel metrics
	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duet_live_connections",
			Help: "Number of registered live connections",
		},
	)

	LiveSendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_live_send_failures_total",
			Help: "Live channel events that could not be delivered",
		},
		[]string{"reason"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_notifications_total",
			Help: "Side-channel notifications by channel and status",
		},
		[]string{"channel", "status"},
	)

	// HTTP metrics
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Consumption outcomes
const (
	OutcomeConsumed      = "consumed"
	OutcomeReplayed      = "replayed"
	OutcomeNotReady      = "not_ready"
	OutcomeQuotaExceeded = "quota_exceeded"
)

func init() {
	prometheus.MustRegister(
		PressesTotal,
		ResetsTotal,
		ConsumptionsTotal,
		LiveConnections,
		LiveSendFailures,
		NotificationsTotal,
		RequestDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // pre-created listener from socket activation
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Handler(),
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /health
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
