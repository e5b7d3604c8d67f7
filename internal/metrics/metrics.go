package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_sessions_started_total",
			Help: "Total usage sessions started",
		},
		[]string{"type"},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_sessions_ended_total",
			Help: "Total usage sessions ended",
		},
		[]string{"cause"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timewarden_active_sessions",
			Help: "Number of currently running usage sessions",
		},
	)

	// Ledger metrics
	UsageMinutesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_usage_minutes_consumed_total",
			Help: "Total usage minutes recorded into the daily ledger",
		},
		[]string{"user", "type"},
	)

	BonusMinutesGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_bonus_minutes_granted_total",
			Help: "Total bonus minutes granted",
		},
		[]string{"user"},
	)

	// Monitor metrics
	WarningsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_warnings_sent_total",
			Help: "Total low-time warnings emitted",
		},
		[]string{"threshold"},
	)

	MonitorRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timewarden_monitor_run_duration_seconds",
			Help:    "Duration of periodic monitor runs",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Connectivity metrics
	ConnectivityChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_connectivity_changes_total",
			Help: "Total connectivity state transitions",
		},
		[]string{"action", "source"},
	)

	BackendApplyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timewarden_backend_apply_failures_total",
			Help: "Connectivity backend apply failures by error class",
		},
		[]string{"error"},
	)

	// Rollover metrics
	RolloverRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timewarden_rollover_runs_total",
			Help: "Total daily rollover executions",
		},
	)

	RolloverErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timewarden_rollover_errors_total",
			Help: "Per-user errors collected during rollover",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		ActiveSessions,
		UsageMinutesConsumed,
		BonusMinutesGranted,
		WarningsSent,
		MonitorRunDuration,
		ConnectivityChanges,
		BackendApplyFailures,
		RolloverRuns,
		RolloverErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
