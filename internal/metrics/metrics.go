// Package metrics exposes the scheduler's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazarusking/theaccelbot/internal/logger"
)

// Recovery outcomes.
const (
	OutcomeRearmed  = "rearmed"
	OutcomeCaughtUp = "caught_up"
	OutcomePruned   = "pruned"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

// Delivery statuses.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

type Metrics struct {
	fires         *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	fireDuration  prometheus.Histogram
	recovery      *prometheus.CounterVec
	armedTimers   prometheus.Gauge
	orphansSwept  prometheus.Counter
	storedJobs    prometheus.Gauge
	commandsTotal *prometheus.CounterVec
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fires_total",
				Help:      "Timer fires by kind (once, recurring)",
			},
			[]string{"kind"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Payload deliveries by status",
			},
			[]string{"status"},
		),
		fireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fire_duration_seconds",
				Help:      "Time spent handling one fire, delivery included",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60},
			},
		),
		recovery: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_jobs_total",
				Help:      "Jobs processed by startup recovery, by outcome",
			},
			[]string{"outcome"},
		),
		armedTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "armed_timers",
				Help:      "Timers currently registered in the scheduler",
			},
		),
		orphansSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphans_swept_total",
				Help:      "Stored jobs deleted because no timer was armed for them",
			},
		),
		storedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stored_jobs",
				Help:      "Jobs in the database at the last housekeeping run",
			},
		),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Bot commands handled, by command and result",
			},
			[]string{"command", "result"},
		),
	}

	reg.MustRegister(
		m.fires,
		m.deliveries,
		m.fireDuration,
		m.recovery,
		m.armedTimers,
		m.orphansSwept,
		m.storedJobs,
		m.commandsTotal,
	)

	return m
}

func (m *Metrics) RecordFire(recurring bool, d time.Duration) {
	if m == nil {
		return
	}
	kind := "once"
	if recurring {
		kind = "recurring"
	}
	m.fires.WithLabelValues(kind).Inc()
	m.fireDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordDelivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRecovery(outcome string) {
	if m == nil {
		return
	}
	m.recovery.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetArmedTimers(n int) {
	if m == nil {
		return
	}
	m.armedTimers.Set(float64(n))
}

func (m *Metrics) AddOrphansSwept(n int) {
	if m == nil {
		return
	}
	m.orphansSwept.Add(float64(n))
}

func (m *Metrics) SetStoredJobs(n int) {
	if m == nil {
		return
	}
	m.storedJobs.Set(float64(n))
}

func (m *Metrics) RecordCommand(command, result string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

// Server serves /metrics for a gatherer.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer builds a metrics HTTP server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics endpoint listening", logger.Field{Key: "addr", Value: s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
