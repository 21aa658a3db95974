// Package metrics exposes orchestrator counters in Prometheus format.
//
// Metrics are registered on a private registry rather than the global
// default one, so several orchestrators (and tests) can coexist in one
// process.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/auditcore/internal/audit"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/rpc"
)

// Namespace prefixes every metric name.
const Namespace = "auditcore"

// Metrics holds the orchestrator collectors.
type Metrics struct {
	registry *prometheus.Registry

	messagesTotal      *prometheus.CounterVec
	rpcCallsTotal      *prometheus.CounterVec
	rpcDurationSeconds *prometheus.HistogramVec
	dispatchTotal      *prometheus.CounterVec
	auditsStarted      prometheus.Counter
	auditsRemoved      prometheus.Counter
	activeAudits       prometheus.Gauge
	queueLength        prometheus.Gauge
}

var _ audit.Observer = (*Metrics)(nil)

// New creates the collectors and registers them.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() error {
	// Counters
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Messages taken off the orchestrator queue",
		},
		[]string{"type", "code"},
	)

	m.rpcCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_calls_total",
			Help:      "RPC calls executed, by code and error kind (ok on success)",
		},
		[]string{"code", "result"},
	)

	m.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_total",
			Help:      "Data messages routed by audits, by outcome and drop reason",
		},
		[]string{"outcome", "reason"},
	)

	m.auditsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "audits_started_total",
		Help:      "Audits registered",
	})

	m.auditsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "audits_removed_total",
		Help:      "Audits torn down",
	})

	// Gauges
	m.activeAudits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_audits",
		Help:      "Audits currently registered",
	})

	m.queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "queue_length",
		Help:      "Messages waiting in the orchestrator queue",
	})

	// Histograms
	m.rpcDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC handler latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"code"},
	)

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.rpcCallsTotal,
		m.rpcDurationSeconds,
		m.dispatchTotal,
		m.auditsStarted,
		m.auditsRemoved,
		m.activeAudits,
		m.queueLength,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveMessage counts a message taken off the queue.
func (m *Metrics) ObserveMessage(msg message.Message) {
	m.messagesTotal.WithLabelValues(msg.Type().String(), message.CodeName(msg.Type(), msg.Code())).Inc()
}

// SetQueueLength records the current queue depth.
func (m *Metrics) SetQueueLength(n int) {
	m.queueLength.Set(float64(n))
}

// RPCObserver adapts the collectors to the RPC dispatcher hook.
func (m *Metrics) RPCObserver() rpc.Observer {
	return func(code message.Code, kind rpc.Kind, elapsed time.Duration) {
		name := message.CodeName(message.TypeRPC, code)
		result := "ok"
		if kind != "" {
			result = string(kind)
		}
		m.rpcCallsTotal.WithLabelValues(name, result).Inc()
		m.rpcDurationSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) AuditAdded(string) {
	m.auditsStarted.Inc()
	m.activeAudits.Inc()
}

func (m *Metrics) AuditRemoved(string) {
	m.auditsRemoved.Inc()
	m.activeAudits.Dec()
}

func (m *Metrics) Dispatched(_ string, res audit.Result) {
	m.dispatchTotal.WithLabelValues(res.Outcome.String(), res.Reason.String()).Inc()
}

// Server serves the metrics endpoint over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener

	once sync.Once
	done chan struct{}
}

// Serve starts an HTTP server on addr exposing the metrics under path.
// An addr ending in ":0" picks a free port; see Addr.
func (m *Metrics) Serve(addr, path string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	slog.Info("metrics server listening", "addr", ln.Addr().String(), "path", path)
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server. Calling it again does nothing.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.srv.Shutdown(ctx)
		<-s.done
	})
	return err
}
