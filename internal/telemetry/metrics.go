// Package telemetry exposes search progress as Prometheus metrics and
// OpenTelemetry spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mltlsge/internal/evo"
)

const (
	Namespace  = "mltlsge"
	TracerName = "mltlsge"
)

// Metrics owns a private registry so several clients in one process do not
// collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	generations       *prometheus.CounterVec
	evaluations       *prometheus.CounterVec
	bestFitness       *prometheus.GaugeVec
	uniquePhenotypes  *prometheus.GaugeVec
	mutationRate      *prometheus.GaugeVec
	evaluationLatency prometheus.Histogram
	runs              *prometheus.CounterVec
}

func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generations_total",
			Help:      "Completed generations, including the initial evaluation.",
		}, []string{"run_id"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "evaluations_total",
			Help:      "Individuals evaluated against the training traces.",
		}, []string{"run_id"}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "best_fitness",
			Help:      "Fitness of the best individual after the latest generation.",
		}, []string{"run_id"}),
		uniquePhenotypes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "unique_phenotypes",
			Help:      "Distinct phenotypes evaluated so far.",
		}, []string{"run_id"}),
		mutationRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "mutation_rate",
			Help:      "Current per-codon mutation rate.",
		}, []string{"run_id"}),
		evaluationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time to score one individual.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{
		m.generations, m.evaluations, m.bestFitness, m.uniquePhenotypes,
		m.mutationRate, m.evaluationLatency, m.runs,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observer returns an evo.Observer that records one run's progress.
func (m *Metrics) Observer(runID string) evo.Observer {
	return &runObserver{metrics: m, runID: runID}
}

// RunFinished counts a run by status ("completed", "failed", "stopped").
func (m *Metrics) RunFinished(status string) {
	m.runs.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return m.ServeListener(ctx, ln, logger)
}

// ServeListener exposes /metrics on ln until ctx is cancelled. ln is closed
// on return.
func (m *Metrics) ServeListener(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	if logger != nil {
		logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type runObserver struct {
	metrics *Metrics
	runID   string
}

func (o *runObserver) ObserveEvaluation(elapsed time.Duration) {
	o.metrics.evaluations.WithLabelValues(o.runID).Inc()
	o.metrics.evaluationLatency.Observe(elapsed.Seconds())
}

func (o *runObserver) ObserveGeneration(diag evo.GenerationDiagnostics) {
	o.metrics.generations.WithLabelValues(o.runID).Inc()
	o.metrics.bestFitness.WithLabelValues(o.runID).Set(diag.BestFitness)
	o.metrics.uniquePhenotypes.WithLabelValues(o.runID).Set(float64(diag.UniquePhenotypes))
	o.metrics.mutationRate.WithLabelValues(o.runID).Set(diag.MutationRate)
}

// Tracer is the tracer for orchestration spans. It is a no-op unless the
// process installs a global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
