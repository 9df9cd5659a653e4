package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "scanmc"

// Metrics holds the sampling instruments. All methods are safe for
// concurrent use; chains touch only their own label sets.
type Metrics struct {
	registry *prometheus.Registry

	Steps          *prometheus.CounterVec
	Accepted       *prometheus.CounterVec
	ChunksFlushed  prometheus.Counter
	AcceptanceRate *prometheus.GaugeVec
	ScaleReduction *prometheus.GaugeVec
}

// NewMetrics creates and registers the sampling instruments on a fresh
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Metropolis-Hastings steps taken per chain.",
		}, []string{"chain"}),
		Accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepted_total",
			Help:      "Accepted steps per chain.",
		}, []string{"chain"}),
		ChunksFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chunks_flushed_total",
			Help:      "Chunks flushed to the persistence store.",
		}),
		AcceptanceRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "acceptance_rate",
			Help:      "Lifetime acceptance rate per chain.",
		}, []string{"chain"}),
		ScaleReduction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scale_reduction",
			Help:      "Gelman-Rubin R-hat per tracked parameter.",
		}, []string{"parameter"}),
	}

	registry.MustRegister(m.Steps, m.Accepted, m.ChunksFlushed, m.AcceptanceRate, m.ScaleReduction)

	return m
}

// ObserveChain updates the per-chain counters and the acceptance gauge.
func (m *Metrics) ObserveChain(chainID int, steps, accepted uint64, rate float64) {
	label := strconv.Itoa(chainID)
	m.Steps.WithLabelValues(label).Add(float64(steps))
	m.Accepted.WithLabelValues(label).Add(float64(accepted))
	m.AcceptanceRate.WithLabelValues(label).Set(rate)
}

// ObserveScaleReduction records R-hat for one parameter.
func (m *Metrics) ObserveScaleReduction(parameter string, r float64) {
	m.ScaleReduction.WithLabelValues(parameter).Set(r)
}

// Serve exposes /metrics on addr until the process exits. It is meant
// for long scans watched from the outside; errors are reported through
// the returned channel.
func (m *Metrics) Serve(addr string) <-chan error {
	errs := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		errs <- server.ListenAndServe()
	}()

	return errs
}

// Gather exposes the underlying registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer { return m.registry }
