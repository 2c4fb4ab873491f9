// Package metrics exposes simulation progress as Prometheus collectors.
// A Recorder is a modes.Observer; register it with the simulator and serve
// its registry over HTTP with Handler or Serve.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/tumorevo/internal/modes"
)

const namespace = "tumorsim"

// Event kinds used as the "kind" label of the events counter.
const (
	KindBirth         = "birth"
	KindDeath         = "death"
	KindMutation      = "mutation"
	KindDispersal     = "dispersal"
	KindDisplacement  = "displacement"
	KindTreatmentKill = "treatment_kill"
	KindNewGenotype   = "new_genotype"
)

// Recorder tracks per-step event counts and tumor state.
type Recorder struct {
	registry  *prometheus.Registry
	events    *prometheus.CounterVec
	cells     prometheus.Gauge
	cancer    prometheus.Gauge
	genotypes prometheus.Gauge
	demes     prometheus.Gauge
	step      prometheus.Gauge
	treating  prometheus.Gauge
	duration  prometheus.Histogram
}

// NewRecorder creates a Recorder with its own registry. run is attached as
// a constant label so several runs can be scraped side by side.
func NewRecorder(run string) (*Recorder, error) {
	labels := prometheus.Labels{}
	if run != "" {
		labels["run"] = run
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_total",
			Help:        "Cell events applied by tumor updates, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		cells:     gauge("cells", "Live cells of every type."),
		cancer:    gauge("cancer_cells", "Live cancer cells."),
		genotypes: gauge("genotypes", "Distinct live genotypes."),
		demes:     gauge("occupied_demes", "Demes holding at least one cancer cell."),
		step:      gauge("step", "Updates applied so far."),
		treating:  gauge("treatment_active", "1 while the treatment window is open."),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "step_duration_seconds",
			Help:        "Wall time of a single tumor update.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{
		r.events, r.cells, r.cancer, r.genotypes, r.demes, r.step, r.treating, r.duration,
	} {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStep implements modes.Observer.
func (r *Recorder) ObserveStep(_ context.Context, rec modes.StepRecord) error {
	s := rec.Stats
	r.events.WithLabelValues(KindBirth).Add(float64(s.Births))
	r.events.WithLabelValues(KindDeath).Add(float64(s.Deaths))
	r.events.WithLabelValues(KindMutation).Add(float64(s.Mutations))
	r.events.WithLabelValues(KindDispersal).Add(float64(s.Dispersals))
	r.events.WithLabelValues(KindDisplacement).Add(float64(s.Displacements))
	r.events.WithLabelValues(KindTreatmentKill).Add(float64(s.TreatmentKills))
	r.events.WithLabelValues(KindNewGenotype).Add(float64(len(s.Born)))

	r.genotypes.Set(float64(len(rec.Trace.Counts)))
	r.step.Set(float64(rec.Step))
	if rec.Treating {
		r.treating.Set(1)
	} else {
		r.treating.Set(0)
	}
	r.duration.Observe(rec.Duration.Seconds())

	if rec.Tumor != nil {
		r.cells.Set(float64(rec.Tumor.TotalCells()))
		r.cancer.Set(float64(rec.Tumor.CancerCells()))
		r.demes.Set(float64(rec.Tumor.OccupiedDemes()))
	}
	return nil
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	if logger != nil {
		logger.Info("serving metrics", "addr", addr)
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
