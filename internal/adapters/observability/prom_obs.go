package observability

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

var _ ports.Observability = (*PromObs)(nil)

// PromObs logs through hclog and keeps operation metrics in its own
// registry, which can be scraped over HTTP or dumped to a textfile.
type PromObs struct {
	logger   hclog.Logger
	registry *prometheus.Registry

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer

	operations  *prometheus.CounterVec
	opFailures  *prometheus.CounterVec
	pvFailures  *prometheus.CounterVec
	opDurations *prometheus.HistogramVec
}

// Option customizes PromObs.
type Option func(*PromObs)

// WithLogger replaces the default logger.
func WithLogger(l hclog.Logger) Option {
	return func(p *PromObs) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRegistry registers the collectors on an existing registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *PromObs) {
		if reg != nil {
			p.registry = reg
		}
	}
}

func NewPromObs(opts ...Option) *PromObs {
	p := &PromObs{}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = hclog.NewNullLogger()
	}
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	saved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvsnap_pvs_saved_total",
		Help: "PV values captured into save files.",
	})
	restored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvsnap_pvs_restored_total",
		Help: "PV values written back during restores.",
	})
	opPVs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pvsnap_operation_pvs",
		Help: "Number of PVs in the most recent operation.",
	})
	journalSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pvsnap_journal_size_bytes",
		Help: "Size of the local operation journal.",
	})
	connect := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pvsnap_pv_connect_seconds",
		Help:    "Time from connect request to connected channel or give-up.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	p.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pvsnap_operations_total",
		Help: "Save and restore operations started.",
	}, []string{"kind"})
	p.opFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pvsnap_operation_failures_total",
		Help: "Save and restore operations that returned an error.",
	}, []string{"kind"})
	p.pvFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pvsnap_pv_failures_total",
		Help: "Per-PV failures by status.",
	}, []string{"kind", "status"})
	p.opDurations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pvsnap_operation_seconds",
		Help:    "Wall-clock duration of save and restore operations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"kind"})

	p.registry.MustRegister(saved, restored, opPVs, journalSize, connect, p.operations, p.opFailures, p.pvFailures, p.opDurations)

	p.counters = map[string]prometheus.Counter{
		"pvsnap_pvs_saved_total":    saved,
		"pvsnap_pvs_restored_total": restored,
	}
	p.gauges = map[string]prometheus.Gauge{
		"pvsnap_operation_pvs":      opPVs,
		"pvsnap_journal_size_bytes": journalSize,
	}
	p.histos = map[string]prometheus.Observer{
		"pvsnap_pv_connect_seconds": connect,
	}
	return p
}

// Logger exposes the underlying logger for components that log directly.
func (p *PromObs) Logger() hclog.Logger { return p.logger }

// Gatherer exposes the registry.
func (p *PromObs) Gatherer() prometheus.Gatherer { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *PromObs) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry for the node exporter textfile
// collector.
func (p *PromObs) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, toArgs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	args := toArgs(fields)
	if err != nil {
		args = append(args, "error", err)
	}
	p.logger.Error(msg, args...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	args := append(toArgs(fields), "critical", true)
	if err != nil {
		args = append(args, "error", err)
	}
	p.logger.Error(msg, args...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordOperation(r *domain.Report) {
	if r == nil {
		return
	}
	kind := string(r.Kind)
	p.operations.WithLabelValues(kind).Inc()
	p.opDurations.WithLabelValues(kind).Observe(r.Elapsed().Seconds())
	if r.Err != "" {
		p.opFailures.WithLabelValues(kind).Inc()
	}

	for _, res := range r.Results {
		if res.Status.Failed() {
			p.pvFailures.WithLabelValues(kind, string(res.Status)).Inc()
		}
	}

	ok := float64(r.Count(domain.StatusOK))
	switch r.Kind {
	case domain.OpSave:
		// a failed save writes nothing
		if r.Err == "" {
			p.IncCounter("pvsnap_pvs_saved_total", ok)
		}
	case domain.OpRestore:
		p.IncCounter("pvsnap_pvs_restored_total", ok)
	}
}

func toArgs(fields []ports.Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}
