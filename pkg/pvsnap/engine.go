package pvsnap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "github.com/lib/pq"

	"github.com/channelaccess/snapshot/internal/adapters/audit"
	"github.com/channelaccess/snapshot/internal/adapters/journal"
	"github.com/channelaccess/snapshot/internal/adapters/observability"
	"github.com/channelaccess/snapshot/internal/adapters/opcua"
	"github.com/channelaccess/snapshot/internal/adapters/sim"
	"github.com/channelaccess/snapshot/internal/app/config"
	"github.com/channelaccess/snapshot/internal/app/snapshot"
	"github.com/channelaccess/snapshot/internal/ports"
)

const auditTimeout = 5 * time.Second

// EngineOption customizes the dependencies used by Engine.
type EngineOption func(*engineOverrides)

type engineOverrides struct {
	connector     Connector
	observability Observability
	logger        hclog.Logger
	journal       Journal
	audits        []AuditSink
	clock         func() time.Time
}

// WithConnector injects a custom PV transport instead of the configured one.
func WithConnector(c Connector) EngineOption {
	return func(o *engineOverrides) {
		o.connector = c
	}
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs Observability) EngineOption {
	return func(o *engineOverrides) {
		o.observability = obs
	}
}

// WithLogger replaces the logger built from the log section of the config.
// It is ignored when WithObservability is also given.
func WithLogger(l hclog.Logger) EngineOption {
	return func(o *engineOverrides) {
		o.logger = l
	}
}

// WithJournal lets callers bring their own journal instead of the file journal.
func WithJournal(j Journal) EngineOption {
	return func(o *engineOverrides) {
		o.journal = j
	}
}

// WithAudit adds sinks that receive every finished operation report.
func WithAudit(sinks ...AuditSink) EngineOption {
	return func(o *engineOverrides) {
		o.audits = append(o.audits, sinks...)
	}
}

// WithClock overrides the wall clock used for save times and reports.
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOverrides) {
		o.clock = now
	}
}

// Engine wires request parsing, the save/restore orchestrators and the
// operation history behind one handle. It is safe for concurrent use.
type Engine struct {
	cfg       *Config
	connector ports.Connector
	obs       ports.Observability
	prom      *observability.PromObs
	journal   ports.Journal
	audits    []ports.AuditSink
	db        *sql.DB
	saver     *snapshot.Saver
	restorer  *snapshot.Restorer

	metricsSrv *http.Server
}

// NewEngine bootstraps the default adapters (OPC UA or sim transport,
// Prometheus observability, file journal, Postgres audit) from cfg. Options
// override any of them.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides engineOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	e := &Engine{cfg: cfg}

	e.obs = overrides.observability
	if e.obs == nil {
		logger := overrides.logger
		if logger == nil {
			logger = observability.NewLogger("pvsnap", cfg.Log.Level, cfg.Log.JSON, os.Stderr)
		}
		e.prom = observability.NewPromObs(observability.WithLogger(logger))
		e.obs = e.prom
	}

	var err error
	e.connector = overrides.connector
	if e.connector == nil {
		e.connector, err = newConnector(cfg)
		if err != nil {
			return nil, err
		}
	}

	e.journal = overrides.journal
	if e.journal == nil && cfg.Journal.Dir != "" {
		fj, err := journal.NewFileJournal(cfg.Journal.Dir)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		e.journal = fj
	}
	if sink, ok := e.journal.(ports.AuditSink); ok {
		e.audits = append(e.audits, sink)
	}

	if cfg.Audit.ConnString != "" {
		pg, err := e.openAudit(cfg.Audit)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.audits = append(e.audits, pg)
	}
	e.audits = append(e.audits, overrides.audits...)

	settings := snapshot.Settings{MaxConcurrent: cfg.MaxConcurrent, Clock: overrides.clock}
	e.saver = snapshot.NewSaver(e.connector, e.obs, settings)
	e.restorer = snapshot.NewRestorer(e.connector, e.obs, settings)

	if cfg.Metrics.Addr != "" && e.prom != nil {
		e.startMetrics()
	}
	return e, nil
}

// Open loads the configuration at path and builds an engine from it.
func Open(path string, opts ...EngineOption) (*Engine, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, opts...)
}

func newConnector(cfg *Config) (ports.Connector, error) {
	switch cfg.Transport {
	case config.TransportSim:
		return newSimConnector(cfg.Sim)
	case config.TransportOPCUA:
		return opcua.NewConnector(cfg.OPCUA)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func newSimConnector(cfg config.SimConfig) (*sim.Backend, error) {
	opts := make([]sim.Option, 0, len(cfg.PVs))
	for _, pv := range cfg.PVs {
		if pv.Unreachable {
			opts = append(opts, sim.WithUnreachable(pv.Name))
			continue
		}
		v, err := sim.ValueOf(pv.Value)
		if err != nil {
			return nil, fmt.Errorf("sim pv %s: %w", pv.Name, err)
		}
		opts = append(opts, sim.WithValue(pv.Name, v))
		if pv.Delay > 0 {
			opts = append(opts, sim.WithDelay(pv.Name, pv.Delay))
		}
	}
	return sim.New(opts...), nil
}

func (e *Engine) openAudit(cfg config.AuditConfig) (*audit.PostgresAudit, error) {
	db, err := sql.Open("postgres", cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	e.db = db

	pg, err := audit.NewPostgresAudit(db, cfg.Table)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return pg, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *Config { return e.cfg }

// Connector returns the PV transport in use.
func (e *Engine) Connector() Connector { return e.connector }

// ParseRequest reads a request file, expanding macros from the configured
// defaults overlaid with macros.
func (e *Engine) ParseRequest(path string, macros MacroTable) (RequestSet, error) {
	return ParseRequestFile(path, MergeMacros(e.cfg.Macros, macros))
}

// Save captures req into outputPath. A zero Timeout uses the configured one.
func (e *Engine) Save(ctx context.Context, req RequestSet, outputPath string, opts SaveOptions) (*Snapshot, *Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = e.cfg.Timeout
	}
	snap, report, err := e.saver.Save(ctx, req, outputPath, opts)
	e.finish(report)
	return snap, report, err
}

// SaveRequestFile parses reqPath with macros and saves the result. The
// request file name and the macros used are recorded in the header.
func (e *Engine) SaveRequestFile(ctx context.Context, reqPath string, macros MacroTable, outputPath string, opts SaveOptions) (*Snapshot, *Report, error) {
	req, err := e.ParseRequest(reqPath, macros)
	if err != nil {
		e.obs.LogError("request_parse_failed", err, ports.Field{Key: "path", Value: reqPath})
		return nil, nil, err
	}
	opts.Metadata.ReqFileName = reqPath
	if merged := MergeMacros(e.cfg.Macros, macros); len(merged) > 0 {
		opts.Metadata.Macros = merged
	}
	return e.Save(ctx, req, outputPath, opts)
}

// RestoreOptions returns restore options seeded from the configuration.
func (e *Engine) RestoreOptions() RestoreOptions {
	return RestoreOptions{Timeout: e.cfg.Timeout, SkipEqual: e.cfg.Restore.SkipEqual}
}

// Restore writes an in-memory snapshot back onto its PVs.
func (e *Engine) Restore(ctx context.Context, snap *Snapshot, opts RestoreOptions) (*Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = e.cfg.Timeout
	}
	report, err := e.restorer.Restore(ctx, snap, opts)
	e.finish(report)
	return report, err
}

// RestoreFile decodes the save file at path and restores it.
func (e *Engine) RestoreFile(ctx context.Context, path string, opts RestoreOptions) (*Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = e.cfg.Timeout
	}
	report, err := e.restorer.RestoreFile(ctx, path, opts)
	e.finish(report)
	return report, err
}

// ReadFile decodes a save file without touching any PV.
func (e *Engine) ReadFile(path string) (*Snapshot, error) {
	return ReadFile(path)
}

// ReplaceMetadata rewrites the header of an existing save file in place.
func (e *Engine) ReplaceMetadata(path string, update func(*Metadata)) error {
	return ReplaceMetadata(path, update)
}

// History calls fn for every journaled operation, oldest first.
func (e *Engine) History(fn func(id JournalEntryID, r *Report) error) error {
	if e.journal == nil {
		return fmt.Errorf("journal is not configured")
	}
	return e.journal.Iterate(1, fn)
}

// finish hands a report to every audit sink and refreshes the metrics
// textfile. Audit failures are logged and never fail the operation.
func (e *Engine) finish(report *Report) {
	if report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	for _, sink := range e.audits {
		if err := sink.Record(ctx, report); err != nil {
			e.obs.LogError("audit_record_failed", err,
				ports.Field{Key: "sink", Value: sink.Name()},
				ports.Field{Key: "op_id", Value: report.ID})
		}
	}
	if e.journal != nil {
		e.obs.SetGauge("pvsnap_journal_size_bytes", float64(e.journal.Stats().SizeBytes))
	}
	if path := e.cfg.Metrics.Textfile; path != "" && e.prom != nil {
		if err := e.prom.WriteTextfile(path); err != nil {
			e.obs.LogError("metrics_textfile_failed", err, ports.Field{Key: "path", Value: path})
		}
	}
}

// Close stops the metrics server and releases the journal and audit database.
func (e *Engine) Close() error {
	var errs []error

	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		cancel()
		e.metricsSrv = nil
	}

	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			errs = append(errs, err)
		}
		e.journal = nil
	}

	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.db = nil
	}

	return errors.Join(errs...)
}

func (e *Engine) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	e.metricsSrv = &http.Server{
		Addr:              e.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := e.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: srv.Addr})
		}
	}()
}
