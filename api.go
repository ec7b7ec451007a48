// Package snapshot saves and restores sets of process variables.
//
// It re-exports pkg/pvsnap so consumers can import the module root directly.
package snapshot

import (
	base "github.com/channelaccess/snapshot/pkg/pvsnap"
)

// Re-exported errors for convenience.
var (
	ErrUnresolvedMacro      = base.ErrUnresolvedMacro
	ErrMalformedMacros      = base.ErrMalformedMacros
	ErrRequestFormat        = base.ErrRequestFormat
	ErrIncludeLoop          = base.ErrIncludeLoop
	ErrMalformedHeader      = base.ErrMalformedHeader
	ErrMalformedValue       = base.ErrMalformedValue
	ErrIncompleteConnection = base.ErrIncompleteConnection
	ErrIncompleteRestore    = base.ErrIncompleteRestore
	ErrTypeMismatch         = base.ErrTypeMismatch
	ErrChannelAuditClosed   = base.ErrChannelAuditClosed
)

// Type aliases so consumers can import github.com/channelaccess/snapshot directly.
type (
	Config         = base.Config
	OPCUAConfig    = base.OPCUAConfig
	SimConfig      = base.SimConfig
	SimPV          = base.SimPV
	MetricsConfig  = base.MetricsConfig
	JournalConfig  = base.JournalConfig
	AuditConfig    = base.AuditConfig
	Engine         = base.Engine
	EngineOption   = base.EngineOption
	Value          = base.Value
	Snapshot       = base.Snapshot
	Metadata       = base.Metadata
	Entry          = base.Entry
	MacroTable     = base.MacroTable
	RequestSet     = base.RequestSet
	Report         = base.Report
	PVResult       = base.PVResult
	PVStatus       = base.PVStatus
	SaveOptions    = base.SaveOptions
	RestoreOptions = base.RestoreOptions
	Connector      = base.Connector
	Session        = base.Session
	Channel        = base.Channel
	Observability  = base.Observability
	AuditSink      = base.AuditSink
	Journal        = base.Journal
	JournalEntryID = base.JournalEntryID
	ReportHandler  = base.ReportHandler
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Engine and options.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	return base.NewEngine(cfg, opts...)
}

func Open(path string, opts ...EngineOption) (*Engine, error) {
	return base.Open(path, opts...)
}

func WithConnector(c Connector) EngineOption {
	return base.WithConnector(c)
}

func WithObservability(obs Observability) EngineOption {
	return base.WithObservability(obs)
}

func WithJournal(j Journal) EngineOption {
	return base.WithJournal(j)
}

func WithAudit(sinks ...AuditSink) EngineOption {
	return base.WithAudit(sinks...)
}

// Audit adapters.
func NewCallbackAudit(name string, fn ReportHandler) AuditSink {
	return base.NewCallbackAudit(name, fn)
}

func NewChannelAudit(name string, buffer int) (AuditSink, <-chan Report, func()) {
	return base.NewChannelAudit(name, buffer)
}
