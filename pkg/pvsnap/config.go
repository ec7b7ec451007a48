package pvsnap

import (
	"github.com/channelaccess/snapshot/internal/adapters/opcua"
	"github.com/channelaccess/snapshot/internal/app/config"
)

// Config re-exports the root configuration struct so embedding programs can
// construct or modify it programmatically.
type Config = config.Config

type (
	// OPCUAConfig holds the OPC UA endpoint and security settings.
	OPCUAConfig = opcua.Config
	// SimConfig lists the PVs served by the in-memory transport.
	SimConfig = config.SimConfig
	// SimPV describes one simulated PV.
	SimPV = config.SimPV
	// RestoreConfig holds restore defaults.
	RestoreConfig = config.RestoreConfig
	// MetricsConfig configures the metrics HTTP server and textfile export.
	MetricsConfig = config.MetricsConfig
	// JournalConfig configures the local operation journal.
	JournalConfig = config.JournalConfig
	// AuditConfig configures the Postgres audit table.
	AuditConfig = config.AuditConfig
	// LogConfig configures the structured logger.
	LogConfig = config.LogConfig
)

const (
	TransportOPCUA = config.TransportOPCUA
	TransportSim   = config.TransportSim
)

// LoadConfig loads YAML from disk and applies PVSNAP_* environment overrides.
// An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a configuration for the sim transport with defaults applied.
func DefaultConfig() *Config {
	return config.Default()
}
