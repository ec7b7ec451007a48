package pvsnap

import (
	"github.com/channelaccess/snapshot/internal/app/snapshot"
	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// Value is a PV value: no data, a number, a string or a number sequence.
type Value = domain.Value

// Snapshot is a decoded save file: metadata plus entries in request order.
type Snapshot = domain.Snapshot

// Metadata is the save file header.
type Metadata = domain.Metadata

// Entry pairs a PV name with its saved value.
type Entry = domain.Entry

// MacroTable maps macro names to substitution values.
type MacroTable = domain.MacroTable

// RequestSet is the ordered list of PV names produced by a request file.
type RequestSet = domain.RequestSet

// Report is the aggregate outcome of one save or restore.
type Report = domain.Report

// PVResult is the outcome for a single PV.
type PVResult = domain.PVResult

// PVStatus classifies a PVResult.
type PVStatus = domain.PVStatus

// Connector opens sessions against a PV transport (OPC UA, simulators, ...).
type Connector = ports.Connector

// Session scopes channels opened for one operation.
type Session = ports.Session

// Channel is a connection to a single PV.
type Channel = ports.Channel

// Observability emits logs and metrics about operations.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// AuditSink receives every finished operation report.
type AuditSink = ports.AuditSink

// Journal is the local append-only history of operations.
type Journal = ports.Journal

// JournalEntryID identifies a journal record.
type JournalEntryID = ports.JournalEntryID

// JournalStats exposes journal metadata.
type JournalStats = ports.JournalStats

// SaveOptions control a single save.
type SaveOptions = snapshot.SaveOptions

// RestoreOptions control a single restore.
type RestoreOptions = snapshot.RestoreOptions

const (
	StatusOK         = domain.StatusOK
	StatusTimeout    = domain.StatusTimeout
	StatusReadError  = domain.StatusReadError
	StatusWriteError = domain.StatusWriteError
	StatusTypeError  = domain.StatusTypeError
	StatusNoValue    = domain.StatusNoValue
	StatusEqual      = domain.StatusEqual
)

var (
	ErrUnresolvedMacro      = domain.ErrUnresolvedMacro
	ErrMalformedMacros      = domain.ErrMalformedMacros
	ErrRequestFormat        = domain.ErrRequestFormat
	ErrIncludeLoop          = domain.ErrIncludeLoop
	ErrMalformedHeader      = domain.ErrMalformedHeader
	ErrMalformedValue       = domain.ErrMalformedValue
	ErrIncompleteConnection = domain.ErrIncompleteConnection
	ErrIncompleteRestore    = domain.ErrIncompleteRestore
	ErrTypeMismatch         = domain.ErrTypeMismatch
)

// Value constructors.
var (
	NoData   = domain.NoData
	Number   = domain.Number
	String   = domain.String
	Sequence = domain.Sequence
)
