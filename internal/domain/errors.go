package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnresolvedMacro = errors.New("unresolved macro")
	ErrMalformedMacros = errors.New("malformed macros")
	ErrRequestFormat   = errors.New("request file syntax error")
	ErrIncludeLoop     = errors.New("request file include loop")

	ErrMalformedHeader = errors.New("malformed header")
	ErrMalformedValue  = errors.New("malformed value")

	ErrIncompleteConnection = errors.New("incomplete connection")
	ErrIncompleteRestore    = errors.New("incomplete restore")

	ErrNotConnected = errors.New("not connected")
	ErrRead         = errors.New("read error")
	ErrWrite        = errors.New("write error")
	ErrTypeMismatch = errors.New("type mismatch")
)

// PVError is a facade-level failure for a single PV.
type PVError struct {
	PV  PvName
	Op  string // "connect", "read" or "write"
	Err error
}

func (e *PVError) Error() string {
	return fmt.Sprintf("pv %s: %s: %v", e.PV, e.Op, e.Err)
}

func (e *PVError) Unwrap() error { return e.Err }

// Is lets callers match read and write failures without knowing the cause.
func (e *PVError) Is(target error) bool {
	switch target {
	case ErrRead:
		return e.Op == "read"
	case ErrWrite:
		return e.Op == "write"
	}
	return false
}

// LineError locates a parse failure in a file.
type LineError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%s:%d %q: %v", e.Path, e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// IncompleteError aggregates every PV that failed during a save or restore.
// Kind is ErrIncompleteConnection or ErrIncompleteRestore.
type IncompleteError struct {
	Kind     error
	Failures []PVResult
}

func (e *IncompleteError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return fmt.Sprintf("%v: %d pv(s) failed: %s", e.Kind, len(e.Failures), strings.Join(names, ", "))
}

func (e *IncompleteError) Is(target error) bool { return target == e.Kind }

// Unwrap exposes the per-PV causes.
func (e *IncompleteError) Unwrap() []error {
	var errs []error
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// FailedNames lists the failing PVs in operation order.
func (e *IncompleteError) FailedNames() []PvName {
	out := make([]PvName, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Name
	}
	return out
}
