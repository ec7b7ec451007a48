package domain

import "time"

// PVStatus is the per-PV outcome of one save or restore.
type PVStatus string

const (
	StatusOK         PVStatus = "ok"
	StatusTimeout    PVStatus = "timeout"
	StatusReadError  PVStatus = "read_error"
	StatusWriteError PVStatus = "write_error"
	StatusTypeError  PVStatus = "type_error"
	StatusNoValue    PVStatus = "no_value"
	StatusEqual      PVStatus = "equal"
)

// Failed reports whether the status counts against the operation.
func (s PVStatus) Failed() bool {
	switch s {
	case StatusOK, StatusNoValue, StatusEqual:
		return false
	default:
		return true
	}
}

// PVResult is created fresh for every operation and never persisted in a
// save file.
type PVResult struct {
	Name     PvName        `json:"name"`
	Status   PVStatus      `json:"status"`
	Err      error         `json:"-"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OperationKind distinguishes save from restore.
type OperationKind string

const (
	OpSave    OperationKind = "save"
	OpRestore OperationKind = "restore"
)

// Report is the aggregate outcome of a save or restore.
type Report struct {
	ID       string        `json:"id"`
	Kind     OperationKind `json:"kind"`
	Path     string        `json:"path"`
	Force    bool          `json:"force"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Results  []PVResult    `json:"results"`
	Err      string        `json:"error,omitempty"`
}

// Failures returns the failing results in operation order.
func (r *Report) Failures() []PVResult {
	var out []PVResult
	for _, res := range r.Results {
		if res.Status.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Count returns how many results carry the given status.
func (r *Report) Count(status PVStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Elapsed is the wall-clock duration of the operation.
func (r *Report) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}
