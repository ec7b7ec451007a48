package snapshot

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/channelaccess/snapshot/internal/app/codec"
	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// Settings are shared by the save and restore orchestrators.
type Settings struct {
	// MaxConcurrent caps in-flight PV tasks per operation; 0 means one
	// task per PV with no cap.
	MaxConcurrent int
	Clock         func() time.Time
	NewID         func() string
}

func (s Settings) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s Settings) id() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s Settings) limiter() *semaphore.Weighted {
	if s.MaxConcurrent <= 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(s.MaxConcurrent))
}

// SaveOptions control a single save.
type SaveOptions struct {
	Force    bool
	Timeout  time.Duration
	Metadata domain.Metadata
	// NoLatestLink disables the "<request>_latest.snap" link written when
	// the output is a directory.
	NoLatestLink bool
}

// Saver captures the current values of a request set into a save file.
type Saver struct {
	connector ports.Connector
	obs       ports.Observability
	settings  Settings
}

func NewSaver(connector ports.Connector, obs ports.Observability, settings Settings) *Saver {
	if obs == nil {
		obs = nopObs{}
	}
	return &Saver{connector: connector, obs: obs, settings: settings}
}

// Save connects to every PV in req, reads it and writes the snapshot to
// outputPath. Without Force any PV that cannot be read fails the whole
// save with an *domain.IncompleteError and nothing is written. The report
// is returned on every path once the operation has started.
func (s *Saver) Save(ctx context.Context, req domain.RequestSet, outputPath string, opts SaveOptions) (*domain.Snapshot, *domain.Report, error) {
	started := s.settings.now()
	report := &domain.Report{
		ID:      s.settings.id(),
		Kind:    domain.OpSave,
		Path:    outputPath,
		Force:   opts.Force,
		Started: started,
	}

	snap, err := s.save(ctx, req, outputPath, opts, report)
	report.Finished = s.settings.now()
	if err != nil {
		report.Err = err.Error()
		s.obs.LogError("save_failed", err,
			ports.Field{Key: "op_id", Value: report.ID},
			ports.Field{Key: "path", Value: report.Path},
			ports.Field{Key: "failed", Value: len(report.Failures())})
	} else {
		s.obs.LogInfo("save_complete",
			ports.Field{Key: "op_id", Value: report.ID},
			ports.Field{Key: "path", Value: report.Path},
			ports.Field{Key: "pvs", Value: len(report.Results)},
			ports.Field{Key: "failed", Value: len(report.Failures())},
			ports.Field{Key: "elapsed", Value: report.Elapsed().String()})
	}
	s.obs.RecordOperation(report)
	return snap, report, err
}

func (s *Saver) save(ctx context.Context, req domain.RequestSet, outputPath string, opts SaveOptions, report *domain.Report) (*domain.Snapshot, error) {
	if s.connector == nil {
		return nil, fmt.Errorf("save: no pv connector configured")
	}

	path, link, err := ResolveOutput(outputPath, opts.Metadata.ReqFileName, report.Started)
	if err != nil {
		return nil, err
	}
	report.Path = path

	outcomes, err := s.capture(ctx, req, timeoutOrDefault(opts.Timeout))
	if err != nil {
		return nil, err
	}

	meta := opts.Metadata
	meta.SaveTime = epochSeconds(report.Started)
	snap := &domain.Snapshot{Metadata: meta, Entries: make([]domain.Entry, len(outcomes))}
	report.Results = make([]domain.PVResult, len(outcomes))
	for i, o := range outcomes {
		report.Results[i] = o.result
		snap.Entries[i] = domain.Entry{Name: req[i], Value: o.value}
	}

	// a cancelled caller is not a timed-out PV; nothing is written
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("save cancelled: %w", err)
	}

	if failures := report.Failures(); len(failures) > 0 && !opts.Force {
		return nil, &domain.IncompleteError{Kind: domain.ErrIncompleteConnection, Failures: failures}
	}

	err = WriteFileAtomic(path, func(w io.Writer) error {
		return codec.Encode(w, snap)
	})
	if err != nil {
		return nil, err
	}

	if link != "" && !opts.NoLatestLink {
		if err := ReplaceSymlink(path, link); err != nil {
			s.obs.LogError("latest_link_failed", err, ports.Field{Key: "link", Value: link})
		}
	}
	return snap, nil
}

// capture runs the connect+read fan-out within one shared deadline. The
// session is closed on every path before capture returns.
func (s *Saver) capture(ctx context.Context, req domain.RequestSet, timeout time.Duration) ([]outcome, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := s.connector.Open(opCtx)
	if err != nil {
		return nil, fmt.Errorf("open pv session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			s.obs.LogError("pv_session_close_failed", err)
		}
	}()

	s.obs.SetGauge(metricOperationPVs, float64(len(req)))
	return fanOut(opCtx, req, s.settings.limiter(), func(ctx context.Context, i int) outcome {
		return s.readOne(ctx, sess, req[i])
	}), nil
}

func (s *Saver) readOne(ctx context.Context, sess ports.Session, name domain.PvName) outcome {
	start := time.Now()
	ch, failed := connect(ctx, sess, s.obs, name)
	if failed != nil {
		return *failed
	}
	defer ch.Release()

	v, err := ch.Read(ctx)
	res := domain.PVResult{Name: name, Duration: time.Since(start)}
	switch {
	case err != nil:
		res.Status = classify(ctx, err, domain.StatusReadError)
		res.Err = pvError(name, "read", err)
		res.Message = err.Error()
		return outcome{result: res}
	case !v.HasData():
		res.Status = domain.StatusNoValue
	default:
		if _, err := codec.FormatValue(v); err != nil {
			res.Status = domain.StatusReadError
			res.Err = pvError(name, "read", err)
			res.Message = err.Error()
			return outcome{result: res}
		}
		res.Status = domain.StatusOK
	}
	return outcome{result: res, value: v}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
