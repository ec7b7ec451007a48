package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// RestoreOptions control a single restore.
type RestoreOptions struct {
	Force   bool
	Timeout time.Duration
	// SkipEqual reads each PV first and leaves it alone when it already
	// holds the saved value.
	SkipEqual bool
}

// Restorer writes saved values back onto their PVs. Restores are not
// transactional: writes that succeeded stay applied when others fail.
type Restorer struct {
	connector ports.Connector
	obs       ports.Observability
	settings  Settings
}

func NewRestorer(connector ports.Connector, obs ports.Observability, settings Settings) *Restorer {
	if obs == nil {
		obs = nopObs{}
	}
	return &Restorer{connector: connector, obs: obs, settings: settings}
}

// RestoreFile decodes the save file at path and restores it.
func (r *Restorer) RestoreFile(ctx context.Context, path string, opts RestoreOptions) (*domain.Report, error) {
	snap, err := ReadFile(path)
	if err != nil {
		report := r.newReport(path, opts)
		report.Finished = report.Started
		report.Err = err.Error()
		r.obs.LogError("restore_failed", err, ports.Field{Key: "path", Value: path})
		r.obs.RecordOperation(report)
		return report, err
	}
	return r.restore(ctx, snap, path, opts)
}

// Restore writes every entry of snap that carries data. Entries without
// data are reported as no_value and never touched. Without Force, any
// failing PV yields an *domain.IncompleteError alongside the report.
func (r *Restorer) Restore(ctx context.Context, snap *domain.Snapshot, opts RestoreOptions) (*domain.Report, error) {
	return r.restore(ctx, snap, "", opts)
}

func (r *Restorer) newReport(path string, opts RestoreOptions) *domain.Report {
	return &domain.Report{
		ID:      r.settings.id(),
		Kind:    domain.OpRestore,
		Path:    path,
		Force:   opts.Force,
		Started: r.settings.now(),
	}
}

func (r *Restorer) restore(ctx context.Context, snap *domain.Snapshot, path string, opts RestoreOptions) (*domain.Report, error) {
	report := r.newReport(path, opts)

	err := r.apply(ctx, snap, opts, report)
	report.Finished = r.settings.now()
	if err != nil {
		report.Err = err.Error()
		r.obs.LogError("restore_failed", err,
			ports.Field{Key: "op_id", Value: report.ID},
			ports.Field{Key: "path", Value: path},
			ports.Field{Key: "failed", Value: len(report.Failures())})
	} else {
		r.obs.LogInfo("restore_complete",
			ports.Field{Key: "op_id", Value: report.ID},
			ports.Field{Key: "path", Value: path},
			ports.Field{Key: "written", Value: report.Count(domain.StatusOK)},
			ports.Field{Key: "skipped", Value: report.Count(domain.StatusEqual) + report.Count(domain.StatusNoValue)},
			ports.Field{Key: "failed", Value: len(report.Failures())},
			ports.Field{Key: "elapsed", Value: report.Elapsed().String()})
	}
	r.obs.RecordOperation(report)
	return report, err
}

func (r *Restorer) apply(ctx context.Context, snap *domain.Snapshot, opts RestoreOptions, report *domain.Report) error {
	if snap == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	if r.connector == nil {
		return fmt.Errorf("restore: no pv connector configured")
	}

	report.Results = make([]domain.PVResult, len(snap.Entries))
	var (
		names  []domain.PvName
		values []domain.Value
		slots  []int
	)
	for i, e := range snap.Entries {
		if !e.Value.HasData() {
			report.Results[i] = domain.PVResult{Name: e.Name, Status: domain.StatusNoValue, Message: "no saved value"}
			continue
		}
		names = append(names, e.Name)
		values = append(values, e.Value)
		slots = append(slots, i)
	}

	if len(names) > 0 {
		outcomes, err := r.write(ctx, names, values, opts)
		if err != nil {
			return err
		}
		for j, o := range outcomes {
			report.Results[slots[j]] = o.result
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("restore cancelled: %w", err)
		}
	}

	if failures := report.Failures(); len(failures) > 0 && !opts.Force {
		return &domain.IncompleteError{Kind: domain.ErrIncompleteRestore, Failures: failures}
	}
	return nil
}

func (r *Restorer) write(ctx context.Context, names []domain.PvName, values []domain.Value, opts RestoreOptions) ([]outcome, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(opts.Timeout))
	defer cancel()

	sess, err := r.connector.Open(opCtx)
	if err != nil {
		return nil, fmt.Errorf("open pv session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.obs.LogError("pv_session_close_failed", err)
		}
	}()

	r.obs.SetGauge(metricOperationPVs, float64(len(names)))
	outcomes := fanOut(opCtx, names, r.settings.limiter(), func(ctx context.Context, i int) outcome {
		return r.writeOne(ctx, sess, names[i], values[i], opts.SkipEqual)
	})
	return outcomes, nil
}

func (r *Restorer) writeOne(ctx context.Context, sess ports.Session, name domain.PvName, v domain.Value, skipEqual bool) outcome {
	start := time.Now()
	ch, failed := connect(ctx, sess, r.obs, name)
	if failed != nil {
		return *failed
	}
	defer ch.Release()

	res := domain.PVResult{Name: name}
	if skipEqual {
		cur, err := ch.Read(ctx)
		if err == nil && cur.Equal(v) {
			res.Status = domain.StatusEqual
			res.Duration = time.Since(start)
			return outcome{result: res, value: v}
		}
	}

	if err := ch.Write(ctx, v); err != nil {
		res.Status = classify(ctx, err, domain.StatusWriteError)
		res.Err = pvError(name, "write", err)
		res.Message = err.Error()
		res.Duration = time.Since(start)
		return outcome{result: res}
	}
	res.Status = domain.StatusOK
	res.Duration = time.Since(start)
	return outcome{result: res, value: v}
}
