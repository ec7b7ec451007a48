// Package snapshot runs save and restore operations against a PV backend.
//
// Every operation opens its own session, starts one task per PV and waits
// on a single deadline shared by all tasks. Results are slotted back into
// request order; tasks still running at the deadline are marked as timed
// out and whatever they produce later is dropped.
package snapshot

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

// DefaultTimeout applies when an operation is started without a timeout.
const DefaultTimeout = 5 * time.Second

const (
	metricConnectSeconds = "pvsnap_pv_connect_seconds"
	metricOperationPVs   = "pvsnap_operation_pvs"
)

// outcome is what one PV task hands back to the collector.
type outcome struct {
	result domain.PVResult
	value  domain.Value
}

type indexed struct {
	index int
	outcome
}

// fanOut runs work once per name and returns outcomes in name order.
// It returns no later than ctx's deadline; missing slots are timeouts.
func fanOut(ctx context.Context, names []domain.PvName, limit *semaphore.Weighted, work func(ctx context.Context, i int) outcome) []outcome {
	n := len(names)
	results := make(chan indexed, n)

	for i, name := range names {
		go func(i int, name domain.PvName) {
			if limit != nil {
				if err := limit.Acquire(ctx, 1); err != nil {
					results <- indexed{index: i, outcome: timedOut(name, err)}
					return
				}
				defer limit.Release(1)
			}
			results <- indexed{index: i, outcome: work(ctx, i)}
		}(i, name)
	}

	out := make([]outcome, n)
	filled := make([]bool, n)
	for received := 0; received < n; received++ {
		select {
		case r := <-results:
			out[r.index] = r.outcome
			filled[r.index] = true
		case <-ctx.Done():
			// select picks randomly; keep anything already delivered
		drain:
			for {
				select {
				case r := <-results:
					out[r.index] = r.outcome
					filled[r.index] = true
				default:
					break drain
				}
			}
			for i, ok := range filled {
				if !ok {
					out[i] = timedOut(names[i], ctx.Err())
				}
			}
			return out
		}
	}
	return out
}

func timedOut(name domain.PvName, err error) outcome {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return outcome{result: domain.PVResult{
		Name:    name,
		Status:  domain.StatusTimeout,
		Err:     &domain.PVError{PV: name, Op: "connect", Err: err},
		Message: "not connected before deadline",
	}}
}

// connect opens a channel and reports how long it took.
func connect(ctx context.Context, sess ports.Session, obs ports.Observability, name domain.PvName) (ports.Channel, *outcome) {
	start := time.Now()
	ch, err := sess.Connect(ctx, name)
	obs.ObserveLatency(metricConnectSeconds, time.Since(start).Seconds())
	if err != nil {
		o := timedOut(name, err)
		o.result.Err = pvError(name, "connect", err)
		o.result.Message = err.Error()
		o.result.Duration = time.Since(start)
		return nil, &o
	}
	return ch, nil
}

// classify maps a failed read or write onto a PV status.
func classify(ctx context.Context, err error, fallback domain.PVStatus) domain.PVStatus {
	switch {
	case errors.Is(err, domain.ErrTypeMismatch):
		return domain.StatusTypeError
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.StatusTimeout
	default:
		return fallback
	}
}

func pvError(name domain.PvName, op string, err error) error {
	var pvErr *domain.PVError
	if errors.As(err, &pvErr) {
		return err
	}
	return &domain.PVError{PV: name, Op: op, Err: err}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
func (nopObs) RecordOperation(*domain.Report)            {}
