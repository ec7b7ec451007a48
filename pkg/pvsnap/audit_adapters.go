package pvsnap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelAuditClosed is returned when a channel audit sink is used after being closed.
var ErrChannelAuditClosed = errors.New("pvsnap: channel audit sink closed")

// ReportHandler receives a finished operation report.
type ReportHandler func(r Report) error

// NewCallbackAudit adapts a function into an AuditSink so callers can react
// to finished operations without defining structs. The handler gets a copy.
func NewCallbackAudit(name string, fn ReportHandler) AuditSink {
	if name == "" {
		name = "callback"
	}
	return &callbackAudit{name: name, fn: fn}
}

// NewChannelAudit exposes reports via a channel; it returns the sink, the
// read-only channel, and a close function the caller should invoke during
// shutdown. Record blocks until the report is received, the buffer has room
// or ctx is done.
func NewChannelAudit(name string, buffer int) (AuditSink, <-chan Report, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Report, buffer)
	s := &channelAudit{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackAudit struct {
	name string
	fn   ReportHandler
}

func (s *callbackAudit) Record(_ context.Context, r *Report) error {
	if s.fn == nil {
		return fmt.Errorf("callback audit %q: nil handler", s.name)
	}
	if r == nil {
		return nil
	}
	return s.fn(copyReport(r))
}

func (s *callbackAudit) Name() string { return s.name }

type channelAudit struct {
	name   string
	ch     chan Report
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelAudit) Record(ctx context.Context, r *Report) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelAuditClosed
	default:
	}

	if r == nil {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelAuditClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- copyReport(r):
		return nil
	}
}

func (s *channelAudit) Name() string { return s.name }

func (s *channelAudit) close() {
	s.once.Do(func() {
		close(s.closed)
		// Wait for in-flight sends to observe closed before closing ch.
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func copyReport(r *Report) Report {
	out := *r
	out.Results = append([]PVResult(nil), r.Results...)
	return out
}
