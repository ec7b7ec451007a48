// Package sim is an in-memory PV backend. It backs the "sim" transport and
// the orchestrator tests: PVs can be made slow, unreachable or faulty, and
// every write is recorded.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

var (
	_ ports.Connector = (*Backend)(nil)
	_ ports.Session   = (*session)(nil)
	_ ports.Channel   = (*channel)(nil)
)

// Write is one recorded channel write.
type Write struct {
	Name  domain.PvName
	Value domain.Value
	At    time.Time
}

// Stats counts resource usage so tests can check nothing leaks.
type Stats struct {
	SessionsOpened int
	SessionsClosed int
	ChannelsLive   int
	Connects       int
}

// Backend holds the simulated PV values. A PV exists only once it has a
// value; connecting to anything else waits until the caller gives up.
type Backend struct {
	mu           sync.Mutex
	values       map[domain.PvName]domain.Value
	unreachable  map[domain.PvName]bool
	delays       map[domain.PvName]time.Duration
	readErrs     map[domain.PvName]error
	writeErrs    map[domain.PvName]error
	ignoreCancel bool
	writes       []Write
	stats        Stats
}

// Option configures a Backend.
type Option func(*Backend)

// WithValue seeds a PV.
func WithValue(name domain.PvName, v domain.Value) Option {
	return func(b *Backend) { b.values[name] = v }
}

// WithUnreachable makes a PV never connect even when it has a value.
func WithUnreachable(names ...domain.PvName) Option {
	return func(b *Backend) {
		for _, n := range names {
			b.unreachable[n] = true
		}
	}
}

// WithDelay delays the connection of a PV.
func WithDelay(name domain.PvName, d time.Duration) Option {
	return func(b *Backend) { b.delays[name] = d }
}

// WithReadError makes reads of a connected PV fail.
func WithReadError(name domain.PvName, err error) Option {
	return func(b *Backend) { b.readErrs[name] = err }
}

// WithWriteError makes writes to a connected PV fail.
func WithWriteError(name domain.PvName, err error) Option {
	return func(b *Backend) { b.writeErrs[name] = err }
}

// WithIgnoreCancel makes delayed and unreachable connects ignore their
// context, like a client library stuck in a blocking call. They return
// once the delay passes or the session is closed.
func WithIgnoreCancel() Option {
	return func(b *Backend) { b.ignoreCancel = true }
}

func New(opts ...Option) *Backend {
	b := &Backend{
		values:      make(map[domain.PvName]domain.Value),
		unreachable: make(map[domain.PvName]bool),
		delays:      make(map[domain.PvName]time.Duration),
		readErrs:    make(map[domain.PvName]error),
		writeErrs:   make(map[domain.PvName]error),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Set replaces the current value of a PV, creating it if needed.
func (b *Backend) Set(name domain.PvName, v domain.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = v
}

// Get returns the current value of a PV.
func (b *Backend) Get(name domain.PvName) (domain.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[name]
	return v, ok
}

// Writes returns every write applied so far in arrival order.
func (b *Backend) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Backend) Open(ctx context.Context) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.stats.SessionsOpened++
	b.mu.Unlock()
	return &session{backend: b, done: make(chan struct{})}, nil
}

type session struct {
	backend   *Backend
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) Connect(ctx context.Context, name domain.PvName) (ports.Channel, error) {
	b := s.backend

	b.mu.Lock()
	b.stats.Connects++
	_, exists := b.values[name]
	reachable := exists && !b.unreachable[name]
	delay := b.delays[name]
	ignoreCancel := b.ignoreCancel
	b.mu.Unlock()

	if err := s.wait(ctx, reachable, delay, ignoreCancel); err != nil {
		return nil, &domain.PVError{PV: name, Op: "connect", Err: err}
	}

	b.mu.Lock()
	b.stats.ChannelsLive++
	b.mu.Unlock()
	return &channel{backend: b, name: name, connected: true}, nil
}

func (s *session) wait(ctx context.Context, reachable bool, delay time.Duration, ignoreCancel bool) error {
	cancelled := ctx.Done()
	if ignoreCancel {
		cancelled = nil
	}

	var timer <-chan time.Time
	if reachable {
		if delay <= 0 {
			return ctx.Err()
		}
		t := time.NewTimer(delay)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-timer:
		return ctx.Err()
	case <-cancelled:
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session closed")
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.backend.mu.Lock()
		s.backend.stats.SessionsClosed++
		s.backend.mu.Unlock()
	})
	return nil
}

type channel struct {
	backend *Backend
	name    domain.PvName

	mu        sync.Mutex
	connected bool
}

func (c *channel) Name() domain.PvName { return c.name }

func (c *channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *channel) Read(ctx context.Context) (domain.Value, error) {
	if !c.IsConnected() {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: domain.ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: err}
	}

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.readErrs[c.name]; err != nil {
		return domain.Value{}, &domain.PVError{PV: c.name, Op: "read", Err: err}
	}
	return b.values[c.name], nil
}

func (c *channel) Write(ctx context.Context, v domain.Value) error {
	if !c.IsConnected() {
		return &domain.PVError{PV: c.name, Op: "write", Err: domain.ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return &domain.PVError{PV: c.name, Op: "write", Err: err}
	}

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeErrs[c.name]; err != nil {
		return &domain.PVError{PV: c.name, Op: "write", Err: err}
	}
	if cur := b.values[c.name]; cur.HasData() && cur.Kind() != v.Kind() {
		return &domain.PVError{
			PV:  c.name,
			Op:  "write",
			Err: fmt.Errorf("%w: pv holds %s, got %s", domain.ErrTypeMismatch, cur.Kind(), v.Kind()),
		}
	}
	b.values[c.name] = v
	b.writes = append(b.writes, Write{Name: c.name, Value: v, At: time.Now()})
	return nil
}

func (c *channel) Release() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.backend.mu.Lock()
		c.backend.stats.ChannelsLive--
		c.backend.mu.Unlock()
	}
	return nil
}
