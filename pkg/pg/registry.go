package pg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/shoalstore/shoal/pkg/types"
)

// ErrShutdown fails waiters and creation attempts once the registry is
// closed. Nothing parks forever on a group that will never materialize.
var ErrShutdown = errors.New("pg: node shutting down")

// CreateFunc performs one creation attempt for the elected caller. A nil
// group with a nil error means the request was examined and benignly
// dropped; waiters stay parked for a legitimate creation.
type CreateFunc func(ctx context.Context) (*PG, error)

// slot is one identity's entry: unresolved while nothing has produced the
// group yet, then resolved exactly once with a group or an error.
type slot struct {
	done chan struct{}

	mu       sync.Mutex
	creating bool
	resolved bool
	pg       *PG
	err      error
}

func newSlot() *slot {
	return &slot{done: make(chan struct{})}
}

func (s *slot) outcome() (*PG, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pg, s.err
}

// Map is the registry of resident placement groups. Lookups for groups
// that do not exist yet park on a shared slot; creation is single-flight
// per identity, and every waiter that arrived before resolution observes
// the same outcome.
type Map struct {
	slots *xsync.MapOf[types.PGID, *slot]

	mu       sync.Mutex
	closed   chan struct{}
	closeErr error
}

// NewMap returns an empty registry.
func NewMap() *Map {
	return &Map{
		slots:  xsync.NewMapOf[types.PGID, *slot](),
		closed: make(chan struct{}),
	}
}

func (m *Map) ensure(id types.PGID) *slot {
	s, _ := m.slots.LoadOrStore(id, newSlot())
	return s
}

// Get returns a resolved group, if one is resident.
func (m *Map) Get(id types.PGID) (*PG, bool) {
	s, ok := m.slots.Load(id)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved || s.err != nil {
		return nil, false
	}
	return s.pg, true
}

// Wait blocks until the identity resolves, without triggering creation.
// Operations addressed to a group that is still being created, or that a
// creation request has not reached yet, park here.
func (m *Map) Wait(ctx context.Context, id types.PGID) (*PG, error) {
	if err := m.closedErr(); err != nil {
		return nil, err
	}
	return m.waitSlot(ctx, m.ensure(id))
}

func (m *Map) waitSlot(ctx context.Context, s *slot) (*PG, error) {
	select {
	case <-s.done:
		return s.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, m.closedErr()
	}
}

// GetOrCreate returns the resident group or joins the in-flight creation
// for it. If neither exists, the caller is elected to create: its create
// function runs exactly once for this identity, and its outcome resolves
// every concurrent waiter. A (nil, nil) return from create reverts the
// slot to idle so a later legitimate request can try again, and returns
// (nil, nil) to the elected caller.
func (m *Map) GetOrCreate(ctx context.Context, id types.PGID, create CreateFunc) (*PG, error) {
	if err := m.closedErr(); err != nil {
		return nil, err
	}

	s := m.ensure(id)
	s.mu.Lock()
	if s.resolved {
		pg, err := s.pg, s.err
		s.mu.Unlock()
		return pg, err
	}
	if s.creating {
		s.mu.Unlock()
		return m.waitSlot(ctx, s)
	}
	s.creating = true
	s.mu.Unlock()

	pg, err := create(ctx)
	switch {
	case err != nil:
		m.resolve(s, nil, err)
		return nil, err
	case pg == nil:
		s.mu.Lock()
		s.creating = false
		s.mu.Unlock()
		return nil, nil
	default:
		m.resolve(s, pg, nil)
		return pg, nil
	}
}

// Insert registers a group rebuilt from disk. Fails if the identity
// already resolved; pending waiters are satisfied.
func (m *Map) Insert(id types.PGID, pg *PG) error {
	if err := m.closedErr(); err != nil {
		return err
	}
	if !m.resolve(m.ensure(id), pg, nil) {
		return fmt.Errorf("pg %s already registered", id)
	}
	return nil
}

func (m *Map) resolve(s *slot, pg *PG, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return false
	}
	s.resolved = true
	s.creating = false
	s.pg = pg
	s.err = err
	close(s.done)
	return true
}

// Resident snapshots all resolved groups.
func (m *Map) Resident() []*PG {
	var out []*PG
	m.slots.Range(func(_ types.PGID, s *slot) bool {
		s.mu.Lock()
		if s.resolved && s.err == nil {
			out = append(out, s.pg)
		}
		s.mu.Unlock()
		return true
	})
	return out
}

// Len counts resolved groups.
func (m *Map) Len() int {
	return len(m.Resident())
}

// Close fails every parked and future waiter. The cause, if any, is
// wrapped under ErrShutdown.
func (m *Map) Close(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return
	default:
	}
	if cause != nil {
		m.closeErr = fmt.Errorf("%w: %v", ErrShutdown, cause)
	} else {
		m.closeErr = ErrShutdown
	}
	close(m.closed)
}

func (m *Map) closedErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		if m.closeErr != nil {
			return m.closeErr
		}
		return ErrShutdown
	default:
		return nil
	}
}
