// Package registry holds the current value of every simulated point.
//
// Each point owns one cell guarded by its own lock; readers never observe
// a partially written sample and writers of the same point are serialized
// (last write wins). Dynamic points are owned by the update scheduler,
// which commits through Advance; static points accept client writes
// through Set.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
)

var (
	ErrReadOnly       = errors.New("point is read-only")
	ErrUnknownPoint   = errors.New("unknown point")
	ErrAlreadySeeded  = errors.New("registry already seeded")
	ErrDuplicatePoint = errors.New("duplicate point name")
)

// Status mirrors the quality marker pushed with a sample.
type Status uint8

const (
	StatusGood Status = iota
	StatusUncertain
	StatusBad
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusUncertain:
		return "uncertain"
	default:
		return "bad"
	}
}

// Sample is a value together with the time it was committed.
type Sample struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"-"`
}

// Seed describes one cell to create.
type Seed struct {
	Name     string
	DataType types.DataType
	Initial  any
	Dynamic  bool
}

type cell struct {
	mu       sync.RWMutex
	sample   Sample
	dataType types.DataType
	dynamic  bool
}

// Registry is the table of point cells.
type Registry struct {
	mu     sync.RWMutex
	cells  map[string]*cell
	order  []string
	seeded bool
	strict bool
	now    func() time.Time
}

type Option func(*Registry)

// WithStrictWrites makes Set coerce written values to the point's data
// type and reject values that do not fit.
func WithStrictWrites(strict bool) Option {
	return func(r *Registry) {
		r.strict = strict
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		cells: make(map[string]*cell),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed creates one cell per point. It may run only once and must complete
// before the scheduler starts.
func (r *Registry) Seed(seeds []Seed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seeded {
		return ErrAlreadySeeded
	}

	cells := make(map[string]*cell, len(seeds))
	order := make([]string, 0, len(seeds))
	ts := r.now()
	for _, s := range seeds {
		if _, dup := cells[s.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePoint, s.Name)
		}
		cells[s.Name] = &cell{
			sample:   Sample{Value: s.Initial, Timestamp: ts, Status: StatusGood},
			dataType: s.DataType,
			dynamic:  s.Dynamic,
		}
		order = append(order, s.Name)
	}

	r.cells = cells
	r.order = order
	r.seeded = true
	return nil
}

func (r *Registry) cell(name string) (*cell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cells[name]
	return c, ok
}

// Get returns the current sample of a seeded point. Asking for a name that
// was never seeded is a programming error and panics.
func (r *Registry) Get(name string) Sample {
	c, ok := r.cell(name)
	if !ok {
		panic(fmt.Sprintf("registry: get of unseeded point %q", name))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample
}

// Lookup is Get for names that come from outside the process.
func (r *Registry) Lookup(name string) (Sample, bool) {
	c, ok := r.cell(name)
	if !ok {
		return Sample{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample, true
}

// Set replaces the value of a static point. Dynamic points are rejected
// with ErrReadOnly.
func (r *Registry) Set(name string, value any) error {
	c, ok := r.cell(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPoint, name)
	}
	if c.dynamic {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	if r.strict {
		v, err := types.Coerce(c.dataType, value)
		if err != nil {
			return fmt.Errorf("point %s: %w", name, err)
		}
		value = v
	}

	c.mu.Lock()
	c.sample = Sample{Value: value, Timestamp: r.now(), Status: StatusGood}
	c.mu.Unlock()
	return nil
}

// Advance computes and commits the next value of a point while holding its
// cell lock, so the read-modify-write is atomic with respect to readers and
// other writers. The committed sample is returned.
func (r *Registry) Advance(name string, next func(current any) (any, error)) (Sample, error) {
	c, ok := r.cell(name)
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrUnknownPoint, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := next(c.sample.Value)
	if err != nil {
		return c.sample, err
	}
	c.sample = Sample{Value: v, Timestamp: r.now(), Status: StatusGood}
	return c.sample, nil
}

// DataType returns the declared data type of a point.
func (r *Registry) DataType(name string) (types.DataType, bool) {
	c, ok := r.cell(name)
	if !ok {
		return "", false
	}
	return c.dataType, true
}

// Writable reports whether clients may write the point.
func (r *Registry) Writable(name string) bool {
	c, ok := r.cell(name)
	return ok && !c.dynamic
}

// Entry is one row of a Snapshot.
type Entry struct {
	Name     string         `json:"name"`
	DataType types.DataType `json:"type"`
	Writable bool           `json:"writable"`
	Sample
}

// Snapshot copies every cell in seed order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		c, _ := r.cell(name)
		c.mu.RLock()
		out = append(out, Entry{
			Name:     name,
			DataType: c.dataType,
			Writable: !c.dynamic,
			Sample:   c.sample,
		})
		c.mu.RUnlock()
	}
	return out
}

// Len returns the number of seeded points.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
