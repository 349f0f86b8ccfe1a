// Package scheduler drives dynamic points: one independent periodic task
// per point advances its value and pushes the committed sample to every
// publisher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrStopped        = errors.New("scheduler stopped")
	ErrDuplicateTask  = errors.New("point already scheduled")
)

// Update is one committed value of a point.
type Update struct {
	Point   string
	Address address.Native
	Sample  registry.Sample
}

// Publisher pushes a committed value into a client-facing surface.
type Publisher interface {
	Publish(u Update) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Update) error

func (f PublisherFunc) Publish(u Update) error { return f(u) }

// Store is the registry surface the scheduler commits through.
type Store interface {
	Advance(name string, next func(current any) (any, error)) (registry.Sample, error)
}

// Generator computes a point's next value.
type Generator interface {
	Next(current any) (any, error)
}

// Observer receives tick outcomes, e.g. for metrics.
type Observer interface {
	TickCompleted(point string, d time.Duration)
	TickFailed(point string)
	TickSkipped(point string)
}

type nopObserver struct{}

func (nopObserver) TickCompleted(string, time.Duration) {}
func (nopObserver) TickFailed(string)                   {}
func (nopObserver) TickSkipped(string)                  {}

// Scheduler owns the per-point tasks.
type Scheduler struct {
	store      Store
	publishers []Publisher
	observer   Observer
	logger     *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

type Option func(*Scheduler)

func WithPublishers(p ...Publisher) Option {
	return func(s *Scheduler) {
		s.publishers = append(s.publishers, p...)
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

func New(store Store, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		observer: nopObserver{},
		logger:   logger,
		tasks:    make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a point. Tasks added after Start begin immediately.
func (s *Scheduler) Add(point string, addr address.Native, interval time.Duration, gen Generator) error {
	if interval <= 0 {
		return fmt.Errorf("point %s: interval must be positive, got %s", point, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, dup := s.tasks[point]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, point)
	}

	t := &task{
		sched:    s,
		point:    point,
		addr:     addr,
		interval: interval,
		gen:      gen,
	}
	s.tasks[point] = t
	s.order = append(s.order, point)

	if s.running {
		s.launch(t)
	}
	return nil
}

// Start launches every registered task. Tasks run until Stop is called or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.ctx = runCtx

	for _, name := range s.order {
		s.launch(s.tasks[name])
	}

	s.logger.Info("Update scheduler started", zap.Int("tasks", len(s.order)))
	return nil
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(t *task) {
	s.wg.Add(1)
	go t.run(s.ctx)

	s.logger.Debug("Update timer started",
		zap.String("point", t.point),
		zap.String("node_id", t.addr.String()),
		zap.Duration("interval", t.interval))
}

// Stop cancels every task and waits for in-flight ticks to finish. No tick
// commits after Stop returns. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if wasRunning {
		s.logger.Info("Update scheduler stopped")
	}
}

// Stats returns the counters of one task.
func (s *Scheduler) Stats(point string) (Stats, bool) {
	s.mu.Lock()
	t, ok := s.tasks[point]
	s.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return t.stats(), true
}

// Points lists scheduled points in registration order.
func (s *Scheduler) Points() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
