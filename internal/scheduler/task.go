package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"go.uber.org/zap"
)

// Stats counts the outcomes of one task's ticks.
type Stats struct {
	Ticks    uint64 `json:"ticks"`
	Failures uint64 `json:"failures"`
	Skipped  uint64 `json:"skipped"`
}

// task is the periodic timer of one point. A tick that is still in flight
// when the next one is due causes that next tick to be skipped, so ticks of
// the same point never overlap and the timer cadence is not delayed.
type task struct {
	sched    *Scheduler
	point    string
	addr     address.Native
	interval time.Duration
	gen      Generator

	busy     atomic.Bool
	ticks    atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

func (t *task) run(ctx context.Context) {
	defer t.sched.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !t.busy.CompareAndSwap(false, true) {
				t.skipped.Add(1)
				t.sched.observer.TickSkipped(t.point)
				t.sched.logger.Debug("Tick skipped, previous tick still running",
					zap.String("point", t.point))
				continue
			}
			t.sched.wg.Add(1)
			go func() {
				defer t.sched.wg.Done()
				defer t.busy.Store(false)
				t.tick()
			}()
		}
	}
}

// tick advances the point once. Failures are contained here so they never
// reach the timer loop or other points.
func (t *task) tick() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	sample, err := t.sched.store.Advance(t.point, t.gen.Next)
	if err != nil {
		t.fail(fmt.Errorf("generate: %w", err))
		return
	}

	u := Update{Point: t.point, Address: t.addr, Sample: sample}
	var errs []error
	for _, p := range t.sched.publishers {
		if err := p.Publish(u); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		t.fail(fmt.Errorf("publish: %w", errors.Join(errs...)))
		return
	}

	t.ticks.Add(1)
	t.sched.observer.TickCompleted(t.point, time.Since(start))
}

func (t *task) fail(err error) {
	t.failures.Add(1)
	t.sched.observer.TickFailed(t.point)
	t.sched.logger.Error("Update tick failed",
		zap.String("point", t.point),
		zap.String("node_id", t.addr.String()),
		zap.Error(err))
}

func (t *task) stats() Stats {
	return Stats{
		Ticks:    t.ticks.Load(),
		Failures: t.failures.Load(),
		Skipped:  t.skipped.Load(),
	}
}
