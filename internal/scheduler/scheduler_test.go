package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/generator"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu      sync.Mutex
	updates map[string][]any
}

func newRecorder() *recorder {
	return &recorder{updates: make(map[string][]any)}
}

func (r *recorder) Publish(u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[u.Point] = append(r.updates[u.Point], u.Sample.Value)
	return nil
}

func (r *recorder) values(point string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.updates[point]...)
}

func addr(s string) address.Native {
	return address.MustParse(s).Resolve(2)
}

func mustGen(t *testing.T, def types.PointDefinition) *generator.Generator {
	t.Helper()
	g, err := generator.New(&def)
	require.NoError(t, err)
	return g
}

func seedRegistry(t *testing.T, seeds ...registry.Seed) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Seed(seeds))
	return reg
}

func TestIncrementSequenceIsExact(t *testing.T) {
	step := 2.0
	gen := mustGen(t, types.PointDefinition{
		Name: "Counter", Type: types.DataTypeInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step, InitialValue: 10.0,
	})
	reg := seedRegistry(t, registry.Seed{Name: "Counter", DataType: types.DataTypeInt32, Initial: int32(10), Dynamic: true})
	rec := newRecorder()

	s := New(reg, zap.NewNop(), WithPublishers(rec))
	require.NoError(t, s.Add("Counter", addr("ns=1;i=1002"), 5*time.Millisecond, gen))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(rec.values("Counter")) >= 5 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	values := rec.values("Counter")
	prev := int32(10)
	for _, v := range values {
		assert.Equal(t, prev+2, v)
		prev = v.(int32)
	}
	assert.Equal(t, prev, reg.Get("Counter").Value)
}

func TestRandomScenario(t *testing.T) {
	gen := mustGen(t, types.PointDefinition{
		Name: "Temp", Type: types.DataTypeDouble, Dynamic: true,
		DynamicType: types.DynamicTypeRandom, Range: []float64{10, 30}, IntervalMs: 500,
	})
	reg := seedRegistry(t, registry.Seed{Name: "Temp", DataType: types.DataTypeDouble, Initial: 10.0, Dynamic: true})
	rec := newRecorder()

	s := New(reg, zap.NewNop(), WithPublishers(rec))
	require.NoError(t, s.Add("Temp", addr("ns=1;i=1001"), 500*time.Millisecond, gen))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		vals := rec.values("Temp")
		if len(vals) < 2 {
			return false
		}
		distinct := map[any]bool{}
		for _, v := range vals {
			distinct[v] = true
		}
		return len(distinct) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	for _, v := range rec.values("Temp") {
		f := v.(float64)
		assert.GreaterOrEqual(t, f, 10.0)
		assert.Less(t, f, 30.0)
	}
}

type failingGen struct{ panics bool }

func (g failingGen) Next(any) (any, error) {
	if g.panics {
		panic("generator exploded")
	}
	return nil, errors.New("generator failed")
}

func TestFailuresAreIsolated(t *testing.T) {
	step := 1.0
	good := mustGen(t, types.PointDefinition{
		Name: "Good", Type: types.DataTypeInt64, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step,
	})
	reg := seedRegistry(t,
		registry.Seed{Name: "Good", DataType: types.DataTypeInt64, Initial: int64(0), Dynamic: true},
		registry.Seed{Name: "Broken", DataType: types.DataTypeInt64, Initial: int64(0), Dynamic: true},
		registry.Seed{Name: "Panicky", DataType: types.DataTypeInt64, Initial: int64(0), Dynamic: true},
	)

	s := New(reg, zap.NewNop())
	require.NoError(t, s.Add("Good", addr("ns=1;i=1"), 5*time.Millisecond, good))
	require.NoError(t, s.Add("Broken", addr("ns=1;i=2"), 5*time.Millisecond, failingGen{}))
	require.NoError(t, s.Add("Panicky", addr("ns=1;i=3"), 5*time.Millisecond, failingGen{panics: true}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		st, _ := s.Stats("Good")
		broken, _ := s.Stats("Broken")
		panicky, _ := s.Stats("Panicky")
		return st.Ticks >= 5 && broken.Failures >= 3 && panicky.Failures >= 3
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	broken, _ := s.Stats("Broken")
	assert.Zero(t, broken.Ticks)
	assert.Equal(t, int64(0), reg.Get("Broken").Value)
	assert.Greater(t, reg.Get("Good").Value.(int64), int64(4))
}

func TestPublishFailureDoesNotStopTimer(t *testing.T) {
	step := 1.0
	gen := mustGen(t, types.PointDefinition{
		Name: "C", Type: types.DataTypeInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step,
	})
	reg := seedRegistry(t, registry.Seed{Name: "C", DataType: types.DataTypeInt32, Initial: int32(0), Dynamic: true})
	rec := newRecorder()
	broken := PublisherFunc(func(Update) error { return errors.New("endpoint gone") })

	s := New(reg, zap.NewNop(), WithPublishers(broken, rec))
	require.NoError(t, s.Add("C", addr("ns=1;i=1"), 5*time.Millisecond, gen))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(rec.values("C")) >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	st, _ := s.Stats("C")
	assert.GreaterOrEqual(t, st.Failures, uint64(3), "every tick failed to publish on one surface")
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	step := 1.0
	gen := mustGen(t, types.PointDefinition{
		Name: "Slow", Type: types.DataTypeInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step,
	})
	reg := seedRegistry(t, registry.Seed{Name: "Slow", DataType: types.DataTypeInt32, Initial: int32(0), Dynamic: true})

	var inFlight, maxInFlight atomic.Int32
	slow := PublisherFunc(func(Update) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	s := New(reg, zap.NewNop(), WithPublishers(slow))
	require.NoError(t, s.Add("Slow", addr("ns=1;i=1"), 5*time.Millisecond, gen))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		st, _ := s.Stats("Slow")
		return st.Ticks >= 2 && st.Skipped >= 3
	}, 3*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Zero(t, inFlight.Load(), "stop waits for the in-flight tick")
}

func TestNoCommitsAfterStop(t *testing.T) {
	step := 1.0
	gen := mustGen(t, types.PointDefinition{
		Name: "C", Type: types.DataTypeInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step,
	})
	reg := seedRegistry(t, registry.Seed{Name: "C", DataType: types.DataTypeInt32, Initial: int32(0), Dynamic: true})

	s := New(reg, zap.NewNop())
	require.NoError(t, s.Add("C", addr("ns=1;i=1"), 2*time.Millisecond, gen))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return reg.Get("C").Value.(int32) >= 3 }, 2*time.Second, 2*time.Millisecond)
	s.Stop()
	s.Stop()

	frozen := reg.Get("C").Value
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, reg.Get("C").Value)

	assert.ErrorIs(t, s.Add("D", addr("ns=1;i=2"), time.Millisecond, gen), ErrStopped)
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
}

func TestLifecycleErrors(t *testing.T) {
	reg := seedRegistry(t)
	s := New(reg, zap.NewNop())
	gen := failingGen{}

	assert.Error(t, s.Add("Zero", addr("ns=1;i=1"), 0, gen))
	require.NoError(t, s.Add("A", addr("ns=1;i=1"), time.Hour, gen))
	assert.ErrorIs(t, s.Add("A", addr("ns=1;i=1"), time.Hour, gen), ErrDuplicateTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, s.Add("B", addr("ns=1;i=2"), time.Hour, gen))
	assert.Equal(t, []string{"A", "B"}, s.Points())

	_, ok := s.Stats("missing")
	assert.False(t, ok)
	s.Stop()
}

func TestContextCancelStopsTasks(t *testing.T) {
	step := 1.0
	gen := mustGen(t, types.PointDefinition{
		Name: "C", Type: types.DataTypeInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: &step,
	})
	reg := seedRegistry(t, registry.Seed{Name: "C", DataType: types.DataTypeInt32, Initial: int32(0), Dynamic: true})

	ctx, cancel := context.WithCancel(context.Background())
	s := New(reg, zap.NewNop())
	require.NoError(t, s.Add("C", addr("ns=1;i=1"), 2*time.Millisecond, gen))
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return reg.Get("C").Value.(int32) >= 1 }, 2*time.Second, 2*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
