package generator

import (
	"math"
	"testing"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource []float64

func (f *fixedSource) Float64() float64 {
	v := (*f)[0]
	*f = (*f)[1:]
	return v
}

func step(v float64) *float64 { return &v }

func TestRandomStaysInHalfOpenRange(t *testing.T) {
	def := &types.PointDefinition{
		Name:        "Temp",
		Type:        types.DataTypeDouble,
		Dynamic:     true,
		DynamicType: types.DynamicTypeRandom,
		Range:       []float64{10, 30},
	}
	g, err := New(def)
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		v, err := g.Next(nil)
		require.NoError(t, err)
		f := v.(float64)
		assert.GreaterOrEqual(t, f, 10.0)
		assert.Less(t, f, 30.0)
	}
}

func TestRandomUsesSource(t *testing.T) {
	src := fixedSource{0, 0.5, 0.999999}
	def := &types.PointDefinition{
		Name:        "Temp",
		Type:        types.DataTypeDouble,
		Dynamic:     true,
		DynamicType: types.DynamicTypeRandom,
		Range:       []float64{10, 30},
	}
	g, err := New(def, WithSource(&src))
	require.NoError(t, err)

	v, _ := g.Next(nil)
	assert.Equal(t, 10.0, v)
	v, _ = g.Next(123.0)
	assert.Equal(t, 20.0, v, "random ignores current state")
	v, _ = g.Next(nil)
	assert.InDelta(t, 30.0, v.(float64), 0.001)
}

func TestRandomFloatNeverHitsMax(t *testing.T) {
	src := fixedSource{0.99999999999}
	def := &types.PointDefinition{
		Name:        "Temp",
		Type:        types.DataTypeFloat,
		Dynamic:     true,
		DynamicType: types.DynamicTypeRandom,
		Range:       []float64{10, 30},
	}
	g, err := New(def, WithSource(&src))
	require.NoError(t, err)

	v, err := g.Next(nil)
	require.NoError(t, err)
	assert.Less(t, v.(float32), float32(30))
}

func TestRandomIntegerIsFloored(t *testing.T) {
	src := fixedSource{0.999}
	def := &types.PointDefinition{
		Name:        "Level",
		Type:        types.DataTypeInt32,
		Dynamic:     true,
		DynamicType: types.DynamicTypeRandom,
		Range:       []float64{0, 100},
	}
	g, err := New(def, WithSource(&src))
	require.NoError(t, err)

	v, err := g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(99), v)
}

func TestIncrementAddsStep(t *testing.T) {
	def := &types.PointDefinition{
		Name:         "Counter",
		Type:         types.DataTypeInt32,
		Dynamic:      true,
		DynamicType:  types.DynamicTypeIncrement,
		Step:         step(5),
		InitialValue: 0.0,
	}
	g, err := New(def)
	require.NoError(t, err)
	assert.Equal(t, int32(0), g.Policy().Initial)

	cur := g.Policy().Initial
	for i := 1; i <= 5; i++ {
		next, err := g.Next(cur)
		require.NoError(t, err)
		assert.Equal(t, int32(i*5), next)
		cur = next
	}
}

func TestIncrementOverflowIsTickError(t *testing.T) {
	def := &types.PointDefinition{
		Name:        "Counter",
		Type:        types.DataTypeByte,
		Dynamic:     true,
		DynamicType: types.DynamicTypeIncrement,
		Step:        step(1),
	}
	g, err := New(def)
	require.NoError(t, err)

	_, err = g.Next(uint8(255))
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestStaticReturnsCurrent(t *testing.T) {
	def := &types.PointDefinition{Name: "Setpoint", Type: types.DataTypeDouble, InitialValue: 50.0}
	g, err := New(def)
	require.NoError(t, err)

	assert.Equal(t, KindStatic, g.Policy().Kind)
	assert.False(t, g.Policy().Kind.Dynamic())
	v, err := g.Next(75.0)
	require.NoError(t, err)
	assert.Equal(t, 75.0, v)
}

func TestUnknownKindFallsBackToInitial(t *testing.T) {
	g := NewFromPolicy(Policy{Kind: Kind(42), DataType: types.DataTypeInt16, Initial: int16(7)})
	v, err := g.Next(int16(100))
	require.NoError(t, err)
	assert.Equal(t, int16(7), v)
}

func TestUnknownDynamicTypeTicksInitialValue(t *testing.T) {
	for _, dynamicType := range []types.DynamicType{"sine", ""} {
		t.Run(string(dynamicType), func(t *testing.T) {
			def := &types.PointDefinition{
				Name:         "Wave",
				Type:         types.DataTypeDouble,
				Dynamic:      true,
				DynamicType:  dynamicType,
				InitialValue: 5.0,
			}
			g, err := New(def)
			require.NoError(t, err)

			assert.Equal(t, KindFallback, g.Policy().Kind)
			assert.True(t, g.Policy().Kind.Dynamic(), "fallback points stay scheduled")
			assert.Equal(t, types.AccessTypeReadOnly, def.Access())
			assert.Equal(t, 5.0, g.Policy().Initial)

			cur := g.Policy().Initial
			for i := 0; i < 3; i++ {
				cur, err = g.Next(cur)
				require.NoError(t, err)
				assert.Equal(t, 5.0, cur)
			}
			v, err := g.Next(99.0)
			require.NoError(t, err)
			assert.Equal(t, 5.0, v)
		})
	}
}

func TestRandomFloatNeverBelowMin(t *testing.T) {
	src := fixedSource{0}
	def := &types.PointDefinition{
		Name:        "Ratio",
		Type:        types.DataTypeFloat,
		Dynamic:     true,
		DynamicType: types.DynamicTypeRandom,
		Range:       []float64{0.7, 1.0},
	}
	g, err := New(def, WithSource(&src))
	require.NoError(t, err)

	v, err := g.Next(nil)
	require.NoError(t, err)
	f := v.(float32)
	assert.GreaterOrEqual(t, float64(f), 0.7)
	assert.Less(t, float64(f), 1.0)
	assert.Equal(t, math.Nextafter32(float32(0.7), float32(math.Inf(1))), f)
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		def  types.PointDefinition
		want error
	}{
		{
			name: "increment without step",
			def:  types.PointDefinition{Type: types.DataTypeInt32, Dynamic: true, DynamicType: types.DynamicTypeIncrement},
			want: ErrMissingStep,
		},
		{
			name: "fractional step on integer",
			def:  types.PointDefinition{Type: types.DataTypeInt32, Dynamic: true, DynamicType: types.DynamicTypeIncrement, Step: step(0.5)},
			want: ErrInvalidStep,
		},
		{
			name: "random without range",
			def:  types.PointDefinition{Type: types.DataTypeDouble, Dynamic: true, DynamicType: types.DynamicTypeRandom},
			want: ErrInvalidRange,
		},
		{
			name: "random with empty range",
			def:  types.PointDefinition{Type: types.DataTypeDouble, Dynamic: true, DynamicType: types.DynamicTypeRandom, Range: []float64{5, 5}},
			want: ErrInvalidRange,
		},
		{
			name: "random integer with fractional bounds",
			def:  types.PointDefinition{Type: types.DataTypeInt16, Dynamic: true, DynamicType: types.DynamicTypeRandom, Range: []float64{0.5, 5}},
			want: ErrInvalidRange,
		},
		{
			name: "dynamic string",
			def:  types.PointDefinition{Type: types.DataTypeString, Dynamic: true, DynamicType: types.DynamicTypeRandom, Range: []float64{0, 1}},
			want: ErrNotNumeric,
		},
		{
			name: "unknown data type",
			def:  types.PointDefinition{Type: "Decimal"},
			want: types.ErrUnknownDataType,
		},
		{
			name: "initial value of wrong type",
			def:  types.PointDefinition{Type: types.DataTypeBoolean, InitialValue: "yes"},
			want: ErrInvalidInitial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.def.Name = "P"
			_, err := New(&tt.def)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSeedDefaults(t *testing.T) {
	random, err := PolicyOf(&types.PointDefinition{
		Name: "R", Type: types.DataTypeDouble, Dynamic: true,
		DynamicType: types.DynamicTypeRandom, Range: []float64{10, 30},
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, random.Initial)

	counter, err := PolicyOf(&types.PointDefinition{
		Name: "C", Type: types.DataTypeUInt32, Dynamic: true,
		DynamicType: types.DynamicTypeIncrement, Step: step(1),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), counter.Initial)

	text, err := PolicyOf(&types.PointDefinition{Name: "S", Type: types.DataTypeString})
	require.NoError(t, err)
	assert.Equal(t, "", text.Initial)
}
