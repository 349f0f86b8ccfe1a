package addrspace

import (
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/generator"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	containers []Container
	variables  []Variable
	failOn     string
}

func (s *recordingSink) AddContainer(c Container) error {
	if c.BrowseName == s.failOn {
		return errors.New("rejected")
	}
	s.containers = append(s.containers, c)
	return nil
}

func (s *recordingSink) AddVariable(v Variable) error {
	if v.BrowseName == s.failOn {
		return errors.New("rejected")
	}
	s.variables = append(s.variables, v)
	return nil
}

func f64(v float64) *float64 { return &v }

func structure() types.NodeStructure {
	return types.NodeStructure{
		CustomRoot: types.DeviceDefinition{NodeID: "ns=1;i=1000", BrowseName: "Simulation"},
		Devices: []types.DeviceDefinition{
			{NodeID: "ns=1;i=1100", BrowseName: "Line1", DisplayName: "Line 1"},
			{NodeID: "ns=1;i=1200", BrowseName: "Line2"},
		},
	}
}

func points() []types.PointDefinition {
	return []types.PointDefinition{
		{
			Name: "Temp", NodeID: "ns=1;i=1001", Type: types.DataTypeDouble,
			Dynamic: true, DynamicType: types.DynamicTypeRandom, Range: []float64{10, 30},
			IntervalMs: 500, DeviceName: "Line1",
		},
		{
			Name: "Counter", NodeID: "ns=1;i=1002", Type: types.DataTypeInt32,
			Dynamic: true, DynamicType: types.DynamicTypeIncrement, Step: f64(1),
			DeviceName: "Line2",
		},
		{
			Name: "Setpoint", NodeID: "ns=1;s=Setpoint", Type: types.DataTypeDouble,
			InitialValue: 50.0,
		},
	}
}

func newBuilder(t *testing.T) (*Builder, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewBuilder(reg, zap.NewNop(), WithDefaultInterval(2*time.Second)), reg
}

func TestBuildLaysOutHierarchy(t *testing.T) {
	b, _ := newBuilder(t)

	space, err := b.Build(structure(), points(), 2)
	require.NoError(t, err)

	assert.Equal(t, "ns=2;i=1000", space.Root.Address.String())
	assert.Nil(t, space.Root.Parent)

	require.Len(t, space.Devices, 2)
	assert.Equal(t, "Line1", space.Devices[0].BrowseName)
	assert.Equal(t, "Line 1", space.Devices[0].DisplayName)
	assert.Equal(t, "Line2", space.Devices[1].DisplayName)
	assert.Equal(t, "ns=2;i=1000", space.Devices[0].Parent.String())

	require.Len(t, space.Variables, 3)
	temp := space.Variables[0]
	assert.Equal(t, "ns=2;i=1001", temp.Address.String())
	assert.Equal(t, "ns=2;i=1100", temp.Parent.String())
	assert.Equal(t, types.AccessTypeReadOnly, temp.Access)
	assert.Equal(t, 500*time.Millisecond, temp.MinimumSamplingInterval)

	counter := space.Variables[1]
	assert.Equal(t, "ns=2;i=1200", counter.Parent.String())
	assert.Equal(t, 2*time.Second, space.Bindings[1].Interval, "default interval applies")

	setpoint := space.Variables[2]
	assert.Equal(t, "ns=2;s=Setpoint", setpoint.Address.String())
	assert.Equal(t, "ns=2;i=1100", setpoint.Parent.String(), "unset device falls back to the first")
	assert.Equal(t, types.AccessTypeReadWrite, setpoint.Access)
	assert.Zero(t, setpoint.MinimumSamplingInterval)

	dyn := space.DynamicBindings()
	require.Len(t, dyn, 2)
	assert.Equal(t, "Temp", dyn[0].Point.Name)
	assert.Equal(t, "Counter", dyn[1].Point.Name)
}

func TestEveryAddressIsResolved(t *testing.T) {
	b, _ := newBuilder(t)
	space, err := b.Build(structure(), points(), 5)
	require.NoError(t, err)

	all := []address.Native{space.Root.Address}
	for _, d := range space.Devices {
		all = append(all, d.Address)
	}
	for _, v := range space.Variables {
		all = append(all, v.Address, v.Parent)
	}
	for _, a := range all {
		assert.Equal(t, uint16(5), a.Namespace(), a.String())
	}
}

func TestAccessorsBindToRegistry(t *testing.T) {
	b, reg := newBuilder(t)
	space, err := b.Build(structure(), points(), 2)
	require.NoError(t, err)
	require.NoError(t, reg.Seed(space.Seeds()))

	setpoint := space.Variables[2].Accessor
	assert.Equal(t, "Setpoint", setpoint.Point())
	assert.Equal(t, 50.0, setpoint.Get().Value)
	require.NoError(t, setpoint.Set(75.0))
	assert.Equal(t, 75.0, setpoint.Get().Value)

	temp := space.Variables[0].Accessor
	assert.Equal(t, 10.0, temp.Get().Value)
	assert.ErrorIs(t, temp.Set(12.0), registry.ErrReadOnly)
}

func TestUnknownDeviceIsDroppedNotFatal(t *testing.T) {
	b := NewBuilder(registry.New(), zap.NewNop())
	core, logs := observer.New(zap.WarnLevel)
	b.logger = zap.New(core)

	pts := points()
	pts = append(pts, types.PointDefinition{
		Name: "Orphan", NodeID: "ns=1;i=1999", Type: types.DataTypeBoolean, DeviceName: "Line9",
	})

	space, err := b.Build(structure(), pts, 2)
	require.NoError(t, err)
	assert.Len(t, space.Variables, 3)
	require.Len(t, space.Dropped, 1)
	assert.Equal(t, "Orphan", space.Dropped[0].Point)
	assert.Equal(t, "Line9", space.Dropped[0].Device)
	assert.Equal(t, 1, logs.FilterField(zap.String("point", "Orphan")).Len())
}

func TestNoDevicesDropsEveryPoint(t *testing.T) {
	b, _ := newBuilder(t)
	st := structure()
	st.Devices = nil

	space, err := b.Build(st, points(), 2)
	require.NoError(t, err)
	assert.Empty(t, space.Variables)
	assert.Len(t, space.Dropped, 3)
}

func TestDuplicateAddressesAllReported(t *testing.T) {
	b, _ := newBuilder(t)
	pts := points()
	pts = append(pts,
		types.PointDefinition{Name: "Twin1", NodeID: "ns=9;i=1001", Type: types.DataTypeBoolean},
		types.PointDefinition{Name: "Twin2", NodeID: "ns=1;i=1001", Type: types.DataTypeBoolean},
		types.PointDefinition{Name: "ShadowsDevice", NodeID: "ns=1;i=1100", Type: types.DataTypeBoolean},
	)

	space, err := b.Build(structure(), pts, 2)
	require.Error(t, err)
	assert.Nil(t, space)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Issues, 3)
	assert.ErrorIs(t, err, ErrDuplicateAddress)
	assert.Contains(t, err.Error(), "Twin1")
	assert.Contains(t, err.Error(), "Twin2")
	assert.Contains(t, err.Error(), "ShadowsDevice")
}

func TestCollisionReportedAlongsideOtherIssues(t *testing.T) {
	b, _ := newBuilder(t)
	pts := []types.PointDefinition{
		{Name: "A", NodeID: "ns=1;i=2001", Type: types.DataTypeInt32, DeviceName: "Line1"},
		{Name: "B", NodeID: "ns=1;i=2001", Type: types.DataTypeInt32, Dynamic: true, DynamicType: types.DynamicTypeIncrement},
		{Name: "C", NodeID: "ns=1;i=2001", Type: types.DataTypeInt32, DeviceName: "Line9"},
	}

	_, err := b.Build(structure(), pts, 2)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Issues, 3)
	assert.ErrorIs(t, err, generator.ErrMissingStep)
	assert.ErrorIs(t, err, ErrDuplicateAddress)
	assert.Contains(t, err.Error(), "claimed by point A and point B")
	assert.Contains(t, err.Error(), "claimed by point A and point C")
}

func TestUnknownDynamicTypeIsScheduledWithWarning(t *testing.T) {
	reg := registry.New()
	core, logs := observer.New(zap.WarnLevel)
	b := NewBuilder(reg, zap.New(core))

	pts := []types.PointDefinition{
		{Name: "Wave", NodeID: "ns=1;i=3001", Type: types.DataTypeDouble, Dynamic: true, DynamicType: "sine", InitialValue: 5.0},
		{Name: "Bare", NodeID: "ns=1;i=3002", Type: types.DataTypeInt16, Dynamic: true},
	}

	space, err := b.Build(structure(), pts, 2)
	require.NoError(t, err)
	require.Len(t, space.Bindings, 2)
	require.NoError(t, reg.Seed(space.Seeds()))
	assert.Len(t, space.DynamicBindings(), 2)

	for _, binding := range space.Bindings {
		assert.Equal(t, generator.KindFallback, binding.Generator.Policy().Kind)
		assert.Equal(t, DefaultInterval, binding.Interval)
	}
	for _, v := range space.Variables {
		assert.Equal(t, types.AccessTypeReadOnly, v.Access)
	}
	assert.Equal(t, 5.0, reg.Get("Wave").Value)
	assert.Equal(t, int16(0), reg.Get("Bare").Value)
	assert.Equal(t, 1, logs.FilterField(zap.String("point", "Wave")).Len())
	assert.Equal(t, 1, logs.FilterField(zap.String("point", "Bare")).Len())
}

func TestFatalIssuesAreCollected(t *testing.T) {
	b, _ := newBuilder(t)
	st := structure()
	st.Devices = append(st.Devices, types.DeviceDefinition{NodeID: "ns=1;q=5", BrowseName: "Bad"})

	pts := []types.PointDefinition{
		{Name: "A", NodeID: "ns=7;x=1001", Type: types.DataTypeDouble},
		{Name: "B", NodeID: "garbage", Type: types.DataTypeDouble},
		{Name: "C", NodeID: "ns=1;i=5", Type: types.DataTypeInt32, Dynamic: true, DynamicType: types.DynamicTypeIncrement},
		{Name: "C", NodeID: "ns=1;i=6", Type: types.DataTypeInt32},
		{Name: "D", NodeID: "ns=1;i=7", Type: "Decimal"},
	}

	_, err := b.Build(st, pts, 2)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Issues, 6)
	assert.ErrorIs(t, err, address.ErrUnknownKind)
	assert.ErrorIs(t, err, address.ErrMalformed)
	assert.ErrorIs(t, err, generator.ErrMissingStep)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, err, types.ErrUnknownDataType)
}

func TestStandardNamespaceIsRejected(t *testing.T) {
	b, _ := newBuilder(t)

	_, err := b.Build(structure(), points(), 0)
	assert.ErrorIs(t, err, ErrUnresolvedNamespace)
}

func TestApplyOrderAndFailure(t *testing.T) {
	b, _ := newBuilder(t)
	space, err := b.Build(structure(), points(), 2)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, space.Apply(sink))
	require.Len(t, sink.containers, 3)
	assert.Equal(t, "Simulation", sink.containers[0].BrowseName)
	assert.Equal(t, "Line1", sink.containers[1].BrowseName)
	assert.Equal(t, "Line2", sink.containers[2].BrowseName)
	assert.Len(t, sink.variables, 3)

	failing := &recordingSink{failOn: "Counter"}
	err = space.Apply(failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Counter")
}
