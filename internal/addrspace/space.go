// Package addrspace turns the declared device hierarchy and point list into
// the node graph served by the protocol stack.
package addrspace

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/generator"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
)

// ValueStore is the part of the point registry a variable node is bound to.
type ValueStore interface {
	Get(name string) registry.Sample
	Set(name string, value any) error
}

// Accessor is the get/set pair of one variable node, bound by point name.
type Accessor struct {
	store ValueStore
	name  string
}

func (a Accessor) Point() string { return a.name }

func (a Accessor) Get() registry.Sample { return a.store.Get(a.name) }

func (a Accessor) Set(v any) error { return a.store.Set(a.name, v) }

// Container is an organizational node (the custom root or a device).
type Container struct {
	Address     address.Native
	Parent      *address.Native // nil for the custom root, which hangs off the stack's root folder
	BrowseName  string
	DisplayName string
	Description string
}

// Variable is an addressable point node.
type Variable struct {
	Address                 address.Native
	Parent                  address.Native
	BrowseName              string
	DisplayName             string
	Description             string
	DataType                types.DataType
	Access                  types.AccessType
	MinimumSamplingInterval time.Duration
	Accessor                Accessor
}

// Binding ties a placed point to its generator and timer interval.
type Binding struct {
	Point     *types.PointDefinition
	Address   address.Native
	Generator *generator.Generator
	Interval  time.Duration
}

// Dynamic reports whether the point needs an update timer.
func (b Binding) Dynamic() bool {
	return b.Generator.Policy().Kind.Dynamic()
}

// Dropped records a point left out of the address space.
type Dropped struct {
	Point  string
	Device string
	Reason string
}

// Sink materializes nodes in a protocol stack.
type Sink interface {
	AddContainer(c Container) error
	AddVariable(v Variable) error
}

// Space is a fully validated address space, ready to be applied.
type Space struct {
	Namespace uint16
	Root      Container
	Devices   []Container
	Variables []Variable
	Bindings  []Binding
	Dropped   []Dropped
}

// Seeds returns one registry seed per placed point, in declaration order.
func (s *Space) Seeds() []registry.Seed {
	seeds := make([]registry.Seed, 0, len(s.Bindings))
	for _, b := range s.Bindings {
		p := b.Generator.Policy()
		seeds = append(seeds, registry.Seed{
			Name:     b.Point.Name,
			DataType: p.DataType,
			Initial:  p.Initial,
			Dynamic:  p.Kind.Dynamic(),
		})
	}
	return seeds
}

// DynamicBindings returns the bindings that need an update timer.
func (s *Space) DynamicBindings() []Binding {
	var out []Binding
	for _, b := range s.Bindings {
		if b.Dynamic() {
			out = append(out, b)
		}
	}
	return out
}

// Apply registers the root, then every device, then every variable with
// sink. A sink failure aborts the whole apply.
func (s *Space) Apply(sink Sink) error {
	if err := sink.AddContainer(s.Root); err != nil {
		return fmt.Errorf("add root %s: %w", s.Root.Address, err)
	}
	for _, d := range s.Devices {
		if err := sink.AddContainer(d); err != nil {
			return fmt.Errorf("add device %s (%s): %w", d.BrowseName, d.Address, err)
		}
	}
	for _, v := range s.Variables {
		if err := sink.AddVariable(v); err != nil {
			return fmt.Errorf("add point %s (%s): %w", v.BrowseName, v.Address, err)
		}
	}
	return nil
}
