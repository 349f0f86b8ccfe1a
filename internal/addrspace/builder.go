package addrspace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/generator"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"go.uber.org/zap"
)

var (
	ErrDuplicateAddress = errors.New("duplicate native address")
	ErrDuplicateName    = errors.New("duplicate name")

	// ErrUnresolvedNamespace is returned when the stack did not assign the
	// custom namespace an index of its own.
	ErrUnresolvedNamespace = errors.New("custom namespace has no index")
)

// ConfigError collects every fatal problem found while building. The
// server must not start when Build returns one.
type ConfigError struct {
	Issues []error
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, err := range e.Issues {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d configuration error(s): %s", len(e.Issues), strings.Join(msgs, "; "))
}

func (e *ConfigError) Unwrap() []error {
	return e.Issues
}

// DefaultInterval applies to dynamic points that declare no interval.
const DefaultInterval = time.Second

type Builder struct {
	store           ValueStore
	logger          *zap.Logger
	defaultInterval time.Duration
	genOpts         []generator.Option
}

type BuilderOption func(*Builder)

func WithDefaultInterval(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.defaultInterval = d
		}
	}
}

// WithGeneratorOptions is passed to every generator the builder creates.
func WithGeneratorOptions(opts ...generator.Option) BuilderOption {
	return func(b *Builder) {
		b.genOpts = append(b.genOpts, opts...)
	}
}

// NewBuilder returns a builder whose variable accessors read and write
// through store.
func NewBuilder(store ValueStore, logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:           store,
		logger:          logger,
		defaultInterval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// claims tracks which node owns each native address so that every
// collision can be reported, not only the first.
type claims map[string]string

func (c claims) claim(addr address.Native, owner string) error {
	key := addr.String()
	if first, taken := c[key]; taken {
		return fmt.Errorf("%w %s: claimed by %s and %s", ErrDuplicateAddress, key, first, owner)
	}
	c[key] = owner
	return nil
}

// Build validates the configuration and lays out the address space under
// namespace. Devices are processed in declaration order, then points.
// Every fatal issue is collected into a *ConfigError; points referencing
// an undeclared device are dropped and reported in Space.Dropped.
func (b *Builder) Build(structure types.NodeStructure, points []types.PointDefinition, namespace uint16) (*Space, error) {
	var issues []error
	owners := make(claims)

	space := &Space{Namespace: namespace}
	if namespace == 0 {
		issues = append(issues, ErrUnresolvedNamespace)
	}

	rootSym, err := address.Parse(structure.CustomRoot.NodeID)
	if err != nil {
		issues = append(issues, fmt.Errorf("custom root %s: %w", structure.CustomRoot.BrowseName, err))
	} else {
		space.Root = Container{
			Address:     rootSym.Resolve(namespace),
			BrowseName:  structure.CustomRoot.BrowseName,
			DisplayName: structure.CustomRoot.Label(),
			Description: structure.CustomRoot.Description,
		}
		if err := owners.claim(space.Root.Address, "root "+structure.CustomRoot.BrowseName); err != nil {
			issues = append(issues, err)
		}
	}
	rootAddr := space.Root.Address

	devices := make(map[string]address.Native, len(structure.Devices))
	var firstDevice string
	for i := range structure.Devices {
		d := &structure.Devices[i]
		if _, dup := devices[d.BrowseName]; dup {
			issues = append(issues, fmt.Errorf("%w: device %s declared twice", ErrDuplicateName, d.BrowseName))
			continue
		}

		sym, err := address.Parse(d.NodeID)
		if err != nil {
			issues = append(issues, fmt.Errorf("device %s: %w", d.BrowseName, err))
			continue
		}
		addr := sym.Resolve(namespace)
		if err := owners.claim(addr, "device "+d.BrowseName); err != nil {
			issues = append(issues, err)
		}

		devices[d.BrowseName] = addr
		if firstDevice == "" {
			firstDevice = d.BrowseName
		}
		space.Devices = append(space.Devices, Container{
			Address:     addr,
			Parent:      &rootAddr,
			BrowseName:  d.BrowseName,
			DisplayName: d.Label(),
			Description: d.Description,
		})

		b.logger.Debug("Device node planned",
			zap.String("device", d.BrowseName),
			zap.String("node_id", addr.String()))
	}

	names := make(map[string]bool, len(points))
	for i := range points {
		p := &points[i]
		var rejected bool

		// The address is claimed before any other check so that a point
		// with several problems still reports its collisions.
		var addr address.Native
		sym, err := address.Parse(p.NodeID)
		if err != nil {
			issues = append(issues, fmt.Errorf("point %s: %w", p.Name, err))
			rejected = true
		} else {
			addr = sym.Resolve(namespace)
			if err := owners.claim(addr, "point "+p.Name); err != nil {
				issues = append(issues, err)
				rejected = true
			}
		}

		if names[p.Name] {
			issues = append(issues, fmt.Errorf("%w: point %s declared twice", ErrDuplicateName, p.Name))
			rejected = true
		}
		names[p.Name] = true

		gen, err := generator.New(p, b.genOpts...)
		if err != nil {
			issues = append(issues, err)
			rejected = true
		}

		if rejected {
			continue
		}

		if gen.Policy().Kind == generator.KindFallback {
			b.logger.Warn("Unknown dynamic type, point repeats its initial value",
				zap.String("point", p.Name),
				zap.String("dynamic_type", string(p.DynamicType)))
		}

		deviceName := p.DeviceName
		if deviceName == "" {
			deviceName = firstDevice
		}
		parent, ok := devices[deviceName]
		if !ok {
			reason := "device not declared"
			if deviceName == "" {
				reason = "no devices declared"
			}
			space.Dropped = append(space.Dropped, Dropped{Point: p.Name, Device: p.DeviceName, Reason: reason})
			b.logger.Warn("Point dropped: no device to attach to",
				zap.String("point", p.Name),
				zap.String("device", p.DeviceName),
				zap.String("reason", reason))
			continue
		}

		var sampling, interval time.Duration
		if gen.Policy().Kind.Dynamic() {
			interval = b.defaultInterval
			if p.IntervalMs > 0 {
				interval = time.Duration(p.IntervalMs) * time.Millisecond
			}
			sampling = interval
		}

		space.Variables = append(space.Variables, Variable{
			Address:                 addr,
			Parent:                  parent,
			BrowseName:              p.Name,
			DisplayName:             p.Label(),
			Description:             p.Description,
			DataType:                p.Type,
			Access:                  p.Access(),
			MinimumSamplingInterval: sampling,
			Accessor:                Accessor{store: b.store, name: p.Name},
		})
		space.Bindings = append(space.Bindings, Binding{
			Point:     p,
			Address:   addr,
			Generator: gen,
			Interval:  interval,
		})
	}

	if len(issues) > 0 {
		return nil, &ConfigError{Issues: issues}
	}

	return space, nil
}
