// Package generator produces the next simulated value of a point.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
)

var (
	ErrMissingStep     = errors.New("increment point has no step")
	ErrInvalidRange    = errors.New("random point needs range [min, max] with min < max")
	ErrNotNumeric      = errors.New("dynamic point must have a numeric data type")
	ErrInvalidInitial  = errors.New("initial value does not match data type")
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidStep     = errors.New("step must be integral for integer data types")
)

// Kind tags the generation policy of a point.
type Kind int

const (
	KindStatic Kind = iota
	KindRandom
	KindIncrement
	// KindFallback is a dynamic point whose dynamic type is missing or
	// unrecognised. It keeps ticking and republishes its initial value.
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindRandom:
		return "random"
	case KindIncrement:
		return "increment"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Dynamic reports whether points of this kind are driven by a timer.
func (k Kind) Dynamic() bool {
	return k == KindRandom || k == KindIncrement || k == KindFallback
}

// Policy is the resolved generation rule of one point.
type Policy struct {
	Kind     Kind
	DataType types.DataType
	Initial  any
	Min, Max float64
	Step     float64
}

// Source draws uniform samples in [0, 1).
type Source interface {
	Float64() float64
}

// Generator computes a point's next value from its current one.
type Generator struct {
	policy Policy
	src    Source
}

type Option func(*Generator)

// WithSource replaces the default random source.
func WithSource(src Source) Option {
	return func(g *Generator) {
		g.src = src
	}
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// New validates def and builds its generator. Configuration problems
// (missing step, empty range, non-numeric dynamic types) surface here and
// never at tick time.
func New(def *types.PointDefinition, opts ...Option) (*Generator, error) {
	policy, err := PolicyOf(def)
	if err != nil {
		return nil, err
	}
	return NewFromPolicy(policy, opts...), nil
}

// NewFromPolicy builds a generator without validation.
func NewFromPolicy(policy Policy, opts ...Option) *Generator {
	g := &Generator{policy: policy, src: globalSource{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PolicyOf resolves the generation policy and seed value of def.
func PolicyOf(def *types.PointDefinition) (Policy, error) {
	if err := def.Type.Validate(); err != nil {
		return Policy{}, fmt.Errorf("point %s: %w", def.Name, err)
	}

	p := Policy{Kind: KindStatic, DataType: def.Type}

	if def.Dynamic {
		if !def.Type.Numeric() {
			return Policy{}, fmt.Errorf("point %s: %w (got %s)", def.Name, ErrNotNumeric, def.Type)
		}
		if def.IntervalMs < 0 {
			return Policy{}, fmt.Errorf("point %s: %w (got %d)", def.Name, ErrInvalidInterval, def.IntervalMs)
		}

		switch def.DynamicType {
		case types.DynamicTypeRandom:
			if len(def.Range) != 2 || !(def.Range[0] < def.Range[1]) {
				return Policy{}, fmt.Errorf("point %s: %w (got %v)", def.Name, ErrInvalidRange, def.Range)
			}
			if def.Type.Integer() && (def.Range[0] != math.Trunc(def.Range[0]) || def.Range[1] != math.Trunc(def.Range[1])) {
				return Policy{}, fmt.Errorf("point %s: %w: integer types need integral bounds (got %v)", def.Name, ErrInvalidRange, def.Range)
			}
			p.Kind = KindRandom
			p.Min, p.Max = def.Range[0], def.Range[1]
		case types.DynamicTypeIncrement:
			if def.Step == nil {
				return Policy{}, fmt.Errorf("point %s: %w", def.Name, ErrMissingStep)
			}
			if def.Type.Integer() && *def.Step != math.Trunc(*def.Step) {
				return Policy{}, fmt.Errorf("point %s: %w (got %v)", def.Name, ErrInvalidStep, *def.Step)
			}
			p.Kind = KindIncrement
			p.Step = *def.Step
		default:
			p.Kind = KindFallback
		}
	}

	initial, err := seedValue(def, p)
	if err != nil {
		return Policy{}, fmt.Errorf("point %s: %w: %v", def.Name, ErrInvalidInitial, err)
	}
	p.Initial = initial

	return p, nil
}

func seedValue(def *types.PointDefinition, p Policy) (any, error) {
	if def.InitialValue != nil {
		return types.Coerce(def.Type, def.InitialValue)
	}
	switch p.Kind {
	case KindRandom:
		return types.CoerceNumber(def.Type, p.Min)
	default:
		return types.Zero(def.Type), nil
	}
}

// Policy returns the resolved policy.
func (g *Generator) Policy() Policy {
	return g.policy
}

// float32Ceil returns the smallest float32 not below v.
func float32Ceil(v float64) float32 {
	f := float32(v)
	if float64(f) < v {
		f = math.Nextafter32(f, float32(math.Inf(1)))
	}
	return f
}

// Next returns the value following current.
//
// Static points return current unchanged. Fallback points return their
// initial value on every tick. Random points ignore current and
// draw min + u*(max-min). Increment points return current + step. The
// caller is responsible for committing the result (see registry.Advance).
func (g *Generator) Next(current any) (any, error) {
	switch g.policy.Kind {
	case KindStatic:
		return current, nil
	case KindRandom:
		u := g.src.Float64()
		v := g.policy.Min + u*(g.policy.Max-g.policy.Min)
		out, err := types.CoerceNumber(g.policy.DataType, v)
		if err != nil {
			return nil, err
		}
		// float32 narrowing can round a sample onto max or below min
		f, _ := types.ToFloat64(out)
		if f >= g.policy.Max {
			return types.CoerceNumber(g.policy.DataType, g.policy.Min)
		}
		if f < g.policy.Min && g.policy.DataType == types.DataTypeFloat {
			return float32Ceil(g.policy.Min), nil
		}
		return out, nil
	case KindIncrement:
		cur, ok := types.ToFloat64(current)
		if !ok {
			return nil, fmt.Errorf("increment from non-numeric value %v (%T)", current, current)
		}
		return types.Coerce(g.policy.DataType, cur+g.policy.Step)
	default:
		return g.policy.Initial, nil
	}
}
