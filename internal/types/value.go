package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var ErrTypeMismatch = errors.New("value does not match data type")

// ToFloat64 converts any Go numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Coerce converts v into the Go representation of dt. JSON numbers
// arrive as float64 and are narrowed here; values that would overflow
// the target width or lose their integral part are rejected.
func Coerce(dt DataType, v any) (any, error) {
	switch dt {
	case DataTypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, mismatch(dt, v)
	case DataTypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, mismatch(dt, v)
	case DataTypeFloat:
		f, ok := ToFloat64(v)
		if !ok || math.Abs(f) > math.MaxFloat32 {
			return nil, mismatch(dt, v)
		}
		return float32(f), nil
	case DataTypeDouble:
		f, ok := ToFloat64(v)
		if !ok {
			return nil, mismatch(dt, v)
		}
		return f, nil
	}

	if !dt.Integer() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, string(dt))
	}

	f, ok := ToFloat64(v)
	if !ok || f != math.Trunc(f) {
		return nil, mismatch(dt, v)
	}

	lo, hi := integerBounds(dt)
	// 64-bit maxima round up to 2^63 and 2^64 as float64.
	if f < lo || f > hi || (f == hi && hi >= 1<<63) {
		return nil, mismatch(dt, v)
	}

	switch dt {
	case DataTypeSByte:
		return int8(f), nil
	case DataTypeByte:
		return uint8(f), nil
	case DataTypeInt16:
		return int16(f), nil
	case DataTypeUInt16:
		return uint16(f), nil
	case DataTypeInt32:
		return int32(f), nil
	case DataTypeUInt32:
		return uint32(f), nil
	case DataTypeInt64:
		return int64(f), nil
	default:
		return uint64(f), nil
	}
}

// CoerceNumber narrows a generated float64 into dt. Integer types are
// floored so a sample drawn from [min,max) stays inside that interval.
func CoerceNumber(dt DataType, f float64) (any, error) {
	if dt.Integer() {
		f = math.Floor(f)
	}
	return Coerce(dt, f)
}

// Zero returns the zero value of dt.
func Zero(dt DataType) any {
	switch dt {
	case DataTypeBoolean:
		return false
	case DataTypeString:
		return ""
	}
	v, err := Coerce(dt, 0.0)
	if err != nil {
		return nil
	}
	return v
}

func integerBounds(dt DataType) (float64, float64) {
	switch dt {
	case DataTypeSByte:
		return math.MinInt8, math.MaxInt8
	case DataTypeByte:
		return 0, math.MaxUint8
	case DataTypeInt16:
		return math.MinInt16, math.MaxInt16
	case DataTypeUInt16:
		return 0, math.MaxUint16
	case DataTypeInt32:
		return math.MinInt32, math.MaxInt32
	case DataTypeUInt32:
		return 0, math.MaxUint32
	case DataTypeInt64:
		return math.MinInt64, math.MaxInt64
	default:
		return 0, math.MaxUint64
	}
}

func mismatch(dt DataType, v any) error {
	return fmt.Errorf("%w: %v (%T) is not a valid %s", ErrTypeMismatch, v, v, dt)
}

// FormatValue renders a scalar for log output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
