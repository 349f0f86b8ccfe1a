package opcua

import (
	"fmt"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// NodeID converts a resolved address into the stack's node identifier.
func NodeID(addr address.Native) *ua.NodeID {
	ident := addr.Identifier()
	ns := addr.Namespace()
	switch ident.Kind() {
	case address.KindString:
		return ua.NewStringNodeID(ns, ident.Text())
	case address.KindGUID:
		return ua.NewGUIDNodeID(ns, ident.GUID().String())
	case address.KindByteString:
		return ua.NewByteStringNodeID(ns, ident.ByteString())
	default:
		return ua.NewNumericNodeID(ns, ident.Numeric())
	}
}

var dataTypeIDs = map[types.DataType]uint32{
	types.DataTypeBoolean: id.Boolean,
	types.DataTypeSByte:   id.SByte,
	types.DataTypeByte:    id.Byte,
	types.DataTypeInt16:   id.Int16,
	types.DataTypeUInt16:  id.UInt16,
	types.DataTypeInt32:   id.Int32,
	types.DataTypeUInt32:  id.UInt32,
	types.DataTypeInt64:   id.Int64,
	types.DataTypeUInt64:  id.UInt64,
	types.DataTypeFloat:   id.Float,
	types.DataTypeDouble:  id.Double,
	types.DataTypeString:  id.String,
}

// DataTypeID returns the ns=0 node of a built-in data type.
func DataTypeID(dt types.DataType) (*ua.NodeID, error) {
	n, ok := dataTypeIDs[dt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownDataType, string(dt))
	}
	return ua.NewNumericNodeID(0, n), nil
}

// AccessLevel maps the access policy onto the AccessLevel bit set.
func AccessLevel(a types.AccessType) byte {
	if a == types.AccessTypeReadWrite {
		return byte(ua.AccessLevelTypeCurrentRead | ua.AccessLevelTypeCurrentWrite)
	}
	return byte(ua.AccessLevelTypeCurrentRead)
}

func statusCode(s registry.Status) ua.StatusCode {
	switch s {
	case registry.StatusGood:
		return ua.StatusOK
	case registry.StatusUncertain:
		return ua.StatusUncertain
	default:
		return ua.StatusBad
	}
}

func statusValue(code ua.StatusCode) *ua.DataValue {
	return &ua.DataValue{
		EncodingMask: ua.DataValueStatusCode,
		Status:       code,
	}
}
