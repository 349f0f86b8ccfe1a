package types

import (
	"errors"
	"fmt"
	"strings"
)

// PointDefinition is one entry of the point list document.
type PointDefinition struct {
	Name         string      `json:"name" yaml:"name"`
	NodeID       string      `json:"nodeId" yaml:"nodeId"`
	Type         DataType    `json:"type" yaml:"type"`
	Dynamic      bool        `json:"dynamic" yaml:"dynamic"`
	DynamicType  DynamicType `json:"dynamicType,omitempty" yaml:"dynamicType,omitempty"`
	Range        []float64   `json:"range,omitempty" yaml:"range,omitempty"`
	Step         *float64    `json:"step,omitempty" yaml:"step,omitempty"`
	InitialValue any         `json:"initialValue,omitempty" yaml:"initialValue,omitempty"`
	IntervalMs   int         `json:"interval,omitempty" yaml:"interval,omitempty"`
	DeviceName   string      `json:"deviceName,omitempty" yaml:"deviceName,omitempty"`
	DisplayName  string      `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Access returns the access policy, fixed by whether the point is dynamic.
func (p *PointDefinition) Access() AccessType {
	if p.Dynamic {
		return AccessTypeReadOnly
	}
	return AccessTypeReadWrite
}

// Label returns the display name, falling back to the point name.
func (p *PointDefinition) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// DeviceDefinition describes an organizational container for points.
type DeviceDefinition struct {
	NodeID      string `json:"nodeId" mapstructure:"node_id"`
	BrowseName  string `json:"browseName" mapstructure:"browse_name"`
	DisplayName string `json:"displayName,omitempty" mapstructure:"display_name"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// Label returns the display name, falling back to the browse name.
func (d *DeviceDefinition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.BrowseName
}

// NodeStructure is the declared device hierarchy below the custom root.
type NodeStructure struct {
	CustomRoot DeviceDefinition   `json:"customRoot" mapstructure:"custom_root"`
	Devices    []DeviceDefinition `json:"devices" mapstructure:"devices"`
}

type DynamicType string

const (
	DynamicTypeRandom    DynamicType = "random"
	DynamicTypeIncrement DynamicType = "increment"
)

type AccessType string

const (
	AccessTypeReadOnly  AccessType = "read_only"
	AccessTypeReadWrite AccessType = "read_write"
)

// DataType is an OPC UA built-in scalar type name.
type DataType string

const (
	DataTypeBoolean DataType = "Boolean"
	DataTypeSByte   DataType = "SByte"
	DataTypeByte    DataType = "Byte"
	DataTypeInt16   DataType = "Int16"
	DataTypeUInt16  DataType = "UInt16"
	DataTypeInt32   DataType = "Int32"
	DataTypeUInt32  DataType = "UInt32"
	DataTypeInt64   DataType = "Int64"
	DataTypeUInt64  DataType = "UInt64"
	DataTypeFloat   DataType = "Float"
	DataTypeDouble  DataType = "Double"
	DataTypeString  DataType = "String"
)

var ErrUnknownDataType = errors.New("unknown data type")

var knownDataTypes = map[DataType]bool{
	DataTypeBoolean: true,
	DataTypeSByte:   true,
	DataTypeByte:    true,
	DataTypeInt16:   true,
	DataTypeUInt16:  true,
	DataTypeInt32:   true,
	DataTypeUInt32:  true,
	DataTypeInt64:   true,
	DataTypeUInt64:  true,
	DataTypeFloat:   true,
	DataTypeDouble:  true,
	DataTypeString:  true,
}

// Validate reports ErrUnknownDataType for tags outside the supported set.
func (d DataType) Validate() error {
	if !knownDataTypes[d] {
		return fmt.Errorf("%w: %q", ErrUnknownDataType, string(d))
	}
	return nil
}

// Numeric reports whether values of d can be generated by random or increment policies.
func (d DataType) Numeric() bool {
	switch d {
	case DataTypeBoolean, DataTypeString:
		return false
	}
	return knownDataTypes[d]
}

func (d DataType) Integer() bool {
	return d.Numeric() && d != DataTypeFloat && d != DataTypeDouble
}

// ParseDataType accepts the canonical names case-insensitively.
func ParseDataType(s string) (DataType, error) {
	for dt := range knownDataTypes {
		if strings.EqualFold(string(dt), s) {
			return dt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
}
