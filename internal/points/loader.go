// Package points loads point list documents from disk.
package points

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported point list format")

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{validator: validator}, nil
}

// Load reads a point list from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func (l *Loader) Load(path string) ([]types.PointDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read point list: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case ".json", "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	points, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// Parse validates and decodes a JSON point list.
func (l *Loader) Parse(data []byte) ([]types.PointDefinition, error) {
	if err := l.validator.Validate(data); err != nil {
		return nil, err
	}

	var points []types.PointDefinition
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal point list: %w", err)
	}

	// Type names are matched case-insensitively. Unknown names are kept
	// as written and rejected by the address space builder.
	for i := range points {
		if dt, err := types.ParseDataType(string(points[i].Type)); err == nil {
			points[i].Type = dt
		}
	}

	return points, nil
}

// yamlToJSON re-encodes a YAML document so that a single schema and a
// single decoder serve both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}
