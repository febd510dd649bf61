package graph

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// MarshalJSON encodes the graph as its definition.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(g.Definition())
}

// DecodeJSON parses and validates a JSON graph definition.
func DecodeJSON(data []byte) (*Graph, error) {
	var def Definition
	if err := sonic.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode graph JSON: %w", err)
	}
	return New(&def)
}

// EncodeYAML renders the graph definition as YAML.
func EncodeYAML(g *Graph) ([]byte, error) {
	out, err := yaml.Marshal(g.Definition())
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph YAML: %w", err)
	}
	return out, nil
}

// DecodeYAML parses and validates a YAML graph definition.
func DecodeYAML(data []byte) (*Graph, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode graph YAML: %w", err)
	}
	return New(&def)
}
