package crew

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
)

// DecodeJSON parses a JSON crew spec.
func DecodeJSON(data []byte) (*Spec, error) {
	var spec Spec
	if err := sonic.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode crew JSON: %w", err)
	}
	return &spec, nil
}

// EncodeJSON renders a crew spec as JSON.
func EncodeJSON(spec *Spec) ([]byte, error) {
	return sonic.Marshal(spec)
}

// DecodeYAML parses a YAML crew spec.
func DecodeYAML(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode crew YAML: %w", err)
	}
	return &spec, nil
}
