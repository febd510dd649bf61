package tplengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/compozy/conductor/engine/core"
)

// TemplateEngine renders Go templates (with sprig functions) against an
// execution context.
type TemplateEngine struct {
	globalValues map[string]any
}

// NewEngine creates a new template engine.
func NewEngine() *TemplateEngine {
	return &TemplateEngine{globalValues: make(map[string]any)}
}

// HasTemplate returns true if the string contains template markers
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// AddGlobalValue exposes name to every render.
func (e *TemplateEngine) AddGlobalValue(name string, value any) {
	e.globalValues[name] = value
}

// RenderString renders templateStr; strings without markers pass through.
func (e *TemplateEngine) RenderString(templateStr string, data map[string]any) (string, error) {
	if !HasTemplate(templateStr) {
		return templateStr, nil
	}
	tmpl, err := template.New("inline").Option("missingkey=error").Funcs(sprig.FuncMap()).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	scope := make(map[string]any, len(data)+len(e.globalValues))
	maps.Copy(scope, data)
	maps.Copy(scope, e.globalValues)
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, scope); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return buf.String(), nil
}

// ParseMap resolves templates found anywhere inside value. A string made of a
// single `{{ .path }}` reference yields the referenced object with its type.
func (e *TemplateEngine) ParseMap(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return e.parseStringValue(v, data)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			parsed, err := e.ParseMap(val, data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in map key %s: %w", k, err)
			}
			result[k] = parsed
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			parsed, err := e.ParseMap(val, data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template in array index %d: %w", i, err)
			}
			result[i] = parsed
		}
		return result, nil
	default:
		return v, nil
	}
}

func (e *TemplateEngine) parseStringValue(v string, data map[string]any) (any, error) {
	if !HasTemplate(v) {
		return v, nil
	}
	if path, ok := simpleObjectPath(v); ok {
		if obj, found := traverseObjectPath(data, strings.Split(path, ".")); found {
			return obj, nil
		}
	}
	rendered, err := e.RenderString(v, data)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(rendered, "{") || strings.HasPrefix(rendered, "[") {
		var obj any
		if json.Unmarshal([]byte(rendered), &obj) == nil {
			return obj, nil
		}
	}
	return rendered, nil
}

// simpleObjectPath recognizes `{{ .a.b }}` with no pipes or functions.
func simpleObjectPath(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") ||
		strings.Count(trimmed, "{{") != 1 {
		return "", false
	}
	content := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if !strings.HasPrefix(content, ".") || strings.ContainsAny(content, "| ") {
		return "", false
	}
	return content[1:], content != "."
}

func traverseObjectPath(data map[string]any, parts []string) (any, bool) {
	var current any = data
	for _, part := range parts {
		if part == "" {
			continue
		}
		var m map[string]any
		switch c := current.(type) {
		case map[string]any:
			m = c
		case core.Input:
			m = c
		case core.Output:
			m = c
		default:
			return nil, false
		}
		val, ok := m[part]
		if !ok {
			return nil, false
		}
		current = val
	}
	return current, true
}
