package tplengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_RenderString(t *testing.T) {
	engine := NewEngine()

	t.Run("Should pass through plain strings", func(t *testing.T) {
		out, err := engine.RenderString("no markers here", nil)
		require.NoError(t, err)
		assert.Equal(t, "no markers here", out)
	})

	t.Run("Should render context values with sprig functions", func(t *testing.T) {
		out, err := engine.RenderString(`Summarize {{ .topic | upper }}`, map[string]any{"topic": "report"})
		require.NoError(t, err)
		assert.Equal(t, "Summarize REPORT", out)
	})

	t.Run("Should fail on missing keys", func(t *testing.T) {
		_, err := engine.RenderString(`{{ .missing.key }}`, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("Should fail on malformed templates", func(t *testing.T) {
		_, err := engine.RenderString(`{{ .broken `, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse template")
	})

	t.Run("Should expose global values", func(t *testing.T) {
		e := NewEngine()
		e.AddGlobalValue("env", map[string]any{"stage": "test"})
		out, err := e.RenderString(`{{ .env.stage }}`, nil)
		require.NoError(t, err)
		assert.Equal(t, "test", out)
	})
}

func TestTemplateEngine_ParseMap(t *testing.T) {
	engine := NewEngine()
	data := map[string]any{
		"user":  map[string]any{"name": "ada", "tags": []any{"a", "b"}},
		"count": 3,
	}

	t.Run("Should resolve nested templates", func(t *testing.T) {
		out, err := engine.ParseMap(map[string]any{
			"greeting": "hello {{ .user.name }}",
			"list":     []any{"{{ .count }}", 42},
		}, data)
		require.NoError(t, err)
		m := out.(map[string]any)
		assert.Equal(t, "hello ada", m["greeting"])
		assert.Equal(t, []any{3, 42}, m["list"])
	})

	t.Run("Should preserve object types for simple references", func(t *testing.T) {
		out, err := engine.ParseMap("{{ .user.tags }}", data)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, out)
	})

	t.Run("Should decode JSON-looking results", func(t *testing.T) {
		out, err := engine.ParseMap(`{{ toJson .user }}`, data)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "ada", "tags": []any{"a", "b"}}, out)
	})
}
