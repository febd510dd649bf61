package core_test

import (
	"testing"

	"github.com/compozy/conductor/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestStatusType(t *testing.T) {
	t.Run("Should only treat completed runs as successful", func(t *testing.T) {
		assert.True(t, core.StatusCompleted.IsSuccess())
		assert.False(t, core.StatusPartialSuccess.IsSuccess())
		assert.False(t, core.StatusCanceled.IsSuccess())
		assert.Equal(t, "partial_success", core.StatusPartialSuccess.String())
	})
}

func TestCloneMap(t *testing.T) {
	t.Run("Should copy nested values", func(t *testing.T) {
		src := map[string]any{"user": map[string]any{"name": "ada"}, "tags": []any{"a"}}
		dst := core.CloneMap(src)
		dst["user"].(map[string]any)["name"] = "grace"
		dst["tags"].([]any)[0] = "b"
		assert.Equal(t, "ada", src["user"].(map[string]any)["name"])
		assert.Equal(t, "a", src["tags"].([]any)[0])
	})

	t.Run("Should return a writable map for nil input", func(t *testing.T) {
		dst := core.CloneMap(nil)
		dst["k"] = 1
		assert.Len(t, dst, 1)
	})
}

func TestInputOutput(t *testing.T) {
	t.Run("Should never return nil maps", func(t *testing.T) {
		var in core.Input
		var out core.Output
		assert.NotNil(t, in.AsMap())
		assert.NotNil(t, out.AsMap())
	})
}
