package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/compozy/conductor/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("Should match sentinel by code", func(t *testing.T) {
		err := core.NewError(errors.New("boom"), core.ErrCodeUnsupportedNodeType, nil)
		assert.ErrorIs(t, err, core.ErrUnsupportedNodeType)
		assert.NotErrorIs(t, err, core.ErrValidation)
	})
	t.Run("Should treat graph and crew codes as validation errors", func(t *testing.T) {
		assert.ErrorIs(t, core.ValidationError(core.ErrCodeGraphInvalid, "dup"), core.ErrValidation)
		assert.ErrorIs(t, core.ValidationError(core.ErrCodeCrewInvalid, "empty"), core.ErrValidation)
	})
	t.Run("Should unwrap to the cause", func(t *testing.T) {
		cause := errors.New("root cause")
		err := fmt.Errorf("outer: %w", core.NewError(cause, core.ErrCodeNodeExecution, nil))
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, core.ErrNodeExecution)
	})
	t.Run("Should keep an existing envelope in AsError", func(t *testing.T) {
		orig := core.NewErrorf(core.ErrCodeTaskExecution, "task %s failed", "t1")
		got := core.AsError(fmt.Errorf("wrapped: %w", orig), core.ErrCodeInternal)
		require.NotNil(t, got)
		assert.Equal(t, core.ErrCodeTaskExecution, got.Code)
		assert.Equal(t, "task t1 failed", got.Message)
	})
	t.Run("Should render details in AsMap", func(t *testing.T) {
		err := core.NewErrorf(core.ErrCodeNodeExecution, "bad").WithDetail("node_id", "n1")
		m := err.AsMap()
		assert.Equal(t, "bad", m["message"])
		assert.Equal(t, core.ErrCodeNodeExecution, m["code"])
		assert.Equal(t, map[string]any{"node_id": "n1"}, m["details"])
	})
}

