package oracle

import (
	"fmt"

	"github.com/compozy/conductor/engine/core"
)

// ErrUnavailable builds an ORACLE_UNAVAILABLE error.
func ErrUnavailable(format string, args ...any) *core.Error {
	return core.NewErrorf(core.ErrCodeOracleUnavailable, format, args...)
}

func wrapUnavailable(err error, op string) *core.Error {
	return core.NewError(fmt.Errorf("oracle %s failed: %w", op, err), core.ErrCodeOracleUnavailable, map[string]any{
		"operation": op,
	})
}
