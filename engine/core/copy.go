package core

import "github.com/mohae/deepcopy"

// CloneMap deep-copies a map[string]any. A nil map yields an empty map so
// callers can write to the result.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	copied, ok := deepcopy.Copy(m).(map[string]any)
	if !ok || copied == nil {
		return map[string]any{}
	}
	return copied
}
