package patch

import (
	"fmt"

	"github.com/wI2L/jsondiff"
)

// rootWrapKey gives the document root a stable parent key so a root-level
// type change diffs as a replace of "/r" instead of a whole-document
// replace. The client strips the wrapper before applying; changing this key
// breaks every connected client.
const rootWrapKey = "r"

// Diff computes the compressed patch that transforms old into next.
//
// Both trees are wrapped as {"r": tree}. When oldPresent is false the old
// side wraps to an empty object, so the first render of a session yields a
// root-level add from the empty baseline.
func Diff(old any, oldPresent bool, next any) ([]any, error) {
	src := map[string]any{}
	if oldPresent {
		src = map[string]any{rootWrapKey: old}
	}
	dst := map[string]any{rootWrapKey: next}

	d, err := jsondiff.Compare(src, dst)
	if err != nil {
		return nil, fmt.Errorf("patch: diff failed: %w", err)
	}

	ops := make([]Operation, 0, len(d))
	for _, op := range d {
		ops = append(ops, Operation{
			Op:    op.Type,
			Path:  op.Path,
			Value: op.Value,
			From:  op.From,
		})
	}
	return Compress(ops), nil
}
