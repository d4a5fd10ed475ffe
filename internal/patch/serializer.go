// Package patch produces and encodes the JSON-Patch deltas streamed to
// clients. Diffing is delegated to an RFC 6902 differ; this package owns the
// compressed wire encoding: a flat positional array where each operation
// contributes [opcode, path] or [opcode, path, third].
package patch

import (
	"errors"
	"fmt"
)

// Operation is a single logical JSON-Patch operation.
type Operation struct {
	// Op is one of "add", "remove", "replace", "test", "move", "copy".
	Op string `json:"op"`
	// Path is the JSON Pointer the operation targets.
	Path string `json:"path"`
	// Value is the operand for add, replace and test. It is always
	// serialized: omitempty would drop legitimate zero values (0, false,
	// ""), corrupting the patch.
	Value any `json:"value"`
	// From is the source pointer for move and copy.
	From string `json:"from,omitempty"`
}

// Opcodes of the compressed encoding.
const (
	opcodeRemove  = 0
	opcodeAdd     = 1
	opcodeReplace = 2
	opcodeTest    = 3
	opcodeMove    = 4
	opcodeCopy    = 5
)

// ErrUnknownOpcode reports an opcode outside the protocol range. It is a
// fatal protocol error; sessions terminate on it.
var ErrUnknownOpcode = errors.New("patch: unknown opcode")

// ErrTruncatedPatch reports a compressed patch whose trailing elements do
// not form a complete operation, or whose path or from element is not a
// string. It is a fatal protocol error.
var ErrTruncatedPatch = errors.New("patch: truncated compressed patch")

var opNames = map[int]string{
	opcodeRemove:  "remove",
	opcodeAdd:     "add",
	opcodeReplace: "replace",
	opcodeTest:    "test",
	opcodeMove:    "move",
	opcodeCopy:    "copy",
}

func opcodeFor(op string) (int, bool) {
	for code, name := range opNames {
		if name == op {
			return code, true
		}
	}
	return 0, false
}

// arity returns the number of elements an opcode contributes, including the
// opcode itself.
func arity(code int) int {
	if code == opcodeRemove {
		return 2
	}
	return 3
}

// Compress encodes operations into the flat positional array sent on the
// wire. Unknown operation names are a programmer error and panic.
func Compress(ops []Operation) []any {
	flat := make([]any, 0, len(ops)*3)
	for _, op := range ops {
		code, ok := opcodeFor(op.Op)
		if !ok {
			panic(fmt.Sprintf("patch: cannot compress unknown op %q", op.Op))
		}
		flat = append(flat, code, op.Path)
		switch code {
		case opcodeRemove:
		case opcodeMove, opcodeCopy:
			flat = append(flat, op.From)
		default:
			flat = append(flat, op.Value)
		}
	}
	return flat
}

// Decompress decodes a flat positional array back into operations, peeling
// elements by opcode.
func Decompress(flat []any) ([]Operation, error) {
	var ops []Operation
	for i := 0; i < len(flat); {
		code, ok := asInt(flat[i])
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T) at index %d", ErrUnknownOpcode, flat[i], flat[i], i)
		}
		name, known := opNames[code]
		if !known {
			return nil, fmt.Errorf("%w: %d at index %d", ErrUnknownOpcode, code, i)
		}
		if i+arity(code) > len(flat) {
			return nil, fmt.Errorf("%w: op %q at index %d", ErrTruncatedPatch, name, i)
		}
		path, ok := flat[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: op %q at index %d has non-string path %T", ErrTruncatedPatch, name, i, flat[i+1])
		}
		op := Operation{Op: name, Path: path}
		switch code {
		case opcodeRemove:
		case opcodeMove, opcodeCopy:
			from, ok := flat[i+2].(string)
			if !ok {
				return nil, fmt.Errorf("%w: op %q at index %d has non-string from %T", ErrTruncatedPatch, name, i, flat[i+2])
			}
			op.From = from
		default:
			op.Value = flat[i+2]
		}
		ops = append(ops, op)
		i += arity(code)
	}
	return ops, nil
}

// asInt accepts the integer representations a compressed patch can arrive
// in: native ints from in-process producers, float64 from JSON decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
