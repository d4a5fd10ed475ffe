package patch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompress_WireExamples(t *testing.T) {
	flat := Compress([]Operation{{Op: "add", Path: "/x", Value: 1}})
	require.Equal(t, []any{1, "/x", 1}, flat)

	flat = Compress([]Operation{{Op: "remove", Path: "/x"}})
	require.Equal(t, []any{0, "/x"}, flat)

	flat = Compress([]Operation{{Op: "move", Path: "/b", From: "/a"}})
	require.Equal(t, []any{4, "/b", "/a"}, flat)

	flat = Compress([]Operation{{Op: "copy", Path: "/b", From: "/a"}})
	require.Equal(t, []any{5, "/b", "/a"}, flat)
}

func TestCompress_MultipleOps(t *testing.T) {
	flat := Compress([]Operation{
		{Op: "replace", Path: "/counter", Value: 2},
		{Op: "remove", Path: "/old"},
		{Op: "test", Path: "/counter", Value: 2},
	})
	require.Equal(t, []any{2, "/counter", 2, 0, "/old", 3, "/counter", 2}, flat)
}

func TestDecompress_PeelsByOpcode(t *testing.T) {
	ops, err := Decompress([]any{1, "/x", 1, 0, "/y", 4, "/b", "/a"})
	require.NoError(t, err)
	require.Equal(t, []Operation{
		{Op: "add", Path: "/x", Value: 1},
		{Op: "remove", Path: "/y"},
		{Op: "move", Path: "/b", From: "/a"},
	}, ops)
}

func TestDecompress_AcceptsJSONNumbers(t *testing.T) {
	// Opcodes arrive as float64 after JSON decoding.
	ops, err := Decompress([]any{float64(2), "/counter", float64(3)})
	require.NoError(t, err)
	require.Equal(t, []Operation{{Op: "replace", Path: "/counter", Value: float64(3)}}, ops)
}

func TestDecompress_UnknownOpcode(t *testing.T) {
	_, err := Decompress([]any{9, "/x", 1})
	require.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Decompress([]any{"add", "/x", 1})
	require.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Decompress([]any{2.5, "/x", 1})
	require.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestDecompress_Truncated(t *testing.T) {
	_, err := Decompress([]any{1, "/x"})
	require.ErrorIs(t, err, ErrTruncatedPatch)

	_, err = Decompress([]any{0})
	require.ErrorIs(t, err, ErrTruncatedPatch)

	_, err = Decompress([]any{4, "/b"})
	require.ErrorIs(t, err, ErrTruncatedPatch)
}

func TestDecompress_NonStringPath(t *testing.T) {
	_, err := Decompress([]any{1, 7, 1})
	require.ErrorIs(t, err, ErrTruncatedPatch)
}

func TestRoundTripStability(t *testing.T) {
	// decompress(compress(decompress(P))) == decompress(P) for a patch that
	// arrived over the wire (JSON-typed elements).
	wire := []any{
		float64(1), "/x", map[string]any{"a": float64(1)},
		float64(0), "/y",
		float64(2), "/z", []any{"q"},
		float64(4), "/b", "/a",
		float64(5), "/c", "/b",
		float64(3), "/x", map[string]any{"a": float64(1)},
	}

	once, err := Decompress(wire)
	require.NoError(t, err)

	twice, err := Decompress(Compress(once))
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestCompress_UnknownOpPanics(t *testing.T) {
	require.Panics(t, func() {
		Compress([]Operation{{Op: "merge", Path: "/x"}})
	})
}
