package jewel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkHeaderValidation(t *testing.T) {
	rt := build(t, `function int main() { return 42; }`)
	chunk, err := rt.SaveChunk()
	require.NoError(t, err)
	require.Greater(t, len(chunk), chunkHeaderSize)

	// wrong magic
	bad := append([]byte(nil), chunk...)
	bad[0] ^= 0xFF
	rt2 := NewRuntime()
	assert.Equal(t, errLoadChunkFailed, rt2.LoadChunk(bad))

	// truncated chunk: total size no longer matches
	assert.Equal(t, errLoadChunkFailed, rt2.LoadChunk(chunk[:len(chunk)-4]))

	// too short for a header at all
	assert.Equal(t, errLoadChunkFailed, rt2.LoadChunk(chunk[:8]))
}

func TestChunkSegmentsSurviveLoad(t *testing.T) {
	rt := build(t, `
string banner = "jewel";

function int main () { return 40 + 2; }
`)
	chunk, err := rt.SaveChunk()
	require.NoError(t, err)

	rt2 := NewRuntime()
	require.NoError(t, rt2.LoadChunk(chunk))
	assert.Equal(t, len(rt.code), len(rt2.code))
	assert.Equal(t, rt.code, rt2.code)
	assert.Equal(t, rt.funcs, rt2.funcs)
	assert.Equal(t, rt.data.handles, rt2.data.handles)
	assert.Equal(t, rt.cstr.data, rt2.cstr.data)
	assert.Equal(t, rt.types.used(), rt2.types.used())

	require.NoError(t, rt2.Run())
	assert.Equal(t, int64(42), callInt(t, rt2, "main"))
}

func TestChunkSymbolTable(t *testing.T) {
	rt := build(t, `function int main() { return 1; }`)
	require.NoError(t, rt.AddSymbol("source", []byte("main.jc")))
	require.NoError(t, rt.AddSymbol("stamp", []byte{1, 2, 3, 4, 5}))
	assert.Equal(t, errSymbolExists, rt.AddSymbol("stamp", nil))

	chunk, err := rt.SaveChunk()
	require.NoError(t, err)

	rt2 := NewRuntime()
	require.NoError(t, rt2.LoadChunk(chunk))
	data, err := rt2.FindSymbol("source")
	require.NoError(t, err)
	assert.Equal(t, []byte("main.jc"), data)
	_, err = rt2.FindSymbol("missing")
	assert.Equal(t, errSymbolNotFound, err)

	// the table may be truncated before save
	rt2.TruncateSymbols(1)
	assert.Equal(t, 1, rt2.SymbolCount())
	chunk2, err := rt2.SaveChunk()
	require.NoError(t, err)
	rt3 := NewRuntime()
	require.NoError(t, rt3.LoadChunk(chunk2))
	_, err = rt3.FindSymbol("stamp")
	assert.Equal(t, errSymbolNotFound, err)
}

func TestChunkFileRoundTrip(t *testing.T) {
	rt := build(t, `function int main() { return 42; }`)
	path := filepath.Join(t.TempDir(), "main.bin")
	require.NoError(t, rt.SaveChunkFile(path))

	rt2 := NewRuntime()
	require.NoError(t, rt2.LoadChunkFile(path))
	require.NoError(t, rt2.Run())
	assert.Equal(t, int64(42), callInt(t, rt2, "main"))
}

func TestChunkFileMissing(t *testing.T) {
	rt := NewRuntime()
	err := rt.LoadChunkFile(filepath.Join(t.TempDir(), "nope.bin"))
	assert.Equal(t, errFileOpen, err)
}

func TestLoadChunkLeavesEmptyStateOnFailure(t *testing.T) {
	rt := build(t, `function int main() { return 1; }`)
	chunk, err := rt.SaveChunk()
	require.NoError(t, err)
	// corrupt the body so deserialization fails after the header
	garbage := append([]byte(nil), chunk...)
	for i := chunkHeaderSize; i < len(garbage); i++ {
		garbage[i] = 0xFF
	}
	rt2 := NewRuntime()
	err = rt2.LoadChunk(garbage)
	// either the load fails cleanly or the state stays well-defined
	if err != nil {
		assert.Equal(t, errLoadChunkFailed, err)
	}
	assert.False(t, rt2.Initialized())
}
