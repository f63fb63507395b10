package jewel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrTableComplete(t *testing.T) {
	for op := uint32(0); op < numOpcodes; op++ {
		assert.NotEmpty(t, instrTable[op].name, "opcode %d has no mnemonic", op)
		assert.Greater(t, instrSize(op), 0, "opcode %d has no size", op)
	}
	assert.Equal(t, 0, instrSize(numOpcodes))
}

func TestInstrSizes(t *testing.T) {
	assert.Equal(t, 1, instrSize(opNop))
	assert.Equal(t, 1, instrSize(opRet))
	assert.Equal(t, 3, instrSize(opMoveRR))
	// register indirect + displacement operands take two words
	assert.Equal(t, 4, instrSize(opMoveMR))
	assert.Equal(t, 4, instrSize(opMoveRM))
	assert.Equal(t, 3, instrSize(opPushR))
	assert.Equal(t, 2, instrSize(opCalls))
	assert.Equal(t, 2, instrSize(opJsr))
	assert.Equal(t, 4, instrSize(opNewDG))
}

func TestListInstruction(t *testing.T) {
	code := []uint32{
		opMoveHR, 3, 5,
		opMoveMR, 2, uint32(int32(7)), 4,
		opJsr, 100,
		opRet,
	}
	line, size := ListInstruction(code, 0)
	assert.Equal(t, 3, size)
	assert.Contains(t, line, "moveh")

	line, size = ListInstruction(code, 3)
	assert.Equal(t, 4, size)
	assert.Contains(t, line, "(r2+7)")
	assert.Contains(t, line, "r4")

	line, size = ListInstruction(code, 7)
	assert.Equal(t, 2, size)
	assert.Contains(t, line, "jsr")

	line, size = ListInstruction(code, 9)
	assert.Equal(t, 1, size)
	assert.True(t, strings.Contains(line, "ret"))

	_, size = ListInstruction(code, 99)
	assert.Equal(t, 0, size)
}

func TestTruthy(t *testing.T) {
	rt := NewRuntime()
	assert.False(t, truthy(rt.NullHandle()))
	assert.False(t, truthy(rt.NewIntHandle(0)))
	assert.True(t, truthy(rt.NewIntHandle(-1)))
	assert.False(t, truthy(rt.NewFloatHandle(0)))
	assert.True(t, truthy(rt.NewFloatHandle(0.5)))
	assert.False(t, truthy(rt.NewStringHandle("")))
	assert.True(t, truthy(rt.NewStringHandle("x")))
}

func TestLiteralDeduplication(t *testing.T) {
	// every use of an identical literal references the same data
	// segment index through moveh
	rt := build(t, `
function int twice () { return 7; }
function int thrice () { return 7; }
function float f1 () { return 2.5; }
function float f2 () { return 2.5; }
`)
	var sites []uint32
	code := rt.CodeSegment()
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		require.Greater(t, size, 0)
		if op == opMoveHR {
			sites = append(sites, code[addr+1])
		}
		addr += size
	}
	counts := map[uint32]int{}
	for _, s := range sites {
		counts[s]++
	}
	// the int literal appears twice through one index, as does the
	// float literal
	var repeated int
	for _, n := range counts {
		if n == 2 {
			repeated++
		}
	}
	assert.Equal(t, 2, repeated)
}
