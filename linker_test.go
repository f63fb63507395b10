package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkNoFunctionBody(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileString("t.jc", `
function int missing ();

function int caller () { return missing(); }
`))
	err := rt.Link()
	require.Error(t, err)
	assert.True(t, hasError(rt.Compiler(), ErrNoFunctionBody))
}

func TestLinkInterfaceNotComplete(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileString("t.jc", `
interface Shape
{
	method int area ();
}

class Square implements Shape
{
	int side;
	method Square (int s) { side = s; }
}
`))
	err := rt.Link()
	require.Error(t, err)
	assert.True(t, hasError(rt.Compiler(), ErrInterfaceNotComplete))
}

func TestLinkStrictRequiresBody(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileString("t.jc", `
strict class S
{
	method int m ();
}
`))
	err := rt.Link()
	require.Error(t, err)
	assert.True(t, hasError(rt.Compiler(), ErrStrictRequiresBody))
}

func TestLinkRewritesCallsToJsr(t *testing.T) {
	rt := build(t, `
function int leaf () { return 5; }
function int caller () { return leaf(); }
`)
	code := rt.CodeSegment()
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		require.Greater(t, size, 0)
		assert.NotEqual(t, opCalls, op, "calls survived the link pass at %d", addr)
		addr += size
	}
	assert.Equal(t, int64(5), callInt(t, rt, "caller"))
}

func TestLinkBuildsVtables(t *testing.T) {
	rt := build(t, `
interface Shape
{
	method int area ();
}

class Square implements Shape
{
	int side;
	method Square (int s) { side = s; }
	method int area () { return side * side; }
}

function int measure ()
{
	Square sq = new Square(6);
	return sq.area();
}
`)
	id := rt.FindType("Square")
	require.Greater(t, id, 0)
	ti := rt.types.get(id)
	require.NotNil(t, ti)
	require.NotEmpty(t, ti.Vtable)
	// every v-table slot resolves to a function owned by the class
	// or an ancestor interface
	for _, fnIdx := range ti.Vtable {
		require.GreaterOrEqual(t, fnIdx, 0)
		owner := rt.funcs[fnIdx].TypeID
		assert.True(t, owner == id || rt.types.isDescendantOf(id, owner))
	}
	assert.Equal(t, int64(36), callInt(t, rt, "measure"))
}

func TestLinkVirtualDispatch(t *testing.T) {
	rt := build(t, `
interface Animal
{
	method int legs ();
}

class Dog implements Animal
{
	method Dog () {}
	method int legs () { return 4; }
}

class Bird implements Animal
{
	method Bird () {}
	method int legs () { return 2; }
}

function int count (Animal a) { return a.legs(); }

function int total ()
{
	Dog d = new Dog();
	Bird b = new Bird();
	return count(d) + count(b);
}
`)
	assert.Equal(t, int64(6), callInt(t, rt, "total"))
}

func TestLinkSizesGlobalObject(t *testing.T) {
	rt := build(t, `
int a = 1;
int b = 2;
int c = 3;

function int sum () { return a + b + c; }
`)
	gi := rt.types.get(TypeGlobal)
	assert.Equal(t, 3, gi.InstanceSize)
	assert.Equal(t, int64(6), callInt(t, rt, "sum"))
}
