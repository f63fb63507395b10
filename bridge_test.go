package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallBridgeArgMarshaling(t *testing.T) {
	rt := build(t, `
function int addAll (int a, float b, string c)
{
	return a + typeof(b) + typeof(c);
}
`)
	fn := rt.GetFunction(nil, "addAll")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn, IntArg(10), FloatArg(1.0), StringArg("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(10+TypeFloat+TypeString), h.Int)
	rt.ReleaseHandle(h)
}

func TestCallBridgeRejectsWrongArity(t *testing.T) {
	rt := build(t, `function int one (int a) { return a; }`)
	fn := rt.GetFunction(nil, "one")
	require.NotNil(t, fn)
	_, err := rt.CallFunction(fn)
	assert.Equal(t, errIllegalArgument, err)
	_, err = rt.CallFunction(fn, IntArg(1), IntArg(2))
	assert.Equal(t, errIllegalArgument, err)
}

func TestCallBridgeRejectsTagMismatch(t *testing.T) {
	// the bridge validates tags against the signature instead of
	// silently converting
	rt := build(t, `function int one (int a) { return a; }`)
	fn := rt.GetFunction(nil, "one")
	require.NotNil(t, fn)
	_, err := rt.CallFunction(fn, StringArg("nope"))
	assert.Equal(t, errIllegalArgument, err)
	_, err = rt.CallFunction(fn, FloatArg(1.5))
	assert.Equal(t, errIllegalArgument, err)
}

func TestCallBridgeTypelessAcceptsAnyTag(t *testing.T) {
	rt := build(t, `function int kind (var v) { return typeof(v); }`)
	fn := rt.GetFunction(nil, "kind")
	require.NotNil(t, fn)
	for _, tc := range []struct {
		arg  Arg
		want int64
	}{
		{IntArg(1), TypeInt},
		{FloatArg(1), TypeFloat},
		{StringArg("s"), TypeString},
	} {
		h, err := rt.CallFunction(fn, tc.arg)
		require.NoError(t, err)
		assert.Equal(t, tc.want, h.Int)
		rt.ReleaseHandle(h)
	}
}

func TestGetFunctionStaticNameWithObject(t *testing.T) {
	rt := build(t, `
class Thing
{
	method Thing () {}
	method int poke () { return 1; }
}

function Thing make () { return new Thing(); }
function int global1 () { return 1; }
`)
	fn := rt.GetFunction(nil, "make")
	require.NotNil(t, fn)
	obj, err := rt.CallFunction(fn)
	require.NoError(t, err)

	// a method resolves against the object
	assert.NotNil(t, rt.GetFunction(obj, "poke"))
	// a global (non-method) name looked up against an object yields
	// nil; hosts must pass a nil object for globals
	assert.Nil(t, rt.GetFunction(obj, "global1"))
	assert.NotNil(t, rt.GetFunction(nil, "global1"))
	rt.ReleaseHandle(obj)
}

func TestCallBridgeBlockedRuntime(t *testing.T) {
	rt := build(t, `function int main() { return 1; }`)
	fn := rt.GetFunction(nil, "main")
	require.NotNil(t, fn)
	rt.SetBlocked(true)
	_, err := rt.CallFunction(fn)
	assert.Equal(t, errRuntimeBlocked, err)
	rt.SetBlocked(false)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Int)
	rt.ReleaseHandle(h)
}

func TestCallBeforeRunFails(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileAndLink("t.jc", `function int main() { return 1; }`))
	fn := rt.GetFunction(nil, "main")
	require.NotNil(t, fn)
	_, err := rt.CallFunction(fn)
	assert.Equal(t, errCodeNotInitialized, err)
}

func TestCallDelegateBoundMethod(t *testing.T) {
	rt := build(t, `
class Greeter
{
	string name;
	method Greeter (string n) { name = n; }
	method string hello () { return "hi " + name; }
}

function var bound ()
{
	Greeter g = new Greeter("ana");
	return g.hello;
}
`)
	fn := rt.GetFunction(nil, "bound")
	require.NotNil(t, fn)
	dg, err := rt.CallFunction(fn)
	require.NoError(t, err)
	require.NotNil(t, dg.Delegate)
	require.NotNil(t, dg.Delegate.Obj)

	out, err := rt.CallDelegate(dg)
	require.NoError(t, err)
	assert.Equal(t, "hi ana", out.Str)
	rt.ReleaseHandle(out)
	rt.ReleaseHandle(dg)
}
