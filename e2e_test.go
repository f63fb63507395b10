package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, src string, options ...Option) *Runtime {
	t.Helper()
	rt, err := BuildString("test.jc", src, options...)
	if err != nil {
		for {
			msg, ok := rt2errors(rt)
			if !ok {
				break
			}
			t.Log(msg)
		}
	}
	require.NoError(t, err)
	return rt
}

func rt2errors(rt *Runtime) (string, bool) {
	if rt == nil || rt.Compiler() == nil {
		return "", false
	}
	return rt.Compiler().NextError()
}

func callInt(t *testing.T, rt *Runtime, name string, args ...Arg) int64 {
	t.Helper()
	fn := rt.GetFunction(nil, name)
	require.NotNil(t, fn, "function %s not found", name)
	h, err := rt.CallFunction(fn, args...)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, TypeInt, h.TypeID)
	v := h.Int
	rt.ReleaseHandle(h)
	return v
}

func TestHelloReturn(t *testing.T) {
	rt := build(t, `function int main() { return 42; }`)
	fn := rt.GetFunction(nil, "main")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, TypeInt, h.TypeID)
	assert.Equal(t, int64(42), h.Int)
	rt.ReleaseHandle(h)
}

func TestArithmeticAndControlFlow(t *testing.T) {
	rt := build(t, `
function int sumTo (int n)
{
	int total = 0;
	for (int i = 1; i <= n; i = i + 1)
	{
		total = total + i;
	}
	return total;
}

function int collatzSteps (int n)
{
	int steps = 0;
	while (n != 1)
	{
		if (n % 2 == 0) { n = n / 2; }
		else { n = 3 * n + 1; }
		steps = steps + 1;
	}
	return steps;
}

function int pick (int v)
{
	switch (v)
	{
		case 1: return 10;
		case 2: return 20;
		default: return 0;
	}
	return -1;
}
`)
	assert.Equal(t, int64(55), callInt(t, rt, "sumTo", IntArg(10)))
	assert.Equal(t, int64(0), callInt(t, rt, "sumTo", IntArg(0)))
	assert.Equal(t, int64(7), callInt(t, rt, "collatzSteps", IntArg(3)))
	assert.Equal(t, int64(10), callInt(t, rt, "pick", IntArg(1)))
	assert.Equal(t, int64(20), callInt(t, rt, "pick", IntArg(2)))
	assert.Equal(t, int64(0), callInt(t, rt, "pick", IntArg(9)))
}

func TestStringsAndGlobals(t *testing.T) {
	rt := build(t, `
string prefix = "hello, ";

function string greet (string name)
{
	return prefix + name;
}

function int logicOps (int a, int b)
{
	if (a > 0 and b > 0) { return 1; }
	if (a > 0 or b > 0) { return 2; }
	if (not (a == b)) { return 3; }
	return 4;
}
`)
	fn := rt.GetFunction(nil, "greet")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn, StringArg("bob"))
	require.NoError(t, err)
	assert.Equal(t, "hello, bob", h.Str)
	rt.ReleaseHandle(h)

	assert.Equal(t, int64(1), callInt(t, rt, "logicOps", IntArg(1), IntArg(1)))
	assert.Equal(t, int64(2), callInt(t, rt, "logicOps", IntArg(1), IntArg(0)))
	assert.Equal(t, int64(3), callInt(t, rt, "logicOps", IntArg(-1), IntArg(0)))
	assert.Equal(t, int64(4), callInt(t, rt, "logicOps", IntArg(0), IntArg(0)))
}

func TestClassesAndMethods(t *testing.T) {
	rt := build(t, `
class Point
{
	int x;
	int y;
	method Point (int px, int py) { x = px; y = py; }
	method int manhattan () { return x + y; }
	method int scaled (int f) { return manhattan() * f; }
}

function int use ()
{
	Point p = new Point(3, 4);
	return p.scaled(10);
}
`)
	assert.Equal(t, int64(70), callInt(t, rt, "use"))
}

func TestExceptionBridge(t *testing.T) {
	rt := build(t, `
class Err implements exception
{
	int code;
	string msg;
	method Err (int c, string m) { code = c; msg = m; }
	method int getError () { return code; }
	method string getMessage () { return msg; }
}

function int boom ()
{
	throw new Err(7, "boom");
	return 0;
}
`)
	fn := rt.GetFunction(nil, "boom")
	require.NotNil(t, fn)
	thrown, err := rt.CallFunction(fn)
	require.Error(t, err)
	exc, ok := err.(*RuntimeException)
	require.True(t, ok)
	assert.Equal(t, VMSoftwareException, exc.ErrorCode)
	require.NotNil(t, thrown)

	code, err := rt.CallMethod(thrown, "getError")
	require.NoError(t, err)
	assert.Equal(t, int64(7), code.Int)
	rt.ReleaseHandle(code)

	msg, err := rt.CallMethod(thrown, "getMessage")
	require.NoError(t, err)
	assert.Equal(t, "boom", msg.Str)
	rt.ReleaseHandle(msg)
	rt.ReleaseHandle(thrown)
}

func TestClosureLifetime(t *testing.T) {
	rt := build(t, `
function var make ()
{
	int x = 5;
	return () => x;
}
`)
	fn := rt.GetFunction(nil, "make")
	require.NotNil(t, fn)
	dg, err := rt.CallFunction(fn)
	require.NoError(t, err)
	require.NotNil(t, dg.Delegate)
	require.Len(t, dg.Delegate.Closure, 1)

	captured := dg.Delegate.Closure[0]
	assert.Equal(t, int64(5), captured.Int)
	assert.Equal(t, 1, captured.RefCount)

	// invoking the delegate after the outer function returned still
	// sees the captured value
	result, err := rt.CallDelegate(dg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Int)
	rt.ReleaseHandle(result)

	// releasing the delegate drops the captured handle to zero
	rt.ReleaseHandle(dg)
	assert.True(t, captured.IsNull())
}

func TestCofunction(t *testing.T) {
	rt := build(t, `
cofunction int gen ()
{
	yield 1;
	yield 2;
	yield 3;
}

thread t = gen();

function int next () { return t(); }
`)
	assert.Equal(t, int64(1), callInt(t, rt, "next"))
	assert.Equal(t, int64(2), callInt(t, rt, "next"))
	assert.Equal(t, int64(3), callInt(t, rt, "next"))

	fn := rt.GetFunction(nil, "next")
	_, err := rt.CallFunction(fn)
	require.Error(t, err)
	exc, ok := err.(*RuntimeException)
	require.True(t, ok)
	assert.Equal(t, VMSoftwareException, exc.ErrorCode)
}

func TestChunkRoundTrip(t *testing.T) {
	rt := build(t, `function int main() { return 42; }`)
	chunk, err := rt.SaveChunk()
	require.NoError(t, err)

	rt2 := NewRuntime()
	require.NoError(t, rt2.LoadChunk(chunk))
	chunk2, err := rt2.SaveChunk()
	require.NoError(t, err)
	// save -> load -> save produces byte-identical chunks
	assert.Equal(t, chunk, chunk2)

	require.NoError(t, rt2.Run())
	assert.Equal(t, int64(42), callInt(t, rt2, "main"))
}

func TestGCCycleBreak(t *testing.T) {
	rt := build(t, `
class Node
{
	var other;
}

Node a;
Node b;

function setup ()
{
	a = new Node();
	b = new Node();
	a.other = b;
	b.other = a;
	a = null;
	b = null;
}
`)
	fn := rt.GetFunction(nil, "setup")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	if h != nil {
		rt.ReleaseHandle(h)
	}

	stats := rt.CollectGarbage()
	// both cycle members were unreachable and got freed
	assert.Equal(t, 2, stats.Freed)

	// a second pass finds nothing new
	stats = rt.CollectGarbage()
	assert.Equal(t, 0, stats.Freed)
}

func TestStackOverflowBoundary(t *testing.T) {
	rt := build(t, `
function int rec (int n) { return rec(n + 1); }
function int fine () { return 1; }
`, WithOptionString("call-stack-size=32"))
	fn := rt.GetFunction(nil, "rec")
	require.NotNil(t, fn)
	_, err := rt.CallFunction(fn, IntArg(0))
	require.Error(t, err)
	exc, ok := err.(*RuntimeException)
	require.True(t, ok)
	assert.Equal(t, VMStackOverflow, exc.ErrorCode)

	// no corruption: the runtime survives and runs other code
	assert.Equal(t, int64(1), callInt(t, rt, "fine"))
}

func TestAccessors(t *testing.T) {
	rt := build(t, `
class Box
{
	int value;
	method Box () { value = 0; }
	accessor int value () { return value; }
	accessor value (int v) { value = v; }
	method int twice () { return value * 2; }
}

function int use ()
{
	Box bx = new Box();
	bx.value = 21;
	return bx.twice();
}
`)
	assert.Equal(t, int64(42), callInt(t, rt, "use"))
}

func TestWeakReferenceDoesNotCount(t *testing.T) {
	rt := build(t, `
class Holder
{
	weak var target;
}

Holder keeper;

function install (var obj)
{
	keeper = new Holder();
	keeper.target = obj;
}
`)
	payload := rt.NewStringHandle("pinned")
	before := payload.RefCount

	fn := rt.GetFunction(nil, "install")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn, HandleArg(payload))
	require.NoError(t, err)
	if h != nil {
		rt.ReleaseHandle(h)
	}
	// the weak slot observes the handle without contributing a count
	assert.Equal(t, before, payload.RefCount)
	rt.Release(payload)
}

func TestCofunctionLocalThread(t *testing.T) {
	rt := build(t, `
cofunction int pair (int base)
{
	yield base;
	yield base + 1;
}

function int consume ()
{
	thread p = pair(10);
	int first = p();
	int second = p();
	return first * 100 + second;
}
`)
	assert.Equal(t, int64(1011), callInt(t, rt, "consume"))
}

func TestTypeofAndSameref(t *testing.T) {
	rt := build(t, `
function int isInt (var v) { return typeof(v) == 2; }

function int refEq ()
{
	string a = "x";
	string b = a;
	if (a sameref b) { return 1; }
	return 0;
}
`)
	assert.Equal(t, int64(1), callInt(t, rt, "isInt", IntArg(5)))
	assert.Equal(t, int64(0), callInt(t, rt, "isInt", StringArg("s")))
	assert.Equal(t, int64(1), callInt(t, rt, "refEq"))
}
