package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasError(c *Compiler, code ErrorCode) bool {
	for _, e := range c.Errors() {
		if e.Code == code {
			return true
		}
	}
	return false
}

func TestYieldOutsideCofunction(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `function int f() { yield 1; return 0; }`)
	assert.True(t, hasError(rt.Compiler(), ErrYieldOutsideCofunction))
}

func TestReturnInCofunction(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `cofunction int g() { return 1; }`)
	assert.True(t, hasError(rt.Compiler(), ErrReturnInCofunction))
}

func TestImportNotDefined(t *testing.T) {
	rt := NewRuntime()
	err := rt.CompileString("t.jc", `import nosuch;`)
	require.Error(t, err)
	assert.True(t, hasError(rt.Compiler(), ErrImportNotDefined))
}

func TestImportCycleResolves(t *testing.T) {
	rt := NewRuntime()
	c := rt.Compiler()
	c.RegisterImportSource("alpha", "import beta; int ga = 1;")
	c.RegisterImportSource("beta", "import alpha; int gb = 2;")
	require.NoError(t, rt.CompileAndLink("t.jc", `
import alpha;

function int both () { return ga + gb; }
`))
	require.NoError(t, rt.Run())
	fn := rt.GetFunction(nil, "both")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.Int)
	rt.ReleaseHandle(h)
}

func TestDuplicateImportIsNoOp(t *testing.T) {
	rt := NewRuntime()
	rt.Compiler().RegisterImportSource("once", "int shared = 9;")
	require.NoError(t, rt.CompileString("t.jc", "import once;\nimport once;\n"))
	assert.False(t, rt.Compiler().HasErrors())
}

func TestConstArgConflict(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
function int f (int a);
function int f (const int a) { return a; }
`)
	assert.True(t, hasError(rt.Compiler(), ErrConstArgConflict))
}

func TestTypelessArgConflict(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
function int f (var a);
function int f (int a) { return a; }
`)
	// a typeless bucket is its own overload; the typed form is a new
	// function, not a conflict
	assert.False(t, hasError(rt.Compiler(), ErrTypelessArgConflict))
	assert.False(t, rt.Compiler().HasErrors())
}

func TestDuplicateFunctionBody(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
function int f () { return 1; }
function int f () { return 2; }
`)
	assert.True(t, hasError(rt.Compiler(), ErrFunctionAlreadyDefined))
}

func TestDuplicateClassForwardingLegal(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileString("t.jc", `
class Later;
class Later;
class Later { int x; method Later () { x = 1; } }
`))
	assert.False(t, rt.Compiler().HasErrors())
}

func TestFunctionKeywordInScriptClass(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
class C
{
	function int f ();
}
`)
	assert.True(t, hasError(rt.Compiler(), ErrConstructorIsFunction))
}

func TestExplicitOnPlainMethod(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
class C
{
	explicit method int f () { return 1; }
}
`)
	assert.True(t, hasError(rt.Compiler(), ErrExplicitWithMethod))
}

func TestNoReturnValue(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
function int f (int a)
{
	if (a > 0) { return 1; }
}
`)
	assert.True(t, hasError(rt.Compiler(), ErrNoReturnValue))
}

func TestSelftestReservedWarning(t *testing.T) {
	rt := NewRuntime(WithOptionString("warning-level=4"))
	require.NoError(t, rt.CompileString("t.jc", `
function int f () { __selftest; return 1; }
`))
	assert.True(t, hasError(rt.Compiler(), warnReservedKeyword))
	assert.False(t, rt.Compiler().HasErrors())
}

func TestWarningLevelGate(t *testing.T) {
	rt := NewRuntime(WithOptionString("warning-level=0"))
	require.NoError(t, rt.CompileString("t.jc", `
function int f () { __selftest; return 1; }
`))
	assert.False(t, hasError(rt.Compiler(), warnReservedKeyword))
}

func TestErrorIterator(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `function int f() { yield 1; return 0; }`)
	seen := 0
	for {
		msg, ok := rt.Compiler().NextError()
		if !ok {
			break
		}
		assert.NotEmpty(t, msg)
		seen++
	}
	assert.Greater(t, seen, 0)
	_, ok := rt.Compiler().NextError()
	assert.False(t, ok)
}

func TestErrorFormatMS(t *testing.T) {
	rt := NewRuntime(WithOptionString("error-format=ms"))
	_ = rt.CompileString("t.jc", `function int f() { yield 1; return 0; }`)
	msg, ok := rt.Compiler().NextError()
	require.True(t, ok)
	assert.Contains(t, msg, "t.jc(")
	assert.Contains(t, msg, "error C")
}

func TestErrorRecoveryReportsMultiple(t *testing.T) {
	rt := NewRuntime()
	_ = rt.CompileString("t.jc", `
function int a () { return $; }
function int b () { return 1; }
function int c () { return $; }
`)
	// the parser resumes at statement boundaries, so both bad
	// statements report
	errs := 0
	for _, e := range rt.Compiler().Errors() {
		if !e.Code.IsWarning() {
			errs++
		}
	}
	assert.GreaterOrEqual(t, errs, 2)
}

func TestRestorePointRollback(t *testing.T) {
	rt := NewRuntime()
	require.NoError(t, rt.CompileString("a.jc", `function int keep () { return 1; }`))
	point := rt.SetRestorePoint()
	funcsBefore := len(rt.funcs)
	typesBefore := rt.types.used()

	require.NoError(t, rt.CompileString("b.jc", `
class Extra { int x; }
function int drop () { return 2; }
`))
	assert.Greater(t, len(rt.funcs), funcsBefore)
	require.NoError(t, rt.Rollback(point))
	assert.Equal(t, funcsBefore, len(rt.funcs))
	assert.Equal(t, typesBefore, rt.types.used())
	assert.Equal(t, -1, rt.FindType("Extra"))

	// the surviving function still compiles and runs
	require.NoError(t, rt.Link())
	require.NoError(t, rt.Run())
	fn := rt.GetFunction(nil, "keep")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Int)
	rt.ReleaseHandle(h)
}
