package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterProc is a minimal native type: a counter whose payload lives
// in the runtime's fixed-memory pools. Function ordinals follow the
// declaration string: 0 constructor, 1 add, 2 version (static).
func counterProc(st *NTLState, msg NativeMessage, param int, in any) (any, error) {
	switch msg {
	case NTLGetInterfaceVersion:
		return NTLInterfaceVersion, nil
	case NTLGetClassName:
		return "counter", nil
	case NTLGetDeclString:
		return `class counter
{
	method counter ();
	method int add (int v);
	function int version ();
}`, nil
	case NTLGetAuthorName:
		return "test", nil
	case NTLNewObject:
		blk := st.Mem().Alloc(8)
		return blk, nil
	case NTLDestroyObject:
		st.Mem().Free(in.(*Block))
		return nil, nil
	case NTLCallMember:
		blk := in.(*Block)
		switch param {
		case 0:
			// constructor: zero the payload
			blk.Data[0] = 0
		case 1:
			v := int64(blk.Data[0]) + st.ArgInt(0)
			blk.Data[0] = byte(v)
			st.SetRetInt(v)
		}
		return nil, nil
	case NTLCallStatic:
		if param == 2 {
			st.SetRetInt(7)
		}
		return nil, nil
	}
	return nil, nil
}

func buildWithCounter(t *testing.T, src string) *Runtime {
	t.Helper()
	rt := NewRuntime()
	_, err := rt.RegisterNativeType(counterProc)
	require.NoError(t, err)
	require.NoError(t, rt.CompileAndLink("test.jc", src))
	require.NoError(t, rt.Run())
	return rt
}

func TestNativeTypeRegistration(t *testing.T) {
	rt := NewRuntime()
	id, err := rt.RegisterNativeType(counterProc)
	require.NoError(t, err)
	assert.Greater(t, id, 0)
	assert.Equal(t, id, rt.FindType("counter"))
	ti := rt.types.get(id)
	require.NotNil(t, ti)
	assert.True(t, ti.Native)
	assert.Equal(t, FamilyClass, ti.Family)
}

func TestNativeTypeDuplicateRegistration(t *testing.T) {
	rt := NewRuntime()
	_, err := rt.RegisterNativeType(counterProc)
	require.NoError(t, err)
	_, err = rt.RegisterNativeType(counterProc)
	assert.Equal(t, errRegisterTypeFailed, err)
}

func TestNativeBadDeclarationRollsBack(t *testing.T) {
	bad := func(st *NTLState, msg NativeMessage, param int, in any) (any, error) {
		switch msg {
		case NTLGetInterfaceVersion:
			return NTLInterfaceVersion, nil
		case NTLGetClassName:
			return "broken", nil
		case NTLGetDeclString:
			return "class broken { method nonsense((( }", nil
		}
		return nil, nil
	}
	rt := NewRuntime()
	typesBefore := rt.types.used()
	_, err := rt.RegisterNativeType(bad)
	require.Error(t, err)
	assert.Equal(t, typesBefore, rt.types.used())
	assert.Equal(t, -1, rt.FindType("broken"))
}

func TestNativeMemberAndStaticCalls(t *testing.T) {
	rt := buildWithCounter(t, `
function int useCounter ()
{
	counter c = new counter();
	c.add(5);
	return c.add(3);
}

function int staticVersion () { return counter::version(); }
`)
	assert.Equal(t, int64(8), callInt(t, rt, "useCounter"))
	assert.Equal(t, int64(7), callInt(t, rt, "staticVersion"))
}

func TestNativeObjectPoolRoundTrip(t *testing.T) {
	rt := buildWithCounter(t, `
function counter make () { return new counter(); }
`)
	inUseBefore := rt.MemStats().InUse

	fn := rt.GetFunction(nil, "make")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	require.NotNil(t, h.Native)
	assert.Equal(t, inUseBefore+1, rt.MemStats().InUse)

	// destroying the object returns the pool statistics to their
	// entry state
	rt.ReleaseHandle(h)
	assert.Equal(t, inUseBefore, rt.MemStats().InUse)
}

func TestNativeRegistrationLockedAfterRun(t *testing.T) {
	rt := build(t, `function int main() { return 1; }`)
	_, err := rt.RegisterNativeType(counterProc)
	assert.Equal(t, errRuntimeLocked, err)
}
