package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCKeepsReachableHandles(t *testing.T) {
	rt := build(t, `
string keep = "still here";

function string read () { return keep; }
`)
	stats := rt.CollectGarbage()
	assert.Equal(t, 0, stats.Freed)

	fn := rt.GetFunction(nil, "read")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)
	assert.Equal(t, "still here", h.Str)
	rt.ReleaseHandle(h)
}

func TestGCHostRefsAreRoots(t *testing.T) {
	rt := build(t, `
function string produce () { return "held by host"; }
`)
	fn := rt.GetFunction(nil, "produce")
	require.NotNil(t, fn)
	h, err := rt.CallFunction(fn)
	require.NoError(t, err)

	rt.CollectGarbage()
	// the handle handed to the host survived the sweep
	assert.Equal(t, "held by host", h.Str)
	rt.ReleaseHandle(h)
}

func TestGCMarkBitClearedAfterSweep(t *testing.T) {
	rt := build(t, `int g = 1;`)
	rt.CollectGarbage()
	rt.handles.live(func(h *Handle) {
		assert.Zero(t, h.Flags&hfMarked)
	})
}

func TestGCHonorsRegisteredRoots(t *testing.T) {
	rt := build(t, `function int main() { return 1; }`)
	orphan := rt.NewStringHandle("orphan")
	rt.AddGCRoots(func(mark func(*Handle)) { mark(orphan) })

	rt.CollectGarbage()
	assert.Equal(t, "orphan", orphan.Str)
	rt.Release(orphan)
}

func TestGCScheduledInterval(t *testing.T) {
	rt := build(t, `
class Pair { var a; }

function int churn ()
{
	int i = 0;
	while (i < 20)
	{
		Pair p = new Pair();
		p.a = p;
		p = null;
		i = i + 1;
	}
	return i;
}
`)
	rt.SetGCInterval(5)
	assert.Equal(t, int64(20), callInt(t, rt, "churn"))
	// whatever the schedule missed, an explicit pass mops up
	rt.CollectGarbage()
	final := rt.CollectGarbage()
	assert.Equal(t, 0, final.Freed)
}

func TestTerminateReportsState(t *testing.T) {
	rt := build(t, `int g = 7;`)
	require.NoError(t, rt.Terminate())
	assert.False(t, rt.Initialized())
}
