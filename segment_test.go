package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCstrInterning(t *testing.T) {
	s := newCstrSegment()
	a := s.addString("hello")
	b := s.addString("world")
	c := s.addString("hello")
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "hello", s.stringAt(a))
	assert.Equal(t, "world", s.stringAt(b))
	assert.Equal(t, "", s.stringAt(0))
}

func TestCstrTruncateRebuildsIndex(t *testing.T) {
	s := newCstrSegment()
	a := s.addString("keep")
	mark := s.used()
	s.addString("drop")
	s.truncate(mark)
	assert.Equal(t, a, s.addString("keep"))
	assert.Equal(t, mark, s.used())
	// the dropped string reinterns at a fresh offset
	d := s.addString("drop")
	assert.Equal(t, mark, d)
}

func TestDataSegmentInterning(t *testing.T) {
	cstr := newCstrSegment()
	d := newDataSegment()
	// identical value and type share one index
	assert.Equal(t, d.addInt(42), d.addInt(42))
	assert.NotEqual(t, d.addInt(42), d.addInt(43))
	assert.Equal(t, d.addFloat(1.5), d.addFloat(1.5))
	assert.Equal(t, d.addString(cstr, "x"), d.addString(cstr, "x"))
	// int 1 and float 1 are distinct entries
	assert.NotEqual(t, d.addInt(1), d.addFloat(1))
}

func TestDataSegmentTruncate(t *testing.T) {
	cstr := newCstrSegment()
	d := newDataSegment()
	keep := d.addInt(1)
	mark := d.used()
	d.addString(cstr, "gone")
	d.truncate(mark)
	assert.Equal(t, mark, d.used())
	assert.Equal(t, keep, d.addInt(1))
}

func TestHandleTableLowestFreeID(t *testing.T) {
	tbl := newHandleTable()
	h1 := tbl.alloc()
	h2 := tbl.alloc()
	h3 := tbl.alloc()
	assert.Equal(t, 1, h1.Index())
	assert.Equal(t, 2, h2.Index())
	assert.Equal(t, 3, h3.Index())

	tbl.releaseSlot(2)
	tbl.releaseSlot(1)
	// allocation hands out the lowest free id first
	assert.Equal(t, 1, tbl.alloc().Index())
	assert.Equal(t, 2, tbl.alloc().Index())
	assert.Equal(t, 4, tbl.alloc().Index())
}

func TestNullHandleDecrementIsNoOp(t *testing.T) {
	rt := NewRuntime()
	null := rt.NullHandle()
	before := null.RefCount
	rt.Release(null)
	rt.Release(null)
	assert.Equal(t, before, null.RefCount)
	rt.AddRef(null)
	assert.Equal(t, before, null.RefCount)
}

func TestTypeRegistryPredefined(t *testing.T) {
	cstr := newCstrSegment()
	tr := newTypeRegistry(cstr)
	assert.Equal(t, TypeInt, tr.lookup("int"))
	assert.Equal(t, TypeFloat, tr.lookup("float"))
	assert.Equal(t, TypeString, tr.lookup("string"))
	assert.Equal(t, -1, tr.lookup("nothing"))

	ti := tr.add(cstr, "point", FamilyClass)
	require.NotNil(t, ti)
	assert.Equal(t, numPredefTypes, ti.TypeID)
	// registering again returns the same entry
	assert.Equal(t, ti.TypeID, tr.add(cstr, "point", FamilyClass).TypeID)

	tr.truncate(cstr, numPredefTypes)
	assert.Equal(t, -1, tr.lookup("point"))
}
