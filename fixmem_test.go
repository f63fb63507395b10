package jewel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixMemSmallBlocks(t *testing.T) {
	m := NewFixMem(true)
	blk := m.Alloc(10)
	require.NotNil(t, blk)
	assert.Len(t, blk.Data, 10)

	st := m.Stats()
	assert.Equal(t, 1, st.Allocs)
	assert.Equal(t, 1, st.InUse)
	assert.Equal(t, 1, st.Buckets)

	m.Free(blk)
	st = m.Stats()
	assert.Equal(t, 1, st.Frees)
	assert.Equal(t, 0, st.InUse)
	// empty buckets are retained for reuse
	assert.Equal(t, 1, st.Buckets)
}

func TestFixMemBucketReuse(t *testing.T) {
	m := NewFixMem(false)
	var blocks []*Block
	for i := 0; i < blocksPerBucket; i++ {
		blocks = append(blocks, m.Alloc(16))
	}
	assert.Equal(t, 1, m.Stats().Buckets)
	// the bucket is exhausted; one more allocation opens a second
	extra := m.Alloc(16)
	assert.Equal(t, 2, m.Stats().Buckets)

	for _, b := range blocks {
		m.Free(b)
	}
	m.Free(extra)
	assert.Equal(t, 0, m.LeakReport())

	// freed blocks satisfy new allocations without new buckets
	again := m.Alloc(16)
	assert.Equal(t, 2, m.Stats().Buckets)
	m.Free(again)
}

func TestFixMemLargeBlocks(t *testing.T) {
	m := NewFixMem(false)
	blk := m.Alloc(4096)
	require.NotNil(t, blk)
	assert.Len(t, blk.Data, 4096)
	st := m.Stats()
	assert.Equal(t, 1, st.LargeAllocs)
	assert.Equal(t, 0, st.Allocs)
	m.Free(blk)
	assert.Equal(t, 1, m.Stats().LargeFrees)
	assert.Equal(t, 0, m.LeakReport())
}

func TestFixMemPoolSizing(t *testing.T) {
	m := NewFixMem(false)
	for _, size := range []int{1, 16, 17, 512} {
		blk := m.Alloc(size)
		assert.Len(t, blk.Data, size)
		m.Free(blk)
	}
	assert.Equal(t, 0, m.LeakReport())
}

func TestFixMemLeakReport(t *testing.T) {
	m := NewFixMem(true)
	_ = m.Alloc(32)
	assert.Equal(t, 1, m.LeakReport())
}
