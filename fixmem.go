package jewel

// Fixed-block memory pools. Allocations up to 512 bytes are served
// from bucketed pools of 16/32/64/128/256/512-byte blocks; larger
// requests fall through to the host allocator and carry a header
// record so Free can identify them. The pools are shared within one
// runtime state but are not safe for cross-state sharing.

const (
	numPools        = 6
	blocksPerBucket = 64
	maxPooledSize   = 512
)

var poolBlockSizes = [numPools]int{16, 32, 64, 128, 256, 512}

// Block is one allocation. Data is sized to the request; the backing
// block is the pool's block size.
type Block struct {
	Data []byte

	pool   int // -1 for large blocks
	bucket *memBucket
	slot   int
}

type memBucket struct {
	blocks    [blocksPerBucket][]byte
	freeSlots []int
	next      *memBucket // link in the pool's available list
	linked    bool
	pool      int
}

type memPool struct {
	blockSize int
	avail     *memBucket // buckets with at least one free block
	all       []*memBucket
}

// MemStats reports allocation counters of one FixMem instance.
type MemStats struct {
	Allocs      int
	Frees       int
	LargeAllocs int
	LargeFrees  int
	Buckets     int
	InUse       int
}

// FixMem is the bucketed fixed-block allocator of one runtime state.
type FixMem struct {
	pools [numPools]memPool
	stats MemStats
	debug bool
}

// NewFixMem creates an allocator with empty pools. With debug set the
// teardown report lists leaked blocks.
func NewFixMem(debug bool) *FixMem {
	m := &FixMem{debug: debug}
	for i := range m.pools {
		m.pools[i].blockSize = poolBlockSizes[i]
	}
	return m
}

func poolIndexFor(size int) int {
	for i, bs := range poolBlockSizes {
		if size <= bs {
			return i
		}
	}
	return -1
}

// Alloc returns a block of at least size bytes.
func (m *FixMem) Alloc(size int) *Block {
	if size <= 0 {
		size = 1
	}
	pi := poolIndexFor(size)
	if pi < 0 {
		m.stats.LargeAllocs++
		m.stats.InUse++
		return &Block{Data: make([]byte, size), pool: -1}
	}
	p := &m.pools[pi]
	b := p.avail
	if b == nil {
		b = &memBucket{pool: pi}
		for s := 0; s < blocksPerBucket; s++ {
			b.blocks[s] = make([]byte, p.blockSize)
			b.freeSlots = append(b.freeSlots, s)
		}
		p.all = append(p.all, b)
		m.stats.Buckets++
		p.link(b)
	}
	slot := b.freeSlots[len(b.freeSlots)-1]
	b.freeSlots = b.freeSlots[:len(b.freeSlots)-1]
	if len(b.freeSlots) == 0 {
		p.unlink(b)
	}
	m.stats.Allocs++
	m.stats.InUse++
	return &Block{Data: b.blocks[slot][:size], pool: pi, bucket: b, slot: slot}
}

// Free returns a block to its pool. Large blocks only adjust the
// counters; empty buckets are retained for reuse.
func (m *FixMem) Free(blk *Block) {
	if blk == nil {
		return
	}
	if blk.pool < 0 {
		m.stats.LargeFrees++
		m.stats.InUse--
		blk.Data = nil
		return
	}
	p := &m.pools[blk.pool]
	b := blk.bucket
	wasEmpty := len(b.freeSlots) == 0
	b.freeSlots = append(b.freeSlots, blk.slot)
	if wasEmpty {
		p.link(b)
	}
	m.stats.Frees++
	m.stats.InUse--
	blk.Data = nil
	blk.bucket = nil
}

// link puts a bucket at the head of the pool's available list.
func (p *memPool) link(b *memBucket) {
	if b.linked {
		return
	}
	b.next = p.avail
	p.avail = b
	b.linked = true
}

func (p *memPool) unlink(b *memBucket) {
	if !b.linked {
		return
	}
	if p.avail == b {
		p.avail = b.next
	} else {
		for cur := p.avail; cur != nil; cur = cur.next {
			if cur.next == b {
				cur.next = b.next
				break
			}
		}
	}
	b.next = nil
	b.linked = false
}

// Stats returns a copy of the allocation counters.
func (m *FixMem) Stats() MemStats { return m.stats }

// LeakReport returns the number of blocks still in use. The debug
// teardown path logs this.
func (m *FixMem) LeakReport() int { return m.stats.InUse }
