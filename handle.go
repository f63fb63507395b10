package jewel

import "container/heap"

// Handle flags.
const (
	hfNewBucket uint8 = 1 << iota // handle heads a fresh table bucket
	hfPersist                     // do not destroy the payload
	hfMarked                      // reachable; valid only during a GC cycle
)

// Handle is the uniformly tagged value carrier of the VM. The payload
// fields overlay what in a packed layout would be one word; which one
// is live follows from TypeID.
type Handle struct {
	TypeID   int
	Flags    uint8
	RefCount int

	Int      int64
	Float    float64
	Str      string
	Obj      *Object   // script class instance
	Delegate *Delegate // delegate / closure
	Ctx      *Context  // cofunction thread
	Native   any       // payload owned by a native type

	index int // own slot in the handle table
}

// Index returns the handle's identifier in the handle table.
func (h *Handle) Index() int { return h.index }

// IsNull reports whether this is the process-wide null sentinel.
func (h *Handle) IsNull() bool { return h.index == 0 }

// Object is the instance payload of a script class: one handle slot
// per member variable.
type Object struct {
	TypeID int
	Slots  []*Handle
}

// Delegate is a first-class function value. A non-nil Obj makes it a
// bound method; Closure, when present, snapshots the enclosing
// function's stack as handle references. The delegate owns a strong
// reference to each captured handle and to the bound object.
type Delegate struct {
	FuncIdx int
	Obj     *Handle
	Closure []*Handle
}

// intHeap is a min-heap over free handle ids, so allocation always
// hands out the lowest free id.
type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// handleBucketSize is the growth quantum of the handle table.
const handleBucketSize = 64

// handleTable grows in buckets and recycles slots through a min-heap
// of free ids.
type handleTable struct {
	handles []*Handle
	free    intHeap
	null    *Handle
}

func newHandleTable() *handleTable {
	t := &handleTable{}
	// The null handle occupies index 0; its count is unbounded and
	// never reaches zero.
	t.null = &Handle{TypeID: TypeNull, RefCount: 1 << 30, index: 0}
	t.handles = append(t.handles, t.null)
	return t
}

// alloc hands out the lowest free id with a fresh handle of count 1.
func (t *handleTable) alloc() *Handle {
	if t.free.Len() > 0 {
		idx := heap.Pop(&t.free).(int)
		h := &Handle{RefCount: 1, index: idx}
		t.handles[idx] = h
		return h
	}
	idx := len(t.handles)
	h := &Handle{RefCount: 1, index: idx}
	if idx%handleBucketSize == 0 {
		h.Flags |= hfNewBucket
	}
	t.handles = append(t.handles, h)
	return h
}

// releaseSlot returns an id to the free heap. The caller has already
// destroyed the payload.
func (t *handleTable) releaseSlot(idx int) {
	if idx <= 0 || idx >= len(t.handles) {
		return
	}
	t.handles[idx] = nil
	heap.Push(&t.free, idx)
}

func (t *handleTable) get(idx int) *Handle {
	if idx < 0 || idx >= len(t.handles) {
		return nil
	}
	return t.handles[idx]
}

// live calls fn for every allocated handle except the null sentinel.
func (t *handleTable) live(fn func(*Handle)) {
	for i := 1; i < len(t.handles); i++ {
		if t.handles[i] != nil {
			fn(t.handles[i])
		}
	}
}

// liveCount returns the number of allocated handles, excluding null.
func (t *handleTable) liveCount() int {
	n := 0
	t.live(func(*Handle) { n++ })
	return n
}
