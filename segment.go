package jewel

// The runtime owns five segments that together form a serializable
// program image: code, function descriptors, type info, data handles
// and the C-string pool. All of them are append-only between restore
// points and may only be mutated while the runtime is not initialized.

// cstrSegment is a byte pool holding zero-terminated strings with
// interning. Offset 0 always holds the empty string so that a zero
// offset reads back as "".
type cstrSegment struct {
	data   []byte
	intern map[string]int
}

func newCstrSegment() *cstrSegment {
	s := &cstrSegment{
		data:   []byte{0},
		intern: make(map[string]int),
	}
	s.intern[""] = 0
	return s
}

// addString interns s and returns its byte offset in the pool.
func (s *cstrSegment) addString(str string) int {
	if offs, ok := s.intern[str]; ok {
		return offs
	}
	offs := len(s.data)
	s.data = append(s.data, str...)
	s.data = append(s.data, 0)
	s.intern[str] = offs
	return offs
}

// stringAt reads the zero-terminated string at the given offset.
func (s *cstrSegment) stringAt(offs int) string {
	if offs < 0 || offs >= len(s.data) {
		return ""
	}
	end := offs
	for end < len(s.data) && s.data[end] != 0 {
		end++
	}
	return string(s.data[offs:end])
}

func (s *cstrSegment) used() int { return len(s.data) }

// truncate cuts the pool back to a high-water mark and rebuilds the
// interning index. Used by restore points.
func (s *cstrSegment) truncate(used int) {
	if used < 1 {
		used = 1
	}
	s.data = s.data[:used]
	s.intern = make(map[string]int)
	s.intern[""] = 0
	offs := 1
	for offs < len(s.data) {
		str := s.stringAt(offs)
		if _, ok := s.intern[str]; !ok {
			s.intern[str] = offs
		}
		offs += len(str) + 1
	}
}

// DataHandle is the immutable template for one constant in the data
// segment. The VM materializes a runtime handle from it on demand.
// String payloads live in the C-string pool.
type DataHandle struct {
	TypeID  int
	Int     int64
	Float   float64
	StrOffs int
}

// dataSegment holds constants with per-kind interning: every literal
// use with identical value and type references the same index.
type dataSegment struct {
	handles   []DataHandle
	internInt map[int64]int
	internFlt map[float64]int
	internStr map[int]int // cstr offset -> handle index
}

func newDataSegment() *dataSegment {
	return &dataSegment{
		internInt: make(map[int64]int),
		internFlt: make(map[float64]int),
		internStr: make(map[int]int),
	}
}

func (d *dataSegment) addInt(v int64) int {
	if idx, ok := d.internInt[v]; ok {
		return idx
	}
	idx := len(d.handles)
	d.handles = append(d.handles, DataHandle{TypeID: TypeInt, Int: v})
	d.internInt[v] = idx
	return idx
}

func (d *dataSegment) addFloat(v float64) int {
	if idx, ok := d.internFlt[v]; ok {
		return idx
	}
	idx := len(d.handles)
	d.handles = append(d.handles, DataHandle{TypeID: TypeFloat, Float: v})
	d.internFlt[v] = idx
	return idx
}

func (d *dataSegment) addString(cstr *cstrSegment, s string) int {
	offs := cstr.addString(s)
	if idx, ok := d.internStr[offs]; ok {
		return idx
	}
	idx := len(d.handles)
	d.handles = append(d.handles, DataHandle{TypeID: TypeString, StrOffs: offs})
	d.internStr[offs] = idx
	return idx
}

func (d *dataSegment) used() int { return len(d.handles) }

func (d *dataSegment) truncate(used int) {
	d.handles = d.handles[:used]
	d.internInt = make(map[int64]int)
	d.internFlt = make(map[float64]int)
	d.internStr = make(map[int]int)
	for i, h := range d.handles {
		switch h.TypeID {
		case TypeInt:
			if _, ok := d.internInt[h.Int]; !ok {
				d.internInt[h.Int] = i
			}
		case TypeFloat:
			if _, ok := d.internFlt[h.Float]; !ok {
				d.internFlt[h.Float] = i
			}
		case TypeString:
			if _, ok := d.internStr[h.StrOffs]; !ok {
				d.internStr[h.StrOffs] = i
			}
		}
	}
}

// Function descriptor flags.
const (
	fiMethod uint32 = 1 << iota
	fiCtor
	fiConvertor
	fiAccessor
	fiCofunc
	fiAnonymous
	fiExplicit
	fiStrict
	fiVirtual
)

// FuncInfo describes one function in the function segment. CodeAddr
// and CodeSize are written during link.
type FuncInfo struct {
	Flags     uint32
	TypeID    int // owning class, 0 for global functions
	Args      int
	MemberIdx int // slot in the owner's v-table, -1 for non-virtual
	CodeAddr  int
	CodeSize  int
	NameOffs  int
}

func (f *FuncInfo) isMethod() bool { return f.Flags&fiMethod != 0 }
func (f *FuncInfo) isCofunc() bool { return f.Flags&fiCofunc != 0 }
func (f *FuncInfo) isCtor() bool   { return f.Flags&fiCtor != 0 }
