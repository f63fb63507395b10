package jewel

import (
	"bytes"
	"encoding/binary"
)

// Binary chunk layout:
//
//	[header][code segment][function segment][type-info segment]
//	[data segment][cstr segment][optional symbol table]
//
// The header carries a 16-byte magic ("JILVM_" + runtime version),
// the total chunk size, and per-segment sizes counted in entries
// (bytes for the cstr segment). Endianness matches the host that
// saved the chunk; there is no portable swap.

const chunkMagicSize = 16

var chunkOrder = binary.NativeEndian

type chunkHeader struct {
	Magic     [chunkMagicSize]byte
	TotalSize uint32
	CodeLen   uint32
	FuncLen   uint32
	TypeLen   uint32
	DataLen   uint32
	CstrLen   uint32
	SymLen    uint32
}

const chunkHeaderSize = chunkMagicSize + 7*4

func chunkMagic() [chunkMagicSize]byte {
	var m [chunkMagicSize]byte
	copy(m[:], "JILVM_"+RuntimeVersion)
	return m
}

func align4(n int) int { return (n + 3) &^ 3 }

// SaveChunk serializes the five segments plus the symbol table.
func (rt *Runtime) SaveChunk() ([]byte, error) {
	if len(rt.code) == 0 {
		return nil, errSaveChunkFailed
	}
	var body bytes.Buffer
	w := func(v any) { _ = binary.Write(&body, chunkOrder, v) }

	for _, word := range rt.code {
		w(word)
	}
	for i := range rt.funcs {
		f := &rt.funcs[i]
		w(uint32(f.Flags))
		w(uint32(f.TypeID))
		w(uint32(f.Args))
		w(int32(f.MemberIdx))
		w(int32(f.CodeAddr))
		w(uint32(f.CodeSize))
		w(uint32(f.NameOffs))
	}
	for i := 0; i < rt.types.used(); i++ {
		ti := rt.types.get(i)
		w(uint32(ti.TypeID))
		w(uint32(ti.BaseID))
		w(uint32(ti.HybridID))
		w(uint32(ti.Family))
		native := uint32(0)
		if ti.Native {
			native = 1
		}
		w(native)
		w(uint32(ti.NameOffs))
		w(uint32(ti.InstanceSize))
		w(int32(ti.Methods.Ctor))
		w(int32(ti.Methods.Cctor))
		w(int32(ti.Methods.Dtor))
		w(int32(ti.Methods.ToStr))
		// the v-table serializes in its own parallel section of the
		// entry so indices rebuild without pointer fix-ups
		w(uint32(len(ti.Vtable)))
		for _, v := range ti.Vtable {
			w(int32(v))
		}
		w(uint32(len(ti.WeakSlots)))
		for _, v := range ti.WeakSlots {
			w(uint32(v))
		}
	}
	for _, d := range rt.data.handles {
		w(uint32(d.TypeID))
		w(uint32(0)) // pad
		switch d.TypeID {
		case TypeFloat:
			w(d.Float)
		case TypeString:
			w(uint64(d.StrOffs))
		default:
			w(uint64(d.Int))
		}
	}
	body.Write(rt.cstr.data)
	for body.Len()%4 != 0 {
		body.WriteByte(0)
	}
	for _, e := range rt.symtab.entries {
		w(uint32(len(e.Name)))
		body.WriteString(e.Name)
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
		w(uint32(len(e.Data)))
		body.Write(e.Data)
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
	}

	hdr := chunkHeader{
		Magic:     chunkMagic(),
		TotalSize: uint32(chunkHeaderSize + body.Len()),
		CodeLen:   uint32(len(rt.code)),
		FuncLen:   uint32(len(rt.funcs)),
		TypeLen:   uint32(rt.types.used()),
		DataLen:   uint32(rt.data.used()),
		CstrLen:   uint32(rt.cstr.used()),
		SymLen:    uint32(len(rt.symtab.entries)),
	}
	var out bytes.Buffer
	_ = binary.Write(&out, chunkOrder, hdr)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

type chunkReader struct {
	buf *bytes.Reader
}

func (r *chunkReader) u32() (uint32, error) {
	var v uint32
	err := binary.Read(r.buf, chunkOrder, &v)
	return v, err
}

func (r *chunkReader) i32() (int, error) {
	var v int32
	err := binary.Read(r.buf, chunkOrder, &v)
	return int(v), err
}

// LoadChunk validates and deserializes a chunk, replacing the current
// program. Any existing runtime state is terminated first; on failure
// the runtime is left in a well-defined empty state.
func (rt *Runtime) LoadChunk(chunk []byte) error {
	if len(chunk) < chunkHeaderSize {
		return errLoadChunkFailed
	}
	var hdr chunkHeader
	r := &chunkReader{buf: bytes.NewReader(chunk)}
	if err := binary.Read(r.buf, chunkOrder, &hdr); err != nil {
		return errLoadChunkFailed
	}
	if hdr.Magic != chunkMagic() {
		return errLoadChunkFailed
	}
	if int(hdr.TotalSize) != len(chunk) {
		return errLoadChunkFailed
	}

	if rt.initialized {
		_ = rt.Terminate()
	}
	rt.reinit()

	fail := func() error {
		rt.reinit()
		return errLoadChunkFailed
	}

	rt.code = make([]uint32, hdr.CodeLen)
	for i := range rt.code {
		v, err := r.u32()
		if err != nil {
			return fail()
		}
		rt.code[i] = v
	}
	rt.funcs = make([]FuncInfo, hdr.FuncLen)
	for i := range rt.funcs {
		f := &rt.funcs[i]
		vals := make([]uint32, 3)
		for j := range vals {
			v, err := r.u32()
			if err != nil {
				return fail()
			}
			vals[j] = v
		}
		f.Flags = vals[0]
		f.TypeID = int(vals[1])
		f.Args = int(vals[2])
		var err error
		if f.MemberIdx, err = r.i32(); err != nil {
			return fail()
		}
		if f.CodeAddr, err = r.i32(); err != nil {
			return fail()
		}
		if f.CodeSize, err = r.i32(); err != nil {
			return fail()
		}
		if f.NameOffs, err = r.i32(); err != nil {
			return fail()
		}
	}

	types := make([]TypeInfo, hdr.TypeLen)
	for i := range types {
		ti := &types[i]
		var err error
		if ti.TypeID, err = r.i32(); err != nil {
			return fail()
		}
		if ti.BaseID, err = r.i32(); err != nil {
			return fail()
		}
		if ti.HybridID, err = r.i32(); err != nil {
			return fail()
		}
		fam, err := r.i32()
		if err != nil {
			return fail()
		}
		ti.Family = TypeFamily(fam)
		native, err := r.u32()
		if err != nil {
			return fail()
		}
		ti.Native = native != 0
		if ti.NameOffs, err = r.i32(); err != nil {
			return fail()
		}
		if ti.InstanceSize, err = r.i32(); err != nil {
			return fail()
		}
		if ti.Methods.Ctor, err = r.i32(); err != nil {
			return fail()
		}
		if ti.Methods.Cctor, err = r.i32(); err != nil {
			return fail()
		}
		if ti.Methods.Dtor, err = r.i32(); err != nil {
			return fail()
		}
		if ti.Methods.ToStr, err = r.i32(); err != nil {
			return fail()
		}
		vn, err := r.u32()
		if err != nil {
			return fail()
		}
		for j := uint32(0); j < vn; j++ {
			v, err := r.i32()
			if err != nil {
				return fail()
			}
			ti.Vtable = append(ti.Vtable, v)
		}
		wn, err := r.u32()
		if err != nil {
			return fail()
		}
		for j := uint32(0); j < wn; j++ {
			v, err := r.i32()
			if err != nil {
				return fail()
			}
			ti.WeakSlots = append(ti.WeakSlots, v)
		}
	}

	data := make([]DataHandle, hdr.DataLen)
	for i := range data {
		t, err := r.i32()
		if err != nil {
			return fail()
		}
		if _, err := r.u32(); err != nil { // pad
			return fail()
		}
		data[i].TypeID = t
		switch t {
		case TypeFloat:
			if err := binary.Read(r.buf, chunkOrder, &data[i].Float); err != nil {
				return fail()
			}
		case TypeString:
			var v uint64
			if err := binary.Read(r.buf, chunkOrder, &v); err != nil {
				return fail()
			}
			data[i].StrOffs = int(v)
		default:
			var v uint64
			if err := binary.Read(r.buf, chunkOrder, &v); err != nil {
				return fail()
			}
			data[i].Int = int64(v)
		}
	}

	cstr := make([]byte, hdr.CstrLen)
	if _, err := r.buf.Read(cstr); err != nil && hdr.CstrLen > 0 {
		return fail()
	}
	// skip segment padding
	skip := align4(int(hdr.CstrLen)) - int(hdr.CstrLen)
	for i := 0; i < skip; i++ {
		_, _ = r.buf.ReadByte()
	}

	// rebuild the in-memory indexes from the raw segments
	rt.cstr.data = cstr
	rt.cstr.truncate(len(cstr))
	rt.types.entries = types
	rt.types.byName = make(map[string]int)
	for i := range types {
		rt.types.byName[rt.cstr.stringAt(types[i].NameOffs)] = types[i].TypeID
		if types[i].Native {
			name := rt.cstr.stringAt(types[i].NameOffs)
			if proc, ok := rt.procRegistry[name]; ok {
				rt.types.entries[i].proc = proc
				rt.nativeTypes = append(rt.nativeTypes, types[i].TypeID)
			}
		}
	}
	rt.data.handles = data
	rt.data.truncate(len(data))

	for i := uint32(0); i < hdr.SymLen; i++ {
		nl, err := r.u32()
		if err != nil {
			return fail()
		}
		name := make([]byte, nl)
		if _, err := r.buf.Read(name); err != nil {
			return fail()
		}
		for p := align4(int(nl)) - int(nl); p > 0; p-- {
			_, _ = r.buf.ReadByte()
		}
		dl, err := r.u32()
		if err != nil {
			return fail()
		}
		blob := make([]byte, dl)
		if _, err := r.buf.Read(blob); err != nil && dl > 0 {
			return fail()
		}
		for p := align4(int(dl)) - int(dl); p > 0; p-- {
			_, _ = r.buf.ReadByte()
		}
		if err := rt.AddSymbol(string(name), blob); err != nil {
			return fail()
		}
	}
	return nil
}
