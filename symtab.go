package jewel

// symbolTable stores named blobs that ride along with a chunk. Hosts
// use it for source maps, build stamps, or anything else they want to
// find again after a load. The table may be truncated before save.

// SymbolEntry is one {name, data} pair.
type SymbolEntry struct {
	Name string
	Data []byte
}

type symbolTable struct {
	entries []SymbolEntry
	blocks  []*Block
	index   map[string]int
}

func newSymbolTable() *symbolTable {
	return &symbolTable{index: make(map[string]int)}
}

// AddSymbol registers a new entry; an existing name is an error.
func (rt *Runtime) AddSymbol(name string, data []byte) error {
	if _, ok := rt.symtab.index[name]; ok {
		return errSymbolExists
	}
	blk := rt.mem.Alloc(len(data))
	copy(blk.Data, data)
	rt.symtab.index[name] = len(rt.symtab.entries)
	rt.symtab.entries = append(rt.symtab.entries, SymbolEntry{Name: name, Data: blk.Data})
	rt.symtab.blocks = append(rt.symtab.blocks, blk)
	return nil
}

// FindSymbol returns the data stored under name.
func (rt *Runtime) FindSymbol(name string) ([]byte, error) {
	if len(rt.symtab.entries) == 0 {
		return nil, errNoSymbolTable
	}
	i, ok := rt.symtab.index[name]
	if !ok {
		return nil, errSymbolNotFound
	}
	return rt.symtab.entries[i].Data, nil
}

// TruncateSymbols drops all entries from n on. Used to shed debug
// payload before saving a release chunk.
func (rt *Runtime) TruncateSymbols(n int) {
	if n < 0 || n >= len(rt.symtab.entries) {
		return
	}
	for i := n; i < len(rt.symtab.entries); i++ {
		delete(rt.symtab.index, rt.symtab.entries[i].Name)
		if i < len(rt.symtab.blocks) && rt.symtab.blocks[i] != nil {
			rt.mem.Free(rt.symtab.blocks[i])
		}
	}
	rt.symtab.entries = rt.symtab.entries[:n]
	rt.symtab.blocks = rt.symtab.blocks[:n]
}

// SymbolCount returns the number of entries.
func (rt *Runtime) SymbolCount() int { return len(rt.symtab.entries) }
