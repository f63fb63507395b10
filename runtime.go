package jewel

import (
	"fmt"

	"github.com/jewe-1969/jilruntime-sub003/log"
)

// RuntimeVersion is baked into the chunk magic; chunks saved by a
// different version fail to load.
const RuntimeVersion = "1.4"

// ExceptionVector selects one of the four native exception callbacks.
type ExceptionVector int

const (
	VectorMachine ExceptionVector = iota
	VectorSoftware
	VectorTrace
	VectorBreak

	numVectors
)

// VectorHandler is a native callback invoked when the VM raises an
// exception through the corresponding vector.
type VectorHandler func(rt *Runtime, code ExceptionCode, thrown *Handle)

// GCRootFunc lets a host declare extra roots for the mark phase.
type GCRootFunc func(mark func(*Handle))

// Runtime is one independent VM state. It exclusively owns its
// segments, handle table, fixed-memory pools, native-type registry,
// root execution context and compiler instance. States share nothing;
// a host may run several on separate native threads.
type Runtime struct {
	opts *Options
	log  *log.Helper

	// the five segments
	code  []uint32
	funcs []FuncInfo
	types *typeRegistry
	data  *dataSegment
	cstr  *cstrSegment

	handles     *handleTable
	dataHandles []*Handle // materialized data segment constants
	mem         *FixMem

	root    *Context
	current *Context

	compiler    *Compiler
	symtab      *symbolTable
	nativeTypes []int

	// procRegistry survives reinit so native types rebind by name
	// after a chunk load.
	procRegistry map[string]NativeTypeProc

	vectors [numVectors]VectorHandler
	gcRoots []GCRootFunc

	// hostRefs tracks references handed out to native host code, so
	// the mark phase sees them as roots.
	hostRefs map[*Handle]int

	// gcInterval, when non-zero, runs a mark-sweep pass every n
	// executed call instructions.
	gcInterval int
	sinceGC    int

	initialized bool
	blocked     bool

	// per-state allocation counters (moved out of globals so states
	// stay independent)
	newCalls    int
	deleteCalls int
}

// Option configures a new runtime.
type Option func(*Runtime)

// WithLogger routes runtime and compiler output through the given
// logger instead of the default stdout logger.
func WithLogger(l log.Logger) Option {
	return func(rt *Runtime) { rt.log = log.NewHelper(l) }
}

// WithOptionString applies a compiler/runtime option string at
// construction, before the runtime window closes.
func WithOptionString(s string) Option {
	return func(rt *Runtime) {
		// the error is discarded: items before a bad one stay applied,
		// the bad item and the rest are skipped
		_ = rt.opts.ParseOptionString(s, false)
	}
}

// NewRuntime creates an empty VM state with an embedded compiler.
func NewRuntime(options ...Option) *Runtime {
	rt := &Runtime{
		opts: NewOptions(),
		log:  log.NewHelper(log.NewFilter(log.DefaultLogger, log.FilterLevel(log.LevelWarn))),
	}
	for _, o := range options {
		o(rt)
	}
	rt.cstr = newCstrSegment()
	rt.data = newDataSegment()
	rt.types = newTypeRegistry(rt.cstr)
	rt.handles = newHandleTable()
	rt.mem = NewFixMem(false)
	rt.symtab = newSymbolTable()
	rt.hostRefs = make(map[*Handle]int)
	rt.procRegistry = make(map[string]NativeTypeProc)
	rt.compiler = newCompiler(rt)
	return rt
}

// SetOptions applies an option string. Runtime-sizing options are
// rejected with errRuntimeLocked once the VM is initialized.
func (rt *Runtime) SetOptions(s string) error {
	return rt.opts.ParseOptionString(s, rt.initialized)
}

// Options exposes the option store.
func (rt *Runtime) Options() *Options { return rt.opts }

// Compiler returns the embedded compiler instance.
func (rt *Runtime) Compiler() *Compiler { return rt.compiler }

// SetVector installs a native exception callback.
func (rt *Runtime) SetVector(v ExceptionVector, h VectorHandler) error {
	if v < 0 || v >= numVectors {
		return errInvalidVector
	}
	rt.vectors[v] = h
	return nil
}

// AddGCRoots registers extra roots for the mark phase.
func (rt *Runtime) AddGCRoots(fn GCRootFunc) { rt.gcRoots = append(rt.gcRoots, fn) }

// SetGCInterval schedules a mark-sweep pass every n call instructions;
// 0 disables scheduled collection.
func (rt *Runtime) SetGCInterval(n int) { rt.gcInterval = n }

// SetBlocked toggles refusal of new native call entries.
func (rt *Runtime) SetBlocked(blocked bool) { rt.blocked = blocked }

// Initialized reports whether Run has locked the runtime.
func (rt *Runtime) Initialized() bool { return rt.initialized }

// CodeSegment exposes the linked code for listing tools.
func (rt *Runtime) CodeSegment() []uint32 { return rt.code }

// TypeName resolves a type id to its interned name.
func (rt *Runtime) TypeName(id int) string {
	ti := rt.types.get(id)
	if ti == nil {
		return ""
	}
	return rt.cstr.stringAt(ti.NameOffs)
}

// FindType returns the type id registered under name, or -1.
func (rt *Runtime) FindType(name string) int { return rt.types.lookup(name) }

// ---- handle lifecycle ----

// NullHandle returns the process-wide null sentinel of this state.
func (rt *Runtime) NullHandle() *Handle { return rt.handles.null }

func (rt *Runtime) newHandle(typeID int) *Handle {
	h := rt.handles.alloc()
	h.TypeID = typeID
	rt.newCalls++
	return h
}

// NewIntHandle wraps an int value into a fresh handle.
func (rt *Runtime) NewIntHandle(v int64) *Handle {
	h := rt.newHandle(TypeInt)
	h.Int = v
	return h
}

// NewFloatHandle wraps a float value into a fresh handle.
func (rt *Runtime) NewFloatHandle(v float64) *Handle {
	h := rt.newHandle(TypeFloat)
	h.Float = v
	return h
}

// NewStringHandle wraps a string value into a fresh handle.
func (rt *Runtime) NewStringHandle(v string) *Handle {
	h := rt.newHandle(TypeString)
	h.Str = v
	return h
}

// AddRef increments a handle's reference count. On the null handle
// this is a no-op.
func (rt *Runtime) AddRef(h *Handle) {
	if h == nil || h.IsNull() {
		return
	}
	h.RefCount++
}

// Release decrements the count and destroys the handle at zero.
// Decrementing the null handle is a no-op.
func (rt *Runtime) Release(h *Handle) {
	if h == nil || h.IsNull() {
		return
	}
	h.RefCount--
	if h.RefCount <= 0 {
		rt.destroyHandle(h)
	}
}

// destroyHandle dispatches the type-specific destructor and returns
// the slot to the table.
func (rt *Runtime) destroyHandle(h *Handle) {
	rt.deleteCalls++
	idx := h.index
	ti := rt.types.get(h.TypeID)
	if h.Flags&hfPersist == 0 && ti != nil {
		switch {
		case ti.Native && ti.proc != nil && h.Native != nil:
			st := &NTLState{rt: rt, typeID: h.TypeID}
			_, _ = ti.procSafe(st, NTLDestroyObject, 0, h.Native)
		case h.Obj != nil:
			if ti.Methods.Dtor >= 0 && rt.initialized {
				// run the user destructor, then free the slots
				_, _ = rt.callFunctionIdx(ti.Methods.Dtor, h, nil)
			}
			for i, s := range h.Obj.Slots {
				if ti.isWeakSlot(i) {
					continue
				}
				rt.Release(s)
			}
			h.Obj = nil
		case h.Delegate != nil:
			rt.Release(h.Delegate.Obj)
			for _, c := range h.Delegate.Closure {
				rt.Release(c)
			}
			h.Delegate = nil
		case h.Ctx != nil:
			rt.releaseContext(h.Ctx)
			h.Ctx = nil
		}
	}
	rt.handles.releaseSlot(idx)
	// neutralize the carcass: stale weak references read it as null
	h.TypeID = TypeNull
	h.Obj = nil
	h.Delegate = nil
	h.Native = nil
	h.Str = ""
	h.index = 0
}

// pinHostRef records a reference handed to host code; such handles
// are GC roots until released through ReleaseHandle.
func (rt *Runtime) pinHostRef(h *Handle) {
	if h == nil || h.IsNull() {
		return
	}
	rt.hostRefs[h]++
}

// ReleaseHandle drops a reference previously returned to host code.
func (rt *Runtime) ReleaseHandle(h *Handle) {
	if h == nil || h.IsNull() {
		return
	}
	if n, ok := rt.hostRefs[h]; ok {
		if n <= 1 {
			delete(rt.hostRefs, h)
		} else {
			rt.hostRefs[h] = n - 1
		}
	}
	rt.Release(h)
}

// materialize produces the runtime handle for a data segment entry.
// Constants are immutable, so all uses share one handle.
func (rt *Runtime) materialize(dataIdx int) *Handle {
	if dataIdx < 0 || dataIdx >= len(rt.dataHandles) {
		return rt.handles.null
	}
	if h := rt.dataHandles[dataIdx]; h != nil {
		return h
	}
	d := rt.data.handles[dataIdx]
	h := rt.newHandle(d.TypeID)
	h.Flags |= hfPersist
	switch d.TypeID {
	case TypeInt:
		h.Int = d.Int
	case TypeFloat:
		h.Float = d.Float
	case TypeString:
		h.Str = rt.cstr.stringAt(d.StrOffs)
	}
	rt.dataHandles[dataIdx] = h
	return h
}

// ---- lifecycle ----

// Run initializes the VM and executes the bootstrap code (global
// variable initializers). After Run returns the runtime is locked:
// segments may no longer be mutated.
func (rt *Runtime) Run() error {
	if rt.initialized {
		return nil
	}
	if len(rt.code) == 0 {
		return errCodeNotInitialized
	}
	rt.dataHandles = make([]*Handle, len(rt.data.handles))
	rt.root = rt.newContext(nil)
	rt.current = rt.root

	// the root context holds the global object in register 2
	gi := rt.types.get(TypeGlobal)
	g := rt.newHandle(TypeGlobal)
	g.Obj = &Object{TypeID: TypeGlobal, Slots: make([]*Handle, gi.InstanceSize)}
	for i := range g.Obj.Slots {
		g.Obj.Slots[i] = rt.handles.null
	}
	rt.root.registers[regGlobal] = g

	if err := rt.initializeNatives(); err != nil {
		return err
	}
	rt.initialized = true
	if boot := rt.findBootstrap(); boot >= 0 {
		if _, err := rt.callFunctionIdx(boot, nil, nil); err != nil {
			rt.initialized = false
			return err
		}
	}
	if rt.opts.GetBool("verbose") {
		rt.log.Infof("runtime initialized: %d code words, %d functions, %d types, %d data handles",
			len(rt.code), len(rt.funcs), rt.types.used(), rt.data.used())
	}
	return nil
}

// findBootstrap locates the synthesized global initializer.
func (rt *Runtime) findBootstrap() int {
	for i := range rt.funcs {
		if rt.cstr.stringAt(rt.funcs[i].NameOffs) == bootstrapName && rt.funcs[i].TypeID == TypeGlobal {
			return i
		}
	}
	return -1
}

// Terminate tears the state down. With log-garbage enabled leaked
// handles are reported before the pools are dropped.
func (rt *Runtime) Terminate() error {
	if rt.root != nil {
		rt.releaseContext(rt.root)
		rt.root = nil
		rt.current = nil
	}
	rt.terminateNatives()
	rt.TruncateSymbols(0)
	mode := rt.opts.GetString("log-garbage")
	var leaked int
	rt.handles.live(func(h *Handle) {
		leaked++
		if mode == "all" || (mode == "brief" && h.Flags&hfPersist == 0) {
			rt.log.Warnf("leaked handle %d type %s refcount %d", h.index, rt.TypeName(h.TypeID), h.RefCount)
		}
	})
	if rt.opts.GetBool("verbose") {
		rt.log.Infof("terminate: %d new, %d delete, %d leaked, %d fixmem blocks in use",
			rt.newCalls, rt.deleteCalls, leaked, rt.mem.LeakReport())
	}
	rt.initialized = false
	rt.dataHandles = nil
	if rt.mem.LeakReport() > 0 {
		return errDetectedMemoryLeaks
	}
	return nil
}

// reinit drops all program state but keeps options, logger and native
// registrations intact. Used by the chunk loader.
func (rt *Runtime) reinit() {
	rt.TruncateSymbols(0)
	rt.initialized = false
	rt.root = nil
	rt.current = nil
	rt.dataHandles = nil
	rt.handles = newHandleTable()
	rt.code = nil
	rt.funcs = nil
	rt.cstr = newCstrSegment()
	rt.data = newDataSegment()
	rt.types = newTypeRegistry(rt.cstr)
	rt.symtab = newSymbolTable()
	rt.nativeTypes = nil
	rt.hostRefs = make(map[*Handle]int)
	rt.compiler = newCompiler(rt)
}

// MemStats exposes the fixed-memory counters.
func (rt *Runtime) MemStats() MemStats { return rt.mem.Stats() }

// raise invokes the handler for the vector that carries code, if any.
func (rt *Runtime) raise(v ExceptionVector, code ExceptionCode, thrown *Handle) {
	if h := rt.vectors[v]; h != nil {
		h(rt, code, thrown)
	}
}

func (rt *Runtime) String() string {
	return fmt.Sprintf("jewel runtime %s (%d types, %d functions)", RuntimeVersion, rt.types.used(), len(rt.funcs))
}
