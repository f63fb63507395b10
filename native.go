package jewel

import "fmt"

// NTLInterfaceVersion is the native type interface revision this
// runtime speaks. Registration fails for types built against another
// revision.
const NTLInterfaceVersion = 2

// NativeMessage is the message id delivered to a native type proc.
type NativeMessage int

const (
	// lifecycle and call messages, required
	NTLRegister NativeMessage = iota
	NTLInitialize
	NTLNewObject
	NTLDestroyObject
	NTLMarkHandles
	NTLCallStatic
	NTLCallMember
	NTLTerminate
	NTLUnregister

	// informational messages
	NTLGetInterfaceVersion
	NTLGetAuthorVersion
	NTLGetClassName
	NTLGetPackageString
	NTLGetDeclString
	NTLGetBuildTimeStamp
	NTLGetAuthorName
	NTLGetAuthorString
	NTLGetBaseName
)

// NativeTypeProc is the single procedure a native type registers. It
// receives a message id, a parameter, and a data-in value; it returns
// the data-out value. For call messages the NTLState carries the
// argument and return helpers.
type NativeTypeProc func(st *NTLState, msg NativeMessage, param int, dataIn any) (any, error)

// NTLState is the per-call view a native type proc gets of the VM.
type NTLState struct {
	rt     *Runtime
	typeID int
	ctx    *Context
	argc   int
}

// Runtime returns the owning VM state.
func (st *NTLState) Runtime() *Runtime { return st.rt }

// TypeID returns the id the native type was registered under.
func (st *NTLState) TypeID() int { return st.typeID }

// Mem returns the state's fixed-memory allocator. Native payload
// buffers allocated here are accounted in the pool statistics.
func (st *NTLState) Mem() *FixMem { return st.rt.mem }

// This returns the object handle a member call was invoked on.
func (st *NTLState) This() *Handle {
	if st.ctx == nil {
		return st.rt.handles.null
	}
	return st.ctx.registers[regThis]
}

// ArgHandle fetches argument i (zero-based, left to right) by slot.
func (st *NTLState) ArgHandle(i int) *Handle {
	if st.ctx == nil || i < 0 || i >= st.argc {
		return st.rt.handles.null
	}
	return st.ctx.stackAt(st.argc - 1 - i)
}

// ArgInt fetches argument i as an integer.
func (st *NTLState) ArgInt(i int) int64 { return st.ArgHandle(i).Int }

// ArgFloat fetches argument i as a float.
func (st *NTLState) ArgFloat(i int) float64 { return st.ArgHandle(i).Float }

// ArgString fetches argument i as a string.
func (st *NTLState) ArgString(i int) string { return st.ArgHandle(i).Str }

// SetRetHandle writes the call result. The state takes over the
// caller's reference.
func (st *NTLState) SetRetHandle(h *Handle) {
	if st.ctx == nil {
		return
	}
	st.rt.setRegister(st.ctx, regResult, h)
}

// SetRetInt writes an integer call result.
func (st *NTLState) SetRetInt(v int64) { st.SetRetHandle(st.rt.NewIntHandle(v)) }

// SetRetFloat writes a float call result.
func (st *NTLState) SetRetFloat(v float64) { st.SetRetHandle(st.rt.NewFloatHandle(v)) }

// SetRetString writes a string call result.
func (st *NTLState) SetRetString(v string) { st.SetRetHandle(st.rt.NewStringHandle(v)) }

// procSafe shields the VM from panics inside native code.
func (ti *TypeInfo) procSafe(st *NTLState, msg NativeMessage, param int, in any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RuntimeError{Code: VMNativeException, Detail: fmt.Sprint(r)}
		}
	}()
	return ti.proc(st, msg, param, in)
}

// queryString sends an informational message and expects a string.
func queryString(proc NativeTypeProc, st *NTLState, msg NativeMessage) string {
	out, err := proc(st, msg, 0, nil)
	if err != nil {
		return ""
	}
	if s, ok := out.(string); ok {
		return s
	}
	return ""
}

// RegisterNativeType registers a native type with the runtime. The
// type's declaration string is compiled exactly like source code; a
// declaration that fails to compile aborts the registration and rolls
// the segments back.
func (rt *Runtime) RegisterNativeType(proc NativeTypeProc) (int, error) {
	if rt.initialized {
		return 0, errRuntimeLocked
	}
	st := &NTLState{rt: rt}

	if out, err := proc(st, NTLGetInterfaceVersion, 0, nil); err == nil {
		if v, ok := out.(int); ok && v != NTLInterfaceVersion {
			return 0, errIncompatibleNTL
		}
	}
	name := queryString(proc, st, NTLGetClassName)
	if name == "" || !isIdentifier(name) {
		return 0, errIllegalTypeName
	}
	if rt.types.lookup(name) >= 0 {
		return 0, errRegisterTypeFailed
	}
	decl := queryString(proc, st, NTLGetDeclString)
	pkg := queryString(proc, st, NTLGetPackageString)
	base := queryString(proc, st, NTLGetBaseName)

	point := rt.SetRestorePoint()
	ti := rt.types.add(rt.cstr, name, FamilyClass)
	ti.Native = true
	ti.proc = proc
	typeID := ti.TypeID
	st.typeID = typeID

	if base != "" {
		baseID := rt.types.lookup(base)
		if baseID < 0 {
			rt.Rollback(point)
			return 0, errUndefinedType
		}
		rt.types.get(typeID).BaseID = baseID
	}

	if decl != "" {
		if err := rt.compiler.compileNativeDecl(typeID, name, decl, pkg); err != nil {
			rt.Rollback(point)
			return 0, CompileError{Code: ErrNativeDeclFailed, Detail: name}
		}
	}

	// the registry may have grown while compiling the declaration
	ti = rt.types.get(typeID)
	if _, err := ti.procSafe(st, NTLRegister, typeID, nil); err != nil {
		rt.Rollback(point)
		return 0, errRegisterTypeFailed
	}
	rt.nativeTypes = append(rt.nativeTypes, typeID)
	rt.procRegistry[name] = proc
	return typeID, nil
}

// initializeNatives delivers the initialize message at Run time.
func (rt *Runtime) initializeNatives() error {
	for _, id := range rt.nativeTypes {
		ti := rt.types.get(id)
		if ti == nil || ti.proc == nil {
			continue
		}
		st := &NTLState{rt: rt, typeID: id}
		if _, err := ti.procSafe(st, NTLInitialize, 0, nil); err != nil {
			return errInitializeFailed
		}
	}
	return nil
}

// terminateNatives delivers terminate and unregister on teardown.
func (rt *Runtime) terminateNatives() {
	for _, id := range rt.nativeTypes {
		ti := rt.types.get(id)
		if ti == nil || ti.proc == nil {
			continue
		}
		st := &NTLState{rt: rt, typeID: id}
		_, _ = ti.procSafe(st, NTLTerminate, 0, nil)
		_, _ = ti.procSafe(st, NTLUnregister, 0, nil)
	}
}

// funcOrdinal numbers a function within its owning type, in
// declaration order. Native type procs dispatch on this ordinal.
func (rt *Runtime) funcOrdinal(funcIdx int) int {
	ord := 0
	typeID := rt.funcs[funcIdx].TypeID
	for i := 0; i < funcIdx; i++ {
		if rt.funcs[i].TypeID == typeID {
			ord++
		}
	}
	return ord
}

// nativeCall dispatches a script call that landed on a native type.
// The proc receives the function's per-type ordinal as its param.
func (rt *Runtime) nativeCall(ctx *Context, typeID, funcIdx int, static bool) error {
	ti := rt.types.get(typeID)
	if ti == nil || ti.proc == nil {
		return rt.machineError(VMUnsupportedType)
	}
	if funcIdx < 0 || funcIdx >= len(rt.funcs) {
		return rt.machineError(VMCallToNonFunction)
	}
	st := &NTLState{rt: rt, typeID: typeID, ctx: ctx, argc: rt.funcs[funcIdx].Args}
	msg := NTLCallMember
	var in any
	if static {
		msg = NTLCallStatic
	} else {
		in = ctx.registers[regThis].Native
	}
	if _, err := ti.procSafe(st, msg, rt.funcOrdinal(funcIdx), in); err != nil {
		return rt.machineError(VMNativeException)
	}
	return nil
}
