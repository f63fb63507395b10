package jewel

import "fmt"

// The call bridge marshals variadic native arguments into script
// stack frames and returns script results to host code.

// RuntimeException is delivered to the host when a call into script
// code fails: either an internal VM error or a script-thrown
// exception object (which CallFunction returns alongside it).
type RuntimeException struct {
	ErrorCode     ExceptionCode
	MessageString string
}

func (e *RuntimeException) Error() string {
	return fmt.Sprintf("runtime exception %d: %s", e.ErrorCode, e.MessageString)
}

type argKind int

const (
	argKindInt argKind = iota
	argKindFloat
	argKindString
	argKindHandle
)

// Arg is one explicitly tagged argument for a native-to-script call.
// The bridge validates tags against the callee's signature and fails
// with an illegal-argument error rather than silently converting.
type Arg struct {
	kind argKind
	i    int64
	f    float64
	s    string
	h    *Handle
}

// IntArg tags an integer argument.
func IntArg(v int64) Arg { return Arg{kind: argKindInt, i: v} }

// FloatArg tags a float argument.
func FloatArg(v float64) Arg { return Arg{kind: argKindFloat, f: v} }

// StringArg tags a string argument.
func StringArg(v string) Arg { return Arg{kind: argKindString, s: v} }

// HandleArg passes an existing handle.
func HandleArg(h *Handle) Arg { return Arg{kind: argKindHandle, h: h} }

// Function is a resolved script function reference.
type Function struct {
	rt  *Runtime
	idx int
}

// Index returns the function segment index.
func (f *Function) Index() int { return f.idx }

// Name returns the function's interned name.
func (f *Function) Name() string { return f.rt.cstr.stringAt(f.rt.funcs[f.idx].NameOffs) }

// GetFunction resolves a callable by name. With obj nil the lookup
// covers global functions; with obj non-nil it covers the methods of
// the object's class and its ancestors. A global (non-method) name
// looked up against a non-nil obj yields nil.
func (rt *Runtime) GetFunction(obj *Handle, name string) *Function {
	if obj == nil || obj.IsNull() {
		return rt.findFunc(TypeGlobal, name, false)
	}
	typeID := obj.TypeID
	for typeID != 0 {
		if f := rt.findFunc(typeID, name, true); f != nil {
			return f
		}
		ti := rt.types.get(typeID)
		if ti == nil {
			break
		}
		typeID = ti.BaseID
	}
	return nil
}

func (rt *Runtime) findFunc(typeID int, name string, method bool) *Function {
	for i := range rt.funcs {
		f := &rt.funcs[i]
		if f.TypeID != typeID {
			continue
		}
		if method != f.isMethod() {
			continue
		}
		if rt.cstr.stringAt(f.NameOffs) == name {
			return &Function{rt: rt, idx: i}
		}
	}
	return nil
}

// marshalArg converts one tagged argument into a handle, validating
// the tag against the declared parameter type when the compiler still
// has the signature.
func (rt *Runtime) marshalArg(a Arg, declared int) (*Handle, error) {
	var h *Handle
	switch a.kind {
	case argKindInt:
		if declared >= 0 && declared != TypeInt && declared != TypeVar {
			return nil, errIllegalArgument
		}
		h = rt.NewIntHandle(a.i)
	case argKindFloat:
		if declared >= 0 && declared != TypeFloat && declared != TypeVar {
			return nil, errIllegalArgument
		}
		h = rt.NewFloatHandle(a.f)
	case argKindString:
		if declared >= 0 && declared != TypeString && declared != TypeVar {
			return nil, errIllegalArgument
		}
		h = rt.NewStringHandle(a.s)
	case argKindHandle:
		h = a.h
		if h == nil {
			h = rt.handles.null
		}
		if declared >= 0 && declared != TypeVar && !h.IsNull() &&
			!rt.types.isDescendantOf(h.TypeID, declared) {
			return nil, errIllegalArgument
		}
		rt.AddRef(h)
	}
	return h, nil
}

// CallFunction invokes a script function from native code. On a
// script-thrown exception the thrown object is returned together with
// a RuntimeException error; internal failures return only the error.
func (rt *Runtime) CallFunction(fn *Function, args ...Arg) (*Handle, error) {
	if fn == nil {
		return nil, errCallToNonFunction
	}
	return rt.callBridge(fn.idx, nil, args)
}

// CallMethod invokes a method on a script object from native code.
func (rt *Runtime) CallMethod(obj *Handle, name string, args ...Arg) (*Handle, error) {
	fn := rt.GetFunction(obj, name)
	if fn == nil {
		return nil, errCallToNonFunction
	}
	return rt.callBridge(fn.idx, obj, args)
}

// CallDelegate invokes a delegate handle from native code.
func (rt *Runtime) CallDelegate(dg *Handle, args ...Arg) (*Handle, error) {
	if dg == nil || dg.Delegate == nil {
		return nil, errCallToNonFunction
	}
	d := dg.Delegate
	if len(d.Closure) == 0 {
		return rt.callBridge(d.FuncIdx, d.Obj, args)
	}
	// closures carry extra stack slots below the frame
	if rt.blocked {
		return nil, errRuntimeBlocked
	}
	if !rt.initialized {
		return nil, errCodeNotInitialized
	}
	fi := &rt.funcs[d.FuncIdx]
	if len(args) != fi.Args {
		return nil, errIllegalArgument
	}
	handles := make([]*Handle, 0, len(args)+len(d.Closure))
	for i, a := range args {
		h, err := rt.marshalArg(a, rt.compiler.declaredArgType(d.FuncIdx, i))
		if err != nil {
			for _, p := range handles {
				rt.Release(p)
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	for _, c := range d.Closure {
		rt.AddRef(c)
		handles = append(handles, c)
	}
	h, err := rt.invoke(d.FuncIdx, d.Obj, handles)
	if h != nil {
		rt.pinHostRef(h)
	}
	return h, err
}

// callFunctionIdx is the internal entry used by the VM itself (user
// destructors, copy constructors, bootstrap). The result is dropped.
func (rt *Runtime) callFunctionIdx(idx int, this *Handle, args []*Handle) (*Handle, error) {
	handles := make([]*Handle, len(args))
	for i, h := range args {
		rt.AddRef(h)
		handles[i] = h
	}
	result, err := rt.invoke(idx, this, handles)
	if result != nil {
		rt.Release(result)
	}
	return nil, err
}

func (rt *Runtime) callBridge(idx int, this *Handle, args []Arg) (*Handle, error) {
	if rt.blocked {
		return nil, errRuntimeBlocked
	}
	if !rt.initialized {
		return nil, errCodeNotInitialized
	}
	if idx < 0 || idx >= len(rt.funcs) {
		return nil, errInvalidFunction
	}
	fi := &rt.funcs[idx]
	if len(args) != fi.Args {
		return nil, errIllegalArgument
	}
	handles := make([]*Handle, 0, len(args))
	for i, a := range args {
		h, err := rt.marshalArg(a, rt.compiler.declaredArgType(idx, i))
		if err != nil {
			for _, p := range handles {
				rt.Release(p)
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	h, err := rt.invoke(idx, this, handles)
	if h != nil {
		rt.pinHostRef(h)
	}
	return h, err
}

// invoke pushes a native stack frame and hands control to the
// dispatch loop. It consumes one reference per handle in args.
func (rt *Runtime) invoke(idx int, this *Handle, args []*Handle) (*Handle, error) {
	ctx := rt.current
	fi := &rt.funcs[idx]

	// a native type's method short-circuits through the proc
	owner := rt.types.get(fi.TypeID)
	if owner != nil && owner.Native {
		return rt.invokeNative(ctx, idx, this, args)
	}
	if fi.CodeAddr < 0 || fi.CodeAddr >= len(rt.code) {
		for _, h := range args {
			rt.Release(h)
		}
		return nil, errCodeNotInitialized
	}

	savedThis := ctx.registers[regThis]
	if this != nil {
		rt.AddRef(this)
		ctx.registers[regThis] = this
	}

	entryData := len(ctx.dataStack)
	entryCall := len(ctx.callStack)
	for _, h := range args {
		if !ctx.push(h) {
			// undo everything pushed so far
			for len(ctx.dataStack) > entryData {
				rt.Release(ctx.pop())
			}
			if this != nil {
				rt.Release(this)
				ctx.registers[regThis] = savedThis
			}
			return nil, &RuntimeException{ErrorCode: VMStackOverflow, MessageString: VMStackOverflow.String()}
		}
	}
	savedPC := ctx.pc
	ctx.callStack = append(ctx.callStack, callFrame{
		retAddr:   savedPC,
		frameBase: len(ctx.dataStack),
		native:    true,
	})
	ctx.pc = fi.CodeAddr

	execErr := rt.exec()

	// unwind anything the exception left behind
	if execErr != nil {
		rt.current = ctx
		for len(ctx.callStack) > entryCall {
			ctx.callStack = ctx.callStack[:len(ctx.callStack)-1]
		}
		ctx.pc = savedPC
	}
	for len(ctx.dataStack) > entryData {
		rt.Release(ctx.pop())
	}
	if this != nil {
		rt.Release(ctx.registers[regThis])
		ctx.registers[regThis] = savedThis
	}

	if execErr != nil {
		if ve, ok := execErr.(*vmError); ok {
			exc := &RuntimeException{ErrorCode: ve.code, MessageString: ve.code.String()}
			if ve.thrown != nil {
				rt.pinHostRef(ve.thrown)
				return ve.thrown, exc
			}
			return nil, exc
		}
		return nil, execErr
	}

	// the result register's reference transfers to the caller, so a
	// stale r1 does not keep the value alive
	result := ctx.registers[regResult]
	ctx.registers[regResult] = rt.handles.null
	return result, nil
}

// invokeNative dispatches a bridge call that targets a native method.
func (rt *Runtime) invokeNative(ctx *Context, idx int, this *Handle, args []*Handle) (*Handle, error) {
	entryData := len(ctx.dataStack)
	for _, h := range args {
		if !ctx.push(h) {
			for len(ctx.dataStack) > entryData {
				rt.Release(ctx.pop())
			}
			return nil, &RuntimeException{ErrorCode: VMStackOverflow, MessageString: VMStackOverflow.String()}
		}
	}
	savedThis := ctx.registers[regThis]
	if this != nil {
		rt.AddRef(this)
		ctx.registers[regThis] = this
	}
	fi := &rt.funcs[idx]
	err := rt.nativeCall(ctx, fi.TypeID, idx, !fi.isMethod())
	for len(ctx.dataStack) > entryData {
		rt.Release(ctx.pop())
	}
	if this != nil {
		rt.Release(ctx.registers[regThis])
		ctx.registers[regThis] = savedThis
	}
	if err != nil {
		if ve, ok := err.(*vmError); ok {
			return nil, &RuntimeException{ErrorCode: ve.code, MessageString: ve.code.String()}
		}
		return nil, err
	}
	result := ctx.registers[regResult]
	ctx.registers[regResult] = rt.handles.null
	return result, nil
}
