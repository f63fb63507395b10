package jewel

import "fmt"

// vmError carries an exception out of the dispatch loop. For software
// exceptions thrown holds the script exception object.
type vmError struct {
	code   ExceptionCode
	thrown *Handle
}

func (e *vmError) Error() string {
	if e.thrown != nil && e.code == VMSoftwareException {
		return fmt.Sprintf("vm exception %d: %s (script object)", e.code, e.code)
	}
	return fmt.Sprintf("vm exception %d: %s", e.code, e.code)
}

// machineError raises the machine vector and produces the loop error.
func (rt *Runtime) machineError(code ExceptionCode) error {
	rt.raise(VectorMachine, code, nil)
	return &vmError{code: code}
}

// truthy implements the condition test of tbr/fbr and logical not.
func truthy(h *Handle) bool {
	switch h.TypeID {
	case TypeNull:
		return false
	case TypeInt:
		return h.Int != 0
	case TypeFloat:
		return h.Float != 0
	case TypeString:
		return h.Str != ""
	default:
		return true
	}
}

// exec runs the current context until a native call frame is popped
// or an exception unwinds. Dispatch is a tight switch over the opcode
// word; operand words follow the opcode in the code segment.
func (rt *Runtime) exec() error {
	code := rt.code
	for {
		ctx := rt.current
		pc := ctx.pc
		if pc < 0 || pc >= len(code) {
			return rt.machineError(VMInvalidCodeAddress)
		}
		if rt.vectors[VectorTrace] != nil {
			rt.raise(VectorTrace, VMTraceException, nil)
		}
		op := code[pc]

		switch op {
		case opNop:
			ctx.pc = pc + 1

		case opMoveRR:
			h := ctx.registers[code[pc+1]]
			rt.AddRef(h)
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opMoveHR:
			h := rt.materialize(int(code[pc+1]))
			rt.AddRef(h)
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opMoveMR:
			obj := ctx.registers[code[pc+1]]
			slot := int(int32(code[pc+2]))
			if obj.IsNull() || obj.Obj == nil {
				return rt.machineError(VMNullReference)
			}
			if slot < 0 || slot >= len(obj.Obj.Slots) {
				return rt.machineError(VMInvalidOperand)
			}
			h := obj.Obj.Slots[slot]
			rt.AddRef(h)
			rt.setRegister(ctx, int(code[pc+3]), h)
			ctx.pc = pc + 4

		case opMoveRM:
			h := ctx.registers[code[pc+1]]
			obj := ctx.registers[code[pc+2]]
			slot := int(int32(code[pc+3]))
			if obj.IsNull() || obj.Obj == nil {
				return rt.machineError(VMNullReference)
			}
			if slot < 0 || slot >= len(obj.Obj.Slots) {
				return rt.machineError(VMInvalidOperand)
			}
			rt.AddRef(h)
			old := obj.Obj.Slots[slot]
			obj.Obj.Slots[slot] = h
			rt.Release(old)
			ctx.pc = pc + 4

		case opMoveSR:
			h := ctx.stackAt(int(int32(code[pc+1])))
			rt.AddRef(h)
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opMoveRS:
			h := ctx.registers[code[pc+1]]
			disp := int(int32(code[pc+2]))
			rt.AddRef(h)
			old := ctx.stackAt(disp)
			ctx.setStackAt(disp, h)
			rt.Release(old)
			ctx.pc = pc + 3

		case opMoveXR:
			arr := ctx.registers[code[pc+1]]
			idx := ctx.registers[code[pc+2]]
			if arr.IsNull() || arr.Obj == nil {
				return rt.machineError(VMNullReference)
			}
			if idx.TypeID != TypeInt {
				return rt.machineError(VMTypeMismatch)
			}
			i := int(idx.Int)
			if i < 0 {
				return rt.machineError(VMInvalidOperand)
			}
			var h *Handle
			if i < len(arr.Obj.Slots) {
				h = arr.Obj.Slots[i]
			} else {
				h = rt.handles.null
			}
			rt.AddRef(h)
			rt.setRegister(ctx, int(code[pc+3]), h)
			ctx.pc = pc + 4

		case opMoveRX:
			h := ctx.registers[code[pc+1]]
			arr := ctx.registers[code[pc+2]]
			idx := ctx.registers[code[pc+3]]
			if arr.IsNull() || arr.Obj == nil {
				return rt.machineError(VMNullReference)
			}
			if idx.TypeID != TypeInt {
				return rt.machineError(VMTypeMismatch)
			}
			i := int(idx.Int)
			if i < 0 {
				return rt.machineError(VMInvalidOperand)
			}
			for len(arr.Obj.Slots) <= i {
				arr.Obj.Slots = append(arr.Obj.Slots, rt.handles.null)
			}
			rt.AddRef(h)
			old := arr.Obj.Slots[i]
			arr.Obj.Slots[i] = h
			rt.Release(old)
			ctx.pc = pc + 4

		case opCopyRR:
			src := ctx.registers[code[pc+1]]
			dup, err := rt.copyHandle(src)
			if err != nil {
				return err
			}
			rt.setRegister(ctx, int(code[pc+2]), dup)
			ctx.pc = pc + 3

		case opWrefRR:
			// weak move: the target is not counted and never released
			h := ctx.registers[code[pc+1]]
			ctx.registers[code[pc+2]] = h
			ctx.pc = pc + 3

		case opWrefRM:
			h := ctx.registers[code[pc+1]]
			obj := ctx.registers[code[pc+2]]
			slot := int(int32(code[pc+3]))
			if obj.IsNull() || obj.Obj == nil {
				return rt.machineError(VMNullReference)
			}
			if slot < 0 || slot >= len(obj.Obj.Slots) {
				return rt.machineError(VMInvalidOperand)
			}
			obj.Obj.Slots[slot] = h
			ctx.pc = pc + 4

		case opLdNull:
			rt.setRegister(ctx, int(code[pc+1]), rt.handles.null)
			ctx.pc = pc + 2

		case opPush:
			h := ctx.registers[code[pc+1]]
			rt.AddRef(h)
			if !ctx.push(h) {
				rt.Release(h)
				return rt.machineError(VMStackOverflow)
			}
			ctx.pc = pc + 2

		case opPop:
			h := ctx.pop()
			rt.setRegister(ctx, int(code[pc+1]), h)
			ctx.pc = pc + 2

		case opPushR:
			from, to := int(code[pc+1]), int(code[pc+2])
			for r := from; r <= to; r++ {
				h := ctx.registers[r]
				rt.AddRef(h)
				if !ctx.push(h) {
					rt.Release(h)
					return rt.machineError(VMStackOverflow)
				}
			}
			ctx.pc = pc + 3

		case opPopR:
			from, to := int(code[pc+1]), int(code[pc+2])
			for r := to; r >= from; r-- {
				rt.setRegister(ctx, r, ctx.pop())
			}
			ctx.pc = pc + 3

		case opPopX:
			n := int(int32(code[pc+1]))
			for i := 0; i < n; i++ {
				rt.Release(ctx.pop())
			}
			ctx.pc = pc + 2

		case opAdd, opSub, opMul, opDiv, opMod,
			opAnd, opOr, opXor, opShl, opShr:
			if err := rt.binaryOp(ctx, op, int(code[pc+1]), int(code[pc+2])); err != nil {
				return err
			}
			ctx.pc = pc + 3

		case opNeg:
			r := int(code[pc+1])
			h := ctx.registers[r]
			switch h.TypeID {
			case TypeInt:
				rt.setRegister(ctx, r, rt.NewIntHandle(-h.Int))
			case TypeFloat:
				rt.setRegister(ctx, r, rt.NewFloatHandle(-h.Float))
			default:
				return rt.machineError(VMUnsupportedType)
			}
			ctx.pc = pc + 2

		case opNot:
			r := int(code[pc+1])
			v := int64(0)
			if !truthy(ctx.registers[r]) {
				v = 1
			}
			rt.setRegister(ctx, r, rt.NewIntHandle(v))
			ctx.pc = pc + 2

		case opBNot:
			r := int(code[pc+1])
			h := ctx.registers[r]
			if h.TypeID != TypeInt {
				return rt.machineError(VMUnsupportedType)
			}
			rt.setRegister(ctx, r, rt.NewIntHandle(^h.Int))
			ctx.pc = pc + 2

		case opCseq, opCsne, opCslt, opCsle, opCsgt, opCsge:
			if err := rt.compareOp(ctx, op, int(code[pc+1]), int(code[pc+2])); err != nil {
				return err
			}
			ctx.pc = pc + 3

		case opTbr:
			if truthy(ctx.registers[code[pc+1]]) {
				ctx.pc = pc + int(int32(code[pc+2]))
			} else {
				ctx.pc = pc + 3
			}

		case opFbr:
			if !truthy(ctx.registers[code[pc+1]]) {
				ctx.pc = pc + int(int32(code[pc+2]))
			} else {
				ctx.pc = pc + 3
			}

		case opBra:
			ctx.pc = pc + int(int32(code[pc+1]))

		case opCalls:
			// only reachable when link did not run
			return rt.machineError(VMInvalidCodeAddress)

		case opJsr:
			if err := rt.enterCall(ctx, int(int32(code[pc+1])), pc+2, 0); err != nil {
				return err
			}

		case opCallm:
			obj := ctx.registers[code[pc+1]]
			slot := int(int32(code[pc+2]))
			if obj.IsNull() {
				return rt.machineError(VMNullReference)
			}
			ti := rt.types.get(obj.TypeID)
			if ti == nil || slot < 0 || slot >= len(ti.Vtable) {
				return rt.machineError(VMCallToNonFunction)
			}
			fi := ti.Vtable[slot]
			if fi < 0 || fi >= len(rt.funcs) {
				return rt.machineError(VMCallToNonFunction)
			}
			rt.AddRef(obj)
			rt.setRegister(ctx, regThis, obj)
			owner := rt.types.get(rt.funcs[fi].TypeID)
			if owner != nil && owner.Native {
				if err := rt.nativeCall(ctx, rt.funcs[fi].TypeID, fi, false); err != nil {
					return err
				}
				ctx.pc = pc + 3
			} else {
				if err := rt.enterCall(ctx, rt.funcs[fi].CodeAddr, pc+3, 0); err != nil {
					return err
				}
			}

		case opCalln:
			if err := rt.nativeCall(ctx, int(code[pc+1]), int(code[pc+2]), false); err != nil {
				return err
			}
			ctx.pc = pc + 3

		case opCallns:
			if err := rt.nativeCall(ctx, int(code[pc+1]), int(code[pc+2]), true); err != nil {
				return err
			}
			ctx.pc = pc + 3

		case opCalldg:
			h := ctx.registers[code[pc+1]]
			argc := int(int32(code[pc+2]))
			if h.IsNull() {
				return rt.machineError(VMNullReference)
			}
			if h.Ctx != nil {
				// calling a thread variable resumes the cofunction
				if err := rt.resumeThread(ctx, h, pc+3); err != nil {
					return err
				}
				continue
			}
			dg := h.Delegate
			if dg == nil {
				return rt.machineError(VMCallToNonFunction)
			}
			fn := &rt.funcs[dg.FuncIdx]
			if fn.Args != argc {
				return rt.machineError(VMTypeMismatch)
			}
			cleanup := 0
			for _, c := range dg.Closure {
				rt.AddRef(c)
				if !ctx.push(c) {
					rt.Release(c)
					return rt.machineError(VMStackOverflow)
				}
				cleanup++
			}
			if dg.Obj != nil {
				rt.AddRef(dg.Obj)
				rt.setRegister(ctx, regThis, dg.Obj)
			}
			if err := rt.enterCall(ctx, fn.CodeAddr, pc+3, cleanup); err != nil {
				return err
			}

		case opRet:
			done, err := rt.returnFromCall(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case opYield:
			resumer := ctx.resumer
			if resumer == nil {
				return rt.machineError(VMInvalidOperand)
			}
			ctx.pc = pc + 1
			ctx.state = ctxSuspended
			v := ctx.registers[regResult]
			rt.AddRef(v)
			rt.setRegister(resumer, regResult, v)
			rt.current = resumer

		case opResume:
			h := ctx.registers[code[pc+1]]
			if err := rt.resumeThread(ctx, h, pc+2); err != nil {
				return err
			}

		case opAlloc:
			typeID := int(code[pc+1])
			h, err := rt.allocObject(typeID)
			if err != nil {
				return err
			}
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opAllocn:
			typeID := int(code[pc+1])
			ti := rt.types.get(typeID)
			if ti == nil || !ti.Native || ti.proc == nil {
				return rt.machineError(VMUnsupportedType)
			}
			st := &NTLState{rt: rt, typeID: typeID, ctx: ctx}
			payload, err := ti.procSafe(st, NTLNewObject, 0, nil)
			if err != nil {
				return rt.machineError(VMAllocationFailed)
			}
			h := rt.newHandle(typeID)
			h.Native = payload
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opAlloca:
			h := rt.newHandle(TypeArray)
			h.Obj = &Object{TypeID: int(code[pc+1])}
			rt.setRegister(ctx, int(code[pc+2]), h)
			ctx.pc = pc + 3

		case opNewDG:
			fnIdx := int(code[pc+1])
			obj := ctx.registers[code[pc+2]]
			h := rt.newHandle(TypeDelegate)
			h.Delegate = &Delegate{FuncIdx: fnIdx}
			if !obj.IsNull() {
				rt.AddRef(obj)
				h.Delegate.Obj = obj
			}
			rt.setRegister(ctx, int(code[pc+3]), h)
			ctx.pc = pc + 4

		case opNewClosure:
			fnIdx := int(code[pc+1])
			ncap := int(int32(code[pc+2]))
			h := rt.newHandle(TypeDelegate)
			dg := &Delegate{FuncIdx: fnIdx}
			// the capture slots were pushed for this instruction; their
			// references transfer into the closure
			base := len(ctx.dataStack) - ncap
			dg.Closure = append(dg.Closure, ctx.dataStack[base:]...)
			ctx.dataStack = ctx.dataStack[:base]
			h.Delegate = dg
			rt.setRegister(ctx, int(code[pc+3]), h)
			ctx.pc = pc + 4

		case opNewCtx:
			fnIdx := int(code[pc+1])
			argc := int(int32(code[pc+2]))
			h := rt.newHandle(TypeThread)
			tc := rt.newContext(h)
			tc.funcIdx = fnIdx
			tc.state = ctxReady
			// transfer the pushed arguments into the new context
			base := len(ctx.dataStack) - argc
			tc.dataStack = append(tc.dataStack, ctx.dataStack[base:]...)
			ctx.dataStack = ctx.dataStack[:base]
			h.Ctx = tc
			rt.setRegister(ctx, int(code[pc+3]), h)
			ctx.pc = pc + 4

		case opThrow:
			h := ctx.registers[code[pc+1]]
			rt.AddRef(h)
			rt.raise(VectorSoftware, VMSoftwareException, h)
			return &vmError{code: VMSoftwareException, thrown: h}

		case opRtchk:
			typeID := int(code[pc+1])
			h := ctx.registers[code[pc+2]]
			if typeID != TypeVar && !h.IsNull() && !rt.types.isDescendantOf(h.TypeID, typeID) {
				return rt.machineError(VMTypeMismatch)
			}
			ctx.pc = pc + 3

		case opCvf:
			r := int(code[pc+1])
			h := ctx.registers[r]
			if h.TypeID == TypeInt {
				rt.setRegister(ctx, r, rt.NewFloatHandle(float64(h.Int)))
			}
			ctx.pc = pc + 2

		case opCvi:
			r := int(code[pc+1])
			h := ctx.registers[r]
			if h.TypeID == TypeFloat {
				rt.setRegister(ctx, r, rt.NewIntHandle(int64(h.Float)))
			}
			ctx.pc = pc + 2

		case opType:
			src := ctx.registers[code[pc+1]]
			rt.setRegister(ctx, int(code[pc+2]), rt.NewIntHandle(int64(src.TypeID)))
			ctx.pc = pc + 3

		case opSame:
			a := ctx.registers[code[pc+1]]
			r := int(code[pc+2])
			v := int64(0)
			if a == ctx.registers[r] {
				v = 1
			}
			rt.setRegister(ctx, r, rt.NewIntHandle(v))
			ctx.pc = pc + 3

		case opBrk:
			rt.raise(VectorBreak, VMBreakException, nil)
			ctx.pc = pc + 1

		default:
			return rt.machineError(VMIllegalInstruction)
		}
	}
}

// enterCall pushes a script call frame and jumps. Overflow is checked
// before the push.
func (rt *Runtime) enterCall(ctx *Context, addr, retAddr, cleanup int) error {
	if len(ctx.callStack) >= ctx.maxCall {
		return rt.machineError(VMStackOverflow)
	}
	if addr < 0 || addr >= len(rt.code) {
		return rt.machineError(VMInvalidCodeAddress)
	}
	ctx.callStack = append(ctx.callStack, callFrame{
		retAddr:   retAddr,
		frameBase: len(ctx.dataStack),
		argc:      cleanup,
	})
	ctx.pc = addr
	rt.maybeCollect()
	return nil
}

// returnFromCall pops one frame. The bool result is true when a
// native frame was popped, i.e. control returns to host code.
func (rt *Runtime) returnFromCall(ctx *Context) (bool, error) {
	if len(ctx.callStack) == 0 {
		// the cofunction body ran to its end: this resume produced no
		// value, so the thread is exhausted
		if ctx.owner != nil {
			ctx.state = ctxDone
			if resumer := ctx.resumer; resumer != nil {
				rt.setRegister(resumer, regResult, rt.handles.null)
				rt.current = resumer
			}
			rt.raise(VectorSoftware, VMSoftwareException, nil)
			return false, &vmError{code: VMSoftwareException}
		}
		return false, rt.machineError(VMReturnToNative)
	}
	n := len(ctx.callStack)
	f := ctx.callStack[n-1]
	ctx.callStack = ctx.callStack[:n-1]
	// release everything the callee left on the stack
	for len(ctx.dataStack) > f.frameBase {
		rt.Release(ctx.pop())
	}
	// a delegate call pushed closure slots below the frame base
	for i := 0; i < f.argc; i++ {
		rt.Release(ctx.pop())
	}
	ctx.pc = f.retAddr
	return f.native, nil
}

// resumeThread switches execution into a cofunction context.
func (rt *Runtime) resumeThread(ctx *Context, h *Handle, retPC int) error {
	tc := h.Ctx
	if tc == nil {
		return rt.machineError(VMCallToNonFunction)
	}
	if tc.state == ctxDone {
		rt.raise(VectorSoftware, VMSoftwareException, nil)
		return &vmError{code: VMSoftwareException}
	}
	ctx.pc = retPC
	tc.resumer = ctx
	if tc.state == ctxReady {
		fn := &rt.funcs[tc.funcIdx]
		tc.pc = fn.CodeAddr
		// the global object is visible from every context
		g := rt.root.registers[regGlobal]
		rt.AddRef(g)
		rt.setRegister(tc, regGlobal, g)
	}
	tc.state = ctxRunning
	rt.current = tc
	rt.maybeCollect()
	return nil
}

// allocObject builds a script instance with null-initialized slots.
// The constructor call is emitted separately by the code generator.
func (rt *Runtime) allocObject(typeID int) (*Handle, error) {
	ti := rt.types.get(typeID)
	if ti == nil || ti.Family != FamilyClass {
		return nil, rt.machineError(VMUnsupportedType)
	}
	h := rt.newHandle(typeID)
	h.Obj = &Object{TypeID: typeID, Slots: make([]*Handle, ti.InstanceSize)}
	for i := range h.Obj.Slots {
		h.Obj.Slots[i] = rt.handles.null
	}
	return h, nil
}

// copyHandle deep-copies a value. Script classes get a slot-wise copy
// followed by the user copy-constructor, if one is defined; native
// objects cannot be copied through this path.
func (rt *Runtime) copyHandle(src *Handle) (*Handle, error) {
	switch {
	case src.IsNull():
		return rt.handles.null, nil
	case src.TypeID == TypeInt:
		return rt.NewIntHandle(src.Int), nil
	case src.TypeID == TypeFloat:
		return rt.NewFloatHandle(src.Float), nil
	case src.TypeID == TypeString:
		return rt.NewStringHandle(src.Str), nil
	case src.Obj != nil:
		ti := rt.types.get(src.TypeID)
		dup := rt.newHandle(src.TypeID)
		dup.Obj = &Object{TypeID: src.Obj.TypeID, Slots: make([]*Handle, len(src.Obj.Slots))}
		for i, s := range src.Obj.Slots {
			if ti == nil || !ti.isWeakSlot(i) {
				rt.AddRef(s)
			}
			dup.Obj.Slots[i] = s
		}
		if ti != nil && ti.Methods.Cctor >= 0 {
			if _, err := rt.callFunctionIdx(ti.Methods.Cctor, dup, []*Handle{src}); err != nil {
				rt.Release(dup)
				return nil, rt.machineError(VMObjectCopyFailed)
			}
		}
		return dup, nil
	default:
		return nil, rt.machineError(VMObjectCopyFailed)
	}
}

// binaryOp implements dst = dst op src with numeric promotion; add
// concatenates strings.
func (rt *Runtime) binaryOp(ctx *Context, op uint32, srcReg, dstReg int) error {
	src := ctx.registers[srcReg]
	dst := ctx.registers[dstReg]

	if op == opAdd && dst.TypeID == TypeString {
		rt.setRegister(ctx, dstReg, rt.NewStringHandle(dst.Str+stringify(src)))
		return nil
	}

	if src.TypeID == TypeFloat || dst.TypeID == TypeFloat {
		a, ok1 := numFloat(dst)
		b, ok2 := numFloat(src)
		if !ok1 || !ok2 {
			return rt.machineError(VMUnsupportedType)
		}
		var v float64
		switch op {
		case opAdd:
			v = a + b
		case opSub:
			v = a - b
		case opMul:
			v = a * b
		case opDiv:
			if b == 0 {
				return rt.machineError(VMDivideByZero)
			}
			v = a / b
		default:
			return rt.machineError(VMUnsupportedType)
		}
		rt.setRegister(ctx, dstReg, rt.NewFloatHandle(v))
		return nil
	}

	if src.TypeID != TypeInt || dst.TypeID != TypeInt {
		return rt.machineError(VMUnsupportedType)
	}
	a, b := dst.Int, src.Int
	var v int64
	switch op {
	case opAdd:
		v = a + b
	case opSub:
		v = a - b
	case opMul:
		v = a * b
	case opDiv:
		if b == 0 {
			return rt.machineError(VMDivideByZero)
		}
		v = a / b
	case opMod:
		if b == 0 {
			return rt.machineError(VMDivideByZero)
		}
		v = a % b
	case opAnd:
		v = a & b
	case opOr:
		v = a | b
	case opXor:
		v = a ^ b
	case opShl:
		v = a << uint(b&63)
	case opShr:
		v = a >> uint(b&63)
	}
	rt.setRegister(ctx, dstReg, rt.NewIntHandle(v))
	return nil
}

func (rt *Runtime) compareOp(ctx *Context, op uint32, srcReg, dstReg int) error {
	src := ctx.registers[srcReg]
	dst := ctx.registers[dstReg]
	var cmp int
	switch {
	case dst.TypeID == TypeString && src.TypeID == TypeString:
		switch {
		case dst.Str < src.Str:
			cmp = -1
		case dst.Str > src.Str:
			cmp = 1
		}
	case (dst.TypeID == TypeInt || dst.TypeID == TypeFloat) &&
		(src.TypeID == TypeInt || src.TypeID == TypeFloat):
		a, _ := numFloat(dst)
		b, _ := numFloat(src)
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	default:
		if op != opCseq && op != opCsne {
			return rt.machineError(VMUnsupportedType)
		}
		// reference identity; null equals only null
		if dst != src {
			cmp = 2
		}
	}
	var v bool
	switch op {
	case opCseq:
		v = cmp == 0
	case opCsne:
		v = cmp != 0
	case opCslt:
		v = cmp == -1
	case opCsle:
		v = cmp == -1 || cmp == 0
	case opCsgt:
		v = cmp == 1
	case opCsge:
		v = cmp == 0 || cmp == 1
	}
	res := int64(0)
	if v {
		res = 1
	}
	rt.setRegister(ctx, dstReg, rt.NewIntHandle(res))
	return nil
}

func numFloat(h *Handle) (float64, bool) {
	switch h.TypeID {
	case TypeInt:
		return float64(h.Int), true
	case TypeFloat:
		return h.Float, true
	}
	return 0, false
}

func stringify(h *Handle) string {
	switch h.TypeID {
	case TypeString:
		return h.Str
	case TypeInt:
		return fmt.Sprintf("%d", h.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", h.Float)
	case TypeNull:
		return "null"
	}
	return fmt.Sprintf("<%d>", h.TypeID)
}

// maybeCollect runs a scheduled GC pass between instructions, where
// the machine is quiescent.
func (rt *Runtime) maybeCollect() {
	if rt.gcInterval <= 0 {
		return
	}
	rt.sinceGC++
	if rt.sinceGC >= rt.gcInterval {
		rt.sinceGC = 0
		rt.CollectGarbage()
	}
}
