package jewel

// Expression code generation. Every expression evaluates into an
// allocated register; the caller frees it. A light type inference
// rides along so member slots, overloads and convertors resolve at
// compile time.

type exprResult struct {
	reg    int
	typeID int // TypeVar when not statically known
	isTemp bool
}

func (cg *codegen) genExpr(e *expr) (exprResult, bool) {
	switch e.kind {
	case exIntLit, exBoolLit:
		r := cg.allocReg(e.tok)
		cg.emitIntLiteral(e.tok.Int, r)
		return exprResult{reg: r, typeID: TypeInt, isTemp: true}, true

	case exFloatLit:
		r := cg.allocReg(e.tok)
		cg.emitLiteral(literalEntry{kind: litFloat, f: e.tok.Float}, r)
		return exprResult{reg: r, typeID: TypeFloat, isTemp: true}, true

	case exStrLit:
		r := cg.allocReg(e.tok)
		cg.emitLiteral(literalEntry{kind: litString, s: e.tok.Text}, r)
		return exprResult{reg: r, typeID: TypeString, isTemp: true}, true

	case exNullLit:
		r := cg.allocReg(e.tok)
		cg.emit(opLdNull, uint32(r))
		return exprResult{reg: r, typeID: TypeNull, isTemp: true}, true

	case exThis:
		if cg.fn.class == nil && cg.fn.outer == nil {
			cg.fail(e.tok, ErrCallingMethodFromStatic, "this")
			return exprResult{}, false
		}
		r := cg.allocReg(e.tok)
		cg.emit(opMoveRR, uint32(regThis), uint32(r))
		t := TypeVar
		if cg.fn.class != nil {
			t = cg.fn.class.typeID
		}
		return exprResult{reg: r, typeID: t}, true

	case exIdent:
		return cg.genIdent(e)

	case exMember:
		return cg.genMember(e)

	case exIndex:
		arr, ok := cg.genExpr(e.a)
		if !ok {
			return exprResult{}, false
		}
		idx, ok := cg.genExpr(e.b)
		if !ok {
			cg.freeReg(arr.reg)
			return exprResult{}, false
		}
		r := cg.allocReg(e.tok)
		cg.emit(opMoveXR, uint32(arr.reg), uint32(idx.reg), uint32(r))
		cg.freeReg(arr.reg)
		cg.freeReg(idx.reg)
		return exprResult{reg: r, typeID: TypeVar, isTemp: true}, true

	case exCall:
		return cg.genCall(e)

	case exNew:
		return cg.genNew(e)

	case exLambda:
		return cg.genLambda(e)

	case exUnary:
		return cg.genUnary(e)

	case exBinary:
		return cg.genBinary(e)

	case exLogical:
		return cg.genLogical(e)

	case exAssign:
		return cg.genAssign(e)

	case exTernary:
		return cg.genTernary(e)

	case exTypeof:
		if e.a.kind == exIdent {
			if v := cg.lookupLocal(e.a.name); v != nil && v.typeID == TypeVar && !v.init {
				cg.fail(e.tok, ErrTypeofVarIllegal, e.a.name)
			}
		}
		a, ok := cg.genExpr(e.a)
		if !ok {
			return exprResult{}, false
		}
		r := cg.allocReg(e.tok)
		cg.emit(opType, uint32(a.reg), uint32(r))
		cg.freeReg(a.reg)
		return exprResult{reg: r, typeID: TypeInt, isTemp: true}, true

	case exSameref:
		a, ok := cg.genExpr(e.a)
		if !ok {
			return exprResult{}, false
		}
		b, ok := cg.genExpr(e.b)
		if !ok {
			cg.freeReg(a.reg)
			return exprResult{}, false
		}
		cg.emit(opSame, uint32(a.reg), uint32(b.reg))
		cg.freeReg(a.reg)
		return exprResult{reg: b.reg, typeID: TypeInt, isTemp: true}, true

	case exIncDec:
		return cg.genIncDec(e)
	}
	cg.fail(e.tok, ErrSyntaxError, "")
	return exprResult{}, false
}

// genIdent resolves a bare (possibly scope-qualified) name.
func (cg *codegen) genIdent(e *expr) (exprResult, bool) {
	if v := cg.lookupLocal(e.name); v != nil {
		if !v.init {
			cg.fail(e.tok, ErrVarNotInitialized, e.name)
		}
		return exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}, true
	}
	if cg.fn.outer != nil {
		if v := cg.captureFromOuter(e.name, e.tok); v != nil {
			return exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}, true
		}
	}
	if cg.fn.class != nil {
		if v := cg.fn.class.findVar(e.name); v != nil {
			if !cg.fn.isMethod() {
				cg.fail(e.tok, ErrCallingMethodFromStatic, e.name)
			}
			return exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}, true
		}
	}
	if v := cg.findGlobalVar(e.name); v != nil {
		return exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}, true
	}
	// a bare function name is a function reference
	if f := cg.resolveFuncRef(e.name); f != nil {
		r := cg.allocReg(e.tok)
		nullReg := cg.allocReg(e.tok)
		cg.emit(opLdNull, uint32(nullReg))
		cg.emit(opNewDG, uint32(f.fnIdx), uint32(nullReg), uint32(r))
		cg.freeReg(nullReg)
		return exprResult{reg: r, typeID: TypeDelegate, isTemp: true}, true
	}
	cg.fail(e.tok, ErrUndefinedIdentifier, e.name)
	return exprResult{}, false
}

// captureFromOuter resolves a name against the enclosing function of
// a lambda, creating a closure capture on first use.
func (cg *codegen) captureFromOuter(name string, tok Token) *varDecl {
	for _, cap := range cg.fn.captures {
		if cap.name == name {
			return cap
		}
	}
	outer := cg.fn.outer
	if outer == nil || outer.code == nil {
		return nil
	}
	outerCg := outer.code.liveCg
	if outerCg == nil {
		return nil
	}
	src := outerCg.lookupLocal(name)
	if src == nil {
		return nil
	}
	cap := &varDecl{
		name:     name,
		typeID:   src.typeID,
		isConst:  src.isConst,
		isWeak:   src.isWeak,
		storage:  storCapture,
		stackPos: len(cg.fn.captures),
		init:     true,
	}
	cg.fn.captures = append(cg.fn.captures, cap)
	cg.ncap = len(cg.fn.captures)
	return cap
}

func (cg *codegen) findGlobalVar(name string) *varDecl {
	for _, v := range cg.c.globals {
		if v.name == name {
			return v
		}
	}
	return nil
}

// resolveFuncRef finds a function by bare or Class::name syntax,
// preferring the current class's methods.
func (cg *codegen) resolveFuncRef(name string) *funcDecl {
	if cls, fn, ok := splitScoped(name); ok {
		id := cg.c.resolveTypeName(cls)
		if cl := cg.c.classFor(id); cl != nil {
			for _, f := range cl.funcs {
				if f.name == fn {
					return f
				}
			}
		}
		return nil
	}
	if cg.fn.class != nil {
		for _, f := range cg.fn.class.funcs {
			if f.name == name {
				return f
			}
		}
	}
	for _, f := range cg.c.globalFuncs {
		if f.name == name {
			return f
		}
	}
	return nil
}

func classHasFunc(cl *classDecl, name string) bool {
	for _, f := range cl.funcs {
		if f.name == name {
			return true
		}
	}
	return false
}

func splitScoped(name string) (string, string, bool) {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == ':' && name[i+1] == ':' {
			return name[:i], name[i+2:], true
		}
	}
	return "", "", false
}

// genMember reads obj.field, falling back to a reader accessor.
func (cg *codegen) genMember(e *expr) (exprResult, bool) {
	obj, ok := cg.genExpr(e.a)
	if !ok {
		return exprResult{}, false
	}
	cl := cg.c.classFor(obj.typeID)
	if cl == nil {
		cg.fail(e.tok, ErrNotAnObject, e.name)
		cg.freeReg(obj.reg)
		return exprResult{}, false
	}
	if v := cl.findVar(e.name); v != nil {
		r := cg.allocReg(e.tok)
		cg.emit(opMoveMR, uint32(obj.reg), uint32(int32(v.slot)), uint32(r))
		cg.freeReg(obj.reg)
		return exprResult{reg: r, typeID: v.typeID}, true
	}
	// reader accessor: zero arguments, returns the value
	for _, f := range cl.funcs {
		if f.name == e.name && f.isAccessor() && len(f.params) == 0 {
			return cg.emitMethodCall(e.tok, obj, cl, f, nil)
		}
	}
	// a bare method name binds the object into a delegate
	for _, f := range cl.funcs {
		if f.name == e.name && f.isMethod() && !f.isCtor() {
			r := cg.allocReg(e.tok)
			cg.emit(opNewDG, uint32(f.fnIdx), uint32(obj.reg), uint32(r))
			cg.freeReg(obj.reg)
			return exprResult{reg: r, typeID: TypeDelegate, isTemp: true}, true
		}
	}
	cg.fail(e.tok, ErrMemberProtected, e.name)
	cg.freeReg(obj.reg)
	return exprResult{}, false
}

// ---- calls ----

// pickOverload selects one function by name, arity and argument type
// identity.
func (cg *codegen) pickOverload(tok Token, list []*funcDecl, name string, argTypes []int) *funcDecl {
	var byArity []*funcDecl
	for _, f := range list {
		if f.name == name && len(f.params) == len(argTypes) {
			byArity = append(byArity, f)
		}
	}
	if len(byArity) == 0 {
		return nil
	}
	if len(byArity) == 1 {
		return byArity[0]
	}
	var exact []*funcDecl
	for _, f := range byArity {
		match := true
		for i, at := range argTypes {
			p := f.params[i]
			if p.isVar || at == TypeVar || at == TypeNull {
				continue
			}
			if p.typeID != at {
				match = false
				break
			}
		}
		if match {
			exact = append(exact, f)
		}
	}
	switch len(exact) {
	case 1:
		return exact[0]
	case 0:
		cg.fail(tok, ErrUndefinedFunctionCall, name)
		return nil
	default:
		cg.fail(tok, ErrAmbiguousFunctionCall, name)
		return nil
	}
}

// genArgs evaluates the argument expressions into registers.
func (cg *codegen) genArgs(args []*expr) ([]exprResult, bool) {
	out := make([]exprResult, 0, len(args))
	for _, a := range args {
		r, ok := cg.genExpr(a)
		if !ok {
			for _, p := range out {
				cg.freeReg(p.reg)
			}
			return nil, false
		}
		out = append(out, r)
	}
	return out, true
}

func argTypesOf(rs []exprResult) []int {
	ts := make([]int, len(rs))
	for i, r := range rs {
		ts[i] = r.typeID
	}
	return ts
}

// emitCallSequence wraps the push-args / call / cleanup protocol. The
// emitOp callback runs between the argument pushes and the cleanup
// and must emit the actual call instruction.
func (cg *codegen) emitCallSequence(tok Token, args []exprResult, thisReg int, emitOp func()) exprResult {
	hi := cg.saveLive()
	if thisReg >= 0 {
		cg.emit(opPush, uint32(regThis))
		cg.temps++
	}
	for _, a := range args {
		cg.emit(opPush, uint32(a.reg))
		cg.temps++
	}
	if thisReg >= 0 {
		cg.emit(opMoveRR, uint32(thisReg), uint32(regThis))
	}
	emitOp()
	if len(args) > 0 {
		cg.emit(opPopX, uint32(len(args)))
		cg.temps -= len(args)
	}
	if thisReg >= 0 {
		cg.emit(opPop, uint32(regThis))
		cg.temps--
	}
	cg.restoreLive(hi)
	for _, a := range args {
		cg.freeReg(a.reg)
	}
	r := cg.allocReg(tok)
	cg.emit(opMoveRR, uint32(regResult), uint32(r))
	return exprResult{reg: r, isTemp: true}
}

// emitMethodCall dispatches one resolved method on an object held in
// a register. Frees the object register.
func (cg *codegen) emitMethodCall(tok Token, obj exprResult, cl *classDecl, f *funcDecl, argExprs []*expr) (exprResult, bool) {
	args, ok := cg.genArgs(argExprs)
	if !ok {
		cg.freeReg(obj.reg)
		return exprResult{}, false
	}
	var res exprResult
	switch {
	case cl.isNativeBinding && !f.isMethod():
		res = cg.emitCallSequence(tok, args, -1, func() {
			cg.emit(opCallns, uint32(cl.typeID), uint32(f.fnIdx))
		})
	case cl.isNativeBinding:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCalln, uint32(cl.typeID), uint32(f.fnIdx))
		})
	case f.flags&fiVirtual != 0 && f.memberIdx >= 0:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCallm, uint32(regThis), uint32(int32(f.memberIdx)))
		})
	default:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCalls, uint32(f.fnIdx))
		})
	}
	cg.freeReg(obj.reg)
	res.typeID = retTypeOf(f)
	return res, true
}

func retTypeOf(f *funcDecl) int {
	if f.retType < 0 {
		return TypeVar
	}
	return f.retType
}

// genCall compiles every call shape: global functions, methods,
// delegates, cofunction instantiation and thread resumption.
func (cg *codegen) genCall(e *expr) (exprResult, bool) {
	// obj.method(...)
	if e.a != nil && e.name != "" {
		obj, ok := cg.genExpr(e.a)
		if !ok {
			return exprResult{}, false
		}
		return cg.genMethodish(e, obj)
	}
	// (expr)(...) calls a delegate-valued expression
	if e.a != nil {
		dg, ok := cg.genExpr(e.a)
		if !ok {
			return exprResult{}, false
		}
		return cg.genDelegateCall(e, dg)
	}

	// bare or scoped name
	if cls, fn, scoped := splitScoped(e.name); scoped {
		id := cg.c.resolveTypeName(cls)
		cl := cg.c.classFor(id)
		if cl == nil {
			cg.fail(e.tok, ErrUndefinedIdentifier, cls)
			return exprResult{}, false
		}
		args, ok := cg.genArgs(e.args)
		if !ok {
			return exprResult{}, false
		}
		f := cg.pickOverload(e.tok, cl.funcs, fn, argTypesOf(args))
		if f == nil {
			for _, a := range args {
				cg.freeReg(a.reg)
			}
			cg.fail(e.tok, ErrUndefinedFunctionCall, e.name)
			return exprResult{}, false
		}
		if f.isMethod() {
			for _, a := range args {
				cg.freeReg(a.reg)
			}
			cg.fail(e.tok, ErrCallingMethodFromStatic, e.name)
			return exprResult{}, false
		}
		var res exprResult
		if cl.isNativeBinding {
			res = cg.emitCallSequence(e.tok, args, -1, func() {
				cg.emit(opCallns, uint32(cl.typeID), uint32(f.fnIdx))
			})
		} else {
			res = cg.emitCallSequence(e.tok, args, -1, func() {
				cg.emit(opCalls, uint32(f.fnIdx))
			})
		}
		res.typeID = retTypeOf(f)
		return res, true
	}

	// a local or global variable holding a delegate or thread
	if v := cg.lookupLocal(e.name); v != nil {
		dg := exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}
		return cg.genDelegateCall(e, dg)
	}
	if cg.fn.outer != nil {
		if v := cg.captureFromOuter(e.name, e.tok); v != nil {
			dg := exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}
			return cg.genDelegateCall(e, dg)
		}
	}

	// a method of the current class called with the implicit this
	if cg.fn.class != nil && classHasFunc(cg.fn.class, e.name) {
		args, ok := cg.genArgs(e.args)
		if !ok {
			return exprResult{}, false
		}
		f := cg.pickOverload(e.tok, cg.fn.class.funcs, e.name, argTypesOf(args))
		if f == nil {
			for _, a := range args {
				cg.freeReg(a.reg)
			}
			cg.fail(e.tok, ErrUndefinedFunctionCall, e.name)
			return exprResult{}, false
		}
		if !cg.fn.isMethod() && f.isMethod() {
			for _, a := range args {
				cg.freeReg(a.reg)
			}
			cg.fail(e.tok, ErrCallingMethodFromStatic, e.name)
			return exprResult{}, false
		}
		res := cg.emitCallSequence(e.tok, args, regThis, func() {
			cg.emit(opCalls, uint32(f.fnIdx))
		})
		res.typeID = retTypeOf(f)
		return res, true
	}

	// a global variable holding a callable
	if v := cg.findGlobalVar(e.name); v != nil {
		dg := exprResult{reg: cg.loadVar(v, e.tok), typeID: v.typeID}
		return cg.genDelegateCall(e, dg)
	}

	// a global function or cofunction
	args, ok := cg.genArgs(e.args)
	if !ok {
		return exprResult{}, false
	}
	f := cg.pickOverload(e.tok, cg.c.globalFuncs, e.name, argTypesOf(args))
	if f == nil {
		for _, a := range args {
			cg.freeReg(a.reg)
		}
		cg.fail(e.tok, ErrUndefinedFunctionCall, e.name)
		return exprResult{}, false
	}
	if f.isCofunc() {
		// calling a cofunction name instantiates a thread
		hi := cg.saveLive()
		for _, a := range args {
			cg.emit(opPush, uint32(a.reg))
			cg.temps++
		}
		r := cg.allocReg(e.tok)
		cg.emit(opNewCtx, uint32(f.fnIdx), uint32(len(args)), uint32(r))
		cg.temps -= len(args)
		cg.restoreLive(hi)
		for _, a := range args {
			cg.freeReg(a.reg)
		}
		return exprResult{reg: r, typeID: TypeThread, isTemp: true}, true
	}
	res := cg.emitCallSequence(e.tok, args, -1, func() {
		cg.emit(opCalls, uint32(f.fnIdx))
	})
	res.typeID = retTypeOf(f)
	return res, true
}

// genMethodish handles obj.name(...) where name may be a method or a
// delegate-valued member.
func (cg *codegen) genMethodish(e *expr, obj exprResult) (exprResult, bool) {
	cl := cg.c.classFor(obj.typeID)
	if cl == nil {
		cg.fail(e.tok, ErrUndefinedFunctionCall, e.name)
		cg.freeReg(obj.reg)
		return exprResult{}, false
	}
	// walk the hybrid chain for the method
	for c := cl; c != nil; {
		var names []*funcDecl
		for _, f := range c.funcs {
			if f.name == e.name {
				names = append(names, f)
			}
		}
		if len(names) > 0 {
			args, ok := cg.genArgs(e.args)
			if !ok {
				cg.freeReg(obj.reg)
				return exprResult{}, false
			}
			f := cg.pickOverload(e.tok, c.funcs, e.name, argTypesOf(args))
			if f == nil {
				for _, a := range args {
					cg.freeReg(a.reg)
				}
				cg.freeReg(obj.reg)
				return exprResult{}, false
			}
			return cg.emitMethodCallPregen(e.tok, obj, c, f, args)
		}
		if c.hybridID == 0 {
			break
		}
		c = cg.c.classFor(c.hybridID)
	}
	// interface dispatch by base chain
	if base := cg.c.classFor(cl.baseID); base != nil {
		for _, f := range base.funcs {
			if f.name == e.name && len(f.params) == len(e.args) {
				return cg.emitMethodCall(e.tok, obj, cl, f, e.args)
			}
		}
	}
	// a delegate stored in a member
	if v := cl.findVar(e.name); v != nil {
		r := cg.allocReg(e.tok)
		cg.emit(opMoveMR, uint32(obj.reg), uint32(int32(v.slot)), uint32(r))
		cg.freeReg(obj.reg)
		return cg.genDelegateCall(e, exprResult{reg: r, typeID: v.typeID})
	}
	cg.fail(e.tok, ErrUndefinedFunctionCall, e.name)
	cg.freeReg(obj.reg)
	return exprResult{}, false
}

// emitMethodCallPregen is emitMethodCall for already-evaluated args.
func (cg *codegen) emitMethodCallPregen(tok Token, obj exprResult, cl *classDecl, f *funcDecl, args []exprResult) (exprResult, bool) {
	var res exprResult
	switch {
	case cl.isNativeBinding && !f.isMethod():
		res = cg.emitCallSequence(tok, args, -1, func() {
			cg.emit(opCallns, uint32(cl.typeID), uint32(f.fnIdx))
		})
	case cl.isNativeBinding:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCalln, uint32(cl.typeID), uint32(f.fnIdx))
		})
	case f.flags&fiVirtual != 0 && f.memberIdx >= 0:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCallm, uint32(regThis), uint32(int32(f.memberIdx)))
		})
	default:
		res = cg.emitCallSequence(tok, args, obj.reg, func() {
			cg.emit(opCalls, uint32(f.fnIdx))
		})
	}
	cg.freeReg(obj.reg)
	res.typeID = retTypeOf(f)
	return res, true
}

// genDelegateCall invokes a delegate or resumes a thread held in a
// register. Frees the callee register.
func (cg *codegen) genDelegateCall(e *expr, dg exprResult) (exprResult, bool) {
	if dg.typeID != TypeVar && dg.typeID != TypeDelegate && dg.typeID != TypeThread {
		if cl := cg.c.classFor(dg.typeID); cl == nil || cl.family != FamilyDelegate {
			cg.fail(e.tok, ErrInvalidVariableCall, e.name)
			cg.freeReg(dg.reg)
			return exprResult{}, false
		}
	}
	args, ok := cg.genArgs(e.args)
	if !ok {
		cg.freeReg(dg.reg)
		return exprResult{}, false
	}
	hi := cg.saveLive()
	// a bound delegate replaces the this register inside the VM
	cg.emit(opPush, uint32(regThis))
	cg.temps++
	for _, a := range args {
		cg.emit(opPush, uint32(a.reg))
		cg.temps++
	}
	cg.emit(opCalldg, uint32(dg.reg), uint32(len(args)))
	if len(args) > 0 {
		cg.emit(opPopX, uint32(len(args)))
		cg.temps -= len(args)
	}
	cg.emit(opPop, uint32(regThis))
	cg.temps--
	cg.restoreLive(hi)
	for _, a := range args {
		cg.freeReg(a.reg)
	}
	cg.freeReg(dg.reg)
	r := cg.allocReg(e.tok)
	cg.emit(opMoveRR, uint32(regResult), uint32(r))
	return exprResult{reg: r, typeID: TypeVar, isTemp: true}, true
}

// genNew allocates an instance and runs the matching constructor.
func (cg *codegen) genNew(e *expr) (exprResult, bool) {
	ti := cg.c.rt.types.get(e.typeID)
	if e.typeID == TypeArray || ti == nil && e.typeID == TypeArray {
		r := cg.allocReg(e.tok)
		cg.emit(opAlloca, uint32(TypeVar), uint32(r))
		if e.a != nil {
			// the size expression evaluates for effect only; arrays grow
			s, ok := cg.genExpr(e.a)
			if ok {
				cg.freeReg(s.reg)
			}
		}
		return exprResult{reg: r, typeID: TypeArray, isTemp: true}, true
	}
	cl := cg.c.classFor(e.typeID)
	if cl == nil || (cl.family != FamilyClass) {
		cg.fail(e.tok, ErrTypeNotClass, "")
		return exprResult{}, false
	}
	if cl.family == FamilyInterface {
		cg.fail(e.tok, ErrTypeNotClass, cl.name)
		return exprResult{}, false
	}

	r := cg.allocReg(e.tok)
	if cl.isNativeBinding {
		cg.emit(opAllocn, uint32(e.typeID), uint32(r))
	} else {
		cg.emit(opAlloc, uint32(e.typeID), uint32(r))
	}

	// find the constructor for this argument list
	args, ok := cg.genArgs(e.args)
	if !ok {
		cg.freeReg(r)
		return exprResult{}, false
	}
	var ctors []*funcDecl
	for _, f := range cl.funcs {
		if f.isCtor() {
			ctors = append(ctors, f)
		}
	}
	ctor := cg.pickOverload(e.tok, ctors, cl.name, argTypesOf(args))
	if ctor == nil {
		if len(e.args) > 0 || (len(ctors) > 0 && !cl.isNativeBinding) {
			cg.fail(e.tok, ErrNoDefaultCtor, cl.name)
		}
		for _, a := range args {
			cg.freeReg(a.reg)
		}
		return exprResult{reg: r, typeID: e.typeID, isTemp: true}, true
	}
	if ctor.flags&fiExplicit != 0 && len(args) == 0 {
		cg.fail(e.tok, ErrCtorIsExplicit, cl.name)
	}
	obj := exprResult{reg: r, typeID: e.typeID}
	var res exprResult
	if cl.isNativeBinding {
		res = cg.emitCallSequence(e.tok, args, obj.reg, func() {
			cg.emit(opCalln, uint32(cl.typeID), uint32(ctor.fnIdx))
		})
	} else {
		res = cg.emitCallSequence(e.tok, args, obj.reg, func() {
			cg.emit(opCalls, uint32(ctor.fnIdx))
		})
	}
	// the ctor's result is discarded; the new object is the value
	cg.freeReg(res.reg)
	return exprResult{reg: r, typeID: e.typeID, isTemp: true}, true
}

// genLambda generates the anonymous function's code, then emits the
// capture pushes and the closure construction.
func (cg *codegen) genLambda(e *expr) (exprResult, bool) {
	f := e.lambda

	inner := newCodegen(cg.c, f)
	inner.generate(f.lambdaBody)

	// update the descriptor now that captures are known
	cg.c.rt.funcs[f.fnIdx].Args = len(f.params)

	ncap := len(f.captures)
	if ncap == 0 {
		r := cg.allocReg(e.tok)
		nullReg := cg.allocReg(e.tok)
		cg.emit(opLdNull, uint32(nullReg))
		cg.emit(opNewDG, uint32(f.fnIdx), uint32(nullReg), uint32(r))
		cg.freeReg(nullReg)
		return exprResult{reg: r, typeID: TypeDelegate, isTemp: true}, true
	}

	// push the captured handles in capture order
	for _, cap := range f.captures {
		src := cg.lookupLocal(cap.name)
		if src == nil {
			cg.fail(e.tok, ErrUndefinedIdentifier, cap.name)
			return exprResult{}, false
		}
		if src.isWeak {
			cg.c.warnAt(e.tok, warnTakingWeakFromWeak, cap.name)
		}
		tmp := cg.loadVar(src, e.tok)
		cg.emit(opPush, uint32(tmp))
		cg.temps++
		cg.freeReg(tmp)
	}
	r := cg.allocReg(e.tok)
	cg.emit(opNewClosure, uint32(f.fnIdx), uint32(ncap), uint32(r))
	cg.temps -= ncap
	return exprResult{reg: r, typeID: TypeDelegate, isTemp: true}, true
}

func (cg *codegen) genUnary(e *expr) (exprResult, bool) {
	if folded, ok := e.constFold(); ok && cg.optLevel >= 1 {
		cg.out.stats.instrSaved++
		return cg.genExpr(folded)
	}
	a, ok := cg.genExpr(e.a)
	if !ok {
		return exprResult{}, false
	}
	switch e.op {
	case tkMinus:
		cg.emit(opNeg, uint32(a.reg))
	case tkTilde:
		cg.emit(opBNot, uint32(a.reg))
	case tkBang:
		cg.emit(opNot, uint32(a.reg))
		a.typeID = TypeInt
	}
	a.isTemp = true
	return a, true
}

var binOpFor = map[tokenKind]uint32{
	tkPlus:       opAdd,
	tkMinus:      opSub,
	tkStar:       opMul,
	tkSlash:      opDiv,
	tkPercent:    opMod,
	tkAmpersand:  opAnd,
	tkPipe:       opOr,
	tkCaret:      opXor,
	tkShiftLeft:  opShl,
	tkShiftRight: opShr,
}

var cmpOpFor = map[tokenKind]uint32{
	tkEqual:        opCseq,
	tkNotEqual:     opCsne,
	tkLess:         opCslt,
	tkLessEqual:    opCsle,
	tkGreater:      opCsgt,
	tkGreaterEqual: opCsge,
}

var commutative = map[tokenKind]bool{
	tkPlus: true, tkStar: true, tkAmpersand: true, tkPipe: true, tkCaret: true,
}

func exprDepth(e *expr) int {
	if e == nil {
		return 0
	}
	d := exprDepth(e.a)
	if bd := exprDepth(e.b); bd > d {
		d = bd
	}
	return d + 1
}

func (cg *codegen) genBinary(e *expr) (exprResult, bool) {
	if folded, ok := e.constFold(); ok && cg.optLevel >= 1 {
		cg.out.stats.instrSaved++
		return cg.genExpr(folded)
	}
	lhs, rhs := e.a, e.b
	swapped := false
	// at level 2 commutative operands evaluate deeper-first, which
	// shortens register live ranges and saves moves
	if cg.optLevel >= 2 && commutative[e.op] && e.op != tkPlus &&
		exprDepth(rhs) > exprDepth(lhs) {
		lhs, rhs = rhs, lhs
		swapped = true
	}
	_ = swapped

	a, ok := cg.genExpr(lhs)
	if !ok {
		return exprResult{}, false
	}
	b, ok := cg.genExpr(rhs)
	if !ok {
		cg.freeReg(a.reg)
		return exprResult{}, false
	}
	if op, isCmp := cmpOpFor[e.op]; isCmp {
		cg.emit(op, uint32(b.reg), uint32(a.reg))
		cg.freeReg(b.reg)
		return exprResult{reg: a.reg, typeID: TypeInt, isTemp: true}, true
	}
	op, okOp := binOpFor[e.op]
	if !okOp {
		cg.fail(e.tok, ErrSyntaxError, "")
		cg.freeReg(a.reg)
		cg.freeReg(b.reg)
		return exprResult{}, false
	}
	cg.emit(op, uint32(b.reg), uint32(a.reg))
	cg.freeReg(b.reg)
	t := a.typeID
	if b.typeID == TypeFloat {
		t = TypeFloat
	}
	if e.op == tkPlus && a.typeID == TypeString {
		t = TypeString
	}
	return exprResult{reg: a.reg, typeID: t, isTemp: true}, true
}

func (cg *codegen) genLogical(e *expr) (exprResult, bool) {
	a, ok := cg.genExpr(e.a)
	if !ok {
		return exprResult{}, false
	}
	// normalize to 0/1
	cg.emit(opNot, uint32(a.reg))
	cg.emit(opNot, uint32(a.reg))
	var short branchPatch
	if e.op == tkLogicalAnd {
		short = cg.emitBranch(opFbr, a.reg)
	} else {
		short = cg.emitBranch(opTbr, a.reg)
	}
	b, ok := cg.genExpr(e.b)
	if !ok {
		cg.freeReg(a.reg)
		return exprResult{}, false
	}
	cg.emit(opNot, uint32(b.reg))
	cg.emit(opNot, uint32(b.reg))
	cg.emit(opMoveRR, uint32(b.reg), uint32(a.reg))
	cg.freeReg(b.reg)
	cg.patchBranch(short)
	return exprResult{reg: a.reg, typeID: TypeInt, isTemp: true}, true
}

func (cg *codegen) genTernary(e *expr) (exprResult, bool) {
	cond, ok := cg.genExpr(e.a)
	if !ok {
		return exprResult{}, false
	}
	r := cond.reg
	jelse := cg.emitBranch(opFbr, r)
	b, ok := cg.genExpr(e.b)
	if !ok {
		cg.freeReg(r)
		return exprResult{}, false
	}
	cg.emit(opMoveRR, uint32(b.reg), uint32(r))
	cg.freeReg(b.reg)
	jend := cg.emitBranch(opBra, 0)
	cg.patchBranch(jelse)
	c, ok := cg.genExpr(e.c)
	if !ok {
		cg.freeReg(r)
		return exprResult{}, false
	}
	cg.emit(opMoveRR, uint32(c.reg), uint32(r))
	cg.freeReg(c.reg)
	cg.patchBranch(jend)
	return exprResult{reg: r, typeID: TypeVar, isTemp: true}, true
}

var compoundBase = map[tokenKind]tokenKind{
	tkPlusAssign:    tkPlus,
	tkMinusAssign:   tkMinus,
	tkStarAssign:    tkStar,
	tkSlashAssign:   tkSlash,
	tkPercentAssign: tkPercent,
	tkAndAssign:     tkAmpersand,
	tkOrAssign:      tkPipe,
	tkXorAssign:     tkCaret,
	tkShlAssign:     tkShiftLeft,
	tkShrAssign:     tkShiftRight,
}

// genAssign compiles stores to locals, members, globals and array
// elements, including compound assignment.
func (cg *codegen) genAssign(e *expr) (exprResult, bool) {
	// compound forms rewrite to lhs = lhs op rhs
	if base, isCompound := compoundBase[e.op]; isCompound {
		rewritten := &expr{
			kind: exAssign,
			tok:  e.tok,
			op:   tkAssign,
			a:    e.a,
			b:    &expr{kind: exBinary, tok: e.tok, op: base, a: e.a, b: e.b},
		}
		return cg.genAssign(rewritten)
	}

	switch lhs := e.a; lhs.kind {
	case exIdent:
		v := cg.lookupLocal(lhs.name)
		if v == nil && cg.fn.outer != nil {
			v = cg.captureFromOuter(lhs.name, lhs.tok)
		}
		if v == nil && cg.fn.class != nil {
			v = cg.fn.class.findVar(lhs.name)
		}
		if v == nil {
			v = cg.findGlobalVar(lhs.name)
		}
		if v == nil {
			cg.fail(lhs.tok, ErrUndefinedIdentifier, lhs.name)
			return exprResult{}, false
		}
		if v.isConst && v.init {
			cg.fail(lhs.tok, ErrLValueIsConst, lhs.name)
			return exprResult{}, false
		}
		rhs, ok := cg.genExpr(e.b)
		if !ok {
			return exprResult{}, false
		}
		if v.isWeak && rhs.isTemp {
			cg.c.warnAt(e.tok, warnAssignTempToWeak, v.name)
		}
		if cg.useRtchk && v.typeID != TypeVar {
			cg.emit(opRtchk, uint32(v.typeID), uint32(rhs.reg))
		}
		cg.copyValue(v.typeID, rhs.reg)
		cg.storeVar(v, rhs.reg, lhs.tok)
		return exprResult{reg: rhs.reg, typeID: v.typeID, isTemp: true}, true

	case exMember:
		obj, ok := cg.genExpr(lhs.a)
		if !ok {
			return exprResult{}, false
		}
		cl := cg.c.classFor(obj.typeID)
		if cl == nil {
			cg.fail(lhs.tok, ErrNotAnObject, lhs.name)
			cg.freeReg(obj.reg)
			return exprResult{}, false
		}
		if v := cl.findVar(lhs.name); v != nil {
			rhs, ok := cg.genExpr(e.b)
			if !ok {
				cg.freeReg(obj.reg)
				return exprResult{}, false
			}
			if v.isWeak {
				cg.emit(opWrefRM, uint32(rhs.reg), uint32(obj.reg), uint32(int32(v.slot)))
			} else {
				cg.copyValue(v.typeID, rhs.reg)
				cg.emit(opMoveRM, uint32(rhs.reg), uint32(obj.reg), uint32(int32(v.slot)))
			}
			cg.freeReg(obj.reg)
			return exprResult{reg: rhs.reg, typeID: v.typeID, isTemp: true}, true
		}
		// writer accessor: one argument of the member's type
		for _, f := range cl.funcs {
			if f.name == lhs.name && f.isAccessor() && len(f.params) == 1 {
				return cg.emitMethodCall(lhs.tok, obj, cl, f, []*expr{e.b})
			}
		}
		cg.fail(lhs.tok, ErrMemberProtected, lhs.name)
		cg.freeReg(obj.reg)
		return exprResult{}, false

	case exIndex:
		arr, ok := cg.genExpr(lhs.a)
		if !ok {
			return exprResult{}, false
		}
		idx, ok := cg.genExpr(lhs.b)
		if !ok {
			cg.freeReg(arr.reg)
			return exprResult{}, false
		}
		rhs, ok := cg.genExpr(e.b)
		if !ok {
			cg.freeReg(arr.reg)
			cg.freeReg(idx.reg)
			return exprResult{}, false
		}
		cg.emit(opMoveRX, uint32(rhs.reg), uint32(arr.reg), uint32(idx.reg))
		cg.freeReg(arr.reg)
		cg.freeReg(idx.reg)
		return exprResult{reg: rhs.reg, typeID: TypeVar, isTemp: true}, true
	}
	cg.fail(e.tok, ErrNotAnLValue, "")
	return exprResult{}, false
}

func (cg *codegen) genIncDec(e *expr) (exprResult, bool) {
	if e.a.kind != exIdent {
		cg.fail(e.tok, ErrNotAnLValue, "")
		return exprResult{}, false
	}
	v := cg.lookupLocal(e.a.name)
	if v == nil && cg.fn.class != nil {
		v = cg.fn.class.findVar(e.a.name)
	}
	if v == nil {
		v = cg.findGlobalVar(e.a.name)
	}
	if v == nil {
		cg.fail(e.a.tok, ErrUndefinedIdentifier, e.a.name)
		return exprResult{}, false
	}
	if v.isConst {
		cg.fail(e.a.tok, ErrLValueIsConst, v.name)
		return exprResult{}, false
	}
	cur := cg.loadVar(v, e.tok)
	var result int
	if !e.prefix {
		result = cg.allocReg(e.tok)
		cg.emit(opMoveRR, uint32(cur), uint32(result))
	}
	one := cg.allocReg(e.tok)
	cg.emitIntLiteral(1, one)
	if e.op == tkIncrement {
		cg.emit(opAdd, uint32(one), uint32(cur))
	} else {
		cg.emit(opSub, uint32(one), uint32(cur))
	}
	cg.freeReg(one)
	cg.storeVar(v, cur, e.tok)
	if e.prefix {
		return exprResult{reg: cur, typeID: v.typeID, isTemp: true}, true
	}
	cg.freeReg(cur)
	return exprResult{reg: result, typeID: v.typeID, isTemp: true}, true
}
