package jewel

// Code generation: one codegen instance per function body. Emission
// goes into a per-function buffer; the linker later concatenates the
// buffers, resolves the literal pool into the data segment and
// rewrites call sites.

type literalKind int

const (
	litInt literalKind = iota
	litFloat
	litString
)

// literalEntry is one deduplicated literal with the operand word
// offsets that reference it. The linker resolves the sites against
// the data segment.
type literalEntry struct {
	kind  literalKind
	i     int64
	f     float64
	s     string
	sites []int
}

// optStats records what the optimizer did to one function.
type optStats struct {
	instrSaved int
	sizeBefore int
	sizeAfter  int
}

// fnCode is the output of one function's code generation.
type fnCode struct {
	fn       *funcDecl
	code     []uint32
	literals []literalEntry
	stats    optStats

	// liveCg points at the generator while it runs, so a nested
	// lambda can resolve captures against the live scope.
	liveCg *codegen
}

// scope is one lexical nesting level.
type scope struct {
	vars        map[string]*varDecl
	localsAtTop int // stack locals live when the scope opened
	regLocals   []int
}

// loopCtx tracks patch sites for break/continue inside one loop.
type loopCtx struct {
	breakSites    []branchPatch
	continueSites []branchPatch
	entryLocals   int
	isSwitch      bool
}

type branchPatch struct {
	opAddr  int
	operand int
}

type codegen struct {
	c   *Compiler
	fn  *funcDecl
	out *fnCode

	regUsed [kNumRegisters]bool
	regHist [kNumRegisters]int
	hiReg   int

	scopes []*scope
	loops  []*loopCtx

	argc   int
	ncap   int
	locals int
	temps  int

	state      funcState
	forceStack bool
	optLevel   int
	useRtchk   bool
}

func newCodegen(c *Compiler, fn *funcDecl) *codegen {
	cg := &codegen{
		c:          c,
		fn:         fn,
		out:        &fnCode{fn: fn},
		argc:       len(fn.params),
		forceStack: c.rt.opts.GetInt("stack-locals") != 0,
		optLevel:   c.rt.opts.GetInt("optimize"),
		useRtchk:   c.rt.opts.GetBool("use-rtchk"),
		state:      fsOpen,
	}
	fn.code = cg.out
	return cg
}

func (cg *codegen) fail(tok Token, code ErrorCode, detail string) {
	cg.c.errorAt(tok, code, detail)
}

// ---- emission ----

// emit appends one instruction and maintains the register usage
// histogram from the operand layout.
func (cg *codegen) emit(words ...uint32) int {
	addr := len(cg.out.code)
	cg.out.code = append(cg.out.code, words...)
	if len(words) > 0 && words[0] < numOpcodes {
		w := 1
		for _, k := range instrTable[words[0]].operands {
			switch k {
			case otEar:
				cg.touch(int(words[w]))
				w++
			case otEad:
				cg.touch(int(words[w]))
				w += 2
			case otEax:
				cg.touch(int(words[w]))
				cg.touch(int(words[w+1]))
				w += 2
			default:
				w += operandWords(k)
			}
		}
	}
	return addr
}

// emitBranch emits a branch with a placeholder offset and returns the
// patch record.
func (cg *codegen) emitBranch(op uint32, reg int) branchPatch {
	addr := len(cg.out.code)
	if op == opBra {
		cg.emit(op, 0)
		return branchPatch{opAddr: addr, operand: addr + 1}
	}
	cg.emit(op, uint32(reg), 0)
	return branchPatch{opAddr: addr, operand: addr + 2}
}

// patchBranch resolves a branch to the current emission address.
func (cg *codegen) patchBranch(p branchPatch) {
	cg.out.code[p.operand] = uint32(int32(len(cg.out.code) - p.opAddr))
}

// patchBranchTo resolves a branch to an explicit address.
func (cg *codegen) patchBranchTo(p branchPatch, target int) {
	cg.out.code[p.operand] = uint32(int32(target - p.opAddr))
}

// emitLiteral emits `moveh <pool> reg` and records the patch site.
func (cg *codegen) emitLiteral(e literalEntry, reg int) {
	idx := -1
	for i := range cg.out.literals {
		le := &cg.out.literals[i]
		if le.kind != e.kind {
			continue
		}
		switch e.kind {
		case litInt:
			if le.i == e.i {
				idx = i
			}
		case litFloat:
			if le.f == e.f {
				idx = i
			}
		case litString:
			if le.s == e.s {
				idx = i
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		idx = len(cg.out.literals)
		cg.out.literals = append(cg.out.literals, e)
	}
	addr := cg.emit(opMoveHR, uint32(idx), uint32(reg))
	cg.out.literals[idx].sites = append(cg.out.literals[idx].sites, addr+1)
}

func (cg *codegen) emitIntLiteral(v int64, reg int) {
	cg.emitLiteral(literalEntry{kind: litInt, i: v}, reg)
}

// ---- registers ----

func (cg *codegen) allocReg(tok Token) int {
	for r := kFirstFreeReg; r < kNumRegisters; r++ {
		if !cg.regUsed[r] {
			cg.regUsed[r] = true
			if r > cg.hiReg {
				cg.hiReg = r
			}
			return r
		}
	}
	cg.fail(tok, ErrFatalError, "out of registers")
	return kFirstFreeReg
}

func (cg *codegen) freeReg(r int) {
	if r >= kFirstFreeReg {
		cg.regUsed[r] = false
	}
}

func (cg *codegen) touch(r int) {
	if r >= 0 && r < kNumRegisters {
		cg.regHist[r]++
	}
}

// liveHigh returns the highest register currently allocated, or 0
// when none are live.
func (cg *codegen) liveHigh() int {
	hi := 0
	for r := kFirstFreeReg; r < kNumRegisters; r++ {
		if cg.regUsed[r] {
			hi = r
		}
	}
	return hi
}

// saveLive spills all live registers around a call. Returns the saved
// range high bound (0 = nothing saved).
func (cg *codegen) saveLive() int {
	hi := cg.liveHigh()
	if hi >= kFirstFreeReg {
		cg.emit(opPushR, uint32(kFirstFreeReg), uint32(hi))
		cg.temps += hi - kFirstFreeReg + 1
	}
	return hi
}

func (cg *codegen) restoreLive(hi int) {
	if hi >= kFirstFreeReg {
		cg.emit(opPopR, uint32(kFirstFreeReg), uint32(hi))
		cg.temps -= hi - kFirstFreeReg + 1
	}
}

// ---- scope and variable addressing ----

func (cg *codegen) pushScope() {
	cg.scopes = append(cg.scopes, &scope{
		vars:        make(map[string]*varDecl),
		localsAtTop: cg.locals,
	})
}

// popScope releases the scope's storage.
func (cg *codegen) popScope() {
	s := cg.scopes[len(cg.scopes)-1]
	cg.scopes = cg.scopes[:len(cg.scopes)-1]
	if n := cg.locals - s.localsAtTop; n > 0 {
		cg.emit(opPopX, uint32(n))
		cg.locals = s.localsAtTop
	}
	for _, r := range s.regLocals {
		cg.emit(opLdNull, uint32(r))
		cg.freeReg(r)
	}
}

func (cg *codegen) lookupLocal(name string) *varDecl {
	for i := len(cg.scopes) - 1; i >= 0; i-- {
		if v, ok := cg.scopes[i].vars[name]; ok {
			return v
		}
	}
	return nil
}

// depth returns the total stack entries above the frame base.
func (cg *codegen) depth() int { return cg.locals + cg.temps }

// dispOf computes the sp-relative displacement of a stack-resident
// variable. Frame layout, bottom to top: args, closure captures,
// locals, transient pushes.
func (cg *codegen) dispOf(v *varDecl) int {
	switch v.storage {
	case storLocalStack:
		return cg.depth() - 1 - v.stackPos
	case storCapture:
		return cg.depth() + (cg.ncap - 1 - v.stackPos)
	case storArg:
		return cg.depth() + cg.ncap + (cg.argc - 1 - v.stackPos)
	}
	return 0
}

// loadVar emits the move of a variable into a register.
func (cg *codegen) loadVar(v *varDecl, tok Token) int {
	r := cg.allocReg(tok)
	switch v.storage {
	case storLocalReg:
		cg.emit(opMoveRR, uint32(v.reg), uint32(r))
	case storLocalStack, storArg, storCapture:
		cg.emit(opMoveSR, uint32(int32(cg.dispOf(v))), uint32(r))
	case storMember:
		cg.emit(opMoveMR, uint32(regThis), uint32(int32(v.slot)), uint32(r))
	case storGlobal:
		cg.emit(opMoveMR, uint32(regGlobal), uint32(int32(v.slot)), uint32(r))
	}
	return r
}

// copyValue gives integral values copy-on-assign semantics: the
// stored handle is a fresh one, never a shared data-segment constant.
func (cg *codegen) copyValue(typeID, reg int) {
	if typeID == TypeInt || typeID == TypeFloat {
		cg.emit(opCopyRR, uint32(reg), uint32(reg))
	}
}

// storeVar emits the move of a register into a variable.
func (cg *codegen) storeVar(v *varDecl, src int, tok Token) {
	switch v.storage {
	case storLocalReg:
		cg.emit(opMoveRR, uint32(src), uint32(v.reg))
	case storLocalStack, storArg, storCapture:
		cg.emit(opMoveRS, uint32(src), uint32(int32(cg.dispOf(v))))
	case storMember:
		if v.isWeak {
			cg.emit(opWrefRM, uint32(src), uint32(regThis), uint32(int32(v.slot)))
		} else {
			cg.emit(opMoveRM, uint32(src), uint32(regThis), uint32(int32(v.slot)))
		}
	case storGlobal:
		if v.isWeak {
			cg.emit(opWrefRM, uint32(src), uint32(regGlobal), uint32(int32(v.slot)))
		} else {
			cg.emit(opMoveRM, uint32(src), uint32(regGlobal), uint32(int32(v.slot)))
		}
	}
	v.init = true
}

// ---- function generation ----

// generate compiles a parsed body into the per-function buffer.
func (cg *codegen) generate(body *stmt) {
	cg.out.liveCg = cg
	defer func() { cg.out.liveCg = nil }()
	cg.ncap = len(cg.fn.captures)
	cg.pushScope()
	for i := range cg.fn.params {
		prm := &cg.fn.params[i]
		if prm.name == "" {
			continue
		}
		v := &varDecl{
			name:     prm.name,
			typeID:   prm.typeID,
			isConst:  prm.isConst,
			isWeak:   prm.isWeak,
			storage:  storArg,
			stackPos: i,
			init:     true,
		}
		cg.scopes[0].vars[prm.name] = v
	}

	terminated := cg.genBlockInto(body)

	if !terminated {
		if cg.fn.retType >= 0 && !cg.fn.isCofunc() && !cg.fn.isCtor() {
			cg.fail(cg.fn.bodyTok(), ErrNoReturnValue, cg.fn.name)
		}
		cg.emitReturnEpilogue(true)
	}
	cg.popScopeNoCode()
	cg.state = fsClosed

	if cg.optLevel >= 1 {
		cg.peephole()
	}
	if cg.c.rt.opts.GetBool("verbose") {
		st := cg.out.stats
		cg.c.log.Debugf("codegen %s: %d words, opt saved %d (%d -> %d)",
			cg.fn.name, len(cg.out.code), st.instrSaved, st.sizeBefore, st.sizeAfter)
	}
}

func (f *funcDecl) bodyTok() Token {
	if f.bodyUnit != nil && f.bodyPos < len(f.bodyUnit.stream.tokens) {
		return f.bodyUnit.stream.tokens[f.bodyPos]
	}
	return Token{}
}

// popScopeNoCode unwinds the scope bookkeeping at function end; the
// return epilogue already reset the machine state.
func (cg *codegen) popScopeNoCode() {
	for len(cg.scopes) > 0 {
		s := cg.scopes[len(cg.scopes)-1]
		cg.scopes = cg.scopes[:len(cg.scopes)-1]
		for _, r := range s.regLocals {
			cg.freeReg(r)
		}
	}
}

// emitReturnEpilogue clears the function's registers and returns.
// With voidResult the result register is nulled first.
func (cg *codegen) emitReturnEpilogue(voidResult bool) {
	if voidResult {
		cg.emit(opLdNull, uint32(regResult))
	}
	for r := kFirstFreeReg; r <= cg.hiReg; r++ {
		cg.emit(opLdNull, uint32(r))
	}
	cg.emit(opRet)
}

// genBlockInto compiles the statements of an already-parsed block
// without opening a new scope wrapper at the top level of a function.
func (cg *codegen) genBlockInto(body *stmt) bool {
	if cg.state == fsOpen && len(body.stmts) > 0 {
		cg.state = fsBody
	}
	terminated := false
	for _, s := range body.stmts {
		if terminated {
			cg.c.warnAt(s.tok, warnUnreachableCode, "")
			break
		}
		terminated = cg.genStmt(s)
	}
	return terminated
}

// genStmt returns true when the statement terminates all paths.
func (cg *codegen) genStmt(s *stmt) bool {
	if cg.state == fsOpen {
		cg.state = fsBody
	}
	switch s.kind {
	case stEmpty, stSelftest:
		return false

	case stBlock:
		cg.pushScope()
		t := cg.genBlockInto(s)
		cg.popScope()
		return t

	case stExpr:
		r, ok := cg.genExpr(s.expr)
		if ok {
			cg.freeReg(r.reg)
		}
		return false

	case stVarDecl:
		cg.genVarDecl(s)
		return false

	case stIf:
		return cg.genIf(s)

	case stWhile:
		cg.genWhile(s)
		return false

	case stDoWhile:
		cg.genDoWhile(s)
		return false

	case stFor:
		cg.genFor(s)
		return false

	case stSwitch:
		cg.genSwitch(s)
		return false

	case stBreak:
		if len(cg.loops) == 0 {
			return false
		}
		l := cg.loops[len(cg.loops)-1]
		if n := cg.locals - l.entryLocals; n > 0 {
			cg.emit(opPopX, uint32(n))
		}
		l.breakSites = append(l.breakSites, cg.emitBranch(opBra, 0))
		return true

	case stContinue:
		// continue binds to the innermost loop, skipping switches
		for i := len(cg.loops) - 1; i >= 0; i-- {
			l := cg.loops[i]
			if l.isSwitch {
				continue
			}
			if n := cg.locals - l.entryLocals; n > 0 {
				cg.emit(opPopX, uint32(n))
			}
			l.continueSites = append(l.continueSites, cg.emitBranch(opBra, 0))
			break
		}
		return true

	case stReturn:
		return cg.genReturn(s)

	case stYield:
		if s.expr != nil {
			r, ok := cg.genExpr(s.expr)
			if !ok {
				return false
			}
			cg.emit(opMoveRR, uint32(r.reg), uint32(regResult))
			cg.freeReg(r.reg)
		} else {
			cg.emit(opLdNull, uint32(regResult))
		}
		cg.emit(opYield)
		return false

	case stThrow:
		r, ok := cg.genExpr(s.expr)
		if !ok {
			return false
		}
		if r.typeID > 0 && r.typeID != TypeVar && !cg.implementsException(r.typeID) {
			cg.fail(s.tok, ErrThrowNotException, "")
		}
		cg.emit(opThrow, uint32(r.reg))
		cg.freeReg(r.reg)
		return true

	case stBrkStmt:
		cg.emit(opBrk)
		return false

	case stRtchkStmt:
		if s.expr != nil {
			r, ok := cg.genExpr(s.expr)
			if ok {
				t := r.typeID
				if t < 0 {
					t = TypeVar
				}
				cg.emit(opRtchk, uint32(t), uint32(r.reg))
				cg.freeReg(r.reg)
			}
		}
		return false
	}
	return false
}

func (cg *codegen) implementsException(typeID int) bool {
	excID := cg.c.resolveTypeName("exception")
	if excID < 0 {
		return false
	}
	return cg.c.rt.types.isDescendantOf(typeID, excID)
}

func (cg *codegen) genVarDecl(s *stmt) {
	v := s.decl
	top := cg.scopes[len(cg.scopes)-1]
	if _, exists := top.vars[v.name]; exists {
		cg.fail(s.tok, ErrIdentifierAlreadyDefined, v.name)
		return
	}

	useStack := cg.forceStack || v.mode == varModeStack
	if !useStack {
		// prefer a register; fall back to the stack when the file is full
		r := -1
		for reg := kFirstFreeReg; reg < kNumRegisters; reg++ {
			if !cg.regUsed[reg] {
				r = reg
				break
			}
		}
		if r < 0 {
			if v.mode == varModeRegister {
				cg.fail(s.tok, ErrFatalError, "out of registers")
				return
			}
			useStack = true
		} else {
			cg.regUsed[r] = true
			if r > cg.hiReg {
				cg.hiReg = r
			}
			v.storage = storLocalReg
			v.reg = r
			top.regLocals = append(top.regLocals, r)
		}
	}
	if useStack {
		v.storage = storLocalStack
		v.stackPos = cg.locals
	}

	if s.init != nil {
		r, ok := cg.genExpr(s.init)
		if !ok {
			return
		}
		if cg.useRtchk && v.typeID != TypeVar && v.typeID >= 0 {
			cg.emit(opRtchk, uint32(v.typeID), uint32(r.reg))
		}
		cg.copyValue(v.typeID, r.reg)
		if v.storage == storLocalReg {
			cg.emit(opMoveRR, uint32(r.reg), uint32(v.reg))
		} else {
			cg.emit(opPush, uint32(r.reg))
			cg.locals++
		}
		cg.freeReg(r.reg)
		v.init = true
	} else {
		if v.storage == storLocalReg {
			cg.emit(opLdNull, uint32(v.reg))
		} else {
			tmp := cg.allocReg(s.tok)
			cg.emit(opLdNull, uint32(tmp))
			cg.emit(opPush, uint32(tmp))
			cg.locals++
			cg.freeReg(tmp)
		}
	}
	top.vars[v.name] = v
}

func (cg *codegen) genIf(s *stmt) bool {
	cond, ok := cg.genExpr(s.cond)
	if !ok {
		return false
	}
	jfalse := cg.emitBranch(opFbr, cond.reg)
	cg.freeReg(cond.reg)

	thenTerm := cg.genStmt(s.a)
	if s.b == nil {
		cg.patchBranch(jfalse)
		return false
	}
	jend := cg.emitBranch(opBra, 0)
	cg.patchBranch(jfalse)
	elseTerm := cg.genStmt(s.b)
	cg.patchBranch(jend)
	return thenTerm && elseTerm
}

func (cg *codegen) genWhile(s *stmt) {
	top := len(cg.out.code)
	cond, ok := cg.genExpr(s.cond)
	if !ok {
		return
	}
	jexit := cg.emitBranch(opFbr, cond.reg)
	cg.freeReg(cond.reg)

	l := &loopCtx{entryLocals: cg.locals}
	cg.loops = append(cg.loops, l)
	cg.genStmt(s.a)
	cg.loops = cg.loops[:len(cg.loops)-1]

	for _, p := range l.continueSites {
		cg.patchBranchTo(p, top)
	}
	back := cg.emitBranch(opBra, 0)
	cg.patchBranchTo(back, top)
	cg.patchBranch(jexit)
	for _, p := range l.breakSites {
		cg.patchBranch(p)
	}
}

func (cg *codegen) genDoWhile(s *stmt) {
	top := len(cg.out.code)
	l := &loopCtx{entryLocals: cg.locals}
	cg.loops = append(cg.loops, l)
	cg.genStmt(s.a)
	cg.loops = cg.loops[:len(cg.loops)-1]

	condAddr := len(cg.out.code)
	for _, p := range l.continueSites {
		cg.patchBranchTo(p, condAddr)
	}
	cond, ok := cg.genExpr(s.cond)
	if !ok {
		return
	}
	back := cg.emitBranch(opTbr, cond.reg)
	cg.patchBranchTo(back, top)
	cg.freeReg(cond.reg)
	for _, p := range l.breakSites {
		cg.patchBranch(p)
	}
}

func (cg *codegen) genFor(s *stmt) {
	cg.pushScope()
	if s.a != nil {
		cg.genStmt(s.a)
	}
	top := len(cg.out.code)
	var jexit branchPatch
	hasCond := s.cond != nil
	if hasCond {
		cond, ok := cg.genExpr(s.cond)
		if !ok {
			cg.popScope()
			return
		}
		jexit = cg.emitBranch(opFbr, cond.reg)
		cg.freeReg(cond.reg)
	}

	l := &loopCtx{entryLocals: cg.locals}
	cg.loops = append(cg.loops, l)
	cg.genStmt(s.b)
	cg.loops = cg.loops[:len(cg.loops)-1]

	postAddr := len(cg.out.code)
	for _, p := range l.continueSites {
		cg.patchBranchTo(p, postAddr)
	}
	if s.post != nil {
		cg.genStmt(s.post)
	}
	back := cg.emitBranch(opBra, 0)
	cg.patchBranchTo(back, top)
	if hasCond {
		cg.patchBranch(jexit)
	}
	for _, p := range l.breakSites {
		cg.patchBranch(p)
	}
	cg.popScope()
}

// genSwitch lowers a switch into a compare chain. Case values are
// constant expressions; default runs last.
func (cg *codegen) genSwitch(s *stmt) {
	subject, ok := cg.genExpr(s.cond)
	if !ok {
		return
	}
	l := &loopCtx{entryLocals: cg.locals, isSwitch: true}
	cg.loops = append(cg.loops, l)

	var bodyJumps []branchPatch
	var defaultJump *branchPatch
	for i := range s.cases {
		cs := &s.cases[i]
		if cs.value == nil {
			p := cg.emitBranch(opBra, 0)
			defaultJump = &p
			bodyJumps = append(bodyJumps, branchPatch{opAddr: -1})
			continue
		}
		val, vok := cg.genExpr(cs.value)
		if !vok {
			continue
		}
		cmp := cg.allocReg(cs.tok)
		cg.emit(opMoveRR, uint32(subject.reg), uint32(cmp))
		cg.emit(opCseq, uint32(val.reg), uint32(cmp))
		p := cg.emitBranch(opTbr, cmp)
		bodyJumps = append(bodyJumps, p)
		cg.freeReg(val.reg)
		cg.freeReg(cmp)
	}
	missAll := cg.emitBranch(opBra, 0)
	cg.freeReg(subject.reg)

	// bodies in order; fallthrough is sequential
	for i := range s.cases {
		cs := &s.cases[i]
		if cs.value == nil {
			if defaultJump != nil {
				cg.patchBranch(*defaultJump)
				defaultJump = nil
			}
		} else {
			cg.patchBranch(bodyJumps[i])
		}
		cg.pushScope()
		for _, st := range cs.body {
			cg.genStmt(st)
		}
		cg.popScope()
	}
	cg.patchBranch(missAll)
	cg.loops = cg.loops[:len(cg.loops)-1]
	for _, p := range l.breakSites {
		cg.patchBranch(p)
	}
}

func (cg *codegen) genReturn(s *stmt) bool {
	if s.expr != nil {
		if cg.fn.retType < 0 && !cg.fn.isAnon() {
			cg.fail(s.tok, ErrCannotReturnValue, cg.fn.name)
		}
		if v, isIdent := cg.returnedLocalWeak(s.expr); isIdent {
			cg.c.warnAt(s.tok, warnReturnWeakLocal, v.name)
		}
		r, ok := cg.genExpr(s.expr)
		if !ok {
			return true
		}
		cg.emit(opMoveRR, uint32(r.reg), uint32(regResult))
		cg.freeReg(r.reg)
		cg.emitReturnEpilogue(false)
	} else {
		if cg.fn.retType >= 0 && cg.fn.retType != TypeVar {
			cg.fail(s.tok, ErrMustReturnValue, cg.fn.name)
		}
		cg.emitReturnEpilogue(true)
	}
	return true
}

func (cg *codegen) returnedLocalWeak(e *expr) (*varDecl, bool) {
	if e.kind != exIdent {
		return nil, false
	}
	v := cg.lookupLocal(e.name)
	if v != nil && v.isWeak &&
		(v.storage == storLocalReg || v.storage == storLocalStack) {
		return v, true
	}
	return nil, false
}
