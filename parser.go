package jewel

// parser drives both passes over one compilation unit. Pass 1
// (precompile) registers every class, interface, delegate, alias,
// member variable and function signature, so pass 2 never needs to
// defer resolution. Pass 2 walks function bodies, builds statement
// and expression trees and hands them to the code generator.
type parser struct {
	c    *Compiler
	unit *compileUnit

	// set when compiling a native type declaration string
	nativeTypeID int

	curClass *classDecl
	curFunc  *funcDecl

	// global declarations whose initializers compile in pass 2
	pendingGlobals []int // token positions
	// function bodies found in pass 1, compiled in pass 2
	bodies []*funcDecl
}

func (p *parser) ts() *tokenStream { return p.unit.stream }

func (p *parser) fail(tok Token, code ErrorCode, detail string) {
	p.c.errorAt(tok, code, detail)
}

// expect consumes one token of the given kind or reports an error.
func (p *parser) expect(kind tokenKind) (Token, bool) {
	t := p.ts().next()
	if t.Kind != kind {
		code := ErrUnexpectedToken
		if kind == tkSemicolon {
			code = ErrMissingSemicolon
		}
		if t.Kind == tkEOF {
			code = ErrEndOfFile
		}
		p.fail(t, code, t.Text)
		return t, false
	}
	return t, true
}

// resync skips to the next statement boundary so one bad statement
// yields one error, not a cascade.
func (p *parser) resync() {
	depth := 0
	for {
		t := p.ts().next()
		switch t.Kind {
		case tkEOF:
			return
		case tkLeftBrace:
			depth++
		case tkRightBrace:
			depth--
			if depth <= 0 {
				return
			}
		case tkSemicolon:
			if depth == 0 {
				return
			}
		}
	}
}

// skipBalanced consumes a brace-balanced region starting at '{'.
func (p *parser) skipBalanced() {
	depth := 0
	for {
		t := p.ts().next()
		switch t.Kind {
		case tkEOF:
			p.fail(t, ErrEndOfFile, "")
			return
		case tkLeftBrace:
			depth++
		case tkRightBrace:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// ---- pass 1 ----

func (p *parser) precompile() {
	ts := p.ts()
	for {
		t := ts.peek()
		if t.Kind == tkEOF {
			return
		}
		if !p.topLevelDecl() {
			p.resync()
		}
	}
}

// topLevelDecl handles one top-level construct. Returns false when it
// could not make progress.
func (p *parser) topLevelDecl() bool {
	ts := p.ts()
	t := ts.peek()
	switch t.Kind {
	case tkSemicolon:
		ts.next()
		return true

	case tkOption:
		ts.next()
		lit, ok := p.expect(tkStringLiteral)
		if !ok {
			return false
		}
		if err := p.c.rt.opts.ParseOptionString(lit.Text, p.c.rt.initialized); err != nil {
			if ce, isCE := err.(CompileError); isCE {
				p.fail(lit, ce.Code, ce.Detail)
			} else {
				p.fail(lit, ErrInvalidOption, lit.Text)
			}
		}
		_, ok = p.expect(tkSemicolon)
		return ok

	case tkImport:
		ts.next()
		name, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		if _, ok = p.expect(tkSemicolon); !ok {
			return false
		}
		_ = p.c.resolveImport(name)
		return true

	case tkUsing:
		ts.next()
		if _, ok := p.expect(tkIdentifier); !ok {
			return false
		}
		for ts.peek().Kind == tkScope {
			ts.next()
			if _, ok := p.expect(tkIdentifier); !ok {
				return false
			}
		}
		_, ok := p.expect(tkSemicolon)
		return ok

	case tkNamespace:
		ts.next()
		if _, ok := p.expect(tkIdentifier); !ok {
			return false
		}
		if _, ok := p.expect(tkLeftBrace); !ok {
			return false
		}
		for ts.peek().Kind != tkRightBrace && ts.peek().Kind != tkEOF {
			if !p.topLevelDecl() {
				p.resync()
			}
		}
		_, ok := p.expect(tkRightBrace)
		return ok

	case tkAlias:
		ts.next()
		typeTok, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		id := p.c.resolveTypeName(typeTok.Text)
		if id < 0 {
			p.fail(typeTok, ErrUndefinedIdentifier, typeTok.Text)
			return false
		}
		nameTok, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		if p.c.resolveTypeName(nameTok.Text) >= 0 {
			p.fail(nameTok, ErrIdentifierAlreadyDefined, nameTok.Text)
			return false
		}
		p.c.aliases[nameTok.Text] = id
		_, ok = p.expect(tkSemicolon)
		return ok

	case tkNative, tkStrict, tkExtern, tkClass, tkInterface:
		return p.classDecl()

	case tkDelegate:
		return p.delegateDecl()

	case tkFunction, tkCofunction:
		return p.globalFuncDecl()

	case tkMethod, tkConvertor, tkAccessor:
		ts.next()
		p.fail(t, ErrMethodOutsideClass, "")
		return false

	default:
		// a type name opens a global variable declaration
		if p.peekTypeSpec() {
			pos := ts.tell()
			if p.globalVarDecl() {
				p.pendingGlobals = append(p.pendingGlobals, pos)
				return true
			}
			return false
		}
		p.fail(ts.next(), ErrUnexpectedToken, t.Text)
		return false
	}
}

// peekTypeSpec reports whether the stream is positioned at a type
// specifier (modifiers followed by a known type name or 'var').
func (p *parser) peekTypeSpec() bool {
	ts := p.ts()
	save := ts.tell()
	defer ts.seek(save)
	for {
		t := ts.next()
		switch t.Kind {
		case tkConst, tkWeak:
			continue
		case tkVar, tkArray:
			return true
		case tkIdentifier:
			return p.c.resolveTypeName(t.Text) >= 0
		default:
			return false
		}
	}
}

// typeSpec is a parsed type with its modifiers.
type typeSpec struct {
	typeID  int
	isConst bool
	isWeak  bool
	isVar   bool
	tok     Token
}

// parseTypeSpec consumes `const? weak? name ([])?`.
func (p *parser) parseTypeSpec() (typeSpec, bool) {
	ts := p.ts()
	var spec typeSpec
	for {
		t := ts.next()
		switch t.Kind {
		case tkConst:
			spec.isConst = true
			continue
		case tkWeak:
			spec.isWeak = true
			continue
		case tkVar:
			spec.typeID = TypeVar
			spec.isVar = true
			spec.tok = t
		case tkArray:
			spec.typeID = TypeArray
			spec.tok = t
		case tkIdentifier:
			id := p.c.resolveTypeName(t.Text)
			if id < 0 {
				p.fail(t, ErrUndefinedIdentifier, t.Text)
				return spec, false
			}
			spec.typeID = id
			spec.tok = t
		default:
			p.fail(t, ErrUnexpectedToken, t.Text)
			return spec, false
		}
		break
	}
	// array-of-T collapses to the array type
	if ts.peek().Kind == tkLeftBracket && ts.peekAt(1).Kind == tkRightBracket {
		ts.next()
		ts.next()
		if spec.typeID == TypeArray {
			p.fail(spec.tok, ErrNotAnArray, "element type of an array cannot be 'array'")
			return spec, false
		}
		spec.typeID = TypeArray
	}
	if spec.isWeak && (spec.typeID == TypeInt || spec.typeID == TypeFloat) {
		p.fail(spec.tok, ErrWeakWithoutRef, "")
	}
	return spec, true
}

// globalVarDecl registers global variable slots; initializers are
// compiled in pass 2.
func (p *parser) globalVarDecl() bool {
	spec, ok := p.parseTypeSpec()
	if !ok {
		return false
	}
	ts := p.ts()
	for {
		nameTok, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		if p.findGlobal(nameTok.Text) != nil {
			p.fail(nameTok, ErrIdentifierAlreadyDefined, nameTok.Text)
			return false
		}
		gi := p.c.rt.types.get(TypeGlobal)
		v := &varDecl{
			name:    nameTok.Text,
			typeID:  spec.typeID,
			tok:     nameTok,
			isConst: spec.isConst,
			isWeak:  spec.isWeak,
			storage: storGlobal,
			slot:    gi.InstanceSize,
		}
		gi.InstanceSize++
		if v.isWeak {
			gi.WeakSlots = append(gi.WeakSlots, v.slot)
		}
		p.c.globals = append(p.c.globals, v)

		// skip an initializer; pass 2 revisits it
		if ts.peek().Kind == tkAssign {
			ts.next()
			p.skipExpr()
		} else if spec.isConst {
			p.fail(nameTok, ErrVarNotInitialized, "constant requires explicit initialization")
		}
		switch ts.peek().Kind {
		case tkComma:
			ts.next()
			continue
		case tkSemicolon:
			ts.next()
			return true
		default:
			p.fail(ts.next(), ErrMissingSemicolon, "")
			return false
		}
	}
}

// skipExpr consumes tokens up to (not including) the next ',' or ';'
// at nesting depth zero.
func (p *parser) skipExpr() {
	ts := p.ts()
	depth := 0
	for {
		t := ts.peek()
		switch t.Kind {
		case tkEOF:
			return
		case tkLeftParen, tkLeftBracket, tkLeftBrace:
			depth++
		case tkRightParen, tkRightBracket, tkRightBrace:
			if depth == 0 {
				return
			}
			depth--
		case tkComma, tkSemicolon:
			if depth == 0 {
				return
			}
		}
		ts.next()
	}
}

func (p *parser) findGlobal(name string) *varDecl {
	for _, v := range p.c.globals {
		if v.name == name {
			return v
		}
	}
	return nil
}

// ---- function signatures ----

// parseParams consumes `( param, ... )`.
func (p *parser) parseParams() ([]paramDecl, bool) {
	ts := p.ts()
	if _, ok := p.expect(tkLeftParen); !ok {
		return nil, false
	}
	var params []paramDecl
	if ts.peek().Kind == tkRightParen {
		ts.next()
		return params, true
	}
	for {
		spec, ok := p.parseTypeSpec()
		if !ok {
			return nil, false
		}
		prm := paramDecl{
			typeID:  spec.typeID,
			isConst: spec.isConst,
			isWeak:  spec.isWeak,
			isVar:   spec.isVar,
		}
		// parameter names are optional in pure declarations
		if ts.peek().Kind == tkIdentifier {
			prm.name = ts.next().Text
		}
		params = append(params, prm)
		switch t := ts.next(); t.Kind {
		case tkComma:
			continue
		case tkRightParen:
			return params, true
		default:
			p.fail(t, ErrIncompleteArgList, "")
			return nil, false
		}
	}
}

// signatureEquals implements overload identity: arity plus exact
// parameter type identity. Typeless 'var' arguments form their own
// bucket. Modifier differences are not a new overload; they are
// checked separately.
func signatureEquals(a, b []paramDecl) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].isVar != b[i].isVar {
			return false
		}
		if !a[i].isVar && a[i].typeID != b[i].typeID {
			return false
		}
	}
	return true
}

// checkRedecl verifies modifier consistency between a previous
// declaration and a new one with an identical signature.
func (p *parser) checkRedecl(tok Token, prev, next *funcDecl) bool {
	if prev.retType != next.retType || prev.flags != next.flags {
		p.fail(tok, ErrFunctionRedefined, next.name)
		return false
	}
	for i := range prev.params {
		a, b := prev.params[i], next.params[i]
		switch {
		case a.isVar != b.isVar:
			p.fail(tok, ErrTypelessArgConflict, next.name)
			return false
		case a.isConst != b.isConst:
			p.fail(tok, ErrConstArgConflict, next.name)
			return false
		case a.isWeak != b.isWeak:
			p.fail(tok, ErrWRefArgConflict, next.name)
			return false
		case a.isRef != b.isRef:
			p.fail(tok, ErrRefArgConflict, next.name)
			return false
		}
	}
	return true
}

// finishFuncDecl handles the body-or-semicolon tail of any function
// declaration and merges redeclarations. The bool result reports
// whether f is a new declaration (not a merge).
func (p *parser) finishFuncDecl(f *funcDecl, list []*funcDecl, nameTok Token) (*funcDecl, bool) {
	ts := p.ts()

	var prev *funcDecl
	for _, g := range list {
		if g.name == f.name && signatureEquals(g.params, f.params) {
			prev = g
			break
		}
	}
	if prev != nil {
		if !p.checkRedecl(nameTok, prev, f) {
			return nil, false
		}
		f = prev
	}

	switch t := ts.peek(); t.Kind {
	case tkLeftBrace:
		if f.hasBody {
			p.fail(nameTok, ErrFunctionAlreadyDefined, f.name)
			p.skipBalanced()
			return nil, false
		}
		f.hasBody = true
		f.bodyUnit = p.unit
		f.bodyPos = ts.tell()
		p.skipBalanced()
		p.bodies = append(p.bodies, f)
	case tkSemicolon:
		ts.next()
	default:
		p.fail(t, ErrUnexpectedToken, t.Text)
		return nil, false
	}
	return f, prev == nil
}

// globalFuncDecl registers a global function or cofunction.
func (p *parser) globalFuncDecl() bool {
	ts := p.ts()
	kw := ts.next() // function | cofunction

	retType := -1
	if p.peekReturnType() {
		spec, ok := p.parseTypeSpec()
		if !ok {
			return false
		}
		retType = spec.typeID
	}
	nameTok, ok := p.expect(tkIdentifier)
	if !ok {
		return false
	}
	params, ok := p.parseParams()
	if !ok {
		return false
	}
	f := &funcDecl{
		name:      nameTok.Text,
		typeID:    TypeGlobal,
		retType:   retType,
		params:    params,
		memberIdx: -1,
	}
	if kw.Kind == tkCofunction {
		f.flags |= fiCofunc
	}
	merged, isNew := p.finishFuncDecl(f, p.c.globalFuncs, nameTok)
	if merged == nil {
		return false
	}
	if isNew {
		p.c.registerFunc(merged)
		p.c.globalFuncs = append(p.c.globalFuncs, merged)
	}
	return true
}

// peekReturnType distinguishes `function int name(...)` from
// `function name(...)`: a type spec followed by identifier-then-paren
// is a return type.
func (p *parser) peekReturnType() bool {
	ts := p.ts()
	if !p.peekTypeSpec() {
		return false
	}
	// `name (` with no further identifier means the "type" was the
	// function name itself
	if ts.peek().Kind == tkIdentifier && ts.peekAt(1).Kind == tkLeftParen {
		return false
	}
	return true
}

// ---- pass 2 driver ----

func (p *parser) compileBodies() {
	// global initializers first, in declaration order
	for _, pos := range p.pendingGlobals {
		p.ts().seek(pos)
		p.compileGlobalInit()
	}
	for _, f := range p.bodies {
		p.compileFunctionBody(f)
	}
}

// compileGlobalInit re-parses one global declaration statement and
// builds initializer statements for the bootstrap function.
func (p *parser) compileGlobalInit() {
	if _, ok := p.parseTypeSpec(); !ok {
		return
	}
	ts := p.ts()
	for {
		nameTok, ok := p.expect(tkIdentifier)
		if !ok {
			return
		}
		v := p.findGlobal(nameTok.Text)
		if v == nil {
			return
		}
		if ts.peek().Kind == tkAssign {
			ts.next()
			bp := &bodyParser{parser: p}
			e := bp.parseExpr()
			if e != nil {
				v.init = true
				p.c.initStmts = append(p.c.initStmts, &stmt{
					kind: stExpr,
					tok:  nameTok,
					expr: &expr{
						kind: exAssign,
						tok:  nameTok,
						op:   tkAssign,
						a:    &expr{kind: exIdent, tok: nameTok, name: nameTok.Text},
						b:    e,
					},
				})
			}
		}
		switch ts.peek().Kind {
		case tkComma:
			ts.next()
			continue
		default:
			ts.next() // ';'
			return
		}
	}
}

// compileFunctionBody parses one stored body and generates its code.
func (p *parser) compileFunctionBody(f *funcDecl) {
	p.ts().seek(f.bodyPos)
	p.curFunc = f
	p.curClass = f.class
	bp := &bodyParser{parser: p, fn: f}
	body := bp.parseBlock()
	p.curFunc = nil
	p.curClass = nil
	if body == nil {
		return
	}
	cg := newCodegen(p.c, f)
	cg.generate(body)
}
