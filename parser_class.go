package jewel

// Class, interface and delegate declarations (pass 1).

// classDecl parses
//
//	[native|strict|extern]* class Name ["tag"] [extends B] [hybrid H]
//	    [implements I] ( ';' | '{' members '}' )
//	[native]* interface Name ["tag"] [extends I] '{' decls '}'
func (p *parser) classDecl() bool {
	ts := p.ts()

	var isNative, isStrict, isExtern bool
	for {
		switch ts.peek().Kind {
		case tkNative:
			ts.next()
			isNative = true
			continue
		case tkStrict:
			ts.next()
			isStrict = true
			continue
		case tkExtern:
			ts.next()
			isExtern = true
			continue
		}
		break
	}

	kw := ts.next()
	if kw.Kind != tkClass && kw.Kind != tkInterface {
		p.fail(kw, ErrUnexpectedToken, kw.Text)
		return false
	}
	isInterface := kw.Kind == tkInterface

	nameTok, ok := p.expect(tkIdentifier)
	if !ok {
		return false
	}

	cl := p.findOrCreateClass(nameTok, isInterface, isNative)
	if cl == nil {
		return false
	}
	cl.isStrict = cl.isStrict || isStrict
	cl.isExtern = cl.isExtern || isExtern
	cl.isNativeIface = cl.isNativeIface || (isNative && isInterface)

	if ts.peek().Kind == tkStringLiteral {
		cl.tag = ts.next().Text
	}

	for {
		switch ts.peek().Kind {
		case tkExtends, tkInherits:
			ts.next()
			baseTok, ok := p.expect(tkIdentifier)
			if !ok {
				return false
			}
			baseID := p.c.resolveTypeName(baseTok.Text)
			if baseID < 0 {
				p.fail(baseTok, ErrUndefinedIdentifier, baseTok.Text)
				return false
			}
			base := p.c.classFor(baseID)
			if isInterface {
				if base == nil || base.family != FamilyInterface {
					p.fail(baseTok, ErrTypeNotInterface, baseTok.Text)
					return false
				}
				cl.baseID = baseID
			} else {
				if base == nil || base.family != FamilyClass {
					p.fail(baseTok, ErrTypeNotClass, baseTok.Text)
					return false
				}
				cl.hybridID = baseID
			}
			continue
		case tkHybrid:
			ts.next()
			baseTok, ok := p.expect(tkIdentifier)
			if !ok {
				return false
			}
			baseID := p.c.resolveTypeName(baseTok.Text)
			base := p.c.classFor(baseID)
			if base == nil || base.family != FamilyClass {
				p.fail(baseTok, ErrTypeNotClass, baseTok.Text)
				return false
			}
			cl.hybridID = baseID
			continue
		case tkImplements:
			ts.next()
			ifaceTok, ok := p.expect(tkIdentifier)
			if !ok {
				return false
			}
			ifaceID := p.c.resolveTypeName(ifaceTok.Text)
			iface := p.c.classFor(ifaceID)
			if iface == nil || iface.family != FamilyInterface {
				p.fail(ifaceTok, ErrTypeNotInterface, ifaceTok.Text)
				return false
			}
			if iface.isNativeIface && !cl.isNativeBinding {
				p.fail(ifaceTok, ErrNativeDeclFailed, "interface is pure native")
			}
			cl.baseID = ifaceID
			continue
		}
		break
	}

	// a trailing ';' forwards the class; a body defines it
	switch t := ts.next(); t.Kind {
	case tkSemicolon:
		return true
	case tkLeftBrace:
		if cl.hasBody {
			p.fail(nameTok, ErrIdentifierAlreadyDefined, cl.name)
			p.skipClassBody()
			return false
		}
		cl.hasBody = true
	default:
		p.fail(t, ErrUnexpectedToken, t.Text)
		return false
	}

	prevClass := p.curClass
	p.curClass = cl
	for ts.peek().Kind != tkRightBrace && ts.peek().Kind != tkEOF {
		if !p.memberDecl(cl, isInterface) {
			p.resync()
		}
	}
	p.curClass = prevClass
	_, ok = p.expect(tkRightBrace)
	if !ok {
		return false
	}
	p.finishClass(cl)
	return true
}

func (p *parser) skipClassBody() {
	depth := 1
	ts := p.ts()
	for depth > 0 {
		switch ts.next().Kind {
		case tkLeftBrace:
			depth++
		case tkRightBrace:
			depth--
		case tkEOF:
			return
		}
	}
}

// findOrCreateClass registers the type on first sight. Duplicate
// forwarding is legal; mixing class and interface is not.
func (p *parser) findOrCreateClass(nameTok Token, isInterface, isNative bool) *classDecl {
	name := nameTok.Text
	if id := p.c.resolveTypeName(name); id >= 0 {
		cl := p.c.classFor(id)
		if cl == nil {
			if id == p.nativeTypeID && id != 0 {
				// the type was pre-registered by RegisterNativeType;
				// its declaration string defines the class now
				cl = &classDecl{
					name:            name,
					typeID:          id,
					family:          FamilyClass,
					isNativeBinding: true,
				}
				p.c.classes = append(p.c.classes, cl)
				p.c.classByID[id] = cl
				return cl
			}
			p.fail(nameTok, ErrIdentifierAlreadyDefined, name)
			return nil
		}
		wantFamily := FamilyClass
		if isInterface {
			wantFamily = FamilyInterface
		}
		if cl.family != wantFamily {
			p.fail(nameTok, ErrMixingClassAndInterface, name)
			return nil
		}
		return cl
	}
	family := FamilyClass
	if isInterface {
		family = FamilyInterface
	}
	ti := p.c.rt.types.add(p.c.rt.cstr, name, family)
	if p.nativeTypeID != 0 && ti.TypeID == p.nativeTypeID {
		// the declaration string defines the registered native type
		isNative = true
	}
	cl := &classDecl{
		name:            name,
		typeID:          ti.TypeID,
		family:          family,
		isNativeBinding: isNative || p.nativeTypeID == ti.TypeID,
	}
	p.c.classes = append(p.c.classes, cl)
	p.c.classByID[cl.typeID] = cl
	return cl
}

// memberDecl parses one class member.
func (p *parser) memberDecl(cl *classDecl, isInterface bool) bool {
	ts := p.ts()

	var isPrivate, isVirtual, isExplicit, isStrict bool
	for {
		switch ts.peek().Kind {
		case tkPrivate:
			ts.next()
			isPrivate = true
			continue
		case tkVirtual:
			ts.next()
			isVirtual = true
			continue
		case tkExplicit:
			ts.next()
			isExplicit = true
			continue
		case tkStrict:
			ts.next()
			isStrict = true
			continue
		}
		break
	}

	switch t := ts.peek(); t.Kind {
	case tkSemicolon:
		ts.next()
		return true

	case tkAlias:
		ts.next()
		nameTok, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		cl.aliases = append(cl.aliases, nameTok.Text)
		if p.c.resolveTypeName(nameTok.Text) < 0 {
			p.c.aliases[nameTok.Text] = cl.typeID
		}
		_, ok = p.expect(tkSemicolon)
		return ok

	case tkMethod:
		ts.next()
		return p.methodDecl(cl, methodPlain, isPrivate, isVirtual, isExplicit, isStrict, isInterface)

	case tkConvertor:
		ts.next()
		return p.methodDecl(cl, methodConvertor, isPrivate, isVirtual, isExplicit, isStrict, isInterface)

	case tkAccessor:
		ts.next()
		return p.methodDecl(cl, methodAccessor, isPrivate, isVirtual, isExplicit, isStrict, isInterface)

	case tkCofunction:
		ts.next()
		return p.methodDecl(cl, methodCofunc, isPrivate, isVirtual, isExplicit, isStrict, isInterface)

	case tkFunction:
		ts.next()
		if !cl.isNativeBinding {
			// script classes declare members with 'method'
			p.fail(t, ErrConstructorIsFunction, "")
			return false
		}
		return p.methodDecl(cl, methodStatic, isPrivate, isVirtual, isExplicit, isStrict, isInterface)

	default:
		if isExplicit || isVirtual {
			p.fail(t, ErrExplicitWithMethod, "")
			return false
		}
		return p.memberVarDecl(cl, isPrivate)
	}
}

type methodKind int

const (
	methodPlain methodKind = iota
	methodConvertor
	methodAccessor
	methodCofunc
	methodStatic
)

// methodDecl parses a method, constructor, convertor, accessor,
// cofunction or (native only) static function declaration.
func (p *parser) methodDecl(cl *classDecl, kind methodKind, isPrivate, isVirtual, isExplicit, isStrict, isInterface bool) bool {
	ts := p.ts()

	retType := -1
	var nameTok Token
	isCtor := false

	switch kind {
	case methodConvertor:
		// `convertor type ()` converts to the named type
		spec, ok := p.parseTypeSpec()
		if !ok {
			return false
		}
		if spec.typeID < 0 {
			p.fail(spec.tok, ErrConvertorIsVoid, "")
			return false
		}
		retType = spec.typeID
		nameTok = spec.tok
		nameTok.Text = "convertor " + p.c.rt.TypeName(spec.typeID)
	default:
		if p.peekReturnType() {
			spec, ok := p.parseTypeSpec()
			if !ok {
				return false
			}
			retType = spec.typeID
		}
		var ok bool
		nameTok, ok = p.expect(tkIdentifier)
		if !ok {
			return false
		}
		if nameTok.Text == cl.name {
			isCtor = true
			if kind != methodPlain {
				p.fail(nameTok, ErrNotAConstructor, nameTok.Text)
				return false
			}
			if retType != -1 {
				p.fail(nameTok, ErrConstructorNotVoid, nameTok.Text)
				return false
			}
		}
	}

	params, ok := p.parseParams()
	if !ok {
		return false
	}

	if isExplicit && !isCtor && kind != methodConvertor {
		p.fail(nameTok, ErrExplicitWithMethod, nameTok.Text)
		return false
	}
	if kind == methodConvertor && len(params) != 0 {
		p.fail(nameTok, ErrConvertorHasArguments, nameTok.Text)
		return false
	}
	if kind == methodAccessor {
		if !p.checkAccessor(cl, nameTok, retType, params) {
			return false
		}
	}

	f := &funcDecl{
		name:      nameTok.Text,
		class:     cl,
		typeID:    cl.typeID,
		retType:   retType,
		params:    params,
		memberIdx: -1,
	}
	if kind != methodStatic {
		f.flags |= fiMethod
	}
	if isCtor {
		f.flags |= fiCtor
	}
	if kind == methodConvertor {
		f.flags |= fiConvertor
	}
	if kind == methodAccessor {
		f.flags |= fiAccessor
	}
	if kind == methodCofunc {
		f.flags |= fiCofunc
	}
	if isExplicit {
		f.flags |= fiExplicit
	}
	if isStrict {
		f.flags |= fiStrict
	}
	if isVirtual || isInterface {
		f.flags |= fiVirtual
	}
	_ = isPrivate

	merged, isNew := p.finishFuncDecl(f, cl.funcs, nameTok)
	if merged == nil {
		return false
	}
	if isNew {
		if isInterface && merged.hasBody {
			p.fail(nameTok, ErrMethodOutsideClass, "interface methods have no body")
			return false
		}
		p.c.registerFunc(merged)
		cl.funcs = append(cl.funcs, merged)
	}
	return true
}

// checkAccessor enforces accessor shape: a reader takes no arguments
// and returns the member's type; a writer takes exactly one argument
// of the member's type.
func (p *parser) checkAccessor(cl *classDecl, nameTok Token, retType int, params []paramDecl) bool {
	v := cl.findVar(nameTok.Text)
	switch {
	case len(params) == 0 && retType >= 0:
		if v != nil && v.typeID != retType && v.typeID != TypeVar {
			p.fail(nameTok, ErrFunctionNotAnAccessor, nameTok.Text)
			return false
		}
	case len(params) == 1 && retType < 0:
		if v != nil && v.typeID != params[0].typeID && v.typeID != TypeVar && !params[0].isVar {
			p.fail(nameTok, ErrFunctionNotAnAccessor, nameTok.Text)
			return false
		}
	default:
		p.fail(nameTok, ErrFunctionNotAnAccessor, nameTok.Text)
		return false
	}
	return true
}

// memberVarDecl registers member variable slots.
func (p *parser) memberVarDecl(cl *classDecl, isPrivate bool) bool {
	spec, ok := p.parseTypeSpec()
	if !ok {
		return false
	}
	if cl.isNativeBinding {
		p.fail(spec.tok, ErrNativeDeclFailed, "variable declaration not allowed for native type")
		return false
	}
	ts := p.ts()
	for {
		nameTok, ok := p.expect(tkIdentifier)
		if !ok {
			return false
		}
		if cl.findVar(nameTok.Text) != nil {
			p.fail(nameTok, ErrIdentifierAlreadyDefined, nameTok.Text)
			return false
		}
		v := &varDecl{
			name:    nameTok.Text,
			typeID:  spec.typeID,
			tok:     nameTok,
			isConst: spec.isConst,
			isWeak:  spec.isWeak,
			storage: storMember,
			slot:    len(cl.vars),
		}
		_ = isPrivate
		cl.vars = append(cl.vars, v)

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

// finishClass folds inherited layout into the class and updates the
// runtime type entry.
func (p *parser) finishClass(cl *classDecl) {
	ti := p.c.rt.types.get(cl.typeID)
	ti.BaseID = cl.baseID
	ti.HybridID = cl.hybridID

	// a hybrid inherits the base's member slots below its own
	if cl.hybridID != 0 {
		base := p.c.classFor(cl.hybridID)
		if base != nil {
			offset := len(base.vars)
			for _, v := range cl.vars {
				v.slot += offset
			}
			inherited := make([]*varDecl, 0, offset+len(cl.vars))
			for _, bv := range base.vars {
				nv := *bv
				inherited = append(inherited, &nv)
			}
			cl.vars = append(inherited, cl.vars...)
		}
	}
	ti.InstanceSize = len(cl.vars)
	ti.WeakSlots = nil
	for _, v := range cl.vars {
		if v.isWeak {
			ti.WeakSlots = append(ti.WeakSlots, v.slot)
		}
	}

	// v-table slots: interface methods take slots in declaration
	// order; implementing classes align overrides with the interface
	// slots and append their remaining virtual methods.
	if cl.family == FamilyInterface {
		for i, f := range cl.funcs {
			f.memberIdx = i
			p.c.rt.funcs[f.fnIdx].MemberIdx = i
		}
		return
	}
	next := 0
	if cl.baseID != 0 {
		if iface := p.c.classFor(cl.baseID); iface != nil {
			next = len(iface.funcs)
			for _, f := range cl.funcs {
				for _, im := range iface.funcs {
					if im.name == f.name && signatureEquals(im.params, f.params) {
						f.memberIdx = im.memberIdx
						f.flags |= fiVirtual
						break
					}
				}
			}
		}
	}
	for _, f := range cl.funcs {
		if f.memberIdx < 0 && f.flags&fiVirtual != 0 {
			f.memberIdx = next
			next++
		}
		p.c.rt.funcs[f.fnIdx].MemberIdx = f.memberIdx
		p.c.rt.funcs[f.fnIdx].Flags = f.flags
	}
}

// delegateDecl parses `delegate retType Name (params) ;` and
// registers a delegate type carrying the signature.
func (p *parser) delegateDecl() bool {
	ts := p.ts()
	ts.next() // delegate

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
	if p.c.resolveTypeName(nameTok.Text) >= 0 {
		p.fail(nameTok, ErrIdentifierAlreadyDefined, nameTok.Text)
		return false
	}
	params, ok := p.parseParams()
	if !ok {
		return false
	}
	if _, ok = p.expect(tkSemicolon); !ok {
		return false
	}

	ti := p.c.rt.types.add(p.c.rt.cstr, nameTok.Text, FamilyDelegate)
	cl := &classDecl{
		name:   nameTok.Text,
		typeID: ti.TypeID,
		family: FamilyDelegate,
		signature: &funcDecl{
			name:    nameTok.Text,
			typeID:  ti.TypeID,
			retType: retType,
			params:  params,
		},
	}
	p.c.classes = append(p.c.classes, cl)
	p.c.classByID[cl.typeID] = cl
	return true
}
