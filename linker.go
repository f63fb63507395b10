package jewel

// The link pass runs after all compilation units are in and before
// execution: it concatenates per-function buffers into the code
// segment, resolves the literal pools into the data segment, builds
// v-tables, rewrites `calls` into `jsr` and sizes the global object.

// Link resolves the compiled program. It may be called again after
// further compilation while the runtime is not initialized.
func (rt *Runtime) Link() error {
	if rt.initialized {
		return errRuntimeLocked
	}
	if rt.compiler == nil {
		return errNoCompiler
	}
	return rt.compiler.link()
}

func (c *Compiler) link() error {
	before := len(c.errors)

	c.checkStrictAndInterfaces()
	c.synthesizeBootstrap()

	// 1. assign code addresses by concatenating per-function buffers
	c.rt.code = c.rt.code[:0]
	for _, f := range c.allFuncs {
		fi := &c.rt.funcs[f.fnIdx]
		fi.Args = len(f.params)
		fi.Flags = f.flags
		fi.MemberIdx = f.memberIdx
		if f.code == nil || len(f.code.code) == 0 {
			fi.CodeAddr = -1
			fi.CodeSize = 0
			continue
		}
		fi.CodeAddr = len(c.rt.code)
		fi.CodeSize = len(f.code.code)
		c.rt.code = append(c.rt.code, f.code.code...)

		// resolve the function's literal pool into the data segment
		for _, le := range f.code.literals {
			var dataIdx int
			switch le.kind {
			case litInt:
				dataIdx = c.rt.data.addInt(le.i)
			case litFloat:
				dataIdx = c.rt.data.addFloat(le.f)
			case litString:
				dataIdx = c.rt.data.addString(c.rt.cstr, le.s)
			}
			for _, site := range le.sites {
				c.rt.code[fi.CodeAddr+site] = uint32(dataIdx)
			}
		}
	}

	// 2. build v-tables
	c.buildVtables()

	// 3. rewrite calls -> jsr
	c.rewriteCalls()

	// 4. size the global object; a live global resizes in place
	gi := c.rt.types.get(TypeGlobal)
	gi.InstanceSize = len(c.globals)
	if c.rt.root != nil {
		g := c.rt.root.registers[regGlobal]
		if g != nil && g.Obj != nil {
			for len(g.Obj.Slots) < gi.InstanceSize {
				g.Obj.Slots = append(g.Obj.Slots, c.rt.handles.null)
			}
		}
	}

	// 5. link stats and pending warnings
	if c.rt.opts.GetBool("verbose") {
		c.log.Infof("link: %d code words, %d functions, %d data handles, %d cstr bytes, global size %d",
			len(c.rt.code), len(c.rt.funcs), c.rt.data.used(), c.rt.cstr.used(), gi.InstanceSize)
	}
	for _, e := range c.errors[before:] {
		if e.Code.IsWarning() {
			c.log.Warnf("%s", e.Error())
		}
	}
	return c.firstHardError(before)
}

// checkStrictAndInterfaces reports strict classes with missing bodies
// and classes that do not complete their interface.
func (c *Compiler) checkStrictAndInterfaces() {
	for _, cl := range c.classes {
		if cl.family != FamilyClass {
			continue
		}
		if cl.isStrict {
			for _, f := range cl.funcs {
				if !f.hasBody && !cl.isNativeBinding {
					c.errorAt(f.bodyTok(), ErrStrictRequiresBody, cl.name+"::"+f.name)
				}
			}
		}
		if cl.baseID != 0 && !cl.isExtern {
			iface := c.classFor(cl.baseID)
			if iface == nil {
				continue
			}
			for _, im := range iface.funcs {
				found := false
				for _, f := range cl.funcs {
					if f.name == im.name && signatureEquals(f.params, im.params) {
						found = true
						break
					}
				}
				if !found {
					c.errorAt(Token{}, ErrInterfaceNotComplete, cl.name+"::"+im.name)
				}
			}
		}
	}
}

// synthesizeBootstrap compiles the collected global initializer
// statements into the __init function executed once by Run.
func (c *Compiler) synthesizeBootstrap() {
	var boot *funcDecl
	for _, f := range c.globalFuncs {
		if f.name == bootstrapName {
			boot = f
			break
		}
	}
	if boot == nil {
		boot = &funcDecl{
			name:      bootstrapName,
			typeID:    TypeGlobal,
			retType:   -1,
			memberIdx: -1,
			flags:     fiAnonymous,
		}
		c.registerFunc(boot)
		c.globalFuncs = append(c.globalFuncs, boot)
	}
	cg := newCodegen(c, boot)
	cg.generate(&stmt{kind: stBlock, stmts: c.initStmts})
}

// buildVtables fills each class's v-table with function segment
// indexes and records the special-method indexes.
func (c *Compiler) buildVtables() {
	for _, cl := range c.classes {
		ti := c.rt.types.get(cl.typeID)
		if ti == nil {
			continue
		}
		size := 0
		for _, f := range cl.funcs {
			if f.memberIdx >= size {
				size = f.memberIdx + 1
			}
		}
		// interface slots not overridden still occupy the table
		if iface := c.classFor(cl.baseID); iface != nil && len(iface.funcs) > size {
			size = len(iface.funcs)
		}
		vtab := make([]int, size)
		for i := range vtab {
			vtab[i] = -1
		}
		if iface := c.classFor(cl.baseID); iface != nil {
			for _, im := range iface.funcs {
				if im.memberIdx >= 0 && im.memberIdx < size {
					vtab[im.memberIdx] = im.fnIdx
				}
			}
		}
		for _, f := range cl.funcs {
			if f.memberIdx >= 0 {
				vtab[f.memberIdx] = f.fnIdx
			}
		}
		ti.Vtable = vtab

		mi := noMethodInfo()
		for _, f := range cl.funcs {
			switch {
			case f.isCtor() && len(f.params) == 0 && mi.Ctor < 0:
				mi.Ctor = f.fnIdx
			case f.isCtor() && len(f.params) == 1 && f.params[0].typeID == cl.typeID:
				mi.Cctor = f.fnIdx
			case f.name == "destructor" && len(f.params) == 0:
				mi.Dtor = f.fnIdx
			case f.isConvertor() && f.retType == TypeString:
				mi.ToStr = f.fnIdx
			}
		}
		ti.Methods = mi
	}
}

// rewriteCalls walks the code segment and patches every `calls
// <funcIdx>` into `jsr <absAddr>`.
func (c *Compiler) rewriteCalls() {
	code := c.rt.code
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		if size == 0 || addr+size > len(code) {
			c.errorAt(Token{}, ErrFatalError, "corrupt code segment")
			return
		}
		if op == opCalls {
			idx := int(code[addr+1])
			if idx < 0 || idx >= len(c.rt.funcs) {
				c.errorAt(Token{}, ErrFatalError, "call to unknown function")
				addr += size
				continue
			}
			fi := &c.rt.funcs[idx]
			owner := c.rt.types.get(fi.TypeID)
			if owner != nil && owner.Native {
				// native targets never use calls; leave for the VM trap
				addr += size
				continue
			}
			if fi.CodeAddr < 0 {
				name := c.rt.cstr.stringAt(fi.NameOffs)
				if fi.MemberIdx >= 0 {
					c.errorAt(Token{}, ErrInterfaceNotComplete, name)
				} else {
					c.errorAt(Token{}, ErrNoFunctionBody, name)
				}
				addr += size
				continue
			}
			code[addr] = opJsr
			code[addr+1] = uint32(int32(fi.CodeAddr))
		}
		addr += size
	}
}
