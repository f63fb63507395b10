package jewel

import (
	"os"
	"path/filepath"

	"github.com/jewe-1969/jilruntime-sub003/log"
)

// builtinDecls is the prelude every compiler instance sees before the
// first user file. The exception interface is what throw statements
// are checked against.
const builtinDecls = `
interface exception
{
	method int getError ();
	method string getMessage ();
}
`

// Compiler is the two-pass compiler embedded in a runtime state. It
// exclusively owns its parsed class, function and file collections.
type Compiler struct {
	rt  *Runtime
	log *log.Helper

	units       []*compileUnit
	classes     []*classDecl
	classByID   map[int]*classDecl
	globalFuncs []*funcDecl
	allFuncs    []*funcDecl // aligned with the function segment
	globals     []*varDecl
	aliases     map[string]int // alias name -> type id

	// global variable initializers, compiled into the bootstrap
	initStmts []*stmt

	errors    []CompileError
	errCursor int

	// import handling
	importPaths   map[string]string // import name -> file path
	importSources map[string]string // import name -> in-memory source
	importState   map[string]int    // 0 unseen, 1 in progress, 2 done

	anonCounter int
}

// compilerMark is the rollback cookie for restore points.
type compilerMark struct {
	units   int
	classes int
	funcs   int
	globals int
	inits   int
}

// bootstrapName is the synthesized global initializer executed once
// by Run.
const bootstrapName = "__init"

func newCompiler(rt *Runtime) *Compiler {
	c := &Compiler{
		rt:            rt,
		log:           rt.log,
		classByID:     make(map[int]*classDecl),
		aliases:       make(map[string]int),
		importPaths:   make(map[string]string),
		importSources: make(map[string]string),
		importState:   make(map[string]int),
	}
	// the prelude declares the builtin interfaces
	if err := c.compileSource("<builtin>", []byte(builtinDecls)); err != nil {
		c.log.Errorf("builtin prelude failed: %v", err)
	}
	return c
}

func (c *Compiler) mark() compilerMark {
	return compilerMark{
		units:   len(c.units),
		classes: len(c.classes),
		funcs:   len(c.allFuncs),
		globals: len(c.globals),
		inits:   len(c.initStmts),
	}
}

func (c *Compiler) rollback(m compilerMark) {
	for _, cl := range c.classes[m.classes:] {
		delete(c.classByID, cl.typeID)
	}
	c.units = c.units[:m.units]
	c.classes = c.classes[:m.classes]
	c.allFuncs = c.allFuncs[:m.funcs]
	c.globals = c.globals[:m.globals]
	c.initStmts = c.initStmts[:m.inits]
	n := 0
	for _, f := range c.globalFuncs {
		if f.fnIdx < m.funcs {
			c.globalFuncs[n] = f
			n++
		}
	}
	c.globalFuncs = c.globalFuncs[:n]
}

// RegisterImportPath maps an import name to a file path.
func (c *Compiler) RegisterImportPath(name, path string) { c.importPaths[name] = path }

// RegisterImportSource maps an import name to in-memory source text.
func (c *Compiler) RegisterImportSource(name, src string) { c.importSources[name] = src }

// Compile lexes, precompiles and compiles one source buffer. Errors
// accumulate in the compiler's error list; the returned error is the
// first hard error, or nil.
func (c *Compiler) Compile(name string, source string) error {
	if c.rt.initialized {
		return errRuntimeLocked
	}
	return c.compileSource(name, []byte(source))
}

// CompileFile reads and compiles one file.
func (c *Compiler) CompileFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return errFileOpen
	}
	return c.compileSource(filepath.Base(path), src)
}

func (c *Compiler) compileSource(name string, src []byte) error {
	before := len(c.errors)

	lx := newLexer(name, src, c.rt.opts.GetBool("default-float"))
	tokens := lx.tokenize()
	c.errors = append(c.errors, lx.errs...)

	unit := &compileUnit{name: name, stream: &tokenStream{tokens: tokens}}
	c.units = append(c.units, unit)

	p := &parser{c: c, unit: unit}
	p.precompile()

	unit.stream.seek(0)
	p.compileBodies()

	if c.rt.opts.GetBool("verbose") {
		c.log.Infof("compiled %s: %d tokens, %d classes, %d functions",
			name, len(tokens), len(c.classes), len(c.allFuncs))
	}
	return c.firstHardError(before)
}

// compileNativeDecl compiles a native type's declaration string as if
// it were a source file defining the already-registered type.
func (c *Compiler) compileNativeDecl(typeID int, name, decl, pkg string) error {
	before := len(c.errors)

	// the package string is an import list the declaration may rely on
	if pkg != "" {
		lx := newLexer("<package:"+name+">", []byte(pkg), false)
		toks := lx.tokenize()
		for _, t := range toks {
			if t.Kind == tkIdentifier {
				if err := c.resolveImport(t); err != nil {
					return err
				}
			}
		}
	}

	lx := newLexer("<native:"+name+">", []byte(decl), false)
	tokens := lx.tokenize()
	c.errors = append(c.errors, lx.errs...)

	unit := &compileUnit{name: "<native:" + name + ">", stream: &tokenStream{tokens: tokens}}
	c.units = append(c.units, unit)

	p := &parser{c: c, unit: unit, nativeTypeID: typeID}
	p.precompile()
	return c.firstHardError(before)
}

// resolveImport compiles an imported unit. Import precedence: host
// registered source, host registered path, then the working directory
// with the configured extension (when file-import is enabled). Each
// import compiles recursively before control returns; a second pass-1
// on an already-imported name is a no-op, which also terminates
// import cycles.
func (c *Compiler) resolveImport(tok Token) error {
	name := tok.Text
	switch c.importState[name] {
	case 1, 2:
		return nil
	}
	c.importState[name] = 1
	defer func() { c.importState[name] = 2 }()

	if src, ok := c.importSources[name]; ok {
		return c.compileSource(name, []byte(src))
	}
	if path, ok := c.importPaths[name]; ok {
		src, err := os.ReadFile(path)
		if err != nil {
			c.errorAt(tok, ErrImportNotDefined, name)
			return errFileOpen
		}
		return c.compileSource(name, src)
	}
	if c.rt.opts.GetBool("file-import") {
		path := name + "." + c.rt.opts.GetString("file-ext")
		if src, err := os.ReadFile(path); err == nil {
			return c.compileSource(name, src)
		}
	}
	c.errorAt(tok, ErrImportNotDefined, name)
	return CompileError{Code: ErrImportNotDefined, File: tok.File, Line: tok.Line, Column: tok.Column, Detail: name}
}

// ---- error management ----

func (c *Compiler) errorAt(tok Token, code ErrorCode, detail string) {
	c.errors = append(c.errors, CompileError{
		Code:   code,
		File:   tok.File,
		Line:   tok.Line,
		Column: tok.Column,
		Detail: detail,
	})
}

// warnAt appends a warning, gated by the warning-level option.
func (c *Compiler) warnAt(tok Token, code ErrorCode, detail string) {
	level := c.rt.opts.GetInt("warning-level")
	if min, ok := warningLevels[code]; !ok || level < min {
		return
	}
	c.errors = append(c.errors, CompileError{
		Code:   code,
		File:   tok.File,
		Line:   tok.Line,
		Column: tok.Column,
		Detail: detail,
	})
}

func (c *Compiler) firstHardError(from int) error {
	for _, e := range c.errors[from:] {
		if !e.Code.IsWarning() {
			return e
		}
	}
	return nil
}

// HasErrors reports whether any hard error accumulated.
func (c *Compiler) HasErrors() bool {
	for _, e := range c.errors {
		if !e.Code.IsWarning() {
			return true
		}
	}
	return false
}

// Errors returns the accumulated error list.
func (c *Compiler) Errors() []CompileError { return c.errors }

// NextError returns error strings one at a time until exhausted, in
// the format selected by the error-format option.
func (c *Compiler) NextError() (string, bool) {
	if c.errCursor >= len(c.errors) {
		return "", false
	}
	e := c.errors[c.errCursor]
	c.errCursor++
	if c.rt.opts.GetString("error-format") == "ms" {
		return e.msFormat(), true
	}
	return e.Error(), true
}

// ResetErrors clears the error list and iterator.
func (c *Compiler) ResetErrors() {
	c.errors = c.errors[:0]
	c.errCursor = 0
}

// ---- lookups used by parser, codegen and bridge ----

func (c *Compiler) classFor(typeID int) *classDecl { return c.classByID[typeID] }

// resolveTypeName resolves a type name or alias to a type id, or -1.
func (c *Compiler) resolveTypeName(name string) int {
	if id, ok := c.aliases[name]; ok {
		return id
	}
	return c.rt.types.lookup(name)
}

// declaredArgType returns the declared parameter type of a function,
// or -1 when the signature is no longer known (e.g. after a chunk
// load). TypeVar parameters accept any tag.
func (c *Compiler) declaredArgType(fnIdx, arg int) int {
	if fnIdx < 0 || fnIdx >= len(c.allFuncs) {
		return -1
	}
	f := c.allFuncs[fnIdx]
	if f == nil || arg < 0 || arg >= len(f.params) {
		return -1
	}
	if f.params[arg].isVar {
		return TypeVar
	}
	return f.params[arg].typeID
}

// registerFunc appends a descriptor to the function segment and keeps
// the decl aligned with it.
func (c *Compiler) registerFunc(f *funcDecl) {
	f.fnIdx = len(c.rt.funcs)
	c.rt.funcs = append(c.rt.funcs, FuncInfo{
		Flags:     f.flags,
		TypeID:    f.typeID,
		Args:      len(f.params),
		MemberIdx: f.memberIdx,
		CodeAddr:  -1,
		NameOffs:  c.rt.cstr.addString(f.name),
	})
	c.allFuncs = append(c.allFuncs, f)
}

// nextAnonName produces a unique name for an anonymous delegate.
func (c *Compiler) nextAnonName() string {
	c.anonCounter++
	return "__anon_" + itoa(c.anonCounter)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
