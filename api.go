package jewel

// CompileString compiles one source buffer into the runtime's
// embedded compiler, without linking.
func (rt *Runtime) CompileString(name, source string) error {
	if rt.compiler == nil {
		return errNoCompiler
	}
	return rt.compiler.Compile(name, source)
}

// CompileAndLink compiles one source buffer and immediately links.
func (rt *Runtime) CompileAndLink(name, source string) error {
	if err := rt.CompileString(name, source); err != nil {
		return err
	}
	return rt.Link()
}

// BuildString creates a runtime, compiles `source`, links and runs
// the bootstrap code. The usual entry point for embedding hosts that
// compile a script and then call into it.
func BuildString(name, source string, options ...Option) (*Runtime, error) {
	rt := NewRuntime(options...)
	if err := rt.CompileAndLink(name, source); err != nil {
		return nil, err
	}
	if err := rt.Run(); err != nil {
		return nil, err
	}
	return rt, nil
}

// BuildFile is BuildString over a file on disk.
func BuildFile(path string, options ...Option) (*Runtime, error) {
	rt := NewRuntime(options...)
	if rt.compiler == nil {
		return nil, errNoCompiler
	}
	if err := rt.compiler.CompileFile(path); err != nil {
		return nil, err
	}
	if err := rt.Link(); err != nil {
		return nil, err
	}
	if err := rt.Run(); err != nil {
		return nil, err
	}
	return rt, nil
}
