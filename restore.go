package jewel

// RestorePoint snapshots the high-water marks of every segment plus
// the compiler's collections, so a failed incremental compile can be
// rolled back without tearing the runtime down.
type RestorePoint struct {
	codeUsed int
	funcUsed int
	typeUsed int
	dataUsed int
	cstrUsed int
	compiler compilerMark
}

// SetRestorePoint records the current segment usage.
func (rt *Runtime) SetRestorePoint() RestorePoint {
	return RestorePoint{
		codeUsed: len(rt.code),
		funcUsed: len(rt.funcs),
		typeUsed: rt.types.used(),
		dataUsed: rt.data.used(),
		cstrUsed: rt.cstr.used(),
		compiler: rt.compiler.mark(),
	}
}

// Rollback trims every segment back to the recorded marks. Only legal
// while the runtime is not initialized.
func (rt *Runtime) Rollback(p RestorePoint) error {
	if rt.initialized {
		return errRuntimeLocked
	}
	rt.code = rt.code[:p.codeUsed]
	rt.funcs = rt.funcs[:p.funcUsed]
	rt.types.truncate(rt.cstr, p.typeUsed)
	rt.data.truncate(p.dataUsed)
	rt.cstr.truncate(p.cstrUsed)
	rt.compiler.rollback(p.compiler)
	n := len(rt.nativeTypes)
	for n > 0 && rt.nativeTypes[n-1] >= p.typeUsed {
		n--
	}
	rt.nativeTypes = rt.nativeTypes[:n]
	return nil
}
