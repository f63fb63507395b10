package jewel

// ctxState tracks the lifecycle of a cofunction context.
type ctxState int

const (
	ctxReady ctxState = iota
	ctxRunning
	ctxSuspended
	ctxDone
)

// callFrame is one entry on the call stack. A native frame marks the
// boundary where control returns to the calling host code.
type callFrame struct {
	retAddr   int
	frameBase int // data stack height at function entry
	argc      int
	native    bool
}

// Context is the execution state of one thread of script execution:
// the root context created at VM init, plus one per live cofunction.
// A context switch swaps the whole struct pointer on the VM.
type Context struct {
	pc        int
	registers [kNumRegisters]*Handle
	dataStack []*Handle
	callStack []callFrame

	// owner points back at the handle wrapping this context (nil for
	// the root context); resumer is where yield returns control to.
	owner   *Handle
	resumer *Context
	state   ctxState
	funcIdx int

	maxData int
	maxCall int
}

func (rt *Runtime) newContext(owner *Handle) *Context {
	ctx := &Context{
		owner:   owner,
		maxData: rt.opts.GetInt("data-stack-size"),
		maxCall: rt.opts.GetInt("call-stack-size"),
	}
	for i := range ctx.registers {
		ctx.registers[i] = rt.handles.null
	}
	return ctx
}

// releaseContext drops every handle reference the context still owns.
func (rt *Runtime) releaseContext(ctx *Context) {
	for i, r := range ctx.registers {
		if r != nil {
			rt.Release(r)
			ctx.registers[i] = nil
		}
	}
	for _, h := range ctx.dataStack {
		rt.Release(h)
	}
	ctx.dataStack = nil
	ctx.callStack = nil
	ctx.state = ctxDone
}

// push grows the data stack, detecting overflow before corruption.
func (ctx *Context) push(h *Handle) bool {
	if len(ctx.dataStack) >= ctx.maxData {
		return false
	}
	ctx.dataStack = append(ctx.dataStack, h)
	return true
}

func (ctx *Context) pop() *Handle {
	n := len(ctx.dataStack)
	h := ctx.dataStack[n-1]
	ctx.dataStack = ctx.dataStack[:n-1]
	return h
}

// stackAt addresses the data stack sp-relative: disp 0 is the top.
func (ctx *Context) stackAt(disp int) *Handle {
	return ctx.dataStack[len(ctx.dataStack)-1-disp]
}

func (ctx *Context) setStackAt(disp int, h *Handle) {
	ctx.dataStack[len(ctx.dataStack)-1-disp] = h
}

// setRegister stores a handle into a register, releasing the previous
// occupant. The handle must already carry the reference being stored.
func (rt *Runtime) setRegister(ctx *Context, reg int, h *Handle) {
	old := ctx.registers[reg]
	ctx.registers[reg] = h
	rt.Release(old)
}
