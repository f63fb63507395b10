package jewel

// Mark-based garbage collection. Reference counting is the primary
// lifecycle mechanism; the mark-sweep pass is the final resort for
// cycles of strong references. It runs on request and, when a GC
// interval is set, at regular instruction boundaries where the
// machine is quiescent.

// GCStats reports the outcome of one collection cycle.
type GCStats struct {
	Marked int
	Freed  int
}

// markHandle sets the mark bit and recurses into owned references.
func (rt *Runtime) markHandle(h *Handle) {
	if h == nil || h.IsNull() || h.Flags&hfMarked != 0 {
		return
	}
	h.Flags |= hfMarked
	switch {
	case h.Obj != nil:
		ti := rt.types.get(h.TypeID)
		for i, s := range h.Obj.Slots {
			if ti != nil && ti.isWeakSlot(i) {
				// weak references do not keep their referent alive
				continue
			}
			rt.markHandle(s)
		}
	case h.Delegate != nil:
		rt.markHandle(h.Delegate.Obj)
		for _, c := range h.Delegate.Closure {
			rt.markHandle(c)
		}
	case h.Ctx != nil:
		rt.markContext(h.Ctx)
	case h.Native != nil:
		ti := rt.types.get(h.TypeID)
		if ti != nil && ti.proc != nil {
			st := &NTLState{rt: rt, typeID: h.TypeID}
			_, _ = ti.procSafe(st, NTLMarkHandles, 0, h.Native)
		}
	}
}

func (rt *Runtime) markContext(ctx *Context) {
	if ctx == nil {
		return
	}
	for _, r := range ctx.registers {
		rt.markHandle(r)
	}
	for _, h := range ctx.dataStack {
		rt.markHandle(h)
	}
}

// CollectGarbage runs one full mark-sweep cycle. Roots: the root
// global, the execution contexts (registers, data stack), and every
// registered host root. Native types participate through the mark
// message. The mark bit is cleared at sweep.
func (rt *Runtime) CollectGarbage() GCStats {
	var stats GCStats
	if !rt.initialized {
		return stats
	}

	rt.markContext(rt.root)
	if rt.current != rt.root {
		rt.markContext(rt.current)
	}
	for _, root := range rt.gcRoots {
		root(func(h *Handle) { rt.markHandle(h) })
	}
	for h := range rt.hostRefs {
		rt.markHandle(h)
	}
	// materialized data constants are roots by definition
	for _, h := range rt.dataHandles {
		if h != nil {
			rt.markHandle(h)
		}
	}

	var garbage []*Handle
	rt.handles.live(func(h *Handle) {
		if h.Flags&hfMarked != 0 {
			stats.Marked++
			h.Flags &^= hfMarked
			return
		}
		if h.Flags&hfPersist != 0 {
			return
		}
		garbage = append(garbage, h)
	})

	mode := rt.opts.GetString("log-garbage")
	for _, h := range garbage {
		stats.Freed++
		if h.index == 0 {
			// already torn down while destroying an earlier cycle member
			continue
		}
		if mode != "none" {
			rt.log.Infof("gc: freeing unreachable handle %d type %s refcount %d",
				h.index, rt.TypeName(h.TypeID), h.RefCount)
		}
		// break the cycle: pin the count so releases that come back to
		// this handle while its payload is torn down cannot destroy it a
		// second time, then destroy once
		h.RefCount = 1 << 30
		rt.destroyHandle(h)
	}
	if rt.opts.GetBool("verbose") {
		rt.log.Infof("gc: %d marked, %d freed", stats.Marked, stats.Freed)
	}
	return stats
}
