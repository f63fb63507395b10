package jewel

// Peephole optimization. Removed instructions are replaced with nop
// filler of the same word count, so branch offsets and literal patch
// sites stay valid. Levels:
//
//	0  naive emission, peephole disabled
//	1  constant folding (tree level) and dead-store elimination
//	2  plus commutative reordering (tree level, see genBinary)
//	3  plus forced stack locals (option coupling)

func (cg *codegen) peephole() {
	code := cg.out.code
	cg.out.stats.sizeBefore = len(code)

	nopOut := func(addr, words int) {
		for i := 0; i < words; i++ {
			code[addr+i] = opNop
		}
		cg.out.stats.instrSaved++
	}

	var prevAddr = -1
	var prevOp uint32
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		if size == 0 {
			break
		}

		switch op {
		case opMoveRR:
			// a move onto itself does nothing
			if code[addr+1] == code[addr+2] {
				nopOut(addr, size)
			}
		case opPop:
			// push r / pop r cancels out
			if prevAddr >= 0 && prevOp == opPush && code[prevAddr+1] == code[addr+1] {
				nopOut(prevAddr, instrSize(opPush))
				nopOut(addr, size)
			}
		case opLdNull:
			// consecutive ldnull on the same register
			if prevAddr >= 0 && prevOp == opLdNull && code[prevAddr+1] == code[addr+1] {
				nopOut(addr, size)
			}
		}
		prevAddr = addr
		prevOp = op
		addr += size
	}

	// dead-store elimination: a register written by moveh whose
	// histogram count is 1 was never read
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		if size == 0 {
			break
		}
		if op == opMoveHR {
			reg := int(code[addr+2])
			if reg >= kFirstFreeReg && reg < kNumRegisters && cg.regHist[reg] == 1 {
				nopOut(addr, size)
				// drop the literal patch site
				for i := range cg.out.literals {
					le := &cg.out.literals[i]
					for j, s := range le.sites {
						if s == addr+1 {
							le.sites = append(le.sites[:j], le.sites[j+1:]...)
							break
						}
					}
				}
			}
		}
		addr += size
	}

	active := 0
	for addr := 0; addr < len(code); {
		op := code[addr]
		size := instrSize(op)
		if size == 0 {
			break
		}
		if op != opNop {
			active += size
		}
		addr += size
	}
	cg.out.stats.sizeAfter = active
}
