package optimizer

import (
	"github.com/MaciejBaj/cargo-contract/wasm"
)

// peephole applies two local rewrites to every function body: dropping
// instructions that follow an unconditional control transfer inside a block,
// and folding const-const-binop triples. Neither changes observable
// behavior. Returns the number of instructions eliminated.
func peephole(m *wasm.Module) (int, error) {
	total := 0
	for i := range m.Code {
		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		if err != nil {
			return total, err
		}

		before := len(instrs)
		instrs = dropDeadCode(instrs)
		for {
			folded := foldConstants(instrs)
			if len(folded) == len(instrs) {
				break
			}
			instrs = folded
		}

		if removed := before - len(instrs); removed > 0 {
			m.Code[i].Code = wasm.EncodeInstructions(instrs)
			total += removed
		}
	}
	return total, nil
}

// dropDeadCode removes instructions between an unconditional control
// transfer and the end or else that closes its block. Nested blocks inside
// the dead region vanish with it.
func dropDeadCode(instrs []wasm.Instruction) []wasm.Instruction {
	out := instrs[:0]
	dead := false
	deadDepth := 0

	for _, instr := range instrs {
		if dead {
			switch instr.Opcode {
			case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
				deadDepth++
				continue
			case wasm.OpElse:
				if deadDepth == 0 {
					dead = false
					out = append(out, instr)
				}
				continue
			case wasm.OpEnd:
				if deadDepth == 0 {
					dead = false
					out = append(out, instr)
				} else {
					deadDepth--
				}
				continue
			default:
				continue
			}
		}

		out = append(out, instr)

		switch instr.Opcode {
		case wasm.OpUnreachable, wasm.OpBr, wasm.OpBrTable, wasm.OpReturn:
			dead = true
			deadDepth = 0
		}
	}
	return out
}

// foldConstants rewrites const-const-binop triples into a single const. One
// pass; the caller iterates to a fixed point so chains like
// 1 + 2 + 3 collapse fully.
func foldConstants(instrs []wasm.Instruction) []wasm.Instruction {
	out := make([]wasm.Instruction, 0, len(instrs))

	for _, instr := range instrs {
		n := len(out)
		if n >= 2 {
			if folded, ok := foldI32(out[n-2], out[n-1], instr); ok {
				out = append(out[:n-2], folded)
				continue
			}
			if folded, ok := foldI64(out[n-2], out[n-1], instr); ok {
				out = append(out[:n-2], folded)
				continue
			}
		}
		out = append(out, instr)
	}
	return out
}

func foldI32(a, b, op wasm.Instruction) (wasm.Instruction, bool) {
	if a.Opcode != wasm.OpI32Const || b.Opcode != wasm.OpI32Const {
		return wasm.Instruction{}, false
	}
	x := a.Imm.(wasm.I32Imm).Value
	y := b.Imm.(wasm.I32Imm).Value

	var v int32
	switch op.Opcode {
	case wasm.OpI32Add:
		v = x + y
	case wasm.OpI32Sub:
		v = x - y
	case wasm.OpI32Mul:
		v = x * y
	case wasm.OpI32And:
		v = x & y
	case wasm.OpI32Or:
		v = x | y
	case wasm.OpI32Xor:
		v = x ^ y
	case wasm.OpI32Shl:
		v = x << (uint32(y) % 32)
	case wasm.OpI32ShrS:
		v = x >> (uint32(y) % 32)
	case wasm.OpI32ShrU:
		v = int32(uint32(x) >> (uint32(y) % 32))
	default:
		// Division and remainder trap on zero or overflow; folding them
		// would need trap semantics, so they stay.
		return wasm.Instruction{}, false
	}

	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}, Offset: a.Offset}, true
}

func foldI64(a, b, op wasm.Instruction) (wasm.Instruction, bool) {
	if a.Opcode != wasm.OpI64Const || b.Opcode != wasm.OpI64Const {
		return wasm.Instruction{}, false
	}
	x := a.Imm.(wasm.I64Imm).Value
	y := b.Imm.(wasm.I64Imm).Value

	var v int64
	switch op.Opcode {
	case wasm.OpI64Add:
		v = x + y
	case wasm.OpI64Sub:
		v = x - y
	case wasm.OpI64Mul:
		v = x * y
	case wasm.OpI64And:
		v = x & y
	case wasm.OpI64Or:
		v = x | y
	case wasm.OpI64Xor:
		v = x ^ y
	case wasm.OpI64Shl:
		v = x << (uint64(y) % 64)
	case wasm.OpI64ShrS:
		v = x >> (uint64(y) % 64)
	case wasm.OpI64ShrU:
		v = int64(uint64(x) >> (uint64(y) % 64))
	default:
		return wasm.Instruction{}, false
	}

	return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}, Offset: a.Offset}, true
}
