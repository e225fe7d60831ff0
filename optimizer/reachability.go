package optimizer

import (
	"fmt"

	"github.com/MaciejBaj/cargo-contract/wasm"
)

// reachability records which entries of each index space survive dead code
// elimination. Imports always survive: removing one would change the host
// interface the module declares.
type reachability struct {
	funcs   *bitSet
	globals *bitSet
	types   *bitSet
}

// workItem is a node in the reference graph, addressed by index space and
// integer index.
type workItem struct {
	idx  uint32
	kind workKind
}

type workKind uint8

const (
	workFunc workKind = iota
	workGlobal
)

// analyze computes the reachable set. Roots are everything the outside world
// can observe: exports, the start function, active element segments, and
// global or data offset initializers.
func analyze(m *wasm.Module) (*reachability, error) {
	r := &reachability{
		funcs:   newBitSet(m.NumFuncs()),
		globals: newBitSet(m.NumImportedGlobals() + len(m.Globals)),
		types:   newBitSet(len(m.Types)),
	}

	var work []workItem
	markFunc := func(idx uint32) {
		if !r.funcs.has(idx) {
			r.funcs.set(idx)
			work = append(work, workItem{kind: workFunc, idx: idx})
		}
	}
	markGlobal := func(idx uint32) {
		if !r.globals.has(idx) {
			r.globals.set(idx)
			work = append(work, workItem{kind: workGlobal, idx: idx})
		}
	}

	// Imports are pinned.
	for i := 0; i < m.NumImportedFuncs(); i++ {
		markFunc(uint32(i))
	}
	for i := 0; i < m.NumImportedGlobals(); i++ {
		markGlobal(uint32(i))
	}

	for _, exp := range m.Exports {
		switch exp.Kind {
		case wasm.KindFunc:
			markFunc(exp.Idx)
		case wasm.KindGlobal:
			markGlobal(exp.Idx)
		}
	}
	if m.Start != nil {
		markFunc(*m.Start)
	}

	// Element segments feed tables, either at instantiation or later via
	// table.init, so every entry is treated as a root.
	for _, elem := range m.Elements {
		for _, idx := range elem.FuncIdxs {
			markFunc(idx)
		}
		if err := r.scanInitExpr(elem.Offset, markFunc, markGlobal); err != nil {
			return nil, err
		}
	}
	for _, seg := range m.Data {
		if seg.Flags == 1 {
			continue
		}
		if err := r.scanInitExpr(seg.Offset, markFunc, markGlobal); err != nil {
			return nil, err
		}
	}

	numImportedFuncs := m.NumImportedFuncs()
	numImportedGlobals := m.NumImportedGlobals()

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		switch item.kind {
		case workFunc:
			if typeIdx, ok := m.FuncTypeIdx(item.idx); ok {
				r.types.set(typeIdx)
			}
			defined := int(item.idx) - numImportedFuncs
			if defined < 0 {
				continue
			}
			if defined >= len(m.Code) {
				return nil, fmt.Errorf("function %d has no body", item.idx)
			}
			if err := r.scanBody(m.Code[defined].Code, markFunc, markGlobal); err != nil {
				return nil, fmt.Errorf("function %d: %w", item.idx, err)
			}

		case workGlobal:
			defined := int(item.idx) - numImportedGlobals
			if defined < 0 {
				continue
			}
			if defined >= len(m.Globals) {
				return nil, fmt.Errorf("global %d has no definition", item.idx)
			}
			if err := r.scanInitExpr(m.Globals[defined].Init, markFunc, markGlobal); err != nil {
				return nil, fmt.Errorf("global %d: %w", item.idx, err)
			}
		}
	}

	return r, nil
}

// scanBody walks a decoded instruction stream and marks everything it
// references.
func (r *reachability) scanBody(code []byte, markFunc, markGlobal func(uint32)) error {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return err
	}

	for _, instr := range instrs {
		switch imm := instr.Imm.(type) {
		case wasm.CallImm:
			markFunc(imm.FuncIdx)
		case wasm.RefFuncImm:
			markFunc(imm.FuncIdx)
		case wasm.GlobalImm:
			markGlobal(imm.GlobalIdx)
		case wasm.CallIndirectImm:
			r.types.set(imm.TypeIdx)
		case wasm.BlockImm:
			if imm.Type >= 0 {
				r.types.set(uint32(imm.Type))
			}
		}
	}
	return nil
}

func (r *reachability) scanInitExpr(expr []byte, markFunc, markGlobal func(uint32)) error {
	if len(expr) == 0 {
		return nil
	}
	return r.scanBody(expr, markFunc, markGlobal)
}
