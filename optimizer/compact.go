package optimizer

import (
	"fmt"

	"github.com/MaciejBaj/cargo-contract/wasm"
)

// unmapped marks an index that did not survive reachability analysis.
const unmapped = ^uint32(0)

// remap holds old-to-new index mappings for the compacted index spaces.
type remap struct {
	funcs   []uint32
	globals []uint32
	types   []uint32
}

// compact rebuilds the module with only reachable entries, renumbering each
// index space densely and rewriting every reference. Import indices are
// stable: imports occupy the low indices of their space and all survive.
func compact(m *wasm.Module, r *reachability) (*wasm.Module, error) {
	rm := buildRemap(m, r)

	out := &wasm.Module{
		Tables:         m.Tables,
		Memories:       m.Memories,
		DataCount:      m.DataCount,
		CustomSections: m.CustomSections,
	}

	// Types.
	for i, ft := range m.Types {
		if rm.types[i] != unmapped {
			out.Types = append(out.Types, ft)
		}
	}

	// Imports, with function type references remapped.
	out.Imports = make([]wasm.Import, len(m.Imports))
	for i, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindFunc {
			newIdx, err := rm.mapType(imp.Desc.TypeIdx)
			if err != nil {
				return nil, fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
			}
			imp.Desc.TypeIdx = newIdx
		}
		out.Imports[i] = imp
	}

	numImportedFuncs := m.NumImportedFuncs()
	numImportedGlobals := m.NumImportedGlobals()

	// Function and code sections.
	for i, typeIdx := range m.Funcs {
		funcIdx := uint32(numImportedFuncs + i)
		if rm.funcs[funcIdx] == unmapped {
			continue
		}
		newType, err := rm.mapType(typeIdx)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", funcIdx, err)
		}
		out.Funcs = append(out.Funcs, newType)

		body := m.Code[i]
		rewritten, err := rm.rewriteCode(body.Code)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", funcIdx, err)
		}
		out.Code = append(out.Code, wasm.FuncBody{Locals: body.Locals, Code: rewritten})
	}

	// Globals, with init expressions rewritten.
	for i, g := range m.Globals {
		globalIdx := uint32(numImportedGlobals + i)
		if rm.globals[globalIdx] == unmapped {
			continue
		}
		init, err := rm.rewriteCode(g.Init)
		if err != nil {
			return nil, fmt.Errorf("global %d: %w", globalIdx, err)
		}
		out.Globals = append(out.Globals, wasm.Global{Type: g.Type, Init: init})
	}

	// Exports.
	out.Exports = make([]wasm.Export, len(m.Exports))
	for i, exp := range m.Exports {
		switch exp.Kind {
		case wasm.KindFunc:
			newIdx, err := rm.mapFunc(exp.Idx)
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", exp.Name, err)
			}
			exp.Idx = newIdx
		case wasm.KindGlobal:
			newIdx, err := rm.mapGlobal(exp.Idx)
			if err != nil {
				return nil, fmt.Errorf("export %s: %w", exp.Name, err)
			}
			exp.Idx = newIdx
		}
		out.Exports[i] = exp
	}

	if m.Start != nil {
		newIdx, err := rm.mapFunc(*m.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		out.Start = &newIdx
	}

	// Element segments: entries are roots, so every index maps.
	for i, elem := range m.Elements {
		idxs := make([]uint32, len(elem.FuncIdxs))
		for j, idx := range elem.FuncIdxs {
			newIdx, err := rm.mapFunc(idx)
			if err != nil {
				return nil, fmt.Errorf("element %d entry %d: %w", i, j, err)
			}
			idxs[j] = newIdx
		}
		offset := elem.Offset
		if len(offset) > 0 {
			rewritten, err := rm.rewriteCode(offset)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			offset = rewritten
		}
		elem.FuncIdxs = idxs
		elem.Offset = offset
		out.Elements = append(out.Elements, elem)
	}

	// Data segments: offsets may read globals.
	for i, seg := range m.Data {
		if len(seg.Offset) > 0 {
			rewritten, err := rm.rewriteCode(seg.Offset)
			if err != nil {
				return nil, fmt.Errorf("data segment %d: %w", i, err)
			}
			seg.Offset = rewritten
		}
		out.Data = append(out.Data, seg)
	}

	return out, nil
}

func buildRemap(m *wasm.Module, r *reachability) *remap {
	rm := &remap{
		funcs:   make([]uint32, m.NumFuncs()),
		globals: make([]uint32, m.NumImportedGlobals()+len(m.Globals)),
		types:   make([]uint32, len(m.Types)),
	}

	next := uint32(0)
	for i := range rm.funcs {
		if r.funcs.has(uint32(i)) {
			rm.funcs[i] = next
			next++
		} else {
			rm.funcs[i] = unmapped
		}
	}

	next = 0
	for i := range rm.globals {
		if r.globals.has(uint32(i)) {
			rm.globals[i] = next
			next++
		} else {
			rm.globals[i] = unmapped
		}
	}

	next = 0
	for i := range rm.types {
		if r.types.has(uint32(i)) {
			rm.types[i] = next
			next++
		} else {
			rm.types[i] = unmapped
		}
	}

	return rm
}

func (rm *remap) mapFunc(idx uint32) (uint32, error) {
	if int(idx) >= len(rm.funcs) || rm.funcs[idx] == unmapped {
		return 0, fmt.Errorf("reference to removed function index %d", idx)
	}
	return rm.funcs[idx], nil
}

func (rm *remap) mapGlobal(idx uint32) (uint32, error) {
	if int(idx) >= len(rm.globals) || rm.globals[idx] == unmapped {
		return 0, fmt.Errorf("reference to removed global index %d", idx)
	}
	return rm.globals[idx], nil
}

func (rm *remap) mapType(idx uint32) (uint32, error) {
	if int(idx) >= len(rm.types) || rm.types[idx] == unmapped {
		return 0, fmt.Errorf("reference to removed type index %d", idx)
	}
	return rm.types[idx], nil
}

// rewriteCode re-encodes an instruction stream with every index remapped.
func (rm *remap) rewriteCode(code []byte) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, err
	}

	for i := range instrs {
		switch imm := instrs[i].Imm.(type) {
		case wasm.CallImm:
			newIdx, err := rm.mapFunc(imm.FuncIdx)
			if err != nil {
				return nil, err
			}
			instrs[i].Imm = wasm.CallImm{FuncIdx: newIdx}

		case wasm.RefFuncImm:
			newIdx, err := rm.mapFunc(imm.FuncIdx)
			if err != nil {
				return nil, err
			}
			instrs[i].Imm = wasm.RefFuncImm{FuncIdx: newIdx}

		case wasm.GlobalImm:
			newIdx, err := rm.mapGlobal(imm.GlobalIdx)
			if err != nil {
				return nil, err
			}
			instrs[i].Imm = wasm.GlobalImm{GlobalIdx: newIdx}

		case wasm.CallIndirectImm:
			newIdx, err := rm.mapType(imm.TypeIdx)
			if err != nil {
				return nil, err
			}
			imm.TypeIdx = newIdx
			instrs[i].Imm = imm

		case wasm.BlockImm:
			if imm.Type >= 0 {
				newIdx, err := rm.mapType(uint32(imm.Type))
				if err != nil {
					return nil, err
				}
				instrs[i].Imm = wasm.BlockImm{Type: int32(newIdx)}
			}
		}
	}

	return wasm.EncodeInstructions(instrs), nil
}
