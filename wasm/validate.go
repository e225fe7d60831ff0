package wasm

import "fmt"

// MemoryMaxPages is the largest page count a 32-bit linear memory can
// declare (4 GiB at 64 KiB per page).
const MemoryMaxPages = 65536

// Validate checks the module for structural validity: every index space
// reference resolves, counts agree across sections, and memory limits fit
// the 32-bit address space. It does not type-check instruction sequences.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateTableIndices(); err != nil {
		return err
	}
	if err := m.validateMemoryIndices(); err != nil {
		return err
	}
	if err := m.validateGlobalIndices(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateDataCount(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateMemoryLimits(); err != nil {
		return err
	}
	if err := m.validateCodeRefs(); err != nil {
		return err
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))

	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d (have %d types)", i, typeIdx, numTypes)
		}
	}

	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}

	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, numFuncs)
	}

	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))

	for i, elem := range m.Elements {
		// Passive and declarative segments don't reference tables.
		isPassive := elem.Flags&0x01 != 0
		if !isPassive && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))

	if numMemories > 1 {
		return fmt.Errorf("multiple memories are not supported (have %d)", numMemories)
	}

	for i, data := range m.Data {
		// Passive segments don't reference memory.
		if data.Flags != 1 && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}

	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))

	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}

	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool)
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}

	funcType := m.GetFuncType(*m.Start)
	if funcType == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}

	if len(funcType.Params) != 0 || len(funcType.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(funcType.Params), len(funcType.Results))
	}

	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			if err := validateMemoryType(imp.Desc.Memory, i, true); err != nil {
				return err
			}
		}
	}
	for i := range m.Memories {
		if err := validateMemoryType(&m.Memories[i], i, false); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryType(mem *MemoryType, idx int, isImport bool) error {
	prefix := "memory"
	if isImport {
		prefix = "imported memory"
	}

	if mem.Limits.Min > MemoryMaxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d",
			prefix, idx, mem.Limits.Min, MemoryMaxPages)
	}
	if mem.Limits.Max != nil && *mem.Limits.Max > MemoryMaxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d",
			prefix, idx, *mem.Limits.Max, MemoryMaxPages)
	}
	return nil
}

// validateCodeRefs decodes every function body and checks that indices in
// instruction immediates resolve within their index spaces. ParseModule
// already guaranteed the bodies decode.
func (m *Module) validateCodeRefs() error {
	numFuncs := uint32(m.NumFuncs())
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	numTypes := uint32(len(m.Types))
	numTables := uint32(m.NumImportedTables() + len(m.Tables))

	for i, body := range m.Code {
		instrs, err := DecodeInstructions(body.Code)
		if err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}

		var numLocals uint32
		if ft := m.GetFuncType(uint32(m.NumImportedFuncs() + i)); ft != nil {
			numLocals = uint32(len(ft.Params))
		}
		for _, entry := range body.Locals {
			numLocals += entry.Count
		}

		for _, instr := range instrs {
			switch imm := instr.Imm.(type) {
			case CallImm:
				if imm.FuncIdx >= numFuncs {
					return fmt.Errorf("function body %d offset %d: call to invalid function index %d", i, instr.Offset, imm.FuncIdx)
				}
			case CallIndirectImm:
				if imm.TypeIdx >= numTypes {
					return fmt.Errorf("function body %d offset %d: call_indirect with invalid type index %d", i, instr.Offset, imm.TypeIdx)
				}
				if imm.TableIdx >= numTables {
					return fmt.Errorf("function body %d offset %d: call_indirect with invalid table index %d", i, instr.Offset, imm.TableIdx)
				}
			case LocalImm:
				if imm.LocalIdx >= numLocals {
					return fmt.Errorf("function body %d offset %d: invalid local index %d (have %d)", i, instr.Offset, imm.LocalIdx, numLocals)
				}
			case GlobalImm:
				if imm.GlobalIdx >= numGlobals {
					return fmt.Errorf("function body %d offset %d: invalid global index %d", i, instr.Offset, imm.GlobalIdx)
				}
			case RefFuncImm:
				if imm.FuncIdx >= numFuncs {
					return fmt.Errorf("function body %d offset %d: ref.func with invalid function index %d", i, instr.Offset, imm.FuncIdx)
				}
			}
		}
	}

	return nil
}
