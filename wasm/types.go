package wasm

// Module is the structured in-memory decomposition of a contract binary.
// All index spaces (types, functions, globals, tables, memories) follow the
// WebAssembly convention: imports first, then locally defined entries.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for locally defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12),
	// required when bulk memory instructions reference data segments.
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// HasFloat reports whether any parameter or result is a float type.
func (ft FuncType) HasFloat() bool {
	for _, p := range ft.Params {
		if p.IsFloat() {
			return true
		}
	}
	for _, r := range ft.Results {
		if r.IsFloat() {
			return true
		}
	}
	return false
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsFloat reports whether v is f32 or f64.
func (v ValType) IsFloat() bool {
	return v == ValF32 || v == ValF64
}

// Valid reports whether v is a value type of the contracts profile.
func (v ValType) Valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExtern:
		return true
	}
	return false
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes an imported item. Kind uses KindFunc, KindTable,
// KindMemory, or KindGlobal.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories, in elements
// or pages respectively.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including end opcode
}

// Export describes an exported item. Kind uses KindFunc, KindTable,
// KindMemory, or KindGlobal.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment. Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//
// Expression-based segments (flags 4-7) are outside the contracts profile.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Flags    uint32
	TableIdx uint32
	ElemKind byte
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment. Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables.
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the total function count, imports included.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// ImportedFunc returns the import entry for function index idx, or nil if
// idx refers to a locally defined function.
func (m *Module) ImportedFunc(idx uint32) *Import {
	n := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if n == idx {
			return &m.Imports[i]
		}
		n++
	}
	return nil
}

// FuncTypeIdx returns the type index of the function at idx in the joint
// import+local index space.
func (m *Module) FuncTypeIdx(idx uint32) (uint32, bool) {
	numImported := uint32(m.NumImportedFuncs())
	if idx < numImported {
		n := uint32(0)
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if n == idx {
				return imp.Desc.TypeIdx, true
			}
			n++
		}
		return 0, false
	}
	local := idx - numImported
	if int(local) >= len(m.Funcs) {
		return 0, false
	}
	return m.Funcs[local], true
}

// GetFuncType returns the signature of the function at idx, or nil when idx
// is out of range.
func (m *Module) GetFuncType(idx uint32) *FuncType {
	typeIdx, ok := m.FuncTypeIdx(idx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// ExportedFunc returns the function index exported under name.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Name == name {
			return exp.Idx, true
		}
	}
	return 0, false
}

// AddType adds a function type and returns its index, reusing an existing
// entry when an identical signature is already present.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}
