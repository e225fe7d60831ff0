package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
// Non-custom sections must appear in canonical order.
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
)

// SectionName returns a human-readable section name for diagnostics.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom section"
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionTable:
		return "table section"
	case SectionMemory:
		return "memory section"
	case SectionGlobal:
		return "global section"
	case SectionExport:
		return "export section"
	case SectionStart:
		return "start section"
	case SectionElement:
		return "element section"
	case SectionCode:
		return "code section"
	case SectionData:
		return "data section"
	case SectionDataCount:
		return "data count section"
	default:
		return "unknown section"
	}
}

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0 // Function import/export
	KindTable  byte = 1 // Table import/export
	KindMemory byte = 2 // Memory import/export
	KindGlobal byte = 3 // Global import/export
)

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32     ValType = 0x7F // 32-bit integer
	ValI64     ValType = 0x7E // 64-bit integer
	ValF32     ValType = 0x7D // 32-bit float
	ValF64     ValType = 0x7C // 64-bit float
	ValFuncRef ValType = 0x70 // Function reference
	ValExtern  ValType = 0x6F // External reference
)

// FuncTypeByte prefixes every entry of the type section in this profile.
const FuncTypeByte byte = 0x60

// Limits flag bits.
const (
	LimitsHasMax byte = 0x01
)

// BlockTypeVoid is the empty block type (0x40 as s33).
const BlockTypeVoid int32 = -64

// Control flow opcodes.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
)

// Reference type opcodes.
const (
	OpRefNull   byte = 0xD0
	OpRefIsNull byte = 0xD1
	OpRefFunc   byte = 0xD2
)

// Parametric opcodes.
const (
	OpDrop       byte = 0x1A
	OpSelect     byte = 0x1B
	OpSelectType byte = 0x1C
)

// Variable access opcodes.
const (
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpLocalTee  byte = 0x22
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
	OpTableGet  byte = 0x25
	OpTableSet  byte = 0x26
)

// Memory access opcodes.
const (
	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpF32Load    byte = 0x2A
	OpF64Load    byte = 0x2B
	OpI32Load8S  byte = 0x2C
	OpI32Load8U  byte = 0x2D
	OpI32Load16S byte = 0x2E
	OpI32Load16U byte = 0x2F
	OpI64Load8S  byte = 0x30
	OpI64Load8U  byte = 0x31
	OpI64Load16S byte = 0x32
	OpI64Load16U byte = 0x33
	OpI64Load32S byte = 0x34
	OpI64Load32U byte = 0x35
	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI32Store8  byte = 0x3A
	OpI32Store16 byte = 0x3B
	OpI64Store8  byte = 0x3C
	OpI64Store16 byte = 0x3D
	OpI64Store32 byte = 0x3E
	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
)

// Constant opcodes.
const (
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
)

// Comparison opcodes.
const (
	OpI32Eqz byte = 0x45
	OpI32Eq  byte = 0x46
	OpI32Ne  byte = 0x47
	OpI32LtS byte = 0x48
	OpI32LtU byte = 0x49
	OpI32GtS byte = 0x4A
	OpI32GtU byte = 0x4B
	OpI32LeS byte = 0x4C
	OpI32LeU byte = 0x4D
	OpI32GeS byte = 0x4E
	OpI32GeU byte = 0x4F
	OpI64Eqz byte = 0x50
	OpI64Eq  byte = 0x51
	OpI64Ne  byte = 0x52
	OpI64LtS byte = 0x53
	OpI64LtU byte = 0x54
	OpI64GtS byte = 0x55
	OpI64GtU byte = 0x56
	OpI64LeS byte = 0x57
	OpI64LeU byte = 0x58
	OpI64GeS byte = 0x59
	OpI64GeU byte = 0x5A
	OpF32Eq  byte = 0x5B
	OpF32Ne  byte = 0x5C
	OpF32Lt  byte = 0x5D
	OpF32Gt  byte = 0x5E
	OpF32Le  byte = 0x5F
	OpF32Ge  byte = 0x60
	OpF64Eq  byte = 0x61
	OpF64Ne  byte = 0x62
	OpF64Lt  byte = 0x63
	OpF64Gt  byte = 0x64
	OpF64Le  byte = 0x65
	OpF64Ge  byte = 0x66
)

// Numeric opcodes.
const (
	OpI32Clz    byte = 0x67
	OpI32Ctz    byte = 0x68
	OpI32Popcnt byte = 0x69
	OpI32Add    byte = 0x6A
	OpI32Sub    byte = 0x6B
	OpI32Mul    byte = 0x6C
	OpI32DivS   byte = 0x6D
	OpI32DivU   byte = 0x6E
	OpI32RemS   byte = 0x6F
	OpI32RemU   byte = 0x70
	OpI32And    byte = 0x71
	OpI32Or     byte = 0x72
	OpI32Xor    byte = 0x73
	OpI32Shl    byte = 0x74
	OpI32ShrS   byte = 0x75
	OpI32ShrU   byte = 0x76
	OpI32Rotl   byte = 0x77
	OpI32Rotr   byte = 0x78

	OpI64Clz    byte = 0x79
	OpI64Ctz    byte = 0x7A
	OpI64Popcnt byte = 0x7B
	OpI64Add    byte = 0x7C
	OpI64Sub    byte = 0x7D
	OpI64Mul    byte = 0x7E
	OpI64DivS   byte = 0x7F
	OpI64DivU   byte = 0x80
	OpI64RemS   byte = 0x81
	OpI64RemU   byte = 0x82
	OpI64And    byte = 0x83
	OpI64Or     byte = 0x84
	OpI64Xor    byte = 0x85
	OpI64Shl    byte = 0x86
	OpI64ShrS   byte = 0x87
	OpI64ShrU   byte = 0x88
	OpI64Rotl   byte = 0x89
	OpI64Rotr   byte = 0x8A

	OpF32Abs      byte = 0x8B
	OpF32Neg      byte = 0x8C
	OpF32Ceil     byte = 0x8D
	OpF32Floor    byte = 0x8E
	OpF32Trunc    byte = 0x8F
	OpF32Nearest  byte = 0x90
	OpF32Sqrt     byte = 0x91
	OpF32Add      byte = 0x92
	OpF32Sub      byte = 0x93
	OpF32Mul      byte = 0x94
	OpF32Div      byte = 0x95
	OpF32Min      byte = 0x96
	OpF32Max      byte = 0x97
	OpF32Copysign byte = 0x98
	OpF64Abs      byte = 0x99
	OpF64Neg      byte = 0x9A
	OpF64Ceil     byte = 0x9B
	OpF64Floor    byte = 0x9C
	OpF64Trunc    byte = 0x9D
	OpF64Nearest  byte = 0x9E
	OpF64Sqrt     byte = 0x9F
	OpF64Add      byte = 0xA0
	OpF64Sub      byte = 0xA1
	OpF64Mul      byte = 0xA2
	OpF64Div      byte = 0xA3
	OpF64Min      byte = 0xA4
	OpF64Max      byte = 0xA5
	OpF64Copysign byte = 0xA6
)

// Conversion opcodes.
const (
	OpI32WrapI64     byte = 0xA7
	OpI32TruncF32S   byte = 0xA8
	OpI32TruncF32U   byte = 0xA9
	OpI32TruncF64S   byte = 0xAA
	OpI32TruncF64U   byte = 0xAB
	OpI64ExtendI32S  byte = 0xAC
	OpI64ExtendI32U  byte = 0xAD
	OpI64TruncF32S   byte = 0xAE
	OpI64TruncF32U   byte = 0xAF
	OpI64TruncF64S   byte = 0xB0
	OpI64TruncF64U   byte = 0xB1
	OpF32ConvertI32S byte = 0xB2
	OpF32ConvertI32U byte = 0xB3
	OpF32ConvertI64S byte = 0xB4
	OpF32ConvertI64U byte = 0xB5
	OpF32DemoteF64   byte = 0xB6
	OpF64ConvertI32S byte = 0xB7
	OpF64ConvertI32U byte = 0xB8
	OpF64ConvertI64S byte = 0xB9
	OpF64ConvertI64U byte = 0xBA
	OpF64PromoteF32  byte = 0xBB
	OpI32ReinterpF32 byte = 0xBC
	OpI64ReinterpF64 byte = 0xBD
	OpF32ReinterpI32 byte = 0xBE
	OpF64ReinterpI64 byte = 0xBF

	OpI32Extend8S  byte = 0xC0
	OpI32Extend16S byte = 0xC1
	OpI64Extend8S  byte = 0xC2
	OpI64Extend16S byte = 0xC3
	OpI64Extend32S byte = 0xC4
)

// Prefix opcodes. Misc carries saturating truncation and bulk memory
// sub-opcodes; the others belong to proposals outside the contracts profile
// and are rejected during decoding.
const (
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
	OpPrefixGC     byte = 0xFB
)

// Misc (0xFC) sub-opcodes.
const (
	MiscI32TruncSatF32S uint32 = 0
	MiscI32TruncSatF32U uint32 = 1
	MiscI32TruncSatF64S uint32 = 2
	MiscI32TruncSatF64U uint32 = 3
	MiscI64TruncSatF32S uint32 = 4
	MiscI64TruncSatF32U uint32 = 5
	MiscI64TruncSatF64S uint32 = 6
	MiscI64TruncSatF64U uint32 = 7
	MiscMemoryInit      uint32 = 8
	MiscDataDrop        uint32 = 9
	MiscMemoryCopy      uint32 = 10
	MiscMemoryFill      uint32 = 11
	MiscTableInit       uint32 = 12
	MiscElemDrop        uint32 = 13
	MiscTableCopy       uint32 = 14
	MiscTableGrow       uint32 = 15
	MiscTableSize       uint32 = 16
	MiscTableFill       uint32 = 17
)

// floatOpName maps float opcodes to their text-format mnemonics so the
// validator can name the exact offending instruction.
var floatOpName = map[byte]string{
	0x2A: "f32.load", 0x2B: "f64.load", 0x38: "f32.store", 0x39: "f64.store",
	0x43: "f32.const", 0x44: "f64.const",
	0x5B: "f32.eq", 0x5C: "f32.ne", 0x5D: "f32.lt", 0x5E: "f32.gt", 0x5F: "f32.le", 0x60: "f32.ge",
	0x61: "f64.eq", 0x62: "f64.ne", 0x63: "f64.lt", 0x64: "f64.gt", 0x65: "f64.le", 0x66: "f64.ge",
	0x8B: "f32.abs", 0x8C: "f32.neg", 0x8D: "f32.ceil", 0x8E: "f32.floor", 0x8F: "f32.trunc",
	0x90: "f32.nearest", 0x91: "f32.sqrt", 0x92: "f32.add", 0x93: "f32.sub", 0x94: "f32.mul",
	0x95: "f32.div", 0x96: "f32.min", 0x97: "f32.max", 0x98: "f32.copysign",
	0x99: "f64.abs", 0x9A: "f64.neg", 0x9B: "f64.ceil", 0x9C: "f64.floor", 0x9D: "f64.trunc",
	0x9E: "f64.nearest", 0x9F: "f64.sqrt", 0xA0: "f64.add", 0xA1: "f64.sub", 0xA2: "f64.mul",
	0xA3: "f64.div", 0xA4: "f64.min", 0xA5: "f64.max", 0xA6: "f64.copysign",
	0xA8: "i32.trunc_f32_s", 0xA9: "i32.trunc_f32_u", 0xAA: "i32.trunc_f64_s", 0xAB: "i32.trunc_f64_u",
	0xAE: "i64.trunc_f32_s", 0xAF: "i64.trunc_f32_u", 0xB0: "i64.trunc_f64_s", 0xB1: "i64.trunc_f64_u",
	0xB2: "f32.convert_i32_s", 0xB3: "f32.convert_i32_u", 0xB4: "f32.convert_i64_s", 0xB5: "f32.convert_i64_u",
	0xB6: "f32.demote_f64", 0xB7: "f64.convert_i32_s", 0xB8: "f64.convert_i32_u", 0xB9: "f64.convert_i64_s",
	0xBA: "f64.convert_i64_u", 0xBB: "f64.promote_f32",
	0xBC: "i32.reinterpret_f32", 0xBD: "i64.reinterpret_f64",
	0xBE: "f32.reinterpret_i32", 0xBF: "f64.reinterpret_i64",
}

// FloatOpName returns the mnemonic of op if it is a floating point
// instruction.
func FloatOpName(op byte) (string, bool) {
	name, ok := floatOpName[op]
	return name, ok
}

// IsFloatMiscOp reports whether a 0xFC sub-opcode touches floating point
// (the saturating truncation family).
func IsFloatMiscOp(sub uint32) bool {
	return sub <= MiscI64TruncSatF64U
}

// MiscOpName returns a mnemonic for the float-touching 0xFC sub-opcodes.
func MiscOpName(sub uint32) string {
	names := []string{
		"i32.trunc_sat_f32_s", "i32.trunc_sat_f32_u",
		"i32.trunc_sat_f64_s", "i32.trunc_sat_f64_u",
		"i64.trunc_sat_f32_s", "i64.trunc_sat_f32_u",
		"i64.trunc_sat_f64_s", "i64.trunc_sat_f64_u",
	}
	if int(sub) < len(names) {
		return names[sub]
	}
	return ""
}
