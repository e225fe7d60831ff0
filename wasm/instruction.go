package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Instruction is a decoded instruction. Offset is the byte offset of the
// opcode within the function body it was decoded from, used to point error
// messages at the offending instruction.
type Instruction struct {
	Imm    interface{}
	Offset int
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm carries the local index used by local.get, local.set and local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm carries the global index used by global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm carries the alignment hint and offset of a load or store.
type MemoryImm struct {
	Align  uint32
	Offset uint32
}

// I32Imm holds the constant value for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bit pattern for f32.const. Bits rather than a float
// value so that NaN payloads survive a decode and re-encode unchanged.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bit pattern for f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds the table index for table.get and table.set.
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the heap type byte for ref.null (funcref or externref).
type RefNullImm struct {
	HeapType ValType
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds the value types for typed select.
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction.
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsIndirectCall reports whether this is a call_indirect instruction.
func (i Instruction) IsIndirectCall() bool {
	return i.Opcode == OpCallIndirect
}

// FloatName returns the mnemonic if this instruction is a float operation,
// including the saturating truncations under the 0xFC prefix.
func (i Instruction) FloatName() (string, bool) {
	if i.Opcode == OpPrefixMisc {
		if imm, ok := i.Imm.(MiscImm); ok && IsFloatMiscOp(imm.SubOpcode) {
			return MiscOpName(imm.SubOpcode), true
		}
		return "", false
	}
	return FloatOpName(i.Opcode)
}

// DecodeInstructions decodes a function body into instructions, rejecting
// any opcode outside the contracts profile. Float instructions decode fine;
// screening them out is the validator's job, which wants their mnemonics
// and offsets for its diagnostics.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		offset := len(code) - r.Len()
		op, err := r.ReadByte()
		if err != nil {
			break
		}

		instr := Instruction{Opcode: op, Offset: offset}

		switch op {
		case OpBlock, OpLoop, OpIf:
			bt, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: bt}

		case OpBr, OpBrIf:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{LabelIdx: idx}

		case OpBrTable:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			labels := make([]uint32, count)
			for i := uint32(0); i < count; i++ {
				labels[i], err = ReadLEB128u(r)
				if err != nil {
					return nil, err
				}
			}
			def, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BrTableImm{Labels: labels, Default: def}

		case OpCall:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{FuncIdx: idx}

		case OpCallIndirect:
			typeIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			tableIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = LocalImm{LocalIdx: idx}

		case OpGlobalGet, OpGlobalSet:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = GlobalImm{GlobalIdx: idx}

		case OpTableGet, OpTableSet:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = TableImm{TableIdx: idx}

		case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
			OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store,
			OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
			memImm, err := readMemArg(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = memImm

		case OpMemorySize, OpMemoryGrow:
			// Reserved byte: always zero without multi-memory.
			reserved, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if reserved != 0 {
				return nil, fmt.Errorf("offset %d: non-zero memory index %d on 0x%02x", offset, reserved, op)
			}

		case OpI32Const:
			val, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: val}

		case OpI64Const:
			val, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I64Imm{Value: val}

		case OpF32Const:
			var raw [4]byte
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Bits: binary.LittleEndian.Uint32(raw[:])}

		case OpF64Const:
			var raw [8]byte
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return nil, err
			}
			instr.Imm = F64Imm{Bits: binary.LittleEndian.Uint64(raw[:])}

		case OpRefNull:
			ht, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if ValType(ht) != ValFuncRef && ValType(ht) != ValExtern {
				return nil, fmt.Errorf("offset %d: ref.null heap type 0x%02x is outside the contracts profile", offset, ht)
			}
			instr.Imm = RefNullImm{HeapType: ValType(ht)}

		case OpRefFunc:
			funcIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = RefFuncImm{FuncIdx: funcIdx}

		case OpSelectType:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			types := make([]ValType, count)
			for i := uint32(0); i < count; i++ {
				t, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				if !ValType(t).Valid() {
					return nil, fmt.Errorf("offset %d: select type 0x%02x is outside the contracts profile", offset, t)
				}
				types[i] = ValType(t)
			}
			instr.Imm = SelectTypeImm{Types: types}

		// Instructions with no immediates.
		case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull,
			OpI32Eqz, OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
			OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
			OpI64Eqz, OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
			OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
			OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge,
			OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
			OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Add, OpI32Sub, OpI32Mul,
			OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
			OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
			OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Add, OpI64Sub, OpI64Mul,
			OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
			OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
			OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
			OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
			OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
			OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign,
			OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
			OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U,
			OpI64TruncF64S, OpI64TruncF64U,
			OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
			OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
			OpI32ReinterpF32, OpI64ReinterpF64, OpF32ReinterpI32, OpF64ReinterpI64,
			OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
			// No immediate

		case OpPrefixMisc:
			imm, err := decodeMiscImmediate(r)
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", offset, err)
			}
			instr.Imm = imm

		case OpPrefixSIMD:
			return nil, fmt.Errorf("offset %d: SIMD instructions (0xFD prefix) are outside the contracts profile", offset)

		case OpPrefixAtomic:
			return nil, fmt.Errorf("offset %d: atomic instructions (0xFE prefix) are outside the contracts profile", offset)

		case OpPrefixGC:
			return nil, fmt.Errorf("offset %d: GC instructions (0xFB prefix) are outside the contracts profile", offset)

		default:
			return nil, fmt.Errorf("offset %d: unknown opcode 0x%02x", offset, op)
		}

		instrs = append(instrs, instr)
	}

	return instrs, nil
}

func decodeMiscImmediate(r *bytes.Reader) (MiscImm, error) {
	subOp, err := ReadLEB128u(r)
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: subOp}

	switch subOp {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U,
		MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U,
		MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		// Saturating truncations carry no operands.

	case MiscMemoryInit:
		dataIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		memIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{dataIdx, memIdx}

	case MiscDataDrop, MiscElemDrop:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{idx}

	case MiscMemoryCopy:
		dst, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		src, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{dst, src}

	case MiscMemoryFill:
		memIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{memIdx}

	case MiscTableInit:
		elemIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		tableIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{elemIdx, tableIdx}

	case MiscTableCopy:
		dst, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		src, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{dst, src}

	case MiscTableGrow, MiscTableSize, MiscTableFill:
		tableIdx, err := ReadLEB128u(r)
		if err != nil {
			return MiscImm{}, err
		}
		imm.Operands = []uint32{tableIdx}

	default:
		return MiscImm{}, fmt.Errorf("unknown 0xFC sub-opcode 0x%02x", subOp)
	}

	return imm, nil
}

// EncodeInstructionTo appends the wire encoding of one instruction to buf.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf:
		imm := instr.Imm.(BlockImm)
		WriteLEB128s(buf, imm.Type)

	case OpBr, OpBrIf:
		imm := instr.Imm.(BranchImm)
		WriteLEB128u(buf, imm.LabelIdx)

	case OpBrTable:
		imm := instr.Imm.(BrTableImm)
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)

	case OpCall:
		imm := instr.Imm.(CallImm)
		WriteLEB128u(buf, imm.FuncIdx)

	case OpCallIndirect:
		imm := instr.Imm.(CallIndirectImm)
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		imm := instr.Imm.(LocalImm)
		WriteLEB128u(buf, imm.LocalIdx)

	case OpGlobalGet, OpGlobalSet:
		imm := instr.Imm.(GlobalImm)
		WriteLEB128u(buf, imm.GlobalIdx)

	case OpTableGet, OpTableSet:
		imm := instr.Imm.(TableImm)
		WriteLEB128u(buf, imm.TableIdx)

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		imm := instr.Imm.(MemoryImm)
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u(buf, imm.Offset)

	case OpMemorySize, OpMemoryGrow:
		buf.WriteByte(0)

	case OpI32Const:
		imm := instr.Imm.(I32Imm)
		WriteLEB128s(buf, imm.Value)

	case OpI64Const:
		imm := instr.Imm.(I64Imm)
		WriteLEB128s64(buf, imm.Value)

	case OpF32Const:
		imm := instr.Imm.(F32Imm)
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], imm.Bits)
		buf.Write(raw[:])

	case OpF64Const:
		imm := instr.Imm.(F64Imm)
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], imm.Bits)
		buf.Write(raw[:])

	case OpRefNull:
		imm := instr.Imm.(RefNullImm)
		buf.WriteByte(byte(imm.HeapType))

	case OpRefFunc:
		imm := instr.Imm.(RefFuncImm)
		WriteLEB128u(buf, imm.FuncIdx)

	case OpSelectType:
		imm := instr.Imm.(SelectTypeImm)
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}

	case OpPrefixMisc:
		imm := instr.Imm.(MiscImm)
		WriteLEB128u(buf, imm.SubOpcode)
		for _, op := range imm.Operands {
			WriteLEB128u(buf, op)
		}
	}
}

// EncodeInstructionsTo appends the wire encoding of each instruction to buf.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// AppendInstruction appends the encoding of a single instruction to dst.
func AppendInstruction(dst []byte, instr Instruction) []byte {
	var buf bytes.Buffer
	EncodeInstructionTo(&buf, &instr)
	return append(dst, buf.Bytes()...)
}

// EncodeInstructions encodes instructions to bytes.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3)
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}

func readMemArg(r *bytes.Reader) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	offset, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}
