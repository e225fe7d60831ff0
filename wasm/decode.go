package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/MaciejBaj/cargo-contract/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("not a wasm module: bad magic")
	ErrInvalidVersion = errors.New("unsupported wasm binary version")
)

// ParseModule parses a WebAssembly binary into a Module, enforcing the
// contracts profile: canonical section order, no duplicate sections, and no
// constructs from proposals the execution environment rejects wholesale.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("module preamble", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("module preamble", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Non-custom sections must appear at most once, in increasing order of
	// section ID. DataCount (12) is the one exception to ID ordering: it
	// sits between Element and Code.
	lastOrder := 0

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section id and size", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order < 0 {
				return nil, r.WrapError(SectionName(sectionID),
					fmt.Errorf("unknown section ID 0x%02x", sectionID))
			}
			if order <= lastOrder {
				return nil, r.WrapError(SectionName(sectionID),
					fmt.Errorf("section appears out of order or twice"))
			}
			lastOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section id and size", err)
		}
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError(SectionName(sectionID), fmt.Errorf("truncated section: %w", err))
		}

		sr := binary.NewReader(bytes.NewReader(sectionData))
		if err := parseSection(sr, sectionID, m); err != nil {
			return nil, sectionErr(sectionID, sr, err)
		}
		if sr.Len() > 0 {
			return nil, sectionErr(sectionID, sr,
				fmt.Errorf("%d trailing bytes after section content", sr.Len()))
		}
	}

	return m, nil
}

func sectionErr(id byte, r *binary.Reader, err error) error {
	var pe *binary.ParseError
	if errors.As(err, &pe) {
		return err
	}
	return r.WrapError(SectionName(id), err)
}

// sectionOrder returns the canonical position for a section ID, or -1 for
// unknown IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return -1
	}
}

func parseSection(r *binary.Reader, id byte, m *Module) error {
	switch id {
	case SectionCustom:
		return parseCustomSection(r, m)
	case SectionType:
		return parseTypeSection(r, m)
	case SectionImport:
		return parseImportSection(r, m)
	case SectionFunction:
		return parseFunctionSection(r, m)
	case SectionTable:
		return parseTableSection(r, m)
	case SectionMemory:
		return parseMemorySection(r, m)
	case SectionGlobal:
		return parseGlobalSection(r, m)
	case SectionExport:
		return parseExportSection(r, m)
	case SectionStart:
		return parseStartSection(r, m)
	case SectionElement:
		return parseElementSection(r, m)
	case SectionCode:
		return parseCodeSection(r, m)
	case SectionData:
		return parseDataSection(r, m)
	case SectionDataCount:
		return parseDataCountSection(r, m)
	default:
		return fmt.Errorf("unknown section ID 0x%02x", id)
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x is outside the contracts profile (want functype 0x60)", i, form)
		}
		m.Types[i], err = readFuncType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	v := ValType(b)
	if !v.Valid() {
		return 0, fmt.Errorf("value type 0x%02x is outside the contracts profile", b)
	}
	return v, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("import %d (%s.%s): unknown kind %d", i, module, name, kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: globalType, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: invalid kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 3 {
			return fmt.Errorf("element %d: expression segments (flags %d) are outside the contracts profile", i, flags)
		}

		elem := Element{Flags: flags}

		if flags == 2 {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if flags&0x01 == 0 {
			elem.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}
		if flags != 0 {
			elem.ElemKind, err = r.ReadByte()
			if err != nil {
				return err
			}
			if elem.ElemKind != 0x00 {
				return fmt.Errorf("element %d: elemkind 0x%02x (want funcref)", i, elem.ElemKind)
			}
		}

		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}
		elem.FuncIdxs = make([]uint32, vecCount)
		for j := uint32(0); j < vecCount; j++ {
			elem.FuncIdxs[j], err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return fmt.Errorf("function body %d truncated: %w", i, err)
		}

		br := binary.NewReader(bytes.NewReader(bodyData))

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return fmt.Errorf("function body %d: %w", i, err)
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}

		code, err := br.ReadRemaining()
		if err != nil {
			return err
		}

		// Verify decodability once here so later stages can assume every
		// body is made of profile instructions.
		if _, err := DecodeInstructions(code); err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}

		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("data segment %d: invalid flags %d", i, flags)
		}

		seg := DataSegment{Flags: flags}

		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if flags != 1 {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return fmt.Errorf("data segment %d truncated: %w", i, err)
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax {
		return Limits{}, fmt.Errorf("limits flags 0x%02x are outside the contracts profile", flags)
	}

	var l Limits
	l.Min, err = r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits: min %d greater than max %d", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if elemType != ValFuncRef && elemType != ValExtern {
		return TableType{}, fmt.Errorf("table element type %s (want a reference type)", elemType)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag 0x%02x", mut)
	}
	return GlobalType{ValType: valType, Mutable: mut != 0}, nil
}

// readInitExpr copies a constant expression verbatim, up to and including
// the end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		if err := echoConstImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func echoConstImmediate(r *binary.Reader, buf *bytes.Buffer, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		return echoVarint(r, buf)
	case OpF32Const:
		return echoFixed(r, buf, 4)
	case OpF64Const:
		return echoFixed(r, buf, 8)
	default:
		return fmt.Errorf("opcode 0x%02x is not a profile constant expression", opcode)
	}
}

func echoVarint(r *binary.Reader, buf *bytes.Buffer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			break
		}
	}
	return nil
}

func echoFixed(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
