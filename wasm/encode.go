package wasm

import (
	"github.com/MaciejBaj/cargo-contract/wasm/internal/binary"
)

// Encode serializes the module to the WebAssembly binary format. Output is
// deterministic: sections and entries are emitted in the order held by the
// module's slices, and every LEB128 integer is minimally encoded, so two
// calls on the same module produce identical bytes.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		writeSection(w, SectionType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, encodeImportSection(m))
	}
	if len(m.Funcs) > 0 {
		writeSection(w, SectionFunction, encodeFunctionSection(m))
	}
	if len(m.Tables) > 0 {
		writeSection(w, SectionTable, encodeTableSection(m))
	}
	if len(m.Memories) > 0 {
		writeSection(w, SectionMemory, encodeMemorySection(m))
	}
	if len(m.Globals) > 0 {
		writeSection(w, SectionGlobal, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		writeSection(w, SectionExport, encodeExportSection(m))
	}
	if m.Start != nil {
		sw := binary.NewWriter()
		sw.WriteU32(*m.Start)
		writeSection(w, SectionStart, sw.Bytes())
	}
	if len(m.Elements) > 0 {
		writeSection(w, SectionElement, encodeElementSection(m))
	}
	if m.DataCount != nil {
		dw := binary.NewWriter()
		dw.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, dw.Bytes())
	}
	if len(m.Code) > 0 {
		writeSection(w, SectionCode, encodeCodeSection(m))
	}
	if len(m.Data) > 0 {
		writeSection(w, SectionData, encodeDataSection(m))
	}
	for _, cs := range m.CustomSections {
		writeSection(w, SectionCustom, encodeCustomSection(cs))
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func encodeTypeSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Types)))
	for _, ft := range m.Types {
		w.Byte(FuncTypeByte)
		writeValTypes(w, ft.Params)
		writeValTypes(w, ft.Results)
	}
	return w.Bytes()
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func encodeImportSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		w.Byte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			w.WriteU32(imp.Desc.TypeIdx)
		case KindTable:
			writeTableType(w, *imp.Desc.Table)
		case KindMemory:
			writeLimits(w, imp.Desc.Memory.Limits)
		case KindGlobal:
			writeGlobalType(w, *imp.Desc.Global)
		}
	}
	return w.Bytes()
}

func encodeFunctionSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		w.WriteU32(typeIdx)
	}
	return w.Bytes()
}

func encodeTableSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Tables)))
	for _, t := range m.Tables {
		writeTableType(w, t)
	}
	return w.Bytes()
}

func encodeMemorySection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Memories)))
	for _, mem := range m.Memories {
		writeLimits(w, mem.Limits)
	}
	return w.Bytes()
}

func encodeGlobalSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		writeGlobalType(w, g.Type)
		w.WriteBytes(g.Init)
	}
	return w.Bytes()
}

func encodeExportSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		w.WriteName(e.Name)
		w.Byte(e.Kind)
		w.WriteU32(e.Idx)
	}
	return w.Bytes()
}

func encodeElementSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Elements)))
	for _, elem := range m.Elements {
		w.WriteU32(elem.Flags)
		if elem.Flags == 2 {
			w.WriteU32(elem.TableIdx)
		}
		if elem.Flags&0x01 == 0 {
			w.WriteBytes(elem.Offset)
		}
		if elem.Flags != 0 {
			w.Byte(elem.ElemKind)
		}
		w.WriteU32(uint32(len(elem.FuncIdxs)))
		for _, idx := range elem.FuncIdxs {
			w.WriteU32(idx)
		}
	}
	return w.Bytes()
}

func encodeCodeSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Code)))
	for _, body := range m.Code {
		bw := binary.NewWriter()
		bw.WriteU32(uint32(len(body.Locals)))
		for _, local := range body.Locals {
			bw.WriteU32(local.Count)
			bw.Byte(byte(local.ValType))
		}
		bw.WriteBytes(body.Code)

		w.WriteU32(uint32(bw.Len()))
		w.WriteBytes(bw.Bytes())
	}
	return w.Bytes()
}

func encodeDataSection(m *Module) []byte {
	w := binary.NewWriter()
	w.WriteU32(uint32(len(m.Data)))
	for _, seg := range m.Data {
		w.WriteU32(seg.Flags)
		if seg.Flags == 2 {
			w.WriteU32(seg.MemIdx)
		}
		if seg.Flags != 1 {
			w.WriteBytes(seg.Offset)
		}
		w.WriteU32(uint32(len(seg.Init)))
		w.WriteBytes(seg.Init)
	}
	return w.Bytes()
}

func encodeCustomSection(cs CustomSection) []byte {
	w := binary.NewWriter()
	w.WriteName(cs.Name)
	w.WriteBytes(cs.Data)
	return w.Bytes()
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
	} else {
		w.Byte(0x00)
		w.WriteU32(l.Min)
	}
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(0x01)
	} else {
		w.Byte(0x00)
	}
}
