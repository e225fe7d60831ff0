package wasm

import (
	"bytes"
	"strings"
	"testing"
)

func TestDecodeInstructions(t *testing.T) {
	// local.get 0, i32.const 1, i32.add, end
	code := []byte{0x20, 0x00, 0x41, 0x01, 0x6A, 0x0B}

	instrs, err := DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if len(instrs) != 4 {
		t.Fatalf("expected 4 instructions, got %d", len(instrs))
	}

	if instrs[0].Opcode != OpLocalGet {
		t.Errorf("instr 0: opcode 0x%02x, want local.get", instrs[0].Opcode)
	}
	if imm, ok := instrs[1].Imm.(I32Imm); !ok || imm.Value != 1 {
		t.Errorf("instr 1: imm %+v, want I32Imm{1}", instrs[1].Imm)
	}
	if instrs[2].Opcode != OpI32Add {
		t.Errorf("instr 2: opcode 0x%02x, want i32.add", instrs[2].Opcode)
	}
	if instrs[3].Opcode != OpEnd {
		t.Errorf("instr 3: opcode 0x%02x, want end", instrs[3].Opcode)
	}
}

func TestDecodeInstructionsOffsets(t *testing.T) {
	// i32.const 128 (2-byte LEB), drop, end
	code := []byte{0x41, 0x80, 0x01, 0x1A, 0x0B}

	instrs, err := DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	wantOffsets := []int{0, 3, 4}
	if len(instrs) != len(wantOffsets) {
		t.Fatalf("expected %d instructions, got %d", len(wantOffsets), len(instrs))
	}
	for i, want := range wantOffsets {
		if instrs[i].Offset != want {
			t.Errorf("instr %d: offset %d, want %d", i, instrs[i].Offset, want)
		}
	}
}

func TestDecodeInstructionsRejectsPrefixes(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"simd", []byte{0xFD, 0x00, 0x0B}},
		{"atomic", []byte{0xFE, 0x00, 0x0B}},
		{"gc", []byte{0xFB, 0x00, 0x0B}},
		{"unknown", []byte{0x27, 0x0B}},
		{"unknown misc", []byte{0xFC, 0x20, 0x0B}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInstructions(tt.code); err == nil {
				t.Errorf("expected decode error for % x", tt.code)
			}
		})
	}
}

func TestDecodeInstructionsMemoryGrowReserved(t *testing.T) {
	// memory.grow with non-zero reserved byte.
	if _, err := DecodeInstructions([]byte{0x40, 0x01, 0x0B}); err == nil {
		t.Error("expected error for non-zero memory index")
	}
	if _, err := DecodeInstructions([]byte{0x40, 0x00, 0x0B}); err != nil {
		t.Errorf("memory.grow with zero reserved byte: %v", err)
	}
}

func TestInstructionRoundTrip(t *testing.T) {
	// A body exercising each immediate shape.
	var buf bytes.Buffer
	buf.Write([]byte{0x02, 0x40})             // block (void)
	buf.Write([]byte{0x41, 0x81, 0x00})       // i32.const 1, non-minimal LEB
	buf.Write([]byte{0x0D, 0x00})             // br_if 0
	buf.Write([]byte{0x0B})                   // end
	buf.Write([]byte{0x10, 0x02})             // call 2
	buf.Write([]byte{0x11, 0x01, 0x00})       // call_indirect type 1 table 0
	buf.Write([]byte{0x28, 0x02, 0x10})       // i32.load align=2 offset=16
	buf.Write([]byte{0xFC, 0x0A, 0x00, 0x00}) // memory.copy
	buf.Write([]byte{0xD0, 0x70})             // ref.null funcref
	buf.Write([]byte{0x0B})                   // end

	instrs, err := DecodeInstructions(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}

	encoded := EncodeInstructions(instrs)
	reDecoded, err := DecodeInstructions(encoded)
	if err != nil {
		t.Fatalf("decode re-encoded stream: %v", err)
	}
	if len(reDecoded) != len(instrs) {
		t.Fatalf("re-decode produced %d instructions, want %d", len(reDecoded), len(instrs))
	}
	for i := range instrs {
		if reDecoded[i].Opcode != instrs[i].Opcode {
			t.Errorf("instr %d: opcode 0x%02x, want 0x%02x", i, reDecoded[i].Opcode, instrs[i].Opcode)
		}
	}

	// Re-encoding is minimal: the non-minimal i32.const shrinks by one byte.
	if len(encoded) != buf.Len()-1 {
		t.Errorf("encoded length %d, want %d", len(encoded), buf.Len()-1)
	}
}

func TestFloatConstBitsPreserved(t *testing.T) {
	// f32.const with a NaN payload that float conversion would not keep.
	code := []byte{0x43, 0x01, 0x00, 0xC0, 0x7F, 0x0B}

	instrs, err := DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	imm, ok := instrs[0].Imm.(F32Imm)
	if !ok {
		t.Fatalf("expected F32Imm, got %T", instrs[0].Imm)
	}
	if imm.Bits != 0x7FC00001 {
		t.Errorf("bits 0x%08X, want 0x7FC00001", imm.Bits)
	}

	if got := EncodeInstructions(instrs); !bytes.Equal(got, code) {
		t.Errorf("re-encode changed bytes: % x, want % x", got, code)
	}
}

func TestInstructionFloatName(t *testing.T) {
	instrs, err := DecodeInstructions([]byte{0x43, 0x00, 0x00, 0x00, 0x00, 0x92, 0x1A, 0x0B})
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}

	name, ok := instrs[0].FloatName()
	if !ok || name != "f32.const" {
		t.Errorf("FloatName = %q, %v, want f32.const", name, ok)
	}
	name, ok = instrs[1].FloatName()
	if !ok || name != "f32.add" {
		t.Errorf("FloatName = %q, %v, want f32.add", name, ok)
	}
	if _, ok := instrs[2].FloatName(); ok {
		t.Error("drop should not report a float name")
	}

	// Saturating truncations count as float ops.
	instrs, err = DecodeInstructions([]byte{0xFC, 0x00, 0x0B})
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	name, ok = instrs[0].FloatName()
	if !ok || !strings.HasPrefix(name, "i32.trunc_sat") {
		t.Errorf("FloatName = %q, %v, want i32.trunc_sat prefix", name, ok)
	}
}

func TestGetCallTarget(t *testing.T) {
	instrs, err := DecodeInstructions([]byte{0x10, 0x05, 0x0B})
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}

	target, ok := instrs[0].GetCallTarget()
	if !ok || target != 5 {
		t.Errorf("GetCallTarget = %d, %v, want 5, true", target, ok)
	}
	if _, ok := instrs[1].GetCallTarget(); ok {
		t.Error("end should not have a call target")
	}
}
