package binary

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(bytes.NewReader(data))

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	_, err := r.ReadByte()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderReadU32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		r := NewReader(bytes.NewReader(tt.encoded))
		got, err := r.ReadU32()
		if err != nil {
			t.Errorf("ReadU32(%v): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadU32(%v): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReaderReadU32Overflow(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	_, err := r.ReadU32()
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestReaderReadS32(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x40}, -64},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x80, 0x7f}, -128},
	}

	for _, tt := range tests {
		r := NewReader(bytes.NewReader(tt.encoded))
		got, err := r.ReadS32()
		if err != nil {
			t.Errorf("ReadS32(%v): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadS32(%v): got %d, want %d", tt.encoded, got, tt.want)
		}
	}
}

func TestReaderReadName(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x04, 'c', 'a', 'l', 'l'}))
	name, err := r.ReadName()
	if err != nil {
		t.Fatalf("ReadName: %v", err)
	}
	if name != "call" {
		t.Errorf("ReadName: got %q, want %q", name, "call")
	}
}

func TestReaderReadNameInvalidUTF8(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x02, 0xff, 0xfe}))
	if _, err := r.ReadName(); err == nil {
		t.Error("expected error for invalid UTF-8 name")
	}
}

func TestWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0x6D736100)
	w.WriteU32(624485)
	w.WriteS32(-64)
	w.WriteName("deploy")
	w.Byte(0x0B)

	r := NewReader(bytes.NewReader(w.Bytes()))
	if v, _ := r.ReadU32LE(); v != 0x6D736100 {
		t.Errorf("u32le: got 0x%x", v)
	}
	if v, _ := r.ReadU32(); v != 624485 {
		t.Errorf("u32: got %d", v)
	}
	if v, _ := r.ReadS32(); v != -64 {
		t.Errorf("s32: got %d", v)
	}
	if name, _ := r.ReadName(); name != "deploy" {
		t.Errorf("name: got %q", name)
	}
	if b, _ := r.ReadByte(); b != 0x0B {
		t.Errorf("byte: got 0x%02x", b)
	}
}

func TestWriterMinimalLEB(t *testing.T) {
	// Deterministic encoding requires minimal LEB forms.
	w := NewWriter()
	w.WriteU32(0)
	w.WriteU32(127)
	w.WriteU32(128)
	want := []byte{0x00, 0x7f, 0x80, 0x01}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %v, want %v", w.Bytes(), want)
	}
}

func TestParseError(t *testing.T) {
	inner := errors.New("boom")
	r := NewReader(bytes.NewReader([]byte{0x01}))
	_, _ = r.ReadByte()
	err := r.WrapError("import section", inner)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatal("expected *ParseError")
	}
	if pe.Section != "import section" || pe.Position != 1 {
		t.Errorf("unexpected fields: %+v", pe)
	}
	if !errors.Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}
