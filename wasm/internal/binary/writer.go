package binary

import (
	"bytes"
	"encoding/binary"
)

// Writer accumulates WASM binary output. The bytes depend only on the call
// sequence, never on map iteration or pointer identity, which is what makes
// module encoding deterministic.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns everything written so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte appends one byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes appends a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU32 appends v as minimal unsigned LEB128. Minimality matters:
// non-minimal forms would encode the same module to different bytes.
func (w *Writer) WriteU32(v uint32) {
	for v >= 0x80 {
		w.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.buf.WriteByte(byte(v))
}

// WriteS32 appends v as minimal signed LEB128.
func (w *Writer) WriteS32(v int32) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf.WriteByte(b)
			return
		}
		w.buf.WriteByte(b | 0x80)
	}
}

// WriteName appends a length-prefixed name.
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteU32LE appends a fixed-width little-endian uint32.
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}
