package wasm

import (
	"bytes"
	"errors"
	"io"
)

// LEB128 codecs for the instruction stream. Writers always emit the minimal
// form; a non-minimal immediate would re-encode to different bytes and break
// encoding determinism.

// ErrOverflow is returned when a LEB128 value exceeds its declared bit width.
var ErrOverflow = errors.New("leb128: overflow")

// ReadLEB128u reads an unsigned 32-bit LEB128 value.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	var v uint32
	for shift := uint(0); ; shift += 7 {
		if shift >= 35 {
			return 0, ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// ReadLEB128s reads a signed 32-bit LEB128 value.
func ReadLEB128s(r io.ByteReader) (int32, error) {
	var v int32
	for shift := uint(0); ; {
		if shift >= 35 {
			return 0, ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int32(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				v |= ^int32(0) << shift
			}
			return v, nil
		}
	}
}

// ReadLEB128s64 reads a signed 64-bit LEB128 value.
func ReadLEB128s64(r io.ByteReader) (int64, error) {
	var v int64
	for shift := uint(0); ; {
		if shift >= 70 {
			return 0, ErrOverflow
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= ^int64(0) << shift
			}
			return v, nil
		}
	}
}

// WriteLEB128u writes an unsigned 32-bit LEB128 value.
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	for v >= 0x80 {
		w.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.WriteByte(byte(v))
}

// WriteLEB128s writes a signed 32-bit LEB128 value.
func WriteLEB128s(w *bytes.Buffer, v int32) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

// WriteLEB128s64 writes a signed 64-bit LEB128 value.
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}

// EncodeLEB128u renders v as minimal unsigned LEB128 bytes.
func EncodeLEB128u(v uint32) []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, v)
	return buf.Bytes()
}
