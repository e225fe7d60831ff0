// Package binary provides position-tracking readers and deterministic
// writers for the WebAssembly binary format.
package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrOverflow is returned when a LEB128 value exceeds its bit width.
var ErrOverflow = errors.New("leb128: overflow")

// Reader consumes WASM binary input while tracking the byte position, so
// every parse failure can name where in the input it happened.
type Reader struct {
	r   io.ByteReader
	pos int
}

// NewReader wraps r. Position starts at zero.
func NewReader(r io.ByteReader) *Reader {
	return &Reader{r: r}
}

// Position returns how many bytes have been consumed.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes when the underlying reader is a
// bytes.Reader, or -1 otherwise.
func (r *Reader) Len() int {
	if br, ok := r.r.(*bytes.Reader); ok {
		return br.Len()
	}
	return -1
}

// ReadByte consumes one byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err == nil {
		r.pos++
	}
	return b, err
}

// ReadBytes consumes exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if br, ok := r.r.(io.Reader); ok {
		read, err := io.ReadFull(br, buf)
		r.pos += read
		if err != nil {
			return nil, err
		}
		return buf, nil
	}
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// ReadU32 consumes an unsigned LEB128 uint32. At most five bytes
// participate; longer runs overflow.
func (r *Reader) ReadU32() (uint32, error) {
	var v uint32
	for shift := uint(0); ; shift += 7 {
		if shift >= 35 {
			return 0, fmt.Errorf("at position %d: %w", r.pos, ErrOverflow)
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

// ReadS32 consumes a signed LEB128 int32.
func (r *Reader) ReadS32() (int32, error) {
	var v int32
	var shift uint
	for {
		if shift >= 35 {
			return 0, fmt.Errorf("at position %d: %w", r.pos, ErrOverflow)
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

// ReadU32LE consumes a fixed-width little-endian uint32 (the header's magic
// and version fields).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadName consumes a length-prefixed name and checks it is valid UTF-8.
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("at position %d: name is not valid UTF-8", r.pos)
	}
	return string(data), nil
}

// ReadRemaining consumes everything left in the input.
func (r *Reader) ReadRemaining() ([]byte, error) {
	if n := r.Len(); n >= 0 {
		return r.ReadBytes(n)
	}
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
	}
}

// ParseError is a parse failure tagged with the section and byte position.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError tags err with the named section and the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{Section: section, Position: r.pos, Err: err}
}
