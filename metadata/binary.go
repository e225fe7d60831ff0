package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/MaciejBaj/cargo-contract/errors"
)

// Binary format header.
var binaryMagic = [4]byte{'c', 'm', 'e', 't'}

const (
	binarySchemaVersion uint16 = 1
	binaryFormatTag     byte   = 0x01
)

// EncodeBinary serializes the interface into the compact on-chain form.
// Every length is a u32 little-endian, every discriminant fixed-width, and
// everything is emitted in slice order, so identical interfaces produce
// identical bytes.
func EncodeBinary(iface *Interface) []byte {
	var buf bytes.Buffer

	buf.Write(binaryMagic[:])
	writeU16(&buf, binarySchemaVersion)
	buf.WriteByte(binaryFormatTag)

	writeString(&buf, iface.Name)
	writeString(&buf, iface.Version)
	writeU32(&buf, uint32(len(iface.Authors)))
	for _, a := range iface.Authors {
		writeString(&buf, a)
	}

	writeU32(&buf, uint32(len(iface.Types)))
	for _, t := range iface.Types {
		buf.WriteByte(byte(t.Kind))
		writeString(&buf, t.Name)
		writeU32(&buf, uint32(len(t.Fields)))
		for _, f := range t.Fields {
			writeString(&buf, f.Name)
			writeU32(&buf, f.Type)
		}
		writeU32(&buf, uint32(len(t.Variants)))
		for _, v := range t.Variants {
			writeString(&buf, v.Name)
			writeU32(&buf, uint32(len(v.Fields)))
			for _, f := range v.Fields {
				writeString(&buf, f.Name)
				writeU32(&buf, f.Type)
			}
		}
		writeU32(&buf, t.Elem)
		writeU32(&buf, uint32(len(t.Elems)))
		for _, e := range t.Elems {
			writeU32(&buf, e)
		}
	}

	writeU32(&buf, uint32(len(iface.Constructors)))
	for _, c := range iface.Constructors {
		writeString(&buf, c.Name)
		buf.Write(c.Selector[:])
		writeArgs(&buf, c.Args)
	}

	writeU32(&buf, uint32(len(iface.Messages)))
	for _, m := range iface.Messages {
		writeString(&buf, m.Name)
		buf.Write(m.Selector[:])
		writeArgs(&buf, m.Args)
		writeU32(&buf, m.Returns)
		if m.Mutates {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	writeU32(&buf, uint32(len(iface.Events)))
	for _, ev := range iface.Events {
		writeString(&buf, ev.Name)
		writeU32(&buf, uint32(len(ev.Fields)))
		for _, f := range ev.Fields {
			writeString(&buf, f.Name)
			writeU32(&buf, f.Type)
			if f.Indexed {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}

	return buf.Bytes()
}

// DecodeBinary parses the compact form. It is strict: a bad header, a
// truncated field, an out-of-range type reference, or trailing bytes all
// fail.
func DecodeBinary(data []byte) (*Interface, error) {
	r := &binReader{data: data}

	var magic [4]byte
	if err := r.read(magic[:]); err != nil {
		return nil, decodeErr(err)
	}
	if magic != binaryMagic {
		return nil, decodeErr(fmt.Errorf("bad magic % x", magic))
	}
	version, err := r.u16()
	if err != nil {
		return nil, decodeErr(err)
	}
	if version != binarySchemaVersion {
		return nil, decodeErr(fmt.Errorf("unsupported schema version %d", version))
	}
	tag, err := r.byte()
	if err != nil {
		return nil, decodeErr(err)
	}
	if tag != binaryFormatTag {
		return nil, decodeErr(fmt.Errorf("unsupported format tag 0x%02x", tag))
	}

	iface := &Interface{}
	if iface.Name, err = r.str(); err != nil {
		return nil, decodeErr(err)
	}
	if iface.Version, err = r.str(); err != nil {
		return nil, decodeErr(err)
	}

	authorCount, err := r.count()
	if err != nil {
		return nil, decodeErr(err)
	}
	for i := 0; i < authorCount; i++ {
		a, err := r.str()
		if err != nil {
			return nil, decodeErr(err)
		}
		iface.Authors = append(iface.Authors, a)
	}

	typeCount, err := r.count()
	if err != nil {
		return nil, decodeErr(err)
	}
	for i := 0; i < typeCount; i++ {
		t, err := r.typeEntry()
		if err != nil {
			return nil, decodeErr(fmt.Errorf("type %d: %w", i, err))
		}
		iface.Types = append(iface.Types, t)
	}

	ctorCount, err := r.count()
	if err != nil {
		return nil, decodeErr(err)
	}
	for i := 0; i < ctorCount; i++ {
		var c Constructor
		if c.Name, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if err = r.read(c.Selector[:]); err != nil {
			return nil, decodeErr(err)
		}
		if c.Args, err = r.args(); err != nil {
			return nil, decodeErr(err)
		}
		iface.Constructors = append(iface.Constructors, c)
	}

	msgCount, err := r.count()
	if err != nil {
		return nil, decodeErr(err)
	}
	for i := 0; i < msgCount; i++ {
		var m Message
		if m.Name, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		if err = r.read(m.Selector[:]); err != nil {
			return nil, decodeErr(err)
		}
		if m.Args, err = r.args(); err != nil {
			return nil, decodeErr(err)
		}
		if m.Returns, err = r.u32(); err != nil {
			return nil, decodeErr(err)
		}
		mutates, err := r.byte()
		if err != nil {
			return nil, decodeErr(err)
		}
		if mutates > 1 {
			return nil, decodeErr(fmt.Errorf("message %s: invalid mutates flag 0x%02x", m.Name, mutates))
		}
		m.Mutates = mutates == 1
		iface.Messages = append(iface.Messages, m)
	}

	eventCount, err := r.count()
	if err != nil {
		return nil, decodeErr(err)
	}
	for i := 0; i < eventCount; i++ {
		var ev Event
		if ev.Name, err = r.str(); err != nil {
			return nil, decodeErr(err)
		}
		fieldCount, err := r.count()
		if err != nil {
			return nil, decodeErr(err)
		}
		for j := 0; j < fieldCount; j++ {
			var f EventField
			if f.Name, err = r.str(); err != nil {
				return nil, decodeErr(err)
			}
			if f.Type, err = r.u32(); err != nil {
				return nil, decodeErr(err)
			}
			indexed, err := r.byte()
			if err != nil {
				return nil, decodeErr(err)
			}
			if indexed > 1 {
				return nil, decodeErr(fmt.Errorf("event %s field %s: invalid indexed flag", ev.Name, f.Name))
			}
			f.Indexed = indexed == 1
			ev.Fields = append(ev.Fields, f)
		}
		iface.Events = append(iface.Events, ev)
	}

	if r.remaining() != 0 {
		return nil, decodeErr(fmt.Errorf("%d trailing bytes", r.remaining()))
	}

	if err := checkRefs(iface); err != nil {
		return nil, decodeErr(err)
	}
	return iface, nil
}

// checkRefs verifies every TypeID points into the registry.
func checkRefs(iface *Interface) error {
	n := uint32(len(iface.Types))
	ok := func(id TypeID) bool { return id < n }

	for i, t := range iface.Types {
		for _, f := range t.Fields {
			if !ok(f.Type) {
				return fmt.Errorf("type %d: field %s references type %d out of range", i, f.Name, f.Type)
			}
		}
		for _, v := range t.Variants {
			for _, f := range v.Fields {
				if !ok(f.Type) {
					return fmt.Errorf("type %d: variant %s references type %d out of range", i, v.Name, f.Type)
				}
			}
		}
		if t.Kind == KindSequence && !ok(t.Elem) {
			return fmt.Errorf("type %d: element type %d out of range", i, t.Elem)
		}
		for _, e := range t.Elems {
			if !ok(e) {
				return fmt.Errorf("type %d: tuple element %d out of range", i, e)
			}
		}
	}
	for _, c := range iface.Constructors {
		for _, a := range c.Args {
			if !ok(a.Type) {
				return fmt.Errorf("constructor %s: argument %s references type %d out of range", c.Name, a.Name, a.Type)
			}
		}
	}
	for _, m := range iface.Messages {
		for _, a := range m.Args {
			if !ok(a.Type) {
				return fmt.Errorf("message %s: argument %s references type %d out of range", m.Name, a.Name, a.Type)
			}
		}
		if m.Returns != NoType && !ok(m.Returns) {
			return fmt.Errorf("message %s: return type %d out of range", m.Name, m.Returns)
		}
	}
	for _, ev := range iface.Events {
		for _, f := range ev.Fields {
			if !ok(f.Type) {
				return fmt.Errorf("event %s: field %s references type %d out of range", ev.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

func decodeErr(err error) error {
	return errors.InvalidInput(errors.StageMetadata, "decode metadata", err)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeArgs(buf *bytes.Buffer, args []Arg) {
	writeU32(buf, uint32(len(args)))
	for _, a := range args {
		writeString(buf, a.Name)
		writeU32(buf, a.Type)
	}
}

// binReader is a strict cursor over the encoded bytes.
type binReader struct {
	data []byte
	pos  int
}

func (r *binReader) remaining() int { return len(r.data) - r.pos }

func (r *binReader) read(dst []byte) error {
	if r.remaining() < len(dst) {
		return io.ErrUnexpectedEOF
	}
	copy(dst, r.data[r.pos:])
	r.pos += len(dst)
	return nil
}

func (r *binReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *binReader) u16() (uint16, error) {
	var b [2]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *binReader) u32() (uint32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// count reads a u32 length and bounds it against the remaining input so a
// hostile length cannot drive a huge allocation.
func (r *binReader) count() (int, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || int(v) > r.remaining() {
		return 0, fmt.Errorf("count %d exceeds remaining input", v)
	}
	return int(v), nil
}

func (r *binReader) str() (string, error) {
	n, err := r.count()
	if err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *binReader) args() ([]Arg, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	var args []Arg
	for i := 0; i < n; i++ {
		var a Arg
		if a.Name, err = r.str(); err != nil {
			return nil, err
		}
		if a.Type, err = r.u32(); err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func (r *binReader) typeEntry() (Type, error) {
	var t Type
	kind, err := r.byte()
	if err != nil {
		return t, err
	}
	if kind > byte(KindTuple) {
		return t, fmt.Errorf("unknown kind 0x%02x", kind)
	}
	t.Kind = TypeKind(kind)

	if t.Name, err = r.str(); err != nil {
		return t, err
	}

	fieldCount, err := r.count()
	if err != nil {
		return t, err
	}
	for i := 0; i < fieldCount; i++ {
		var f Field
		if f.Name, err = r.str(); err != nil {
			return t, err
		}
		if f.Type, err = r.u32(); err != nil {
			return t, err
		}
		t.Fields = append(t.Fields, f)
	}

	variantCount, err := r.count()
	if err != nil {
		return t, err
	}
	for i := 0; i < variantCount; i++ {
		var v Variant
		if v.Name, err = r.str(); err != nil {
			return t, err
		}
		vFieldCount, err := r.count()
		if err != nil {
			return t, err
		}
		for j := 0; j < vFieldCount; j++ {
			var f Field
			if f.Name, err = r.str(); err != nil {
				return t, err
			}
			if f.Type, err = r.u32(); err != nil {
				return t, err
			}
			v.Fields = append(v.Fields, f)
		}
		t.Variants = append(t.Variants, v)
	}

	if t.Elem, err = r.u32(); err != nil {
		return t, err
	}
	elemCount, err := r.count()
	if err != nil {
		return t, err
	}
	for i := 0; i < elemCount; i++ {
		e, err := r.u32()
		if err != nil {
			return t, err
		}
		t.Elems = append(t.Elems, e)
	}

	return t, nil
}
