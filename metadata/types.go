// Package metadata extracts a contract's callable interface from the
// introspection document the toolchain emits, and encodes it in a compact
// binary form and an equivalent JSON form.
package metadata

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TypeID indexes into an Interface's interned type registry.
type TypeID = uint32

// NoType marks an absent type reference (a message without a return value).
const NoType = ^TypeID(0)

// TypeKind discriminates registry entries.
type TypeKind uint8

const (
	KindPrimitive TypeKind = iota
	KindComposite
	KindVariant
	KindSequence
	KindTuple
)

func (k TypeKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComposite:
		return "composite"
	case KindVariant:
		return "variant"
	case KindSequence:
		return "sequence"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Type is one interned registry entry. Which fields are meaningful depends
// on Kind: primitives carry only Name, composites carry Fields, variants
// carry Variants, sequences carry Elem, tuples carry Elems.
type Type struct {
	Name     string    `json:"name,omitempty"`
	Fields   []Field   `json:"fields,omitempty"`
	Variants []Variant `json:"variants,omitempty"`
	Elems    []TypeID  `json:"elems,omitempty"`
	Elem     TypeID    `json:"elem,omitempty"`
	Kind     TypeKind  `json:"kind"`
}

// Field is a named member of a composite or variant case.
type Field struct {
	Name string `json:"name"`
	Type TypeID `json:"type"`
}

// Variant is one case of a variant type.
type Variant struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields,omitempty"`
}

// Selector is the 4-byte dispatch selector of a constructor or message.
type Selector [4]byte

// MarshalText renders the selector as 0x-prefixed hex.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(s[:])), nil
}

// UnmarshalText parses a 0x-prefixed 8-digit hex selector.
func (s *Selector) UnmarshalText(text []byte) error {
	str := strings.TrimPrefix(string(text), "0x")
	raw, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("selector %q: %w", text, err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("selector %q: want 4 bytes, got %d", text, len(raw))
	}
	copy(s[:], raw)
	return nil
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Arg is a named, typed parameter of a constructor or message.
type Arg struct {
	Name string `json:"name"`
	Type TypeID `json:"type"`
}

// Constructor instantiates the contract.
type Constructor struct {
	Name     string   `json:"name"`
	Args     []Arg    `json:"args,omitempty"`
	Selector Selector `json:"selector"`
}

// Message is a callable entry point on a deployed contract.
type Message struct {
	Name     string   `json:"name"`
	Args     []Arg    `json:"args,omitempty"`
	Returns  TypeID   `json:"returns"`
	Selector Selector `json:"selector"`
	Mutates  bool     `json:"mutates"`
}

// EventField is one field of an emitted event. Indexed fields become topics.
type EventField struct {
	Name    string `json:"name"`
	Type    TypeID `json:"type"`
	Indexed bool   `json:"indexed"`
}

// Event is an event the contract can emit.
type Event struct {
	Name   string       `json:"name"`
	Fields []EventField `json:"fields,omitempty"`
}

// Interface is the extracted contract interface. Types is the interned
// registry; all TypeID references point into it. Declaration order of
// constructors, messages, and events follows the introspection document.
type Interface struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Authors      []string      `json:"authors,omitempty"`
	Types        []Type        `json:"types"`
	Constructors []Constructor `json:"constructors"`
	Messages     []Message     `json:"messages"`
	Events       []Event       `json:"events,omitempty"`
}

// typeEqual compares two registry entries structurally. Children are
// compared by interned ID, so equality is well-defined once children are
// interned.
func typeEqual(a, b Type) bool {
	if a.Kind != b.Kind || a.Name != b.Name || a.Elem != b.Elem {
		return false
	}
	if len(a.Fields) != len(b.Fields) || len(a.Variants) != len(b.Variants) || len(a.Elems) != len(b.Elems) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	for i := range a.Variants {
		if a.Variants[i].Name != b.Variants[i].Name {
			return false
		}
		if len(a.Variants[i].Fields) != len(b.Variants[i].Fields) {
			return false
		}
		for j := range a.Variants[i].Fields {
			if a.Variants[i].Fields[j] != b.Variants[i].Fields[j] {
				return false
			}
		}
	}
	for i := range a.Elems {
		if a.Elems[i] != b.Elems[i] {
			return false
		}
	}
	return true
}
