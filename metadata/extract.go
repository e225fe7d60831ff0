package metadata

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/MaciejBaj/cargo-contract/errors"
)

// Introspection is the document the toolchain emits alongside compilation.
// Type definitions are keyed by name and reference each other by name; the
// extractor resolves them into the interned registry.
type Introspection struct {
	Contract struct {
		Name    string   `json:"name"`
		Version string   `json:"version"`
		Authors []string `json:"authors"`
	} `json:"contract"`
	Types        map[string]TypeDef `json:"types"`
	Constructors []CallableDef      `json:"constructors"`
	Messages     []MessageDef       `json:"messages"`
	Events       []EventDef         `json:"events"`
}

// TypeDef is one named type definition. Kind selects the interpretation:
// "primitive" (Type), "struct" (Fields), "enum" (Variants), "vec" (Elem),
// "tuple" (Elems).
type TypeDef struct {
	Kind     string       `json:"kind"`
	Type     string       `json:"type,omitempty"`
	Fields   []FieldDef   `json:"fields,omitempty"`
	Variants []VariantDef `json:"variants,omitempty"`
	Elem     string       `json:"elem,omitempty"`
	Elems    []string     `json:"elems,omitempty"`
}

type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type VariantDef struct {
	Name   string     `json:"name"`
	Fields []FieldDef `json:"fields,omitempty"`
}

type ArgDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CallableDef struct {
	Name     string   `json:"name"`
	Selector string   `json:"selector"`
	Args     []ArgDef `json:"args"`
}

type MessageDef struct {
	CallableDef
	Returns string `json:"returns,omitempty"`
	Mutates bool   `json:"mutates"`
}

type EventFieldDef struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

type EventDef struct {
	Name   string          `json:"name"`
	Fields []EventFieldDef `json:"fields"`
}

// registry interns types by canonical structural hash. Structurally equal
// types share one ID regardless of how many names point at them.
type registry struct {
	byHash map[uint64][]TypeID
	types  []Type
}

func newRegistry() *registry {
	return &registry{byHash: make(map[uint64][]TypeID)}
}

// intern returns the ID of t, adding it if no structurally equal entry
// exists. Children must already be interned so the hash can recurse by ID.
func (r *registry) intern(t Type) TypeID {
	h := structuralHash(t)
	for _, id := range r.byHash[h] {
		if typeEqual(r.types[id], t) {
			return id
		}
	}
	id := TypeID(len(r.types))
	r.types = append(r.types, t)
	r.byHash[h] = append(r.byHash[h], id)
	return id
}

// structuralHash digests kind, name, and children with NUL separators.
// Children are identified by interned ID, which makes the hash canonical
// for any arrival order of equal structures.
func structuralHash(t Type) uint64 {
	d := xxhash.New()
	var idBuf [4]byte

	writeID := func(id TypeID) {
		binary.LittleEndian.PutUint32(idBuf[:], id)
		d.Write(idBuf[:])
	}
	sep := func() { d.Write([]byte{0}) }

	d.Write([]byte{byte(t.Kind)})
	sep()
	d.WriteString(t.Name)
	sep()
	for _, f := range t.Fields {
		d.WriteString(f.Name)
		sep()
		writeID(f.Type)
	}
	sep()
	for _, v := range t.Variants {
		d.WriteString(v.Name)
		sep()
		for _, f := range v.Fields {
			d.WriteString(f.Name)
			sep()
			writeID(f.Type)
		}
		sep()
	}
	sep()
	writeID(t.Elem)
	for _, e := range t.Elems {
		writeID(e)
	}
	return d.Sum64()
}

// resolver turns named type references into interned IDs, bottom-up.
type resolver struct {
	defs     map[string]TypeDef
	resolved map[string]TypeID
	visiting map[string]bool
	reg      *registry
}

func (rv *resolver) resolve(name string) (TypeID, error) {
	if id, ok := rv.resolved[name]; ok {
		return id, nil
	}
	if rv.visiting[name] {
		return 0, errors.IncompleteInterface(name, "type definition is cyclic")
	}

	def, ok := rv.defs[name]
	if !ok {
		return 0, errors.IncompleteInterface(name, "type is not defined")
	}

	rv.visiting[name] = true
	defer delete(rv.visiting, name)

	var t Type
	switch def.Kind {
	case "primitive":
		if def.Type == "" {
			return 0, errors.IncompleteInterface(name, "primitive without underlying type")
		}
		t = Type{Kind: KindPrimitive, Name: def.Type}

	case "struct":
		t = Type{Kind: KindComposite, Name: name}
		for _, f := range def.Fields {
			fieldID, err := rv.resolve(f.Type)
			if err != nil {
				return 0, err
			}
			t.Fields = append(t.Fields, Field{Name: f.Name, Type: fieldID})
		}

	case "enum":
		t = Type{Kind: KindVariant, Name: name}
		for _, v := range def.Variants {
			variant := Variant{Name: v.Name}
			for _, f := range v.Fields {
				fieldID, err := rv.resolve(f.Type)
				if err != nil {
					return 0, err
				}
				variant.Fields = append(variant.Fields, Field{Name: f.Name, Type: fieldID})
			}
			t.Variants = append(t.Variants, variant)
		}

	case "vec":
		elemID, err := rv.resolve(def.Elem)
		if err != nil {
			return 0, err
		}
		t = Type{Kind: KindSequence, Elem: elemID}

	case "tuple":
		t = Type{Kind: KindTuple}
		for _, e := range def.Elems {
			elemID, err := rv.resolve(e)
			if err != nil {
				return 0, err
			}
			t.Elems = append(t.Elems, elemID)
		}

	default:
		return 0, errors.IncompleteInterface(name, fmt.Sprintf("unknown type kind %q", def.Kind))
	}

	id := rv.reg.intern(t)
	rv.resolved[name] = id
	return id, nil
}

// Extract parses the introspection document and builds the interface with
// its interned type registry. Declaration order of constructors, messages,
// and events is preserved.
func Extract(raw []byte) (*Interface, error) {
	var doc Introspection
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.IncompleteInterface("introspection", err.Error())
	}
	if doc.Contract.Name == "" {
		return nil, errors.IncompleteInterface("contract", "contract name is missing")
	}

	rv := &resolver{
		defs:     doc.Types,
		resolved: make(map[string]TypeID),
		visiting: make(map[string]bool),
		reg:      newRegistry(),
	}

	iface := &Interface{
		Name:    doc.Contract.Name,
		Version: doc.Contract.Version,
		Authors: doc.Contract.Authors,
	}

	resolveArgs := func(where string, defs []ArgDef) ([]Arg, error) {
		var args []Arg
		for _, a := range defs {
			id, err := rv.resolve(a.Type)
			if err != nil {
				return nil, errors.IncompleteInterface(where,
					fmt.Sprintf("argument %s: %v", a.Name, err))
			}
			args = append(args, Arg{Name: a.Name, Type: id})
		}
		return args, nil
	}

	for _, c := range doc.Constructors {
		var sel Selector
		if err := sel.UnmarshalText([]byte(c.Selector)); err != nil {
			return nil, errors.IncompleteInterface(c.Name, err.Error())
		}
		args, err := resolveArgs("constructor "+c.Name, c.Args)
		if err != nil {
			return nil, err
		}
		iface.Constructors = append(iface.Constructors, Constructor{
			Name: c.Name, Selector: sel, Args: args,
		})
	}

	for _, msg := range doc.Messages {
		var sel Selector
		if err := sel.UnmarshalText([]byte(msg.Selector)); err != nil {
			return nil, errors.IncompleteInterface(msg.Name, err.Error())
		}
		args, err := resolveArgs("message "+msg.Name, msg.Args)
		if err != nil {
			return nil, err
		}

		returns := NoType
		if msg.Returns != "" {
			returns, err = rv.resolve(msg.Returns)
			if err != nil {
				return nil, errors.IncompleteInterface("message "+msg.Name,
					fmt.Sprintf("return type: %v", err))
			}
		}

		iface.Messages = append(iface.Messages, Message{
			Name: msg.Name, Selector: sel, Args: args,
			Returns: returns, Mutates: msg.Mutates,
		})
	}

	for _, ev := range doc.Events {
		event := Event{Name: ev.Name}
		for _, f := range ev.Fields {
			id, err := rv.resolve(f.Type)
			if err != nil {
				return nil, errors.IncompleteInterface("event "+ev.Name,
					fmt.Sprintf("field %s: %v", f.Name, err))
			}
			event.Fields = append(event.Fields, EventField{Name: f.Name, Type: id, Indexed: f.Indexed})
		}
		iface.Events = append(iface.Events, event)
	}

	iface.Types = rv.reg.types
	return iface, nil
}
