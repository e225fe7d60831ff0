package metadata

import (
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/MaciejBaj/cargo-contract/errors"
)

const flipperIntrospection = `{
  "contract": {"name": "flipper", "version": "0.1.0", "authors": ["alice"]},
  "types": {
    "bool": {"kind": "primitive", "type": "bool"},
    "u32": {"kind": "primitive", "type": "u32"},
    "BlockNumber": {"kind": "primitive", "type": "u32"},
    "Flips": {"kind": "struct", "fields": [
      {"name": "count", "type": "u32"},
      {"name": "last", "type": "BlockNumber"}
    ]}
  },
  "constructors": [
    {"name": "new", "selector": "0x9bae9d5e", "args": [{"name": "init", "type": "bool"}]}
  ],
  "messages": [
    {"name": "flip", "selector": "0x633aa551", "args": [], "mutates": true},
    {"name": "get", "selector": "0x2f865bd9", "args": [], "returns": "bool", "mutates": false},
    {"name": "stats", "selector": "0xd183512b", "args": [], "returns": "Flips", "mutates": false}
  ],
  "events": [
    {"name": "Flipped", "fields": [{"name": "value", "type": "bool", "indexed": true}]}
  ]
}`

func TestExtract(t *testing.T) {
	iface, err := Extract([]byte(flipperIntrospection))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if iface.Name != "flipper" || iface.Version != "0.1.0" {
		t.Errorf("contract identity = %q %q", iface.Name, iface.Version)
	}
	if len(iface.Constructors) != 1 || iface.Constructors[0].Name != "new" {
		t.Fatalf("constructors = %+v", iface.Constructors)
	}
	if got := iface.Constructors[0].Selector.String(); got != "0x9bae9d5e" {
		t.Errorf("constructor selector = %s", got)
	}

	names := make([]string, 0, len(iface.Messages))
	for _, m := range iface.Messages {
		names = append(names, m.Name)
	}
	want := []string{"flip", "get", "stats"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("message order = %v, want %v", names, want)
	}

	if iface.Messages[0].Returns != NoType {
		t.Errorf("flip returns = %d, want NoType", iface.Messages[0].Returns)
	}
	if !iface.Messages[0].Mutates || iface.Messages[1].Mutates {
		t.Errorf("mutates flags wrong: %v %v", iface.Messages[0].Mutates, iface.Messages[1].Mutates)
	}

	boolID := iface.Messages[1].Returns
	if iface.Types[boolID].Kind != KindPrimitive || iface.Types[boolID].Name != "bool" {
		t.Errorf("bool resolved to %+v", iface.Types[boolID])
	}

	if len(iface.Events) != 1 || !iface.Events[0].Fields[0].Indexed {
		t.Errorf("events = %+v", iface.Events)
	}
}

func TestExtract_InternsStructurallyEqualTypes(t *testing.T) {
	iface, err := Extract([]byte(flipperIntrospection))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	// u32 and BlockNumber are both primitive u32 and must share one entry.
	flips := iface.Messages[2].Returns
	ft := iface.Types[flips]
	if ft.Kind != KindComposite || len(ft.Fields) != 2 {
		t.Fatalf("Flips resolved to %+v", ft)
	}
	if ft.Fields[0].Type != ft.Fields[1].Type {
		t.Errorf("u32 and BlockNumber interned separately: %d vs %d",
			ft.Fields[0].Type, ft.Fields[1].Type)
	}

	seen := make(map[uint64]bool)
	for _, ty := range iface.Types {
		h := structuralHash(ty)
		if seen[h] {
			t.Errorf("duplicate registry entry %+v", ty)
		}
		seen[h] = true
	}
}

func TestExtract_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"missing contract name", `{"contract": {"version": "1"}}`},
		{"undefined type", `{
			"contract": {"name": "c"},
			"messages": [{"name": "m", "selector": "0x00000001",
				"args": [{"name": "a", "type": "Missing"}]}]
		}`},
		{"bad selector", `{
			"contract": {"name": "c"},
			"messages": [{"name": "m", "selector": "0x123", "args": []}]
		}`},
		{"unknown kind", `{
			"contract": {"name": "c"},
			"types": {"T": {"kind": "union"}},
			"messages": [{"name": "m", "selector": "0x00000001", "args": [],
				"returns": "T"}]
		}`},
		{"cyclic type", `{
			"contract": {"name": "c"},
			"types": {"Node": {"kind": "struct", "fields": [
				{"name": "next", "type": "Node"}]}},
			"messages": [{"name": "m", "selector": "0x00000001", "args": [],
				"returns": "Node"}]
		}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			var perr *errors.Error
			if !stderrors.As(err, &perr) {
				t.Fatalf("error type %T: %v", err, err)
			}
			if perr.Kind != errors.KindIncompleteInterface {
				t.Errorf("kind = %v, want incomplete interface", perr.Kind)
			}
		})
	}
}

func TestSelector_Text(t *testing.T) {
	var s Selector
	if err := s.UnmarshalText([]byte("0xdeadbeef")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if s != (Selector{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("selector = %v", s)
	}
	out, err := s.MarshalText()
	if err != nil || string(out) != "0xdeadbeef" {
		t.Errorf("MarshalText = %q, %v", out, err)
	}

	if err := s.UnmarshalText([]byte("0xzzzz")); err == nil {
		t.Error("accepted non-hex selector")
	}
	if err := s.UnmarshalText([]byte("0x0011223344")); err == nil {
		t.Error("accepted over-long selector")
	}
}
