package metadata

import (
	"bytes"
	"reflect"
	"testing"
)

func sampleInterface(t *testing.T) *Interface {
	t.Helper()
	iface, err := Extract([]byte(flipperIntrospection))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return iface
}

func TestBinaryRoundTrip(t *testing.T) {
	iface := sampleInterface(t)

	enc := EncodeBinary(iface)
	dec, err := DecodeBinary(enc)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if !reflect.DeepEqual(iface, dec) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", dec, iface)
	}

	// Re-encoding the decoded interface must be byte-identical.
	if !bytes.Equal(enc, EncodeBinary(dec)) {
		t.Error("re-encode is not byte-identical")
	}
}

func TestBinaryDeterminism(t *testing.T) {
	iface := sampleInterface(t)
	first := EncodeBinary(iface)
	for i := 0; i < 10; i++ {
		if !bytes.Equal(first, EncodeBinary(iface)) {
			t.Fatalf("encoding %d differs", i)
		}
	}
}

func TestBinaryEmptyInterface(t *testing.T) {
	iface := &Interface{Name: "empty", Version: "0.0.0"}
	dec, err := DecodeBinary(EncodeBinary(iface))
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	// Zero counts decode to nil slices, matching what Extract produces.
	if dec.Authors != nil || dec.Types != nil || dec.Constructors != nil ||
		dec.Messages != nil || dec.Events != nil {
		t.Errorf("empty collections decoded non-nil: %+v", dec)
	}
	if !reflect.DeepEqual(iface, dec) {
		t.Errorf("round trip mismatch: %+v", dec)
	}
}

func TestDecodeBinary_Strict(t *testing.T) {
	valid := EncodeBinary(sampleInterface(t))

	t.Run("trailing bytes", func(t *testing.T) {
		if _, err := DecodeBinary(append(append([]byte{}, valid...), 0x00)); err == nil {
			t.Error("accepted trailing byte")
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[0] = 'x'
		if _, err := DecodeBinary(bad); err == nil {
			t.Error("accepted bad magic")
		}
	})

	t.Run("bad schema version", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[4] = 0xFF
		if _, err := DecodeBinary(bad); err == nil {
			t.Error("accepted unknown schema version")
		}
	})

	t.Run("truncation", func(t *testing.T) {
		for n := 0; n < len(valid); n++ {
			if _, err := DecodeBinary(valid[:n]); err == nil {
				t.Fatalf("accepted truncation to %d bytes", n)
			}
		}
	})

	t.Run("dangling type reference", func(t *testing.T) {
		iface := &Interface{
			Name: "c",
			Messages: []Message{{
				Name: "m", Selector: Selector{1, 2, 3, 4}, Returns: 7,
			}},
		}
		if _, err := DecodeBinary(EncodeBinary(iface)); err == nil {
			t.Error("accepted out-of-range type reference")
		}
	})
}

func TestJSONRoundTrip(t *testing.T) {
	iface := sampleInterface(t)

	enc, err := EncodeJSON(iface)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	dec, err := DecodeJSON(enc)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !reflect.DeepEqual(iface, dec) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", dec, iface)
	}

	// Selectors render as hex strings in the JSON form.
	if !bytes.Contains(enc, []byte(`"0x9bae9d5e"`)) {
		t.Errorf("selector not hex-encoded:\n%s", enc)
	}
}

func TestJSONRejectsUnknownFields(t *testing.T) {
	if _, err := DecodeJSON([]byte(`{"name": "c", "surprise": 1}`)); err == nil {
		t.Error("accepted unknown field")
	}
}

// Both encodings of the same interface decode to equal values.
func TestFormatsAgree(t *testing.T) {
	iface := sampleInterface(t)

	fromBin, err := DecodeBinary(EncodeBinary(iface))
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	jsonBytes, err := EncodeJSON(iface)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	fromJSON, err := DecodeJSON(jsonBytes)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !reflect.DeepEqual(fromBin, fromJSON) {
		t.Errorf("binary and JSON decode differ:\n bin %+v\njson %+v", fromBin, fromJSON)
	}
}

func FuzzDecodeBinary(f *testing.F) {
	iface, err := Extract([]byte(flipperIntrospection))
	if err != nil {
		f.Fatalf("Extract: %v", err)
	}
	valid := EncodeBinary(iface)
	f.Add(valid)
	f.Add(valid[:len(valid)/2])
	f.Add([]byte("cmet"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		dec, err := DecodeBinary(data)
		if err != nil {
			return
		}
		// Accepted input must be the canonical encoding of what it decoded to.
		if !bytes.Equal(EncodeBinary(dec), data) {
			t.Errorf("accepted non-canonical encoding of %+v", dec)
		}
	})
}
