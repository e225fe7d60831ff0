package metadata

import (
	"bytes"
	"encoding/json"

	"github.com/MaciejBaj/cargo-contract/errors"
)

// Encoded holds both serialized forms of one interface.
type Encoded struct {
	Binary []byte
	JSON   []byte
}

// Encode produces both forms in one call.
func Encode(iface *Interface) (*Encoded, error) {
	j, err := EncodeJSON(iface)
	if err != nil {
		return nil, err
	}
	return &Encoded{Binary: EncodeBinary(iface), JSON: j}, nil
}

// EncodeJSON renders the interface as indented JSON for human inspection and
// off-chain tooling. The output is deterministic: all collections are slices
// emitted in declaration order.
func EncodeJSON(iface *Interface) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(iface); err != nil {
		return nil, errors.InvalidInput(errors.StageMetadata, "encode metadata JSON", err)
	}
	return buf.Bytes(), nil
}

// DecodeJSON parses JSON produced by EncodeJSON. Unknown fields are rejected
// so schema drift surfaces as an error rather than silent data loss. The
// decoded interface is structurally equal to what DecodeBinary yields for the
// same source.
func DecodeJSON(data []byte) (*Interface, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var iface Interface
	if err := dec.Decode(&iface); err != nil {
		return nil, errors.InvalidInput(errors.StageMetadata, "decode metadata JSON", err)
	}
	if err := checkRefs(&iface); err != nil {
		return nil, errors.InvalidInput(errors.StageMetadata, "decode metadata JSON", err)
	}
	return &iface, nil
}
