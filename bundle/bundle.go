// Package bundle assembles the deployable contract bundle: a deterministic
// zip archive holding the optimized binary, both metadata forms, and a
// manifest that fingerprints all of them.
package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/metadata"
	"github.com/MaciejBaj/cargo-contract/validator"
)

// Archive member names, in the fixed order they appear in the archive.
const (
	MemberManifest     = "manifest.json"
	MemberWasm         = "contract.wasm"
	MemberMetadataBin  = "metadata.bin"
	MemberMetadataJSON = "metadata.json"
)

var memberOrder = []string{MemberManifest, MemberWasm, MemberMetadataBin, MemberMetadataJSON}

const manifestSchema = 1

// Source identifies what was built.
type Source struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BuildID string `json:"build_id"`
}

// Manifest describes the bundle contents. Members maps member name to its
// sha256 hex digest; map keys marshal sorted, so the canonical bytes are
// deterministic.
type Manifest struct {
	Schema   int               `json:"schema"`
	Source   Source            `json:"source"`
	CodeHash string            `json:"code_hash"`
	Members  map[string]string `json:"members"`
}

// Bundle is a fully assembled archive. Digest is the sha256 of the canonical
// manifest bytes; since the manifest digests every member, it fingerprints
// the whole bundle.
type Bundle struct {
	Data     []byte
	Manifest Manifest
	Digest   [32]byte
}

// DigestHex returns the bundle digest as a hex string.
func (b *Bundle) DigestHex() string {
	return hex.EncodeToString(b.Digest[:])
}

// Package assembles the bundle in memory. Identical logical content yields
// byte-identical archives: members are stored uncompressed in fixed order
// with zeroed timestamps.
func Package(art *validator.Artifact, meta *metadata.Encoded, src Source) (*Bundle, error) {
	if art == nil || len(art.Encoding) == 0 {
		return nil, errors.Packaging("no contract binary", nil)
	}
	if meta == nil || len(meta.Binary) == 0 || len(meta.JSON) == 0 {
		return nil, errors.Packaging("no metadata", nil)
	}

	members := map[string][]byte{
		MemberWasm:         art.Encoding,
		MemberMetadataBin:  meta.Binary,
		MemberMetadataJSON: meta.JSON,
	}

	man := Manifest{
		Schema:   manifestSchema,
		Source:   src,
		CodeHash: hex.EncodeToString(art.CodeHash[:]),
		Members:  make(map[string]string, len(members)),
	}
	for name, data := range members {
		sum := sha256.Sum256(data)
		man.Members[name] = hex.EncodeToString(sum[:])
	}

	manBytes, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, errors.Packaging("encode manifest", err)
	}
	members[MemberManifest] = manBytes

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range memberOrder {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name,
			Method: zip.Store,
		})
		if err != nil {
			return nil, errors.Packaging("add "+name, err)
		}
		if _, err := w.Write(members[name]); err != nil {
			return nil, errors.Packaging("write "+name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Packaging("finalize archive", err)
	}

	return &Bundle{
		Data:     buf.Bytes(),
		Manifest: man,
		Digest:   sha256.Sum256(manBytes),
	}, nil
}

// Store writes the archive to path all-or-nothing: the bytes land in a temp
// file first and are renamed into place.
func (b *Bundle) Store(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return errors.Packaging("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b.Data); err != nil {
		tmp.Close()
		return errors.Packaging("write archive", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Packaging("close archive", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Packaging("install archive", err)
	}
	return nil
}

// Open reads a bundle archive from path and verifies it: member order, the
// manifest schema, and every member digest.
func Open(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Packaging("read archive", err)
	}
	return Load(data)
}

// Load parses and verifies an in-memory archive.
func Load(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Packaging("open archive", err)
	}
	if len(zr.File) != len(memberOrder) {
		return nil, errors.Packaging(
			fmt.Sprintf("expected %d members, found %d", len(memberOrder), len(zr.File)), nil)
	}

	members := make(map[string][]byte, len(zr.File))
	for i, f := range zr.File {
		if f.Name != memberOrder[i] {
			return nil, errors.Packaging(
				fmt.Sprintf("member %d is %q, want %q", i, f.Name, memberOrder[i]), nil)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Packaging("open "+f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Packaging("read "+f.Name, err)
		}
		members[f.Name] = content
	}

	manBytes := members[MemberManifest]
	var man Manifest
	if err := json.Unmarshal(manBytes, &man); err != nil {
		return nil, errors.Packaging("parse manifest", err)
	}
	if man.Schema != manifestSchema {
		return nil, errors.Packaging(
			fmt.Sprintf("unsupported manifest schema %d", man.Schema), nil)
	}
	for _, name := range memberOrder[1:] {
		sum := sha256.Sum256(members[name])
		if got := hex.EncodeToString(sum[:]); got != man.Members[name] {
			return nil, errors.Packaging(
				fmt.Sprintf("%s digest mismatch", name), nil)
		}
	}

	return &Bundle{
		Data:     data,
		Manifest: man,
		Digest:   sha256.Sum256(manBytes),
	}, nil
}

// Wasm returns the contract binary member of a loaded bundle.
func (b *Bundle) Wasm() ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(b.Data), int64(len(b.Data)))
	if err != nil {
		return nil, errors.Packaging("open archive", err)
	}
	for _, f := range zr.File {
		if f.Name == MemberWasm {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Packaging("open "+MemberWasm, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, errors.Packaging(MemberWasm+" member missing", nil)
}
