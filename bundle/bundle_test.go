package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaciejBaj/cargo-contract/metadata"
	"github.com/MaciejBaj/cargo-contract/validator"
)

func testInputs(t *testing.T) (*validator.Artifact, *metadata.Encoded, Source) {
	t.Helper()
	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	art := &validator.Artifact{
		Encoding: wasm,
		CodeHash: sha256.Sum256(wasm),
	}
	meta := &metadata.Encoded{
		Binary: []byte("binary form"),
		JSON:   []byte(`{"name":"c"}`),
	}
	src := Source{Name: "flipper", Version: "0.1.0", BuildID: "build-1"}
	return art, meta, src
}

func TestPackage(t *testing.T) {
	art, meta, src := testInputs(t)

	b, err := Package(art, meta, src)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(b.Data), int64(len(b.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 4)

	for i, want := range memberOrder {
		assert.Equal(t, want, zr.File[i].Name, "member %d", i)
		assert.Equal(t, zip.Store, zr.File[i].Method, "members are stored uncompressed")
		assert.LessOrEqual(t, zr.File[i].Modified.Year(), 1980,
			"member %d carries a real timestamp", i)
	}

	assert.Equal(t, manifestSchema, b.Manifest.Schema)
	assert.Equal(t, src, b.Manifest.Source)
	wantSum := sha256.Sum256(art.Encoding)
	assert.Equal(t, hexOf(wantSum), b.Manifest.Members[MemberWasm])
	assert.Equal(t, hexOf(art.CodeHash), b.Manifest.CodeHash)
}

func hexOf(sum [32]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 64)
	for _, b := range sum[:] {
		out = append(out, digits[b>>4], digits[b&0x0F])
	}
	return string(out)
}

func TestPackage_Deterministic(t *testing.T) {
	art, meta, src := testInputs(t)

	first, err := Package(art, meta, src)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		b, err := Package(art, meta, src)
		require.NoError(t, err)
		assert.Equal(t, first.Data, b.Data, "archive %d differs", i)
		assert.Equal(t, first.Digest, b.Digest)
	}

	// Any input change moves the digest.
	src2 := src
	src2.BuildID = "build-2"
	b2, err := Package(art, meta, src2)
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, b2.Digest)
}

func TestPackage_RejectsEmptyInputs(t *testing.T) {
	art, meta, src := testInputs(t)

	_, err := Package(nil, meta, src)
	assert.Error(t, err)
	_, err = Package(art, nil, src)
	assert.Error(t, err)
	_, err = Package(&validator.Artifact{}, meta, src)
	assert.Error(t, err)
}

func TestStoreAndOpen(t *testing.T) {
	art, meta, src := testInputs(t)
	b, err := Package(art, meta, src)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flipper.contract")
	require.NoError(t, b.Store(path))

	got, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, b.Digest, got.Digest)
	assert.Equal(t, b.Manifest, got.Manifest)

	wasm, err := got.Wasm()
	require.NoError(t, err)
	assert.Equal(t, art.Encoding, wasm)
}

func TestLoad_RejectsTampering(t *testing.T) {
	art, meta, src := testInputs(t)
	b, err := Package(art, meta, src)
	require.NoError(t, err)

	t.Run("flipped member byte", func(t *testing.T) {
		data := append([]byte{}, b.Data...)
		i := bytes.Index(data, []byte("binary form"))
		require.True(t, i >= 0)
		data[i] ^= 0xFF
		_, err := Load(data)
		assert.Error(t, err)
	})

	t.Run("not a zip", func(t *testing.T) {
		_, err := Load([]byte("plain text"))
		assert.Error(t, err)
	})

	t.Run("missing member", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: MemberManifest, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte("{}"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		_, err = Load(buf.Bytes())
		assert.Error(t, err)
	})
}
