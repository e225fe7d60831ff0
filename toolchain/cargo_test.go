package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompiler writes a shell script that mimics the compiler: --version
// prints an identity, build drops a wasm file and an introspection document
// into the target directory.
func stubCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "cargo 1.70.0 (stub)"
  exit 0
fi
out="$CARGO_TARGET_DIR/wasm32-unknown-unknown/release"
mkdir -p "$out"
printf 'wasm-bytes' > "$out/flipper.wasm"
printf '{"contract":{"name":"flipper"}}' > "$out/flipper.introspect.json"
`
	path := filepath.Join(t.TempDir(), "fake-cargo")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCargo_Version(t *testing.T) {
	c := NewCargo(nil)
	c.Binary = stubCompiler(t)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cargo 1.70.0 (stub)", v)
}

func TestCargo_Compile(t *testing.T) {
	c := NewCargo(nil)
	c.Binary = stubCompiler(t)

	raw, err := c.Compile(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []byte("wasm-bytes"), raw.Wasm)
	assert.Contains(t, string(raw.Introspection), "flipper")
}

func TestCargo_MissingBinary(t *testing.T) {
	c := NewCargo(nil)
	c.Binary = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := c.Version(context.Background())
	assert.Error(t, err)
	_, err = c.Compile(context.Background(), t.TempDir(), t.TempDir())
	assert.Error(t, err)
	assert.False(t, IsTransient(err), "missing compiler is not retryable")
}

func TestCargo_CancelledContext(t *testing.T) {
	c := NewCargo(nil)
	c.Binary = stubCompiler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Compile(ctx, t.TempDir(), t.TempDir())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
