// Package toolchain invokes the external contract compiler. The build
// pipeline only sees the Toolchain interface; this package provides the
// cargo-based implementation used by the CLI.
package toolchain

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/pipeline"
)

const wasmTarget = "wasm32-unknown-unknown"

// Cargo compiles contracts by shelling out to cargo.
type Cargo struct {
	// Binary is the compiler executable, "cargo" unless overridden.
	Binary string
	log    *zap.Logger
}

var _ pipeline.Toolchain = (*Cargo)(nil)

// NewCargo returns a cargo-backed toolchain.
func NewCargo(log *zap.Logger) *Cargo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cargo{Binary: "cargo", log: log}
}

// Version reports the compiler version string, e.g. "cargo 1.70.0".
func (c *Cargo) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.Binary, "--version").Output()
	if err != nil {
		return "", errors.InvalidInput(errors.StageToolchain,
			fmt.Sprintf("%s not available", c.Binary), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Compile builds the contract crate at contractDir for the wasm target,
// directing all intermediate output into workDir. It returns the produced
// binary together with the introspection document the contract build emits
// next to it.
func (c *Cargo) Compile(ctx context.Context, contractDir, workDir string) (*pipeline.RawArtifact, error) {
	targetDir := filepath.Join(workDir, "target")

	cmd := exec.CommandContext(ctx, c.Binary,
		"build", "--release", "--target", wasmTarget)
	cmd.Dir = contractDir
	cmd.Env = append(os.Environ(), "CARGO_TARGET_DIR="+targetDir)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log.Debug("invoking compiler",
		zap.String("binary", c.Binary), zap.String("dir", contractDir))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// Killed by timeout or cancellation, not a compile error.
			return nil, errors.ToolchainTransient("compiler interrupted", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, errors.InvalidInput(errors.StageToolchain, detail, err)
	}

	releaseDir := filepath.Join(targetDir, wasmTarget, "release")
	wasm, err := readSingle(releaseDir, "*.wasm")
	if err != nil {
		return nil, errors.InvalidInput(errors.StageToolchain, "locate compiled binary", err)
	}
	intro, err := readSingle(releaseDir, "*.introspect.json")
	if err != nil {
		return nil, errors.InvalidInput(errors.StageToolchain, "locate introspection document", err)
	}

	return &pipeline.RawArtifact{Wasm: wasm, Introspection: intro}, nil
}

// readSingle reads the unique file in dir matching pattern.
func readSingle(dir, pattern string) ([]byte, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no %s in %s", pattern, dir)
	case 1:
		return os.ReadFile(matches[0])
	default:
		return nil, fmt.Errorf("multiple %s in %s", pattern, dir)
	}
}

// IsTransient reports whether the error allows a retry.
func IsTransient(err error) bool {
	var e *errors.Error
	return stderrors.As(err, &e) && e.Transient()
}
