// Package validator checks an optimized module against the execution
// environment's acceptance rules. Validation is pure: it computes a verdict
// from the module and configuration alone, so re-running it always agrees
// with the first run.
package validator

import (
	"crypto/sha256"
	"fmt"

	"github.com/MaciejBaj/cargo-contract/config"
	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/wasm"
)

// RulesVersion changes whenever rule semantics change, invalidating cached
// verdicts built under the old rules.
const RulesVersion = "rules-v1"

// Rule names carried in validation errors.
const (
	RuleNoFloat         = "no-float"
	RuleImportAllowlist = "import-allowlist"
	RuleMemoryBounds    = "memory-bounds"
	RuleSizeCeilings    = "size-ceilings"
	RuleEntryPoints     = "entry-points"
)

// Artifact is a module that passed validation, together with its canonical
// encoding and the sha256 digest of those bytes.
type Artifact struct {
	Module   *wasm.Module
	Encoding []byte
	CodeHash [32]byte
}

// Validate checks m against every rule in order and returns the first
// violation. The rules are ordered so the cheapest structural checks run
// before whole-code scans.
func Validate(m *wasm.Module, cfg config.Validation) (*Artifact, error) {
	if err := checkNoFloat(m); err != nil {
		return nil, err
	}
	if err := checkImportAllowlist(m, cfg.AllowedImportModules); err != nil {
		return nil, err
	}
	if err := checkMemoryBounds(m, cfg.MaxMemoryPages); err != nil {
		return nil, err
	}

	encoding := m.Encode()
	if err := checkSizeCeilings(m, encoding, cfg); err != nil {
		return nil, err
	}
	if err := checkEntryPoints(m, cfg.EntryPoints); err != nil {
		return nil, err
	}

	return &Artifact{
		Module:   m,
		Encoding: encoding,
		CodeHash: sha256.Sum256(encoding),
	}, nil
}

// checkNoFloat rejects any floating point type or instruction. Contract
// execution must be deterministic across nodes; float NaN propagation is
// implementation-defined, so the environment refuses floats wholesale.
func checkNoFloat(m *wasm.Module) error {
	for i, ft := range m.Types {
		if ft.HasFloat() {
			return errors.Validation(RuleNoFloat,
				fmt.Sprintf("type %d", i),
				"float value type in function signature")
		}
	}

	for i, g := range m.Globals {
		if g.Type.ValType.IsFloat() {
			return errors.Validation(RuleNoFloat,
				fmt.Sprintf("global %d", i),
				fmt.Sprintf("global of float type %s", g.Type.ValType))
		}
	}
	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindGlobal && imp.Desc.Global.ValType.IsFloat() {
			return errors.Validation(RuleNoFloat,
				fmt.Sprintf("import %s.%s", imp.Module, imp.Name),
				fmt.Sprintf("imported global of float type %s", imp.Desc.Global.ValType))
		}
	}

	for i, body := range m.Code {
		for _, local := range body.Locals {
			if local.ValType.IsFloat() {
				return errors.Validation(RuleNoFloat,
					fmt.Sprintf("code[%d]", i),
					fmt.Sprintf("local of float type %s", local.ValType))
			}
		}

		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return errors.MalformedBinary("code section", 0, err)
		}
		for _, instr := range instrs {
			if name, ok := instr.FloatName(); ok {
				return errors.Validation(RuleNoFloat,
					fmt.Sprintf("code[%d] offset 0x%x", i, instr.Offset),
					fmt.Sprintf("float instruction %s", name))
			}
		}
	}

	return nil
}

func checkImportAllowlist(m *wasm.Module, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, mod := range allowed {
		allowedSet[mod] = true
	}

	for _, imp := range m.Imports {
		if !allowedSet[imp.Module] {
			return errors.Validation(RuleImportAllowlist,
				fmt.Sprintf("import %s.%s", imp.Module, imp.Name),
				fmt.Sprintf("module %q is not in the import allow-list", imp.Module))
		}
		if imp.Desc.Kind != wasm.KindFunc && !(imp.Desc.Kind == wasm.KindMemory && imp.Module == "env") {
			return errors.Validation(RuleImportAllowlist,
				fmt.Sprintf("import %s.%s", imp.Module, imp.Name),
				"only function imports (and env.memory) are permitted")
		}
	}

	return nil
}

// checkMemoryBounds requires exactly one linear memory with both limits
// declared. An unbounded memory lets a contract grow without paying for it
// up front.
func checkMemoryBounds(m *wasm.Module, maxPages uint32) error {
	var limits *wasm.Limits
	var where string

	for _, imp := range m.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			limits = &imp.Desc.Memory.Limits
			where = fmt.Sprintf("import %s.%s", imp.Module, imp.Name)
		}
	}
	for i := range m.Memories {
		if limits != nil {
			return errors.Validation(RuleMemoryBounds, "memory section",
				"multiple linear memories declared")
		}
		limits = &m.Memories[i].Limits
		where = "memory section"
	}

	if limits == nil {
		return errors.Validation(RuleMemoryBounds, "module",
			"no linear memory declared")
	}
	if limits.Max == nil {
		return errors.Validation(RuleMemoryBounds, where,
			"memory has no maximum limit")
	}
	if *limits.Max > maxPages {
		return errors.Validation(RuleMemoryBounds, where,
			fmt.Sprintf("memory maximum %d pages exceeds ceiling %d", *limits.Max, maxPages))
	}

	return nil
}

func checkSizeCeilings(m *wasm.Module, encoding []byte, cfg config.Validation) error {
	if uint32(len(encoding)) > cfg.MaxModuleBytes {
		return errors.Validation(RuleSizeCeilings, "module",
			fmt.Sprintf("encoded size %d exceeds ceiling %d", len(encoding), cfg.MaxModuleBytes))
	}
	for i, body := range m.Code {
		if uint32(len(body.Code)) > cfg.MaxBodyBytes {
			return errors.Validation(RuleSizeCeilings,
				fmt.Sprintf("code[%d]", i),
				fmt.Sprintf("body size %d exceeds ceiling %d", len(body.Code), cfg.MaxBodyBytes))
		}
	}
	return nil
}

// checkEntryPoints requires each configured entry point to be an exported
// function with an empty signature, and no function exports beyond the entry
// points. Extraneous exports are dead weight stored on chain.
func checkEntryPoints(m *wasm.Module, entryPoints []string) error {
	required := make(map[string]bool, len(entryPoints))
	for _, name := range entryPoints {
		required[name] = true
	}

	for _, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		if !required[exp.Name] {
			return errors.Validation(RuleEntryPoints,
				fmt.Sprintf("export %s", exp.Name),
				"function export is not a declared entry point")
		}

		ft := m.GetFuncType(exp.Idx)
		if ft == nil {
			return errors.Validation(RuleEntryPoints,
				fmt.Sprintf("export %s", exp.Name),
				"entry point has no resolvable type")
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return errors.Validation(RuleEntryPoints,
				fmt.Sprintf("export %s", exp.Name),
				fmt.Sprintf("entry point must have signature [] -> [], got %d params and %d results",
					len(ft.Params), len(ft.Results)))
		}
		delete(required, exp.Name)
	}

	// Report the first missing entry point in declaration order so repeated
	// runs produce the same verdict.
	for _, name := range entryPoints {
		if required[name] {
			return errors.Validation(RuleEntryPoints,
				fmt.Sprintf("export %s", name),
				"required entry point is not exported")
		}
	}

	return nil
}
