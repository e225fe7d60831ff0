package validator

import (
	"bytes"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/MaciejBaj/cargo-contract/config"
	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/wasm"
)

func maxPages(n uint32) *uint32 { return &n }

// acceptableModule builds a module that passes every rule under the default
// configuration.
func acceptableModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{{}},
		Imports: []wasm.Import{
			{Module: "env", Name: "memory", Desc: wasm.ImportDesc{
				Kind:   wasm.KindMemory,
				Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: maxPages(16)}},
			}},
			{Module: "seal0", Name: "seal_input", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{0, 0},
		Code: []wasm.FuncBody{
			{Code: []byte{0x0B}},
			{Code: []byte{0x10, 0x00, 0x0B}},
		},
		Exports: []wasm.Export{
			{Name: "deploy", Kind: wasm.KindFunc, Idx: 1},
			{Name: "call", Kind: wasm.KindFunc, Idx: 2},
		},
	}
}

func violationRule(t *testing.T, err error) string {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	return e.Rule
}

func TestValidateAccepts(t *testing.T) {
	m := acceptableModule()

	art, err := Validate(m, config.Default().Validation)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if art.Module != m {
		t.Error("artifact does not wrap the validated module")
	}
	if !bytes.Equal(art.Encoding, m.Encode()) {
		t.Error("artifact encoding differs from canonical encoding")
	}
	if art.CodeHash == [32]byte{} {
		t.Error("code hash not computed")
	}
}

func TestValidatePurity(t *testing.T) {
	m := acceptableModule()
	cfg := config.Default().Validation

	first, err1 := Validate(m, cfg)
	second, err2 := Validate(m, cfg)
	if err1 != nil || err2 != nil {
		t.Fatalf("Validate: %v, %v", err1, err2)
	}
	if first.CodeHash != second.CodeHash {
		t.Error("re-validation produced a different hash")
	}

	// Same for a failing module: identical verdict both times.
	bad := acceptableModule()
	bad.Exports = bad.Exports[:1]
	_, errA := Validate(bad, cfg)
	_, errB := Validate(bad, cfg)
	if errA == nil || errB == nil || errA.Error() != errB.Error() {
		t.Errorf("verdicts differ: %v vs %v", errA, errB)
	}
}

func TestValidateNoFloatSignature(t *testing.T) {
	m := acceptableModule()
	m.Types = append(m.Types, wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}})

	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleNoFloat {
		t.Errorf("rule = %q, want %q", rule, RuleNoFloat)
	}
}

func TestValidateNoFloatInstruction(t *testing.T) {
	m := acceptableModule()
	// f32.const 0, drop before the end.
	m.Code[0].Code = []byte{0x43, 0x00, 0x00, 0x00, 0x00, 0x1A, 0x0B}

	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleNoFloat {
		t.Errorf("rule = %q, want %q", rule, RuleNoFloat)
	}
	if !strings.Contains(err.Error(), "f32.const") {
		t.Errorf("error should name the instruction: %v", err)
	}
	if !strings.Contains(err.Error(), "code[0]") {
		t.Errorf("error should name the location: %v", err)
	}
}

func TestValidateNoFloatLocal(t *testing.T) {
	m := acceptableModule()
	m.Code[0].Locals = []wasm.LocalEntry{{Count: 1, ValType: wasm.ValF32}}

	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleNoFloat {
		t.Errorf("rule = %q, want %q", rule, RuleNoFloat)
	}
}

func TestValidateNoFloatSaturatingTrunc(t *testing.T) {
	m := acceptableModule()
	// i32.trunc_sat_f32_s touches floats even though it is a 0xFC opcode.
	m.Code[0].Code = []byte{0x41, 0x00, 0xFC, 0x00, 0x1A, 0x0B}

	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleNoFloat {
		t.Errorf("rule = %q, want %q", rule, RuleNoFloat)
	}
}

func TestValidateImportAllowlist(t *testing.T) {
	m := acceptableModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "wasi_snapshot_preview1", Name: "fd_write",
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
	})
	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleImportAllowlist {
		t.Errorf("rule = %q, want %q", rule, RuleImportAllowlist)
	}
	if !strings.Contains(err.Error(), "wasi_snapshot_preview1") {
		t.Errorf("error should name the import: %v", err)
	}
}

func TestValidateImportKind(t *testing.T) {
	m := acceptableModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "seal0", Name: "table",
		Desc: wasm.ImportDesc{Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: wasm.ValFuncRef}},
	})

	_, err := Validate(m, config.Default().Validation)
	if rule := violationRule(t, err); rule != RuleImportAllowlist {
		t.Errorf("rule = %q, want %q", rule, RuleImportAllowlist)
	}
}

func TestValidateMemoryBounds(t *testing.T) {
	cfg := config.Default().Validation

	t.Run("no memory", func(t *testing.T) {
		m := acceptableModule()
		m.Imports = m.Imports[1:]
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleMemoryBounds {
			t.Errorf("rule = %q, want %q", rule, RuleMemoryBounds)
		}
	})

	t.Run("no maximum", func(t *testing.T) {
		m := acceptableModule()
		m.Imports[0].Desc.Memory.Limits.Max = nil
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleMemoryBounds {
			t.Errorf("rule = %q, want %q", rule, RuleMemoryBounds)
		}
	})

	t.Run("over ceiling", func(t *testing.T) {
		m := acceptableModule()
		m.Imports[0].Desc.Memory.Limits.Max = maxPages(17)
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleMemoryBounds {
			t.Errorf("rule = %q, want %q", rule, RuleMemoryBounds)
		}
	})

	t.Run("declared and imported", func(t *testing.T) {
		m := acceptableModule()
		m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: maxPages(1)}}}
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleMemoryBounds {
			t.Errorf("rule = %q, want %q", rule, RuleMemoryBounds)
		}
	})
}

func TestValidateSizeCeilings(t *testing.T) {
	cfg := config.Default().Validation
	cfg.MaxBodyBytes = 4

	m := acceptableModule()
	m.Code[0].Code = []byte{0x01, 0x01, 0x01, 0x01, 0x0B}

	_, err := Validate(m, cfg)
	if rule := violationRule(t, err); rule != RuleSizeCeilings {
		t.Errorf("rule = %q, want %q", rule, RuleSizeCeilings)
	}

	cfg = config.Default().Validation
	cfg.MaxModuleBytes = 8
	_, err = Validate(acceptableModule(), cfg)
	if rule := violationRule(t, err); rule != RuleSizeCeilings {
		t.Errorf("rule = %q, want %q", rule, RuleSizeCeilings)
	}
}

func TestValidateEntryPoints(t *testing.T) {
	cfg := config.Default().Validation

	t.Run("missing call", func(t *testing.T) {
		m := acceptableModule()
		m.Exports = m.Exports[:1]
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleEntryPoints {
			t.Errorf("rule = %q, want %q", rule, RuleEntryPoints)
		}
		if !strings.Contains(err.Error(), "call") {
			t.Errorf("error should name the missing entry point: %v", err)
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		m := acceptableModule()
		m.Types = append(m.Types, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}})
		m.Funcs[0] = 1
		m.Code[0].Code = []byte{0x41, 0x00, 0x0B}
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleEntryPoints {
			t.Errorf("rule = %q, want %q", rule, RuleEntryPoints)
		}
	})

	t.Run("extraneous export", func(t *testing.T) {
		m := acceptableModule()
		m.Exports = append(m.Exports, wasm.Export{Name: "debug_dump", Kind: wasm.KindFunc, Idx: 1})
		_, err := Validate(m, cfg)
		if rule := violationRule(t, err); rule != RuleEntryPoints {
			t.Errorf("rule = %q, want %q", rule, RuleEntryPoints)
		}
	})
}
