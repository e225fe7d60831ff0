package optimizer

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/MaciejBaj/cargo-contract/config"
	"github.com/MaciejBaj/cargo-contract/wasm"
)

// testModule builds a module with live and dead entries:
//
//	func 0 (dead): [] -> [], never referenced
//	func 1 (live): [] -> [i32], exported "get", returns 1+2 via live global
//	func 2 (live): [] -> [], exported "deploy", calls func 3
//	func 3 (live): [] -> [], reached only through func 2
//	global 0 (live): i32 = 40, read by func 1
//	global 1 (dead): i64 = 0
func testModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{},                                     // 0
			{Results: []wasm.ValType{wasm.ValI32}}, // 1
			{Params: []wasm.ValType{wasm.ValI64}},  // 2: dead
		},
		Funcs: []uint32{0, 1, 0, 0},
		Code: []wasm.FuncBody{
			{Code: []byte{0x0B}}, // dead
			{Code: []byte{
				0x23, 0x00, // global.get 0
				0x41, 0x01, // i32.const 1
				0x41, 0x02, // i32.const 2
				0x6A, // i32.add
				0x6A, // i32.add
				0x0B,
			}},
			{Code: []byte{0x10, 0x03, 0x0B}}, // call 3
			{Code: []byte{0x01, 0x0B}},       // nop
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: []byte{0x41, 0x28, 0x0B}},
			{Type: wasm.GlobalType{ValType: wasm.ValI64}, Init: []byte{0x42, 0x00, 0x0B}},
		},
		Exports: []wasm.Export{
			{Name: "get", Kind: wasm.KindFunc, Idx: 1},
			{Name: "deploy", Kind: wasm.KindFunc, Idx: 2},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "name", Data: []byte{0x00}},
			{Name: "producers", Data: []byte{0x01}},
		},
	}
}

func TestOptimizeRemovesDeadEntries(t *testing.T) {
	m := testModule()

	opt, stats, err := Optimize(m, config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if stats.FuncsRemoved != 1 {
		t.Errorf("FuncsRemoved = %d, want 1", stats.FuncsRemoved)
	}
	if stats.GlobalsRemoved != 1 {
		t.Errorf("GlobalsRemoved = %d, want 1", stats.GlobalsRemoved)
	}
	if stats.TypesRemoved != 1 {
		t.Errorf("TypesRemoved = %d, want 1", stats.TypesRemoved)
	}
	if stats.CustomStripped != 2 {
		t.Errorf("CustomStripped = %d, want 2", stats.CustomStripped)
	}
	if stats.SizeAfter >= stats.SizeBefore {
		t.Errorf("size did not shrink: %d -> %d", stats.SizeBefore, stats.SizeAfter)
	}

	if opt.NumFuncs() != 3 {
		t.Errorf("NumFuncs = %d, want 3", opt.NumFuncs())
	}
	if len(opt.Globals) != 1 {
		t.Errorf("globals = %d, want 1", len(opt.Globals))
	}
	if len(opt.CustomSections) != 0 {
		t.Errorf("custom sections = %d, want 0", len(opt.CustomSections))
	}

	// Exports survive under new indices.
	if _, ok := opt.ExportedFunc("get"); !ok {
		t.Error("export get lost")
	}
	if _, ok := opt.ExportedFunc("deploy"); !ok {
		t.Error("export deploy lost")
	}
}

func TestOptimizeOutputValidates(t *testing.T) {
	opt, _, err := Optimize(testModule(), config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if err := opt.Validate(); err != nil {
		t.Errorf("optimized module fails validation: %v", err)
	}

	// A second run is a no-op: already dense.
	again, stats, err := Optimize(opt, config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("second Optimize: %v", err)
	}
	if stats.FuncsRemoved != 0 || stats.GlobalsRemoved != 0 {
		t.Errorf("second run removed entries: %+v", stats)
	}
	if err := again.Validate(); err != nil {
		t.Errorf("twice-optimized module fails validation: %v", err)
	}
}

func TestOptimizeDoesNotModifyInput(t *testing.T) {
	m := testModule()
	before := m.Encode()

	if _, _, err := Optimize(m, config.Default().Optimizer, nil); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	after := m.Encode()
	if string(before) != string(after) {
		t.Error("input module was modified")
	}
}

func TestOptimizeKeepCustomSections(t *testing.T) {
	cfg := config.Default().Optimizer
	cfg.KeepCustomSections = []string{"name"}

	opt, stats, err := Optimize(testModule(), cfg, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if stats.CustomStripped != 1 {
		t.Errorf("CustomStripped = %d, want 1", stats.CustomStripped)
	}
	if len(opt.CustomSections) != 1 || opt.CustomSections[0].Name != "name" {
		t.Errorf("unexpected custom sections: %+v", opt.CustomSections)
	}
}

func TestOptimizeFoldsConstants(t *testing.T) {
	opt, stats, err := Optimize(testModule(), config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if stats.InstrsEliminated == 0 {
		t.Error("expected constant folding to eliminate instructions")
	}

	// Body of "get" now loads the global and adds a single folded constant.
	idx, _ := opt.ExportedFunc("get")
	body := opt.Code[int(idx)-opt.NumImportedFuncs()]
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		t.Fatalf("decode optimized body: %v", err)
	}

	consts := 0
	for _, instr := range instrs {
		if instr.Opcode == wasm.OpI32Const {
			consts++
			if imm := instr.Imm.(wasm.I32Imm); imm.Value != 3 {
				t.Errorf("folded constant = %d, want 3", imm.Value)
			}
		}
	}
	if consts != 1 {
		t.Errorf("constants in body = %d, want 1", consts)
	}
}

func TestOptimizeDropsDeadCode(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{
			{Code: []byte{
				0x0F,       // return
				0x01,       // nop (dead)
				0x41, 0x00, // i32.const 0 (dead)
				0x1A, // drop (dead)
				0x0B,
			}},
		},
		Exports: []wasm.Export{{Name: "deploy", Kind: wasm.KindFunc, Idx: 0}},
	}

	opt, stats, err := Optimize(m, config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if stats.InstrsEliminated != 3 {
		t.Errorf("InstrsEliminated = %d, want 3", stats.InstrsEliminated)
	}

	instrs, err := wasm.DecodeInstructions(opt.Code[0].Code)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(instrs) != 2 || instrs[0].Opcode != 0x0F || instrs[1].Opcode != 0x0B {
		t.Errorf("unexpected body: %+v", instrs)
	}
}

func TestOptimizePreservesImports(t *testing.T) {
	m := testModule()
	m.Types = append(m.Types, wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}})
	m.Imports = []wasm.Import{
		// Never called, still pinned: dropping it would change the declared
		// host interface.
		{Module: "seal0", Name: "seal_deposit_event", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 3}},
	}
	// Shift export and call indices past the import.
	m.Exports[0].Idx = 2
	m.Exports[1].Idx = 3
	m.Code[2].Code = []byte{0x10, 0x04, 0x0B}

	opt, _, err := Optimize(m, config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(opt.Imports) != 1 {
		t.Fatalf("imports = %d, want 1", len(opt.Imports))
	}
	if err := opt.Validate(); err != nil {
		t.Errorf("optimized module fails validation: %v", err)
	}
}

// TestOptimizeExecutionEquivalence instantiates both modules and checks the
// exported function computes the same result after optimization.
func TestOptimizeExecutionEquivalence(t *testing.T) {
	ctx := context.Background()
	m := testModule()

	opt, _, err := Optimize(m, config.Default().Optimizer, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	run := func(bin []byte) uint64 {
		t.Helper()
		inst, err := rt.Instantiate(ctx, bin)
		if err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		defer inst.Close(ctx)

		res, err := inst.ExportedFunction("get").Call(ctx)
		if err != nil {
			t.Fatalf("call get: %v", err)
		}
		return res[0]
	}

	before := run(m.Encode())
	after := run(opt.Encode())

	if before != after {
		t.Errorf("results diverge: %d before, %d after", before, after)
	}
	if before != 43 {
		t.Errorf("get() = %d, want 43", before)
	}
}
