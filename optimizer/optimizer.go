// Package optimizer shrinks contract modules before validation. It strips
// custom sections, removes unreachable functions, globals, and types,
// renumbers the surviving index spaces densely, and applies conservative
// peephole rewrites. Exported behavior is never altered.
package optimizer

import (
	"go.uber.org/zap"

	"github.com/MaciejBaj/cargo-contract/config"
	"github.com/MaciejBaj/cargo-contract/errors"
	"github.com/MaciejBaj/cargo-contract/wasm"
)

// Stats reports what optimization removed.
type Stats struct {
	SizeBefore       int
	SizeAfter        int
	FuncsRemoved     int
	GlobalsRemoved   int
	TypesRemoved     int
	CustomStripped   int
	InstrsEliminated int
}

// Optimize runs the pass sequence on m and returns the optimized module.
// The input module is not modified. Failures in the strip and peephole
// passes degrade to a logged skip; failures in reachability or compaction
// are fatal, since a half-rewritten index space is unusable.
func Optimize(m *wasm.Module, cfg config.Optimizer, log *zap.Logger) (*wasm.Module, Stats, error) {
	if log == nil {
		log = zap.NewNop()
	}

	stats := Stats{SizeBefore: len(m.Encode())}

	// Work on a reparse so the caller's module stays intact.
	work, err := wasm.ParseModule(m.Encode())
	if err != nil {
		return nil, stats, errors.Optimization("clone", err)
	}

	if cfg.StripCustom {
		stats.CustomStripped = stripCustomSections(work, cfg.KeepCustomSections)
		if stats.CustomStripped > 0 {
			log.Debug("stripped custom sections", zap.Int("count", stats.CustomStripped))
		}
	}

	reach, err := analyze(work)
	if err != nil {
		return nil, stats, errors.Optimization("reachability", err)
	}

	funcsBefore := work.NumFuncs()
	globalsBefore := work.NumImportedGlobals() + len(work.Globals)
	typesBefore := len(work.Types)

	work, err = compact(work, reach)
	if err != nil {
		return nil, stats, errors.Optimization("compact", err)
	}

	stats.FuncsRemoved = funcsBefore - work.NumFuncs()
	stats.GlobalsRemoved = globalsBefore - (work.NumImportedGlobals() + len(work.Globals))
	stats.TypesRemoved = typesBefore - len(work.Types)

	if cfg.Peephole {
		eliminated, err := peephole(work)
		stats.InstrsEliminated = eliminated
		if err != nil {
			log.Warn("peephole pass skipped", zap.Error(err))
		}
	}

	stats.SizeAfter = len(work.Encode())
	log.Info("optimized module",
		zap.Int("size_before", stats.SizeBefore),
		zap.Int("size_after", stats.SizeAfter),
		zap.Int("funcs_removed", stats.FuncsRemoved),
		zap.Int("globals_removed", stats.GlobalsRemoved),
		zap.Int("instrs_eliminated", stats.InstrsEliminated),
	)

	return work, stats, nil
}
