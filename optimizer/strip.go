package optimizer

import "github.com/MaciejBaj/cargo-contract/wasm"

// stripCustomSections drops custom sections not named in keep. Name, debug
// info, and producer sections are dead weight on chain; the execution
// environment never reads them.
func stripCustomSections(m *wasm.Module, keep []string) int {
	if len(m.CustomSections) == 0 {
		return 0
	}

	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	kept := m.CustomSections[:0]
	removed := 0
	for _, cs := range m.CustomSections {
		if keepSet[cs.Name] {
			kept = append(kept, cs)
		} else {
			removed++
		}
	}
	m.CustomSections = kept
	return removed
}
