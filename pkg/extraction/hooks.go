package extraction

import "github.com/joyfulsong/elisp-extractor/pkg/peval"

// Remapper rewrites a routine's evaluated statements before trace
// assembly.
type Remapper func(stmts []peval.Value) ([]peval.Value, error)

// Hooks carries injections that configuration cannot express: name
// bindings computed in Go and per-routine statement remappers.
type Hooks struct {
	// Globals binds extra names per routine, consulted by the injected
	// resolver stage.
	Globals map[string]map[string]peval.Value

	// Remappers run after evaluation, keyed by routine name.
	Remappers map[string]Remapper
}

func (h *Hooks) globalsFor(routine string) map[string]peval.Value {
	if h == nil {
		return nil
	}
	return h.Globals[routine]
}

func (h *Hooks) remap(routine string, stmts []peval.Value) ([]peval.Value, error) {
	if h == nil {
		return stmts, nil
	}
	remapper, ok := h.Remappers[routine]
	if !ok {
		return stmts, nil
	}
	return remapper(stmts)
}
