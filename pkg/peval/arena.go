package peval

// Handle addresses a value in the arena. Handles are dense and stable for
// the lifetime of one evaluator, so the pending-effect index can key on
// them instead of on interface identity.
type Handle int

// Arena interns values by pointer identity and hands out integer handles.
type Arena struct {
	handles map[Value]Handle
	values  []Value
}

func NewArena() *Arena {
	return &Arena{handles: make(map[Value]Handle)}
}

// Intern returns the handle for v, allocating one on first sight.
func (a *Arena) Intern(v Value) Handle {
	if h, ok := a.handles[v]; ok {
		return h
	}
	h := Handle(len(a.values))
	a.values = append(a.values, v)
	a.handles[v] = h
	return h
}

// Lookup returns the handle for v without allocating.
func (a *Arena) Lookup(v Value) (Handle, bool) {
	h, ok := a.handles[v]
	return h, ok
}
