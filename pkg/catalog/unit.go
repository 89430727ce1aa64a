package catalog

import (
	"fmt"
)

// InconsistencyError reports a violated structural assumption about the
// fact catalog. These fail at catalog-build time, never during evaluation.
type InconsistencyError struct {
	Reason string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("catalog: inconsistent: %s", e.Reason)
}

// SourceUnit holds everything extracted from one C file.
type SourceUnit struct {
	File string

	LispVariables      []*LispVariable
	PerBufferVariables []*PerBufferVariable
	PerKboardVariables []*LispVariable
	CVariables         []*CVariable
	Constants          []*Constant
	Subroutines        []*Subroutine

	constantIndex map[string]*Constant
}

// Constant resolves a unit-local constant by name.
func (u *SourceUnit) Constant(name string) *Constant {
	if u == nil {
		return nil
	}
	if u.constantIndex == nil {
		u.constantIndex = make(map[string]*Constant, len(u.Constants))
		for _, c := range u.Constants {
			u.constantIndex[c.Name] = c
		}
	}
	return u.constantIndex[name]
}

// Catalog aggregates every unit's facts into name-keyed indexes. It is
// populated once and read-only during evaluation, except for the
// write-once Default field on declared variables.
type Catalog struct {
	Units   []*SourceUnit
	Symbols []*Symbol

	Constants     map[string]*Constant
	LispVariables map[string]*LispVariable
	Subroutines   map[string]*Subroutine
	CVariables    map[string]*CVariable
	SymbolsByName map[string]*Symbol
}

// Build assembles and validates the aggregate catalog.
func Build(units []*SourceUnit, symbols []*Symbol) (*Catalog, error) {
	c := &Catalog{
		Units:         units,
		Symbols:       symbols,
		Constants:     make(map[string]*Constant),
		LispVariables: make(map[string]*LispVariable),
		Subroutines:   make(map[string]*Subroutine),
		CVariables:    make(map[string]*CVariable),
		SymbolsByName: make(map[string]*Symbol, len(symbols)),
	}
	for i, s := range symbols {
		if s.Index != i {
			return nil, &InconsistencyError{Reason: fmt.Sprintf("symbol %s out of order", s.CName)}
		}
		if _, dup := c.SymbolsByName[s.CName]; dup {
			return nil, &InconsistencyError{Reason: fmt.Sprintf("duplicate symbol %s", s.CName)}
		}
		c.SymbolsByName[s.CName] = s
	}
	for _, unit := range units {
		for _, cst := range unit.Constants {
			c.Constants[cst.Name] = cst
		}
		for _, v := range unit.LispVariables {
			if prev, dup := c.LispVariables[v.CName]; dup && prev.LispName != v.LispName {
				return nil, &InconsistencyError{Reason: fmt.Sprintf("variable %s redeclared as %s", prev.LispName, v.LispName)}
			}
			c.LispVariables[v.CName] = v
		}
		for _, v := range unit.PerKboardVariables {
			c.LispVariables[v.CName] = v
		}
		for _, s := range unit.Subroutines {
			c.Subroutines[s.CName] = s
		}
		for _, v := range unit.CVariables {
			if !v.Static {
				c.CVariables[v.CName] = v
			}
		}
	}
	return c, nil
}

// Unit returns the unit extracted from the given file name, if any.
func (c *Catalog) Unit(file string) *SourceUnit {
	for _, u := range c.Units {
		if u.File == file {
			return u
		}
	}
	return nil
}
