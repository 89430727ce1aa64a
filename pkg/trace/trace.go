package trace

import (
	"fmt"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/peval"
)

// Routine is the retained effect trace of one init routine.
type Routine struct {
	Name       string
	File       string
	Statements []peval.Value
}

// Extraction is the complete result: the resolved catalogs plus every
// routine trace in main's call order.
type Extraction struct {
	Catalog  *catalog.Catalog
	Routines []*Routine
}

// ContextPair names a save/restore call pair whose dynamic extent should
// fold into one scoped node.
type ContextPair struct {
	Open  string
	Close string
}

// FoldContextScopes rewrites a flat statement list so that everything
// between an opening call and its matching close becomes the body of a
// single scope node. Pairs nest; mismatched or unclosed pairs are errors.
func FoldContextScopes(stmts []peval.Value, pairs []ContextPair) ([]peval.Value, error) {
	if len(pairs) == 0 {
		return stmts, nil
	}
	opens := make(map[string]ContextPair, len(pairs))
	closes := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		opens[p.Open] = p
		closes[p.Close] = true
	}

	type frame struct {
		ctx    *peval.ContextValue
		close  string
		parent *[]peval.Value
	}
	var top []peval.Value
	cur := &top
	var stack []frame

	for _, stmt := range stmts {
		name, args, isCall := callShape(stmt)
		if isCall {
			if pair, ok := opens[name]; ok {
				ctx := &peval.ContextValue{Name: name, Args: args}
				stack = append(stack, frame{ctx: ctx, close: pair.Close, parent: cur})
				cur = &ctx.Body
				continue
			}
			if closes[name] {
				if len(stack) == 0 {
					return nil, fmt.Errorf("trace: %s without a matching open call", name)
				}
				f := stack[len(stack)-1]
				if f.close != name {
					return nil, fmt.Errorf("trace: %s closes a scope opened by %s", name, f.ctx.Name)
				}
				stack = stack[:len(stack)-1]
				cur = f.parent
				*cur = append(*cur, f.ctx)
				continue
			}
		}
		*cur = append(*cur, stmt)
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("trace: scope %s never closed", stack[len(stack)-1].ctx.Name)
	}
	return top, nil
}

func callShape(v peval.Value) (string, []peval.Value, bool) {
	switch x := v.(type) {
	case *peval.CCallValue:
		return x.Name, x.Args, true
	case *peval.FormValue:
		return x.Function, x.Args, true
	}
	return "", nil, false
}
