package trace

import (
	"encoding/json"
	"io"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/peval"
)

// The report is plain JSON with $type-tagged nodes, so a target-language
// emitter can walk it without sharing Go types.

// WriteReport renders the extraction as indented JSON.
func WriteReport(w io.Writer, x *Extraction) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reportDocument(x))
}

func reportDocument(x *Extraction) map[string]any {
	symbols := make([]any, len(x.Catalog.Symbols))
	for i, s := range x.Catalog.Symbols {
		symbols[i] = map[string]any{
			"index":     s.Index,
			"c_name":    s.CName,
			"lisp_name": s.LispName,
		}
	}

	var variables, perBuffer []any
	for _, unit := range x.Catalog.Units {
		for _, v := range unit.LispVariables {
			variables = append(variables, lispVariableJSON(v))
		}
		for _, v := range unit.PerKboardVariables {
			variables = append(variables, lispVariableJSON(v))
		}
		for _, v := range unit.PerBufferVariables {
			perBuffer = append(perBuffer, map[string]any{
				"lisp_name": v.LispName,
				"c_name":    v.CName,
				"predicate": v.Predicate,
				"slot":      v.SlotIndex,
				"doc":       v.Doc,
			})
		}
	}

	var subroutines []any
	for _, unit := range x.Catalog.Units {
		for _, s := range unit.Subroutines {
			subroutines = append(subroutines, map[string]any{
				"lisp_name": s.LispName,
				"c_name":    s.CName,
				"min_args":  s.MinArgs,
				"max_args":  s.MaxArgs,
				"int_spec":  s.IntSpec,
				"args":      s.Args,
				"exported":  s.Exported,
			})
		}
	}

	routines := make([]any, len(x.Routines))
	for i, r := range x.Routines {
		stmts := make([]any, len(r.Statements))
		for j, stmt := range r.Statements {
			stmts[j] = valueJSON(stmt)
		}
		routines[i] = map[string]any{
			"name":       r.Name,
			"file":       r.File,
			"statements": stmts,
		}
	}

	return map[string]any{
		"symbols":              symbols,
		"variables":            variables,
		"per_buffer_variables": perBuffer,
		"subroutines":          subroutines,
		"routines":             routines,
	}
}

func lispVariableJSON(v *catalog.LispVariable) map[string]any {
	return map[string]any{
		"lisp_name": v.LispName,
		"c_name":    v.CName,
		"kind":      v.Kind.String(),
		"default":   v.Default,
		"doc":       v.Doc,
	}
}

func valueJSON(v peval.Value) any {
	switch x := v.(type) {
	case nil, *peval.NilValue:
		return nil
	case *peval.BoolValue:
		return x.Value
	case *peval.IntValue:
		return x.Value
	case *peval.FloatValue:
		return x.Value
	case *peval.StringValue:
		return x.Value
	case *peval.ConstantValue:
		return map[string]any{"$type": "constant", "name": x.Name, "value": x.Value}
	case *peval.SymbolValue:
		return map[string]any{"$type": "symbol", "name": x.Name}
	case *peval.VarRef:
		return map[string]any{"$type": "var", "name": x.Name}
	case *peval.GlobalRef:
		return map[string]any{"$type": "global", "name": x.Name, "local": x.Local}
	case *peval.FormValue:
		return map[string]any{"$type": "form", "function": x.Function, "args": valuesJSON(x.Args)}
	case *peval.CCallValue:
		return map[string]any{"$type": "call", "name": x.Name, "args": valuesJSON(x.Args)}
	case *peval.VarAssign:
		return map[string]any{"$type": "set-var", "name": x.Name, "value": valueJSON(x.Value)}
	case *peval.GlobalAssign:
		return map[string]any{"$type": "set-global", "name": x.Name, "local": x.Local, "value": valueJSON(x.Value)}
	case *peval.ContextValue:
		return map[string]any{"$type": "scope", "name": x.Name, "args": valuesJSON(x.Args), "body": valuesJSON(x.Body)}
	case *peval.ArrayValue:
		return map[string]any{"$type": "array", "elements": valuesJSON(x.Elems)}
	}
	return map[string]any{"$type": "opaque", "text": peval.Format(v)}
}

func valuesJSON(values []peval.Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = valueJSON(v)
	}
	return out
}
