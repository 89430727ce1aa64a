package peval

import (
	"fmt"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
)

// Name resolution runs through an explicit ordered stage list. Earlier
// stages shadow later ones; the order is part of the evaluator's
// contract, so it lives in one place instead of being spread over a
// fallback chain.

type resolverStage struct {
	name string
	fn   func(ev *Evaluator, name string) (Value, bool, error)
}

var resolverStages = []resolverStage{
	{"constant", (*Evaluator).resolveConstant},
	{"symbol", (*Evaluator).resolveSymbol},
	{"c-global", (*Evaluator).resolveCGlobal},
	{"subroutine", (*Evaluator).resolveSubroutine},
	{"marker", (*Evaluator).resolveMarker},
	{"util-rewrite", (*Evaluator).resolveUtil},
	{"c-function", (*Evaluator).resolveCFunction},
	{"lisp-variable", (*Evaluator).resolveLispVariable},
	{"injected", (*Evaluator).resolveInjected},
	{"base", (*Evaluator).resolveBase},
}

// UnresolvedNameError reports a name no resolver stage could bind.
type UnresolvedNameError struct {
	Name string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("unresolved name %q", e.Name)
}

func (ev *Evaluator) resolve(name string) (Value, error) {
	if v, ok := ev.locals[name]; ok {
		return v, nil
	}
	for _, stage := range resolverStages {
		v, ok, err := stage.fn(ev, name)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", stage.name, err)
		}
		if ok {
			return v, nil
		}
	}
	return nil, &UnresolvedNameError{Name: name}
}

func (ev *Evaluator) resolveConstant(name string) (Value, bool, error) {
	c := ev.cat.Constants[name]
	if c == nil {
		c = ev.unit.Constant(name)
	}
	if c == nil {
		return nil, false, nil
	}
	if c.Kind == catalog.ConstantString {
		return &StringValue{Value: c.Str}, true, nil
	}
	return &ConstantValue{Name: c.Name, Value: c.Int}, true, nil
}

func (ev *Evaluator) resolveSymbol(name string) (Value, bool, error) {
	sym := ev.cat.SymbolsByName[name]
	if sym == nil {
		return nil, false, nil
	}
	return &SymbolValue{Name: sym.LispName}, true, nil
}

func (ev *Evaluator) resolveCGlobal(name string) (Value, bool, error) {
	if ev.cat.CVariables[name] == nil {
		return nil, false, nil
	}
	return &GlobalRef{Name: name}, true, nil
}

func (ev *Evaluator) resolveSubroutine(name string) (Value, bool, error) {
	sub := ev.cat.Subroutines[name]
	if sub == nil {
		return nil, false, nil
	}
	return ev.subroutineCallable(sub), true, nil
}

// subroutineCallable builds composite forms for catalogued subroutines,
// unpacking the C variadic calling convention (count plus argument
// array) when the count is concrete.
func (ev *Evaluator) subroutineCallable(sub *catalog.Subroutine) *CallableValue {
	return &CallableValue{Name: sub.CName, Fn: func(args []Value) (Value, error) {
		if sub.Variadic() && len(args) == 2 {
			if n, ok := asInt(args[0]); ok {
				switch arr := args[1].(type) {
				case *ArrayValue:
					if int(n) > len(arr.Elems) {
						return nil, fmt.Errorf("%s: %d arguments from a %d-element array",
							sub.CName, n, len(arr.Elems))
					}
					args = arr.Elems[:n]
				default:
					if n != 0 {
						return nil, fmt.Errorf("%s: variadic argument array is %s",
							sub.CName, Format(args[1]))
					}
					args = nil
				}
			}
		}
		return &FormValue{Function: sub.LispName, Args: args}, nil
	}}
}

// resolveMarker binds the override-rule vocabulary: names that only
// appear in substituted line text.
func (ev *Evaluator) resolveMarker(name string) (Value, bool, error) {
	switch name {
	case "void":
		return &CallableValue{Name: name, Fn: func([]Value) (Value, error) {
			return &NilValue{}, nil
		}}, true, nil
	case "PE_CONSTANT":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("PE_CONSTANT takes one argument")
			}
			switch x := args[0].(type) {
			case *StringValue:
				c := ev.cat.Constants[x.Value]
				if c == nil || c.Kind != catalog.ConstantInt {
					return nil, fmt.Errorf("PE_CONSTANT: unknown constant %q", x.Value)
				}
				return &ConstantValue{Name: c.Name, Value: c.Int}, nil
			case *IntValue:
				return &ConstantValue{Value: x.Value}, nil
			case *ConstantValue:
				return x, nil
			}
			return nil, fmt.Errorf("PE_CONSTANT: cannot wrap %s", Format(args[0]))
		}}, true, nil
	case "PRUNE_SIDE_EFFECT":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			for _, a := range args {
				ev.retract(a)
			}
			return &NilValue{}, nil
		}}, true, nil
	}
	return nil, false, nil
}

func (ev *Evaluator) resolveUtil(name string) (Value, bool, error) {
	rewrite, ok := utilRewrites[name]
	if !ok {
		return nil, false, nil
	}
	return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
		return rewrite(args)
	}}, true, nil
}

func (ev *Evaluator) resolveCFunction(name string) (Value, bool, error) {
	if !ev.cFunctions[name] {
		return nil, false, nil
	}
	return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
		return &CCallValue{Name: name, Args: args}, nil
	}}, true, nil
}

// resolveLispVariable reads a declared variable. Bool and int kinds read
// as their C zero value; anything else reads as a reference for the
// emitter to chase.
func (ev *Evaluator) resolveLispVariable(name string) (Value, bool, error) {
	v := ev.cat.LispVariables[name]
	if v == nil {
		return nil, false, nil
	}
	switch v.Kind {
	case catalog.VarBool:
		return &BoolValue{Value: false}, true, nil
	case catalog.VarInt:
		return &IntValue{Value: 0}, true, nil
	}
	return &VarRef{Name: v.CName}, true, nil
}

func (ev *Evaluator) resolveInjected(name string) (Value, bool, error) {
	if v, ok := ev.extras[name]; ok {
		return v, true, nil
	}
	if v, ok := ev.extraGlobals[name]; ok {
		return v, true, nil
	}
	return nil, false, nil
}

func (ev *Evaluator) resolveBase(name string) (Value, bool, error) {
	switch name {
	case "NULL":
		return &IntValue{Value: 0}, true, nil
	case "lispsym":
		return ev.lispsymArray(), true, nil
	case "ARRAYELTS":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("ARRAYELTS takes one argument")
			}
			arr, ok := args[0].(*ArrayValue)
			if !ok {
				return nil, fmt.Errorf("ARRAYELTS of %s", Format(args[0]))
			}
			return &IntValue{Value: int64(len(arr.Elems))}, nil
		}}, true, nil
	case "sizeof", "c_pointer":
		marker := name
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			return &CCallValue{Name: marker, Args: args}, nil
		}}, true, nil
	case "c_array":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			return makeCArray(args)
		}}, true, nil
	case "CALLN":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("CALLN without a function")
			}
			fn, ok := args[0].(*CallableValue)
			if !ok {
				return nil, fmt.Errorf("CALLN of %s", Format(args[0]))
			}
			return fn.Fn(args[1:])
		}}, true, nil
	case "CALLMANY":
		return &CallableValue{Name: name, Fn: func(args []Value) (Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("CALLMANY takes a function and an array")
			}
			fn, ok := args[0].(*CallableValue)
			if !ok {
				return nil, fmt.Errorf("CALLMANY of %s", Format(args[0]))
			}
			arr, ok := args[1].(*ArrayValue)
			if !ok {
				return nil, fmt.Errorf("CALLMANY arguments are %s", Format(args[1]))
			}
			return fn.Fn(arr.Elems)
		}}, true, nil
	}
	return nil, false, nil
}

func makeCArray(args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("c_array takes size and initializer")
	}
	n, ok := asInt(args[0])
	if !ok || n < 0 {
		return nil, fmt.Errorf("c_array size is %s", Format(args[0]))
	}
	elems := make([]Value, n)
	for i := range elems {
		elems[i] = &NilValue{}
	}
	switch init := args[1].(type) {
	case *NilValue:
	case *ArrayValue:
		if len(init.Elems) > int(n) {
			return nil, fmt.Errorf("c_array initializer has %d elements for size %d",
				len(init.Elems), n)
		}
		copy(elems, init.Elems)
	default:
		return nil, fmt.Errorf("c_array initializer is %s", Format(args[1]))
	}
	return &ArrayValue{Elems: elems}, nil
}

func (ev *Evaluator) lispsymArray() *ArrayValue {
	if ev.lispsym == nil {
		elems := make([]Value, len(ev.cat.Symbols))
		for i, s := range ev.cat.Symbols {
			elems[i] = &SymbolValue{Name: s.LispName}
		}
		ev.lispsym = &ArrayValue{Elems: elems}
	}
	return ev.lispsym
}
