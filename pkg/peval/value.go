package peval

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates symbolic value variants without type switches at
// every call site.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindConstant
	KindSymbol
	KindVarRef
	KindGlobalRef
	KindForm
	KindCCall
	KindVarAssign
	KindGlobalAssign
	KindContext
	KindArray
	KindRecord
	KindCallable
)

// Value is a symbolic evaluation result. Values are immutable once
// constructed (arrays and records excepted, which are evaluator-internal
// and never appear in traces); identity is pointer identity, which the
// arena relies on.
type Value interface {
	Kind() Kind
}

// NilValue is the absent/undefined value. Never emitted into traces.
type NilValue struct{}

// BoolValue, IntValue, FloatValue and StringValue are concrete literals.
type BoolValue struct{ Value bool }
type IntValue struct{ Value int64 }
type FloatValue struct{ Value float64 }
type StringValue struct{ Value string }

// ConstantValue references a named integer constant from the catalog.
// Arithmetic unwraps it to its value; traces keep the name.
type ConstantValue struct {
	Name  string
	Value int64
}

// SymbolValue references an interned symbol by its Lisp name.
type SymbolValue struct{ Name string }

// VarRef references a declared Lisp variable by C name.
type VarRef struct{ Name string }

// GlobalRef references a raw C global, or a routine-local binding when
// Local is set.
type GlobalRef struct {
	Name  string
	Local bool
}

// FormValue is a composite call to a catalogued subroutine or a
// higher-level form such as list, cons or aset. Function is the Lisp name.
type FormValue struct {
	Function string
	Args     []Value
}

// CCallValue is a call to a recognized C helper, kept as-is for the
// emitter to interpret.
type CCallValue struct {
	Name string
	Args []Value
}

// VarAssign records an explicit assignment to a declared Lisp variable.
type VarAssign struct {
	Name  string
	Value Value
}

// GlobalAssign records an assignment to a raw C global, or to a
// routine-local binding when Local is set.
type GlobalAssign struct {
	Name  string
	Value Value
	Local bool
}

// ContextValue is a folded save/restore scope: the opening call's name
// and arguments plus the statements evaluated inside the scope.
type ContextValue struct {
	Name string
	Args []Value
	Body []Value
}

// ArrayValue is an evaluator-internal mutable sequence, backing C arrays
// and initializer lists.
type ArrayValue struct{ Elems []Value }

// RecordValue is an evaluator-internal field bag for struct-shaped
// locals.
type RecordValue struct{ Fields map[string]Value }

// CallableValue is an evaluator-internal function binding produced by
// name resolution.
type CallableValue struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

func (*NilValue) Kind() Kind      { return KindNil }
func (*BoolValue) Kind() Kind     { return KindBool }
func (*IntValue) Kind() Kind      { return KindInt }
func (*FloatValue) Kind() Kind    { return KindFloat }
func (*StringValue) Kind() Kind   { return KindString }
func (*ConstantValue) Kind() Kind { return KindConstant }
func (*SymbolValue) Kind() Kind   { return KindSymbol }
func (*VarRef) Kind() Kind        { return KindVarRef }
func (*GlobalRef) Kind() Kind     { return KindGlobalRef }
func (*FormValue) Kind() Kind     { return KindForm }
func (*CCallValue) Kind() Kind    { return KindCCall }
func (*VarAssign) Kind() Kind     { return KindVarAssign }
func (*GlobalAssign) Kind() Kind  { return KindGlobalAssign }
func (*ContextValue) Kind() Kind  { return KindContext }
func (*ArrayValue) Kind() Kind    { return KindArray }
func (*RecordValue) Kind() Kind   { return KindRecord }
func (*CallableValue) Kind() Kind { return KindCallable }

// IsEffect reports whether a value represents an observable side effect
// that must appear in the trace unless absorbed by a parent.
func IsEffect(v Value) bool {
	switch v.Kind() {
	case KindForm, KindCCall, KindContext:
		return true
	}
	return false
}

// isSymbolic reports whether a value is a reference or effect node
// rather than a concrete literal, an interned symbol, or evaluator
// bookkeeping. A local bound to a symbolic value snapshots state that
// later statements may change, so the binding itself must be emitted.
func isSymbolic(v Value) bool {
	switch v.(type) {
	case *ConstantValue, *VarRef, *GlobalRef, *FormValue, *CCallValue, *ContextValue:
		return true
	}
	return false
}

// directChildren returns the structural children one level deep, matching
// the retraction depth of effect absorption.
func directChildren(v Value) []Value {
	switch x := v.(type) {
	case *FormValue:
		return x.Args
	case *CCallValue:
		return x.Args
	case *ContextValue:
		return x.Args
	case *ArrayValue:
		return x.Elems
	case *VarAssign:
		return []Value{x.Value}
	case *GlobalAssign:
		return []Value{x.Value}
	}
	return nil
}

// Format renders a value for diagnostics. Traces use the JSON report, not
// this form.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case *NilValue:
		return "nil"
	case *BoolValue:
		return strconv.FormatBool(x.Value)
	case *IntValue:
		return strconv.FormatInt(x.Value, 10)
	case *FloatValue:
		return strconv.FormatFloat(x.Value, 'g', -1, 64)
	case *StringValue:
		return strconv.Quote(x.Value)
	case *ConstantValue:
		return x.Name
	case *SymbolValue:
		return "'" + x.Name
	case *VarRef:
		return x.Name
	case *GlobalRef:
		return x.Name
	case *FormValue:
		return "(" + x.Function + formatArgs(x.Args) + ")"
	case *CCallValue:
		return x.Name + "(" + strings.TrimPrefix(formatArgs(x.Args), " ") + ")"
	case *VarAssign:
		return fmt.Sprintf("%s = %s", x.Name, Format(x.Value))
	case *GlobalAssign:
		return fmt.Sprintf("%s = %s", x.Name, Format(x.Value))
	case *ContextValue:
		return fmt.Sprintf("<scope %s: %d statements>", x.Name, len(x.Body))
	case *ArrayValue:
		return "[" + strings.TrimPrefix(formatArgs(x.Elems), " ") + "]"
	case *RecordValue:
		return fmt.Sprintf("<record %d fields>", len(x.Fields))
	case *CallableValue:
		return "<callable " + x.Name + ">"
	}
	return "<?>"
}

func formatArgs(args []Value) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(Format(a))
	}
	return b.String()
}
