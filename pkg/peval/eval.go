package peval

import (
	"fmt"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/normalize"
)

// Options configures one evaluator. The catalog and unit are shared and
// read-only except for write-once variable defaults.
type Options struct {
	Catalog *catalog.Catalog
	Unit    *catalog.SourceUnit

	// CFunctions extends DefaultCFunctions with operator-configured
	// helper names preserved as primitive calls.
	CFunctions []string

	// ExtraGlobals are pipeline-wide injected bindings, consulted after
	// per-routine extras.
	ExtraGlobals map[string]Value

	// EliminateLocals records concrete values instead of self-references
	// on emitted assignments, inlining locals aggressively.
	EliminateLocals bool

	// MaxLoopIterations bounds each loop. Zero means the default.
	MaxLoopIterations int
}

const defaultMaxLoopIterations = 1 << 16

// Evaluator partially evaluates normalized statements against the fact
// catalog, producing the ordered effect list for one routine.
type Evaluator struct {
	cat             *catalog.Catalog
	unit            *catalog.SourceUnit
	cFunctions      map[string]bool
	extraGlobals    map[string]Value
	eliminateLocals bool
	maxLoop         int

	routine   string
	extras    map[string]Value
	arena     *Arena
	pending   map[Handle]int
	evaluated []Value
	locals    map[string]Value
	lispsym   *ArrayValue
}

func NewEvaluator(opts Options) *Evaluator {
	fns := DefaultCFunctions()
	for _, name := range opts.CFunctions {
		fns[name] = true
	}
	maxLoop := opts.MaxLoopIterations
	if maxLoop <= 0 {
		maxLoop = defaultMaxLoopIterations
	}
	extraGlobals := opts.ExtraGlobals
	if extraGlobals == nil {
		extraGlobals = map[string]Value{}
	}
	return &Evaluator{
		cat:             opts.Catalog,
		unit:            opts.Unit,
		cFunctions:      fns,
		extraGlobals:    extraGlobals,
		eliminateLocals: opts.EliminateLocals,
		maxLoop:         maxLoop,
	}
}

// EvalRoutine executes one routine's normalized statements and returns
// its retained effects in program order. extras are per-routine injected
// bindings; nil is fine.
func (ev *Evaluator) EvalRoutine(routine string, stmts []normalize.Statement, extras map[string]Value) ([]Value, error) {
	ev.routine = routine
	ev.extras = extras
	ev.arena = NewArena()
	ev.pending = make(map[Handle]int)
	ev.evaluated = nil
	ev.locals = make(map[string]Value)

	if err := ev.execStatements(stmts); err != nil {
		return nil, fmt.Errorf("peval: %s: %w", routine, err)
	}

	var out []Value
	for _, v := range ev.evaluated {
		if v == nil {
			continue
		}
		if assign, ok := v.(*GlobalAssign); ok && assign.Local && !isSymbolic(assign.Value) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (ev *Evaluator) execStatements(stmts []normalize.Statement) error {
	for _, stmt := range stmts {
		if err := ev.execStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ev *Evaluator) execStatement(stmt normalize.Statement) error {
	switch s := stmt.(type) {
	case *normalize.CommentStatement:
		return nil
	case *normalize.ExprStatement:
		_, err := ev.evalExpr(s.X)
		return ev.statementErr(stmt, err)
	case *normalize.AssignStatement:
		value, err := ev.evalExpr(s.Value)
		if err != nil {
			return ev.statementErr(stmt, err)
		}
		return ev.statementErr(stmt, ev.assignTarget(s.Target, value))
	case *normalize.IfStatement:
		cond, err := ev.evalExpr(s.Cond)
		if err != nil {
			return ev.statementErr(stmt, err)
		}
		taken, err := truth(cond)
		if err != nil {
			return ev.statementErr(stmt, err)
		}
		if taken {
			return ev.execStatements(s.Then)
		}
		return ev.execStatements(s.Else)
	case *normalize.WhileStatement:
		for iter := 0; ; iter++ {
			if iter >= ev.maxLoop {
				return ev.statementErr(stmt, fmt.Errorf("loop exceeded %d iterations", ev.maxLoop))
			}
			cond, err := ev.evalExpr(s.Cond)
			if err != nil {
				return ev.statementErr(stmt, err)
			}
			taken, err := truth(cond)
			if err != nil {
				return ev.statementErr(stmt, err)
			}
			if !taken {
				return nil
			}
			if err := ev.execStatements(s.Body); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("unsupported statement %T", stmt)
}

func (ev *Evaluator) statementErr(stmt normalize.Statement, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("statement %q: %w", normalize.Render(stmt), err)
}

func (ev *Evaluator) assignTarget(target normalize.Expr, value Value) error {
	switch t := target.(type) {
	case *normalize.Ident:
		return ev.assignName(t.Name, value)
	case *normalize.Index:
		container, err := ev.evalExpr(t.X)
		if err != nil {
			return err
		}
		arr, ok := container.(*ArrayValue)
		if !ok {
			return fmt.Errorf("subscript assignment into %s", Format(container))
		}
		idxVal, err := ev.evalExpr(t.Idx)
		if err != nil {
			return err
		}
		idx, ok := asInt(idxVal)
		if !ok || idx < 0 || int(idx) >= len(arr.Elems) {
			return fmt.Errorf("subscript %s out of range for %d elements", Format(idxVal), len(arr.Elems))
		}
		arr.Elems[idx] = value
		return nil
	case *normalize.Field:
		base, err := ev.evalExpr(t.X)
		if err != nil {
			return err
		}
		record, ok := base.(*RecordValue)
		if !ok {
			// A nil local promoted on first field write acts as a
			// struct-shaped scratch value.
			name, isIdent := t.X.(*normalize.Ident)
			if !isIdent || base.Kind() != KindNil {
				return fmt.Errorf("field assignment into %s", Format(base))
			}
			record = &RecordValue{Fields: make(map[string]Value)}
			ev.locals[name.Name] = record
		}
		if record.Fields == nil {
			record.Fields = make(map[string]Value)
		}
		record.Fields[t.Name] = value
		return nil
	}
	return fmt.Errorf("invalid assignment target %T", target)
}

// assignName implements the defaulting and emission rules: declared
// variables fold a literal assignment into the catalog default when it
// is the first one or repeats the stored default, raw globals always
// emit, locals emit whenever they bind a reference or an effect.
func (ev *Evaluator) assignName(name string, value Value) error {
	if lv := ev.cat.LispVariables[name]; lv != nil {
		if simple, ok := toSimple(value); ok && (lv.Default == nil || lv.Default == simple) {
			lv.Default = simple
			ev.retract(value)
			ev.locals[name] = &VarRef{Name: name}
			return nil
		}
		ev.retract(value)
		ev.emit(&VarAssign{Name: name, Value: value})
		if ev.eliminateLocals {
			ev.locals[name] = value
		} else {
			ev.locals[name] = &VarRef{Name: name}
		}
		return nil
	}
	if cv := ev.cat.CVariables[name]; cv != nil {
		ev.retract(value)
		ev.emit(&GlobalAssign{Name: name, Value: value})
		if ev.eliminateLocals {
			ev.locals[name] = value
		} else {
			ev.locals[name] = &GlobalRef{Name: name}
		}
		return nil
	}
	if isSymbolic(value) {
		ev.retract(value)
		ev.emit(&GlobalAssign{Name: name, Value: value, Local: true})
		if ev.eliminateLocals {
			ev.locals[name] = value
		} else {
			ev.locals[name] = &GlobalRef{Name: name, Local: true}
		}
		return nil
	}
	ev.locals[name] = value
	return nil
}

func (ev *Evaluator) evalExpr(e normalize.Expr) (Value, error) {
	switch x := e.(type) {
	case *normalize.Ident:
		return ev.resolve(x.Name)
	case *normalize.IntLit:
		return &IntValue{Value: x.Value}, nil
	case *normalize.FloatLit:
		return &FloatValue{Value: x.Value}, nil
	case *normalize.StrLit:
		return &StringValue{Value: x.Value}, nil
	case *normalize.BoolLit:
		return &BoolValue{Value: x.Value}, nil
	case *normalize.NilLit:
		return &NilValue{}, nil
	case *normalize.ListLit:
		elems := make([]Value, len(x.Elems))
		for i, elem := range x.Elems {
			v, err := ev.evalExpr(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return &ArrayValue{Elems: elems}, nil
	case *normalize.Unary:
		return ev.evalUnary(x)
	case *normalize.Binary:
		return ev.evalBinaryExpr(x)
	case *normalize.CondExpr:
		cond, err := ev.evalExpr(x.Cond)
		if err != nil {
			return nil, err
		}
		taken, err := truth(cond)
		if err != nil {
			return nil, err
		}
		if taken {
			return ev.evalExpr(x.Then)
		}
		return ev.evalExpr(x.Else)
	case *normalize.Call:
		return ev.evalCall(x)
	case *normalize.Index:
		return ev.evalIndex(x)
	case *normalize.Field:
		base, err := ev.evalExpr(x.X)
		if err != nil {
			return nil, err
		}
		record, ok := base.(*RecordValue)
		if !ok {
			return nil, fmt.Errorf("field %s of %s", x.Name, Format(base))
		}
		if v, ok := record.Fields[x.Name]; ok {
			return v, nil
		}
		return &NilValue{}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func (ev *Evaluator) evalUnary(x *normalize.Unary) (Value, error) {
	operand, err := ev.evalExpr(x.X)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "!":
		t, err := truth(operand)
		if err != nil {
			return nil, err
		}
		return &BoolValue{Value: !t}, nil
	case "-":
		if f, ok := operand.(*FloatValue); ok {
			return &FloatValue{Value: -f.Value}, nil
		}
		if i, ok := asInt(operand); ok {
			return &IntValue{Value: -i}, nil
		}
	case "~":
		if i, ok := asInt(operand); ok {
			return &IntValue{Value: ^i}, nil
		}
	}
	return nil, fmt.Errorf("non-concrete operand for %s: %s", x.Op, Format(operand))
}

func (ev *Evaluator) evalBinaryExpr(x *normalize.Binary) (Value, error) {
	left, err := ev.evalExpr(x.Left)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "&&", "||":
		lt, err := truth(left)
		if err != nil {
			return nil, err
		}
		if x.Op == "&&" && !lt {
			return &BoolValue{Value: false}, nil
		}
		if x.Op == "||" && lt {
			return &BoolValue{Value: true}, nil
		}
		right, err := ev.evalExpr(x.Right)
		if err != nil {
			return nil, err
		}
		rt, err := truth(right)
		if err != nil {
			return nil, err
		}
		return &BoolValue{Value: rt}, nil
	}
	right, err := ev.evalExpr(x.Right)
	if err != nil {
		return nil, err
	}
	return evalBinary(x.Op, left, right)
}

func (ev *Evaluator) evalCall(c *normalize.Call) (Value, error) {
	fnVal, err := ev.evalExpr(c.Fn)
	if err != nil {
		return nil, err
	}
	callable, ok := fnVal.(*CallableValue)
	if !ok {
		return nil, fmt.Errorf("calling non-function %s", Format(fnVal))
	}
	args := make([]Value, len(c.Args))
	for i, argExpr := range c.Args {
		arg, err := ev.evalExpr(argExpr)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	result, err := callable.Fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", callable.Name, err)
	}
	// Arguments are absorbed into the result; effects they carried no
	// longer stand alone.
	for _, arg := range args {
		ev.retract(arg)
	}
	if IsEffect(result) {
		ev.register(result)
	}
	return result, nil
}

func (ev *Evaluator) evalIndex(x *normalize.Index) (Value, error) {
	container, err := ev.evalExpr(x.X)
	if err != nil {
		return nil, err
	}
	idxVal, err := ev.evalExpr(x.Idx)
	if err != nil {
		return nil, err
	}
	idx, concrete := asInt(idxVal)
	switch c := container.(type) {
	case *ArrayValue:
		if !concrete || idx < 0 || int(idx) >= len(c.Elems) {
			return nil, fmt.Errorf("subscript %s out of range for %d elements", Format(idxVal), len(c.Elems))
		}
		return c.Elems[idx], nil
	case *StringValue:
		if !concrete || idx < 0 || int(idx) >= len(c.Value) {
			return nil, fmt.Errorf("subscript %s out of range for %q", Format(idxVal), c.Value)
		}
		return &IntValue{Value: int64(c.Value[idx])}, nil
	}
	return nil, fmt.Errorf("subscript of %s", Format(container))
}

// register records a freshly constructed effect as pending: it occupies
// an output slot until some parent absorbs it. A value that is already
// pending keeps its original slot.
func (ev *Evaluator) register(v Value) {
	h := ev.arena.Intern(v)
	if _, pending := ev.pending[h]; pending {
		return
	}
	ev.pending[h] = ev.emit(v)
}

func (ev *Evaluator) emit(v Value) int {
	ev.evaluated = append(ev.evaluated, v)
	return len(ev.evaluated) - 1
}

// retract clears the pending slot of a value consumed as a structural
// child, and of its direct children. Deliberately shallow: deeper
// descendants were already absorbed when their own parents formed.
func (ev *Evaluator) retract(v Value) {
	ev.retractOne(v)
	for _, child := range directChildren(v) {
		ev.retractOne(child)
	}
}

func (ev *Evaluator) retractOne(v Value) {
	h, ok := ev.arena.Lookup(v)
	if !ok {
		return
	}
	slot, pending := ev.pending[h]
	if !pending {
		return
	}
	ev.evaluated[slot] = nil
	delete(ev.pending, h)
}

// toSimple folds a value to a native default: literals directly,
// fixnum/float/string constructors unwrapped, t and nil as booleans.
func toSimple(v Value) (any, bool) {
	switch x := v.(type) {
	case *BoolValue:
		return x.Value, true
	case *IntValue:
		return x.Value, true
	case *FloatValue:
		return x.Value, true
	case *StringValue:
		return x.Value, true
	case *SymbolValue:
		switch x.Name {
		case "t":
			return true, true
		case "nil":
			return false, true
		}
	case *CCallValue:
		switch x.Name {
		case "make_fixnum", "make_float", "make_string":
			if len(x.Args) > 0 {
				return toSimple(x.Args[0])
			}
		}
	}
	return nil, false
}
