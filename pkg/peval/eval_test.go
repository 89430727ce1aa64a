package peval

import (
	"errors"
	"strings"
	"testing"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/normalize"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	unit := &catalog.SourceUnit{
		File: "data.c",
		LispVariables: []*catalog.LispVariable{
			{LispName: "foo", CName: "Vfoo", Kind: catalog.VarLisp},
			{LispName: "bar", CName: "Vbar", Kind: catalog.VarLisp},
			{LispName: "flag", CName: "flag_var", Kind: catalog.VarBool},
		},
		CVariables: []*catalog.CVariable{
			{CName: "global_obj"},
		},
		Constants: []*catalog.Constant{
			{Name: "MAXVAL", Kind: catalog.ConstantInt, Int: 7},
		},
		Subroutines: []*catalog.Subroutine{
			{LispName: "foo", CName: "Ffoo", MinArgs: 1, MaxArgs: 1},
			{LispName: "goo", CName: "Fgoo", MinArgs: 1, MaxArgs: 1},
			{LispName: "many", CName: "Fmany", MinArgs: 0, MaxArgs: catalog.ArgsMany},
		},
	}
	symbols := []*catalog.Symbol{
		{LispName: "nil", CName: "Qnil", Index: 0},
		{LispName: "t", CName: "Qt", Index: 1},
	}
	cat, err := catalog.Build([]*catalog.SourceUnit{unit}, symbols)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func newTestEvaluator(t *testing.T, cat *catalog.Catalog) *Evaluator {
	t.Helper()
	return NewEvaluator(Options{Catalog: cat, Unit: cat.Unit("data.c")})
}

func mustStmt(t *testing.T, line string) normalize.Statement {
	t.Helper()
	stmt, err := normalize.ParseLine(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return stmt
}

func mustStmts(t *testing.T, lines ...string) []normalize.Statement {
	t.Helper()
	stmts := make([]normalize.Statement, len(lines))
	for i, line := range lines {
		stmts[i] = mustStmt(t, line)
	}
	return stmts
}

func mustExpr(t *testing.T, text string) normalize.Expr {
	t.Helper()
	expr, err := normalize.ParseExpr(text)
	if err != nil {
		t.Fatalf("parse expression %q: %v", text, err)
	}
	return expr
}

func TestDefaultFoldingEndToEnd(t *testing.T) {
	cat := testCatalog(t)
	ev := newTestEvaluator(t, cat)
	out, err := ev.EvalRoutine("syms_of_data", mustStmts(t,
		"Vfoo = make_fixnum(42)",
		"Vbar = Ffoo(Vfoo)",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	if got := cat.LispVariables["Vfoo"].Default; got != int64(42) {
		t.Fatalf("Vfoo default = %v, want 42", got)
	}
	if cat.LispVariables["Vbar"].Default != nil {
		t.Fatalf("Vbar default = %v, want none", cat.LispVariables["Vbar"].Default)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1: %v", len(out), out)
	}
	assign, ok := out[0].(*VarAssign)
	if !ok || assign.Name != "Vbar" {
		t.Fatalf("unexpected statement %s", Format(out[0]))
	}
	form, ok := assign.Value.(*FormValue)
	if !ok || form.Function != "foo" || len(form.Args) != 1 {
		t.Fatalf("unexpected value %s", Format(assign.Value))
	}
	ref, ok := form.Args[0].(*VarRef)
	if !ok || ref.Name != "Vfoo" {
		t.Fatalf("unexpected argument %s", Format(form.Args[0]))
	}
}

func TestSecondAssignmentEmitsExplicitly(t *testing.T) {
	cat := testCatalog(t)
	ev := newTestEvaluator(t, cat)
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Vfoo = Qt",
		"Vfoo = make_fixnum(1)",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := cat.LispVariables["Vfoo"].Default; got != true {
		t.Fatalf("Vfoo default = %v, want true", got)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1", len(out))
	}
	assign := out[0].(*VarAssign)
	call, ok := assign.Value.(*CCallValue)
	if !ok || call.Name != "make_fixnum" {
		t.Fatalf("unexpected value %s", Format(assign.Value))
	}
}

func TestNestedEffectEmittedOnce(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Ffoo(Fgoo(Qnil))",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1: %v", len(out), out)
	}
	outer, ok := out[0].(*FormValue)
	if !ok || outer.Function != "foo" {
		t.Fatalf("unexpected statement %s", Format(out[0]))
	}
	inner, ok := outer.Args[0].(*FormValue)
	if !ok || inner.Function != "goo" {
		t.Fatalf("unexpected argument %s", Format(outer.Args[0]))
	}
}

func TestLocalEffectBindingEmitted(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"tem = Ffoo(Qt)",
		"global_obj = tem",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("trace has %d statements, want 2: %v", len(out), out)
	}
	local, ok := out[0].(*GlobalAssign)
	if !ok || !local.Local || local.Name != "tem" {
		t.Fatalf("unexpected statement %s", Format(out[0]))
	}
	global, ok := out[1].(*GlobalAssign)
	if !ok || global.Local || global.Name != "global_obj" {
		t.Fatalf("unexpected statement %s", Format(out[1]))
	}
	ref, ok := global.Value.(*GlobalRef)
	if !ok || !ref.Local || ref.Name != "tem" {
		t.Fatalf("unexpected value %s", Format(global.Value))
	}
}

func TestInertLocalsDropped(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"x = 5",
		"y = x + MAXVAL",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("trace has %d statements, want none: %v", len(out), out)
	}
}

func TestLocalSnapshotOfVariableEmitted(t *testing.T) {
	cat := testCatalog(t)
	ev := newTestEvaluator(t, cat)
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Vfoo = make_fixnum(1)",
		"tem = Vfoo",
		"Vfoo = make_fixnum(2)",
		"global_obj = tem",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	// The local capture must stay a trace statement of its own: inlining
	// tem as a live Vfoo reference would read the post-reassignment value.
	if len(out) != 3 {
		t.Fatalf("trace has %d statements, want 3: %v", len(out), out)
	}
	capture, ok := out[0].(*GlobalAssign)
	if !ok || !capture.Local || capture.Name != "tem" {
		t.Fatalf("unexpected statement %s", Format(out[0]))
	}
	if ref, ok := capture.Value.(*VarRef); !ok || ref.Name != "Vfoo" {
		t.Fatalf("unexpected capture value %s", Format(capture.Value))
	}
	reassign, ok := out[1].(*VarAssign)
	if !ok || reassign.Name != "Vfoo" {
		t.Fatalf("unexpected statement %s", Format(out[1]))
	}
	global, ok := out[2].(*GlobalAssign)
	if !ok || global.Local || global.Name != "global_obj" {
		t.Fatalf("unexpected statement %s", Format(out[2]))
	}
	if ref, ok := global.Value.(*GlobalRef); !ok || !ref.Local || ref.Name != "tem" {
		t.Fatalf("unexpected global value %s", Format(global.Value))
	}
}

func TestMatchingDefaultReassignmentFolds(t *testing.T) {
	cat := testCatalog(t)
	ev := newTestEvaluator(t, cat)
	stmts := mustStmts(t, "Vfoo = make_fixnum(42)")

	for run := 0; run < 2; run++ {
		out, err := ev.EvalRoutine("syms_of_data", stmts, nil)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if len(out) != 0 {
			t.Fatalf("run %d emitted %v, want nothing", run, out)
		}
		if got := cat.LispVariables["Vfoo"].Default; got != int64(42) {
			t.Fatalf("run %d default = %v, want 42", run, got)
		}
	}

	// A different literal still emits instead of overwriting the default.
	out, err := ev.EvalRoutine("syms_of_data", mustStmts(t, "Vfoo = make_fixnum(5)"), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1: %v", len(out), out)
	}
	if got := cat.LispVariables["Vfoo"].Default; got != int64(42) {
		t.Fatalf("default overwritten to %v", got)
	}
}

func TestReregisteredEffectKeepsSlot(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	var memo Value
	remember := &CallableValue{Name: "remember", Fn: func(args []Value) (Value, error) {
		if memo == nil {
			memo = args[0]
		}
		return memo, nil
	}}
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"remember(Ffoo(Qt))",
		"remember(Qnil)",
	), map[string]Value{"remember": remember})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1: %v", len(out), out)
	}
	form, ok := out[0].(*FormValue)
	if !ok || form.Function != "foo" {
		t.Fatalf("unexpected statement %s", Format(out[0]))
	}
}

func TestLoopUnrolling(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	stmts := []normalize.Statement{
		mustStmt(t, "i = 0"),
		&normalize.WhileStatement{
			Cond: mustExpr(t, "i < 3"),
			Body: mustStmts(t,
				"Ffoo(make_fixnum(i))",
				"i = i + 1",
			),
		},
	}
	out, err := ev.EvalRoutine("init_data", stmts, nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("trace has %d statements, want 3: %v", len(out), out)
	}
	for i, stmt := range out {
		form := stmt.(*FormValue)
		call := form.Args[0].(*CCallValue)
		arg := call.Args[0].(*IntValue)
		if arg.Value != int64(i) {
			t.Fatalf("iteration %d produced %s", i, Format(stmt))
		}
	}
}

func TestNonConcreteLoopConditionFails(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	stmts := []normalize.Statement{
		&normalize.WhileStatement{
			Cond: mustExpr(t, "Vfoo"),
			Body: mustStmts(t, "Ffoo(Qt)"),
		},
	}
	_, err := ev.EvalRoutine("init_data", stmts, nil)
	if err == nil || !strings.Contains(err.Error(), "not concrete") {
		t.Fatalf("expected non-concrete condition error, got %v", err)
	}
}

func TestLoopIterationLimit(t *testing.T) {
	ev := NewEvaluator(Options{
		Catalog:           testCatalog(t),
		MaxLoopIterations: 8,
	})
	stmts := []normalize.Statement{
		&normalize.WhileStatement{Cond: mustExpr(t, "true")},
	}
	_, err := ev.EvalRoutine("init_data", stmts, nil)
	if err == nil || !strings.Contains(err.Error(), "8 iterations") {
		t.Fatalf("expected loop limit error, got %v", err)
	}
}

func TestUnresolvedName(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	_, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Vfoo = mystery_name",
	), nil)
	var unresolved *UnresolvedNameError
	if !errors.As(err, &unresolved) || unresolved.Name != "mystery_name" {
		t.Fatalf("expected unresolved name error, got %v", err)
	}
}

func TestVariadicUnpacking(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Fmany(2, [Qt, Qnil])",
		"Fmany(0, 0)",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("trace has %d statements, want 2: %v", len(out), out)
	}
	first := out[0].(*FormValue)
	if len(first.Args) != 2 {
		t.Fatalf("unpacked call has %d args: %s", len(first.Args), Format(first))
	}
	if sym := first.Args[0].(*SymbolValue); sym.Name != "t" {
		t.Fatalf("unexpected first argument %s", Format(first.Args[0]))
	}
	second := out[1].(*FormValue)
	if len(second.Args) != 0 {
		t.Fatalf("empty variadic call has %d args: %s", len(second.Args), Format(second))
	}
}

func TestBoolVariableReadsAsZeroValue(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", []normalize.Statement{
		&normalize.IfStatement{
			Cond: mustExpr(t, "!flag_var"),
			Then: mustStmts(t, "Ffoo(Qt)"),
		},
	}, nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("branch on unset bool variable not taken: %v", out)
	}
}

func TestPruneSideEffect(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"PRUNE_SIDE_EFFECT(Ffoo(Qt))",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("pruned effect still present: %v", out)
	}
}

func TestCArrayAndIndexing(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"slots = c_array(3, nil)",
		"slots[1] = Qt",
		"Ffoo(slots[1])",
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("trace has %d statements, want 1: %v", len(out), out)
	}
	form := out[0].(*FormValue)
	if sym, ok := form.Args[0].(*SymbolValue); !ok || sym.Name != "t" {
		t.Fatalf("unexpected argument %s", Format(form.Args[0]))
	}
}

func TestInjectedBindings(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		"Ffoo(make_fixnum(injected_count))",
	), map[string]Value{
		"injected_count": &IntValue{Value: 9},
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	call := out[0].(*FormValue).Args[0].(*CCallValue)
	if n := call.Args[0].(*IntValue); n.Value != 9 {
		t.Fatalf("injected value not used: %s", Format(out[0]))
	}
}

func TestUtilRewrites(t *testing.T) {
	ev := newTestEvaluator(t, testCatalog(t))
	out, err := ev.EvalRoutine("init_data", mustStmts(t,
		`Vbar = list3(Qt, intern_c_string("marker"), build_string("text"))`,
	), nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	assign := out[0].(*VarAssign)
	form := assign.Value.(*FormValue)
	if form.Function != "list" || len(form.Args) != 3 {
		t.Fatalf("unexpected value %s", Format(assign.Value))
	}
	if sym := form.Args[1].(*SymbolValue); sym.Name != "marker" {
		t.Fatalf("intern_c_string did not produce a symbol: %s", Format(form.Args[1]))
	}
	str := form.Args[2].(*CCallValue)
	if str.Name != "make_string" {
		t.Fatalf("build_string did not rewrite: %s", Format(form.Args[2]))
	}
}
