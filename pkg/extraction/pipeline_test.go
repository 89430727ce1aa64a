package extraction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joyfulsong/elisp-extractor/pkg/normalize"
	"github.com/joyfulsong/elisp-extractor/pkg/peval"
	"github.com/joyfulsong/elisp-extractor/pkg/trace"
)

// The synthetic tree keeps the macro shapes the catalog reads raw, and a
// body small enough to evaluate without a real preprocessor. DEFVAR and
// defsubr statements are dropped by override rules, the way a prelude
// would neutralize them in a gcc run.
var testSources = map[string]string{
	"globals.h": `#define iQnil 0
#define iQt 1
#define iQsample 2
DEFINE_LISP_SYMBOL (Qnil)
DEFINE_LISP_SYMBOL (Qt)
DEFINE_LISP_SYMBOL (Qsample)
static const char *const defsym_name[] = {
  "nil",
  "t",
  "sample",
};
`,
	"data.c": `#define MAGIC 7

DEFUN ("cons", Fcons, Scons, 2, 2, 0,
       doc: /* Build a pair.  */)
  (Lisp_Object car, Lisp_Object cdr)
{
  return car;
}

void
syms_of_data (void)
{
  DEFVAR_LISP ("sample-list", Vsample_list);
  DEFVAR_INT ("sample-size", Vsample_size);
  Vsample_list = make_fixnum (42);
  Vsample_size = make_fixnum (MAGIC);
  block_input ();
  Vsample_list = Fcons (Qt, Qnil);
  unblock_input ();
  defsubr (&Scons);
}
`,
	"emacs.c": `int
main (int argc, char **argv)
{
  init_alloc ();
  syms_of_data ();
  return 0;
}
`,
}

func writeSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range testSources {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func deleteRule(t *testing.T, pattern string) normalize.Rule {
	t.Helper()
	rule, err := normalize.CompileRule(pattern, nil)
	if err != nil {
		t.Fatalf("compile rule %q: %v", pattern, err)
	}
	return rule
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Source:               SourceConfig{Directory: writeSourceTree(t), Subdir: "."},
		Files:                []string{"data.c"},
		MainFile:             "emacs.c",
		GlobalsFile:          "globals.h",
		RecognizedCFunctions: []string{"block_input", "unblock_input"},
		ContextScopes:        []trace.ContextPair{{Open: "block_input", Close: "unblock_input"}},
		Routines: map[string]RoutineConfig{
			"syms_of_data": {Rules: []normalize.Rule{
				deleteRule(t, `^DEFVAR_`),
				deleteRule(t, `^defsubr\(`),
			}},
		},
	}
}

func TestBuildCatalog(t *testing.T) {
	cat, err := BuildCatalog(testConfig(t))
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	if len(cat.Symbols) != 3 || cat.Symbols[2].LispName != "sample" {
		t.Fatalf("symbols = %v", cat.Symbols)
	}
	if c := cat.Unit("data.c").Constant("MAGIC"); !c.IsInt() || c.Int != 7 {
		t.Fatalf("MAGIC = %v", c)
	}
	if v := cat.LispVariables["Vsample_list"]; v == nil || v.LispName != "sample-list" {
		t.Fatalf("Vsample_list = %v", v)
	}

	cons := cat.Subroutines["Fcons"]
	if cons == nil || cons.LispName != "cons" || cons.MinArgs != 2 {
		t.Fatalf("Fcons = %+v", cons)
	}
	if !cons.Exported {
		t.Fatalf("Fcons not marked exported by defsubr")
	}
	if len(cons.Args) != 2 || cons.Args[0] != "car" || cons.Args[1] != "cdr" {
		t.Fatalf("Fcons args = %v", cons.Args)
	}
}

func TestRunEndToEnd(t *testing.T) {
	result, err := Run(testConfig(t), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// init_alloc lives outside the configured files; only syms_of_data
	// contributes a trace.
	if len(result.Routines) != 1 {
		t.Fatalf("routines = %d, want 1", len(result.Routines))
	}
	routine := result.Routines[0]
	if routine.Name != "syms_of_data" || routine.File != "data.c" {
		t.Fatalf("routine = %+v", routine)
	}

	// The first assignment folded into the declared default.
	if d := result.Catalog.LispVariables["Vsample_list"].Default; d != int64(42) {
		t.Fatalf("Vsample_list default = %v (%T)", d, d)
	}

	if len(routine.Statements) != 2 {
		t.Fatalf("statements = %v", routine.Statements)
	}

	sizeAssign, ok := routine.Statements[0].(*peval.VarAssign)
	if !ok || sizeAssign.Name != "Vsample_size" {
		t.Fatalf("statements[0] = %v", routine.Statements[0])
	}
	sizeCall, ok := sizeAssign.Value.(*peval.CCallValue)
	if !ok || sizeCall.Name != "make_fixnum" {
		t.Fatalf("size value = %v", sizeAssign.Value)
	}
	magic, ok := sizeCall.Args[0].(*peval.ConstantValue)
	if !ok || magic.Name != "MAGIC" || magic.Value != 7 {
		t.Fatalf("size arg = %v", sizeCall.Args[0])
	}

	scope, ok := routine.Statements[1].(*peval.ContextValue)
	if !ok || scope.Name != "block_input" {
		t.Fatalf("statements[1] = %v", routine.Statements[1])
	}
	if len(scope.Body) != 1 {
		t.Fatalf("scope body = %v", scope.Body)
	}
	listAssign, ok := scope.Body[0].(*peval.VarAssign)
	if !ok || listAssign.Name != "Vsample_list" {
		t.Fatalf("scope body[0] = %v", scope.Body[0])
	}
	pair, ok := listAssign.Value.(*peval.FormValue)
	if !ok || pair.Function != "cons" || len(pair.Args) != 2 {
		t.Fatalf("list value = %v", listAssign.Value)
	}
	car, ok := pair.Args[0].(*peval.SymbolValue)
	if !ok || car.Name != "t" {
		t.Fatalf("cons car = %v", pair.Args[0])
	}
	cdr, ok := pair.Args[1].(*peval.SymbolValue)
	if !ok || cdr.Name != "nil" {
		t.Fatalf("cons cdr = %v", pair.Args[1])
	}
}

func TestRunInjectedValuesAndHooks(t *testing.T) {
	cfg := testConfig(t)
	with := "Vsample_size = make_fixnum(injected_size)"
	rewrite, err := normalize.CompileRule(`^Vsample_size = .*$`, &with)
	if err != nil {
		t.Fatalf("compile rule: %v", err)
	}
	rc := cfg.Routines["syms_of_data"]
	rc.Rules = append(rc.Rules, rewrite)
	rc.Values = map[string]peval.Value{"injected_size": &peval.IntValue{Value: 9}}
	cfg.Routines["syms_of_data"] = rc

	remapped := false
	hooks := &Hooks{
		Remappers: map[string]Remapper{
			"syms_of_data": func(values []peval.Value) ([]peval.Value, error) {
				remapped = true
				return values, nil
			},
		},
	}
	result, err := Run(cfg, hooks)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !remapped {
		t.Fatalf("remapper never ran")
	}
	if len(result.Routines) != 1 {
		t.Fatalf("routines = %v", result.Routines)
	}

	// The rewritten assignment folds the injected value into the default,
	// so no explicit set remains outside the input scope.
	if d := result.Catalog.LispVariables["Vsample_size"].Default; d != int64(9) {
		t.Fatalf("Vsample_size default = %v (%T)", d, d)
	}
	if len(result.Routines[0].Statements) != 1 {
		t.Fatalf("statements = %v", result.Routines[0].Statements)
	}
}
