package catalog

import (
	"errors"
	"testing"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

func newParser(t *testing.T) *cparse.Parser {
	t.Helper()
	parser, err := cparse.NewParser()
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	t.Cleanup(parser.Close)
	return parser
}

func parseSource(t *testing.T, parser *cparse.Parser, source string) (*sitter.Node, []byte) {
	t.Helper()
	encoded := []byte(source)
	tree, err := parser.Parse(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	t.Cleanup(tree.Close)
	return tree.RootNode(), encoded
}

func TestExtractDefines(t *testing.T) {
	parser := newParser(t)
	root, source := parseSource(t, parser, `
#define FOO 3
#define BAR (FOO + 1)
#define NAME "emacs"
#define MASK (1 << 4 | 1)
#define SKIPPED do_something(x)
`)
	ce := NewConstantExtractor(parser, nil, nil)
	env := ce.NewEnv()
	constants, err := ce.ExtractDefines(root, source, env)
	if err != nil {
		t.Fatalf("extract defines: %v", err)
	}

	byName := make(map[string]*Constant)
	for _, c := range constants {
		byName[c.Name] = c
	}
	if c := byName["FOO"]; !c.IsInt() || c.Int != 3 {
		t.Fatalf("FOO = %v", c)
	}
	if c := byName["BAR"]; !c.IsInt() || c.Int != 4 {
		t.Fatalf("BAR = %v", c)
	}
	if c := byName["MASK"]; !c.IsInt() || c.Int != 17 {
		t.Fatalf("MASK = %v", c)
	}
	if c := byName["NAME"]; c == nil || c.Kind != ConstantString || c.Str != "emacs" {
		t.Fatalf("NAME = %v", c)
	}
	if _, found := byName["SKIPPED"]; found {
		t.Fatalf("unfoldable define was not skipped")
	}
}

func TestExtractDefinesIgnoresConfigured(t *testing.T) {
	parser := newParser(t)
	root, source := parseSource(t, parser, "#define NOISY 1\n")
	ce := NewConstantExtractor(parser, []string{"NOISY"}, nil)
	constants, err := ce.ExtractDefines(root, source, ce.NewEnv())
	if err != nil {
		t.Fatalf("extract defines: %v", err)
	}
	if len(constants) != 0 {
		t.Fatalf("ignored define extracted: %v", constants)
	}
}

func TestExtractEnums(t *testing.T) {
	parser := newParser(t)
	root, source := parseSource(t, parser, `
#define BASE 10
enum constants
{
  FIRST = 1,
  SECOND,
  THIRD = BASE + 2,
  SIZED = sizeof (int),
  AFTER_SIZED = SIZED + 1,
  LAST = 99
};
`)
	ce := NewConstantExtractor(parser, nil, nil)
	env := ce.NewEnv()
	if _, err := ce.ExtractDefines(root, source, env); err != nil {
		t.Fatalf("extract defines: %v", err)
	}
	constants, err := ce.ExtractEnums(root, source, env)
	if err != nil {
		t.Fatalf("extract enums: %v", err)
	}

	want := map[string]int64{"FIRST": 1, "SECOND": 2, "THIRD": 12, "LAST": 99}
	byName := make(map[string]*Constant)
	for _, c := range constants {
		byName[c.Name] = c
	}
	for name, value := range want {
		c := byName[name]
		if c == nil || c.Int != value {
			t.Fatalf("%s = %v, want %d", name, c, value)
		}
		if c.Group != "constants" {
			t.Fatalf("%s group = %q", name, c.Group)
		}
	}
	for _, skipped := range []string{"SIZED", "AFTER_SIZED"} {
		if _, found := byName[skipped]; found {
			t.Fatalf("size-dependent enumerator %s extracted", skipped)
		}
	}
}

func TestExtractVariables(t *testing.T) {
	parser := newParser(t)
	root, source := parseSource(t, parser, `
Lisp_Object exposed_obj;
static Lisp_Object hidden_obj;

void
syms_of_sample (void)
{
  DEFVAR_LISP ("sample-list", Vsample_list,
	       doc: /* A list of samples.  */);
  DEFVAR_BOOL ("sample-flag", sample_flag,
	       doc: /* Whether sampling runs.  */);
  DEFVAR_INT ("sample-count", sample_count,
	       doc: /* How many samples.  */);
  DEFVAR_KBOARD ("sample-kbd", Vsample_kbd,
	         doc: /* Per-keyboard sample.  */);
  _DEFVAR_PER_BUFFER ("sample-local", &BVAR (current_buffer, sample_local),
	              Qnil, doc: /* Buffer-local sample.  */);
}
`)
	cvars, lisp, perBuffer, perKboard, err := ExtractVariables(root, source)
	if err != nil {
		t.Fatalf("extract variables: %v", err)
	}

	if len(cvars) != 2 {
		t.Fatalf("cvars = %d, want 2", len(cvars))
	}
	statics := 0
	for _, v := range cvars {
		if v.Static {
			statics++
			if v.CName != "hidden_obj" {
				t.Fatalf("unexpected static %s", v.CName)
			}
		}
	}
	if statics != 1 {
		t.Fatalf("statics = %d, want 1", statics)
	}

	if len(lisp) != 3 {
		t.Fatalf("lisp vars = %d, want 3", len(lisp))
	}
	kinds := map[string]VarKind{}
	for _, v := range lisp {
		kinds[v.LispName] = v.Kind
	}
	if kinds["sample-list"] != VarLisp || kinds["sample-flag"] != VarBool || kinds["sample-count"] != VarInt {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	for _, v := range lisp {
		if v.LispName == "sample-list" && v.Doc != "A list of samples." {
			t.Fatalf("doc = %q", v.Doc)
		}
	}

	if len(perKboard) != 1 || perKboard[0].Kind != VarKboard {
		t.Fatalf("per-kboard = %v", perKboard)
	}
	if len(perBuffer) != 1 {
		t.Fatalf("per-buffer = %v", perBuffer)
	}
	pb := perBuffer[0]
	if pb.LispName != "sample-local" || pb.CName != "sample_local" || pb.Predicate != "Qnil" || pb.SlotIndex != 0 {
		t.Fatalf("per-buffer = %+v", pb)
	}
}

func TestExtractSubroutines(t *testing.T) {
	parser := newParser(t)
	root, source := parseSource(t, parser, `
DEFUN ("sample-add", Fsample_add, Ssample_add, 2, 3, 0,
       doc: /* Add things together.
usage: (sample-add A B &optional C) */)
  (Lisp_Object a, Lisp_Object b, Lisp_Object c)
{
  return a;
}

DEFUN ("sample-cat", Fsample_cat, Ssample_cat, 0, MANY, 0,
       doc: /* Concatenate.
usage: (sample-cat &rest PARTS) */)
  (ptrdiff_t nargs, Lisp_Object *args)
{
  return args[0];
}

DEFUN ("sample-hidden", Fsample_hidden, Ssample_hidden, 1, 1, 0,
       doc: /* Not registered.  */)
  (Lisp_Object x)
{
  return x;
}

void
syms_of_sample (void)
{
  defsubr (&Ssample_add);
  defsubr (&Ssample_cat);
}
`)
	ce := NewConstantExtractor(parser, nil, nil)
	subroutines, err := ExtractSubroutines(parser, root, source, ce.NewEnv(), ce)
	if err != nil {
		t.Fatalf("extract subroutines: %v", err)
	}
	if len(subroutines) != 3 {
		t.Fatalf("subroutines = %d, want 3", len(subroutines))
	}

	byName := map[string]*Subroutine{}
	for _, s := range subroutines {
		byName[s.LispName] = s
	}

	add := byName["sample-add"]
	if add.CName != "Fsample_add" || add.MinArgs != 2 || add.MaxArgs != 3 {
		t.Fatalf("sample-add = %+v", add)
	}
	if len(add.Args) != 3 || add.Args[0] != "A" || add.Args[2] != "C" {
		t.Fatalf("sample-add args = %v", add.Args)
	}
	if !add.Exported {
		t.Fatalf("sample-add not marked exported")
	}

	cat := byName["sample-cat"]
	if !cat.Variadic() || cat.MaxArgs != ArgsMany {
		t.Fatalf("sample-cat = %+v", cat)
	}
	if len(cat.Args) != 1 || cat.Args[0] != "PARTS" {
		t.Fatalf("sample-cat args = %v", cat.Args)
	}

	hidden := byName["sample-hidden"]
	if hidden.Exported {
		t.Fatalf("sample-hidden marked exported")
	}
	if len(hidden.Args) != 1 || hidden.Args[0] != "x" {
		t.Fatalf("sample-hidden args = %v", hidden.Args)
	}
}

const testGlobalsH = `
#define iQnil 0
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
`

func TestExtractSymbols(t *testing.T) {
	parser := newParser(t)
	ce := NewConstantExtractor(parser, nil, nil)
	symbols, err := ExtractSymbols(parser, ce, testGlobalsH)
	if err != nil {
		t.Fatalf("extract symbols: %v", err)
	}
	if len(symbols) != 3 {
		t.Fatalf("symbols = %d, want 3", len(symbols))
	}
	if symbols[2].CName != "Qsample" || symbols[2].LispName != "sample" || symbols[2].Index != 2 {
		t.Fatalf("symbols[2] = %+v", symbols[2])
	}
}

func TestExtractSymbolsDetectsIndexMismatch(t *testing.T) {
	parser := newParser(t)
	ce := NewConstantExtractor(parser, nil, nil)
	broken := `
#define iQnil 0
#define iQt 5
DEFINE_LISP_SYMBOL (Qnil)
DEFINE_LISP_SYMBOL (Qt)
static const char *const defsym_name[] = {
  "nil",
  "t",
};
`
	_, err := ExtractSymbols(parser, ce, broken)
	var inconsistent *InconsistencyError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected inconsistency error, got %v", err)
	}
}

func TestBuildRejectsDuplicateSymbols(t *testing.T) {
	symbols := []*Symbol{
		{LispName: "nil", CName: "Qnil", Index: 0},
		{LispName: "nil2", CName: "Qnil", Index: 1},
	}
	_, err := Build(nil, symbols)
	var inconsistent *InconsistencyError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected inconsistency error, got %v", err)
	}
}

func TestBuildMergesUnits(t *testing.T) {
	units := []*SourceUnit{
		{
			File:          "a.c",
			LispVariables: []*LispVariable{{LispName: "alpha", CName: "Valpha", Kind: VarLisp}},
			CVariables: []*CVariable{
				{CName: "shared"},
				{CName: "file_local", Static: true},
			},
			Constants: []*Constant{{Name: "A", Kind: ConstantInt, Int: 1}},
		},
		{
			File:               "b.c",
			PerKboardVariables: []*LispVariable{{LispName: "beta", CName: "Vbeta", Kind: VarKboard}},
			Subroutines:        []*Subroutine{{LispName: "b-fn", CName: "Fb_fn"}},
		},
	}
	cat, err := Build(units, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cat.LispVariables["Valpha"] == nil || cat.LispVariables["Vbeta"] == nil {
		t.Fatalf("declared variables not merged: %v", cat.LispVariables)
	}
	if cat.CVariables["shared"] == nil {
		t.Fatalf("program global not merged")
	}
	if cat.CVariables["file_local"] != nil {
		t.Fatalf("static global leaked into the program-wide index")
	}
	if cat.Subroutines["Fb_fn"] == nil {
		t.Fatalf("subroutines not merged")
	}
	if cat.Unit("a.c").Constant("A") == nil {
		t.Fatalf("unit constant lookup failed")
	}
}
