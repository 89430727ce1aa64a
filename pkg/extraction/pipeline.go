package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
	"github.com/joyfulsong/elisp-extractor/pkg/csource"
	"github.com/joyfulsong/elisp-extractor/pkg/normalize"
	"github.com/joyfulsong/elisp-extractor/pkg/peval"
	"github.com/joyfulsong/elisp-extractor/pkg/trace"
)

var initRoutinePattern = regexp.MustCompile(`^(init_|syms_of_)`)

// build holds the catalog stages' results, shared by the full pipeline
// and catalog-only inspection.
type build struct {
	cat       *catalog.Catalog
	routines  map[string]*normalize.RoutineSource
	initCalls []string
}

// BuildCatalog runs only the fact-catalog stages.
func BuildCatalog(cfg *Config) (*catalog.Catalog, error) {
	b, err := buildAll(cfg)
	if err != nil {
		return nil, err
	}
	return b.cat, nil
}

func buildAll(cfg *Config) (*build, error) {
	srcDir, err := ensureSources(cfg)
	if err != nil {
		return nil, err
	}

	parser, err := cparse.NewParser()
	if err != nil {
		return nil, err
	}
	defer parser.Close()

	ce := catalog.NewConstantExtractor(parser, cfg.IgnoredConstants, cfg.ExtraConstants)

	globalsH, err := os.ReadFile(filepath.Join(srcDir, cfg.GlobalsFile))
	if err != nil {
		return nil, fmt.Errorf("extraction: read %s: %w", cfg.GlobalsFile, err)
	}
	symbols, err := catalog.ExtractSymbols(parser, ce, string(globalsH))
	if err != nil {
		return nil, err
	}

	pp := cparse.NewPreprocessor(parser, cfg.Preprocessor.Command, cfg.Preprocessor.Prelude)
	env := ce.NewEnv()

	var units []*catalog.SourceUnit
	routines := make(map[string]*normalize.RoutineSource)

	for _, file := range cfg.Files {
		unit, err := extractUnit(parser, pp, ce, env, srcDir, file, routines)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	cat, err := catalog.Build(units, symbols)
	if err != nil {
		return nil, err
	}

	mainRoot, mainSource, err := parseMainFile(parser, pp, srcDir, cfg.MainFile)
	if err != nil {
		return nil, err
	}
	initCalls, err := mainInitCalls(mainRoot, mainSource)
	if err != nil {
		return nil, err
	}
	return &build{cat: cat, routines: routines, initCalls: initCalls}, nil
}

// Run executes the full extraction: source checkout, catalog build,
// normalization and evaluation of every init routine main calls, and
// trace assembly in call order.
func Run(cfg *Config, hooks *Hooks) (*trace.Extraction, error) {
	b, err := buildAll(cfg)
	if err != nil {
		return nil, err
	}
	cat, routines, initCalls := b.cat, b.routines, b.initCalls

	normalizer := normalize.NewNormalizer(routines)
	normalizer.SetSkipped(cfg.SkippedRoutines...)
	for name, rc := range cfg.Routines {
		if rc.Skip {
			normalizer.SetSkipped(name)
		}
		normalizer.SetRules(name, rc.Rules)
	}

	result := &trace.Extraction{Catalog: cat}
	for _, name := range initCalls {
		src, known := routines[name]
		if !known {
			// main calls into units outside the configured file set;
			// those routines contribute nothing to the trace.
			continue
		}
		routine, err := evalRoutine(cfg, hooks, cat, normalizer, name, src.File)
		if err != nil {
			return nil, err
		}
		result.Routines = append(result.Routines, routine)
	}
	return result, nil
}

func ensureSources(cfg *Config) (string, error) {
	checkout := &csource.Checkout{
		URL:    cfg.Source.Repository,
		Rev:    cfg.Source.Revision,
		Dir:    cfg.Source.Directory,
		Subdir: cfg.Source.Subdir,
	}
	if cfg.Source.Repository != "" {
		if err := checkout.Ensure(); err != nil {
			return "", err
		}
	}
	return checkout.SrcDir(), nil
}

// extractUnit parses one C file twice: the raw (but trimmed) text for
// macro-shaped facts the preprocessor would destroy, and the expanded
// text for enums and routine bodies.
func extractUnit(parser *cparse.Parser, pp *cparse.Preprocessor, ce *catalog.ConstantExtractor,
	env *catalog.ConstantEnv, srcDir, file string, routines map[string]*normalize.RoutineSource) (*catalog.SourceUnit, error) {

	raw, err := os.ReadFile(filepath.Join(srcDir, file))
	if err != nil {
		return nil, fmt.Errorf("extraction: read %s: %w", file, err)
	}
	// Rename DEFVAR_PER_BUFFER invocations so macro expansion cannot
	// dissolve them before extraction sees them.
	text := strings.ReplaceAll(cparse.StripIfZero(string(raw)),
		"DEFVAR_PER_BUFFER (", "_DEFVAR_PER_BUFFER (")

	rawSource := []byte(text)
	rawTree, err := parser.Parse(rawSource)
	if err != nil {
		return nil, fmt.Errorf("extraction: parse %s: %w", file, err)
	}
	defer rawTree.Close()
	rawRoot := rawTree.RootNode()

	unit := &catalog.SourceUnit{File: file}
	cvars, lisp, perBuffer, perKboard, err := catalog.ExtractVariables(rawRoot, rawSource)
	if err != nil {
		return nil, fmt.Errorf("extraction: %s: %w", file, err)
	}
	unit.CVariables = cvars
	unit.LispVariables = lisp
	unit.PerBufferVariables = perBuffer
	unit.PerKboardVariables = perKboard

	defines, err := ce.ExtractDefines(rawRoot, rawSource, env)
	if err != nil {
		return nil, fmt.Errorf("extraction: %s: %w", file, err)
	}
	unit.Constants = defines

	subroutines, err := catalog.ExtractSubroutines(parser, rawRoot, rawSource, env, ce)
	if err != nil {
		return nil, fmt.Errorf("extraction: %s: %w", file, err)
	}
	unit.Subroutines = subroutines

	expanded, err := pp.Expand(text, file)
	if err != nil {
		return nil, err
	}
	expandedSource := []byte(expanded)
	expandedTree, err := parser.Parse(expandedSource)
	if err != nil {
		return nil, fmt.Errorf("extraction: parse expanded %s: %w", file, err)
	}
	// Routine CST nodes stay referenced past this function, so the tree
	// is intentionally not closed here.
	expandedRoot := expandedTree.RootNode()

	enums, err := ce.ExtractEnums(expandedRoot, expandedSource, env)
	if err != nil {
		return nil, fmt.Errorf("extraction: %s: %w", file, err)
	}
	unit.Constants = append(unit.Constants, enums...)

	collectRoutines(expandedRoot, expandedSource, file, routines)
	return unit, nil
}

// collectRoutines indexes every function definition in a unit so the
// normalizer can inline zero-argument calls between them.
func collectRoutines(root *sitter.Node, source []byte, file string, routines map[string]*normalize.RoutineSource) {
	for _, node := range cparse.NamedChildren(root) {
		if node.Kind() != "function_definition" {
			continue
		}
		decl := cparse.InnermostDeclarator(node)
		if decl == nil || decl.Kind() != "identifier" {
			continue
		}
		name := cparse.Text(decl, source)
		if name == "" {
			continue
		}
		routines[name] = &normalize.RoutineSource{
			Name:   name,
			Node:   node,
			Source: source,
			File:   file,
		}
	}
}

func parseMainFile(parser *cparse.Parser, pp *cparse.Preprocessor, srcDir, file string) (*sitter.Node, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(srcDir, file))
	if err != nil {
		return nil, nil, fmt.Errorf("extraction: read %s: %w", file, err)
	}
	expanded, err := pp.Expand(cparse.StripIfZero(string(raw)), file)
	if err != nil {
		return nil, nil, err
	}
	source := []byte(expanded)
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, nil, fmt.Errorf("extraction: parse %s: %w", file, err)
	}
	return tree.RootNode(), source, nil
}

// mainInitCalls lists the init_* / syms_of_* calls inside main, in
// program order. This ordering is the ordering of the final trace.
func mainInitCalls(root *sitter.Node, source []byte) ([]string, error) {
	var mainBody *sitter.Node
	for _, node := range cparse.NamedChildren(root) {
		if node.Kind() != "function_definition" {
			continue
		}
		decl := cparse.InnermostDeclarator(node)
		if decl != nil && cparse.Text(decl, source) == "main" {
			mainBody = node.ChildByFieldName("body")
			break
		}
	}
	if mainBody == nil {
		return nil, fmt.Errorf("extraction: no main function found")
	}

	var calls []string
	seen := make(map[string]bool)
	cparse.Walk(mainBody, func(node *sitter.Node) bool {
		if node.Kind() != "call_expression" {
			return true
		}
		fn := node.ChildByFieldName("function")
		if fn == nil || fn.Kind() != "identifier" {
			return true
		}
		name := cparse.Text(fn, source)
		if initRoutinePattern.MatchString(name) && !seen[name] {
			seen[name] = true
			calls = append(calls, name)
		}
		return true
	})
	if len(calls) == 0 {
		return nil, fmt.Errorf("extraction: main calls no init routines")
	}
	return calls, nil
}

func evalRoutine(cfg *Config, hooks *Hooks, cat *catalog.Catalog, normalizer *normalize.Normalizer,
	name, file string) (*trace.Routine, error) {

	stmts, err := normalizer.Normalize(name)
	if err != nil {
		return nil, err
	}

	extras := make(map[string]peval.Value)
	for key, v := range cfg.Routines[name].Values {
		extras[key] = v
	}
	for key, v := range hooks.globalsFor(name) {
		extras[key] = v
	}

	evaluator := peval.NewEvaluator(peval.Options{
		Catalog:         cat,
		Unit:            cat.Unit(file),
		CFunctions:      cfg.RecognizedCFunctions,
		EliminateLocals: cfg.EliminateLocals,
	})
	values, err := evaluator.EvalRoutine(name, stmts, extras)
	if err != nil {
		return nil, listingError(name, stmts, err)
	}

	values, err = hooks.remap(name, values)
	if err != nil {
		return nil, fmt.Errorf("extraction: remap %s: %w", name, err)
	}
	values, err = trace.FoldContextScopes(values, cfg.ContextScopes)
	if err != nil {
		return nil, fmt.Errorf("extraction: %s: %w", name, err)
	}
	return &trace.Routine{Name: name, File: file, Statements: values}, nil
}

// listingError attaches the numbered normalized listing so evaluation
// failures can be traced back to a concrete line.
func listingError(name string, stmts []normalize.Statement, err error) error {
	var b strings.Builder
	for i, line := range normalize.RenderListing(stmts) {
		fmt.Fprintf(&b, "%4d  %s\n", i+1, line)
	}
	return fmt.Errorf("extraction: %s:\n%s%w", name, b.String(), err)
}
