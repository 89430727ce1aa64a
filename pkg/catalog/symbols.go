package catalog

import (
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

// Symbol is an interned named atom. Index is its fixed slot in the
// runtime's symbol table; reference identity follows the index.
type Symbol struct {
	LispName string
	CName    string
	Index    int
}

var defineSymbolPattern = regexp.MustCompile(`(?m)^DEFINE_LISP_SYMBOL \(([A-Za-z0-9_]+)\)$`)

// ExtractSymbols reads the interned symbol table out of globals.h: the
// DEFINE_LISP_SYMBOL markers give C names, the defsym_name initializer
// gives Lisp names, and the iQ* defines pin the indices. Any disagreement
// between the three is an inconsistency error.
func ExtractSymbols(parser *cparse.Parser, ce *ConstantExtractor, globalsH string) ([]*Symbol, error) {
	anchor := strings.Index(globalsH, "#define iQnil 0")
	if anchor < 0 {
		return nil, &InconsistencyError{Reason: "globals.h: iQnil anchor not found"}
	}
	globalsH = globalsH[anchor:]

	source := []byte(globalsH)
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	root := tree.RootNode()

	var cNames []string
	for _, m := range defineSymbolPattern.FindAllStringSubmatch(globalsH, -1) {
		cNames = append(cNames, m[1])
	}

	var lispNames []string
	var walkErr error
	cparse.Walk(root, func(node *sitter.Node) bool {
		if walkErr != nil || lispNames != nil {
			return false
		}
		if node.Kind() != "init_declarator" {
			return true
		}
		decl := cparse.InnermostDeclarator(node)
		if decl == nil || cparse.Text(decl, source) != "defsym_name" {
			return true
		}
		list := node.ChildByFieldName("value")
		if list == nil || list.Kind() != "initializer_list" {
			walkErr = &InconsistencyError{Reason: "globals.h: defsym_name is not an initializer list"}
			return false
		}
		for _, entry := range cparse.NamedChildren(list) {
			if entry.Kind() != "string_literal" {
				walkErr = &InconsistencyError{Reason: fmt.Sprintf("globals.h: defsym_name entry %q", entry.Kind())}
				return false
			}
			lispNames = append(lispNames, cparse.UnquoteString(cparse.Text(entry, source)))
		}
		return false
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if lispNames == nil {
		return nil, &InconsistencyError{Reason: "globals.h: defsym_name not found"}
	}
	if len(cNames) != len(lispNames) {
		return nil, &InconsistencyError{Reason: fmt.Sprintf(
			"globals.h: %d DEFINE_LISP_SYMBOL markers vs %d defsym_name entries",
			len(cNames), len(lispNames))}
	}

	env := ce.NewEnv()
	defines, err := ce.ExtractDefines(root, source, env)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Constant, len(defines))
	for _, c := range defines {
		byName[c.Name] = c
	}

	symbols := make([]*Symbol, 0, len(cNames))
	for i, cName := range cNames {
		index, ok := byName["i"+cName]
		if !ok || !index.IsInt() {
			return nil, &InconsistencyError{Reason: fmt.Sprintf("globals.h: missing index define for %s", cName)}
		}
		if int(index.Int) != i {
			return nil, &InconsistencyError{Reason: fmt.Sprintf(
				"globals.h: symbol %s declared at %d but indexed %d", cName, i, index.Int)}
		}
		symbols = append(symbols, &Symbol{LispName: lispNames[i], CName: cName, Index: i})
	}
	return symbols, nil
}
