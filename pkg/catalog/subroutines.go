package catalog

import (
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

// Arity sentinels used by the DEFUN macro.
const (
	// ArgsUnevalled marks special forms receiving their arguments unevaluated.
	ArgsUnevalled = -1
	// ArgsMany marks fully variadic subroutines called with (count, array).
	ArgsMany = -2
)

// Subroutine is a catalogued callable exposed to the Lisp runtime.
type Subroutine struct {
	LispName   string
	CName      string
	SymbolName string
	MinArgs    int
	MaxArgs    int
	IntSpec    string
	Doc        string
	Args       []string
	Exported   bool
}

// Variadic reports whether calls use the count-plus-array convention.
func (s *Subroutine) Variadic() bool { return s != nil && s.MaxArgs == ArgsMany }

var usagePattern = regexp.MustCompile(`(?m)^usage: \(([ &.\[\]0-9a-zA-Z_-]+)\)$`)

// ExtractSubroutines collects DEFUN definitions from a unit and marks the
// ones registered through defsubr as exported. env folds the arity
// arguments, which reference MANY/UNEVALLED and occasionally constants.
func ExtractSubroutines(parser *cparse.Parser, root *sitter.Node, source []byte, env *ConstantEnv, ce *ConstantExtractor) ([]*Subroutine, error) {
	bySymbol := make(map[string]*Subroutine)
	var subroutines []*Subroutine
	var walkErr error

	cparse.Walk(root, func(node *sitter.Node) bool {
		if walkErr != nil {
			return false
		}
		if node.Kind() != "call_expression" {
			return true
		}
		inner := node.ChildByFieldName("function")
		if inner == nil || inner.Kind() != "call_expression" ||
			cparse.Text(inner.ChildByFieldName("function"), source) != "DEFUN" {
			return true
		}
		subr, err := parseDefun(parser, inner, node.ChildByFieldName("arguments"), source, env, ce)
		if err != nil {
			walkErr = cparse.WrapNodeError(node, err)
			return false
		}
		bySymbol[subr.SymbolName] = subr
		subroutines = append(subroutines, subr)
		return false
	})
	if walkErr != nil {
		return nil, walkErr
	}

	cparse.Walk(root, func(node *sitter.Node) bool {
		if node.Kind() != "call_expression" ||
			cparse.Text(node.ChildByFieldName("function"), source) != "defsubr" {
			return true
		}
		args := cparse.NamedChildren(node.ChildByFieldName("arguments"))
		if len(args) != 1 || args[0].Kind() != "pointer_expression" {
			return false
		}
		symbol := cparse.Text(args[0].ChildByFieldName("argument"), source)
		if subr, ok := bySymbol[symbol]; ok {
			subr.Exported = true
		}
		return false
	})
	return subroutines, nil
}

func parseDefun(parser *cparse.Parser, macroCall, paramList *sitter.Node, source []byte, env *ConstantEnv, ce *ConstantExtractor) (*Subroutine, error) {
	args := cparse.NamedChildren(macroCall.ChildByFieldName("arguments"))
	if len(args) < 6 || args[0].Kind() != "string_literal" {
		return nil, fmt.Errorf("catalog: malformed DEFUN arguments")
	}
	lispName := cparse.UnquoteString(cparse.Text(args[0], source))
	cName := cparse.Text(args[1], source)
	symbolName := cparse.Text(args[2], source)

	minArgs, err := foldArity(args[3], source, env, ce)
	if err != nil {
		return nil, fmt.Errorf("catalog: DEFUN %s min args: %w", lispName, err)
	}
	maxArgs, err := foldArity(args[4], source, env, ce)
	if err != nil {
		return nil, fmt.Errorf("catalog: DEFUN %s max args: %w", lispName, err)
	}

	intSpec := ""
	if args[5].Kind() == "string_literal" {
		intSpec = cparse.UnquoteString(cparse.Text(args[5], source))
	}
	doc := ""
	for i := 5; i < len(args); i++ {
		if args[i].Kind() == "identifier" && cparse.Text(args[i], source) == "doc" && i+1 < len(args) && args[i+1].Kind() == "comment" {
			doc = cparse.TrimDoc(cparse.Text(args[i+1], source))
			break
		}
	}

	names, err := parameterNames(parser, paramList, source, doc)
	if err != nil {
		return nil, fmt.Errorf("catalog: DEFUN %s: %w", lispName, err)
	}

	return &Subroutine{
		LispName:   lispName,
		CName:      cName,
		SymbolName: symbolName,
		MinArgs:    minArgs,
		MaxArgs:    maxArgs,
		IntSpec:    intSpec,
		Doc:        doc,
		Args:       names,
	}, nil
}

func foldArity(node *sitter.Node, source []byte, env *ConstantEnv, ce *ConstantExtractor) (int, error) {
	switch cparse.Text(node, source) {
	case "UNEVALLED":
		return ArgsUnevalled, nil
	case "MANY":
		return ArgsMany, nil
	}
	v, err := ce.foldNode(node, source, env)
	if err != nil {
		return 0, err
	}
	if v.kind != ConstantInt {
		return 0, fmt.Errorf("catalog: non-integer arity %q", cparse.Text(node, source))
	}
	return int(v.i), nil
}

// parameterNames prefers the `usage: (...)` doc line, falling back to the
// parsed C parameter list.
func parameterNames(parser *cparse.Parser, paramList *sitter.Node, source []byte, doc string) ([]string, error) {
	if m := usagePattern.FindStringSubmatch(doc); m != nil {
		fields := strings.Fields(strings.ReplaceAll(m[1], "...", " "))
		names := make([]string, 0, len(fields))
		for i, field := range fields {
			if i == 0 || field == "&optional" || field == "&rest" {
				continue
			}
			names = append(names, strings.Trim(field, "[]"))
		}
		return names, nil
	}
	if paramList == nil {
		return nil, fmt.Errorf("missing parameter list")
	}

	declaration := []byte(fmt.Sprintf("void f %s;", cparse.Text(paramList, source)))
	tree, err := parser.Parse(declaration)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var params []*sitter.Node
	cparse.Walk(tree.RootNode(), func(node *sitter.Node) bool {
		if node.Kind() == "parameter_declaration" {
			params = append(params, node)
			return false
		}
		return true
	})

	var names []string
	for i, param := range params {
		typeName := cparse.DeclarationType(param, declaration)
		switch {
		case typeName == "void":
			// (void) means a zero-argument subroutine.
		case typeName == "Lisp_Object":
			decl := cparse.InnermostDeclarator(param)
			if decl == nil || decl.Kind() != "identifier" {
				return nil, fmt.Errorf("unnamed Lisp_Object parameter")
			}
			names = append(names, cparse.Text(decl, declaration))
		case typeName == "ptrdiff_t" && i == 0:
			// Variadic convention: (ptrdiff_t nargs, Lisp_Object *args).
		default:
			return nil, fmt.Errorf("unsupported parameter type %q", typeName)
		}
	}
	return names, nil
}
