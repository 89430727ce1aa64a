package catalog

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

// VarKind tags the runtime backing of a declared Lisp variable.
type VarKind int

const (
	VarBool VarKind = iota
	VarInt
	VarLisp
	VarKboard
)

func (k VarKind) String() string {
	switch k {
	case VarBool:
		return "bool"
	case VarInt:
		return "int"
	case VarLisp:
		return "lisp"
	case VarKboard:
		return "kboard"
	default:
		return fmt.Sprintf("unknown_var_kind_%d", int(k))
	}
}

var defvarKinds = map[string]VarKind{
	"DEFVAR_BOOL":       VarBool,
	"DEFVAR_INT":        VarInt,
	"DEFVAR_LISP":       VarLisp,
	"DEFVAR_LISP_NOPRO": VarLisp,
	"DEFVAR_KBOARD":     VarKboard,
}

// LispVariable is a declared variable exposed to the Lisp runtime. Default
// holds the folded initializer once the first literal-foldable assignment
// runs; it is written at most once.
type LispVariable struct {
	LispName string
	CName    string
	Kind     VarKind
	Doc      string
	Default  any
}

// PerBufferVariable is a declared variable with one slot per buffer.
type PerBufferVariable struct {
	LispName  string
	CName     string
	Predicate string
	Doc       string
	SlotIndex int
}

// CVariable is a raw global Lisp_Object binding with no DEFVAR semantics.
type CVariable struct {
	CName  string
	Static bool
}

// ExtractVariables walks a unit's CST and collects raw Lisp_Object globals
// plus every DEFVAR_* declared variable. Only top-level declarations count
// as globals, so units must already be preprocessed when #if guards matter.
func ExtractVariables(root *sitter.Node, source []byte) (cvars []*CVariable, lisp []*LispVariable, perBuffer []*PerBufferVariable, perKboard []*LispVariable, err error) {
	for _, node := range cparse.NamedChildren(root) {
		if node.Kind() != "declaration" || cparse.DeclarationType(node, source) != "Lisp_Object" {
			continue
		}
		static := cparse.HasStorageClass(node, source, "static")
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil || child.Kind() != "identifier" {
				continue
			}
			cvars = append(cvars, &CVariable{CName: cparse.Text(child, source), Static: static})
		}
	}

	walkErr := error(nil)
	cparse.Walk(root, func(node *sitter.Node) bool {
		if walkErr != nil {
			return false
		}
		if node.Kind() != "expression_statement" {
			return true
		}
		call := node.NamedChild(0)
		if call == nil || call.Kind() != "call_expression" {
			return true
		}
		macro := cparse.Text(call.ChildByFieldName("function"), source)
		if !strings.HasPrefix(macro, "DEFVAR_") && !strings.HasPrefix(macro, "_DEFVAR_") {
			return true
		}
		macro = strings.TrimPrefix(macro, "_")
		args := call.ChildByFieldName("arguments")
		if macro == "DEFVAR_PER_BUFFER" {
			v, err := parsePerBufferVariable(args, source)
			if err != nil {
				walkErr = cparse.WrapNodeError(node, err)
				return false
			}
			v.SlotIndex = len(perBuffer)
			perBuffer = append(perBuffer, v)
			return false
		}
		kind, ok := defvarKinds[macro]
		if !ok {
			return true
		}
		v, err := parseLispVariable(args, source, kind)
		if err != nil {
			walkErr = cparse.WrapNodeError(node, err)
			return false
		}
		if kind == VarKboard {
			perKboard = append(perKboard, v)
		} else {
			lisp = append(lisp, v)
		}
		return false
	})
	if walkErr != nil {
		return nil, nil, nil, nil, walkErr
	}
	return cvars, lisp, perBuffer, perKboard, nil
}

func parseLispVariable(args *sitter.Node, source []byte, kind VarKind) (*LispVariable, error) {
	children := cparse.NamedChildren(args)
	if len(children) < 2 || children[0].Kind() != "string_literal" || children[1].Kind() != "identifier" {
		return nil, fmt.Errorf("catalog: malformed DEFVAR arguments")
	}
	return &LispVariable{
		LispName: cparse.UnquoteString(cparse.Text(children[0], source)),
		CName:    cparse.Text(children[1], source),
		Kind:     kind,
		Doc:      defvarDoc(children, source),
	}, nil
}

func parsePerBufferVariable(args *sitter.Node, source []byte) (*PerBufferVariable, error) {
	children := cparse.NamedChildren(args)
	if len(children) < 3 || children[0].Kind() != "string_literal" {
		return nil, fmt.Errorf("catalog: malformed DEFVAR_PER_BUFFER arguments")
	}
	// Second argument is &BVAR (current_buffer, field).
	pointer := children[1]
	if pointer.Kind() != "pointer_expression" {
		return nil, fmt.Errorf("catalog: DEFVAR_PER_BUFFER expects &BVAR(...)")
	}
	bvar := pointer.ChildByFieldName("argument")
	if bvar == nil || bvar.Kind() != "call_expression" ||
		cparse.Text(bvar.ChildByFieldName("function"), source) != "BVAR" {
		return nil, fmt.Errorf("catalog: DEFVAR_PER_BUFFER expects &BVAR(...)")
	}
	bvarArgs := cparse.NamedChildren(bvar.ChildByFieldName("arguments"))
	if len(bvarArgs) != 2 || cparse.Text(bvarArgs[0], source) != "current_buffer" {
		return nil, fmt.Errorf("catalog: DEFVAR_PER_BUFFER expects BVAR(current_buffer, field)")
	}
	if children[2].Kind() != "identifier" {
		return nil, fmt.Errorf("catalog: DEFVAR_PER_BUFFER missing predicate")
	}
	return &PerBufferVariable{
		LispName:  cparse.UnquoteString(cparse.Text(children[0], source)),
		CName:     cparse.Text(bvarArgs[1], source),
		Predicate: cparse.Text(children[2], source),
		Doc:       defvarDoc(children, source),
	}, nil
}

// defvarDoc picks the doc comment riding after the `doc:` marker argument.
func defvarDoc(args []*sitter.Node, source []byte) string {
	for i, arg := range args {
		if arg.Kind() == "identifier" && cparse.Text(arg, source) == "doc" && i+1 < len(args) && args[i+1].Kind() == "comment" {
			return cparse.TrimDoc(cparse.Text(args[i+1], source))
		}
	}
	return ""
}
