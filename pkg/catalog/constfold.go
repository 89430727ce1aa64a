package catalog

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

type constValue struct {
	kind ConstantKind
	i    int64
	s    string
}

func (v constValue) toConstant(name, raw, group string) *Constant {
	c := &Constant{Name: name, Kind: v.kind, Raw: raw, Group: group}
	if v.kind == ConstantString {
		c.Str = v.s
	} else {
		c.Int = v.i
	}
	return c
}

// ConstantEnv accumulates resolved constant values while a unit (or a
// sequence of units) is folded.
type ConstantEnv struct {
	values map[string]constValue
}

// NewEnv returns an environment seeded with the extractor's extra values.
func (ce *ConstantExtractor) NewEnv() *ConstantEnv {
	env := &ConstantEnv{values: make(map[string]constValue, len(ce.seed))}
	for name, v := range ce.seed {
		env.values[name] = v
	}
	return env
}

func (env *ConstantEnv) lookup(name string) (constValue, bool) {
	v, ok := env.values[name]
	return v, ok
}

func (env *ConstantEnv) define(name string, v constValue) {
	env.values[name] = v
}

// Define records an integer constant, for feeding .h-unit results forward.
func (env *ConstantEnv) Define(c *Constant) {
	if c == nil {
		return
	}
	env.values[c.Name] = constValue{kind: c.Kind, i: c.Int, s: c.Str}
}

// foldText parses text as a C expression and folds it under env.
func (ce *ConstantExtractor) foldText(text string, env *ConstantEnv) (constValue, error) {
	wrapped := []byte(fmt.Sprintf("int __cfold = (%s);", text))
	tree, err := ce.parser.Parse(wrapped)
	if err != nil {
		return constValue{}, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return constValue{}, fmt.Errorf("catalog: unparsable constant expression %q", text)
	}
	var valueNode *sitter.Node
	cparse.Walk(root, func(node *sitter.Node) bool {
		if node.Kind() == "init_declarator" {
			valueNode = node.ChildByFieldName("value")
			return false
		}
		return true
	})
	if valueNode == nil {
		return constValue{}, fmt.Errorf("catalog: no expression in %q", text)
	}
	return ce.foldNode(valueNode, wrapped, env)
}

// foldNode reduces a C expression CST node to a concrete constant value.
func (ce *ConstantExtractor) foldNode(node *sitter.Node, source []byte, env *ConstantEnv) (constValue, error) {
	switch node.Kind() {
	case "number_literal":
		i, err := parseCInt(cparse.Text(node, source))
		if err != nil {
			return constValue{}, err
		}
		return constValue{kind: ConstantInt, i: i}, nil
	case "char_literal":
		text := cparse.UnquoteString(strings.Trim(cparse.Text(node, source), "'"))
		if text == "" {
			return constValue{}, fmt.Errorf("catalog: empty char literal")
		}
		return constValue{kind: ConstantInt, i: int64([]rune(text)[0])}, nil
	case "string_literal":
		return constValue{kind: ConstantString, s: cparse.UnquoteString(cparse.Text(node, source))}, nil
	case "concatenated_string":
		var b strings.Builder
		for _, part := range cparse.NamedChildren(node) {
			if part.Kind() != "string_literal" {
				return constValue{}, fmt.Errorf("catalog: unsupported string part %q", part.Kind())
			}
			b.WriteString(cparse.UnquoteString(cparse.Text(part, source)))
		}
		return constValue{kind: ConstantString, s: b.String()}, nil
	case "identifier", "type_identifier":
		name := cparse.Text(node, source)
		if v, ok := env.lookup(name); ok {
			return v, nil
		}
		return constValue{}, fmt.Errorf("catalog: unknown constant name %q", name)
	case "parenthesized_expression":
		inner := cparse.NamedChildren(node)
		if len(inner) != 1 {
			return constValue{}, fmt.Errorf("catalog: malformed parenthesized expression")
		}
		return ce.foldNode(inner[0], source, env)
	case "cast_expression":
		return ce.foldNode(node.ChildByFieldName("value"), source, env)
	case "unary_expression":
		op := cparse.Text(node.ChildByFieldName("operator"), source)
		v, err := ce.foldNode(node.ChildByFieldName("argument"), source, env)
		if err != nil {
			return constValue{}, err
		}
		if v.kind != ConstantInt {
			return constValue{}, fmt.Errorf("catalog: unary %s on non-integer", op)
		}
		switch op {
		case "-":
			return constValue{kind: ConstantInt, i: -v.i}, nil
		case "+":
			return v, nil
		case "~":
			return constValue{kind: ConstantInt, i: ^v.i}, nil
		case "!":
			return constValue{kind: ConstantInt, i: boolToInt(v.i == 0)}, nil
		}
		return constValue{}, fmt.Errorf("catalog: unsupported unary operator %q", op)
	case "binary_expression":
		left, err := ce.foldNode(node.ChildByFieldName("left"), source, env)
		if err != nil {
			return constValue{}, err
		}
		right, err := ce.foldNode(node.ChildByFieldName("right"), source, env)
		if err != nil {
			return constValue{}, err
		}
		op := cparse.Text(node.ChildByFieldName("operator"), source)
		return foldBinary(op, left, right)
	case "conditional_expression":
		cond, err := ce.foldNode(node.ChildByFieldName("condition"), source, env)
		if err != nil {
			return constValue{}, err
		}
		if cond.kind != ConstantInt {
			return constValue{}, fmt.Errorf("catalog: non-integer condition")
		}
		if cond.i != 0 {
			return ce.foldNode(node.ChildByFieldName("consequence"), source, env)
		}
		return ce.foldNode(node.ChildByFieldName("alternative"), source, env)
	}
	return constValue{}, fmt.Errorf("catalog: unsupported constant expression node %q", node.Kind())
}

func foldBinary(op string, left, right constValue) (constValue, error) {
	if left.kind != ConstantInt || right.kind != ConstantInt {
		return constValue{}, fmt.Errorf("catalog: binary %s on non-integers", op)
	}
	a, b := left.i, right.i
	switch op {
	case "+":
		return constValue{kind: ConstantInt, i: a + b}, nil
	case "-":
		return constValue{kind: ConstantInt, i: a - b}, nil
	case "*":
		return constValue{kind: ConstantInt, i: a * b}, nil
	case "/":
		if b == 0 {
			return constValue{}, fmt.Errorf("catalog: constant division by zero")
		}
		return constValue{kind: ConstantInt, i: a / b}, nil
	case "%":
		if b == 0 {
			return constValue{}, fmt.Errorf("catalog: constant modulo by zero")
		}
		return constValue{kind: ConstantInt, i: a % b}, nil
	case "<<":
		return constValue{kind: ConstantInt, i: a << uint64(b)}, nil
	case ">>":
		return constValue{kind: ConstantInt, i: a >> uint64(b)}, nil
	case "&":
		return constValue{kind: ConstantInt, i: a & b}, nil
	case "|":
		return constValue{kind: ConstantInt, i: a | b}, nil
	case "^":
		return constValue{kind: ConstantInt, i: a ^ b}, nil
	case "==":
		return constValue{kind: ConstantInt, i: boolToInt(a == b)}, nil
	case "!=":
		return constValue{kind: ConstantInt, i: boolToInt(a != b)}, nil
	case "<":
		return constValue{kind: ConstantInt, i: boolToInt(a < b)}, nil
	case "<=":
		return constValue{kind: ConstantInt, i: boolToInt(a <= b)}, nil
	case ">":
		return constValue{kind: ConstantInt, i: boolToInt(a > b)}, nil
	case ">=":
		return constValue{kind: ConstantInt, i: boolToInt(a >= b)}, nil
	case "&&":
		return constValue{kind: ConstantInt, i: boolToInt(a != 0 && b != 0)}, nil
	case "||":
		return constValue{kind: ConstantInt, i: boolToInt(a != 0 || b != 0)}, nil
	}
	return constValue{}, fmt.Errorf("catalog: unsupported binary operator %q", op)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// parseCInt parses a C integer literal, tolerating size/signedness suffixes.
func parseCInt(text string) (int64, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "uUlL")
	if trimmed == "" {
		return 0, fmt.Errorf("catalog: empty integer literal %q", text)
	}
	i, err := strconv.ParseInt(trimmed, 0, 64)
	if err != nil {
		// Large unsigned literals still matter for flag masks.
		u, uerr := strconv.ParseUint(trimmed, 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("catalog: integer literal %q: %w", text, err)
		}
		return int64(u), nil
	}
	return i, nil
}
