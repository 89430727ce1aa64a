package catalog

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

// ConstantKind discriminates the two constant value shapes.
type ConstantKind int

const (
	ConstantInt ConstantKind = iota
	ConstantString
)

// Constant is a named constant resolved at catalog-build time, originating
// from a #define or an enumerator.
type Constant struct {
	Name  string
	Kind  ConstantKind
	Int   int64
	Str   string
	Raw   string
	Group string
}

// IsInt reports whether the constant holds an integer value.
func (c *Constant) IsInt() bool { return c != nil && c.Kind == ConstantInt }

func (c *Constant) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Kind == ConstantString {
		return fmt.Sprintf("%s=%q", c.Name, c.Str)
	}
	return fmt.Sprintf("%s=%d", c.Name, c.Int)
}

// ConstantExtractor folds #define and enum constants out of parsed units.
// Seeded values provide concrete meanings for names like NULL that the
// sources never define numerically.
type ConstantExtractor struct {
	parser  *cparse.Parser
	ignored map[string]struct{}
	seed    map[string]constValue
}

// NewConstantExtractor builds an extractor. ignored names (and enum group
// names) are skipped entirely; seed maps extra names to concrete values.
func NewConstantExtractor(parser *cparse.Parser, ignored []string, seed map[string]int64) *ConstantExtractor {
	ig := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		ig[name] = struct{}{}
	}
	seeded := make(map[string]constValue, len(seed))
	for name, v := range seed {
		seeded[name] = constValue{kind: ConstantInt, i: v}
	}
	return &ConstantExtractor{parser: parser, ignored: ig, seed: seeded}
}

// ExtractDefines collects object-like #define constants whose replacement
// text folds to an integer or string under env. Unfoldable defines are
// skipped, matching the tolerance the sources require. Results merge into
// env so later defines can reference earlier ones.
func (ce *ConstantExtractor) ExtractDefines(root *sitter.Node, source []byte, env *ConstantEnv) ([]*Constant, error) {
	var constants []*Constant
	var firstErr error
	cparse.Walk(root, func(node *sitter.Node) bool {
		if node.Kind() != "preproc_def" {
			return true
		}
		name := cparse.Text(node.ChildByFieldName("name"), source)
		valueNode := node.ChildByFieldName("value")
		if name == "" || valueNode == nil {
			return false
		}
		if _, skip := ce.ignored[name]; skip {
			return false
		}
		raw := strings.TrimSpace(cparse.Text(valueNode, source))
		value, err := ce.foldText(raw, env)
		if err != nil {
			// Function-like bodies, casts, and platform goo are expected
			// to miss; they are simply not constants to us.
			return false
		}
		if _, exists := env.lookup(name); !exists {
			constants = append(constants, value.toConstant(name, raw, ""))
		}
		env.define(name, value)
		return false
	})
	return constants, firstErr
}

// ExtractEnums collects enumerator constants, tracking the implicit
// running index. Enumerators whose value text depends on sizeof/alignof/
// offsetof are skipped along with anything referencing them.
func (ce *ConstantExtractor) ExtractEnums(root *sitter.Node, source []byte, env *ConstantEnv) ([]*Constant, error) {
	var constants []*Constant
	var firstErr error
	cparse.Walk(root, func(node *sitter.Node) bool {
		if firstErr != nil {
			return false
		}
		if node.Kind() != "enum_specifier" {
			return true
		}
		group := cparse.Text(node.ChildByFieldName("name"), source)
		if _, skip := ce.ignored[group]; skip && group != "" {
			return false
		}
		body := node.ChildByFieldName("body")
		if body == nil {
			return false
		}
		index := int64(0)
		var skipped []string
		for _, enumerator := range cparse.NamedChildren(body) {
			if enumerator.Kind() != "enumerator" {
				continue
			}
			name := cparse.Text(enumerator.ChildByFieldName("name"), source)
			if name == "" {
				continue
			}
			if _, skip := ce.ignored[name]; skip {
				continue
			}
			valueNode := enumerator.ChildByFieldName("value")
			if valueNode != nil {
				text := cparse.Text(valueNode, source)
				if unsizeableEnumValue(text, skipped) {
					skipped = append(skipped, name)
					continue
				}
				value, err := ce.foldNode(valueNode, source, env)
				if err != nil {
					firstErr = fmt.Errorf("catalog: enum %s.%s: %w", group, name, err)
					return false
				}
				if value.kind != ConstantInt {
					firstErr = fmt.Errorf("catalog: enum %s.%s: non-integer value %q", group, name, text)
					return false
				}
				index = value.i
			}
			c := &Constant{Name: name, Kind: ConstantInt, Int: index, Raw: fmt.Sprintf("%d", index), Group: group}
			constants = append(constants, c)
			env.define(name, constValue{kind: ConstantInt, i: index})
			index++
		}
		return false
	})
	return constants, firstErr
}

func unsizeableEnumValue(text string, skipped []string) bool {
	for _, marker := range []string{"sizeof", "alignof", "offsetof", "ROUNDUP"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	for _, name := range skipped {
		if strings.Contains(text, name) {
			return true
		}
	}
	return false
}
