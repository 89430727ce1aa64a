package cparse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// Text returns the source text covered by node.
func Text(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := int(node.StartByte())
	end := int(node.EndByte())
	if start < 0 || end > len(source) || start > end {
		return ""
	}
	return string(source[start:end])
}

// Walk visits root and its descendants in document order. The visitor
// returns false to skip a node's children.
func Walk(root *sitter.Node, visit func(node *sitter.Node) bool) {
	if root == nil {
		return
	}
	if !visit(root) {
		return
	}
	for i := uint(0); i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		Walk(child, visit)
	}
}

// NamedChildren collects the named children of node.
func NamedChildren(node *sitter.Node) []*sitter.Node {
	if node == nil {
		return nil
	}
	children := make([]*sitter.Node, 0, node.NamedChildCount())
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		children = append(children, child)
	}
	return children
}

// ChildrenByField collects every child of node carrying the given field name.
func ChildrenByField(node *sitter.Node, field string) []*sitter.Node {
	if node == nil {
		return nil
	}
	var out []*sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		if node.FieldNameForChild(uint32(i)) != field {
			continue
		}
		child := node.Child(i)
		if child == nil {
			continue
		}
		out = append(out, child)
	}
	return out
}

// InnermostDeclarator follows declarator fields down to the terminal node,
// typically the declared identifier.
func InnermostDeclarator(node *sitter.Node) *sitter.Node {
	for node != nil {
		next := node.ChildByFieldName("declarator")
		if next == nil {
			return node
		}
		node = next
	}
	return nil
}

// HasStorageClass reports whether a declaration carries the given storage
// class specifier (e.g. "static").
func HasStorageClass(node *sitter.Node, source []byte, class string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "storage_class_specifier" {
			continue
		}
		if Text(child, source) == class {
			return true
		}
	}
	return false
}

// DeclarationType returns the text of a declaration's type field.
func DeclarationType(node *sitter.Node, source []byte) string {
	return Text(node.ChildByFieldName("type"), source)
}

// TrimDoc strips comment delimiters and leading indentation from a C
// comment block.
func TrimDoc(doc string) string {
	doc = strings.TrimSpace(doc)
	if strings.HasPrefix(doc, "/*") || strings.HasPrefix(doc, "//") {
		doc = doc[2:]
	}
	doc = strings.TrimSuffix(doc, "*/")
	lines := strings.Split(doc, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = strings.TrimLeft(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// UnquoteString interprets a C string_literal's text, handling the common
// escapes found in Emacs doc strings and symbol names.
func UnquoteString(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i+1 >= len(text) {
			b.WriteByte(c)
			continue
		}
		i++
		switch text[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\', '"', '\'':
			b.WriteByte(text[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(text[i])
		}
	}
	return b.String()
}
