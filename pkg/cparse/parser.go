package cparse

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
)

// Parser wraps a tree-sitter parser configured for the C grammar.
type Parser struct {
	parser *sitter.Parser
}

// NewParser constructs a parser with the C language loaded.
func NewParser() (*Parser, error) {
	lang := sitter.NewLanguage(tree_sitter_c.Language())
	if lang == nil {
		return nil, fmt.Errorf("cparse: c language not available")
	}

	p := sitter.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("cparse: %w", err)
	}

	return &Parser{parser: p}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p == nil || p.parser == nil {
		return
	}
	p.parser.Close()
}

// Parse parses C source into a tree. The caller owns the tree and must
// Close it. The tree borrows source; keep the slice alive alongside it.
func (p *Parser) Parse(source []byte) (*sitter.Tree, error) {
	if p == nil || p.parser == nil {
		return nil, fmt.Errorf("cparse: nil parser")
	}

	tree := p.parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("cparse: parse returned no tree")
	}
	root := tree.RootNode()
	if root == nil || root.Kind() != "translation_unit" {
		tree.Close()
		return nil, fmt.Errorf("cparse: unexpected root node")
	}
	return tree, nil
}
