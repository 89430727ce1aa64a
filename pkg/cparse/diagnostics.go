package cparse

import (
	"errors"
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// SourceLocation captures a source span for diagnostics.
type SourceLocation struct {
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

// NodeError includes a message plus a best-effort source location.
type NodeError struct {
	Message  string
	Location SourceLocation
}

func (e *NodeError) Error() string {
	if e.Location.Line > 0 {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Location.Line, e.Location.Column)
	}
	return e.Message
}

// WrapNodeError attaches node's location to err unless it already carries one.
func WrapNodeError(node *sitter.Node, err error) error {
	if err == nil {
		return nil
	}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr
	}
	if node == nil {
		return err
	}
	return &NodeError{
		Message:  err.Error(),
		Location: LocationForNode(node),
	}
}

// LocationForNode converts a node's position to 1-based line/column spans.
func LocationForNode(node *sitter.Node) SourceLocation {
	if node == nil {
		return SourceLocation{}
	}
	start := node.StartPosition()
	end := node.EndPosition()
	return SourceLocation{
		Line:      int(start.Row) + 1,
		Column:    int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndColumn: int(end.Column) + 1,
	}
}
