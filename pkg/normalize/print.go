package normalize

import (
	"fmt"
	"strconv"
	"strings"
)

// Render produces the canonical single-line text of a simple statement.
// Override rules match against exactly this rendering, so it must stay
// stable: one space around binary operators and after commas, no
// redundant parentheses beyond precedence needs.
func Render(stmt Statement) string {
	switch s := stmt.(type) {
	case *AssignStatement:
		return fmt.Sprintf("%s = %s", ExprString(s.Target), ExprString(s.Value))
	case *ExprStatement:
		return ExprString(s.X)
	case *CommentStatement:
		return "# " + strings.ReplaceAll(s.Text, "\n", "\n# ")
	case *IfStatement:
		return fmt.Sprintf("if %s:", ExprString(s.Cond))
	case *WhileStatement:
		return fmt.Sprintf("while %s:", ExprString(s.Cond))
	}
	return ""
}

// RenderListing renders a statement sequence with indentation, used for
// failure diagnostics and golden tests.
func RenderListing(stmts []Statement) []string {
	var lines []string
	renderInto(&lines, stmts, "")
	return lines
}

func renderInto(lines *[]string, stmts []Statement, indent string) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *IfStatement:
			*lines = append(*lines, indent+Render(s))
			renderInto(lines, s.Then, indent+"    ")
			if len(s.Else) > 0 {
				*lines = append(*lines, indent+"else:")
				renderInto(lines, s.Else, indent+"    ")
			}
		case *WhileStatement:
			*lines = append(*lines, indent+Render(s))
			renderInto(lines, s.Body, indent+"    ")
		default:
			for _, line := range strings.Split(Render(stmt), "\n") {
				*lines = append(*lines, indent+line)
			}
		}
	}
}

// Operator precedence for printing and parsing; higher binds tighter.
var precedence = map[string]int{
	"||": 2,
	"&&": 3,
	"|":  4,
	"^":  5,
	"&":  6,
	"==": 7, "!=": 7,
	"<": 8, "<=": 8, ">": 8, ">=": 8,
	"<<": 9, ">>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
}

const (
	precTernary = 1
	precUnary   = 12
	precPostfix = 13
	precAtom    = 14
)

// ExprString renders an expression in the canonical form.
func ExprString(e Expr) string {
	return exprString(e, 0)
}

func exprString(e Expr, parent int) string {
	switch x := e.(type) {
	case *Ident:
		return x.Name
	case *IntLit:
		return strconv.FormatInt(x.Value, 10)
	case *FloatLit:
		return strconv.FormatFloat(x.Value, 'g', -1, 64)
	case *StrLit:
		return strconv.Quote(x.Value)
	case *BoolLit:
		if x.Value {
			return "true"
		}
		return "false"
	case *NilLit:
		return "nil"
	case *ListLit:
		parts := make([]string, len(x.Elems))
		for i, elem := range x.Elems {
			parts[i] = exprString(elem, 0)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Unary:
		return maybeParen(x.Op+exprString(x.X, precUnary), parent > precUnary)
	case *Binary:
		prec := precedence[x.Op]
		text := fmt.Sprintf("%s %s %s",
			exprString(x.Left, prec),
			x.Op,
			exprString(x.Right, prec+1))
		return maybeParen(text, parent > prec)
	case *CondExpr:
		text := fmt.Sprintf("%s ? %s : %s",
			exprString(x.Cond, precTernary+1),
			exprString(x.Then, precTernary+1),
			exprString(x.Else, precTernary))
		return maybeParen(text, parent > precTernary)
	case *Call:
		parts := make([]string, len(x.Args))
		for i, arg := range x.Args {
			parts[i] = exprString(arg, 0)
		}
		return exprString(x.Fn, precPostfix) + "(" + strings.Join(parts, ", ") + ")"
	case *Index:
		return exprString(x.X, precPostfix) + "[" + exprString(x.Idx, 0) + "]"
	case *Field:
		return exprString(x.X, precPostfix) + "." + x.Name
	}
	return "<?>"
}

func maybeParen(text string, need bool) string {
	if need {
		return "(" + text + ")"
	}
	return text
}
