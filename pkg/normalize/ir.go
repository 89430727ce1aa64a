package normalize

// The normalizer lowers restricted C into this small statement language.
// Control flow survives structurally; everything C-specific (ternaries,
// update expressions, array declarators, pointer operators) is rewritten
// into plain expressions and marker calls.

// Expr is a normalized expression node.
type Expr interface {
	isExpr()
}

// Ident references a name, resolved later by the evaluator.
type Ident struct {
	Name string
}

// IntLit is a concrete integer.
type IntLit struct {
	Value int64
}

// FloatLit is a concrete float.
type FloatLit struct {
	Value float64
}

// StrLit is a concrete string.
type StrLit struct {
	Value string
}

// BoolLit is a concrete boolean.
type BoolLit struct {
	Value bool
}

// NilLit is the undefined/absent value.
type NilLit struct{}

// ListLit builds a list from element expressions, used for C initializer
// lists.
type ListLit struct {
	Elems []Expr
}

// Unary applies !, -, or ~ to an operand.
type Unary struct {
	Op string
	X  Expr
}

// Binary applies an infix operator. Logical && and || short-circuit.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// CondExpr is an inline conditional: Then if Cond else Else, evaluated
// eagerly at the point of use.
type CondExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Call applies a callee to arguments.
type Call struct {
	Fn   Expr
	Args []Expr
}

// Index subscripts a container.
type Index struct {
	X   Expr
	Idx Expr
}

// Field selects a record field. Both . and -> lower to this.
type Field struct {
	X    Expr
	Name string
}

func (*Ident) isExpr()    {}
func (*IntLit) isExpr()   {}
func (*FloatLit) isExpr() {}
func (*StrLit) isExpr()   {}
func (*BoolLit) isExpr()  {}
func (*NilLit) isExpr()   {}
func (*ListLit) isExpr()  {}
func (*Unary) isExpr()    {}
func (*Binary) isExpr()   {}
func (*CondExpr) isExpr() {}
func (*Call) isExpr()     {}
func (*Index) isExpr()    {}
func (*Field) isExpr()    {}

// Statement is one normalized statement.
type Statement interface {
	isStatement()
}

// AssignStatement assigns Value to Target (an Ident, Index, or Field).
type AssignStatement struct {
	Target Expr
	Value  Expr
}

// ExprStatement evaluates an expression for its effect.
type ExprStatement struct {
	X Expr
}

// IfStatement branches on a condition.
type IfStatement struct {
	Cond Expr
	Then []Statement
	Else []Statement
}

// WhileStatement is a bounded loop; the evaluator genuinely iterates it,
// so the condition must reduce to a concrete boolean each pass.
type WhileStatement struct {
	Cond Expr
	Body []Statement
}

// CommentStatement carries preserved documentation or an overridden
// (deleted) line. The evaluator skips it; the emitter may surface it.
type CommentStatement struct {
	Text string
}

func (*AssignStatement) isStatement()  {}
func (*ExprStatement) isStatement()    {}
func (*IfStatement) isStatement()      {}
func (*WhileStatement) isStatement()   {}
func (*CommentStatement) isStatement() {}
