package normalize

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/joyfulsong/elisp-extractor/pkg/catalog"
	"github.com/joyfulsong/elisp-extractor/pkg/cparse"
)

// RoutineSource is one init routine's parsed definition.
type RoutineSource struct {
	Name   string
	Node   *sitter.Node // function_definition, or a bare body for tests
	Source []byte
	File   string
}

// UnrecognizedConstructError reports a syntax shape the normalizer has no
// rule for. Fatal for the routine; resolved by an override rule or by
// excluding the routine.
type UnrecognizedConstructError struct {
	Routine  string
	NodeKind string
	Text     string
	Location cparse.SourceLocation
}

func (e *UnrecognizedConstructError) Error() string {
	return fmt.Sprintf("normalize: %s: no rule for %s node %q (line %d)",
		e.Routine, e.NodeKind, e.Text, e.Location.Line)
}

// Normalizer turns init routine bodies into normalized statement
// sequences, inlining zero-argument calls between known routines. Results
// are memoized per routine so an inlined routine is normalized once.
type Normalizer struct {
	routines map[string]*RoutineSource
	rules    map[string][]Rule
	skipped  map[string]struct{}
	cache    map[string][]Statement
	active   map[string]struct{}
}

// NewNormalizer builds a normalizer over the known init routines.
func NewNormalizer(routines map[string]*RoutineSource) *Normalizer {
	return &Normalizer{
		routines: routines,
		rules:    make(map[string][]Rule),
		skipped:  make(map[string]struct{}),
		cache:    make(map[string][]Statement),
		active:   make(map[string]struct{}),
	}
}

// SetRules installs the override rules for one routine.
func (n *Normalizer) SetRules(routine string, rules []Rule) {
	n.rules[routine] = rules
}

// SetSkipped marks routines as hand-implemented: normalization yields a
// placeholder marker instead of their statements.
func (n *Normalizer) SetSkipped(names ...string) {
	for _, name := range names {
		n.skipped[name] = struct{}{}
	}
}

// Normalize produces the normalized statement sequence for one routine.
func (n *Normalizer) Normalize(name string) ([]Statement, error) {
	if cached, ok := n.cache[name]; ok {
		return cached, nil
	}
	if _, skip := n.skipped[name]; skip {
		stmts := []Statement{&CommentStatement{
			Text: fmt.Sprintf("TODO: `%s` manual implementation needed", name),
		}}
		n.cache[name] = stmts
		return stmts, nil
	}
	src, ok := n.routines[name]
	if !ok {
		return nil, fmt.Errorf("normalize: unknown init routine %q", name)
	}
	if _, busy := n.active[name]; busy {
		return nil, &catalog.InconsistencyError{
			Reason: fmt.Sprintf("init routine %s inlines itself", name),
		}
	}
	n.active[name] = struct{}{}
	defer delete(n.active, name)

	ctx := &routineCtx{n: n, src: src, rules: n.rules[name]}
	stmts, err := ctx.normalizeRoutine()
	if err != nil {
		return nil, err
	}
	n.cache[name] = stmts
	return stmts, nil
}

type routineCtx struct {
	n     *Normalizer
	src   *RoutineSource
	rules []Rule
}

func (ctx *routineCtx) text(node *sitter.Node) string {
	return cparse.Text(node, ctx.src.Source)
}

func (ctx *routineCtx) unrecognized(node *sitter.Node) error {
	return &UnrecognizedConstructError{
		Routine:  ctx.src.Name,
		NodeKind: node.Kind(),
		Text:     ctx.text(node),
		Location: cparse.LocationForNode(node),
	}
}

func (ctx *routineCtx) normalizeRoutine() ([]Statement, error) {
	node := ctx.src.Node
	var stmts []Statement
	body := node
	if node.Kind() == "function_definition" {
		sig := strings.ReplaceAll(ctx.text(node.ChildByFieldName("declarator")), "\n", " ")
		stmts = append(stmts, &CommentStatement{Text: fmt.Sprintf("## %s ##", sig)})
		body = node.ChildByFieldName("body")
	}
	if body == nil {
		return nil, fmt.Errorf("normalize: %s: missing body", ctx.src.Name)
	}
	block, err := ctx.normalizeBlock(body)
	if err != nil {
		return nil, err
	}
	return append(stmts, block...), nil
}

// normalizeBlock lowers a compound statement (or a single statement) into
// the flat statement list.
func (ctx *routineCtx) normalizeBlock(node *sitter.Node) ([]Statement, error) {
	b := &blockBuilder{ctx: ctx}
	children := []*sitter.Node{node}
	if node.Kind() == "compound_statement" {
		children = children[:0]
		for i := uint(0); i < node.ChildCount(); i++ {
			if child := node.Child(i); child != nil {
				children = append(children, child)
			}
		}
	}
	for _, child := range children {
		if err := ctx.normalizeStatement(child, b); err != nil {
			return nil, err
		}
	}
	return b.stmts, nil
}

func (ctx *routineCtx) normalizeStatement(node *sitter.Node, b *blockBuilder) error {
	switch node.Kind() {
	case "{", "}", ";", "preproc_call":
		return nil
	case "compound_statement":
		inner, err := ctx.normalizeBlock(node)
		if err != nil {
			return err
		}
		b.stmts = append(b.stmts, inner...)
		return nil
	case "comment":
		b.stmts = append(b.stmts, &CommentStatement{Text: cparse.TrimDoc(ctx.text(node))})
		return nil
	case "expression_statement":
		return ctx.normalizeExpressionStatement(node, b)
	case "declaration":
		return ctx.normalizeDeclaration(node, b)
	case "enum_specifier":
		return ctx.normalizeEnum(node, b)
	case "if_statement":
		return ctx.normalizeIf(node, b)
	case "while_statement":
		return ctx.normalizeWhile(node, b)
	case "for_statement":
		return ctx.normalizeFor(node, b)
	}
	return ctx.unrecognized(node)
}

func (ctx *routineCtx) normalizeExpressionStatement(node *sitter.Node, b *blockBuilder) error {
	expr := firstMeaningfulChild(node)
	if expr == nil {
		return nil
	}

	// A zero-argument call to a sibling init routine splices that
	// routine's normalized statements in place of the call.
	if inlined, ok, err := ctx.tryInline(expr); err != nil {
		return err
	} else if ok {
		b.stmts = append(b.stmts, inlined...)
		return nil
	}

	value, err := ctx.normalizeExpr(expr, b)
	if err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	return b.retain(&ExprStatement{X: value})
}

func (ctx *routineCtx) tryInline(node *sitter.Node) ([]Statement, bool, error) {
	if node.Kind() != "call_expression" {
		return nil, false, nil
	}
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "identifier" {
		return nil, false, nil
	}
	name := ctx.text(fn)
	if _, known := ctx.n.routines[name]; !known {
		if _, skip := ctx.n.skipped[name]; !skip {
			return nil, false, nil
		}
	}
	if len(meaningfulChildren(node.ChildByFieldName("arguments"))) != 0 {
		return nil, false, nil
	}
	stmts, err := ctx.n.Normalize(name)
	if err != nil {
		return nil, false, err
	}
	return stmts, true, nil
}

func (ctx *routineCtx) normalizeDeclaration(node *sitter.Node, b *blockBuilder) error {
	declarators := cparse.ChildrenByField(node, "declarator")
	if len(declarators) == 0 {
		// A bare `enum {...};` declaration defines constants only.
		for _, child := range cparse.NamedChildren(node) {
			if child.Kind() == "enum_specifier" {
				return ctx.normalizeEnum(child, b)
			}
		}
		return ctx.unrecognized(node)
	}
	for _, declarator := range declarators {
		var valueNode, sizeNode *sitter.Node
		if declarator.Kind() == "init_declarator" {
			valueNode = declarator.ChildByFieldName("value")
		}
		inner := declarator
		for inner != nil && inner.Kind() != "identifier" {
			if inner.Kind() == "array_declarator" {
				sizeNode = inner.ChildByFieldName("size")
			}
			inner = inner.ChildByFieldName("declarator")
		}
		if inner == nil {
			return ctx.unrecognized(declarator)
		}
		target := &Ident{Name: ctx.text(inner)}

		var value Expr
		switch {
		case sizeNode != nil:
			size, err := ctx.normalizeExpr(sizeNode, b)
			if err != nil {
				return err
			}
			var init Expr = &NilLit{}
			if valueNode != nil {
				if init, err = ctx.normalizeExpr(valueNode, b); err != nil {
					return err
				}
			}
			value = &Call{Fn: &Ident{Name: "c_array"}, Args: []Expr{size, init}}
		case valueNode == nil:
			value = &NilLit{}
		default:
			var err error
			if value, err = ctx.normalizeExpr(valueNode, b); err != nil {
				return err
			}
		}
		if err := b.retain(&AssignStatement{Target: target, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *routineCtx) normalizeEnum(node *sitter.Node, b *blockBuilder) error {
	body := node.ChildByFieldName("body")
	if body == nil {
		return ctx.unrecognized(node)
	}
	for _, enumerator := range cparse.NamedChildren(body) {
		if enumerator.Kind() != "enumerator" {
			continue
		}
		name := enumerator.ChildByFieldName("name")
		valueNode := enumerator.ChildByFieldName("value")
		if name == nil || valueNode == nil {
			return ctx.unrecognized(enumerator)
		}
		value, err := ctx.normalizeExpr(valueNode, b)
		if err != nil {
			return err
		}
		if err := b.retain(&AssignStatement{Target: &Ident{Name: ctx.text(name)}, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *routineCtx) normalizeIf(node *sitter.Node, b *blockBuilder) error {
	cond, err := ctx.normalizeCondition(node.ChildByFieldName("condition"), b)
	if err != nil {
		return err
	}
	cond, err = ctx.overrideCondition(cond)
	if err != nil {
		return err
	}
	then, err := ctx.normalizeBlock(node.ChildByFieldName("consequence"))
	if err != nil {
		return err
	}
	var alt []Statement
	if elseClause := node.ChildByFieldName("alternative"); elseClause != nil {
		inner := meaningfulChildren(elseClause)
		if len(inner) != 1 {
			return ctx.unrecognized(elseClause)
		}
		if alt, err = ctx.normalizeBlock(inner[0]); err != nil {
			return err
		}
	}
	b.stmts = append(b.stmts, &IfStatement{Cond: cond, Then: then, Else: alt})
	return nil
}

func (ctx *routineCtx) normalizeWhile(node *sitter.Node, b *blockBuilder) error {
	cond, err := ctx.normalizeCondition(node.ChildByFieldName("condition"), b)
	if err != nil {
		return err
	}
	body, err := ctx.normalizeBlock(node.ChildByFieldName("body"))
	if err != nil {
		return err
	}
	b.stmts = append(b.stmts, &WhileStatement{Cond: cond, Body: body})
	return nil
}

// normalizeFor desugars a for loop into an initializer statement plus a
// bounded loop whose body ends with the update expression.
func (ctx *routineCtx) normalizeFor(node *sitter.Node, b *blockBuilder) error {
	if init := node.ChildByFieldName("initializer"); init != nil {
		if init.Kind() == "declaration" {
			if err := ctx.normalizeDeclaration(init, b); err != nil {
				return err
			}
		} else if _, err := ctx.normalizeExpr(init, b); err != nil {
			return err
		}
	}

	var cond Expr = &BoolLit{Value: true}
	if condNode := node.ChildByFieldName("condition"); condNode != nil {
		var err error
		if cond, err = ctx.normalizeExpr(condNode, b); err != nil {
			return err
		}
	}

	bodyNode := node.ChildByFieldName("body")
	if bodyNode == nil {
		return ctx.unrecognized(node)
	}
	body, err := ctx.normalizeBlock(bodyNode)
	if err != nil {
		return err
	}
	if update := node.ChildByFieldName("update"); update != nil {
		bodyBuilder := &blockBuilder{ctx: ctx, stmts: body}
		if _, err := ctx.normalizeExpr(update, bodyBuilder); err != nil {
			return err
		}
		body = bodyBuilder.stmts
	}
	b.stmts = append(b.stmts, &WhileStatement{Cond: cond, Body: body})
	return nil
}

func (ctx *routineCtx) normalizeCondition(node *sitter.Node, b *blockBuilder) (Expr, error) {
	if node == nil {
		return nil, fmt.Errorf("normalize: %s: missing condition", ctx.src.Name)
	}
	if node.Kind() == "parenthesized_expression" {
		inner := meaningfulChildren(node)
		if len(inner) != 1 {
			return nil, ctx.unrecognized(node)
		}
		node = inner[0]
	}
	return ctx.normalizeExpr(node, b)
}

// overrideCondition applies substitution rules to an if condition.
// Deleting a condition would leave the branch unmodelled, so that is an
// error rather than a silent truth value.
func (ctx *routineCtx) overrideCondition(cond Expr) (Expr, error) {
	line := ExprString(cond)
	replaced, action := applyOverrides(line, ctx.rules)
	switch action {
	case overrideNone:
		return cond, nil
	case overrideDeleted:
		return nil, fmt.Errorf("normalize: %s: override rule deletes condition %q", ctx.src.Name, line)
	default:
		return ParseExpr(replaced)
	}
}

// blockBuilder accumulates statements for one block, receiving hoisted
// side statements synthesized while expressions are normalized.
type blockBuilder struct {
	ctx   *routineCtx
	stmts []Statement
}

// retain applies the routine's override rules to a simple statement and
// appends the surviving form.
func (b *blockBuilder) retain(stmt Statement) error {
	switch stmt.(type) {
	case *AssignStatement, *ExprStatement:
	default:
		b.stmts = append(b.stmts, stmt)
		return nil
	}
	line := Render(stmt)
	replaced, action := applyOverrides(line, b.ctx.rules)
	switch action {
	case overrideNone:
		b.stmts = append(b.stmts, stmt)
	case overrideDeleted:
		b.stmts = append(b.stmts, &CommentStatement{Text: line})
	default:
		parsed, err := ParseLine(replaced)
		if err != nil {
			return err
		}
		b.stmts = append(b.stmts, parsed)
	}
	return nil
}

func (ctx *routineCtx) normalizeExpr(node *sitter.Node, b *blockBuilder) (Expr, error) {
	switch node.Kind() {
	case "identifier", "field_identifier", "type_identifier":
		return &Ident{Name: ctx.text(node)}, nil
	case "true":
		return &BoolLit{Value: true}, nil
	case "false":
		return &BoolLit{Value: false}, nil
	case "null":
		return &NilLit{}, nil
	case "number_literal":
		return parseNumber(ctx.text(node))
	case "char_literal":
		text := cparse.UnquoteString(strings.Trim(ctx.text(node), "'"))
		if text == "" {
			return nil, ctx.unrecognized(node)
		}
		return &IntLit{Value: int64([]rune(text)[0])}, nil
	case "string_literal":
		return &StrLit{Value: cparse.UnquoteString(ctx.text(node))}, nil
	case "concatenated_string":
		var builder strings.Builder
		for _, part := range meaningfulChildren(node) {
			if part.Kind() != "string_literal" {
				return nil, ctx.unrecognized(part)
			}
			builder.WriteString(cparse.UnquoteString(ctx.text(part)))
		}
		return &StrLit{Value: builder.String()}, nil
	case "parenthesized_expression":
		inner := meaningfulChildren(node)
		if len(inner) != 1 {
			return nil, ctx.unrecognized(node)
		}
		return ctx.normalizeExpr(inner[0], b)
	case "conditional_expression":
		cond, err := ctx.normalizeExpr(node.ChildByFieldName("condition"), b)
		if err != nil {
			return nil, err
		}
		then, err := ctx.normalizeExpr(node.ChildByFieldName("consequence"), b)
		if err != nil {
			return nil, err
		}
		alt, err := ctx.normalizeExpr(node.ChildByFieldName("alternative"), b)
		if err != nil {
			return nil, err
		}
		return &CondExpr{Cond: cond, Then: then, Else: alt}, nil
	case "pointer_expression":
		op := ctx.text(node.ChildByFieldName("operator"))
		if op != "*" && op != "&" {
			return nil, ctx.unrecognized(node)
		}
		arg, err := ctx.normalizeExpr(node.ChildByFieldName("argument"), b)
		if err != nil {
			return nil, err
		}
		return &Call{Fn: &Ident{Name: "c_pointer"}, Args: []Expr{&StrLit{Value: op}, arg}}, nil
	case "cast_expression":
		return ctx.normalizeExpr(node.ChildByFieldName("value"), b)
	case "sizeof_expression":
		if value := node.ChildByFieldName("value"); value != nil {
			arg, err := ctx.normalizeExpr(value, b)
			if err != nil {
				return nil, err
			}
			return &Call{Fn: &Ident{Name: "sizeof"}, Args: []Expr{arg}}, nil
		}
		return &Call{
			Fn:   &Ident{Name: "sizeof"},
			Args: []Expr{&StrLit{Value: ctx.text(node.ChildByFieldName("type"))}},
		}, nil
	case "subscript_expression":
		x, err := ctx.normalizeExpr(node.ChildByFieldName("argument"), b)
		if err != nil {
			return nil, err
		}
		idx, err := ctx.normalizeExpr(node.ChildByFieldName("index"), b)
		if err != nil {
			return nil, err
		}
		return &Index{X: x, Idx: idx}, nil
	case "field_expression":
		x, err := ctx.normalizeExpr(node.ChildByFieldName("argument"), b)
		if err != nil {
			return nil, err
		}
		return &Field{X: x, Name: ctx.text(node.ChildByFieldName("field"))}, nil
	case "call_expression":
		fn, err := ctx.normalizeExpr(node.ChildByFieldName("function"), b)
		if err != nil {
			return nil, err
		}
		var args []Expr
		for _, argNode := range meaningfulChildren(node.ChildByFieldName("arguments")) {
			arg, err := ctx.normalizeExpr(argNode, b)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		return &Call{Fn: fn, Args: args}, nil
	case "initializer_list":
		var elems []Expr
		for _, elemNode := range meaningfulChildren(node) {
			elem, err := ctx.normalizeExpr(elemNode, b)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return &ListLit{Elems: elems}, nil
	case "unary_expression":
		op := ctx.text(node.ChildByFieldName("operator"))
		arg, err := ctx.normalizeExpr(node.ChildByFieldName("argument"), b)
		if err != nil {
			return nil, err
		}
		switch op {
		case "+":
			return arg, nil
		case "!", "-", "~":
			return &Unary{Op: op, X: arg}, nil
		}
		return nil, ctx.unrecognized(node)
	case "binary_expression":
		left, err := ctx.normalizeExpr(node.ChildByFieldName("left"), b)
		if err != nil {
			return nil, err
		}
		right, err := ctx.normalizeExpr(node.ChildByFieldName("right"), b)
		if err != nil {
			return nil, err
		}
		op := ctx.text(node.ChildByFieldName("operator"))
		if _, known := precedence[op]; !known {
			return nil, ctx.unrecognized(node)
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	case "update_expression":
		return ctx.normalizeUpdate(node, b)
	case "assignment_expression":
		return ctx.normalizeEmbeddedAssignment(node, b)
	}
	return nil, ctx.unrecognized(node)
}

// normalizeUpdate splits ++/-- into a hoisted `name = name ± 1` statement.
// Postfix forms yield a `∓ 1` correction at the use site so the expression
// sees the pre-mutation value.
func (ctx *routineCtx) normalizeUpdate(node *sitter.Node, b *blockBuilder) (Expr, error) {
	arg := node.ChildByFieldName("argument")
	opNode := node.ChildByFieldName("operator")
	if arg == nil || opNode == nil || arg.Kind() != "identifier" {
		return nil, ctx.unrecognized(node)
	}
	name := ctx.text(arg)
	op := "+"
	if ctx.text(opNode) == "--" {
		op = "-"
	}
	postfix := opNode.StartByte() > arg.StartByte()

	b.stmts = append(b.stmts, &AssignStatement{
		Target: &Ident{Name: name},
		Value:  &Binary{Op: op, Left: &Ident{Name: name}, Right: &IntLit{Value: 1}},
	})
	if !postfix {
		return &Ident{Name: name}, nil
	}
	correction := "-"
	if op == "-" {
		correction = "+"
	}
	return &Binary{Op: correction, Left: &Ident{Name: name}, Right: &IntLit{Value: 1}}, nil
}

// normalizeEmbeddedAssignment hoists an assignment expression into its own
// statement and yields the target as the value at the use site.
func (ctx *routineCtx) normalizeEmbeddedAssignment(node *sitter.Node, b *blockBuilder) (Expr, error) {
	left, err := ctx.normalizeExpr(node.ChildByFieldName("left"), b)
	if err != nil {
		return nil, err
	}
	switch left.(type) {
	case *Ident, *Index, *Field:
	default:
		return nil, ctx.unrecognized(node)
	}
	right, err := ctx.normalizeExpr(node.ChildByFieldName("right"), b)
	if err != nil {
		return nil, err
	}
	op := ctx.text(node.ChildByFieldName("operator"))
	if op != "=" {
		binOp := strings.TrimSuffix(op, "=")
		if _, known := precedence[binOp]; !known {
			return nil, ctx.unrecognized(node)
		}
		right = &Binary{Op: binOp, Left: left, Right: right}
	}
	if err := b.retain(&AssignStatement{Target: left, Value: right}); err != nil {
		return nil, err
	}
	return left, nil
}

func firstMeaningfulChild(node *sitter.Node) *sitter.Node {
	children := meaningfulChildren(node)
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

func meaningfulChildren(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range cparse.NamedChildren(node) {
		if child.Kind() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

func parseNumber(text string) (Expr, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	isHex := strings.HasPrefix(lower, "0x")
	if !isHex && strings.ContainsAny(lower, ".e") || strings.HasSuffix(lower, "f") && !isHex {
		f, err := strconv.ParseFloat(strings.TrimRight(trimmed, "fF"), 64)
		if err != nil {
			return nil, fmt.Errorf("normalize: float literal %q: %w", text, err)
		}
		return &FloatLit{Value: f}, nil
	}
	i, err := strconv.ParseInt(strings.TrimRight(trimmed, "uUlL"), 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(strings.TrimRight(trimmed, "uUlL"), 0, 64)
		if uerr != nil {
			return nil, fmt.Errorf("normalize: integer literal %q: %w", text, err)
		}
		return &IntLit{Value: int64(u)}, nil
	}
	return &IntLit{Value: i}, nil
}
