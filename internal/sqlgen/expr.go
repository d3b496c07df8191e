package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/token"
)

// operators maps a binary operator token to its infix SQL spelling; a
// missing entry means the operator needs function-call syntax instead (see
// renderBinary), and anything reaching neither path is an InternalError
// (spec.md §4.7 "unknown operators are an InternalError") — reported here
// via errs.RenderError, the kind this package already reserves for internal
// invariant violations.
var operators = map[token.Type]string{
	token.EQ:    "=",
	token.NEQ:   "<>",
	token.LT:    "<",
	token.GT:    ">",
	token.LTE:   "<=",
	token.GTE:   ">=",
	token.PLUS:  "+",
	token.MINUS: "-",
	token.DASH:  "-",
	token.STAR:  "*",
	token.SLASH: "/",
	token.PERCENT: "%",
	token.CARET: "^",
	token.AND:   "AND",
	token.OR:    "OR",
}

func (g *Generator) renderExprList(exprs []ast.Expr) (string, error) {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		s, err := g.renderExpr(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

func (g *Generator) renderExpr(e ast.Expr) (string, error) {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return strconv.FormatInt(n.Value, 10), nil
	case *ast.FloatLiteral:
		return strconv.FormatFloat(n.Value, 'g', -1, 64), nil
	case *ast.StringLiteral:
		return quoteString(n.Value), nil
	case *ast.BoolLiteral:
		if n.Value {
			return "TRUE", nil
		}
		return "FALSE", nil
	case *ast.NullLiteral:
		return "NULL", nil
	case *ast.ParamRef:
		// Preserved verbatim; runtime parameter substitution happens in the
		// execution shim, not here (spec.md §4.7).
		return "$" + n.Name, nil
	case *ast.Variable:
		return g.resolver.IDColumn(n.Name), nil
	case *ast.PropertyAccess:
		return g.renderPropertyAccess(n)
	case *ast.FunctionCall:
		return g.renderFunctionCall(n)
	case *ast.CaseExpr:
		return g.renderCase(n)
	case *ast.ListLiteral:
		items, err := g.renderExprList(n.Items)
		if err != nil {
			return "", err
		}
		return "[" + items + "]", nil
	case *ast.MapLiteral:
		return g.renderMap(n)
	case *ast.Lambda:
		return g.renderLambda(n)
	case *ast.BinaryExpr:
		return g.renderBinary(n)
	case *ast.UnaryExpr:
		return g.renderUnary(n)
	case *ast.InExpr:
		return g.renderIn(n)
	case *ast.IsNullExpr:
		return g.renderIsNull(n)
	default:
		return "", &errs.RenderError{Detail: fmt.Sprintf("sql generator: unhandled expression %T", e)}
	}
}

func (g *Generator) renderPropertyAccess(n *ast.PropertyAccess) (string, error) {
	v, ok := n.Target.(*ast.Variable)
	if !ok {
		return "", &errs.RenderError{Detail: "property access on a non-variable target"}
	}
	return g.resolver.Column(v.Name, n.Property)
}

// renderFunctionCall strips a dotted pass-through prefix (e.g. "ch.arrayMap"
// renders as "arrayMap(...)") per spec.md §4.7.
func (g *Generator) renderFunctionCall(n *ast.FunctionCall) (string, error) {
	name := n.Name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	args, err := g.renderExprList(n.Args)
	if err != nil {
		return "", err
	}
	distinct := ""
	if n.Distinct {
		distinct = "DISTINCT "
	}
	return fmt.Sprintf("%s(%s%s)", name, distinct, args), nil
}

func (g *Generator) renderCase(n *ast.CaseExpr) (string, error) {
	var b strings.Builder
	b.WriteString("CASE")
	if n.Operand != nil {
		op, err := g.renderExpr(n.Operand)
		if err != nil {
			return "", err
		}
		b.WriteString(" " + op)
	}
	for _, w := range n.Whens {
		cond, err := g.renderExpr(w.Cond)
		if err != nil {
			return "", err
		}
		res, err := g.renderExpr(w.Result)
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf(" WHEN %s THEN %s", cond, res))
	}
	if n.Else != nil {
		els, err := g.renderExpr(n.Else)
		if err != nil {
			return "", err
		}
		b.WriteString(" ELSE " + els)
	}
	b.WriteString(" END")
	return b.String(), nil
}

// renderMap has no Cypher-map counterpart in generated SQL; it renders via
// ClickHouse's map() constructor, consistent with the array/lambda
// functions already assumed elsewhere in this dialect.
func (g *Generator) renderMap(n *ast.MapLiteral) (string, error) {
	parts := make([]string, 0, len(n.Entries)*2)
	for _, entry := range n.Entries {
		v, err := g.renderExpr(entry.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, quoteString(entry.Key), v)
	}
	return fmt.Sprintf("map(%s)", strings.Join(parts, ", ")), nil
}

func (g *Generator) renderLambda(n *ast.Lambda) (string, error) {
	body, err := g.renderExpr(n.Body)
	if err != nil {
		return "", err
	}
	if len(n.Params) == 1 {
		return fmt.Sprintf("(%s) -> %s", n.Params[0], body), nil
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(n.Params, ", "), body), nil
}

func (g *Generator) renderBinary(n *ast.BinaryExpr) (string, error) {
	left, err := g.renderExpr(n.Left)
	if err != nil {
		return "", err
	}
	right, err := g.renderExpr(n.Right)
	if err != nil {
		return "", err
	}
	if n.Op == token.XOR {
		return fmt.Sprintf("xor(%s, %s)", left, right), nil
	}
	op, ok := operators[n.Op]
	if !ok {
		return "", &errs.RenderError{Detail: fmt.Sprintf("sql generator: unknown operator %s", n.Op)}
	}
	return fmt.Sprintf("(%s %s %s)", left, op, right), nil
}

func (g *Generator) renderUnary(n *ast.UnaryExpr) (string, error) {
	operand, err := g.renderExpr(n.Operand)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case token.NOT:
		return fmt.Sprintf("NOT (%s)", operand), nil
	case token.MINUS, token.DASH:
		return fmt.Sprintf("-(%s)", operand), nil
	default:
		return "", &errs.RenderError{Detail: fmt.Sprintf("sql generator: unknown unary operator %s", n.Op)}
	}
}

func (g *Generator) renderIn(n *ast.InExpr) (string, error) {
	left, err := g.renderExpr(n.Left)
	if err != nil {
		return "", err
	}
	if list, ok := n.List.(*ast.ListLiteral); ok {
		items, err := g.renderExprList(list.Items)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (%s)", left, items), nil
	}
	list, err := g.renderExpr(n.List)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s IN %s", left, list), nil
}

func (g *Generator) renderIsNull(n *ast.IsNullExpr) (string, error) {
	operand, err := g.renderExpr(n.Operand)
	if err != nil {
		return "", err
	}
	if n.Negated {
		return fmt.Sprintf("%s IS NOT NULL", operand), nil
	}
	return fmt.Sprintf("%s IS NULL", operand), nil
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
