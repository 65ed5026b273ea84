package sqlast

import "strings"

// RenderExpr renders e back to SQL text. The differentiation engine
// (internal/dvm) uses this to embed join conditions, predicates, and
// projection expressions verbatim inside generated delta CTEs; it
// never re-parses its own output, so the rendering only needs to be
// round-trip-safe for the expression shapes this package's Builder can
// produce, not for arbitrary user SQL.
func RenderExpr(e Expr) string {
	switch v := e.(type) {
	case ColumnRef:
		if v.Table == "" {
			return quoteIdent(v.Column)
		}
		return quoteIdent(v.Table) + "." + quoteIdent(v.Column)
	case Literal:
		return v.SQL
	case FuncCall:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = RenderExpr(a)
		}
		prefix := ""
		if v.Distinct {
			prefix = "DISTINCT "
		}
		return v.Name + "(" + prefix + strings.Join(args, ", ") + ")"
	case BinaryExpr:
		return "(" + RenderExpr(v.Left) + " " + v.Op + " " + RenderExpr(v.Right) + ")"
	case UnaryExpr:
		return "(" + v.Op + " " + RenderExpr(v.Operand) + ")"
	case CastExpr:
		return "(" + RenderExpr(v.Operand) + ")::" + v.Type
	case OrExpr:
		parts := make([]string, len(v.Branches))
		for i, b := range v.Branches {
			parts[i] = RenderExpr(b)
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	case ScalarSubqueryExpr:
		return "(/* scalar subquery */)"
	case ExistsExpr:
		prefix := "EXISTS"
		if v.Not {
			prefix = "NOT EXISTS"
		}
		return prefix + " (/* subquery */)"
	case InExpr:
		prefix := "IN"
		if v.Not {
			prefix = "NOT IN"
		}
		return RenderExpr(v.Operand) + " " + prefix + " (/* subquery */)"
	case WindowCall:
		return RenderExpr(v.Func) + " OVER (...)"
	default:
		return "/* unrenderable expr */"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
