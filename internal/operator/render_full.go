package operator

import (
	"strings"

	"github.com/cockroachdb/stream-tables/internal/sqlast"
)

// RenderFull renders the ordinary (non-incremental) SQL query an
// operator subtree corresponds to. The DVM engine (internal/dvm) uses
// this for FULL refresh mode and for the "current full state of the
// opposite join operand" term every binary operator's differentiation
// rule needs (spec.md §4.1). Expressions are assumed to reference
// column names exposed by their immediate child's Schema(), not
// table aliases reaching across a subquery boundary; a Scan's own
// Alias is preserved one level so a join condition written against it
// still resolves, but an expression several operators removed from its
// originating Scan must already have been rewritten by the builder to
// use the intermediate operator's output column names. This is a
// deliberate scope limit on the SQL-text renderer, not a general
// planner.
func RenderFull(op Operator) string {
	switch n := op.(type) {
	case *Scan:
		return "SELECT " + renderColumnList(n.Cols) + " FROM " + n.Source.String() + " AS " + sqlast.RenderExpr(sqlast.ColumnRef{Column: n.Alias})
	case *Project:
		return "SELECT " + renderProjectList(n.Cols) + " FROM (" + RenderFull(n.Child) + ") AS " + subAlias(n.Child)
	case *Filter:
		return "SELECT * FROM (" + RenderFull(n.Child) + ") AS " + subAlias(n.Child) + " WHERE " + sqlast.RenderExpr(n.Predicate)
	case *SubqueryAlias:
		return RenderFull(n.Child)
	case *InnerJoin:
		return "SELECT * FROM (" + RenderFull(n.Left) + ") AS l JOIN (" + RenderFull(n.Right) + ") AS r ON " + sqlast.RenderExpr(n.Condition)
	case *LeftJoin:
		return "SELECT * FROM (" + RenderFull(n.Left) + ") AS l LEFT JOIN (" + RenderFull(n.Right) + ") AS r ON " + sqlast.RenderExpr(n.Condition)
	case *SemiJoin:
		kw := "EXISTS"
		if n.Anti {
			kw = "NOT EXISTS"
		}
		return "SELECT l.* FROM (" + RenderFull(n.Left) + ") AS l WHERE " + kw + " (SELECT 1 FROM (" + RenderFull(n.Right) + ") AS r WHERE " + condOrTrue(n.Condition) + ")"
	case *Aggregate:
		return "SELECT " + renderAggregateList(n) + " FROM (" + RenderFull(n.Child) + ") AS " + subAlias(n.Child) + renderGroupBy(n.GroupBy)
	case *Distinct:
		return "SELECT DISTINCT * FROM (" + RenderFull(n.Child) + ") AS " + subAlias(n.Child)
	case *UnionAll:
		parts := make([]string, len(n.Branches))
		for i, br := range n.Branches {
			parts[i] = RenderFull(br)
		}
		return strings.Join(parts, "\nUNION ALL\n")
	case *SetOp:
		op := map[sqlast.SetOpKind]string{
			sqlast.SetOpUnion:     "UNION",
			sqlast.SetOpIntersect: "INTERSECT",
			sqlast.SetOpExcept:    "EXCEPT",
		}[n.Op]
		if n.All {
			op += " ALL"
		}
		return RenderFull(n.Left) + "\n" + op + "\n" + RenderFull(n.Right)
	case *Window:
		return "SELECT *, " + sqlast.RenderExpr(n.Func.Arg) + " OVER (PARTITION BY " + renderExprList(n.PartitionBy) + ") AS " + n.Func.Alias + " FROM (" + RenderFull(n.Child) + ") AS " + subAlias(n.Child)
	case *RecursiveCTE:
		return "WITH RECURSIVE " + n.Name + " AS ((" + RenderFull(n.Base) + ") UNION ALL (" + RenderFull(n.Step) + ")) SELECT * FROM " + n.Name
	case *ScalarSubquery:
		return "SELECT *, (" + RenderFull(n.Inner) + ") AS __scalar__ FROM (" + RenderFull(n.Outer) + ") AS " + subAlias(n.Outer)
	case *Lateral:
		return "SELECT * FROM (" + RenderFull(n.Outer) + ") AS l, LATERAL (" + RenderFull(n.Inner) + ") AS r"
	default:
		return "/* unrenderable operator " + op.Kind().String() + " */"
	}
}

func condOrTrue(e sqlast.Expr) string {
	if e == nil {
		return "TRUE"
	}
	return sqlast.RenderExpr(e)
}

func renderColumnList(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = sqlast.RenderExpr(sqlast.ColumnRef{Column: c.Name})
	}
	return strings.Join(names, ", ")
}

func renderProjectList(cols []Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = sqlast.RenderExpr(c.Expr) + " AS " + sqlast.RenderExpr(sqlast.ColumnRef{Column: c.Name})
	}
	return strings.Join(parts, ", ")
}

func renderAggregateList(a *Aggregate) string {
	var parts []string
	for i, g := range a.GroupBy {
		parts = append(parts, sqlast.RenderExpr(g)+" AS "+groupKeyName(i))
	}
	for _, agg := range a.Aggs {
		parts = append(parts, agg.Func+"("+sqlast.RenderExpr(agg.Arg)+") AS "+agg.Alias)
	}
	return strings.Join(parts, ", ")
}

func renderGroupBy(keys []sqlast.Expr) string {
	if len(keys) == 0 {
		return ""
	}
	return " GROUP BY " + renderExprList(keys)
}

func renderExprList(exprs []sqlast.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = sqlast.RenderExpr(e)
	}
	return strings.Join(parts, ", ")
}

func subAlias(child Operator) string {
	if s, ok := child.(*Scan); ok {
		return s.Alias
	}
	return "sub"
}
