package operator

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/pkg/errors"
)

// IdentityColumns returns the column list whose values determine
// row_id for op's output, per spec.md §4.1's Row-identity rule: a Scan
// uses its declared primary key (or full tuple, absent one); an
// identity-bearing operator (join, aggregate, set op, window,
// recursive CTE, lateral) defines its own; a transparent wrapper
// (Project, Filter, SubqueryAlias) defers to its child via
// IdentityRoot.
func IdentityColumns(op Operator) ([]Column, error) {
	root := op.IdentityRoot()
	switch n := root.(type) {
	case *Scan:
		if len(n.PrimaryKey) == 0 {
			return n.Cols, nil
		}
		cols := make([]Column, 0, len(n.PrimaryKey))
		for _, name := range n.PrimaryKey {
			col, ok := findColumn(n.Cols, name)
			if !ok {
				return nil, errors.Errorf("operator: declared primary key column %q not found in scan of %s", name, n.Source.Raw())
			}
			cols = append(cols, col)
		}
		return cols, nil
	case *InnerJoin:
		left, err := IdentityColumns(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := IdentityColumns(n.Right)
		if err != nil {
			return nil, err
		}
		return append(append([]Column{}, left...), right...), nil
	case *LeftJoin:
		left, err := IdentityColumns(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := IdentityColumns(n.Right)
		if err != nil {
			return nil, err
		}
		return append(append([]Column{}, left...), right...), nil
	case *Aggregate:
		if n.IsScalar() {
			// A scalar aggregate has exactly one output row; its identity
			// is a fixed constant so the differentiator never tries to
			// delete-then-reinsert it (spec.md §4.1, Aggregate).
			return []Column{{Name: "__scalar_group__", Expr: sqlast.Literal{SQL: "0"}}}, nil
		}
		cols := make([]Column, 0, len(n.GroupBy))
		for i, expr := range n.GroupBy {
			cols = append(cols, Column{Name: groupKeyName(i), Expr: expr})
		}
		return cols, nil
	case *Distinct:
		return n.Schema(), nil
	case *UnionAll:
		// Branch-tagged row_id: identity is (branch index, child identity).
		var cols []Column
		for i, branch := range n.Branches {
			branchCols, err := IdentityColumns(branch)
			if err != nil {
				return nil, err
			}
			cols = append(cols, Column{Name: branchTagName(i), Expr: sqlast.Literal{SQL: itoa(i)}})
			cols = append(cols, branchCols...)
		}
		return cols, nil
	case *SetOp:
		return n.Cols, nil
	case *Window:
		base, err := IdentityColumns(n.Child)
		if err != nil {
			return nil, err
		}
		return base, nil
	case *RecursiveCTE:
		return n.Cols, nil
	case *ScalarSubquery:
		return IdentityColumns(n.Outer)
	case *Lateral:
		outer, err := IdentityColumns(n.Outer)
		if err != nil {
			return nil, err
		}
		inner, err := IdentityColumns(n.Inner)
		if err != nil {
			return nil, err
		}
		return append(append([]Column{}, outer...), inner...), nil
	case *SemiJoin:
		return IdentityColumns(n.Left)
	default:
		return nil, errors.Errorf("operator: unhandled identity root kind %v", root.Kind())
	}
}

func findColumn(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func groupKeyName(i int) string { return "__group_key_" + itoa(i) }
func branchTagName(i int) string { return "__branch_" + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := [20]byte{}
	pos := len(digits)
	n := i
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		pos--
		digits[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		digits[pos] = '-'
	}
	return string(digits[pos:])
}

// HashIdentity computes the deterministic 64-bit row identity hash
// described in spec.md §4.1's Row-identity rule: every identity column
// value is cast to text (with the operand parenthesized first so
// operator precedence cannot leak into the hash input), joined with a
// NUL separator to prevent concatenation collisions between adjacent
// columns, and hashed with a fixed non-cryptographic function so the
// same logical row always yields the same row_id across refreshes and
// across TRIGGER/WAL capture modes.
func HashIdentity(values []string) uint64 {
	h := xxhash.New()
	for _, v := range values {
		_, _ = h.WriteString(v)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// IdentityCastExpr wraps expr in the canonical "(expr)::text" form
// required before hashing, per the Row-identity rule.
func IdentityCastExpr(expr sqlast.Expr) sqlast.Expr {
	return sqlast.CastExpr{Operand: expr, Type: "text"}
}
