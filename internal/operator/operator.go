// Package operator implements the operator tree described in spec.md
// §4.1 and Design Notes "Operator tree as tagged variant": a closed sum
// type over the relational algebra forms a defining query can take,
// each variant carrying its own output schema and enough provenance to
// emit qualified SQL. Differentiation (internal/dvm) dispatches on
// Kind; identity resolution (identity.go) walks past transparent
// wrappers to the underlying join, scan, or aggregate via IdentityRoot,
// which is implemented as a method on each variant rather than a
// generic default so that Project-over-Filter-over-Join can never fall
// back to an unsafe full-tuple identity by accident.
package operator

import (
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
)

// Kind tags each operator variant for differentiator dispatch.
type Kind int

const (
	KindScan Kind = iota
	KindProject
	KindFilter
	KindInnerJoin
	KindLeftJoin
	KindSemiJoin
	KindAntiJoin
	KindAggregate
	KindDistinct
	KindUnionAll
	KindSetOp
	KindWindow
	KindRecursiveCTE
	KindScalarSubquery
	KindLateral
)

func (k Kind) String() string {
	switch k {
	case KindScan:
		return "Scan"
	case KindProject:
		return "Project"
	case KindFilter:
		return "Filter"
	case KindInnerJoin:
		return "InnerJoin"
	case KindLeftJoin:
		return "LeftJoin"
	case KindSemiJoin:
		return "SemiJoin"
	case KindAntiJoin:
		return "AntiJoin"
	case KindAggregate:
		return "Aggregate"
	case KindDistinct:
		return "Distinct"
	case KindUnionAll:
		return "UnionAll"
	case KindSetOp:
		return "SetOp"
	case KindWindow:
		return "Window"
	case KindRecursiveCTE:
		return "RecursiveCTE"
	case KindScalarSubquery:
		return "ScalarSubquery"
	case KindLateral:
		return "Lateral"
	default:
		return "Unknown"
	}
}

// A Column is one entry of an operator's output schema.
type Column struct {
	Name string
	Expr sqlast.Expr
}

// Operator is implemented by every tree-node variant below. Schema
// returns the node's output columns in projection order; Children
// returns its direct operand operators (empty for a leaf like Scan);
// IdentityRoot returns the operator whose identity rule determines
// row_id for this node's output — itself for identity-bearing
// operators, or a recursive look-through for transparent wrappers.
type Operator interface {
	Kind() Kind
	Schema() []Column
	Children() []Operator
	IdentityRoot() Operator
}

// Scan reads a change-tracked source relation directly. It is always a
// leaf and is always its own identity root: a source's primary key
// columns (or, absent a declared key, the full tuple) identify its
// rows.
type Scan struct {
	Source     ident.Table
	Alias      string // defaults to the table's unqualified name
	Cols       []Column
	PrimaryKey []string // column names; empty means "no declared PK"
}

func (s *Scan) Kind() Kind             { return KindScan }
func (s *Scan) Schema() []Column       { return s.Cols }
func (s *Scan) Children() []Operator   { return nil }
func (s *Scan) IdentityRoot() Operator { return s }

// Project applies a projection list over its child. It is transparent
// for identity purposes: a projection does not change which rows
// exist, so Project's IdentityRoot looks through to its child.
type Project struct {
	Child Operator
	Cols  []Column
}

func (p *Project) Kind() Kind             { return KindProject }
func (p *Project) Schema() []Column       { return p.Cols }
func (p *Project) Children() []Operator   { return []Operator{p.Child} }
func (p *Project) IdentityRoot() Operator { return p.Child.IdentityRoot() }

// Filter applies a row predicate over its child. Transparent for
// identity: a predicate only removes rows, it does not change the
// surviving rows' identity.
type Filter struct {
	Child     Operator
	Predicate sqlast.Expr
}

func (f *Filter) Kind() Kind             { return KindFilter }
func (f *Filter) Schema() []Column       { return f.Child.Schema() }
func (f *Filter) Children() []Operator   { return []Operator{f.Child} }
func (f *Filter) IdentityRoot() Operator { return f.Child.IdentityRoot() }

// SubqueryAlias wraps an operator purely to give it a new name/alias in
// the enclosing FROM clause; it changes no rows and is transparent for
// identity.
type SubqueryAlias struct {
	Child Operator
	Alias string
}

func (s *SubqueryAlias) Kind() Kind             { return s.Child.Kind() }
func (s *SubqueryAlias) Schema() []Column       { return s.Child.Schema() }
func (s *SubqueryAlias) Children() []Operator   { return []Operator{s.Child} }
func (s *SubqueryAlias) IdentityRoot() Operator { return s.Child.IdentityRoot() }

// InnerJoin is an identity-bearing operator: a joined row's identity is
// the pair (left.row_id, right.row_id). ShallowLeft records that the
// left child is itself a nested join; internal/dvm does not read it and
// differentiates every InnerJoin the same way.
type InnerJoin struct {
	Left, Right Operator
	Condition   sqlast.Expr
	ShallowLeft bool
	Cols        []Column
}

func (j *InnerJoin) Kind() Kind             { return KindInnerJoin }
func (j *InnerJoin) Schema() []Column       { return j.Cols }
func (j *InnerJoin) Children() []Operator   { return []Operator{j.Left, j.Right} }
func (j *InnerJoin) IdentityRoot() Operator { return j }

// LeftJoin is the canonical outer-join form; RIGHT JOIN is normalized
// to LeftJoin with sides swapped, and FULL JOIN decomposes into
// UnionAll{LeftJoin, AntiJoin} before reaching the operator tree
// (spec.md §4.1, Outer joins).
type LeftJoin struct {
	Left, Right Operator
	Condition   sqlast.Expr
	Cols        []Column
}

func (j *LeftJoin) Kind() Kind             { return KindLeftJoin }
func (j *LeftJoin) Schema() []Column       { return j.Cols }
func (j *LeftJoin) Children() []Operator   { return []Operator{j.Left, j.Right} }
func (j *LeftJoin) IdentityRoot() Operator { return j }

// SemiJoin/AntiJoin synthesize from EXISTS/NOT EXISTS/IN/NOT IN
// (spec.md §4.1). Identity is inherited from Left, since the output
// schema is exactly Left's columns (an EXISTS test never contributes
// columns of its own).
type SemiJoin struct {
	Left, Right Operator
	Condition   sqlast.Expr
	Anti        bool
}

func (s *SemiJoin) Kind() Kind {
	if s.Anti {
		return KindAntiJoin
	}
	return KindSemiJoin
}
func (s *SemiJoin) Schema() []Column       { return s.Left.Schema() }
func (s *SemiJoin) Children() []Operator   { return []Operator{s.Left, s.Right} }
func (s *SemiJoin) IdentityRoot() Operator { return s.Left.IdentityRoot() }

// AggExpr is one SELECT-list aggregate: e.g. SUM(amt) AS total.
type AggExpr struct {
	Func       string
	Arg        sqlast.Expr
	Alias      string
	Algebraic  bool // COUNT, SUM, or AVG-derived-from-both
	Volatility sqlast.Volatility
}

// Aggregate is an identity-bearing operator: its rows are identified
// by the GROUP BY key list, or by a fixed singleton-group constant for
// a scalar aggregate (no GROUP BY), per spec.md §4.1.
type Aggregate struct {
	Child   Operator
	GroupBy []sqlast.Expr
	Aggs    []AggExpr
	Cols    []Column
}

func (a *Aggregate) Kind() Kind             { return KindAggregate }
func (a *Aggregate) Schema() []Column       { return a.Cols }
func (a *Aggregate) Children() []Operator   { return []Operator{a.Child} }
func (a *Aggregate) IdentityRoot() Operator { return a }

// IsScalar reports whether this is a scalar aggregate (no GROUP BY),
// which the differentiator must never delete a row for (spec.md §4.1).
func (a *Aggregate) IsScalar() bool { return len(a.GroupBy) == 0 }

// Distinct is modeled as Aggregate(GROUP BY ALL, [COUNT(*)]) per
// spec.md §4.1, but kept as its own variant so the differentiator and
// the planner can special-case the trivial "every output column is a
// group key" shape without constructing a synthetic GROUP BY ALL list
// by hand everywhere.
type Distinct struct {
	Child Operator
}

func (d *Distinct) Kind() Kind             { return KindDistinct }
func (d *Distinct) Schema() []Column       { return d.Child.Schema() }
func (d *Distinct) Children() []Operator   { return []Operator{d.Child} }
func (d *Distinct) IdentityRoot() Operator { return d }

// UnionAll passes through each branch's deltas with a branch-tagged
// row_id (spec.md §4.1, UnionAll) to avoid cross-branch collisions.
type UnionAll struct {
	Branches []Operator
	Cols     []Column
}

func (u *UnionAll) Kind() Kind             { return KindUnionAll }
func (u *UnionAll) Schema() []Column       { return u.Cols }
func (u *UnionAll) Children() []Operator   { return u.Branches }
func (u *UnionAll) IdentityRoot() Operator { return u }

// SetOp is UNION / INTERSECT / EXCEPT (bag or set form, spec.md §4.1).
// Identity is the full output tuple for the set (non-ALL) forms; the
// differentiator recomputes the set operation in full and keeps no
// per-row multiplicity counters.
type SetOp struct {
	Op          sqlast.SetOpKind
	All         bool
	Left, Right Operator
	Cols        []Column
}

func (s *SetOp) Kind() Kind             { return KindSetOp }
func (s *SetOp) Schema() []Column       { return s.Cols }
func (s *SetOp) Children() []Operator   { return []Operator{s.Left, s.Right} }
func (s *SetOp) IdentityRoot() Operator { return s }

// Window computes one windowed aggregate over partitions of its child.
// PARTITION BY is required by spec.md §4.1; a totally unpartitioned
// window is rejected by the builder with a structured error rather
// than silently falling back, so the caller can choose FULL mode
// instead.
type Window struct {
	Child       Operator
	PartitionBy []sqlast.Expr
	OrderBy     []sqlast.OrderItem
	Frame       string
	Func        AggExpr
	Cols        []Column
}

func (w *Window) Kind() Kind             { return KindWindow }
func (w *Window) Schema() []Column       { return w.Cols }
func (w *Window) Children() []Operator   { return []Operator{w.Child} }
func (w *Window) IdentityRoot() Operator { return w }

// RecursiveCTE models a WITH RECURSIVE binding: Base is the
// non-recursive term, Step is the recursive term referencing the
// binding's own output. Bound, if non-nil, is a declared maximum
// iteration count past which the engine falls back to full
// recomputation instead of attempting unbounded semi-naive iteration
// (spec.md §4.1, Recursive CTE).
type RecursiveCTE struct {
	Name  string
	Base  Operator
	Step  Operator
	Bound *int
	Cols  []Column
}

func (r *RecursiveCTE) Kind() Kind             { return KindRecursiveCTE }
func (r *RecursiveCTE) Schema() []Column       { return r.Cols }
func (r *RecursiveCTE) Children() []Operator   { return []Operator{r.Base, r.Step} }
func (r *RecursiveCTE) IdentityRoot() Operator { return r }

// ScalarSubquery models a `(SELECT ...)` used in a scalar position,
// after the "scalar subquery in WHERE" rewrite has turned any
// WHERE-clause occurrence into a CROSS JOIN LATERAL (spec.md §4.1,
// rewrite 4); a ScalarSubquery node therefore only ever appears in a
// SELECT-list or comparable non-predicate position.
type ScalarSubquery struct {
	Outer Operator
	Inner Operator
	Cols  []Column
}

func (s *ScalarSubquery) Kind() Kind             { return KindScalarSubquery }
func (s *ScalarSubquery) Schema() []Column       { return s.Cols }
func (s *ScalarSubquery) Children() []Operator   { return []Operator{s.Outer, s.Inner} }
func (s *ScalarSubquery) IdentityRoot() Operator { return s.Outer.IdentityRoot() }

// Lateral models a LATERAL subquery, set-returning function, or
// JSON_TABLE invocation correlated to Outer (spec.md §4.1, LATERAL).
type Lateral struct {
	Outer Operator
	Inner Operator
	Cols  []Column
}

func (l *Lateral) Kind() Kind             { return KindLateral }
func (l *Lateral) Schema() []Column       { return l.Cols }
func (l *Lateral) Children() []Operator   { return []Operator{l.Outer, l.Inner} }
func (l *Lateral) IdentityRoot() Operator { return l }
