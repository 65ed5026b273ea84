package operator

import (
	"context"
	"fmt"

	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
)

// SchemaLookup resolves a base relation's output schema and declared
// primary key, so the builder can construct a Scan without re-deriving
// column lists from raw SQL. internal/catalog implements this against
// the information_schema / pg_catalog.
type SchemaLookup interface {
	TableColumns(ctx context.Context, t ident.Table) (cols []Column, primaryKey []string, err error)
}

// Builder translates a parsed defining query into an operator tree,
// applying the input rewrites spec.md §4.1 requires before the tree is
// built, and rejecting shapes that mode DIFFERENTIAL cannot support
// (returning an *Unsupported error).
type Builder struct {
	Schema SchemaLookup
	// DefaultSchema qualifies unqualified table names, mirroring the
	// host's search_path resolution (spec.md §4.1, Design Notes).
	DefaultSchema ident.Schema
}

// Build runs the full rewrite pipeline and constructs the operator
// tree for query.
func (b *Builder) Build(ctx context.Context, query *sqlast.Query) (Operator, error) {
	query, err := b.rewrite(query)
	if err != nil {
		return nil, err
	}
	return b.buildQuery(ctx, query)
}

// rewrite applies, in order, five of the six input rewrites spec.md
// §4.1 names: NATURAL JOIN, DISTINCT ON, GROUPING SETS/CUBE/ROLLUP,
// scalar subquery in WHERE, and OR-ed subqueries. The sixth,
// view-definition inlining, is not performed here or anywhere else in
// this repository; sqlast.StripTrailingTerminator has no caller outside
// its tests.
func (b *Builder) rewrite(query *sqlast.Query) (*sqlast.Query, error) {
	query = rewriteNaturalJoin(query)
	query = rewriteDistinctOn(query)
	var err error
	query, err = rewriteGroupingSets(query)
	if err != nil {
		return nil, err
	}
	query, err = rewriteScalarSubqueryInWhere(query)
	if err != nil {
		return nil, err
	}
	query = rewriteOrSubqueries(query)
	return query, nil
}

func (b *Builder) buildQuery(ctx context.Context, q *sqlast.Query) (Operator, error) {
	if q.SetOp != nil {
		return b.buildSetOp(ctx, q)
	}

	from, err := b.buildFrom(ctx, q.From)
	if err != nil {
		return nil, err
	}

	op, remaining, err := b.applySemiAntiJoins(ctx, from, q.Where)
	if err != nil {
		return nil, err
	}
	if remaining != nil {
		if err := b.checkVolatility(remaining); err != nil {
			return nil, err
		}
		op = &Filter{Child: op, Predicate: remaining}
	}

	if len(q.GroupBy) > 0 || hasAggregate(q.Select) {
		agg, err := b.buildAggregate(op, q)
		if err != nil {
			return nil, err
		}
		op = agg
		if q.Having != nil {
			op = &Filter{Child: op, Predicate: q.Having}
		}
	} else {
		proj, err := b.buildProject(op, q.Select)
		if err != nil {
			return nil, err
		}
		op = proj
	}

	if q.Distinct {
		op = &Distinct{Child: op}
	}

	for _, w := range q.Window {
		win, err := b.buildWindow(op, w, q.Select)
		if err != nil {
			return nil, err
		}
		op = win
	}

	return op, nil
}

func (b *Builder) buildSetOp(ctx context.Context, q *sqlast.Query) (Operator, error) {
	left, err := b.buildQuery(ctx, q.SetOp.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.buildQuery(ctx, q.SetOp.Right)
	if err != nil {
		return nil, err
	}
	if q.SetOp.Kind == sqlast.SetOpUnion && q.SetOp.All {
		return &UnionAll{Branches: []Operator{left, right}, Cols: left.Schema()}, nil
	}
	return &SetOp{
		Op:    q.SetOp.Kind,
		All:   q.SetOp.All,
		Left:  left,
		Right: right,
		Cols:  left.Schema(),
	}, nil
}

// applySemiAntiJoins splits predicate into its top-level AND conjuncts,
// converting any EXISTS/NOT EXISTS/IN/NOT IN term into a SemiJoin or
// AntiJoin wrapping base (spec.md §4.1, SemiJoin/AntiJoin), since those
// shapes differentiate as joins, not as ordinary Filter predicates.
// Conjuncts that are not such a term are recombined and returned as
// the remaining predicate (nil if none remain).
func (b *Builder) applySemiAntiJoins(ctx context.Context, base Operator, predicate sqlast.Expr) (Operator, sqlast.Expr, error) {
	if predicate == nil {
		return base, nil, nil
	}
	conjuncts := splitConjuncts(predicate)
	op := base
	var remaining []sqlast.Expr
	for _, c := range conjuncts {
		switch v := c.(type) {
		case sqlast.ExistsExpr:
			right, err := b.buildQuery(ctx, v.Query)
			if err != nil {
				return nil, nil, err
			}
			op = &SemiJoin{Left: op, Right: right, Anti: v.Not}
		case sqlast.InExpr:
			right, err := b.buildQuery(ctx, v.Query)
			if err != nil {
				return nil, nil, err
			}
			cond := sqlast.BinaryExpr{Op: "=", Left: v.Operand, Right: sqlast.ColumnRef{Column: "__in_probe__"}}
			op = &SemiJoin{Left: op, Right: right, Condition: cond, Anti: v.Not}
		default:
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		return op, nil, nil
	}
	pred := remaining[0]
	for _, r := range remaining[1:] {
		pred = sqlast.BinaryExpr{Op: "AND", Left: pred, Right: r}
	}
	return op, pred, nil
}

func splitConjuncts(e sqlast.Expr) []sqlast.Expr {
	if be, ok := e.(sqlast.BinaryExpr); ok && be.Op == "AND" {
		return append(splitConjuncts(be.Left), splitConjuncts(be.Right)...)
	}
	return []sqlast.Expr{e}
}

func (b *Builder) buildFrom(ctx context.Context, item sqlast.FromItem) (Operator, error) {
	switch f := item.(type) {
	case sqlast.Table:
		return b.buildTable(ctx, f)
	case sqlast.Subquery:
		inner, err := b.buildQuery(ctx, f.Query)
		if err != nil {
			return nil, err
		}
		if f.Lateral {
			return inner, nil // caller (Join/buildFrom of enclosing Join) wraps as Lateral
		}
		return &SubqueryAlias{Child: inner, Alias: f.Alias}, nil
	case sqlast.Join:
		return b.buildJoin(ctx, f)
	case sqlast.SetReturningFunc:
		return nil, unsupportedf("set-returning function %q requires a LATERAL join context", f.Name)
	default:
		return nil, errors.Errorf("operator: unknown FROM item type %T", item)
	}
}

func (b *Builder) buildTable(ctx context.Context, t sqlast.Table) (*Scan, error) {
	schema := b.DefaultSchema
	if t.Schema != "" {
		schema = ident.NewSchema(ident.New(t.Schema), ident.New(t.Schema))
	}
	table := ident.NewTable(schema, ident.New(t.Name))
	cols, pk, err := b.Schema.TableColumns(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving schema for %s", table.Raw())
	}
	alias := t.Alias
	if alias == "" {
		alias = t.Name
	}
	// TableColumns only needs to name each column; the builder owns the
	// ColumnRef expression every downstream rendering path (identity
	// hashing, full-query recompute) depends on.
	resolved := make([]Column, len(cols))
	for i, c := range cols {
		resolved[i] = Column{Name: c.Name, Expr: sqlast.ColumnRef{Column: c.Name}}
	}
	return &Scan{Source: table, Alias: alias, Cols: resolved, PrimaryKey: pk}, nil
}

func (b *Builder) buildJoin(ctx context.Context, j sqlast.Join) (Operator, error) {
	if lateral, ok := j.Right.(sqlast.Subquery); ok && lateral.Lateral {
		outer, err := b.buildFrom(ctx, j.Left)
		if err != nil {
			return nil, err
		}
		inner, err := b.buildQuery(ctx, lateral.Query)
		if err != nil {
			return nil, err
		}
		cols := append(append([]Column{}, outer.Schema()...), inner.Schema()...)
		return &Lateral{Outer: outer, Inner: inner, Cols: cols}, nil
	}
	if srf, ok := j.Right.(sqlast.SetReturningFunc); ok && srf.Lateral {
		return nil, unsupportedf("lateral set-returning function %q: schema derivation requires catalog support not wired for this table", srf.Name)
	}

	left, err := b.buildFrom(ctx, j.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.buildFrom(ctx, j.Right)
	if err != nil {
		return nil, err
	}
	cols := append(append([]Column{}, left.Schema()...), right.Schema()...)

	switch j.Kind {
	case sqlast.JoinInner, sqlast.JoinCross:
		shallow := false
		if _, ok := left.(*InnerJoin); ok {
			shallow = true
		}
		return &InnerJoin{Left: left, Right: right, Condition: j.On, ShallowLeft: shallow, Cols: cols}, nil
	case sqlast.JoinLeft:
		return &LeftJoin{Left: left, Right: right, Condition: j.On, Cols: cols}, nil
	case sqlast.JoinRight:
		// RIGHT JOIN normalizes to LeftJoin with sides swapped (spec.md
		// §4.1, Outer joins).
		swapped := append(append([]Column{}, right.Schema()...), left.Schema()...)
		return &LeftJoin{Left: right, Right: left, Condition: j.On, Cols: swapped}, nil
	case sqlast.JoinFull:
		// FULL JOIN decomposes into LeftJoin(left, right) UNION ALL
		// AntiJoin(right, left) (spec.md §4.1, Outer joins).
		lj := &LeftJoin{Left: left, Right: right, Condition: j.On, Cols: cols}
		anti := &SemiJoin{Left: right, Right: left, Condition: j.On, Anti: true}
		antiProjected := &Project{Child: anti, Cols: cols} // nulls for left's columns are supplied at emission time
		return &UnionAll{Branches: []Operator{lj, antiProjected}, Cols: cols}, nil
	case sqlast.JoinSemi:
		return &SemiJoin{Left: left, Right: right, Condition: j.On, Anti: false}, nil
	case sqlast.JoinAnti:
		return &SemiJoin{Left: left, Right: right, Condition: j.On, Anti: true}, nil
	case sqlast.JoinNatural:
		return nil, errors.New("operator: NATURAL JOIN must be rewritten to an explicit condition before Build")
	default:
		return nil, errors.Errorf("operator: unknown join kind %v", j.Kind)
	}
}

func (b *Builder) buildProject(child Operator, items []sqlast.SelectItem) (*Project, error) {
	var cols []Column
	for i, item := range items {
		if item.Star {
			cols = append(cols, child.Schema()...)
			continue
		}
		if err := b.checkVolatility(item.Expr); err != nil {
			return nil, err
		}
		name := item.Alias
		if name == "" {
			name = fmt.Sprintf("col_%d", i)
		}
		cols = append(cols, Column{Name: name, Expr: item.Expr})
	}
	return &Project{Child: child, Cols: cols}, nil
}

func (b *Builder) buildAggregate(child Operator, q *sqlast.Query) (*Aggregate, error) {
	var aggs []AggExpr
	var cols []Column
	for i, item := range q.Select {
		if fc, ok := item.Expr.(sqlast.FuncCall); ok && isAggregateFunc(fc.Name) {
			if fc.Volatility != sqlast.VolatilityImmutable {
				return nil, unsupportedf("aggregate function %q is not immutable", fc.Name)
			}
			alias := item.Alias
			if alias == "" {
				alias = fmt.Sprintf("agg_%d", i)
			}
			var arg sqlast.Expr
			if len(fc.Args) > 0 {
				arg = fc.Args[0]
			}
			ae := AggExpr{
				Func:      fc.Name,
				Arg:       arg,
				Alias:     alias,
				Algebraic: isAlgebraicFunc(fc.Name),
			}
			aggs = append(aggs, ae)
			cols = append(cols, Column{Name: alias, Expr: item.Expr})
			continue
		}
		name := item.Alias
		if name == "" {
			name = fmt.Sprintf("col_%d", i)
		}
		cols = append(cols, Column{Name: name, Expr: item.Expr})
	}
	for _, g := range q.GroupBy {
		if err := b.checkVolatility(g); err != nil {
			return nil, err
		}
	}
	return &Aggregate{Child: child, GroupBy: q.GroupBy, Aggs: aggs, Cols: cols}, nil
}

func (b *Builder) buildWindow(child Operator, w sqlast.WindowDef, items []sqlast.SelectItem) (*Window, error) {
	if len(w.PartitionBy) == 0 {
		return nil, unsupportedf("window %q has no PARTITION BY", w.Name)
	}
	var fn AggExpr
	for _, item := range items {
		if wc, ok := item.Expr.(sqlast.WindowCall); ok {
			fn = AggExpr{Func: wc.Func.Name, Alias: item.Alias}
			break
		}
	}
	return &Window{
		Child:       child,
		PartitionBy: w.PartitionBy,
		OrderBy:     w.OrderBy,
		Frame:       w.Frame,
		Func:        fn,
		Cols:        append(append([]Column{}, child.Schema()...)),
	}, nil
}

// checkVolatility rejects any non-immutable function appearing in a
// predicate or projection, per spec.md §4.1's Volatility check: a
// STABLE or VOLATILE function (now(), random(), a sequence read)
// cannot be safely re-evaluated only against the delta without
// producing a result that diverges from a full recompute.
func (b *Builder) checkVolatility(e sqlast.Expr) error {
	switch v := e.(type) {
	case sqlast.FuncCall:
		if v.Volatility != sqlast.VolatilityImmutable {
			return unsupportedf("function %q is not immutable", v.Name)
		}
		for _, a := range v.Args {
			if err := b.checkVolatility(a); err != nil {
				return err
			}
		}
	case sqlast.BinaryExpr:
		if err := b.checkVolatility(v.Left); err != nil {
			return err
		}
		return b.checkVolatility(v.Right)
	case sqlast.UnaryExpr:
		return b.checkVolatility(v.Operand)
	case sqlast.CastExpr:
		return b.checkVolatility(v.Operand)
	case sqlast.OrExpr:
		for _, br := range v.Branches {
			if err := b.checkVolatility(br); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasAggregate(items []sqlast.SelectItem) bool {
	for _, item := range items {
		if fc, ok := item.Expr.(sqlast.FuncCall); ok && isAggregateFunc(fc.Name) {
			return true
		}
	}
	return false
}

func isAggregateFunc(name string) bool {
	switch name {
	case "count", "sum", "avg", "min", "max", "array_agg", "string_agg", "bool_and", "bool_or":
		return true
	default:
		return false
	}
}

// isAlgebraicFunc reports whether an aggregate's running value can be
// maintained from (old value, delta) alone (spec.md §4.1, Aggregate):
// COUNT and SUM are; MIN/MAX/array_agg/string_agg require the full
// group recomputed from base data whenever a deleting/updating change
// touches their current extreme value.
func isAlgebraicFunc(name string) bool {
	switch name {
	case "count", "sum", "avg":
		return true
	default:
		return false
	}
}
