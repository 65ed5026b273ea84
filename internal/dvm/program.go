// Package dvm implements the differential view maintenance engine:
// given an operator.Operator tree and a set of per-source deltas, it
// synthesizes a single SQL statement — a chain of CTEs, one per
// operator-tree node, each computing that node's row changes purely
// from its children's CTEs and (only at the leaves) the source's
// change buffer — that the refresh executor (internal/executor) runs
// against the storage table, per spec.md §4.1 and §4.2.
//
// Every emitted CTE shares the same output shape: (row_id bigint,
// action "I"/"U"/"D", followed by the operator's output columns in
// schema order; a "D" row carries the row's prior column values, not
// nulls, so the executor's DELETE/MERGE path can match on them without
// a second lookup).
package dvm

import "strings"

// CTE is one named common table expression in a generated Program.
type CTE struct {
	Name string
	SQL  string
}

// A Program is a complete delta computation: an ordered chain of CTEs
// (each may reference only earlier entries) followed by a final SELECT
// against the last one. Render assembles the runnable statement.
type Program struct {
	CTEs  []CTE
	Final string // name of the terminal CTE the executor selects from
}

// Render assembles the WITH-chain and final SELECT into one statement.
func (p *Program) Render() string {
	var b strings.Builder
	b.WriteString("WITH ")
	for i, c := range p.CTEs {
		if i > 0 {
			b.WriteString(",\n     ")
		}
		b.WriteString(c.Name)
		b.WriteString(" AS (\n")
		b.WriteString(c.SQL)
		b.WriteString("\n)")
	}
	b.WriteString("\nSELECT * FROM ")
	b.WriteString(p.Final)
	return b.String()
}
