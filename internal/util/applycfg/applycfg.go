// Package applycfg holds the per-storage-table configuration the
// refresh executor needs to apply a delta program's output: which
// columns are user columns vs. auxiliary aggregate-support columns,
// and how those auxiliary columns combine across a MERGE. Grounded on
// the teacher's internal/util/applycfg.Configs (a factory for
// per-target-table apply configuration, referenced throughout
// internal/source/logical/provider.go's ProvideFactory wiring).
package applycfg

import (
	"sync"

	"github.com/cockroachdb/stream-tables/internal/util/ident"
)

// AuxKind distinguishes the different auxiliary columns a storage
// table may carry, per spec.md §4.1's Aggregate differentiation rules.
type AuxKind int

const (
	// AuxCount backs COUNT(*) / DISTINCT's crossing-zero test.
	AuxCount AuxKind = iota
	// AuxSum backs an algebraic SUM (and the SUM half of AVG).
	AuxSum
	// AuxSumSquares backs nothing directly but is reserved for future
	// algebraic variance support; unused by any current differentiator.
	AuxSumSquares
)

// Aux describes one auxiliary column.
type Aux struct {
	Kind   AuxKind
	Column ident.Ident // e.g. "__count", "__sum_amt"
	Source ident.Ident // the user column the aux column tracks, empty for AuxCount
}

// Config is the apply-time shape of a single stream table's storage
// table: its row-id column, its auxiliary columns, and whether
// user-defined triggers require the explicit-DML apply path instead of
// a single MERGE (spec.md §4.3).
type Config struct {
	Table         ident.Table
	RowIDColumn   ident.Ident
	UserColumns   []ident.Ident
	Aux           []Aux
	HasUserTrigger bool
}

// Configs is a factory/cache for per-table Config values, mirroring the
// teacher's Configs type: refresh executor code asks for a table's
// Config once per refresh rather than recomputing column metadata from
// the catalog on every row.
type Configs struct {
	mu   sync.RWMutex
	byID map[string]*Config
}

// NewConfigs constructs an empty cache.
func NewConfigs() *Configs {
	return &Configs{byID: make(map[string]*Config)}
}

// Get returns the cached Config for a table, or (nil, false) if it has
// not been registered yet.
func (c *Configs) Get(t ident.Table) (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.byID[t.Raw()]
	return cfg, ok
}

// Put registers or replaces a table's Config, e.g. after a
// REINITIALIZE rebuilds auxiliary columns or the DDL watcher detects a
// user-trigger was added or dropped.
func (c *Configs) Put(cfg *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[cfg.Table.Raw()] = cfg
}

// Delete removes a table's cached Config, e.g. after DROP STREAM TABLE.
func (c *Configs) Delete(t ident.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, t.Raw())
}
