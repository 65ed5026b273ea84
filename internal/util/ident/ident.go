// Package ident provides stable, quote-safe identifiers for schemas,
// tables, and columns. Every artifact that outlives a single refresh —
// change-buffer table name, frontier key, delta-program placeholder —
// is keyed by one of these values rather than by a volatile catalog
// OID, so that backup/restore or cluster membership changes never
// invalidate generated SQL or persisted state.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// An Ident is a single, possibly quoted, SQL identifier.
type Ident struct {
	raw string
}

// New constructs an Ident from its unquoted, canonical spelling.
func New(raw string) Ident {
	return Ident{raw: raw}
}

// Raw returns the unquoted spelling of the identifier.
func (i Ident) Raw() string { return i.raw }

// Empty returns true if the identifier has no value.
func (i Ident) Empty() bool { return i.raw == "" }

// String implements fmt.Stringer, returning a double-quoted,
// escape-safe rendering suitable for embedding in generated SQL.
func (i Ident) String() string {
	return `"` + strings.ReplaceAll(i.raw, `"`, `""`) + `"`
}

// A Schema is a namespace for tables: a qualified (database, schema)
// pair. The database component may be empty for engines with a single
// implicit database.
type Schema struct {
	database Ident
	schema   Ident
}

// NewSchema constructs a Schema from its database and schema parts.
func NewSchema(database, schema Ident) Schema {
	return Schema{database: database, schema: schema}
}

// Database returns the database-level identifier, which may be empty.
func (s Schema) Database() Ident { return s.database }

// Schema returns the schema-level identifier.
func (s Schema) Schema() Ident { return s.schema }

// Raw returns the dotted, unquoted qualified name.
func (s Schema) Raw() string {
	if s.database.Empty() {
		return s.schema.Raw()
	}
	return s.database.Raw() + "." + s.schema.Raw()
}

// String implements fmt.Stringer.
func (s Schema) String() string {
	if s.database.Empty() {
		return s.schema.String()
	}
	return s.database.String() + "." + s.schema.String()
}

// A Table is a schema-qualified table, view, or stream-table name.
type Table struct {
	schema Schema
	table  Ident
}

// NewTable constructs a Table from a schema and a table-level name.
func NewTable(schema Schema, table Ident) Table {
	return Table{schema: schema, table: table}
}

// Schema returns the owning schema.
func (t Table) Schema() Schema { return t.schema }

// Table returns the unqualified table identifier.
func (t Table) Table() Ident { return t.table }

// Raw returns the dotted, unquoted qualified name. This is the value
// used as the stable content-derived name for dependency edges,
// change-buffer keys, and frontier map keys — it is deterministic
// across OID churn, renames that don't change the declared name, and
// backup/restore.
func (t Table) Raw() string {
	s := t.schema.Raw()
	if s == "" {
		return t.table.Raw()
	}
	return s + "." + t.table.Raw()
}

// String implements fmt.Stringer, rendering each component quoted.
func (t Table) String() string {
	s := t.schema.String()
	if s == "" {
		return t.table.String()
	}
	return s + "." + t.table.String()
}

// StableName returns a short, deterministic, filesystem- and
// SQL-identifier-safe digest of the table's qualified name. It is used
// to derive change-buffer table names and frontier placeholder tokens
// that must never collide and must never depend on a volatile OID.
func (t Table) StableName() string {
	sum := sha256.Sum256([]byte(t.Raw()))
	return hex.EncodeToString(sum[:])[:16]
}

// Parts returns the database, schema, and table components as raw
// strings, for callers that need to build dialect-specific SQL.
func (t Table) Parts() (database, schema, table string) {
	return t.schema.database.Raw(), t.schema.schema.Raw(), t.table.Raw()
}
