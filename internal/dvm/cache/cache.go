// Package cache wires the generated delta Program's rendered SQL text
// into internal/util/stmtcache, so a stream table's refresh loop does
// not re-synthesize and re-plan the same CTE chain on every tick when
// its defining query and operator tree haven't changed.
package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/stream-tables/internal/dvm"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/util/stmtcache"
)

// Fingerprint computes a stable digest of op's shape, used as the
// cache key component alongside the stream table's own id. It is
// derived from Kind and Schema only — two operator trees with the
// same shape and column names fingerprint identically even if built
// from distinct *Operator pointers, which is what allows a cache hit
// across refreshes of the same stream table (each refresh rebuilds
// its operator tree from scratch from the stored defining query).
func Fingerprint(op operator.Operator) uint64 {
	h := xxhash.New()
	fingerprintInto(h, op)
	return h.Sum64()
}

func fingerprintInto(h *xxhash.Digest, op operator.Operator) {
	_, _ = h.Write([]byte{byte(op.Kind())})
	for _, c := range op.Schema() {
		_, _ = h.WriteString(c.Name)
		_, _ = h.Write([]byte{0})
	}
	for _, child := range op.Children() {
		fingerprintInto(h, child)
	}
}

// Cached runs builder.Differentiate(op), consulting and populating
// cache for streamTableID keyed by op's structural fingerprint. The
// cached value is always the rendered SQL text, never a value bound to
// a particular refresh's frontier interval: the text refers to each
// source's change-buffer CTE by name only, and nothing in this package
// binds it (spec.md's Non-goal excludes caching by bound parameter
// values, not caching the program text itself). The executor calls
// dvm's Differentiate directly and does not go through this cache.
func Cached(
	cache *stmtcache.Cache, streamTableID string, op operator.Operator, builder *dvm.Builder,
) (string, error) {
	key := stmtcache.Key{StreamTableID: streamTableID, Fingerprint: Fingerprint(op)}
	if sql, ok := cache.Get(key); ok {
		return sql, nil
	}
	program, err := builder.Differentiate(op)
	if err != nil {
		return "", err
	}
	sql := program.Render()
	cache.Put(key, sql)
	return sql, nil
}
