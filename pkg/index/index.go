// Package index implements the index subsystem of §4.5: a common
// interface plus four concrete variants (ordered-map, hash, bitmap,
// composite), with automatic type selection by column type and the
// boolean-equality full-scan heuristic.
package index

import (
	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// Index is the common contract every variant satisfies (§4.5).
type Index interface {
	Name() string
	Add(values []types.Value, rowID int64) error
	Remove(values []types.Value, rowID int64)
	LookupEqual(values []types.Value) []int64
	LookupIn(valueLists [][]types.Value) []int64
	// LookupRange returns row ids with key in [lo, hi] (bounds optional,
	// inclusive flags independent); ok is false for variants that do not
	// support range lookup (hash, bitmap).
	LookupRange(lo, hi []types.Value, loInclusive, hiInclusive bool) (ids []int64, ok bool)
	CachedMin() (types.Row, bool)
	CachedMax() (types.Row, bool)
}

// TopNCapable is implemented by index variants that can yield row ids in
// key order directly from their backing structure, without the caller
// materializing every key (§4.10 strategy 6, §8 scenario S4: "storage
// must terminate iteration before consuming all rows").
type TopNCapable interface {
	// TopN returns up to n row ids in ascending (or, if descending,
	// descending) key order. Ties within the last key visited may yield
	// more than n ids; callers apply the final LIMIT/OFFSET slice.
	TopN(n int, descending bool) []int64
}

// Kind names the four variants of §4.5.
type Kind uint8

const (
	KindOrderedMap Kind = iota
	KindHash
	KindBitmap
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindOrderedMap:
		return "ordered_map"
	case KindHash:
		return "hash"
	case KindBitmap:
		return "bitmap"
	case KindComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// SelectKind implements §4.5's automatic index-type selection when the
// user does not specify one explicitly.
func SelectKind(columnTypes []types.Kind) Kind {
	if len(columnTypes) > 1 {
		return KindComposite
	}
	switch columnTypes[0] {
	case types.KindText, types.KindJSON:
		return KindHash
	case types.KindBoolean:
		return KindBitmap
	default: // Integer, Float, Timestamp
		return KindOrderedMap
	}
}

// PreferFullScanForBooleanEquality implements the §4.5 boolean-equality
// heuristic: even though a bitmap index exists, equality lookups on a
// boolean column route to a full scan instead (roughly 50% selectivity
// makes the index probe plus row fetch more expensive than just scanning).
// The executor's scan-strategy selector (§4.10) consults this before
// choosing strategy 5 (indexed IN-list/equality probe).
func PreferFullScanForBooleanEquality(colType types.Kind, op string) bool {
	return colType == types.KindBoolean && op == "="
}

func union(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func intersect(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	out := make([]int64, 0)
	for _, id := range b {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RowIDsUnion implements the common row_ids_union(other) helper (§4.5).
func RowIDsUnion(a, b []int64) []int64 { return union(a, b) }

// RowIDsIntersect implements the common row_ids_intersect(other) helper.
func RowIDsIntersect(a, b []int64) []int64 { return intersect(a, b) }

func errUniqueViolation(name string) error {
	return dberr.New(dberr.KindConstraint, "unique index %q violated", name)
}
