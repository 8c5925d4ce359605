package index

import (
	"sync"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// smallVector inlines up to four row ids before spilling to a map, per
// §4.5's "values stored as small-vector inlined up to four elements".
type smallVector struct {
	inline    [4]int64
	inlineLen int
	overflow  map[int64]struct{}
}

func (sv *smallVector) add(id int64) {
	if sv.overflow != nil {
		sv.overflow[id] = struct{}{}
		return
	}
	for i := 0; i < sv.inlineLen; i++ {
		if sv.inline[i] == id {
			return
		}
	}
	if sv.inlineLen < len(sv.inline) {
		sv.inline[sv.inlineLen] = id
		sv.inlineLen++
		return
	}
	sv.overflow = make(map[int64]struct{}, sv.inlineLen+1)
	for i := 0; i < sv.inlineLen; i++ {
		sv.overflow[sv.inline[i]] = struct{}{}
	}
	sv.overflow[id] = struct{}{}
	sv.inlineLen = 0
}

func (sv *smallVector) remove(id int64) {
	if sv.overflow != nil {
		delete(sv.overflow, id)
		return
	}
	for i := 0; i < sv.inlineLen; i++ {
		if sv.inline[i] == id {
			sv.inline[i] = sv.inline[sv.inlineLen-1]
			sv.inlineLen--
			return
		}
	}
}

func (sv *smallVector) len() int {
	if sv.overflow != nil {
		return len(sv.overflow)
	}
	return sv.inlineLen
}

func (sv *smallVector) ids() []int64 {
	if sv.overflow != nil {
		out := make([]int64, 0, len(sv.overflow))
		for id := range sv.overflow {
			out = append(out, id)
		}
		return out
	}
	return append([]int64(nil), sv.inline[:sv.inlineLen]...)
}

// Hash is the hash index variant of §4.5: equality-only, unique or
// multi-value, no range support, no ORDER BY acceleration. Keyed on
// types.Value.HashKey(), which is xxhash-based and DOS-resistant enough
// for the spec's purposes (the teacher's own indexing layer uses xxhash
// throughout for the same reason).
type Hash struct {
	mu     sync.RWMutex
	name   string
	unique bool
	// bucket handles hash collisions: multiple distinct key tuples can
	// share a HashKey, so each bucket entry also stores the actual key
	// for an exact-match check.
	buckets map[uint64][]hashBucketEntry
}

type hashBucketEntry struct {
	key []types.Value
	ids *smallVector
}

func NewHash(name string, unique bool) *Hash {
	return &Hash{name: name, unique: unique, buckets: make(map[uint64][]hashBucketEntry)}
}

func hashKeyOf(values []types.Value) uint64 {
	h := values[0].HashKey()
	for _, v := range values[1:] {
		h = h*1099511628211 ^ v.HashKey()
	}
	return h
}

func (h *Hash) entryFor(values []types.Value, create bool) *hashBucketEntry {
	hk := hashKeyOf(values)
	bucket := h.buckets[hk]
	for i := range bucket {
		if keysEqual(bucket[i].key, values) {
			return &bucket[i]
		}
	}
	if !create {
		return nil
	}
	bucket = append(bucket, hashBucketEntry{key: append([]types.Value(nil), values...), ids: &smallVector{}})
	h.buckets[hk] = bucket
	return &bucket[len(bucket)-1]
}

func keysEqual(a, b []types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !types.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (h *Hash) Name() string { return h.name }

func (h *Hash) Add(values []types.Value, rowID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entryFor(values, true)
	if h.unique && e.ids.len() > 0 {
		return errUniqueViolation(h.name)
	}
	e.ids.add(rowID)
	return nil
}

func (h *Hash) Remove(values []types.Value, rowID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entryFor(values, false)
	if e == nil {
		return
	}
	e.ids.remove(rowID)
}

func (h *Hash) LookupEqual(values []types.Value) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e := h.entryFor(values, false)
	if e == nil {
		return nil
	}
	return e.ids.ids()
}

func (h *Hash) LookupIn(valueLists [][]types.Value) []int64 {
	var out []int64
	for _, vs := range valueLists {
		out = union(out, h.LookupEqual(vs))
	}
	return out
}

// LookupRange is unsupported by the hash variant (§4.5).
func (h *Hash) LookupRange(lo, hi []types.Value, loInclusive, hiInclusive bool) ([]int64, bool) {
	return nil, false
}

func (h *Hash) CachedMin() (types.Row, bool) { return nil, false }
func (h *Hash) CachedMax() (types.Row, bool) { return nil, false }
