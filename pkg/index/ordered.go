package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// orderedEntry is one key in the ordered-map index's backing B-tree.
type orderedEntry struct {
	key []types.Value
	ids map[int64]struct{}
}

func lessEntries(a, b orderedEntry) bool {
	return compareKeys(a.key, b.key) < 0
}

func compareKeys(a, b []types.Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := types.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Ordered is the ordered-map index variant of §4.5: a sorted
// value→row_id_set mapping (google/btree) with a secondary hash map for
// O(1) equality lookups and a reverse row_id→value map for O(1) removal.
// Supports equality, range, prefix (LookupPrefix), and cached MIN/MAX.
type Ordered struct {
	mu       sync.RWMutex
	name     string
	unique   bool
	tree     *btree.BTreeG[orderedEntry]
	byKey    map[string]*orderedEntry // fast-path equality, keyed by encoded key
	byRowID  map[int64][]types.Value  // reverse map for O(1) removal
	min, max *orderedEntry
}

func NewOrdered(name string, unique bool) *Ordered {
	return &Ordered{
		name:    name,
		unique:  unique,
		tree:    btree.NewG(32, lessEntries),
		byKey:   make(map[string]*orderedEntry),
		byRowID: make(map[int64][]types.Value),
	}
}

func encodeKey(values []types.Value) string {
	var sb []byte
	for _, v := range values {
		sb = append(sb, byte(v.Kind()))
		sb = append(sb, []byte(v.String())...)
		sb = append(sb, 0)
	}
	return string(sb)
}

func (o *Ordered) Name() string { return o.name }

func (o *Ordered) Add(values []types.Value, rowID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := encodeKey(values)
	if e, ok := o.byKey[k]; ok {
		if o.unique && len(e.ids) > 0 {
			return errUniqueViolation(o.name)
		}
		e.ids[rowID] = struct{}{}
	} else {
		e := &orderedEntry{key: append([]types.Value(nil), values...), ids: map[int64]struct{}{rowID: {}}}
		o.byKey[k] = e
		o.tree.ReplaceOrInsert(*e)
		o.refreshMinMax()
	}
	o.byRowID[rowID] = values
	return nil
}

func (o *Ordered) Remove(values []types.Value, rowID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := encodeKey(values)
	e, ok := o.byKey[k]
	if !ok {
		return
	}
	delete(e.ids, rowID)
	delete(o.byRowID, rowID)
	if len(e.ids) == 0 {
		o.tree.Delete(*e)
		delete(o.byKey, k)
		o.refreshMinMax()
	}
}

func (o *Ordered) refreshMinMax() {
	if min, ok := o.tree.Min(); ok {
		e := min
		o.min = &e
	} else {
		o.min = nil
	}
	if max, ok := o.tree.Max(); ok {
		e := max
		o.max = &e
	} else {
		o.max = nil
	}
}

func (o *Ordered) LookupEqual(values []types.Value) []int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.byKey[encodeKey(values)]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(e.ids))
	for id := range e.ids {
		out = append(out, id)
	}
	return out
}

func (o *Ordered) LookupIn(valueLists [][]types.Value) []int64 {
	var out []int64
	for _, vs := range valueLists {
		out = union(out, o.LookupEqual(vs))
	}
	return out
}

func (o *Ordered) LookupRange(lo, hi []types.Value, loInclusive, hiInclusive bool) ([]int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []int64
	visit := func(e orderedEntry) bool {
		if lo != nil {
			c := compareKeys(e.key, lo)
			if c < 0 || (c == 0 && !loInclusive) {
				return true
			}
		}
		if hi != nil {
			c := compareKeys(e.key, hi)
			if c > 0 || (c == 0 && !hiInclusive) {
				return false
			}
		}
		for id := range e.ids {
			out = append(out, id)
		}
		return true
	}
	if lo != nil {
		o.tree.AscendGreaterOrEqual(orderedEntry{key: lo}, visit)
	} else {
		o.tree.Ascend(visit)
	}
	return out, true
}

// TopN implements index.TopNCapable by walking the B-tree from one end,
// stopping as soon as n row ids have been collected (§4.10 strategy 6).
func (o *Ordered) TopN(n int, descending bool) []int64 {
	if n <= 0 {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]int64, 0, n)
	visit := func(e orderedEntry) bool {
		for id := range e.ids {
			out = append(out, id)
		}
		return len(out) < n
	}
	if descending {
		o.tree.Descend(visit)
	} else {
		o.tree.Ascend(visit)
	}
	return out
}

// LookupPrefix implements the leftmost-prefix variant for composite use:
// returns every entry whose key begins with prefix.
func (o *Ordered) LookupPrefix(prefix []types.Value) []int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []int64
	o.tree.AscendGreaterOrEqual(orderedEntry{key: prefix}, func(e orderedEntry) bool {
		if len(e.key) < len(prefix) {
			return false
		}
		for i := range prefix {
			if !types.Equal(e.key[i], prefix[i]) {
				return false
			}
		}
		for id := range e.ids {
			out = append(out, id)
		}
		return true
	})
	return out
}

func (o *Ordered) CachedMin() (types.Row, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.min == nil {
		return nil, false
	}
	return types.Row(o.min.key), true
}

func (o *Ordered) CachedMax() (types.Row, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.max == nil {
		return nil, false
	}
	return types.Row(o.max.key), true
}
