package index

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/nexusdb/nexusdb/pkg/types"
)

// Bitmap is the bitmap index variant of §4.5: one Roaring bitmap of row
// ids per distinct value, intended for low-cardinality (typically
// boolean) columns. Row ids are truncated to uint32 for the bitmap
// representation; tables exceeding 2^32 rows are out of scope (the
// row-id allocator itself is int64 for headroom, but no bitmap-indexed
// table is expected to approach the 32-bit boundary).
type Bitmap struct {
	mu   sync.RWMutex
	name string
	// byValue and keys hold each distinct key tuple's bitmap and values,
	// keyed by encodeKey's string encoding, since Roaring only indexes by
	// row id, not by arbitrary Value key.
	byValue map[string]*roaring.Bitmap
	keys    map[string][]types.Value
}

func NewBitmap(name string) *Bitmap {
	return &Bitmap{name: name, byValue: make(map[string]*roaring.Bitmap), keys: make(map[string][]types.Value)}
}

func (b *Bitmap) Name() string { return b.name }

func (b *Bitmap) Add(values []types.Value, rowID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := encodeKey(values)
	bm, ok := b.byValue[k]
	if !ok {
		bm = roaring.New()
		b.byValue[k] = bm
		b.keys[k] = append([]types.Value(nil), values...)
	}
	bm.Add(uint32(rowID))
	return nil
}

func (b *Bitmap) Remove(values []types.Value, rowID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := encodeKey(values)
	if bm, ok := b.byValue[k]; ok {
		bm.Remove(uint32(rowID))
	}
}

func (b *Bitmap) LookupEqual(values []types.Value) []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bm, ok := b.byValue[encodeKey(values)]
	if !ok {
		return nil
	}
	u32 := bm.ToArray()
	out := make([]int64, len(u32))
	for i, id := range u32 {
		out[i] = int64(id)
	}
	return out
}

func (b *Bitmap) LookupIn(valueLists [][]types.Value) []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	union := roaring.New()
	for _, vs := range valueLists {
		if bm, ok := b.byValue[encodeKey(vs)]; ok {
			union.Or(bm)
		}
	}
	u32 := union.ToArray()
	out := make([]int64, len(u32))
	for i, id := range u32 {
		out[i] = int64(id)
	}
	return out
}

// LookupRange is unsupported by the bitmap variant (§4.5: equality and
// AND/OR/NOT set operations only).
func (b *Bitmap) LookupRange(lo, hi []types.Value, loInclusive, hiInclusive bool) ([]int64, bool) {
	return nil, false
}

func (b *Bitmap) CachedMin() (types.Row, bool) { return nil, false }
func (b *Bitmap) CachedMax() (types.Row, bool) { return nil, false }

// And implements the bitmap variant's AND set operation directly on the
// underlying Roaring bitmaps for two distinct values of the same column.
func (b *Bitmap) And(va, vb []types.Value) []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ba, oka := b.byValue[encodeKey(va)]
	bb, okb := b.byValue[encodeKey(vb)]
	if !oka || !okb {
		return nil
	}
	r := roaring.And(ba, bb)
	u32 := r.ToArray()
	out := make([]int64, len(u32))
	for i, id := range u32 {
		out[i] = int64(id)
	}
	return out
}

// Not returns every row id of universe that is absent from the bitmap
// for values.
func (b *Bitmap) Not(values []types.Value, universe []int64) []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bm, ok := b.byValue[encodeKey(values)]
	out := make([]int64, 0, len(universe))
	for _, id := range universe {
		if !ok || !bm.Contains(uint32(id)) {
			out = append(out, id)
		}
	}
	return out
}
