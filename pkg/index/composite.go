package index

import (
	"github.com/nexusdb/nexusdb/pkg/types"
)

// Composite is the composite index variant of §4.5: a tuple-keyed
// ordered map (built directly on Ordered, since both share the sorted
// multi-column key representation) supporting leftmost-prefix lookup.
type Composite struct {
	*Ordered
	Columns []string
}

func NewComposite(name string, columns []string, unique bool) *Composite {
	return &Composite{Ordered: NewOrdered(name, unique), Columns: columns}
}

// LeftmostPrefixLen returns the length of the longest prefix of c.Columns
// whose columns are all present in predicateColumns, implementing §4.5's
// leftmost-prefix rule. The executor (§4.10) does not call it when
// choosing an index, so no minimum prefix length is enforced there.
func (c *Composite) LeftmostPrefixLen(predicateColumns map[string]struct{}) int {
	n := 0
	for _, col := range c.Columns {
		if _, ok := predicateColumns[col]; !ok {
			break
		}
		n++
	}
	return n
}

// LookupPrefixEqual looks up rows matching an equality predicate on
// exactly the leading prefixLen columns of the composite key.
func (c *Composite) LookupPrefixEqual(values []types.Value, prefixLen int) []int64 {
	return c.LookupPrefix(values[:prefixLen])
}
