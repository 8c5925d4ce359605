// Package types holds the core data model shared by every layer of the
// engine: the tagged-union Value, the ordered Row, and the Schema that
// gives a Row its column names and types.
package types

import (
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind discriminates the variants of Value. Order matters: it defines the
// variant-tag component of Value's total order (§3).
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindText
	KindTimestamp
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindBoolean:
		return "BOOLEAN"
	case KindText:
		return "TEXT"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindJSON:
		return "JSON"
	default:
		return "UNKNOWN"
	}
}

// Value is a tagged union of SQL scalars. The zero Value is Null.
//
// Integer and Float carry distinct hash identities (required for hashing
// in GROUP BY / DISTINCT / hash-join build sides) but compare equal under
// SQL comparison semantics when numerically equal — Compare and Equal
// implement the SQL rule, HashKey implements the hashing rule.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string // Text or JSON payload
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func NewInteger(v int64) Value     { return Value{kind: KindInteger, i: v} }
func NewFloat(v float64) Value     { return Value{kind: KindFloat, f: v} }
func NewBoolean(v bool) Value      { return Value{kind: KindBoolean, b: v} }
func NewText(v string) Value       { return Value{kind: KindText, s: v} }
func NewTimestamp(us int64) Value  { return Value{kind: KindTimestamp, i: us} }
func NewJSON(raw string) Value     { return Value{kind: KindJSON, s: raw} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }
func (v Value) Text() string   { return v.s }
func (v Value) JSONRaw() string { return v.s }

// AsFloat64 widens Integer or Float to float64 for arithmetic; for any
// other kind it returns the stored float field without checking the kind
// (callers type-check first, mirroring the VM's own operand validation
// in pkg/expr).
func (v Value) AsFloat64() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// Compare implements SQL three-valued-aware total ordering used for
// ORDER BY and index key ordering: Null sorts before everything, otherwise
// variant tag then value. Integer(n) and Float(n.0) compare equal.
// NULL is ordered like any other value here; callers that need SQL NULL
// semantics (i.e. "unknown") must check IsNull first.
func Compare(a, b Value) int {
	if a.kind == KindNull && b.kind == KindNull {
		return 0
	}
	if a.kind == KindNull {
		return -1
	}
	if b.kind == KindNull {
		return 1
	}
	if isNumeric(a.kind) && isNumeric(b.kind) {
		af, bf := a.AsFloat64(), b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBoolean:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case KindText, KindJSON:
		return strings.Compare(a.s, b.s)
	case KindTimestamp:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func isNumeric(k Kind) bool { return k == KindInteger || k == KindFloat }

// Equal implements SQL equality: Integer(n) == Float(n.0). Null is never
// equal to anything, including Null itself, under SQL semantics — callers
// needing "IS NULL" must ask for it explicitly; Equal is for the `=`
// operator's non-null operand path.
func Equal(a, b Value) bool {
	if a.kind == KindNull || b.kind == KindNull {
		return false
	}
	if isNumeric(a.kind) && isNumeric(b.kind) {
		return a.AsFloat64() == b.AsFloat64()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindBoolean:
		return a.b == b.b
	case KindText, KindJSON:
		return a.s == b.s
	case KindTimestamp:
		return a.i == b.i
	default:
		return true
	}
}

// HashKey returns a hash identity distinguishing Integer(n) from
// Float(n.0), as required for GROUP BY / DISTINCT / hash-index buckets
// (§3: "Equality treats Integer(n) and Float(n.0) as distinct for
// hashing"). Uses xxhash, the fast non-cryptographic hash the hash index
// and hash-join build side also use.
func (v Value) HashKey() uint64 {
	var buf [10]byte
	buf[0] = byte(v.kind)
	switch v.kind {
	case KindNull:
		return xxhash.Sum64(buf[:1])
	case KindInteger:
		putUint64(buf[1:], uint64(v.i))
		return xxhash.Sum64(buf[:9])
	case KindFloat:
		putUint64(buf[1:], floatBits(v.f))
		return xxhash.Sum64(buf[:9])
	case KindBoolean:
		if v.b {
			buf[1] = 1
		}
		return xxhash.Sum64(buf[:2])
	case KindTimestamp:
		putUint64(buf[1:], uint64(v.i))
		return xxhash.Sum64(buf[:9])
	default: // Text, JSON
		h := xxhash.New()
		h.Write(buf[:1])
		h.Write([]byte(v.s))
		return h.Sum64()
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindTimestamp:
		return fmt.Sprintf("%d", v.i)
	default:
		return v.s
	}
}
