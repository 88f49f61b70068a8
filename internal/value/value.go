// Package value implements the tagged Value union and the ordered Row
// attribute map used throughout the storage engine and executor.
//
// Values are value-typed: callers that need to retain a Value beyond the
// lifetime of the structure that produced it must Clone it explicitly.
package value

import (
	"math"
)

// Kind tags the variant held by a Value.
type Kind byte

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindEmbedding
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// Value is a tagged union over {null, int, float, bool, text, embedding}.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind      Kind
	Int       int64
	Float     float64
	Bool      bool
	Text      []byte
	Embedding []float32
}

func Null() Value                { return Value{Kind: KindNull} }
func Int(v int64) Value          { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value      { return Value{Kind: KindFloat, Float: v} }
func Bool(v bool) Value          { return Value{Kind: KindBool, Bool: v} }
func Text(v string) Value        { return Value{Kind: KindText, Text: []byte(v)} }
func Embedding(v []float32) Value {
	cp := make([]float32, len(v))
	copy(cp, v)
	return Value{Kind: KindEmbedding, Embedding: cp}
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) TextString() string { return string(v.Text) }

// Clone returns a deep copy; Value otherwise shares backing arrays (Text,
// Embedding) with whoever constructed it.
func (v Value) Clone() Value {
	out := v
	if v.Text != nil {
		out.Text = make([]byte, len(v.Text))
		copy(out.Text, v.Text)
	}
	if v.Embedding != nil {
		out.Embedding = make([]float32, len(v.Embedding))
		copy(out.Embedding, v.Embedding)
	}
	return out
}

// Equal implements the equality rules from the data model: variant tag
// first, byte-exact for text, bit-exact for int/bool, and embeddings are
// never considered equal (not used as join/hash keys).
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindBool:
		return a.Bool == b.Bool
	case KindText:
		return string(a.Text) == string(b.Text)
	case KindEmbedding:
		return false
	default:
		return false
	}
}

// Compare gives a total order over int/float/text/bool, promoting mixed
// int/float comparisons to float and sorting NaN last. It is undefined
// (and unused) for embeddings.
func Compare(a, b Value) int {
	if a.Kind == KindNull && b.Kind == KindNull {
		return 0
	}
	if a.Kind == KindNull {
		return -1
	}
	if b.Kind == KindNull {
		return 1
	}

	if (a.Kind == KindInt || a.Kind == KindFloat) && (b.Kind == KindInt || b.Kind == KindFloat) {
		af, bf := asFloat(a), asFloat(b)
		return compareFloat(af, bf)
	}

	switch a.Kind {
	case KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case KindText:
		return compareBytes(a.Text, b.Text)
	default:
		return 0
	}
}

func asFloat(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// compareFloat sorts NaN last, matching the ORDER BY requirement.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// HashKey returns a canonical, variant-tag-prefixed hash suitable for
// hash-join build-side tables. Embeddings and NULLs are never hashed; the
// caller is expected to exclude NULLs from the hash table before calling.
func HashKey(v Value) (uint64, bool) {
	if v.Kind == KindNull || v.Kind == KindEmbedding {
		return 0, false
	}
	h := fnvOffset
	h = fnvMix(h, uint64(v.Kind))
	switch v.Kind {
	case KindInt:
		h = fnvMix(h, uint64(v.Int))
	case KindFloat:
		f := v.Float
		if math.IsNaN(f) {
			f = math.NaN() // canonicalize sign/payload bits
		}
		h = fnvMix(h, math.Float64bits(f))
	case KindBool:
		if v.Bool {
			h = fnvMix(h, 1)
		} else {
			h = fnvMix(h, 0)
		}
	case KindText:
		for _, b := range v.Text {
			h = fnvMix(h, uint64(b))
		}
	}
	return h, true
}

const (
	fnvOffset = uint64(14695981039346656037)
	fnvPrime  = uint64(1099511628211)
)

func fnvMix(h, x uint64) uint64 {
	h ^= x
	h *= fnvPrime
	return h
}
