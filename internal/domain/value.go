package domain

import (
	"fmt"
	"math"
	"slices"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	// KindNoData marks a PV that never produced a value.
	KindNoData Kind = iota
	KindNumber
	KindString
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "no_data"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the typed payload of a single PV. The zero Value is "no data".
type Value struct {
	kind Kind
	num  float64
	str  string
	seq  []float64
}

// NoData returns the "no data" value.
func NoData() Value { return Value{} }

// Number wraps a numeric scalar.
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// String wraps a string scalar.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Sequence wraps an ordered numeric sequence. The slice is copied; a nil
// slice becomes an empty sequence.
func Sequence(v []float64) Value {
	cp := make([]float64, len(v))
	copy(cp, v)
	return Value{kind: KindSequence, seq: cp}
}

func (v Value) Kind() Kind { return v.kind }

// HasData reports whether the value carries something that can be restored.
func (v Value) HasData() bool { return v.kind != KindNoData }

func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Seq returns a copy of the sequence.
func (v Value) Seq() ([]float64, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	cp := make([]float64, len(v.seq))
	copy(cp, v.seq)
	return cp, true
}

// Len is the element count: 1 for scalars, len for sequences, 0 for no data.
func (v Value) Len() int {
	switch v.kind {
	case KindNoData:
		return 0
	case KindNumber, KindString:
		return 1
	case KindSequence:
		return len(v.seq)
	default:
		return 0
	}
}

// Equal compares two values exactly. NaN equals NaN so that a restored NaN
// is not reported as a mismatch.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNoData:
		return true
	case KindNumber:
		return sameFloat(v.num, o.num)
	case KindString:
		return v.str == o.str
	case KindSequence:
		return slices.EqualFunc(v.seq, o.seq, sameFloat)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNoData:
		return "<no data>"
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindSequence:
		return fmt.Sprintf("%v", v.seq)
	default:
		return v.kind.String()
	}
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b && math.Signbit(a) == math.Signbit(b)
}
