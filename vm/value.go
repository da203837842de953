package vm

import (
	"fmt"
	"math"
)

// Value is a tagged runtime value.
//
// Every value fits in one 64-bit word. The low three bits hold the tag and
// the remaining bits hold the payload:
//   - Nil, True, False: tag only, payload zero
//   - SmallInt: 61-bit field holding a signed integer in the SmallInt range
//   - SmallFloat: a float code (0.0, 1.0, -1.0)
//   - Ref: an object-table handle, stable across collections
//
// The zero Value is Nil.
type Value uint64

type tag uint64

const (
	tagBits  = 3
	tagMask  = 1<<tagBits - 1
	tagNil   = tag(0)
	tagTrue  = tag(1)
	tagFalse = tag(2)
	tagInt   = tag(3)
	tagFloat = tag(4)
	tagRef   = tag(5)
)

// Pre-defined singletons
const (
	Nil   = Value(tagNil)
	True  = Value(tagTrue)
	False = Value(tagFalse)
)

// SmallInt range (31-bit signed)
const (
	MaxSmallInt int64 = 1<<30 - 1
	MinSmallInt int64 = -(1 << 30)
)

// Variant names the shape of a Value.
type Variant uint8

const (
	VariantNil Variant = iota
	VariantTrue
	VariantFalse
	VariantInt
	VariantFloat
	VariantRef
)

var variantNames = [...]string{"Nil", "True", "False", "Int", "Float", "Ref"}

func (k Variant) String() string {
	if int(k) < len(variantNames) {
		return variantNames[k]
	}
	return fmt.Sprintf("Variant(%d)", uint8(k))
}

func (v Value) tag() tag {
	return tag(v & tagMask)
}

// Variant returns which of the six shapes v has.
func (v Value) Variant() Variant {
	switch v.tag() {
	case tagNil:
		return VariantNil
	case tagTrue:
		return VariantTrue
	case tagFalse:
		return VariantFalse
	case tagInt:
		return VariantInt
	case tagFloat:
		return VariantFloat
	default:
		return VariantRef
	}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool { return v == Nil }

// IsTrue returns true if v is the true singleton.
func (v Value) IsTrue() bool { return v == True }

// IsFalse returns true if v is the false singleton.
func (v Value) IsFalse() bool { return v == False }

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool { return v == True || v == False }

// IsInt returns true if v is a small integer.
func (v Value) IsInt() bool { return v.tag() == tagInt }

// IsFloat returns true if v is an inline float.
func (v Value) IsFloat() bool { return v.tag() == tagFloat }

// IsRef returns true if v refers to a heap object.
func (v Value) IsRef() bool { return v.tag() == tagRef }

// IsImmediate returns true for every value whose payload is carried inline.
func (v Value) IsImmediate() bool { return !v.IsRef() }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool returns the boolean singleton for b.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromInt creates a SmallInt. Values outside the SmallInt range fail with
// an ArgumentError.
func FromInt(n int64) (Value, error) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Nil, newError(KindArgumentError, "integer %d outside SmallInteger range", n)
	}
	return fromIntUnchecked(n), nil
}

// MustInt is FromInt for constants known to be in range.
func MustInt(n int64) Value {
	v, err := FromInt(n)
	if err != nil {
		panic(err)
	}
	return v
}

func fromIntUnchecked(n int64) Value {
	return Value(uint64(n)<<tagBits | uint64(tagInt))
}

// Float codes; only these exact values have an inline encoding.
const (
	floatZero     = 0
	floatOne      = 1
	floatMinusOne = 2
)

// FromFloat creates an inline float. Only 0.0, 1.0 and -1.0 are encodable;
// any other value fails with an ArgumentError.
func FromFloat(f float64) (Value, error) {
	var code uint64
	switch {
	case f == 0 && !math.Signbit(f):
		code = floatZero
	case f == 1:
		code = floatOne
	case f == -1:
		code = floatMinusOne
	default:
		return Nil, newError(KindArgumentError, "float %v has no inline encoding", f)
	}
	return Value(code<<tagBits | uint64(tagFloat)), nil
}

// FromRef wraps an object-table handle.
func FromRef(h Handle) Value {
	return Value(uint64(h)<<tagBits | uint64(tagRef))
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func mismatch(v Value, want string) error {
	return newError(KindTypeMismatch, "expected %s, got %s", want, v.Variant())
}

// AsNil succeeds only for nil.
func (v Value) AsNil() error {
	if v.IsNil() {
		return nil
	}
	return mismatch(v, "nil")
}

// AsBool returns the boolean payload of true or false.
func (v Value) AsBool() (bool, error) {
	switch v {
	case True:
		return true, nil
	case False:
		return false, nil
	}
	return false, mismatch(v, "boolean")
}

// AsInt returns the integer payload of a SmallInt.
func (v Value) AsInt() (int64, error) {
	if !v.IsInt() {
		return 0, mismatch(v, "integer")
	}
	return v.intPayload(), nil
}

// intPayload decodes without a tag check. Arithmetic shift restores the sign.
func (v Value) intPayload() int64 {
	return int64(v) >> tagBits
}

// AsFloat returns the payload of an inline float.
func (v Value) AsFloat() (float64, error) {
	if !v.IsFloat() {
		return 0, mismatch(v, "float")
	}
	switch uint64(v) >> tagBits {
	case floatOne:
		return 1, nil
	case floatMinusOne:
		return -1, nil
	default:
		return 0, nil
	}
}

// AsRef returns the handle of a heap reference.
func (v Value) AsRef() (Handle, error) {
	if !v.IsRef() {
		return 0, mismatch(v, "object reference")
	}
	return v.handle(), nil
}

func (v Value) handle() Handle {
	return Handle(uint64(v) >> tagBits)
}

// ---------------------------------------------------------------------------
// Equality and hashing
// ---------------------------------------------------------------------------

// Equal implements value equality: structural for immediates, identity for
// references. Cross-variant comparison is always unequal. Since each value
// has exactly one encoding this is word equality.
func (v Value) Equal(other Value) bool {
	return v == other
}

// immediateHash returns the identity hash of an immediate value: the integer
// itself, 0 for false, 1 for true and 42 for nil.
func (v Value) immediateHash() int64 {
	switch v.tag() {
	case tagInt:
		return v.intPayload()
	case tagTrue:
		return 1
	case tagFalse:
		return 0
	case tagFloat:
		return int64(uint64(v) >> tagBits)
	default:
		return 42
	}
}

// String renders immediates; references print their handle.
func (v Value) String() string {
	switch v.tag() {
	case tagNil:
		return "nil"
	case tagTrue:
		return "true"
	case tagFalse:
		return "false"
	case tagInt:
		return fmt.Sprintf("%d", v.intPayload())
	case tagFloat:
		f, _ := v.AsFloat()
		return fmt.Sprintf("%.1f", f)
	default:
		return fmt.Sprintf("@%d", v.handle())
	}
}
