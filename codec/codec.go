// Package codec converts between raw little-endian bytes and typed numbers,
// and turns user-entered literals into comparison predicates.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"memhunt/process"
)

// ValueType is the width and interpretation of a scanned value
type ValueType uint8

const (
	TypeUnknown ValueType = iota
	Int32
	Int64
	Float32
	Float64
)

// ParseValueType accepts the type tags "int", "long", "float" and "double",
// case-insensitively.
func ParseValueType(tag string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "int":
		return Int32, nil
	case "long":
		return Int64, nil
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	}
	return TypeUnknown, &process.InvalidCriteriaError{Input: tag, Reason: "unknown value type"}
}

// String returns the type tag
func (t ValueType) String() string {
	switch t {
	case Int32:
		return "int"
	case Int64:
		return "long"
	case Float32:
		return "float"
	case Float64:
		return "double"
	}
	return "unknown"
}

// Size is the width in bytes: 4 for int/float, 8 for long/double.
func (t ValueType) Size() int {
	switch t {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

func (t ValueType) IsFloat() bool {
	return t == Float32 || t == Float64
}

func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ValueType) UnmarshalText(b []byte) error {
	v, err := ParseValueType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Number is a value tagged with its type. Integers live in i, floats in f.
type Number struct {
	typ ValueType
	i   int64
	f   float64
}

// Invalid is returned by Decode when the input has the wrong length.
var Invalid = Number{}

func IntNumber(t ValueType, v int64) Number {
	if t == Int32 {
		v = int64(int32(v))
	}
	return Number{typ: t, i: v}
}

func FloatNumber(t ValueType, v float64) Number {
	if t == Float32 {
		v = float64(float32(v))
	}
	return Number{typ: t, f: v}
}

func (n Number) Type() ValueType { return n.typ }

// Valid is false only for the Invalid sentinel
func (n Number) Valid() bool { return n.typ != TypeUnknown }

func (n Number) Int() int64 {
	if n.typ.IsFloat() {
		return int64(n.f)
	}
	return n.i
}

func (n Number) Float() float64 {
	if n.typ.IsFloat() {
		return n.f
	}
	return float64(n.i)
}

func (n Number) String() string {
	switch n.typ {
	case Int32, Int64:
		return strconv.FormatInt(n.i, 10)
	case Float32:
		return strconv.FormatFloat(n.f, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
	return "invalid"
}

// Decode interprets b as a little-endian value of type t. If len(b) does not
// equal t.Size() it returns Invalid instead of failing, so batch reads can
// carry on past short reads.
func Decode(b []byte, t ValueType) Number {
	if t.Size() == 0 || len(b) != t.Size() {
		return Invalid
	}

	switch t {
	case Int32:
		return Number{typ: t, i: int64(int32(binary.LittleEndian.Uint32(b)))}
	case Int64:
		return Number{typ: t, i: int64(binary.LittleEndian.Uint64(b))}
	case Float32:
		return Number{typ: t, f: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}
	case Float64:
		return Number{typ: t, f: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	}
	return Invalid
}

// Encode is the inverse of Decode
func Encode(n Number) ([]byte, error) {
	b := make([]byte, n.typ.Size())
	switch n.typ {
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(n.i)))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(n.i))
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(n.f)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(n.f))
	default:
		return nil, fmt.Errorf("cannot encode %s value", n.typ)
	}
	return b, nil
}

// ParseLiteral parses a user-entered number as type t. Integers accept an
// optional 0x prefix for hex.
func ParseLiteral(literal string, t ValueType) (Number, error) {
	s := strings.TrimSpace(literal)
	if s == "" {
		return Invalid, &process.InvalidCriteriaError{Input: literal, Reason: "empty value"}
	}

	switch t {
	case Int32, Int64:
		bits := t.Size() * 8
		v, err := parseInt(s, bits)
		if err != nil {
			return Invalid, &process.InvalidCriteriaError{Input: literal, Reason: fmt.Sprintf("not a %d-bit integer", bits)}
		}
		return Number{typ: t, i: v}, nil
	case Float32, Float64:
		v, err := strconv.ParseFloat(s, t.Size()*8)
		if err != nil {
			return Invalid, &process.InvalidCriteriaError{Input: literal, Reason: "not a number"}
		}
		return Number{typ: t, f: v}, nil
	}
	return Invalid, &process.InvalidCriteriaError{Input: literal, Reason: "unknown value type"}
}

func parseInt(s string, bits int) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		if neg {
			// a negative hex literal is a magnitude, checked against the signed range
			u, err := strconv.ParseUint(body[2:], 16, 64)
			if err != nil {
				return 0, err
			}
			if u > uint64(1)<<(bits-1) {
				return 0, strconv.ErrRange
			}
			return -int64(u), nil
		}

		// hex literals may name the raw bit pattern, e.g. 0xFFFFFFFF for int
		u, err := strconv.ParseUint(body[2:], 16, bits)
		if err != nil {
			return 0, err
		}
		if bits == 32 {
			return int64(int32(uint32(u))), nil
		}
		return int64(u), nil
	}
	return strconv.ParseInt(s, 10, bits)
}

// EncodeLiteral parses literal as type t and returns its byte encoding
func EncodeLiteral(literal string, t ValueType) ([]byte, error) {
	n, err := ParseLiteral(literal, t)
	if err != nil {
		return nil, err
	}
	return Encode(n)
}
