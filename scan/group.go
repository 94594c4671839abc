package scan

import (
	"strconv"
	"strings"

	"memhunt/codec"
	"memhunt/process"
)

// Group is a parsed "<v1>;<v2>;...;<vn>:<stride>" pattern
type Group struct {
	Type   codec.ValueType
	Values []codec.Predicate
	Stride uint64
}

// ParseGroup parses pattern for type t. Every value is compared with op.
func ParseGroup(pattern string, t codec.ValueType, op codec.Operator) (*Group, error) {
	idx := strings.LastIndexByte(pattern, ':')
	if idx < 0 {
		return nil, &process.InvalidCriteriaError{Input: pattern, Reason: "group pattern needs a :stride"}
	}

	stride, err := strconv.ParseUint(strings.TrimSpace(pattern[idx+1:]), 0, 32)
	if err != nil || stride == 0 {
		return nil, &process.InvalidCriteriaError{Input: pattern, Reason: "stride must be a positive byte count"}
	}

	literals := strings.Split(pattern[:idx], ";")
	if len(literals) < 2 {
		return nil, &process.InvalidCriteriaError{Input: pattern, Reason: "group pattern needs at least two values"}
	}

	g := &Group{Type: t, Stride: stride}
	for _, lit := range literals {
		p, err := codec.ParsePredicate(lit, t, op)
		if err != nil {
			return nil, err
		}
		g.Values = append(g.Values, p)
	}
	return g, nil
}

// Span is the number of bytes from the base offset to the end of the last value
func (g *Group) Span() uint64 {
	return uint64(len(g.Values)-1)*g.Stride + uint64(g.Type.Size())
}

// Match tests data, which starts at a candidate base offset, and returns the
// first value on success.
func (g *Group) Match(data []byte) (codec.Number, bool) {
	width := uint64(g.Type.Size())
	if uint64(len(data)) < g.Span() {
		return codec.Invalid, false
	}

	var first codec.Number
	for i, p := range g.Values {
		off := uint64(i) * g.Stride
		v := codec.Decode(data[off:off+width], g.Type)
		if !p.Matches(v) {
			return codec.Invalid, false
		}
		if i == 0 {
			first = v
		}
	}
	return first, true
}
