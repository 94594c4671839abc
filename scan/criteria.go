package scan

import (
	"strings"

	"memhunt/process"
)

// Kind selects which search a criteria string runs
type Kind int

const (
	KindExact Kind = iota
	KindRange
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindRange:
		return "range"
	case KindGroup:
		return "group"
	}
	return "exact"
}

// Criteria is a classified user criteria string
type Criteria struct {
	Kind    Kind
	Literal string // exact value, or the whole group pattern
	Low     string
	High    string
}

// ParseCriteria classifies s: both ';' and ':' mean a group pattern, ".."
// a range, anything else an exact value. Literal parsing happens later,
// against a value type.
func ParseCriteria(s string) (Criteria, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Criteria{}, &process.InvalidCriteriaError{Input: s, Reason: "empty criteria"}
	}

	switch {
	case strings.Contains(s, ";") && strings.Contains(s, ":"):
		return Criteria{Kind: KindGroup, Literal: s}, nil
	case strings.Contains(s, ".."):
		low, high, _ := strings.Cut(s, "..")
		if strings.TrimSpace(low) == "" || strings.TrimSpace(high) == "" {
			return Criteria{}, &process.InvalidCriteriaError{Input: s, Reason: "range needs both bounds"}
		}
		return Criteria{Kind: KindRange, Low: strings.TrimSpace(low), High: strings.TrimSpace(high)}, nil
	}
	return Criteria{Kind: KindExact, Literal: s}, nil
}
