package scan

import (
	"context"

	"memhunt/codec"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"
)

// Scan is the first pass of an exact (or operator) search. Every aligned
// offset of every region is tested; unaligned values are never found.
func (e *Engine) Scan(ctx context.Context, pid process.ProcessID, literal string, t codec.ValueType, op codec.Operator, regions []memory_map.MemoryRegion) ([]matchset.Match, error) {
	p, err := codec.ParsePredicate(literal, t, op)
	if err != nil {
		return nil, err
	}
	return e.scanPredicate(ctx, pid, p, t, regions)
}

// ScanRange is the first pass of a low..high search
func (e *Engine) ScanRange(ctx context.Context, pid process.ProcessID, low, high string, t codec.ValueType, regions []memory_map.MemoryRegion) ([]matchset.Match, error) {
	p, err := codec.RangePredicate(low, high, t)
	if err != nil {
		return nil, err
	}
	return e.scanPredicate(ctx, pid, p, t, regions)
}

func (e *Engine) scanPredicate(ctx context.Context, pid process.ProcessID, p codec.Predicate, t codec.ValueType, regions []memory_map.MemoryRegion) ([]matchset.Match, error) {
	width := uint64(t.Size())
	return e.scanRegions(ctx, pid, regions, width, width, func(data []byte) (codec.Number, bool) {
		v := codec.Decode(data, t)
		return v, p.Matches(v)
	})
}

// Filter re-reads each match and keeps those whose current value satisfies
// literal under op. Each match is decoded with its own type.
func (e *Engine) Filter(ctx context.Context, matches []matchset.Match, literal string, op codec.Operator) ([]matchset.Match, error) {
	preds, err := predicatesByType(matches, func(t codec.ValueType) (codec.Predicate, error) {
		return codec.ParsePredicate(literal, t, op)
	})
	if err != nil {
		return nil, err
	}
	return e.filterPredicate(ctx, matches, preds)
}

// FilterRange narrows matches to those now within low..high
func (e *Engine) FilterRange(ctx context.Context, matches []matchset.Match, low, high string) ([]matchset.Match, error) {
	preds, err := predicatesByType(matches, func(t codec.ValueType) (codec.Predicate, error) {
		return codec.RangePredicate(low, high, t)
	})
	if err != nil {
		return nil, err
	}
	return e.filterPredicate(ctx, matches, preds)
}

func (e *Engine) filterPredicate(ctx context.Context, matches []matchset.Match, preds map[codec.ValueType]codec.Predicate) ([]matchset.Match, error) {
	return e.pointRead(ctx, matches, typeWidth, func(m matchset.Match, data []byte) (codec.Number, bool) {
		v := codec.Decode(data, m.Type)
		return v, preds[m.Type].Matches(v)
	})
}

// predicatesByType parses the criteria once per value type present, so a
// malformed literal fails before any read happens.
func predicatesByType(matches []matchset.Match, parse func(codec.ValueType) (codec.Predicate, error)) (map[codec.ValueType]codec.Predicate, error) {
	preds := make(map[codec.ValueType]codec.Predicate)
	for _, m := range matches {
		if _, ok := preds[m.Type]; ok {
			continue
		}
		p, err := parse(m.Type)
		if err != nil {
			return nil, err
		}
		preds[m.Type] = p
	}
	return preds, nil
}

// ScanGroup is the first pass of an ordered multi-value search such as
// "10;20;30:4". A base offset matches only when every value sits at its
// stride in order.
func (e *Engine) ScanGroup(ctx context.Context, pid process.ProcessID, pattern string, t codec.ValueType, op codec.Operator, regions []memory_map.MemoryRegion) ([]matchset.Match, error) {
	g, err := ParseGroup(pattern, t, op)
	if err != nil {
		return nil, err
	}
	return e.scanRegions(ctx, pid, regions, uint64(t.Size()), g.Span(), g.Match)
}

// FilterGroup re-validates previously matched base offsets against a new
// ordered value list. The stride comes from pattern.
func (e *Engine) FilterGroup(ctx context.Context, matches []matchset.Match, pattern string, op codec.Operator) ([]matchset.Match, error) {
	groups := make(map[codec.ValueType]*Group)
	for _, m := range matches {
		if _, ok := groups[m.Type]; ok {
			continue
		}
		g, err := ParseGroup(pattern, m.Type, op)
		if err != nil {
			return nil, err
		}
		groups[m.Type] = g
	}

	return e.pointRead(ctx, matches,
		func(m matchset.Match) uint64 { return groups[m.Type].Span() },
		func(m matchset.Match, data []byte) (codec.Number, bool) { return groups[m.Type].Match(data) },
	)
}

// Refresh re-reads the value of every match. Matches that can no longer be
// read or decoded are dropped; identity and address are kept for the rest.
func (e *Engine) Refresh(ctx context.Context, matches []matchset.Match) ([]matchset.Match, error) {
	return e.pointRead(ctx, matches, typeWidth, func(m matchset.Match, data []byte) (codec.Number, bool) {
		v := codec.Decode(data, m.Type)
		return v, v.Valid()
	})
}
