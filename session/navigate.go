package session

import (
	"context"
	"strconv"
	"strings"

	"memhunt/codec"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"
)

// ParseAddressExpr reads "<hexAddr>" or "<hexAddr>+<offset>". The offset is
// hex with or without a 0x prefix.
func ParseAddressExpr(expr string) (process.ProcessMemoryAddress, error) {
	base, off, hasOff := strings.Cut(strings.TrimSpace(expr), "+")

	addr, err := process.ParseAddress(base)
	if err != nil {
		return 0, &process.InvalidCriteriaError{Input: expr, Reason: "not a hex address"}
	}
	if !hasOff {
		return addr, nil
	}

	off = strings.TrimSpace(off)
	off = strings.TrimPrefix(strings.TrimPrefix(off, "0x"), "0X")
	delta, err := strconv.ParseUint(off, 16, 64)
	if err != nil {
		return 0, &process.InvalidCriteriaError{Input: expr, Reason: "offset is not hex"}
	}
	return addr + process.ProcessMemoryAddress(delta), nil
}

// Goto reads the value at expr with the current type and makes it the only
// match, so the next scan narrows from there.
func (s *Session) Goto(ctx context.Context, expr string) (matchset.Match, error) {
	addr, err := ParseAddressExpr(expr)
	if err != nil {
		return matchset.Match{}, err
	}

	pid := s.PID()
	if pid == 0 {
		return matchset.Match{}, process.ErrProcessNotOpen
	}
	t := s.ValueType()

	data, err := s.gw.Read(ctx, pid, addr, uint64(t.Size()))
	if err != nil {
		return matchset.Match{}, err
	}

	var region *memory_map.MemoryRegion
	if all, err := s.gw.Regions(ctx, pid); err == nil {
		region = memory_map.FindRegion(uint64(addr), all)
	}

	m := matchset.NewMatch(pid, addr, codec.Decode(data, t), region)
	s.matches.Replace([]matchset.Match{m})
	s.log.Infoln("Moved to", addr.ToString())
	return m, nil
}

// ReadValue reads one value of the current type at addr
func (s *Session) ReadValue(ctx context.Context, addr process.ProcessMemoryAddress) (codec.Number, error) {
	pid := s.PID()
	if pid == 0 {
		return codec.Invalid, process.ErrProcessNotOpen
	}
	t := s.ValueType()
	data, err := s.gw.Read(ctx, pid, addr, uint64(t.Size()))
	if err != nil {
		return codec.Invalid, err
	}
	return codec.Decode(data, t), nil
}

// Write writes literal of the current type at addr
func (s *Session) Write(ctx context.Context, addr process.ProcessMemoryAddress, literal string) error {
	pid := s.PID()
	if pid == 0 {
		return process.ErrProcessNotOpen
	}
	return s.gw.Write(ctx, pid, addr, s.ValueType(), literal)
}
