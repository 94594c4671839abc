package gateway

import (
	"context"
	"encoding/binary"
	"fmt"

	"memhunt/process"
)

// PointerSize is the width of a pointer in the target address space
const PointerSize = 8

// ResolvePointerChain walks pointer fields at every offset except the last,
// which is added to the final pointer without a dereference.
//
//	base -> [ +0 ]ptrA -> [ +24 ]ptrB
//	ResolvePointerChain(ctx, pid, base, 0, 24, 144) == ptrB + 144
func (g *Gateway) ResolvePointerChain(ctx context.Context, pid process.ProcessID, base process.ProcessMemoryAddress, offsets ...uint64) (process.ProcessMemoryAddress, error) {
	if len(offsets) == 0 {
		return base, nil
	}

	current := base
	for i := 0; i < len(offsets)-1; i++ {
		addr := current + process.ProcessMemoryAddress(offsets[i])

		data, err := g.Read(ctx, pid, addr, PointerSize)
		if err != nil {
			return 0, fmt.Errorf("pointer chain step %d (addr=%#x + off=%#x): %w", i, uint64(current), offsets[i], err)
		}

		ptr := process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data))
		if ptr == 0 {
			return 0, fmt.Errorf("pointer chain: NULL pointer at step %d (addr=%#x + off=%#x): %w", i, uint64(current), offsets[i], process.ErrAddressNotMapped)
		}

		g.log.Debugln("chain step", i, addr.ToString(), "->", ptr.ToString())
		current = ptr
	}

	return current + process.ProcessMemoryAddress(offsets[len(offsets)-1]), nil
}
