// Package gateway performs typed reads and writes against another process
// through whichever privileged process.Memory backend it was built with.
package gateway

import (
	"context"
	"fmt"

	"memhunt/codec"
	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Gateway holds no per-call state; it is safe for concurrent use as long as
// the backend is.
type Gateway struct {
	mem process.Memory
	log *logger.Logger
}

// New wraps mem
func New(mem process.Memory) *Gateway {
	return &Gateway{
		mem: mem,
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "gateway")),
	}
}

// Backend returns the wrapped process.Memory
func (g *Gateway) Backend() process.Memory {
	return g.mem
}

// Read returns length raw bytes at addr. Lengths need not be a multiple of
// any word size; callers decode.
func (g *Gateway) Read(ctx context.Context, pid process.ProcessID, addr process.ProcessMemoryAddress, length uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	data, err := g.mem.ReadMemory(pid, addr, process.ProcessMemorySize(length))
	if err != nil {
		return data, fmt.Errorf("read %d bytes at %s: %w", length, addr.ToString(), err)
	}
	return data, nil
}

// ReadValue reads one value of type t at addr. Any failure yields codec.Invalid.
func (g *Gateway) ReadValue(ctx context.Context, pid process.ProcessID, addr process.ProcessMemoryAddress, t codec.ValueType) codec.Number {
	data, err := g.Read(ctx, pid, addr, uint64(t.Size()))
	if err != nil {
		g.log.Debugln("ReadValue failed:", err)
		return codec.Invalid
	}
	return codec.Decode(data, t)
}

// Write encodes literal as type t and writes it at addr. Failures come back
// as *process.WriteFailure; an unparsable literal as *process.InvalidCriteriaError.
func (g *Gateway) Write(ctx context.Context, pid process.ProcessID, addr process.ProcessMemoryAddress, t codec.ValueType, literal string) error {
	data, err := codec.EncodeLiteral(literal, t)
	if err != nil {
		return err
	}
	return g.WriteBytes(ctx, pid, addr, data)
}

// WriteBytes writes raw bytes at addr
func (g *Gateway) WriteBytes(ctx context.Context, pid process.ProcessID, addr process.ProcessMemoryAddress, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &process.WriteFailure{PID: pid, Address: addr, Err: err}
	}

	if err := g.mem.WriteMemory(pid, addr, data); err != nil {
		return &process.WriteFailure{PID: pid, Address: addr, Err: err}
	}
	return nil
}

// Regions enumerates and classifies the mapped regions of pid
func (g *Gateway) Regions(ctx context.Context, pid process.ProcessID) ([]memory_map.MemoryRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, &process.ProcessAccessError{PID: pid, Err: err}
	}
	return memory_map.Enumerate(g.mem, pid)
}
