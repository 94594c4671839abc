package process_shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memhunt/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultTimeout bounds every shell round trip
const DefaultTimeout = 10 * time.Second

// Memory implements process.Memory over a Channel
type Memory struct {
	ch      Channel
	timeout time.Duration
	log     *logger.Logger
}

var _ process.Memory = (*Memory)(nil)

// NewMemory wraps ch. A zero timeout means DefaultTimeout.
func NewMemory(ch Channel, timeout time.Duration) *Memory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Memory{
		ch:      ch,
		timeout: timeout,
		log:     logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-shell")),
	}
}

func guard(pid process.ProcessID) string {
	return fmt.Sprintf("[ -d /proc/%d ] || exit %d; ", pid, exitProcessGone)
}

func readScript(pid process.ProcessID, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) string {
	return guard(pid) + fmt.Sprintf("dd if=/proc/%d/mem bs=65536 iflag=skip_bytes,count_bytes skip=%d count=%d", pid, uint64(addr), uint(size))
}

func writeScript(pid process.ProcessID, addr process.ProcessMemoryAddress, size int) string {
	return guard(pid) + fmt.Sprintf("dd of=/proc/%d/mem bs=%d count=1 iflag=fullblock oflag=seek_bytes conv=notrunc status=none seek=%d", pid, size, uint64(addr))
}

func mapsScript(pid process.ProcessID) string {
	return guard(pid) + fmt.Sprintf("cat /proc/%d/maps", pid)
}

func (m *Memory) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

// ReadMemory reads size bytes at addr. dd stops at the first unmapped page,
// so a short result is reported as a partial read.
func (m *Memory) ReadMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if pid <= 0 {
		return nil, process.ErrProcessNotOpen
	}
	if size == 0 {
		return []byte{}, nil
	}

	ctx, cancel := m.context()
	defer cancel()

	out, err := m.ch.Run(ctx, readScript(pid, addr, size), nil)
	if err != nil {
		// dd fails once it hits an unmapped page but keeps what it copied
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code == exitProcessGone || len(exitErr.Stdout) == 0 {
			return nil, classify(err, process.ErrAddressNotMapped)
		}
		out = exitErr.Stdout
	}

	if len(out) == 0 {
		return nil, process.ErrAddressNotMapped
	}
	if len(out) < int(size) {
		return out, fmt.Errorf("partial read: %d of %d bytes: %w", len(out), size, process.ErrAddressNotMapped)
	}
	return out[:size], nil
}

// WriteMemory writes data at addr by piping it into dd
func (m *Memory) WriteMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, data []byte) error {
	if pid <= 0 {
		return process.ErrProcessNotOpen
	}
	if len(data) == 0 {
		return nil
	}

	ctx, cancel := m.context()
	defer cancel()

	if _, err := m.ch.Run(ctx, writeScript(pid, addr, len(data)), data); err != nil {
		m.log.Debugln("write failed at", addr.ToString(), err)
		return classify(err, process.ErrAddressNotMapped)
	}
	return nil
}

// ReadMaps returns /proc/<pid>/maps
func (m *Memory) ReadMaps(pid process.ProcessID) ([]byte, error) {
	ctx, cancel := m.context()
	defer cancel()

	out, err := m.ch.Run(ctx, mapsScript(pid), nil)
	if err != nil {
		return nil, classify(err, process.ErrPermissionDenied)
	}
	return out, nil
}
