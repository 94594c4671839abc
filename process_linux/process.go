//go:build linux

package process_linux

import (
	"errors"
	"fmt"

	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/unix"
)

// LinuxMemory reaches other processes with process_vm_readv/process_vm_writev.
// It keeps no per-process state, so one value serves every attach.
type LinuxMemory struct {
	log  *logger.Logger
	maps *memory_map.LinuxMemoryMap
}

var _ process.Memory = (*LinuxMemory)(nil)

// New creates the syscall-backed memory channel
func New() *LinuxMemory {
	return &LinuxMemory{
		log:  logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-vm")),
		maps: memory_map.NewLinuxMemoryMap(),
	}
}

// ReadMemory reads size bytes at addr in pid
func (p *LinuxMemory) ReadMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if pid <= 0 {
		return nil, process.ErrProcessNotOpen
	}
	if size == 0 {
		return []byte{}, nil
	}

	data, err := process_vm_readv(pid, addr, size)
	if err != nil {
		return data, fmt.Errorf("process_vm_readv %s: %w", addr.ToString(), err)
	}
	return data, nil
}

// WriteMemory writes data at addr in pid. A short write is an error.
func (p *LinuxMemory) WriteMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, data []byte) error {
	if pid <= 0 {
		return process.ErrProcessNotOpen
	}
	if len(data) == 0 {
		return nil
	}

	// the caller may reuse data while the syscall runs
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	written, err := process_vm_writev(pid, addr, dataCopy)
	if err != nil {
		return fmt.Errorf("process_vm_writev %s: %w", addr.ToString(), err)
	}

	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes at %s", written, len(data), addr.ToString())
	}

	return nil
}

// ReadMaps returns /proc/<pid>/maps
func (p *LinuxMemory) ReadMaps(pid process.ProcessID) ([]byte, error) {
	return p.maps.ReadMaps(pid)
}

// mapErrno folds the errno values process_vm_* report into the process errors
func mapErrno(errno unix.Errno) error {
	switch {
	case errors.Is(errno, unix.ESRCH):
		return fmt.Errorf("%w (%s)", process.ErrProcessGone, errno.Error())
	case errors.Is(errno, unix.EFAULT), errors.Is(errno, unix.EIO):
		return fmt.Errorf("%w (%s)", process.ErrAddressNotMapped, errno.Error())
	case errors.Is(errno, unix.EPERM), errors.Is(errno, unix.EACCES):
		return fmt.Errorf("%w (%s)", process.ErrPermissionDenied, errno.Error())
	}
	return fmt.Errorf("%s (errno: %d)", errno.Error(), errno)
}
