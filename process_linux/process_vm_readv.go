//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"memhunt/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv reads bytesToRead bytes at remoteAddr into a fresh buffer.
// On a partial read the bytes that did arrive are returned with the error.
func process_vm_readv(
	pid process.ProcessID,
	remoteAddr process.ProcessMemoryAddress,
	bytesToRead process.ProcessMemorySize,
) ([]byte, error) {
	localBuf := make([]byte, bytesToRead)

	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(int(bytesToRead))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(bytesToRead),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0), // flags, unused
	)

	if errno != 0 {
		return nil, mapErrno(errno)
	}

	if int(n) != int(bytesToRead) {
		return localBuf[:n], fmt.Errorf("partial read: %d of %d bytes: %w", n, bytesToRead, process.ErrAddressNotMapped)
	}

	return localBuf, nil
}
