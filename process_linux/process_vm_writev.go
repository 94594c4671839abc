//go:build linux

package process_linux

import (
	"unsafe"

	"memhunt/process"

	"golang.org/x/sys/unix"
)

// process_vm_writev writes localBuf to remoteAddr and returns the byte count
// the kernel accepted. Read-only mappings fail with EFAULT, not EPERM.
func process_vm_writev(
	pid process.ProcessID,
	remoteAddr process.ProcessMemoryAddress,
	localBuf []byte,
) (int, error) {
	localIov := unix.Iovec{Base: &localBuf[0]}
	localIov.SetLen(len(localBuf))

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&localIov)),
		uintptr(1),
		uintptr(unsafe.Pointer(&remoteIov)),
		uintptr(1),
		uintptr(0),
	)

	if errno != 0 {
		return 0, mapErrno(errno)
	}

	return int(n), nil
}
