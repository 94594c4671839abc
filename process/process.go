// Package process holds the types shared by every memory backend: addresses,
// process identities, the backend interfaces and the error taxonomy.
package process

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an attached process is attempted
	// before a process has been attached or after it has been detached.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrProcessGone is returned when the target process no longer exists.
	ErrProcessGone = errors.New("process is gone")

	// ErrPermissionDenied is returned when the kernel refuses access to the target process.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrChannelUnavailable is returned when the privileged command channel cannot run commands.
	ErrChannelUnavailable = errors.New("privileged channel unavailable")

	// ErrStaleAddress marks state that belongs to a process other than the attached one.
	ErrStaleAddress = errors.New("address belongs to a different process")
)

// ProcessAccessError means the target process could not be read at all.
type ProcessAccessError struct {
	PID ProcessID
	Err error
}

func (e *ProcessAccessError) Error() string {
	return fmt.Sprintf("process %d not accessible: %v", e.PID, e.Err)
}

func (e *ProcessAccessError) Unwrap() error { return e.Err }

// InvalidCriteriaError is returned for malformed scan literals, operators or type tags.
type InvalidCriteriaError struct {
	Input  string
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid criteria %q: %s", e.Input, e.Reason)
}

// ScanAbortedError means a scan could not complete at all. Partial region
// failures never produce it.
type ScanAbortedError struct {
	PID ProcessID
	Err error
}

func (e *ScanAbortedError) Error() string {
	return fmt.Sprintf("scan of process %d aborted: %v", e.PID, e.Err)
}

func (e *ScanAbortedError) Unwrap() error { return e.Err }

// WriteFailure records one failed write attempt against a single address.
type WriteFailure struct {
	PID     ProcessID
	Address ProcessMemoryAddress
	Err     error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write to %s in process %d failed: %v", e.Address.ToString(), e.PID, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// IsProcessGone reports whether err says the target process has exited.
func IsProcessGone(err error) bool {
	return errors.Is(err, ErrProcessGone)
}
