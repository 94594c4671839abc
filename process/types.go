package process

import "strings"

// ProcessID represents a unique identifier for a process
type ProcessID int

// ProcessInfo is one row of the running-process listing
type ProcessInfo struct {
	PID      ProcessID // Process ID
	Name     string    // Display name, taken from the command line
	MemoryKB uint64    // Resident set size in KB
}

// IsListable reports whether a command line belongs in the process listing.
// Kernel threads (bracketed or empty) and bare binaries invoked by path are
// left out, leaving app processes.
func IsListable(cmdline string) bool {
	if cmdline == "" {
		return false
	}
	return !strings.ContainsAny(cmdline, "/[")
}
