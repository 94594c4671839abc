package process

import (
	"sort"
	"strings"
)

// Memory is the privileged capability every backend provides. Calls are
// stateless per pid; implementations must be safe for concurrent use.
type Memory interface {
	// ReadMemory reads size bytes at addr. A short read returns the bytes
	// that were read together with an error.
	ReadMemory(pid ProcessID, addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data at addr.
	WriteMemory(pid ProcessID, addr ProcessMemoryAddress, data []byte) error

	// ReadMaps returns the raw memory-map descriptor of the process
	// (the contents of /proc/<pid>/maps).
	ReadMaps(pid ProcessID) ([]byte, error)
}

// Directory lists running processes
type Directory interface {
	// Processes returns the currently running processes
	Processes() ([]ProcessInfo, error)

	// IsRunning reports whether pid is still alive
	IsRunning(pid ProcessID) bool
}

// FindByName returns the processes in dir named name, lowest pid first.
// A name also matches the first word of a longer command line.
func FindByName(dir Directory, name string) ([]ProcessInfo, error) {
	all, err := dir.Processes()
	if err != nil {
		return nil, err
	}

	var out []ProcessInfo
	for _, p := range all {
		first, _, _ := strings.Cut(p.Name, " ")
		if p.Name == name || first == name {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}
