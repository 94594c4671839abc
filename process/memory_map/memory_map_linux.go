//go:build linux

package memory_map

import (
	"fmt"
	"os"

	"memhunt/process"
)

// LinuxMemoryMap reads /proc/<pid>/maps directly
type LinuxMemoryMap struct{}

// NewLinuxMemoryMap creates a new LinuxMemoryMap instance
func NewLinuxMemoryMap() *LinuxMemoryMap {
	return &LinuxMemoryMap{}
}

// ReadMaps returns the contents of /proc/<pid>/maps
func (l *LinuxMemoryMap) ReadMaps(pid process.ProcessID) ([]byte, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("read maps: %w", process.ErrProcessGone)
		case os.IsPermission(err):
			return nil, fmt.Errorf("read maps: %w", process.ErrPermissionDenied)
		}
		return nil, err
	}
	return data, nil
}

