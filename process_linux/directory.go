//go:build linux

package process_linux

import (
	"strings"

	"memhunt/process"

	ps "github.com/shirou/gopsutil/v3/process"
)

// Directory lists processes through gopsutil
type Directory struct{}

var _ process.Directory = Directory{}

// Processes returns the listable processes with their resident memory.
// Processes that exit mid-listing are skipped.
func (Directory) Processes() ([]process.ProcessInfo, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	var results []process.ProcessInfo
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		cmdline = strings.TrimSpace(cmdline)
		if !process.IsListable(cmdline) {
			continue
		}

		info := process.ProcessInfo{PID: process.ProcessID(p.Pid), Name: cmdline}
		if mem, err := p.MemoryInfo(); err == nil {
			info.MemoryKB = mem.RSS / 1024
		}
		results = append(results, info)
	}

	return results, nil
}

// IsRunning reports whether pid still exists
func (Directory) IsRunning(pid process.ProcessID) bool {
	exists, err := ps.PidExists(int32(pid))
	return err == nil && exists
}
