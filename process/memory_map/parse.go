package memory_map

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"memhunt/process"
)

// MapsSource yields the raw memory-map descriptor of a process
type MapsSource interface {
	ReadMaps(pid process.ProcessID) ([]byte, error)
}

// Enumerate reads and classifies every mapped region of pid. The list is
// sorted by start address and freshly allocated on every call.
func Enumerate(src MapsSource, pid process.ProcessID) ([]MemoryRegion, error) {
	data, err := src.ReadMaps(pid)
	if err != nil {
		return nil, &process.ProcessAccessError{PID: pid, Err: err}
	}

	regions, err := ParseMemoryMap(bytes.NewReader(data))
	if err != nil {
		return nil, &process.ProcessAccessError{PID: pid, Err: err}
	}

	return regions, nil
}

// ParseMemoryMap parses the /proc/<pid>/maps format. Malformed lines are skipped.
func ParseMemoryMap(r io.Reader) ([]MemoryRegion, error) {
	var memoryMap []MemoryRegion
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		region, ok := ParseMapLine(scanner.Text())
		if !ok {
			continue
		}
		memoryMap = append(memoryMap, region)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// FindRegion requires the memory map to be sorted by address
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Start < memoryMap[j].Start
	})

	return memoryMap, nil
}

// ParseMapLine parses a single maps line, e.g.
//
//	7f2c4e600000-7f2c4e621000 rw-p 00000000 00:00 0          [heap]
func ParseMapLine(line string) (MemoryRegion, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return MemoryRegion{}, false
	}

	// Parse address range (e.g., "00400000-0040b000")
	addrRange := strings.Split(fields[0], "-")
	if len(addrRange) != 2 {
		return MemoryRegion{}, false
	}

	startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return MemoryRegion{}, false
	}

	endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil || endAddr <= startAddr {
		return MemoryRegion{}, false
	}

	perms := fields[1]

	// The path is everything after the inode column and may contain spaces
	var path string
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}

	return MemoryRegion{
		Start:    startAddr,
		End:      endAddr,
		Perms:    perms,
		Path:     path,
		Category: Classify(perms, path),
	}, true
}
