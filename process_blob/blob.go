// Package process_blob provides an in-memory process.Memory. It backs loaded
// dumps and stands in for a live process in tests.
package process_blob

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"memhunt/process"
	"memhunt/process/memory_map"
)

// Memory holds the regions of one (possibly imaginary) process
type Memory struct {
	mu         sync.RWMutex
	pid        process.ProcessID
	name       string
	regions    []memory_map.MemoryRegion
	blobs      map[uint64][]byte // region start -> data
	gone       bool
	failWrites int
	writes     int
}

var _ process.Memory = (*Memory)(nil)

// NewMemory creates an empty address space for pid
func NewMemory(pid process.ProcessID, name string) *Memory {
	return &Memory{
		pid:   pid,
		name:  name,
		blobs: make(map[uint64][]byte),
	}
}

func (m *Memory) PID() process.ProcessID { return m.pid }

func (m *Memory) Name() string { return m.name }

// AddRegion maps region with the given contents. data is zero-padded or
// truncated to the region size; nil means all zeroes.
func (m *Memory) AddRegion(region memory_map.MemoryRegion, data []byte) {
	if region.Category == memory_map.CategoryOther {
		region.Category = memory_map.Classify(region.Perms, region.Path)
	}

	buf := make([]byte, region.Size())
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.regions = append(m.regions, region)
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].Start < m.regions[j].Start
	})
	m.blobs[region.Start] = buf
}

// Unmap drops the contents of the region starting at start while leaving it
// in the maps listing, like a mapping that vanished after it was enumerated.
func (m *Memory) Unmap(start uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, start)
}

// Kill makes every later call fail with process.ErrProcessGone
func (m *Memory) Kill() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone = true
}

// FailWrites makes the next n writes fail
func (m *Memory) FailWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = n
}

// Writes returns how many writes have succeeded so far
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Regions returns a copy of the mapped regions
func (m *Memory) Regions() []memory_map.MemoryRegion {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]memory_map.MemoryRegion, len(m.regions))
	copy(result, m.regions)
	return result
}

func (m *Memory) check(pid process.ProcessID) error {
	if m.gone || pid != m.pid {
		return process.ErrProcessGone
	}
	return nil
}

// ReadMemory copies size bytes at addr. A read running past the end of the
// region returns the bytes up to the end plus an error.
func (m *Memory) ReadMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(pid); err != nil {
		return nil, err
	}

	region := memory_map.FindRegion(uint64(addr), m.regions)
	if region == nil {
		return nil, process.ErrAddressNotMapped
	}

	data, ok := m.blobs[region.Start]
	if !ok {
		return nil, process.ErrAddressNotMapped
	}

	if !region.IsReadable() {
		return nil, process.ErrPermissionDenied
	}

	offset := uint64(addr) - region.Start
	end := offset + uint64(size)
	if end > uint64(len(data)) {
		partial := make([]byte, uint64(len(data))-offset)
		copy(partial, data[offset:])
		return partial, fmt.Errorf("partial read: %d of %d bytes", len(partial), size)
	}

	result := make([]byte, size)
	copy(result, data[offset:end])
	return result, nil
}

// WriteMemory writes data at addr. The target region must be writable and
// large enough.
func (m *Memory) WriteMemory(pid process.ProcessID, addr process.ProcessMemoryAddress, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(pid); err != nil {
		return err
	}

	if m.failWrites > 0 {
		m.failWrites--
		return fmt.Errorf("injected write failure at %s", addr.ToString())
	}

	region := memory_map.FindRegion(uint64(addr), m.regions)
	if region == nil {
		return process.ErrAddressNotMapped
	}

	blob, ok := m.blobs[region.Start]
	if !ok {
		return process.ErrAddressNotMapped
	}

	if !region.IsWritable() {
		return fmt.Errorf("memory region at %s: %w", addr.ToString(), process.ErrPermissionDenied)
	}

	offset := uint64(addr) - region.Start
	if offset+uint64(len(data)) > uint64(len(blob)) {
		return fmt.Errorf("write of %d bytes at %s crosses the region end", len(data), addr.ToString())
	}

	copy(blob[offset:], data)
	m.writes++
	return nil
}

// ReadMaps renders the regions in /proc/<pid>/maps format
func (m *Memory) ReadMaps(pid process.ProcessID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(pid); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, r := range m.regions {
		fmt.Fprintf(&buf, "%x-%x %s 00000000 00:00 0", r.Start, r.End, r.Perms)
		if r.Path != "" {
			fmt.Fprintf(&buf, "          %s", r.Path)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

var _ process.Directory = (*Memory)(nil)

// Processes lists the one process this address space belongs to, so a
// loaded dump can stand in for the live process directory.
func (m *Memory) Processes() ([]process.ProcessInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.gone {
		return nil, nil
	}
	var total uint64
	for _, data := range m.blobs {
		total += uint64(len(data))
	}
	return []process.ProcessInfo{{PID: m.pid, Name: m.name, MemoryKB: total / 1024}}, nil
}

func (m *Memory) IsRunning(pid process.ProcessID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.gone && pid == m.pid
}
