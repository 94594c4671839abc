// Package matchset is the shared, lock-guarded collection of current scan
// results.
package matchset

import (
	"sync"

	"memhunt/codec"
	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/google/uuid"
)

// Match is a located value
type Match struct {
	ID      string                       `json:"id"`
	PID     process.ProcessID            `json:"pid"`
	Address process.ProcessMemoryAddress `json:"address"`
	Value   codec.Number                 `json:"-"`
	Type    codec.ValueType              `json:"type"`
	Size    uint32                       `json:"size"`
	Region  *memory_map.MemoryRegion     `json:"region,omitempty"`
}

// NewMatch builds a Match with a fresh id
func NewMatch(pid process.ProcessID, addr process.ProcessMemoryAddress, value codec.Number, region *memory_map.MemoryRegion) Match {
	return Match{
		ID:      uuid.NewString(),
		PID:     pid,
		Address: addr,
		Value:   value,
		Type:    value.Type(),
		Size:    uint32(value.Type().Size()),
		Region:  region,
	}
}

// WithValue returns a copy of m carrying v; id, address and region stay.
func (m Match) WithValue(v codec.Number) Match {
	m.Value = v
	return m
}

// Set is safe for concurrent use. No method performs I/O while holding the lock.
// Every Replace and Clear advances the generation, so a writer that read the
// set earlier can tell whether it changed underneath it.
type Set struct {
	mu      sync.RWMutex
	matches []Match
	gen     uint64
}

func New() *Set {
	return &Set{}
}

// Replace swaps in a copy of matches as the whole new result set
func (s *Set) Replace(matches []Match) {
	next := make([]Match, len(matches))
	copy(next, matches)

	s.mu.Lock()
	s.matches = next
	s.gen++
	s.mu.Unlock()
}

// ReplaceIf replaces the set only if it is still at generation gen, as
// returned by Load. It reports whether the replace happened.
func (s *Set) ReplaceIf(gen uint64, matches []Match) bool {
	next := make([]Match, len(matches))
	copy(next, matches)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.matches = next
	s.gen++
	return true
}

// Load copies every match together with the current generation
func (s *Set) Load() ([]Match, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Match, len(s.matches))
	copy(out, s.matches)
	return out, s.gen
}

// Snapshot copies at most limit matches; limit <= 0 copies all of them.
func (s *Set) Snapshot(limit int) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.matches)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Match, n)
	copy(out, s.matches[:n])
	return out
}

// All is Snapshot without a limit
func (s *Set) All() []Match {
	return s.Snapshot(0)
}

func (s *Set) Clear() {
	s.mu.Lock()
	s.matches = nil
	s.gen++
	s.mu.Unlock()
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// PID returns the pid the matches belong to, or 0 for an empty set.
// The second result is false when the set mixes pids.
func (s *Set) PID() (process.ProcessID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.matches) == 0 {
		return 0, true
	}
	pid := s.matches[0].PID
	for _, m := range s.matches[1:] {
		if m.PID != pid {
			return pid, false
		}
	}
	return pid, true
}
