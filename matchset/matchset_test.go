package matchset

import (
	"sync"
	"testing"

	"memhunt/codec"
	"memhunt/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMatches(pid process.ProcessID, n int, tag int64) []Match {
	out := make([]Match, n)
	for i := range out {
		out[i] = NewMatch(pid, process.ProcessMemoryAddress(0x1000+4*i), codec.IntNumber(codec.Int32, tag), nil)
	}
	return out
}

func TestNewMatch(t *testing.T) {
	m := NewMatch(5, 0x2000, codec.FloatNumber(codec.Float64, 1.5), nil)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, codec.Float64, m.Type)
	assert.Equal(t, uint32(8), m.Size)

	n := m.WithValue(codec.FloatNumber(codec.Float64, 2.5))
	assert.Equal(t, m.ID, n.ID)
	assert.Equal(t, m.Address, n.Address)
	assert.Equal(t, 1.5, m.Value.Float())
	assert.Equal(t, 2.5, n.Value.Float())
}

func TestReplaceSnapshotClear(t *testing.T) {
	s := New()
	assert.True(t, s.IsEmpty())

	in := makeMatches(1, 10, 7)
	s.Replace(in)
	in[0].Address = 0xdead // caller keeps ownership of its slice

	assert.Equal(t, 10, s.Len())
	snap := s.Snapshot(3)
	require.Len(t, snap, 3)
	assert.Equal(t, process.ProcessMemoryAddress(0x1000), snap[0].Address)
	assert.Len(t, s.Snapshot(100), 10)
	assert.Len(t, s.All(), 10)

	snap[1].Address = 0xbeef
	assert.Equal(t, process.ProcessMemoryAddress(0x1004), s.Snapshot(2)[1].Address)

	s.Clear()
	assert.True(t, s.IsEmpty())
	assert.Empty(t, s.Snapshot(5))
}

func TestPID(t *testing.T) {
	s := New()
	pid, ok := s.PID()
	assert.Equal(t, process.ProcessID(0), pid)
	assert.True(t, ok)

	s.Replace(makeMatches(9, 2, 0))
	pid, ok = s.PID()
	assert.Equal(t, process.ProcessID(9), pid)
	assert.True(t, ok)

	s.Replace(append(makeMatches(9, 1, 0), makeMatches(10, 1, 0)...))
	_, ok = s.PID()
	assert.False(t, ok)
}

func TestReplaceIsAtomic(t *testing.T) {
	s := New()
	oldSet := makeMatches(1, 500, 1)
	newSet := makeMatches(1, 700, 2)
	s.Replace(oldSet)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				s.Replace(newSet)
			} else {
				s.Replace(oldSet)
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}

		snap := s.All()
		require.True(t, len(snap) == 500 || len(snap) == 700)
		want := snap[0].Value.Int()
		for _, m := range snap {
			require.Equal(t, want, m.Value.Int(), "snapshot mixes result sets")
		}
	}
}

func TestReplaceIfDetectsChanges(t *testing.T) {
	s := New()
	s.Replace(makeMatches(1, 3, 7))

	loaded, gen := s.Load()
	require.Len(t, loaded, 3)

	s.Clear()
	assert.False(t, s.ReplaceIf(gen, loaded), "a clear in between must win")
	assert.True(t, s.IsEmpty())

	_, gen = s.Load()
	assert.True(t, s.ReplaceIf(gen, loaded))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.ReplaceIf(gen, nil), "generation advanced with the replace")
	assert.Equal(t, 3, s.Len())
}
