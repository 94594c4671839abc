package editor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"memhunt/codec"
	"memhunt/freeze"
	"memhunt/gateway"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"
	"memhunt/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pid = 31

type fixture struct {
	mem *process_blob.Memory
	gw  *gateway.Gateway
	fz  *freeze.Supervisor
	ed  *Editor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := process_blob.NewMemory(pid, "game")
	mem.AddRegion(memory_map.MemoryRegion{Start: 0x50000, End: 0x51000, Perms: "rw-p", Path: "[heap]"}, nil)
	mem.AddRegion(memory_map.MemoryRegion{Start: 0x60000, End: 0x61000, Perms: "r--p", Path: "/data/app/base.apk"}, nil)

	gw := gateway.New(mem)
	fz := freeze.New(gw, freeze.WithDefaultInterval(5*time.Millisecond))
	t.Cleanup(fz.Close)

	return &fixture{mem: mem, gw: gw, fz: fz, ed: New(gw, fz, 0)}
}

func match(addr process.ProcessMemoryAddress, t codec.ValueType) matchset.Match {
	return matchset.NewMatch(pid, addr, codec.IntNumber(t, 0), nil)
}

func TestAddSkipsDuplicates(t *testing.T) {
	f := newFixture(t)
	a := match(0x50000, codec.Int32)

	assert.Equal(t, 2, f.ed.Add(a, match(0x50004, codec.Int32)))
	assert.Equal(t, 0, f.ed.Add(match(0x50000, codec.Int32)))
	assert.Equal(t, 2, f.ed.Len())

	e, ok := f.ed.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.Address, e.Match.Address)
	assert.False(t, e.IsFrozen)
}

func TestWriteAllCollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := match(0x50010, codec.Int32)
	readOnly := match(0x60010, codec.Int32)
	long := match(0x50020, codec.Int64)
	f.ed.Add(good, readOnly, long)

	result, err := f.ed.WriteAll(ctx, "250")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, readOnly.Address, result.Failed[0].Address)
	assert.ErrorIs(t, result.Err(), process.ErrPermissionDenied)

	assert.Equal(t, int64(250), f.gw.ReadValue(ctx, pid, 0x50010, codec.Int32).Int())
	assert.Equal(t, int64(250), f.gw.ReadValue(ctx, pid, 0x50020, codec.Int64).Int())

	e, _ := f.ed.Get(good.ID)
	assert.Equal(t, int64(250), e.Match.Value.Int())
}

func TestWriteAllRejectsBadLiteral(t *testing.T) {
	f := newFixture(t)
	f.ed.Add(match(0x50010, codec.Int32))

	_, err := f.ed.WriteAll(context.Background(), "12.5")
	var ce *process.InvalidCriteriaError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, f.mem.Writes())
}

func TestWriteSelected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := match(0x50000, codec.Int32), match(0x50004, codec.Int32)
	f.ed.Add(a, b)

	require.NoError(t, f.ed.Write(ctx, b.ID, "9"))
	assert.Equal(t, int64(0), f.gw.ReadValue(ctx, pid, a.Address, codec.Int32).Int())
	assert.Equal(t, int64(9), f.gw.ReadValue(ctx, pid, b.Address, codec.Int32).Int())

	assert.ErrorIs(t, f.ed.Write(ctx, "missing", "1"), ErrEntryNotFound)
}

func TestFreezeAllAndUnfreezeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := match(0x50000, codec.Int32), match(0x50008, codec.Float64)
	f.ed.Add(a, b)

	result, err := f.ed.FreezeAll("77")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, f.fz.Len())

	for _, e := range f.ed.Entries() {
		assert.True(t, e.IsFrozen)
		assert.True(t, f.fz.IsActive(e.FreezeID))
		assert.Equal(t, "77", e.FrozenValue)
	}

	require.Eventually(t, func() bool {
		return f.gw.ReadValue(ctx, pid, 0x50008, codec.Float64).Float() == 77
	}, time.Second, time.Millisecond)

	// re-freezing replaces the running task
	_, err = f.ed.FreezeAll("78", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.fz.Len())

	assert.Equal(t, 2, f.ed.UnfreezeAll())
	assert.Zero(t, f.fz.Len())
	for _, e := range f.ed.Entries() {
		assert.False(t, e.IsFrozen)
		assert.Empty(t, e.FreezeID)
	}
}

func TestSyncFreezeStateAfterSelfTermination(t *testing.T) {
	f := newFixture(t)
	a := match(0x50000, codec.Int32)
	f.ed.Add(a)

	require.NoError(t, f.ed.Freeze(a.ID, "5"))
	f.mem.Kill()

	e, _ := f.ed.Get(a.ID)
	require.Eventually(t, func() bool { return !f.fz.IsActive(e.FreezeID) }, time.Second, time.Millisecond)

	assert.Equal(t, 1, f.ed.SyncFreezeState())
	e, _ = f.ed.Get(a.ID)
	assert.False(t, e.IsFrozen)
	assert.Equal(t, 0, f.ed.SyncFreezeState())
}

func TestSyncFreezeStatePicksUpExternalFreeze(t *testing.T) {
	f := newFixture(t)
	a := match(0x50000, codec.Int32)
	f.ed.Add(a)

	id, err := f.fz.Start(pid, a.Address, "3", codec.Int32, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, f.ed.SyncFreezeState())
	e, _ := f.ed.Get(a.ID)
	assert.True(t, e.IsFrozen)
	assert.Equal(t, id, e.FreezeID)
	assert.Equal(t, "3", e.FrozenValue)
}

func TestRemoveClearAndDropForeign(t *testing.T) {
	f := newFixture(t)
	a, b := match(0x50000, codec.Int32), match(0x50004, codec.Int32)
	other := matchset.NewMatch(pid+1, 0x50000, codec.IntNumber(codec.Int32, 0), nil)
	f.ed.Add(a, b, other)

	require.NoError(t, f.ed.Freeze(a.ID, "1"))
	assert.Equal(t, 1, f.ed.Remove(a.ID))
	assert.Zero(t, f.fz.Len())

	assert.Equal(t, 1, f.ed.DropForeign(pid))
	entries := f.ed.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].Match.ID)

	require.NoError(t, f.ed.Freeze(b.ID, "1"))
	assert.Equal(t, 1, f.ed.Clear())
	assert.Zero(t, f.ed.Len())
	assert.Zero(t, f.fz.Len())

	assert.ErrorIs(t, f.ed.Unfreeze("missing"), ErrEntryNotFound)
	assert.ErrorIs(t, f.ed.Freeze("missing", "1"), ErrEntryNotFound)
}

func TestSaveLoadTable(t *testing.T) {
	f := newFixture(t)
	a := matchset.NewMatch(pid, 0x50010, codec.IntNumber(codec.Int32, -4), nil)
	b := matchset.NewMatch(pid, 0x50020, codec.FloatNumber(codec.Float32, 2.5), nil)
	f.ed.Add(a, b)
	require.NoError(t, f.ed.Freeze(b.ID, "2.5"))

	path := filepath.Join(t.TempDir(), "tables", "game.yaml")
	require.NoError(t, f.ed.Save(path))

	other := newFixture(t)
	n, err := other.ed.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := other.ed.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, a.ID, entries[0].Match.ID)
	assert.Equal(t, process.ProcessMemoryAddress(0x50010), entries[0].Match.Address)
	assert.Equal(t, int64(-4), entries[0].Match.Value.Int())
	assert.Equal(t, codec.Float32, entries[1].Match.Type)
	assert.Equal(t, uint32(4), entries[1].Match.Size)
	assert.Equal(t, 2.5, entries[1].Match.Value.Float())
	assert.False(t, entries[1].IsFrozen)

	n, err = other.ed.Load(path)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = other.ed.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
