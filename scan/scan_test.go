package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"memhunt/codec"
	"memhunt/gateway"
	"memhunt/matchset"
	"memhunt/process"
	"memhunt/process/memory_map"
	"memhunt/process_blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPID = 4242

var (
	heapRegion = memory_map.MemoryRegion{Start: 0x10000, End: 0x11000, Perms: "rw-p", Path: "[heap]"}
	anonRegion = memory_map.MemoryRegion{Start: 0x20000, End: 0x20100, Perms: "rw-p"}
	codeRegion = memory_map.MemoryRegion{Start: 0x30000, End: 0x31000, Perms: "---p", Path: "/system/lib64/libc.so"}
)

type fixture struct {
	mem     *process_blob.Memory
	gw      *gateway.Gateway
	regions []memory_map.MemoryRegion
}

func newFixture(t *testing.T, heap, anon []byte) *fixture {
	t.Helper()
	mem := process_blob.NewMemory(testPID, "game")
	mem.AddRegion(heapRegion, heap)
	mem.AddRegion(anonRegion, anon)
	mem.AddRegion(codeRegion, nil)

	regions, err := memory_map.Enumerate(mem, testPID)
	require.NoError(t, err)
	return &fixture{mem: mem, gw: gateway.New(mem), regions: regions}
}

func (f *fixture) engine(options ...Option) *Engine {
	return New(f.gw, options...)
}

func putInt32(buf []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(v))
}

func addresses(matches []matchset.Match) []process.ProcessMemoryAddress {
	out := make([]process.ProcessMemoryAddress, len(matches))
	for i, m := range matches {
		out[i] = m.Address
	}
	return out
}

func TestScanFindsWrittenValue(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x100, 1337)
	putInt32(heap, 0xFFC, 1337) // last aligned slot
	putInt32(heap, 0x201, 1337) // unaligned, never found
	anon := make([]byte, anonRegion.Size())
	putInt32(anon, 0x10, 1337)

	f := newFixture(t, heap, anon)
	ctx := context.Background()

	for _, chunk := range []uint64{DefaultChunkSize, 64, 6} {
		matches, err := f.engine(WithChunkSize(chunk), WithWorkers(2)).Scan(ctx, testPID, "1337", codec.Int32, codec.OpEqual, f.regions)
		require.NoError(t, err)
		assert.Equal(t, []process.ProcessMemoryAddress{0x10100, 0x10FFC, 0x20010}, addresses(matches), "chunk %d", chunk)
	}
}

func TestScanRecordsMatchDetails(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	binary.LittleEndian.PutUint64(heap[0x40:], math.Float64bits(12.75))
	f := newFixture(t, heap, nil)

	matches, err := f.engine().Scan(context.Background(), testPID, "12.75", codec.Float64, codec.OpEqual, f.regions)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, process.ProcessID(testPID), m.PID)
	assert.Equal(t, uint32(8), m.Size)
	assert.Equal(t, 12.75, m.Value.Float())
	require.NotNil(t, m.Region)
	assert.Equal(t, memory_map.CategoryHeap, m.Region.Category)
	assert.True(t, m.Region.Contains(uint64(m.Address)))
}

func TestScanOperators(t *testing.T) {
	heap := make([]byte, 16)
	putInt32(heap, 0, 5)
	putInt32(heap, 4, 10)
	putInt32(heap, 8, 15)
	putInt32(heap, 12, -1)
	f := newFixture(t, heap, nil)
	regions := memory_map.SelectRegions(f.regions, []memory_map.Category{memory_map.CategoryHeap}, "")

	matches, err := f.engine().Scan(context.Background(), testPID, "10", codec.Int32, codec.OpGreaterEqual, regions)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10004, 0x10008}, addresses(matches))
}

func TestFloatEqualityIsExact(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	binary.LittleEndian.PutUint32(heap[0:], math.Float32bits(0.1))
	binary.LittleEndian.PutUint32(heap[4:], math.Float32bits(0.1000001))
	f := newFixture(t, heap, nil)

	matches, err := f.engine().Scan(context.Background(), testPID, "0.1", codec.Float32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10000}, addresses(matches))
}

func TestFilterNarrows(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x10, 100)
	putInt32(heap, 0x20, 100)
	putInt32(heap, 0x30, 100)
	f := newFixture(t, heap, nil)
	e := f.engine()
	ctx := context.Background()

	first, err := e.Scan(ctx, testPID, "100", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	require.Len(t, first, 3)

	require.NoError(t, f.gw.Write(ctx, testPID, 0x10010, codec.Int32, "95"))
	require.NoError(t, f.gw.Write(ctx, testPID, 0x10030, codec.Int32, "95"))

	next, err := e.Filter(ctx, first, "95", codec.OpEqual)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10010, 0x10030}, addresses(next))
	assert.LessOrEqual(t, len(next), len(first))

	assert.Equal(t, first[0].ID, next[0].ID)
	assert.Equal(t, first[2].ID, next[1].ID)
	assert.Equal(t, int64(95), next[0].Value.Int())
	assert.Equal(t, int64(100), first[0].Value.Int())

	decreased, err := e.Filter(ctx, next, "95", codec.OpLess)
	require.NoError(t, err)
	assert.Empty(t, decreased)
}

func TestFilterDropsUnreadable(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x10, 7)
	anon := make([]byte, anonRegion.Size())
	putInt32(anon, 0x10, 7)
	f := newFixture(t, heap, anon)
	e := f.engine()
	ctx := context.Background()

	first, err := e.Scan(ctx, testPID, "7", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	require.Len(t, first, 2)

	f.mem.Unmap(anonRegion.Start)
	next, err := e.Filter(ctx, first, "7", codec.OpEqual)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10010}, addresses(next))
}

func TestRangeScan(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x0, 30)
	putInt32(heap, 0x4, 60)
	putInt32(heap, 0x8, 10)
	putInt32(heap, 0xC, 50)
	f := newFixture(t, heap, nil)
	e := f.engine()
	ctx := context.Background()

	c, err := ParseCriteria("10..50")
	require.NoError(t, err)
	require.Equal(t, KindRange, c.Kind)

	first, err := e.ScanRange(ctx, testPID, c.Low, c.High, codec.Int32, f.regions)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10000, 0x10008, 0x1000C}, addresses(first))

	require.NoError(t, f.gw.Write(ctx, testPID, 0x10008, codec.Int32, "60"))
	next, err := e.FilterRange(ctx, first, "20", "50")
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10000, 0x1000C}, addresses(next))
}

func TestGroupScan(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	// the record
	putInt32(heap, 0x100, 10)
	putInt32(heap, 0x104, 20)
	putInt32(heap, 0x108, 30)
	// permuted, must not match
	putInt32(heap, 0x200, 20)
	putInt32(heap, 0x204, 10)
	putInt32(heap, 0x208, 30)
	// a prefix only
	putInt32(heap, 0x300, 10)
	putInt32(heap, 0x304, 20)
	f := newFixture(t, heap, nil)
	ctx := context.Background()

	for _, chunk := range []uint64{DefaultChunkSize, 0x104} {
		matches, err := f.engine(WithChunkSize(chunk)).ScanGroup(ctx, testPID, "10;20;30:4", codec.Int32, codec.OpEqual, f.regions)
		require.NoError(t, err)
		require.Equal(t, []process.ProcessMemoryAddress{0x10100}, addresses(matches), "chunk %#x", chunk)
		assert.Equal(t, int64(10), matches[0].Value.Int())
	}
}

func TestGroupScanWideStride(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x40, 1)
	putInt32(heap, 0x50, 2)
	putInt32(heap, 0xFF8, 1) // second value would sit past the region end
	f := newFixture(t, heap, nil)

	matches, err := f.engine().ScanGroup(context.Background(), testPID, "1;2:16", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10040}, addresses(matches))
}

func TestFilterGroup(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	for _, base := range []int{0x100, 0x200} {
		putInt32(heap, base, 10)
		putInt32(heap, base+4, 20)
	}
	f := newFixture(t, heap, nil)
	e := f.engine()
	ctx := context.Background()

	first, err := e.ScanGroup(ctx, testPID, "10;20:4", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	require.Len(t, first, 2)

	putInt32(heap, 0x200+4, 21)
	require.NoError(t, f.gw.WriteBytes(ctx, testPID, 0x10204, heap[0x204:0x208]))

	next, err := e.FilterGroup(ctx, first, "10;21:4", codec.OpEqual)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10200}, addresses(next))
}

func TestUnreadableRegionsAreSkipped(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x0, 9)
	anon := make([]byte, anonRegion.Size())
	putInt32(anon, 0x0, 9)
	f := newFixture(t, heap, anon)
	f.mem.Unmap(anonRegion.Start)

	matches, err := f.engine().Scan(context.Background(), testPID, "9", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{0x10000}, addresses(matches))
}

func TestEmptyRegionsYieldEmptyResult(t *testing.T) {
	f := newFixture(t, nil, nil)
	matches, err := f.engine().Scan(context.Background(), testPID, "1", codec.Int32, codec.OpEqual, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	narrowed, err := f.engine().Filter(context.Background(), nil, "1", codec.OpEqual)
	require.NoError(t, err)
	assert.Empty(t, narrowed)
}

func TestProcessGoneAbortsScan(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x0, 3)
	f := newFixture(t, heap, nil)
	e := f.engine()
	ctx := context.Background()

	first, err := e.Scan(ctx, testPID, "3", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)

	f.mem.Kill()

	_, err = e.Scan(ctx, testPID, "3", codec.Int32, codec.OpEqual, f.regions)
	var aborted *process.ScanAbortedError
	require.True(t, errors.As(err, &aborted))
	assert.True(t, process.IsProcessGone(err))

	_, err = e.Filter(ctx, first, "3", codec.OpEqual)
	assert.True(t, errors.As(err, &aborted))
}

func TestCancelledScan(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine().Scan(ctx, testPID, "0", codec.Int32, codec.OpEqual, f.regions)
	var aborted *process.ScanAbortedError
	require.True(t, errors.As(err, &aborted))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidCriteriaFailsBeforeReading(t *testing.T) {
	f := newFixture(t, nil, nil)
	e := f.engine()
	ctx := context.Background()
	var ce *process.InvalidCriteriaError

	_, err := e.Scan(ctx, testPID, "abc", codec.Int32, codec.OpEqual, f.regions)
	assert.True(t, errors.As(err, &ce))

	_, err = e.ScanRange(ctx, testPID, "1", "x", codec.Int32, f.regions)
	assert.True(t, errors.As(err, &ce))

	_, err = e.ScanGroup(ctx, testPID, "1;2:0", codec.Int32, codec.OpEqual, f.regions)
	assert.True(t, errors.As(err, &ce))

	matches := []matchset.Match{matchset.NewMatch(testPID, 0x10000, codec.IntNumber(codec.Int32, 0), nil)}
	_, err = e.Filter(ctx, matches, "1.5", codec.OpEqual)
	assert.True(t, errors.As(err, &ce))
}

func TestRefresh(t *testing.T) {
	heap := make([]byte, heapRegion.Size())
	putInt32(heap, 0x10, 1)
	anon := make([]byte, anonRegion.Size())
	putInt32(anon, 0x10, 1)
	f := newFixture(t, heap, anon)
	e := f.engine()
	ctx := context.Background()

	first, err := e.Scan(ctx, testPID, "1", codec.Int32, codec.OpEqual, f.regions)
	require.NoError(t, err)
	require.Len(t, first, 2)

	require.NoError(t, f.gw.Write(ctx, testPID, 0x10010, codec.Int32, "2"))
	f.mem.Unmap(anonRegion.Start)

	refreshed, err := e.Refresh(ctx, first)
	require.NoError(t, err)
	require.Len(t, refreshed, 1)
	assert.Equal(t, first[0].ID, refreshed[0].ID)
	assert.Equal(t, int64(2), refreshed[0].Value.Int())
}

func TestParseCriteria(t *testing.T) {
	for _, tc := range []struct {
		in   string
		kind Kind
	}{
		{"100", KindExact},
		{"-1.5", KindExact},
		{"10..50", KindRange},
		{"10;20;30:4", KindGroup},
		{"10;20", KindExact},
		{"1..2;3:4", KindGroup},
	} {
		c, err := ParseCriteria(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, c.Kind, tc.in)
	}

	_, err := ParseCriteria("  ")
	assert.Error(t, err)
	_, err = ParseCriteria("10..")
	assert.Error(t, err)
}

func TestParseGroup(t *testing.T) {
	g, err := ParseGroup("10;20;30:4", codec.Int32, codec.OpEqual)
	require.NoError(t, err)
	assert.Len(t, g.Values, 3)
	assert.Equal(t, uint64(4), g.Stride)
	assert.Equal(t, uint64(12), g.Span())

	g, err = ParseGroup("1;2:0x10", codec.Int64, codec.OpEqual)
	require.NoError(t, err)
	assert.Equal(t, uint64(24), g.Span())

	for _, bad := range []string{"10;20", "10:4", "10;x:4", "10;20:-4"} {
		_, err := ParseGroup(bad, codec.Int32, codec.OpEqual)
		assert.Error(t, err, bad)
	}
}
