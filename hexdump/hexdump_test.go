package hexdump

import (
	"encoding/binary"
	"strings"
	"testing"

	"memhunt/process/memory_map"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain(base uint64) Options {
	opts := DefaultOptions(base)
	opts.Color = false
	return opts
}

func TestDumpLayout(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOPQR")
	out := String(data, plain(0x1000))

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t, "0000000000001000  41 42 43 44 45 46 47 48 | 49 4a 4b 4c 4d 4e 4f 50  |ABCDEFGH IJKLMNOP|", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0000000000001010  51 52"))
	assert.Equal(t, len(lines[0])-len("ABCDEFGH IJKLMNOP|")+len("QR|"), len(lines[1]), "short lines keep the ascii column aligned")
}

func TestDumpNonPrintableAndMaxLines(t *testing.T) {
	data := make([]byte, 64)
	data[0] = 0x07
	opts := plain(0)
	opts.MaxLines = 2

	out := String(data, opts)
	assert.Contains(t, out, "|........ ........|")
	assert.Contains(t, out, "... 32 more bytes")
}

func TestDumpColors(t *testing.T) {
	out := String([]byte{0, 1}, DefaultOptions(0))
	assert.Contains(t, out, "\033[")

	assert.NotContains(t, String([]byte{0, 1}, plain(0)), "\033[")
}

func TestHighlightMask(t *testing.T) {
	mask := highlightMask([]byte{1, 2, 3, 1, 2}, []byte{1, 2})
	assert.Equal(t, []bool{true, true, false, true, true}, mask)
	assert.Equal(t, []bool{false, false}, highlightMask([]byte{1, 2}, nil))
}

func TestPointers(t *testing.T) {
	regions := []memory_map.MemoryRegion{
		{Start: 0x40000, End: 0x41000, Path: "[heap]"},
		{Start: 0x50000, End: 0x51000, Category: memory_map.CategoryAnonymous},
	}

	data := make([]byte, 32)
	binary.LittleEndian.PutUint64(data[4:], 0x40010)  // misaligned when base is 0x2000
	binary.LittleEndian.PutUint64(data[16:], 0x50020) // aligned
	binary.LittleEndian.PutUint64(data[24:], 0x90000) // unmapped

	ptrs := Pointers(data, 0x2000, regions)
	require.Len(t, ptrs, 1)
	assert.Equal(t, uint64(0x2010), ptrs[0].At)
	assert.Equal(t, "-> 0x50020 anonymous", ptrs[0].String())

	// shifting the base by 4 aligns the first word instead
	ptrs = Pointers(data, 0x2004, regions)
	require.Len(t, ptrs, 1)
	assert.Equal(t, "-> 0x40010 [heap]", ptrs[0].String())

	assert.Nil(t, Pointers(data, 0, nil))

	opts := plain(0x2000)
	opts.Regions = regions
	assert.Contains(t, String(data, opts), "-> 0x50020 anonymous")
}
