package memory_map

import (
	"errors"
	"strings"
	"testing"

	"memhunt/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `12c00000-52c00000 rw-p 00000000 00:00 0                                  [anon:dalvik-main space (region space)]
5f000000-5f100000 rw-p 00000000 00:00 0
6f000000-6f010000 rw-p 00000000 00:05 1234                               /dev/ashmem/shared_prefs (deleted)
70000000-70100000 rw-p 00000000 00:00 0                                  [anon:libc_malloc]
71000000-71001000 rw-p 00000000 00:00 0                                  [anon:.bss]
72000000-72100000 rw-p 00000000 00:00 0                                  [heap]
7ff00000-7ff21000 rw-p 00000000 00:00 0                                  [stack]
7a000000-7a100000 r-xp 00000000 fd:00 555                                /system/lib64/libc.so
7b000000-7b010000 rw-p 00010000 fd:00 777                                /data/app/com.game-1/lib/arm64/libgame.so
7c000000-7c010000 r--p 00000000 fd:00 778                                /data/app/com.game-1/lib/arm64/libil2cpp.so
7d000000-7d001000 r--p 00000000 00:00 0                                  [vvar]
garbage line
`

func TestParseMemoryMapClassifiesRegions(t *testing.T) {
	regions, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, regions, 11)

	byStart := map[uint64]Category{}
	for _, r := range regions {
		byStart[r.Start] = r.Category
	}

	assert.Equal(t, CategoryManagedHeap, byStart[0x12c00000])
	assert.Equal(t, CategoryAnonymous, byStart[0x5f000000])
	assert.Equal(t, CategoryAshmem, byStart[0x6f000000])
	assert.Equal(t, CategoryAlloc, byStart[0x70000000])
	assert.Equal(t, CategoryBss, byStart[0x71000000])
	assert.Equal(t, CategoryHeap, byStart[0x72000000])
	assert.Equal(t, CategoryStack, byStart[0x7ff00000])
	assert.Equal(t, CategoryCodeSystem, byStart[0x7a000000])
	assert.Equal(t, CategoryData, byStart[0x7b000000])
	assert.Equal(t, CategoryLibs, byStart[0x7c000000])
	assert.Equal(t, CategoryOther, byStart[0x7d000000])
}

func TestParseMemoryMapSortsAndKeepsPaths(t *testing.T) {
	regions, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	for i := 1; i < len(regions); i++ {
		assert.Less(t, regions[i-1].Start, regions[i].Start)
	}

	r := FindRegion(0x6f000010, regions)
	require.NotNil(t, r)
	assert.Equal(t, "/dev/ashmem/shared_prefs (deleted)", r.Path)
	assert.Equal(t, uint64(0x10000), r.Size())
	assert.True(t, r.IsReadable())
	assert.True(t, r.IsWritable())
	assert.False(t, r.IsExecutable())
}

func TestParseMapLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"zzzz-0000 rw-p",
		"1000 rw-p 0 0 0",
		"2000-1000 rw-p 0 0 0",
	} {
		_, ok := ParseMapLine(line)
		assert.False(t, ok, line)
	}
}

func TestSelectRegionsByCategory(t *testing.T) {
	regions, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	got := SelectRegions(regions, []Category{CategoryHeap, CategoryStack}, "")
	require.Len(t, got, 2)
	assert.Equal(t, "[heap]", got[0].Path)
	assert.Equal(t, "[stack]", got[1].Path)

	assert.Empty(t, SelectRegions(regions, nil, ""))
}

func TestSelectRegionsCustomFilterOverridesCategories(t *testing.T) {
	regions, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	got := SelectRegions(regions, []Category{CategoryHeap}, "com.game")
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Contains(t, r.Path, "com.game")
	}
}

func TestFindRegionOutsideMappings(t *testing.T) {
	regions, err := ParseMemoryMap(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	assert.Nil(t, FindRegion(0x10, regions))
	assert.Nil(t, FindRegion(0x52c00000, regions))
	assert.Nil(t, FindRegion(0xffffffff, regions))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("HEAP")
	require.NoError(t, err)
	assert.Equal(t, CategoryHeap, c)

	c, err = ParseCategory("javaheap")
	require.NoError(t, err)
	assert.Equal(t, CategoryManagedHeap, c)

	_, err = ParseCategory("nope")
	assert.Error(t, err)
}

type failingSource struct{ err error }

func (f failingSource) ReadMaps(process.ProcessID) ([]byte, error) { return nil, f.err }

type staticSource string

func (s staticSource) ReadMaps(process.ProcessID) ([]byte, error) { return []byte(s), nil }

func TestEnumerate(t *testing.T) {
	regions, err := Enumerate(staticSource(sampleMaps), 42)
	require.NoError(t, err)
	assert.Len(t, regions, 11)

	_, err = Enumerate(failingSource{err: process.ErrProcessGone}, 42)
	var accessErr *process.ProcessAccessError
	require.True(t, errors.As(err, &accessErr))
	assert.Equal(t, process.ProcessID(42), accessErr.PID)
	assert.True(t, process.IsProcessGone(err))
}
