package memory_map

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies a mapped region by what backs it
type Category uint8

const (
	CategoryOther Category = iota
	CategoryAlloc
	CategoryBss
	CategoryData
	CategoryHeap
	CategoryManagedHeap
	CategoryAnonymous
	CategoryStack
	CategoryCodeSystem
	CategoryAshmem
	CategoryLibs
	CategoryCustom
)

var categoryNames = map[Category]string{
	CategoryOther:       "other",
	CategoryAlloc:       "alloc",
	CategoryBss:         "bss",
	CategoryData:        "data",
	CategoryHeap:        "heap",
	CategoryManagedHeap: "managedheap",
	CategoryAnonymous:   "anonymous",
	CategoryStack:       "stack",
	CategoryCodeSystem:  "codesystem",
	CategoryAshmem:      "ashmem",
	CategoryLibs:        "libs",
	CategoryCustom:      "custom",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory accepts the names printed by Category.String, case-insensitively.
// "javaheap" is accepted as an alias of "managedheap".
func ParseCategory(name string) (Category, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "javaheap" {
		return CategoryManagedHeap, nil
	}
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return CategoryOther, fmt.Errorf("unknown region category %q", name)
}

// DefaultCategories is the selection used when the caller picked nothing
var DefaultCategories = []Category{
	CategoryAlloc, CategoryBss, CategoryData, CategoryHeap,
	CategoryManagedHeap, CategoryAnonymous, CategoryStack, CategoryAshmem,
}

// MemoryRegion represents a memory region in a process's address space
type MemoryRegion struct {
	Start    uint64   `json:"start"`    // First address of the region
	End      uint64   `json:"end"`      // One past the last address
	Perms    string   `json:"perms"`    // Permissions (e.g., "r-xp" for read, execute, private)
	Path     string   `json:"path"`     // Backing file or pseudo-path, may be empty
	Category Category `json:"category"` // Derived from Perms and Path
}

// String returns a string representation of the memory region
func (r MemoryRegion) String() string {
	return fmt.Sprintf("%012x-%012x %s %-11s %s", r.Start, r.End, r.Perms, r.Category, r.Path)
}

func (r MemoryRegion) Size() uint64 {
	return r.End - r.Start
}

func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r MemoryRegion) IsReadable() bool {
	return len(r.Perms) > 0 && r.Perms[0] == 'r'
}

func (r MemoryRegion) IsWritable() bool {
	return len(r.Perms) > 1 && r.Perms[1] == 'w'
}

func (r MemoryRegion) IsExecutable() bool {
	return len(r.Perms) > 2 && r.Perms[2] == 'x'
}

// Classify derives the category of a region from its permissions and backing path.
// Rules are checked from most to least specific.
func Classify(perms, path string) Category {
	rw := len(perms) > 1 && perms[0] == 'r' && perms[1] == 'w'
	exec := len(perms) > 2 && perms[2] == 'x'

	switch {
	case strings.Contains(path, "/dev/ashmem/dalvik"),
		strings.HasPrefix(path, "[anon:dalvik"):
		return CategoryManagedHeap
	case strings.Contains(path, "/dev/ashmem"):
		return CategoryAshmem
	case path == "[heap]":
		return CategoryHeap
	case strings.HasPrefix(path, "[stack"):
		return CategoryStack
	case path == "[anon:.bss]":
		return CategoryBss
	case strings.HasPrefix(path, "[anon:libc_malloc"),
		strings.HasPrefix(path, "[anon:scudo:"),
		strings.HasPrefix(path, "[anon:jemalloc"):
		return CategoryAlloc
	case path == "" && rw:
		return CategoryAnonymous
	case exec && (strings.HasPrefix(path, "/system/") ||
		strings.HasPrefix(path, "/apex/") ||
		strings.HasPrefix(path, "/vendor/")):
		return CategoryCodeSystem
	case isLibraryPath(path):
		if rw && strings.HasPrefix(path, "/data/") {
			return CategoryData
		}
		return CategoryLibs
	}
	return CategoryOther
}

func isLibraryPath(path string) bool {
	return strings.HasSuffix(path, ".so") ||
		strings.Contains(path, ".so.") ||
		strings.Contains(path, "/libs/") ||
		strings.HasSuffix(path, "/libs")
}

// SelectRegions returns the regions matching any wanted category. A non-empty
// customFilter overrides the categories: only regions whose path contains it
// are returned.
func SelectRegions(all []MemoryRegion, wanted []Category, customFilter string) []MemoryRegion {
	var out []MemoryRegion

	if customFilter != "" {
		for _, r := range all {
			if strings.Contains(r.Path, customFilter) {
				out = append(out, r)
			}
		}
		return out
	}

	want := make(map[Category]bool, len(wanted))
	for _, c := range wanted {
		want[c] = true
	}
	for _, r := range all {
		if want[r.Category] {
			out = append(out, r)
		}
	}
	return out
}

// FindRegion returns the region containing addr. regions must be sorted by Start.
func FindRegion(addr uint64, regions []MemoryRegion) *MemoryRegion {
	i := sort.Search(len(regions), func(i int) bool {
		return regions[i].End > addr
	})
	if i < len(regions) && regions[i].Start <= addr {
		return &regions[i]
	}

	return nil
}
