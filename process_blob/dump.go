package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"memhunt/process"
	"memhunt/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "memory_map.json"

	// DefaultMaxRegionSize skips regions above 100 MB when saving
	DefaultMaxRegionSize = 100 * 1024 * 1024
)

type metadata struct {
	PID  process.ProcessID `json:"pid"`
	Name string            `json:"name"`
}

// SaveStats summarises a Save call
type SaveStats struct {
	Saved       int
	SkippedPerm int
	SkippedSize int
	ReadErrors  int
}

func blobFilename(dirname string, region memory_map.MemoryRegion) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Start, region.Size()))
}

// Save writes the given regions of pid into dirname together with the
// metadata and memory map needed by Load. Regions that cannot be read are
// counted and skipped.
func Save(mem process.Memory, pid process.ProcessID, name string, regions []memory_map.MemoryRegion, dirname string, maxRegionSize uint64) (SaveStats, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("dump-%d", pid)))

	var stats SaveStats

	if maxRegionSize == 0 {
		maxRegionSize = DefaultMaxRegionSize
	}

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return stats, fmt.Errorf("failed to create directory: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(metadata{PID: pid, Name: name}, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return stats, fmt.Errorf("failed to write metadata file: %w", err)
	}

	var saved []memory_map.MemoryRegion
	for _, region := range regions {
		if !region.IsReadable() {
			stats.SkippedPerm++
			continue
		}

		if region.Size() > maxRegionSize {
			log.Infoln("Skipping large region at", fmt.Sprintf("%x", region.Start),
				"(size:", region.Size()/1024/1024, "MB)")
			stats.SkippedSize++
			continue
		}

		data, err := mem.ReadMemory(pid, process.ProcessMemoryAddress(region.Start), process.ProcessMemorySize(region.Size()))
		if err != nil {
			if process.IsProcessGone(err) {
				return stats, &process.ProcessAccessError{PID: pid, Err: err}
			}
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Start), err)
			stats.ReadErrors++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return stats, fmt.Errorf("failed to write memory file for region at %x: %w", region.Start, err)
		}

		saved = append(saved, region)
		stats.Saved++
	}

	memoryMapJSON, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return stats, fmt.Errorf("failed to marshal memory map: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return stats, fmt.Errorf("failed to write memory map file: %w", err)
	}

	log.Infoln("Process dump saved:", stats.Saved, "regions saved,", stats.ReadErrors, "errors")

	return stats, nil
}

// Load restores a dump written by Save as an in-memory process
func Load(dirname string) (*Memory, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	var regions []memory_map.MemoryRegion
	if err := json.Unmarshal(mmBytes, &regions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	mem := NewMemory(meta.PID, meta.Name)
	for _, region := range regions {
		data, err := os.ReadFile(blobFilename(dirname, region))
		if err != nil {
			return nil, fmt.Errorf("failed to read blob for region %x: %w", region.Start, err)
		}
		mem.AddRegion(region, data)
	}

	return mem, nil
}
