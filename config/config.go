// Package config holds the memhunt settings and reads them from TOML, YAML or
// JSON files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"memhunt/codec"
	"memhunt/process/memory_map"
)

// Config is the complete memhunt configuration
type Config struct {
	Scan    ScanConfig    `toml:"scan" json:"scan" yaml:"scan"`
	Freeze  FreezeConfig  `toml:"freeze" json:"freeze" yaml:"freeze"`
	Refresh RefreshConfig `toml:"refresh" json:"refresh" yaml:"refresh"`
	Access  AccessConfig  `toml:"access" json:"access" yaml:"access"`
	Table   TableConfig   `toml:"table" json:"table" yaml:"table"`
	Dump    DumpConfig    `toml:"dump" json:"dump" yaml:"dump"`
}

type ScanConfig struct {
	// ChunkSize is the most bytes of one region a worker holds at a time
	ChunkSize uint64 `toml:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
	Workers   int    `toml:"workers" json:"workers" yaml:"workers"`

	// Regions are category names, see memory_map.ParseCategory
	Regions      []string `toml:"regions" json:"regions" yaml:"regions"`
	CustomFilter string   `toml:"custom_filter" json:"custom_filter" yaml:"custom_filter"`
	ResultLimit  int      `toml:"result_limit" json:"result_limit" yaml:"result_limit"`
	ValueType    string   `toml:"value_type" json:"value_type" yaml:"value_type"`
}

type FreezeConfig struct {
	IntervalMS  int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`
	MaxFailures int `toml:"max_failures" json:"max_failures" yaml:"max_failures"`
}

type RefreshConfig struct {
	IntervalMS int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`
	// MaxRefresh skips the value refresh when there are this many matches or more
	MaxRefresh int `toml:"max_refresh" json:"max_refresh" yaml:"max_refresh"`
}

type AccessConfig struct {
	// Backend is "vm" (process_vm_readv) or "shell" (dd through su)
	Backend string `toml:"backend" json:"backend" yaml:"backend"`
	Su      string `toml:"su" json:"su" yaml:"su"`
	// TimeoutMS bounds one shell round trip
	TimeoutMS int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

type TableConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

type DumpConfig struct {
	// MaxRegionSize skips larger regions when saving a dump
	MaxRegionSize uint64 `toml:"max_region_size" json:"max_region_size" yaml:"max_region_size"`
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	regions := make([]string, len(memory_map.DefaultCategories))
	for i, c := range memory_map.DefaultCategories {
		regions[i] = c.String()
	}

	return &Config{
		Scan: ScanConfig{
			ChunkSize:   1 << 20,
			Workers:     runtime.NumCPU(),
			Regions:     regions,
			ResultLimit: 100,
			ValueType:   "int",
		},
		Freeze: FreezeConfig{
			IntervalMS:  100,
			MaxFailures: 5,
		},
		Refresh: RefreshConfig{
			IntervalMS: 5000,
			MaxRefresh: 100,
		},
		Access: AccessConfig{
			Backend:   "vm",
			Su:        "su",
			TimeoutMS: 10000,
		},
		Table: TableConfig{
			Path: filepath.Join(DataDir(), "table.yaml"),
		},
		Dump: DumpConfig{
			MaxRegionSize: 100 * 1024 * 1024,
		},
	}
}

// DataDir is where memhunt keeps its files, ~/.memhunt unless MEMHUNT_HOME is set
func DataDir() string {
	if v := os.Getenv("MEMHUNT_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memhunt"
	}
	return filepath.Join(home, ".memhunt")
}

// Path is the default config file
func Path() string {
	return filepath.Join(DataDir(), "config.toml")
}

// ApplyEnvOverrides lets MEMHUNT_* variables override file settings
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MEMHUNT_BACKEND"); v != "" {
		c.Access.Backend = v
	}
	if v := os.Getenv("MEMHUNT_SU"); v != "" {
		c.Access.Su = v
	}
	if v := os.Getenv("MEMHUNT_TABLE"); v != "" {
		c.Table.Path = v
	}
}

// Categories resolves Scan.Regions
func (c *Config) Categories() ([]memory_map.Category, error) {
	out := make([]memory_map.Category, 0, len(c.Scan.Regions))
	for _, name := range c.Scan.Regions {
		cat, err := memory_map.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, nil
}

// ValueType resolves Scan.ValueType
func (c *Config) ValueType() (codec.ValueType, error) {
	return codec.ParseValueType(c.Scan.ValueType)
}

func (c *Config) FreezeInterval() time.Duration {
	return time.Duration(c.Freeze.IntervalMS) * time.Millisecond
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMS) * time.Millisecond
}

func (c *Config) AccessTimeout() time.Duration {
	return time.Duration(c.Access.TimeoutMS) * time.Millisecond
}

// ValidationError names one bad setting
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is every bad setting found by Validate
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Scan.ChunkSize < 8 {
		add("scan.chunk_size", "must be at least 8 bytes")
	}
	if c.Scan.Workers < 1 {
		add("scan.workers", "must be at least 1")
	}
	if c.Scan.ResultLimit < 1 {
		add("scan.result_limit", "must be at least 1")
	}
	if _, err := c.Categories(); err != nil {
		add("scan.regions", err.Error())
	}
	if _, err := c.ValueType(); err != nil {
		add("scan.value_type", err.Error())
	}
	if c.Freeze.IntervalMS < 1 {
		add("freeze.interval_ms", "must be at least 1")
	}
	if c.Freeze.MaxFailures < 1 {
		add("freeze.max_failures", "must be at least 1")
	}
	if c.Refresh.IntervalMS < 1 {
		add("refresh.interval_ms", "must be at least 1")
	}
	switch c.Access.Backend {
	case "vm", "shell":
	default:
		add("access.backend", fmt.Sprintf("unknown backend %q (want vm or shell)", c.Access.Backend))
	}
	if c.Access.Backend == "shell" && c.Access.Su == "" {
		add("access.su", "required for the shell backend")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
