// Package dbconfig holds the engine's tunable knobs as a single
// struct-of-values with a Default constructor, loadable from a YAML
// document via gopkg.in/yaml.v3.
package dbconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine's full set of tunables: page geometry, buffer
// pool capacity, and the memory budget external sort may use for its
// in-process run buffers.
type Config struct {
	// PageSize is the size in bytes of every page across every segment.
	PageSize int `yaml:"page_size"`
	// PageCount is a page count in pages. Validate requires it to be
	// positive; pagedb.Open does not read it.
	PageCount int `yaml:"page_count"`
	// BufferPoolCapacity is the buffer pool's frame capacity, in pages:
	// pagedb.Open passes it to the buffer manager as its page count.
	BufferPoolCapacity int `yaml:"buffer_pool_capacity"`
	// ExternalSortMemoryBytes bounds the in-memory run size external
	// sort builds before spilling to the alternating temp files.
	ExternalSortMemoryBytes int `yaml:"external_sort_memory_bytes"`
	// Dir is the directory segment files live under.
	Dir string `yaml:"dir"`
	// DirectIO requests unbuffered page I/O through github.com/ncw/directio
	// where the platform supports it.
	DirectIO bool `yaml:"direct_io"`
}

// DefaultConfig returns a sensible configuration for a small, single
// process instance: 8 KiB pages, a 1024-frame (8 MiB) buffer pool, and
// an 1 MiB external-sort memory budget.
func DefaultConfig() *Config {
	return &Config{
		PageSize:                8192,
		PageCount:               1024,
		BufferPoolCapacity:      1024,
		ExternalSortMemoryBytes: 1 << 20,
		DirectIO:                false,
	}
}

// Load reads and parses a YAML config document at path, starting from
// DefaultConfig and overwriting only the fields the document sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbconfig: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("dbconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports an error if cfg has a tunable that cannot produce a
// working engine (a non-positive page size or pool capacity, or a sort
// memory budget too small to hold one value).
func (cfg *Config) Validate() error {
	if cfg.PageSize <= 0 {
		return fmt.Errorf("dbconfig: page_size must be positive, got %d", cfg.PageSize)
	}
	if cfg.PageCount <= 0 {
		return fmt.Errorf("dbconfig: page_count must be positive, got %d", cfg.PageCount)
	}
	if cfg.BufferPoolCapacity <= 0 {
		return fmt.Errorf("dbconfig: buffer_pool_capacity must be positive, got %d", cfg.BufferPoolCapacity)
	}
	if cfg.ExternalSortMemoryBytes < 8 {
		return fmt.Errorf("dbconfig: external_sort_memory_bytes must hold at least one 8-byte value, got %d", cfg.ExternalSortMemoryBytes)
	}
	return nil
}
