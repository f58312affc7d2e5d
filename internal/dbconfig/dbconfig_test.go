package dbconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	doc := "page_size: 4096\npage_count: 256\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageSize != 4096 {
		t.Fatalf("PageSize = %d, want 4096", cfg.PageSize)
	}
	if cfg.PageCount != 256 {
		t.Fatalf("PageCount = %d, want 256", cfg.PageCount)
	}
	// Fields the document didn't set keep the default's values.
	def := DefaultConfig()
	if cfg.ExternalSortMemoryBytes != def.ExternalSortMemoryBytes {
		t.Fatalf("ExternalSortMemoryBytes = %d, want default %d", cfg.ExternalSortMemoryBytes, def.ExternalSortMemoryBytes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []Config{
		{PageSize: 0, PageCount: 1, BufferPoolCapacity: 1, ExternalSortMemoryBytes: 8},
		{PageSize: 1, PageCount: 0, BufferPoolCapacity: 1, ExternalSortMemoryBytes: 8},
		{PageSize: 1, PageCount: 1, BufferPoolCapacity: 0, ExternalSortMemoryBytes: 8},
		{PageSize: 1, PageCount: 1, BufferPoolCapacity: 1, ExternalSortMemoryBytes: 7},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: Validate() = nil, want error", i)
		}
	}
}
