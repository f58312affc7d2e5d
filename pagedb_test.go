package pagedb

import (
	"testing"

	"pagedb/internal/dbconfig"
)

func testConfig(t *testing.T) *dbconfig.Config {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.PageSize = 1024
	cfg.PageCount = 64
	cfg.BufferPoolCapacity = 64
	cfg.Dir = t.TempDir()
	return cfg
}

func TestEngineHeapRoundTrip(t *testing.T) {
	e, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	heap, err := e.CreateHeap("rows")
	if err != nil {
		t.Fatalf("CreateHeap: %v", err)
	}
	tid, err := heap.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	payload := make([]byte, 32)
	copy(payload, "hello, heap")
	if err := heap.Write(tid, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 32)
	n, err := heap.Read(tid, out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out[:n]) != string(payload[:n]) {
		t.Fatalf("Read = %q, want %q", out[:n], payload[:n])
	}

	if _, ok := e.Heap("rows"); !ok {
		t.Fatal("Heap(\"rows\") not found after CreateHeap")
	}
	if _, err := e.CreateHeap("rows"); err == nil {
		t.Fatal("CreateHeap(\"rows\") twice should error")
	}
}

func TestEngineIndexRoundTrip(t *testing.T) {
	e, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	idx, err := e.CreateIndex("by_id")
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	for i := uint64(0); i < 100; i++ {
		if err := idx.Insert(i, i*2); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := uint64(0); i < 100; i++ {
		v, ok, err := idx.Lookup(i)
		if err != nil || !ok || v != i*2 {
			t.Fatalf("Lookup(%d) = (%d, %v, %v), want (%d, true, nil)", i, v, ok, err, i*2)
		}
	}

	if _, ok := e.Index("by_id"); !ok {
		t.Fatal("Index(\"by_id\") not found after CreateIndex")
	}
}
