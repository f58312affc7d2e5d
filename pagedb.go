// Package pagedb is the top-level storage engine: it owns a buffer
// manager and every heap (SP-segment) and index (B+Tree) built on top
// of it, and is the single construct-owns-teardown entry point a
// caller opens once and closes once.
package pagedb

import (
	"fmt"
	"sync"

	"pagedb/internal/bptree"
	"pagedb/internal/buffer"
	"pagedb/internal/dbconfig"
	"pagedb/internal/diskfile"
	"pagedb/internal/extsort"
	"pagedb/internal/segment"
	"pagedb/internal/spseg"
)

// Engine is the process-wide handle every heap, index, and external
// sort on one set of segment files shares.
type Engine struct {
	mu sync.Mutex

	buf       *buffer.Manager
	pageSize  int
	sortMem   int
	nextSeg   segment.ID
	heaps     map[string]*spseg.Segment
	indexes   map[string]*bptree.Tree[uint64, uint64]
}

// Open constructs an Engine from cfg, allocating its buffer manager
// with cfg's page geometry and pool capacity.
func Open(cfg *dbconfig.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	buf := buffer.NewManager(buffer.Config{
		PageSize:  cfg.PageSize,
		PageCount: cfg.BufferPoolCapacity,
		Dir:       cfg.Dir,
		DirectIO:  cfg.DirectIO,
	})
	return &Engine{
		buf:      buf,
		pageSize: cfg.PageSize,
		sortMem:  cfg.ExternalSortMemoryBytes,
		heaps:    make(map[string]*spseg.Segment),
		indexes:  make(map[string]*bptree.Tree[uint64, uint64]),
	}, nil
}

// allocSegmentID hands out the next unused segment id. Segment ids are
// process-lifetime only; nothing persists the allocation, so an Engine
// reopened against the same directory starts renumbering from zero;
// callers that need stable segment identity across restarts must track
// it themselves.
func (e *Engine) allocSegmentID() segment.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSeg
	e.nextSeg++
	return id
}

// CreateHeap allocates a new SP-segment (a data segment plus its
// free-space inventory) and registers it under name. It is an error to
// reuse a name already registered.
func (e *Engine) CreateHeap(name string) (*spseg.Segment, error) {
	e.mu.Lock()
	if _, exists := e.heaps[name]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("pagedb: heap %q already exists", name)
	}
	e.mu.Unlock()

	dataSeg := e.allocSegmentID()
	fsiSeg := e.allocSegmentID()
	heap := spseg.New(dataSeg, fsiSeg, e.buf, e.pageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.heaps[name]; exists {
		return nil, fmt.Errorf("pagedb: heap %q already exists", name)
	}
	e.heaps[name] = heap
	return heap, nil
}

// Heap returns the heap registered under name, if any.
func (e *Engine) Heap(name string) (*spseg.Segment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.heaps[name]
	return h, ok
}

// CreateIndex allocates a new B+Tree index over uint64 keys and values
// (a TID or row-id index) and registers it under name.
func (e *Engine) CreateIndex(name string) (*bptree.Tree[uint64, uint64], error) {
	e.mu.Lock()
	if _, exists := e.indexes[name]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("pagedb: index %q already exists", name)
	}
	e.mu.Unlock()

	id := e.allocSegmentID()
	tree, err := bptree.New[uint64, uint64](id, e.buf, e.pageSize, bptree.Uint64Codec{}, bptree.Uint64Codec{}, bptree.CompareUint64)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.indexes[name]; exists {
		return nil, fmt.Errorf("pagedb: index %q already exists", name)
	}
	e.indexes[name] = tree
	return tree, nil
}

// Index returns the index registered under name, if any.
func (e *Engine) Index(name string) (*bptree.Tree[uint64, uint64], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.indexes[name]
	return t, ok
}

// SortValues runs external sort (internal/extsort) over numValues
// uint64 values in input, writing the sorted result to output, using
// the Engine's configured external-sort memory budget and the buffer
// manager's temp-file factory for intermediate runs.
func (e *Engine) SortValues(input diskfile.BlockFile, numValues int, output diskfile.BlockFile) error {
	return extsort.Sort(e.buf, input, numValues, output, e.sortMem)
}

// Buffer exposes the underlying buffer manager, for callers that need
// direct page access (e.g. building a segment type this Engine doesn't
// wrap directly).
func (e *Engine) Buffer() *buffer.Manager { return e.buf }

// Close flushes and releases the buffer manager, and with it every
// heap and index built on top of it. This is the only point writes are
// guaranteed durable.
func (e *Engine) Close() error {
	return e.buf.Close()
}
