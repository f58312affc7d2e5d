package buffer

import (
	"testing"

	"pagedb/internal/segment"
)

func newTestManager(t *testing.T, pageSize, pageCount int) *Manager {
	t.Helper()
	return NewManager(Config{PageSize: pageSize, PageCount: pageCount, Dir: t.TempDir()})
}

func TestAllocateFixUnfixRoundTrip(t *testing.T) {
	m := newTestManager(t, 256, 4)
	defer m.Close()

	frame, err := m.AllocatePage(1)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	copy(frame.Bytes(), []byte("hello"))
	id := frame.PageID()
	m.UnfixPage(frame, true)

	got, err := m.FixPage(id, false)
	if err != nil {
		t.Fatalf("FixPage: %v", err)
	}
	if string(got.Bytes()[:5]) != "hello" {
		t.Fatalf("Bytes = %q, want %q", got.Bytes()[:5], "hello")
	}
	m.UnfixPage(got, false)
}

func TestEvictionWritesBackDirtyPages(t *testing.T) {
	// A 2-frame pool forces the third allocation to evict.
	m := newTestManager(t, 256, 2)
	defer m.Close()

	f0, _ := m.AllocatePage(1)
	copy(f0.Bytes(), []byte("page0"))
	id0 := f0.PageID()
	m.UnfixPage(f0, true)

	f1, _ := m.AllocatePage(1)
	m.UnfixPage(f1, false)

	f2, err := m.AllocatePage(1)
	if err != nil {
		t.Fatalf("AllocatePage (forcing eviction): %v", err)
	}
	m.UnfixPage(f2, false)

	back, err := m.FixPage(id0, false)
	if err != nil {
		t.Fatalf("FixPage(id0) after eviction: %v", err)
	}
	if string(back.Bytes()[:5]) != "page0" {
		t.Fatalf("Bytes after reload = %q, want %q", back.Bytes()[:5], "page0")
	}
	m.UnfixPage(back, false)
}

func TestBufferFullWhenEveryFrameIsPinned(t *testing.T) {
	m := newTestManager(t, 256, 2)
	defer m.Close()

	f0, _ := m.AllocatePage(1)
	f1, _ := m.AllocatePage(1)
	defer m.UnfixPage(f0, false)
	defer m.UnfixPage(f1, false)

	if _, err := m.AllocatePage(1); err != ErrBufferFull {
		t.Fatalf("AllocatePage with every frame pinned = %v, want ErrBufferFull", err)
	}
}

func TestPageSurvivesManagerRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{PageSize: 256, PageCount: 4, Dir: dir}

	m := NewManager(cfg)
	f, err := m.AllocatePage(segment.ID(1))
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	copy(f.Bytes(), []byte("durable"))
	id := f.PageID()
	m.UnfixPage(f, true)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2 := NewManager(cfg)
	defer m2.Close()
	reloaded, err := m2.FixPage(id, false)
	if err != nil {
		t.Fatalf("FixPage after restart: %v", err)
	}
	if string(reloaded.Bytes()[:7]) != "durable" {
		t.Fatalf("Bytes after restart = %q, want %q", reloaded.Bytes()[:7], "durable")
	}
	m2.UnfixPage(reloaded, false)
}

func TestTwoQueueEvictionOrder(t *testing.T) {
	// Two-frame pool: A and B land in FIFO, a re-fix promotes A to LRU,
	// and fixing a third page evicts the FIFO victim (B) first.
	m := newTestManager(t, 256, 2)
	defer m.Close()

	fa, err := m.AllocatePage(1)
	if err != nil {
		t.Fatalf("AllocatePage(A): %v", err)
	}
	idA := fa.PageID()
	m.UnfixPage(fa, false)

	fb, err := m.AllocatePage(1)
	if err != nil {
		t.Fatalf("AllocatePage(B): %v", err)
	}
	idB := fb.PageID()
	m.UnfixPage(fb, false)

	fa, err = m.FixPage(idA, false)
	if err != nil {
		t.Fatalf("FixPage(A): %v", err)
	}
	m.UnfixPage(fa, false)

	fc, err := m.AllocatePage(1)
	if err != nil {
		t.Fatalf("AllocatePage(C): %v", err)
	}
	idC := fc.PageID()
	m.UnfixPage(fc, false)

	fifo := m.GetFifoList()
	if len(fifo) != 1 || fifo[0] != idC {
		t.Fatalf("GetFifoList() = %v, want [%v]", fifo, idC)
	}
	lru := m.GetLruList()
	if len(lru) != 1 || lru[0] != idA {
		t.Fatalf("GetLruList() = %v, want [%v]", lru, idA)
	}
	fb, err = m.FixPage(idB, false)
	if err != nil {
		t.Fatalf("FixPage(B) after eviction: %v", err)
	}
	m.UnfixPage(fb, false)
}
