// Package buffer implements the page cache at the center of the storage
// engine: a fixed-capacity set of frames, a two-queue (FIFO then LRU)
// replacement policy, per-page shared/exclusive latching, and write-back
// on eviction and shutdown.
//
// The two-queue policy resists scan pollution: a bulk linear scan enters
// FIFO and is evicted without displacing hot pages, which only reach the
// LRU queue on a re-fix.
package buffer

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"pagedb/internal/diskfile"
	"pagedb/internal/segment"
)

// Config configures a Manager.
type Config struct {
	PageSize  int // bytes per page
	PageCount int // frame capacity of the cache (arena size in pages)
	Dir       string
	DirectIO  bool
}

// Manager is the process-wide page cache. It owns the diskfile.Factory for
// every segment it serves and is the only path through which segment code
// touches page bytes.
type Manager struct {
	mu sync.Mutex // guards pages, fifo/lru lists, arena free list, nextLocal

	pageSize  int
	pageCount int

	pages map[segment.PageID]*Frame

	fifoHead, fifoTail *Frame
	lruHead, lruTail   *Frame

	arena     []byte
	freeSlots []int // arena slot indices not currently backing a frame

	nextLocal map[segment.ID]uint64 // next unused local page index, per segment

	files     *diskfile.Factory
	fileMu    sync.Mutex
	openFiles map[segment.ID]diskfile.BlockFile

	sched     *cron.Cron
	schedOnce sync.Once
}

// NewManager creates a buffer manager with the given configuration. The
// arena is allocated up front at page_count * page_size bytes and never
// grows beyond that.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		pageSize:  cfg.PageSize,
		pageCount: cfg.PageCount,
		pages:     make(map[segment.PageID]*Frame, cfg.PageCount),
		arena:     make([]byte, cfg.PageSize*cfg.PageCount),
		freeSlots: make([]int, cfg.PageCount),
		nextLocal: make(map[segment.ID]uint64),
		files:     diskfile.NewFactory(cfg.Dir, cfg.PageSize, cfg.DirectIO),
		openFiles: make(map[segment.ID]diskfile.BlockFile),
	}
	for i := range m.freeSlots {
		m.freeSlots[i] = cfg.PageCount - 1 - i
	}
	return m
}

func (m *Manager) fileFor(seg segment.ID) (diskfile.BlockFile, error) {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	if f, ok := m.openFiles[seg]; ok {
		return f, nil
	}
	f, err := m.files.OpenSegment(uint16(seg))
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	minSize := int64(m.pageCount) * int64(m.pageSize)
	if size < minSize {
		if err := f.Resize(minSize); err != nil {
			return nil, err
		}
	}
	m.openFiles[seg] = f
	return f, nil
}

func (m *Manager) ensureFileSized(seg segment.ID, local uint64) error {
	f, err := m.fileFor(seg)
	if err != nil {
		return err
	}
	need := (int64(local) + 1) * int64(m.pageSize)
	size, err := f.Size()
	if err != nil {
		return err
	}
	if size < need {
		return f.Resize(need)
	}
	return nil
}

// ── Queue management (caller must hold m.mu) ────────────────────────────

func (m *Manager) unlink(f *Frame) {
	switch f.queue {
	case queueFIFO:
		if f.prev != nil {
			f.prev.next = f.next
		} else {
			m.fifoHead = f.next
		}
		if f.next != nil {
			f.next.prev = f.prev
		} else {
			m.fifoTail = f.prev
		}
	case queueLRU:
		if f.prev != nil {
			f.prev.next = f.next
		} else {
			m.lruHead = f.next
		}
		if f.next != nil {
			f.next.prev = f.prev
		} else {
			m.lruTail = f.prev
		}
	}
	f.prev, f.next = nil, nil
	f.queue = queueNone
}

func (m *Manager) pushFIFOTail(f *Frame) {
	f.prev, f.next = m.fifoTail, nil
	if m.fifoTail != nil {
		m.fifoTail.next = f
	} else {
		m.fifoHead = f
	}
	m.fifoTail = f
	f.queue = queueFIFO
}

func (m *Manager) pushLRUTail(f *Frame) {
	f.prev, f.next = m.lruTail, nil
	if m.lruTail != nil {
		m.lruTail.next = f
	} else {
		m.lruHead = f
	}
	m.lruTail = f
	f.queue = queueLRU
}

// touch moves a re-fixed frame from FIFO into LRU (first re-fix promotes
// it), or re-appends it to the LRU tail if it is already there.
func (m *Manager) touch(f *Frame) {
	m.unlink(f)
	m.pushLRUTail(f)
}

// ── Eviction ─────────────────────────────────────────────────────────────

// selectVictim scans FIFO first, then LRU, for the first frame that is
// both unpinned and has no waiters. Caller must hold m.mu.
func (m *Manager) selectVictim() *Frame {
	for f := m.fifoHead; f != nil; f = f.next {
		if f.evictable() {
			return f
		}
	}
	for f := m.lruHead; f != nil; f = f.next {
		if f.evictable() {
			return f
		}
	}
	return nil
}

func (m *Manager) writeBack(f *Frame) error {
	bf, err := m.fileFor(f.id.Segment())
	if err != nil {
		return err
	}
	off := int64(f.id.Local()) * int64(m.pageSize)
	if _, err := bf.WriteAt(f.bytes, off); err != nil {
		return fmt.Errorf("buffer: write back page %s: %w", f.id, err)
	}
	return nil
}

func (m *Manager) loadInto(id segment.PageID, bytes []byte) error {
	bf, err := m.fileFor(id.Segment())
	if err != nil {
		return err
	}
	off := int64(id.Local()) * int64(m.pageSize)
	if _, err := bf.ReadAt(bytes, off); err != nil {
		return fmt.Errorf("buffer: read page %s: %w", id, err)
	}
	return nil
}

// ── FixPage / UnfixPage ──────────────────────────────────────────────────

// FixPage pins (and latches) a page, loading it from disk or evicting a
// victim frame if it is not already cached. The returned frame's latch is
// held — shared for exclusive=false, exclusive for exclusive=true — until
// the caller calls UnfixPage.
func (m *Manager) FixPage(id segment.PageID, exclusive bool) (segment.Frame, error) {
	m.mu.Lock()
	if f, ok := m.pages[id]; ok {
		f.waiters++
		m.mu.Unlock()

		if exclusive {
			f.latch.Lock()
		} else {
			f.latch.RLock()
		}

		m.mu.Lock()
		f.waiters--
		m.touch(f)
		f.exclFix = exclusive
		if exclusive {
			f.pinned = true
		} else {
			f.pinCount++
		}
		m.mu.Unlock()
		return f, nil
	}

	if len(m.freeSlots) > 0 {
		f := m.newFrame(id)
		m.pages[id] = f
		m.pushFIFOTail(f)
		m.mu.Unlock()
		return m.finishLoad(f, id, exclusive)
	}

	victim := m.selectVictim()
	if victim == nil {
		m.mu.Unlock()
		return nil, ErrBufferFull
	}
	m.unlink(victim)
	delete(m.pages, victim.id)
	slot := victim.arenaIdx
	wasDirty := victim.state == Dirty
	m.mu.Unlock()

	if wasDirty {
		victim.latch.Lock()
		if err := m.writeBack(victim); err != nil {
			victim.latch.Unlock()
			m.mu.Lock()
			m.freeSlots = append(m.freeSlots, slot)
			m.mu.Unlock()
			return nil, err
		}
		victim.latch.Unlock()
	}

	m.mu.Lock()
	f := &Frame{id: id, bytes: m.arena[slot*m.pageSize : (slot+1)*m.pageSize], arenaIdx: slot}
	m.pages[id] = f
	m.pushFIFOTail(f)
	m.mu.Unlock()
	return m.finishLoad(f, id, exclusive)
}

// newFrame allocates a fresh arena slot for id. Caller must hold m.mu.
func (m *Manager) newFrame(id segment.PageID) *Frame {
	n := len(m.freeSlots)
	slot := m.freeSlots[n-1]
	m.freeSlots = m.freeSlots[:n-1]
	return &Frame{id: id, bytes: m.arena[slot*m.pageSize : (slot+1)*m.pageSize], arenaIdx: slot}
}

// finishLoad latches a brand-new frame exclusively to load its bytes from
// disk (so any concurrent resident lookup blocks on the latch rather than
// racing the load), then downgrades to the caller's requested mode.
func (m *Manager) finishLoad(f *Frame, id segment.PageID, exclusive bool) (segment.Frame, error) {
	f.latch.Lock()
	if err := m.ensureFileSized(id.Segment(), id.Local()); err != nil {
		f.latch.Unlock()
		m.dropFrame(f)
		return nil, err
	}
	if err := m.loadInto(id, f.bytes); err != nil {
		f.latch.Unlock()
		m.dropFrame(f)
		return nil, err
	}
	f.state = Clean
	if exclusive {
		f.exclFix = true
		f.pinned = true
		return f, nil
	}
	f.latch.Unlock()
	f.latch.RLock()
	m.mu.Lock()
	f.exclFix = false
	f.pinCount++
	m.mu.Unlock()
	return f, nil
}

func (m *Manager) dropFrame(f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, f.id)
	m.unlink(f)
	m.freeSlots = append(m.freeSlots, f.arenaIdx)
}

// UnfixPage releases a previously fixed frame. If dirty, the frame is
// marked DIRTY so it is written back on eviction or Close.
func (m *Manager) UnfixPage(frame segment.Frame, dirty bool) {
	f, ok := frame.(*Frame)
	if !ok {
		return
	}
	m.mu.Lock()
	if dirty {
		f.state = Dirty
	}
	if f.queue == queueLRU {
		m.unlink(f)
		m.pushLRUTail(f)
	}
	wasExclusive := f.exclFix
	m.mu.Unlock()

	if wasExclusive {
		f.pinned = false
		f.latch.Unlock()
	} else {
		m.mu.Lock()
		f.pinCount--
		m.mu.Unlock()
		f.latch.RUnlock()
	}
}

// AllocatePage allocates a brand-new page in segment seg, pinned
// exclusively and marked NEW (never written to its backing file). The
// caller is responsible for initialising its contents and unfixing it
// (with dirty=true) once done.
func (m *Manager) AllocatePage(seg segment.ID) (segment.Frame, error) {
	m.mu.Lock()
	local := m.nextLocal[seg]
	m.nextLocal[seg] = local + 1
	id := segment.NewPageID(seg, local)

	if len(m.freeSlots) > 0 {
		f := m.newFrame(id)
		for i := range f.bytes {
			f.bytes[i] = 0
		}
		m.pages[id] = f
		m.pushFIFOTail(f)
		m.mu.Unlock()
		if err := m.ensureFileSized(seg, local); err != nil {
			m.dropFrame(f)
			return nil, err
		}
		f.latch.Lock()
		f.state = New
		f.exclFix = true
		f.pinned = true
		return f, nil
	}

	victim := m.selectVictim()
	if victim == nil {
		m.mu.Unlock()
		return nil, ErrBufferFull
	}
	m.unlink(victim)
	delete(m.pages, victim.id)
	slot := victim.arenaIdx
	wasDirty := victim.state == Dirty
	m.mu.Unlock()

	if wasDirty {
		victim.latch.Lock()
		err := m.writeBack(victim)
		victim.latch.Unlock()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	f := &Frame{id: id, bytes: m.arena[slot*m.pageSize : (slot+1)*m.pageSize], arenaIdx: slot}
	m.pages[id] = f
	m.pushFIFOTail(f)
	m.mu.Unlock()

	if err := m.ensureFileSized(seg, local); err != nil {
		m.dropFrame(f)
		return nil, err
	}
	for i := range f.bytes {
		f.bytes[i] = 0
	}
	f.latch.Lock()
	f.state = New
	f.exclFix = true
	f.pinned = true
	return f, nil
}

// ── Introspection (tests only — not thread-safe) ────────────────────────

// GetFifoList returns a snapshot of the FIFO queue, head first.
func (m *Manager) GetFifoList() []segment.PageID {
	var out []segment.PageID
	for f := m.fifoHead; f != nil; f = f.next {
		out = append(out, f.id)
	}
	return out
}

// GetLruList returns a snapshot of the LRU queue, head (least recent) first.
func (m *Manager) GetLruList() []segment.PageID {
	var out []segment.PageID
	for f := m.lruHead; f != nil; f = f.next {
		out = append(out, f.id)
	}
	return out
}

// PageSize returns the configured page size in bytes.
func (m *Manager) PageSize() int { return m.pageSize }

// TempFile hands out a scratch BlockFile backed by the same diskfile
// factory every segment's pages come from, for callers (external sort)
// that need working storage outside the page cache itself.
func (m *Manager) TempFile() diskfile.BlockFile { return m.files.TempFile() }

// ── Maintenance ──────────────────────────────────────────────────────────

// StartMaintenance starts a background cron job (parsed per the standard
// five-field cron spec) that flushes unpinned DIRTY frames without
// evicting them. This is a housekeeping convenience, not a correctness
// requirement: Close still flushes everything unconditionally regardless
// of whether maintenance ever ran.
func (m *Manager) StartMaintenance(cronSpec string) error {
	var startErr error
	m.schedOnce.Do(func() {
		m.sched = cron.New()
		_, startErr = m.sched.AddFunc(cronSpec, func() { _ = m.flushUnpinnedDirty() })
		if startErr == nil {
			m.sched.Start()
		}
	})
	return startErr
}

// StopMaintenance stops the background flush job, if one was started.
func (m *Manager) StopMaintenance() {
	if m.sched != nil {
		m.sched.Stop()
	}
}

func (m *Manager) flushUnpinnedDirty() error {
	m.mu.Lock()
	var dirty []*Frame
	for _, f := range m.pages {
		if f.state == Dirty && f.evictable() {
			dirty = append(dirty, f)
		}
	}
	m.mu.Unlock()

	for _, f := range dirty {
		f.latch.Lock()
		if f.state == Dirty {
			if err := m.writeBack(f); err != nil {
				f.latch.Unlock()
				return err
			}
			f.state = Clean
		}
		f.latch.Unlock()
	}
	return nil
}

// Close flushes every DIRTY frame to disk and closes all open segment
// files. Writes are durable only after this call.
func (m *Manager) Close() error {
	m.StopMaintenance()
	m.mu.Lock()
	frames := make([]*Frame, 0, len(m.pages))
	for _, f := range m.pages {
		frames = append(frames, f)
	}
	m.mu.Unlock()

	for _, f := range frames {
		f.latch.Lock()
		if f.state == Dirty {
			if err := m.writeBack(f); err != nil {
				f.latch.Unlock()
				return err
			}
			f.state = Clean
		}
		f.latch.Unlock()
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	for _, bf := range m.openFiles {
		if err := bf.Sync(); err != nil {
			return err
		}
		if err := bf.Close(); err != nil {
			return err
		}
	}
	return nil
}
