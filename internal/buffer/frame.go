package buffer

import (
	"sync"
	"sync/atomic"

	"pagedb/internal/segment"
)

// State is a frame's cleanliness relative to the backing file.
type State uint8

const (
	// Clean means the frame's bytes match what is on disk.
	Clean State = iota
	// Dirty means the frame has been written since it was loaded or
	// written back, and must be flushed before eviction or shutdown.
	Dirty
	// New means the frame was created by AllocatePage and has never been
	// written to its backing file at all.
	New
)

// queueKind records which replacement queue a frame currently lives in,
// so a frame is always in exactly one queue.
type queueKind uint8

const (
	queueNone queueKind = iota
	queueFIFO
	queueLRU
)

// Frame is an in-memory container for one page's bytes plus the metadata
// the buffer manager needs to pin, latch, and replace it. The latch is a
// real sync.RWMutex: FixPage acquires it (RLock for shared, Lock for
// exclusive) and holds it until the matching UnfixPage call, so the latch
// models exactly the duration of a caller's access — not a separate,
// shorter-lived bookkeeping lock.
type Frame struct {
	latch sync.RWMutex

	id       segment.PageID
	bytes    []byte // page-sized slice into the manager's arena
	arenaIdx int

	// pinCount counts concurrent shared fixers; exclusive fixes are
	// tracked by the pinned/exclusive flags instead, since only one
	// exclusive fixer can hold the latch at a time.
	pinCount int32
	pinned   bool // true while an exclusive fixer holds the latch
	exclFix  bool // the mode the current/last fixer used — tells UnfixPage how to release

	// waiters counts goroutines that have committed to fixing this frame
	// (incremented before blocking on the latch) but have not yet
	// acquired it. A frame with any waiter is never chosen as an
	// eviction victim, even if its pin count currently reads zero.
	waiters int32

	state State
	queue queueKind

	prev, next *Frame // intrusive doubly-linked list node for whichever queue holds this frame
}

// PageID satisfies segment.Frame.
func (f *Frame) PageID() segment.PageID { return f.id }

// Bytes satisfies segment.Frame. The returned slice is exactly page_size
// bytes wide and stable for the lifetime of the frame (stable arena
// offset), per the buffer-frame invariant.
func (f *Frame) Bytes() []byte { return f.bytes }

// Pinned reports whether any fixer currently holds this frame's latch.
func (f *Frame) Pinned() bool {
	return f.pinned || atomic.LoadInt32(&f.pinCount) > 0
}

// evictable reports whether the frame may be chosen as a victim: no
// pins and no thread currently waiting to acquire its latch.
func (f *Frame) evictable() bool {
	return !f.pinned && atomic.LoadInt32(&f.pinCount) == 0 && atomic.LoadInt32(&f.waiters) == 0
}
