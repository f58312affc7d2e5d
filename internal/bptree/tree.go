package bptree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"pagedb/internal/segment"
)

// Tree is a B+Tree index parameterised over key and value types, their
// comparator, and the page size. Every node is a single page fixed
// through a segment.PageSource.
type Tree[K any, V any] struct {
	base segment.Base

	keyCodec Codec[K]
	valCodec Codec[V]
	cmp      func(a, b K) int

	innerCap int // kInnerCap: max keys per inner node
	leafCap  int // kLeafCap: max entries per leaf node

	rootMu sync.Mutex
	root   segment.PageID
}

// innerChildrenOffset is where the children array begins in an inner
// node, after the header and the key array.
func (t *Tree[K, V]) innerChildrenOffset() int {
	return nodeHeaderSize + t.innerCap*t.keyCodec.Size()
}

// leafValuesOffset is where the value array begins in a leaf node, after
// the header and the key array.
func (t *Tree[K, V]) leafValuesOffset() int {
	return nodeHeaderSize + t.leafCap*t.keyCodec.Size()
}

func (t *Tree[K, V]) innerKey(buf []byte, i int) K {
	sz := t.keyCodec.Size()
	off := nodeHeaderSize + i*sz
	return t.keyCodec.Decode(buf[off : off+sz])
}

func (t *Tree[K, V]) setInnerKey(buf []byte, i int, k K) {
	sz := t.keyCodec.Size()
	off := nodeHeaderSize + i*sz
	t.keyCodec.Encode(buf[off:off+sz], k)
}

func (t *Tree[K, V]) innerChild(buf []byte, i int) segment.PageID {
	off := t.innerChildrenOffset() + i*8
	return segment.PageID(binary.LittleEndian.Uint64(buf[off:]))
}

func (t *Tree[K, V]) setInnerChild(buf []byte, i int, pid segment.PageID) {
	off := t.innerChildrenOffset() + i*8
	binary.LittleEndian.PutUint64(buf[off:], uint64(pid))
}

func (t *Tree[K, V]) leafKey(buf []byte, i int) K {
	sz := t.keyCodec.Size()
	off := nodeHeaderSize + i*sz
	return t.keyCodec.Decode(buf[off : off+sz])
}

func (t *Tree[K, V]) setLeafKey(buf []byte, i int, k K) {
	sz := t.keyCodec.Size()
	off := nodeHeaderSize + i*sz
	t.keyCodec.Encode(buf[off:off+sz], k)
}

func (t *Tree[K, V]) leafValue(buf []byte, i int) V {
	sz := t.valCodec.Size()
	off := t.leafValuesOffset() + i*sz
	return t.valCodec.Decode(buf[off : off+sz])
}

func (t *Tree[K, V]) setLeafValue(buf []byte, i int, v V) {
	sz := t.valCodec.Size()
	off := t.leafValuesOffset() + i*sz
	t.valCodec.Encode(buf[off:off+sz], v)
}

// lowerBoundInner finds the first index i among an inner node's
// (count-1) keys with keys[i] >= key.
func (t *Tree[K, V]) lowerBoundInner(buf []byte, key K) (int, bool) {
	n := int(getCount(buf)) - 1
	return keyLowerBound(buf, nodeHeaderSize, t.keyCodec.Size(), n, key, t.keyCodec, t.cmp)
}

// lowerBoundLeaf finds the first index i among a leaf's count keys with
// keys[i] >= key.
func (t *Tree[K, V]) lowerBoundLeaf(buf []byte, key K) (int, bool) {
	n := int(getCount(buf))
	return keyLowerBound(buf, nodeHeaderSize, t.keyCodec.Size(), n, key, t.keyCodec, t.cmp)
}

// insertSplitInner inserts a separator key and its right child page id
// into an inner node.
func (t *Tree[K, V]) insertSplitInner(buf []byte, key K, childPID segment.PageID) {
	count := int(getCount(buf))
	numKeys := count - 1
	lb, found := t.lowerBoundInner(buf, key)
	if found && lb < numKeys {
		t.setInnerChild(buf, lb+1, childPID)
		return
	}
	for i := numKeys - 1; i >= lb; i-- {
		t.setInnerKey(buf, i+1, t.innerKey(buf, i))
	}
	for i := count - 1; i >= lb+1; i-- {
		t.setInnerChild(buf, i+1, t.innerChild(buf, i))
	}
	t.setInnerKey(buf, lb, key)
	t.setInnerChild(buf, lb+1, childPID)
	setCount(buf, uint16(count+1))
}

// splitInner splits a full inner node, moving the right half of its
// children (and the keys between them) into right, and returns the
// separator key that rises to the parent. Ported from
// InnerNode::split: left keeps floor(c/2)+1 children, right gets the
// remainder, the key at the split index moves up rather than being
// duplicated.
func (t *Tree[K, V]) splitInner(buf, right []byte) K {
	count := int(getCount(buf))
	splitIdx := count / 2
	splitKey := t.innerKey(buf, splitIdx)

	numMovedKeys := count - splitIdx - 2
	for i := 0; i < numMovedKeys; i++ {
		t.setInnerKey(right, i, t.innerKey(buf, splitIdx+1+i))
	}
	numMovedChildren := count - splitIdx - 1
	for i := 0; i < numMovedChildren; i++ {
		t.setInnerChild(right, i, t.innerChild(buf, splitIdx+1+i))
	}
	setCount(right, uint16(numMovedChildren))
	setCount(buf, uint16(splitIdx+1))
	return splitKey
}

// insertLeaf inserts or overwrites a key/value pair in a leaf node.
func (t *Tree[K, V]) insertLeaf(buf []byte, key K, value V) {
	count := int(getCount(buf))
	lb, found := t.lowerBoundLeaf(buf, key)
	if found && lb < count {
		t.setLeafValue(buf, lb, value)
		return
	}
	for i := count - 1; i >= lb; i-- {
		t.setLeafKey(buf, i+1, t.leafKey(buf, i))
		t.setLeafValue(buf, i+1, t.leafValue(buf, i))
	}
	t.setLeafKey(buf, lb, key)
	t.setLeafValue(buf, lb, value)
	setCount(buf, uint16(count+1))
}

// eraseLeaf removes key from a leaf, shifting later entries down.
func (t *Tree[K, V]) eraseLeaf(buf []byte, key K) bool {
	count := int(getCount(buf))
	lb, found := t.lowerBoundLeaf(buf, key)
	if !found || lb >= count {
		return false
	}
	for i := lb; i < count-1; i++ {
		t.setLeafKey(buf, i, t.leafKey(buf, i+1))
		t.setLeafValue(buf, i, t.leafValue(buf, i+1))
	}
	setCount(buf, uint16(count-1))
	return true
}

// splitLeaf splits a full leaf node: right gets the keys/values from
// splitIdx+1 onward, left keeps floor(c/2)+1 entries. The separator is
// the last key kept in the left leaf (key stays with the value; only the
// key is copied upward), so a key equal to the separator is found by
// descending left, as lowerBoundInner does.
func (t *Tree[K, V]) splitLeaf(buf, right []byte) K {
	count := int(getCount(buf))
	splitIdx := count / 2
	splitKey := t.leafKey(buf, splitIdx)

	numMoved := count - count/2 - 1
	for i := 0; i < numMoved; i++ {
		t.setLeafKey(right, i, t.leafKey(buf, splitIdx+1+i))
		t.setLeafValue(right, i, t.leafValue(buf, splitIdx+1+i))
	}
	setCount(right, uint16(numMoved))
	setCount(buf, uint16(splitIdx+1))
	return splitKey
}

// New creates a B+Tree in the given segment, allocating its initial
// (empty, leaf) root page.
func New[K any, V any](id segment.ID, pages segment.PageSource, pageSize int, keyCodec Codec[K], valCodec Codec[V], cmp func(a, b K) int) (*Tree[K, V], error) {
	t := &Tree[K, V]{
		base:     segment.NewBase(id, pages),
		keyCodec: keyCodec,
		valCodec: valCodec,
		cmp:      cmp,
	}
	t.innerCap = (pageSize - nodeHeaderSize - 8) / (keyCodec.Size() + 8)
	t.leafCap = (pageSize - nodeHeaderSize) / (keyCodec.Size() + valCodec.Size())
	if t.innerCap < 2 || t.leafCap < 1 {
		return nil, fmt.Errorf("bptree: page size %d too small for key=%d value=%d", pageSize, keyCodec.Size(), valCodec.Size())
	}

	f, err := pages.AllocatePage(id)
	if err != nil {
		return nil, fmt.Errorf("bptree: allocate root: %w", err)
	}
	initNode(f.Bytes(), 0)
	t.root = f.PageID()
	pages.UnfixPage(f, true)
	return t, nil
}

func (t *Tree[K, V]) allocNode(level uint16) (segment.Frame, error) {
	f, err := t.base.Pages.AllocatePage(t.base.ID)
	if err != nil {
		return nil, fmt.Errorf("bptree: allocate node: %w", err)
	}
	initNode(f.Bytes(), level)
	return f, nil
}

// Lookup returns the value associated with key, if present. Traverses
// root-to-leaf with shared latches and hand-over-hand pin coupling: the
// parent is unfixed only once the child is fixed.
func (t *Tree[K, V]) Lookup(key K) (V, bool, error) {
	var zero V

	t.rootMu.Lock()
	rootHeld := true
	cur, err := t.base.Pages.FixPage(t.root, false)
	if err != nil {
		t.rootMu.Unlock()
		return zero, false, fmt.Errorf("bptree: fix root: %w", err)
	}

	var parent segment.Frame
	havePar := false

	for !isLeaf(cur.Bytes()) {
		buf := cur.Bytes()
		lb, _ := t.lowerBoundInner(buf, key)
		nextPID := t.innerChild(buf, lb)
		next, err := t.base.Pages.FixPage(nextPID, false)
		if err != nil {
			if havePar {
				t.base.Pages.UnfixPage(parent, false)
			}
			t.base.Pages.UnfixPage(cur, false)
			if rootHeld {
				t.rootMu.Unlock()
			}
			return zero, false, fmt.Errorf("bptree: fix child: %w", err)
		}
		if havePar {
			t.base.Pages.UnfixPage(parent, false)
		}
		if rootHeld {
			t.rootMu.Unlock()
			rootHeld = false
		}
		parent = cur
		havePar = true
		cur = next
	}

	buf := cur.Bytes()
	idx, found := t.lowerBoundLeaf(buf, key)
	var val V
	if found {
		val = t.leafValue(buf, idx)
	}

	if havePar {
		t.base.Pages.UnfixPage(parent, false)
	}
	if rootHeld {
		t.rootMu.Unlock()
	}
	t.base.Pages.UnfixPage(cur, false)
	return val, found, nil
}

// Insert adds or overwrites key/value, eagerly splitting any full node
// encountered on the way down so the leaf insert itself never splits.
func (t *Tree[K, V]) Insert(key K, value V) error {
	t.rootMu.Lock()
	rootHeld := true
	curPID := t.root
	cur, err := t.base.Pages.FixPage(curPID, true)
	if err != nil {
		t.rootMu.Unlock()
		return fmt.Errorf("bptree: fix root: %w", err)
	}
	curDirty := false

	var parent segment.Frame
	parentDirty := false
	havePar := false

	// bail releases everything the traversal still holds on an error path.
	bail := func(err error) error {
		if havePar {
			t.base.Pages.UnfixPage(parent, parentDirty)
		}
		t.base.Pages.UnfixPage(cur, curDirty)
		if rootHeld {
			t.rootMu.Unlock()
		}
		return err
	}

	for !isLeaf(cur.Bytes()) {
		buf := cur.Bytes()
		if int(getCount(buf)) >= t.innerCap+1 {
			rightFrame, err := t.allocNode(getLevel(buf))
			if err != nil {
				return bail(err)
			}
			splitKey := t.splitInner(buf, rightFrame.Bytes())
			rightPID := rightFrame.PageID()
			curDirty = true
			rightDirty := true

			if !havePar {
				newRootFrame, err := t.allocNode(getLevel(buf) + 1)
				if err != nil {
					t.base.Pages.UnfixPage(rightFrame, rightDirty)
					return bail(err)
				}
				setCount(newRootFrame.Bytes(), 1)
				t.setInnerChild(newRootFrame.Bytes(), 0, curPID)
				t.insertSplitInner(newRootFrame.Bytes(), splitKey, rightPID)
				t.root = newRootFrame.PageID()
				if rootHeld {
					t.rootMu.Unlock()
					rootHeld = false
				}
				parent = newRootFrame
				parentDirty = true
				havePar = true
			} else {
				t.insertSplitInner(parent.Bytes(), splitKey, rightPID)
				parentDirty = true
			}

			if t.cmp(key, splitKey) > 0 {
				t.base.Pages.UnfixPage(cur, curDirty)
				cur = rightFrame
				curPID = rightPID
				curDirty = rightDirty
			} else {
				t.base.Pages.UnfixPage(rightFrame, rightDirty)
			}
			buf = cur.Bytes()
		}

		lb, _ := t.lowerBoundInner(buf, key)
		nextPID := t.innerChild(buf, lb)
		next, err := t.base.Pages.FixPage(nextPID, true)
		if err != nil {
			return bail(fmt.Errorf("bptree: fix child: %w", err))
		}
		if havePar {
			t.base.Pages.UnfixPage(parent, parentDirty)
		}
		if rootHeld {
			t.rootMu.Unlock()
			rootHeld = false
		}
		parent = cur
		parentDirty = curDirty
		havePar = true
		curPID = nextPID
		cur = next
		curDirty = false
	}

	buf := cur.Bytes()
	if int(getCount(buf)) >= t.leafCap {
		rightFrame, err := t.allocNode(0)
		if err != nil {
			return bail(err)
		}
		splitKey := t.splitLeaf(buf, rightFrame.Bytes())
		rightPID := rightFrame.PageID()
		curDirty = true
		rightDirty := true

		if !havePar {
			newRootFrame, err := t.allocNode(1)
			if err != nil {
				t.base.Pages.UnfixPage(rightFrame, rightDirty)
				return bail(err)
			}
			setCount(newRootFrame.Bytes(), 1)
			t.setInnerChild(newRootFrame.Bytes(), 0, curPID)
			t.insertSplitInner(newRootFrame.Bytes(), splitKey, rightPID)
			t.root = newRootFrame.PageID()
			if rootHeld {
				t.rootMu.Unlock()
				rootHeld = false
			}
			parent = newRootFrame
			parentDirty = true
			havePar = true
		} else {
			t.insertSplitInner(parent.Bytes(), splitKey, rightPID)
			parentDirty = true
		}

		if t.cmp(key, splitKey) > 0 {
			t.base.Pages.UnfixPage(cur, curDirty)
			cur = rightFrame
			curDirty = rightDirty
		} else {
			t.base.Pages.UnfixPage(rightFrame, rightDirty)
		}
		buf = cur.Bytes()
	}

	t.insertLeaf(buf, key, value)
	curDirty = true

	if havePar {
		t.base.Pages.UnfixPage(parent, parentDirty)
	}
	if rootHeld {
		t.rootMu.Unlock()
	}
	t.base.Pages.UnfixPage(cur, curDirty)
	return nil
}

// Erase removes key, if present. No merging or rebalancing is performed;
// the tree may become sparse under heavy deletion, lookups stay correct.
func (t *Tree[K, V]) Erase(key K) error {
	t.rootMu.Lock()
	rootHeld := true
	cur, err := t.base.Pages.FixPage(t.root, true)
	if err != nil {
		t.rootMu.Unlock()
		return fmt.Errorf("bptree: fix root: %w", err)
	}

	var parent segment.Frame
	havePar := false

	for !isLeaf(cur.Bytes()) {
		buf := cur.Bytes()
		lb, _ := t.lowerBoundInner(buf, key)
		nextPID := t.innerChild(buf, lb)
		next, err := t.base.Pages.FixPage(nextPID, true)
		if err != nil {
			if havePar {
				t.base.Pages.UnfixPage(parent, false)
			}
			t.base.Pages.UnfixPage(cur, false)
			if rootHeld {
				t.rootMu.Unlock()
			}
			return fmt.Errorf("bptree: fix child: %w", err)
		}
		if havePar {
			t.base.Pages.UnfixPage(parent, false)
		}
		if rootHeld {
			t.rootMu.Unlock()
			rootHeld = false
		}
		parent = cur
		havePar = true
		cur = next
	}

	dirty := t.eraseLeaf(cur.Bytes(), key)

	if havePar {
		t.base.Pages.UnfixPage(parent, false)
	}
	if rootHeld {
		t.rootMu.Unlock()
	}
	t.base.Pages.UnfixPage(cur, dirty)
	return nil
}
