package bptree

import "encoding/binary"

// nodeHeaderSize is the common node header:
//
//	[0:2] Level (uint16 LE) — 0 for a leaf
//	[2:4] Count (uint16 LE)
//	[4:8] Reserved
//
// The key array follows the header; the child (inner) or value (leaf)
// array follows the key array.
const nodeHeaderSize = 8

func getLevel(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf[0:]) }
func setLevel(buf []byte, v uint16) {
	binary.LittleEndian.PutUint16(buf[0:], v)
}

func getCount(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf[2:]) }
func setCount(buf []byte, v uint16) {
	binary.LittleEndian.PutUint16(buf[2:], v)
}

// initNode writes an empty node header: the given level, zero entries.
func initNode(buf []byte, level uint16) {
	setLevel(buf, level)
	setCount(buf, 0)
}

func isLeaf(buf []byte) bool { return getLevel(buf) == 0 }

// keyLowerBound returns the first index i in the n packed keys starting
// at buf[keyOff:] with keys[i] >= key (branchless fold variant), and
// whether keys[i] == key.
func keyLowerBound[K any](buf []byte, keyOff, keySize int, n int, key K, codec Codec[K], cmp func(K, K) int) (int, bool) {
	if n == 0 {
		return 0, false
	}
	lower := 0
	m := n
	at := func(i int) K { return codec.Decode(buf[keyOff+i*keySize : keyOff+(i+1)*keySize]) }
	for m > 1 {
		half := m / 2
		if cmp(at(lower+half), key) < 0 {
			lower += half
		}
		m -= half
	}
	if cmp(at(lower), key) < 0 {
		lower++
	}
	found := lower < n && cmp(at(lower), key) == 0
	return lower, found
}
