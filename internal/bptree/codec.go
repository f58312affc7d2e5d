// Package bptree implements a generic B+Tree index whose nodes live in
// pages fixed through a segment.PageSource: eager top-down splitting on
// insert, branchless binary search, hand-over-hand latch coupling, and a
// single root-pointer mutex guarding publication of a new root.
package bptree

import "encoding/binary"

// Codec serializes a fixed-width value of type T to and from a byte
// slice of exactly Size() bytes, letting the tree treat keys and values
// as opaque fixed-size fields packed back to back in a node page.
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// Uint64Codec codes a plain uint64, the key/value shape a TID or row-id
// index uses.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

func (Uint64Codec) Decode(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// Char16 is a fixed 16-byte string, matching the register package's
// CHAR16 tag, usable as a B+Tree key or value.
type Char16 [16]byte

// Char16Codec codes a Char16 verbatim.
type Char16Codec struct{}

func (Char16Codec) Size() int { return 16 }

func (Char16Codec) Encode(dst []byte, v Char16) { copy(dst, v[:]) }

func (Char16Codec) Decode(src []byte) Char16 {
	var v Char16
	copy(v[:], src[:16])
	return v
}

// CompareUint64 is the natural Comparator for Uint64Codec keys.
func CompareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareChar16 is the natural Comparator for Char16Codec keys:
// lexicographic byte comparison.
func CompareChar16(a, b Char16) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
