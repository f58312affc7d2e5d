package operator

import (
	"pagedb/internal/register"
)

// HashJoin implements the classic build/probe inner equi-join: Open
// consumes the entire left child into a multimap keyed by its join
// attribute (one key may map to many left rows), then Next streams the
// right child, probing the map and emitting the concatenation of each
// matching left row with the current right row.
type HashJoin struct {
	left, right       Operator
	leftIdx, rightIdx int

	buckets map[string][]register.Row

	rightCur register.Row
	rightOK  bool
	matches  []register.Row
	matchPos int
	cur      register.Row
}

// NewHashJoin builds a HashJoin over left.leftIdx = right.rightIdx.
func NewHashJoin(left, right Operator, leftIdx, rightIdx int) *HashJoin {
	return &HashJoin{left: left, right: right, leftIdx: leftIdx, rightIdx: rightIdx}
}

func (h *HashJoin) Open() error {
	if err := h.left.Open(); err != nil {
		return err
	}
	h.buckets = make(map[string][]register.Row)
	for {
		ok, err := h.left.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row := h.left.GetOutput().Clone()
		k := rowKey(row, []int{h.leftIdx})
		h.buckets[k] = append(h.buckets[k], row)
	}
	if err := h.left.Close(); err != nil {
		return err
	}
	return h.right.Open()
}

func (h *HashJoin) Next() (bool, error) {
	for {
		if h.matchPos < len(h.matches) {
			left := h.matches[h.matchPos]
			h.matchPos++
			h.cur = concatRows(left, h.rightCur)
			return true, nil
		}

		ok, err := h.right.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			h.cur = nil
			return false, nil
		}
		h.rightCur = h.right.GetOutput()
		k := rowKey(h.rightCur, []int{h.rightIdx})
		h.matches = h.buckets[k]
		h.matchPos = 0
	}
}

func concatRows(a, b register.Row) register.Row {
	out := make(register.Row, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func (h *HashJoin) GetOutput() register.Row { return h.cur }

func (h *HashJoin) Close() error {
	h.buckets = nil
	h.matches = nil
	return h.right.Close()
}
