// setops.go implements the six multiset/set combinators — UnionAll,
// Union, IntersectAll, Intersect, ExceptAll, Except — each built over
// two same-schema child operators compared by their full tuple
// (fullRowKey). The All variants carry per-key counts so multiplicities
// follow SQL multiset semantics; the plain variants are set-valued.
package operator

import "pagedb/internal/register"

// UnionAll streams left fully, then right — multiset union, no
// deduplication.
type UnionAll struct {
	left, right Operator
	onRight     bool
	cur         register.Row
}

// NewUnionAll concatenates left and right.
func NewUnionAll(left, right Operator) *UnionAll {
	return &UnionAll{left: left, right: right}
}

func (u *UnionAll) Open() error {
	u.onRight = false
	if err := u.left.Open(); err != nil {
		return err
	}
	return u.right.Open()
}

func (u *UnionAll) Next() (bool, error) {
	if !u.onRight {
		ok, err := u.left.Next()
		if err != nil {
			return false, err
		}
		if ok {
			u.cur = u.left.GetOutput()
			return true, nil
		}
		u.onRight = true
	}
	ok, err := u.right.Next()
	if err != nil {
		return false, err
	}
	if !ok {
		u.cur = nil
		return false, nil
	}
	u.cur = u.right.GetOutput()
	return true, nil
}

func (u *UnionAll) GetOutput() register.Row { return u.cur }

func (u *UnionAll) Close() error {
	err1 := u.left.Close()
	err2 := u.right.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Union is UnionAll with cross-stream deduplication.
type Union struct {
	left, right Operator
	rows        []register.Row
	pos         int
	cur         register.Row
}

// NewUnion deduplicates the combined stream of left and right.
func NewUnion(left, right Operator) *Union {
	return &Union{left: left, right: right}
}

func (u *Union) Open() error {
	if err := u.left.Open(); err != nil {
		return err
	}
	if err := u.right.Open(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	u.rows = nil
	for _, child := range []Operator{u.left, u.right} {
		for {
			ok, err := child.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			row := child.GetOutput()
			k := fullRowKey(row)
			if !seen[k] {
				seen[k] = true
				u.rows = append(u.rows, row.Clone())
			}
		}
	}
	if err := u.left.Close(); err != nil {
		return err
	}
	if err := u.right.Close(); err != nil {
		return err
	}
	u.pos = 0
	return nil
}

func (u *Union) Next() (bool, error) {
	if u.pos >= len(u.rows) {
		u.cur = nil
		return false, nil
	}
	u.cur = u.rows[u.pos]
	u.pos++
	return true, nil
}

func (u *Union) GetOutput() register.Row { return u.cur }

func (u *Union) Close() error {
	u.rows = nil
	return nil
}

// buildCounts materialises op fully into a key->occurrence-count map.
func buildCounts(op Operator) (map[string]int, error) {
	if err := op.Open(); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for {
		ok, err := op.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		counts[fullRowKey(op.GetOutput())]++
	}
	return counts, op.Close()
}

// IntersectAll builds a multiset of counts from left, then streams
// right, emitting each match and decrementing its count so
// multiplicities follow SQL's min(count_L, count_R).
type IntersectAll struct {
	left, right Operator
	counts      map[string]int
	cur         register.Row
}

// NewIntersectAll computes the multiset intersection of left and right.
func NewIntersectAll(left, right Operator) *IntersectAll {
	return &IntersectAll{left: left, right: right}
}

func (ix *IntersectAll) Open() error {
	counts, err := buildCounts(ix.left)
	if err != nil {
		return err
	}
	ix.counts = counts
	return ix.right.Open()
}

func (ix *IntersectAll) Next() (bool, error) {
	for {
		ok, err := ix.right.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			ix.cur = nil
			return false, nil
		}
		row := ix.right.GetOutput()
		k := fullRowKey(row)
		if ix.counts[k] > 0 {
			ix.counts[k]--
			ix.cur = row
			return true, nil
		}
	}
}

func (ix *IntersectAll) GetOutput() register.Row { return ix.cur }

func (ix *IntersectAll) Close() error {
	ix.counts = nil
	return ix.right.Close()
}

// Intersect is IntersectAll narrowed to set semantics: a match is
// consumed entirely (not merely decremented) the first time it is
// emitted, so duplicate matching rows on either side collapse to one
// output row.
type Intersect struct {
	left, right Operator
	present     map[string]bool
	cur         register.Row
}

// NewIntersect computes the set intersection of left and right.
func NewIntersect(left, right Operator) *Intersect {
	return &Intersect{left: left, right: right}
}

func (ix *Intersect) Open() error {
	counts, err := buildCounts(ix.left)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(counts))
	for k := range counts {
		present[k] = true
	}
	ix.present = present
	return ix.right.Open()
}

func (ix *Intersect) Next() (bool, error) {
	for {
		ok, err := ix.right.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			ix.cur = nil
			return false, nil
		}
		row := ix.right.GetOutput()
		k := fullRowKey(row)
		if ix.present[k] {
			delete(ix.present, k)
			ix.cur = row
			return true, nil
		}
	}
}

func (ix *Intersect) GetOutput() register.Row { return ix.cur }

func (ix *Intersect) Close() error {
	ix.present = nil
	return ix.right.Close()
}

// ExceptAll builds a multiset of counts from right, then streams left,
// emitting each row not (or no longer) covered by a right occurrence —
// SQL EXCEPT ALL multiset difference.
type ExceptAll struct {
	left, right Operator
	counts      map[string]int
	cur         register.Row
}

// NewExceptAll computes the multiset difference left minus right.
func NewExceptAll(left, right Operator) *ExceptAll {
	return &ExceptAll{left: left, right: right}
}

func (ex *ExceptAll) Open() error {
	counts, err := buildCounts(ex.right)
	if err != nil {
		return err
	}
	ex.counts = counts
	return ex.left.Open()
}

func (ex *ExceptAll) Next() (bool, error) {
	for {
		ok, err := ex.left.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			ex.cur = nil
			return false, nil
		}
		row := ex.left.GetOutput()
		k := fullRowKey(row)
		if ex.counts[k] > 0 {
			ex.counts[k]--
			continue
		}
		ex.cur = row
		return true, nil
	}
}

func (ex *ExceptAll) GetOutput() register.Row { return ex.cur }

func (ex *ExceptAll) Close() error {
	ex.counts = nil
	return ex.left.Close()
}

// Except computes the set difference left minus right. A left row that
// survives (because it is absent from right) is folded into the same
// "seen" set right rows occupy, so a second occurrence of that same
// left value is also suppressed — SQL EXCEPT's output is a set.
type Except struct {
	left, right Operator
	seen        map[string]bool
	cur         register.Row
}

// NewExcept computes the set difference left minus right.
func NewExcept(left, right Operator) *Except {
	return &Except{left: left, right: right}
}

func (ex *Except) Open() error {
	counts, err := buildCounts(ex.right)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(counts))
	for k := range counts {
		seen[k] = true
	}
	ex.seen = seen
	return ex.left.Open()
}

func (ex *Except) Next() (bool, error) {
	for {
		ok, err := ex.left.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			ex.cur = nil
			return false, nil
		}
		row := ex.left.GetOutput()
		k := fullRowKey(row)
		if ex.seen[k] {
			continue
		}
		ex.seen[k] = true
		ex.cur = row
		return true, nil
	}
}

func (ex *Except) GetOutput() register.Row { return ex.cur }

func (ex *Except) Close() error {
	ex.seen = nil
	return ex.left.Close()
}
