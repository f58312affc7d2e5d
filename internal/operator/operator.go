// Package operator implements the pull-based relational operator
// pipeline: Volcano-style iterators over register.Row tuples, each
// obeying the open/next/get_output/close contract. Row comparison and
// grouping keys use internal/register's pairwise Compare.
package operator

import (
	"fmt"
	"io"
	"sort"

	"pagedb/internal/register"
)

// Operator is the capability every pipeline stage exposes: Open
// initialises, Next advances and reports whether a row is available,
// GetOutput exposes the current row (valid until the next Next or
// Close), Close releases every resource the operator acquired. Close
// must be safe to call after any Next outcome, including before Open or
// after an error.
type Operator interface {
	Open() error
	Next() (bool, error)
	GetOutput() register.Row
	Close() error
}

// Rows is a leaf operator that serves a fixed, already-materialised
// sequence of rows. It stands in for a table scan or index lookup feed:
// callers that want to pull from real storage wrap an
// spseg.Segment/bptree.Tree scan behind this same Operator interface
// and splice it in wherever a Rows leaf would otherwise sit.
type Rows struct {
	src []register.Row
	pos int
	cur register.Row
}

// NewRows wraps a pre-built row slice as a leaf operator.
func NewRows(rows []register.Row) *Rows {
	return &Rows{src: rows}
}

func (r *Rows) Open() error {
	r.pos = 0
	return nil
}

func (r *Rows) Next() (bool, error) {
	if r.pos >= len(r.src) {
		r.cur = nil
		return false, nil
	}
	r.cur = r.src[r.pos]
	r.pos++
	return true, nil
}

func (r *Rows) GetOutput() register.Row { return r.cur }

func (r *Rows) Close() error {
	r.cur = nil
	return nil
}

// Print writes each input row as comma-separated values plus a newline
// to w. It produces no output tuples of its own — GetOutput always
// returns an empty row rather than needing a distinct sink type.
type Print struct {
	child Operator
	w     io.Writer
}

// NewPrint wraps child, writing every row it produces to w.
func NewPrint(child Operator, w io.Writer) *Print {
	return &Print{child: child, w: w}
}

func (p *Print) Open() error { return p.child.Open() }

func (p *Print) Next() (bool, error) {
	ok, err := p.child.Next()
	if err != nil || !ok {
		return ok, err
	}
	row := p.child.GetOutput()
	for i, v := range row {
		if i > 0 {
			if _, err := fmt.Fprint(p.w, ","); err != nil {
				return false, err
			}
		}
		if err := writeValue(p.w, v); err != nil {
			return false, err
		}
	}
	if _, err := fmt.Fprintln(p.w); err != nil {
		return false, err
	}
	return true, nil
}

func writeValue(w io.Writer, v register.Value) error {
	switch v.Kind() {
	case register.Int64:
		_, err := fmt.Fprintf(w, "%d", v.Int64())
		return err
	case register.Char16:
		_, err := fmt.Fprintf(w, "%s", v.Char16())
		return err
	default:
		return fmt.Errorf("operator: print unknown register kind %d", v.Kind())
	}
}

func (p *Print) GetOutput() register.Row { return register.Row{} }

func (p *Print) Close() error { return p.child.Close() }

// Projection reorders/filters a row's attributes by index, preserving
// the caller-specified output order (which need not match input-index
// order, but is itself stable).
type Projection struct {
	child Operator
	attrs []int
	cur   register.Row
}

// NewProjection projects child's rows onto attrs, in the given order.
func NewProjection(child Operator, attrs []int) *Projection {
	return &Projection{child: child, attrs: attrs}
}

func (p *Projection) Open() error { return p.child.Open() }

func (p *Projection) Next() (bool, error) {
	ok, err := p.child.Next()
	if err != nil || !ok {
		p.cur = nil
		return ok, err
	}
	in := p.child.GetOutput()
	out := make(register.Row, len(p.attrs))
	for i, a := range p.attrs {
		out[i] = in[a]
	}
	p.cur = out
	return true, nil
}

func (p *Projection) GetOutput() register.Row { return p.cur }

func (p *Projection) Close() error { return p.child.Close() }

// CompareOp is one of the six relational operators a Select predicate
// may use.
type CompareOp int

const (
	OpEQ CompareOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

// Predicate is one of {attr op const, attr op attr}.
// Exactly one of Const or RightAttr must be set; RightAttr takes
// precedence if both happen to be populated (callers should set only
// one).
type Predicate struct {
	LeftAttr  int
	Op        CompareOp
	Const     *register.Value
	RightAttr *int
}

func (p Predicate) eval(row register.Row) (bool, error) {
	left := row[p.LeftAttr]
	var right register.Value
	if p.RightAttr != nil {
		right = row[*p.RightAttr]
	} else if p.Const != nil {
		right = *p.Const
	} else {
		return false, fmt.Errorf("operator: predicate has neither Const nor RightAttr")
	}
	c, err := register.Compare(left, right)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case OpEQ:
		return c == 0, nil
	case OpNE:
		return c != 0, nil
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	case OpGE:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("operator: unknown compare op %d", p.Op)
	}
}

// Select filters child's rows by pred, short-circuiting on the first
// matching row per call to Next.
type Select struct {
	child Operator
	pred  Predicate
	cur   register.Row
}

// NewSelect wraps child, yielding only rows satisfying pred.
func NewSelect(child Operator, pred Predicate) *Select {
	return &Select{child: child, pred: pred}
}

func (s *Select) Open() error { return s.child.Open() }

func (s *Select) Next() (bool, error) {
	for {
		ok, err := s.child.Next()
		if err != nil || !ok {
			s.cur = nil
			return ok, err
		}
		row := s.child.GetOutput()
		match, err := s.pred.eval(row)
		if err != nil {
			return false, err
		}
		if match {
			s.cur = row
			return true, nil
		}
	}
}

func (s *Select) GetOutput() register.Row { return s.cur }

func (s *Select) Close() error { return s.child.Close() }

// SortCriterion orders by Attr ascending unless Desc is set.
type SortCriterion struct {
	Attr int
	Desc bool
}

// Sort materialises the entire input and sorts it stably: criteria are
// applied in reverse (last criterion first, first criterion last),
// which, because sort.SliceStable is a stable inner sort, is equivalent
// to one lexicographic multi-key sort using the first criterion as the
// primary key.
type Sort struct {
	child    Operator
	criteria []SortCriterion
	rows     []register.Row
	pos      int
	cur      register.Row
}

// NewSort wraps child, yielding its rows sorted by criteria.
func NewSort(child Operator, criteria []SortCriterion) *Sort {
	return &Sort{child: child, criteria: criteria}
}

func (s *Sort) Open() error {
	if err := s.child.Open(); err != nil {
		return err
	}
	s.rows = nil
	for {
		ok, err := s.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		s.rows = append(s.rows, s.child.GetOutput().Clone())
	}
	for i := len(s.criteria) - 1; i >= 0; i-- {
		c := s.criteria[i]
		sort.SliceStable(s.rows, func(a, b int) bool {
			cmp := register.MustCompare(s.rows[a][c.Attr], s.rows[b][c.Attr])
			if c.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	s.pos = 0
	return nil
}

func (s *Sort) Next() (bool, error) {
	if s.pos >= len(s.rows) {
		s.cur = nil
		return false, nil
	}
	s.cur = s.rows[s.pos]
	s.pos++
	return true, nil
}

func (s *Sort) GetOutput() register.Row { return s.cur }

func (s *Sort) Close() error {
	s.rows = nil
	return s.child.Close()
}
