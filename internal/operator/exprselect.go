package operator

import "pagedb/internal/register"

// SelectExpr filters its child's rows by a compiled or interpreted
// expression (a register.Evaluator) over the attributes named in attrs,
// keeping rows whose result word is non-zero. It is the alternate
// predicate path the expression-JIT collaborator plugs into: the
// operator stays agnostic to whether Evaluate walks an expression tree
// or runs generated code.
type SelectExpr struct {
	child Operator
	ev    register.Evaluator
	attrs []int
	args  []register.Data64
	cur   register.Row
}

// NewSelectExpr wraps child, yielding only rows for which ev evaluates
// non-zero over the values at attrs (passed as the evaluator's argument
// vector, in order).
func NewSelectExpr(child Operator, ev register.Evaluator, attrs []int) *SelectExpr {
	return &SelectExpr{child: child, ev: ev, attrs: attrs, args: make([]register.Data64, len(attrs))}
}

func (s *SelectExpr) Open() error { return s.child.Open() }

func (s *SelectExpr) Next() (bool, error) {
	for {
		ok, err := s.child.Next()
		if err != nil || !ok {
			s.cur = nil
			return ok, err
		}
		row := s.child.GetOutput()
		for i, a := range s.attrs {
			d, err := register.Data64FromValue(row[a])
			if err != nil {
				return false, err
			}
			s.args[i] = d
		}
		if s.ev.Evaluate(s.args) != 0 {
			s.cur = row
			return true, nil
		}
	}
}

func (s *SelectExpr) GetOutput() register.Row { return s.cur }

func (s *SelectExpr) Close() error { return s.child.Close() }
