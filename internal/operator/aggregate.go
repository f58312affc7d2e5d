package operator

import (
	"fmt"

	"pagedb/internal/register"
)

// AggrFunc selects one of the four supported aggregate functions.
type AggrFunc int

const (
	AggrCount AggrFunc = iota
	AggrSum
	AggrMin
	AggrMax
)

// AggrSpec names one aggregate to compute over Attr.
type AggrSpec struct {
	Func AggrFunc
	Attr int
}

// HashAggregation materialises its input, groups rows by the tuple of
// GroupBy attribute values, and computes one output row per group: the
// group-by values followed by each requested aggregate. With an empty
// GroupBy list, a single row is produced for the whole input (COUNT
// over empty input is 0; MIN/MAX are undefined on empty input and
// omitted from the output row; SUM is 0). All four aggregates are
// computed per group regardless of grouping mode.
type HashAggregation struct {
	child   Operator
	groupBy []int
	aggrs   []AggrSpec

	rows []register.Row
	pos  int
	cur  register.Row
}

// NewHashAggregation groups child's rows by groupBy and computes aggrs
// per group.
func NewHashAggregation(child Operator, groupBy []int, aggrs []AggrSpec) *HashAggregation {
	return &HashAggregation{child: child, groupBy: groupBy, aggrs: aggrs}
}

type aggrState struct {
	count   int64
	sum     int64
	haveMin bool
	min     register.Value
	haveMax bool
	max     register.Value
}

func (a *aggrState) accumulate(v register.Value) error {
	a.count++
	if v.Kind() == register.Int64 {
		a.sum += v.Int64()
	}
	if !a.haveMin {
		a.min, a.haveMin = v, true
	} else if c, err := register.Compare(v, a.min); err != nil {
		return err
	} else if c < 0 {
		a.min = v
	}
	if !a.haveMax {
		a.max, a.haveMax = v, true
	} else if c, err := register.Compare(v, a.max); err != nil {
		return err
	} else if c > 0 {
		a.max = v
	}
	return nil
}

func (a *aggrState) result(f AggrFunc) (register.Value, bool) {
	switch f {
	case AggrCount:
		return register.NewInt64(a.count), true
	case AggrSum:
		return register.NewInt64(a.sum), true
	case AggrMin:
		return a.min, a.haveMin
	case AggrMax:
		return a.max, a.haveMax
	default:
		return register.Value{}, false
	}
}

func (h *HashAggregation) Open() error {
	if err := h.child.Open(); err != nil {
		return err
	}

	type group struct {
		key    register.Row
		states []*aggrState
	}
	order := make([]string, 0)
	groups := make(map[string]*group)
	n := 0

	for {
		ok, err := h.child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row := h.child.GetOutput()
		n++

		var k string
		if len(h.groupBy) > 0 {
			k = rowKey(row, h.groupBy)
		}
		g, seen := groups[k]
		if !seen {
			keyRow := make(register.Row, len(h.groupBy))
			for i, a := range h.groupBy {
				keyRow[i] = row[a]
			}
			g = &group{key: keyRow, states: make([]*aggrState, len(h.aggrs))}
			for i := range g.states {
				g.states[i] = &aggrState{}
			}
			groups[k] = g
			order = append(order, k)
		}
		for i, spec := range h.aggrs {
			if err := g.states[i].accumulate(row[spec.Attr]); err != nil {
				return err
			}
		}
	}
	if err := h.child.Close(); err != nil {
		return err
	}

	h.rows = nil
	if len(h.groupBy) == 0 && n == 0 {
		// Empty input, no grouping: one row of defaults. COUNT is 0,
		// SUM is 0, MIN/MAX are undefined on empty input and omitted.
		out := register.Row{}
		for _, spec := range h.aggrs {
			switch spec.Func {
			case AggrCount:
				out = append(out, register.NewInt64(0))
			case AggrSum:
				out = append(out, register.NewInt64(0))
			case AggrMin, AggrMax:
				// omitted
			}
		}
		h.rows = append(h.rows, out)
		h.pos = 0
		return nil
	}

	for _, k := range order {
		g := groups[k]
		out := append(register.Row{}, g.key...)
		for i, spec := range h.aggrs {
			v, ok := g.states[i].result(spec.Func)
			if !ok {
				return fmt.Errorf("operator: aggregate %d undefined on non-empty group (unreachable)", spec.Func)
			}
			out = append(out, v)
		}
		h.rows = append(h.rows, out)
	}
	h.pos = 0
	return nil
}

func (h *HashAggregation) Next() (bool, error) {
	if h.pos >= len(h.rows) {
		h.cur = nil
		return false, nil
	}
	h.cur = h.rows[h.pos]
	h.pos++
	return true, nil
}

func (h *HashAggregation) GetOutput() register.Row { return h.cur }

func (h *HashAggregation) Close() error {
	h.rows = nil
	return nil
}
