package register

import "fmt"

// Data64 is the expression JIT's untyped 8-byte register: every argument
// and result crosses the JIT boundary as a raw 64-bit word, reinterpreted
// per the expression tree's declared value type.
type Data64 uint64

// Evaluator is the data-flow contract of the expression-JIT collaborator:
// Evaluate either interprets an expression tree or dispatches to compiled
// code — this module depends only on the contract, never on how the
// result was produced. The operator pipeline plugs an Evaluator in as an
// alternate Select predicate (see operator.SelectExpr).
type Evaluator interface {
	Evaluate(args []Data64) Data64
}

// Data64FromValue reinterprets an INT64 register as a JIT argument word.
// A CHAR16 value does not fit the 8-byte register and is a contract
// violation on the caller's part.
func Data64FromValue(v Value) (Data64, error) {
	if v.kind != Int64 {
		return 0, fmt.Errorf("register: %s value cannot cross the data64 boundary", v.kind)
	}
	return Data64(uint64(v.i)), nil
}

// ValueFromData64 wraps a JIT result word as an INT64 register.
func ValueFromData64(d Data64) Value { return NewInt64(int64(d)) }
