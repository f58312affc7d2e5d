package operator

import (
	"fmt"
	"strings"

	"pagedb/internal/register"
)

// valueKey renders a single Register value as a comparable string key,
// tagged by kind so an INT64 and a CHAR16 with coincidentally similar
// textual forms never collide.
func valueKey(v register.Value) string {
	switch v.Kind() {
	case register.Int64:
		return fmt.Sprintf("i:%d", v.Int64())
	case register.Char16:
		return "s:" + v.Char16()
	default:
		return fmt.Sprintf("?:%v", v)
	}
}

// rowKey renders the values at attrs (in order) as one signature
// string, used for GROUP BY bucketing and join hashing.
func rowKey(row register.Row, attrs []int) string {
	var b strings.Builder
	for i, a := range attrs {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(valueKey(row[a]))
	}
	return b.String()
}

// fullRowKey renders every attribute of row as one signature string,
// used by the set operators (Union/Intersect/Except) which compare
// whole tuples rather than a projected key.
func fullRowKey(row register.Row) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(valueKey(v))
	}
	return b.String()
}
