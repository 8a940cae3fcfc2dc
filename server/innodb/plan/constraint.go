// Package plan implements the Iterators and Planner (§4.8): a full
// table-scan iterator that spills matched, projected rows to a temp file,
// an index-range iterator for covered single-column constraints, and a
// planner that picks between them per table.
package plan

import "github.com/latticedb/lattice/server/innodb/basic"

// Op is a WHERE-clause comparison operator.
type Op int

const (
	OpEQ Op = iota
	OpLT
	OpLE
	OpGT
	OpGE
)

// WhereConstraint is one `col op value` predicate evaluated against a row's
// decoded values, keyed by the field's position in the table's schema.
type WhereConstraint struct {
	FieldIndex int
	Op         Op
	Value      basic.Value
}

// Eval reports whether v satisfies this constraint. v and c.Value must share
// a Kind — the planner only ever builds constraints from parsed literals
// coerced to the column's declared type.
func (c WhereConstraint) Eval(v basic.Value) bool {
	if v.IsNull() {
		return false
	}
	cmp := v.Compare(c.Value)
	switch c.Op {
	case OpEQ:
		return cmp == 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	}
	return false
}

func evalAll(constraints []WhereConstraint, values []basic.Value) bool {
	for _, c := range constraints {
		if c.FieldIndex >= len(values) || !c.Eval(values[c.FieldIndex]) {
			return false
		}
	}
	return true
}
