package plan

import "github.com/latticedb/lattice/server/innodb/basic"

// Row is one materialized result row: the projected column values in
// projection order, plus the source (page, slot) locator the row came from
// (useful for a caller that wants to DELETE what it just SELECTed).
type Row struct {
	SourcePage uint32
	SourceSlot int
	Values     []basic.Value
}

// Iterator yields Rows one at a time until exhausted.
type Iterator interface {
	Next() (Row, bool, error)
	Close() error
}

// projectionIndices returns the schema field indices to output for the given
// projection (nil or empty projection means every field, in schema order).
func projectionIndices(fieldCount int, projection []int) []int {
	if len(projection) == 0 {
		all := make([]int, fieldCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return projection
}

func project(values []basic.Value, indices []int) []basic.Value {
	out := make([]basic.Value, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}
