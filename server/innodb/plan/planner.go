package plan

import (
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
	"github.com/latticedb/lattice/server/innodb/table"
)

// Planner chooses an iterator per table: an index-range scan on the first
// covered `col op value` constraint, or a full RecordIterator otherwise
// (§4.8). It never joins — one iterator per table, multi-table joins are
// out of scope.
type Planner struct {
	fm   *filemap.FileMapper
	pool *buffer_pool.BufferPool
}

func NewPlanner(fm *filemap.FileMapper, pool *buffer_pool.BufferPool) *Planner {
	return &Planner{fm: fm, pool: pool}
}

// Plan builds the iterator for one table scan, given the WHERE constraints
// that apply to it and the column projection (nil/empty for `SELECT *`).
func (p *Planner) Plan(tbl *table.Table, constraints []WhereConstraint, projection []int) Iterator {
	for i, c := range constraints {
		for _, idx := range tbl.Indexes() {
			if covers(idx, c) {
				rest := make([]WhereConstraint, 0, len(constraints)-1)
				rest = append(rest, constraints[:i]...)
				rest = append(rest, constraints[i+1:]...)
				return NewIndexIterator(tbl, idx, c, rest, projection)
			}
		}
	}
	return NewRecordIterator(tbl, p.fm, p.pool, projection, constraints)
}
