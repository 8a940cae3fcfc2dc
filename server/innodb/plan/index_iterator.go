package plan

import (
	"math"

	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/index"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/table"
)

// IndexIterator walks a covering index's leaf chain over the half-open key
// range [lbound, rbound) derived from a single `col op value` constraint
// (§4.8): EQ -> [v, v+1), LT -> [-inf, v), LE -> [-inf, v+1), GT -> [v+1,
// +inf), GE -> [v, +inf). Every entry in the range is dereferenced and its
// source row is checked against the covering constraint (index keys are
// lossy for FLOAT/VARCHAR, §4.6) and against every non-covered constraint.
type IndexIterator struct {
	src        *table.Table
	idx        *index.Meta
	other      []WhereConstraint
	projection []int
	lbound     []int32
	rbound     []int32 // nil = unbounded

	pending []Row
	pendIdx int
	started bool
}

// covers reports whether idx's leading field is the one constraint c tests,
// i.e. whether an index-range scan can serve c directly.
func covers(idx *index.Meta, c WhereConstraint) bool {
	return len(idx.Fields) > 0 && idx.Fields[0].PersIndex == c.FieldIndex
}

func boundsForOp(op Op, key int32) (lbound []int32, rbound []int32) {
	switch op {
	case OpEQ:
		return []int32{key}, []int32{key + 1}
	case OpLT:
		return nil, []int32{key}
	case OpLE:
		return nil, []int32{key + 1}
	case OpGT:
		return []int32{key + 1}, nil
	case OpGE:
		return []int32{key}, nil
	}
	return nil, nil
}

// NewIndexIterator builds an index-range iterator over idx, using `covering`
// as the bound-producing constraint and evaluating every constraint in
// `rest` against the dereferenced row.
func NewIndexIterator(src *table.Table, idx *index.Meta, covering WhereConstraint, rest []WhereConstraint, projection []int) *IndexIterator {
	component := index.ExtractComponent(idx.Fields[0], covering.Value)
	op := covering.Op
	if idx.Fields[0].Type != metadata.TypeInt {
		// A lossy key component can be shared by values on both sides of a
		// strict bound, so the boundary bucket is kept and the row recheck
		// below decides.
		switch op {
		case OpLT:
			op = OpLE
		case OpGT:
			op = OpGE
		}
	}
	lbound, rbound := boundsForOp(op, component)

	var lkey []int32
	if lbound != nil {
		lkey = fullProbeKey(idx.Tree.KeyNum(), lbound[0])
	}

	return &IndexIterator{
		src:        src,
		idx:        idx,
		other:      append(append([]WhereConstraint(nil), rest...), covering),
		projection: projectionIndices(len(src.Schema.Fields), projection),
		lbound:     lkey,
		rbound:     rbound,
	}
}

// fullProbeKey pads a single leading component out to the tree's full key
// width with MinInt32, matching the sentinel convention internal nodes use
// (§4.5): any real key with this leading component sorts at or after it.
func fullProbeKey(keyNum int, leading int32) []int32 {
	key := make([]int32, keyNum)
	key[0] = leading
	for i := 1; i < keyNum; i++ {
		key[i] = math.MinInt32
	}
	return key
}

func (it *IndexIterator) Next() (Row, bool, error) {
	if !it.started {
		it.started = true
		if err := it.collect(); err != nil {
			return Row{}, false, err
		}
	}
	if it.pendIdx >= len(it.pending) {
		return Row{}, false, nil
	}
	row := it.pending[it.pendIdx]
	it.pendIdx++
	return row, true, nil
}

func (it *IndexIterator) collect() error {
	srcMgr := it.src.RecordManager()
	return it.idx.Tree.RangeAscending(it.lbound, func(key []int32, e btree.LeafEntry) (bool, error) {
		if it.rbound != nil && key[0] >= it.rbound[0] {
			return false, nil
		}

		var data []byte
		var err error
		if len(e.Inline) > 0 {
			data = e.Inline
		} else {
			data, err = srcMgr.GetRecordRef(e.PageNo, int(e.SlotNo))
			if err != nil {
				return false, err
			}
		}
		vals := metadata.DecodeRecord(it.src.Schema, data)
		if !evalAll(it.other, vals) {
			return true, nil
		}
		it.pending = append(it.pending, Row{
			SourcePage: e.PageNo,
			SourceSlot: int(e.SlotNo),
			Values:     project(vals, it.projection),
		})
		return true, nil
	})
}

func (it *IndexIterator) Close() error { return nil }
