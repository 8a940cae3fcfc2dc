package plan

import (
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/record"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
	"github.com/latticedb/lattice/server/innodb/table"
)

// QueryMaxPages bounds how many destination (spill) pages a single
// RecordIterator fill cycle accumulates before it starts draining them back
// to the caller (§4.8 "Block size is bounded by QUERY_MAX_PAGES destination
// pages per fill").
const QueryMaxPages = 64

// RecordIterator is a full table scan (§4.8): it walks the source table's
// data pages in order, evaluates every constraint against each live row, and
// materializes matching, projected rows into a temp file a block at a time
// rather than building the whole result set in memory up front.
type RecordIterator struct {
	src         *table.Table
	projection  []int
	constraints []WhereConstraint
	fm          *filemap.FileMapper
	pool        *buffer_pool.BufferPool
	spillSchema *metadata.TableSchema

	nextSrcPage uint32
	done        bool

	spillID   basic.FileID
	spillMgr  *record.Manager
	spillLive []spillSlot
	drainIdx  int
	haveSpill bool
}

type spillSlot struct {
	pageNo uint32
	slot   int
	source struct {
		pageNo uint32
		slot   int
	}
}

// NewRecordIterator builds a full-scan iterator over src, projecting the
// given field indices (nil/empty means every field) and filtering by every
// constraint in constraints.
func NewRecordIterator(src *table.Table, fm *filemap.FileMapper, pool *buffer_pool.BufferPool, projection []int, constraints []WhereConstraint) *RecordIterator {
	indices := projectionIndices(len(src.Schema.Fields), projection)
	projFields := make([]metadata.Field, len(indices))
	for i, idx := range indices {
		f := src.Schema.Fields[idx]
		f.NotNull = false // the spill layout never rejects a value the source already accepted
		projFields[i] = f
	}
	return &RecordIterator{
		src:         src,
		projection:  indices,
		constraints: constraints,
		fm:          fm,
		pool:        pool,
		spillSchema: metadata.NewTableSchema(projFields),
	}
}

func (it *RecordIterator) Next() (Row, bool, error) {
	for {
		if it.haveSpill {
			if it.drainIdx < len(it.spillLive) {
				s := it.spillLive[it.drainIdx]
				it.drainIdx++
				data, err := it.spillMgr.GetRecordRef(s.pageNo, s.slot)
				if err != nil {
					return Row{}, false, err
				}
				vals := metadata.DecodeRecord(it.spillSchema, data)
				return Row{SourcePage: s.source.pageNo, SourceSlot: s.source.slot, Values: vals}, true, nil
			}
			if err := it.closeSpill(); err != nil {
				return Row{}, false, err
			}
		}
		if it.done {
			return Row{}, false, nil
		}
		if err := it.fill(); err != nil {
			return Row{}, false, err
		}
	}
}

func (it *RecordIterator) fill() error {
	spillID, err := it.fm.CreateTemp()
	if err != nil {
		return err
	}
	spillMgr := record.Open(spillID, it.pool, it.spillSchema.RecordLen, 0, record.NoNext)

	srcMgr := it.src.RecordManager()
	nPages := srcMgr.NPages()
	var live []spillSlot

	for ; it.nextSrcPage < nPages; it.nextSrcPage++ {
		slots, err := srcMgr.LiveSlots(it.nextSrcPage)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			data, err := srcMgr.GetRecordRef(it.nextSrcPage, slot)
			if err != nil {
				return err
			}
			vals := metadata.DecodeRecord(it.src.Schema, data)
			if !evalAll(it.constraints, vals) {
				continue
			}
			projVals := project(vals, it.projection)
			buf, err := metadata.EncodeRecord(it.spillSchema, projVals)
			if err != nil {
				return err
			}
			destPage, destSlot, err := spillMgr.Insert(buf)
			if err != nil {
				return err
			}
			entry := spillSlot{pageNo: destPage, slot: destSlot}
			entry.source.pageNo = it.nextSrcPage
			entry.source.slot = slot
			live = append(live, entry)
		}
		if spillMgr.NPages() >= QueryMaxPages {
			it.nextSrcPage++
			break
		}
	}
	if it.nextSrcPage >= nPages {
		it.done = true
	}

	it.spillID = spillID
	it.spillMgr = spillMgr
	it.spillLive = live
	it.drainIdx = 0
	it.haveSpill = true
	return nil
}

func (it *RecordIterator) closeSpill() error {
	it.haveSpill = false
	it.spillMgr = nil
	it.spillLive = nil
	return it.fm.CloseTemp(it.spillID)
}

// Close releases the iterator's in-flight spill file, if any.
func (it *RecordIterator) Close() error {
	if !it.haveSpill {
		return nil
	}
	return it.closeSpill()
}
