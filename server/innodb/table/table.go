// Package table implements the Table Manager (§4.7): one record manager,
// one index forest, and the constraint bookkeeping (primary key, foreign
// keys, unique keys, explicit indexes) that insert_record/erase_record
// enforce.
package table

import (
	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/index"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/record"
)

// ForeignKey binds a local field-set to another table's primary key. Referring
// to the live *Table directly (rather than through an id-indirection arena,
// per Design Note §9) is acceptable here: the catalog layer owns every
// table's lifetime and severs foreign keys explicitly on DropTable/DropFK,
// so nothing relies on GC to break the cycle.
type ForeignKey struct {
	Name        string
	LocalFields []metadata.Field
	RefTable    *Table
	RefFields   []metadata.Field
}

// Table owns a single table's storage: its record manager, its shared
// index forest, and the constraint set that insert/erase enforce.
type Table struct {
	Name   string
	Schema *metadata.TableSchema

	recMgr *record.Manager
	forest *btree.Forest

	indexes  map[uint64]*index.Meta // canonical field-set hash -> shared index
	pk       *index.Meta
	uniques  []*index.Meta
	explicit []*index.Meta
	fks      []*ForeignKey
}

// New wires a fresh, empty table over already-open record/index files.
func New(name string, schema *metadata.TableSchema, dataFileID basic.FileID, pool *buffer_pool.BufferPool, forest *btree.Forest) *Table {
	return &Table{
		Name:    name,
		Schema:  schema,
		recMgr:  record.Open(dataFileID, pool, schema.RecordLen, 0, record.NoNext),
		forest:  forest,
		indexes: make(map[uint64]*index.Meta),
	}
}

// Reopen restores a table over pre-existing record-manager state (read back
// from the table's .meta file by the catalog layer, §6 Table meta).
func Reopen(name string, schema *metadata.TableSchema, dataFileID basic.FileID, pool *buffer_pool.BufferPool, forest *btree.Forest, nPages uint32, ptrAvailable int32) *Table {
	return &Table{
		Name:    name,
		Schema:  schema,
		recMgr:  record.Open(dataFileID, pool, schema.RecordLen, nPages, ptrAvailable),
		forest:  forest,
		indexes: make(map[uint64]*index.Meta),
	}
}

func (t *Table) RecordManager() *record.Manager { return t.recMgr }
func (t *Table) Forest() *btree.Forest          { return t.forest }
func (t *Table) PrimaryKey() *index.Meta        { return t.pk }
func (t *Table) ForeignKeys() []*ForeignKey     { return t.fks }
func (t *Table) Indexes() map[uint64]*index.Meta { return t.indexes }

// RestoreIndex registers an already-reopened index tree under hash without
// rebuilding it from a table scan, for the catalog layer's .meta reload path.
func (t *Table) RestoreIndex(hash uint64, meta *index.Meta) {
	t.indexes[hash] = meta
}

// RestorePrimaryKey marks an already-restored index as this table's primary
// key.
func (t *Table) RestorePrimaryKey(meta *index.Meta) {
	t.pk = meta
}

// RestoreUnique marks an already-restored index as a unique key.
func (t *Table) RestoreUnique(meta *index.Meta) {
	t.uniques = append(t.uniques, meta)
}

// RestoreExplicitIndex marks an already-restored index as an explicit
// (non-unique) secondary index.
func (t *Table) RestoreExplicitIndex(meta *index.Meta) {
	t.explicit = append(t.explicit, meta)
}

// RestoreForeignKey wires an already-validated foreign key back onto the
// table, skipping AddFK's row-scan since the .meta file only persists FKs
// that already passed validation when the constraint was added.
func (t *Table) RestoreForeignKey(fk *ForeignKey) {
	t.fks = append(t.fks, fk)
}

// ForEachLiveRecord visits every live (page, slot, bytes) triple across the
// whole .dat file in page/slot order.
func (t *Table) ForEachLiveRecord(visit func(pageNo uint32, slot int, data []byte) error) error {
	for p := uint32(0); p < t.recMgr.NPages(); p++ {
		slots, err := t.recMgr.LiveSlots(p)
		if err != nil {
			return err
		}
		for _, s := range slots {
			data, err := t.recMgr.GetRecordRef(p, s)
			if err != nil {
				return err
			}
			if err := visit(p, s, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// InsertRecord is the typed insert path (§4.7 insert_record(values)).
func (t *Table) InsertRecord(values []basic.Value) (uint32, int, error) {
	buf, err := metadata.EncodeRecord(t.Schema, values)
	if err != nil {
		return 0, 0, err
	}
	return t.insertPtr(buf, true)
}

// InsertRaw is the already-encoded-record path; checking selects whether the
// constraint checks that InsertRecord always runs are applied.
func (t *Table) InsertRaw(data []byte, checking bool) (uint32, int, error) {
	return t.insertPtr(data, checking)
}

func (t *Table) insertPtr(data []byte, checking bool) (uint32, int, error) {
	vals := metadata.DecodeRecord(t.Schema, data)

	if checking {
		if t.pk != nil {
			key := index.ExtractKey(t.pk.Fields, vals)
			if e, found, err := t.pk.Tree.PreciseMatch(key); err != nil {
				return 0, 0, err
			} else if found && t.approxEqInline(t.pk, e, vals) {
				return 0, 0, basic.ErrDuplicate
			}
		}
		for _, u := range t.uniques {
			key := index.ExtractKey(u.Fields, vals)
			if e, found, err := u.Tree.PreciseMatch(key); err != nil {
				return 0, 0, err
			} else if found && t.approxEqInline(u, e, vals) {
				return 0, 0, basic.ErrDuplicate
			}
		}
		for _, fk := range t.fks {
			key := crossExtractKey(fk, vals)
			if _, found, err := fk.RefTable.pk.Tree.PreciseMatch(key); err != nil {
				return 0, 0, err
			} else if !found {
				return 0, 0, basic.ErrForeignMissing
			}
		}
	}

	pageNo, slot, err := t.recMgr.Insert(data)
	if err != nil {
		return 0, 0, err
	}

	for _, idx := range t.indexes {
		key := index.ExtractKey(idx.Fields, vals)
		entry := btree.LeafEntry{PageNo: pageNo, SlotNo: uint32(slot)}
		if idx.StoreFullData {
			entry.Inline = data
		}
		if err := idx.Tree.Insert(key, entry); err != nil {
			logger.Errorf("table %s: index insert failed after record insert: %v", t.Name, err)
			return 0, 0, err
		}
	}

	for _, fk := range t.fks {
		key := crossExtractKey(fk, vals)
		if _, err := fk.RefTable.pk.Tree.IncRefcount(key); err != nil {
			return 0, 0, err
		}
	}

	return pageNo, slot, nil
}

// EraseRecord removes a row (§4.7 erase_record): index deletes and refcount
// decrements happen before the record-manager erase, so a crash mid-way
// leaves orphan index entries rather than a dangling live row.
func (t *Table) EraseRecord(pageNo uint32, slot int, checking bool) error {
	data, err := t.recMgr.GetRecordRef(pageNo, slot)
	if err != nil {
		return err
	}
	row := append([]byte(nil), data...)
	vals := metadata.DecodeRecord(t.Schema, row)

	if checking && t.pk != nil {
		key := index.ExtractKey(t.pk.Fields, vals)
		refcount, err := t.pk.Tree.GetRefcount(key)
		if err != nil {
			return err
		}
		if refcount > 0 {
			return basic.ErrForeignReferenced
		}
	}

	for _, idx := range t.indexes {
		key := index.ExtractKey(idx.Fields, vals)
		if err := idx.Tree.Erase(key); err != nil {
			logger.Errorf("table %s: index erase failed during row erase: %v", t.Name, err)
		}
	}

	for _, fk := range t.fks {
		key := crossExtractKey(fk, vals)
		if _, err := fk.RefTable.pk.Tree.DecRefcount(key); err != nil {
			logger.Errorf("table %s: fk refcount decrement failed during row erase: %v", t.Name, err)
		}
	}

	return t.recMgr.Erase(pageNo, slot)
}

// approxEqInline reconstructs the matched row's values (from the inlined
// payload when the index covers the full record, otherwise by dereferencing
// its (page, slot) locator) and compares against the probe (§4.6 approx_eq).
func (t *Table) approxEqInline(idx *index.Meta, e btree.LeafEntry, probe []basic.Value) bool {
	var rowData []byte
	if len(e.Inline) > 0 {
		rowData = e.Inline
	} else {
		data, err := t.recMgr.GetRecordRef(e.PageNo, int(e.SlotNo))
		if err != nil {
			return false
		}
		rowData = data
	}
	rowVals := metadata.DecodeRecord(t.Schema, rowData)
	return index.ApproxEq(idx.Fields, rowVals, probe)
}

func crossExtractKey(fk *ForeignKey, localVals []basic.Value) []int32 {
	shaped := make([]metadata.Field, len(fk.LocalFields))
	for i, lf := range fk.LocalFields {
		shaped[i] = metadata.Field{Type: fk.RefFields[i].Type, PersIndex: lf.PersIndex}
	}
	return index.ExtractKey(shaped, localVals)
}
