package table

import (
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/index"
	"github.com/latticedb/lattice/server/innodb/metadata"
)

func fieldNames(fields []metadata.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// acquireIndex returns the shared index.Meta for fields, creating a fresh
// tree (and back-filling it from every existing row) if none covers this
// field-set yet, or incrementing Refcount on one that already does (§4.7
// add_index: "if an index already exists ... its share-refcount is
// incremented rather than building a new tree").
func (t *Table) acquireIndex(fields []metadata.Field, storeFullData bool) (*index.Meta, error) {
	hash := index.CanonicalHash(fieldNames(fields))
	if existing, ok := t.indexes[hash]; ok {
		existing.Refcount++
		return existing, nil
	}

	inlineLen := 0
	if storeFullData {
		inlineLen = t.Schema.RecordLen
	}
	tree, err := t.forest.CreateTree(len(fields), storeFullData, inlineLen)
	if err != nil {
		return nil, err
	}

	meta := &index.Meta{Fields: fields, StoreFullData: storeFullData, Refcount: 1, Tree: tree}

	err = t.ForEachLiveRecord(func(pageNo uint32, slot int, data []byte) error {
		vals := metadata.DecodeRecord(t.Schema, data)
		key := index.ExtractKey(fields, vals)
		entry := btree.LeafEntry{PageNo: pageNo, SlotNo: uint32(slot)}
		if storeFullData {
			entry.Inline = data
		}
		return tree.Insert(key, entry)
	})
	if err != nil {
		_ = t.forest.PurgeTree(tree.ID())
		return nil, err
	}

	t.indexes[hash] = meta
	return meta, nil
}

func (t *Table) releaseIndex(meta *index.Meta) error {
	meta.Refcount--
	if meta.Refcount > 0 {
		return nil
	}
	hash := meta.Hash()
	delete(t.indexes, hash)
	return t.forest.PurgeTree(meta.Tree.ID())
}

// AddPK builds a primary-key index over fields with store_full_data=true
// (§4.7 add_pk). Reverts (purges the tree, leaves no trace) if any existing
// row collides.
func (t *Table) AddPK(fields []metadata.Field) error {
	if t.pk != nil {
		return basic.ErrAlreadyExists
	}
	meta, err := t.acquireIndex(fields, true)
	if err != nil {
		return err
	}
	t.pk = meta
	return nil
}

// DropPK removes the primary key, rejecting the drop if any foreign key
// still references a row through it.
func (t *Table) DropPK() error {
	if t.pk == nil {
		return basic.ErrNoSuchField
	}
	blocked := false
	err := t.pk.Tree.RangeAscending(nil, func(key []int32, e btree.LeafEntry) (bool, error) {
		if e.Refcnt > 0 {
			blocked = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if blocked {
		return basic.ErrForeignReferenced
	}
	if err := t.releaseIndex(t.pk); err != nil {
		return err
	}
	t.pk = nil
	return nil
}

// AddIndex adds (or shares) a secondary or unique index over fields.
func (t *Table) AddIndex(fields []metadata.Field, unique bool) (*index.Meta, error) {
	meta, err := t.acquireIndex(fields, false)
	if err != nil {
		return nil, err
	}
	if unique {
		t.uniques = append(t.uniques, meta)
	} else {
		t.explicit = append(t.explicit, meta)
	}
	return meta, nil
}

// DropIndex removes this table's hold on the index built over fields.
func (t *Table) DropIndex(fields []metadata.Field, unique bool) error {
	hash := index.CanonicalHash(fieldNames(fields))
	meta, ok := t.indexes[hash]
	if !ok {
		return basic.ErrNoSuchField
	}
	var list *[]*index.Meta
	if unique {
		list = &t.uniques
	} else {
		list = &t.explicit
	}
	for i, m := range *list {
		if m == meta {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	return t.releaseIndex(meta)
}

// AddFK validates every existing row against refTable's primary key before
// committing any refcount mutation (§4.7 add_fk pre-pass).
func (t *Table) AddFK(name string, localFields []metadata.Field, refTable *Table, refFields []metadata.Field) error {
	if refTable.pk == nil {
		return basic.ErrNoSuchField
	}
	fk := &ForeignKey{Name: name, LocalFields: localFields, RefTable: refTable, RefFields: refFields}

	err := t.ForEachLiveRecord(func(pageNo uint32, slot int, data []byte) error {
		vals := metadata.DecodeRecord(t.Schema, data)
		key := crossExtractKey(fk, vals)
		_, found, err := refTable.pk.Tree.PreciseMatch(key)
		if err != nil {
			return err
		}
		if !found {
			return basic.ErrForeignMissing
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = t.ForEachLiveRecord(func(pageNo uint32, slot int, data []byte) error {
		vals := metadata.DecodeRecord(t.Schema, data)
		key := crossExtractKey(fk, vals)
		_, err := refTable.pk.Tree.IncRefcount(key)
		return err
	})
	if err != nil {
		return err
	}

	t.fks = append(t.fks, fk)
	return nil
}

// DropFK walks every local row to decrement the referenced PK's refcount,
// then removes the constraint.
func (t *Table) DropFK(name string) error {
	idx := -1
	for i, fk := range t.fks {
		if fk.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return basic.ErrNoSuchField
	}
	fk := t.fks[idx]

	err := t.ForEachLiveRecord(func(pageNo uint32, slot int, data []byte) error {
		vals := metadata.DecodeRecord(t.Schema, data)
		key := crossExtractKey(fk, vals)
		_, err := fk.RefTable.pk.Tree.DecRefcount(key)
		return err
	})
	if err != nil {
		return err
	}

	t.fks = append(t.fks[:idx], t.fks[idx+1:]...)
	return nil
}
