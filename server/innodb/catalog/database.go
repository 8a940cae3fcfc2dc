package catalog

import (
	"path/filepath"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/index"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
	"github.com/latticedb/lattice/server/innodb/table"
)

// Database owns one database directory: its own meta file (the table name
// list, §6 "Database meta") plus every table's .meta/.dat/.idx triple,
// loaded lazily on first use (§3 "Database... named directory").
type Database struct {
	Name string
	dir  string

	fm   *filemap.FileMapper
	pool *buffer_pool.BufferPool

	metaID     basic.FileID
	tableNames []string
	tables     map[string]*table.Table
}

func openDatabase(name, dir string, fm *filemap.FileMapper, pool *buffer_pool.BufferPool) (*Database, error) {
	metaID, err := fm.Open(filepath.Join(dir, ".meta"))
	if err != nil {
		return nil, err
	}
	acc := filemap.NewAccessor(metaID, pool)
	names, ok, err := readNames(acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		names = nil
	}
	return &Database{
		Name:       name,
		dir:        dir,
		fm:         fm,
		pool:       pool,
		metaID:     metaID,
		tableNames: names,
		tables:     make(map[string]*table.Table),
	}, nil
}

func (db *Database) flush() error {
	acc := filemap.NewAccessor(db.metaID, db.pool)
	return writeNames(acc, db.tableNames)
}

// ShowTables lists every table name registered in this database.
func (db *Database) ShowTables() []string {
	return append([]string(nil), db.tableNames...)
}

func (db *Database) hasTable(name string) bool {
	for _, n := range db.tableNames {
		if n == name {
			return true
		}
	}
	return false
}

// CreateTable registers a new table with the given immutable field list
// (§3 "Tables are created with an immutable field list") and opens its
// backing files.
func (db *Database) CreateTable(name string, fields []metadata.Field) (*table.Table, error) {
	if db.hasTable(name) {
		return nil, basic.ErrAlreadyExists
	}
	schema := metadata.NewTableSchema(fields)

	dataID, err := db.fm.Open(filepath.Join(db.dir, name+".dat"))
	if err != nil {
		return nil, err
	}
	idxID, err := db.fm.Open(filepath.Join(db.dir, name+".idx"))
	if err != nil {
		return nil, err
	}
	forest, err := btree.CreateForest(idxID, db.pool)
	if err != nil {
		return nil, err
	}

	tbl := table.New(name, schema, dataID, db.pool, forest)
	db.tables[name] = tbl
	db.tableNames = append(db.tableNames, name)
	if err := db.flush(); err != nil {
		return nil, err
	}
	return tbl, nil
}

// UseTable returns the named table, opening and reconstructing it from disk
// on first reference. Resolving a foreign key's referenced table recurses
// into UseTable for that table, so a chain of FKs loads transitively.
func (db *Database) UseTable(name string) (*table.Table, error) {
	if tbl, ok := db.tables[name]; ok {
		return tbl, nil
	}
	if !db.hasTable(name) {
		return nil, basic.ErrNoSuchTable
	}
	return db.loadTable(name)
}

func (db *Database) loadTable(name string) (*table.Table, error) {
	metaID, err := db.fm.Open(filepath.Join(db.dir, name+".meta"))
	if err != nil {
		return nil, err
	}
	acc := filemap.NewAccessor(metaID, db.pool)
	rec, err := table.ReadMeta(acc)
	if err != nil {
		return nil, err
	}

	dataID, err := db.fm.Open(filepath.Join(db.dir, name+".dat"))
	if err != nil {
		return nil, err
	}
	idxID, err := db.fm.Open(filepath.Join(db.dir, name+".idx"))
	if err != nil {
		return nil, err
	}
	forest, err := btree.OpenForest(idxID, db.pool)
	if err != nil {
		return nil, err
	}

	schema := metadata.NewTableSchema(rec.Fields)
	tbl := table.Reopen(name, schema, dataID, db.pool, forest, rec.NPages, rec.PtrAvailable)
	db.tables[name] = tbl // registered before FK resolution so a self-reference or cycle finds this instance

	byHash := make(map[uint64]*index.Meta, len(rec.Indexes))
	for _, ir := range rec.Indexes {
		tree, err := forest.OpenTree(ir.TreeID)
		if err != nil {
			return nil, err
		}
		meta := &index.Meta{
			Fields:        table.FieldsFromOrdinals(schema, ir.FieldOrdinals),
			StoreFullData: ir.StoreFullData,
			Tree:          tree,
		}
		tbl.RestoreIndex(ir.Hash, meta)
		byHash[ir.Hash] = meta
	}

	// Refcount is rebuilt from how many constraint lists claim each hash
	// (PK, explicit, unique), mirroring acquireIndex's share-counting.
	if rec.HasPK {
		hash := index.CanonicalHash(fieldNamesOf(table.FieldsFromOrdinals(schema, rec.PKOrdinals)))
		meta := byHash[hash]
		meta.Refcount++
		tbl.RestorePrimaryKey(meta)
	}
	for _, ir := range rec.Explicit {
		meta := byHash[ir.Hash]
		meta.Refcount++
		tbl.RestoreExplicitIndex(meta)
	}
	for _, ir := range rec.Uniques {
		meta := byHash[ir.Hash]
		meta.Refcount++
		tbl.RestoreUnique(meta)
	}

	for _, fkr := range rec.FKs {
		refTable, err := db.UseTable(fkr.RefTableName)
		if err != nil {
			return nil, err
		}
		local := table.FieldsFromOrdinals(schema, fkr.LocalOrdinals)
		ref := table.FieldsFromOrdinals(refTable.Schema, fkr.RefFieldOrdinals)
		tbl.RestoreForeignKey(&table.ForeignKey{Name: fkr.Name, LocalFields: local, RefTable: refTable, RefFields: ref})
	}

	logger.Debugf("catalog: loaded table %s/%s (%d indexes, %d fks)", db.Name, name, len(rec.Indexes), len(rec.FKs))
	return tbl, nil
}

// DropTable purges a table's files and removes it from the registry.
// Rejects the drop if any other loaded table still holds a foreign key
// pointing at it — the caller is expected to DropFK those first.
func (db *Database) DropTable(name string) error {
	if !db.hasTable(name) {
		return basic.ErrNoSuchTable
	}
	for otherName, other := range db.tables {
		if otherName == name {
			continue
		}
		for _, fk := range other.ForeignKeys() {
			if fk.RefTable.Name == name {
				return basic.ErrForeignReferenced
			}
		}
	}

	delete(db.tables, name)
	for i, n := range db.tableNames {
		if n == name {
			db.tableNames = append(db.tableNames[:i], db.tableNames[i+1:]...)
			break
		}
	}
	if err := db.flush(); err != nil {
		return err
	}

	_ = db.fm.Purge(filepath.Join(db.dir, name+".meta"))
	_ = db.fm.Purge(filepath.Join(db.dir, name+".dat"))
	_ = db.fm.Purge(filepath.Join(db.dir, name+".idx"))
	return nil
}

// Flush writes every open table's .meta file and this database's own
// table-name list back to disk.
func (db *Database) Flush(dbName string) error {
	for name, tbl := range db.tables {
		metaID, err := db.fm.Open(filepath.Join(db.dir, name+".meta"))
		if err != nil {
			return err
		}
		acc := filemap.NewAccessor(metaID, db.pool)
		if err := tbl.WriteMeta(acc, dbName); err != nil {
			return err
		}
	}
	return db.flush()
}
