// Package catalog implements the catalog layer (§4.9): explicit
// GlobalCatalog/Database services owning the .meta/table lifecycle that the
// distilled spec's core leaves to an implicit global, grounded on the
// teacher's manager/schema_manager.go SchemaManager shape.
package catalog

import (
	"os"
	"path/filepath"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
	"github.com/latticedb/lattice/server/innodb/table"
)

// GlobalCatalog is the root of one engine instance's data directory: a
// global meta file listing every database name, plus the set of databases
// currently open. One BufferPool and FileMapper are shared by every
// database and table underneath it (§5 "single-threaded and cooperative").
type GlobalCatalog struct {
	root string

	fm   *filemap.FileMapper
	pool *buffer_pool.BufferPool

	metaID    basic.FileID
	dbNames   []string
	databases map[string]*Database
}

// Open creates or reopens a GlobalCatalog rooted at dir, with tempDir used
// for iterator spill files (§4.8) and the BufferPool's capacity controlling
// how many pages stay resident across every open table.
func Open(dir, tempDir string, poolCapacity int) (*GlobalCatalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fm := filemap.New(tempDir)
	pool := buffer_pool.New(poolCapacity, basic.PageSize, fm)
	fm.SetEvictor(pool)

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

	gc := &GlobalCatalog{
		root:      dir,
		fm:        fm,
		pool:      pool,
		metaID:    metaID,
		dbNames:   names,
		databases: make(map[string]*Database),
	}
	logger.Debugf("catalog: opened %s with %d database(s)", dir, len(names))
	return gc, nil
}

// FileMapper returns the file mapper shared by every database and table
// under this catalog, for building iterators that need temp-file spill.
func (gc *GlobalCatalog) FileMapper() *filemap.FileMapper { return gc.fm }

// BufferPool returns the buffer pool shared by every database and table
// under this catalog.
func (gc *GlobalCatalog) BufferPool() *buffer_pool.BufferPool { return gc.pool }

func (gc *GlobalCatalog) flush() error {
	acc := filemap.NewAccessor(gc.metaID, gc.pool)
	return writeNames(acc, gc.dbNames)
}

// ShowDatabases lists every database name registered under this catalog.
func (gc *GlobalCatalog) ShowDatabases() []string {
	return append([]string(nil), gc.dbNames...)
}

func (gc *GlobalCatalog) hasDatabase(name string) bool {
	for _, n := range gc.dbNames {
		if n == name {
			return true
		}
	}
	return false
}

// CreateDatabase makes a new, empty database directory and registers its
// name in the global meta file.
func (gc *GlobalCatalog) CreateDatabase(name string) error {
	if gc.hasDatabase(name) {
		return basic.ErrAlreadyExists
	}
	dir := filepath.Join(gc.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	db, err := openDatabase(name, dir, gc.fm, gc.pool)
	if err != nil {
		return err
	}
	gc.databases[name] = db
	gc.dbNames = append(gc.dbNames, name)
	return gc.flush()
}

// UseDatabase returns the named database, opening it from disk on first
// reference.
func (gc *GlobalCatalog) UseDatabase(name string) (*Database, error) {
	if db, ok := gc.databases[name]; ok {
		return db, nil
	}
	if !gc.hasDatabase(name) {
		return nil, basic.ErrNoSuchDatabase
	}
	db, err := openDatabase(name, filepath.Join(gc.root, name), gc.fm, gc.pool)
	if err != nil {
		return nil, err
	}
	gc.databases[name] = db
	return db, nil
}

// DropDatabase purges every table in the database, then the database
// itself, unconditionally: dropping a database purges every file regardless
// of FK relationships between its own tables. This engine has no
// cross-database foreign keys, so nothing outside db can hold a reference
// that would block the purge.
func (gc *GlobalCatalog) DropDatabase(name string) error {
	if !gc.hasDatabase(name) {
		return basic.ErrNoSuchDatabase
	}
	db, err := gc.UseDatabase(name)
	if err != nil {
		return err
	}
	tableNames := db.ShowTables()

	// Load every table first and sever its FKs before dropping any of them,
	// so Database.DropTable's FK-reference check never sees a live
	// reference from a sibling table that is also about to be dropped.
	for _, tableName := range tableNames {
		tbl, err := db.UseTable(tableName)
		if err != nil {
			return err
		}
		for _, fk := range append([]*table.ForeignKey(nil), tbl.ForeignKeys()...) {
			if err := tbl.DropFK(fk.Name); err != nil {
				return err
			}
		}
	}

	for _, tableName := range tableNames {
		if err := db.DropTable(tableName); err != nil {
			return err
		}
	}

	delete(gc.databases, name)
	for i, n := range gc.dbNames {
		if n == name {
			gc.dbNames = append(gc.dbNames[:i], gc.dbNames[i+1:]...)
			break
		}
	}
	if err := gc.flush(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(gc.root, name))
}

// Flush writes back every open database's and table's metadata.
func (gc *GlobalCatalog) Flush() error {
	for name, db := range gc.databases {
		if err := db.Flush(name); err != nil {
			return err
		}
	}
	return gc.flush()
}

// Close flushes every dirty page and metadata file, then releases file
// descriptors (§5 "Engine.Close() flushes dirty pages and releases file
// descriptors").
func (gc *GlobalCatalog) Close() error {
	if err := gc.Flush(); err != nil {
		return err
	}
	if err := gc.pool.Close(); err != nil {
		return err
	}
	gc.fm.CloseAll()
	return nil
}
