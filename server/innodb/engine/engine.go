// Package engine provides the single owning context object for one running
// instance of the storage engine (Design Note §9): the catalog, and through
// it the shared buffer pool and file mapper, all tied to one lifetime.
package engine

import (
	"github.com/latticedb/lattice/server/conf"
	"github.com/latticedb/lattice/server/innodb/catalog"
)

// Engine is the root object a CLI or embedding program opens once. Nothing
// below it is safe to use concurrently (§5 "single-threaded and
// cooperative") and nothing above it should reach into the catalog/pool/
// file-mapper layers directly once Close has been called.
type Engine struct {
	Catalog *catalog.GlobalCatalog
}

// Open wires a GlobalCatalog over cfg's data/temp directories and pool
// capacity.
func Open(cfg *conf.Cfg) (*Engine, error) {
	gc, err := catalog.Open(cfg.DataDir, cfg.TempDir, cfg.PoolCapacity)
	if err != nil {
		return nil, err
	}
	return &Engine{Catalog: gc}, nil
}

// Close flushes dirty pages and releases file descriptors (§5). Safe to
// call from a SIGINT handler.
func (e *Engine) Close() error {
	return e.Catalog.Close()
}
