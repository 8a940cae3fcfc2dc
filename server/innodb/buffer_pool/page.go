package buffer_pool

import "github.com/latticedb/lattice/server/innodb/basic"

// pageMeta is the in-memory bookkeeping kept for one arena slot (§3
// PageMeta). The slot's backing bytes live in the pool's arena; pageMeta
// only tracks identity and state.
type pageMeta struct {
	loc   basic.PageLocator
	valid bool
	dirty bool
}

// PageSource is anything that can satisfy a cache miss / write-back. A
// *filemap.FileMapper implements this structurally — no import from
// buffer_pool to filemap is needed.
type PageSource interface {
	ReadPage(loc basic.PageLocator, dst []byte) error
	WritePage(loc basic.PageLocator, src []byte) error
}
