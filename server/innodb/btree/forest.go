package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
)

// A Forest is a single file shared by every B+ tree that belongs to one
// table (the primary key tree plus one tree per secondary/foreign-key
// index, §4.5). Page 0 is the forest header: a bump allocator cursor, a
// stack of freed pages, and a small fixed-capacity registry mapping tree id
// to its root page and key geometry.
type Forest struct {
	fileID basic.FileID
	pool   *buffer_pool.BufferPool

	magic      uint32
	nextPage   uint32
	freeStack  []uint32
	trees      map[uint32]*treeMeta
	nextTreeID uint32
}

type treeMeta struct {
	id             uint32
	keyNum         int
	inlineLen      int
	storeFullData  bool
	rootPage       uint32
	height         int
}

const (
	forestMagic = 0x4c545442 // "LTTB"

	headerFixedLen  = 16
	maxFreeStack    = 512
	freeStackBytes  = maxFreeStack * 4
	treeEntryLen    = 24
	treeRegionStart = headerFixedLen + freeStackBytes
	maxForestTrees  = (basic.PageSize - treeRegionStart) / treeEntryLen
)

// CreateForest initializes a brand-new forest header on fileID's page 0.
func CreateForest(fileID basic.FileID, pool *buffer_pool.BufferPool) (*Forest, error) {
	f := &Forest{
		fileID:     fileID,
		pool:       pool,
		magic:      forestMagic,
		nextPage:   1, // page 0 is the header
		trees:      make(map[uint32]*treeMeta),
		nextTreeID: 1,
	}
	if err := f.flushHeader(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenForest restores a Forest from an existing header page.
func OpenForest(fileID basic.FileID, pool *buffer_pool.BufferPool) (*Forest, error) {
	page, err := pool.Read(basic.PageLocator{FileID: fileID, PageNo: 0})
	if err != nil {
		return nil, err
	}
	f := &Forest{fileID: fileID, pool: pool, trees: make(map[uint32]*treeMeta)}

	f.magic = binary.LittleEndian.Uint32(page[0:4])
	if f.magic != forestMagic {
		return nil, errors.Wrap(basic.ErrCorruptedMeta, "btree: bad forest magic")
	}
	f.nextPage = binary.LittleEndian.Uint32(page[4:8])
	freeCount := binary.LittleEndian.Uint32(page[8:12])
	treeCount := binary.LittleEndian.Uint32(page[12:16])

	if int(freeCount) > maxFreeStack || int(treeCount) > maxForestTrees {
		return nil, errors.Wrap(basic.ErrCorruptedMeta, "btree: forest header counts out of range")
	}

	f.freeStack = make([]uint32, freeCount)
	for i := 0; i < int(freeCount); i++ {
		f.freeStack[i] = binary.LittleEndian.Uint32(page[headerFixedLen+i*4:])
	}

	maxID := uint32(0)
	for i := 0; i < int(treeCount); i++ {
		off := treeRegionStart + i*treeEntryLen
		tm := &treeMeta{
			id:            binary.LittleEndian.Uint32(page[off:]),
			keyNum:        int(binary.LittleEndian.Uint32(page[off+4:])),
			inlineLen:     int(binary.LittleEndian.Uint32(page[off+8:])),
			storeFullData: page[off+12] != 0,
			rootPage:      binary.LittleEndian.Uint32(page[off+16:]),
			height:        int(binary.LittleEndian.Uint32(page[off+20:])),
		}
		f.trees[tm.id] = tm
		if tm.id > maxID {
			maxID = tm.id
		}
	}
	f.nextTreeID = maxID + 1
	return f, nil
}

func (f *Forest) flushHeader() error {
	loc := basic.PageLocator{FileID: f.fileID, PageNo: 0}
	page, err := f.pool.Read(loc)
	if err != nil {
		return err
	}
	if len(f.freeStack) > maxFreeStack {
		return errors.Wrap(basic.ErrCorruptedMeta, "btree: free stack exceeds forest header capacity")
	}
	if len(f.trees) > maxForestTrees {
		return errors.Wrap(basic.ErrCorruptedMeta, "btree: too many trees for one forest header")
	}

	binary.LittleEndian.PutUint32(page[0:4], f.magic)
	binary.LittleEndian.PutUint32(page[4:8], f.nextPage)
	binary.LittleEndian.PutUint32(page[8:12], uint32(len(f.freeStack)))
	binary.LittleEndian.PutUint32(page[12:16], uint32(len(f.trees)))

	for i, p := range f.freeStack {
		binary.LittleEndian.PutUint32(page[headerFixedLen+i*4:], p)
	}

	i := 0
	for _, tm := range f.trees {
		off := treeRegionStart + i*treeEntryLen
		binary.LittleEndian.PutUint32(page[off:], tm.id)
		binary.LittleEndian.PutUint32(page[off+4:], uint32(tm.keyNum))
		binary.LittleEndian.PutUint32(page[off+8:], uint32(tm.inlineLen))
		if tm.storeFullData {
			page[off+12] = 1
		} else {
			page[off+12] = 0
		}
		binary.LittleEndian.PutUint32(page[off+16:], tm.rootPage)
		binary.LittleEndian.PutUint32(page[off+20:], uint32(tm.height))
		i++
	}

	f.pool.MarkDirty(loc)
	return nil
}

// AllocPage returns a page number for a new node, reusing a freed page when
// the stack is non-empty (§4.5 "a shared free-page stack per forest").
func (f *Forest) AllocPage() (uint32, error) {
	if n := len(f.freeStack); n > 0 {
		p := f.freeStack[n-1]
		f.freeStack = f.freeStack[:n-1]
		if err := f.flushHeader(); err != nil {
			return 0, err
		}
		return p, nil
	}
	p := f.nextPage
	f.nextPage++
	if err := f.flushHeader(); err != nil {
		return 0, err
	}
	return p, nil
}

// FreePage pushes pageNo back onto the free stack for reuse.
func (f *Forest) FreePage(pageNo uint32) error {
	if len(f.freeStack) >= maxFreeStack {
		logger.Debugf("btree: free stack full, leaking page %d", pageNo)
		return nil
	}
	f.freeStack = append(f.freeStack, pageNo)
	return f.flushHeader()
}

// CreateTree allocates a fresh empty tree (a single empty leaf root) with
// the given key arity and, when storeFullData is set, inlineLen extra bytes
// per leaf entry holding the full record instead of a (page,slot) locator.
func (f *Forest) CreateTree(keyNum int, storeFullData bool, inlineLen int) (*Tree, error) {
	if len(f.trees) >= maxForestTrees {
		return nil, errors.Wrap(basic.ErrCorruptedMeta, "btree: forest tree registry is full")
	}
	rootPage, err := f.AllocPage()
	if err != nil {
		return nil, err
	}
	id := f.nextTreeID
	f.nextTreeID++

	if !storeFullData {
		inlineLen = 0
	}
	tm := &treeMeta{id: id, keyNum: keyNum, inlineLen: inlineLen, storeFullData: storeFullData, rootPage: rootPage, height: 1}
	f.trees[id] = tm

	t := &Tree{forest: f, meta: tm, l: newLayout(keyNum, inlineLen)}
	if err := t.initRootLeaf(rootPage); err != nil {
		return nil, err
	}
	if err := f.flushHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenTree reattaches a Tree handle to a previously created tree id.
func (f *Forest) OpenTree(id uint32) (*Tree, error) {
	tm, ok := f.trees[id]
	if !ok {
		return nil, errors.Wrap(basic.ErrKeyNotFound, "btree: unknown tree id")
	}
	return &Tree{forest: f, meta: tm, l: newLayout(tm.keyNum, tm.inlineLen)}, nil
}

// PurgeTree reclaims every page owned by tree id back onto the forest free
// stack and drops it from the registry.
func (f *Forest) PurgeTree(id uint32) error {
	tm, ok := f.trees[id]
	if !ok {
		return nil
	}
	t := &Tree{forest: f, meta: tm, l: newLayout(tm.keyNum, tm.inlineLen)}
	if err := t.collectPages(tm.rootPage, func(p uint32) error { return f.FreePage(p) }); err != nil {
		return err
	}
	delete(f.trees, id)
	return f.flushHeader()
}

func (f *Forest) readPage(pageNo uint32) ([]byte, error) {
	return f.pool.Read(basic.PageLocator{FileID: f.fileID, PageNo: pageNo})
}

func (f *Forest) markDirty(pageNo uint32) {
	f.pool.MarkDirty(basic.PageLocator{FileID: f.fileID, PageNo: pageNo})
}
