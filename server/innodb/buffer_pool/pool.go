// Package buffer_pool implements the paged buffer cache (§4.3): a
// fixed-capacity LRU page pool backed by one contiguous arena, serving pages
// by (file-id, page-number) with write-back eviction.
package buffer_pool

import (
	"fmt"
	"sync/atomic"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
)

// PooledPages is the default pool capacity (§4.3).
const PooledPages = 16384

// BufferPool is a single-process, single-threaded LRU page cache. It assumes
// exclusive ownership of the files it serves (§5).
type BufferPool struct {
	pageSize int
	arena    []byte
	pages    []pageMeta
	index    map[basic.PageLocator]int32
	free     []int32
	lru      *lruList
	source   PageSource

	hitCount   uint64
	missCount  uint64
	readCount  uint64
	writeCount uint64
	dirtyPages int32
}

// New creates a buffer pool of the given capacity (slot count) over source.
func New(capacity int, pageSize int, source PageSource) *BufferPool {
	bp := &BufferPool{
		pageSize: pageSize,
		arena:    make([]byte, capacity*pageSize),
		pages:    make([]pageMeta, capacity),
		index:    make(map[basic.PageLocator]int32, capacity),
		free:     make([]int32, capacity),
		lru:      newLRUList(capacity),
		source:   source,
	}
	for i := 0; i < capacity; i++ {
		bp.free[i] = int32(capacity - 1 - i)
	}
	return bp
}

func (bp *BufferPool) slice(slot int32) []byte {
	off := int(slot) * bp.pageSize
	return bp.arena[off : off+bp.pageSize]
}

// Read returns the slice for loc, loading it from the backing source on a
// miss. The slice is only valid until the next Read that could trigger an
// eviction (§5 Resource scope).
func (bp *BufferPool) Read(loc basic.PageLocator) ([]byte, error) {
	if slot, ok := bp.index[loc]; ok {
		bp.lru.Touch(slot)
		atomic.AddUint64(&bp.hitCount, 1)
		atomic.AddUint64(&bp.readCount, 1)
		return bp.slice(slot), nil
	}

	atomic.AddUint64(&bp.missCount, 1)
	atomic.AddUint64(&bp.readCount, 1)

	slot, err := bp.acquireSlot()
	if err != nil {
		return nil, err
	}
	dst := bp.slice(slot)
	if err := bp.source.ReadPage(loc, dst); err != nil {
		bp.free = append(bp.free, slot)
		return nil, err
	}
	bp.pages[slot] = pageMeta{loc: loc, valid: true, dirty: false}
	bp.index[loc] = slot
	bp.lru.PushBack(slot)
	return dst, nil
}

// acquireSlot returns a free slot, evicting the LRU head (with write-back if
// dirty) when the pool is full.
func (bp *BufferPool) acquireSlot() (int32, error) {
	if n := len(bp.free); n > 0 {
		slot := bp.free[n-1]
		bp.free = bp.free[:n-1]
		return slot, nil
	}

	victim := bp.lru.Front()
	if victim == listNil {
		return 0, basic.ErrPoolExhausted
	}
	if err := bp.evictSlot(victim); err != nil {
		return 0, err
	}
	return victim, nil
}

func (bp *BufferPool) evictSlot(slot int32) error {
	meta := bp.pages[slot]
	if meta.dirty {
		if err := bp.source.WritePage(meta.loc, bp.slice(slot)); err != nil {
			logger.Debugf("buffer pool: failed to write back page %v on eviction: %v", meta.loc, err)
			return err
		}
		atomic.AddUint64(&bp.writeCount, 1)
		atomic.AddInt32(&bp.dirtyPages, -1)
	}
	bp.lru.Remove(slot)
	delete(bp.index, meta.loc)
	bp.pages[slot] = pageMeta{}
	return nil
}

// MarkDirty flags the resident page at loc as dirty; a non-resident loc is
// ignored. Idempotent.
func (bp *BufferPool) MarkDirty(loc basic.PageLocator) {
	slot, ok := bp.index[loc]
	if !ok {
		return
	}
	if !bp.pages[slot].dirty {
		bp.pages[slot].dirty = true
		atomic.AddInt32(&bp.dirtyPages, 1)
	}
}

// EvictFile writes back (if dirty) and drops every cached page of fileID.
// Used by File Mapping's Close to flush a persistent file before unmapping
// it.
func (bp *BufferPool) EvictFile(fileID uint32) error {
	var victims []int32
	for loc, slot := range bp.index {
		if uint32(loc.FileID) == fileID {
			victims = append(victims, slot)
		}
	}
	for _, slot := range victims {
		if err := bp.evictSlot(slot); err != nil {
			return err
		}
		bp.free = append(bp.free, slot)
	}
	return nil
}

// PurgeFile drops every cached page of fileID without writing back. Used by
// File Mapping's Purge.
func (bp *BufferPool) PurgeFile(fileID uint32) {
	var victims []int32
	for loc, slot := range bp.index {
		if uint32(loc.FileID) == fileID {
			victims = append(victims, slot)
		}
	}
	for _, slot := range victims {
		if bp.pages[slot].dirty {
			atomic.AddInt32(&bp.dirtyPages, -1)
		}
		bp.lru.Remove(slot)
		delete(bp.index, bp.pages[slot].loc)
		bp.pages[slot] = pageMeta{}
		bp.free = append(bp.free, slot)
	}
}

// Close writes back every dirty page still resident in the pool.
func (bp *BufferPool) Close() error {
	for loc, slot := range bp.index {
		if bp.pages[slot].dirty {
			if err := bp.source.WritePage(loc, bp.slice(slot)); err != nil {
				return fmt.Errorf("buffer pool: flush on close: %w", err)
			}
		}
	}
	return nil
}

// HitRatio returns the cache hit ratio observed so far.
func (bp *BufferPool) HitRatio() float64 {
	hit := atomic.LoadUint64(&bp.hitCount)
	total := hit + atomic.LoadUint64(&bp.missCount)
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// DirtyPageRatio returns the number of dirty pages divided by the pool's
// capacity (total slot count, resident or not).
func (bp *BufferPool) DirtyPageRatio() float64 {
	if len(bp.pages) == 0 {
		return 0
	}
	return float64(atomic.LoadInt32(&bp.dirtyPages)) / float64(len(bp.pages))
}

// ResidentCount reports how many pool slots are currently occupied — used by
// property tests to check the LRU-list-length invariant (§8.5).
func (bp *BufferPool) ResidentCount() int { return bp.lru.Len() }

// Capacity reports the pool's total slot count.
func (bp *BufferPool) Capacity() int { return len(bp.pages) }
