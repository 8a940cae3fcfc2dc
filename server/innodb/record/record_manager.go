// Package record implements the Record Manager (§4.4): slotted-page
// allocation of fixed-length records over a table's .dat file, with a
// per-page occupancy bitmap and a freelist of partially-filled pages.
package record

import (
	"encoding/binary"
	"math/bits"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
)

const (
	offsetNextAvailable = 0
	headmaskStart       = 8
)

// NoNext is the sentinel used for "no next page" in both the in-page
// next_available field and the manager's ptrAvailable head pointer.
const NoNext int32 = -1

// Manager owns a single .dat file's slotted pages for one table.
type Manager struct {
	fileID         basic.FileID
	pool           *buffer_pool.BufferPool
	recordLen      int
	recordsPerPage int
	headmaskWords  int
	headerLen      int
	nPages         uint32
	ptrAvailable   int32
}

// Open constructs a Manager over an already-open file, restoring nPages /
// ptrAvailable from the table meta file (§4.4 Serialization).
func Open(fileID basic.FileID, pool *buffer_pool.BufferPool, recordLen int, nPages uint32, ptrAvailable int32) *Manager {
	recordsPerPage, headmaskWords := layout(recordLen)
	return &Manager{
		fileID:         fileID,
		pool:           pool,
		recordLen:      recordLen,
		recordsPerPage: recordsPerPage,
		headmaskWords:  headmaskWords,
		headerLen:      headmaskStart + headmaskWords*8,
		nPages:         nPages,
		ptrAvailable:   ptrAvailable,
	}
}

// layout computes records_per_page and the headmask word count for a given
// record length: the largest k such that k*recordLen + ceil(k/64)*8 + 8 <= PageSize.
func layout(recordLen int) (recordsPerPage, headmaskWords int) {
	for k := (basic.PageSize - headmaskStart) / recordLen; k >= 1; k-- {
		words := (k + 63) / 64
		if k*recordLen+words*8+headmaskStart <= basic.PageSize {
			return k, words
		}
	}
	return 0, 0
}

func (m *Manager) NPages() uint32       { return m.nPages }
func (m *Manager) PtrAvailable() int32  { return m.ptrAvailable }
func (m *Manager) RecordsPerPage() int  { return m.recordsPerPage }
func (m *Manager) RecordLen() int       { return m.recordLen }

func (m *Manager) pageLoc(pageNo uint32) basic.PageLocator {
	return basic.PageLocator{FileID: m.fileID, PageNo: pageNo}
}

func (m *Manager) readPage(pageNo uint32) ([]byte, error) {
	return m.pool.Read(m.pageLoc(pageNo))
}

func (m *Manager) nextAvailable(page []byte) int32 {
	return int32(binary.LittleEndian.Uint32(page[offsetNextAvailable:]))
}

func (m *Manager) setNextAvailable(page []byte, v int32) {
	binary.LittleEndian.PutUint32(page[offsetNextAvailable:], uint32(v))
}

func (m *Manager) wordAt(page []byte, i int) uint64 {
	return binary.LittleEndian.Uint64(page[headmaskStart+i*8:])
}

func (m *Manager) setWordAt(page []byte, i int, w uint64) {
	binary.LittleEndian.PutUint64(page[headmaskStart+i*8:], w)
}

// popcount returns the number of live (occupied) slots on the page.
func (m *Manager) popcount(page []byte) int {
	n := 0
	for i := 0; i < m.headmaskWords; i++ {
		n += bits.OnesCount64(m.wordAt(page, i))
	}
	return n
}

// lowestFreeSlot finds the lowest-numbered zero bit in the headmask using
// count-trailing-zeros over the complement of each word, per §4.4.
func (m *Manager) lowestFreeSlot(page []byte) (int, bool) {
	for i := 0; i < m.headmaskWords; i++ {
		w := m.wordAt(page, i)
		free := ^w
		if i == m.headmaskWords-1 {
			// Mask off bits beyond recordsPerPage in the last word.
			validBits := m.recordsPerPage - i*64
			if validBits < 64 {
				free &= (uint64(1) << uint(validBits)) - 1
			}
		}
		if free != 0 {
			bit := bits.TrailingZeros64(free)
			return i*64 + bit, true
		}
	}
	return 0, false
}

func (m *Manager) setBit(page []byte, slot int) {
	i, b := slot/64, uint(slot%64)
	m.setWordAt(page, i, m.wordAt(page, i)|(uint64(1)<<b))
}

func (m *Manager) clearBit(page []byte, slot int) {
	i, b := slot/64, uint(slot%64)
	m.setWordAt(page, i, m.wordAt(page, i)&^(uint64(1)<<b))
}

func (m *Manager) slotOffset(slot int) int {
	return m.headerLen + slot*m.recordLen
}

// allocatePage bumps nPages and returns a freshly zeroed page.
func (m *Manager) allocatePage() (uint32, []byte, error) {
	pageNo := m.nPages
	m.nPages++
	page, err := m.readPage(pageNo)
	if err != nil {
		return 0, nil, err
	}
	for i := range page {
		page[i] = 0
	}
	m.setNextAvailable(page, NoNext)
	m.pool.MarkDirty(m.pageLoc(pageNo))
	return pageNo, page, nil
}

// Insert writes record into the first available slot, returning its
// (page, slot) identity (§4.4 insert).
func (m *Manager) Insert(data []byte) (uint32, int, error) {
	if len(data) != m.recordLen {
		return 0, 0, basic.ErrTypeMismatch
	}

	var pageNo uint32
	var page []byte
	var err error
	freshlyAllocated := false

	if m.ptrAvailable == NoNext {
		pageNo, page, err = m.allocatePage()
		if err != nil {
			return 0, 0, err
		}
		freshlyAllocated = true
	} else {
		pageNo = uint32(m.ptrAvailable)
		page, err = m.readPage(pageNo)
		if err != nil {
			return 0, 0, err
		}
	}

	slot, ok := m.lowestFreeSlot(page)
	if !ok {
		return 0, 0, basic.ErrIOError
	}

	copy(page[m.slotOffset(slot):m.slotOffset(slot)+m.recordLen], data)
	m.setBit(page, slot)
	m.pool.MarkDirty(m.pageLoc(pageNo))

	full := m.popcount(page) == m.recordsPerPage
	switch {
	case full && freshlyAllocated:
		// Never entered the freelist at all.
	case full && !freshlyAllocated:
		m.ptrAvailable = m.nextAvailable(page)
		m.setNextAvailable(page, NoNext)
		m.pool.MarkDirty(m.pageLoc(pageNo))
	case !full && freshlyAllocated:
		m.setNextAvailable(page, m.ptrAvailable)
		m.ptrAvailable = int32(pageNo)
		m.pool.MarkDirty(m.pageLoc(pageNo))
	}

	logger.Debugf("record: inserted into page %d slot %d (full=%v)", pageNo, slot, full)
	return pageNo, slot, nil
}

// Erase clears the slot's occupancy bit, returning the page to the freelist
// if it was previously full (§4.4 erase).
func (m *Manager) Erase(pageNo uint32, slot int) error {
	page, err := m.readPage(pageNo)
	if err != nil {
		return err
	}
	wasFull := m.popcount(page) == m.recordsPerPage
	m.clearBit(page, slot)
	m.pool.MarkDirty(m.pageLoc(pageNo))

	if wasFull {
		m.setNextAvailable(page, m.ptrAvailable)
		m.ptrAvailable = int32(pageNo)
		m.pool.MarkDirty(m.pageLoc(pageNo))
	}
	return nil
}

// GetRecordRef returns a slice into the buffered page's record slot. Valid
// only until the next pool.Read that could trigger an eviction.
func (m *Manager) GetRecordRef(pageNo uint32, slot int) ([]byte, error) {
	page, err := m.readPage(pageNo)
	if err != nil {
		return nil, err
	}
	off := m.slotOffset(slot)
	return page[off : off+m.recordLen], nil
}

// IsLive reports whether slot on pageNo is currently occupied.
func (m *Manager) IsLive(pageNo uint32, slot int) (bool, error) {
	page, err := m.readPage(pageNo)
	if err != nil {
		return false, err
	}
	i, b := slot/64, uint(slot%64)
	return m.wordAt(page, i)&(uint64(1)<<b) != 0, nil
}

// LiveSlots returns the occupied slot numbers on pageNo, in ascending order,
// used by the full-table scan iterator.
func (m *Manager) LiveSlots(pageNo uint32) ([]int, error) {
	page, err := m.readPage(pageNo)
	if err != nil {
		return nil, err
	}
	var out []int
	for i := 0; i < m.headmaskWords; i++ {
		w := m.wordAt(page, i)
		for w != 0 {
			b := bits.TrailingZeros64(w)
			slot := i*64 + b
			if slot < m.recordsPerPage {
				out = append(out, slot)
			}
			w &= w - 1
		}
	}
	return out, nil
}
