package record

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
)

func newTestManager(t *testing.T, recordLen int) *Manager {
	t.Helper()
	dir := t.TempDir()
	fm := filemap.New(dir)
	id, err := fm.Open(filepath.Join(dir, "t.dat"))
	require.NoError(t, err)
	pool := buffer_pool.New(64, basic.PageSize, fm)
	fm.SetEvictor(pool)
	return Open(id, pool, recordLen, 0, NoNext)
}

func TestLayoutFitsWithinPage(t *testing.T) {
	recordsPerPage, headmaskWords := layout(40)
	assert.Greater(t, recordsPerPage, 0)
	bytesUsed := recordsPerPage*40 + headmaskWords*8 + headmaskStart
	assert.LessOrEqual(t, bytesUsed, basic.PageSize)
}

func TestInsertAndReadBack(t *testing.T) {
	m := newTestManager(t, 16)
	data := make([]byte, 16)
	copy(data, "hello record mgr")

	pageNo, slot, err := m.Insert(data)
	require.NoError(t, err)

	got, err := m.GetRecordRef(pageNo, slot)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	live, err := m.IsLive(pageNo, slot)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestEraseReturnsSlotToFreelist(t *testing.T) {
	m := newTestManager(t, 16)
	data := make([]byte, 16)

	pageNo, slot, err := m.Insert(data)
	require.NoError(t, err)

	require.NoError(t, m.Erase(pageNo, slot))
	live, err := m.IsLive(pageNo, slot)
	require.NoError(t, err)
	assert.False(t, live)

	// Re-inserting should reuse the same page via the freelist rather than
	// allocating a fresh one.
	pagesBefore := m.NPages()
	_, _, err = m.Insert(data)
	require.NoError(t, err)
	assert.Equal(t, pagesBefore, m.NPages())
}

func TestFreelistReaddsFullPageAfterOneErase(t *testing.T) {
	recordLen := 4000 // small recordsPerPage so the test is cheap
	m := newTestManager(t, recordLen)
	recordsPerPage := m.RecordsPerPage()
	require.Greater(t, recordsPerPage, 1)

	data := make([]byte, recordLen)
	type ref struct {
		page uint32
		slot int
	}
	var refs []ref
	for i := 0; i < recordsPerPage; i++ {
		p, s, err := m.Insert(data)
		require.NoError(t, err)
		refs = append(refs, ref{p, s})
	}
	// All on one page, which should now be off the freelist.
	assert.NotEqual(t, int32(refs[0].page), m.PtrAvailable())

	require.NoError(t, m.Erase(refs[0].page, refs[0].slot))
	assert.Equal(t, int32(refs[0].page), m.PtrAvailable())
}

func TestLiveSlotsEnumeratesOccupiedSlotsOnly(t *testing.T) {
	m := newTestManager(t, 8)
	data := make([]byte, 8)

	var pageNo uint32
	var slots []int
	for i := 0; i < 5; i++ {
		p, s, err := m.Insert(data)
		require.NoError(t, err)
		pageNo = p
		slots = append(slots, s)
	}
	require.NoError(t, m.Erase(pageNo, slots[2]))

	live, err := m.LiveSlots(pageNo)
	require.NoError(t, err)
	assert.NotContains(t, live, slots[2])
	assert.Len(t, live, 4)
}

func TestInsertRejectsWrongLength(t *testing.T) {
	m := newTestManager(t, 8)
	_, _, err := m.Insert(make([]byte, 4))
	assert.ErrorIs(t, err, basic.ErrTypeMismatch)
}

func TestManyInsertsSpanMultiplePages(t *testing.T) {
	m := newTestManager(t, 32)
	n := m.RecordsPerPage()*3 + 7
	for i := 0; i < n; i++ {
		data := make([]byte, 32)
		copy(data, []byte(fmt.Sprintf("row-%06d", i)))
		_, _, err := m.Insert(data)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, m.NPages(), uint32(4))
}
