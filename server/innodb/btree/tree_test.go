package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
)

func newTestForest(t *testing.T) *Forest {
	t.Helper()
	dir := t.TempDir()
	fm := filemap.New(dir)
	id, err := fm.Open(filepath.Join(dir, "idx.dat"))
	require.NoError(t, err)
	pool := buffer_pool.New(256, basic.PageSize, fm)
	fm.SetEvictor(pool)
	f, err := CreateForest(id, pool)
	require.NoError(t, err)
	return f
}

func TestInsertAndPreciseMatch(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		err := tree.Insert([]int32{int32(i)}, LeafEntry{PageNo: uint32(i), SlotNo: 0, Refcnt: 0})
		require.NoError(t, err)
	}

	e, found, err := tree.PreciseMatch([]int32{7})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(7), e.PageNo)

	_, found, err = tree.PreciseMatch([]int32{999})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertDuplicateRejected(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)

	require.NoError(t, tree.Insert([]int32{1}, LeafEntry{PageNo: 1}))
	err = tree.Insert([]int32{1}, LeafEntry{PageNo: 2})
	assert.ErrorIs(t, err, basic.ErrDuplicate)
}

func TestInsertManyTriggersSplitsAndGrowsHeight(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(2, false, 0)
	require.NoError(t, err)

	const n = 2000
	for i := 0; i < n; i++ {
		key := []int32{int32(i / 1000), int32(i % 1000)}
		require.NoError(t, tree.Insert(key, LeafEntry{PageNo: uint32(i), SlotNo: uint32(i % 7)}))
	}
	assert.Greater(t, tree.Height(), 1, "2000 entries should have forced at least one root split")

	for i := 0; i < n; i += 131 {
		key := []int32{int32(i / 1000), int32(i % 1000)}
		e, found, err := tree.PreciseMatch(key)
		require.NoError(t, err)
		require.True(t, found, "key %v should be found after %d inserts", key, n)
		assert.Equal(t, uint32(i), e.PageNo)
	}
}

func TestRangeAscendingWalksSiblingChainInOrder(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)

	const n = 2000
	for i := n - 1; i >= 0; i-- { // insert in reverse to exercise mid-tree splits
		require.NoError(t, tree.Insert([]int32{int32(i)}, LeafEntry{PageNo: uint32(i)}))
	}

	var seen []int32
	err = tree.RangeAscending(nil, func(key []int32, e LeafEntry) (bool, error) {
		seen = append(seen, key[0])
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, int32(i), seen[i])
	}
}

func TestRangeAscendingFromStartKey(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		require.NoError(t, tree.Insert([]int32{int32(i)}, LeafEntry{PageNo: uint32(i)}))
	}

	var seen []int32
	err = tree.RangeAscending([]int32{250}, func(key []int32, e LeafEntry) (bool, error) {
		seen = append(seen, key[0])
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 50)
	assert.Equal(t, int32(250), seen[0])
	assert.Equal(t, int32(299), seen[len(seen)-1])
}

func TestEraseRemovesEntry(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert([]int32{int32(i)}, LeafEntry{PageNo: uint32(i)}))
	}

	require.NoError(t, tree.Erase([]int32{25}))
	_, found, err := tree.PreciseMatch([]int32{25})
	require.NoError(t, err)
	assert.False(t, found)

	err = tree.Erase([]int32{25})
	assert.ErrorIs(t, err, basic.ErrKeyNotFound)
}

func TestRefcountRoundTrip(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]int32{1}, LeafEntry{PageNo: 1, Refcnt: 0}))

	v, err := tree.IncRefcount([]int32{1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	v, err = tree.IncRefcount([]int32{1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)

	v, err = tree.DecRefcount([]int32{1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}

func TestStoreFullDataInlinesRecordBytes(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, true, 24)
	require.NoError(t, err)

	inline := make([]byte, 24)
	copy(inline, "inline-payload-sample!!")
	require.NoError(t, tree.Insert([]int32{1}, LeafEntry{Inline: inline}))

	e, found, err := tree.PreciseMatch([]int32{1})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, inline, e.Inline)
}

func TestForestReopenRestoresTreeRegistry(t *testing.T) {
	dir := t.TempDir()
	fm := filemap.New(dir)
	id, err := fm.Open(filepath.Join(dir, "idx.dat"))
	require.NoError(t, err)
	pool := buffer_pool.New(256, basic.PageSize, fm)
	fm.SetEvictor(pool)

	f, err := CreateForest(id, pool)
	require.NoError(t, err)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	require.NoError(t, tree.Insert([]int32{5}, LeafEntry{PageNo: 5}))
	require.NoError(t, pool.Close())

	f2, err := OpenForest(id, pool)
	require.NoError(t, err)
	reopened, err := f2.OpenTree(tree.ID())
	require.NoError(t, err)

	e, found, err := reopened.PreciseMatch([]int32{5})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(5), e.PageNo)
}

func TestPurgeTreeReclaimsPagesForReuse(t *testing.T) {
	f := newTestForest(t)
	tree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tree.Insert([]int32{int32(i)}, LeafEntry{PageNo: uint32(i)}))
	}
	pagesUsedBefore := f.nextPage

	require.NoError(t, f.PurgeTree(tree.ID()))
	assert.Len(t, f.trees, 0)

	newTree, err := f.CreateTree(1, false, 0)
	require.NoError(t, err)
	assert.Less(t, f.nextPage, pagesUsedBefore+1, "freed pages should be reused instead of bumping nextPage")
	require.NoError(t, newTree.Insert([]int32{1}, LeafEntry{PageNo: 1}))
}
