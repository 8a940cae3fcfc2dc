package plan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/btree"
	"github.com/latticedb/lattice/server/innodb/buffer_pool"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/storage/filemap"
	"github.com/latticedb/lattice/server/innodb/table"
)

func newPlanFixture(t *testing.T) (*table.Table, *filemap.FileMapper, *buffer_pool.BufferPool) {
	t.Helper()
	dir := t.TempDir()
	fm := filemap.New(dir)
	pool := buffer_pool.New(256, basic.PageSize, fm)
	fm.SetEvictor(pool)

	dataID, err := fm.Open(filepath.Join(dir, "t.dat"))
	require.NoError(t, err)
	idxID, err := fm.Open(filepath.Join(dir, "t.idx"))
	require.NoError(t, err)
	forest, err := btree.CreateForest(idxID, pool)
	require.NoError(t, err)

	schema := []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "name", Type: metadata.TypeVarchar, MaxLen: 16, NotNull: true},
	}
	tbl := table.New("t", metadata.NewTableSchema(schema), dataID, pool, forest)
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))
	return tbl, fm, pool
}

func drain(t *testing.T, it Iterator) []Row {
	t.Helper()
	var rows []Row
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	require.NoError(t, it.Close())
	return rows
}

func TestRecordIteratorScansAllRowsInOrder(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	for i := 0; i < 20; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	it := NewRecordIterator(tbl, fm, pool, nil, nil)
	rows := drain(t, it)
	require.Len(t, rows, 20)
	for i, row := range rows {
		assert.Equal(t, int32(i), row.Values[0].I)
	}
}

func TestRecordIteratorAppliesConstraint(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	for i := 0; i < 10; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	it := NewRecordIterator(tbl, fm, pool, nil, []WhereConstraint{{FieldIndex: 0, Op: OpGE, Value: basic.IntValue(5)}})
	rows := drain(t, it)
	require.Len(t, rows, 5)
	assert.Equal(t, int32(5), rows[0].Values[0].I)
}

func TestRecordIteratorProjectsColumns(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("hello")})
	require.NoError(t, err)

	it := NewRecordIterator(tbl, fm, pool, []int{1}, nil)
	rows := drain(t, it)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Values, 1)
	assert.Equal(t, "hello", rows[0].Values[0].S)
}

func TestRecordIteratorHandlesRowCountPastOneSpillBlock(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	const n = 25000 // enough rows to push the source scan past a single QueryMaxPages fill (64 pages of 353 rows)
	for i := 0; i < n; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	it := NewRecordIterator(tbl, fm, pool, nil, nil)
	rows := drain(t, it)
	assert.Len(t, rows, n)
}

func TestIndexIteratorEqualityMatch(t *testing.T) {
	tbl, _, _ := newPlanFixture(t)
	for i := 0; i < 30; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	it := NewIndexIterator(tbl, tbl.PrimaryKey(), WhereConstraint{FieldIndex: 0, Op: OpEQ, Value: basic.IntValue(17)}, nil, nil)
	rows := drain(t, it)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(17), rows[0].Values[0].I)
}

func TestIndexIteratorRangeMatch(t *testing.T) {
	tbl, _, _ := newPlanFixture(t)
	for i := 0; i < 30; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	it := NewIndexIterator(tbl, tbl.PrimaryKey(), WhereConstraint{FieldIndex: 0, Op: OpLT, Value: basic.IntValue(5)}, nil, nil)
	rows := drain(t, it)
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, int32(i), row.Values[0].I)
	}
}

func TestIndexIteratorAppliesNonCoveredConstraint(t *testing.T) {
	tbl, _, _ := newPlanFixture(t)
	for i := 0; i < 10; i++ {
		name := "a"
		if i%2 == 0 {
			name = "b"
		}
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue(name)})
		require.NoError(t, err)
	}

	it := NewIndexIterator(tbl, tbl.PrimaryKey(),
		WhereConstraint{FieldIndex: 0, Op: OpGE, Value: basic.IntValue(0)},
		[]WhereConstraint{{FieldIndex: 1, Op: OpEQ, Value: basic.StrValue("a")}},
		nil)
	rows := drain(t, it)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, "a", row.Values[1].S)
	}
}

func TestPlannerChoosesIndexIteratorForCoveredConstraint(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	for i := 0; i < 5; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	planner := NewPlanner(fm, pool)
	it := planner.Plan(tbl, []WhereConstraint{{FieldIndex: 0, Op: OpEQ, Value: basic.IntValue(3)}}, nil)
	_, isIndexIter := it.(*IndexIterator)
	assert.True(t, isIndexIter)
	rows := drain(t, it)
	require.Len(t, rows, 1)
}

func TestPlannerFallsBackToRecordIteratorWithoutCoveredConstraint(t *testing.T) {
	tbl, fm, pool := newPlanFixture(t)
	for i := 0; i < 5; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(int32(i)), basic.StrValue("x")})
		require.NoError(t, err)
	}

	planner := NewPlanner(fm, pool)
	it := planner.Plan(tbl, []WhereConstraint{{FieldIndex: 1, Op: OpEQ, Value: basic.StrValue("x")}}, nil)
	_, isRecordIter := it.(*RecordIterator)
	assert.True(t, isRecordIter)
	rows := drain(t, it)
	require.Len(t, rows, 5)
}
