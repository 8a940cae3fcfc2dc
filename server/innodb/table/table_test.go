package table

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
)

func newTestTable(t *testing.T, name string, fields []metadata.Field) *Table {
	t.Helper()
	dir := t.TempDir()
	fm := filemap.New(dir)
	pool := buffer_pool.New(256, basic.PageSize, fm)
	fm.SetEvictor(pool)

	dataID, err := fm.Open(filepath.Join(dir, name+".dat"))
	require.NoError(t, err)
	idxID, err := fm.Open(filepath.Join(dir, name+".idx"))
	require.NoError(t, err)
	forest, err := btree.CreateForest(idxID, pool)
	require.NoError(t, err)

	schema := metadata.NewTableSchema(fields)
	return New(name, schema, dataID, pool, forest)
}

func usersSchema() []metadata.Field {
	return []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "name", Type: metadata.TypeVarchar, MaxLen: 16, NotNull: true},
		{Name: "score", Type: metadata.TypeFloat},
	}
}

func TestInsertAndScan(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))

	for i := 0; i < 10; i++ {
		_, _, err := tbl.InsertRecord([]basic.Value{
			basic.IntValue(int32(i)),
			basic.StrValue("user"),
			basic.FloatValue(float64(i) * 1.5),
		})
		require.NoError(t, err)
	}

	count := 0
	require.NoError(t, tbl.ForEachLiveRecord(func(uint32, int, []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 10, count)
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))

	_, _, err := tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("a"), basic.FloatValue(0)})
	require.NoError(t, err)

	_, _, err = tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("b"), basic.FloatValue(0)})
	assert.ErrorIs(t, err, basic.ErrDuplicate)
}

func TestNotNullViolationRejectedAtEncode(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	_, _, err := tbl.InsertRecord([]basic.Value{basic.NullValue(), basic.StrValue("a"), basic.FloatValue(0)})
	assert.ErrorIs(t, err, basic.ErrNotNullViolation)
}

func TestEraseRemovesRowAndIndexEntry(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))

	pageNo, slot, err := tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("a"), basic.FloatValue(0)})
	require.NoError(t, err)

	require.NoError(t, tbl.EraseRecord(pageNo, slot, true))

	_, found, err := tbl.pk.Tree.PreciseMatch([]int32{1})
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("a"), basic.FloatValue(0)})
	assert.NoError(t, err, "key should be free for reuse after erase")
}

func TestUniqueIndexRejectsDuplicateValue(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))
	_, err := tbl.AddIndex([]metadata.Field{tbl.Schema.Fields[1]}, true)
	require.NoError(t, err)

	_, _, err = tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("dup"), basic.FloatValue(0)})
	require.NoError(t, err)

	_, _, err = tbl.InsertRecord([]basic.Value{basic.IntValue(2), basic.StrValue("dup"), basic.FloatValue(0)})
	assert.ErrorIs(t, err, basic.ErrDuplicate)
}

func TestAddIndexSharesExistingTreeForSameFieldSet(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))

	m1, err := tbl.AddIndex([]metadata.Field{tbl.Schema.Fields[1]}, false)
	require.NoError(t, err)
	m2, err := tbl.AddIndex([]metadata.Field{tbl.Schema.Fields[1]}, true)
	require.NoError(t, err)

	assert.Same(t, m1.Tree, m2.Tree, "same field-set should share one tree")
	assert.Equal(t, 2, m1.Refcount)
}

func TestForeignKeyMissingReferenceRejected(t *testing.T) {
	parent := newTestTable(t, "groups", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, parent.AddPK([]metadata.Field{parent.Schema.Fields[0]}))

	child := newTestTable(t, "members", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "group_id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, child.AddPK([]metadata.Field{child.Schema.Fields[0]}))
	require.NoError(t, child.AddFK("fk_group", []metadata.Field{child.Schema.Fields[1]}, parent, []metadata.Field{parent.Schema.Fields[0]}))

	_, _, err := child.InsertRecord([]basic.Value{basic.IntValue(1), basic.IntValue(99)})
	assert.ErrorIs(t, err, basic.ErrForeignMissing)
}

func TestForeignKeyReferencedRowCannotBeErased(t *testing.T) {
	parent := newTestTable(t, "groups", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, parent.AddPK([]metadata.Field{parent.Schema.Fields[0]}))
	parentPage, parentSlot, err := parent.InsertRecord([]basic.Value{basic.IntValue(7)})
	require.NoError(t, err)

	child := newTestTable(t, "members", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "group_id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, child.AddPK([]metadata.Field{child.Schema.Fields[0]}))
	require.NoError(t, child.AddFK("fk_group", []metadata.Field{child.Schema.Fields[1]}, parent, []metadata.Field{parent.Schema.Fields[0]}))

	_, _, err = child.InsertRecord([]basic.Value{basic.IntValue(1), basic.IntValue(7)})
	require.NoError(t, err)

	err = parent.EraseRecord(parentPage, parentSlot, true)
	assert.ErrorIs(t, err, basic.ErrForeignReferenced)
}

func TestAddFKValidatesAllRowsBeforeMutating(t *testing.T) {
	parent := newTestTable(t, "groups", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, parent.AddPK([]metadata.Field{parent.Schema.Fields[0]}))
	_, _, err := parent.InsertRecord([]basic.Value{basic.IntValue(1)})
	require.NoError(t, err)

	child := newTestTable(t, "members", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "group_id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, child.AddPK([]metadata.Field{child.Schema.Fields[0]}))
	_, _, err = child.InsertRecord([]basic.Value{basic.IntValue(1), basic.IntValue(1)})
	require.NoError(t, err)
	_, _, err = child.InsertRecord([]basic.Value{basic.IntValue(2), basic.IntValue(999)})
	require.NoError(t, err)

	err = child.AddFK("fk_group", []metadata.Field{child.Schema.Fields[1]}, parent, []metadata.Field{parent.Schema.Fields[0]})
	assert.ErrorIs(t, err, basic.ErrForeignMissing)
	assert.Len(t, child.fks, 0, "failed add_fk must not leave a partially-applied constraint")

	refcount, err := parent.pk.Tree.GetRefcount([]int32{1})
	require.NoError(t, err)
	assert.Equal(t, int32(0), refcount, "failed add_fk must not leave a partial refcount bump")
}

func TestDropPKBlockedWhileReferenced(t *testing.T) {
	parent := newTestTable(t, "groups", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, parent.AddPK([]metadata.Field{parent.Schema.Fields[0]}))
	_, _, err := parent.InsertRecord([]basic.Value{basic.IntValue(1)})
	require.NoError(t, err)

	child := newTestTable(t, "members", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "group_id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, child.AddPK([]metadata.Field{child.Schema.Fields[0]}))
	require.NoError(t, child.AddFK("fk_group", []metadata.Field{child.Schema.Fields[1]}, parent, []metadata.Field{parent.Schema.Fields[0]}))
	_, _, err = child.InsertRecord([]basic.Value{basic.IntValue(1), basic.IntValue(1)})
	require.NoError(t, err)

	err = parent.DropPK()
	assert.ErrorIs(t, err, basic.ErrForeignReferenced)
}

func TestDropFKThenDropPKSucceeds(t *testing.T) {
	parent := newTestTable(t, "groups", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, parent.AddPK([]metadata.Field{parent.Schema.Fields[0]}))
	_, _, err := parent.InsertRecord([]basic.Value{basic.IntValue(1)})
	require.NoError(t, err)

	child := newTestTable(t, "members", []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "group_id", Type: metadata.TypeInt, NotNull: true},
	})
	require.NoError(t, child.AddPK([]metadata.Field{child.Schema.Fields[0]}))
	require.NoError(t, child.AddFK("fk_group", []metadata.Field{child.Schema.Fields[1]}, parent, []metadata.Field{parent.Schema.Fields[0]}))
	_, _, err = child.InsertRecord([]basic.Value{basic.IntValue(1), basic.IntValue(1)})
	require.NoError(t, err)

	require.NoError(t, child.DropFK("fk_group"))
	assert.NoError(t, parent.DropPK())
}

func TestWriteMetaThenReadMetaRoundTrip(t *testing.T) {
	tbl := newTestTable(t, "users", usersSchema())
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))
	_, err := tbl.AddIndex([]metadata.Field{tbl.Schema.Fields[1]}, true)
	require.NoError(t, err)
	_, _, err = tbl.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("a"), basic.FloatValue(2.5)})
	require.NoError(t, err)

	dir := t.TempDir()
	fm := filemap.New(dir)
	metaID, err := fm.Open(filepath.Join(dir, "users.meta"))
	require.NoError(t, err)
	pool := buffer_pool.New(64, basic.PageSize, fm)
	fm.SetEvictor(pool)

	acc := filemap.NewAccessor(metaID, pool)
	require.NoError(t, tbl.WriteMeta(acc, "mydb"))

	acc.Reset(0)
	rec, err := ReadMeta(acc)
	require.NoError(t, err)

	assert.Equal(t, "mydb", rec.OwningDB)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, "id", rec.Fields[0].Name)
	assert.Equal(t, "name", rec.Fields[1].Name)
	assert.True(t, rec.HasPK)
	assert.Equal(t, []int{0}, rec.PKOrdinals)
	assert.Len(t, rec.Uniques, 1)
	assert.Equal(t, []int{1}, rec.Uniques[0].FieldOrdinals)
	assert.Equal(t, uint32(1), rec.NPages)
}
