package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/metadata"
)

func ordersSchema() []metadata.Field {
	return []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "customer_id", Type: metadata.TypeInt, NotNull: true},
		{Name: "total", Type: metadata.TypeFloat},
	}
}

func customersSchema() []metadata.Field {
	return []metadata.Field{
		{Name: "id", Type: metadata.TypeInt, NotNull: true},
		{Name: "name", Type: metadata.TypeVarchar, MaxLen: 16, NotNull: true},
	}
}

func TestCreateDatabaseAndTableThenReopen(t *testing.T) {
	root := t.TempDir()

	gc, err := Open(root, filepath.Join(root, "tmp"), 64)
	require.NoError(t, err)
	require.NoError(t, gc.CreateDatabase("shop"))

	db, err := gc.UseDatabase("shop")
	require.NoError(t, err)

	customers, err := db.CreateTable("customers", customersSchema())
	require.NoError(t, err)
	require.NoError(t, customers.AddPK([]metadata.Field{customers.Schema.Fields[0]}))
	_, _, err = customers.InsertRecord([]basic.Value{basic.IntValue(1), basic.StrValue("ada")})
	require.NoError(t, err)

	orders, err := db.CreateTable("orders", ordersSchema())
	require.NoError(t, err)
	require.NoError(t, orders.AddPK([]metadata.Field{orders.Schema.Fields[0]}))
	require.NoError(t, orders.AddFK("fk_customer", []metadata.Field{orders.Schema.Fields[1]}, customers, []metadata.Field{customers.Schema.Fields[0]}))
	_, _, err = orders.InsertRecord([]basic.Value{basic.IntValue(100), basic.IntValue(1), basic.FloatValue(9.99)})
	require.NoError(t, err)

	require.NoError(t, gc.Close())

	gc2, err := Open(root, filepath.Join(root, "tmp"), 64)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shop"}, gc2.ShowDatabases())

	db2, err := gc2.UseDatabase("shop")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"customers", "orders"}, db2.ShowTables())

	customers2, err := db2.UseTable("customers")
	require.NoError(t, err)
	var seen int
	require.NoError(t, customers2.ForEachLiveRecord(func(uint32, int, []byte) error {
		seen++
		return nil
	}))
	assert.Equal(t, 1, seen)

	orders2, err := db2.UseTable("orders")
	require.NoError(t, err)
	require.Len(t, orders2.ForeignKeys(), 1)
	assert.Equal(t, "customers", orders2.ForeignKeys()[0].RefTable.Name)
	assert.NotNil(t, orders2.PrimaryKey())
}

func TestDropDatabaseRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	gc, err := Open(root, filepath.Join(root, "tmp"), 64)
	require.NoError(t, err)
	require.NoError(t, gc.CreateDatabase("scratch"))

	db, err := gc.UseDatabase("scratch")
	require.NoError(t, err)
	tbl, err := db.CreateTable("t", customersSchema())
	require.NoError(t, err)
	require.NoError(t, tbl.AddPK([]metadata.Field{tbl.Schema.Fields[0]}))

	require.NoError(t, gc.DropDatabase("scratch"))
	assert.Empty(t, gc.ShowDatabases())
	_, err = gc.UseDatabase("scratch")
	assert.ErrorIs(t, err, basic.ErrNoSuchDatabase)
}

func TestDropDatabasePurgesTablesWithCrossTableForeignKeys(t *testing.T) {
	root := t.TempDir()
	gc, err := Open(root, filepath.Join(root, "tmp"), 64)
	require.NoError(t, err)
	require.NoError(t, gc.CreateDatabase("shop"))
	db, err := gc.UseDatabase("shop")
	require.NoError(t, err)

	customers, err := db.CreateTable("customers", customersSchema())
	require.NoError(t, err)
	require.NoError(t, customers.AddPK([]metadata.Field{customers.Schema.Fields[0]}))

	orders, err := db.CreateTable("orders", ordersSchema())
	require.NoError(t, err)
	require.NoError(t, orders.AddPK([]metadata.Field{orders.Schema.Fields[0]}))
	require.NoError(t, orders.AddFK("fk_customer", []metadata.Field{orders.Schema.Fields[1]}, customers, []metadata.Field{customers.Schema.Fields[0]}))

	// customers was created before orders, so ShowTables() returns it first;
	// DropDatabase must still succeed despite orders' live FK onto it.
	require.NoError(t, gc.DropDatabase("shop"))
	assert.Empty(t, gc.ShowDatabases())
	_, err = gc.UseDatabase("shop")
	assert.ErrorIs(t, err, basic.ErrNoSuchDatabase)
}

func TestDropTableBlockedWhileReferencedByForeignKey(t *testing.T) {
	root := t.TempDir()
	gc, err := Open(root, filepath.Join(root, "tmp"), 64)
	require.NoError(t, err)
	require.NoError(t, gc.CreateDatabase("shop"))
	db, err := gc.UseDatabase("shop")
	require.NoError(t, err)

	customers, err := db.CreateTable("customers", customersSchema())
	require.NoError(t, err)
	require.NoError(t, customers.AddPK([]metadata.Field{customers.Schema.Fields[0]}))

	orders, err := db.CreateTable("orders", ordersSchema())
	require.NoError(t, err)
	require.NoError(t, orders.AddPK([]metadata.Field{orders.Schema.Fields[0]}))
	require.NoError(t, orders.AddFK("fk_customer", []metadata.Field{orders.Schema.Fields[1]}, customers, []metadata.Field{customers.Schema.Fields[0]}))

	err = db.DropTable("customers")
	assert.ErrorIs(t, err, basic.ErrForeignReferenced)

	require.NoError(t, orders.DropFK("fk_customer"))
	require.NoError(t, db.DropTable("customers"))
	assert.ElementsMatch(t, []string{"orders"}, db.ShowTables())
}
