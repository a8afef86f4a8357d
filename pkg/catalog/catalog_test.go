package catalog

import (
	"testing"

	"osc/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestMockCOICatalog(t *testing.T) {
	c := MockCOICatalog()
	g, err := c.GetGroup("coi")
	assert.Nil(t, err)
	assert.Equal(t, 3, len(g.Tables()))
	assert.Equal(t, "customers", g.Root().Name)

	orders, err := c.GetTable("orders")
	assert.Nil(t, err)
	assert.Equal(t, "customers", orders.Parent().Name)
	items, err := c.GetTable("items")
	assert.Nil(t, err)
	assert.Equal(t, "orders", items.Parent().Name)
	assert.Equal(t, 1, len(orders.Children()))
}

func TestInterleavedHKeys(t *testing.T) {
	c := MockCOICatalog()
	customers, _ := c.GetTable("customers")
	orders, _ := c.GetTable("orders")

	custRow := func(pos int) types.Value {
		return []types.Value{types.IntValue(10), types.StringValue("ann")}[pos]
	}
	orderRow := func(pos int) types.Value {
		return []types.Value{types.IntValue(10), types.IntValue(3), types.NullValue(types.New(types.Timestamp))}[pos]
	}

	ck, err := customers.HKeyForRow(custRow)
	assert.Nil(t, err)
	ok, err := orders.HKeyForRow(orderRow)
	assert.Nil(t, err)
	assert.True(t, ok.HasPrefix(ck))
	assert.True(t, ck.Compare(ok) < 0)

	ak, err := orders.AncestorHKeyForRow(customers, orderRow)
	assert.Nil(t, err)
	assert.True(t, ak.Equal(ck))
}

func TestAddTableForeignKeyArity(t *testing.T) {
	c := MockCOICatalog()
	_, err := c.AddTable(&TableDef{
		Name: "shipments",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "sid", Type: types.New(types.Int).NotNull()},
		},
		PrimaryKey: []string{"cid", "sid"},
		Parent:     "orders",
		ForeignKey: []string{"cid"},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHiddenPKGetsSequence(t *testing.T) {
	c := NewCatalog(NewIDAllocator())
	tbl, err := c.AddTable(&TableDef{
		Name: "logs",
		Columns: []ColumnDef{
			{Name: "msg", Type: types.NewWidth(types.Varchar, 128)},
		},
	})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(tbl.Columns()))
	assert.Equal(t, 2, len(tbl.ColumnsIncludingHidden()))
	hidden, err := tbl.GetColumn(HiddenPKName)
	assert.Nil(t, err)
	assert.True(t, hidden.Hidden)
	seq, err := c.GetSequence(hidden.Sequence)
	assert.Nil(t, err)
	v1, err := seq.NextValue()
	assert.Nil(t, err)
	v2, err := seq.NextValue()
	assert.Nil(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestCloneIsolation(t *testing.T) {
	c := MockCOICatalog()
	v := c.Version
	clone := c.Clone()
	assert.Equal(t, v+1, clone.Version)

	_, err := clone.ReplaceTable("customers", &TableDef{
		Name: "customers",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "name", Type: types.NewWidth(types.Varchar, 32)},
			{Name: "email", Type: types.NewWidth(types.Varchar, 64)},
		},
		PrimaryKey: []string{"cid"},
		GroupName:  "coi",
	})
	assert.Nil(t, err)

	orig, _ := c.GetTable("customers")
	assert.Equal(t, 2, len(orig.Columns()))
	changed, _ := clone.GetTable("customers")
	assert.Equal(t, 3, len(changed.Columns()))
	assert.Equal(t, orig.ID, changed.ID)
}

func TestReplaceTableKeepsChildren(t *testing.T) {
	c := MockCOICatalog().Clone()
	orders, _ := c.GetTable("orders")
	id := orders.ID

	replaced, err := c.ReplaceTable("orders", &TableDef{
		Name: "orders",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "oid", Type: types.New(types.Int).NotNull()},
			{Name: "odate", Type: types.New(types.Timestamp)},
			{Name: "status", Type: types.NewWidth(types.Varchar, 8)},
		},
		PrimaryKey: []string{"cid", "oid"},
		Parent:     "customers",
		ForeignKey: []string{"cid"},
	})
	assert.Nil(t, err)
	assert.Equal(t, id, replaced.ID)

	items, _ := c.GetTable("items")
	assert.Equal(t, replaced, items.Parent())
	assert.Equal(t, 1, len(replaced.Children()))
}

func TestReplaceTableForbidsParentMove(t *testing.T) {
	c := MockCOICatalog().Clone()
	_, err := c.ReplaceTable("items", &TableDef{
		Name: "items",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "iid", Type: types.New(types.Int).NotNull()},
		},
		PrimaryKey: []string{"cid", "iid"},
		Parent:     "customers",
		ForeignKey: []string{"cid"},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRemoveTableWithChildren(t *testing.T) {
	c := MockCOICatalog().Clone()
	err := c.RemoveTable("orders")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Nil(t, c.RemoveTable("items"))
	assert.Nil(t, c.RemoveTable("orders"))
	assert.Nil(t, c.RemoveTable("customers"))
	_, err = c.GetGroup("coi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRespaceGroup(t *testing.T) {
	c := MockCOICatalog()
	g, _ := c.GetGroup("coi")
	old := g.SpaceID
	clone := c.Clone()
	assert.Nil(t, clone.RespaceGroup("coi"))
	ng, _ := clone.GetGroup("coi")
	assert.NotEqual(t, old, ng.SpaceID)
	assert.Equal(t, old, g.SpaceID)
}

func TestTableIndexes(t *testing.T) {
	c := MockCOICatalog()
	idx, err := c.AddTableIndex("customers", "customers_name", []string{"name"}, false)
	assert.Nil(t, err)
	assert.Equal(t, TableIndex, idx.Kind)
	assert.Equal(t, "customers", idx.LeafTable().Name)

	_, err = c.AddTableIndex("customers", "customers_name", []string{"name"}, false)
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Nil(t, c.DropIndex("customers", "customers_name"))
	_, err = c.GetTable("customers")
	assert.Nil(t, err)
}

func TestFullTextIndexVarcharOnly(t *testing.T) {
	c := MockCOICatalog()
	_, err := c.AddFullTextIndex("items", "items_qty_ft", []string{"qty"})
	assert.ErrorIs(t, err, ErrValidation)
	idx, err := c.AddFullTextIndex("items", "items_sku_ft", []string{"sku"})
	assert.Nil(t, err)
	assert.Equal(t, FullTextIndex, idx.Kind)
}

func TestGroupIndexLeaf(t *testing.T) {
	c := MockCOICatalog()
	idx, err := c.AddGroupIndex("coi", "name_sku", []GroupIndexColumn{
		{Table: "customers", Column: "name"},
		{Table: "items", Column: "sku"},
	})
	assert.Nil(t, err)
	assert.Equal(t, GroupIndex, idx.Kind)
	assert.Equal(t, "items", idx.LeafTable().Name)
	assert.Equal(t, "customers", idx.Table().Name)
}

func TestGroupIndexOffPath(t *testing.T) {
	c := MockCOICatalog()
	assert.Nil(t, c.RemoveTable("items"))
	_, err := c.AddTable(&TableDef{
		Name: "notes",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "nid", Type: types.New(types.Int).NotNull()},
			{Name: "body", Type: types.NewWidth(types.Varchar, 256)},
		},
		PrimaryKey: []string{"cid", "nid"},
		Parent:     "customers",
		ForeignKey: []string{"cid"},
	})
	assert.Nil(t, err)
	_, err = c.AddGroupIndex("coi", "odate_body", []GroupIndexColumn{
		{Table: "orders", Column: "odate"},
		{Table: "notes", Column: "body"},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSequenceCycle(t *testing.T) {
	c := NewCatalog(NewIDAllocator())
	seq, err := c.AddSequence("s", 1, 1, 1, 3, true)
	assert.Nil(t, err)
	vals := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		v, err := seq.NextValue()
		assert.Nil(t, err)
		vals = append(vals, v)
	}
	assert.Equal(t, []int64{1, 2, 3, 1}, vals)

	bounded, err := c.AddSequence("b", 1, 1, 1, 2, false)
	assert.Nil(t, err)
	_, err = bounded.NextValue()
	assert.Nil(t, err)
	_, err = bounded.NextValue()
	assert.Nil(t, err)
	_, err = bounded.NextValue()
	assert.ErrorIs(t, err, ErrSequenceExhausted)
}

func TestChangeSetMarshal(t *testing.T) {
	cs := &ChangeSet{
		TableID:   7,
		TableName: "orders",
		Level:     TableLevel,
		ColumnChanges: []Change{
			{Kind: ChangeModify, OldName: "odate", NewName: "placed_at"},
			{Kind: ChangeAdd, NewName: "status"},
		},
		IndexChanges: []IndexChange{
			{Kind: ChangeDrop, OldName: "orders_odate"},
		},
	}
	buf, err := cs.Marshal()
	assert.Nil(t, err)
	out := &ChangeSet{}
	assert.Nil(t, out.Unmarshal(buf))
	assert.Equal(t, cs, out)
}
