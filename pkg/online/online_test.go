package online

import (
	"testing"
	"time"

	"osc/pkg/catalog"
	"osc/pkg/expr"
	"osc/pkg/row"
	"osc/pkg/store"
	"osc/pkg/txn"
	"osc/pkg/types"

	"github.com/stretchr/testify/assert"
)

type testEnv struct {
	mgr    *catalog.Manager
	store  *store.MemStore
	svc    *txn.Service
	reg    *types.Registry
	helper *Helper
}

func newTestEnv(t *testing.T, opts *Options) *testEnv {
	if opts == nil {
		opts = &Options{ConcurrentDMLAllowed: true, CommitRowInterval: 2}
	}
	st := store.NewMemStore()
	env := &testEnv{
		mgr:   catalog.NewManager(catalog.MockCOICatalog(), nil),
		store: st,
		svc:   txn.NewService(store.NewTxnStoreFactory(st), txn.Options{}),
		reg:   types.NewRegistry(),
	}
	helper, err := NewHelper(env.mgr, env.store, env.svc, env.reg, opts)
	assert.Nil(t, err)
	env.helper = helper
	t.Cleanup(func() {
		assert.Nil(t, helper.Close())
		assert.Nil(t, env.svc.Close())
		assert.Nil(t, env.mgr.Close())
	})
	return env
}

func (e *testEnv) row(t *testing.T, table string, values ...types.Value) row.Row {
	tbl, err := e.mgr.Catalog().GetTable(table)
	assert.Nil(t, err)
	return row.NewDataRow(row.TypeFor(e.mgr.Catalog(), tbl), values...)
}

func (e *testEnv) customer(t *testing.T, cid int64, name string) row.Row {
	return e.row(t, "customers", types.IntValue(cid), types.StringValue(name))
}

func (e *testEnv) order(t *testing.T, cid, oid int64, odate types.Value) row.Row {
	return e.row(t, "orders", types.IntValue(cid), types.IntValue(oid), odate)
}

func (e *testEnv) item(t *testing.T, cid, oid, iid int64, sku string, qty int64) row.Row {
	return e.row(t, "items", types.IntValue(cid), types.IntValue(oid), types.IntValue(iid),
		types.StringValue(sku), types.IntValue(qty))
}

func (e *testEnv) mustInsert(t *testing.T, rows ...row.Row) {
	tx := e.svc.Begin()
	for _, r := range rows {
		assert.Nil(t, e.store.Insert(tx, e.mgr.Catalog(), r))
	}
	assert.Nil(t, tx.Commit())
}

func (e *testEnv) seedCOI(t *testing.T, odate types.Value) {
	e.mustInsert(t,
		e.customer(t, 1, "ann"),
		e.customer(t, 2, "bob"),
		e.customer(t, 3, "eve"),
		e.order(t, 1, 10, odate),
		e.order(t, 2, 20, odate),
		e.item(t, 1, 10, 100, "red pen", 2),
		e.item(t, 2, 20, 200, "blue pen", 1),
	)
}

func (e *testEnv) groupSpace(t *testing.T) uint64 {
	g, err := e.mgr.Catalog().GetGroup("coi")
	assert.Nil(t, err)
	return g.SpaceID
}

func (e *testEnv) scanAll(t *testing.T) []row.Row {
	c := e.mgr.Catalog()
	g, err := c.GetGroup("coi")
	assert.Nil(t, err)
	cursor := e.store.ScanGroup(c, g)
	defer cursor.Close()
	var out []row.Row
	for {
		r, err := cursor.Next()
		assert.Nil(t, err)
		if r == nil {
			return out
		}
		out = append(out, r)
	}
}

func customersDefWith(nameType types.Type, extra ...catalog.ColumnDef) *catalog.TableDef {
	def := &catalog.TableDef{
		Name: "customers",
		Columns: []catalog.ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "name", Type: nameType},
		},
		PrimaryKey: []string{"cid"},
		GroupName:  "coi",
	}
	def.Columns = append(def.Columns, extra...)
	return def
}

func TestMetadataAlterInstallsImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	space := env.groupSpace(t)
	v := env.mgr.Catalog().Version

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "customers",
		Def:   customersDefWith(types.NewWidth(types.Varchar, 64)),
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeModify, OldName: "name", NewName: "name"},
		},
	})
	assert.Nil(t, err)

	c := env.mgr.Catalog()
	assert.Equal(t, v+1, c.Version)
	assert.Equal(t, space, env.groupSpace(t))
	tbl, _ := c.GetTable("customers")
	col, _ := tbl.GetColumn("name")
	assert.Equal(t, 64, col.Type.Width)
	assert.Equal(t, 7, len(env.scanAll(t)))
}

func TestNotNullCheckPasses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.TimestampValue(time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)))
	space := env.groupSpace(t)

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "orders",
		Def: &catalog.TableDef{
			Name: "orders",
			Columns: []catalog.ColumnDef{
				{Name: "cid", Type: types.New(types.Int).NotNull()},
				{Name: "oid", Type: types.New(types.Int).NotNull()},
				{Name: "odate", Type: types.New(types.Timestamp).NotNull()},
			},
			PrimaryKey: []string{"cid", "oid"},
			Parent:     "customers",
			ForeignKey: []string{"cid"},
		},
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeModify, OldName: "odate", NewName: "odate"},
		},
	})
	assert.Nil(t, err)

	tbl, _ := env.mgr.Catalog().GetTable("orders")
	col, _ := tbl.GetColumn("odate")
	assert.False(t, col.Type.Nullable)
	assert.Equal(t, space, env.groupSpace(t))
	assert.False(t, env.mgr.IsOnlineActive(tbl.ID))
}

func TestNotNullCheckFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	v := env.mgr.Catalog().Version

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "orders",
		Def: &catalog.TableDef{
			Name: "orders",
			Columns: []catalog.ColumnDef{
				{Name: "cid", Type: types.New(types.Int).NotNull()},
				{Name: "oid", Type: types.New(types.Int).NotNull()},
				{Name: "odate", Type: types.New(types.Timestamp).NotNull()},
			},
			PrimaryKey: []string{"cid", "oid"},
			Parent:     "customers",
			ForeignKey: []string{"cid"},
		},
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeModify, OldName: "odate", NewName: "odate"},
		},
	})
	assert.ErrorIs(t, err, expr.ErrNullNotAllowed)

	c := env.mgr.Catalog()
	assert.Equal(t, v, c.Version)
	tbl, _ := c.GetTable("orders")
	col, _ := tbl.GetColumn("odate")
	assert.True(t, col.Type.Nullable)
	assert.False(t, env.mgr.IsOnlineActive(tbl.ID))
}

func TestIndexBuildBackfills(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	err := env.helper.BuildIndexes("items", IndexSpec{Name: "items_sku", Columns: []string{"sku"}})
	assert.Nil(t, err)

	c := env.mgr.Catalog()
	tbl, _ := c.GetTable("items")
	idx, err := tbl.GetIndex("items_sku")
	assert.Nil(t, err)
	assert.Equal(t, 2, env.store.IndexEntryCount(idx))

	keys, err := env.store.IndexLookup(idx, []types.Value{types.StringValue("red pen")})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(keys))
}

func TestFullTextIndexBuild(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	err := env.helper.BuildIndexes("items", IndexSpec{Name: "items_sku_ft", Kind: catalog.FullTextIndex, Columns: []string{"sku"}})
	assert.Nil(t, err)

	tbl, _ := env.mgr.Catalog().GetTable("items")
	idx, err := tbl.GetIndex("items_sku_ft")
	assert.Nil(t, err)
	keys, err := env.store.IndexLookup(idx, []types.Value{types.StringValue("pen")})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(keys))
}

func TestGroupIndexBuild(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	err := env.helper.BuildIndexes("customers", IndexSpec{
		Name: "name_sku",
		Kind: catalog.GroupIndex,
		GroupColumns: []catalog.GroupIndexColumn{
			{Table: "customers", Column: "name"},
			{Table: "items", Column: "sku"},
		},
	})
	assert.Nil(t, err)

	c := env.mgr.Catalog()
	root, _ := c.GetTable("customers")
	idx, err := root.GetIndex("name_sku")
	assert.Nil(t, err)
	assert.Equal(t, "items", idx.LeafTable().Name)
	assert.Equal(t, 2, env.store.IndexEntryCount(idx))

	keys, err := env.store.IndexLookup(idx, []types.Value{
		types.StringValue("bob"), types.StringValue("blue pen"),
	})
	assert.Nil(t, err)
	assert.Equal(t, 1, len(keys))
}

func TestDropIndexNeedsNoScan(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	assert.Nil(t, env.helper.BuildIndexes("items", IndexSpec{Name: "items_sku", Columns: []string{"sku"}}))
	assert.Nil(t, env.helper.DropIndexes("items", "items_sku"))
	tbl, _ := env.mgr.Catalog().GetTable("items")
	_, err := tbl.GetIndex("items_sku")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAddColumnRewrite(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	oldSpace := env.groupSpace(t)
	lit := "unknown"

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "customers",
		Def: customersDefWith(types.NewWidth(types.Varchar, 32),
			catalog.ColumnDef{Name: "email", Type: types.NewWidth(types.Varchar, 64), DefaultLiteral: &lit}),
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeAdd, NewName: "email"},
		},
	})
	assert.Nil(t, err)

	newSpace := env.groupSpace(t)
	assert.NotEqual(t, oldSpace, newSpace)
	assert.Equal(t, 7, env.store.RowCount(newSpace))

	for _, r := range env.scanAll(t) {
		if r.RowType().Table.Name != "customers" {
			continue
		}
		assert.Equal(t, "unknown", r.FieldValue(2).Str())
	}
}

func TestCastRewrite(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "items",
		Def: &catalog.TableDef{
			Name: "items",
			Columns: []catalog.ColumnDef{
				{Name: "cid", Type: types.New(types.Int).NotNull()},
				{Name: "oid", Type: types.New(types.Int).NotNull()},
				{Name: "iid", Type: types.New(types.Int).NotNull()},
				{Name: "sku", Type: types.NewWidth(types.Varchar, 16)},
				{Name: "qty", Type: types.NewWidth(types.Varchar, 20)},
			},
			PrimaryKey: []string{"cid", "oid", "iid"},
			Parent:     "orders",
			ForeignKey: []string{"cid", "oid"},
		},
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeModify, OldName: "qty", NewName: "qty"},
		},
	})
	assert.Nil(t, err)

	for _, r := range env.scanAll(t) {
		if r.RowType().Table.Name != "items" {
			continue
		}
		assert.Equal(t, types.Varchar, r.FieldValue(4).Type.Class)
	}
}

func TestGroupRewriteRenamesForeignKey(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	oldSpace := env.groupSpace(t)

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "orders",
		Def: &catalog.TableDef{
			Name: "orders",
			Columns: []catalog.ColumnDef{
				{Name: "customer_id", Type: types.New(types.Int).NotNull()},
				{Name: "oid", Type: types.New(types.Int).NotNull()},
				{Name: "odate", Type: types.New(types.Timestamp)},
			},
			PrimaryKey: []string{"customer_id", "oid"},
			Parent:     "customers",
			ForeignKey: []string{"customer_id"},
		},
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeModify, OldName: "cid", NewName: "customer_id"},
		},
	})
	assert.Nil(t, err)

	newSpace := env.groupSpace(t)
	assert.NotEqual(t, oldSpace, newSpace)
	assert.Equal(t, 7, env.store.RowCount(newSpace))

	tbl, _ := env.mgr.Catalog().GetTable("orders")
	_, err = tbl.GetColumn("customer_id")
	assert.Nil(t, err)
	assert.False(t, env.mgr.IsOnlineActive(tbl.ID))
}

func TestRewriteWithoutDefaultFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	oldSpace := env.groupSpace(t)
	v := env.mgr.Catalog().Version

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "customers",
		Def: customersDefWith(types.NewWidth(types.Varchar, 32),
			catalog.ColumnDef{Name: "flag", Type: types.New(types.Boolean).NotNull()}),
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeAdd, NewName: "flag"},
		},
	})
	assert.ErrorIs(t, err, expr.ErrNullNotAllowed)
	assert.Equal(t, v, env.mgr.Catalog().Version)
	assert.Equal(t, oldSpace, env.groupSpace(t))
	assert.Equal(t, 7, env.store.RowCount(oldSpace))
}

func TestRewriteReferencingDroppedColumn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	v := env.mgr.Catalog().Version

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "customers",
		Def:   customersDefWith(types.NewWidth(types.Varchar, 32)),
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeDrop, OldName: "name"},
		},
	})
	assert.ErrorIs(t, err, ErrDroppedNewColumn)
	assert.Equal(t, v, env.mgr.Catalog().Version)
}

func TestDefaultFunctionColumn(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mustInsert(t, e2Customer(env, t, 1))

	err := env.helper.AlterTable(&AlterTableRequest{
		Table: "customers",
		Def: customersDefWith(types.NewWidth(types.Varchar, 32),
			catalog.ColumnDef{Name: "created_at", Type: types.New(types.Timestamp), DefaultFunction: "CURRENT_TIMESTAMP"}),
		ColumnChanges: []catalog.Change{
			{Kind: catalog.ChangeAdd, NewName: "created_at"},
		},
	})
	assert.Nil(t, err)

	rows := env.scanAll(t)
	assert.Equal(t, 1, len(rows))
	assert.False(t, rows[0].FieldValue(2).IsNull())
}

func e2Customer(env *testEnv, t *testing.T, cid int64) row.Row {
	return env.customer(t, cid, "c")
}

func TestConcurrentDMLMaintainsNewIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	oldCat := env.mgr.Catalog()
	items, _ := oldCat.GetTable("items")
	newCat := oldCat.Clone()
	idx, err := newCat.AddTableIndex("items", "items_sku", []string{"sku"}, false)
	assert.Nil(t, err)

	session, err := env.mgr.BeginOnline([]*catalog.ChangeSet{{
		TableID:   items.ID,
		TableName: items.Name,
		Level:     catalog.IndexLevel,
		IndexChanges: []catalog.IndexChange{
			{Kind: catalog.ChangeAdd, NewName: "items_sku"},
		},
	}}, newCat)
	assert.Nil(t, err)

	hooked := env.item(t, 1, 10, 101, "green pen", 5)
	env.mustInsert(t, hooked)
	assert.Equal(t, 1, env.store.IndexEntryCount(idx))
	k, _ := hooked.HKey()
	assert.True(t, env.mgr.HasHandledHKey(session.ID, items.ID, k))

	assert.Nil(t, env.mgr.CommitOnline(session.ID))
	assert.Equal(t, newCat, env.mgr.Catalog())
}

func TestConcurrentDMLRejected(t *testing.T) {
	env := newTestEnv(t, &Options{ConcurrentDMLAllowed: false, CommitRowInterval: 2})
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	oldCat := env.mgr.Catalog()
	items, _ := oldCat.GetTable("items")
	newCat := oldCat.Clone()
	_, err := newCat.AddTableIndex("items", "items_sku", []string{"sku"}, false)
	assert.Nil(t, err)

	session, err := env.mgr.BeginOnline([]*catalog.ChangeSet{{
		TableID:   items.ID,
		TableName: items.Name,
		Level:     catalog.IndexLevel,
		IndexChanges: []catalog.IndexChange{
			{Kind: catalog.ChangeAdd, NewName: "items_sku"},
		},
	}}, newCat)
	assert.Nil(t, err)

	tx := env.svc.Begin()
	err = env.store.Insert(tx, oldCat, env.item(t, 1, 10, 101, "green pen", 5))
	assert.ErrorIs(t, err, ErrConcurrentDML)
	assert.Nil(t, tx.Rollback())
	assert.Nil(t, env.mgr.AbortOnline(session.ID))
}

func TestConcurrentDMLDuringRewrite(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	oldCat := env.mgr.Catalog()
	lit := "unknown"
	newCat := oldCat.Clone()
	_, err := newCat.ReplaceTable("customers", customersDefWith(types.NewWidth(types.Varchar, 32),
		catalog.ColumnDef{Name: "email", Type: types.NewWidth(types.Varchar, 64), DefaultLiteral: &lit}))
	assert.Nil(t, err)
	assert.Nil(t, newCat.RespaceGroup("coi"))

	g, _ := oldCat.GetGroup("coi")
	var sets []*catalog.ChangeSet
	for _, tbl := range g.Tables() {
		cs := &catalog.ChangeSet{TableID: tbl.ID, TableName: tbl.Name, Level: catalog.TableLevel}
		if tbl.Name == "customers" {
			cs.ColumnChanges = []catalog.Change{{Kind: catalog.ChangeAdd, NewName: "email"}}
		}
		sets = append(sets, cs)
	}
	session, err := env.mgr.BeginOnline(sets, newCat)
	assert.Nil(t, err)

	fresh := env.customer(t, 9, "zoe")
	env.mustInsert(t, fresh)

	ng, _ := newCat.GetGroup("coi")
	assert.Equal(t, 1, env.store.RowCount(ng.SpaceID))
	projected := env.store.ScanGroup(newCat, ng)
	r, err := projected.Next()
	assert.Nil(t, err)
	assert.Equal(t, "zoe", r.FieldValue(1).Str())
	assert.Equal(t, "unknown", r.FieldValue(2).Str())
	assert.Nil(t, projected.Close())

	tx := env.svc.Begin()
	assert.Nil(t, env.store.Delete(tx, oldCat, fresh))
	assert.Nil(t, tx.Commit())
	assert.Equal(t, 0, env.store.RowCount(ng.SpaceID))

	assert.Nil(t, env.mgr.AbortOnline(session.ID))
}

func TestAlterTableAsync(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	done := make(chan error, 1)
	err := env.helper.AlterTableAsync(&AlterTableRequest{
		Table: "items",
		AddIndexes: []IndexSpec{
			{Name: "items_sku", Columns: []string{"sku"}},
		},
	}, func(e error) { done <- e })
	assert.Nil(t, err)
	assert.Nil(t, <-done)

	tbl, _ := env.mgr.Catalog().GetTable("items")
	_, err = tbl.GetIndex("items_sku")
	assert.Nil(t, err)
}

func TestCheckTableConstraints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))

	assert.Nil(t, env.helper.CheckTableConstraints("customers", "name"))
	tbl, err := env.mgr.Catalog().GetTable("customers")
	assert.Nil(t, err)
	col, err := tbl.GetColumn("name")
	assert.Nil(t, err)
	assert.False(t, col.Type.Nullable)
}

func TestCheckTableConstraintsFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedCOI(t, types.NullValue(types.New(types.Timestamp)))
	env.mustInsert(t, env.row(t, "customers",
		types.IntValue(4), types.NullValue(types.NewWidth(types.Varchar, 32))))

	err := env.helper.CheckTableConstraints("customers", "name")
	assert.ErrorIs(t, err, expr.ErrNullNotAllowed)

	tbl, err := env.mgr.Catalog().GetTable("customers")
	assert.Nil(t, err)
	col, err := tbl.GetColumn("name")
	assert.Nil(t, err)
	assert.True(t, col.Type.Nullable)
}
