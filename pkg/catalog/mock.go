package catalog

import (
	"fmt"

	"osc/pkg/types"
)

func MockManager(dir string) *Manager {
	var journal Journal
	if dir != "" {
		journal = NewJournal(dir, "online", nil)
	}
	return NewManager(MockCOICatalog(), journal)
}

// MockCOICatalog builds the customers-orders-items group used by most
// fixtures: three tables interleaved into one storage tree.
func MockCOICatalog() *Catalog {
	c := NewCatalog(NewIDAllocator())
	if _, err := c.AddTable(&TableDef{
		Name: "customers",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "name", Type: types.NewWidth(types.Varchar, 32)},
		},
		PrimaryKey: []string{"cid"},
		GroupName:  "coi",
	}); err != nil {
		panic(err)
	}
	if _, err := c.AddTable(&TableDef{
		Name: "orders",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "oid", Type: types.New(types.Int).NotNull()},
			{Name: "odate", Type: types.New(types.Timestamp)},
		},
		PrimaryKey: []string{"cid", "oid"},
		Parent:     "customers",
		ForeignKey: []string{"cid"},
	}); err != nil {
		panic(err)
	}
	if _, err := c.AddTable(&TableDef{
		Name: "items",
		Columns: []ColumnDef{
			{Name: "cid", Type: types.New(types.Int).NotNull()},
			{Name: "oid", Type: types.New(types.Int).NotNull()},
			{Name: "iid", Type: types.New(types.Int).NotNull()},
			{Name: "sku", Type: types.NewWidth(types.Varchar, 16)},
			{Name: "qty", Type: types.New(types.Int)},
		},
		PrimaryKey: []string{"cid", "oid", "iid"},
		Parent:     "orders",
		ForeignKey: []string{"cid", "oid"},
	}); err != nil {
		panic(err)
	}
	return c
}

// MockFlatTableDef is a single root table with an int key and n payload
// columns c0..c(n-1).
func MockFlatTableDef(name string, payloadCols int) *TableDef {
	def := &TableDef{
		Name: name,
		Columns: []ColumnDef{
			{Name: "id", Type: types.New(types.BigInt).NotNull()},
		},
		PrimaryKey: []string{"id"},
	}
	for i := 0; i < payloadCols; i++ {
		def.Columns = append(def.Columns, ColumnDef{
			Name: fmt.Sprintf("c%d", i),
			Type: types.NewWidth(types.Varchar, 64),
		})
	}
	return def
}
