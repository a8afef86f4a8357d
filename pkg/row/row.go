package row

import (
	"fmt"
	"strings"

	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/types"
)

// RowType binds a table to the catalog version it was resolved under. Two
// row types are interchangeable only when both fields match.
type RowType struct {
	Table   *catalog.Table
	Version uint64
}

type rowTypeKey uint64

// TypeFor memoizes one RowType per table per catalog version.
func TypeFor(c *catalog.Catalog, t *catalog.Table) *RowType {
	v := c.CachedValue(rowTypeKey(t.ID), func() interface{} {
		return &RowType{Table: t, Version: c.Version}
	})
	return v.(*RowType)
}

func (rt *RowType) NFields() int {
	return len(rt.Table.ColumnsIncludingHidden())
}

func (rt *RowType) FieldType(pos int) types.Type {
	return rt.Table.ColumnsIncludingHidden()[pos].Type
}

func (rt *RowType) Equal(o *RowType) bool {
	return rt.Table == o.Table && rt.Version == o.Version
}

func (rt *RowType) String() string {
	return fmt.Sprintf("ROWTYPE[%s@v%d]", rt.Table.Name, rt.Version)
}

// Row is one typed record. FieldValue is positional over the table's
// columns, hidden ones included.
type Row interface {
	RowType() *RowType
	FieldValue(pos int) types.Value
	HKey() (common.HKey, error)
}

type DataRow struct {
	rt     *RowType
	values []types.Value
}

func NewDataRow(rt *RowType, values ...types.Value) *DataRow {
	if len(values) == 0 {
		values = make([]types.Value, rt.NFields())
		for i := range values {
			values[i] = types.NullValue(rt.FieldType(i))
		}
	}
	return &DataRow{rt: rt, values: values}
}

func (r *DataRow) RowType() *RowType {
	return r.rt
}

func (r *DataRow) FieldValue(pos int) types.Value {
	return r.values[pos]
}

func (r *DataRow) SetValue(pos int, v types.Value) {
	r.values[pos] = v
}

func (r *DataRow) HKey() (common.HKey, error) {
	return r.rt.Table.HKeyForRow(r.FieldValue)
}

func (r *DataRow) Clone() *DataRow {
	values := make([]types.Value, len(r.values))
	copy(values, r.values)
	return &DataRow{rt: r.rt, values: values}
}

func (r *DataRow) String() string {
	fields := make([]string, len(r.values))
	for i, v := range r.values {
		fields[i] = v.String()
	}
	return fmt.Sprintf("%s(%s)", r.rt.Table.Name, strings.Join(fields, ","))
}
