package catalog

import (
	"fmt"
	"strings"

	"osc/pkg/common"
)

type IndexKind int8

const (
	TableIndex IndexKind = iota
	GroupIndex
	FullTextIndex
)

func (k IndexKind) String() string {
	switch k {
	case TableIndex:
		return "TABLE"
	case GroupIndex:
		return "GROUP"
	case FullTextIndex:
		return "FULLTEXT"
	}
	return fmt.Sprintf("KIND(%d)", k)
}

// IndexColumn names one indexed field. For table indexes every entry's Table
// is the declaring table; group indexes may span the branch.
type IndexColumn struct {
	Table    *Table
	Position int
}

func (ic IndexColumn) Column() *Column {
	return ic.Table.columns[ic.Position]
}

type Index struct {
	ID      uint64
	Name    string
	Kind    IndexKind
	Unique  bool
	Columns []IndexColumn

	table *Table
	leaf  *Table
}

// Table is the declaring table. For group indexes it is the group root.
func (idx *Index) Table() *Table {
	return idx.table
}

// LeafTable is the deepest table contributing a column. Index rows are
// produced when scanning reaches a row of this table.
func (idx *Index) LeafTable() *Table {
	return idx.leaf
}

func (idx *Index) PPString(level common.PPLevel, depth int, prefix string) string {
	return fmt.Sprintf("%s%s%s", common.RepeatStr("\t", depth), prefix, idx.String())
}

func (idx *Index) String() string {
	cols := make([]string, len(idx.Columns))
	for i, ic := range idx.Columns {
		cols[i] = fmt.Sprintf("%s.%s", ic.Table.Name, ic.Column().Name)
	}
	u := ""
	if idx.Unique {
		u = "[unique]"
	}
	return fmt.Sprintf("INDEX[%d][name=%s][%s]%s(%s)", idx.ID, idx.Name, idx.Kind, u, strings.Join(cols, ","))
}
