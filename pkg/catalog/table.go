package catalog

import (
	"fmt"
	"sync"

	"osc/pkg/common"
	"osc/pkg/types"
)

// HiddenPKName is the synthesized primary key column appended to tables
// declared without one. It never appears in user-visible row types.
const HiddenPKName = "__row_id"

type Column struct {
	Name     string
	Position int
	Type     types.Type
	Hidden   bool

	// At most one of these is set. DefaultLiteral is parsed through the
	// column type, DefaultFunction resolves against the scalar registry,
	// Sequence names an identity sequence in the same catalog.
	DefaultLiteral  *string
	DefaultFunction string
	Sequence        string
}

func (c *Column) String() string {
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// hkeySegment is one (ordinal, key fields) run of a table's hKey. Positions
// index into the table's own row, FK columns standing in for ancestor keys.
type hkeySegment struct {
	Ordinal   uint8
	Positions []int
}

type Table struct {
	*sync.RWMutex
	ID      uint64
	Name    string
	Ordinal uint8

	group    *Group
	parent   *Table
	children []*Table

	columns []*Column
	byName  map[string]*Column
	visible int

	pkPositions []int
	fkPositions []int
	hkeySpec    []hkeySegment

	indexes map[string]*Index
}

func (t *Table) Group() *Group {
	return t.group
}

func (t *Table) Parent() *Table {
	return t.parent
}

func (t *Table) Children() []*Table {
	return t.children
}

// Columns returns the user-declared columns, hidden ones excluded.
func (t *Table) Columns() []*Column {
	return t.columns[:t.visible]
}

func (t *Table) ColumnsIncludingHidden() []*Column {
	return t.columns
}

func (t *Table) GetColumn(name string) (*Column, error) {
	c := t.byName[name]
	if c == nil {
		return nil, fmt.Errorf("%w: column %s.%s", ErrNotFound, t.Name, name)
	}
	return c, nil
}

func (t *Table) PKPositions() []int {
	return t.pkPositions
}

func (t *Table) FKPositions() []int {
	return t.fkPositions
}

func (t *Table) GetIndex(name string) (*Index, error) {
	t.RLock()
	defer t.RUnlock()
	idx := t.indexes[name]
	if idx == nil {
		return nil, fmt.Errorf("%w: index %s.%s", ErrNotFound, t.Name, name)
	}
	return idx, nil
}

func (t *Table) Indexes() []*Index {
	t.RLock()
	defer t.RUnlock()
	idxes := make([]*Index, 0, len(t.indexes))
	for _, idx := range t.indexes {
		idxes = append(idxes, idx)
	}
	return idxes
}

func (t *Table) FullTextIndexes() []*Index {
	t.RLock()
	defer t.RUnlock()
	var idxes []*Index
	for _, idx := range t.indexes {
		if idx.Kind == FullTextIndex {
			idxes = append(idxes, idx)
		}
	}
	return idxes
}

func (t *Table) addIndexLocked(idx *Index) error {
	if t.indexes[idx.Name] != nil {
		return fmt.Errorf("%w: index %s.%s", ErrDuplicate, t.Name, idx.Name)
	}
	t.indexes[idx.Name] = idx
	return nil
}

// HKeyForRow assembles the row's full hKey from its own field values. The
// getter is positional over the table's columns, hidden ones included.
func (t *Table) HKeyForRow(get func(pos int) types.Value) (common.HKey, error) {
	b := common.NewHKeyBuilder()
	for _, seg := range t.hkeySpec {
		b.BeginSegment(seg.Ordinal)
		for _, pos := range seg.Positions {
			if err := appendKeyField(b, get(pos)); err != nil {
				return nil, fmt.Errorf("%s key field %d: %w", t.Name, pos, err)
			}
		}
	}
	return b.Build(), nil
}

// AncestorHKeyForRow derives an ancestor row's hKey from this table's own
// field values. Works because every ancestor key field is reachable through
// the join chain.
func (t *Table) AncestorHKeyForRow(ancestor *Table, get func(pos int) types.Value) (common.HKey, error) {
	if !isAncestorOrSelf(ancestor, t) {
		return nil, fmt.Errorf("%w: %s is not an ancestor of %s", ErrValidation, ancestor.Name, t.Name)
	}
	b := common.NewHKeyBuilder()
	for _, seg := range t.hkeySpec[:len(ancestor.hkeySpec)] {
		b.BeginSegment(seg.Ordinal)
		for _, pos := range seg.Positions {
			if err := appendKeyField(b, get(pos)); err != nil {
				return nil, fmt.Errorf("%s key field %d: %w", t.Name, pos, err)
			}
		}
	}
	return b.Build(), nil
}

// HKeyPrefix is the group-ordinal prefix shared by every row of the table's
// subtree root. An empty spec never happens; AddTable always installs one.
func (t *Table) HKeyPrefix() common.HKey {
	root := t.group.Root()
	b := common.NewHKeyBuilder()
	b.BeginSegment(root.Ordinal)
	return b.Build()
}

func appendKeyField(b *common.HKeyBuilder, v types.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch v.Type.Class {
	case types.Boolean:
		b.AppendBool(v.Bool())
	case types.Int, types.BigInt:
		b.AppendInt(v.Int64())
	case types.Double:
		return fmt.Errorf("%w: DOUBLE key field", ErrValidation)
	case types.Varchar:
		b.AppendString(v.Str())
	case types.Timestamp:
		b.AppendTime(v.Time())
	default:
		return fmt.Errorf("%w: key field class %s", ErrValidation, v.Type.Class)
	}
	return nil
}

func (t *Table) PPString(level common.PPLevel, depth int, prefix string) string {
	s := fmt.Sprintf("%s%s%s", common.RepeatStr("\t", depth), prefix, t.String())
	if level > common.PPL0 {
		for _, c := range t.columns {
			s = fmt.Sprintf("%s\n%s%s", s, common.RepeatStr("\t", depth+1), c.String())
		}
		for _, idx := range t.Indexes() {
			s = fmt.Sprintf("%s\n%s", s, idx.PPString(level, depth+1, ""))
		}
	}
	return s
}

func (t *Table) String() string {
	return fmt.Sprintf("TABLE[%d][name=%s][group=%s][ord=%d]", t.ID, t.Name, t.group.Name, t.Ordinal)
}
