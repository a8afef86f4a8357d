package catalog

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"osc/pkg/common"
	"osc/pkg/types"
)

type ColumnDef struct {
	Name            string
	Type            types.Type
	DefaultLiteral  *string
	DefaultFunction string
	Sequence        string
}

type TableDef struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
	Parent     string
	ForeignKey []string
	GroupName  string
}

// Catalog is one version of the schema. Versions are immutable once
// installed; DDL clones the current version and mutates the clone.
type Catalog struct {
	*sync.RWMutex
	*IDAlloctor
	Version uint64

	tables    map[uint64]*Table
	names     map[string]*Table
	groups    map[string]*Group
	sequences map[string]*Sequence

	cacheMu sync.Mutex
	cache   map[interface{}]interface{}
}

func NewCatalog(alloc *IDAlloctor) *Catalog {
	return &Catalog{
		RWMutex:    new(sync.RWMutex),
		IDAlloctor: alloc,
		tables:     make(map[uint64]*Table),
		names:      make(map[string]*Table),
		groups:     make(map[string]*Group),
		sequences:  make(map[string]*Sequence),
		cache:      make(map[interface{}]interface{}),
	}
}

// Clone makes the working copy a DDL mutates before installation. Tables,
// groups and indexes are deep copied; sequences are shared so identity
// values keep advancing from one place.
func (c *Catalog) Clone() *Catalog {
	c.RLock()
	defer c.RUnlock()
	clone := NewCatalog(c.IDAlloctor)
	clone.Version = c.Version + 1
	for name, seq := range c.sequences {
		clone.sequences[name] = seq
	}
	remap := make(map[*Table]*Table, len(c.tables))
	for name, g := range c.groups {
		ng := &Group{Name: g.Name, SpaceID: g.SpaceID, nextOrdinal: g.nextOrdinal}
		clone.groups[name] = ng
		for _, t := range g.tables {
			nt := cloneTable(t)
			nt.group = ng
			ng.tables = append(ng.tables, nt)
			if t == g.root {
				ng.root = nt
			}
			remap[t] = nt
			clone.tables[nt.ID] = nt
			clone.names[nt.Name] = nt
		}
	}
	for old, nt := range remap {
		if old.parent != nil {
			nt.parent = remap[old.parent]
		}
		for _, child := range old.children {
			nt.children = append(nt.children, remap[child])
		}
		for name, idx := range old.indexes {
			nidx := &Index{
				ID:     idx.ID,
				Name:   idx.Name,
				Kind:   idx.Kind,
				Unique: idx.Unique,
				table:  remap[idx.table],
				leaf:   remap[idx.leaf],
			}
			for _, ic := range idx.Columns {
				nidx.Columns = append(nidx.Columns, IndexColumn{Table: remap[ic.Table], Position: ic.Position})
			}
			nt.indexes[name] = nidx
		}
	}
	return clone
}

func cloneTable(t *Table) *Table {
	nt := &Table{
		RWMutex: new(sync.RWMutex),
		ID:      t.ID,
		Name:    t.Name,
		Ordinal: t.Ordinal,
		visible: t.visible,
		byName:  make(map[string]*Column, len(t.columns)),
		indexes: make(map[string]*Index, len(t.indexes)),
	}
	for _, col := range t.columns {
		nc := *col
		nt.columns = append(nt.columns, &nc)
		nt.byName[nc.Name] = &nc
	}
	nt.pkPositions = append([]int(nil), t.pkPositions...)
	nt.fkPositions = append([]int(nil), t.fkPositions...)
	for _, seg := range t.hkeySpec {
		nt.hkeySpec = append(nt.hkeySpec, hkeySegment{
			Ordinal:   seg.Ordinal,
			Positions: append([]int(nil), seg.Positions...),
		})
	}
	return nt
}

func (c *Catalog) GetTable(name string) (*Table, error) {
	c.RLock()
	defer c.RUnlock()
	t := c.names[name]
	if t == nil {
		return nil, fmt.Errorf("%w: table %s", ErrNotFound, name)
	}
	return t, nil
}

func (c *Catalog) GetTableByID(id uint64) (*Table, error) {
	c.RLock()
	defer c.RUnlock()
	t := c.tables[id]
	if t == nil {
		return nil, fmt.Errorf("%w: table id %d", ErrNotFound, id)
	}
	return t, nil
}

func (c *Catalog) GetGroup(name string) (*Group, error) {
	c.RLock()
	defer c.RUnlock()
	g := c.groups[name]
	if g == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, name)
	}
	return g, nil
}

func (c *Catalog) Groups() []*Group {
	c.RLock()
	defer c.RUnlock()
	groups := make([]*Group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].SpaceID < groups[j].SpaceID })
	return groups
}

func (c *Catalog) AddSequence(name string, start, increment, min, max int64, cycle bool) (*Sequence, error) {
	c.Lock()
	defer c.Unlock()
	if c.sequences[name] != nil {
		return nil, fmt.Errorf("%w: sequence %s", ErrDuplicate, name)
	}
	if increment == 0 || min > max {
		return nil, fmt.Errorf("%w: sequence %s", ErrValidation, name)
	}
	seq := newSequence(name, start, increment, min, max, cycle)
	c.sequences[name] = seq
	return seq, nil
}

func (c *Catalog) GetSequence(name string) (*Sequence, error) {
	c.RLock()
	defer c.RUnlock()
	seq := c.sequences[name]
	if seq == nil {
		return nil, fmt.Errorf("%w: sequence %s", ErrNotFound, name)
	}
	return seq, nil
}

func (c *Catalog) AddTable(def *TableDef) (*Table, error) {
	c.Lock()
	defer c.Unlock()
	return c.addTableLocked(def, c.NextTable(), 0)
}

// ReplaceTable swaps a table definition in place, keeping the table's id and
// ordinal so untouched storage stays addressable. The parent join may not
// move to a different table. Child hKey specs are rebuilt against the new
// definition.
func (c *Catalog) ReplaceTable(oldName string, def *TableDef) (*Table, error) {
	c.Lock()
	defer c.Unlock()
	old := c.names[oldName]
	if old == nil {
		return nil, fmt.Errorf("%w: table %s", ErrNotFound, oldName)
	}
	oldParentName := ""
	if old.parent != nil {
		oldParentName = old.parent.Name
	}
	if def.Parent != oldParentName {
		return nil, fmt.Errorf("%w: table %s cannot move to parent %q", ErrValidation, def.Name, def.Parent)
	}
	children := old.children
	g := old.group
	isRoot := g.root == old
	c.unlinkLocked(old)
	if isRoot {
		delete(c.groups, g.Name)
	}
	nt, err := c.addTableLocked(def, old.ID, old.Ordinal)
	if err != nil {
		if isRoot {
			c.groups[g.Name] = g
		}
		c.relinkLocked(old)
		return nil, err
	}
	if isRoot {
		// A replaced root keeps its group: name, space and member tables.
		delete(c.groups, nt.group.Name)
		nt.group = g
		g.root = nt
		g.tables = append(g.tables, nt)
		c.groups[g.Name] = g
	}
	for _, child := range children {
		child.parent = nt
		nt.children = append(nt.children, child)
		if err := c.rebuildSpecLocked(child); err != nil {
			return nil, err
		}
	}
	return nt, nil
}

// RespaceGroup moves a group to a fresh key space. Rewriting changes do
// this so old-format rows stay untouched until the new version installs.
func (c *Catalog) RespaceGroup(name string) error {
	c.Lock()
	defer c.Unlock()
	g := c.groups[name]
	if g == nil {
		return fmt.Errorf("%w: group %s", ErrNotFound, name)
	}
	g.SpaceID = c.NextSpace()
	return nil
}

func (c *Catalog) RemoveTable(name string) error {
	c.Lock()
	defer c.Unlock()
	t := c.names[name]
	if t == nil {
		return fmt.Errorf("%w: table %s", ErrNotFound, name)
	}
	if len(t.children) > 0 {
		return fmt.Errorf("%w: table %s has children", ErrValidation, name)
	}
	c.unlinkLocked(t)
	if t.group.root == t {
		delete(c.groups, t.group.Name)
	}
	return nil
}

func (c *Catalog) unlinkLocked(t *Table) {
	delete(c.tables, t.ID)
	delete(c.names, t.Name)
	for i, gt := range t.group.tables {
		if gt == t {
			t.group.tables = append(t.group.tables[:i], t.group.tables[i+1:]...)
			break
		}
	}
	if t.parent != nil {
		for i, sib := range t.parent.children {
			if sib == t {
				t.parent.children = append(t.parent.children[:i], t.parent.children[i+1:]...)
				break
			}
		}
	}
}

func (c *Catalog) relinkLocked(t *Table) {
	c.tables[t.ID] = t
	c.names[t.Name] = t
	t.group.tables = append(t.group.tables, t)
	if t.parent != nil {
		t.parent.children = append(t.parent.children, t)
	}
}

func (c *Catalog) addTableLocked(def *TableDef, id uint64, ordinal uint8) (*Table, error) {
	if c.names[def.Name] != nil {
		return nil, fmt.Errorf("%w: table %s", ErrDuplicate, def.Name)
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", ErrValidation, def.Name)
	}
	t := &Table{
		RWMutex: new(sync.RWMutex),
		ID:      id,
		Name:    def.Name,
		byName:  make(map[string]*Column, len(def.Columns)),
		indexes: make(map[string]*Index),
	}
	for i, cd := range def.Columns {
		if t.byName[cd.Name] != nil {
			return nil, fmt.Errorf("%w: column %s.%s", ErrDuplicate, def.Name, cd.Name)
		}
		col := &Column{
			Name:            cd.Name,
			Position:        i,
			Type:            cd.Type,
			DefaultLiteral:  cd.DefaultLiteral,
			DefaultFunction: cd.DefaultFunction,
			Sequence:        cd.Sequence,
		}
		t.columns = append(t.columns, col)
		t.byName[cd.Name] = col
	}
	t.visible = len(t.columns)

	if len(def.PrimaryKey) == 0 {
		seqName := fmt.Sprintf("%s%s_seq", def.Name, HiddenPKName)
		if c.sequences[seqName] == nil {
			c.sequences[seqName] = newSequence(seqName, 1, 1, 1, math.MaxInt64, false)
		}
		hidden := &Column{
			Name:     HiddenPKName,
			Position: len(t.columns),
			Type:     types.New(types.BigInt).NotNull(),
			Hidden:   true,
			Sequence: seqName,
		}
		t.columns = append(t.columns, hidden)
		t.byName[hidden.Name] = hidden
		t.pkPositions = []int{hidden.Position}
	} else {
		for _, name := range def.PrimaryKey {
			col := t.byName[name]
			if col == nil {
				return nil, fmt.Errorf("%w: pk column %s.%s", ErrNotFound, def.Name, name)
			}
			t.pkPositions = append(t.pkPositions, col.Position)
		}
	}

	if def.Parent == "" {
		groupName := def.GroupName
		if groupName == "" {
			groupName = def.Name
		}
		if c.groups[groupName] != nil {
			return nil, fmt.Errorf("%w: group %s", ErrDuplicate, groupName)
		}
		g := &Group{Name: groupName, SpaceID: c.NextSpace()}
		g.root = t
		c.groups[groupName] = g
		t.group = g
	} else {
		parent := c.names[def.Parent]
		if parent == nil {
			return nil, fmt.Errorf("%w: parent table %s", ErrNotFound, def.Parent)
		}
		if len(def.ForeignKey) != len(parent.pkPositions) {
			return nil, fmt.Errorf("%w: table %s join arity %d, parent key arity %d",
				ErrValidation, def.Name, len(def.ForeignKey), len(parent.pkPositions))
		}
		for _, name := range def.ForeignKey {
			col := t.byName[name]
			if col == nil {
				return nil, fmt.Errorf("%w: join column %s.%s", ErrNotFound, def.Name, name)
			}
			t.fkPositions = append(t.fkPositions, col.Position)
		}
		t.parent = parent
		t.group = parent.group
		parent.children = append(parent.children, t)
	}
	t.group.tables = append(t.group.tables, t)
	if ordinal == 0 {
		ordinal = t.group.allocOrdinal()
	}
	t.Ordinal = ordinal
	if err := c.buildSpecLocked(t); err != nil {
		return nil, err
	}
	c.tables[t.ID] = t
	c.names[t.Name] = t
	return t, nil
}

// buildSpecLocked translates the parent's hKey spec through the join mapping
// and appends the table's own (ordinal, pk) segment. Every ancestor key
// field must be reachable through the join chain.
func (c *Catalog) buildSpecLocked(t *Table) error {
	t.hkeySpec = t.hkeySpec[:0]
	if t.parent != nil {
		trans := make(map[int]int, len(t.fkPositions))
		for i, fkPos := range t.fkPositions {
			trans[t.parent.pkPositions[i]] = fkPos
		}
		for _, seg := range t.parent.hkeySpec {
			nseg := hkeySegment{Ordinal: seg.Ordinal}
			for _, pos := range seg.Positions {
				childPos, ok := trans[pos]
				if !ok {
					return fmt.Errorf("%w: table %s cannot reach ancestor key field %s.%s through its join",
						ErrValidation, t.Name, t.parent.Name, t.parent.columns[pos].Name)
				}
				nseg.Positions = append(nseg.Positions, childPos)
			}
			t.hkeySpec = append(t.hkeySpec, nseg)
		}
	}
	t.hkeySpec = append(t.hkeySpec, hkeySegment{Ordinal: t.Ordinal, Positions: t.pkPositions})
	return nil
}

func (c *Catalog) rebuildSpecLocked(t *Table) error {
	if err := c.buildSpecLocked(t); err != nil {
		return err
	}
	for _, child := range t.children {
		if err := c.rebuildSpecLocked(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) AddTableIndex(tableName, indexName string, columns []string, unique bool) (*Index, error) {
	c.Lock()
	defer c.Unlock()
	return c.addSingleTableIndexLocked(tableName, indexName, columns, unique, TableIndex)
}

func (c *Catalog) AddFullTextIndex(tableName, indexName string, columns []string) (*Index, error) {
	c.Lock()
	defer c.Unlock()
	return c.addSingleTableIndexLocked(tableName, indexName, columns, false, FullTextIndex)
}

func (c *Catalog) addSingleTableIndexLocked(tableName, indexName string, columns []string, unique bool, kind IndexKind) (*Index, error) {
	t := c.names[tableName]
	if t == nil {
		return nil, fmt.Errorf("%w: table %s", ErrNotFound, tableName)
	}
	idx := &Index{
		ID:     c.NextIndex(),
		Name:   indexName,
		Kind:   kind,
		Unique: unique,
		table:  t,
		leaf:   t,
	}
	for _, name := range columns {
		col := t.byName[name]
		if col == nil {
			return nil, fmt.Errorf("%w: column %s.%s", ErrNotFound, tableName, name)
		}
		if kind == FullTextIndex && col.Type.Class != types.Varchar {
			return nil, fmt.Errorf("%w: fulltext column %s.%s is %s", ErrValidation, tableName, name, col.Type.Class)
		}
		idx.Columns = append(idx.Columns, IndexColumn{Table: t, Position: col.Position})
	}
	if err := t.addIndexLocked(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

type GroupIndexColumn struct {
	Table  string
	Column string
}

// AddGroupIndex declares an index over one root-to-leaf branch of a group.
// It is registered on the group root; its leaf is the deepest contributor.
func (c *Catalog) AddGroupIndex(groupName, indexName string, columns []GroupIndexColumn) (*Index, error) {
	c.Lock()
	defer c.Unlock()
	g := c.groups[groupName]
	if g == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, groupName)
	}
	idx := &Index{
		ID:    c.NextIndex(),
		Name:  indexName,
		Kind:  GroupIndex,
		table: g.root,
	}
	var leaf *Table
	for _, gc := range columns {
		t := c.names[gc.Table]
		if t == nil || t.group != g {
			return nil, fmt.Errorf("%w: table %s in group %s", ErrNotFound, gc.Table, groupName)
		}
		col := t.byName[gc.Column]
		if col == nil {
			return nil, fmt.Errorf("%w: column %s.%s", ErrNotFound, gc.Table, gc.Column)
		}
		idx.Columns = append(idx.Columns, IndexColumn{Table: t, Position: col.Position})
		if leaf == nil || t.Ordinal > leaf.Ordinal {
			leaf = t
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("%w: group index %s has no columns", ErrValidation, indexName)
	}
	for _, ic := range idx.Columns {
		if !isAncestorOrSelf(ic.Table, leaf) {
			return nil, fmt.Errorf("%w: group index %s spans branches", ErrValidation, indexName)
		}
	}
	idx.leaf = leaf
	if err := g.root.addIndexLocked(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func isAncestorOrSelf(t, descendant *Table) bool {
	for cur := descendant; cur != nil; cur = cur.parent {
		if cur == t {
			return true
		}
	}
	return false
}

func (c *Catalog) DropIndex(tableName, indexName string) error {
	c.Lock()
	defer c.Unlock()
	t := c.names[tableName]
	if t == nil {
		return fmt.Errorf("%w: table %s", ErrNotFound, tableName)
	}
	if t.indexes[indexName] == nil {
		return fmt.Errorf("%w: index %s.%s", ErrNotFound, tableName, indexName)
	}
	delete(t.indexes, indexName)
	return nil
}

// CachedValue memoizes derived structures on this catalog version. The
// generator runs at most once per key.
func (c *Catalog) CachedValue(key interface{}, gen func() interface{}) interface{} {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if v, ok := c.cache[key]; ok {
		return v
	}
	v := gen()
	c.cache[key] = v
	return v
}

func (c *Catalog) PPString(level common.PPLevel, depth int, prefix string) string {
	s := fmt.Sprintf("%s%s%s", common.RepeatStr("\t", depth), prefix, c.String())
	if level > common.PPL0 {
		for _, g := range c.Groups() {
			s = fmt.Sprintf("%s\n%s", s, g.PPString(level, depth+1, ""))
		}
	}
	return s
}

func (c *Catalog) String() string {
	c.RLock()
	defer c.RUnlock()
	return fmt.Sprintf("CATALOG[v=%d][tables=%d][groups=%d]", c.Version, len(c.tables), len(c.groups))
}
