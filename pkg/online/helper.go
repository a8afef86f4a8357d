package online

import (
	"errors"
	"fmt"

	"osc/pkg/catalog"
	"osc/pkg/expr"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/store"
	"osc/pkg/txn"
	"osc/pkg/types"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// IndexSpec describes one index to add. Columns drives table and fulltext
// indexes; GroupColumns drives group indexes and may span ancestors.
type IndexSpec struct {
	Name         string
	Kind         catalog.IndexKind
	Unique       bool
	Columns      []string
	GroupColumns []catalog.GroupIndexColumn
}

// AlterTableRequest is one DDL statement against a live table. Def, when
// set, replaces the table definition; ColumnChanges maps its columns to
// the old ones.
type AlterTableRequest struct {
	Table         string
	Def           *catalog.TableDef
	ColumnChanges []catalog.Change
	AddIndexes    []IndexSpec
	DropIndexes   []string
}

// Helper is the front door for online schema changes. It installs the DML
// hook on the store, classifies each request, and drives the background
// pass the request's level calls for.
type Helper struct {
	Mgr      *catalog.Manager
	Store    *store.MemStore
	Svc      *txn.Service
	Registry *types.Registry
	Opts     *Options

	hook *dmlHook
	pool *ants.Pool
}

func NewHelper(mgr *catalog.Manager, st *store.MemStore, svc *txn.Service, reg *types.Registry, opts *Options) (*Helper, error) {
	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.FillDefaults()
	}
	pool, err := ants.NewPool(opts.WorkerPoolSize)
	if err != nil {
		return nil, err
	}
	h := &Helper{
		Mgr:      mgr,
		Store:    st,
		Svc:      svc,
		Registry: reg,
		Opts:     opts,
		hook:     newDMLHook(mgr, st, reg, opts),
		pool:     pool,
	}
	st.AddListener(h.hook)
	return h, nil
}

func (h *Helper) Close() error {
	h.Store.RemoveListener(h.hook)
	h.pool.Release()
	return nil
}

// AlterTable runs one request to completion, background pass included.
func (h *Helper) AlterTable(req *AlterTableRequest) error {
	oldCat := h.Mgr.Catalog()
	oldT, err := oldCat.GetTable(req.Table)
	if err != nil {
		return err
	}
	newCat := oldCat.Clone()
	newName := req.Table
	if req.Def != nil {
		if _, err = newCat.ReplaceTable(req.Table, req.Def); err != nil {
			return err
		}
		newName = req.Def.Name
	}
	idxChanges, err := h.applyIndexChanges(newCat, newName, oldT.Group().Name, req)
	if err != nil {
		return err
	}
	newT, err := newCat.GetTable(newName)
	if err != nil {
		return err
	}
	level, err := Classify(oldT, newT, req.ColumnChanges, idxChanges)
	if err != nil {
		return err
	}
	if level == catalog.Metadata || (level == catalog.IndexLevel && !hasIndexAdds(idxChanges)) {
		h.Mgr.Install(newCat)
		logrus.Infof("alter %s: metadata only, catalog v%d", req.Table, newCat.Version)
		return nil
	}
	if level >= catalog.TableLevel {
		if err = newCat.RespaceGroup(oldT.Group().Name); err != nil {
			return err
		}
	}
	changeSets, scanIDs, err := h.buildChangeSets(oldT, newCat, level, req.ColumnChanges, idxChanges)
	if err != nil {
		return err
	}
	return h.runSession(oldCat, newCat, oldT.Group().Name, changeSets, scanIDs)
}

// AlterTableAsync runs the request on the worker pool. done receives the
// terminal error, nil included.
func (h *Helper) AlterTableAsync(req *AlterTableRequest, done func(error)) error {
	return h.pool.Submit(func() {
		done(h.AlterTable(req))
	})
}

// BuildIndexes adds indexes to a live table without touching its columns.
func (h *Helper) BuildIndexes(table string, specs ...IndexSpec) error {
	return h.AlterTable(&AlterTableRequest{Table: table, AddIndexes: specs})
}

// DropIndexes removes indexes. A drop alone never needs background work.
func (h *Helper) DropIndexes(table string, names ...string) error {
	return h.AlterTable(&AlterTableRequest{Table: table, DropIndexes: names})
}

// CheckTableConstraints tightens the named columns to NOT NULL, scanning
// every stored row before the new definition is installed. Rows stay as
// they are; a single null fails the whole operation.
func (h *Helper) CheckTableConstraints(table string, notNullColumns ...string) error {
	t, err := h.Mgr.Catalog().GetTable(table)
	if err != nil {
		return err
	}
	def := tableDefOf(t)
	var changes []catalog.Change
	for _, name := range notNullColumns {
		col, err := t.GetColumn(name)
		if err != nil {
			return err
		}
		if col.Hidden {
			return fmt.Errorf("%w: column %s.%s", catalog.ErrValidation, table, name)
		}
		for i := range def.Columns {
			if def.Columns[i].Name == name {
				def.Columns[i].Type = def.Columns[i].Type.NotNull()
			}
		}
		changes = append(changes, catalog.Change{Kind: catalog.ChangeModify, OldName: name, NewName: name})
	}
	return h.AlterTable(&AlterTableRequest{Table: table, Def: def, ColumnChanges: changes})
}

// tableDefOf reconstructs the definition an existing table was built from.
// The hidden primary key is left out; ReplaceTable synthesizes it again.
func tableDefOf(t *catalog.Table) *catalog.TableDef {
	def := &catalog.TableDef{Name: t.Name}
	for _, col := range t.Columns() {
		def.Columns = append(def.Columns, catalog.ColumnDef{
			Name:            col.Name,
			Type:            col.Type,
			DefaultLiteral:  col.DefaultLiteral,
			DefaultFunction: col.DefaultFunction,
			Sequence:        col.Sequence,
		})
	}
	all := t.ColumnsIncludingHidden()
	for _, pos := range t.PKPositions() {
		if all[pos].Hidden {
			continue
		}
		def.PrimaryKey = append(def.PrimaryKey, all[pos].Name)
	}
	if p := t.Parent(); p != nil {
		def.Parent = p.Name
		for _, pos := range t.FKPositions() {
			def.ForeignKey = append(def.ForeignKey, all[pos].Name)
		}
	} else {
		def.GroupName = t.Group().Name
	}
	return def
}

func hasIndexAdds(idxChanges []catalog.IndexChange) bool {
	for _, ch := range idxChanges {
		if ch.Kind == catalog.ChangeAdd {
			return true
		}
	}
	return false
}

func (h *Helper) applyIndexChanges(newCat *catalog.Catalog, tableName, groupName string, req *AlterTableRequest) ([]catalog.IndexChange, error) {
	var out []catalog.IndexChange
	for _, spec := range req.AddIndexes {
		var err error
		switch spec.Kind {
		case catalog.GroupIndex:
			_, err = newCat.AddGroupIndex(groupName, spec.Name, spec.GroupColumns)
		case catalog.FullTextIndex:
			_, err = newCat.AddFullTextIndex(tableName, spec.Name, spec.Columns)
		default:
			_, err = newCat.AddTableIndex(tableName, spec.Name, spec.Columns, spec.Unique)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.IndexChange{Kind: catalog.ChangeAdd, NewName: spec.Name})
	}
	for _, name := range req.DropIndexes {
		if err := newCat.DropIndex(tableName, name); err != nil {
			return nil, err
		}
		out = append(out, catalog.IndexChange{Kind: catalog.ChangeDrop, OldName: name})
	}
	return out, nil
}

// buildChangeSets decides which tables the session covers and which of
// them the background scan visits. Rewrites target a fresh group space,
// so table-level and group-level changes both cover the whole group; the
// untouched siblings carry over row by row under an overlay. An added
// group index hangs its change set off the leaf table, whose rows
// produce the entries.
func (h *Helper) buildChangeSets(oldT *catalog.Table, newCat *catalog.Catalog, level catalog.ChangeLevel, colChanges []catalog.Change, idxChanges []catalog.IndexChange) ([]*catalog.ChangeSet, []uint64, error) {
	if level >= catalog.TableLevel {
		var sets []*catalog.ChangeSet
		var ids []uint64
		for _, t := range oldT.Group().Tables() {
			cs := &catalog.ChangeSet{
				TableID:   t.ID,
				TableName: t.Name,
				Level:     level,
			}
			if t.ID == oldT.ID {
				cs.ColumnChanges = colChanges
				cs.IndexChanges = idxChanges
			}
			sets = append(sets, cs)
			ids = append(ids, t.ID)
		}
		return sets, ids, nil
	}
	target := oldT
	if level == catalog.IndexLevel {
		if leaf, err := h.groupIndexLeaf(oldT, newCat, idxChanges); err != nil {
			return nil, nil, err
		} else if leaf != nil {
			target = leaf
		}
	}
	cs := &catalog.ChangeSet{
		TableID:       target.ID,
		TableName:     target.Name,
		Level:         level,
		ColumnChanges: colChanges,
		IndexChanges:  idxChanges,
	}
	return []*catalog.ChangeSet{cs}, []uint64{target.ID}, nil
}

// groupIndexLeaf returns the old-catalog leaf table when the added
// indexes include a group index, nil otherwise.
func (h *Helper) groupIndexLeaf(oldT *catalog.Table, newCat *catalog.Catalog, idxChanges []catalog.IndexChange) (*catalog.Table, error) {
	for _, ch := range idxChanges {
		if ch.Kind != catalog.ChangeAdd {
			continue
		}
		newT, err := newCat.GetTableByID(oldT.ID)
		if err != nil {
			return nil, err
		}
		idx, err := findIndex(newT, ch.NewName)
		if err != nil {
			return nil, err
		}
		if idx.Kind != catalog.GroupIndex {
			continue
		}
		oldCat := h.Mgr.Catalog()
		return oldCat.GetTableByID(idx.LeafTable().ID)
	}
	return nil, nil
}

func (h *Helper) runSession(oldCat, newCat *catalog.Catalog, groupName string, changeSets []*catalog.ChangeSet, scanIDs []uint64) error {
	if _, err := CommonLevel(changeSets); err != nil {
		return err
	}
	session, err := h.Mgr.BeginOnline(changeSets, newCat)
	if err != nil {
		return err
	}
	if err = h.runScan(oldCat, newCat, groupName, session, scanIDs); err != nil {
		h.hook.forget(session.ID)
		if aerr := h.Mgr.AbortOnline(session.ID); aerr != nil {
			logrus.Errorf("online %s abort after %v: %v", session.ID, err, aerr)
		}
		return err
	}
	h.hook.forget(session.ID)
	return h.Mgr.CommitOnline(session.ID)
}

func (h *Helper) runScan(oldCat, newCat *catalog.Catalog, groupName string, session *catalog.OnlineSession, scanIDs []uint64) error {
	g, err := oldCat.GetGroup(groupName)
	if err != nil {
		return err
	}
	cache := newTransformCache()
	handle := func(t txnif.AsyncTxn, r row.Row) error {
		tableID := r.RowType().Table.ID
		tr, err := cache.Get(tableID, func() (*TableTransform, error) {
			cs, ok := session.ChangeSetFor(tableID)
			if !ok {
				return nil, fmt.Errorf("%w: change set for table %d", catalog.ErrNotFound, tableID)
			}
			return BuildTransform(oldCat, newCat, h.Registry, cs)
		})
		if err != nil {
			return err
		}
		return h.handleRow(t, newCat, tr, r)
	}
	driver := newScanDriver(h.Mgr, h.Store, h.Svc, h.Opts, session)
	return driver.Run(oldCat, g, handle, scanIDs...)
}

func (h *Helper) handleRow(t txnif.AsyncTxn, newCat *catalog.Catalog, tr *TableTransform, r row.Row) error {
	switch tr.Level {
	case catalog.MetadataNotNull:
		return tr.Checker.Check(r)
	case catalog.IndexLevel:
		leaf := r.RowType().Table
		for _, idx := range tr.NewIndexes {
			if idx.LeafTable().ID != leaf.ID {
				continue
			}
			if err := h.Store.InsertIndexEntry(t, newCat, idx, r); err != nil {
				return err
			}
		}
		return nil
	case catalog.TableLevel, catalog.GroupLevel:
		projected, err := tr.Transform(expr.NewContext(h.Registry), r)
		if err != nil {
			return err
		}
		// The hook may have carried the row over already.
		if err := h.Store.ApplyInsert(t, newCat, projected); err != nil && !errors.Is(err, catalog.ErrDuplicate) {
			return err
		}
		return nil
	}
	return nil
}
