package online

import (
	"fmt"
	"sync"

	"osc/pkg/catalog"
	"osc/pkg/expr"
	"osc/pkg/row"
	"osc/pkg/types"
)

// TableTransform is everything the background pass and the DML hook need
// to carry one table through its change set. Exactly the pieces the level
// requires are populated.
type TableTransform struct {
	Level   catalog.ChangeLevel
	OldType *row.RowType
	NewType *row.RowType

	// Projection rewrites old-format rows into the new format. Set for
	// TableLevel and GroupLevel when columns changed or the hidden key
	// shape differs; otherwise rows carry over under an overlay.
	Projection *row.Projection
	// Checker validates old-format rows in place. Set for MetadataNotNull.
	Checker row.Checker
	// NewIndexes are the indexes to populate. Set for IndexLevel and up.
	NewIndexes []*catalog.Index
}

// BuildTransform derives the transform for one change set against the old
// and new catalog versions.
func BuildTransform(oldCat, newCat *catalog.Catalog, reg *types.Registry, cs *catalog.ChangeSet) (*TableTransform, error) {
	oldT, err := oldCat.GetTableByID(cs.TableID)
	if err != nil {
		return nil, err
	}
	newT, err := newCat.GetTableByID(cs.TableID)
	if err != nil {
		return nil, err
	}
	tr := &TableTransform{
		Level:   cs.Level,
		OldType: row.TypeFor(oldCat, oldT),
		NewType: row.TypeFor(newCat, newT),
	}
	if cs.Level >= catalog.IndexLevel {
		if tr.NewIndexes, err = addedIndexes(newT, cs); err != nil {
			return nil, err
		}
	}
	switch cs.Level {
	case catalog.MetadataNotNull:
		if tr.Checker, err = notNullChecker(oldT, newT, cs); err != nil {
			return nil, err
		}
	case catalog.TableLevel, catalog.GroupLevel:
		if projectionNeeded(oldT, newT, cs) {
			if tr.Projection, err = buildProjection(tr.OldType, tr.NewType, newCat, reg, cs); err != nil {
				return nil, err
			}
		}
	}
	return tr, nil
}

// Transform rewrites r into the new format. Without a projection the row
// carries over untouched under the new row type.
func (tr *TableTransform) Transform(ctx *expr.Context, r row.Row) (row.Row, error) {
	if tr.Projection == nil {
		return row.NewOverlayRow(r, tr.NewType), nil
	}
	return tr.Projection.Apply(ctx, r)
}

func projectionNeeded(oldT, newT *catalog.Table, cs *catalog.ChangeSet) bool {
	if len(cs.ColumnChanges) > 0 {
		return true
	}
	return hiddenColumns(oldT) != hiddenColumns(newT)
}

func hiddenColumns(t *catalog.Table) int {
	return len(t.ColumnsIncludingHidden()) - len(t.Columns())
}

func addedIndexes(newT *catalog.Table, cs *catalog.ChangeSet) ([]*catalog.Index, error) {
	var out []*catalog.Index
	for _, ch := range cs.IndexChanges {
		if ch.Kind != catalog.ChangeAdd {
			continue
		}
		idx, err := findIndex(newT, ch.NewName)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// findIndex resolves name against the table, falling back to the group
// root where group indexes live.
func findIndex(t *catalog.Table, name string) (*catalog.Index, error) {
	idx, err := t.GetIndex(name)
	if err == nil {
		return idx, nil
	}
	if root := t.Group().Root(); root != t {
		return root.GetIndex(name)
	}
	return nil, err
}

// notNullChecker covers the columns whose nullability tightened. Stored
// rows keep the old format, so positions resolve against the old table.
func notNullChecker(oldT, newT *catalog.Table, cs *catalog.ChangeSet) (row.Checker, error) {
	var columns []string
	for _, ch := range cs.ColumnChanges {
		if ch.Kind != catalog.ChangeModify {
			continue
		}
		oldCol, err := oldT.GetColumn(ch.OldName)
		if err != nil {
			return nil, err
		}
		newCol, err := newT.GetColumn(ch.NewName)
		if err != nil {
			return nil, err
		}
		if oldCol.Type.Nullable && !newCol.Type.Nullable {
			columns = append(columns, ch.OldName)
		}
	}
	return row.NewNotNullChecker(oldT, columns)
}

// buildProjection maps every new column to an expression over the old
// row. Renames and type changes follow the change set; added columns take
// their default.
func buildProjection(oldType, newType *row.RowType, newCat *catalog.Catalog, reg *types.Registry, cs *catalog.ChangeSet) (*row.Projection, error) {
	oldT := oldType.Table
	newCols := newType.Table.ColumnsIncludingHidden()
	exprs := make([]expr.Expr, 0, len(newCols))
	for _, col := range newCols {
		e, err := columnExpr(oldT, newCat, reg, cs, col)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return row.NewProjection(oldType, newType, exprs)
}

func columnExpr(oldT *catalog.Table, newCat *catalog.Catalog, reg *types.Registry, cs *catalog.ChangeSet, col *catalog.Column) (expr.Expr, error) {
	if ch, ok := cs.FindNewColumnChange(col.Name); ok {
		switch ch.Kind {
		case catalog.ChangeAdd:
			return defaultExpr(newCat, reg, col)
		case catalog.ChangeModify:
			oldCol, err := oldT.GetColumn(ch.OldName)
			if err != nil {
				return nil, err
			}
			return sourceExpr(oldCol, col), nil
		}
	}
	if ch, ok := cs.FindColumnChange(col.Name); ok && ch.Kind == catalog.ChangeDrop {
		return nil, fmt.Errorf("%w: %s.%s", ErrDroppedNewColumn, oldT.Name, col.Name)
	}
	if oldCol, err := oldT.GetColumn(col.Name); err == nil {
		return sourceExpr(oldCol, col), nil
	}
	if col.Hidden {
		return defaultExpr(newCat, reg, col)
	}
	return nil, fmt.Errorf("%w: no source column for %s", catalog.ErrValidation, col.Name)
}

func sourceExpr(oldCol, newCol *catalog.Column) expr.Expr {
	e := expr.Cast(expr.Field(oldCol.Position, oldCol.Type), newCol.Type)
	if !newCol.Type.Nullable {
		e = expr.NotNull(e, newCol.Name)
	}
	return e
}

func defaultExpr(c *catalog.Catalog, reg *types.Registry, col *catalog.Column) (expr.Expr, error) {
	switch {
	case col.Sequence != "":
		seq, err := c.GetSequence(col.Sequence)
		if err != nil {
			return nil, err
		}
		return expr.SeqNext(seq, col.Type), nil
	case col.DefaultFunction != "":
		e, err := expr.Call(reg, col.DefaultFunction)
		if err != nil {
			return nil, err
		}
		if !col.Type.Nullable {
			e = expr.NotNull(e, col.Name)
		}
		return expr.Cast(e, col.Type), nil
	case col.DefaultLiteral != nil:
		v, err := types.FromString(col.Type, *col.DefaultLiteral)
		if err != nil {
			return nil, err
		}
		return expr.Literal(v), nil
	}
	if !col.Type.Nullable {
		return nil, fmt.Errorf("%w: %s", expr.ErrNullNotAllowed, col.Name)
	}
	return expr.Null(col.Type), nil
}

// transformCache holds one built transform per table for the lifetime of
// an online session.
type transformCache struct {
	mu      sync.Mutex
	byTable map[uint64]*TableTransform
}

func newTransformCache() *transformCache {
	return &transformCache{byTable: make(map[uint64]*TableTransform)}
}

func (c *transformCache) Get(tableID uint64, build func() (*TableTransform, error)) (*TableTransform, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr := c.byTable[tableID]; tr != nil {
		return tr, nil
	}
	tr, err := build()
	if err != nil {
		return nil, err
	}
	c.byTable[tableID] = tr
	return tr, nil
}
