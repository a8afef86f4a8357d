package store

import (
	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/row"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/btree"
)

type Cursor interface {
	// Next returns the next row in hKey order, or nil at the end.
	Next() (row.Row, error)
	Close() error
}

// Rebindable cursors can be repositioned after their transaction rolled
// back and a new one picked up the scan.
type Rebindable interface {
	Rebind(k common.HKey, skipCurrent bool)
}

// GroupScanCursor walks a group space in hKey order. Each step seeks the
// live tree, so rows committed after the cursor started are still seen.
type GroupScanCursor struct {
	store   *MemStore
	cat     *catalog.Catalog
	tree    *btree.BTree
	last    common.HKey
	started bool
	closed  bool
}

func (s *MemStore) ScanGroup(c *catalog.Catalog, g *catalog.Group) *GroupScanCursor {
	return &GroupScanCursor{
		store: s,
		cat:   c,
		tree:  s.space(g.SpaceID),
	}
}

func (c *GroupScanCursor) Next() (row.Row, error) {
	if c.closed {
		return nil, nil
	}
	c.store.mu.RLock()
	var found *rowItem
	c.tree.AscendGreaterOrEqual(&rowItem{key: c.last}, func(it btree.Item) bool {
		item := it.(*rowItem)
		if c.started && item.key.Equal(c.last) {
			return true
		}
		found = item
		return false
	})
	c.store.mu.RUnlock()
	if found == nil {
		return nil, nil
	}
	c.last = found.key
	c.started = true
	return c.store.materialize(c.cat, found)
}

// Rebind repositions at k. With skipCurrent the row at k itself is not
// revisited.
func (c *GroupScanCursor) Rebind(k common.HKey, skipCurrent bool) {
	c.last = k.Clone()
	c.started = skipCurrent
}

func (c *GroupScanCursor) Close() error {
	c.closed = true
	return nil
}

// FilterCursor passes through only rows of the given tables.
type FilterCursor struct {
	inner  Cursor
	tables *roaring64.Bitmap
}

func NewFilterCursor(inner Cursor, tables *roaring64.Bitmap) *FilterCursor {
	return &FilterCursor{inner: inner, tables: tables}
}

func TableFilter(ids ...uint64) *roaring64.Bitmap {
	bm := roaring64.New()
	bm.AddMany(ids)
	return bm
}

func (c *FilterCursor) Next() (row.Row, error) {
	for {
		r, err := c.inner.Next()
		if err != nil || r == nil {
			return nil, err
		}
		if c.tables.Contains(r.RowType().Table.ID) {
			return r, nil
		}
	}
}

func (c *FilterCursor) Rebind(k common.HKey, skipCurrent bool) {
	if r, ok := c.inner.(Rebindable); ok {
		r.Rebind(k, skipCurrent)
	}
}

func (c *FilterCursor) Close() error {
	return c.inner.Close()
}

// RebindCursor rebinds cur when it is Rebindable and reports whether it was.
// A FilterCursor passes the call on to its inner cursor and counts as
// rebindable even when that inner cursor is not.
func RebindCursor(cur Cursor, k common.HKey, skipCurrent bool) bool {
	if r, ok := cur.(Rebindable); ok {
		r.Rebind(k, skipCurrent)
		return true
	}
	return false
}
