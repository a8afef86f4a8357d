package store

import (
	"fmt"

	"osc/pkg/catalog"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/types"
)

// Insert writes a row and notifies listeners inside the same transaction.
func (s *MemStore) Insert(txn txnif.AsyncTxn, c *catalog.Catalog, r row.Row) error {
	if err := s.ApplyInsert(txn, c, r); err != nil {
		return err
	}
	for _, l := range s.snapshotListeners() {
		if err := l.OnInsert(txn, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Update(txn txnif.AsyncTxn, c *catalog.Catalog, oldRow, newRow row.Row) error {
	if err := s.ApplyUpdate(txn, c, oldRow, newRow); err != nil {
		return err
	}
	for _, l := range s.snapshotListeners() {
		if err := l.OnUpdate(txn, oldRow, newRow); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Delete(txn txnif.AsyncTxn, c *catalog.Catalog, r row.Row) error {
	if err := s.ApplyDelete(txn, c, r); err != nil {
		return err
	}
	for _, l := range s.snapshotListeners() {
		if err := l.OnDelete(txn, r); err != nil {
			return err
		}
	}
	return nil
}

// ApplyInsert writes without notifying listeners. Maintenance passes use it
// so their own writes never re-enter the listener chain.
func (s *MemStore) ApplyInsert(txn txnif.AsyncTxn, c *catalog.Catalog, r row.Row) error {
	t := r.RowType().Table
	k, err := r.HKey()
	if err != nil {
		return err
	}
	ts := txnStoreOf(txn)
	if err = ts.claim(k); err != nil {
		return err
	}
	tree := s.space(t.Group().SpaceID)
	item := &rowItem{key: k, tableID: t.ID, values: copyValues(r)}
	s.mu.Lock()
	if tree.Get(item) != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: key %s", catalog.ErrDuplicate, k)
	}
	tree.ReplaceOrInsert(item)
	s.mu.Unlock()
	ts.logUndo(func() {
		s.mu.Lock()
		tree.Delete(&rowItem{key: k})
		s.mu.Unlock()
	})
	for _, idx := range s.affectedIndexes(t) {
		if err = s.insertIndexEntries(ts, c, idx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) ApplyUpdate(txn txnif.AsyncTxn, c *catalog.Catalog, oldRow, newRow row.Row) error {
	oldKey, err := oldRow.HKey()
	if err != nil {
		return err
	}
	newKey, err := newRow.HKey()
	if err != nil {
		return err
	}
	if !oldKey.Equal(newKey) {
		if err = s.ApplyDelete(txn, c, oldRow); err != nil {
			return err
		}
		return s.ApplyInsert(txn, c, newRow)
	}
	t := newRow.RowType().Table
	ts := txnStoreOf(txn)
	if err = ts.claim(newKey); err != nil {
		return err
	}
	tree := s.space(t.Group().SpaceID)
	item := &rowItem{key: newKey, tableID: t.ID, values: copyValues(newRow)}
	s.mu.Lock()
	prev := tree.ReplaceOrInsert(item)
	s.mu.Unlock()
	if prev == nil {
		return fmt.Errorf("%w: key %s", catalog.ErrNotFound, newKey)
	}
	prevItem := prev.(*rowItem)
	ts.logUndo(func() {
		s.mu.Lock()
		tree.ReplaceOrInsert(prevItem)
		s.mu.Unlock()
	})
	for _, idx := range s.affectedIndexes(t) {
		if err = s.deleteIndexEntries(ts, c, idx, oldRow); err != nil {
			return err
		}
		if err = s.insertIndexEntries(ts, c, idx, newRow); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) ApplyDelete(txn txnif.AsyncTxn, c *catalog.Catalog, r row.Row) error {
	t := r.RowType().Table
	k, err := r.HKey()
	if err != nil {
		return err
	}
	ts := txnStoreOf(txn)
	if err = ts.claim(k); err != nil {
		return err
	}
	tree := s.space(t.Group().SpaceID)
	s.mu.Lock()
	removed := tree.Delete(&rowItem{key: k})
	s.mu.Unlock()
	if removed == nil {
		return fmt.Errorf("%w: key %s", catalog.ErrNotFound, k)
	}
	item := removed.(*rowItem)
	ts.logUndo(func() {
		s.mu.Lock()
		tree.ReplaceOrInsert(item)
		s.mu.Unlock()
	})
	for _, idx := range s.affectedIndexes(t) {
		if err = s.deleteIndexEntries(ts, c, idx, r); err != nil {
			return err
		}
	}
	return nil
}

// affectedIndexes are the indexes whose entries this table's rows produce:
// its own, plus group indexes on the root whose leaf is this table.
func (s *MemStore) affectedIndexes(t *catalog.Table) []*catalog.Index {
	var out []*catalog.Index
	for _, idx := range t.Indexes() {
		if idx.LeafTable().ID == t.ID {
			out = append(out, idx)
		}
	}
	if root := t.Group().Root(); root.ID != t.ID {
		for _, idx := range root.Indexes() {
			if idx.Kind == catalog.GroupIndex && idx.LeafTable().ID == t.ID {
				out = append(out, idx)
			}
		}
	}
	return out
}

func copyValues(r row.Row) []types.Value {
	n := r.RowType().NFields()
	values := make([]types.Value, n)
	for i := 0; i < n; i++ {
		values[i] = r.FieldValue(i)
	}
	return values
}
