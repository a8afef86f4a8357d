package online

import (
	"errors"
	"fmt"
	"sync"

	"osc/pkg/catalog"
	"osc/pkg/expr"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/store"
	"osc/pkg/types"

	"github.com/google/uuid"
)

// dmlHook keeps tables under online change consistent with foreground
// writes. It runs inside the writing transaction; its own store calls go
// through the silent Apply path so they never re-enter the listener
// chain.
type dmlHook struct {
	mgr   *catalog.Manager
	store *store.MemStore
	reg   *types.Registry
	opts  *Options

	mu     sync.Mutex
	caches map[uuid.UUID]*transformCache
}

func newDMLHook(mgr *catalog.Manager, st *store.MemStore, reg *types.Registry, opts *Options) *dmlHook {
	return &dmlHook{
		mgr:    mgr,
		store:  st,
		reg:    reg,
		opts:   opts,
		caches: make(map[uuid.UUID]*transformCache),
	}
}

func (h *dmlHook) forget(sessionID uuid.UUID) {
	h.mu.Lock()
	delete(h.caches, sessionID)
	h.mu.Unlock()
}

func (h *dmlHook) transformFor(s *catalog.OnlineSession, tableID uint64) (*TableTransform, error) {
	h.mu.Lock()
	cache := h.caches[s.ID]
	if cache == nil {
		cache = newTransformCache()
		h.caches[s.ID] = cache
	}
	h.mu.Unlock()
	return cache.Get(tableID, func() (*TableTransform, error) {
		cs, ok := s.ChangeSetFor(tableID)
		if !ok {
			return nil, fmt.Errorf("%w: change set for table %d", catalog.ErrNotFound, tableID)
		}
		return BuildTransform(h.mgr.Catalog(), s.NewCatalog(), h.reg, cs)
	})
}

func (h *dmlHook) sessionFor(r row.Row) (*catalog.OnlineSession, *TableTransform, error) {
	t := r.RowType().Table
	s, ok := h.mgr.SessionForTable(t.ID)
	if !ok {
		return nil, nil, nil
	}
	if !h.opts.ConcurrentDMLAllowed {
		return nil, nil, fmt.Errorf("%w: table %s", ErrConcurrentDML, t.Name)
	}
	tr, err := h.transformFor(s, t.ID)
	if err != nil {
		return nil, nil, err
	}
	if t == tr.NewType.Table {
		// Rows of the post-change table are already in the new format.
		return nil, nil, nil
	}
	return s, tr, nil
}

func (h *dmlHook) saveHandled(t txnif.AsyncTxn, s *catalog.OnlineSession, r row.Row) error {
	k, err := r.HKey()
	if err != nil {
		return err
	}
	saver := newHKeySaver(h.mgr, s.ID)
	return saver.Save(t, r.RowType().Table.ID, k)
}

func (h *dmlHook) OnInsert(t txnif.AsyncTxn, r row.Row) error {
	s, tr, err := h.sessionFor(r)
	if err != nil || s == nil {
		return err
	}
	switch tr.Level {
	case catalog.Metadata:
		return nil
	case catalog.MetadataNotNull:
		if err := tr.Checker.Check(r); err != nil {
			return err
		}
	case catalog.IndexLevel:
		if err := h.insertNewIndexEntries(t, s, tr, r); err != nil {
			return err
		}
	case catalog.TableLevel, catalog.GroupLevel:
		projected, err := h.project(tr, r)
		if err != nil {
			return err
		}
		if err := h.store.ApplyInsert(t, s.NewCatalog(), projected); err != nil {
			return err
		}
	}
	return h.saveHandled(t, s, r)
}

func (h *dmlHook) OnUpdate(t txnif.AsyncTxn, oldRow, newRow row.Row) error {
	s, tr, err := h.sessionFor(newRow)
	if err != nil || s == nil {
		return err
	}
	switch tr.Level {
	case catalog.Metadata:
		return nil
	case catalog.MetadataNotNull:
		if err := tr.Checker.Check(newRow); err != nil {
			return err
		}
	case catalog.IndexLevel:
		if err := h.deleteNewIndexEntries(t, s, tr, oldRow); err != nil {
			return err
		}
		if err := h.insertNewIndexEntries(t, s, tr, newRow); err != nil {
			return err
		}
	case catalog.TableLevel, catalog.GroupLevel:
		projectedOld, err := h.project(tr, oldRow)
		if err != nil {
			return err
		}
		projectedNew, err := h.project(tr, newRow)
		if err != nil {
			return err
		}
		// The old row may not have been carried over yet.
		if err := h.store.ApplyDelete(t, s.NewCatalog(), projectedOld); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
		if err := h.store.ApplyInsert(t, s.NewCatalog(), projectedNew); err != nil {
			return err
		}
	}
	return h.saveHandled(t, s, newRow)
}

func (h *dmlHook) OnDelete(t txnif.AsyncTxn, r row.Row) error {
	s, tr, err := h.sessionFor(r)
	if err != nil || s == nil {
		return err
	}
	switch tr.Level {
	case catalog.Metadata:
		return nil
	case catalog.IndexLevel:
		if err := h.deleteNewIndexEntries(t, s, tr, r); err != nil {
			return err
		}
	case catalog.TableLevel, catalog.GroupLevel:
		projected, err := h.project(tr, r)
		if err != nil {
			return err
		}
		if err := h.store.ApplyDelete(t, s.NewCatalog(), projected); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return err
		}
	}
	return h.saveHandled(t, s, r)
}

func (h *dmlHook) project(tr *TableTransform, r row.Row) (row.Row, error) {
	return tr.Transform(expr.NewContext(h.reg), r)
}

func (h *dmlHook) insertNewIndexEntries(t txnif.AsyncTxn, s *catalog.OnlineSession, tr *TableTransform, r row.Row) error {
	leaf := r.RowType().Table
	for _, idx := range tr.NewIndexes {
		if idx.LeafTable().ID != leaf.ID {
			continue
		}
		if err := h.store.InsertIndexEntry(t, s.NewCatalog(), idx, r); err != nil {
			return err
		}
	}
	return nil
}

func (h *dmlHook) deleteNewIndexEntries(t txnif.AsyncTxn, s *catalog.OnlineSession, tr *TableTransform, r row.Row) error {
	leaf := r.RowType().Table
	for _, idx := range tr.NewIndexes {
		if idx.LeafTable().ID != leaf.ID {
			continue
		}
		if err := h.store.DeleteIndexEntry(t, s.NewCatalog(), idx, r); err != nil {
			return err
		}
	}
	return nil
}
