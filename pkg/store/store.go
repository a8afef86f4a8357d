package store

import (
	"fmt"
	"sync"

	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/types"

	"github.com/google/btree"
)

type rowItem struct {
	key     common.HKey
	tableID uint64
	values  []types.Value
}

func (i *rowItem) Less(o btree.Item) bool {
	return i.key.Compare(o.(*rowItem).key) < 0
}

// RowListener observes row writes as they happen, inside the writing
// transaction. A listener error fails the write.
type RowListener interface {
	OnInsert(txn txnif.AsyncTxn, r row.Row) error
	OnUpdate(txn txnif.AsyncTxn, oldRow, newRow row.Row) error
	OnDelete(txn txnif.AsyncTxn, r row.Row) error
}

// MemStore keeps one ordered tree per group space and per index. Rows are
// applied eagerly; transactions unwind through undo records on rollback.
type MemStore struct {
	mu        sync.RWMutex
	spaces    map[uint64]*btree.BTree
	indexes   map[uint64]*btree.BTree
	owners    map[string]uint64
	listeners []RowListener
}

func NewMemStore() *MemStore {
	return &MemStore{
		spaces:  make(map[uint64]*btree.BTree),
		indexes: make(map[uint64]*btree.BTree),
		owners:  make(map[string]uint64),
	}
}

func (s *MemStore) AddListener(l RowListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *MemStore) RemoveListener(l RowListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *MemStore) snapshotListeners() []RowListener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RowListener(nil), s.listeners...)
}

func (s *MemStore) space(id uint64) *btree.BTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.spaces[id]
	if t == nil {
		t = btree.New(8)
		s.spaces[id] = t
	}
	return t
}

func (s *MemStore) indexSpace(id uint64) *btree.BTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.indexes[id]
	if t == nil {
		t = btree.New(8)
		s.indexes[id] = t
	}
	return t
}

// claim takes write ownership of a key for the duration of a transaction.
// A second active writer gets a conflict.
func (s *MemStore) claim(k common.HKey, txnID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[string(k)]
	if ok && owner != txnID {
		return fmt.Errorf("%w: key %s owned by txn %d", ErrWriteConflict, k, owner)
	}
	s.owners[string(k)] = txnID
	return nil
}

func (s *MemStore) release(keys []string, txnID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if s.owners[k] == txnID {
			delete(s.owners, k)
		}
	}
}

func (s *MemStore) getItem(spaceID uint64, k common.HKey) *rowItem {
	tree := s.space(spaceID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := tree.Get(&rowItem{key: k})
	if found == nil {
		return nil
	}
	return found.(*rowItem)
}

// GetRow materializes the stored row at k under c's view of the schema.
func (s *MemStore) GetRow(c *catalog.Catalog, spaceID uint64, k common.HKey) (row.Row, error) {
	item := s.getItem(spaceID, k)
	if item == nil {
		return nil, fmt.Errorf("%w: key %s", catalog.ErrNotFound, k)
	}
	return s.materialize(c, item)
}

func (s *MemStore) materialize(c *catalog.Catalog, item *rowItem) (row.Row, error) {
	t, err := c.GetTableByID(item.tableID)
	if err != nil {
		return nil, err
	}
	rt := row.TypeFor(c, t)
	values := make([]types.Value, len(item.values))
	copy(values, item.values)
	return row.NewDataRow(rt, values...), nil
}

func (s *MemStore) RowCount(spaceID uint64) int {
	tree := s.space(spaceID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tree.Len()
}
