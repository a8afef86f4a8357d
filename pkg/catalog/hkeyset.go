package catalog

import (
	"sync"

	"osc/pkg/common"

	"github.com/google/btree"
)

type hkeyItem struct {
	k common.HKey
}

func (i *hkeyItem) Less(o btree.Item) bool {
	return i.k.Compare(o.(*hkeyItem).k) < 0
}

// hkeySet is an ordered set of hKeys. Saves and snapshots may interleave;
// an iterator sees a frozen copy of the tree.
type hkeySet struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func newHKeySet() *hkeySet {
	return &hkeySet{tree: btree.New(8)}
}

func (s *hkeySet) Save(k common.HKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.ReplaceOrInsert(&hkeyItem{k: k.Clone()}) == nil
}

func (s *hkeySet) Remove(k common.HKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(&hkeyItem{k: k})
}

func (s *hkeySet) Contains(k common.HKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Get(&hkeyItem{k: k}) != nil
}

func (s *hkeySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

func (s *hkeySet) Iterator() *HKeyIterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &HKeyIterator{tree: s.tree.Clone()}
}

// HKeyIterator walks saved hKeys in ascending order. Next returns nil once
// exhausted.
type HKeyIterator struct {
	tree    *btree.BTree
	last    common.HKey
	started bool
}

func EmptyHKeyIterator() *HKeyIterator {
	return &HKeyIterator{tree: btree.New(8)}
}

func (it *HKeyIterator) Next() common.HKey {
	var out common.HKey
	if !it.started {
		it.started = true
		if min := it.tree.Min(); min != nil {
			out = min.(*hkeyItem).k
		}
	} else {
		it.tree.AscendGreaterOrEqual(&hkeyItem{k: it.last}, func(item btree.Item) bool {
			k := item.(*hkeyItem).k
			if k.Equal(it.last) {
				return true
			}
			out = k
			return false
		})
	}
	if out == nil {
		return nil
	}
	it.last = out
	return out
}
