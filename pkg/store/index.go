package store

import (
	"fmt"
	"strings"
	"unicode"

	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/types"

	"github.com/google/btree"
)

type indexItem struct {
	key    common.HKey
	rowKey common.HKey
}

func (i *indexItem) Less(o btree.Item) bool {
	return i.key.Compare(o.(*indexItem).key) < 0
}

// indexEntryKeys builds every index entry key a row contributes. Plain and
// group indexes yield one entry, fulltext one per token. Ancestor fields of
// a group index are fetched through the interleaved tree.
func (s *MemStore) indexEntryKeys(c *catalog.Catalog, idx *catalog.Index, leaf row.Row) ([]common.HKey, error) {
	leafTable := leaf.RowType().Table
	rowKey, err := leaf.HKey()
	if err != nil {
		return nil, err
	}
	if idx.Kind == catalog.FullTextIndex {
		var keys []common.HKey
		for _, ic := range idx.Columns {
			v := leaf.FieldValue(ic.Position)
			if v.IsNull() {
				continue
			}
			for _, token := range Tokenize(v.Str()) {
				b := common.NewHKeyBuilder()
				b.AppendString(token)
				keys = append(keys, append(b.Build(), rowKey...))
			}
		}
		return keys, nil
	}
	b := common.NewHKeyBuilder()
	for _, ic := range idx.Columns {
		var v types.Value
		if ic.Table.ID == leafTable.ID {
			v = leaf.FieldValue(ic.Position)
		} else {
			ancestorKey, aerr := leafTable.AncestorHKeyForRow(ic.Table, leaf.FieldValue)
			if aerr != nil {
				return nil, aerr
			}
			ancestor, gerr := s.GetRow(c, leafTable.Group().SpaceID, ancestorKey)
			if gerr != nil {
				return nil, gerr
			}
			v = ancestor.FieldValue(ic.Position)
		}
		if err := appendIndexField(b, v); err != nil {
			return nil, err
		}
	}
	return []common.HKey{append(b.Build(), rowKey...)}, nil
}

func appendIndexField(b *common.HKeyBuilder, v types.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch v.Type.Class {
	case types.Boolean:
		b.AppendBool(v.Bool())
	case types.Int, types.BigInt:
		b.AppendInt(v.Int64())
	case types.Varchar:
		b.AppendString(v.Str())
	case types.Timestamp:
		b.AppendTime(v.Time())
	default:
		return fmt.Errorf("%w: index field class %s", catalog.ErrValidation, v.Type.Class)
	}
	return nil
}

// fieldsKeyOnly is the entry key without the trailing row key, for unique
// checks and seeks.
func (s *MemStore) fieldsKeyOnly(values []types.Value) (common.HKey, error) {
	b := common.NewHKeyBuilder()
	for _, v := range values {
		if err := appendIndexField(b, v); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func (s *MemStore) insertIndexEntries(txn txnStoreRef, c *catalog.Catalog, idx *catalog.Index, leaf row.Row) error {
	keys, err := s.indexEntryKeys(c, idx, leaf)
	if err != nil {
		return err
	}
	rowKey, err := leaf.HKey()
	if err != nil {
		return err
	}
	tree := s.indexSpace(idx.ID)
	for _, key := range keys {
		if idx.Unique {
			fieldsKey := key[:len(key)-len(rowKey)]
			if s.uniqueViolation(tree, fieldsKey, rowKey) {
				return fmt.Errorf("%w: unique index %s", catalog.ErrDuplicate, idx.Name)
			}
		}
		item := &indexItem{key: key, rowKey: rowKey}
		s.mu.Lock()
		tree.ReplaceOrInsert(item)
		s.mu.Unlock()
		if txn != nil {
			k := key
			txn.logUndo(func() {
				s.mu.Lock()
				tree.Delete(&indexItem{key: k})
				s.mu.Unlock()
			})
		}
	}
	return nil
}

func (s *MemStore) deleteIndexEntries(txn txnStoreRef, c *catalog.Catalog, idx *catalog.Index, leaf row.Row) error {
	keys, err := s.indexEntryKeys(c, idx, leaf)
	if err != nil {
		return err
	}
	tree := s.indexSpace(idx.ID)
	for _, key := range keys {
		s.mu.Lock()
		removed := tree.Delete(&indexItem{key: key})
		s.mu.Unlock()
		if removed != nil && txn != nil {
			item := removed.(*indexItem)
			txn.logUndo(func() {
				s.mu.Lock()
				tree.ReplaceOrInsert(item)
				s.mu.Unlock()
			})
		}
	}
	return nil
}

func (s *MemStore) uniqueViolation(tree *btree.BTree, fieldsKey, rowKey common.HKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	violated := false
	tree.AscendGreaterOrEqual(&indexItem{key: fieldsKey}, func(it btree.Item) bool {
		item := it.(*indexItem)
		if !item.key.HasPrefix(fieldsKey) {
			return false
		}
		if !item.rowKey.Equal(rowKey) {
			violated = true
		}
		return false
	})
	return violated
}

// InsertIndexEntry publishes one row's entries into an index. Backfill
// passes use it for indexes the row's own catalog version does not carry
// yet.
func (s *MemStore) InsertIndexEntry(txn txnif.AsyncTxn, c *catalog.Catalog, idx *catalog.Index, leaf row.Row) error {
	return s.insertIndexEntries(txnStoreOf(txn), c, idx, leaf)
}

// DeleteIndexEntry removes one row's entries from an index the row's own
// catalog version does not carry yet.
func (s *MemStore) DeleteIndexEntry(txn txnif.AsyncTxn, c *catalog.Catalog, idx *catalog.Index, leaf row.Row) error {
	return s.deleteIndexEntries(txnStoreOf(txn), c, idx, leaf)
}

// IndexLookup returns the row keys of entries whose leading fields equal
// values. For fulltext indexes pass a single token.
func (s *MemStore) IndexLookup(idx *catalog.Index, values []types.Value) ([]common.HKey, error) {
	fieldsKey, err := s.fieldsKeyOnly(values)
	if err != nil {
		return nil, err
	}
	tree := s.indexSpace(idx.ID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.HKey
	tree.AscendGreaterOrEqual(&indexItem{key: fieldsKey}, func(it btree.Item) bool {
		item := it.(*indexItem)
		if !item.key.HasPrefix(fieldsKey) {
			return false
		}
		out = append(out, item.rowKey)
		return true
	})
	return out, nil
}

func (s *MemStore) IndexEntryCount(idx *catalog.Index) int {
	tree := s.indexSpace(idx.ID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tree.Len()
}

// Tokenize splits text into lower-cased word tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var tokens []string
	for _, f := range fields {
		t := strings.ToLower(f)
		if !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	return tokens
}
