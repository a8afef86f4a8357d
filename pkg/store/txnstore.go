package store

import (
	"osc/pkg/common"
	"osc/pkg/iface/txnif"
	"osc/pkg/txn/txnbase"
)

// memTxnStore records undo actions for eagerly applied writes and the keys
// the transaction owns.
type memTxnStore struct {
	txnbase.NoopTxnStore
	store *MemStore
	txn   txnif.AsyncTxn
	undos []func()
	keys  []string
}

// NewTxnStoreFactory wires transactions to a MemStore. Pass the result to
// txn.NewService.
func NewTxnStoreFactory(store *MemStore) txnbase.TxnStoreFactory {
	return func() txnif.TxnStore {
		return &memTxnStore{store: store}
	}
}

func (ts *memTxnStore) BindTxn(txn txnif.AsyncTxn) {
	ts.txn = txn
}

func (ts *memTxnStore) claim(k common.HKey) error {
	if err := ts.store.claim(k, ts.txn.GetID()); err != nil {
		return err
	}
	ts.keys = append(ts.keys, string(k))
	return nil
}

func (ts *memTxnStore) logUndo(fn func()) {
	ts.undos = append(ts.undos, fn)
}

func (ts *memTxnStore) LogUndo(fn func()) {
	ts.logUndo(fn)
}

func (ts *memTxnStore) ApplyCommit() error {
	ts.store.release(ts.keys, ts.txn.GetID())
	ts.undos = nil
	ts.keys = nil
	return nil
}

func (ts *memTxnStore) ApplyRollback() error {
	for i := len(ts.undos) - 1; i >= 0; i-- {
		ts.undos[i]()
	}
	ts.store.release(ts.keys, ts.txn.GetID())
	ts.undos = nil
	ts.keys = nil
	return nil
}

type txnStoreRef = *memTxnStore

func txnStoreOf(txn txnif.AsyncTxn) *memTxnStore {
	return txn.GetStore().(*memTxnStore)
}
