package txnbase

import (
	"osc/pkg/iface/txnif"
)

var NoopStoreFactory = func() txnif.TxnStore { return new(NoopTxnStore) }

// NoopTxnStore is the embeddable default. Concrete stores override the
// stages they care about.
type NoopTxnStore struct{}

func (store *NoopTxnStore) BindTxn(txnif.AsyncTxn) {}
func (store *NoopTxnStore) LogUndo(func())         {}
func (store *NoopTxnStore) PrepareCommit() error   { return nil }
func (store *NoopTxnStore) PrepareRollback() error { return nil }
func (store *NoopTxnStore) ApplyCommit() error     { return nil }
func (store *NoopTxnStore) ApplyRollback() error   { return nil }
func (store *NoopTxnStore) Close() error           { return nil }
