package txnbase

import (
	"sync"

	"osc/pkg/iface/txnif"

	"github.com/sirupsen/logrus"
)

type OpType int8

const (
	OpCommit OpType = iota
	OpRollback
)

type OpTxn struct {
	Txn txnif.AsyncTxn
	Op  OpType
}

func (op *OpTxn) Repr() string {
	if op.Op == OpCommit {
		return "[Commit]" + op.Txn.Repr()
	}
	return "[Rollback]" + op.Txn.Repr()
}

var DefaultTxnFactory = func(mgr *TxnManager, store txnif.TxnStore, id, startTS uint64) txnif.AsyncTxn {
	return NewTxn(mgr, store, id, startTS)
}

type Txn struct {
	sync.RWMutex
	sync.WaitGroup
	*TxnCtx
	Mgr             *TxnManager
	Store           txnif.TxnStore
	Err             error
	DoneCond        sync.Cond
	PrepareCommitFn func(interface{}) error
}

func NewTxn(mgr *TxnManager, store txnif.TxnStore, txnId, start uint64) *Txn {
	txn := &Txn{
		Mgr:   mgr,
		Store: store,
	}
	txn.TxnCtx = NewTxnCtx(&txn.RWMutex, txnId, start)
	txn.DoneCond = *sync.NewCond(txn)
	return txn
}

func (txn *Txn) SetError(err error) { txn.Err = err }
func (txn *Txn) GetError() error    { return txn.Err }

func (txn *Txn) SetPrepareCommitFn(fn func(interface{}) error) { txn.PrepareCommitFn = fn }

func (txn *Txn) GetStore() txnif.TxnStore {
	return txn.Store
}

func (txn *Txn) Commit() error {
	txn.Add(1)
	txn.Mgr.OnOpTxn(&OpTxn{
		Txn: txn,
		Op:  OpCommit,
	})
	txn.Wait()
	return txn.Err
}

func (txn *Txn) Rollback() error {
	txn.Add(1)
	txn.Mgr.OnOpTxn(&OpTxn{
		Txn: txn,
		Op:  OpRollback,
	})
	txn.Wait()
	return txn.Err
}

func (txn *Txn) Done() {
	txn.DoneCond.L.Lock()
	if txn.State == txnif.TxnStateRollbacking {
		if err := txn.ToRollbackedLocked(); err != nil {
			panic(err)
		}
	} else {
		if err := txn.ToCommittedLocked(); err != nil {
			panic(err)
		}
	}
	txn.WaitGroup.Done()
	txn.DoneCond.Broadcast()
	txn.DoneCond.L.Unlock()
}

func (txn *Txn) IsTerminated(waitIfcommitting bool) bool {
	state := txn.GetTxnState(waitIfcommitting)
	return state == txnif.TxnStateCommitted || state == txnif.TxnStateRollbacked
}

func (txn *Txn) GetTxnState(waitIfcommitting bool) int32 {
	txn.RLock()
	state := txn.State
	if !waitIfcommitting || state != txnif.TxnStateCommitting {
		txn.RUnlock()
		return state
	}
	txn.RUnlock()
	txn.DoneCond.L.Lock()
	state = txn.State
	if state != txnif.TxnStateCommitting {
		txn.DoneCond.L.Unlock()
		return state
	}
	txn.DoneCond.Wait()
	state = txn.State
	txn.DoneCond.L.Unlock()
	return state
}

func (txn *Txn) PrepareCommit() error {
	logrus.Debugf("Prepare Committing %d", txn.ID)
	var err error
	if txn.PrepareCommitFn != nil {
		err = txn.PrepareCommitFn(txn)
	}
	if err != nil {
		return err
	}
	return txn.Store.PrepareCommit()
}

func (txn *Txn) PrepareRollback() error {
	logrus.Debugf("Prepare Rollbacking %d", txn.ID)
	return txn.Store.PrepareRollback()
}

func (txn *Txn) ApplyCommit() error {
	return txn.Store.ApplyCommit()
}

func (txn *Txn) ApplyRollback() error {
	return txn.Store.ApplyRollback()
}

func (txn *Txn) WaitDone() error {
	txn.Done()
	return txn.Err
}
