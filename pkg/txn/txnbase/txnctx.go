package txnbase

import (
	"fmt"
	"sync"

	"osc/pkg/iface/txnif"
)

type TxnCtx struct {
	*sync.RWMutex
	ID                uint64
	StartTS, CommitTS uint64
	State             int32
}

func NewTxnCtx(rwlocker *sync.RWMutex, id, start uint64) *TxnCtx {
	if rwlocker == nil {
		rwlocker = new(sync.RWMutex)
	}
	return &TxnCtx{
		RWMutex:  rwlocker,
		ID:       id,
		StartTS:  start,
		CommitTS: txnif.UncommitTS,
		State:    txnif.TxnStateActive,
	}
}

func (ctx *TxnCtx) GetID() uint64       { return ctx.ID }
func (ctx *TxnCtx) GetStartTS() uint64  { return ctx.StartTS }
func (ctx *TxnCtx) GetCommitTS() uint64 { return ctx.CommitTS }

func (ctx *TxnCtx) IsActiveLocked() bool {
	return ctx.State == txnif.TxnStateActive
}

func (ctx *TxnCtx) ToCommittingLocked(ts uint64) error {
	if ctx.State != txnif.TxnStateActive {
		return ErrTxnNotActive
	}
	if ts <= ctx.StartTS {
		panic(fmt.Sprintf("commit ts %d should be greater than start ts %d", ts, ctx.StartTS))
	}
	ctx.CommitTS = ts
	ctx.State = txnif.TxnStateCommitting
	return nil
}

func (ctx *TxnCtx) ToCommittedLocked() error {
	if ctx.State != txnif.TxnStateCommitting {
		return ErrTxnNotCommitting
	}
	ctx.State = txnif.TxnStateCommitted
	return nil
}

func (ctx *TxnCtx) ToRollbackingLocked(ts uint64) error {
	if ctx.State != txnif.TxnStateActive && ctx.State != txnif.TxnStateCommitting {
		return ErrTxnNotActive
	}
	ctx.CommitTS = ts
	ctx.State = txnif.TxnStateRollbacking
	return nil
}

func (ctx *TxnCtx) ToRollbackedLocked() error {
	if ctx.State != txnif.TxnStateRollbacking {
		return ErrTxnNotRollbacking
	}
	ctx.State = txnif.TxnStateRollbacked
	return nil
}

func (ctx *TxnCtx) String() string {
	return fmt.Sprintf("Txn-%d[%d,%d]", ctx.ID, ctx.StartTS, ctx.CommitTS)
}

func (ctx *TxnCtx) Repr() string {
	return fmt.Sprintf("Txn-%d[state=%d]", ctx.ID, ctx.State)
}
