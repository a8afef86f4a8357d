package txn

import (
	"osc/pkg/iface/txnif"
	"osc/pkg/txn/txnbase"
)

type Options struct {
	// CommitRowInterval is how many scanned rows a background pass handles
	// before committing and rebinding.
	CommitRowInterval int64
	// MaxCommitRetries bounds how often a background pass restarts after a
	// retryable commit failure.
	MaxCommitRetries int
}

func (o Options) WithDefaults() Options {
	if o.CommitRowInterval <= 0 {
		o.CommitRowInterval = 1000
	}
	if o.MaxCommitRetries <= 0 {
		o.MaxCommitRetries = 10
	}
	return o
}

// Service fronts the transaction manager for both foreground DML and the
// background scan passes.
type Service struct {
	Mgr  *txnbase.TxnManager
	opts Options
}

func NewService(storeFactory txnbase.TxnStoreFactory, opts Options) *Service {
	mgr := txnbase.NewTxnManager(storeFactory, nil)
	mgr.Start()
	return &Service{Mgr: mgr, opts: opts.WithDefaults()}
}

func (s *Service) Begin() txnif.AsyncTxn {
	return s.Mgr.StartTxn()
}

func (s *Service) Commit(txn txnif.AsyncTxn) error {
	return txn.Commit()
}

// RollbackIfOpen is safe to call on any txn, already-terminated or nil.
func (s *Service) RollbackIfOpen(txn txnif.AsyncTxn) {
	if txn == nil {
		return
	}
	if txn.GetTxnState(false) == txnif.TxnStateActive {
		_ = txn.Rollback()
	}
}

func (s *Service) CommitRowInterval() int64 {
	return s.opts.CommitRowInterval
}

func (s *Service) MaxCommitRetries() int {
	return s.opts.MaxCommitRetries
}

func (s *Service) Close() error {
	s.Mgr.Stop()
	return nil
}
