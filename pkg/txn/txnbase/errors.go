package txnbase

import "errors"

var (
	ErrTxnAlreadyCommitted = errors.New("osc: txn already committed")
	ErrTxnNotCommitting    = errors.New("osc: txn not committing")
	ErrTxnNotRollbacking   = errors.New("osc: txn not rollbacking")
	ErrTxnNotActive        = errors.New("osc: txn not active")
	ErrTxnConflict         = errors.New("osc: txn conflict")
)

// IsRetryable reports whether retrying the work in a fresh transaction may
// succeed. Conflicts qualify; state errors do not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxnConflict)
}
