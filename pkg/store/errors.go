package store

import (
	"fmt"

	"osc/pkg/txn/txnbase"
)

// ErrWriteConflict wraps the txn-level conflict sentinel so callers can
// classify it with txnbase.IsRetryable.
var ErrWriteConflict = fmt.Errorf("%w: write-write", txnbase.ErrTxnConflict)
