package online

import (
	"fmt"

	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/iface/txnif"
	"osc/pkg/row"
	"osc/pkg/store"
	"osc/pkg/txn"
	"osc/pkg/txn/txnbase"

	"github.com/sirupsen/logrus"
)

// RowHandler applies the session's change to one old-format row inside
// the given transaction.
type RowHandler func(t txnif.AsyncTxn, r row.Row) error

// scanDriver walks a group space and feeds every not-yet-handled row to a
// handler, committing every CommitRowInterval rows. A retryable failure
// rolls the pass back to the last committed watermark and rescans from
// there with a fresh transaction.
type scanDriver struct {
	mgr     *catalog.Manager
	store   *store.MemStore
	svc     *txn.Service
	opts    *Options
	session *catalog.OnlineSession
	saver   *hkeySaver
}

func newScanDriver(mgr *catalog.Manager, st *store.MemStore, svc *txn.Service, opts *Options, session *catalog.OnlineSession) *scanDriver {
	return &scanDriver{
		mgr:     mgr,
		store:   st,
		svc:     svc,
		opts:    opts,
		session: session,
		saver:   newHKeySaver(mgr, session.ID),
	}
}

func (d *scanDriver) Run(oldCat *catalog.Catalog, g *catalog.Group, handle RowHandler, tableIDs ...uint64) error {
	cursor := store.NewFilterCursor(d.store.ScanGroup(oldCat, g), store.TableFilter(tableIDs...))
	defer cursor.Close()

	t := d.svc.Begin()
	var lastCommitted common.HKey
	checkers := make(map[uint64]HandledChecker)
	checkerFor := func(tableID uint64) HandledChecker {
		c := checkers[tableID]
		if c == nil {
			c = NewIterChecker(d.mgr, d.session.ID, tableID)
			checkers[tableID] = c
		}
		return c
	}

	retries := 0
	// rebind restarts the pass from the watermark after a retryable
	// failure. The failed transaction is already terminated.
	rebind := func(cause error) error {
		d.svc.RollbackIfOpen(t)
		if !txnbase.IsRetryable(cause) {
			return cause
		}
		retries++
		if retries > d.opts.MaxCommitRetries {
			return fmt.Errorf("%w: %d attempts: %v", ErrRetriesExhausted, retries, cause)
		}
		logrus.Warnf("online %s scan retry %d: %v", d.session.ID, retries, cause)
		t = d.svc.Begin()
		cursor.Rebind(lastCommitted, !lastCommitted.Empty())
		checkers = make(map[uint64]HandledChecker)
		return nil
	}

	rows := int64(0)
	for {
		r, err := cursor.Next()
		if err != nil {
			d.svc.RollbackIfOpen(t)
			return err
		}
		if r == nil {
			if err := t.Commit(); err != nil {
				if err = rebind(err); err != nil {
					return err
				}
				rows = 0
				continue
			}
			return nil
		}
		k, err := r.HKey()
		if err != nil {
			d.svc.RollbackIfOpen(t)
			return err
		}
		tableID := r.RowType().Table.ID
		if checkerFor(tableID).Contains(k) {
			continue
		}
		if err = handle(t, r); err == nil {
			err = d.saver.Save(t, tableID, k)
		}
		if err != nil {
			if err = rebind(err); err != nil {
				return err
			}
			rows = 0
			continue
		}
		rows++
		if rows >= d.opts.CommitRowInterval {
			if err := t.Commit(); err != nil {
				if err = rebind(err); err != nil {
					return err
				}
			} else {
				lastCommitted = k.Clone()
				t = d.svc.Begin()
				checkers = make(map[uint64]HandledChecker)
			}
			rows = 0
		}
	}
}
