package online

import (
	"osc/pkg/catalog"
	"osc/pkg/common"
	"osc/pkg/iface/txnif"

	"github.com/google/uuid"
)

// HandledChecker answers whether a row's hKey was already handled by the
// current online session.
type HandledChecker interface {
	Contains(k common.HKey) bool
}

type falseChecker struct{}

func (falseChecker) Contains(common.HKey) bool { return false }

// NewFalseChecker is used when no rows can have been handled yet.
func NewFalseChecker() HandledChecker { return falseChecker{} }

// pointChecker resolves membership with a point lookup against the
// session's handled set. Suited to arbitrary-order probes from the DML
// path.
type pointChecker struct {
	mgr       *catalog.Manager
	sessionID uuid.UUID
	tableID   uint64
}

func NewPointChecker(mgr *catalog.Manager, sessionID uuid.UUID, tableID uint64) HandledChecker {
	return &pointChecker{mgr: mgr, sessionID: sessionID, tableID: tableID}
}

func (c *pointChecker) Contains(k common.HKey) bool {
	return c.mgr.HasHandledHKey(c.sessionID, c.tableID, k)
}

// iterChecker merges an ascending probe stream against a frozen snapshot
// of the handled set. Probes must arrive in hKey order, which the group
// scan guarantees.
type iterChecker struct {
	mgr       *catalog.Manager
	sessionID uuid.UUID
	tableID   uint64
	iter      *catalog.HKeyIterator
	cur       common.HKey
	exhausted bool
}

func NewIterChecker(mgr *catalog.Manager, sessionID uuid.UUID, tableID uint64) HandledChecker {
	return &iterChecker{mgr: mgr, sessionID: sessionID, tableID: tableID}
}

func (c *iterChecker) Contains(k common.HKey) bool {
	if c.iter == nil {
		iter, err := c.mgr.HandledHKeys(c.sessionID, c.tableID)
		if err != nil {
			c.exhausted = true
			return false
		}
		c.iter = iter
		c.cur = c.iter.Next()
	}
	for !c.exhausted {
		if c.cur == nil {
			c.exhausted = true
			break
		}
		cmp := c.cur.Compare(k)
		if cmp == 0 {
			return true
		}
		if cmp > 0 {
			return false
		}
		c.cur = c.iter.Next()
	}
	return false
}

// hkeySaver records handled hKeys inside the handling transaction. A
// rollback backs the save out of the in-memory set.
type hkeySaver struct {
	mgr       *catalog.Manager
	sessionID uuid.UUID
}

func newHKeySaver(mgr *catalog.Manager, sessionID uuid.UUID) *hkeySaver {
	return &hkeySaver{mgr: mgr, sessionID: sessionID}
}

func (s *hkeySaver) Save(txn txnif.AsyncTxn, tableID uint64, k common.HKey) error {
	saved := k.Clone()
	if err := s.mgr.SaveHandledHKey(s.sessionID, tableID, saved); err != nil {
		return err
	}
	mgr, id := s.mgr, s.sessionID
	txn.GetStore().LogUndo(func() {
		mgr.UnsaveHandledHKey(id, tableID, saved)
	})
	return nil
}
