package online

import (
	"testing"

	"osc/pkg/catalog"
	"osc/pkg/common"

	"github.com/stretchr/testify/assert"
)

func trackerKey(v int64) common.HKey {
	return common.NewHKeyBuilder().BeginSegment(1).AppendInt(v).Build()
}

func trackerSession(t *testing.T, e *testEnv) (*catalog.OnlineSession, uint64) {
	c := e.mgr.Catalog()
	customers, err := c.GetTable("customers")
	assert.Nil(t, err)
	cs := &catalog.ChangeSet{TableID: customers.ID, TableName: customers.Name, Level: catalog.MetadataNotNull}
	s, err := e.mgr.BeginOnline([]*catalog.ChangeSet{cs}, c.Clone())
	assert.Nil(t, err)
	t.Cleanup(func() { e.mgr.AbortOnline(s.ID) })
	return s, customers.ID
}

func TestFalseChecker(t *testing.T) {
	assert.False(t, NewFalseChecker().Contains(trackerKey(1)))
}

func TestPointChecker(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	assert.Nil(t, e.mgr.SaveHandledHKey(s.ID, tableID, trackerKey(2)))

	c := NewPointChecker(e.mgr, s.ID, tableID)
	assert.False(t, c.Contains(trackerKey(1)))
	assert.True(t, c.Contains(trackerKey(2)))
	assert.False(t, c.Contains(trackerKey(3)))
	assert.True(t, c.Contains(trackerKey(2)))
}

func TestIterCheckerAscendingProbes(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	for _, v := range []int64{2, 4, 7} {
		assert.Nil(t, e.mgr.SaveHandledHKey(s.ID, tableID, trackerKey(v)))
	}

	c := NewIterChecker(e.mgr, s.ID, tableID)
	assert.False(t, c.Contains(trackerKey(1)))
	assert.True(t, c.Contains(trackerKey(2)))
	assert.False(t, c.Contains(trackerKey(3)))
	assert.True(t, c.Contains(trackerKey(4)))
	assert.False(t, c.Contains(trackerKey(5)))
	assert.True(t, c.Contains(trackerKey(7)))
	assert.False(t, c.Contains(trackerKey(8)))
	assert.False(t, c.Contains(trackerKey(9)))
}

func TestIterCheckerSkipsUnprobed(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	for _, v := range []int64{1, 2, 3, 8} {
		assert.Nil(t, e.mgr.SaveHandledHKey(s.ID, tableID, trackerKey(v)))
	}

	// Probes may jump over handled keys; the checker advances past them.
	c := NewIterChecker(e.mgr, s.ID, tableID)
	assert.True(t, c.Contains(trackerKey(2)))
	assert.True(t, c.Contains(trackerKey(8)))
}

func TestIterCheckerEmptySet(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)

	c := NewIterChecker(e.mgr, s.ID, tableID)
	assert.False(t, c.Contains(trackerKey(1)))
	assert.False(t, c.Contains(trackerKey(2)))
}

func TestIterCheckerFrozenSnapshot(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	assert.Nil(t, e.mgr.SaveHandledHKey(s.ID, tableID, trackerKey(1)))

	c := NewIterChecker(e.mgr, s.ID, tableID)
	assert.True(t, c.Contains(trackerKey(1)))

	// Saves after the first probe are invisible to this checker.
	assert.Nil(t, e.mgr.SaveHandledHKey(s.ID, tableID, trackerKey(5)))
	assert.False(t, c.Contains(trackerKey(5)))
	assert.True(t, NewIterChecker(e.mgr, s.ID, tableID).Contains(trackerKey(5)))
}

func TestHKeySaverCommit(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	saver := newHKeySaver(e.mgr, s.ID)

	tx := e.svc.Begin()
	assert.Nil(t, saver.Save(tx, tableID, trackerKey(1)))
	assert.True(t, e.mgr.HasHandledHKey(s.ID, tableID, trackerKey(1)))
	assert.Nil(t, tx.Commit())
	assert.True(t, e.mgr.HasHandledHKey(s.ID, tableID, trackerKey(1)))
}

func TestHKeySaverRollbackBacksOut(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	saver := newHKeySaver(e.mgr, s.ID)

	tx := e.svc.Begin()
	assert.Nil(t, saver.Save(tx, tableID, trackerKey(1)))
	assert.Nil(t, saver.Save(tx, tableID, trackerKey(2)))
	assert.Nil(t, tx.Rollback())
	assert.False(t, e.mgr.HasHandledHKey(s.ID, tableID, trackerKey(1)))
	assert.False(t, e.mgr.HasHandledHKey(s.ID, tableID, trackerKey(2)))
}

func TestHKeySaverClonesKey(t *testing.T) {
	e := newTestEnv(t, nil)
	s, tableID := trackerSession(t, e)
	saver := newHKeySaver(e.mgr, s.ID)

	k := trackerKey(1)
	tx := e.svc.Begin()
	assert.Nil(t, saver.Save(tx, tableID, k))
	k[len(k)-1] ^= 0xff
	assert.Nil(t, tx.Commit())
	assert.True(t, e.mgr.HasHandledHKey(s.ID, tableID, trackerKey(1)))
}
