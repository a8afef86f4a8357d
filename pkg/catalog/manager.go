package catalog

import (
	"fmt"
	"sync"

	"osc/pkg/common"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OnlineSession is one in-flight schema change: the affected tables'
// change sets, the catalog version being built toward, and the hKeys the
// background scan or the DML hook already handled per table.
type OnlineSession struct {
	ID         uuid.UUID
	ChangeSets []*ChangeSet

	newCatalog *Catalog

	mu      sync.Mutex
	handled map[uint64]*hkeySet
}

func (s *OnlineSession) NewCatalog() *Catalog {
	return s.newCatalog
}

func (s *OnlineSession) ChangeSetFor(tableID uint64) (*ChangeSet, bool) {
	for _, cs := range s.ChangeSets {
		if cs.TableID == tableID {
			return cs, true
		}
	}
	return nil, false
}

func (s *OnlineSession) saveHandled(tableID uint64, k common.HKey) bool {
	s.mu.Lock()
	set := s.handled[tableID]
	if set == nil {
		set = newHKeySet()
		s.handled[tableID] = set
	}
	s.mu.Unlock()
	return set.Save(k)
}

func (s *OnlineSession) removeHandled(tableID uint64, k common.HKey) {
	s.mu.Lock()
	set := s.handled[tableID]
	s.mu.Unlock()
	if set != nil {
		set.Remove(k)
	}
}

func (s *OnlineSession) hasHandled(tableID uint64, k common.HKey) bool {
	s.mu.Lock()
	set := s.handled[tableID]
	s.mu.Unlock()
	return set != nil && set.Contains(k)
}

func (s *OnlineSession) handledIterator(tableID uint64) *HKeyIterator {
	s.mu.Lock()
	set := s.handled[tableID]
	s.mu.Unlock()
	if set == nil {
		return EmptyHKeyIterator()
	}
	return set.Iterator()
}

func (s *OnlineSession) String() string {
	return fmt.Sprintf("ONLINE[%s][changesets=%d][v->%d]", s.ID, len(s.ChangeSets), s.newCatalog.Version)
}

// Manager owns the installed catalog version and the online sessions
// mutating toward the next one. At most one session may cover a table.
type Manager struct {
	*sync.RWMutex
	current  *Catalog
	journal  Journal
	sessions map[uuid.UUID]*OnlineSession
	byTable  map[uint64]*OnlineSession
}

func NewManager(initial *Catalog, journal Journal) *Manager {
	if journal == nil {
		journal = NoopJournal{}
	}
	return &Manager{
		RWMutex:  new(sync.RWMutex),
		current:  initial,
		journal:  journal,
		sessions: make(map[uuid.UUID]*OnlineSession),
		byTable:  make(map[uint64]*OnlineSession),
	}
}

func (m *Manager) Catalog() *Catalog {
	m.RLock()
	defer m.RUnlock()
	return m.current
}

// Install swaps the catalog outside any online session. Plain DDL that
// needs no background work goes through here.
func (m *Manager) Install(c *Catalog) {
	m.Lock()
	defer m.Unlock()
	m.current = c
}

func (m *Manager) BeginOnline(changeSets []*ChangeSet, newCatalog *Catalog) (*OnlineSession, error) {
	m.Lock()
	defer m.Unlock()
	seen := make(map[uint64]bool, len(changeSets))
	for _, cs := range changeSets {
		if seen[cs.TableID] {
			return nil, fmt.Errorf("%w: change set for table %d", ErrDuplicate, cs.TableID)
		}
		seen[cs.TableID] = true
		if m.byTable[cs.TableID] != nil {
			return nil, fmt.Errorf("%w: table %d", ErrTableOnline, cs.TableID)
		}
	}
	session := &OnlineSession{
		ID:         uuid.New(),
		ChangeSets: changeSets,
		newCatalog: newCatalog,
		handled:    make(map[uint64]*hkeySet),
	}
	if err := m.journal.LogBegin(session.ID, changeSets); err != nil {
		return nil, err
	}
	m.sessions[session.ID] = session
	for _, cs := range changeSets {
		m.byTable[cs.TableID] = session
	}
	logrus.Infof("online begin %s", session.String())
	return session, nil
}

func (m *Manager) Session(id uuid.UUID) (*OnlineSession, error) {
	m.RLock()
	defer m.RUnlock()
	s := m.sessions[id]
	if s == nil {
		return nil, fmt.Errorf("%w: online session %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) SessionForTable(tableID uint64) (*OnlineSession, bool) {
	m.RLock()
	defer m.RUnlock()
	s := m.byTable[tableID]
	return s, s != nil
}

func (m *Manager) IsOnlineActive(tableID uint64) bool {
	_, ok := m.SessionForTable(tableID)
	return ok
}

// OnlineCatalog is the version a session is building toward. Reads that
// should see new-format schema resolve against it.
func (m *Manager) OnlineCatalog(id uuid.UUID) (*Catalog, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return s.newCatalog, nil
}

func (m *Manager) SaveHandledHKey(id uuid.UUID, tableID uint64, k common.HKey) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	if !s.saveHandled(tableID, k) {
		return nil
	}
	return m.journal.LogHandledHKey(id, tableID, k)
}

// UnsaveHandledHKey backs out a save whose transaction rolled back. Only the
// in-memory set changes; the journal record of the save stays.
func (m *Manager) UnsaveHandledHKey(id uuid.UUID, tableID uint64, k common.HKey) {
	s, err := m.Session(id)
	if err != nil {
		return
	}
	s.removeHandled(tableID, k)
}

func (m *Manager) HasHandledHKey(id uuid.UUID, tableID uint64, k common.HKey) bool {
	s, err := m.Session(id)
	if err != nil {
		return false
	}
	return s.hasHandled(tableID, k)
}

func (m *Manager) HandledHKeys(id uuid.UUID, tableID uint64) (*HKeyIterator, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return s.handledIterator(tableID), nil
}

func (m *Manager) CommitOnline(id uuid.UUID) error {
	m.Lock()
	defer m.Unlock()
	s := m.sessions[id]
	if s == nil {
		return fmt.Errorf("%w: online session %s", ErrNotFound, id)
	}
	if err := m.journal.LogCommit(id); err != nil {
		return err
	}
	m.current = s.newCatalog
	m.dropSessionLocked(s)
	logrus.Infof("online commit %s, catalog v%d", id, m.current.Version)
	return nil
}

func (m *Manager) AbortOnline(id uuid.UUID) error {
	m.Lock()
	defer m.Unlock()
	s := m.sessions[id]
	if s == nil {
		return fmt.Errorf("%w: online session %s", ErrNotFound, id)
	}
	if err := m.journal.LogAbort(id); err != nil {
		return err
	}
	m.dropSessionLocked(s)
	logrus.Infof("online abort %s", id)
	return nil
}

func (m *Manager) dropSessionLocked(s *OnlineSession) {
	delete(m.sessions, s.ID)
	for _, cs := range s.ChangeSets {
		delete(m.byTable, cs.TableID)
	}
}

func (m *Manager) Close() error {
	return m.journal.Close()
}
