package catalog

import (
	"bytes"
	"encoding/binary"

	"osc/pkg/common"

	"github.com/google/uuid"
	"github.com/jiangxinmeng1/logstore/pkg/entry"
	"github.com/jiangxinmeng1/logstore/pkg/store"
)

// Journal records online session state: begin with its change sets, each
// handled hKey, and commit or abort. Nothing in this package reads the
// records back.
type Journal interface {
	LogBegin(id uuid.UUID, changeSets []*ChangeSet) error
	LogHandledHKey(id uuid.UUID, tableID uint64, key common.HKey) error
	LogCommit(id uuid.UUID) error
	LogAbort(id uuid.UUID) error
	Close() error
}

type storeJournal struct {
	impl store.Store
}

func NewJournal(dir, name string, cfg *store.StoreCfg) Journal {
	impl, err := store.NewBaseStore(dir, name, cfg)
	if err != nil {
		panic(err)
	}
	return &storeJournal{impl: impl}
}

func (j *storeJournal) append(et LogEntryType, payload []byte) error {
	e := entryWithType(et)
	if err := e.Unmarshal(payload); err != nil {
		return err
	}
	if _, err := j.impl.AppendEntry(entry.GTCustomizedStart, e); err != nil {
		return err
	}
	err := e.WaitDone()
	e.Free()
	return err
}

func (j *storeJournal) LogBegin(id uuid.UUID, changeSets []*ChangeSet) error {
	var buf bytes.Buffer
	buf.Write(id[:])
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(changeSets))); err != nil {
		return err
	}
	for _, cs := range changeSets {
		if _, err := cs.WriteTo(&buf); err != nil {
			return err
		}
	}
	return j.append(ETOnlineBegin, buf.Bytes())
}

func (j *storeJournal) LogHandledHKey(id uuid.UUID, tableID uint64, key common.HKey) error {
	var buf bytes.Buffer
	buf.Write(id[:])
	if err := binary.Write(&buf, binary.BigEndian, tableID); err != nil {
		return err
	}
	if _, err := common.WriteBytes(key, &buf); err != nil {
		return err
	}
	return j.append(ETOnlineHandledHKey, buf.Bytes())
}

func (j *storeJournal) LogCommit(id uuid.UUID) error {
	return j.append(ETOnlineCommit, id[:])
}

func (j *storeJournal) LogAbort(id uuid.UUID) error {
	return j.append(ETOnlineAbort, id[:])
}

func (j *storeJournal) Close() error {
	return j.impl.Close()
}

// NoopJournal drops every record. Used where durability is not under test.
type NoopJournal struct{}

func (NoopJournal) LogBegin(uuid.UUID, []*ChangeSet) error              { return nil }
func (NoopJournal) LogHandledHKey(uuid.UUID, uint64, common.HKey) error { return nil }
func (NoopJournal) LogCommit(uuid.UUID) error                           { return nil }
func (NoopJournal) LogAbort(uuid.UUID) error                            { return nil }
func (NoopJournal) Close() error                                        { return nil }
