package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"osc/pkg/common"
)

type ChangeKind int8

const (
	ChangeAdd ChangeKind = iota
	ChangeDrop
	ChangeModify
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "ADD"
	case ChangeDrop:
		return "DROP"
	case ChangeModify:
		return "MODIFY"
	}
	return fmt.Sprintf("KIND(%d)", k)
}

// ChangeLevel ranks how much stored data a change set invalidates. Levels
// are ordered; a higher level subsumes the work of every lower one.
type ChangeLevel int8

const (
	Metadata ChangeLevel = iota
	MetadataNotNull
	IndexLevel
	TableLevel
	GroupLevel
)

func (l ChangeLevel) String() string {
	switch l {
	case Metadata:
		return "METADATA"
	case MetadataNotNull:
		return "METADATA_NOT_NULL"
	case IndexLevel:
		return "INDEX"
	case TableLevel:
		return "TABLE"
	case GroupLevel:
		return "GROUP"
	}
	return fmt.Sprintf("LEVEL(%d)", l)
}

// Change records one column's fate across the alter. Add has no OldName,
// Drop no NewName.
type Change struct {
	Kind    ChangeKind
	OldName string
	NewName string
}

func (ch Change) String() string {
	switch ch.Kind {
	case ChangeAdd:
		return fmt.Sprintf("+%s", ch.NewName)
	case ChangeDrop:
		return fmt.Sprintf("-%s", ch.OldName)
	}
	return fmt.Sprintf("%s->%s", ch.OldName, ch.NewName)
}

type IndexChange struct {
	Kind    ChangeKind
	OldName string
	NewName string
}

// ChangeSet is the unit the online machinery works from: one affected table,
// the level of rework it needs, and the per-column and per-index deltas.
type ChangeSet struct {
	TableID       uint64
	TableName     string
	Level         ChangeLevel
	ColumnChanges []Change
	IndexChanges  []IndexChange
}

func (cs *ChangeSet) FindColumnChange(oldName string) (Change, bool) {
	for _, ch := range cs.ColumnChanges {
		if ch.Kind != ChangeAdd && ch.OldName == oldName {
			return ch, true
		}
	}
	return Change{}, false
}

func (cs *ChangeSet) FindNewColumnChange(newName string) (Change, bool) {
	for _, ch := range cs.ColumnChanges {
		if ch.Kind != ChangeDrop && ch.NewName == newName {
			return ch, true
		}
	}
	return Change{}, false
}

func (cs *ChangeSet) WriteTo(w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, cs.TableID); err != nil {
		return
	}
	n += 8
	var sn int64
	if sn, err = common.WriteString(cs.TableName, w); err != nil {
		return
	}
	n += sn
	if err = binary.Write(w, binary.BigEndian, int8(cs.Level)); err != nil {
		return
	}
	n++
	if err = binary.Write(w, binary.BigEndian, uint16(len(cs.ColumnChanges))); err != nil {
		return
	}
	n += 2
	for _, ch := range cs.ColumnChanges {
		if sn, err = writeChange(int8(ch.Kind), ch.OldName, ch.NewName, w); err != nil {
			return
		}
		n += sn
	}
	if err = binary.Write(w, binary.BigEndian, uint16(len(cs.IndexChanges))); err != nil {
		return
	}
	n += 2
	for _, ch := range cs.IndexChanges {
		if sn, err = writeChange(int8(ch.Kind), ch.OldName, ch.NewName, w); err != nil {
			return
		}
		n += sn
	}
	return
}

func (cs *ChangeSet) ReadFrom(r io.Reader) (n int64, err error) {
	if err = binary.Read(r, binary.BigEndian, &cs.TableID); err != nil {
		return
	}
	n += 8
	var sn int64
	if cs.TableName, sn, err = common.ReadString(r); err != nil {
		return
	}
	n += sn
	var level int8
	if err = binary.Read(r, binary.BigEndian, &level); err != nil {
		return
	}
	n++
	cs.Level = ChangeLevel(level)
	var cnt uint16
	if err = binary.Read(r, binary.BigEndian, &cnt); err != nil {
		return
	}
	n += 2
	cs.ColumnChanges = make([]Change, cnt)
	for i := range cs.ColumnChanges {
		var kind int8
		var oldName, newName string
		if kind, oldName, newName, sn, err = readChange(r); err != nil {
			return
		}
		n += sn
		cs.ColumnChanges[i] = Change{Kind: ChangeKind(kind), OldName: oldName, NewName: newName}
	}
	if err = binary.Read(r, binary.BigEndian, &cnt); err != nil {
		return
	}
	n += 2
	cs.IndexChanges = make([]IndexChange, cnt)
	for i := range cs.IndexChanges {
		var kind int8
		var oldName, newName string
		if kind, oldName, newName, sn, err = readChange(r); err != nil {
			return
		}
		n += sn
		cs.IndexChanges[i] = IndexChange{Kind: ChangeKind(kind), OldName: oldName, NewName: newName}
	}
	return
}

func writeChange(kind int8, oldName, newName string, w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, kind); err != nil {
		return
	}
	n++
	var sn int64
	if sn, err = common.WriteString(oldName, w); err != nil {
		return
	}
	n += sn
	if sn, err = common.WriteString(newName, w); err != nil {
		return
	}
	return n + sn, nil
}

func readChange(r io.Reader) (kind int8, oldName, newName string, n int64, err error) {
	if err = binary.Read(r, binary.BigEndian, &kind); err != nil {
		return
	}
	n++
	var sn int64
	if oldName, sn, err = common.ReadString(r); err != nil {
		return
	}
	n += sn
	if newName, sn, err = common.ReadString(r); err != nil {
		return
	}
	n += sn
	return
}

func (cs *ChangeSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := cs.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (cs *ChangeSet) Unmarshal(buf []byte) error {
	_, err := cs.ReadFrom(bytes.NewReader(buf))
	return err
}

func (cs *ChangeSet) String() string {
	return fmt.Sprintf("CHANGESET[table=%d/%s][level=%s][cols=%d][idxes=%d]",
		cs.TableID, cs.TableName, cs.Level, len(cs.ColumnChanges), len(cs.IndexChanges))
}
