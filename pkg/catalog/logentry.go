package catalog

import (
	"github.com/jiangxinmeng1/logstore/pkg/entry"
)

type LogEntry = entry.Entry
type LogEntryType = entry.Type

const (
	ETOnlineBegin LogEntryType = iota + entry.ETCustomizedStart
	ETOnlineHandledHKey
	ETOnlineCommit
	ETOnlineAbort
)

func entryWithType(et LogEntryType) LogEntry {
	e := entry.GetBase()
	e.SetType(et)
	return e
}
