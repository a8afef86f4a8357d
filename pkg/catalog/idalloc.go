package catalog

import "sync/atomic"

type IDAlloctor struct {
	tableID uint64
	indexID uint64
	spaceID uint64
}

func NewIDAllocator() *IDAlloctor {
	return new(IDAlloctor)
}

func (a *IDAlloctor) NextTable() uint64 {
	return atomic.AddUint64(&a.tableID, 1)
}

func (a *IDAlloctor) NextIndex() uint64 {
	return atomic.AddUint64(&a.indexID, 1)
}

func (a *IDAlloctor) NextSpace() uint64 {
	return atomic.AddUint64(&a.spaceID, 1)
}

func (a *IDAlloctor) SetTableStart(v uint64) {
	atomic.StoreUint64(&a.tableID, v)
}
