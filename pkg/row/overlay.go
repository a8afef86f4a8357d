package row

import (
	"osc/pkg/common"
	"osc/pkg/types"
)

// OverlayRow is a base row re-typed under rt with some fields replaced.
// Updates and carried-over rows flow through it so unchanged fields never
// get copied.
type OverlayRow struct {
	base      Row
	rt        *RowType
	overrides map[int]types.Value
}

func NewOverlayRow(base Row, rt *RowType) *OverlayRow {
	return &OverlayRow{base: base, rt: rt, overrides: make(map[int]types.Value)}
}

func (r *OverlayRow) Override(pos int, v types.Value) *OverlayRow {
	r.overrides[pos] = v
	return r
}

func (r *OverlayRow) RowType() *RowType {
	return r.rt
}

func (r *OverlayRow) FieldValue(pos int) types.Value {
	if v, ok := r.overrides[pos]; ok {
		return v
	}
	return r.base.FieldValue(pos)
}

func (r *OverlayRow) HKey() (common.HKey, error) {
	return r.RowType().Table.HKeyForRow(r.FieldValue)
}
