package catalog

import (
	"fmt"

	"osc/pkg/common"
)

// Group is one storage tree. Every table in the group interleaves its rows
// into the same key space, children under their parent rows.
type Group struct {
	Name    string
	SpaceID uint64

	root        *Table
	tables      []*Table
	nextOrdinal uint8
}

func (g *Group) Root() *Table {
	return g.root
}

func (g *Group) Tables() []*Table {
	return g.tables
}

func (g *Group) allocOrdinal() uint8 {
	g.nextOrdinal++
	return g.nextOrdinal
}

func (g *Group) PPString(level common.PPLevel, depth int, prefix string) string {
	s := fmt.Sprintf("%s%s%s", common.RepeatStr("\t", depth), prefix, g.String())
	if level > common.PPL0 {
		for _, t := range g.tables {
			s = fmt.Sprintf("%s\n%s", s, t.PPString(level, depth+1, ""))
		}
	}
	return s
}

func (g *Group) String() string {
	return fmt.Sprintf("GROUP[space=%d][name=%s][tables=%d]", g.SpaceID, g.Name, len(g.tables))
}
