package row

import (
	"fmt"

	"osc/pkg/expr"
)

// Projection rewrites rows of one type into another. One expression per
// target field, each evaluated against the source row.
type Projection struct {
	Source *RowType
	Target *RowType
	Exprs  []expr.Expr
}

func NewProjection(source, target *RowType, exprs []expr.Expr) (*Projection, error) {
	if len(exprs) != target.NFields() {
		return nil, fmt.Errorf("projection arity %d, target has %d fields", len(exprs), target.NFields())
	}
	return &Projection{Source: source, Target: target, Exprs: exprs}, nil
}

func (p *Projection) Apply(ctx *expr.Context, src Row) (*DataRow, error) {
	values := NewDataRow(p.Target)
	for pos, e := range p.Exprs {
		v, err := e.Eval(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("project %s field %d: %w", p.Target.Table.Name, pos, err)
		}
		values.SetValue(pos, v)
	}
	return values, nil
}
