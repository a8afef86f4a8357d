package row

import (
	"fmt"

	"osc/pkg/catalog"
	"osc/pkg/expr"
)

// Checker validates a row without rewriting it. Used when a change only
// tightens constraints and the stored format stays as is.
type Checker interface {
	Check(r Row) error
}

type notNullChecker struct {
	positions []int
	names     []string
}

// NewNotNullChecker checks the named columns of t for nulls.
func NewNotNullChecker(t *catalog.Table, columns []string) (Checker, error) {
	c := &notNullChecker{}
	for _, name := range columns {
		col, err := t.GetColumn(name)
		if err != nil {
			return nil, err
		}
		c.positions = append(c.positions, col.Position)
		c.names = append(c.names, col.Name)
	}
	return c, nil
}

func (c *notNullChecker) Check(r Row) error {
	for i, pos := range c.positions {
		if r.FieldValue(pos).IsNull() {
			k, _ := r.HKey()
			return fmt.Errorf("%w: %s.%s at %s", expr.ErrNullNotAllowed, r.RowType().Table.Name, c.names[i], k)
		}
	}
	return nil
}

type checkers []Checker

// CombineCheckers folds many checkers into one. Nil inputs are skipped;
// an all-nil combination yields nil.
func CombineCheckers(cs ...Checker) Checker {
	var out checkers
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (cs checkers) Check(r Row) error {
	for _, c := range cs {
		if err := c.Check(r); err != nil {
			return err
		}
	}
	return nil
}
