package catalog

import "errors"

var (
	ErrNotFound    = errors.New("osc: not found")
	ErrDuplicate   = errors.New("osc: duplicate")
	ErrValidation  = errors.New("osc: validation")
	ErrTableOnline = errors.New("osc: table already under online change")
)
