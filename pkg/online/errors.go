package online

import "errors"

var (
	ErrMixedChangeLevels = errors.New("osc: change sets disagree on change level")
	ErrConcurrentDML     = errors.New("osc: concurrent write to table under online change")
	ErrDroppedNewColumn  = errors.New("osc: new definition references dropped column")
	ErrRetriesExhausted  = errors.New("osc: commit retries exhausted")
)
