package catalog

import (
	"errors"
	"fmt"
	"sync"
)

var ErrSequenceExhausted = errors.New("osc: sequence exhausted")

// Sequence hands out identity values. NextValue is shared across catalog
// versions so concurrent writers and a background build never collide.
type Sequence struct {
	Name      string
	Start     int64
	Increment int64
	Min       int64
	Max       int64
	Cycle     bool

	mu   sync.Mutex
	next int64
}

func newSequence(name string, start, increment, min, max int64, cycle bool) *Sequence {
	return &Sequence{
		Name:      name,
		Start:     start,
		Increment: increment,
		Min:       min,
		Max:       max,
		Cycle:     cycle,
		next:      start,
	}
}

func (s *Sequence) NextValue() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	if v > s.Max || v < s.Min {
		if !s.Cycle {
			return 0, fmt.Errorf("%w: %s", ErrSequenceExhausted, s.Name)
		}
		if s.Increment > 0 {
			v = s.Min
		} else {
			v = s.Max
		}
	}
	s.next = v + s.Increment
	return v, nil
}

func (s *Sequence) String() string {
	return fmt.Sprintf("SEQUENCE[name=%s][start=%d,inc=%d]", s.Name, s.Start, s.Increment)
}
