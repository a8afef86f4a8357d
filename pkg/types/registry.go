package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrCastNotFound   = errors.New("osc: cast not found")
	ErrNoSuchFunction = errors.New("osc: no such function")
	ErrBadLiteral     = errors.New("osc: bad literal")
	ErrValueOutOfRange = errors.New("osc: value out of range")
)

const TimestampLayout = "2006-01-02 15:04:05"

// Cast converts v to target. v is never null; null short-circuits before
// cast resolution.
type Cast func(v Value, target Type) (Value, error)

// Scalar is a resolved zero-or-more argument function overload.
type Scalar struct {
	Name       string
	ResultType Type
	Eval       func(now time.Time, args []Value) (Value, error)
}

type castKey struct {
	from, to Class
}

// Registry resolves casts by (class, class) and scalar overloads by name.
type Registry struct {
	mu      sync.RWMutex
	casts   map[castKey]Cast
	scalars map[string]*Scalar
}

func NewRegistry() *Registry {
	r := &Registry{
		casts:   make(map[castKey]Cast),
		scalars: make(map[string]*Scalar),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) RegisterCast(from, to Class, fn Cast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casts[castKey{from, to}] = fn
}

func (r *Registry) ResolveCast(from, to Class) (Cast, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn := r.casts[castKey{from, to}]
	if fn == nil {
		return nil, fmt.Errorf("%w: %s to %s", ErrCastNotFound, from, to)
	}
	return fn, nil
}

func (r *Registry) RegisterScalar(s *Scalar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scalars[strings.ToUpper(s.Name)] = s
}

func (r *Registry) ResolveScalar(name string) (*Scalar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.scalars[strings.ToUpper(name)]
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFunction, name)
	}
	return s, nil
}

// FromString parses a literal through the target type's from-string routine.
func FromString(target Type, s string) (Value, error) {
	switch target.Class {
	case Boolean:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrBadLiteral, s, target.Class)
		}
		return Value{Type: target, V: b}, nil
	case Int:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrBadLiteral, s, target.Class)
		}
		return Value{Type: target, V: v}, nil
	case BigInt:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrBadLiteral, s, target.Class)
		}
		return Value{Type: target, V: v}, nil
	case Double:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrBadLiteral, s, target.Class)
		}
		return Value{Type: target, V: v}, nil
	case Varchar:
		return Value{Type: target, V: s}, nil
	case Timestamp:
		v, err := time.Parse(TimestampLayout, s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrBadLiteral, s, target.Class)
		}
		return Value{Type: target, V: v}, nil
	}
	return Value{}, fmt.Errorf("%w: %q", ErrBadLiteral, s)
}

func (r *Registry) registerDefaults() {
	widen := func(v Value, target Type) (Value, error) {
		return Value{Type: target, V: v.Int64()}, nil
	}
	r.casts[castKey{Int, BigInt}] = widen
	r.casts[castKey{BigInt, Int}] = func(v Value, target Type) (Value, error) {
		n := v.Int64()
		if n > math.MaxInt32 || n < math.MinInt32 {
			return Value{}, fmt.Errorf("%w: %d as INT", ErrValueOutOfRange, n)
		}
		return Value{Type: target, V: n}, nil
	}
	toDouble := func(v Value, target Type) (Value, error) {
		return Value{Type: target, V: float64(v.Int64())}, nil
	}
	r.casts[castKey{Int, Double}] = toDouble
	r.casts[castKey{BigInt, Double}] = toDouble
	toStr := func(v Value, target Type) (Value, error) {
		return Value{Type: target, V: v.String()}, nil
	}
	r.casts[castKey{Int, Varchar}] = toStr
	r.casts[castKey{BigInt, Varchar}] = toStr
	r.casts[castKey{Boolean, Varchar}] = toStr
	r.casts[castKey{Double, Varchar}] = toStr
	r.casts[castKey{Timestamp, Varchar}] = func(v Value, target Type) (Value, error) {
		return Value{Type: target, V: v.Time().Format(TimestampLayout)}, nil
	}
	fromStr := func(v Value, target Type) (Value, error) {
		return FromString(target, v.Str())
	}
	r.casts[castKey{Varchar, Int}] = fromStr
	r.casts[castKey{Varchar, BigInt}] = fromStr
	r.casts[castKey{Varchar, Double}] = fromStr
	r.casts[castKey{Varchar, Timestamp}] = fromStr
	r.casts[castKey{Varchar, Boolean}] = fromStr
	r.casts[castKey{Varchar, Varchar}] = func(v Value, target Type) (Value, error) {
		s := v.Str()
		if target.Width > 0 && len(s) > target.Width {
			return Value{}, fmt.Errorf("%w: %q as %s", ErrValueOutOfRange, s, target)
		}
		return Value{Type: target, V: s}, nil
	}

	r.scalars["CURRENT_TIMESTAMP"] = &Scalar{
		Name:       "CURRENT_TIMESTAMP",
		ResultType: New(Timestamp),
		Eval: func(now time.Time, _ []Value) (Value, error) {
			return Value{Type: New(Timestamp), V: now.Truncate(time.Second)}, nil
		},
	}
	r.scalars["CURRENT_DATE"] = &Scalar{
		Name:       "CURRENT_DATE",
		ResultType: New(Timestamp),
		Eval: func(now time.Time, _ []Value) (Value, error) {
			y, m, d := now.Date()
			return Value{Type: New(Timestamp), V: time.Date(y, m, d, 0, 0, 0, 0, now.Location())}, nil
		},
	}
}
