package expr

import (
	"errors"
	"fmt"
	"time"

	"osc/pkg/catalog"
	"osc/pkg/types"
)

var ErrNullNotAllowed = errors.New("osc: null value in non-nullable column")

// Source supplies field values by position. Rows implement it; expressions
// never see storage directly.
type Source interface {
	FieldValue(pos int) types.Value
}

// Context carries everything evaluation needs. Now is fixed per statement
// so repeated CURRENT_TIMESTAMP calls agree within one row.
type Context struct {
	Now      time.Time
	Registry *types.Registry
}

func NewContext(reg *types.Registry) *Context {
	return &Context{Now: time.Now(), Registry: reg}
}

type Expr interface {
	ResultType() types.Type
	Eval(ctx *Context, src Source) (types.Value, error)
}

type field struct {
	pos int
	t   types.Type
}

func Field(pos int, t types.Type) Expr {
	return &field{pos: pos, t: t}
}

func (e *field) ResultType() types.Type {
	return e.t
}

func (e *field) Eval(_ *Context, src Source) (types.Value, error) {
	return src.FieldValue(e.pos), nil
}

type literal struct {
	v types.Value
}

func Literal(v types.Value) Expr {
	return &literal{v: v}
}

func Null(t types.Type) Expr {
	return &literal{v: types.NullValue(t)}
}

func (e *literal) ResultType() types.Type {
	return e.v.Type
}

func (e *literal) Eval(*Context, Source) (types.Value, error) {
	return e.v, nil
}

type cast struct {
	inner  Expr
	target types.Type
}

// Cast wraps inner with a conversion to target. When inner's type already
// has target's class and width (nullability aside), inner is returned
// unchanged. A null input short-circuits to a null of the target type; the
// cast routine never sees nulls.
func Cast(inner Expr, target types.Type) Expr {
	if inner.ResultType().EqualsExcludingNullable(target) {
		return inner
	}
	return &cast{inner: inner, target: target}
}

func (e *cast) ResultType() types.Type {
	return e.target
}

func (e *cast) Eval(ctx *Context, src Source) (types.Value, error) {
	v, err := e.inner.Eval(ctx, src)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() {
		return types.NullValue(e.target), nil
	}
	fn, err := ctx.Registry.ResolveCast(v.Type.Class, e.target.Class)
	if err != nil {
		return types.Value{}, err
	}
	return fn(v, e.target)
}

type call struct {
	scalar *Scalar
	args   []Expr
}

type Scalar = types.Scalar

// Call resolves name against the registry at build time so a bad function
// name fails before any row is touched.
func Call(reg *types.Registry, name string, args ...Expr) (Expr, error) {
	s, err := reg.ResolveScalar(name)
	if err != nil {
		return nil, err
	}
	return &call{scalar: s, args: args}, nil
}

func (e *call) ResultType() types.Type {
	return e.scalar.ResultType
}

func (e *call) Eval(ctx *Context, src Source) (types.Value, error) {
	vals := make([]types.Value, len(e.args))
	for i, arg := range e.args {
		v, err := arg.Eval(ctx, src)
		if err != nil {
			return types.Value{}, err
		}
		vals[i] = v
	}
	return e.scalar.Eval(ctx.Now, vals)
}

type seqNext struct {
	seq *catalog.Sequence
	t   types.Type
}

// SeqNext draws the next identity value on every evaluation.
func SeqNext(seq *catalog.Sequence, t types.Type) Expr {
	return &seqNext{seq: seq, t: t}
}

func (e *seqNext) ResultType() types.Type {
	return e.t
}

func (e *seqNext) Eval(*Context, Source) (types.Value, error) {
	v, err := e.seq.NextValue()
	if err != nil {
		return types.Value{}, err
	}
	return types.Value{Type: e.t, V: v}, nil
}

type notNull struct {
	inner Expr
	name  string
}

// NotNull rejects nulls flowing into a non-nullable target column.
func NotNull(inner Expr, columnName string) Expr {
	return &notNull{inner: inner, name: columnName}
}

func (e *notNull) ResultType() types.Type {
	return e.inner.ResultType().NotNull()
}

func (e *notNull) Eval(ctx *Context, src Source) (types.Value, error) {
	v, err := e.inner.Eval(ctx, src)
	if err != nil {
		return types.Value{}, err
	}
	if v.IsNull() {
		return types.Value{}, fmt.Errorf("%w: %s", ErrNullNotAllowed, e.name)
	}
	return v, nil
}
