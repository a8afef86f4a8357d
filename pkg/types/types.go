package types

import "fmt"

type Class int8

const (
	Boolean Class = iota
	Int
	BigInt
	Double
	Varchar
	Timestamp
)

func (c Class) String() string {
	switch c {
	case Boolean:
		return "BOOLEAN"
	case Int:
		return "INT"
	case BigInt:
		return "BIGINT"
	case Double:
		return "DOUBLE"
	case Varchar:
		return "VARCHAR"
	case Timestamp:
		return "TIMESTAMP"
	}
	return fmt.Sprintf("CLASS(%d)", c)
}

// Type is a concrete column type: a class plus width and nullability.
type Type struct {
	Class    Class
	Width    int
	Nullable bool
}

func New(class Class) Type {
	return Type{Class: class, Nullable: true}
}

func NewWidth(class Class, width int) Type {
	return Type{Class: class, Width: width, Nullable: true}
}

func (t Type) NotNull() Type {
	t.Nullable = false
	return t
}

func (t Type) EqualsExcludingNullable(o Type) bool {
	return t.Class == o.Class && t.Width == o.Width
}

func (t Type) String() string {
	s := t.Class.String()
	if t.Width > 0 {
		s = fmt.Sprintf("%s(%d)", s, t.Width)
	}
	if !t.Nullable {
		s += " NOT NULL"
	}
	return s
}
