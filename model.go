package symex

import (
	"fmt"
)

// Symbol is a variable, parameter or field whose value is tracked in the
// environment of a program state. Symbols are compared by identity.
type Symbol interface {
	Name() string
}

// Type is a class or exception type.
type Type interface {
	Name() string
}

// TypeModel answers subtyping questions for exception routing.
type TypeModel interface {
	// IsSubtypeOf returns true if t is super or a subtype of super.
	IsSubtypeOf(t, super Type) bool

	// Lookup returns the type with the given fully qualified name or nil.
	Lookup(name string) Type
}

// Nullness is a declared nullness annotation.
type Nullness int

// Nullness annotations.
const (
	NullnessUnknown = Nullness(iota)
	Nullable
	NonNull
)

func (n Nullness) String() string {
	switch n {
	case Nullable:
		return "nullable"
	case NonNull:
		return "nonnull"
	}
	return "unknown"
}

// ParseNullness parses an annotation name as written in configuration files.
func ParseNullness(s string) (Nullness, error) {
	switch s {
	case "", "unknown":
		return NullnessUnknown, nil
	case "nullable":
		return Nullable, nil
	case "nonnull":
		return NonNull, nil
	}
	return NullnessUnknown, fmt.Errorf("invalid nullness: %q", s)
}

// Param is a declared method parameter.
type Param struct {
	Symbol   Symbol
	Nullness Nullness
}

// Method is a method declaration as seen by the engine.
type Method interface {
	// Signature uniquely identifies the method and keys the behavior cache.
	Signature() string

	// Name returns the short name used in messages.
	Name() string

	Params() []Param

	// Thrown returns the declared exception types.
	Thrown() []Type

	// ReturnNullness returns the nullness annotation of the return value.
	ReturnNullness() Nullness

	// Body returns the control flow graph or nil if the body is unavailable.
	Body() *Graph

	// Native returns true if the method cannot be modeled, such as native
	// or reflective methods.
	Native() bool
}

// Location is a position in a source file.
type Location struct {
	File   string `yaml:"file,omitempty"`
	Line   int    `yaml:"line,omitempty"`
	Column int    `yaml:"column,omitempty"`
}

// IsZero returns true if the location is unset.
func (l Location) IsZero() bool {
	return l == Location{}
}

// Less orders locations by file, line and column.
func (l Location) Less(other Location) bool {
	if l.File != other.File {
		return l.File < other.File
	} else if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Column < other.Column
}

func (l Location) String() string {
	switch {
	case l.File == "" && l.Line == 0:
		return "-"
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}
