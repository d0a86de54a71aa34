package jsondb

import (
	"errors"
	"fmt"
)

var (
	// ErrTableNotFound is returned when an operation names an unknown table.
	ErrTableNotFound = errors.New("table not found")
	// ErrTableAlreadyExists is returned by CreateTable for a taken name.
	ErrTableAlreadyExists = errors.New("table already exists")

	// ErrMissingColumnName is returned when an attribute has no name.
	ErrMissingColumnName = errors.New("a name must be specified for each attribute")
	// ErrDuplicateColumn is returned when two attributes share a name.
	ErrDuplicateColumn = errors.New("two columns cannot have the same name")
	// ErrInvalidAttributeSpec is returned for a malformed attribute entry.
	ErrInvalidAttributeSpec = errors.New("invalid attribute specification")

	// ErrMissingRequiredField is returned when a non-nullable attribute
	// without default is absent.
	ErrMissingRequiredField = errors.New("value is not specified")
	// ErrNullNotAllowed is returned when null is given to a non-nullable
	// attribute.
	ErrNullNotAllowed = errors.New("value cannot be null")
	// ErrTypeMismatch is returned when a value does not have the declared type.
	ErrTypeMismatch = errors.New("value has the wrong type")
	// ErrInvalidNumericValue is returned for NaN or infinite numbers.
	ErrInvalidNumericValue = errors.New("value is not a valid number")
	// ErrUnknownColumn is returned when an update names an undeclared attribute.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnsupportedValue is returned for values that cannot be stored as JSON.
	ErrUnsupportedValue = errors.New("value cannot be represented in JSON")

	// ErrIO matches every *IOError.
	ErrIO = errors.New("i/o error")
	// ErrConstruction matches every *ConstructionError.
	ErrConstruction = errors.New("cannot open database")
	// ErrEmptyDocument is returned by a Backend when the stored document is
	// empty or whitespace only.
	ErrEmptyDocument = errors.New("document is empty")
)

// TableError reports a failure tied to a table.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %q: %v", e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// SchemaError reports an invalid attribute declaration.
type SchemaError struct {
	Index  int
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("attribute %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("attribute %d (%q): %v", e.Index, e.Column, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ValidationError reports a value rejected by a schema.
//
// Expected and Actual are only set for ErrTypeMismatch.
type ValidationError struct {
	Column   string
	Expected Type
	Actual   string
	Err      error
}

func (e *ValidationError) Error() string {
	if errors.Is(e.Err, ErrTypeMismatch) {
		return fmt.Sprintf("the value of %s is not %s (got %s)", e.Column, e.Expected, e.Actual)
	}
	return fmt.Sprintf("the value of %s: %v", e.Column, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IOError reports a persistence failure. The in-memory state may already
// include the mutation that failed to persist.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrIO) true.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// ConstructionError reports a failure to open a database.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrConstruction, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConstruction) true.
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}
