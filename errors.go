package strata

import (
	"errors"
	"fmt"
)

// ErrSchema is the class of schema evolution failures.
var ErrSchema = errors.New("strata: schema evolution failed")

// SchemaError reports a failed structural change on a main table.
// Failing to widen the main table is fatal for the write; the same
// failure on a history table is only logged.
type SchemaError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("strata: adding column %q to %q: %v", e.Column, e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(err error) bool { return err == ErrSchema }

// IsSchemaError reports whether err is a schema evolution failure.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e) || errors.Is(err, ErrSchema)
}
