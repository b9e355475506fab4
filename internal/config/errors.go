package config

import (
	"errors"
	"fmt"
)

var errOutOfRange = errors.New("out of range")

// ValidationError records one rejected config value. The loader logs it
// and substitutes the documented default; it is never fatal for soft
// fields.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
