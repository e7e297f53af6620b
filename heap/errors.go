package heap

import "errors"

var (
	// ErrType is returned when an operation receives a value of the wrong kind.
	ErrType = errors.New("type error")
	// ErrArithmetic is returned for division by zero and integer overflow.
	ErrArithmetic = errors.New("arithmetic error")
)
