package interp

import (
	"errors"
	"fmt"

	"github.com/najoast/raft/bytecode"
)

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrOutOfBounds    = errors.New("execution out of bounds")
	ErrUndefinedLocal = errors.New("undefined local")
)

// ExecError records the instruction an actor failed on.
type ExecError struct {
	Op  bytecode.Opcode
	IP  int
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s at %d: %v", e.Op, e.IP, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
