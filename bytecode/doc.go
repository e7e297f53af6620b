// Package bytecode defines the instruction set and module format executed by
// the raft runtime.
//
// This package contains:
//   - the closed opcode enumeration and its operand metadata
//   - Module, Instruction and Constant types
//   - load-time validation
//   - the CBOR wire codec used by the compiler collaborator
//   - a Builder for assembling modules in Go code
package bytecode
