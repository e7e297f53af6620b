package bytecode

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// FormatVersion is the module format version produced and accepted by this
// runtime. Modules with a different major version are rejected at load time.
const FormatVersion = "1.2.0"

// ErrLoad is returned for modules that cannot be decoded or fail validation.
var ErrLoad = errors.New("load error")

// ConstKind identifies the type of a constant pool entry.
type ConstKind uint8

const (
	ConstInt    ConstKind = iota // 64-bit signed integer
	ConstFloat                   // 64-bit float
	ConstBool                    // boolean
	ConstAtom                    // interned symbol, name in Text
	ConstStr                     // heap string, bytes in Text
	ConstEntry                   // closure over an offset of this module
	ConstModule                  // reference to a previously loaded module
)

// String returns the name of the constant kind.
func (k ConstKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstBool:
		return "bool"
	case ConstAtom:
		return "atom"
	case ConstStr:
		return "str"
	case ConstEntry:
		return "entry"
	case ConstModule:
		return "module"
	default:
		return "unknown"
	}
}

// Constant is one entry of a module's constant pool.
type Constant struct {
	Kind   ConstKind `cbor:"1,keyasint"`
	Int    int64     `cbor:"2,keyasint,omitempty"`
	Float  float64   `cbor:"3,keyasint,omitempty"`
	Bool   bool      `cbor:"4,keyasint,omitempty"`
	Text   string    `cbor:"5,keyasint,omitempty"`
	Entry  int       `cbor:"6,keyasint,omitempty"`
	Module uint32    `cbor:"7,keyasint,omitempty"`
}

// Instruction is a tagged opcode with up to two integer operands.
type Instruction struct {
	_  struct{} `cbor:",toarray"`
	Op Opcode
	A  int
	B  int
}

// String returns the instruction in assembler form.
func (in Instruction) String() string {
	switch in.Op.Operands() {
	case 2:
		return fmt.Sprintf("%s %d %d", in.Op, in.A, in.B)
	case 1:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	default:
		return in.Op.String()
	}
}

// Module is a compiled instruction stream plus its constant pool.
type Module struct {
	Version   string        `cbor:"1,keyasint"`
	Name      string        `cbor:"2,keyasint,omitempty"`
	Code      []Instruction `cbor:"3,keyasint"`
	Constants []Constant    `cbor:"4,keyasint,omitempty"`
}

// ModuleResolver reports whether a module id is already registered.
// It is consulted for ConstModule entries during validation.
type ModuleResolver func(id uint32) bool

// Validate checks the module for structural errors. Unknown opcodes are
// accepted so that newer compilers within the same major format version can
// target this runtime; executing one fails the actor instead.
func (m *Module) Validate(resolve ModuleResolver) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", ErrLoad)
	}
	if err := checkVersion(m.Version); err != nil {
		return err
	}
	if len(m.Code) == 0 {
		return fmt.Errorf("%w: module %q has no instructions", ErrLoad, m.Name)
	}

	for i, c := range m.Constants {
		if err := m.validateConst(c, resolve); err != nil {
			return fmt.Errorf("%w: constant %d: %v", ErrLoad, i, err)
		}
	}

	for ip, in := range m.Code {
		info, ok := opTable[in.Op]
		if !ok {
			continue
		}
		if err := m.validateOperand(info.a, in.A); err != nil {
			return fmt.Errorf("%w: instruction %d (%s): %v", ErrLoad, ip, in.Op, err)
		}
		if err := m.validateOperand(info.b, in.B); err != nil {
			return fmt.Errorf("%w: instruction %d (%s): %v", ErrLoad, ip, in.Op, err)
		}
	}

	return nil
}

func (m *Module) validateConst(c Constant, resolve ModuleResolver) error {
	switch c.Kind {
	case ConstInt, ConstFloat, ConstBool, ConstAtom, ConstStr:
		return nil
	case ConstEntry:
		if c.Entry < 0 || c.Entry >= len(m.Code) {
			return fmt.Errorf("entry %d out of range", c.Entry)
		}
		return nil
	case ConstModule:
		if resolve != nil && !resolve(c.Module) {
			return fmt.Errorf("module %d is not loaded", c.Module)
		}
		return nil
	default:
		return fmt.Errorf("unknown constant kind %d", c.Kind)
	}
}

func (m *Module) validateOperand(kind operandKind, v int) error {
	switch kind {
	case argNone:
		return nil
	case argConst:
		if v < 0 || v >= len(m.Constants) {
			return fmt.Errorf("constant index %d out of range", v)
		}
	case argTarget:
		// A target equal to len(Code) falls off the end and terminates.
		if v < 0 || v > len(m.Code) {
			return fmt.Errorf("jump target %d out of range", v)
		}
	case argEntry:
		if v < 0 || v >= len(m.Code) {
			return fmt.Errorf("entry %d out of range", v)
		}
	case argCount:
		if v < 0 {
			return fmt.Errorf("negative count %d", v)
		}
	case argSlot:
		if v < 0 || v >= MaxLocals {
			return fmt.Errorf("slot %d out of range", v)
		}
	case argStrategy:
		if v < 0 || v >= NumStrategies {
			return fmt.Errorf("unknown strategy %d", v)
		}
	}
	return nil
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: missing format version", ErrLoad)
	}
	got, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: invalid format version %q: %v", ErrLoad, v, err)
	}
	want := semver.MustParse(FormatVersion)
	if got.Major() != want.Major() {
		return fmt.Errorf("%w: format version %s is incompatible with %s", ErrLoad, got, want)
	}
	return nil
}
