package bytecode

import "fmt"

// Builder assembles a Module instruction by instruction. Jump targets and
// closure entries may refer to labels defined before or after their use.
type Builder struct {
	name      string
	code      []Instruction
	constants []Constant
	constIdx  map[Constant]int
	entryIdx  map[string]int
	labels    map[string]int
	fixups    []fixup
	err       error
}

type fixup struct {
	label   string
	instr   int  // instruction index, or -1 for a constant fixup
	operand byte // 'A' or 'B'
	konst   int
}

// NewBuilder creates a builder for a module with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		constIdx: make(map[Constant]int),
		entryIdx: make(map[string]int),
		labels:   make(map[string]int),
	}
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Op emits an instruction with optional operands.
func (b *Builder) Op(op Opcode, args ...int) *Builder {
	in := Instruction{Op: op}
	if len(args) > 0 {
		in.A = args[0]
	}
	if len(args) > 1 {
		in.B = args[1]
	}
	if len(args) > 2 && b.err == nil {
		b.err = fmt.Errorf("bytecode: %s takes at most two operands", op)
	}
	b.code = append(b.code, in)
	return b
}

// Label marks the next instruction offset with a name.
func (b *Builder) Label(name string) *Builder {
	if _, exists := b.labels[name]; exists && b.err == nil {
		b.err = fmt.Errorf("bytecode: label %q defined twice", name)
	}
	b.labels[name] = len(b.code)
	return b
}

// Jump emits a Jump or JumpIfFalse to a label.
func (b *Builder) Jump(op Opcode, label string) *Builder {
	b.fixups = append(b.fixups, fixup{label: label, instr: len(b.code), operand: 'A'})
	return b.Op(op, 0)
}

// MakeClosure emits a MakeClosure over the labelled entry capturing n values.
func (b *Builder) MakeClosure(label string, n int) *Builder {
	b.fixups = append(b.fixups, fixup{label: label, instr: len(b.code), operand: 'A'})
	return b.Op(OpMakeClosure, 0, n)
}

// Const adds a constant to the pool and returns its index.
func (b *Builder) Const(c Constant) int {
	if idx, ok := b.constIdx[c]; ok {
		return idx
	}
	idx := len(b.constants)
	b.constants = append(b.constants, c)
	b.constIdx[c] = idx
	return idx
}

// Push emits PushConst for a constant.
func (b *Builder) Push(c Constant) *Builder {
	return b.Op(OpPushConst, b.Const(c))
}

// PushInt emits PushConst for an integer.
func (b *Builder) PushInt(n int64) *Builder {
	return b.Push(Constant{Kind: ConstInt, Int: n})
}

// PushFloat emits PushConst for a float.
func (b *Builder) PushFloat(f float64) *Builder {
	return b.Push(Constant{Kind: ConstFloat, Float: f})
}

// PushBool emits PushConst for a boolean.
func (b *Builder) PushBool(v bool) *Builder {
	return b.Push(Constant{Kind: ConstBool, Bool: v})
}

// PushAtom emits PushConst for an atom.
func (b *Builder) PushAtom(name string) *Builder {
	return b.Push(Constant{Kind: ConstAtom, Text: name})
}

// PushStr emits PushConst for a heap string.
func (b *Builder) PushStr(s string) *Builder {
	return b.Push(Constant{Kind: ConstStr, Text: s})
}

// PushModule emits PushConst for a previously loaded module.
func (b *Builder) PushModule(id uint32) *Builder {
	return b.Push(Constant{Kind: ConstModule, Module: id})
}

// PushEntry emits PushConst for a closure starting at a label of this module.
func (b *Builder) PushEntry(label string) *Builder {
	idx, ok := b.entryIdx[label]
	if !ok {
		idx = len(b.constants)
		b.constants = append(b.constants, Constant{Kind: ConstEntry})
		b.entryIdx[label] = idx
		b.fixups = append(b.fixups, fixup{label: label, instr: -1, konst: idx})
	}
	return b.Op(OpPushConst, idx)
}

// Build resolves labels and validates the module. ConstModule references are
// not checked against a registry here.
func (b *Builder) Build() (*Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("bytecode: undefined label %q", f.label)
		}
		switch {
		case f.instr < 0:
			b.constants[f.konst].Entry = target
		case f.operand == 'A':
			b.code[f.instr].A = target
		default:
			b.code[f.instr].B = target
		}
	}

	m := &Module{
		Version:   FormatVersion,
		Name:      b.name,
		Code:      append([]Instruction(nil), b.code...),
		Constants: append([]Constant(nil), b.constants...),
	}
	if err := m.Validate(nil); err != nil {
		return nil, err
	}
	return m, nil
}

// MustBuild is like Build but panics on error. It is intended for tests and
// fixed programs.
func (b *Builder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
