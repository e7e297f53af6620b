package bytecode

import "fmt"

// Opcode identifies a bytecode instruction.
// Opcodes are grouped into ranges by category.
type Opcode uint8

const (
	// ========================================================================
	// Stack manipulation (0x01-0x0F)
	// ========================================================================

	OpPushConst Opcode = 0x01 // Push constant: PushConst <index>
	OpPop       Opcode = 0x02 // Pop and release top of stack
	OpDup       Opcode = 0x03 // Duplicate top of stack
	OpSwap      Opcode = 0x04 // Swap top two stack elements
	OpPeek      Opcode = 0x05 // Push copy of value n below top: Peek <n>

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd Opcode = 0x10 // Pop two, push sum
	OpSub Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x12 // Pop two, push product
	OpDiv Opcode = 0x13 // Pop two, push quotient
	OpMod Opcode = 0x14 // Pop two, push remainder
	OpNeg Opcode = 0x15 // Negate top of stack
	OpExp Opcode = 0x16 // Pop two, push a raised to b

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpEq  Opcode = 0x20 // Pop two, push true if equal
	OpLt  Opcode = 0x21 // Pop two, push true if a < b
	OpGt  Opcode = 0x22 // Pop two, push true if a > b
	OpNot Opcode = 0x23 // Pop Bool, push its negation

	// ========================================================================
	// Local variables (0x30-0x3F)
	// ========================================================================

	OpStoreVar Opcode = 0x30 // Pop into frame slot: StoreVar <slot>
	OpLoadVar  Opcode = 0x31 // Push frame slot: LoadVar <slot>

	// ========================================================================
	// Heap construction (0x40-0x4F)
	// ========================================================================

	OpMakeArray   Opcode = 0x40 // Pop n values into a new array: MakeArray <n>
	OpIndex       Opcode = 0x41 // Pop index and array, push element
	OpLen         Opcode = 0x42 // Pop array or string, push its length
	OpMakeClosure Opcode = 0x43 // Capture n values: MakeClosure <entry> <n>
	OpSetIndex    Opcode = 0x44 // Pop value, index and array, store, push array

	// ========================================================================
	// Control flow (0x50-0x5F)
	// ========================================================================

	OpJump        Opcode = 0x50 // Jump to absolute offset: Jump <target>
	OpJumpIfFalse Opcode = 0x51 // Pop Bool, jump when false: JumpIfFalse <target>
	OpCall        Opcode = 0x52 // Pop callee and n arguments: Call <n>
	OpReturn      Opcode = 0x53 // Pop frame, or terminate from the outermost frame

	// ========================================================================
	// Actors (0x60-0x6F)
	// ========================================================================

	OpSpawnActor     Opcode = 0x60 // Pop module ref, push Pid of new actor
	OpSpawnChild     Opcode = 0x61 // Pop supervisor Pid and module ref, push Pid
	OpSendMessage    Opcode = 0x62 // Pop Pid and value, enqueue value
	OpReceiveMessage Opcode = 0x63 // Push head of mailbox or suspend
	OpSelf           Opcode = 0x64 // Push own Pid

	// ========================================================================
	// Supervision (0x70-0x7F)
	// ========================================================================

	OpSpawnSupervisor Opcode = 0x70 // Push Pid of a new supervisor
	OpSetStrategy     Opcode = 0x71 // Pop window, max, supervisor: SetStrategy <strategy>
	OpRestartChild    Opcode = 0x72 // Pop child and supervisor Pids, restart child
)

// NumStrategies is the number of supervisor strategies SetStrategy accepts.
// Operand values are 0 (one-for-one), 1 (one-for-all), 2 (rest-for-one).
const NumStrategies = 3

// operandKind describes how an instruction operand is validated.
type operandKind uint8

const (
	argNone operandKind = iota
	argConst
	argTarget
	argEntry
	argCount
	argSlot
	argStrategy
)

type opInfo struct {
	name string
	a    operandKind
	b    operandKind
}

var opTable = map[Opcode]opInfo{
	OpPushConst: {"PUSH_CONST", argConst, argNone},
	OpPop:       {"POP", argNone, argNone},
	OpDup:       {"DUP", argNone, argNone},
	OpSwap:      {"SWAP", argNone, argNone},
	OpPeek:      {"PEEK", argCount, argNone},

	OpAdd: {"ADD", argNone, argNone},
	OpSub: {"SUB", argNone, argNone},
	OpMul: {"MUL", argNone, argNone},
	OpDiv: {"DIV", argNone, argNone},
	OpMod: {"MOD", argNone, argNone},
	OpNeg: {"NEG", argNone, argNone},
	OpExp: {"EXP", argNone, argNone},

	OpEq:  {"EQ", argNone, argNone},
	OpLt:  {"LT", argNone, argNone},
	OpGt:  {"GT", argNone, argNone},
	OpNot: {"NOT", argNone, argNone},

	OpStoreVar: {"STORE_VAR", argSlot, argNone},
	OpLoadVar:  {"LOAD_VAR", argSlot, argNone},

	OpMakeArray:   {"MAKE_ARRAY", argCount, argNone},
	OpIndex:       {"INDEX", argNone, argNone},
	OpLen:         {"LEN", argNone, argNone},
	OpMakeClosure: {"MAKE_CLOSURE", argEntry, argCount},
	OpSetIndex:    {"SET_INDEX", argNone, argNone},

	OpJump:        {"JUMP", argTarget, argNone},
	OpJumpIfFalse: {"JUMP_IF_FALSE", argTarget, argNone},
	OpCall:        {"CALL", argCount, argNone},
	OpReturn:      {"RETURN", argNone, argNone},

	OpSpawnActor:     {"SPAWN_ACTOR", argNone, argNone},
	OpSpawnChild:     {"SPAWN_CHILD", argNone, argNone},
	OpSendMessage:    {"SEND_MESSAGE", argNone, argNone},
	OpReceiveMessage: {"RECEIVE_MESSAGE", argNone, argNone},
	OpSelf:           {"SELF", argNone, argNone},

	OpSpawnSupervisor: {"SPAWN_SUPERVISOR", argNone, argNone},
	OpSetStrategy:     {"SET_STRATEGY", argStrategy, argNone},
	OpRestartChild:    {"RESTART_CHILD", argNone, argNone},
}

// MaxLocals bounds the slot operand of StoreVar and LoadVar.
const MaxLocals = 256

// Known reports whether the opcode belongs to this runtime's instruction set.
func (op Opcode) Known() bool {
	_, ok := opTable[op]
	return ok
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(op))
}

// Operands returns how many operands the opcode uses.
func (op Opcode) Operands() int {
	info, ok := opTable[op]
	if !ok {
		return 0
	}
	switch {
	case info.b != argNone:
		return 2
	case info.a != argNone:
		return 1
	default:
		return 0
	}
}
