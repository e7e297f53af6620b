package bytecode

import (
	"errors"
	"strings"
	"testing"
)

func TestModuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		module  *Module
		wantErr bool
	}{
		{
			name: "valid arithmetic",
			module: &Module{
				Version:   FormatVersion,
				Code:      []Instruction{{Op: OpPushConst, A: 0}, {Op: OpPushConst, A: 1}, {Op: OpAdd}},
				Constants: []Constant{{Kind: ConstInt, Int: 1}, {Kind: ConstInt, Int: 2}},
			},
		},
		{
			name: "jump to end is allowed",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: OpJump, A: 1}},
			},
		},
		{
			name: "jump past end",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: OpJump, A: 5}},
			},
			wantErr: true,
		},
		{
			name: "constant index out of range",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: OpPushConst, A: 3}},
			},
			wantErr: true,
		},
		{
			name: "entry constant out of range",
			module: &Module{
				Version:   FormatVersion,
				Code:      []Instruction{{Op: OpPushConst, A: 0}},
				Constants: []Constant{{Kind: ConstEntry, Entry: 4}},
			},
			wantErr: true,
		},
		{
			name: "unknown constant kind",
			module: &Module{
				Version:   FormatVersion,
				Code:      []Instruction{{Op: OpPushConst, A: 0}},
				Constants: []Constant{{Kind: ConstKind(99)}},
			},
			wantErr: true,
		},
		{
			name: "bad strategy",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: OpSetStrategy, A: NumStrategies}},
			},
			wantErr: true,
		},
		{
			name: "slot out of range",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: OpStoreVar, A: MaxLocals}},
			},
			wantErr: true,
		},
		{
			name: "unknown opcode is admitted",
			module: &Module{
				Version: FormatVersion,
				Code:    []Instruction{{Op: Opcode(0xEE), A: 12345}},
			},
		},
		{
			name:    "empty module",
			module:  &Module{Version: FormatVersion},
			wantErr: true,
		},
		{
			name: "incompatible major version",
			module: &Module{
				Version: "2.0.0",
				Code:    []Instruction{{Op: OpReturn}},
			},
			wantErr: true,
		},
		{
			name: "older minor version",
			module: &Module{
				Version: "1.0.0",
				Code:    []Instruction{{Op: OpReturn}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.module.Validate(nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrLoad) {
				t.Errorf("expected ErrLoad, got %v", err)
			}
		})
	}
}

func TestValidateModuleResolver(t *testing.T) {
	m := &Module{
		Version:   FormatVersion,
		Code:      []Instruction{{Op: OpPushConst, A: 0}, {Op: OpSpawnActor}},
		Constants: []Constant{{Kind: ConstModule, Module: 7}},
	}

	if err := m.Validate(func(id uint32) bool { return id == 7 }); err != nil {
		t.Fatalf("expected module 7 to resolve: %v", err)
	}
	if err := m.Validate(func(id uint32) bool { return false }); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad for unresolved module, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	b := NewBuilder("roundtrip")
	b.PushInt(1).PushFloat(2.5).Op(OpAdd)
	b.PushAtom("ping").PushStr("hello").Op(OpPop).Op(OpPop)
	b.PushEntry("worker").Op(OpSpawnActor).Op(OpReturn)
	b.Label("worker").Op(OpReceiveMessage).Op(OpReturn)
	m := b.MustBuild()

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data[:4]) != "RAFT" {
		t.Fatalf("expected magic prefix, got %q", data[:4])
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Name != m.Name || got.Version != m.Version {
		t.Errorf("header mismatch: got %s/%s", got.Name, got.Version)
	}
	if len(got.Code) != len(m.Code) {
		t.Fatalf("expected %d instructions, got %d", len(m.Code), len(got.Code))
	}
	for i := range m.Code {
		if got.Code[i] != m.Code[i] {
			t.Errorf("instruction %d: expected %v, got %v", i, m.Code[i], got.Code[i])
		}
	}
	if len(got.Constants) != len(m.Constants) {
		t.Fatalf("expected %d constants, got %d", len(m.Constants), len(got.Constants))
	}
	for i := range m.Constants {
		if got.Constants[i] != m.Constants[i] {
			t.Errorf("constant %d: expected %+v, got %+v", i, m.Constants[i], got.Constants[i])
		}
	}

	again, err := Encode(got)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if string(again) != string(data) {
		t.Error("canonical encoding should be deterministic")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NOPE\x00")},
		{"truncated body", []byte("RAFT\xa4\x01")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, ErrLoad) {
				t.Errorf("expected ErrLoad, got %v", err)
			}
		})
	}
}

func TestBuilderLabels(t *testing.T) {
	b := NewBuilder("labels")
	b.PushBool(false).Jump(OpJumpIfFalse, "end")
	b.PushInt(1)
	b.Label("end").Op(OpReturn)
	m := b.MustBuild()

	if m.Code[1].Op != OpJumpIfFalse || m.Code[1].A != 3 {
		t.Errorf("expected JUMP_IF_FALSE 3, got %v", m.Code[1])
	}

	if _, err := NewBuilder("missing").Jump(OpJump, "nowhere").Build(); err == nil {
		t.Error("expected error for undefined label")
	}
	if _, err := NewBuilder("dup").Label("a").Label("a").Op(OpReturn).Build(); err == nil {
		t.Error("expected error for duplicate label")
	}
}

func TestBuilderDeduplicatesConstants(t *testing.T) {
	b := NewBuilder("dedupe")
	b.PushInt(7).PushInt(7).PushAtom("x").PushAtom("x")
	m := b.MustBuild()

	if len(m.Constants) != 2 {
		t.Errorf("expected 2 constants, got %d", len(m.Constants))
	}
}

func TestDisassemble(t *testing.T) {
	m := NewBuilder("listing").PushInt(1).PushInt(2).Op(OpAdd).MustBuild()
	out := m.Disassemble()

	for _, want := range []string{"=== listing ===", "0000  PUSH_CONST 0", "int 2", "0002  ADD"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if OpReceiveMessage.String() != "RECEIVE_MESSAGE" {
		t.Errorf("unexpected mnemonic %s", OpReceiveMessage)
	}
	if Opcode(0xEE).Known() {
		t.Error("0xEE should not be a known opcode")
	}
	if got := Opcode(0xEE).String(); got != "UNKNOWN(0xEE)" {
		t.Errorf("unexpected unknown mnemonic %s", got)
	}
	if OpMakeClosure.Operands() != 2 || OpAdd.Operands() != 0 || OpJump.Operands() != 1 {
		t.Error("unexpected operand counts")
	}
}
