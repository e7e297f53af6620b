package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/heap"
)

func TestParseValue(t *testing.T) {
	h := heap.New()

	tests := []struct {
		in   string
		kind heap.Kind
		want string
	}{
		{"42", heap.KindInt, "42"},
		{"-7", heap.KindInt, "-7"},
		{"1.5", heap.KindFloat, "1.5"},
		{"true", heap.KindBool, "true"},
		{":ping", heap.KindAtom, ":ping"},
		{"hello", heap.KindRef, ""},
		{":", heap.KindRef, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v := parseValue(h, tt.in)
			defer h.Release(v)
			if v.Kind() != tt.kind {
				t.Fatalf("parseValue(%q) kind = %s, want %s", tt.in, v.Kind(), tt.kind)
			}
			if tt.want != "" {
				if got := h.Format(v); got != tt.want {
					t.Errorf("parseValue(%q) = %s, want %s", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestCmdDisasm(t *testing.T) {
	file := filepath.Join(t.TempDir(), "add.raft")
	m := bytecode.NewBuilder("add").PushInt(1).PushInt(2).Op(bytecode.OpAdd).MustBuild()
	if err := bytecode.WriteFile(file, m); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var out bytes.Buffer
	if err := cmdDisasm([]string{file}, &out); err != nil {
		t.Fatalf("cmdDisasm() error = %v", err)
	}
	if !strings.Contains(out.String(), "ADD") {
		t.Errorf("listing missing ADD:\n%s", out.String())
	}

	if err := cmdDisasm(nil, &out); err == nil {
		t.Error("cmdDisasm() without a file should fail")
	}
}
