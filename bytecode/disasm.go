package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the module.
func (m *Module) Disassemble() string {
	var sb strings.Builder

	if m.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", m.Name))
	}
	sb.WriteString(fmt.Sprintf("; Raft bytecode v%s\n", m.Version))

	if len(m.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range m.Constants {
			sb.WriteString(fmt.Sprintf(";   [%d] %s\n", i, formatConst(c)))
		}
	}
	sb.WriteString("\n")

	for ip, in := range m.Code {
		sb.WriteString(fmt.Sprintf("%04d  %s", ip, in))
		if in.Op == OpPushConst && in.A >= 0 && in.A < len(m.Constants) {
			sb.WriteString("  ; " + formatConst(m.Constants[in.A]))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatConst(c Constant) string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("int %d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("float %g", c.Float)
	case ConstBool:
		return fmt.Sprintf("bool %t", c.Bool)
	case ConstAtom:
		return "atom :" + c.Text
	case ConstStr:
		display := c.Text
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return fmt.Sprintf("str %q", display)
	case ConstEntry:
		return fmt.Sprintf("entry @%04d", c.Entry)
	case ConstModule:
		return fmt.Sprintf("module #%d", c.Module)
	default:
		return fmt.Sprintf("unknown(%d)", c.Kind)
	}
}
