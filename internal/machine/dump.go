package machine

import (
	"fmt"
	"strings"
)

// Dump renders the full machine state as human-readable text: the permission
// register, the global unit count, and one line per reference. The demo
// driver prints this after every step; scenario failures embed it.
func (m *Machine) Dump() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "token: units=%d %s %s\n",
		m.unitCount, m.Exclusivity(), m.mode)

	for i, info := range m.refs {
		ref := Reference(i) //nolint:gosec // arena growth is safecast-checked
		fmt.Fprintf(&sb, "  r%-3d %-9s %-9s parent=r%d units=%d",
			ref, info.Kind, info.State, info.Parent, info.Units)
		if info.Splits > 0 {
			fmt.Fprintf(&sb, " splits=%d", info.Splits)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
