package testkit

import (
	"fmt"

	"tokentree/internal/machine"
)

// CheckMachineInvariants runs the structural invariants of the token machine:
// 1) the global unit count equals the sum of held units across all references
// 2) every parent edge points at an allocated, earlier (or self, for root) reference
// 3) a Created reference holds nothing; only the root may start Borrowing
func CheckMachineInvariants(m *machine.Machine) error {
	if m == nil {
		return fmt.Errorf("nil machine")
	}

	refs := m.Refs()
	if len(refs) == 0 {
		return fmt.Errorf("empty reference arena")
	}
	if refs[0].Parent != machine.RootRef {
		return fmt.Errorf("root parent is r%d, want itself", refs[0].Parent)
	}

	var total uint32
	for _, r := range refs {
		total += r.Units

		if int(r.Parent) >= len(refs) {
			return fmt.Errorf("r%d parent r%d not allocated", r.Ref, r.Parent)
		}
		if r.Ref != machine.RootRef && r.Parent >= r.Ref {
			return fmt.Errorf("r%d derived from later reference r%d", r.Ref, r.Parent)
		}
		if r.State == machine.StateCreated && r.Units != 0 {
			return fmt.Errorf("r%d is created but holds %d units", r.Ref, r.Units)
		}
	}

	if total != m.UnitCount() {
		return fmt.Errorf("held units sum to %d, global count is %d", total, m.UnitCount())
	}
	return nil
}
