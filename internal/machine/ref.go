package machine

// Reference identifies one node of the derivation hierarchy. References are
// dense arena indices: the root is always Reference 0 and is its own parent,
// so lookup code never needs a "no parent" case.
type Reference uint32

// RootRef is the initial reference created by Init.
const RootRef Reference = 0

// RefKind classifies a reference at creation time. The kind never changes.
type RefKind uint8

const (
	// KindUnique models an exclusive read-write reference.
	KindUnique RefKind = iota
	// KindSharedReadWrite models a shared reference that may read and write.
	KindSharedReadWrite
	// KindSharedReadOnly models a shared reference that may only read.
	KindSharedReadOnly
)

// String returns the string representation of RefKind.
func (k RefKind) String() string {
	switch k {
	case KindUnique:
		return "unique"
	case KindSharedReadWrite:
		return "shared-rw"
	case KindSharedReadOnly:
		return "shared-ro"
	default:
		return "unknown"
	}
}

// RefState is the lifecycle state of a reference. Transitions are monotonic:
// Created -> Borrowing -> Dead, with Dead absorbing.
type RefState uint8

const (
	// StateCreated means the reference has never held a token unit.
	StateCreated RefState = iota
	// StateBorrowing means the reference has received at least one unit,
	// though it may have passed all of it along since.
	StateBorrowing
	// StateDead means the reference returned its whole unit to its parent
	// and can never receive a new grant. A dead reference may still relay
	// units returned to it by its children.
	StateDead
)

// String returns the string representation of RefState.
func (s RefState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBorrowing:
		return "borrowing"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// refInfo is one arena record. Parent is fixed at creation; Units is the
// number of token units currently owned; Splits counts outstanding fragments
// the reference carved out of its own holding and has not merged back yet.
type refInfo struct {
	Kind   RefKind
	State  RefState
	Parent Reference
	Units  uint32
	Splits uint32
}

// RefSnapshot is the externally visible view of one reference record, as
// reported by Refs and the state dump.
type RefSnapshot struct {
	Ref    Reference
	Kind   RefKind
	State  RefState
	Parent Reference
	Units  uint32
	Splits uint32
}
