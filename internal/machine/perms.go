package machine

import "fmt"

// AccessMode is the stored half of the permission register: whether the token
// currently permits writes at all.
type AccessMode uint8

const (
	// ModeReadWrite permits both reads and writes (subject to the kind rules).
	ModeReadWrite AccessMode = iota
	// ModeReadOnly freezes the location: only reads may go through.
	ModeReadOnly
)

// String returns the string representation of AccessMode.
func (m AccessMode) String() string {
	switch m {
	case ModeReadWrite:
		return "read-write"
	case ModeReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// ParseAccessMode converts a string to an AccessMode.
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "read-write", "rw":
		return ModeReadWrite, nil
	case "read-only", "ro":
		return ModeReadOnly, nil
	default:
		return ModeReadWrite, fmt.Errorf("invalid access mode: %q (expected: read-write|read-only)", s)
	}
}

// Exclusivity is the derived half of the permission register. It is never
// stored: it is recomputed from the live global unit count on every check,
// so it cannot go stale.
type Exclusivity uint8

const (
	// Exclusive means exactly one token unit exists globally.
	Exclusive Exclusivity = iota
	// Shared means two or more units are outstanding.
	Shared
)

// String returns the string representation of Exclusivity.
func (e Exclusivity) String() string {
	switch e {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	default:
		return "unknown"
	}
}

// AccessKind is the kind of memory access being validated.
type AccessKind uint8

const (
	// AccessRead is a read of the modeled location.
	AccessRead AccessKind = iota
	// AccessWrite is a write to the modeled location.
	AccessWrite
)

// String returns the string representation of AccessKind.
func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ParseAccessKind converts a string to an AccessKind.
func ParseAccessKind(s string) (AccessKind, error) {
	switch s {
	case "read", "r":
		return AccessRead, nil
	case "write", "w":
		return AccessWrite, nil
	default:
		return AccessRead, fmt.Errorf("invalid access kind: %q (expected: read|write)", s)
	}
}
