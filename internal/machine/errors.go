package machine

import (
	"errors"
	"fmt"
)

// ViolationCode identifies the aliasing rule an operation broke.
type ViolationCode int

// Stable violation codes - do not change values.
const (
	ViolationInsufficientTokens ViolationCode = 1001 // TM1001: lender/splitter holds no unit
	ViolationDeadTarget         ViolationCode = 1002 // TM1002: lend target already dead
	ViolationKind               ViolationCode = 1003 // TM1003: read-only parent spawning mutable child
	ViolationNoTokenToReturn    ViolationCode = 1004 // TM1004: return without a held unit
	ViolationPartialReturn      ViolationCode = 1005 // TM1005: return while splits outstanding
	ViolationNothingToMerge     ViolationCode = 1006 // TM1006: merge with fewer than two units
	ViolationNotExclusive       ViolationCode = 1007 // TM1007: access-mode change without sole ownership
	ViolationNoToken            ViolationCode = 1008 // TM1008: access without a held unit
	ViolationDeadReference      ViolationCode = 1009 // TM1009: access through a dead reference
	ViolationReadOnly           ViolationCode = 1010 // TM1010: write through a read-only reference
	ViolationReadWhileWritable  ViolationCode = 1011 // TM1011: read while shared units are write-capable
	ViolationWriteWhileReadOnly ViolationCode = 1012 // TM1012: write while the token is read-only
	ViolationWriteWhileShared   ViolationCode = 1013 // TM1013: unique write without exclusivity
	ViolationUnknownReference   ViolationCode = 1099 // TM1099: reference id outside the arena
)

// String returns the code as "TM1001" format.
func (c ViolationCode) String() string {
	return fmt.Sprintf("TM%d", c)
}

// Error is a rejected machine transition. It signals that the traced program
// violated the aliasing discipline; callers are expected to treat it as a
// hard stop for the trace, not retry.
type Error struct {
	Code    ViolationCode
	Op      string
	Ref     Reference
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("violation %s in %s(r%d): %s", e.Code, e.Op, e.Ref, e.Message)
}

// CodeOf extracts the violation code from err, or 0 if err is not a
// machine error.
func CodeOf(err error) ViolationCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return 0
}

// errorBuilder constructs Error values for one operation.
type errorBuilder struct {
	op  string
	ref Reference
}

func (eb errorBuilder) make(code ViolationCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      eb.op,
		Ref:     eb.ref,
		Message: fmt.Sprintf(format, args...),
	}
}

func (eb errorBuilder) unknownReference(ref Reference) *Error {
	return eb.make(ViolationUnknownReference, "reference r%d is not registered", ref)
}
