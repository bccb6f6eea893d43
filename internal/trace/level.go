package trace

import "fmt"

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff Level = iota // no tracing
	// LevelError only emits on violations/crashes.
	LevelError
	// LevelScenario emits driver and scenario boundaries.
	LevelScenario
	// LevelOp emits every machine operation.
	LevelOp
	// LevelDebug emits everything including validator checks.
	LevelDebug
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelScenario:
		return "scenario"
	case LevelOp:
		return "op"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off", "OFF":
		return LevelOff, nil
	case "error", "ERROR":
		return LevelError, nil
	case "scenario", "SCENARIO":
		return LevelScenario, nil
	case "op", "OP":
		return LevelOp, nil
	case "debug", "DEBUG":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|scenario|op|debug)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelOff:
		return false
	case LevelError:
		return false // violation events always emitted via the dump path
	case LevelScenario:
		return scope <= ScopeScenario
	case LevelOp:
		return scope <= ScopeOp
	case LevelDebug:
		return true
	}
	return false
}
