// Package scenario loads and executes TOML-described operation traces
// against the token machine. A scenario names its references, applies
// machine operations in order, and states for each step whether it must
// succeed or fail with a specific violation; the runner reports any
// divergence between the trace and the model.
package scenario

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"tokentree/internal/machine"
)

// Meta describes a scenario file.
type Meta struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Step is one machine operation in a scenario.
//
// Which fields are meaningful depends on Op:
//
//	create   ref, parent, kind
//	lend     ref
//	return   ref
//	split    ref
//	merge    ref
//	set-mode ref, mode
//	use      ref, access
//
// Expect is empty for a step that must succeed, otherwise the symbolic name
// of the violation the step must fail with (e.g. "partial-return").
type Step struct {
	Op     string `toml:"op"`
	Ref    string `toml:"ref"`
	Parent string `toml:"parent"`
	Kind   string `toml:"kind"`
	Mode   string `toml:"mode"`
	Access string `toml:"access"`
	Expect string `toml:"expect"`
}

// File is a parsed scenario file.
type File struct {
	Scenario Meta   `toml:"scenario"`
	Steps    []Step `toml:"step"`

	// Path the file was loaded from, for messages.
	Path string `toml:"-"`
}

// Load reads and validates a scenario file.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("scenario") {
		return nil, fmt.Errorf("%s: missing [scenario]", path)
	}
	if !meta.IsDefined("scenario", "name") || strings.TrimSpace(f.Scenario.Name) == "" {
		return nil, fmt.Errorf("%s: missing [scenario].name", path)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("%s: no [[step]] entries", path)
	}
	f.Path = path

	for i := range f.Steps {
		if err := validateStep(i, &f.Steps[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return &f, nil
}

func validateStep(index int, s *Step) error {
	if s.Ref == "" {
		return fmt.Errorf("step %d: missing ref", index+1)
	}
	switch s.Op {
	case "create":
		if s.Parent == "" {
			return fmt.Errorf("step %d: create requires parent", index+1)
		}
		if _, err := parseRefKind(s.Kind); err != nil {
			return fmt.Errorf("step %d: %w", index+1, err)
		}
	case "lend", "return", "split", "merge":
		// ref only
	case "set-mode":
		if _, err := machine.ParseAccessMode(s.Mode); err != nil {
			return fmt.Errorf("step %d: %w", index+1, err)
		}
	case "use":
		if _, err := machine.ParseAccessKind(s.Access); err != nil {
			return fmt.Errorf("step %d: %w", index+1, err)
		}
	default:
		return fmt.Errorf("step %d: unknown op %q", index+1, s.Op)
	}
	if s.Expect != "" {
		if _, err := ParseViolation(s.Expect); err != nil {
			return fmt.Errorf("step %d: %w", index+1, err)
		}
	}
	return nil
}

func parseRefKind(s string) (machine.RefKind, error) {
	switch s {
	case "unique":
		return machine.KindUnique, nil
	case "shared-rw", "shared-read-write":
		return machine.KindSharedReadWrite, nil
	case "shared-ro", "shared-read-only":
		return machine.KindSharedReadOnly, nil
	default:
		return machine.KindUnique, fmt.Errorf("invalid reference kind: %q (expected: unique|shared-rw|shared-ro)", s)
	}
}

// violationNames maps symbolic names used in scenario files to codes.
var violationNames = map[string]machine.ViolationCode{
	"insufficient-tokens":   machine.ViolationInsufficientTokens,
	"dead-target":           machine.ViolationDeadTarget,
	"kind-violation":        machine.ViolationKind,
	"no-token-to-return":    machine.ViolationNoTokenToReturn,
	"partial-return":        machine.ViolationPartialReturn,
	"nothing-to-merge":      machine.ViolationNothingToMerge,
	"not-exclusive":         machine.ViolationNotExclusive,
	"no-token":              machine.ViolationNoToken,
	"dead-reference":        machine.ViolationDeadReference,
	"read-only":             machine.ViolationReadOnly,
	"read-while-writable":   machine.ViolationReadWhileWritable,
	"write-while-read-only": machine.ViolationWriteWhileReadOnly,
	"write-while-shared":    machine.ViolationWriteWhileShared,
}

// ParseViolation converts a symbolic violation name (or a raw "TM1005"
// code) to its ViolationCode.
func ParseViolation(s string) (machine.ViolationCode, error) {
	if code, ok := violationNames[s]; ok {
		return code, nil
	}
	for _, code := range violationNames {
		if code.String() == s {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown violation: %q", s)
}

// ViolationName returns the symbolic name for a code, or its "TM" form if
// the code has no name.
func ViolationName(code machine.ViolationCode) string {
	for name, c := range violationNames {
		if c == code {
			return name
		}
	}
	return code.String()
}
