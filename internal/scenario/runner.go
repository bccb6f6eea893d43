package scenario

import (
	"context"
	"fmt"

	"tokentree/internal/machine"
	"tokentree/internal/testkit"
	"tokentree/internal/trace"
)

// StepStatus is the outcome of one executed step.
type StepStatus uint8

const (
	// StatusOK means the step succeeded and was expected to.
	StatusOK StepStatus = iota
	// StatusViolation means the step failed with exactly the expected violation.
	StatusViolation
	// StatusMismatch means the step's outcome diverged from its expectation.
	StatusMismatch
)

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusViolation:
		return "violation"
	case StatusMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// StepResult records the outcome of one step.
type StepResult struct {
	Index  int
	Step   Step
	Status StepStatus
	// Err is the machine error the step produced, if any (including
	// expected violations).
	Err error
	// Reason explains a mismatch in one line.
	Reason string
}

// Result is the outcome of a whole scenario run.
type Result struct {
	Name    string
	Steps   []StepResult
	Machine *machine.Machine
}

// Passed reports whether every step matched its expectation.
func (r *Result) Passed() bool {
	for _, s := range r.Steps {
		if s.Status == StatusMismatch {
			return false
		}
	}
	return true
}

// Mismatches returns the steps that diverged from their expectations.
func (r *Result) Mismatches() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status == StatusMismatch {
			out = append(out, s)
		}
	}
	return out
}

// StepUpdate is a progress notification for observers (e.g. the UI).
type StepUpdate struct {
	Index  int
	Total  int
	Op     string
	Ref    string
	Status StepStatus
}

// Options configures a scenario run.
type Options struct {
	// Tracer receives scenario and op events. Nil means no tracing.
	Tracer trace.Tracer
	// CheckInvariants verifies unit conservation and lifecycle
	// monotonicity after every step, aborting the run on a breach.
	CheckInvariants bool
	// Observer, if set, is called after every executed step.
	Observer func(StepUpdate)
}

// Run executes the scenario on a fresh machine. Each run gets its own
// machine instance; the model assumes one linear call sequence per trace.
//
// The returned error covers scenario-level problems (undefined reference
// names, broken machine invariants, cancellation); expectation mismatches
// are reported through the Result instead.
func Run(ctx context.Context, f *File, opts Options) (*Result, error) {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}

	root, m := machine.Init()
	m.SetTracer(tracer)

	span := trace.Begin(tracer, trace.ScopeScenario, "scenario:"+f.Scenario.Name, 0)

	refs := map[string]machine.Reference{"root": root}
	result := &Result{
		Name:    f.Scenario.Name,
		Steps:   make([]StepResult, 0, len(f.Steps)),
		Machine: m,
	}

	for i, step := range f.Steps {
		if err := ctx.Err(); err != nil {
			span.End("cancelled")
			return result, err
		}

		sr, err := runStep(m, refs, i, step)
		if err != nil {
			span.End("error")
			return result, fmt.Errorf("%s: step %d (%s): %w", f.Scenario.Name, i+1, step.Op, err)
		}
		result.Steps = append(result.Steps, sr)

		if opts.Observer != nil {
			opts.Observer(StepUpdate{
				Index:  i,
				Total:  len(f.Steps),
				Op:     step.Op,
				Ref:    step.Ref,
				Status: sr.Status,
			})
		}

		if opts.CheckInvariants {
			if err := testkit.CheckMachineInvariants(m); err != nil {
				span.End("invariant breach")
				return result, fmt.Errorf("%s: after step %d (%s): %w", f.Scenario.Name, i+1, step.Op, err)
			}
		}
	}

	if result.Passed() {
		span.End("passed")
	} else {
		span.End(fmt.Sprintf("%d mismatches", len(result.Mismatches())))
	}
	return result, nil
}

func runStep(m *machine.Machine, refs map[string]machine.Reference, index int, step Step) (StepResult, error) {
	var opErr error

	switch step.Op {
	case "create":
		parent, ok := refs[step.Parent]
		if !ok {
			return StepResult{}, fmt.Errorf("undefined reference %q", step.Parent)
		}
		kind, err := parseRefKind(step.Kind)
		if err != nil {
			return StepResult{}, err
		}
		var ref machine.Reference
		ref, opErr = m.CreateRef(parent, kind)
		if opErr == nil {
			refs[step.Ref] = ref
		}

	case "lend", "return", "split", "merge", "set-mode", "use":
		ref, ok := refs[step.Ref]
		if !ok {
			return StepResult{}, fmt.Errorf("undefined reference %q", step.Ref)
		}
		switch step.Op {
		case "lend":
			opErr = m.Lend(ref)
		case "return":
			opErr = m.Return(ref)
		case "split":
			opErr = m.Split(ref)
		case "merge":
			opErr = m.Merge(ref)
		case "set-mode":
			mode, err := machine.ParseAccessMode(step.Mode)
			if err != nil {
				return StepResult{}, err
			}
			opErr = m.SetAccessMode(ref, mode)
		case "use":
			access, err := machine.ParseAccessKind(step.Access)
			if err != nil {
				return StepResult{}, err
			}
			opErr = m.UseToken(ref, access)
		}

	default:
		return StepResult{}, fmt.Errorf("unknown op %q", step.Op)
	}

	return judge(index, step, opErr), nil
}

// judge compares a step's outcome against its expectation.
func judge(index int, step Step, opErr error) StepResult {
	sr := StepResult{Index: index, Step: step, Err: opErr}

	if step.Expect == "" {
		if opErr != nil {
			sr.Status = StatusMismatch
			sr.Reason = fmt.Sprintf("expected success, got %v", opErr)
		}
		return sr
	}

	// Expectation was validated at load time.
	want, _ := ParseViolation(step.Expect)
	got := machine.CodeOf(opErr)
	switch {
	case got == 0:
		sr.Status = StatusMismatch
		sr.Reason = fmt.Sprintf("expected %s, step succeeded", step.Expect)
	case got != want:
		sr.Status = StatusMismatch
		sr.Reason = fmt.Sprintf("expected %s, got %s (%v)", step.Expect, ViolationName(got), opErr)
	default:
		sr.Status = StatusViolation
	}
	return sr
}
