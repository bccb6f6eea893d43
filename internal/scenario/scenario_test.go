package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tokentree/internal/machine"
	"tokentree/internal/scenario"
	"tokentree/internal/trace"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

const wholeUnitReturn = `
[scenario]
name = "whole-unit return"
description = "a fragmented unit cannot go back piecemeal"

[[step]]
op = "split"
ref = "root"

[[step]]
op = "return"
ref = "root"
expect = "partial-return"

[[step]]
op = "merge"
ref = "root"

[[step]]
op = "return"
ref = "root"
`

func TestLoadAndRun(t *testing.T) {
	f, err := scenario.Load(writeScenario(t, wholeUnitReturn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Scenario.Name != "whole-unit return" {
		t.Fatalf("unexpected name %q", f.Scenario.Name)
	}
	if len(f.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(f.Steps))
	}

	res, err := scenario.Run(context.Background(), f, scenario.Options{CheckInvariants: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("scenario should pass: %+v", res.Mismatches())
	}
	if res.Steps[1].Status != scenario.StatusViolation {
		t.Fatalf("step 2 should be an expected violation, got %s", res.Steps[1].Status)
	}
}

func TestRunDetectsMismatch(t *testing.T) {
	const text = `
[scenario]
name = "bad expectation"

[[step]]
op = "split"
ref = "root"
expect = "not-exclusive"
`
	f, err := scenario.Load(writeScenario(t, text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := scenario.Run(context.Background(), f, scenario.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed() {
		t.Fatalf("scenario should fail")
	}
	mm := res.Mismatches()
	if len(mm) != 1 || !strings.Contains(mm[0].Reason, "step succeeded") {
		t.Fatalf("unexpected mismatches: %+v", mm)
	}
}

func TestRunNamedReferences(t *testing.T) {
	const text = `
[scenario]
name = "kind lattice"

[[step]]
op = "create"
ref = "ro"
parent = "root"
kind = "shared-ro"

[[step]]
op = "create"
ref = "esc"
parent = "ro"
kind = "unique"
expect = "kind-violation"

[[step]]
op = "lend"
ref = "ro"

[[step]]
op = "use"
ref = "ro"
access = "read"

[[step]]
op = "use"
ref = "ro"
access = "write"
expect = "read-only"
`
	f, err := scenario.Load(writeScenario(t, text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := scenario.Run(context.Background(), f, scenario.Options{CheckInvariants: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed() {
		t.Fatalf("scenario should pass: %+v", res.Mismatches())
	}
}

func TestRunUndefinedReference(t *testing.T) {
	const text = `
[scenario]
name = "undefined ref"

[[step]]
op = "lend"
ref = "ghost"
`
	f, err := scenario.Load(writeScenario(t, text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := scenario.Run(context.Background(), f, scenario.Options{}); err == nil {
		t.Fatalf("expected an error for an undefined reference")
	}
}

func TestRunObserverAndTracer(t *testing.T) {
	f, err := scenario.Load(writeScenario(t, wholeUnitReturn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ring := trace.NewRingTracer(64, trace.LevelOp)
	var updates []scenario.StepUpdate
	_, err = scenario.Run(context.Background(), f, scenario.Options{
		Tracer: ring,
		Observer: func(u scenario.StepUpdate) {
			updates = append(updates, u)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != len(f.Steps) {
		t.Fatalf("expected %d updates, got %d", len(f.Steps), len(updates))
	}

	events := ring.Snapshot()
	if len(events) == 0 {
		t.Fatalf("expected trace events")
	}
	var sawScenario, sawOp bool
	for _, ev := range events {
		if ev.Scope == trace.ScopeScenario {
			sawScenario = true
		}
		if ev.Scope == trace.ScopeOp {
			sawOp = true
		}
	}
	if !sawScenario || !sawOp {
		t.Fatalf("expected scenario and op scoped events, got %d events", len(events))
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"missing scenario table", "[[step]]\nop = \"split\"\nref = \"root\"\n"},
		{"missing name", "[scenario]\ndescription = \"x\"\n\n[[step]]\nop = \"split\"\nref = \"root\"\n"},
		{"no steps", "[scenario]\nname = \"x\"\n"},
		{"unknown op", "[scenario]\nname = \"x\"\n\n[[step]]\nop = \"teleport\"\nref = \"root\"\n"},
		{"bad kind", "[scenario]\nname = \"x\"\n\n[[step]]\nop = \"create\"\nref = \"a\"\nparent = \"root\"\nkind = \"magic\"\n"},
		{"bad expect", "[scenario]\nname = \"x\"\n\n[[step]]\nop = \"split\"\nref = \"root\"\nexpect = \"nope\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := scenario.Load(writeScenario(t, tc.text)); err == nil {
				t.Fatalf("expected load failure")
			}
		})
	}
}

func TestViolationNames(t *testing.T) {
	code, err := scenario.ParseViolation("partial-return")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != machine.ViolationPartialReturn {
		t.Fatalf("unexpected code %s", code)
	}
	if name := scenario.ViolationName(code); name != "partial-return" {
		t.Fatalf("unexpected name %q", name)
	}

	// Raw TM codes are accepted too.
	code, err = scenario.ParseViolation("TM1007")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != machine.ViolationNotExclusive {
		t.Fatalf("unexpected code %s", code)
	}
}
