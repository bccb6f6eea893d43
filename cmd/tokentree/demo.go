package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tokentree/internal/machine"
	"tokentree/internal/trace"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Narrate a built-in example trace through the token machine",
	Long: `Runs the canonical demonstration trace: two unique children borrowing and
returning the token in turn, then a switch to read-only mode and three
divergent shared read-only views reading concurrently. The machine state is
printed after each step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cleanup, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
		if err != nil {
			return fmt.Errorf("failed to get quiet flag: %w", err)
		}

		return runDemo(cmd, trace.FromContext(cmd.Context()), quiet)
	},
}

var demoStepColor = color.New(color.FgCyan, color.Bold)

func runDemo(cmd *cobra.Command, tracer trace.Tracer, quiet bool) error {
	out := cmd.OutOrStdout()

	root, m := machine.Init()
	m.SetTracer(tracer)

	narrate := func(format string, args ...any) {
		fmt.Fprintln(out, demoStepColor.Sprintf(format, args...))
		if !quiet {
			fmt.Fprint(out, m.Dump())
		}
	}

	narrate("init: root holds the whole token, read-write")

	r2, err := m.CreateRef(root, machine.KindUnique)
	if err != nil {
		return err
	}
	r3, err := m.CreateRef(root, machine.KindUnique)
	if err != nil {
		return err
	}
	narrate("create r%d, r%d: two unique children of the root", r2, r3)

	// First child borrows, writes, and gives the token back.
	if err := m.Lend(r2); err != nil {
		return err
	}
	narrate("lend r%d: the unit moves root -> r%d", r2, r2)
	if err := m.UseToken(r2, machine.AccessWrite); err != nil {
		return err
	}
	narrate("use r%d write: sole holder of a write-capable unit", r2)
	if err := m.Return(r2); err != nil {
		return err
	}
	narrate("return r%d: the unit moves back and r%d dies", r2, r2)

	// Second child repeats the cycle; the first can never borrow again.
	if err := m.Lend(r3); err != nil {
		return err
	}
	if err := m.UseToken(r3, machine.AccessWrite); err != nil {
		return err
	}
	if err := m.Return(r3); err != nil {
		return err
	}
	narrate("lend/use/return r%d: same cycle through the second child", r3)

	// Freeze the location. Root is the sole holder, so the gate passes.
	if err := m.SetAccessMode(root, machine.ModeReadOnly); err != nil {
		return err
	}
	narrate("set-mode read-only: root is exclusive, the change is allowed")

	// Three divergent shared views drawn from the root's own holding.
	for i := 0; i < 3; i++ {
		if err := m.Split(root); err != nil {
			return err
		}
	}
	narrate("split root x3: four units outstanding, exclusivity is gone")

	r4, err := m.CreateRef(root, machine.KindSharedReadOnly)
	if err != nil {
		return err
	}
	r5, err := m.CreateRef(root, machine.KindSharedReadOnly)
	if err != nil {
		return err
	}
	if err := m.Lend(r4); err != nil {
		return err
	}
	if err := m.Lend(r5); err != nil {
		return err
	}
	narrate("create+lend r%d, r%d: shared read-only views", r4, r5)

	// All three aliases may read: every outstanding unit is read-only.
	for _, ref := range []machine.Reference{root, r4, r5} {
		if err := m.UseToken(ref, machine.AccessRead); err != nil {
			return err
		}
	}
	narrate("use root/r%d/r%d read: concurrent reads are sound", r4, r5)

	return nil
}
