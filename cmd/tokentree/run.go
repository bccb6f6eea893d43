package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tokentree/internal/observ"
	"tokentree/internal/scenario"
	"tokentree/internal/trace"
)

var (
	runUIFlag      string
	runNoCheck     bool
	runSnapshotDir string
)

func init() {
	runCmd.Flags().StringVar(&runUIFlag, "ui", "off", "interactive progress view (auto|on|off)")
	runCmd.Flags().BoolVar(&runNoCheck, "no-check", false, "skip structural invariant checks between steps")
	runCmd.Flags().StringVar(&runSnapshotDir, "snapshot-dir", "", "write final machine snapshots into this directory")
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.toml> [scenario.toml...]",
	Short: "Execute scenario files against fresh token machines",
	Long: `Each scenario file describes one operation trace. Every file runs on its
own machine instance; files run in parallel. A scenario fails when a step's
outcome diverges from its expectation.`,
	Args: cobra.MinimumNArgs(1),
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
		timings, err := cmd.Root().PersistentFlags().GetBool("timings")
		if err != nil {
			return fmt.Errorf("failed to get timings flag: %w", err)
		}
		mode, err := readUIMode(runUIFlag)
		if err != nil {
			return err
		}

		timer := observ.NewTimer()
		tracer := trace.FromContext(cmd.Context())
		driverSpan := trace.Begin(tracer, trace.ScopeDriver, "run", 0)
		defer driverSpan.End("")

		loadPhase := timer.Begin("load")
		files := make([]*scenario.File, len(args))
		for i, path := range args {
			f, err := scenario.Load(path)
			if err != nil {
				return err
			}
			files[i] = f
		}
		timer.End(loadPhase, fmt.Sprintf("%d scenarios", len(files)))

		opts := scenario.Options{
			Tracer:          tracer,
			CheckInvariants: !runNoCheck,
		}

		runPhase := timer.Begin("run")
		var results []*scenario.Result
		if shouldUseTUI(mode) {
			results, err = runScenariosWithUI(cmd.Context(), args, files, opts)
		} else {
			results, err = runScenarios(cmd.Context(), files, opts)
		}
		timer.End(runPhase, "")
		if err != nil {
			return err
		}

		if runSnapshotDir != "" {
			snapPhase := timer.Begin("snapshot")
			if err := writeSnapshots(args, results); err != nil {
				return err
			}
			timer.End(snapPhase, "")
		}

		failed := reportResults(cmd, args, results, quiet)

		if timings {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
		}
		return nil
	},
}

// runScenarios executes every scenario on its own machine, in parallel.
// Each traced execution is an independent linear call sequence, so the only
// shared state between goroutines is the tracer, which is goroutine-safe.
func runScenarios(ctx context.Context, files []*scenario.File, opts scenario.Options) ([]*scenario.Result, error) {
	results := make([]*scenario.Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			res, err := scenario.Run(gctx, f, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeSnapshots(paths []string, results []*scenario.Result) error {
	if err := os.MkdirAll(runSnapshotDir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	for i, res := range results {
		data, err := res.Machine.EncodeSnapshot()
		if err != nil {
			return err
		}
		base := filepath.Base(paths[i])
		name := base[:len(base)-len(filepath.Ext(base))] + ".tmsnap"
		target := filepath.Join(runSnapshotDir, name)
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
	}
	return nil
}

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
)

func reportResults(cmd *cobra.Command, paths []string, results []*scenario.Result, quiet bool) int {
	out := cmd.OutOrStdout()
	failed := 0
	for i, res := range results {
		if res.Passed() {
			if !quiet {
				fmt.Fprintf(out, "%s %s (%s, %d steps)\n",
					passColor.Sprint("PASS"), paths[i], res.Name, len(res.Steps))
			}
			continue
		}
		failed++
		fmt.Fprintf(out, "%s %s (%s)\n", failColor.Sprint("FAIL"), paths[i], res.Name)
		for _, sr := range res.Mismatches() {
			fmt.Fprintf(out, "  step %d (%s %s): %s\n", sr.Index+1, sr.Step.Op, sr.Step.Ref, sr.Reason)
		}
		fmt.Fprint(out, res.Machine.Dump())
	}
	return failed
}
