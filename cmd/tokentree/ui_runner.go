package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"tokentree/internal/scenario"
	"tokentree/internal/ui"
)

type runOutcome struct {
	results []*scenario.Result
	err     error
}

// runScenariosWithUI executes the scenarios while a Bubble Tea program
// renders per-file progress. The scenarios run in a background errgroup and
// feed the model through an event channel.
func runScenariosWithUI(ctx context.Context, paths []string, files []*scenario.File, opts scenario.Options) ([]*scenario.Result, error) {
	events := make(chan ui.Event, 256)
	outcomeCh := make(chan runOutcome, 1)

	go produceScenarioEvents(ctx, paths, files, opts, events, outcomeCh)

	model := ui.NewStepModel("tokentree run", paths, events)
	program := tea.NewProgram(model)
	_, uiErr := program.Run()

	// The program may quit (Ctrl-C) while scenarios are still running.
	// Keep consuming their events so the producers never block on a full
	// channel while we wait for the outcome.
	go func() {
		for range events {
		}
	}()

	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}

// produceScenarioEvents runs every scenario in an errgroup, streaming
// per-step and completion events into events. It closes events and delivers
// exactly one outcome once all scenarios finish.
func produceScenarioEvents(ctx context.Context, paths []string, files []*scenario.File, opts scenario.Options, events chan<- ui.Event, outcomeCh chan<- runOutcome) {
	results := make([]*scenario.Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		path := paths[i]
		g.Go(func() error {
			perFile := opts
			perFile.Observer = func(u scenario.StepUpdate) {
				events <- ui.Event{Scenario: path, Update: u}
			}
			res, err := scenario.Run(gctx, f, perFile)
			if err != nil {
				events <- ui.Event{Scenario: path, Done: true, Err: err}
				return err
			}
			results[i] = res
			events <- ui.Event{Scenario: path, Done: true, Passed: res.Passed()}
			return nil
		})
	}
	err := g.Wait()
	outcomeCh <- runOutcome{results: results, err: err}
	close(events)
}
