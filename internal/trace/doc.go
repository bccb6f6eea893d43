// Package trace provides the tracing subsystem for the tokentree model.
//
// The trace package records machine operations, scenario boundaries, and
// validator decisions so that a trace of a modeled execution can be
// inspected after the fact, or streamed live while a scenario runs.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	tokentree run --trace=- --trace-level=op scenario.toml
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: Zero-overhead no-op tracer when disabled
//   - StreamTracer: Immediate write to output (file/stderr)
//   - RingTracer: Circular buffer for post-mortem dumps
//   - MultiTracer: Combines multiple tracers
//
// # Levels
//
// Tracing verbosity is controlled by levels:
//
//   - LevelOff: No tracing
//   - LevelError: Only violation dumps
//   - LevelScenario: Driver and scenario boundaries
//   - LevelOp: Every machine operation
//   - LevelDebug: Everything including validator checks
//
// # Scopes
//
// Events are categorized by scope:
//
//   - ScopeDriver: Top-level CLI operations
//   - ScopeScenario: One scenario run on one machine
//   - ScopeOp: Individual machine operations (create, lend, use, ...)
//   - ScopeCheck: Validator branch decisions
//
// # Context Propagation
//
// Tracers are propagated through the driver via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeScenario, "scenario:basic", 0)
//	defer span.End("")
package trace
