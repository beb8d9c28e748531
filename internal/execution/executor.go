// Package execution runs synthesized artifacts and records one result per
// manifest entry. The actual mechanics live behind the Strategy interface:
// dry-run validates artifact sources without touching the target, live mode
// exercises the target over HTTP.
package execution

import (
	"context"
	"fmt"
	"time"

	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// Strategy executes one test case against its artifact.
type Strategy interface {
	Name() string
	Run(ctx context.Context, artifact types.ExecutableArtifact, tc types.TestCase) (types.ExecutionStatus, string)
}

// Executor implements the execution stage. Every manifest entry produces
// exactly one ExecutionResult; cases the executor never reaches are marked
// skipped rather than dropped.
type Executor struct {
	strategy       Strategy
	perTestTimeout time.Duration
	runBudget      time.Duration
}

// New creates an executor around a strategy. perTest bounds each individual
// case, budget bounds the whole batch.
func New(strategy Strategy, perTest, budget time.Duration) *Executor {
	if perTest <= 0 {
		perTest = 30 * time.Second
	}
	if budget <= 0 {
		budget = 10 * time.Minute
	}
	return &Executor{strategy: strategy, perTestTimeout: perTest, runBudget: budget}
}

// Name implements pipeline.Capability.
func (e *Executor) Name() string { return "execute" }

// Invoke runs every manifest entry in order. Exhausting the aggregate budget
// skips the remaining cases and degrades the stage; it never aborts the run.
func (e *Executor) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	synth, ok := rc.Synthesis()
	if !ok || len(synth.Manifest) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: e.Name(), Reason: "nothing to execute"}
	}

	artifacts := make(map[string]types.ExecutableArtifact, len(synth.Artifacts))
	for _, a := range synth.Artifacts {
		artifacts[a.ID] = a
	}
	cases := make(map[string]types.TestCase)
	for _, set := range rc.TestCaseSets() {
		for _, c := range set.Cases {
			cases[c.ID] = c
		}
	}

	deadline := time.Now().Add(e.runBudget)
	timer := logging.StartTimer(logging.CategoryExecution, fmt.Sprintf("execute %d cases (%s)", len(synth.Manifest), e.strategy.Name()))

	var (
		results        []types.ExecutionResult
		budgetExceeded bool
	)
	for _, entry := range synth.Manifest {
		switch {
		case ctx.Err() != nil:
			results = append(results, skipped(entry.TestCaseID, "run cancelled"))
			continue
		case budgetExceeded || time.Now().After(deadline):
			budgetExceeded = true
			results = append(results, skipped(entry.TestCaseID, "execution budget exhausted"))
			continue
		}

		artifact, ok := artifacts[entry.ArtifactID]
		if !ok {
			results = append(results, types.ExecutionResult{
				TestCaseID: entry.TestCaseID,
				Status:     types.ExecError,
				Message:    "manifest references unknown artifact " + entry.ArtifactID,
			})
			continue
		}
		if artifact.Placeholder {
			results = append(results, skipped(entry.TestCaseID, "placeholder artifact"))
			continue
		}

		results = append(results, e.runOne(ctx, artifact, cases[entry.TestCaseID], entry.TestCaseID))
	}
	timer.Stop()

	counts := make(map[types.ExecutionStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	logging.Execution("executed %d cases: %d passed, %d failed, %d errored, %d skipped",
		len(results), counts[types.ExecPassed], counts[types.ExecFailed],
		counts[types.ExecError], counts[types.ExecSkipped])

	if budgetExceeded {
		return results, &pipeline.DegradedStageError{
			Stage:  e.Name(),
			Reason: fmt.Sprintf("execution budget %s exhausted, remaining cases skipped", e.runBudget),
		}
	}
	return results, nil
}

// runOne executes a single case under the per-test timeout. The strategy
// runs in its own goroutine so a hung execution cannot stall the batch
// beyond the timeout.
func (e *Executor) runOne(ctx context.Context, artifact types.ExecutableArtifact, tc types.TestCase, caseID string) types.ExecutionResult {
	tctx, cancel := context.WithTimeout(ctx, e.perTestTimeout)
	defer cancel()

	type outcome struct {
		status  types.ExecutionStatus
		message string
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		status, msg := e.strategy.Run(tctx, artifact, tc)
		ch <- outcome{status, msg}
	}()

	select {
	case out := <-ch:
		return types.ExecutionResult{
			TestCaseID: caseID,
			Status:     out.status,
			DurationMs: time.Since(start).Milliseconds(),
			Message:    out.message,
		}
	case <-tctx.Done():
		return types.ExecutionResult{
			TestCaseID: caseID,
			Status:     types.ExecError,
			DurationMs: time.Since(start).Milliseconds(),
			Message:    fmt.Sprintf("timeout after %s", e.perTestTimeout),
		}
	}
}

func skipped(caseID, reason string) types.ExecutionResult {
	return types.ExecutionResult{TestCaseID: caseID, Status: types.ExecSkipped, Message: reason}
}
