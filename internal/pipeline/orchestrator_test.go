package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	"qaforge/internal/config"
	"qaforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubCapability runs a function as a Capability.
type stubCapability struct {
	name string
	fn   func(ctx context.Context, rc *Context) (interface{}, error)
}

func (s *stubCapability) Name() string { return s.name }

func (s *stubCapability) Invoke(ctx context.Context, rc *Context) (interface{}, error) {
	return s.fn(ctx, rc)
}

func stub(name string, fn func(ctx context.Context, rc *Context) (interface{}, error)) Capability {
	return &stubCapability{name: name, fn: fn}
}

// happyStages wires stubs producing minimal valid output for every stage.
func happyStages() Stages {
	features := &types.FeatureSet{Features: []types.Feature{
		{ID: "f-1", Name: "login", Category: "authentication"},
	}}
	generators := make(map[types.Domain]Capability)
	for _, d := range types.AllDomains() {
		domain := d
		generators[domain] = stub("generate"+string(domain), func(ctx context.Context, rc *Context) (interface{}, error) {
			return &types.TestCaseSet{
				Domain: domain,
				Cases:  []types.TestCase{{ID: "tc-" + string(domain), Domain: domain, TargetFeatureID: "f-1"}},
			}, nil
		})
	}
	return Stages{
		RequirementInterpreter: stub("interpret", func(ctx context.Context, rc *Context) (interface{}, error) {
			return features, nil
		}),
		ApplicationDiscoverer: stub("discover", func(ctx context.Context, rc *Context) (interface{}, error) {
			return features, nil
		}),
		RiskAssessor: stub("risk", func(ctx context.Context, rc *Context) (interface{}, error) {
			return &types.RiskMatrix{Composite: map[string]int{"f-1": 75}}, nil
		}),
		Generators: generators,
		Synthesizer: stub("synthesize", func(ctx context.Context, rc *Context) (interface{}, error) {
			return &types.SynthesisResult{}, nil
		}),
		Executor: stub("execute", func(ctx context.Context, rc *Context) (interface{}, error) {
			return []types.ExecutionResult{{TestCaseID: "tc-/unit", Status: types.ExecPassed}}, nil
		}),
		Scorer: stub("score", func(ctx context.Context, rc *Context) (interface{}, error) {
			return &types.QualityVerdict{OverallScore: 88, Readiness: types.ReadinessReady}, nil
		}),
	}
}

func requirementRun() RunConfig {
	return RunConfig{
		Mode:            types.ModeRequirement,
		RequirementText: "Users can log in with email and password",
	}
}

func waitForRun(t *testing.T, o *Orchestrator, runID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Wait(ctx, runID); err != nil {
		t.Fatalf("run did not finish: %v", err)
	}
}

func TestRunCompletesAllStages(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitForRun(t, o, runID)

	run, err := o.Status(runID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("expected completed run, got %s (degradations: %+v)", run.Status, run.Degradations)
	}
	for _, stage := range pipelineStages() {
		if run.StageStatuses[stage] != types.StageCompleted {
			t.Errorf("stage %s: expected /completed, got %s", stage, run.StageStatuses[stage])
		}
	}
	if run.EndedAt.IsZero() {
		t.Error("EndedAt not set")
	}

	rctx, err := o.Result(runID)
	if err != nil {
		t.Fatal(err)
	}
	verdict, ok := rctx.Verdict()
	if !ok || verdict.OverallScore != 88 {
		t.Errorf("verdict mismatch: %+v", verdict)
	}
	if sets := rctx.TestCaseSets(); len(sets) != len(types.AllDomains()) {
		t.Errorf("expected %d generator partitions, got %d", len(types.AllDomains()), len(sets))
	}
}

func TestFatalEntrySkipsDownstream(t *testing.T) {
	stages := happyStages()
	stages.RequirementInterpreter = stub("interpret", func(ctx context.Context, rc *Context) (interface{}, error) {
		return nil, &FatalStageError{Stage: StageEntry, Reason: "no testable features extracted"}
	})
	o := NewOrchestrator(config.DefaultConfig(), stages)

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	run, _ := o.Status(runID)
	if run.Status != types.RunFailed {
		t.Fatalf("expected /failed run, got %s", run.Status)
	}
	if run.StageStatuses[StageEntry] != types.StageFailed {
		t.Errorf("entry: expected /failed, got %s", run.StageStatuses[StageEntry])
	}
	for _, stage := range []string{StageRisk, StageGenerate, StageSynthesis, StageExecution, StageScoring} {
		if run.StageStatuses[stage] != types.StageSkipped {
			t.Errorf("stage %s: expected /skipped, got %s", stage, run.StageStatuses[stage])
		}
	}
	for _, d := range types.AllDomains() {
		key := GeneratorPartition(d)
		if run.StageStatuses[key] != types.StageSkipped {
			t.Errorf("generator %s: expected /skipped, got %s", key, run.StageStatuses[key])
		}
	}
}

func TestGeneratorFailureDoesNotAffectSiblings(t *testing.T) {
	stages := happyStages()
	stages.Generators[types.DomainSecurity] = stub("generate/security", func(ctx context.Context, rc *Context) (interface{}, error) {
		return nil, errors.New("model returned malformed output")
	})
	o := NewOrchestrator(config.DefaultConfig(), stages)

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	run, _ := o.Status(runID)
	if run.Status != types.RunCompleted {
		t.Fatalf("run should complete despite generator failure, got %s", run.Status)
	}
	if run.StageStatuses[StageGenerate] != types.StageDegraded {
		t.Errorf("generate: expected /degraded, got %s", run.StageStatuses[StageGenerate])
	}
	if run.StageStatuses[GeneratorPartition(types.DomainSecurity)] != types.StageDegraded {
		t.Error("failing generator should be marked /degraded")
	}
	for _, d := range types.AllDomains() {
		if d == types.DomainSecurity {
			continue
		}
		if got := run.StageStatuses[GeneratorPartition(d)]; got != types.StageCompleted {
			t.Errorf("sibling %s: expected /completed, got %s", d, got)
		}
	}

	rctx, _ := o.Result(runID)
	sets := rctx.TestCaseSets()
	if len(sets) != len(types.AllDomains()) {
		t.Fatalf("degraded domain should still publish an empty set, got %d sets", len(sets))
	}
	for _, set := range sets {
		if set.Domain == types.DomainSecurity {
			if !set.Degraded || len(set.Cases) != 0 {
				t.Errorf("security set should be empty and degraded: %+v", set)
			}
		}
	}

	if len(run.Degradations) == 0 {
		t.Error("expected a degradation record")
	}
}

func TestDegradedStagePublishesPartialValue(t *testing.T) {
	stages := happyStages()
	stages.RiskAssessor = stub("risk", func(ctx context.Context, rc *Context) (interface{}, error) {
		partial := &types.RiskMatrix{Composite: map[string]int{"f-1": 50}}
		return partial, &DegradedStageError{Stage: StageRisk, Reason: "model unavailable, heuristic scores only"}
	})
	o := NewOrchestrator(config.DefaultConfig(), stages)

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	run, _ := o.Status(runID)
	if run.Status != types.RunCompleted {
		t.Fatalf("degraded risk must not fail the run, got %s", run.Status)
	}
	if run.StageStatuses[StageRisk] != types.StageDegraded {
		t.Errorf("risk: expected /degraded, got %s", run.StageStatuses[StageRisk])
	}

	rctx, _ := o.Result(runID)
	matrix, ok := rctx.RiskMatrix()
	if !ok || matrix.Composite["f-1"] != 50 {
		t.Errorf("partial risk matrix should be published: %+v", matrix)
	}
}

func TestCancelSkipsRemainingStages(t *testing.T) {
	entered := make(chan struct{})
	stages := happyStages()
	stages.RiskAssessor = stub("risk", func(ctx context.Context, rc *Context) (interface{}, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := NewOrchestrator(config.DefaultConfig(), stages)

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("risk stage never started")
	}
	if err := o.Cancel(runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForRun(t, o, runID)

	run, _ := o.Status(runID)
	if run.Status != types.RunCancelled {
		t.Fatalf("expected /cancelled, got %s", run.Status)
	}
	if run.StageStatuses[StageEntry] != types.StageCompleted {
		t.Errorf("entry finished before cancel, expected /completed, got %s", run.StageStatuses[StageEntry])
	}
	for _, stage := range []string{StageRisk, StageGenerate, StageSynthesis, StageExecution, StageScoring} {
		if run.StageStatuses[stage] != types.StageSkipped {
			t.Errorf("stage %s: expected /skipped, got %s", stage, run.StageStatuses[stage])
		}
	}

	// A cancelled stage publishes nothing.
	rctx, err := o.Result(runID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rctx.RiskMatrix(); ok {
		t.Error("cancelled risk stage must not publish a partition")
	}

	if err := o.Cancel(runID); err == nil {
		t.Error("cancelling a finished run should error")
	}
}

func TestStartRunValidation(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	cases := []struct {
		name string
		cfg  RunConfig
	}{
		{"unknown mode", RunConfig{Mode: "/bogus"}},
		{"requirement without text", RunConfig{Mode: types.ModeRequirement}},
		{"discovery without target", RunConfig{Mode: types.ModeDiscovery}},
		{"discovery without base URL", RunConfig{Mode: types.ModeDiscovery, Target: &TargetDescriptor{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := o.StartRun(context.Background(), tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDomainSubsetRun(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	rc := requirementRun()
	rc.Domains = []types.Domain{types.DomainUnit, types.DomainSecurity}
	runID, err := o.StartRun(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	rctx, _ := o.Result(runID)
	sets := rctx.TestCaseSets()
	if len(sets) != 2 {
		t.Fatalf("expected 2 generator partitions, got %d", len(sets))
	}

	run, _ := o.Status(runID)
	if _, ok := run.StageStatuses[GeneratorPartition(types.DomainPerformance)]; ok {
		t.Error("unselected domain should have no stage slot")
	}
}

func TestEventStreamOrdering(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}
	events, err := o.Events(runID)
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	// Drain whatever the subscriber saw, then check full history.
	for range events {
	}

	history, err := o.EventHistory(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 {
		t.Fatal("no events recorded")
	}
	if history[len(history)-1].Type != EventRunCompleted {
		t.Errorf("last event should be run_completed, got %s", history[len(history)-1].Type)
	}

	var entryStarted, entryCompleted int
	for i, ev := range history {
		if ev.Stage == StageEntry {
			switch ev.Type {
			case EventStageStarted:
				entryStarted = i
			case EventStageCompleted:
				entryCompleted = i
			}
		}
	}
	if entryCompleted <= entryStarted {
		t.Error("entry stage_completed should follow stage_started")
	}
}

func TestEventsAfterRunFinishesTerminates(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	runID, err := o.StartRun(context.Background(), requirementRun())
	if err != nil {
		t.Fatal(err)
	}
	waitForRun(t, o, runID)

	// Subscribing to a finished run must return a channel that still closes,
	// or any consumer ranging over it blocks forever.
	events, err := o.Events(runID)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan []Event, 1)
	go func() {
		var seen []Event
		for ev := range events {
			seen = append(seen, ev)
		}
		done <- seen
	}()

	select {
	case seen := <-done:
		if len(seen) == 0 {
			t.Fatal("finished run should replay its event history")
		}
		if seen[len(seen)-1].Type != EventRunCompleted {
			t.Errorf("last replayed event should be run_completed, got %s", seen[len(seen)-1].Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel for a finished run never closed")
	}
}

func TestConcurrentRunsIsolated(t *testing.T) {
	o := NewOrchestrator(config.DefaultConfig(), happyStages())

	var ids []string
	for i := 0; i < 4; i++ {
		rc := requirementRun()
		rc.RequirementText = fmt.Sprintf("requirement %d", i)
		runID, err := o.StartRun(context.Background(), rc)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, runID)
	}
	for _, id := range ids {
		waitForRun(t, o, id)
		run, err := o.Status(id)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status != types.RunCompleted {
			t.Errorf("run %s: expected /completed, got %s", id, run.Status)
		}
	}
	if len(o.ListRuns()) != 4 {
		t.Errorf("expected 4 runs, got %d", len(o.ListRuns()))
	}
}
