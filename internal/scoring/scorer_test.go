package scoring

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

func scoringContext(t *testing.T, features []types.Feature, composites map[string]int, sets []*types.TestCaseSet, results []types.ExecutionResult) *pipeline.Context {
	t.Helper()
	rc := pipeline.NewContext()
	if err := rc.Publish(pipeline.PartitionFeatures, &types.FeatureSet{Features: features}); err != nil {
		t.Fatal(err)
	}
	if composites != nil {
		if err := rc.Publish(pipeline.PartitionRisk, &types.RiskMatrix{Composite: composites}); err != nil {
			t.Fatal(err)
		}
	}
	for _, set := range sets {
		if err := rc.Publish(pipeline.GeneratorPartition(set.Domain), set); err != nil {
			t.Fatal(err)
		}
	}
	if results != nil {
		if err := rc.Publish(pipeline.PartitionExecution, results); err != nil {
			t.Fatal(err)
		}
	}
	return rc
}

func passingFixture(t *testing.T) *pipeline.Context {
	return scoringContext(t,
		[]types.Feature{{ID: "f-1", Name: "Login"}},
		map[string]int{"f-1": 50},
		[]*types.TestCaseSet{{
			Domain: types.DomainUnit,
			Cases:  []types.TestCase{{ID: "tc-1", Domain: types.DomainUnit, TargetFeatureID: "f-1"}},
		}},
		[]types.ExecutionResult{{TestCaseID: "tc-1", Status: types.ExecPassed}},
	)
}

func TestFullCoverageAllPassingIsReady(t *testing.T) {
	s := New(0.5, 0.5)
	value, err := s.Invoke(context.Background(), passingFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)
	if verdict.DomainScores[types.DomainUnit] != 100 {
		t.Errorf("unit score = %d, want 100", verdict.DomainScores[types.DomainUnit])
	}
	if verdict.OverallScore != 100 || verdict.Readiness != types.ReadinessReady {
		t.Errorf("overall=%d readiness=%s", verdict.OverallScore, verdict.Readiness)
	}
}

func TestScoringIsPure(t *testing.T) {
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}, {ID: "f-2"}},
		map[string]int{"f-1": 80, "f-2": 30},
		[]*types.TestCaseSet{
			{Domain: types.DomainUnit, Cases: []types.TestCase{
				{ID: "tc-1", TargetFeatureID: "f-1"},
				{ID: "tc-2", TargetFeatureID: "f-2"},
			}},
			{Domain: types.DomainSecurity, Degraded: true, Reason: "model down", Cases: []types.TestCase{
				{ID: "tc-3", TargetFeatureID: "f-1"},
			}},
		},
		[]types.ExecutionResult{
			{TestCaseID: "tc-1", Status: types.ExecPassed},
			{TestCaseID: "tc-2", Status: types.ExecFailed},
			{TestCaseID: "tc-3", Status: types.ExecError},
		},
	)

	first, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("verdict changed between identical invocations:\n%s", diff)
	}
}

func TestSecurityFailureBlocksAndCitesFeatures(t *testing.T) {
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}, {ID: "f-2"}, {ID: "f-3"}},
		map[string]int{"f-1": 90},
		[]*types.TestCaseSet{{
			Domain: types.DomainSecurity,
			Cases:  []types.TestCase{{ID: "tc-1", TargetFeatureID: "f-1"}},
		}},
		[]types.ExecutionResult{{TestCaseID: "tc-1", Status: types.ExecFailed}},
	)

	value, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)

	var found bool
	for _, rec := range verdict.Recommendations {
		if rec.Domain != types.DomainSecurity {
			continue
		}
		found = true
		if !rec.Blocking {
			t.Error("failing security domain should produce a blocking recommendation")
		}
		if len(rec.FeatureIDs) != 1 || rec.FeatureIDs[0] != "f-1" {
			t.Errorf("recommendation should cite f-1, got %v", rec.FeatureIDs)
		}
	}
	if !found {
		t.Fatal("no recommendation for failing security domain")
	}
}

func TestRiskWeightingPullsOverallScore(t *testing.T) {
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}, {ID: "f-2"}},
		map[string]int{"f-1": 90, "f-2": 10},
		[]*types.TestCaseSet{
			{Domain: types.DomainSecurity, Cases: []types.TestCase{{ID: "tc-1", TargetFeatureID: "f-1"}}},
			{Domain: types.DomainUnit, Cases: []types.TestCase{
				{ID: "tc-2", TargetFeatureID: "f-1"},
				{ID: "tc-3", TargetFeatureID: "f-2"},
			}},
		},
		[]types.ExecutionResult{
			{TestCaseID: "tc-1", Status: types.ExecFailed},
			{TestCaseID: "tc-2", Status: types.ExecPassed},
			{TestCaseID: "tc-3", Status: types.ExecPassed},
		},
	)

	value, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)

	plain := (verdict.DomainScores[types.DomainSecurity] + verdict.DomainScores[types.DomainUnit]) / 2
	if verdict.OverallScore >= plain {
		t.Errorf("risky failing domain should pull overall below plain average: overall=%d plain=%d", verdict.OverallScore, plain)
	}
}

func TestCoverageMeasuredAgainstTopPriorityFeatures(t *testing.T) {
	// A domain that covers every high-risk feature must not be penalized for
	// skipping low-risk ones it has no business testing.
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}, {ID: "f-2"}, {ID: "f-3"}},
		map[string]int{"f-1": 90, "f-2": 70, "f-3": 10},
		[]*types.TestCaseSet{{
			Domain: types.DomainSecurity,
			Cases: []types.TestCase{
				{ID: "tc-1", TargetFeatureID: "f-1"},
				{ID: "tc-2", TargetFeatureID: "f-2"},
			},
		}},
		[]types.ExecutionResult{
			{TestCaseID: "tc-1", Status: types.ExecPassed},
			{TestCaseID: "tc-2", Status: types.ExecPassed},
		},
	)

	value, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)
	if verdict.DomainScores[types.DomainSecurity] != 100 {
		t.Errorf("both top-priority features covered and passing, score = %d, want 100",
			verdict.DomainScores[types.DomainSecurity])
	}
}

func TestCoverageFallsBackToAllFeatures(t *testing.T) {
	// With no high-priority features the denominator is the whole feature set.
	s := New(1, 0)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}, {ID: "f-2"}},
		map[string]int{"f-1": 20, "f-2": 20},
		[]*types.TestCaseSet{{
			Domain: types.DomainUnit,
			Cases:  []types.TestCase{{ID: "tc-1", TargetFeatureID: "f-1"}},
		}},
		[]types.ExecutionResult{{TestCaseID: "tc-1", Status: types.ExecPassed}},
	)

	value, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)
	if verdict.DomainScores[types.DomainUnit] != 50 {
		t.Errorf("one of two features covered, score = %d, want 50", verdict.DomainScores[types.DomainUnit])
	}
}

func TestDegradedDomainsRecorded(t *testing.T) {
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}},
		nil,
		[]*types.TestCaseSet{{Domain: types.DomainPerformance, Degraded: true, Reason: "template fallback"}},
		[]types.ExecutionResult{},
	)

	value, err := s.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	verdict := value.(*types.QualityVerdict)
	if len(verdict.DegradedDomains) != 1 || verdict.DegradedDomains[0] != types.DomainPerformance {
		t.Errorf("degraded domains = %v", verdict.DegradedDomains)
	}
}

func TestMissingExecutionResultsDegradesButScores(t *testing.T) {
	s := New(0.5, 0.5)
	rc := scoringContext(t,
		[]types.Feature{{ID: "f-1"}},
		nil,
		[]*types.TestCaseSet{{
			Domain: types.DomainUnit,
			Cases:  []types.TestCase{{ID: "tc-1", TargetFeatureID: "f-1"}},
		}},
		nil,
	)

	value, err := s.Invoke(context.Background(), rc)
	if !pipeline.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	verdict := value.(*types.QualityVerdict)
	if verdict.DomainScores[types.DomainUnit] != 50 {
		t.Errorf("coverage-only score = %d, want 50", verdict.DomainScores[types.DomainUnit])
	}
}

func TestReadinessThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  types.Readiness
	}{
		{100, types.ReadinessReady},
		{85, types.ReadinessReady},
		{84, types.ReadinessConditional},
		{60, types.ReadinessConditional},
		{59, types.ReadinessNotReady},
		{0, types.ReadinessNotReady},
	}
	for _, tc := range cases {
		if got := readinessFor(tc.score); got != tc.want {
			t.Errorf("readinessFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestWeightNormalization(t *testing.T) {
	s := New(0, 0)
	if s.coverageWeight != 0.5 || s.passRatioWeight != 0.5 {
		t.Errorf("zero weights should collapse to 0.5/0.5: %f/%f", s.coverageWeight, s.passRatioWeight)
	}
	s = New(3, 1)
	if s.coverageWeight != 0.75 || s.passRatioWeight != 0.25 {
		t.Errorf("weights not normalized: %f/%f", s.coverageWeight, s.passRatioWeight)
	}
}
