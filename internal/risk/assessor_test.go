package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

type mockLLMClient struct {
	response string
	err      error
}

func (m *mockLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *mockLLMClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func riskContext(t *testing.T, features ...types.Feature) *pipeline.Context {
	t.Helper()
	rc := pipeline.NewContext()
	if err := rc.Publish(pipeline.PartitionConfig, pipeline.RunConfig{Mode: types.ModeRequirement}); err != nil {
		t.Fatal(err)
	}
	if err := rc.Publish(pipeline.PartitionFeatures, &types.FeatureSet{Features: features}); err != nil {
		t.Fatal(err)
	}
	return rc
}

func equalWeights() map[string]float64 {
	return map[string]float64{"/business": 0.25, "/technical": 0.25, "/security": 0.25, "/performance": 0.25}
}

func TestAuthenticationFeatureScoresHighSecurity(t *testing.T) {
	a := New(nil, equalWeights())
	rc := riskContext(t, types.Feature{
		ID: "f-1", Name: "Reset password", Category: "authentication",
		Description: "User resets their password via an emailed link",
	})

	value, err := a.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	matrix := value.(*types.RiskMatrix)

	sec := matrix.DimensionScore("f-1", types.RiskSecurity)
	if sec < 70 {
		t.Errorf("authentication feature security score %d, want >= 70", sec)
	}
	if _, ok := matrix.Composite["f-1"]; !ok {
		t.Error("composite score missing")
	}
}

func TestEveryFeatureScoredOnEveryDimension(t *testing.T) {
	a := New(nil, equalWeights())
	features := []types.Feature{
		{ID: "f-1", Name: "Login", Category: "authentication"},
		{ID: "f-2", Name: "Monthly report export", Category: "reporting"},
		{ID: "f-3", Name: "Widget rotation", Category: "general"},
	}
	rc := riskContext(t, features...)

	value, err := a.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	matrix := value.(*types.RiskMatrix)

	for _, f := range features {
		for _, dim := range types.AllRiskDimensions() {
			if s := matrix.DimensionScore(f.ID, dim); s < 0 {
				t.Errorf("feature %s missing %s score", f.ID, dim)
			}
		}
	}
	if len(matrix.Scores) != len(features)*len(types.AllRiskDimensions()) {
		t.Errorf("expected %d scores, got %d", len(features)*4, len(matrix.Scores))
	}
}

func TestUnclassifiableFeatureDefaultsToMedian(t *testing.T) {
	a := New(nil, equalWeights())
	rc := riskContext(t, types.Feature{ID: "f-1", Name: "Zorblax", Category: "general"})

	value, err := a.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	matrix := value.(*types.RiskMatrix)

	for _, dim := range types.AllRiskDimensions() {
		if s := matrix.DimensionScore("f-1", dim); s != 50 {
			t.Errorf("dimension %s: expected median 50, got %d", dim, s)
		}
	}
	if matrix.Composite["f-1"] != 50 {
		t.Errorf("composite: expected 50, got %d", matrix.Composite["f-1"])
	}
}

func TestModelBlendAveragesScores(t *testing.T) {
	mock := &mockLLMClient{response: `{"scores": [
		{"feature_id": "f-1", "business": 100, "technical": 100, "security": 100, "performance": 100}
	]}`}
	heuristicOnly := New(nil, equalWeights())
	blended := New(mock, equalWeights())

	feature := types.Feature{ID: "f-1", Name: "Bulk payment transfer", Category: "payment",
		Description: "Batch transfer of payments between accounts"}

	v1, err := heuristicOnly.Invoke(context.Background(), riskContext(t, feature))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := blended.Invoke(context.Background(), riskContext(t, feature))
	if err != nil {
		t.Fatal(err)
	}

	base := v1.(*types.RiskMatrix).Composite["f-1"]
	mixed := v2.(*types.RiskMatrix).Composite["f-1"]
	if mixed <= base {
		t.Errorf("maxed-out model scores should raise the composite: heuristic %d, blended %d", base, mixed)
	}
	if mixed > 100 {
		t.Errorf("composite above 100: %d", mixed)
	}
}

func TestModelFailureDegrades(t *testing.T) {
	a := New(&mockLLMClient{err: errors.New("quota exceeded")}, equalWeights())
	rc := riskContext(t, types.Feature{ID: "f-1", Name: "Login", Category: "authentication"})

	value, err := a.Invoke(context.Background(), rc)
	if !pipeline.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	matrix := value.(*types.RiskMatrix)
	if len(matrix.Scores) == 0 {
		t.Fatal("heuristic scores should still be produced")
	}
}

func TestCompositeRespectsWeights(t *testing.T) {
	securityHeavy := New(nil, map[string]float64{
		"/business": 0.0, "/technical": 0.0, "/security": 1.0, "/performance": 0.0,
	})
	rc := riskContext(t, types.Feature{ID: "f-1", Name: "Login with password", Category: "authentication"})

	value, err := securityHeavy.Invoke(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	matrix := value.(*types.RiskMatrix)

	sec := matrix.DimensionScore("f-1", types.RiskSecurity)
	if matrix.Composite["f-1"] != sec {
		t.Errorf("security-only weights: composite %d should equal security score %d",
			matrix.Composite["f-1"], sec)
	}
}

func TestMissingFeatureSetDegrades(t *testing.T) {
	a := New(nil, equalWeights())
	rc := pipeline.NewContext()
	if _, err := a.Invoke(context.Background(), rc); !pipeline.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
}

func TestCompositeDeterministic(t *testing.T) {
	a := New(nil, equalWeights())
	feature := types.Feature{ID: "f-1", Name: "Upload document", Category: "data_management"}

	var last int
	for i := 0; i < 5; i++ {
		value, err := a.Invoke(context.Background(), riskContext(t, feature))
		if err != nil {
			t.Fatal(err)
		}
		c := value.(*types.RiskMatrix).Composite["f-1"]
		if i > 0 && c != last {
			t.Fatalf("composite not deterministic: %d then %d", last, c)
		}
		last = c
	}
	if last == 0 {
		t.Error(fmt.Sprintf("upload feature should carry some risk, composite %d", last))
	}
}
