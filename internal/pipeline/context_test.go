package pipeline

import (
	"sync"
	"testing"

	"qaforge/internal/types"
)

func TestContextAppendOnly(t *testing.T) {
	c := NewContext()

	if err := c.Publish("risk", 1); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if err := c.Publish("risk", 2); err == nil {
		t.Fatal("expected error on duplicate publish")
	}

	v, ok := c.Get("risk")
	if !ok || v.(int) != 1 {
		t.Errorf("expected original value to survive, got %v", v)
	}
}

func TestContextConcurrentGeneratorPartitions(t *testing.T) {
	c := NewContext()

	var wg sync.WaitGroup
	for _, d := range types.AllDomains() {
		wg.Add(1)
		go func(domain types.Domain) {
			defer wg.Done()
			set := &types.TestCaseSet{Domain: domain}
			if err := c.Publish(GeneratorPartition(domain), set); err != nil {
				t.Errorf("publish %s: %v", domain, err)
			}
		}(d)
	}
	wg.Wait()

	sets := c.TestCaseSets()
	if len(sets) != len(types.AllDomains()) {
		t.Fatalf("expected %d sets, got %d", len(types.AllDomains()), len(sets))
	}
	// TestCaseSets must follow canonical domain order regardless of
	// publication order.
	for i, d := range types.AllDomains() {
		if sets[i].Domain != d {
			t.Errorf("position %d: expected %s, got %s", i, d, sets[i].Domain)
		}
	}
}

func TestContextTypedGetters(t *testing.T) {
	c := NewContext()

	if _, ok := c.FeatureSet(); ok {
		t.Error("FeatureSet should report absent before publish")
	}
	if _, ok := c.RiskMatrix(); ok {
		t.Error("RiskMatrix should report absent before publish")
	}

	fs := &types.FeatureSet{Features: []types.Feature{{ID: "f-1", Name: "login"}}}
	if err := c.Publish(PartitionFeatures, fs); err != nil {
		t.Fatal(err)
	}
	got, ok := c.FeatureSet()
	if !ok || len(got.Features) != 1 || got.Features[0].ID != "f-1" {
		t.Errorf("FeatureSet roundtrip mismatch: %+v", got)
	}

	verdict := &types.QualityVerdict{OverallScore: 90, Readiness: types.ReadinessReady}
	if err := c.Publish(PartitionVerdict, verdict); err != nil {
		t.Fatal(err)
	}
	v, ok := c.Verdict()
	if !ok || v.OverallScore != 90 {
		t.Errorf("Verdict roundtrip mismatch: %+v", v)
	}
}

func TestGeneratorPartitionKeys(t *testing.T) {
	if got := GeneratorPartition(types.DomainUnit); got != "generate/unit" {
		t.Errorf("expected generate/unit, got %s", got)
	}
	seen := make(map[string]bool)
	for _, d := range types.AllDomains() {
		key := GeneratorPartition(d)
		if seen[key] {
			t.Errorf("duplicate partition key %s", key)
		}
		seen[key] = true
	}
}
