// Package trace audits run traceability with a Datalog rule set. Stage
// outputs become facts, the rules derive gaps (features nobody scored or
// tested, cases missing from the manifest), and the findings ride the audit
// partition into the final report. The audit is advisory; it never fails a
// run.
package trace

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
)

// auditRules derives the traceability gaps from the run facts.
const auditRules = `
orphaned_feature(Id) :- feature(Id), !risk_scored(Id).
covered_feature(Id) :- test_case(_, Id).
untested_feature(Id) :- feature(Id), !covered_feature(Id).
manifest_case(CaseId) :- manifest_entry(CaseId, _).
unmapped_test_case(CaseId) :- test_case(CaseId, _), !manifest_case(CaseId).
known_case(CaseId) :- test_case(CaseId, _).
dangling_manifest_entry(CaseId) :- manifest_entry(CaseId, _), !known_case(CaseId).
`

// findingFormats maps each derived predicate to its report line.
var findingFormats = []struct {
	predicate string
	format    string
}{
	{"orphaned_feature", "feature %s was never risk-scored"},
	{"untested_feature", "feature %s has no test cases"},
	{"unmapped_test_case", "test case %s is missing from the manifest"},
	{"dangling_manifest_entry", "manifest references unknown test case %s"},
}

// Auditor implements the optional audit stage.
type Auditor struct{}

// New creates a traceability auditor.
func New() *Auditor { return &Auditor{} }

// Name implements pipeline.Capability.
func (a *Auditor) Name() string { return "audit" }

// Invoke evaluates the audit rules over the current run context and returns
// the findings as report lines. An empty run context is not an error; it
// simply produces no findings.
func (a *Auditor) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	program := auditRules + factsFor(rc)

	unit, err := parse.Unit(bytes.NewReader([]byte(program)))
	if err != nil {
		return nil, &pipeline.DegradedStageError{Stage: a.Name(), Reason: "audit program parse: " + err.Error()}
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, &pipeline.DegradedStageError{Stage: a.Name(), Reason: "audit program analysis: " + err.Error()}
	}

	store := factstore.NewSimpleInMemoryStore()
	if _, err := mengine.EvalProgramWithStats(info, store); err != nil {
		return nil, &pipeline.DegradedStageError{Stage: a.Name(), Reason: "audit evaluation: " + err.Error()}
	}

	var findings []string
	for _, ff := range findingFormats {
		for _, id := range derivedIDs(store, ff.predicate) {
			findings = append(findings, fmt.Sprintf(ff.format, id))
		}
	}

	logging.Trace("audit derived %d findings", len(findings))
	return findings, nil
}

// factsFor renders the run context as Datalog facts.
func factsFor(rc *pipeline.Context) string {
	var b strings.Builder
	counts := map[string]int{}
	emit := func(predicate string, args ...string) {
		counts[predicate]++
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = fmt.Sprintf("%q", a)
		}
		fmt.Fprintf(&b, "%s(%s).\n", predicate, strings.Join(quoted, ", "))
	}

	if fs, ok := rc.FeatureSet(); ok {
		for _, f := range fs.Features {
			emit("feature", f.ID)
		}
	}
	if matrix, ok := rc.RiskMatrix(); ok {
		scored := make(map[string]bool)
		for _, s := range matrix.Scores {
			if !scored[s.FeatureID] {
				scored[s.FeatureID] = true
				emit("risk_scored", s.FeatureID)
			}
		}
	}
	for _, set := range rc.TestCaseSets() {
		for _, c := range set.Cases {
			emit("test_case", c.ID, c.TargetFeatureID)
		}
	}
	if synth, ok := rc.Synthesis(); ok {
		for _, entry := range synth.Manifest {
			emit("manifest_entry", entry.TestCaseID, entry.ArtifactID)
		}
	}

	// Every predicate the rules reference must have at least one fact or
	// analysis rejects the program. Sentinels are filtered out of findings.
	if counts["feature"] == 0 {
		emit("feature", "__none__")
	}
	if counts["risk_scored"] == 0 {
		emit("risk_scored", "__none__")
	}
	if counts["test_case"] == 0 {
		emit("test_case", "__none__", "__none__")
	}
	if counts["manifest_entry"] == 0 {
		emit("manifest_entry", "__none__", "__none__")
	}
	return b.String()
}

// derivedIDs reads the first argument of every derived fact for a predicate.
func derivedIDs(store factstore.FactStore, predicate string) []string {
	sym := ast.PredicateSym{Symbol: predicate, Arity: 1}
	var ids []string
	_ = store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if len(atom.Args) == 0 {
			return nil
		}
		if c, ok := atom.Args[0].(ast.Constant); ok && c.Type == ast.StringType {
			if c.Symbol != "__none__" {
				ids = append(ids, c.Symbol)
			}
		}
		return nil
	})
	sort.Strings(ids)
	return ids
}
