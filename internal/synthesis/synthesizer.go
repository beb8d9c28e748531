// Package synthesis turns abstract test cases into executable artifacts.
// Each domain maps to a target framework; cases for one domain are grouped
// into a single artifact and every case lands in the traceability manifest
// exactly once.
package synthesis

import (
	"context"
	"fmt"

	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// frameworkFor maps each generation domain to its synthesis target.
// Discovered UI workflows ride the integration domain into Playwright.
var frameworkFor = map[types.Domain]types.FrameworkTarget{
	types.DomainUnit:         types.FrameworkGoTest,
	types.DomainEdgeCase:     types.FrameworkGoTest,
	types.DomainIntegration:  types.FrameworkPytest,
	types.DomainSecurity:     types.FrameworkPytest,
	types.DomainAIValidation: types.FrameworkPytest,
	types.DomainPerformance:  types.FrameworkK6,
}

// Synthesizer implements the synthesis stage.
type Synthesizer struct{}

// New creates a synthesizer.
func New() *Synthesizer { return &Synthesizer{} }

// Name implements pipeline.Capability.
func (s *Synthesizer) Name() string { return "synthesize" }

// Invoke renders one artifact per non-empty domain set plus a Playwright
// artifact for discovered UI workflows. Unsupported domain/framework combos
// produce placeholder artifacts so the manifest stays complete.
func (s *Synthesizer) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	sets := rc.TestCaseSets()
	if len(sets) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: "synthesis", Reason: "no test case sets to synthesize"}
	}
	fs, _ := rc.FeatureSet()

	result := &types.SynthesisResult{}
	artifactSeq := 0

	for _, set := range sets {
		if len(set.Cases) == 0 {
			continue
		}

		// Workflow-targeting integration cases render as browser scripts;
		// everything else follows the domain's framework.
		var regular, uiCases []types.TestCase
		for _, c := range set.Cases {
			if set.Domain == types.DomainIntegration && isWorkflowCase(c, fs) {
				uiCases = append(uiCases, c)
			} else {
				regular = append(regular, c)
			}
		}

		if len(regular) > 0 {
			artifactSeq++
			result.Artifacts = append(result.Artifacts, s.render(set.Domain, regular, artifactSeq))
		}
		if len(uiCases) > 0 {
			artifactSeq++
			artifact := renderPlaywright(uiCases, artifactSeq)
			result.Artifacts = append(result.Artifacts, artifact)
		}
	}

	if len(result.Artifacts) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: "synthesis", Reason: "all domain sets were empty"}
	}

	for _, artifact := range result.Artifacts {
		for _, caseID := range artifact.TestCaseIDs {
			result.Manifest = append(result.Manifest, types.ManifestEntry{
				TestCaseID: caseID,
				ArtifactID: artifact.ID,
				Framework:  artifact.Framework,
				Location:   artifact.Filename,
			})
		}
	}

	logging.Synthesis("synthesized %d artifacts covering %d test cases",
		len(result.Artifacts), len(result.Manifest))
	return result, nil
}

// render produces the artifact for one domain's cases.
func (s *Synthesizer) render(domain types.Domain, cases []types.TestCase, seq int) types.ExecutableArtifact {
	framework, ok := frameworkFor[domain]
	if !ok {
		return placeholderArtifact(domain, cases, seq)
	}

	ids := caseIDs(cases)
	artifactID := fmt.Sprintf("art-%d", seq)
	switch framework {
	case types.FrameworkGoTest:
		return types.ExecutableArtifact{
			ID:          artifactID,
			Framework:   framework,
			Filename:    fmt.Sprintf("%s_generated_test.go", domainSlug(domain)),
			Source:      renderGoTest(domain, cases),
			TestCaseIDs: ids,
		}
	case types.FrameworkPytest:
		return types.ExecutableArtifact{
			ID:          artifactID,
			Framework:   framework,
			Filename:    fmt.Sprintf("test_%s_generated.py", domainSlug(domain)),
			Source:      renderPytest(domain, cases),
			TestCaseIDs: ids,
		}
	case types.FrameworkK6:
		return types.ExecutableArtifact{
			ID:          artifactID,
			Framework:   framework,
			Filename:    fmt.Sprintf("%s_load.js", domainSlug(domain)),
			Source:      renderK6(domain, cases),
			TestCaseIDs: ids,
		}
	}
	return placeholderArtifact(domain, cases, seq)
}

func renderPlaywright(cases []types.TestCase, seq int) types.ExecutableArtifact {
	return types.ExecutableArtifact{
		ID:          fmt.Sprintf("art-%d", seq),
		Framework:   types.FrameworkPlaywright,
		Filename:    "workflows.spec.js",
		Source:      renderPlaywrightSource(cases),
		TestCaseIDs: caseIDs(cases),
	}
}

// placeholderArtifact keeps the manifest complete for combinations no
// renderer supports yet.
func placeholderArtifact(domain types.Domain, cases []types.TestCase, seq int) types.ExecutableArtifact {
	source := fmt.Sprintf("# No synthesis renderer for domain %s.\n# Cases are preserved for manual implementation:\n", domain)
	for _, c := range cases {
		source += fmt.Sprintf("#   %s: %s\n", c.ID, c.Title)
	}
	return types.ExecutableArtifact{
		ID:          fmt.Sprintf("art-%d", seq),
		Framework:   types.FrameworkGoTest,
		Filename:    fmt.Sprintf("%s_unsupported.txt", domainSlug(domain)),
		Source:      source,
		TestCaseIDs: caseIDs(cases),
		Placeholder: true,
	}
}

// isWorkflowCase reports whether a case targets a discovered UI workflow.
func isWorkflowCase(c types.TestCase, fs *types.FeatureSet) bool {
	if fs == nil || fs.Surface == nil {
		return false
	}
	f, ok := fs.ByID(c.TargetFeatureID)
	if !ok {
		return false
	}
	for _, wf := range fs.Surface.Workflows {
		if f.Name == wf.Name+" workflow" {
			return true
		}
	}
	return false
}

func caseIDs(cases []types.TestCase) []string {
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	return ids
}
