// Package generate holds the six domain test-case generators. Each
// generator is an independent pipeline capability: it selects the features
// relevant to its domain, sizes the test depth by composite risk (or the
// domain's own risk dimension where that runs higher), and produces cases
// either through the model or from domain templates.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"qaforge/internal/llm"
	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// Depth thresholds: every relevant feature gets nominal coverage, riskier
// ones add boundary and negative variants.
const (
	boundaryThreshold = 35
	negativeThreshold = 60
)

// Generator produces test cases for one domain.
type Generator struct {
	domain types.Domain
	llm    llm.Client
}

// New creates a generator for one domain. A nil client means templates only.
func New(domain types.Domain, client llm.Client) *Generator {
	return &Generator{domain: domain, llm: client}
}

// NewAll wires a generator for every supported domain.
func NewAll(client llm.Client) map[types.Domain]pipeline.Capability {
	out := make(map[types.Domain]pipeline.Capability, len(types.AllDomains()))
	for _, d := range types.AllDomains() {
		out[d] = New(d, client)
	}
	return out
}

// Name implements pipeline.Capability.
func (g *Generator) Name() string { return "generate" + string(g.domain) }

// Invoke generates the domain's TestCaseSet. Model failures fall back to
// templates and degrade the stage; an empty relevant-feature list yields an
// empty, non-degraded set.
func (g *Generator) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	fs, ok := rc.FeatureSet()
	if !ok || len(fs.Features) == 0 {
		return &types.TestCaseSet{Domain: g.domain, Degraded: true, Reason: "no feature set"},
			&pipeline.DegradedStageError{Stage: g.Name(), Reason: "no feature set available"}
	}
	matrix, _ := rc.RiskMatrix()

	var relevant []scoredFeature
	for _, f := range fs.Features {
		composite := 50
		if matrix != nil {
			if c, ok := matrix.Composite[f.ID]; ok {
				composite = c
			}
		}
		if g.relevant(f, composite, matrix) {
			relevant = append(relevant, scoredFeature{
				feature:   f,
				composite: composite,
				depth:     g.depthScore(f, composite, matrix),
			})
		}
	}
	if len(relevant) == 0 {
		logging.Generate("%s: no relevant features", g.domain)
		return &types.TestCaseSet{Domain: g.domain}, nil
	}

	var (
		cases  []types.TestCase
		llmErr error
	)
	if g.llm != nil {
		cases, llmErr = g.generateWithModel(ctx, relevant)
		if llmErr != nil {
			logging.Generate("%s: model generation failed, using templates: %v", g.domain, llmErr)
		}
	}
	if len(cases) == 0 {
		cases = g.templateCases(relevant)
	}

	for i := range cases {
		cases[i].ID = fmt.Sprintf("tc%s-%d", strings.ReplaceAll(string(g.domain), "/", "-"), i+1)
		cases[i].Domain = g.domain
	}

	logging.Generate("%s: %d cases for %d features", g.domain, len(cases), len(relevant))

	set := &types.TestCaseSet{Domain: g.domain, Cases: cases}
	if llmErr != nil {
		set.Degraded = true
		set.Reason = "template fallback: " + llmErr.Error()
		return set, &pipeline.DegradedStageError{Stage: g.Name(), Reason: set.Reason}
	}
	return set, nil
}

type scoredFeature struct {
	feature   types.Feature
	composite int
	depth     int
}

// depthScore sizes test depth for one feature. The specialised domains use
// their own risk dimension when it exceeds the composite: a clamped security
// severity must not be diluted by the other dimensions' weights.
func (g *Generator) depthScore(f types.Feature, composite int, matrix *types.RiskMatrix) int {
	depth := composite
	dim, ok := primaryDimension(g.domain)
	if !ok || matrix == nil {
		return depth
	}
	if s := matrix.DimensionScore(f.ID, dim); s > depth {
		depth = s
	}
	return depth
}

// primaryDimension maps the specialised domains to the dimension that sizes
// their depth. Unit, edge-case, and ai_validation depth follows the composite.
func primaryDimension(d types.Domain) (types.RiskDimension, bool) {
	switch d {
	case types.DomainSecurity:
		return types.RiskSecurity, true
	case types.DomainPerformance:
		return types.RiskPerformance, true
	case types.DomainIntegration:
		return types.RiskTechnical, true
	}
	return "", false
}

// relevant decides whether this domain should test the feature at all.
// Unit and edge-case generators cover everything; the specialised domains
// gate on category and dimension scores.
func (g *Generator) relevant(f types.Feature, composite int, matrix *types.RiskMatrix) bool {
	dimScore := func(dim types.RiskDimension) int {
		if matrix == nil {
			return 50
		}
		if s := matrix.DimensionScore(f.ID, dim); s >= 0 {
			return s
		}
		return 50
	}

	switch g.domain {
	case types.DomainUnit, types.DomainEdgeCase:
		return true
	case types.DomainIntegration:
		return f.Category != "general" || dimScore(types.RiskTechnical) >= 30
	case types.DomainSecurity:
		return f.Category == "authentication" || f.Category == "payment" ||
			dimScore(types.RiskSecurity) >= 40
	case types.DomainPerformance:
		return dimScore(types.RiskPerformance) >= 30 || composite >= 60
	case types.DomainAIValidation:
		for _, tok := range strings.Fields(strings.ToLower(f.Name + " " + f.Description)) {
			switch strings.Trim(tok, ".,:;()") {
			case "ai", "ml", "llm", "model", "recommendation", "prediction", "chatbot", "assistant", "inference":
				return true
			}
		}
		return false
	}
	return false
}

// variantsFor sizes test depth by the feature's depth score.
func variantsFor(depth int) []string {
	variants := []string{"nominal"}
	if depth >= boundaryThreshold {
		variants = append(variants, "boundary")
	}
	if depth >= negativeThreshold {
		variants = append(variants, "negative")
	}
	return variants
}

// templateCases builds cases from the domain template library.
func (g *Generator) templateCases(features []scoredFeature) []types.TestCase {
	var cases []types.TestCase
	for _, sf := range features {
		for _, variant := range variantsFor(sf.depth) {
			tmpl := templateFor(g.domain, variant, sf.feature)
			cases = append(cases, types.TestCase{
				TargetFeatureID: sf.feature.ID,
				Title:           tmpl.title,
				Preconditions:   tmpl.preconditions,
				Steps:           tmpl.steps,
				ExpectedResult:  tmpl.expected,
				Priority:        types.PriorityFor(sf.depth),
				Variant:         variant,
			})
		}
	}
	return cases
}

const generateSystemPrompt = `You are a senior test engineer. You design concrete,
executable test cases. Steps must be specific actions, not vague goals. The
expected result must be observable.`

// generateWithModel asks the model for cases across the relevant features.
func (g *Generator) generateWithModel(ctx context.Context, features []scoredFeature) ([]types.TestCase, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "TEST DOMAIN: %s\n\nFEATURES (with 0-100 risk priority):\n", domainLabel(g.domain))
	for _, sf := range features {
		fmt.Fprintf(&b, "- id=%s priority=%d name=%q description=%q category=%s\n",
			sf.feature.ID, sf.depth, sf.feature.Name, sf.feature.Description, sf.feature.Category)
	}
	b.WriteString(`
For each feature produce test cases proportional to its priority: always a
nominal case, add a boundary case at priority >= 35, add a negative case at
priority >= 60. Return JSON only:
{"cases": [{"target_feature_id": "...", "title": "...", "preconditions": ["..."], "steps": ["..."], "expected_result": "...", "variant": "nominal|boundary|negative"}]}`)

	resp, err := g.llm.CompleteWithSystem(ctx, generateSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Cases []struct {
			TargetFeatureID string   `json:"target_feature_id"`
			Title           string   `json:"title"`
			Preconditions   []string `json:"preconditions"`
			Steps           []string `json:"steps"`
			ExpectedResult  string   `json:"expected_result"`
			Variant         string   `json:"variant"`
		} `json:"cases"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("malformed cases JSON: %w", err)
	}

	depths := make(map[string]int, len(features))
	valid := make(map[string]bool, len(features))
	for _, sf := range features {
		depths[sf.feature.ID] = sf.depth
		valid[sf.feature.ID] = true
	}

	var cases []types.TestCase
	for _, c := range parsed.Cases {
		if !valid[c.TargetFeatureID] || c.Title == "" || len(c.Steps) == 0 {
			continue
		}
		variant := c.Variant
		switch variant {
		case "nominal", "boundary", "negative":
		default:
			variant = "nominal"
		}
		cases = append(cases, types.TestCase{
			TargetFeatureID: c.TargetFeatureID,
			Title:           c.Title,
			Preconditions:   c.Preconditions,
			Steps:           c.Steps,
			ExpectedResult:  c.ExpectedResult,
			Priority:        types.PriorityFor(depths[c.TargetFeatureID]),
			Variant:         variant,
		})
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("model produced no usable cases")
	}
	return cases, nil
}

func domainLabel(d types.Domain) string {
	return strings.TrimPrefix(string(d), "/")
}

func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}
