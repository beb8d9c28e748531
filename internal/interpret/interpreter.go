// Package interpret turns free-text requirements into a structured
// FeatureSet. The model does the heavy lifting; a keyword heuristic backs
// it up so a dead model degrades the run instead of failing it.
package interpret

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

const extractSystemPrompt = `You are a senior QA analyst. You decompose product
requirements into discrete, individually testable features. Each feature names
one capability a tester could exercise in isolation. Do not invent features
the requirement does not imply.`

// Interpreter implements the requirement entry stage.
type Interpreter struct {
	llm llm.Client
}

// New creates a requirement interpreter. A nil client is allowed; extraction
// then runs on heuristics alone.
func New(client llm.Client) *Interpreter {
	return &Interpreter{llm: client}
}

// Name implements pipeline.Capability.
func (in *Interpreter) Name() string { return "interpret" }

// Invoke extracts features from the run's requirement text. Zero extractable
// features is fatal; a model failure with a working heuristic fallback is a
// degradation.
func (in *Interpreter) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	cfg, ok := rc.RunConfig()
	if !ok {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: "run config not published"}
	}

	text := strings.TrimSpace(cfg.RequirementText)
	if text == "" {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: "empty requirement text"}
	}

	var (
		features []types.Feature
		llmErr   error
	)
	if in.llm != nil {
		features, llmErr = in.extractWithModel(ctx, text, cfg.Hints)
		if llmErr != nil {
			logging.Entry("model extraction failed, falling back to heuristics: %v", llmErr)
		}
	}
	if len(features) == 0 {
		features = heuristicFeatures(text)
	}

	if len(features) == 0 {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: "no testable features extracted from requirement"}
	}

	for i := range features {
		features[i].ID = fmt.Sprintf("f-%d", i+1)
		features[i].Source = types.SourceRequirement
		features[i].Ordinal = i
		if features[i].Category == "" {
			features[i].Category = categorize(features[i].Name + " " + features[i].Description)
		}
	}

	logging.Entry("extracted %d features from requirement (%d chars)", len(features), len(text))

	result := &types.FeatureSet{Features: features}
	if llmErr != nil {
		return result, &pipeline.DegradedStageError{Stage: "entry", Reason: "heuristic extraction only: " + llmErr.Error()}
	}
	return result, nil
}

// extractWithModel asks the model for a feature list in JSON.
func (in *Interpreter) extractWithModel(ctx context.Context, text string, hints []string) ([]types.Feature, error) {
	var b strings.Builder
	b.WriteString("REQUIREMENT:\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	if len(hints) > 0 {
		b.WriteString("DOMAIN HINTS:\n")
		for _, h := range hints {
			b.WriteString("- " + h + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(`Extract every discrete testable feature. Return JSON only:
{
  "features": [
    {"name": "...", "description": "...", "category": "authentication|data_management|payment|communication|reporting|workflow|general", "confidence": 0.0-1.0}
  ]
}`)

	resp, err := in.llm.CompleteWithSystem(ctx, extractSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Features []struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			Category    string  `json:"category"`
			Confidence  float64 `json:"confidence"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("malformed feature JSON: %w", err)
	}

	seen := make(map[string]bool)
	var out []types.Feature
	for _, f := range parsed.Features {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		confidence := f.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.6
		}
		out = append(out, types.Feature{
			Name:        name,
			Description: strings.TrimSpace(f.Description),
			Category:    normalizeCategory(f.Category),
			Confidence:  confidence,
		})
	}
	return out, nil
}

// actionWords are verbs that indicate a discrete capability in a requirement.
var actionWords = []string{
	"login", "log in", "register", "sign up", "reset", "logout",
	"transfer", "upload", "download", "create", "update", "delete",
	"search", "export", "import", "submit", "approve",
}

// entityWords are nouns that anchor a capability to a data object.
var entityWords = []string{
	"password", "account", "user", "transaction", "file", "document",
	"profile", "report", "payment", "order", "email",
}

// heuristicFeatures is the model-free fallback: pair action keywords with
// the nearest entity keyword and treat bullet lines as acceptance criteria.
func heuristicFeatures(text string) []types.Feature {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []types.Feature

	add := func(name, desc string) {
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, types.Feature{
			Name:        name,
			Description: desc,
			Confidence:  0.4,
		})
	}

	for _, action := range actionWords {
		if !strings.Contains(lower, action) {
			continue
		}
		entity := ""
		for _, e := range entityWords {
			if strings.Contains(lower, e) {
				entity = e
				break
			}
		}
		name := strings.Title(action)
		if entity != "" {
			name = strings.Title(action) + " " + strings.Title(entity)
		}
		add(name, fmt.Sprintf("Requirement mentions %q", action))
	}

	// Bullet lines usually carry acceptance criteria worth testing on
	// their own.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			crit := strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if len(crit) < 8 {
				continue
			}
			add(crit, "Acceptance criterion")
		}
	}

	return out
}

// categorize buckets a feature by keyword. Unmatched features are general.
func categorize(text string) string {
	return types.CategorizeFeature(text)
}

func normalizeCategory(cat string) string {
	switch strings.ToLower(strings.TrimSpace(cat)) {
	case "authentication", "data_management", "payment", "communication", "reporting", "workflow", "general":
		return strings.ToLower(strings.TrimSpace(cat))
	}
	return ""
}

// cleanJSONResponse removes markdown code fences from a model response.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}
