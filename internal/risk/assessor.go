// Package risk scores every feature on four dimensions (business,
// technical, security, performance) and derives the composite priority
// that drives downstream test depth. Keyword heuristics provide a floor;
// when a model is available its judgement is blended in on top.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"qaforge/internal/llm"
	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// Keyword corpora per risk indicator. Each match contributes its weight;
// sums are capped at 1.0 before scaling to 0-100.
var (
	financialKeywords = keywordSet(0.2, "payment", "money", "transfer", "transaction", "billing",
		"invoice", "credit", "debit", "bank", "account", "financial", "purchase",
		"refund", "charge", "price", "subscription", "revenue")
	complianceKeywords = keywordSet(0.25, "gdpr", "hipaa", "pci", "sox", "compliance", "regulation",
		"audit", "legal", "privacy", "consent", "data protection", "encryption")
	continuityKeywords = keywordSet(0.2, "critical", "essential", "core", "availability",
		"uptime", "downtime", "backup", "recovery", "failover")

	complexityKeywords = keywordSet(0.1, "algorithm", "machine learning", "complex", "advanced",
		"integration", "synchronization", "real-time", "concurrent",
		"distributed", "microservice", "workflow", "orchestration")
	integrationKeywords = keywordSet(0.15, "api", "service", "external", "third-party", "integration",
		"webhook", "callback", "sync", "async", "queue", "message",
		"database", "cache", "email", "sms", "notification")

	authKeywords = keywordSet(0.2, "login", "password", "authentication", "auth", "signin",
		"credentials", "token", "session", "oauth", "sso", "2fa", "mfa", "biometric")
	exposureKeywords = keywordSet(0.15, "personal", "sensitive", "confidential",
		"export", "download", "share", "public", "endpoint", "pii")
	injectionKeywords = keywordSet(0.15, "input", "form", "search", "query", "parameter", "upload",
		"file", "sql", "script", "html", "xml", "json", "csv")

	loadKeywords = keywordSet(0.2, "concurrent", "simultaneous", "parallel", "bulk", "batch",
		"mass", "scale", "volume", "load", "traffic", "requests")
	resourceKeywords = keywordSet(0.15, "processing", "calculation", "computation", "analysis",
		"report", "export", "large", "heavy", "memory", "storage")
	latencyKeywords = keywordSet(0.2, "real-time", "instant", "immediate", "fast",
		"responsive", "latency", "timeout", "speed", "millisecond")
)

type keywords struct {
	perMatch float64
	words    []string
}

func keywordSet(perMatch float64, words ...string) keywords {
	return keywords{perMatch: perMatch, words: words}
}

// score counts matches and caps the weighted sum at 1.0.
func (k keywords) score(text string) float64 {
	matches := 0
	for _, w := range k.words {
		if strings.Contains(text, w) {
			matches++
		}
	}
	return math.Min(float64(matches)*k.perMatch, 1.0)
}

// Assessor implements the risk stage.
type Assessor struct {
	llm     llm.Client
	weights map[string]float64
}

// New creates a risk assessor. weights maps dimension atoms to normalized
// composite weights; a nil client skips the model blend.
func New(client llm.Client, weights map[string]float64) *Assessor {
	if len(weights) == 0 {
		weights = map[string]float64{
			"/business": 0.25, "/technical": 0.25, "/security": 0.25, "/performance": 0.25,
		}
	}
	return &Assessor{llm: client, weights: weights}
}

// Name implements pipeline.Capability.
func (a *Assessor) Name() string { return "risk" }

// Invoke scores every feature in the entry partition. Model failures
// degrade to heuristic-only scoring; the stage itself never fails the run.
func (a *Assessor) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	fs, ok := rc.FeatureSet()
	if !ok || len(fs.Features) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: "risk", Reason: "no feature set to score"}
	}

	matrix := &types.RiskMatrix{Composite: make(map[string]int)}
	heuristics := make(map[string]map[types.RiskDimension]int, len(fs.Features))
	for _, f := range fs.Features {
		heuristics[f.ID] = heuristicScores(f)
	}

	var llmErr error
	var modelScores map[string]map[types.RiskDimension]int
	if a.llm != nil {
		modelScores, llmErr = a.scoreWithModel(ctx, fs.Features)
		if llmErr != nil {
			logging.Risk("model scoring failed, heuristics only: %v", llmErr)
		}
	}

	for _, f := range fs.Features {
		for _, dim := range types.AllRiskDimensions() {
			severity := heuristics[f.ID][dim]
			rationale := "keyword heuristic"
			if ms, ok := modelScores[f.ID]; ok {
				if mv, ok := ms[dim]; ok {
					// Average model and heuristic so a hallucinated score
					// cannot fully override the keyword floor.
					severity = (severity + mv) / 2
					rationale = "model blended with keyword heuristic"
				}
			}
			severity = clampSeverity(f, dim, severity)
			matrix.Scores = append(matrix.Scores, types.RiskScore{
				FeatureID: f.ID,
				Dimension: dim,
				Severity:  severity,
				Rationale: rationale,
			})
		}
		matrix.Composite[f.ID] = a.composite(matrix, f.ID)
	}

	logging.Risk("scored %d features across %d dimensions", len(fs.Features), len(types.AllRiskDimensions()))

	if llmErr != nil {
		return matrix, &pipeline.DegradedStageError{Stage: "risk", Reason: "heuristic scores only: " + llmErr.Error()}
	}
	return matrix, nil
}

// heuristicScores derives 0-100 severities from the keyword corpora. A
// feature with no signal at all sits at the median 50 on every dimension.
func heuristicScores(f types.Feature) map[types.RiskDimension]int {
	text := strings.ToLower(f.Name + " " + f.Description + " " + f.Category)

	business := 0.3*financialKeywords.score(text) +
		0.35*complianceKeywords.score(text) +
		0.35*continuityKeywords.score(text)
	technical := 0.5*complexityKeywords.score(text) +
		0.5*integrationKeywords.score(text)
	security := math.Max(authKeywords.score(text),
		math.Max(exposureKeywords.score(text), injectionKeywords.score(text)))
	performance := 0.4*loadKeywords.score(text) +
		0.3*resourceKeywords.score(text) +
		0.3*latencyKeywords.score(text)

	scores := map[types.RiskDimension]int{
		types.RiskBusiness:    int(math.Round(business * 100)),
		types.RiskTechnical:   int(math.Round(technical * 100)),
		types.RiskSecurity:    int(math.Round(security * 100)),
		types.RiskPerformance: int(math.Round(performance * 100)),
	}

	unclassifiable := true
	for _, v := range scores {
		if v > 0 {
			unclassifiable = false
			break
		}
	}
	if unclassifiable {
		for dim := range scores {
			scores[dim] = 50
		}
	}
	return scores
}

// clampSeverity enforces category floors: authentication features can never
// be scored as low security risk, and payment features carry business risk.
func clampSeverity(f types.Feature, dim types.RiskDimension, severity int) int {
	switch {
	case dim == types.RiskSecurity && f.Category == "authentication" && severity < 75:
		severity = 75
	case dim == types.RiskBusiness && f.Category == "payment" && severity < 70:
		severity = 70
	}
	if severity < 0 {
		return 0
	}
	if severity > 100 {
		return 100
	}
	return severity
}

// composite folds the dimension scores into one weighted 0-100 priority.
func (a *Assessor) composite(matrix *types.RiskMatrix, featureID string) int {
	var sum float64
	for _, dim := range types.AllRiskDimensions() {
		if s := matrix.DimensionScore(featureID, dim); s >= 0 {
			sum += a.weights[string(dim)] * float64(s)
		}
	}
	c := int(math.Round(sum))
	if c > 100 {
		c = 100
	}
	return c
}

const riskSystemPrompt = `You are a risk analyst for software testing. Score each
feature 0-100 on business, technical, security, and performance risk. High
scores mean the feature deserves deeper testing. Be conservative: only extreme
features score above 90.`

// scoreWithModel asks the model for per-feature dimension scores.
func (a *Assessor) scoreWithModel(ctx context.Context, features []types.Feature) (map[string]map[types.RiskDimension]int, error) {
	var b strings.Builder
	b.WriteString("FEATURES:\n")
	for _, f := range features {
		b.WriteString(fmt.Sprintf("- id=%s name=%q category=%s description=%q\n", f.ID, f.Name, f.Category, f.Description))
	}
	b.WriteString(`
Return JSON only:
{"scores": [{"feature_id": "...", "business": 0-100, "technical": 0-100, "security": 0-100, "performance": 0-100}]}`)

	resp, err := a.llm.CompleteWithSystem(ctx, riskSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores []struct {
			FeatureID   string `json:"feature_id"`
			Business    int    `json:"business"`
			Technical   int    `json:"technical"`
			Security    int    `json:"security"`
			Performance int    `json:"performance"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("malformed risk JSON: %w", err)
	}

	out := make(map[string]map[types.RiskDimension]int, len(parsed.Scores))
	for _, s := range parsed.Scores {
		out[s.FeatureID] = map[types.RiskDimension]int{
			types.RiskBusiness:    clamp100(s.Business),
			types.RiskTechnical:   clamp100(s.Technical),
			types.RiskSecurity:    clamp100(s.Security),
			types.RiskPerformance: clamp100(s.Performance),
		}
	}
	return out, nil
}

func clamp100(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}
