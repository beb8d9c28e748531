// Package types defines the shared data model for a test-generation run.
//
// A run flows through a fixed stage pipeline:
//
//	entry (requirement or discovery) -> risk -> domain generators ->
//	synthesis -> execution -> scoring
//
// Every stage publishes its output into an append-only context partition;
// the types here are the payloads those partitions carry. Statuses and
// enumerations use /atom-style string constants throughout so they remain
// readable in logs, JSON snapshots, and trace facts.
package types

import (
	"time"
)

// RunMode selects the entry stage for a run.
type RunMode string

const (
	ModeRequirement RunMode = "/requirement" // Free-text requirement interpretation
	ModeDiscovery   RunMode = "/discovery"   // Live application discovery
)

// Domain identifies a test-generation domain.
type Domain string

const (
	DomainUnit         Domain = "/unit"
	DomainIntegration  Domain = "/integration"
	DomainSecurity     Domain = "/security"
	DomainPerformance  Domain = "/performance"
	DomainAIValidation Domain = "/ai_validation"
	DomainEdgeCase     Domain = "/edge_case"
)

// AllDomains lists every supported domain in canonical order.
func AllDomains() []Domain {
	return []Domain{
		DomainUnit,
		DomainIntegration,
		DomainSecurity,
		DomainPerformance,
		DomainAIValidation,
		DomainEdgeCase,
	}
}

// ParseDomain normalizes a user-supplied domain name to its /atom form.
func ParseDomain(s string) (Domain, bool) {
	switch s {
	case "unit", "/unit":
		return DomainUnit, true
	case "integration", "/integration":
		return DomainIntegration, true
	case "security", "/security":
		return DomainSecurity, true
	case "performance", "/performance":
		return DomainPerformance, true
	case "ai_validation", "/ai_validation", "ai-validation":
		return DomainAIValidation, true
	case "edge_case", "/edge_case", "edge-case":
		return DomainEdgeCase, true
	}
	return "", false
}

// StageStatus represents the status of a pipeline stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "/pending"
	StageRunning   StageStatus = "/running"
	StageCompleted StageStatus = "/completed"
	StageDegraded  StageStatus = "/degraded" // Partial output, run continues
	StageFailed    StageStatus = "/failed"   // Fatal, run aborts
	StageSkipped   StageStatus = "/skipped"  // Never executed (upstream fatal or cancel)
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	RunPending   RunStatus = "/pending"
	RunActive    RunStatus = "/active"
	RunCompleted RunStatus = "/completed"
	RunFailed    RunStatus = "/failed"
	RunCancelled RunStatus = "/cancelled"
)

// FeatureSource records which entry stage variant produced a Feature.
type FeatureSource string

const (
	SourceRequirement FeatureSource = "/requirement"
	SourceDiscovered  FeatureSource = "/discovered"
)

// Feature is a discrete testable capability extracted by an entry stage.
type Feature struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Source      FeatureSource `json:"source"`
	Category    string        `json:"category"` // authentication, data_management, workflow, ...
	Confidence  float64       `json:"confidence"`
	// Ordinal is the creation index within the run. Downstream tie-breaking
	// uses it so allocation stays deterministic for a frozen FeatureSet.
	Ordinal int `json:"ordinal"`
}

// FeatureSet is the complete entry-stage output for one run.
type FeatureSet struct {
	Features []Feature          `json:"features"`
	Surface  *DiscoveredSurface `json:"surface,omitempty"` // Discovery mode only
}

// ByID returns the feature with the given id, if present.
func (fs *FeatureSet) ByID(id string) (Feature, bool) {
	for _, f := range fs.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// DiscoveredSurface captures what live probing found on a target.
type DiscoveredSurface struct {
	BaseURL     string       `json:"base_url"`
	Endpoints   []Endpoint   `json:"endpoints,omitempty"`
	Elements    []UIElement  `json:"elements,omitempty"`
	Workflows   []Workflow   `json:"workflows,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"` // Partial-discovery probe failures
	SourceHints []SourceHint `json:"source_hints,omitempty"`
}

// Endpoint describes a discovered or spec-declared HTTP endpoint.
type Endpoint struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	Summary      string `json:"summary,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"` // Last observed probe status
	FromSpec     bool   `json:"from_spec,omitempty"`   // Declared in an API spec vs. probed
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

// UIElement describes an interactive element found on a probed page.
type UIElement struct {
	Kind     string `json:"kind"` // form, input, button, link
	Selector string `json:"selector,omitempty"`
	Label    string `json:"label,omitempty"`
	PageURL  string `json:"page_url"`
}

// Workflow is a multi-step user journey inferred from the surface.
type Workflow struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// SourceHint is a feature signal extracted from an optional source bundle.
type SourceHint struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"` // function, class, route
	Name       string `json:"name"`
	Complexity int    `json:"complexity,omitempty"`
}

// RiskDimension identifies one axis of the risk matrix.
type RiskDimension string

const (
	RiskBusiness    RiskDimension = "/business"
	RiskTechnical   RiskDimension = "/technical"
	RiskSecurity    RiskDimension = "/security"
	RiskPerformance RiskDimension = "/performance"
)

// AllRiskDimensions lists the four scored dimensions in canonical order.
func AllRiskDimensions() []RiskDimension {
	return []RiskDimension{RiskBusiness, RiskTechnical, RiskSecurity, RiskPerformance}
}

// RiskScore scores one feature on one dimension, 0-100.
type RiskScore struct {
	FeatureID string        `json:"feature_id"`
	Dimension RiskDimension `json:"dimension"`
	Severity  int           `json:"severity"` // 0-100
	Rationale string        `json:"rationale,omitempty"`
}

// RiskMatrix holds every RiskScore for a run plus composite priorities.
type RiskMatrix struct {
	Scores []RiskScore `json:"scores"`
	// Composite maps feature id -> weighted composite priority 0-100.
	Composite map[string]int `json:"composite"`
}

// ScoresFor returns all dimension scores referencing a feature.
func (m *RiskMatrix) ScoresFor(featureID string) []RiskScore {
	var out []RiskScore
	for _, s := range m.Scores {
		if s.FeatureID == featureID {
			out = append(out, s)
		}
	}
	return out
}

// DimensionScore returns the severity for one feature/dimension pair,
// or -1 when the matrix has no such score.
func (m *RiskMatrix) DimensionScore(featureID string, dim RiskDimension) int {
	for _, s := range m.Scores {
		if s.FeatureID == featureID && s.Dimension == dim {
			return s.Severity
		}
	}
	return -1
}

// TestPriority buckets a composite risk priority for display.
type TestPriority string

const (
	PriorityCritical TestPriority = "/critical" // composite >= 80
	PriorityHigh     TestPriority = "/high"     // composite >= 60
	PriorityNormal   TestPriority = "/normal"   // composite >= 35
	PriorityLow      TestPriority = "/low"
)

// PriorityFor buckets a 0-100 composite score.
func PriorityFor(composite int) TestPriority {
	switch {
	case composite >= 80:
		return PriorityCritical
	case composite >= 60:
		return PriorityHigh
	case composite >= 35:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// TestCase is a generated test descriptor for one domain.
type TestCase struct {
	ID              string   `json:"id"`
	Domain          Domain   `json:"domain"`
	TargetFeatureID string   `json:"target_feature_id"`
	Title           string   `json:"title"`
	Preconditions   []string `json:"preconditions,omitempty"`
	Steps           []string `json:"steps"`
	ExpectedResult  string   `json:"expected_result"`
	// Priority is copied from the matching composite risk score at creation
	// time and never recomputed afterwards.
	Priority TestPriority `json:"priority"`
	Variant  string       `json:"variant,omitempty"` // nominal, boundary, negative
}

// TestCaseSet is the output of one domain generator.
type TestCaseSet struct {
	Domain   Domain     `json:"domain"`
	Cases    []TestCase `json:"cases"`
	Degraded bool       `json:"degraded,omitempty"`
	Reason   string     `json:"degradation_reason,omitempty"`
}

// FrameworkTarget identifies a test-framework synthesis target.
type FrameworkTarget string

const (
	FrameworkGoTest     FrameworkTarget = "/go_test"
	FrameworkPytest     FrameworkTarget = "/pytest"
	FrameworkK6         FrameworkTarget = "/k6"
	FrameworkPlaywright FrameworkTarget = "/playwright"
)

// ExecutableArtifact is generated test source for one framework target.
type ExecutableArtifact struct {
	ID          string          `json:"id"`
	Framework   FrameworkTarget `json:"framework"`
	Filename    string          `json:"filename"`
	Source      string          `json:"source"`
	TestCaseIDs []string        `json:"test_case_ids"`
	Placeholder bool            `json:"placeholder,omitempty"` // Unsupported domain/framework combo
}

// ManifestEntry maps a TestCase to the artifact implementing it.
type ManifestEntry struct {
	TestCaseID string          `json:"test_case_id"`
	ArtifactID string          `json:"artifact_id"`
	Framework  FrameworkTarget `json:"framework"`
	Location   string          `json:"location"` // filename within the bundle
}

// SynthesisResult bundles artifacts with their traceability manifest.
type SynthesisResult struct {
	Artifacts []ExecutableArtifact `json:"artifacts"`
	Manifest  []ManifestEntry      `json:"manifest"`
}

// ExecutionStatus is the terminal status of one executed test case.
type ExecutionStatus string

const (
	ExecPassed  ExecutionStatus = "/passed"
	ExecFailed  ExecutionStatus = "/failed"
	ExecError   ExecutionStatus = "/error"
	ExecSkipped ExecutionStatus = "/skipped"
)

// ExecutionResult records the outcome of one test case execution.
type ExecutionResult struct {
	TestCaseID string          `json:"test_case_id"`
	Status     ExecutionStatus `json:"status"`
	DurationMs int64           `json:"duration_ms"`
	Message    string          `json:"message,omitempty"`
}

// Readiness classifies the final quality verdict.
type Readiness string

const (
	ReadinessReady       Readiness = "/ready"       // overall >= 85
	ReadinessConditional Readiness = "/conditional" // 60-84
	ReadinessNotReady    Readiness = "/not_ready"   // < 60
)

// Recommendation is an actionable finding attached to the verdict.
type Recommendation struct {
	Domain     Domain   `json:"domain"`
	Message    string   `json:"message"`
	FeatureIDs []string `json:"feature_ids,omitempty"` // Low-scoring features cited
	Blocking   bool     `json:"blocking,omitempty"`
}

// QualityVerdict is the final scored summary of a run. It is created exactly
// once per run and never mutated afterwards.
type QualityVerdict struct {
	OverallScore    int              `json:"overall_score"` // 0-100
	DomainScores    map[Domain]int   `json:"domain_scores"`
	DegradedDomains []Domain         `json:"degraded_domains,omitempty"`
	Readiness       Readiness        `json:"readiness"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// DegradationRecord captures a non-fatal stage failure on the Run entity.
type DegradationRecord struct {
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Run is the top-level record for one pipeline execution. It owns one
// context instance for its lifetime; there is no cross-run persistence
// beyond the archive store.
type Run struct {
	ID            string                 `json:"run_id"`
	Mode          RunMode                `json:"mode"`
	Status        RunStatus              `json:"status"`
	StageStatuses map[string]StageStatus `json:"stage_statuses"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       time.Time              `json:"ended_at,omitempty"`
	Degradations  []DegradationRecord    `json:"degradations,omitempty"`
}
