// Package scoring computes the final quality verdict for a run. The scorer
// is pure: it reads frozen partitions and derives the verdict, so scoring
// the same context twice yields the identical verdict.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// Scorer implements the scoring stage.
type Scorer struct {
	coverageWeight  float64
	passRatioWeight float64
}

// New creates a scorer with the per-domain blend weights. Weights are
// normalized to sum to 1; non-positive configurations collapse to 0.5/0.5.
func New(coverage, passRatio float64) *Scorer {
	if coverage < 0 {
		coverage = 0
	}
	if passRatio < 0 {
		passRatio = 0
	}
	sum := coverage + passRatio
	if sum <= 0 {
		coverage, passRatio, sum = 0.5, 0.5, 1
	}
	return &Scorer{coverageWeight: coverage / sum, passRatioWeight: passRatio / sum}
}

// Name implements pipeline.Capability.
func (s *Scorer) Name() string { return "score" }

// Invoke derives the QualityVerdict. A missing execution partition still
// yields a verdict (coverage-only scoring) but degrades the stage.
func (s *Scorer) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	fs, ok := rc.FeatureSet()
	if !ok || len(fs.Features) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: s.Name(), Reason: "no feature set to score against"}
	}
	sets := rc.TestCaseSets()
	if len(sets) == 0 {
		return nil, &pipeline.DegradedStageError{Stage: s.Name(), Reason: "no test case sets to score"}
	}
	matrix, _ := rc.RiskMatrix()
	results, haveResults := rc.ExecutionResults()

	statusByCase := make(map[string]types.ExecutionStatus, len(results))
	for _, r := range results {
		statusByCase[r.TestCaseID] = r.Status
	}
	top := topPriorityFeatures(fs, matrix)

	verdict := &types.QualityVerdict{DomainScores: make(map[types.Domain]int, len(sets))}

	var (
		weightedSum float64
		weightTotal float64
	)
	for _, set := range sets {
		if set.Degraded {
			verdict.DegradedDomains = append(verdict.DegradedDomains, set.Domain)
		}

		ds := s.domainScore(set, top, statusByCase)
		verdict.DomainScores[set.Domain] = ds.score

		weight := domainWeight(set, matrix)
		weightedSum += float64(ds.score) * weight
		weightTotal += weight

		if rec, ok := recommendationFor(set.Domain, ds); ok {
			verdict.Recommendations = append(verdict.Recommendations, rec)
		}
	}

	if weightTotal > 0 {
		verdict.OverallScore = int(math.Round(weightedSum / weightTotal))
	}
	verdict.Readiness = readinessFor(verdict.OverallScore)

	if !haveResults {
		verdict.Recommendations = append(verdict.Recommendations, types.Recommendation{
			Message:  "no execution results: scores reflect coverage only",
			Blocking: false,
		})
	}

	logging.Scoring("verdict: overall=%d readiness=%s domains=%d degraded=%d",
		verdict.OverallScore, verdict.Readiness, len(verdict.DomainScores), len(verdict.DegradedDomains))

	if !haveResults {
		return verdict, &pipeline.DegradedStageError{Stage: s.Name(), Reason: "scored without execution results"}
	}
	return verdict, nil
}

// domainStats carries the intermediates a recommendation needs.
type domainStats struct {
	score           int
	coverage        float64
	passRatio       float64
	failingFeatures []string
}

// topPriorityFeatures selects the features coverage is measured against:
// those whose composite lands in the high or critical priority bucket. When
// none qualify, or no matrix exists, every feature counts.
func topPriorityFeatures(fs *types.FeatureSet, matrix *types.RiskMatrix) map[string]bool {
	top := make(map[string]bool, len(fs.Features))
	if matrix != nil {
		for _, f := range fs.Features {
			switch types.PriorityFor(matrix.Composite[f.ID]) {
			case types.PriorityCritical, types.PriorityHigh:
				top[f.ID] = true
			}
		}
	}
	if len(top) == 0 {
		for _, f := range fs.Features {
			top[f.ID] = true
		}
	}
	return top
}

// domainScore blends feature coverage with the execution pass ratio.
// Coverage is the share of top-priority features the domain's cases target;
// the pass ratio counts only cases that actually ran.
func (s *Scorer) domainScore(set *types.TestCaseSet, top map[string]bool, statusByCase map[string]types.ExecutionStatus) domainStats {
	covered := make(map[string]bool)
	failing := make(map[string]bool)
	var passed, executed int
	for _, c := range set.Cases {
		covered[c.TargetFeatureID] = true
		switch statusByCase[c.ID] {
		case types.ExecPassed:
			passed++
			executed++
		case types.ExecFailed, types.ExecError:
			executed++
			failing[c.TargetFeatureID] = true
		}
	}

	stats := domainStats{}
	if len(top) > 0 {
		var coveredTop int
		for id := range covered {
			if top[id] {
				coveredTop++
			}
		}
		stats.coverage = float64(coveredTop) / float64(len(top))
	}
	if executed > 0 {
		stats.passRatio = float64(passed) / float64(executed)
	}
	stats.score = int(math.Round(100 * (s.coverageWeight*stats.coverage + s.passRatioWeight*stats.passRatio)))

	for id := range failing {
		stats.failingFeatures = append(stats.failingFeatures, id)
	}
	sort.Strings(stats.failingFeatures)
	return stats
}

// domainWeight weights a domain's contribution by the composite risk of the
// features it targets, so risky domains dominate the overall score.
func domainWeight(set *types.TestCaseSet, matrix *types.RiskMatrix) float64 {
	if matrix == nil || len(set.Cases) == 0 {
		return 1
	}
	seen := make(map[string]bool)
	var sum, n float64
	for _, c := range set.Cases {
		if seen[c.TargetFeatureID] {
			continue
		}
		seen[c.TargetFeatureID] = true
		if composite, ok := matrix.Composite[c.TargetFeatureID]; ok {
			sum += float64(composite)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	// Average composite scaled to keep weights near 1 for median risk.
	return (sum / n) / 50
}

func recommendationFor(domain types.Domain, ds domainStats) (types.Recommendation, bool) {
	if ds.score >= 60 {
		return types.Recommendation{}, false
	}
	rec := types.Recommendation{
		Domain:     domain,
		FeatureIDs: ds.failingFeatures,
		Blocking:   domain == types.DomainSecurity,
	}
	switch {
	case ds.coverage < 0.5 && ds.passRatio < 0.5:
		rec.Message = fmt.Sprintf("%s: low coverage (%.0f%%) and low pass ratio (%.0f%%)", label(domain), ds.coverage*100, ds.passRatio*100)
	case ds.coverage < 0.5:
		rec.Message = fmt.Sprintf("%s: only %.0f%% of features covered", label(domain), ds.coverage*100)
	default:
		rec.Message = fmt.Sprintf("%s: pass ratio %.0f%% below threshold", label(domain), ds.passRatio*100)
	}
	return rec, true
}

func readinessFor(score int) types.Readiness {
	switch {
	case score >= 85:
		return types.ReadinessReady
	case score >= 60:
		return types.ReadinessConditional
	default:
		return types.ReadinessNotReady
	}
}

func label(d types.Domain) string {
	return string(d)[1:]
}
