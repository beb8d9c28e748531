package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"qaforge/internal/types"
)

// Context is the shared, append-only store for all stage outputs within one
// run. Partitions are keyed by stage name; once a stage publishes its
// partition no later stage may replace it. Domain generators write disjoint
// partitions (generate/<domain>), so concurrent publication is conflict-free
// by construction and reads never race with writes to the same key.
type Context struct {
	mu         sync.RWMutex
	partitions map[string]interface{}
}

// NewContext creates an empty run context.
func NewContext() *Context {
	return &Context{partitions: make(map[string]interface{})}
}

// Publish appends a partition. Publishing an existing key is an error; the
// store is strictly append-only to prevent cross-stage corruption.
func (c *Context) Publish(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.partitions[key]; exists {
		return fmt.Errorf("partition %q already published (context is append-only)", key)
	}
	c.partitions[key] = value
	return nil
}

// Get returns the raw partition value for a key.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.partitions[key]
	return v, ok
}

// Keys returns all published partition keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.partitions))
	for k := range c.partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Partition keys used by the standard pipeline stages.
const (
	PartitionConfig    = "config"
	PartitionFeatures  = "entry"
	PartitionRisk      = "risk"
	PartitionSynthesis = "synthesis"
	PartitionAudit     = "audit"
	PartitionExecution = "execution"
	PartitionVerdict   = "scoring"
)

// GeneratorPartition returns the partition key a domain generator owns.
func GeneratorPartition(domain types.Domain) string {
	return "generate" + string(domain)
}

// RunConfig returns the run configuration partition.
func (c *Context) RunConfig() (RunConfig, bool) {
	v, ok := c.Get(PartitionConfig)
	if !ok {
		return RunConfig{}, false
	}
	cfg, ok := v.(RunConfig)
	return cfg, ok
}

// FeatureSet returns the entry stage output.
func (c *Context) FeatureSet() (*types.FeatureSet, bool) {
	v, ok := c.Get(PartitionFeatures)
	if !ok {
		return nil, false
	}
	fs, ok := v.(*types.FeatureSet)
	return fs, ok
}

// RiskMatrix returns the risk stage output.
func (c *Context) RiskMatrix() (*types.RiskMatrix, bool) {
	v, ok := c.Get(PartitionRisk)
	if !ok {
		return nil, false
	}
	m, ok := v.(*types.RiskMatrix)
	return m, ok
}

// TestCaseSets returns every published generator partition, ordered by the
// canonical domain order for deterministic downstream merging.
func (c *Context) TestCaseSets() []*types.TestCaseSet {
	var sets []*types.TestCaseSet
	for _, d := range types.AllDomains() {
		if v, ok := c.Get(GeneratorPartition(d)); ok {
			if set, ok := v.(*types.TestCaseSet); ok {
				sets = append(sets, set)
			}
		}
	}
	return sets
}

// Synthesis returns the synthesizer output.
func (c *Context) Synthesis() (*types.SynthesisResult, bool) {
	v, ok := c.Get(PartitionSynthesis)
	if !ok {
		return nil, false
	}
	s, ok := v.(*types.SynthesisResult)
	return s, ok
}

// AuditFindings returns traceability audit findings, if published.
func (c *Context) AuditFindings() []string {
	v, ok := c.Get(PartitionAudit)
	if !ok {
		return nil
	}
	findings, _ := v.([]string)
	return findings
}

// ExecutionResults returns the executor output.
func (c *Context) ExecutionResults() ([]types.ExecutionResult, bool) {
	v, ok := c.Get(PartitionExecution)
	if !ok {
		return nil, false
	}
	res, ok := v.([]types.ExecutionResult)
	return res, ok
}

// Verdict returns the quality verdict.
func (c *Context) Verdict() (*types.QualityVerdict, bool) {
	v, ok := c.Get(PartitionVerdict)
	if !ok {
		return nil, false
	}
	q, ok := v.(*types.QualityVerdict)
	return q, ok
}
