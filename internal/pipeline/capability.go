package pipeline

import (
	"context"

	"qaforge/internal/types"
)

// Capability is the uniform interface wrapping any pipeline unit. A
// capability reads its inputs from the shared run context and returns the
// partition it wants published. Capabilities never publish directly; the
// orchestrator owns all writes so that cancellation can discard partial
// output instead of merging it.
type Capability interface {
	// Name identifies the capability for logging and degradation records.
	Name() string

	// Invoke runs the capability against the current run context. The
	// returned error may be a *FatalStageError (aborts the run), a
	// *DegradedStageError (value is still published, degradation recorded),
	// or any other error (treated as a degradation with an empty value).
	Invoke(ctx context.Context, rc *Context) (interface{}, error)
}

// RunConfig selects the entry mode and scope for one run. It is published
// into the run context as the config partition so entry capabilities can
// read their input through the same contract as every other stage.
type RunConfig struct {
	Mode            types.RunMode
	Domains         []types.Domain
	RequirementText string
	Hints           []string // Domain/compliance hints for requirement mode
	Target          *TargetDescriptor
}

// TargetDescriptor points the Application Discoverer at a reachable system.
type TargetDescriptor struct {
	BaseURL   string
	SpecPath  string // Optional OpenAPI/Swagger document
	SourceDir string // Optional source bundle for feature hints
}

// Stages wires the concrete capabilities the orchestrator sequences.
// Generators holds one capability per supported domain; the run config
// selects which of them actually execute.
type Stages struct {
	RequirementInterpreter Capability
	ApplicationDiscoverer  Capability
	RiskAssessor           Capability
	Generators             map[types.Domain]Capability
	Synthesizer            Capability
	Auditor                Capability // Optional traceability audit after synthesis
	Executor               Capability
	Scorer                 Capability
}
