package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"qaforge/internal/config"
	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// Stage names as they appear in Run.StageStatuses and events. Domain
// generators additionally get per-domain keys via GeneratorPartition.
const (
	StageEntry     = "entry"
	StageRisk      = "risk"
	StageGenerate  = "generate"
	StageSynthesis = "synthesis"
	StageAudit     = "audit"
	StageExecution = "execution"
	StageScoring   = "scoring"
)

// pipelineStages lists the aggregate stages in execution order.
func pipelineStages() []string {
	return []string{
		StageEntry,
		StageRisk,
		StageGenerate,
		StageSynthesis,
		StageExecution,
		StageScoring,
	}
}

// runState tracks one in-flight or finished run.
type runState struct {
	run    *types.Run
	rctx   *Context
	events *eventLog
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator sequences the stage pipeline for any number of concurrent
// runs. Each run owns one context instance; stage outputs are published by
// the orchestrator alone so that cancellation can discard partial output.
type Orchestrator struct {
	mu     sync.RWMutex
	stages Stages
	cfg    *config.Config
	runs   map[string]*runState

	// generatorTimeout bounds each domain generator invocation. Zero means
	// the LLM layer's own timeout is the only bound.
	generatorTimeout time.Duration
}

// NewOrchestrator creates an orchestrator over the given stage wiring.
func NewOrchestrator(cfg *config.Config, stages Stages) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Orchestrator{
		stages: stages,
		cfg:    cfg,
		runs:   make(map[string]*runState),
	}
}

// SetGeneratorTimeout bounds each domain generator invocation.
func (o *Orchestrator) SetGeneratorTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generatorTimeout = d
}

// StartRun validates the run config, registers a new run, and launches the
// pipeline in the background. It returns the run id immediately.
func (o *Orchestrator) StartRun(ctx context.Context, rc RunConfig) (string, error) {
	switch rc.Mode {
	case types.ModeRequirement:
		if rc.RequirementText == "" {
			return "", fmt.Errorf("requirement mode needs requirement text")
		}
		if o.stages.RequirementInterpreter == nil {
			return "", fmt.Errorf("no requirement interpreter wired")
		}
	case types.ModeDiscovery:
		if rc.Target == nil || rc.Target.BaseURL == "" {
			return "", fmt.Errorf("discovery mode needs a target base URL")
		}
		if o.stages.ApplicationDiscoverer == nil {
			return "", fmt.Errorf("no application discoverer wired")
		}
	default:
		return "", fmt.Errorf("unknown run mode %q", rc.Mode)
	}

	if len(rc.Domains) == 0 {
		rc.Domains = types.AllDomains()
	}
	for _, d := range rc.Domains {
		if _, ok := o.stages.Generators[d]; !ok {
			return "", fmt.Errorf("no generator wired for domain %s", d)
		}
	}

	runID := uuid.New().String()
	run := &types.Run{
		ID:            runID,
		Mode:          rc.Mode,
		Status:        types.RunActive,
		StageStatuses: make(map[string]types.StageStatus),
		StartedAt:     time.Now(),
	}
	for _, s := range pipelineStages() {
		run.StageStatuses[s] = types.StagePending
	}
	for _, d := range rc.Domains {
		run.StageStatuses[GeneratorPartition(d)] = types.StagePending
	}

	rctx := NewContext()
	if err := rctx.Publish(PartitionConfig, rc); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	st := &runState{
		run:    run,
		rctx:   rctx,
		events: newEventLog(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[runID] = st
	o.mu.Unlock()

	logging.Orchestrator("run %s started (mode=%s domains=%d)", runID, rc.Mode, len(rc.Domains))
	go o.execute(runCtx, st, rc)

	return runID, nil
}

// Status returns a snapshot of the run record.
func (o *Orchestrator) Status(runID string) (*types.Run, error) {
	st, err := o.state(runID)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := *st.run
	snap.StageStatuses = make(map[string]types.StageStatus, len(st.run.StageStatuses))
	for k, v := range st.run.StageStatuses {
		snap.StageStatuses[k] = v
	}
	snap.Degradations = append([]types.DegradationRecord(nil), st.run.Degradations...)
	return &snap, nil
}

// Result returns the run's context once the run has finished. It errors while
// the run is still active.
func (o *Orchestrator) Result(runID string) (*Context, error) {
	st, err := o.state(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-st.done:
		return st.rctx, nil
	default:
		return nil, fmt.Errorf("run %s still active", runID)
	}
}

// Wait blocks until the run finishes or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, runID string) error {
	st, err := o.state(runID)
	if err != nil {
		return err
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops an active run. Stages that never executed end up /skipped;
// in-flight capability output is discarded rather than published.
func (o *Orchestrator) Cancel(runID string) error {
	st, err := o.state(runID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	active := st.run.Status == types.RunActive
	o.mu.Unlock()
	if !active {
		return fmt.Errorf("run %s is not active", runID)
	}

	logging.Orchestrator("run %s cancel requested", runID)
	st.cancel()
	return nil
}

// Events returns a channel of progress events for a run. The channel is
// closed when the run finishes.
func (o *Orchestrator) Events(runID string) (<-chan Event, error) {
	st, err := o.state(runID)
	if err != nil {
		return nil, err
	}
	return st.events.subscribe(), nil
}

// EventHistory returns all events emitted so far for a run.
func (o *Orchestrator) EventHistory(runID string) ([]Event, error) {
	st, err := o.state(runID)
	if err != nil {
		return nil, err
	}
	return st.events.snapshot(), nil
}

// ListRuns returns the ids of all known runs.
func (o *Orchestrator) ListRuns() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) state(runID string) (*runState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.runs[runID]
	if !ok {
		return nil, fmt.Errorf("unknown run %s", runID)
	}
	return st, nil
}

// execute drives the pipeline for one run. It is the only goroutine that
// publishes into the run context.
func (o *Orchestrator) execute(ctx context.Context, st *runState, rc RunConfig) {
	defer close(st.done)
	defer st.events.close()
	defer st.cancel()

	timer := logging.StartTimer(logging.CategoryOrchestrator, "run "+st.run.ID)
	defer timer.Stop()

	// Entry stage. Zero features is the one fatal condition in the
	// pipeline: nothing downstream can produce meaningful output.
	entry := o.stages.RequirementInterpreter
	if rc.Mode == types.ModeDiscovery {
		entry = o.stages.ApplicationDiscoverer
	}
	if !o.runStage(ctx, st, StageEntry, PartitionFeatures, entry) {
		return
	}

	if !o.runStage(ctx, st, StageRisk, PartitionRisk, o.stages.RiskAssessor) {
		return
	}

	if !o.runGenerators(ctx, st, rc) {
		return
	}

	if !o.runStage(ctx, st, StageSynthesis, PartitionSynthesis, o.stages.Synthesizer) {
		return
	}

	// The traceability audit is advisory. It has no aggregate stage slot;
	// failures degrade silently into the run record.
	if o.stages.Auditor != nil {
		o.runAudit(ctx, st)
	}

	if !o.runStage(ctx, st, StageExecution, PartitionExecution, o.stages.Executor) {
		return
	}

	if !o.runStage(ctx, st, StageScoring, PartitionVerdict, o.stages.Scorer) {
		return
	}

	o.finishRun(st, types.RunCompleted)
	st.events.emit(Event{Type: EventRunCompleted})
	logging.Orchestrator("run %s completed", st.run.ID)
}

// runStage executes one aggregate stage and classifies the outcome. It
// returns false when the run must stop (fatal error or cancellation).
func (o *Orchestrator) runStage(ctx context.Context, st *runState, stage, partition string, cap Capability) bool {
	if err := ctx.Err(); err != nil {
		o.abortRun(st, stage, types.RunCancelled)
		return false
	}

	o.setStageStatus(st, stage, types.StageRunning)
	st.events.emit(Event{Type: EventStageStarted, Stage: stage})
	logging.Orchestrator("run %s stage %s started", st.run.ID, stage)

	value, err := cap.Invoke(ctx, st.rctx)

	if ctx.Err() != nil {
		// Cancellation arrived while the stage ran. Discard whatever the
		// capability produced; a cancelled run publishes nothing further.
		o.abortRun(st, stage, types.RunCancelled)
		return false
	}

	switch {
	case err == nil:
		if pubErr := st.rctx.Publish(partition, value); pubErr != nil {
			o.recordDegradation(st, stage, pubErr.Error())
			o.setStageStatus(st, stage, types.StageDegraded)
			st.events.emit(Event{Type: EventStageDegraded, Stage: stage, Message: pubErr.Error()})
			return true
		}
		o.setStageStatus(st, stage, types.StageCompleted)
		st.events.emit(Event{Type: EventStageCompleted, Stage: stage})
		return true

	case IsFatal(err):
		logging.Get(logging.CategoryOrchestrator).Error("run %s stage %s fatal: %v", st.run.ID, stage, err)
		o.setStageStatus(st, stage, types.StageFailed)
		st.events.emit(Event{Type: EventStageFailed, Stage: stage, Message: err.Error()})
		o.skipRemaining(st, stage)
		o.finishRun(st, types.RunFailed)
		st.events.emit(Event{Type: EventRunFailed, Message: err.Error()})
		return false

	default:
		// Degraded or plain error: publish what we got (possibly empty) and
		// keep going with reduced artifacts.
		reason := err.Error()
		if value != nil {
			if pubErr := st.rctx.Publish(partition, value); pubErr != nil {
				reason = reason + "; " + pubErr.Error()
			}
		}
		logging.Get(logging.CategoryOrchestrator).Warn("run %s stage %s degraded: %s", st.run.ID, stage, reason)
		o.recordDegradation(st, stage, reason)
		o.setStageStatus(st, stage, types.StageDegraded)
		st.events.emit(Event{Type: EventStageDegraded, Stage: stage, Message: reason})
		return true
	}
}

// runGenerators fans the selected domain generators out concurrently. Each
// generator owns a disjoint context partition, so publishes cannot conflict.
// A generator failure degrades only its own domain; siblings are unaffected.
func (o *Orchestrator) runGenerators(ctx context.Context, st *runState, rc RunConfig) bool {
	if err := ctx.Err(); err != nil {
		o.abortRun(st, StageGenerate, types.RunCancelled)
		return false
	}

	o.setStageStatus(st, StageGenerate, types.StageRunning)
	st.events.emit(Event{Type: EventStageStarted, Stage: StageGenerate})

	o.mu.RLock()
	genTimeout := o.generatorTimeout
	o.mu.RUnlock()

	var (
		pubMu       sync.Mutex
		anyDegraded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range rc.Domains {
		domain := d
		cap := o.stages.Generators[domain]
		stageKey := GeneratorPartition(domain)

		o.setStageStatus(st, stageKey, types.StageRunning)
		st.events.emit(Event{Type: EventStageStarted, Stage: stageKey})

		g.Go(func() error {
			invokeCtx := gctx
			var cancel context.CancelFunc
			if genTimeout > 0 {
				invokeCtx, cancel = context.WithTimeout(gctx, genTimeout)
				defer cancel()
			}

			value, err := cap.Invoke(invokeCtx, st.rctx)

			// Guarded publish: results arriving after cancellation are
			// discarded so a cancelled run stays consistent.
			pubMu.Lock()
			defer pubMu.Unlock()
			if ctx.Err() != nil {
				return nil
			}

			switch {
			case err == nil:
				if pubErr := st.rctx.Publish(stageKey, value); pubErr != nil {
					o.recordDegradation(st, stageKey, pubErr.Error())
					o.setStageStatus(st, stageKey, types.StageDegraded)
					anyDegraded = true
					return nil
				}
				o.setStageStatus(st, stageKey, types.StageCompleted)
				st.events.emit(Event{Type: EventStageCompleted, Stage: stageKey})

			default:
				// Never propagate: a failing generator must not cancel its
				// siblings through the group context.
				reason := err.Error()
				logging.Get(logging.CategoryOrchestrator).Warn("run %s generator %s degraded: %s", st.run.ID, domain, reason)
				var pubErr error
				if value != nil {
					pubErr = st.rctx.Publish(stageKey, value)
				} else {
					pubErr = st.rctx.Publish(stageKey, &types.TestCaseSet{
						Domain:   domain,
						Degraded: true,
						Reason:   reason,
					})
				}
				if pubErr != nil {
					o.recordDegradation(st, stageKey, pubErr.Error())
				}
				o.recordDegradation(st, stageKey, reason)
				o.setStageStatus(st, stageKey, types.StageDegraded)
				st.events.emit(Event{Type: EventStageDegraded, Stage: stageKey, Message: reason})
				anyDegraded = true
			}
			return nil
		})
	}

	g.Wait()

	if ctx.Err() != nil {
		o.abortRun(st, StageGenerate, types.RunCancelled)
		return false
	}

	if anyDegraded {
		o.setStageStatus(st, StageGenerate, types.StageDegraded)
		st.events.emit(Event{Type: EventStageDegraded, Stage: StageGenerate})
	} else {
		o.setStageStatus(st, StageGenerate, types.StageCompleted)
		st.events.emit(Event{Type: EventStageCompleted, Stage: StageGenerate})
	}
	return true
}

// runAudit runs the optional traceability auditor. Audit failure never
// affects the pipeline beyond a degradation record.
func (o *Orchestrator) runAudit(ctx context.Context, st *runState) {
	if ctx.Err() != nil {
		return
	}
	value, err := o.stages.Auditor.Invoke(ctx, st.rctx)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("run %s audit degraded: %v", st.run.ID, err)
		o.recordDegradation(st, StageAudit, err.Error())
		return
	}
	if pubErr := st.rctx.Publish(PartitionAudit, value); pubErr != nil {
		o.recordDegradation(st, StageAudit, pubErr.Error())
	}
}

// abortRun handles cancellation observed at a stage boundary: the current
// stage and everything after it become /skipped.
func (o *Orchestrator) abortRun(st *runState, currentStage string, status types.RunStatus) {
	o.setStageStatus(st, currentStage, types.StageSkipped)
	o.skipRemaining(st, currentStage)
	o.finishRun(st, status)
	st.events.emit(Event{Type: EventRunCancelled})
	logging.Orchestrator("run %s cancelled at stage %s", st.run.ID, currentStage)
}

// skipRemaining marks every stage after the given one /skipped, including
// per-domain generator slots still pending.
func (o *Orchestrator) skipRemaining(st *runState, afterStage string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	passed := false
	for _, s := range pipelineStages() {
		if s == afterStage {
			passed = true
			continue
		}
		if passed && st.run.StageStatuses[s] == types.StagePending {
			st.run.StageStatuses[s] = types.StageSkipped
		}
	}
	for key, status := range st.run.StageStatuses {
		if strings.HasPrefix(key, StageGenerate+"/") &&
			(status == types.StagePending || status == types.StageRunning) {
			st.run.StageStatuses[key] = types.StageSkipped
		}
	}
}

func (o *Orchestrator) setStageStatus(st *runState, stage string, status types.StageStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.run.StageStatuses[stage] = status
}

func (o *Orchestrator) recordDegradation(st *runState, stage, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.run.Degradations = append(st.run.Degradations, types.DegradationRecord{
		Stage:     stage,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) finishRun(st *runState, status types.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.run.Status = status
	st.run.EndedAt = time.Now()
}
