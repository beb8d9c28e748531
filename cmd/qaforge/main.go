package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qaforge/internal/config"
	"qaforge/internal/discovery"
	"qaforge/internal/execution"
	"qaforge/internal/export"
	"qaforge/internal/generate"
	"qaforge/internal/interpret"
	"qaforge/internal/llm"
	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/risk"
	"qaforge/internal/scoring"
	"qaforge/internal/store"
	"qaforge/internal/synthesis"
	"qaforge/internal/trace"
	"qaforge/internal/types"
)

var (
	// Global flags
	workspace  string
	configPath string
	verbose    bool

	// Run flags
	requirement     string
	requirementFile string
	target          string
	specPath        string
	sourceDir       string
	domains         []string
	hints           []string
	strategy        string
	useBrowser      bool
	noExport        bool
	runTimeout      time.Duration

	// History flags
	historyLimit int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "qaforge",
	Short: "qaforge - risk-driven test suite generation",
	Long: `qaforge generates a complete, risk-prioritized test suite for an
application, either from a free-text requirement or by probing a running
target.

The pipeline extracts testable features, scores each one on four risk
dimensions, fans out six domain generators in parallel, synthesizes
executable artifacts per framework, executes them under a budget, and
scores the result into a release-readiness verdict. Every test case stays
traceable to the feature and risk score that produced it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var zerr error
		logger, zerr = zcfg.Build()
		if zerr != nil {
			return fmt.Errorf("failed to initialize logger: %w", zerr)
		}

		path := configPath
		if path == "" {
			path = filepath.Join(workspace, ".qaforge", "config.yaml")
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate and execute a test suite",
	Long: `Runs the full generation pipeline.

Requirement mode (default): provide the requirement via --requirement,
--requirement-file, or positional arguments.

Discovery mode: provide --target with a reachable base URL; qaforge probes
the application surface (optionally with a headless browser and an OpenAPI
document) and derives features from what it finds.

Examples:
  qaforge run "Users can reset their password via email"
  qaforge run --requirement-file reqs.md --domains unit,security
  qaforge run --target http://localhost:8080 --spec openapi.yaml`,
	RunE: runSuite,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived runs",
	RunE:  showHistory,
}

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show an archived run's verdict and stage outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Rebuild the export bundle for an archived run",
	Long: `Rebuilds the bundle (generated test sources, manifest, verdict, CI
configs, zip) for a run that was archived earlier, without re-running the
pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: exportRun,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.qaforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().StringVarP(&requirement, "requirement", "r", "", "Requirement text")
	runCmd.Flags().StringVar(&requirementFile, "requirement-file", "", "File containing the requirement text")
	runCmd.Flags().StringVarP(&target, "target", "t", "", "Target base URL (switches to discovery mode)")
	runCmd.Flags().StringVar(&specPath, "spec", "", "OpenAPI/Swagger document for the target")
	runCmd.Flags().StringVar(&sourceDir, "source", "", "Source directory to scan for feature hints")
	runCmd.Flags().StringSliceVar(&domains, "domains", nil, "Subset of domains (unit,integration,security,performance,ai_validation,edge_case)")
	runCmd.Flags().StringSliceVar(&hints, "hint", nil, "Domain or compliance hints for requirement interpretation")
	runCmd.Flags().StringVar(&strategy, "strategy", "", "Execution strategy: dry_run or live (default from config)")
	runCmd.Flags().BoolVar(&useBrowser, "browser", false, "Drive a headless browser during discovery")
	runCmd.Flags().BoolVar(&noExport, "no-export", false, "Skip writing the export bundle")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 20*time.Minute, "Overall run timeout")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSuite(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	rc, err := buildRunConfig(args)
	if err != nil {
		return err
	}

	stages, err := buildStages(ctx, rc)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(cfg, stages)
	runID, err := orch.StartRun(ctx, rc)
	if err != nil {
		return err
	}
	logger.Info("run started", zap.String("run_id", runID), zap.String("mode", string(rc.Mode)))
	fmt.Printf("run %s started (%s mode)\n", runID, strings.TrimPrefix(string(rc.Mode), "/"))

	events, err := orch.Events(runID)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\ncancelling run...")
		_ = orch.Cancel(runID)
	}()

	for ev := range events {
		printEvent(ev)
	}

	if err := orch.Wait(context.Background(), runID); err != nil {
		return err
	}
	return report(orch, runID)
}

// buildRunConfig assembles the pipeline run config from flags. A target URL
// switches to discovery mode; otherwise the requirement text is mandatory.
func buildRunConfig(args []string) (pipeline.RunConfig, error) {
	rc := pipeline.RunConfig{Hints: hints}

	for _, d := range domains {
		parsed, ok := types.ParseDomain(strings.TrimSpace(d))
		if !ok {
			return rc, fmt.Errorf("unknown domain %q", d)
		}
		rc.Domains = append(rc.Domains, parsed)
	}

	if target != "" {
		rc.Mode = types.ModeDiscovery
		rc.Target = &pipeline.TargetDescriptor{
			BaseURL:   target,
			SpecPath:  specPath,
			SourceDir: sourceDir,
		}
		return rc, nil
	}

	rc.Mode = types.ModeRequirement
	text := requirement
	if text == "" && requirementFile != "" {
		data, err := os.ReadFile(requirementFile)
		if err != nil {
			return rc, fmt.Errorf("failed to read requirement file: %w", err)
		}
		text = string(data)
	}
	if text == "" {
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return rc, fmt.Errorf("no requirement given; use --requirement, --requirement-file, or --target")
	}
	rc.RequirementText = text
	return rc, nil
}

// buildStages wires the concrete capabilities. Without an API key the
// pipeline still runs on heuristics and templates.
func buildStages(ctx context.Context, rc pipeline.RunConfig) (pipeline.Stages, error) {
	var client llm.Client
	if cfg.LLM.APIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			Timeout:    cfg.GetLLMTimeout(),
			MaxRetries: cfg.LLM.MaxRetries,
		})
		if err != nil {
			return pipeline.Stages{}, fmt.Errorf("failed to create model client: %w", err)
		}
		client = gemini
	} else {
		fmt.Println("warning: no API key configured, running on heuristics and templates only")
	}

	prober := discovery.NewHTTPProber(cfg.GetProbeTimeout(), cfg.Probe.MaxConcurrency, cfg.Probe.MaxPages)
	var browser *discovery.BrowserProber
	if useBrowser || cfg.Probe.UseBrowser {
		browser = discovery.NewBrowserProber(cfg.Probe.Headless, cfg.GetProbeTimeout())
	}

	strategyName := strategy
	if strategyName == "" {
		strategyName = cfg.Execution.Strategy
	}
	var execStrategy execution.Strategy
	switch strategyName {
	case "", "dry_run":
		execStrategy = execution.NewDryRunStrategy()
	case "live":
		baseURL := target
		if baseURL == "" {
			return pipeline.Stages{}, fmt.Errorf("live execution strategy needs --target")
		}
		execStrategy = execution.NewLiveStrategy(baseURL, cfg.GetPerTestTimeout())
	default:
		return pipeline.Stages{}, fmt.Errorf("unknown execution strategy %q", strategyName)
	}

	return pipeline.Stages{
		RequirementInterpreter: interpret.New(client),
		ApplicationDiscoverer:  discovery.New(prober, browser, discovery.NewSourceScanner()),
		RiskAssessor:           risk.New(client, cfg.RiskWeights()),
		Generators:             generate.NewAll(client),
		Synthesizer:            synthesis.New(),
		Auditor:                trace.New(),
		Executor:               execution.New(execStrategy, cfg.GetPerTestTimeout(), cfg.GetRunTimeout()),
		Scorer:                 scoring.New(cfg.Weights.Coverage, cfg.Weights.PassRatio),
	}, nil
}

func printEvent(ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventStageStarted:
		fmt.Printf("  ... %s\n", ev.Stage)
	case pipeline.EventStageCompleted:
		fmt.Printf("  ok  %s\n", ev.Stage)
	case pipeline.EventStageDegraded:
		if ev.Message != "" {
			fmt.Printf("  deg %s: %s\n", ev.Stage, ev.Message)
		} else {
			fmt.Printf("  deg %s\n", ev.Stage)
		}
	case pipeline.EventStageFailed:
		fmt.Printf("  FAIL %s: %s\n", ev.Stage, ev.Message)
	}
}

// report prints the outcome, archives the run, and writes the export bundle.
func report(orch *pipeline.Orchestrator, runID string) error {
	run, err := orch.Status(runID)
	if err != nil {
		return err
	}
	rctx, err := orch.Result(runID)
	if err != nil {
		return err
	}

	verdict, _ := rctx.Verdict()
	synth, _ := rctx.Synthesis()

	fmt.Printf("\nrun %s: %s\n", runID, run.Status)
	if verdict != nil {
		fmt.Printf("overall score: %d (%s)\n", verdict.OverallScore, verdict.Readiness)
		for _, d := range types.AllDomains() {
			if score, ok := verdict.DomainScores[d]; ok {
				fmt.Printf("  %-15s %d\n", strings.TrimPrefix(string(d), "/"), score)
			}
		}
		for _, rec := range verdict.Recommendations {
			marker := "-"
			if rec.Blocking {
				marker = "!"
			}
			fmt.Printf("  %s %s\n", marker, rec.Message)
		}
	}
	if findings := rctx.AuditFindings(); len(findings) > 0 {
		fmt.Println("audit findings:")
		for _, f := range findings {
			fmt.Printf("  - %s\n", f)
		}
	}
	for _, d := range run.Degradations {
		fmt.Printf("degraded: %s: %s\n", d.Stage, d.Reason)
	}

	archive, err := store.Open(resolvePath(cfg.Store.DatabasePath))
	if err != nil {
		logger.Warn("archive unavailable", zap.Error(err))
		fmt.Fprintf(os.Stderr, "warning: archive unavailable: %v\n", err)
	} else {
		defer archive.Close()
		if err := archive.SaveRun(run, verdict, synth); err != nil {
			logger.Warn("failed to archive run", zap.String("run_id", runID), zap.Error(err))
			fmt.Fprintf(os.Stderr, "warning: failed to archive run: %v\n", err)
		}
	}

	if !noExport && synth != nil && len(synth.Artifacts) > 0 {
		bundle, err := export.New(resolvePath(cfg.Export.OutputDir)).Export(run, synth, verdict)
		if err != nil {
			logger.Warn("export failed", zap.String("run_id", runID), zap.Error(err))
			fmt.Fprintf(os.Stderr, "warning: export failed: %v\n", err)
		} else {
			fmt.Printf("bundle: %s\n", bundle.Dir)
		}
	}

	if run.Status == types.RunFailed {
		return fmt.Errorf("run failed")
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(resolvePath(cfg.Store.DatabasePath))
	if err != nil {
		return err
	}
	defer archive.Close()

	runs, err := archive.History(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %-11s  %-20s  %s\n", "RUN", "MODE", "STATUS", "STARTED", "SCORE")
	for _, r := range runs {
		score := "-"
		if r.HasVerdict {
			score = fmt.Sprintf("%d %s", r.OverallScore, r.Readiness)
		}
		fmt.Printf("%-36s  %-12s  %-11s  %-20s  %s\n",
			r.ID,
			strings.TrimPrefix(string(r.Mode), "/"),
			strings.TrimPrefix(string(r.Status), "/"),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			score)
	}
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(resolvePath(cfg.Store.DatabasePath))
	if err != nil {
		return err
	}
	defer archive.Close()

	record, err := archive.GetRun(args[0])
	if err != nil {
		return err
	}

	run := record.Run
	fmt.Printf("run %s: %s (%s mode)\n", run.ID, run.Status, strings.TrimPrefix(string(run.Mode), "/"))
	fmt.Printf("started %s", run.StartedAt.Local().Format(time.RFC3339))
	if !run.EndedAt.IsZero() {
		fmt.Printf(", took %s", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Println()

	stages := make([]string, 0, len(run.StageStatuses))
	for s := range run.StageStatuses {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		fmt.Printf("  %-24s %s\n", s, run.StageStatuses[s])
	}

	if record.Verdict != nil {
		fmt.Printf("overall score: %d (%s)\n", record.Verdict.OverallScore, record.Verdict.Readiness)
		for _, rec := range record.Verdict.Recommendations {
			fmt.Printf("  - %s\n", rec.Message)
		}
	}
	if manifest := record.Manifest(); len(manifest) > 0 {
		fmt.Printf("%d test cases across %d artifacts\n", len(manifest), countArtifacts(manifest))
	}
	for _, d := range run.Degradations {
		fmt.Printf("degraded: %s: %s\n", d.Stage, d.Reason)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(resolvePath(cfg.Store.DatabasePath))
	if err != nil {
		return err
	}
	defer archive.Close()

	record, err := archive.GetRun(args[0])
	if err != nil {
		return err
	}
	if record.Synthesis == nil || len(record.Synthesis.Artifacts) == 0 {
		return fmt.Errorf("run %s has no archived artifacts to export", args[0])
	}

	bundle, err := export.New(resolvePath(cfg.Export.OutputDir)).Export(&record.Run, record.Synthesis, record.Verdict)
	if err != nil {
		return err
	}
	fmt.Printf("bundle: %s\nzip: %s\n", bundle.Dir, bundle.ZipPath)
	return nil
}

func countArtifacts(manifest []types.ManifestEntry) int {
	seen := make(map[string]bool)
	for _, m := range manifest {
		seen[m.ArtifactID] = true
	}
	return len(seen)
}

func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
