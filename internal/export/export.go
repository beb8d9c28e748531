// Package export packages a finished run into a shareable bundle: generated
// test sources, the traceability manifest, the verdict, and ready-to-commit
// CI pipeline definitions, plus a zip of the whole bundle.
package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// Exporter writes run bundles under a configured output directory.
type Exporter struct {
	outputDir string
}

// New creates an exporter rooted at outputDir.
func New(outputDir string) *Exporter {
	return &Exporter{outputDir: outputDir}
}

// Bundle describes where an export landed.
type Bundle struct {
	Dir     string // Unpacked bundle directory
	ZipPath string // Zip archive of the same content
}

// Export writes the bundle for one run. The verdict may be nil when the run
// never reached scoring.
func (e *Exporter) Export(run *types.Run, synth *types.SynthesisResult, verdict *types.QualityVerdict) (*Bundle, error) {
	if run == nil {
		return nil, fmt.Errorf("cannot export nil run")
	}
	if synth == nil || len(synth.Artifacts) == 0 {
		return nil, fmt.Errorf("run %s has no artifacts to export", run.ID)
	}

	dir := filepath.Join(e.outputDir, run.ID)
	testsDir := filepath.Join(dir, "tests")
	if err := os.MkdirAll(testsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	for _, artifact := range synth.Artifacts {
		path := filepath.Join(testsDir, filepath.Base(artifact.Filename))
		if err := os.WriteFile(path, []byte(artifact.Source), 0644); err != nil {
			return nil, fmt.Errorf("failed to write artifact %s: %w", artifact.Filename, err)
		}
	}

	if err := writeJSON(filepath.Join(dir, "manifest.json"), synth.Manifest); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, "run.json"), run); err != nil {
		return nil, err
	}
	if verdict != nil {
		if err := writeJSON(filepath.Join(dir, "verdict.json"), verdict); err != nil {
			return nil, err
		}
	}

	ciDir := filepath.Join(dir, "ci")
	if err := os.MkdirAll(ciDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ci directory: %w", err)
	}
	frameworks := frameworksIn(synth)
	if err := writeYAML(filepath.Join(ciDir, "github-actions.yml"), githubWorkflow(frameworks)); err != nil {
		return nil, err
	}
	if err := writeYAML(filepath.Join(ciDir, "gitlab-ci.yml"), gitlabPipeline(frameworks)); err != nil {
		return nil, err
	}

	zipPath := filepath.Join(e.outputDir, run.ID+".zip")
	if err := zipDir(dir, zipPath); err != nil {
		return nil, err
	}

	logging.Export("exported run %s: %d artifacts to %s", run.ID, len(synth.Artifacts), dir)
	return &Bundle{Dir: dir, ZipPath: zipPath}, nil
}

func frameworksIn(synth *types.SynthesisResult) map[types.FrameworkTarget]bool {
	out := make(map[types.FrameworkTarget]bool)
	for _, a := range synth.Artifacts {
		if !a.Placeholder {
			out[a.Framework] = true
		}
	}
	return out
}

// ciStep is one step of a GitHub Actions job.
type ciStep struct {
	Name string `yaml:"name,omitempty"`
	Uses string `yaml:"uses,omitempty"`
	Run  string `yaml:"run,omitempty"`
}

type ciJob struct {
	RunsOn string   `yaml:"runs-on"`
	Steps  []ciStep `yaml:"steps"`
}

type githubDoc struct {
	Name string           `yaml:"name"`
	On   []string         `yaml:"on"`
	Jobs map[string]ciJob `yaml:"jobs"`
}

func githubWorkflow(frameworks map[types.FrameworkTarget]bool) githubDoc {
	steps := []ciStep{{Uses: "actions/checkout@v4"}}
	if frameworks[types.FrameworkGoTest] {
		steps = append(steps,
			ciStep{Uses: "actions/setup-go@v5"},
			ciStep{Name: "Run generated Go tests", Run: "go test ./tests/..."})
	}
	if frameworks[types.FrameworkPytest] {
		steps = append(steps,
			ciStep{Uses: "actions/setup-python@v5"},
			ciStep{Name: "Run generated pytest suites", Run: "pip install pytest requests && pytest tests/"})
	}
	if frameworks[types.FrameworkK6] {
		steps = append(steps, ciStep{Name: "Run generated k6 load tests", Run: "k6 run tests/performance_load.js"})
	}
	if frameworks[types.FrameworkPlaywright] {
		steps = append(steps, ciStep{Name: "Run generated Playwright specs", Run: "npx playwright test tests/"})
	}
	return githubDoc{
		Name: "generated-qa-suite",
		On:   []string{"push", "pull_request"},
		Jobs: map[string]ciJob{"generated-tests": {RunsOn: "ubuntu-latest", Steps: steps}},
	}
}

func gitlabPipeline(frameworks map[types.FrameworkTarget]bool) map[string]interface{} {
	var script []string
	if frameworks[types.FrameworkGoTest] {
		script = append(script, "go test ./tests/...")
	}
	if frameworks[types.FrameworkPytest] {
		script = append(script, "pip install pytest requests", "pytest tests/")
	}
	if frameworks[types.FrameworkK6] {
		script = append(script, "k6 run tests/performance_load.js")
	}
	if frameworks[types.FrameworkPlaywright] {
		script = append(script, "npx playwright test tests/")
	}
	if len(script) == 0 {
		script = []string{"echo no runnable artifacts"}
	}
	return map[string]interface{}{
		"stages": []string{"test"},
		"generated-tests": map[string]interface{}{
			"stage":  "test",
			"script": script,
		},
	}
}

func writeJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeYAML(path string, value interface{}) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// zipDir archives dir into zipPath with paths relative to dir.
func zipDir(dir, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	defer w.Close()

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(strings.ReplaceAll(rel, string(os.PathSeparator), "/"))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to zip bundle: %w", err)
	}
	return nil
}
