package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"qaforge/internal/types"
)

// DryRunStrategy validates artifact sources without touching any target.
// Go artifacts go through the Yaegi interpreter, which catches syntax and
// type errors that plain parsing would miss; the other frameworks get
// lighter structural checks. Validation runs once per artifact and the
// verdict is shared by all of its cases.
type DryRunStrategy struct {
	mu       sync.Mutex
	verdicts map[string]verdict
}

type verdict struct {
	status  types.ExecutionStatus
	message string
}

// NewDryRunStrategy creates the default execution strategy.
func NewDryRunStrategy() *DryRunStrategy {
	return &DryRunStrategy{verdicts: make(map[string]verdict)}
}

// Name implements Strategy.
func (d *DryRunStrategy) Name() string { return "dry_run" }

// Run implements Strategy.
func (d *DryRunStrategy) Run(ctx context.Context, artifact types.ExecutableArtifact, tc types.TestCase) (types.ExecutionStatus, string) {
	d.mu.Lock()
	v, ok := d.verdicts[artifact.ID]
	if !ok {
		v = validateArtifact(artifact)
		d.verdicts[artifact.ID] = v
	}
	d.mu.Unlock()
	return v.status, v.message
}

func validateArtifact(artifact types.ExecutableArtifact) verdict {
	if strings.TrimSpace(artifact.Source) == "" {
		return verdict{types.ExecFailed, "artifact has no source"}
	}

	switch artifact.Framework {
	case types.FrameworkGoTest:
		return validateGo(artifact.Source)
	case types.FrameworkPytest:
		if !strings.Contains(artifact.Source, "def test_") {
			return verdict{types.ExecFailed, "pytest artifact declares no test functions"}
		}
		return verdict{types.ExecPassed, "dry run: pytest structure validated"}
	case types.FrameworkK6:
		if !strings.Contains(artifact.Source, "export default") {
			return verdict{types.ExecFailed, "k6 script has no default scenario function"}
		}
		return verdict{types.ExecPassed, "dry run: k6 script validated"}
	case types.FrameworkPlaywright:
		if !strings.Contains(artifact.Source, "test(") {
			return verdict{types.ExecFailed, "playwright spec declares no tests"}
		}
		return verdict{types.ExecPassed, "dry run: playwright spec validated"}
	}
	return verdict{types.ExecSkipped, fmt.Sprintf("no dry-run validator for framework %s", artifact.Framework)}
}

// validateGo interprets the generated source. Yaegi compiles declarations
// on Eval, so syntax and type errors surface without ever running a test.
func validateGo(source string) verdict {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return verdict{types.ExecError, "interpreter setup failed: " + err.Error()}
	}
	// The interpreter only evaluates main packages.
	code := strings.Replace(source, "package generated", "package main", 1)
	if _, err := i.Eval(code); err != nil {
		return verdict{types.ExecFailed, "go artifact does not compile: " + err.Error()}
	}
	return verdict{types.ExecPassed, "dry run: go artifact compiles"}
}
