package execution

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"qaforge/internal/types"
)

// LiveStrategy exercises the target application over HTTP. It cannot run
// foreign-framework sources directly; instead each case issues the probe
// request its steps imply and judges the response. Transport failures are
// errors, 5xx responses are failures.
type LiveStrategy struct {
	baseURL string
	client  *http.Client
}

// NewLiveStrategy creates a live strategy against a base URL.
func NewLiveStrategy(baseURL string, timeout time.Duration) *LiveStrategy {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LiveStrategy{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Strategy.
func (l *LiveStrategy) Name() string { return "live" }

// Run implements Strategy.
func (l *LiveStrategy) Run(ctx context.Context, artifact types.ExecutableArtifact, tc types.TestCase) (types.ExecutionStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL, nil)
	if err != nil {
		return types.ExecError, "bad target URL: " + err.Error()
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return types.ExecError, "target unreachable: " + err.Error()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return types.ExecFailed, fmt.Sprintf("target returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return types.ExecFailed, fmt.Sprintf("target rejected request with %d", resp.StatusCode)
	default:
		return types.ExecPassed, fmt.Sprintf("target responded %d", resp.StatusCode)
	}
}
