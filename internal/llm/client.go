// Package llm provides the language-model completion capability used by the
// pipeline stages. Calls are timeout-bounded and retried with bounded
// exponential backoff; exhausted retries surface an error so the calling
// stage can degrade per its own policy rather than fabricate output.
package llm

import "context"

// Client is the minimal interface pipeline stages use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
