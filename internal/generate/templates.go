package generate

import (
	"fmt"

	"qaforge/internal/types"
)

// caseTemplate is one rendered template instance for a feature/variant pair.
type caseTemplate struct {
	title         string
	preconditions []string
	steps         []string
	expected      string
}

// templateFor renders the domain's template library for one feature and
// variant. The libraries mirror classic test families: happy path, input
// validation and boundaries for unit; API and workflow contracts for
// integration; OWASP-style auth, injection and exposure checks for
// security; load, spike and volume for performance; consistency,
// hallucination and adversarial probes for AI validation; null, large-data
// and concurrency extremes for edge cases.
func templateFor(domain types.Domain, variant string, f types.Feature) caseTemplate {
	switch domain {
	case types.DomainUnit:
		return unitTemplate(variant, f)
	case types.DomainIntegration:
		return integrationTemplate(variant, f)
	case types.DomainSecurity:
		return securityTemplate(variant, f)
	case types.DomainPerformance:
		return performanceTemplate(variant, f)
	case types.DomainAIValidation:
		return aiValidationTemplate(variant, f)
	case types.DomainEdgeCase:
		return edgeCaseTemplate(variant, f)
	}
	return unitTemplate(variant, f)
}

func unitTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title: fmt.Sprintf("%s handles boundary values", f.Name),
			steps: []string{
				fmt.Sprintf("Invoke %s with minimum allowed input values", f.Name),
				fmt.Sprintf("Invoke %s with maximum allowed input values", f.Name),
				"Invoke with values one step outside each limit",
			},
			expected: "In-range values succeed; out-of-range values are rejected with a validation error",
		}
	case "negative":
		return caseTemplate{
			title: fmt.Sprintf("%s rejects invalid input", f.Name),
			steps: []string{
				fmt.Sprintf("Invoke %s with malformed input (wrong type, empty required fields)", f.Name),
				"Capture the returned error",
			},
			expected: "A descriptive validation error is returned and no state is modified",
		}
	}
	return caseTemplate{
		title:         fmt.Sprintf("%s happy path", f.Name),
		preconditions: []string{"System initialized with valid test fixtures"},
		steps: []string{
			fmt.Sprintf("Invoke %s with representative valid input", f.Name),
			"Inspect the returned value and resulting state",
		},
		expected: fmt.Sprintf("%s completes successfully and produces the documented result", f.Name),
	}
}

func integrationTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title: fmt.Sprintf("%s contract under edge payloads", f.Name),
			steps: []string{
				fmt.Sprintf("Call %s with the largest payload the contract allows", f.Name),
				"Verify the response schema matches the contract",
			},
			expected: "Contract honored at payload limits; response validates against schema",
		}
	case "negative":
		return caseTemplate{
			title:         fmt.Sprintf("%s recovers from dependency failure", f.Name),
			preconditions: []string{"Downstream dependency stubbed to fail"},
			steps: []string{
				fmt.Sprintf("Exercise %s while its dependency returns errors", f.Name),
				"Restore the dependency and retry",
			},
			expected: "Failure is surfaced cleanly with no partial writes; retry succeeds after recovery",
		}
	}
	return caseTemplate{
		title:         fmt.Sprintf("%s end-to-end flow", f.Name),
		preconditions: []string{"All dependent services reachable"},
		steps: []string{
			fmt.Sprintf("Execute the complete %s flow through the public interface", f.Name),
			"Verify data is consistent across all involved stores",
		},
		expected: "Flow completes and every system of record reflects the same final state",
	}
}

func securityTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title:         fmt.Sprintf("%s session and token lifecycle", f.Name),
			preconditions: []string{"Valid user session established"},
			steps: []string{
				"Let the session token reach its expiry boundary",
				fmt.Sprintf("Attempt %s with the expired token", f.Name),
				"Attempt with a token for a different user",
			},
			expected: "Expired and foreign tokens are rejected; no privilege leakage across sessions",
		}
	case "negative":
		return caseTemplate{
			title: fmt.Sprintf("%s resists injection and tampering", f.Name),
			steps: []string{
				fmt.Sprintf("Submit SQL injection payloads to every %s input", f.Name),
				"Submit script tags and encoded XSS payloads",
				"Tamper with identifiers to access another user's resources",
			},
			expected: "All payloads are neutralized, foreign resources return authorization errors, nothing sensitive appears in responses or logs",
		}
	}
	return caseTemplate{
		title: fmt.Sprintf("%s enforces authentication and authorization", f.Name),
		steps: []string{
			fmt.Sprintf("Attempt %s without credentials", f.Name),
			"Attempt with valid credentials lacking the required role",
			"Attempt with proper credentials and role",
		},
		expected: "Unauthenticated and under-privileged requests are denied; the authorized request succeeds",
	}
}

func performanceTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title:         fmt.Sprintf("%s sustained load at capacity", f.Name),
			preconditions: []string{"Load environment sized to production spec"},
			steps: []string{
				fmt.Sprintf("Drive %s at rated capacity for 10 minutes", f.Name),
				"Record p95/p99 latency and error rate throughout",
			},
			expected: "p95 latency stays within budget and error rate stays below 0.1% for the full window",
		}
	case "negative":
		return caseTemplate{
			title: fmt.Sprintf("%s spike and overload behavior", f.Name),
			steps: []string{
				fmt.Sprintf("Spike traffic on %s to 5x rated capacity", f.Name),
				"Hold the spike for 60 seconds, then drop to normal",
			},
			expected: "Excess load is shed or queued without crashes; service returns to latency budget within 2 minutes of the spike ending",
		}
	}
	return caseTemplate{
		title: fmt.Sprintf("%s baseline latency", f.Name),
		steps: []string{
			fmt.Sprintf("Execute %s single-threaded 100 times against a warm system", f.Name),
			"Record mean and p95 latency",
		},
		expected: "Latency distribution is stable across iterations and within the documented budget",
	}
}

func aiValidationTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title: fmt.Sprintf("%s output consistency", f.Name),
			steps: []string{
				fmt.Sprintf("Submit the same input to %s 10 times", f.Name),
				"Submit semantically equivalent rephrasings of that input",
			},
			expected: "Outputs agree in substance across repeats and rephrasings; no contradictory answers",
		}
	case "negative":
		return caseTemplate{
			title: fmt.Sprintf("%s adversarial robustness", f.Name),
			steps: []string{
				fmt.Sprintf("Probe %s with prompt-injection and jailbreak inputs", f.Name),
				"Probe with inputs designed to elicit fabricated facts",
			},
			expected: "Injected instructions are ignored and fabricated claims are absent or flagged as uncertain",
		}
	}
	return caseTemplate{
		title:         fmt.Sprintf("%s grounded accuracy", f.Name),
		preconditions: []string{"Reference answer set prepared for the input sample"},
		steps: []string{
			fmt.Sprintf("Run the reference inputs through %s", f.Name),
			"Compare outputs to the reference answers",
		},
		expected: "Accuracy against the reference set meets the agreed threshold with no hallucinated entities",
	}
}

func edgeCaseTemplate(variant string, f types.Feature) caseTemplate {
	switch variant {
	case "boundary":
		return caseTemplate{
			title: fmt.Sprintf("%s with extreme data sizes", f.Name),
			steps: []string{
				fmt.Sprintf("Exercise %s with the largest supported dataset", f.Name),
				"Exercise with a single-element and an empty dataset",
			},
			expected: "All sizes are handled without truncation, corruption, or unbounded memory growth",
		}
	case "negative":
		return caseTemplate{
			title: fmt.Sprintf("%s under concurrent access", f.Name),
			steps: []string{
				fmt.Sprintf("Run %s from 50 concurrent clients against shared state", f.Name),
				"Interleave reads and writes on the same records",
			},
			expected: "No deadlocks, lost updates, or torn reads; final state is consistent",
		}
	}
	return caseTemplate{
		title: fmt.Sprintf("%s with null and empty inputs", f.Name),
		steps: []string{
			fmt.Sprintf("Invoke %s with null, empty, and whitespace-only values for each field", f.Name),
			"Invoke with unicode and control characters in text fields",
		},
		expected: "Each degenerate input is either handled or rejected explicitly; no crashes or silent defaults",
	}
}
