// Package discovery implements the live-application entry stage: it probes
// a reachable target over HTTP (optionally through a headless browser),
// folds in an API spec and source-bundle hints, and derives the testable
// FeatureSet for the run.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"qaforge/internal/logging"
	"qaforge/internal/pipeline"
	"qaforge/internal/types"
)

// Discoverer implements the discovery entry stage.
type Discoverer struct {
	http    *HTTPProber
	browser *BrowserProber
	scanner *SourceScanner
}

// New creates a discoverer from prober components. browser may be nil to
// disable headless probing.
func New(httpProber *HTTPProber, browser *BrowserProber, scanner *SourceScanner) *Discoverer {
	if scanner == nil {
		scanner = NewSourceScanner()
	}
	return &Discoverer{http: httpProber, browser: browser, scanner: scanner}
}

// Name implements pipeline.Capability.
func (d *Discoverer) Name() string { return "discover" }

// Invoke probes the configured target and derives features. An unreachable
// target is fatal; individual probe failures degrade the stage with the
// surface's warnings carrying the detail.
func (d *Discoverer) Invoke(ctx context.Context, rc *pipeline.Context) (interface{}, error) {
	cfg, ok := rc.RunConfig()
	if !ok || cfg.Target == nil {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: "no target configured"}
	}
	target := cfg.Target

	surface, err := d.http.Probe(ctx, target.BaseURL)
	if err != nil {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: fmt.Sprintf("target unreachable: %v", err)}
	}

	if target.SpecPath != "" {
		eps, err := ParseSpec(target.SpecPath)
		if err != nil {
			surface.Warnings = append(surface.Warnings, fmt.Sprintf("spec parse failed: %v", err))
		} else {
			surface.Endpoints = dedupeEndpoints(append(surface.Endpoints, eps...))
		}
	}

	if d.browser != nil {
		elements, err := d.browser.Probe(ctx, target.BaseURL)
		if err != nil {
			surface.Warnings = append(surface.Warnings, fmt.Sprintf("browser probe failed: %v", err))
		} else {
			surface.Elements = mergeElements(surface.Elements, elements)
		}
	}

	if target.SourceDir != "" {
		hints, err := d.scanner.Scan(ctx, target.SourceDir)
		if err != nil {
			surface.Warnings = append(surface.Warnings, fmt.Sprintf("source scan failed: %v", err))
		}
		surface.SourceHints = hints
	}

	surface.Workflows = inferWorkflows(surface)

	features := DeriveFeatures(surface)
	if len(features) == 0 {
		return nil, &pipeline.FatalStageError{Stage: "entry", Reason: "discovery found no testable features"}
	}

	logging.Entry("discovery of %s yielded %d features (%d warnings)",
		target.BaseURL, len(features), len(surface.Warnings))

	result := &types.FeatureSet{Features: features, Surface: surface}
	if len(surface.Warnings) > 0 {
		return result, &pipeline.DegradedStageError{
			Stage:  "entry",
			Reason: fmt.Sprintf("partial discovery: %s", strings.Join(surface.Warnings, "; ")),
		}
	}
	return result, nil
}

// inferWorkflows derives multi-step journeys from surface signals.
func inferWorkflows(surface *types.DiscoveredSurface) []types.Workflow {
	var workflows []types.Workflow

	hasPassword := false
	hasForm := false
	for _, el := range surface.Elements {
		label := strings.ToLower(el.Label + " " + el.Selector)
		if el.Kind == "input" && strings.Contains(label, "password") {
			hasPassword = true
		}
		if el.Kind == "form" {
			hasForm = true
		}
	}
	if hasPassword {
		workflows = append(workflows, types.Workflow{
			Name:  "Login",
			Steps: []string{"open login page", "enter credentials", "submit form", "verify session"},
		})
	}

	for _, ep := range surface.Endpoints {
		path := strings.ToLower(ep.Path)
		switch {
		case strings.Contains(path, "register") || strings.Contains(path, "signup"):
			workflows = appendWorkflow(workflows, types.Workflow{
				Name:  "Registration",
				Steps: []string{"open registration form", "fill required fields", "submit", "verify account created"},
			})
		case strings.Contains(path, "checkout") || strings.Contains(path, "payment"):
			workflows = appendWorkflow(workflows, types.Workflow{
				Name:  "Checkout",
				Steps: []string{"add item", "open checkout", "enter payment details", "confirm order"},
			})
		case strings.Contains(path, "upload"):
			workflows = appendWorkflow(workflows, types.Workflow{
				Name:  "File upload",
				Steps: []string{"select file", "upload", "verify stored"},
			})
		}
	}

	if hasForm && len(workflows) == 0 {
		workflows = append(workflows, types.Workflow{
			Name:  "Form submission",
			Steps: []string{"open page", "fill form", "submit", "verify response"},
		})
	}
	return workflows
}

// mergeElements appends browser-found elements the HTTP probe missed.
func mergeElements(base, extra []types.UIElement) []types.UIElement {
	seen := make(map[string]bool, len(base))
	for _, el := range base {
		seen[el.Kind+"|"+el.Selector+"|"+el.PageURL] = true
	}
	for _, el := range extra {
		key := el.Kind + "|" + el.Selector + "|" + el.PageURL
		if seen[key] {
			continue
		}
		seen[key] = true
		base = append(base, el)
	}
	return base
}

func appendWorkflow(workflows []types.Workflow, wf types.Workflow) []types.Workflow {
	for _, existing := range workflows {
		if existing.Name == wf.Name {
			return workflows
		}
	}
	return append(workflows, wf)
}

// DeriveFeatures turns a discovered surface into the run's FeatureSet
// entries. Spec-declared endpoints carry the highest confidence, probed
// endpoints and workflows less, bare UI forms the least.
func DeriveFeatures(surface *types.DiscoveredSurface) []types.Feature {
	seen := make(map[string]bool)
	var features []types.Feature

	add := func(name, desc string, confidence float64) {
		key := strings.ToLower(name)
		if seen[key] || name == "" {
			return
		}
		seen[key] = true
		features = append(features, types.Feature{
			ID:          fmt.Sprintf("f-%d", len(features)+1),
			Name:        name,
			Description: desc,
			Source:      types.SourceDiscovered,
			Category:    types.CategorizeFeature(name + " " + desc),
			Confidence:  confidence,
			Ordinal:     len(features),
		})
	}

	for _, ep := range surface.Endpoints {
		name := fmt.Sprintf("%s %s", ep.Method, ep.Path)
		desc := ep.Summary
		if desc == "" {
			desc = fmt.Sprintf("HTTP endpoint %s %s", ep.Method, ep.Path)
		}
		confidence := 0.7
		if ep.FromSpec {
			confidence = 0.9
		}
		add(name, desc, confidence)
	}

	for _, wf := range surface.Workflows {
		add(wf.Name+" workflow", strings.Join(wf.Steps, " -> "), 0.65)
	}

	for _, el := range surface.Elements {
		if el.Kind != "form" {
			continue
		}
		label := el.Label
		if label == "" {
			label = el.Selector
		}
		add("Form "+label, fmt.Sprintf("Form %s on %s", label, el.PageURL), 0.55)
	}

	// Complex source declarations hint at risky behavior the surface scan
	// alone would miss.
	for _, hint := range surface.SourceHints {
		if hint.Complexity < 30 {
			continue
		}
		add(hint.Name, fmt.Sprintf("%s %s in %s (%d lines)", hint.Kind, hint.Name, hint.Path, hint.Complexity), 0.5)
	}

	return features
}
