package synthesis

import (
	"fmt"
	"strings"
	"unicode"

	"qaforge/internal/types"
)

// renderGoTest emits a standalone Go test file. The output must parse as
// valid Go: the executor's dry-run strategy feeds it through an interpreter
// as a syntax gate.
func renderGoTest(domain types.Domain, cases []types.TestCase) string {
	var b strings.Builder
	b.WriteString("package generated\n\nimport \"testing\"\n")

	used := make(map[string]bool)
	for _, c := range cases {
		name := "Test" + exportedName(domainSlug(domain)+" "+c.Title)
		for used[name] {
			name += "X"
		}
		used[name] = true

		b.WriteString("\n// " + sanitizeComment(c.Title) + "\n")
		for _, pre := range c.Preconditions {
			b.WriteString("// Precondition: " + sanitizeComment(pre) + "\n")
		}
		fmt.Fprintf(&b, "func %s(t *testing.T) {\n", name)
		b.WriteString("\tsteps := []string{\n")
		for _, step := range c.Steps {
			fmt.Fprintf(&b, "\t\t%q,\n", step)
		}
		b.WriteString("\t}\n")
		b.WriteString("\tfor i, step := range steps {\n")
		b.WriteString("\t\tt.Logf(\"step %d: %s\", i+1, step)\n")
		b.WriteString("\t}\n")
		fmt.Fprintf(&b, "\tt.Log(%q)\n", "expected: "+c.ExpectedResult)
		b.WriteString("}\n")
	}
	return b.String()
}

// renderPytest emits a pytest module with one function per case.
func renderPytest(domain types.Domain, cases []types.TestCase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"Generated %s tests.\"\"\"\n", domainSlug(domain))

	used := make(map[string]bool)
	for _, c := range cases {
		name := "test_" + snakeName(c.Title)
		for used[name] {
			name += "_x"
		}
		used[name] = true

		fmt.Fprintf(&b, "\n\ndef %s():\n", name)
		fmt.Fprintf(&b, "    \"\"\"%s\n\n", sanitizeComment(c.Title))
		for _, pre := range c.Preconditions {
			b.WriteString("    Precondition: " + sanitizeComment(pre) + "\n")
		}
		b.WriteString("    Steps:\n")
		for i, step := range c.Steps {
			fmt.Fprintf(&b, "    %d. %s\n", i+1, sanitizeComment(step))
		}
		b.WriteString("    Expected: " + sanitizeComment(c.ExpectedResult) + "\n")
		b.WriteString("    \"\"\"\n")
		for _, step := range c.Steps {
			fmt.Fprintf(&b, "    # %s\n", sanitizeComment(step))
		}
		b.WriteString("    raise NotImplementedError(\"wire this step sequence to the target system\")\n")
	}
	return b.String()
}

// renderK6 emits a k6 load script covering the performance cases.
func renderK6(domain types.Domain, cases []types.TestCase) string {
	var b strings.Builder
	b.WriteString("import http from 'k6/http';\nimport { check, sleep } from 'k6';\n\n")
	b.WriteString("export const options = {\n")
	b.WriteString("  stages: [\n")
	b.WriteString("    { duration: '30s', target: 10 },\n")
	b.WriteString("    { duration: '2m', target: 50 },\n")
	b.WriteString("    { duration: '30s', target: 0 },\n")
	b.WriteString("  ],\n")
	b.WriteString("  thresholds: {\n")
	b.WriteString("    http_req_duration: ['p(95)<500'],\n")
	b.WriteString("    http_req_failed: ['rate<0.01'],\n")
	b.WriteString("  },\n};\n\n")
	b.WriteString("const BASE_URL = __ENV.TARGET_URL || 'http://localhost:8080';\n\n")
	b.WriteString("export default function () {\n")
	for _, c := range cases {
		fmt.Fprintf(&b, "  // %s\n", sanitizeComment(c.Title))
		for _, step := range c.Steps {
			fmt.Fprintf(&b, "  //   %s\n", sanitizeComment(step))
		}
		b.WriteString("  {\n")
		b.WriteString("    const res = http.get(`${BASE_URL}/`);\n")
		fmt.Fprintf(&b, "    check(res, { '%s: status 200': (r) => r.status === 200 });\n", jsEscape(c.ID))
		b.WriteString("  }\n")
	}
	b.WriteString("  sleep(1);\n}\n")
	return b.String()
}

// renderPlaywrightSource emits a Playwright spec for UI workflow cases.
func renderPlaywrightSource(cases []types.TestCase) string {
	var b strings.Builder
	b.WriteString("const { test, expect } = require('@playwright/test');\n\n")
	b.WriteString("const BASE_URL = process.env.TARGET_URL || 'http://localhost:8080';\n")
	for _, c := range cases {
		fmt.Fprintf(&b, "\ntest('%s', async ({ page }) => {\n", jsEscape(c.Title))
		b.WriteString("  await page.goto(BASE_URL);\n")
		for _, step := range c.Steps {
			fmt.Fprintf(&b, "  // %s\n", sanitizeComment(step))
		}
		fmt.Fprintf(&b, "  // expected: %s\n", sanitizeComment(c.ExpectedResult))
		b.WriteString("  await expect(page).toHaveURL(new RegExp(BASE_URL));\n")
		b.WriteString("});\n")
	}
	return b.String()
}

func domainSlug(d types.Domain) string {
	return strings.TrimPrefix(string(d), "/")
}

// exportedName converts free text into an exported Go identifier.
func exportedName(text string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			if upperNext {
				b.WriteRune(unicode.ToUpper(r))
				upperNext = false
			} else {
				b.WriteRune(r)
			}
		case unicode.IsDigit(r) && b.Len() > 0:
			b.WriteRune(r)
			upperNext = true
		default:
			upperNext = true
		}
	}
	if b.Len() == 0 {
		return "Generated"
	}
	return b.String()
}

// snakeName converts free text into a python identifier.
func snakeName(text string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "generated"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	return name
}

func sanitizeComment(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func jsEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return sanitizeComment(s)
}
