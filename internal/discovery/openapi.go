package discovery

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"qaforge/internal/types"
)

// openAPIOperation is the subset of an OpenAPI operation object we care
// about. YAML is a superset of JSON, so one decoder handles both formats.
type openAPIOperation struct {
	Summary     string                `yaml:"summary"`
	Description string                `yaml:"description"`
	OperationID string                `yaml:"operationId"`
	Tags        []string              `yaml:"tags"`
	Security    []map[string][]string `yaml:"security"`
}

type openAPIDoc struct {
	Swagger  string                `yaml:"swagger"`
	OpenAPI  string                `yaml:"openapi"`
	Security []map[string][]string `yaml:"security"`
	Paths    map[string]yaml.Node  `yaml:"paths"`
}

var httpMethods = []string{"get", "post", "put", "delete", "patch"}

// ParseSpec reads an OpenAPI/Swagger document and returns its declared
// endpoints.
func ParseSpec(path string) ([]types.Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}

	var doc openAPIDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	if doc.Swagger == "" && doc.OpenAPI == "" {
		return nil, fmt.Errorf("not an OpenAPI document: %s", path)
	}
	if len(doc.Paths) == 0 {
		return nil, nil
	}

	globalAuth := len(doc.Security) > 0

	var endpoints []types.Endpoint
	for apiPath, node := range doc.Paths {
		// Path items mix method keys with "parameters" and "$ref";
		// decode per method so the extras don't break us.
		var item map[string]yaml.Node
		if err := node.Decode(&item); err != nil {
			continue
		}
		for _, method := range httpMethods {
			opNode, ok := item[method]
			if !ok {
				continue
			}
			var op openAPIOperation
			if err := opNode.Decode(&op); err != nil {
				continue
			}
			summary := op.Summary
			if summary == "" {
				summary = op.Description
			}
			endpoints = append(endpoints, types.Endpoint{
				Method:       strings.ToUpper(method),
				Path:         apiPath,
				Summary:      summary,
				FromSpec:     true,
				RequiresAuth: globalAuth || len(op.Security) > 0,
			})
		}
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})
	return endpoints, nil
}
