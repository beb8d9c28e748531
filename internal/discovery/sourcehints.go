package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"qaforge/internal/logging"
	"qaforge/internal/types"
)

// maxHintFiles caps the source scan so a huge bundle cannot stall discovery.
const maxHintFiles = 200

// SourceScanner extracts feature hints from an optional source bundle using
// Tree-sitter. Declarations are signals only; they refine risk and naming,
// never replace live probing.
type SourceScanner struct {
	goParser *sitter.Parser
	pyParser *sitter.Parser
	jsParser *sitter.Parser
}

// NewSourceScanner creates a scanner with parsers for Go, Python, and
// JavaScript sources.
func NewSourceScanner() *SourceScanner {
	goParser := sitter.NewParser()
	goParser.SetLanguage(golang.GetLanguage())
	pyParser := sitter.NewParser()
	pyParser.SetLanguage(python.GetLanguage())
	jsParser := sitter.NewParser()
	jsParser.SetLanguage(javascript.GetLanguage())
	return &SourceScanner{goParser: goParser, pyParser: pyParser, jsParser: jsParser}
}

// declarationNodes maps node types we treat as hints, per language.
var declarationNodes = map[string]map[string]string{
	"go": {
		"function_declaration": "function",
		"method_declaration":   "function",
		"type_declaration":     "class",
	},
	"python": {
		"function_definition": "function",
		"class_definition":    "class",
	},
	"javascript": {
		"function_declaration": "function",
		"class_declaration":    "class",
		"method_definition":    "function",
	},
}

// Scan walks the bundle directory and returns declaration hints.
func (s *SourceScanner) Scan(ctx context.Context, dir string) ([]types.SourceHint, error) {
	var hints []types.SourceHint
	files := 0

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			name := entry.Name()
			if name == "node_modules" || name == "vendor" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if files >= maxHintFiles {
			return filepath.SkipAll
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lang, parser := s.parserFor(path)
		if parser == nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		files++

		tree, err := parser.ParseCtx(ctx, nil, content)
		if err != nil {
			return nil
		}
		defer tree.Close()

		hints = append(hints, collectHints(tree.RootNode(), lang, path, content)...)
		return nil
	})
	if err != nil {
		return hints, err
	}

	logging.Probe("source scan of %s: %d hints from %d files", dir, len(hints), files)
	return hints, nil
}

func (s *SourceScanner) parserFor(path string) (string, *sitter.Parser) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go", s.goParser
	case ".py", ".pyw":
		return "python", s.pyParser
	case ".js", ".mjs", ".jsx":
		return "javascript", s.jsParser
	}
	return "", nil
}

// collectHints walks the AST gathering named declarations. Complexity is
// the line span of the declaration, a crude but useful risk signal.
func collectHints(root *sitter.Node, lang, path string, content []byte) []types.SourceHint {
	kinds := declarationNodes[lang]
	var hints []types.SourceHint

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if kind, ok := kinds[n.Type()]; ok {
			name := declarationName(n, content)
			if name != "" && !strings.HasPrefix(name, "_") {
				hints = append(hints, types.SourceHint{
					Path:       path,
					Kind:       kind,
					Name:       name,
					Complexity: int(n.EndPoint().Row-n.StartPoint().Row) + 1,
				})
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return hints
}

func declarationName(n *sitter.Node, content []byte) string {
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		return nameNode.Content(content)
	}
	// Go type_declaration nests the name one level down in type_spec.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "type_spec" {
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				return nameNode.Content(content)
			}
		}
	}
	return ""
}
