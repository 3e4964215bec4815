// Package lang provides a language registry mapping file extensions to
// tree-sitter languages and their declaration extractors.
package lang

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/structgate/internal/model"
)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Extract walks the top-level items of a parsed file and returns its
	// declarations and impl blocks. Module paths are filled in by the caller.
	Extract func(root *sitter.Node, source []byte) ([]model.Declaration, []model.Impl)
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Names returns the registered language names.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for name := range Languages {
		names = append(names, name)
	}
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// Line returns the 1-based line of a node.
func Line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// FirstError returns the first ERROR or MISSING node in document order, or
// nil if the tree is clean.
func FirstError(node *sitter.Node) *sitter.Node {
	if node == nil || !node.HasError() && !node.IsMissing() {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := FirstError(node.Child(i)); found != nil {
			return found
		}
	}
	return node
}

// children returns the direct children of node with the given types.
func children(node *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	if node == nil {
		return out
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, t := range types {
			if child.Type() == t {
				out = append(out, child)
				break
			}
		}
	}
	return out
}

// fieldText returns the text of the named field of node, or "".
func fieldText(node *sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return NodeText(child, source)
}

// stripRaw removes the r# prefix of a Rust raw identifier.
func stripRaw(name string) string {
	return strings.TrimPrefix(name, "r#")
}
