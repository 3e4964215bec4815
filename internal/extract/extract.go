// Package extract turns parsed source files into declarations and the
// presence facts derived from them.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/structgate/internal/lang"
	"github.com/phobologic/structgate/internal/model"
	"github.com/phobologic/structgate/internal/naming"
)

// ParseError reports a file that is not syntactically valid. A file that
// does not parse cannot be evaluated structurally, so the scan fails.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Near   string
}

func (e *ParseError) Error() string {
	if e.Near != "" {
		return fmt.Sprintf("%s:%d:%d: syntax error near %q", e.Path, e.Line, e.Column, e.Near)
	}
	return fmt.Sprintf("%s:%d:%d: syntax error", e.Path, e.Line, e.Column)
}

// ModulePath derives the module path of a file from its location relative
// to the scan root: one segment per directory, then the file name without
// its extension. It never looks at file contents.
func ModulePath(rel string) []string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	parts := strings.Split(rel, "/")
	last := parts[len(parts)-1]
	parts[len(parts)-1] = strings.TrimSuffix(last, filepath.Ext(last))
	return parts
}

// Extractor parses files and builds their declaration model. It keeps one
// tree-sitter parser per language and is not safe for concurrent use.
type Extractor struct {
	parsers map[string]*sitter.Parser
}

// New returns an Extractor with no parsers allocated yet.
func New() *Extractor {
	return &Extractor{parsers: make(map[string]*sitter.Parser)}
}

func (e *Extractor) parser(l *lang.Language) *sitter.Parser {
	p, ok := e.parsers[l.Name]
	if !ok {
		p = l.NewParser()
		e.parsers[l.Name] = p
	}
	return p
}

// File parses source as langName and returns its top-level declarations.
// rel is the root-relative path and determines the module path.
func (e *Extractor) File(ctx context.Context, langName, rel string, source []byte) (model.File, error) {
	l, ok := lang.Languages[langName]
	if !ok {
		return model.File{}, fmt.Errorf("%s: unsupported language %q", rel, langName)
	}
	file := model.File{
		Path:     rel,
		Language: langName,
		Module:   ModulePath(rel),
	}
	if len(source) == 0 {
		return file, nil
	}

	tree, err := e.parser(l).ParseCtx(ctx, nil, source)
	if err != nil {
		return model.File{}, fmt.Errorf("parsing %s: %w", rel, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if bad := lang.FirstError(root); bad != nil {
		near := lang.NodeText(bad, source)
		if len(near) > 40 {
			near = near[:40]
		}
		return model.File{}, &ParseError{
			Path:   rel,
			Line:   lang.Line(bad),
			Column: int(bad.StartPoint().Column) + 1,
			Near:   strings.TrimSpace(near),
		}
	}

	file.Decls, file.Impls = l.Extract(root, source)
	for i := range file.Decls {
		file.Decls[i].Module = file.Module
	}
	for i := range file.Impls {
		file.Impls[i].Module = file.Module
	}
	return file, nil
}

// Symbols returns every presence fact of a file, in declaration order.
// Duplicates are possible and harmless.
func Symbols(f model.File) []naming.Symbol {
	var syms []naming.Symbol
	for _, d := range f.Decls {
		syms = append(syms, naming.DeclSymbol(d.Module, d.Name))
		switch d.Kind {
		case model.Struct, model.Union:
			for _, m := range d.Members {
				if m.Kind == model.Field && m.Name != "" {
					syms = append(syms, naming.MemberSymbol(naming.Field, d.Module, d.Name, m.Name))
				}
			}
		case model.Enum:
			for _, m := range d.Members {
				syms = append(syms, naming.MemberSymbol(naming.Member, d.Module, d.Name, m.Name))
			}
		case model.Trait:
			for _, s := range d.Supertypes {
				syms = append(syms, naming.SuperSymbol(d.Module, d.Name, s))
			}
			syms = append(syms, memberSymbols(d.Module, d.Name, d.Members)...)
		}
	}
	for _, impl := range f.Impls {
		if impl.IsTraitImpl() {
			syms = append(syms, naming.ImplSymbol(impl.Module, impl.Trait, impl.SelfType))
			continue
		}
		syms = append(syms, memberSymbols(impl.Module, impl.SelfType, impl.Members)...)
	}
	return syms
}

// memberSymbols emits a member fact for every item and an additional method
// fact for functions taking a receiver.
func memberSymbols(module []string, owner string, members []model.Member) []naming.Symbol {
	var syms []naming.Symbol
	for _, m := range members {
		if m.Name == "" {
			continue
		}
		syms = append(syms, naming.MemberSymbol(naming.Member, module, owner, m.Name))
		if m.IsCallable() && m.HasReceiver {
			syms = append(syms, naming.MemberSymbol(naming.Method, module, owner, m.Name))
		}
	}
	return syms
}

// Flags returns the flag names of every presence fact of a file.
func Flags(f model.File) []string {
	syms := Symbols(f)
	flags := make([]string, len(syms))
	for i, s := range syms {
		flags[i] = s.Flag()
	}
	return flags
}
