package gate

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"strings"
	"unicode"

	"github.com/phobologic/structgate/internal/naming"
)

const directivePrefix = "//gate:"

// Mode selects what happens to a declaration whose flag is absent.
type Mode string

const (
	// ItemMode omits the declaration.
	ItemMode Mode = "item"
	// FuncMode keeps the function but replaces its body with a failure.
	FuncMode Mode = "func"
)

const directiveGrammar = "//gate:item.<fact> <spec> or //gate:func.<fact> <spec>"

// Directive is one parsed //gate: comment.
type Directive struct {
	Mode   Mode
	Fact   naming.Fact
	Spec   string
	Symbol naming.Symbol
	Pos    token.Position
}

func (d Directive) String() string {
	return fmt.Sprintf("%s %s", d.Fact, d.Symbol)
}

// ErrDetached reports a directive that is not the doc comment of a
// declaration, for example one separated from it by a blank line.
var ErrDetached = errors.New("directive is not attached to a declaration")

// DirectiveError locates a malformed directive. Err is a *naming.SpecError
// or ErrDetached.
type DirectiveError struct {
	Pos  token.Position
	Text string
	Err  error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%s: %v", e.Pos, e.Err)
}

func (e *DirectiveError) Unwrap() error {
	return e.Err
}

// ParseDirective parses the text of a line comment. ok is false when the
// comment is not a gate directive at all.
func ParseDirective(text string) (d Directive, ok bool, err error) {
	rest, found := strings.CutPrefix(text, directivePrefix)
	if !found {
		return Directive{}, false, nil
	}
	name, spec := strings.TrimSpace(rest), ""
	if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
		name, spec = name[:i], strings.TrimSpace(name[i:])
	}

	modeName, factName, _ := strings.Cut(name, ".")
	mode := Mode(modeName)
	if mode != ItemMode && mode != FuncMode {
		return Directive{}, true, &naming.SpecError{
			Input:   text,
			Fact:    naming.Fact(factName),
			Grammar: directiveGrammar,
			Reason:  fmt.Sprintf("unknown directive %q", "gate:"+name),
		}
	}
	fact, err := naming.ParseFact(factName)
	if err != nil {
		return Directive{}, true, &naming.SpecError{
			Input:   text,
			Fact:    naming.Fact(factName),
			Grammar: directiveGrammar,
			Reason:  err.Error(),
		}
	}
	sym, err := naming.Parse(fact, spec)
	if err != nil {
		return Directive{}, true, err
	}
	return Directive{Mode: mode, Fact: fact, Spec: spec, Symbol: sym}, true, nil
}

// directives collects the gate directives of a doc comment.
func directives(fset *token.FileSet, doc *ast.CommentGroup) ([]Directive, error) {
	if doc == nil {
		return nil, nil
	}
	var out []Directive
	for _, c := range doc.List {
		d, ok, err := ParseDirective(c.Text)
		if !ok {
			continue
		}
		pos := fset.Position(c.Slash)
		if err != nil {
			return nil, &DirectiveError{Pos: pos, Text: c.Text, Err: err}
		}
		d.Pos = pos
		out = append(out, d)
	}
	return out, nil
}

// detached returns an error for the first gate directive in file that no
// declaration owns. attached holds the doc comments the rewriter reads.
func detached(fset *token.FileSet, file *ast.File, attached map[*ast.CommentGroup]bool) error {
	for _, cg := range file.Comments {
		if attached[cg] {
			continue
		}
		for _, c := range cg.List {
			if _, ok, _ := ParseDirective(c.Text); ok {
				return &DirectiveError{Pos: fset.Position(c.Slash), Text: c.Text, Err: ErrDetached}
			}
		}
	}
	return nil
}

// attachedDocs collects the doc comments that may carry directives: those of
// functions, ungrouped declarations and the specs of grouped ones.
func attachedDocs(file *ast.File) map[*ast.CommentGroup]bool {
	docs := make(map[*ast.CommentGroup]bool)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc != nil {
				docs[d.Doc] = true
			}
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				continue
			}
			if d.Doc != nil {
				docs[d.Doc] = true
			}
			if !d.Lparen.IsValid() {
				continue
			}
			for _, spec := range d.Specs {
				if doc, _ := specComments(spec); doc != nil {
					docs[doc] = true
				}
			}
		}
	}
	return docs
}
