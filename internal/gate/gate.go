// Package gate rewrites Go source according to //gate: directives, keeping,
// omitting or stubbing declarations depending on which flags a scan
// published.
package gate

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"os"
	pathpkg "path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/phobologic/structgate/internal/discover"
	"github.com/phobologic/structgate/internal/flagstore"
	"github.com/phobologic/structgate/internal/naming"
)

// Action is the outcome for one directed declaration.
type Action string

const (
	Kept     Action = "kept"
	Omitted  Action = "omitted"
	Replaced Action = "replaced"
)

// Decision records what happened to one directed declaration.
type Decision struct {
	File    string
	Name    string
	Line    int
	Action  Action
	Missing []string
}

// Report summarises a directory rewrite.
type Report struct {
	Files     int
	Decisions []Decision
}

// Count returns the number of decisions with action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == a {
			n++
		}
	}
	return n
}

// Gate evaluates directives against a fixed flag set.
type Gate struct {
	flags  *flagstore.Set
	logger *slog.Logger
}

// New returns a Gate over flags.
func New(flags *flagstore.Set, logger *slog.Logger) *Gate {
	return &Gate{flags: flags, logger: logger}
}

// Present parses spec for fact and reports whether its flag was published.
func (g *Gate) Present(fact naming.Fact, spec string) (naming.Symbol, bool, error) {
	sym, err := naming.Parse(fact, spec)
	if err != nil {
		return naming.Symbol{}, false, err
	}
	return sym, g.flags.Present(sym), nil
}

func (g *Gate) missing(dirs []Directive, mode Mode) []Directive {
	var out []Directive
	for _, d := range dirs {
		if d.Mode == mode && !g.flags.Present(d.Symbol) {
			out = append(out, d)
		}
	}
	return out
}

// FailureMessage is the message of the panic or test failure that replaces
// a function body when its directives are not satisfied.
func FailureMessage(name string, missing []Directive) string {
	parts := make([]string, len(missing))
	for i, d := range missing {
		parts[i] = "missing " + d.String()
	}
	return fmt.Sprintf("structgate: %s: %s", name, strings.Join(parts, "; "))
}

// Rewrite applies the directives in src and returns gofmt-formatted output.
// filename is used for positions and decisions only.
func (g *Gate) Rewrite(filename string, src []byte) ([]byte, []Decision, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", filename, err)
	}

	rw := &rewriter{
		gate:        g,
		fset:        fset,
		file:        file,
		filename:    filename,
		testingName: importName(file, "testing"),
	}
	if err := rw.run(); err != nil {
		return nil, nil, err
	}
	out, err := rw.render()
	if err != nil {
		return nil, nil, fmt.Errorf("formatting %s: %w", filename, err)
	}
	return out, rw.decisions, nil
}

// ProcessDir rewrites every .go file under in into the same relative path
// under out. Other regular files are copied unchanged; hidden directories
// and out itself are skipped.
func (g *Gate) ProcessDir(in, out string) (*Report, error) {
	absOut, err := filepath.Abs(out)
	if err != nil {
		return nil, fmt.Errorf("resolving output: %w", err)
	}

	report := &Report{}
	err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &discover.IOError{Path: path, Err: err}
		}
		rel, err := filepath.Rel(in, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if abs, _ := filepath.Abs(path); abs == absOut || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return &discover.IOError{Path: path, Err: err}
		}
		if filepath.Ext(path) == ".go" {
			var decisions []Decision
			data, decisions, err = g.Rewrite(filepath.ToSlash(rel), data)
			if err != nil {
				return err
			}
			report.Files++
			report.Decisions = append(report.Decisions, decisions...)
		}

		dst := filepath.Join(out, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return &discover.IOError{Path: filepath.Dir(dst), Err: err}
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return &discover.IOError{Path: dst, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("gate complete",
		"input", in,
		"output", out,
		"files", report.Files,
		"kept", report.Count(Kept),
		"omitted", report.Count(Omitted),
		"replaced", report.Count(Replaced),
	)
	return report, nil
}

type span struct {
	start, end token.Pos
}

type rewriter struct {
	gate        *Gate
	fset        *token.FileSet
	file        *ast.File
	filename    string
	testingName string

	removed   []span
	decisions []Decision
}

func (rw *rewriter) run() error {
	if err := detached(rw.fset, rw.file, attachedDocs(rw.file)); err != nil {
		return err
	}
	used := qualifiers(rw.file)

	decls := make([]ast.Decl, 0, len(rw.file.Decls))
	for _, decl := range rw.file.Decls {
		var keep bool
		var err error
		switch d := decl.(type) {
		case *ast.FuncDecl:
			keep, err = rw.funcDecl(d)
		case *ast.GenDecl:
			keep, err = rw.genDecl(d)
		default:
			keep = true
		}
		if err != nil {
			return err
		}
		if keep {
			decls = append(decls, decl)
		}
	}
	if len(rw.removed) == 0 {
		return nil
	}
	rw.file.Decls = decls
	rw.dropComments()
	pruneImports(rw.fset, rw.file, used)
	return nil
}

func (rw *rewriter) decide(name string, node ast.Node, action Action, missing []Directive) {
	dec := Decision{
		File:   rw.filename,
		Name:   name,
		Line:   rw.fset.Position(node.Pos()).Line,
		Action: action,
	}
	for _, d := range missing {
		dec.Missing = append(dec.Missing, d.String())
	}
	rw.decisions = append(rw.decisions, dec)
	if action != Kept {
		rw.gate.logger.Debug("declaration gated", "file", rw.filename, "name", name, "action", string(action), "missing", dec.Missing)
	}
}

func (rw *rewriter) funcDecl(d *ast.FuncDecl) (bool, error) {
	dirs, err := directives(rw.fset, d.Doc)
	if err != nil || len(dirs) == 0 {
		return true, err
	}
	name := funcName(d)
	for _, dir := range dirs {
		if dir.Mode == FuncMode && d.Body == nil {
			return false, fmt.Errorf("%s: %s has no body to replace", dir.Pos, name)
		}
	}

	if miss := rw.gate.missing(dirs, ItemMode); len(miss) > 0 {
		rw.remove(d.Doc, d.Pos(), d.End())
		rw.decide(name, d, Omitted, miss)
		return false, nil
	}
	if miss := rw.gate.missing(dirs, FuncMode); len(miss) > 0 {
		rw.removed = append(rw.removed, span{d.Body.Lbrace, d.Body.End()})
		d.Body = rw.fallbackBody(d, name, miss)
		rw.decide(name, d, Replaced, miss)
		return true, nil
	}
	rw.decide(name, d, Kept, nil)
	return true, nil
}

func (rw *rewriter) genDecl(d *ast.GenDecl) (bool, error) {
	if d.Tok == token.IMPORT {
		return true, nil
	}
	dirs, err := rw.itemDirectives(d.Doc)
	if err != nil {
		return false, err
	}
	if miss := rw.gate.missing(dirs, ItemMode); len(miss) > 0 {
		rw.remove(d.Doc, d.Pos(), genDeclEnd(d))
		rw.decide(genDeclName(d), d, Omitted, miss)
		return false, nil
	}
	if !d.Lparen.IsValid() {
		if len(dirs) > 0 {
			rw.decide(genDeclName(d), d, Kept, nil)
		}
		return true, nil
	}

	specs := make([]ast.Spec, 0, len(d.Specs))
	for _, spec := range d.Specs {
		doc, comment := specComments(spec)
		sdirs, err := rw.itemDirectives(doc)
		if err != nil {
			return false, err
		}
		name := specName(spec)
		if miss := rw.gate.missing(sdirs, ItemMode); len(miss) > 0 {
			end := spec.End()
			if comment != nil {
				end = comment.End()
			}
			rw.remove(doc, spec.Pos(), end)
			rw.decide(name, spec, Omitted, miss)
			continue
		}
		if len(sdirs) > 0 {
			rw.decide(name, spec, Kept, nil)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		rw.remove(d.Doc, d.Pos(), d.End())
		return false, nil
	}
	d.Specs = specs
	return true, nil
}

// itemDirectives parses doc and rejects func mode, which only applies to
// function declarations.
func (rw *rewriter) itemDirectives(doc *ast.CommentGroup) ([]Directive, error) {
	dirs, err := directives(rw.fset, doc)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if dir.Mode == FuncMode {
			return nil, &DirectiveError{
				Pos:  dir.Pos,
				Text: directivePrefix + string(dir.Mode) + "." + string(dir.Fact) + " " + dir.Spec,
				Err: &naming.SpecError{
					Input:   dir.Spec,
					Fact:    dir.Fact,
					Grammar: directiveGrammar,
					Reason:  "func mode applies only to function declarations",
				},
			}
		}
	}
	return dirs, nil
}

func (rw *rewriter) remove(doc *ast.CommentGroup, start, end token.Pos) {
	if doc != nil && doc.Pos() < start {
		start = doc.Pos()
	}
	rw.removed = append(rw.removed, span{start, end})
}

// dropComments discards comment groups lying inside removed code.
func (rw *rewriter) dropComments() {
	kept := rw.file.Comments[:0]
	for _, cg := range rw.file.Comments {
		inside := false
		for _, s := range rw.removed {
			if cg.Pos() >= s.start && cg.End() <= s.end {
				inside = true
				break
			}
		}
		if !inside {
			kept = append(kept, cg)
		}
	}
	rw.file.Comments = kept
}

func (rw *rewriter) fallbackBody(d *ast.FuncDecl, name string, missing []Directive) *ast.BlockStmt {
	msg := &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(FailureMessage(name, missing))}

	var call *ast.CallExpr
	if t := testingParam(d, rw.testingName); t != "" && (d.Type.Results == nil || len(d.Type.Results.List) == 0) {
		call = &ast.CallExpr{
			Fun:  &ast.SelectorExpr{X: ast.NewIdent(t), Sel: ast.NewIdent("Fatalf")},
			Args: []ast.Expr{msg},
		}
	} else {
		call = &ast.CallExpr{Fun: ast.NewIdent("panic"), Args: []ast.Expr{msg}}
	}
	return &ast.BlockStmt{
		Lbrace: d.Body.Lbrace,
		List:   []ast.Stmt{&ast.ExprStmt{X: call}},
	}
}

func (rw *rewriter) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := format.Node(&buf, rw.fset, rw.file); err != nil {
		return nil, err
	}
	// Synthesised nodes carry no positions; a second pass settles layout.
	return format.Source(buf.Bytes())
}

// pruneImports deletes imports whose qualifier was referenced before the
// rewrite and no longer is. The package name of an unnamed import is only
// guessed from its path, so an import whose guess matched nothing before is
// left alone.
func pruneImports(fset *token.FileSet, file *ast.File, before map[string]bool) {
	after := qualifiers(file)
	imports := append([]*ast.ImportSpec(nil), file.Imports...)
	for _, imp := range imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name, qual := "", assumedName(path)
		if imp.Name != nil {
			name, qual = imp.Name.Name, imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		if before[qual] && !after[qual] {
			astutil.DeleteNamedImport(fset, file, name, path)
		}
	}
}

// qualifiers returns the identifiers used as X in X.Sel expressions.
func qualifiers(file *ast.File) map[string]bool {
	names := make(map[string]bool)
	ast.Inspect(file, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				names[id.Name] = true
			}
		}
		return true
	})
	return names
}

// assumedName guesses the package name of an import path the way goimports
// does: a /vN major version element is skipped, a go- prefix is dropped and
// the name ends at the first character that cannot appear in an identifier.
// "example.com/mod/v2" gives mod, "gopkg.in/yaml.v3" gives yaml.
func assumedName(path string) string {
	base := pathpkg.Base(path)
	if strings.HasPrefix(base, "v") {
		if _, err := strconv.Atoi(base[1:]); err == nil {
			if dir := pathpkg.Dir(path); dir != "." {
				base = pathpkg.Base(dir)
			}
		}
	}
	base = strings.TrimPrefix(base, "go-")
	if i := strings.IndexFunc(base, notIdentifier); i >= 0 {
		base = base[:i]
	}
	return base
}

func notIdentifier(r rune) bool {
	return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}

// importName returns the name under which file imports path, or "" if it
// does not.
func importName(file *ast.File, path string) string {
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || p != path {
			continue
		}
		if imp.Name != nil {
			return imp.Name.Name
		}
		return assumedName(path)
	}
	return ""
}

// testingParam returns the name of the first named *testing.T parameter.
func testingParam(d *ast.FuncDecl, testingName string) string {
	if testingName == "" || testingName == "_" {
		return ""
	}
	for _, field := range d.Type.Params.List {
		star, ok := field.Type.(*ast.StarExpr)
		if !ok || !isTestingT(star.X, testingName) {
			continue
		}
		for _, n := range field.Names {
			if n.Name != "_" {
				return n.Name
			}
		}
	}
	return ""
}

func isTestingT(expr ast.Expr, testingName string) bool {
	if testingName == "." {
		id, ok := expr.(*ast.Ident)
		return ok && id.Name == "T"
	}
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == testingName && sel.Sel.Name == "T"
}

func funcName(d *ast.FuncDecl) string {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	return recvTypeName(d.Recv.List[0].Type) + "." + d.Name.Name
}

func recvTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return recvTypeName(t.X)
	case *ast.IndexExpr:
		return recvTypeName(t.X)
	case *ast.IndexListExpr:
		return recvTypeName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return "?"
}

func specComments(spec ast.Spec) (doc, comment *ast.CommentGroup) {
	switch s := spec.(type) {
	case *ast.TypeSpec:
		return s.Doc, s.Comment
	case *ast.ValueSpec:
		return s.Doc, s.Comment
	}
	return nil, nil
}

func specName(spec ast.Spec) string {
	switch s := spec.(type) {
	case *ast.TypeSpec:
		return s.Name.Name
	case *ast.ValueSpec:
		names := make([]string, len(s.Names))
		for i, n := range s.Names {
			names[i] = n.Name
		}
		return strings.Join(names, ", ")
	}
	return "?"
}

func genDeclName(d *ast.GenDecl) string {
	names := make([]string, 0, len(d.Specs))
	for _, spec := range d.Specs {
		names = append(names, specName(spec))
	}
	return strings.Join(names, ", ")
}

// genDeclEnd extends an ungrouped declaration over its trailing comment.
func genDeclEnd(d *ast.GenDecl) token.Pos {
	end := d.End()
	if !d.Lparen.IsValid() && len(d.Specs) == 1 {
		if _, comment := specComments(d.Specs[0]); comment != nil && comment.End() > end {
			end = comment.End()
		}
	}
	return end
}
