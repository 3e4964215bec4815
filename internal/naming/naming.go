// Package naming maps symbol paths to flag names. It is the single naming
// scheme shared by the extractor, which publishes flags, and the gate, which
// looks them up; both sides must call Flag and never build flags by hand.
//
// A flag has the shape
//
//	sg.<n>{.<len>_<module segment>}.<fact>{.<len>_<name>}
//
// where n is the number of module segments. Every string component carries
// its byte length, so the encoding is injective whatever the identifiers
// contain, and the alphabet (letters, digits, '_' and '.') keeps every flag a
// valid Go build tag.
package naming

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix starts every flag.
const Prefix = "sg"

// Fact names the kind of presence fact a flag records.
type Fact string

const (
	Decl   Fact = "decl"
	Field  Fact = "field"
	Member Fact = "member"
	Method Fact = "method"
	Super  Fact = "super"
	Impl   Fact = "impl"
)

// Facts lists every fact in a stable order.
var Facts = []Fact{Decl, Field, Member, Method, Super, Impl}

// ParseFact converts a fact tag to a Fact.
func ParseFact(s string) (Fact, error) {
	for _, f := range Facts {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown fact %q", s)
}

// Arity returns the number of trailing names a symbol of this fact carries.
func (f Fact) Arity() int {
	if f == Decl {
		return 1
	}
	return 2
}

// Symbol identifies one presence fact: a declaration, a member of one, a
// supertype relation or a trait implementation, inside a module.
type Symbol struct {
	Fact   Fact
	Module []string
	Names  []string
}

// DeclSymbol returns the symbol for a top-level declaration.
func DeclSymbol(module []string, name string) Symbol {
	return Symbol{Fact: Decl, Module: module, Names: []string{name}}
}

// MemberSymbol returns the symbol for a member of owner. fact must be Field,
// Member or Method.
func MemberSymbol(fact Fact, module []string, owner, member string) Symbol {
	return Symbol{Fact: fact, Module: module, Names: []string{owner, member}}
}

// SuperSymbol returns the symbol for "trait has supertrait".
func SuperSymbol(module []string, trait, supertrait string) Symbol {
	return Symbol{Fact: Super, Module: module, Names: []string{trait, supertrait}}
}

// ImplSymbol returns the symbol for "trait is implemented for selfType".
func ImplSymbol(module []string, trait, selfType string) Symbol {
	return Symbol{Fact: Impl, Module: module, Names: []string{trait, selfType}}
}

// Flag returns the flag name for s. It is total and deterministic.
func (s Symbol) Flag() string {
	return Flag(s)
}

// String renders s in the symbol path grammar accepted by Parse.
func (s Symbol) String() string {
	base := strings.Join(s.Module, "::")
	switch {
	case s.Fact == Super && len(s.Names) == 2:
		return base + "::" + s.Names[0] + " : " + s.Names[1]
	case s.Fact == Impl && len(s.Names) == 2:
		return base + "::" + s.Names[0] + " for " + s.Names[1]
	}
	parts := append([]string{}, s.Module...)
	parts = append(parts, s.Names...)
	return strings.Join(parts, "::")
}

// Flag encodes s as a flag name.
func Flag(s Symbol) string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(len(s.Module)))
	for _, seg := range s.Module {
		b.WriteByte('.')
		writeComponent(&b, seg)
	}
	b.WriteByte('.')
	b.WriteString(string(s.Fact))
	for _, name := range s.Names {
		b.WriteByte('.')
		writeComponent(&b, name)
	}
	return b.String()
}

func writeComponent(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte('_')
	b.WriteString(s)
}

// Decode parses a flag produced by Flag back into its symbol.
func Decode(flag string) (Symbol, error) {
	d := decoder{s: flag}
	if !d.literal(Prefix + ".") {
		return Symbol{}, fmt.Errorf("flag %q: missing %q prefix", flag, Prefix)
	}
	n, err := d.number('.')
	if err != nil {
		return Symbol{}, fmt.Errorf("flag %q: module count: %w", flag, err)
	}
	var sym Symbol
	for i := 0; i < n; i++ {
		if !d.literal(".") {
			return Symbol{}, fmt.Errorf("flag %q: truncated module path", flag)
		}
		seg, err := d.component()
		if err != nil {
			return Symbol{}, fmt.Errorf("flag %q: module segment %d: %w", flag, i, err)
		}
		sym.Module = append(sym.Module, seg)
	}
	if !d.literal(".") {
		return Symbol{}, fmt.Errorf("flag %q: missing fact", flag)
	}
	end := strings.IndexByte(d.s[d.pos:], '.')
	if end < 0 {
		end = len(d.s) - d.pos
	}
	fact, err := ParseFact(d.s[d.pos : d.pos+end])
	if err != nil {
		return Symbol{}, fmt.Errorf("flag %q: %w", flag, err)
	}
	sym.Fact = fact
	d.pos += end
	for d.pos < len(d.s) {
		if !d.literal(".") {
			return Symbol{}, fmt.Errorf("flag %q: malformed name list", flag)
		}
		name, err := d.component()
		if err != nil {
			return Symbol{}, fmt.Errorf("flag %q: name: %w", flag, err)
		}
		sym.Names = append(sym.Names, name)
	}
	if len(sym.Names) != fact.Arity() {
		return Symbol{}, fmt.Errorf("flag %q: %s takes %d names, got %d", flag, fact, fact.Arity(), len(sym.Names))
	}
	return sym, nil
}

type decoder struct {
	s   string
	pos int
}

func (d *decoder) literal(lit string) bool {
	if strings.HasPrefix(d.s[d.pos:], lit) {
		d.pos += len(lit)
		return true
	}
	return false
}

// number reads decimal digits up to (not including) stop or the end of input.
func (d *decoder) number(stop byte) (int, error) {
	start := d.pos
	for d.pos < len(d.s) && d.s[d.pos] >= '0' && d.s[d.pos] <= '9' {
		d.pos++
	}
	if d.pos == start {
		return 0, fmt.Errorf("expected digits at offset %d", start)
	}
	if d.pos < len(d.s) && d.s[d.pos] != stop {
		return 0, fmt.Errorf("unexpected %q at offset %d", d.s[d.pos], d.pos)
	}
	return strconv.Atoi(d.s[start:d.pos])
}

func (d *decoder) component() (string, error) {
	n, err := d.number('_')
	if err != nil {
		return "", err
	}
	if !d.literal("_") {
		return "", fmt.Errorf("expected '_' at offset %d", d.pos)
	}
	if d.pos+n > len(d.s) {
		return "", fmt.Errorf("length %d overruns flag", n)
	}
	s := d.s[d.pos : d.pos+n]
	d.pos += n
	return s, nil
}
