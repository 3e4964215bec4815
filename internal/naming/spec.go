package naming

import (
	"fmt"
	"strings"
	"unicode"
)

// Grammar strings reported by SpecError.
const (
	DeclGrammar   = "module::Name (at least one module segment)"
	MemberGrammar = "module::Owner::member (at least one module segment)"
	SuperGrammar  = "module::Trait : Supertrait"
	ImplGrammar   = "module::Trait for Type"
)

// SpecError reports a malformed symbol path specification.
type SpecError struct {
	Input   string
	Fact    Fact
	Grammar string
	Reason  string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid %s spec %q: %s (expected %s)", e.Fact, e.Input, e.Reason, e.Grammar)
}

// GrammarFor returns the spec grammar accepted for fact.
func GrammarFor(fact Fact) string {
	switch fact {
	case Decl:
		return DeclGrammar
	case Super:
		return SuperGrammar
	case Impl:
		return ImplGrammar
	default:
		return MemberGrammar
	}
}

// Parse parses a symbol path specification for the given fact.
func Parse(fact Fact, spec string) (Symbol, error) {
	switch fact {
	case Decl:
		return parsePath(fact, spec, 2)
	case Field, Member, Method:
		return parsePath(fact, spec, 3)
	case Super:
		return ParseSupertype(spec)
	case Impl:
		return ParseImpl(spec)
	default:
		return Symbol{}, &SpecError{Input: spec, Fact: fact, Grammar: "one of decl, field, member, method, super, impl", Reason: "unknown fact"}
	}
}

// ParseSupertype parses "module::Trait : Supertrait".
func ParseSupertype(spec string) (Symbol, error) {
	idx := singleColon(spec)
	if idx < 0 {
		return Symbol{}, &SpecError{Input: spec, Fact: Super, Grammar: SuperGrammar, Reason: "missing ':' separator"}
	}
	path, err := parsePath(Super, spec[:idx], 2)
	if err != nil {
		return Symbol{}, err
	}
	super := strings.TrimSpace(spec[idx+1:])
	if !isIdent(super) {
		return Symbol{}, &SpecError{Input: spec, Fact: Super, Grammar: SuperGrammar, Reason: fmt.Sprintf("supertrait %q is not an identifier", super)}
	}
	return SuperSymbol(path.Module, path.Names[0], super), nil
}

// ParseImpl parses "module::Trait for Type".
func ParseImpl(spec string) (Symbol, error) {
	fields := strings.Fields(spec)
	if len(fields) != 3 || fields[1] != "for" {
		return Symbol{}, &SpecError{Input: spec, Fact: Impl, Grammar: ImplGrammar, Reason: "expected exactly \"<path> for <Type>\""}
	}
	path, err := parsePath(Impl, fields[0], 2)
	if err != nil {
		return Symbol{}, err
	}
	if !isIdent(fields[2]) {
		return Symbol{}, &SpecError{Input: spec, Fact: Impl, Grammar: ImplGrammar, Reason: fmt.Sprintf("type %q is not an identifier", fields[2])}
	}
	return ImplSymbol(path.Module, path.Names[0], fields[2]), nil
}

// parsePath splits a "::" path of at least minSegs segments. The trailing
// fact.Arity() segments become names (Super and Impl paths carry one name
// here; the caller supplies the second).
func parsePath(fact Fact, spec string, minSegs int) (Symbol, error) {
	fail := func(reason string) (Symbol, error) {
		return Symbol{}, &SpecError{Input: spec, Fact: fact, Grammar: GrammarFor(fact), Reason: reason}
	}
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return fail("empty path")
	}
	segs := strings.Split(trimmed, "::")
	for i, seg := range segs {
		seg = strings.TrimSpace(seg)
		if !isIdent(seg) {
			return fail(fmt.Sprintf("segment %d %q is not an identifier", i, seg))
		}
		segs[i] = seg
	}
	if len(segs) < minSegs {
		return fail(fmt.Sprintf("need at least %d segments, got %d", minSegs, len(segs)))
	}
	names := minSegs - 1
	return Symbol{
		Fact:   fact,
		Module: segs[:len(segs)-names],
		Names:  segs[len(segs)-names:],
	}, nil
}

// singleColon returns the index of the first ':' that is not part of "::".
func singleColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		if i+1 < len(s) && s[i+1] == ':' {
			i++
			continue
		}
		return i
	}
	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
