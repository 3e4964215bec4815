// Package model defines core data structures for structgate.
package model

// Kind indicates the syntactic kind of a top-level declaration.
type Kind string

const (
	Struct   Kind = "struct"
	Enum     Kind = "enum"
	Union    Kind = "union"
	Trait    Kind = "trait"
	Function Kind = "function"
	// Named covers Go named types that are neither structs nor interfaces.
	Named Kind = "named"
)

// MemberKind indicates the kind of a declaration member.
type MemberKind string

const (
	Field     MemberKind = "field"
	Method    MemberKind = "method"
	Func      MemberKind = "func"
	Const     MemberKind = "const"
	TypeAlias MemberKind = "type"
	Variant   MemberKind = "variant"
)

// Member is a named part of a declaration: a field, variant, associated item
// or function.
type Member struct {
	Kind MemberKind
	Name string
	// HasReceiver is set for functions whose first parameter is a self/receiver.
	HasReceiver bool
	Line        int
}

// IsCallable reports whether the member is a function or method.
func (m Member) IsCallable() bool {
	return m.Kind == Func || m.Kind == Method
}

// Declaration is one top-level declaration found in a source file.
type Declaration struct {
	Kind       Kind
	Module     []string
	Name       string
	Members    []Member
	Supertypes []string
	Line       int
}

// Impl is an implementation block. With a Trait it records the single
// relation (Trait for SelfType); without one its members are inherent
// members of SelfType.
type Impl struct {
	Module   []string
	Trait    string
	SelfType string
	Members  []Member
	Line     int
}

// IsTraitImpl reports whether the block implements a trait.
func (i Impl) IsTraitImpl() bool {
	return i.Trait != ""
}

// File holds the declarations extracted from a single source file.
type File struct {
	Path     string
	Language string
	Module   []string
	Decls    []Declaration
	Impls    []Impl
}
