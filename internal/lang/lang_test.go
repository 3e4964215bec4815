package lang

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/structgate/internal/model"
)

func TestForExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want string
	}{
		{".rs", "rust"},
		{".go", "go"},
		{".py", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			t.Parallel()
			got := ForExtension(tt.ext)
			if got != tt.want {
				t.Errorf("ForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestLanguagesRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"rust", "go"} {
		l, ok := Languages[name]
		require.True(t, ok, "%s language not registered", name)
		assert.NotNil(t, l.GetLanguage())
		assert.NotNil(t, l.NewParser())
		assert.NotNil(t, l.Extract)
	}
	assert.ElementsMatch(t, []string{"rust", "go"}, Names())
}

func extract(t *testing.T, langName, source string) ([]model.Declaration, []model.Impl) {
	t.Helper()
	l := Languages[langName]
	tree, err := l.NewParser().ParseCtx(context.Background(), nil, []byte(source))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	require.Nil(t, FirstError(tree.RootNode()), "fixture must parse cleanly")
	return l.Extract(tree.RootNode(), []byte(source))
}

func findDecl(t *testing.T, decls []model.Declaration, name string) model.Declaration {
	t.Helper()
	for _, d := range decls {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("declaration %q not found in %+v", name, decls)
	return model.Declaration{}
}

func memberNames(members []model.Member, kind model.MemberKind) []string {
	var names []string
	for _, m := range members {
		if m.Kind == kind {
			names = append(names, m.Name)
		}
	}
	return names
}

func TestRustItems(t *testing.T) {
	t.Parallel()

	decls, impls := extract(t, "rust", `
use std::any::Any;

pub struct Point { pub x: f64, y: f64 }
struct Meters(f64);
union Bits { i: u32, f: f32 }
enum Color { Red, Green(u8), Blue { level: u8 } }

pub trait Shape: Any + std::fmt::Debug + 'static {
    const SIDES: usize;
    type Unit;
    fn area(&self) -> f64;
    fn new() -> Self where Self: Sized;
    fn boxed(self: Box<Self>) {}
}

fn helper() {}

impl Shape for Point {
    const SIDES: usize = 0;
    type Unit = f64;
    fn area(&self) -> f64 { 0.0 }
    fn new() -> Self { Point { x: 0.0, y: 0.0 } }
}

impl Point {
    pub const ORIGIN: Point = Point { x: 0.0, y: 0.0 };
    pub fn norm(&self) -> f64 { 0.0 }
    pub fn zero() -> Self { Self::ORIGIN }
}

mod nested { pub struct Hidden; }
`)

	point := findDecl(t, decls, "Point")
	assert.Equal(t, model.Struct, point.Kind)
	assert.Equal(t, []string{"x", "y"}, memberNames(point.Members, model.Field))

	assert.Empty(t, findDecl(t, decls, "Meters").Members)

	bits := findDecl(t, decls, "Bits")
	assert.Equal(t, model.Union, bits.Kind)
	assert.Equal(t, []string{"i", "f"}, memberNames(bits.Members, model.Field))

	color := findDecl(t, decls, "Color")
	assert.Equal(t, model.Enum, color.Kind)
	assert.Equal(t, []string{"Red", "Green", "Blue"}, memberNames(color.Members, model.Variant))

	shape := findDecl(t, decls, "Shape")
	assert.Equal(t, model.Trait, shape.Kind)
	assert.Equal(t, []string{"Any", "Debug"}, shape.Supertypes)
	assert.Equal(t, []string{"SIDES"}, memberNames(shape.Members, model.Const))
	assert.Equal(t, []string{"Unit"}, memberNames(shape.Members, model.TypeAlias))
	assert.Equal(t, []string{"area", "boxed"}, memberNames(shape.Members, model.Method))
	assert.Equal(t, []string{"new"}, memberNames(shape.Members, model.Func))

	assert.Equal(t, model.Function, findDecl(t, decls, "helper").Kind)

	for _, d := range decls {
		assert.NotEqual(t, "Hidden", d.Name, "nested items are out of scope")
	}

	require.Len(t, impls, 2)
	assert.Equal(t, "Shape", impls[0].Trait)
	assert.Equal(t, "Point", impls[0].SelfType)
	assert.Empty(t, impls[0].Members, "trait impl members are not collected")

	assert.False(t, impls[1].IsTraitImpl())
	assert.Equal(t, "Point", impls[1].SelfType)
	assert.Equal(t, []string{"ORIGIN"}, memberNames(impls[1].Members, model.Const))
	assert.Equal(t, []string{"norm"}, memberNames(impls[1].Members, model.Method))
	assert.Equal(t, []string{"zero"}, memberNames(impls[1].Members, model.Func))
}

func TestRustGenericImpl(t *testing.T) {
	t.Parallel()

	_, impls := extract(t, "rust", `
impl<T: Ord> sorting::Sorter<T> for Vec<T> {}
impl<'a> Display for &'a Wrapper {}
`)
	require.Len(t, impls, 2)
	assert.Equal(t, "Sorter", impls[0].Trait)
	assert.Equal(t, "Vec", impls[0].SelfType)
	assert.Equal(t, "Display", impls[1].Trait)
	assert.Equal(t, "Wrapper", impls[1].SelfType)
}

func TestGoItems(t *testing.T) {
	t.Parallel()

	decls, impls := extract(t, "go", `package geometry

import "io"

type Point struct {
	X, Y float64
	io.Reader
	*Label
}

type Shape interface {
	io.Closer
	Named
	Area() float64
}

type Celsius float64

type Alias = Point

type (
	A struct{ V int }
	B interface{ ~int | ~string }
)

func NewPoint() *Point { return nil }

func (p *Point) Norm() float64 { return 0 }

func (s Stack[T]) Push(v T) {}
`)

	point := findDecl(t, decls, "Point")
	assert.Equal(t, model.Struct, point.Kind)
	assert.Equal(t, []string{"X", "Y"}, memberNames(point.Members, model.Field))

	shape := findDecl(t, decls, "Shape")
	assert.Equal(t, model.Trait, shape.Kind)
	assert.Equal(t, []string{"Closer", "Named"}, shape.Supertypes)
	assert.Equal(t, []string{"Area"}, memberNames(shape.Members, model.Method))

	assert.Equal(t, model.Named, findDecl(t, decls, "Celsius").Kind)
	assert.Equal(t, model.Named, findDecl(t, decls, "Alias").Kind)
	assert.Equal(t, []string{"V"}, memberNames(findDecl(t, decls, "A").Members, model.Field))
	assert.Empty(t, findDecl(t, decls, "B").Supertypes)
	assert.Equal(t, model.Function, findDecl(t, decls, "NewPoint").Kind)

	require.Len(t, impls, 2)
	assert.Equal(t, "Point", impls[0].SelfType)
	assert.Equal(t, "Norm", impls[0].Members[0].Name)
	assert.True(t, impls[0].Members[0].HasReceiver)
	assert.Equal(t, "Stack", impls[1].SelfType)
}

func TestFirstError(t *testing.T) {
	t.Parallel()

	l := Languages["rust"]
	src := []byte("struct Ok;\nstruct Broken {\n")
	tree, err := l.NewParser().ParseCtx(context.Background(), nil, src)
	require.NoError(t, err)
	defer tree.Close()

	bad := FirstError(tree.RootNode())
	require.NotNil(t, bad)
	assert.GreaterOrEqual(t, Line(bad), 2)
}
