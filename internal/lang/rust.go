package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/phobologic/structgate/internal/model"
)

func init() {
	Languages["rust"] = &Language{
		Name:       "rust",
		Extensions: []string{".rs"},
		lang:       rust.GetLanguage(),
		Extract:    rustExtract,
	}
}

// rustExtract collects the top-level items of a source_file node. Items
// nested in modules or function bodies are ignored.
func rustExtract(root *sitter.Node, source []byte) ([]model.Declaration, []model.Impl) {
	var (
		decls []model.Declaration
		impls []model.Impl
	)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		item := root.NamedChild(i)
		switch item.Type() {
		case "struct_item", "union_item":
			kind := model.Struct
			if item.Type() == "union_item" {
				kind = model.Union
			}
			decls = append(decls, model.Declaration{
				Kind:    kind,
				Name:    stripRaw(fieldText(item, "name", source)),
				Members: rustFields(item.ChildByFieldName("body"), source),
				Line:    Line(item),
			})
		case "enum_item":
			decls = append(decls, model.Declaration{
				Kind:    model.Enum,
				Name:    stripRaw(fieldText(item, "name", source)),
				Members: rustVariants(item.ChildByFieldName("body"), source),
				Line:    Line(item),
			})
		case "trait_item":
			decls = append(decls, model.Declaration{
				Kind:       model.Trait,
				Name:       stripRaw(fieldText(item, "name", source)),
				Members:    rustAssocItems(item.ChildByFieldName("body"), source),
				Supertypes: rustBounds(item.ChildByFieldName("bounds"), source),
				Line:       Line(item),
			})
		case "function_item":
			decls = append(decls, model.Declaration{
				Kind: model.Function,
				Name: stripRaw(fieldText(item, "name", source)),
				Line: Line(item),
			})
		case "impl_item":
			impl := model.Impl{
				SelfType: rustTypeName(item.ChildByFieldName("type"), source),
				Line:     Line(item),
			}
			if trait := item.ChildByFieldName("trait"); trait != nil {
				impl.Trait = rustTypeName(trait, source)
			} else {
				impl.Members = rustAssocItems(item.ChildByFieldName("body"), source)
			}
			if impl.SelfType == "" {
				continue
			}
			impls = append(impls, impl)
		}
	}
	return decls, impls
}

// rustFields returns the named fields of a struct or union body. Tuple
// bodies (ordered_field_declaration_list) have no named fields.
func rustFields(body *sitter.Node, source []byte) []model.Member {
	if body == nil || body.Type() != "field_declaration_list" {
		return nil
	}
	var members []model.Member
	for _, f := range children(body, "field_declaration") {
		name := fieldText(f, "name", source)
		if name == "" {
			continue
		}
		members = append(members, model.Member{Kind: model.Field, Name: stripRaw(name), Line: Line(f)})
	}
	return members
}

func rustVariants(body *sitter.Node, source []byte) []model.Member {
	var members []model.Member
	for _, v := range children(body, "enum_variant") {
		name := fieldText(v, "name", source)
		if name == "" {
			continue
		}
		members = append(members, model.Member{Kind: model.Variant, Name: stripRaw(name), Line: Line(v)})
	}
	return members
}

// rustAssocItems returns the associated consts, types and functions of a
// trait or impl declaration_list.
func rustAssocItems(body *sitter.Node, source []byte) []model.Member {
	var members []model.Member
	for _, it := range children(body, "function_item", "function_signature_item", "const_item", "associated_type", "type_item") {
		name := stripRaw(fieldText(it, "name", source))
		if name == "" {
			continue
		}
		m := model.Member{Name: name, Line: Line(it)}
		switch it.Type() {
		case "const_item":
			m.Kind = model.Const
		case "associated_type", "type_item":
			m.Kind = model.TypeAlias
		default:
			m.Kind = model.Func
			if rustHasSelf(it.ChildByFieldName("parameters"), source) {
				m.Kind = model.Method
				m.HasReceiver = true
			}
		}
		members = append(members, m)
	}
	return members
}

// rustHasSelf reports whether the first parameter is a receiver: either a
// self_parameter (self, &self, &mut self) or an explicitly typed self
// pattern (self: Box<Self>).
func rustHasSelf(params *sitter.Node, source []byte) bool {
	if params == nil {
		return false
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "attribute_item", "line_comment", "block_comment":
			continue
		case "self_parameter":
			return true
		case "parameter":
			pattern := p.ChildByFieldName("pattern")
			if pattern == nil {
				return false
			}
			text := NodeText(pattern, source)
			return text == "self" || text == "mut self"
		default:
			return false
		}
	}
	return false
}

// rustBounds returns the trait names in a trait_bounds node. Lifetimes and
// ?Sized style bounds are skipped.
func rustBounds(bounds *sitter.Node, source []byte) []string {
	if bounds == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(bounds.NamedChildCount()); i++ {
		if name := rustTypeName(bounds.NamedChild(i), source); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// rustTypeName returns the final identifier of a type node, unwrapping
// paths, generics, references and pointers.
func rustTypeName(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "type_identifier", "primitive_type":
		return stripRaw(NodeText(node, source))
	case "scoped_type_identifier":
		return stripRaw(fieldText(node, "name", source))
	case "generic_type", "reference_type", "pointer_type":
		return rustTypeName(node.ChildByFieldName("type"), source)
	}
	return ""
}
