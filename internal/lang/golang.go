package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/phobologic/structgate/internal/model"
)

func init() {
	Languages["go"] = &Language{
		Name:       "go",
		Extensions: []string{".go"},
		lang:       golang.GetLanguage(),
		Extract:    goExtract,
	}
}

// goExtract maps Go top-level declarations onto the model: structs and
// interfaces become Struct and Trait, other named types become Named, and
// each method declaration becomes a one-member inherent Impl of its receiver.
func goExtract(root *sitter.Node, source []byte) ([]model.Declaration, []model.Impl) {
	var (
		decls []model.Declaration
		impls []model.Impl
	)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		item := root.NamedChild(i)
		switch item.Type() {
		case "function_declaration":
			decls = append(decls, model.Declaration{
				Kind: model.Function,
				Name: fieldText(item, "name", source),
				Line: Line(item),
			})
		case "method_declaration":
			recv := goFindReceiverType(item, source)
			name := fieldText(item, "name", source)
			if recv == "" || name == "" {
				continue
			}
			impls = append(impls, model.Impl{
				SelfType: recv,
				Members:  []model.Member{{Kind: model.Method, Name: name, HasReceiver: true, Line: Line(item)}},
				Line:     Line(item),
			})
		case "type_declaration":
			for _, spec := range children(item, "type_spec", "type_alias") {
				decls = append(decls, goTypeSpec(spec, source))
			}
		}
	}
	return decls, impls
}

func goTypeSpec(spec *sitter.Node, source []byte) model.Declaration {
	decl := model.Declaration{
		Kind: model.Named,
		Name: fieldText(spec, "name", source),
		Line: Line(spec),
	}
	typ := spec.ChildByFieldName("type")
	if spec.Type() == "type_alias" || typ == nil {
		return decl
	}
	switch typ.Type() {
	case "struct_type":
		decl.Kind = model.Struct
		for _, list := range children(typ, "field_declaration_list") {
			for _, f := range children(list, "field_declaration") {
				// Embedded fields carry no field_identifier and are skipped.
				for _, id := range children(f, "field_identifier") {
					decl.Members = append(decl.Members, model.Member{Kind: model.Field, Name: NodeText(id, source), Line: Line(f)})
				}
			}
		}
	case "interface_type":
		decl.Kind = model.Trait
		for i := 0; i < int(typ.NamedChildCount()); i++ {
			elem := typ.NamedChild(i)
			switch elem.Type() {
			case "method_elem", "method_spec":
				decl.Members = append(decl.Members, model.Member{
					Kind:        model.Method,
					Name:        fieldText(elem, "name", source),
					HasReceiver: true,
					Line:        Line(elem),
				})
			case "type_elem", "constraint_elem", "interface_type_name":
				// A single embedded type is a supertype; unions and ~T
				// terms are constraints.
				if elem.NamedChildCount() != 1 {
					continue
				}
				if name := goTypeName(elem.NamedChild(0), source); name != "" {
					decl.Supertypes = append(decl.Supertypes, name)
				}
			}
		}
	}
	return decl
}

// goFindReceiverType extracts the receiver type name from a method_declaration node.
// Navigates: method_declaration → parameter_list (receiver) → parameter_declaration → type.
func goFindReceiverType(node *sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	params := children(recv, "parameter_declaration")
	if len(params) == 0 {
		return ""
	}
	return goTypeName(params[0].ChildByFieldName("type"), source)
}

// goTypeName returns the bare type name of a type node, unwrapping pointers,
// generic instantiations and package qualifiers.
func goTypeName(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "type_identifier":
		return NodeText(node, source)
	case "qualified_type":
		return fieldText(node, "name", source)
	case "pointer_type":
		if node.NamedChildCount() == 0 {
			return ""
		}
		return goTypeName(node.NamedChild(0), source)
	case "generic_type":
		return goTypeName(node.ChildByFieldName("type"), source)
	}
	return ""
}
