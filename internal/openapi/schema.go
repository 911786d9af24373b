package openapi

import "github.com/getkin/kin-openapi/openapi3"

// convertSchema converts a resolved kin-openapi schema into a plain JSON
// Schema map. kin-openapi's loader already dereferences same-document
// $ref pointers into s.Value before this function ever sees a *Schema, so
// the recursion here only needs to walk object properties, array items,
// and the oneOf/allOf/anyOf/not branches to carry resolution through
// nested shapes — exactly the enumeration spec.md §4.1 calls out.
//
// 3.1 documents may declare a type as an array including "null"
// (Draft-2020-12 style). kin-openapi represents Schema.Type as a list in
// both cases, so normalization here is the same regardless of OpenAPI
// version: a "null" entry is stripped out and recorded as nullable:true,
// and when several non-null types remain the first one is used.
func convertSchema(s *openapi3.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}
	result := map[string]any{}

	if s.Type != nil {
		types := make([]string, 0, len(*s.Type))
		nullable := s.Nullable
		for _, t := range *s.Type {
			if t == "null" {
				nullable = true
				continue
			}
			types = append(types, t)
		}
		switch len(types) {
		case 0:
			result["type"] = "null"
		default:
			result["type"] = types[0]
		}
		if nullable {
			result["nullable"] = true
		}
	}

	if s.Description != "" {
		result["description"] = s.Description
	}
	if s.Format != "" {
		result["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		result["enum"] = s.Enum
	}
	if s.Default != nil {
		result["default"] = s.Default
	}
	if s.Min != nil {
		result["minimum"] = *s.Min
	}
	if s.Max != nil {
		result["maximum"] = *s.Max
	}

	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, ref := range s.Properties {
			props[name] = convertSchemaRef(ref)
		}
		result["properties"] = props
	}
	if len(s.Required) > 0 {
		result["required"] = s.Required
	}
	if s.Items != nil {
		result["items"] = convertSchemaRef(s.Items)
	}
	if len(s.OneOf) > 0 {
		result["oneOf"] = convertSchemaRefs(s.OneOf)
	}
	if len(s.AllOf) > 0 {
		result["allOf"] = convertSchemaRefs(s.AllOf)
	}
	if len(s.AnyOf) > 0 {
		result["anyOf"] = convertSchemaRefs(s.AnyOf)
	}
	if s.Not != nil {
		result["not"] = convertSchemaRef(s.Not)
	}

	return result
}

func convertSchemaRef(ref *openapi3.SchemaRef) map[string]any {
	if ref == nil {
		return map[string]any{"type": "object"}
	}
	return convertSchema(ref.Value)
}

func convertSchemaRefs(refs openapi3.SchemaRefs) []any {
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, convertSchemaRef(r))
	}
	return out
}
