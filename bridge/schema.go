package bridge

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Field type literals used by compiled input schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

// FieldSpec is a compiled field descriptor for one schema property.
type FieldSpec struct {
	Type        string
	Required    bool
	Description string
	Items       *FieldSpec
	Properties  map[string]FieldSpec
}

// InputSchema is a tool's declared input contract: the raw JSON schema as
// published by the server, plus a compiled form used for validation.
type InputSchema struct {
	raw    map[string]any
	fields map[string]FieldSpec
}

// NewInputSchema compiles a JSON schema object into an InputSchema. A nil or
// empty schema accepts any object.
func NewInputSchema(raw map[string]any) InputSchema {
	return InputSchema{
		raw:    raw,
		fields: mapSchemaProperties(raw),
	}
}

// Raw returns the schema as published by the server.
func (s InputSchema) Raw() map[string]any {
	return s.raw
}

// JSON renders the raw schema as a JSON document. An empty schema renders as
// a permissive object schema.
func (s InputSchema) JSON() json.RawMessage {
	if len(s.raw) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	data, err := json.Marshal(s.raw)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// Fields returns the compiled property specs.
func (s InputSchema) Fields() map[string]FieldSpec {
	return s.fields
}

// Validate checks keyword-style arguments against the schema: required
// properties must be present and every supplied property must match its
// declared type. Properties the schema does not declare pass through
// unchecked. Failures are ValidationError.
func (s InputSchema) Validate(args map[string]any) error {
	for _, name := range sortedFieldNames(s.fields) {
		spec := s.fields[name]
		value, ok := args[name]
		if !ok {
			if spec.Required {
				return &ValidationError{Message: fmt.Sprintf("field %q is required", name)}
			}
			continue
		}
		if err := validateValue(name, spec, value); err != nil {
			return err
		}
	}
	return nil
}

// ParseText converts a raw text blob into schema-validated arguments. The
// text must be a JSON object; it is the schema-directed converter used when a
// caller supplies serialized rather than structured input.
func (s InputSchema) ParseText(text string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("input is not a JSON object: %v", err)}
	}
	if err := s.Validate(args); err != nil {
		return nil, err
	}
	return args, nil
}

func validateValue(path string, spec FieldSpec, value any) error {
	if value == nil {
		if spec.Required {
			return &ValidationError{Message: fmt.Sprintf("field %q must not be null", path)}
		}
		return nil
	}

	switch spec.Type {
	case TypeAny:
		return nil
	case TypeString:
		if _, ok := value.(string); !ok {
			return typeMismatch(path, spec.Type, value)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeMismatch(path, spec.Type, value)
		}
	case TypeInteger:
		switch typed := value.(type) {
		case int, int32, int64:
		case float64:
			if typed != float64(int64(typed)) {
				return typeMismatch(path, spec.Type, value)
			}
		case json.Number:
			if _, err := typed.Int64(); err != nil {
				return typeMismatch(path, spec.Type, value)
			}
		default:
			return typeMismatch(path, spec.Type, value)
		}
	case TypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64, json.Number:
		default:
			return typeMismatch(path, spec.Type, value)
		}
	case TypeArray:
		items, ok := value.([]any)
		if !ok {
			return typeMismatch(path, spec.Type, value)
		}
		if spec.Items == nil {
			return nil
		}
		for i, item := range items {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), *spec.Items, item); err != nil {
				return err
			}
		}
	case TypeObject:
		object, ok := value.(map[string]any)
		if !ok {
			return typeMismatch(path, spec.Type, value)
		}
		for _, name := range sortedFieldNames(spec.Properties) {
			propSpec := spec.Properties[name]
			propValue, present := object[name]
			if !present {
				if propSpec.Required {
					return &ValidationError{Message: fmt.Sprintf("field %q is required", path+"."+name)}
				}
				continue
			}
			if err := validateValue(path+"."+name, propSpec, propValue); err != nil {
				return err
			}
		}
	}
	return nil
}

func typeMismatch(path, want string, value any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("field %q must be of type %s, got %T", path, want, value)}
}

func mapSchemaProperties(schema map[string]any) map[string]FieldSpec {
	if len(schema) == 0 {
		return map[string]FieldSpec{}
	}

	requiredSet := make(map[string]struct{})
	switch requiredRaw := schema["required"].(type) {
	case []any:
		for _, item := range requiredRaw {
			if field, ok := item.(string); ok {
				requiredSet[field] = struct{}{}
			}
		}
	case []string:
		for _, field := range requiredRaw {
			requiredSet[field] = struct{}{}
		}
	}

	propertiesRaw, ok := schema["properties"].(map[string]any)
	if !ok {
		return map[string]FieldSpec{}
	}

	fields := make(map[string]FieldSpec, len(propertiesRaw))
	for name, rawSpec := range propertiesRaw {
		fieldSchema, _ := rawSpec.(map[string]any)
		spec := jsonSchemaToFieldSpec(fieldSchema)
		_, required := requiredSet[name]
		spec.Required = required
		fields[name] = spec
	}
	return fields
}

func jsonSchemaToFieldSpec(schema map[string]any) FieldSpec {
	spec := FieldSpec{Type: TypeAny}
	if schema == nil {
		return spec
	}

	if desc, ok := schema["description"].(string); ok {
		spec.Description = desc
	}
	if fieldType, ok := schema["type"].(string); ok {
		spec.Type = mapJSONSchemaType(fieldType)
	} else if typeArray, ok := schema["type"].([]any); ok {
		for _, rawType := range typeArray {
			typeName, _ := rawType.(string)
			if strings.EqualFold(typeName, "null") {
				continue
			}
			spec.Type = mapJSONSchemaType(typeName)
			break
		}
	}

	if spec.Type == TypeArray {
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			itemSpec := jsonSchemaToFieldSpec(itemSchema)
			spec.Items = &itemSpec
		} else {
			itemSpec := FieldSpec{Type: TypeAny}
			spec.Items = &itemSpec
		}
	}

	if spec.Type == TypeObject {
		if props, ok := schema["properties"].(map[string]any); ok {
			requiredSet := make(map[string]struct{})
			if requiredRaw, ok := schema["required"].([]any); ok {
				for _, item := range requiredRaw {
					if field, ok := item.(string); ok {
						requiredSet[field] = struct{}{}
					}
				}
			}
			spec.Properties = make(map[string]FieldSpec, len(props))
			for name, rawChild := range props {
				childSchema, _ := rawChild.(map[string]any)
				child := jsonSchemaToFieldSpec(childSchema)
				_, required := requiredSet[name]
				child.Required = required
				spec.Properties[name] = child
			}
		}
	}

	return spec
}

func mapJSONSchemaType(jsonType string) string {
	switch strings.ToLower(strings.TrimSpace(jsonType)) {
	case "string":
		return TypeString
	case "integer":
		return TypeInteger
	case "number":
		return TypeFloat
	case "boolean":
		return TypeBoolean
	case "array":
		return TypeArray
	case "object":
		return TypeObject
	default:
		return TypeAny
	}
}

func sortedFieldNames(fields map[string]FieldSpec) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
