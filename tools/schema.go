package tools

// Schema helpers for building JSON Schema definitions.

// Schema is a JSON Schema fragment.
type Schema = map[string]interface{}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]interface{}, required ...string) Schema {
	schema := Schema{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) Schema {
	return property("string", description)
}

// NumberProperty creates a number property with optional description.
func NumberProperty(description string) Schema {
	return property("number", description)
}

// BooleanProperty creates a boolean property with optional description.
func BooleanProperty(description string) Schema {
	return property("boolean", description)
}

func property(kind, description string) Schema {
	p := Schema{"type": kind}
	if description != "" {
		p["description"] = description
	}
	return p
}

// WithThought adds an optional "thought" parameter to an existing object schema.
// The input schema is not modified.
func WithThought(schema Schema) Schema {
	result := make(Schema, len(schema))
	for k, v := range schema {
		result[k] = v
	}

	props := make(map[string]interface{})
	if existing, ok := schema["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty(
		"Optional: your reasoning for this call and what you expect it to show.",
	)
	result["properties"] = props

	return result
}

// Properties returns the "properties" map of an object schema.
func Properties(schema Schema) map[string]interface{} {
	props, _ := schema["properties"].(map[string]interface{})
	return props
}

// Required returns the "required" list of an object schema.
func Required(schema Schema) []string {
	required, _ := schema["required"].([]string)
	return required
}
