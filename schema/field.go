package schema

import (
	"strings"
)

const (
	TypeAny     = "any"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// Field declares the shape of one value. Object properties are required
// unless marked Optional.
type Field struct {
	Type       string            `yaml:"type" json:"type"`
	Properties map[string]*Field `yaml:"properties" json:"properties,omitempty"`
	Items      *Field            `yaml:"items" json:"items,omitempty"`
	Optional   bool              `yaml:"optional" json:"optional,omitempty"`
	// Strict rejects unknown object properties instead of dropping them on sanitize.
	Strict    bool          `yaml:"strict" json:"strict,omitempty"`
	Enum      []interface{} `yaml:"enum" json:"enum,omitempty"`
	MinLength *int          `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength *int          `yaml:"max_length" json:"max_length,omitempty"`
	Minimum   *float64      `yaml:"minimum" json:"minimum,omitempty"`
	Maximum   *float64      `yaml:"maximum" json:"maximum,omitempty"`
	Pattern   string        `yaml:"pattern" json:"pattern,omitempty"`
	Format    string        `yaml:"format" json:"format,omitempty"`
}

// Options is the declarative description a route attaches. Header names are
// matched case-insensitively.
type Options struct {
	Headers map[string]*Field `yaml:"headers" json:"headers,omitempty"`
	Params  map[string]*Field `yaml:"params" json:"params,omitempty"`
	Data    *Field            `yaml:"data" json:"data,omitempty"`
}

func String() *Field {
	return &Field{Type: TypeString}
}

func Number() *Field {
	return &Field{Type: TypeNumber}
}

func Integer() *Field {
	return &Field{Type: TypeInteger}
}

func Boolean() *Field {
	return &Field{Type: TypeBoolean}
}

func Object(properties map[string]*Field) *Field {
	return &Field{Type: TypeObject, Properties: properties}
}

func Array(items *Field) *Field {
	return &Field{Type: TypeArray, Items: items}
}

func Any() *Field {
	return &Field{Type: TypeAny}
}

func (f *Field) AsOptional() *Field {
	f.Optional = true
	return f
}

func (f *Field) isAny() bool {
	return f == nil || f.Type == "" || f.Type == TypeAny
}

// document renders f as a JSON Schema node.
func (f *Field) document() map[string]interface{} {
	doc := map[string]interface{}{}
	if f.isAny() {
		return doc
	}

	doc["type"] = f.Type

	switch f.Type {
	case TypeObject:
		if len(f.Properties) > 0 {
			doc["properties"], doc["required"] = propertiesDocument(f.Properties, false)
		}
		if f.Strict {
			doc["additionalProperties"] = false
		}
	case TypeArray:
		if f.Items != nil {
			doc["items"] = f.Items.document()
		}
	}

	if len(f.Enum) > 0 {
		doc["enum"] = f.Enum
	}
	if f.MinLength != nil {
		doc["minLength"] = *f.MinLength
	}
	if f.MaxLength != nil {
		doc["maxLength"] = *f.MaxLength
	}
	if f.Minimum != nil {
		doc["minimum"] = *f.Minimum
	}
	if f.Maximum != nil {
		doc["maximum"] = *f.Maximum
	}
	if f.Pattern != "" {
		doc["pattern"] = f.Pattern
	}
	if f.Format != "" {
		doc["format"] = f.Format
	}

	return doc
}

func propertiesDocument(fields map[string]*Field, lowerKeys bool) (map[string]interface{}, []interface{}) {
	properties := make(map[string]interface{}, len(fields))
	required := make([]interface{}, 0, len(fields))

	for name, field := range fields {
		if lowerKeys {
			name = strings.ToLower(name)
		}
		properties[name] = field.document()
		if field == nil || !field.Optional {
			required = append(required, name)
		}
	}

	return properties, required
}

// clean returns a copy of value holding only what f declares.
func (f *Field) clean(value interface{}) interface{} {
	if f.isAny() {
		return value
	}

	switch f.Type {
	case TypeObject:
		obj, ok := value.(map[string]interface{})
		if !ok || len(f.Properties) == 0 {
			return value
		}
		return cleanObject(f.Properties, obj)
	case TypeArray:
		arr, ok := value.([]interface{})
		if !ok || f.Items == nil {
			return value
		}
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			out[i] = f.Items.clean(item)
		}
		return out
	default:
		return value
	}
}

func cleanObject(fields map[string]*Field, obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for name, field := range fields {
		value, ok := obj[name]
		if !ok {
			continue
		}
		out[name] = field.clean(value)
	}
	return out
}

func lowerFields(fields map[string]*Field) map[string]*Field {
	out := make(map[string]*Field, len(fields))
	for name, field := range fields {
		out[strings.ToLower(name)] = field
	}
	return out
}
