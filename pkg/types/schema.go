// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
)

// FieldType is the primitive or semantic type of a field. The order of the
// constants is the inference precedence, most specific first.
type FieldType string

const (
	TypeInteger  FieldType = "integer"
	TypeDecimal  FieldType = "decimal"
	TypeBoolean  FieldType = "boolean"
	TypeDateTime FieldType = "datetime"
	TypeString   FieldType = "string"
)

// FieldTypes lists all field types in inference precedence order.
var FieldTypes = []FieldType{TypeInteger, TypeDecimal, TypeBoolean, TypeDateTime, TypeString}

// ParseFieldType converts a user-facing type name into a FieldType.
// Common aliases (int, float, number, bool, date, text) are accepted.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "long":
		return TypeInteger, nil
	case "decimal", "float", "double", "number", "numeric":
		return TypeDecimal, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "datetime", "date", "time", "timestamp":
		return TypeDateTime, nil
	case "string", "text", "", "str":
		return TypeString, nil
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

// Accepts reports whether a value inferred as `inferred` can populate a
// field declared as t without loss.
func (t FieldType) Accepts(inferred FieldType) bool {
	if t == inferred || t == TypeString {
		return true
	}
	return t == TypeDecimal && inferred == TypeInteger
}

// FieldSpec describes one field of a TargetSchema.
type FieldSpec struct {
	// Name is the target field name as it appears in output records.
	Name string `json:"name" yaml:"name"`

	// Type is the declared field type.
	Type FieldType `json:"type" yaml:"type"`

	// Required marks fields that weigh double in the aggregate confidence.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Description is a human hint that biases AI-assisted matching.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TargetSchema is the ordered set of fields a document is mapped onto.
// It is immutable for the lifetime of a mapping session.
type TargetSchema struct {
	Name   string      `json:"name" yaml:"name"`
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// FieldNames returns the field names in schema order.
func (s TargetSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by exact name.
func (s TargetSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
