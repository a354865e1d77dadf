package types

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TypeSchema constrains the property bag of one entity type.
type TypeSchema struct {
	// Required properties must be present and non-nil.
	Required []string `yaml:"required"`
	// Allowed, when non-empty, is the full set of accepted property keys
	// (required keys are implicitly allowed).
	Allowed []string `yaml:"allowed"`
}

// Schema maps entity types to their property constraints. Types without an
// entry accept any property bag.
type Schema struct {
	Types map[EntityType]TypeSchema `yaml:"types"`
}

// DefaultSchema is used when no schema file is configured.
func DefaultSchema() *Schema {
	return &Schema{
		Types: map[EntityType]TypeSchema{
			EntityDocument: {Allowed: []string{"title", "url", "category", "content_hash"}},
			EntityTicket:   {Allowed: []string{"key", "status", "priority", "assignee", "url"}},
		},
	}
}

// LoadSchemaYAML parses a schema document of the form:
//
//	types:
//	  person:
//	    required: [email]
//	    allowed: [email, title, team]
func LoadSchemaYAML(data []byte) (*Schema, error) {
	var raw struct {
		Types map[string]TypeSchema `yaml:"types"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	schema := &Schema{Types: make(map[EntityType]TypeSchema, len(raw.Types))}
	for name, ts := range raw.Types {
		t, err := ParseEntityType(name)
		if err != nil {
			return nil, fmt.Errorf("schema references unknown entity type %q: %w", name, err)
		}
		schema.Types[t] = ts
	}
	return schema, nil
}

// ValidateProperties checks an entity's property bag against its type schema.
func (s *Schema) ValidateProperties(e *Entity) error {
	if s == nil || e == nil {
		return nil
	}
	ts, ok := s.Types[e.Type]
	if !ok {
		return nil
	}

	for _, key := range ts.Required {
		if v, present := e.Properties[key]; !present || v == nil {
			return NewValidationError("properties."+key, fmt.Sprintf("required for type %s", e.Type))
		}
	}

	if len(ts.Allowed) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(ts.Allowed)+len(ts.Required))
	for _, key := range ts.Allowed {
		allowed[key] = struct{}{}
	}
	for _, key := range ts.Required {
		allowed[key] = struct{}{}
	}

	var unknown []string
	for key := range e.Properties {
		if _, ok := allowed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return NewValidationError("properties", fmt.Sprintf("keys not allowed for type %s: %s", e.Type, strings.Join(unknown, ", ")))
	}
	return nil
}
