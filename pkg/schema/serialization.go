package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

type fieldDoc struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// MarshalJSON serializes the field with its type name.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.Type == nil {
		return nil, fmt.Errorf("field %s: type is nil", f.Name)
	}
	return json.Marshal(fieldDoc{Name: f.Name, Type: f.Type.Name(), Required: f.Required})
}

// UnmarshalYAML decodes a field whose type is given by name.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var doc fieldDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	if doc.Name == "" {
		return fmt.Errorf("line %d: field without name", node.Line)
	}
	typ, err := ParseType(doc.Type)
	if err != nil {
		return fmt.Errorf("field %s: %w", doc.Name, err)
	}
	*f = Field{Name: doc.Name, Type: typ, Required: doc.Required}
	return nil
}
