package schema

// Field is one argument definition.
type Field struct {
	Name     string
	Type     Type
	Required bool
}

// Schema is an ordered list of fields. Fields not listed are ignored.
type Schema []Field

// Field returns the definition named name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks if data conforms to the schema.
// Returns an *AggregateError with all failures, in field order.
// Absent, nil and empty-string values count as missing.
func (s Schema) Validate(data map[string]any) error {
	var errs []error

	for _, field := range s {
		value, exists := data[field.Name]
		if !exists || value == nil || value == "" {
			if field.Required {
				errs = append(errs, &ValidationError{
					Key:    field.Name,
					Kind:   KindMissing,
					Reason: "required",
				})
			}
			continue
		}

		if field.Type == nil {
			continue
		}
		if err := field.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{
				Key:    field.Name,
				Kind:   KindType,
				Reason: err.Error(),
				Value:  value,
			})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
