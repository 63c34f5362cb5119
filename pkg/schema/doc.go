// Package schema validates tool arguments against a small type system.
//
// A Schema is an ordered list of fields. Each field has a Type and may be
// required. Validation collects every failure into an *AggregateError so
// callers can tell missing arguments apart from wrongly typed ones:
//
//	args := schema.Schema{
//	    {Name: "date", Type: schema.String(), Required: true},
//	    {Name: "party_size", Type: schema.Int()},
//	    {Name: "channel", Type: schema.Enum("web", "whatsapp")},
//	}
//
//	if err := args.Validate(data); err != nil {
//	    missing := schema.Missing(err)
//	    // ...
//	}
//
// Field lists can be decoded from YAML, with types given by name
// ("string", "int", "float", "bool", "enum(a,b)").
package schema
