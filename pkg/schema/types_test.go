package schema

import (
	"testing"
)

func TestStringType(t *testing.T) {
	typ := String()

	if typ.Name() != "string" {
		t.Errorf("Name() = %q, want %q", typ.Name(), "string")
	}

	tests := []struct {
		value   any
		wantErr bool
	}{
		{"hello", false},
		{"", false},
		{42, true},
		{3.14, true},
		{true, true},
		{nil, true},
	}

	for _, tt := range tests {
		err := typ.Validate(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestIntType(t *testing.T) {
	typ := Int()

	tests := []struct {
		value   any
		wantErr bool
	}{
		{42, false},
		{int64(42), false},
		{float64(42), false},  // whole number
		{float64(42.5), true}, // not whole
		{"42", true},
		{true, true},
		{nil, true},
	}

	for _, tt := range tests {
		err := typ.Validate(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

func TestFloatAndBoolTypes(t *testing.T) {
	if err := Float().Validate(3); err != nil {
		t.Errorf("Float().Validate(3) = %v, want nil", err)
	}
	if err := Float().Validate("3.0"); err == nil {
		t.Error("Float().Validate(string) should fail")
	}
	if err := Bool().Validate(false); err != nil {
		t.Errorf("Bool().Validate(false) = %v, want nil", err)
	}
	if err := Bool().Validate("true"); err == nil {
		t.Error("Bool().Validate(string) should fail")
	}
}

func TestEnumType(t *testing.T) {
	typ := Enum("web", "whatsapp")

	if typ.Name() != "enum(web,whatsapp)" {
		t.Errorf("Name() = %q", typ.Name())
	}
	if err := typ.Validate("web"); err != nil {
		t.Errorf("Validate(web) = %v, want nil", err)
	}
	if err := typ.Validate("sms"); err == nil {
		t.Error("Validate(sms) should fail")
	}
	if err := typ.Validate(1); err == nil {
		t.Error("Validate(1) should fail")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantErr  bool
	}{
		{"string", "string", false},
		{"", "string", false},
		{"int", "int", false},
		{"float", "float", false},
		{"bool", "bool", false},
		{"enum(a, b)", "enum(a,b)", false},
		{"enum()", "", true},
		{"uuid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got.Name() != tt.wantName {
				t.Errorf("ParseType(%q).Name() = %q, want %q", tt.in, got.Name(), tt.wantName)
			}
		})
	}
}
