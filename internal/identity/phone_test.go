package identity

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw, cc, want string
	}{
		{"0612345678", "+31", "+31612345678"},
		{"06 12 34 56 78", "+31", "+31612345678"},
		{"(055) 123-4567", "+90", "+90551234567"},
		{"612345678", "31", "+31612345678"},
		{"+31612345678", "+31", "+31612345678"},
		{"+1 (555) 000-1111", "+1", "+15550001111"},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.raw, tt.cc); got != tt.want {
			t.Errorf("NormalizePhone(%q, %q) = %q, want %q", tt.raw, tt.cc, got, tt.want)
		}
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	inputs := []struct{ raw, cc string }{
		{"0612345678", "+31"},
		{"+15550001111", "+1"},
		{"05512345678", "+90"},
	}
	for _, in := range inputs {
		once := NormalizePhone(in.raw, in.cc)
		twice := NormalizePhone(once, in.cc)
		if once != twice {
			t.Errorf("normalize(normalize(%q)) = %q, want %q", in.raw, twice, once)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	if err := ValidatePhone("+31612345678"); err != nil {
		t.Errorf("valid number rejected: %v", err)
	}
	if err := ValidatePhone("31612345678"); err == nil {
		t.Error("expected error for missing +")
	}
	if err := ValidatePhone("+3161"); err == nil {
		t.Error("expected error for too-short number")
	}
	if err := ValidatePhone("+1234567890123456"); err == nil {
		t.Error("expected error for too-long number")
	}
}
