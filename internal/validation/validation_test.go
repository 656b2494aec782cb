package validation

import "testing"

func TestIsValidCPF(t *testing.T) {
	tests := []struct {
		name string
		cpf  string
		want bool
	}{
		{"valid", "52998224725", true},
		{"valid second", "11144477735", true},
		{"wrong check digit", "52998224726", false},
		{"all same digits", "11111111111", false},
		{"too short", "5299822472", false},
		{"too long", "529982247251", false},
		{"non numeric", "5299822472a", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidCPF(tt.cpf); got != tt.want {
				t.Errorf("IsValidCPF(%q) = %v, want %v", tt.cpf, got, tt.want)
			}
		})
	}
}

func TestIsValidBIN(t *testing.T) {
	if !IsValidBIN("411111") {
		t.Error("expected 411111 to be a valid BIN")
	}
	if IsValidBIN("41111") {
		t.Error("expected 5-digit BIN to be invalid")
	}
	if IsValidBIN("41111a") {
		t.Error("expected non-numeric BIN to be invalid")
	}
}

func TestMaskCPF(t *testing.T) {
	if got := MaskCPF("52998224725"); got != "529.***.***-25" {
		t.Errorf("MaskCPF = %q", got)
	}
	if got := MaskCPF("bad"); got != "***" {
		t.Errorf("MaskCPF on malformed input = %q, want ***", got)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString length cap = %q", got)
	}
}

func TestValidateCombinators(t *testing.T) {
	errs := Validate(
		Required("cpf", ""),
		OneOf("channel", "FAX", "POS", "APP", "WEB"),
		PositiveAmount("amount", -1),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d: %v", len(errs), errs)
	}

	errs = Validate(
		Required("cpf", "52998224725"),
		ValidCPF("cpf", "52998224725"),
		OneOf("channel", "WEB", "POS", "APP", "WEB"),
		PositiveAmount("amount", 10.5),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}
