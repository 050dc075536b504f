package semver

import "testing"

func TestSatisfiesRange(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		rangeStr string
		want     bool
	}{
		{"major-only match", "1.4.2", "1", true},
		{"major-only no match", "2.0.0", "1", false},
		{"caret match", "1.0.0", SupportedCatalogRange, true},
		{"caret minor match", "1.7.3", SupportedCatalogRange, true},
		{"caret no match", "2.1.0", SupportedCatalogRange, false},
		{"exact match", "1.2.3", "1.2.3", true},
		{"exact no match", "1.2.3", "1.2.4", false},
		{"invalid version", "one", SupportedCatalogRange, false},
		{"invalid range", "1.0.0", "^^", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SatisfiesRange(tt.version, tt.rangeStr); got != tt.want {
				t.Errorf("semver:semver_test - SatisfiesRange(%q, %q) = %v, want %v", tt.version, tt.rangeStr, got, tt.want)
			}
		})
	}
}

func TestExtractMajorFromRange(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1", 1},
		{"12", 12},
		{"^1", -1},
		{"1.0.0", -1},
	}
	for _, tt := range tests {
		if got := ExtractMajorFromRange(tt.in); got != tt.want {
			t.Errorf("semver:semver_test - ExtractMajorFromRange(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"echo", true},
		{"text-to-speech", true},
		{"tts_v2", true},
		{"Public", true},
		{"", false},
		{"echo.public", false},
		{"echo*", false},
		{"echo >", false},
		{"-echo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateName(tt.name); got != tt.want {
				t.Errorf("semver:semver_test - ValidateName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestValidateWorkerName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"public", true},
		{"public.et.en", true},
		{"public.en-gb", true},
		{"", false},
		{".public", false},
		{"public.", false},
		{"public..en", false},
		{"public.*", false},
		{"public.>", false},
		{"public en", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateWorkerName(tt.name); got != tt.want {
				t.Errorf("semver:semver_test - ValidateWorkerName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
