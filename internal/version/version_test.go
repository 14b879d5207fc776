package version

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"2", "2.0.0"},
		{"12", "12.0.0"},
		{"2.1", "2.1.0"},
		{"2.1-beta", "2.1.0-beta"},
		{"2.1+build5", "2.1.0+build5"},
		{"2.1.0", "2.1.0"},
		{"2.1.0-beta", "2.1.0-beta"},
		{"not-a-version", "not-a-version"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"2", "2.1", "2.1-beta", "2.1.0", "x.y.z", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeFixedPointOnFullSemver(t *testing.T) {
	inputs := []string{"1.2.3", "0.0.1", "10.20.30"}
	for _, in := range inputs {
		if got := Normalize(in); got != in {
			t.Errorf("Normalize(%q) = %q, want unchanged", in, got)
		}
	}
}
