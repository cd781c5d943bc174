package util

import (
	"strings"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}

	for _, tc := range cases {
		t.Setenv("FLOWFORGE_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("FLOWFORGE_TEST_BOOL", tc.defaultValue); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.defaultValue, got, tc.want)
		}
	}
}

func TestGenerateTempFlowID(t *testing.T) {
	id := GenerateTempFlowID()
	if !strings.HasPrefix(id, "temp_") {
		t.Errorf("id %q should have temp_ prefix", id)
	}
	if len(id) != len("temp_")+16 {
		t.Errorf("id %q has wrong length", id)
	}
	if id == GenerateTempFlowID() && id == GenerateTempFlowID() {
		t.Error("ids should not repeat")
	}
}

func TestGenerateRandomHex(t *testing.T) {
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should yield empty string")
	}
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Fatalf("length = %d, want 32", len(hex))
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("non-hex rune %q in %q", r, hex)
		}
	}
}
