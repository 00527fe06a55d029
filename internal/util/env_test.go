package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("REPLOG_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("REPLOG_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("REPLOG_TEST_DURATION", "45s")
	if got := ParseDurationEnv("REPLOG_TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("ParseDurationEnv() = %v", got)
	}
	t.Setenv("REPLOG_TEST_DURATION", "soon")
	if got := ParseDurationEnv("REPLOG_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("invalid value should fall back to default, got %v", got)
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("REPLOG_TEST_A", "")
	t.Setenv("REPLOG_TEST_B", " second ")
	if got := FirstEnv("REPLOG_TEST_A", "REPLOG_TEST_B"); got != "second" {
		t.Errorf("FirstEnv() = %q, want %q", got, "second")
	}
	if got := FirstEnv("REPLOG_TEST_A"); got != "" {
		t.Errorf("FirstEnv() = %q, want empty", got)
	}
}
