package config

import (
	"testing"
	"time"
)

func TestSplitSymbols(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"simple", "AAPL,GOOGL,MSFT", []string{"AAPL", "GOOGL", "MSFT"}},
		{"lowercase and spaces", " aapl , googl ", []string{"AAPL", "GOOGL"}},
		{"duplicates collapsed", "AAPL,aapl,AAPL", []string{"AAPL"}},
		{"empty entries dropped", "AAPL,,MSFT,", []string{"AAPL", "MSFT"}},
		{"empty input", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitSymbols(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("splitSymbols(%q) = %v, want %v", tc.raw, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("splitSymbols(%q)[%d] = %q, want %q", tc.raw, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("STOCKSTREAM_TEST_STR", "hello")
	if got := getEnv("STOCKSTREAM_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("getEnv = %q, want hello", got)
	}
	if got := getEnv("STOCKSTREAM_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want fallback", got)
	}

	t.Setenv("STOCKSTREAM_TEST_INT", "42")
	if got := getEnvInt("STOCKSTREAM_TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	t.Setenv("STOCKSTREAM_TEST_INT", "not-a-number")
	if got := getEnvInt("STOCKSTREAM_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt on garbage = %d, want default 7", got)
	}

	t.Setenv("STOCKSTREAM_TEST_DUR", "90s")
	if got := getEnvDuration("STOCKSTREAM_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v, want 90s", got)
	}
	t.Setenv("STOCKSTREAM_TEST_DUR", "soon")
	if got := getEnvDuration("STOCKSTREAM_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration on garbage = %v, want default 1m", got)
	}
}

func TestMaskHost(t *testing.T) {
	if got := maskHost("db.internal.example.com"); got == "db.internal.example.com" {
		t.Errorf("maskHost should not return the full host, got %q", got)
	}
	if got := maskHost("db"); got != "***" {
		t.Errorf("maskHost on short host = %q, want ***", got)
	}
}
