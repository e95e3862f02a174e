package ralph

import "testing"

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Verdict
	}{
		{"plain pass", "PASS", VerdictPass},
		{"lower case", "pass - all criteria met", VerdictPass},
		{"bold", "**PASS**", VerdictPass},
		{"heading", "## PASS", VerdictPass},
		{"verdict label", "VERDICT: PASS", VerdictPass},
		{"bold label", "**Result:** pass", VerdictPass},
		{"punctuation", "PASS.", VerdictPass},
		{"after preamble", "I checked the code.\n\nTests run green.\nPASS", VerdictPass},
		{"fail", "FAIL: no tests", VerdictFail},
		{"fail before pass", "FAIL\nPASS criteria 1 only", VerdictFail},
		{"passed is not pass", "PASSED", VerdictFail},
		{"empty", "", VerdictFail},
		{"no verdict", "looks fine to me", VerdictFail},
		{"too late", "a\nb\nc\nd\ne\nPASS", VerdictFail},
		{"blank lines do not count", "a\n\n\nb\n\nc\nd\nPASS", VerdictPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseVerdict(tt.output); got != tt.want {
				t.Errorf("ParseVerdict(%q) = %s, want %s", tt.output, got, tt.want)
			}
		})
	}
}
