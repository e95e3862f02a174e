package ralph

import (
	"strings"
	"unicode"
)

// verdictLines is how many non-empty lines of verifier output are searched
// for a verdict.
const verdictLines = 5

// verdictPrefixes are labels some agents put before the verdict itself.
var verdictPrefixes = []string{"verdict:", "result:"}

// Verdict is the verifier's judgement of an attempt.
type Verdict int

const (
	VerdictFail Verdict = iota
	VerdictPass
)

func (v Verdict) String() string {
	if v == VerdictPass {
		return "PASS"
	}
	return "FAIL"
}

// ParseVerdict reads the verifier's verdict. The first of the leading
// non-empty lines whose first word is PASS or FAIL decides; markdown
// emphasis, heading and quote markers and a "VERDICT:" or "RESULT:" label
// are ignored. Output without a decisive word is a failure.
func ParseVerdict(output string) Verdict {
	seen := 0
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen++
		if seen > verdictLines {
			break
		}
		switch strings.ToUpper(leadingWord(line)) {
		case "PASS":
			return VerdictPass
		case "FAIL":
			return VerdictFail
		}
	}
	return VerdictFail
}

// leadingWord strips decoration and returns the first run of letters.
func leadingWord(line string) string {
	line = stripMarkers(line)
	lower := strings.ToLower(line)
	for _, p := range verdictPrefixes {
		if strings.HasPrefix(lower, p) {
			line = stripMarkers(line[len(p):])
			break
		}
	}
	end := strings.IndexFunc(line, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return line
	}
	return line[:end]
}

func stripMarkers(s string) string {
	return strings.TrimLeft(s, "#*_`> \t")
}
