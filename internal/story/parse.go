package story

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"devflow/internal/jsonutil"
)

// Accepted key spellings, in priority order.
var (
	idKeys          = []string{"id", "story_id", "storyId", "key"}
	titleKeys       = []string{"title", "name", "summary"}
	descriptionKeys = []string{"description", "desc", "details", "body"}
	criteriaKeys    = []string{"acceptance_criteria", "acceptanceCriteria", "criteria", "acceptance", "ac"}
)

// ParseError reports planner output that could not be decoded into stories.
// Raw holds the full planner text for debugging.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse planner output: " + e.Reason
}

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)```")

var bulletRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// Parse decodes planner output into pending stories. It is deliberately
// lenient: code fences are stripped, the first balanced JSON list of objects
// is located even when surrounded by prose, trailing commas are tolerated and
// several spellings are accepted for each field.
func Parse(text string) ([]Story, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Reason: "output is empty", Raw: text}
	}

	reason := "no JSON list of stories found"
	for _, candidate := range candidates(text) {
		for _, raw := range bracketLists(candidate) {
			items, ok := decodeObjects(stripTrailingCommas(raw))
			if !ok {
				continue
			}
			stories, err := buildStories(items)
			if err != nil {
				return nil, &ParseError{Reason: err.Error(), Raw: text}
			}
			if len(stories) == 0 {
				reason = "story list has no entries with a title or description"
				continue
			}
			return stories, nil
		}
	}
	return nil, &ParseError{Reason: reason, Raw: text}
}

// candidates returns the fenced code block bodies in order, then the text.
func candidates(text string) []string {
	var out []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return append(out, text)
}

// bracketLists returns every balanced [...] span in s, in order of their
// opening bracket. The outermost list therefore comes before its children.
func bracketLists(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if end := matchBracket(s, i); end > i {
			out = append(out, s[i:end+1])
		}
	}
	return out
}

// matchBracket returns the index of the ']' closing the '[' at start,
// ignoring brackets inside JSON strings, or -1.
func matchBracket(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// stripTrailingCommas removes commas that directly precede ']' or '}',
// leaving string contents untouched.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// decodeObjects decodes a JSON array and keeps its object elements.
func decodeObjects(raw string) ([]map[string]any, bool) {
	var arr []any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return nil, false
	}
	objs := make([]map[string]any, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]any); ok {
			objs = append(objs, m)
		}
	}
	return objs, len(objs) > 0
}

func buildStories(items []map[string]any) ([]Story, error) {
	stories := make([]Story, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s := Story{
			ID:          jsonutil.FirstString(item, idKeys...),
			Title:       jsonutil.FirstString(item, titleKeys...),
			Description: jsonutil.FirstString(item, descriptionKeys...),
			Status:      StatusPending,
		}
		if s.Title == "" && s.Description == "" {
			continue
		}
		if v, ok := jsonutil.FirstValue(item, criteriaKeys...); ok {
			s.AcceptanceCriteria = criteria(v)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("story-%d-%s", len(stories)+1, randomSuffix())
		}
		if s.Title == "" {
			s.Title = s.ID
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate story id %q", s.ID)
		}
		seen[s.ID] = true
		stories = append(stories, s)
	}
	return stories, nil
}

// criteria accepts a list or a newline separated string with optional bullets.
func criteria(v any) []string {
	s, ok := v.(string)
	if !ok {
		return jsonutil.ToStrings(v)
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func randomSuffix() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
