package story

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FencedBlockInProse(t *testing.T) {
	out := "Here is the plan I came up with.\n\n```json\n" +
		`[{"id":"a","title":"T","description":"D","acceptance_criteria":["x"]}]` +
		"\n```\n\nLet me know if you want changes."

	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 1)

	s := stories[0]
	assert.Equal(t, "a", s.ID)
	assert.Equal(t, "T", s.Title)
	assert.Equal(t, "D", s.Description)
	assert.Equal(t, []string{"x"}, s.AcceptanceCriteria)
	assert.Equal(t, StatusPending, s.Status)
	assert.Zero(t, s.RetryCount)
}

func TestParse_BareListSurroundedByProse(t *testing.T) {
	out := `Sure [thinking out loud]. The stories are [{"id": "s1", "title": "One"}, {"id": "s2", "title": "Two"}] and that's it.`
	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "s1", stories[0].ID)
	assert.Equal(t, "s2", stories[1].ID)
}

func TestParse_WrappedInObject(t *testing.T) {
	out := `{"stories": [{"id": "w", "title": "Wrapped"}]}`
	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "w", stories[0].ID)
}

func TestParse_TrailingCommas(t *testing.T) {
	out := `[
  {"id": "a", "title": "A, with comma,", "criteria": ["one", "two",],},
  {"id": "b", "title": "B"},
]`
	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "A, with comma,", stories[0].Title, "commas inside strings are kept")
	assert.Equal(t, []string{"one", "two"}, stories[0].AcceptanceCriteria)
}

func TestParse_KeySpellings(t *testing.T) {
	out := `[
  {"story_id": "x1", "name": "Named", "desc": "short", "acceptanceCriteria": ["c1"]},
  {"storyId": "x2", "summary": "Summarized", "details": "long", "acceptance": "- first\n- second\n\n3. third"},
  {"key": 7, "title": "Numeric id"}
]`
	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 3)

	assert.Equal(t, "x1", stories[0].ID)
	assert.Equal(t, "Named", stories[0].Title)
	assert.Equal(t, "short", stories[0].Description)
	assert.Equal(t, []string{"c1"}, stories[0].AcceptanceCriteria)

	assert.Equal(t, "x2", stories[1].ID)
	assert.Equal(t, "Summarized", stories[1].Title)
	assert.Equal(t, "long", stories[1].Description)
	assert.Equal(t, []string{"first", "second", "third"}, stories[1].AcceptanceCriteria)

	assert.Equal(t, "7", stories[2].ID)
}

func TestParse_GeneratesMissingIDs(t *testing.T) {
	stories, err := Parse(`[{"title": "No id"}, {"description": "only a description"}]`)
	require.NoError(t, err)
	require.Len(t, stories, 2)

	idRe := regexp.MustCompile(`^story-\d+-[0-9a-f]{4}$`)
	assert.Regexp(t, idRe, stories[0].ID)
	assert.Regexp(t, idRe, stories[1].ID)
	assert.Equal(t, stories[1].ID, stories[1].Title, "title falls back to the id")
}

func TestParse_Idempotent(t *testing.T) {
	out := "```\n[{\"id\":\"a\",\"title\":\"T\",\"acceptance_criteria\":[\"x\",\"y\"]},{\"title\":\"U\"}]\n```"
	first, err := Parse(out)
	require.NoError(t, err)
	second, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	for i := range first {
		assert.Equal(t, first[i].Title, second[i].Title)
		assert.Equal(t, first[i].AcceptanceCriteria, second[i].AcceptanceCriteria)
		assert.Equal(t, first[i].Status, second[i].Status)
	}
	assert.Equal(t, first[0].ID, second[0].ID, "explicit ids are stable")
}

func TestParse_SkipsNonStoryLists(t *testing.T) {
	out := `Files to touch: ["a.go", "b.go"]. Plan: [{"id": "p", "title": "Touch files"}]`
	stories, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "p", stories[0].ID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"empty", "   ", "output is empty"},
		{"no list", "I could not come up with a plan.", "no JSON list of stories found"},
		{"unbalanced", `[{"id": "a", "title": "T"}`, "no JSON list of stories found"},
		{"only empty objects", `[{"id": "a"}]`, "story list has no entries with a title or description"},
		{"duplicate ids", `[{"id": "a", "title": "T"}, {"id": "a", "title": "U"}]`, `duplicate story id "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "want ParseError, got %v", err)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, tt.input, perr.Raw)
		})
	}
}

func TestCountAndChecklist(t *testing.T) {
	stories := []Story{
		{ID: "a", Title: "A", Status: StatusDone},
		{ID: "b", Title: "B", Status: StatusFailed},
		{ID: "c", Title: "C", Status: StatusPending},
		{ID: "d", Title: "D", Status: StatusRunning},
	}
	c := Count(stories)
	assert.Equal(t, Counts{Pending: 1, Running: 1, Done: 1, Failed: 1}, c)
	assert.Equal(t, 4, c.Total())
	assert.Equal(t, 2, c.Open())
	assert.False(t, AllDone(stories))
	assert.True(t, AllDone(nil))

	assert.Equal(t, "- [x] a: A\n- [!] b: B\n- [ ] c: C\n- [ ] d: D", Checklist(stories))
	assert.Equal(t, "(no stories)", Checklist(nil))
}
