package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type color int

const (
	red color = iota
	blue
)

func (c color) String() string {
	if c == blue {
		return "blue"
	}
	return "red"
}

func parseColor(s string) (color, error) {
	switch s {
	case "red":
		return red, nil
	case "blue":
		return blue, nil
	}
	return 0, ParseEnumError("color", s)
}

func TestEnumRoundTrip(t *testing.T) {
	data, err := MarshalEnum(blue)
	require.NoError(t, err)
	assert.JSONEq(t, `"blue"`, string(data))

	got, err := UnmarshalEnum(data, parseColor)
	require.NoError(t, err)
	assert.Equal(t, blue, got)

	_, err = UnmarshalEnum([]byte(`"green"`), parseColor)
	assert.EqualError(t, err, `unknown color: "green"`)
}

func TestFirstString(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"storyId": 7, "Title": " T ", "empty": null}`), &m))

	assert.Equal(t, "7", FirstString(m, "id", "story_id", "storyId"))
	assert.Equal(t, "T", FirstString(m, "title"), "case-insensitive fallback")
	assert.Equal(t, "", FirstString(m, "empty", "missing"))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "3", ToString(float64(3)))
	assert.Equal(t, "3.5", ToString(3.5))
	assert.Equal(t, "true", ToString(true))
}

func TestToStrings(t *testing.T) {
	var v any
	require.NoError(t, json.Unmarshal([]byte(`["a", "", {"text": "b"}, 4]`), &v))
	assert.Equal(t, []string{"a", "b", "4"}, ToStrings(v))
	assert.Equal(t, []string{"single"}, ToStrings("single"))
	assert.Nil(t, ToStrings(nil))
}
