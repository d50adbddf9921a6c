package llm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var topics = []string{"polity", "geography", "economy"}

func TestParseMCQResponsePlainJSON(t *testing.T) {
	raw := `{"questions": [{
		"question": "Which article abolishes untouchability?",
		"options": [
			{"label": "A", "text": "Article 15"},
			{"label": "B", "text": "Article 17"},
			{"label": "C", "text": "Article 19"},
			{"label": "D", "text": "Article 21"}
		],
		"correct_option": "B",
		"explanation": "Article 17 abolishes untouchability.",
		"difficulty": "easy",
		"topic_tag": "polity"
	}]}`

	got := ParseMCQResponse(raw, topics, 2)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "Which article abolishes untouchability?", c.Question)
	assert.Equal(t, "B", c.CorrectOption)
	assert.Equal(t, "easy", c.Difficulty)
	assert.Equal(t, "polity", c.TopicSlug)
	assert.Equal(t, 2, c.SourceChunk)
	require.Len(t, c.Options, 4)
	assert.Equal(t, "Article 17", c.Options[1].Text)
}

func TestParseMCQResponseFencedWithProse(t *testing.T) {
	raw := "Here are your questions:\n```json\n" +
		`{"questions": [{"question": "Q1 about rivers?", "options": ["Ganga", "Yamuna", "Godavari", "Krishna"], "correct_option": "C", "explanation": "e", "difficulty": "medium", "topic_tag": "geography"}]}` +
		"\n```\nLet me know if you need more."

	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].CorrectOption)
	// Bare string options get sequential labels.
	assert.Equal(t, "A", got[0].Options[0].Label)
	assert.Equal(t, "Godavari", got[0].Options[2].Text)
}

func TestParseMCQResponseTrailingCommas(t *testing.T) {
	raw := `{"questions": [{"question": "Q?", "options": ["a", "b", "c", "d",], "correct_option": "A", "explanation": "e",},]}`
	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
}

func TestParseMCQResponseCoercions(t *testing.T) {
	raw := `{"questions": [{
		"question": "Q?",
		"options": ["one", "two", "three"],
		"correct_option": "Z",
		"difficulty": "impossible",
		"topic_tag": "astrology"
	}]}`

	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
	c := got[0]
	// Short option sets pad to four, bad labels and tags fall back.
	require.Len(t, c.Options, 4)
	assert.Equal(t, "", c.Options[3].Text)
	assert.Equal(t, "A", c.CorrectOption)
	assert.Equal(t, "medium", c.Difficulty)
	assert.Equal(t, "polity", c.TopicSlug)
}

func TestParseMCQResponseVerboseCorrectLabel(t *testing.T) {
	raw := `{"questions": [{"question": "Q?", "options": ["a", "b", "c", "d"], "correct_option": "Option B", "explanation": "e"}]}`
	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].CorrectOption)
}

func TestParseMCQResponseBareArray(t *testing.T) {
	raw := `[{"question": "Q?", "options": ["a", "b", "c", "d"], "answer": "D"}]`
	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "D", got[0].CorrectOption)
}

func TestParseMCQResponseGarbage(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken", "{\"questions\": \"nope\"}"} {
		if got := ParseMCQResponse(raw, topics, 0); len(got) != 0 {
			t.Errorf("ParseMCQResponse(%q) = %d candidates, want 0", raw, len(got))
		}
	}
}

func TestParseMCQResponseSkipsEmptyQuestions(t *testing.T) {
	raw := `{"questions": [
		{"question": "", "options": ["a", "b", "c", "d"], "correct_option": "A"},
		{"question": "Real one?", "options": ["a", "b", "c", "d"], "correct_option": "A"}
	]}`
	got := ParseMCQResponse(raw, topics, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "Real one?", got[0].Question)
}

func TestTruncateRunesNeverSplitsMultibyte(t *testing.T) {
	s := strings.Repeat("सत्य", 10)
	out := truncateRunes(s, 7)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 7, utf8.RuneCountInString(out))

	assert.Equal(t, "short", truncateRunes("short", 100))
	assert.Equal(t, "", truncateRunes("", 5))
}
