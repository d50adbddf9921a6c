package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

// rawMCQ mirrors the JSON the models are asked for, with aliases for the
// field spellings they actually produce.
type rawMCQ struct {
	Question      string          `json:"question"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	CorrectAnswer string          `json:"correct_answer"`
	Answer        string          `json:"answer"`
	Explanation   string          `json:"explanation"`
	Difficulty    string          `json:"difficulty"`
	TopicTag      string          `json:"topic_tag"`
	Topic         string          `json:"topic"`
}

type mcqPayload struct {
	Questions []rawMCQ `json:"questions"`
	MCQs      []rawMCQ `json:"mcqs"`
}

// ParseMCQResponse turns raw model output into normalized candidates.
// It tolerates markdown fences, prose around the JSON, trailing commas and
// several option encodings; anything unusable parses to zero candidates
// rather than an error.
func ParseMCQResponse(raw string, allowedTopics []string, chunkIndex int) []core.MCQCandidate {
	body := extractJSON(raw)
	if body == "" {
		return nil
	}

	var payload mcqPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		repaired := repairJSON(body)
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			// Maybe a bare array.
			var list []rawMCQ
			if err := json.Unmarshal([]byte(repaired), &list); err != nil {
				return nil
			}
			payload.Questions = list
		}
	}

	raws := payload.Questions
	if len(raws) == 0 {
		raws = payload.MCQs
	}

	var out []core.MCQCandidate
	for _, r := range raws {
		c, ok := normalizeMCQ(r, allowedTopics, chunkIndex)
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// extractJSON strips code fences and surrounding prose, returning the widest
// JSON object or array in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)

	objStart, objEnd := strings.Index(s, "{"), strings.LastIndex(s, "}")
	arrStart, arrEnd := strings.Index(s, "["), strings.LastIndex(s, "]")

	if objStart >= 0 && objEnd > objStart && (arrStart < 0 || objStart < arrStart) {
		return s[objStart : objEnd+1]
	}
	if arrStart >= 0 && arrEnd > arrStart {
		return s[arrStart : arrEnd+1]
	}
	return ""
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// repairJSON fixes the artifacts models most often emit: trailing commas
// and raw control characters inside strings.
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			case r == '\r':
				continue
			}
		} else if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// optionEntry accepts both {"label","text"} objects and bare strings.
type optionEntry struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func normalizeMCQ(r rawMCQ, allowedTopics []string, chunkIndex int) (core.MCQCandidate, bool) {
	question := strings.TrimSpace(r.Question)
	if question == "" {
		return core.MCQCandidate{}, false
	}

	opts := decodeOptions(r.Options)
	if len(opts) == 0 {
		return core.MCQCandidate{}, false
	}
	// Pad short option sets up to four with empty texts.
	for len(opts) < 4 {
		opts = append(opts, models.Option{Text: ""})
	}
	if len(opts) > 5 {
		opts = opts[:5]
	}
	// Relabel sequentially from "A" regardless of what the model sent.
	for i := range opts {
		opts[i].Label = string(rune('A' + i))
	}

	correct := strings.ToUpper(strings.TrimSpace(firstNonEmpty(r.CorrectOption, r.CorrectAnswer, r.Answer)))
	if len(correct) > 1 {
		// Accept forms like "Option B" or "B) ...".
		correct = extractLabel(correct)
	}
	if !labelPresent(correct, opts) {
		correct = "A"
	}

	difficulty := strings.ToLower(strings.TrimSpace(r.Difficulty))
	switch difficulty {
	case "easy", "medium", "hard":
	default:
		difficulty = "medium"
	}

	topic := strings.ToLower(strings.TrimSpace(firstNonEmpty(r.TopicTag, r.Topic)))
	if !contains(allowedTopics, topic) && len(allowedTopics) > 0 {
		topic = allowedTopics[0]
	}

	return core.MCQCandidate{
		Question:      question,
		Options:       opts,
		CorrectOption: correct,
		Explanation:   strings.TrimSpace(r.Explanation),
		Difficulty:    difficulty,
		TopicSlug:     topic,
		SourceChunk:   chunkIndex,
	}, true
}

func decodeOptions(raw json.RawMessage) []models.Option {
	if len(raw) == 0 {
		return nil
	}

	var entries []optionEntry
	if err := json.Unmarshal(raw, &entries); err == nil && len(entries) > 0 && anyText(entries) {
		out := make([]models.Option, 0, len(entries))
		for _, e := range entries {
			out = append(out, models.Option{Label: e.Label, Text: strings.TrimSpace(e.Text)})
		}
		return out
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil && len(strs) > 0 {
		out := make([]models.Option, 0, len(strs))
		for _, s := range strs {
			out = append(out, models.Option{Text: strings.TrimSpace(s)})
		}
		return out
	}

	// {"A": "...", "B": "..."} style.
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
		out := make([]models.Option, 0, len(m))
		for _, l := range []string{"A", "B", "C", "D", "E"} {
			if t, ok := m[l]; ok {
				out = append(out, models.Option{Label: l, Text: strings.TrimSpace(t)})
			}
		}
		return out
	}
	return nil
}

func anyText(entries []optionEntry) bool {
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			return true
		}
	}
	return false
}

var labelRe = regexp.MustCompile(`\b([A-E])\b`)

func extractLabel(s string) string {
	if m := labelRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func labelPresent(label string, opts []models.Option) bool {
	if len(label) != 1 {
		return false
	}
	idx := int(label[0] - 'A')
	return idx >= 0 && idx < len(opts)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// estimateTokens approximates token counts at four characters per token,
// which is close enough for throttling and usage accounting.
func estimateTokens(s string) int {
	return len(s) / 4
}

// truncateRunes cuts s to at most max runes, never splitting a multi-byte
// character.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
