package llm

import (
	"fmt"
	"strings"

	"github.com/examsetu/examsetu/internal/core"
)

const mcqGenSystem = `You are an expert UPSC-level question setter. You write rigorous
multiple-choice questions from study material supplied by the user. Every question
has exactly four options labelled A to D, exactly one correct option, and a concise
explanation of why the key is correct. Questions must be answerable from the supplied
material alone. Respond with JSON only, no commentary.`

const mcqValidateSystem = `You are a strict examiner reviewing a multiple-choice question.
Judge only whether the marked answer key and the explanation are correct for the
question as written. Reply in one or two plain sentences. If the key is wrong, say
"incorrect key" and name the right option.`

const summarySystem = `You summarize study material faithfully and compactly, keeping
named entities, dates and figures.`

// maxPromptChars caps the material embedded in a single generation prompt.
const maxPromptChars = 120000

// BuildGenerationPrompt renders the user prompt for one generation call.
func BuildGenerationPrompt(req core.GenerateRequest) string {
	text := req.Text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write exactly %d multiple-choice questions at %s difficulty from the material below.\n", req.Count, difficultyOrDefault(req.Difficulty))
	b.WriteString("Cover the ENTIRE material, not just its beginning.\n")
	if len(req.Topics) > 0 {
		fmt.Fprintf(&b, "Tag each question with exactly one of these topic slugs, verbatim: %s.\n", strings.Join(req.Topics, ", "))
	}
	b.WriteString(`Return JSON of the shape:
{"questions": [{"question": "...", "options": [{"label": "A", "text": "..."}, {"label": "B", "text": "..."}, {"label": "C", "text": "..."}, {"label": "D", "text": "..."}], "correct_option": "A", "explanation": "...", "difficulty": "medium", "topic_tag": "..."}]}
`)
	if req.ContextPrefix != "" {
		b.WriteString("\nDocument context:\n")
		b.WriteString(req.ContextPrefix)
		b.WriteString("\n")
	}
	b.WriteString("\nMaterial:\n")
	b.WriteString(text)
	return b.String()
}

// BuildValidationPrompt renders the critique prompt for one candidate.
func BuildValidationPrompt(c core.MCQCandidate) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(c.Question)
	b.WriteString("\nOptions:\n")
	for _, o := range c.Options {
		fmt.Fprintf(&b, "%s) %s\n", o.Label, o.Text)
	}
	fmt.Fprintf(&b, "Marked answer: %s\nExplanation: %s\n", c.CorrectOption, c.Explanation)
	b.WriteString("Is the marked answer correct?")
	return b.String()
}

func buildSummaryPrompt(text string, maxWords int) string {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	return fmt.Sprintf("Summarize the following material in at most %d words:\n\n%s", maxWords, text)
}

func difficultyOrDefault(d string) string {
	switch d {
	case "easy", "medium", "hard", "mixed":
		return d
	}
	return "medium"
}
