package selection

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

// critiqueByStem returns canned critiques keyed on the question stem.
type critiqueByStem struct {
	critiques map[string]string
	err       error
}

func (p *critiqueByStem) Name() string { return "fake" }

func (p *critiqueByStem) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	return nil, core.TokenUsage{}, errors.New("not used")
}

func (p *critiqueByStem) ValidateMCQ(ctx context.Context, c core.MCQCandidate) (string, core.TokenUsage, error) {
	if p.err != nil {
		return "", core.TokenUsage{}, p.err
	}
	return p.critiques[c.Question], core.TokenUsage{Input: 10, Output: 5}, nil
}

func (p *critiqueByStem) Summarize(ctx context.Context, text string, maxWords int) (string, core.TokenUsage, error) {
	return "", core.TokenUsage{}, errors.New("not used")
}

func distinctCandidates(n int) []core.MCQCandidate {
	subjects := []string{
		"highest mountain on the planet earth",
		"longest river crossing the african continent",
		"chemical symbol assigned to elemental gold",
		"year the berlin wall finally came down",
		"author of the origin of species treatise",
		"currency circulating in modern japan today",
		"largest ocean covering the globe surface",
	}
	var out []core.MCQCandidate
	for i := 0; i < n; i++ {
		out = append(out, mcq(
			fmt.Sprintf("Question about the %s?", subjects[i%len(subjects)]),
			"A",
			fmt.Sprintf("alpha%d", i), fmt.Sprintf("beta%d", i),
			fmt.Sprintf("gamma%d", i), fmt.Sprintf("delta%d", i),
		))
	}
	return out
}

func TestSelectDropsFlaggedCritiques(t *testing.T) {
	cands := distinctCandidates(5)
	provider := &critiqueByStem{critiques: map[string]string{
		cands[0].Question: "The answer key is correct and well explained.",
		cands[1].Question: "This has an incorrect key, B would be right.",
		cands[2].Question: "The answer key is correct.",
		cands[3].Question: "Explanation cites the wrong answer entirely.",
		cands[4].Question: "The answer key is correct.",
	}}
	s := NewSelector(provider, DefaultConfig(), zap.NewNop().Sugar())

	got, usage, err := s.Select(context.Background(), cands, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d survivors, want 3", len(got))
	}
	for _, c := range got {
		if c.Question == cands[1].Question || c.Question == cands[3].Question {
			t.Errorf("flagged candidate survived: %q", c.Question)
		}
	}
	if usage.Input != 50 || usage.Output != 25 {
		t.Errorf("usage = %+v, want all 5 validation calls accounted", usage)
	}
}

func TestSelectIdempotent(t *testing.T) {
	provider := &critiqueByStem{critiques: map[string]string{}}
	cands := distinctCandidates(6)
	for i, c := range cands {
		if i%2 == 0 {
			provider.critiques[c.Question] = "The answer key is correct."
		} else {
			provider.critiques[c.Question] = "Plausible but hard to verify."
		}
	}
	s := NewSelector(provider, DefaultConfig(), zap.NewNop().Sugar())

	run := func() []string {
		in := make([]core.MCQCandidate, len(cands))
		copy(in, cands)
		got, _, err := s.Select(context.Background(), in, 4, false)
		if err != nil {
			t.Fatal(err)
		}
		var stems []string
		for _, c := range got {
			stems = append(stems, c.Question)
		}
		return stems
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("runs disagree on count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("position %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSelectValidationErrorKeepsCandidate(t *testing.T) {
	cands := distinctCandidates(2)
	provider := &critiqueByStem{err: errors.New("upstream 500")}
	s := NewSelector(provider, DefaultConfig(), zap.NewNop().Sugar())

	got, _, err := s.Select(context.Background(), cands, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d survivors, want 2", len(got))
	}
	for _, c := range got {
		if c.QualityScore != 0.5 {
			t.Errorf("QualityScore = %v, want neutral 0.5", c.QualityScore)
		}
		if c.ValidationNote != neutralCritique {
			t.Errorf("ValidationNote = %q, want %q", c.ValidationNote, neutralCritique)
		}
	}
}

func TestSelectSkipValidationFastPath(t *testing.T) {
	cands := distinctCandidates(3)
	s := NewSelector(&critiqueByStem{err: errors.New("must not be called")}, DefaultConfig(), zap.NewNop().Sugar())

	got, usage, err := s.Select(context.Background(), cands, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if usage.Input != 0 || usage.Output != 0 {
		t.Errorf("usage = %+v, want zero when validation skipped", usage)
	}
	for _, c := range got {
		if c.QualityScore != 0.5 {
			t.Errorf("QualityScore = %v, want 0.5", c.QualityScore)
		}
	}
}

func TestSelectTruncatesToTarget(t *testing.T) {
	cands := distinctCandidates(7)
	got, _, err := NewSelector(nil, DefaultConfig(), zap.NewNop().Sugar()).
		Select(context.Background(), cands, 4, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d, want 4", len(got))
	}
}

func TestSelectDropsMalformedCandidates(t *testing.T) {
	good := distinctCandidates(1)[0]
	threeOptions := mcq("Only three options provided here, which one?", "A", "x", "y", "z")
	badKey := mcq("Correct label outside the option set, true or not?", "E", "x", "y", "z", "w")
	badLabels := core.MCQCandidate{Question: "Labels out of order, what now exactly?",
		CorrectOption: "A"}
	for _, l := range []string{"B", "A", "C", "D"} {
		badLabels.Options = append(badLabels.Options, models.Option{Label: l, Text: "text " + l})
	}

	got, _, err := NewSelector(nil, DefaultConfig(), zap.NewNop().Sugar()).
		Select(context.Background(), []core.MCQCandidate{good, threeOptions, badKey, badLabels}, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Question != good.Question {
		t.Fatalf("got %d survivors, want only the well-formed candidate", len(got))
	}
}

func TestRankPrefersCleanKeysThenDifficulty(t *testing.T) {
	cfg := DefaultConfig()
	flagged := distinctCandidates(1)[0]
	flagged.Difficulty = "medium"
	flagged.ValidationNote = "the key should be option B instead"

	hard := distinctCandidates(2)[1]
	hard.Difficulty = "hard"
	hard.ValidationNote = "correct"

	medium := distinctCandidates(3)[2]
	medium.Difficulty = "medium"
	medium.ValidationNote = "correct"

	cands := []core.MCQCandidate{flagged, hard, medium}
	Rank(cands, cfg)

	if cands[0].Question != medium.Question {
		t.Errorf("first = %q, want the clean medium candidate", cands[0].Question)
	}
	if cands[1].Question != hard.Question {
		t.Errorf("second = %q, want the clean hard candidate", cands[1].Question)
	}
	if cands[2].Question != flagged.Question {
		t.Errorf("last = %q, want the flagged candidate", cands[2].Question)
	}
}

func TestScoreCritiqueUsesConfiguredPhrases(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DropPhrases = []string{"too ambiguous"}

	if got := ScoreCritique("This question is too ambiguous to keep.", cfg); got != 0.0 {
		t.Errorf("score = %v, want 0.0 for a configured drop phrase", got)
	}
	if got := ScoreCritique("Incorrect key in option B.", cfg); got == 0.0 {
		t.Errorf("score = %v, overridden config must not score default phrases to zero", got)
	}
}
