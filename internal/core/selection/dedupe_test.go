package selection

import (
	"testing"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

func mcq(question, correct string, optionTexts ...string) core.MCQCandidate {
	c := core.MCQCandidate{Question: question, CorrectOption: correct}
	for i, t := range optionTexts {
		c.Options = append(c.Options, models.Option{Label: string(rune('A' + i)), Text: t})
	}
	return c
}

func TestAreDuplicatesSymmetric(t *testing.T) {
	cfg := DefaultConfig()
	pairs := [][2]core.MCQCandidate{
		{
			mcq("Who wrote the constitution of India?", "A", "Ambedkar", "Nehru", "Patel", "Prasad"),
			mcq("Who drafted the constitution of India?", "A", "Ambedkar", "Nehru", "Patel", "Prasad"),
		},
		{
			mcq("What is the capital of France?", "B", "London", "Paris", "Berlin", "Rome"),
			mcq("Which river flows through Egypt?", "C", "Amazon", "Congo", "Nile", "Danube"),
		},
		{
			mcq("", "A", "x", "y", "z", "w"),
			mcq("Anything at all here?", "A", "p", "q", "r", "s"),
		},
	}
	for i, p := range pairs {
		if AreDuplicates(p[0], p[1], cfg) != AreDuplicates(p[1], p[0], cfg) {
			t.Errorf("pair %d: predicate is not symmetric", i)
		}
	}
}

func TestAreDuplicatesNearIdenticalStems(t *testing.T) {
	cfg := DefaultConfig()
	a := mcq("Which article of the constitution guarantees equality before law?", "B",
		"Article 12", "Article 14", "Article 19", "Article 21")
	b := mcq("Which article of the constitution guarantees equality before the law?", "B",
		"Article 12", "Article 14", "Article 19", "Article 21")

	if !AreDuplicates(a, b, cfg) {
		t.Error("stems differing by one word should be duplicates")
	}
}

func TestAreDuplicatesDistinctQuestions(t *testing.T) {
	cfg := DefaultConfig()
	a := mcq("Which planet is known as the red planet?", "A", "Mars", "Venus", "Jupiter", "Saturn")
	b := mcq("Who was the first prime minister of India?", "B", "Gandhi", "Nehru", "Patel", "Bose")

	if AreDuplicates(a, b, cfg) {
		t.Error("unrelated questions flagged as duplicates")
	}
}

func TestAreDuplicatesSharedOptionsSameKey(t *testing.T) {
	cfg := DefaultConfig()
	a := mcq("Identify the founder of the dynasty described above.", "C",
		"Ashoka", "Bindusara", "Chandragupta Maurya", "Harsha")
	b := mcq("The Maurya empire was established by which ruler?", "C",
		"Ashoka", "Bindusara", "Chandragupta Maurya", "Kanishka")

	if !AreDuplicates(a, b, cfg) {
		t.Error("same key with heavily overlapping options should be duplicates")
	}
}

func TestDedupeKeepsFirstOfCluster(t *testing.T) {
	cfg := DefaultConfig()
	first := mcq("Which gas is most abundant in the atmosphere?", "A",
		"Nitrogen", "Oxygen", "Argon", "Carbon dioxide")
	rephrased := mcq("Which gas is the most abundant in the atmosphere today?", "A",
		"Nitrogen", "Oxygen", "Argon", "Carbon dioxide")
	other := mcq("Which vitamin is produced in human skin by sunlight?", "D",
		"Vitamin A", "Vitamin B12", "Vitamin C", "Vitamin D")

	got := Dedupe([]core.MCQCandidate{first, rephrased, other}, cfg)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Question != first.Question {
		t.Error("first occurrence of the cluster was not the one kept")
	}
	if got[1].Question != other.Question {
		t.Error("unrelated question was dropped")
	}
}
