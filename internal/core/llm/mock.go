package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

// MockProvider produces deterministic placeholder MCQs for keyless local
// development. The output is seeded from the input text so reruns of the
// same document match.
type MockProvider struct{}

var _ core.LLMProvider = (*MockProvider)(nil)

func (MockProvider) Name() string { return "mock" }

func (MockProvider) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	seed := seedFrom(req.Text)
	count := req.Count
	if count <= 0 {
		count = 1
	}

	topic := ""
	if len(req.Topics) > 0 {
		topic = req.Topics[0]
	}

	out := make([]core.MCQCandidate, 0, count)
	for i := 0; i < count; i++ {
		n := (seed + uint64(i)) % 997
		correct := string(rune('A' + int((seed+uint64(i))%4)))
		c := core.MCQCandidate{
			Question:      fmt.Sprintf("Placeholder question %d referring to marker %d in the supplied material?", i+1, n),
			CorrectOption: correct,
			Explanation:   fmt.Sprintf("Marker %d appears in the material; option %s restates it.", n, correct),
			Difficulty:    difficultyOrDefault(req.Difficulty),
			TopicSlug:     topic,
			SourceChunk:   req.ChunkIndex,
		}
		for j := 0; j < 4; j++ {
			c.Options = append(c.Options, models.Option{
				Label: string(rune('A' + j)),
				Text:  fmt.Sprintf("Statement %d-%d about marker %d", i+1, j+1, n),
			})
		}
		out = append(out, c)
	}

	usage := core.TokenUsage{Input: 500 + len(req.Text)/4, Output: 800}
	return out, usage, nil
}

func (MockProvider) ValidateMCQ(ctx context.Context, c core.MCQCandidate) (string, core.TokenUsage, error) {
	return "The answer key is correct.", core.TokenUsage{Input: 50, Output: 10}, nil
}

func (MockProvider) Summarize(ctx context.Context, text string, maxWords int) (string, core.TokenUsage, error) {
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " "), core.TokenUsage{Input: len(text) / 4, Output: len(words)}, nil
}

func seedFrom(text string) uint64 {
	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	sum := sha256.Sum256([]byte(head))
	return binary.BigEndian.Uint64(sum[:8])
}
