package core

import (
	"context"

	"github.com/examsetu/examsetu/internal/models"
)

// TokenUsage carries estimated token counts for one provider call.
type TokenUsage struct {
	Input  int
	Output int
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// MCQCandidate is a generated question before filtering and selection.
type MCQCandidate struct {
	Question       string
	Options        []models.Option
	CorrectOption  string
	Explanation    string
	Difficulty     string
	TopicSlug      string
	SourceChunk    int
	QualityScore   float64
	ValidationNote string
}

// GenerateRequest describes one MCQ generation call against a provider.
type GenerateRequest struct {
	Text          string   // source text for this call
	Topics        []string // allowed topic slugs
	Count         int      // questions requested from this call
	Difficulty    string   // easy | medium | hard | mixed
	ContextPrefix string   // optional outline and retrieved excerpts
	ChunkIndex    int      // which partition produced this call, -1 for whole-document
}

// LLMProvider abstracts the model vendor behind generation, validation
// and summarization calls.
type LLMProvider interface {
	Name() string
	GenerateMCQs(ctx context.Context, req GenerateRequest) ([]MCQCandidate, TokenUsage, error)
	ValidateMCQ(ctx context.Context, c MCQCandidate) (critique string, usage TokenUsage, err error)
	Summarize(ctx context.Context, text string, maxWords int) (string, TokenUsage, error)
}

// VisionProvider generates MCQs straight from page images, for documents
// whose text layer is unusable.
type VisionProvider interface {
	GenerateMCQsFromImages(ctx context.Context, images [][]byte, mimeType string, req GenerateRequest) ([]MCQCandidate, TokenUsage, error)
}

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
