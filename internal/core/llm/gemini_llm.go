package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/examsetu/examsetu/internal/core"
)

// shortRetryChars is the reduced context used for the one bounded retry
// after a zero-candidate parse on a large input (the model likely truncated
// its output).
const shortRetryChars = 40000

// GeminiProvider generates, validates and summarizes through the Gemini API.
type GeminiProvider struct {
	client        *genai.Client
	genModel      string
	validateModel string
	limiter       *RateLimiter
}

var _ core.LLMProvider = (*GeminiProvider)(nil)
var _ core.VisionProvider = (*GeminiProvider)(nil)

func NewGeminiProvider(ctx context.Context, apiKey, genModel, validateModel string, limiter *RateLimiter) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if genModel == "" {
		genModel = "gemini-1.5-flash"
	}
	if validateModel == "" {
		validateModel = genModel
	}
	return &GeminiProvider{client: cl, genModel: genModel, validateModel: validateModel, limiter: limiter}, nil
}

func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	raw, usage, err := g.generate(ctx, req)
	if err != nil {
		return nil, usage, err
	}
	cands := ParseMCQResponse(raw, req.Topics, req.ChunkIndex)

	if len(cands) == 0 && len(req.Text) > shortRetryChars {
		short := req
		short.Text = truncateRunes(req.Text, shortRetryChars)
		raw, u2, err := g.generate(ctx, short)
		usage.Add(u2)
		if err != nil {
			return nil, usage, err
		}
		cands = ParseMCQResponse(raw, req.Topics, req.ChunkIndex)
	}
	return cands, usage, nil
}

func (g *GeminiProvider) generate(ctx context.Context, req core.GenerateRequest) (string, core.TokenUsage, error) {
	prompt := BuildGenerationPrompt(req)
	if err := g.acquire(ctx, prompt); err != nil {
		return "", core.TokenUsage{}, err
	}

	m := g.client.GenerativeModel(g.genModel)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(mcqGenSystem)}}
	m.SetMaxOutputTokens(4096)
	m.SetTemperature(0.3)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("gemini generate: %w", err)
	}
	raw := collectText(resp)
	return raw, usageFrom(resp, prompt, raw), nil
}

func (g *GeminiProvider) ValidateMCQ(ctx context.Context, c core.MCQCandidate) (string, core.TokenUsage, error) {
	prompt := BuildValidationPrompt(c)
	if err := g.acquire(ctx, prompt); err != nil {
		return "", core.TokenUsage{}, err
	}

	m := g.client.GenerativeModel(g.validateModel)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(mcqValidateSystem)}}
	m.SetMaxOutputTokens(512)
	m.SetTemperature(0.1)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("gemini validate: %w", err)
	}
	raw := collectText(resp)
	return strings.TrimSpace(raw), usageFrom(resp, prompt, raw), nil
}

func (g *GeminiProvider) Summarize(ctx context.Context, text string, maxWords int) (string, core.TokenUsage, error) {
	prompt := buildSummaryPrompt(text, maxWords)
	if err := g.acquire(ctx, prompt); err != nil {
		return "", core.TokenUsage{}, err
	}

	m := g.client.GenerativeModel(g.genModel)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(summarySystem)}}
	m.SetMaxOutputTokens(1024)
	m.SetTemperature(0.2)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("gemini summarize: %w", err)
	}
	raw := collectText(resp)
	return strings.TrimSpace(raw), usageFrom(resp, prompt, raw), nil
}

// GenerateMCQsFromImages sends page images instead of extracted text, for
// documents whose text layer is unusable.
func (g *GeminiProvider) GenerateMCQsFromImages(ctx context.Context, images [][]byte, mimeType string, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	req.Text = ""
	prompt := BuildGenerationPrompt(req)
	if err := g.acquire(ctx, prompt); err != nil {
		return nil, core.TokenUsage{}, err
	}

	format := strings.TrimPrefix(mimeType, "image/")
	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.ImageData(format, img))
	}
	parts = append(parts, genai.Text(prompt))

	m := g.client.GenerativeModel(g.genModel)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(mcqGenSystem)}}
	m.SetMaxOutputTokens(4096)
	m.SetTemperature(0.3)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, core.TokenUsage{}, fmt.Errorf("gemini vision generate: %w", err)
	}
	raw := collectText(resp)
	return ParseMCQResponse(raw, req.Topics, req.ChunkIndex), usageFrom(resp, prompt, raw), nil
}

func (g *GeminiProvider) acquire(ctx context.Context, prompt string) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Acquire(ctx, estimateTokens(prompt))
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func usageFrom(resp *genai.GenerateContentResponse, prompt, raw string) core.TokenUsage {
	if resp != nil && resp.UsageMetadata != nil {
		return core.TokenUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return core.TokenUsage{Input: estimateTokens(prompt), Output: estimateTokens(raw)}
}
