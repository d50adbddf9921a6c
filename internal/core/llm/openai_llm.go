package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/examsetu/examsetu/internal/core"
)

// OpenAIProvider is the fallback vendor used when a whole parallel round
// fails on the primary provider.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	limiter *RateLimiter
}

var _ core.LLMProvider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey, model string, limiter *RateLimiter) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model, limiter: limiter}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	prompt := BuildGenerationPrompt(req)
	raw, usage, err := o.chat(ctx, mcqGenSystem, prompt, 4096, 0.3, true)
	if err != nil {
		return nil, usage, err
	}
	cands := ParseMCQResponse(raw, req.Topics, req.ChunkIndex)

	if len(cands) == 0 && len(req.Text) > shortRetryChars {
		short := req
		short.Text = truncateRunes(req.Text, shortRetryChars)
		raw, u2, err := o.chat(ctx, mcqGenSystem, BuildGenerationPrompt(short), 4096, 0.3, true)
		usage.Add(u2)
		if err != nil {
			return nil, usage, err
		}
		cands = ParseMCQResponse(raw, req.Topics, req.ChunkIndex)
	}
	return cands, usage, nil
}

func (o *OpenAIProvider) ValidateMCQ(ctx context.Context, c core.MCQCandidate) (string, core.TokenUsage, error) {
	raw, usage, err := o.chat(ctx, mcqValidateSystem, BuildValidationPrompt(c), 512, 0.1, false)
	return strings.TrimSpace(raw), usage, err
}

func (o *OpenAIProvider) Summarize(ctx context.Context, text string, maxWords int) (string, core.TokenUsage, error) {
	raw, usage, err := o.chat(ctx, summarySystem, buildSummaryPrompt(text, maxWords), 1024, 0.2, false)
	return strings.TrimSpace(raw), usage, err
}

func (o *OpenAIProvider) chat(ctx context.Context, system, user string, maxTokens int, temperature float32, jsonMode bool) (string, core.TokenUsage, error) {
	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx, estimateTokens(user)); err != nil {
			return "", core.TokenUsage{}, err
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.TokenUsage{}, fmt.Errorf("openai chat: empty choices")
	}
	usage := core.TokenUsage{Input: resp.Usage.PromptTokens, Output: resp.Usage.CompletionTokens}
	return resp.Choices[0].Message.Content, usage, nil
}
