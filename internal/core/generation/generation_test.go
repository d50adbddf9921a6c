package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/chunker"
	"github.com/examsetu/examsetu/internal/models"
)

// scriptedProvider returns a fixed number of candidates per call and
// records every request it sees.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []core.GenerateRequest
	perCall  func(call int, req core.GenerateRequest) ([]core.MCQCandidate, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) GenerateMCQs(_ context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	p.mu.Lock()
	call := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	cands, err := p.perCall(call, req)
	return cands, core.TokenUsage{Input: 10, Output: 5}, err
}

func (p *scriptedProvider) ValidateMCQ(context.Context, core.MCQCandidate) (string, core.TokenUsage, error) {
	return "The answer key is correct.", core.TokenUsage{}, nil
}

func (p *scriptedProvider) Summarize(context.Context, string, int) (string, core.TokenUsage, error) {
	return "summary", core.TokenUsage{}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func nCandidates(n int, tag string) []core.MCQCandidate {
	out := make([]core.MCQCandidate, n)
	for i := range out {
		out[i] = core.MCQCandidate{
			Question: tag,
			Options: []models.Option{
				{Label: "A", Text: "one"}, {Label: "B", Text: "two"},
				{Label: "C", Text: "three"}, {Label: "D", Text: "four"},
			},
			CorrectOption: "A",
		}
	}
	return out
}

func always(n int, tag string) func(int, core.GenerateRequest) ([]core.MCQCandidate, error) {
	return func(int, core.GenerateRequest) ([]core.MCQCandidate, error) {
		return nCandidates(n, tag), nil
	}
}

func testChunkOpts() chunker.Options {
	return chunker.Options{Mode: chunker.ModeFixed, Size: 40, OverlapFraction: 0}
}

func testGenConfig() Config {
	return Config{Workers: 2, CandidateExtra: 2, SingleCallMaxChars: 60, MaxTotalChars: 10000}
}

func TestGenerateFastPath(t *testing.T) {
	p := &scriptedProvider{perCall: always(7, "fast")}
	g := NewGenerator(p, nil, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	var progressed int
	res, err := g.Generate(context.Background(), "doc-1", "short material", []string{"polity"}, 5, "medium",
		func(n int) { progressed = n })
	require.NoError(t, err)

	require.Equal(t, 1, p.calls())
	req := p.requests[0]
	assert.Equal(t, -1, req.ChunkIndex)
	assert.Equal(t, 7, req.Count) // target plus headroom
	assert.Equal(t, "short material", req.Text)
	assert.Len(t, res.Candidates, 7)
	assert.Equal(t, 7, progressed)
	assert.Equal(t, 1, res.NumChunks)
	assert.Equal(t, core.TokenUsage{Input: 10, Output: 5}, res.Usage)
}

func TestGenerateChunkedPartitionsAreContiguous(t *testing.T) {
	p := &scriptedProvider{perCall: always(4, "chunked")}
	g := NewGenerator(p, nil, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	text := strings.Repeat("All the material in this document matters here. ", 10)
	res, err := g.Generate(context.Background(), "doc-1", text, []string{"polity"}, 6, "medium", nil)
	require.NoError(t, err)

	require.Equal(t, 2, p.calls())
	assert.Greater(t, res.NumChunks, 2)
	// both partitions together cover the whole truncated text
	joined := p.requests[0].Text + p.requests[1].Text
	assert.Greater(t, len(joined), len(text)/2)
	for _, req := range p.requests {
		assert.Equal(t, 4, req.Count) // ceil((6+2)/2)
	}
	assert.Len(t, res.Candidates, 8)
	assert.Equal(t, core.TokenUsage{Input: 20, Output: 10}, res.Usage)
}

func TestGenerateRetriesEmptyPartitions(t *testing.T) {
	var mu sync.Mutex
	emptyOnce := true
	p := &scriptedProvider{}
	p.perCall = func(_ int, req core.GenerateRequest) ([]core.MCQCandidate, error) {
		mu.Lock()
		defer mu.Unlock()
		if req.ChunkIndex == 0 && emptyOnce {
			emptyOnce = false
			return nil, nil
		}
		return nCandidates(2, "ok"), nil
	}
	g := NewGenerator(p, nil, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	text := strings.Repeat("Retry material sentence for the worker pool here. ", 10)
	res, err := g.Generate(context.Background(), "doc-1", text, []string{"polity"}, 6, "medium", nil)
	require.NoError(t, err)

	// two partitions plus one retry of the empty one
	assert.Equal(t, 3, p.calls())
	assert.Len(t, res.Candidates, 4)
}

func TestGenerateFallsBackWhenPrimaryYieldsNothing(t *testing.T) {
	primary := &scriptedProvider{perCall: func(int, core.GenerateRequest) ([]core.MCQCandidate, error) {
		return nil, nil
	}}
	fallback := &scriptedProvider{perCall: always(5, "fallback")}
	g := NewGenerator(primary, fallback, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	res, err := g.Generate(context.Background(), "doc-1", "tiny", []string{"polity"}, 5, "medium", nil)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 5)
	assert.Equal(t, 1, fallback.calls())
}

func TestGenerateFailsWithoutFallback(t *testing.T) {
	p := &scriptedProvider{perCall: func(int, core.GenerateRequest) ([]core.MCQCandidate, error) {
		return nil, errors.New("model unavailable")
	}}
	g := NewGenerator(p, nil, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	_, err := g.Generate(context.Background(), "doc-1", "tiny", []string{"polity"}, 5, "medium", nil)
	assert.Error(t, err)
}

func TestGenerateRejectsEmptyMaterial(t *testing.T) {
	p := &scriptedProvider{perCall: always(1, "x")}
	g := NewGenerator(p, nil, nil, testChunkOpts(), testGenConfig(), zap.NewNop().Sugar())

	_, err := g.Generate(context.Background(), "doc-1", "   ", []string{"polity"}, 5, "medium", nil)
	assert.Error(t, err)
}
