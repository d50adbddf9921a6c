package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/chunker"
	"github.com/examsetu/examsetu/internal/core/retrieval"
)

// Config controls the generation fan-out.
type Config struct {
	Workers            int // parallel partition calls
	CandidateExtra     int // headroom requested beyond the target
	SingleCallMaxChars int // below this, the whole document goes in one call
	MaxTotalChars      int // material beyond this is truncated before chunking
}

// Progress is invoked as partitions complete, with the cumulative number
// of candidates produced so far.
type Progress func(processed int)

// Result is the raw output of a generation run, before validation and
// selection.
type Result struct {
	Candidates []core.MCQCandidate
	Usage      core.TokenUsage
	NumChunks  int
}

// Generator fans MCQ generation out over document partitions. Small
// documents go to the provider in a single call; large ones are chunked,
// partitioned across workers, and optionally augmented with retrieval
// context.
type Generator struct {
	provider  core.LLMProvider
	fallback  core.LLMProvider // may be nil
	retriever *retrieval.Retriever
	chunkOpts chunker.Options
	cfg       Config
	log       *zap.SugaredLogger
}

func NewGenerator(provider, fallback core.LLMProvider, retriever *retrieval.Retriever, chunkOpts chunker.Options, cfg Config, log *zap.SugaredLogger) *Generator {
	return &Generator{
		provider:  provider,
		fallback:  fallback,
		retriever: retriever,
		chunkOpts: chunkOpts,
		cfg:       cfg,
		log:       log,
	}
}

// partition is a contiguous run of chunks handled by one worker call.
type partition struct {
	text     string
	firstPos int
	lastPos  int // exclusive
	index    int
}

func (g *Generator) Generate(ctx context.Context, documentID, text string, topics []string, target int, difficulty string, onProgress Progress) (Result, error) {
	var res Result

	text = truncateRunes(strings.TrimSpace(text), g.cfg.MaxTotalChars)
	if text == "" {
		return res, fmt.Errorf("no material to generate from")
	}
	wanted := target + g.cfg.CandidateExtra

	if len(text) <= g.cfg.SingleCallMaxChars {
		cands, usage, err := g.provider.GenerateMCQs(ctx, core.GenerateRequest{
			Text:       text,
			Topics:     topics,
			Count:      wanted,
			Difficulty: difficulty,
			ChunkIndex: -1,
		})
		res.Usage.Add(usage)
		res.NumChunks = 1
		if err != nil {
			return g.fallbackRound(ctx, res, text, topics, wanted, difficulty, err)
		}
		res.Candidates = cands
		if onProgress != nil {
			onProgress(len(cands))
		}
		if len(cands) == 0 {
			return g.fallbackRound(ctx, res, text, topics, wanted, difficulty, nil)
		}
		return res, nil
	}

	chunks := chunker.Split(text, g.chunkOpts)
	res.NumChunks = len(chunks)

	var rc *retrieval.Context
	if g.retriever != nil && g.retriever.ShouldAugment(len(chunks)) {
		prepared, usage, err := g.retriever.Prepare(ctx, documentID, chunks)
		res.Usage.Add(usage)
		if err != nil {
			g.log.Warnw("retrieval prepare failed, generating without context", "document_id", documentID, "error", err)
		} else {
			rc = prepared
		}
	}

	parts := makePartitions(chunks, g.cfg.Workers)
	perCall := ceilDiv(wanted, len(parts))

	type partResult struct {
		cands []core.MCQCandidate
		usage core.TokenUsage
		err   error
	}
	results := make([]partResult, len(parts))

	run := func(gctx context.Context, i int) {
		req := core.GenerateRequest{
			Text:       parts[i].text,
			Topics:     topics,
			Count:      perCall,
			Difficulty: difficulty,
			ChunkIndex: parts[i].index,
		}
		if rc != nil {
			prefix, err := rc.PrefixFor(gctx, parts[i].text, parts[i].firstPos, parts[i].lastPos)
			if err != nil {
				g.log.Debugw("retrieval prefix failed", "partition", i, "error", err)
			}
			req.ContextPrefix = prefix
		}
		cands, usage, err := g.provider.GenerateMCQs(gctx, req)
		results[i] = partResult{cands: cands, usage: usage, err: err}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)
	for i := range parts {
		i := i
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			run(egCtx, i)
			if results[i].err != nil {
				g.log.Warnw("partition generation failed", "partition", i, "error", results[i].err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	total := 0
	for i := range results {
		res.Usage.Add(results[i].usage)
		res.Candidates = append(res.Candidates, results[i].cands...)
		total += len(results[i].cands)
	}
	if onProgress != nil {
		onProgress(total)
	}

	// One more pass at partitions that produced nothing, but only when the
	// run as a whole came up short.
	if total < target {
		for i := range parts {
			if len(results[i].cands) > 0 || ctx.Err() != nil {
				continue
			}
			run(ctx, i)
			res.Usage.Add(results[i].usage)
			if results[i].err != nil {
				g.log.Warnw("partition retry failed", "partition", i, "error", results[i].err)
				continue
			}
			res.Candidates = append(res.Candidates, results[i].cands...)
			total += len(results[i].cands)
			if onProgress != nil {
				onProgress(total)
			}
		}
	}

	if total == 0 {
		return g.fallbackRound(ctx, res, text, topics, wanted, difficulty, nil)
	}
	return res, nil
}

// fallbackRound sends the head of the document to the fallback provider
// when the primary produced nothing at all.
func (g *Generator) fallbackRound(ctx context.Context, res Result, text string, topics []string, wanted int, difficulty string, cause error) (Result, error) {
	if g.fallback == nil || ctx.Err() != nil {
		if cause != nil {
			return res, fmt.Errorf("generation failed: %w", cause)
		}
		return res, fmt.Errorf("generation produced no candidates")
	}
	g.log.Infow("primary produced no candidates, trying fallback provider", "fallback", g.fallback.Name())

	cands, usage, err := g.fallback.GenerateMCQs(ctx, core.GenerateRequest{
		Text:       truncateRunes(text, g.cfg.SingleCallMaxChars),
		Topics:     topics,
		Count:      wanted,
		Difficulty: difficulty,
		ChunkIndex: -1,
	})
	res.Usage.Add(usage)
	if err != nil {
		return res, fmt.Errorf("fallback generation failed: %w", err)
	}
	if len(cands) == 0 {
		return res, fmt.Errorf("generation produced no candidates")
	}
	res.Candidates = cands
	return res, nil
}

// makePartitions splits chunks into at most workers contiguous runs of
// near-equal size.
func makePartitions(chunks []chunker.Chunk, workers int) []partition {
	n := len(chunks)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	parts := make([]partition, 0, workers)
	per := ceilDiv(n, workers)
	for start := 0; start < n; start += per {
		end := start + per
		if end > n {
			end = n
		}
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		parts = append(parts, partition{
			text:     strings.Join(texts, "\n\n"),
			firstPos: chunks[start].Index,
			lastPos:  chunks[end-1].Index + 1,
			index:    len(parts),
		})
	}
	return parts
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

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
