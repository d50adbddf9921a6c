package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/chunker"
	"github.com/examsetu/examsetu/internal/models"
)

// Config controls when and how generation prompts are augmented with
// document-level context.
type Config struct {
	Enabled          bool
	MinChunks        int // augment only above this chunk count
	TopK             int // excerpts retrieved per partition
	OutlineMaxChunks int // chunks summarized into the outline
}

const outlineMaxWords = 250

// Retriever builds augmentation context for long documents: a one-shot
// outline plus per-partition retrieval of related excerpts. Embeddings
// are cached in Postgres when a DbClient is wired, with an in-memory
// fallback so generation never blocks on the cache.
type Retriever struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	cfg      Config
	log      *zap.SugaredLogger
}

func NewRetriever(db core.DbClient, embedder core.EmbeddingProvider, llm core.LLMProvider, cfg Config, log *zap.SugaredLogger) *Retriever {
	return &Retriever{db: db, embedder: embedder, llm: llm, cfg: cfg, log: log}
}

// ShouldAugment reports whether a document of the given chunk count gets
// retrieval context at all.
func (r *Retriever) ShouldAugment(numChunks int) bool {
	return r.cfg.Enabled && r.embedder != nil && numChunks > r.cfg.MinChunks
}

// Context is the prepared augmentation state for one document.
type Context struct {
	r          *Retriever
	documentID string
	outline    string
	index      *memoryIndex
	useDB      bool
}

// Prepare embeds every chunk, caches the vectors, and summarizes the
// document head into an outline. The returned usage covers the outline
// call only; embedding calls are not token-metered.
func (r *Retriever) Prepare(ctx context.Context, documentID string, chunks []chunker.Chunk) (*Context, core.TokenUsage, error) {
	var usage core.TokenUsage

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := r.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, usage, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, usage, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	c := &Context{r: r, documentID: documentID, index: newMemoryIndex(chunks, vectors)}

	if r.db != nil {
		rows := make([]models.DocumentChunk, len(chunks))
		for i, ch := range chunks {
			rows[i] = models.DocumentChunk{
				DocumentID: documentID,
				Text:       ch.Text,
				Embedding:  vectors[i],
				Position:   ch.Index,
				TokenCount: len(ch.Text) / 4,
			}
		}
		if err := r.db.ReplaceDocumentChunks(ctx, documentID, rows); err != nil {
			r.log.Warnw("chunk cache write failed, using in-memory index", "document_id", documentID, "error", err)
		} else {
			c.useDB = true
		}
	}

	outline, outlineUsage, err := r.buildOutline(ctx, texts)
	usage.Add(outlineUsage)
	if err != nil {
		r.log.Warnw("outline generation failed, continuing without", "document_id", documentID, "error", err)
	} else {
		c.outline = outline
	}
	return c, usage, nil
}

// PrefixFor returns the context block for one partition: the document
// outline plus excerpts similar to the partition but outside it. The
// partition's own positions are excluded so the prefix adds information
// instead of repeating the material already in the prompt.
func (c *Context) PrefixFor(ctx context.Context, partitionText string, positionLow, positionHigh int) (string, error) {
	query, err := c.r.embedder.EmbedTexts(ctx, []string{headOf(partitionText, 2000)})
	if err != nil || len(query) == 0 {
		return c.outlineOnly(), fmt.Errorf("embed partition query: %w", err)
	}

	excerpts := c.search(ctx, query[0], positionLow, positionHigh)

	var b strings.Builder
	if c.outline != "" {
		b.WriteString("Document outline:\n")
		b.WriteString(c.outline)
		b.WriteString("\n\n")
	}
	if len(excerpts) > 0 {
		b.WriteString("Related excerpts from elsewhere in the document:\n")
		for _, e := range excerpts {
			b.WriteString("- ")
			b.WriteString(headOf(e, 600))
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *Context) outlineOnly() string {
	if c.outline == "" {
		return ""
	}
	return "Document outline:\n" + c.outline
}

func (c *Context) search(ctx context.Context, query []float32, positionLow, positionHigh int) []string {
	k := c.r.cfg.TopK
	if c.useDB {
		// over-fetch so the partition's own chunks can be filtered out
		rows, err := c.r.db.SearchDocumentChunks(ctx, c.documentID, query, k+(positionHigh-positionLow))
		if err == nil {
			var out []string
			for _, row := range rows {
				if row.Position >= positionLow && row.Position < positionHigh {
					continue
				}
				out = append(out, row.Text)
				if len(out) == k {
					break
				}
			}
			return out
		}
		c.r.log.Warnw("chunk search failed, using in-memory index", "document_id", c.documentID, "error", err)
	}
	return c.index.search(query, k, positionLow, positionHigh)
}

func (r *Retriever) buildOutline(ctx context.Context, texts []string) (string, core.TokenUsage, error) {
	n := len(texts)
	if r.cfg.OutlineMaxChunks > 0 && n > r.cfg.OutlineMaxChunks {
		n = r.cfg.OutlineMaxChunks
	}
	head := strings.Join(texts[:n], "\n\n")
	return r.llm.Summarize(ctx, head, outlineMaxWords)
}

func headOf(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// memoryIndex is a flat vector index scanned linearly, ranked by squared
// L2 distance. Fine at document scale, a few hundred chunks at most.
type memoryIndex struct {
	items []indexItem
}

type indexItem struct {
	position int
	text     string
	vec      []float32
}

func newMemoryIndex(chunks []chunker.Chunk, vectors [][]float32) *memoryIndex {
	items := make([]indexItem, len(chunks))
	for i, ch := range chunks {
		items[i] = indexItem{position: ch.Index, text: ch.Text, vec: vectors[i]}
	}
	return &memoryIndex{items: items}
}

func (m *memoryIndex) search(query []float32, k, positionLow, positionHigh int) []string {
	type scored struct {
		dist float64
		item indexItem
	}
	var candidates []scored
	for _, it := range m.items {
		if it.position >= positionLow && it.position < positionHigh {
			continue
		}
		candidates = append(candidates, scored{dist: sqL2(query, it.vec), item: it})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]string, len(candidates))
	for i, s := range candidates {
		out[i] = s.item.text
	}
	return out
}

func sqL2(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}
