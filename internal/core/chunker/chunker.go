package chunker

import (
	"strings"
)

// Chunk is one bounded slice of source text, ordered by Index.
type Chunk struct {
	Text  string
	Index int
}

const (
	ModeFixed    = "fixed"
	ModeSemantic = "semantic"
)

// Options control how text is split. OverlapFraction is the share of Size
// carried over between consecutive chunks.
type Options struct {
	Mode            string
	Size            int
	OverlapFraction float64
}

// Split breaks text into overlapping chunks. Empty or whitespace-only input
// returns nil. Offsets are rune-based so multi-byte scripts never split
// mid-character.
func Split(text string, o Options) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if o.Size <= 0 {
		o.Size = 1500
	}
	if o.OverlapFraction < 0 || o.OverlapFraction >= 1 {
		o.OverlapFraction = 0.2
	}

	var parts []string
	switch o.Mode {
	case ModeFixed:
		parts = splitFixed(text, o.Size, int(float64(o.Size)*o.OverlapFraction))
	default:
		parts = splitSemantic(text, o.Size, o.OverlapFraction)
	}

	out := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, Chunk{Text: p, Index: len(out)})
	}
	return out
}

func splitFixed(text string, size, overlap int) []string {
	if overlap >= size {
		overlap = size - 1
	}
	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return parts
}

// sentenceTerminators includes the Devanagari danda so Hindi prose splits
// on sentence boundaries too.
const sentenceTerminators = ".!?।"

func splitSemantic(text string, size int, overlapFraction float64) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	overlapBudget := int(float64(size) * overlapFraction)

	var (
		parts   []string
		current []string
		curLen  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		parts = append(parts, strings.Join(current, " "))

		// Seed the next chunk with trailing sentences of the closed one.
		var (
			seed    []string
			seedLen int
		)
		for i := len(current) - 1; i >= 0; i-- {
			l := len([]rune(current[i]))
			if seedLen+l > overlapBudget {
				break
			}
			seed = append([]string{current[i]}, seed...)
			seedLen += l
		}
		current = seed
		curLen = seedLen
	}

	for _, s := range sentences {
		l := len([]rune(s))
		if curLen > 0 && curLen+l > size {
			flush()
		}
		current = append(current, s)
		curLen += l
		// A single oversized sentence stands alone rather than splitting mid-word.
		if l > size {
			flush()
			current = nil
			curLen = 0
		}
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

// splitSentences cuts text at sentence terminators and blank lines,
// keeping the terminator with its sentence.
func splitSentences(text string) []string {
	var (
		sentences []string
		b         strings.Builder
	)
	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if strings.ContainsRune(sentenceTerminators, r) {
			// Consume runs of terminators (e.g. "?!" or "...") as one boundary.
			if i+1 < len(runes) && strings.ContainsRune(sentenceTerminators, runes[i+1]) {
				continue
			}
			emit()
			continue
		}
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			emit()
		}
	}
	emit()
	return sentences
}
