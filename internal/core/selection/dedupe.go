package selection

import (
	"regexp"
	"strings"

	"github.com/examsetu/examsetu/internal/core"
)

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// overlapRatio is intersection size over the smaller set's size, which
// catches a short stem embedded in a longer rephrasing.
func overlapRatio(a, b map[string]struct{}) float64 {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	if min == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(min)
}

func optionsText(c core.MCQCandidate) string {
	var b strings.Builder
	for _, o := range c.Options {
		b.WriteString(o.Text)
		b.WriteByte(' ')
	}
	return b.String()
}

// AreDuplicates reports whether two candidates ask essentially the same
// question. The predicate is symmetric.
func AreDuplicates(a, b core.MCQCandidate, cfg Config) bool {
	sa, sb := tokenSet(a.Question), tokenSet(b.Question)

	if jaccard(sa, sb) >= cfg.StemJaccard {
		return true
	}
	if overlapRatio(sa, sb) >= cfg.StemOverlap {
		return true
	}
	if a.CorrectOption == b.CorrectOption &&
		jaccard(tokenSet(optionsText(a)), tokenSet(optionsText(b))) >= cfg.OptionJaccard {
		return true
	}
	return false
}

// Dedupe keeps the first occurrence of each duplicate cluster, preserving
// input order. O(n²) over the pool, fine at these sizes.
func Dedupe(cands []core.MCQCandidate, cfg Config) []core.MCQCandidate {
	var out []core.MCQCandidate
	for _, c := range cands {
		dup := false
		for _, kept := range out {
			if AreDuplicates(kept, c, cfg) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
