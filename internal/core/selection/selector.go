package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/examsetu/examsetu/internal/core"
)

// Config holds the tuning knobs of the filter. The defaults are empirically
// tuned; treat them as product inputs, not invariants.
type Config struct {
	StemJaccard         float64
	StemOverlap         float64
	OptionJaccard       float64
	PreferredDifficulty string
	DropPhrases         []string
	BadKeyPhrases       []string
	ValidationWorkers   int
}

func DefaultConfig() Config {
	return Config{
		StemJaccard:         0.45,
		StemOverlap:         0.5,
		OptionJaccard:       0.4,
		PreferredDifficulty: "medium",
		DropPhrases: []string{
			"incorrect key", "wrong answer", "incorrect answer",
			"key is wrong", "explanation is wrong",
		},
		BadKeyPhrases: []string{
			"incorrect key", "wrong answer", "key is wrong",
			"correct answer is not", "key should be",
		},
		ValidationWorkers: 4,
	}
}

// neutralCritique marks candidates whose validation call failed; they keep
// a middle-of-the-road score instead of being discarded.
const neutralCritique = "Validation skipped (API error)."

// Selector validates, filters, deduplicates, ranks and truncates candidate
// MCQs down to the target count.
type Selector struct {
	provider core.LLMProvider
	cfg      Config
	log      *zap.SugaredLogger
}

func NewSelector(provider core.LLMProvider, cfg Config, log *zap.SugaredLogger) *Selector {
	return &Selector{provider: provider, cfg: cfg, log: log}
}

// Select runs the full filter pipeline. skipValidation bypasses the critique
// calls (fast path) and gives every candidate a neutral score.
func (s *Selector) Select(ctx context.Context, cands []core.MCQCandidate, target int, skipValidation bool) ([]core.MCQCandidate, core.TokenUsage, error) {
	var usage core.TokenUsage

	cands = filterStructural(cands)
	if len(cands) == 0 {
		return nil, usage, nil
	}

	if skipValidation {
		for i := range cands {
			cands[i].QualityScore = 0.5
		}
	} else {
		u, err := s.validateAll(ctx, cands)
		usage.Add(u)
		if err != nil {
			return nil, usage, err
		}
	}

	kept := s.dropFlagged(cands)
	kept = Dedupe(kept, s.cfg)
	Rank(kept, s.cfg)

	if target > 0 && len(kept) > target {
		kept = kept[:target]
	}
	return kept, usage, nil
}

// validateAll issues one critique call per candidate, bounded-concurrent.
// Results land by index so the outcome is deterministic regardless of
// completion order.
func (s *Selector) validateAll(ctx context.Context, cands []core.MCQCandidate) (core.TokenUsage, error) {
	usages := make([]core.TokenUsage, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ValidationWorkers)
	for i := range cands {
		g.Go(func() error {
			critique, u, err := s.provider.ValidateMCQ(gctx, cands[i])
			usages[i] = u
			if err != nil {
				s.log.Warnw("mcq validation failed, keeping candidate with neutral score",
					"index", i, "error", err)
				cands[i].ValidationNote = neutralCritique
				cands[i].QualityScore = 0.5
				return nil
			}
			cands[i].ValidationNote = critique
			cands[i].QualityScore = ScoreCritique(critique, s.cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.TokenUsage{}, err
	}

	var total core.TokenUsage
	for _, u := range usages {
		total.Add(u)
	}
	return total, nil
}

// ScoreCritique maps a free-text critique to a quality score in [0, 1],
// using the phrase list cfg was built with.
func ScoreCritique(critique string, cfg Config) float64 {
	c := strings.ToLower(strings.TrimSpace(critique))
	if c == "" {
		return 0.5
	}
	for _, p := range cfg.DropPhrases {
		if strings.Contains(c, p) {
			return 0.0
		}
	}
	if strings.Contains(c, "correct") && !strings.Contains(c, "incorrect") {
		return 1.0
	}
	return 0.7
}

func (s *Selector) dropFlagged(cands []core.MCQCandidate) []core.MCQCandidate {
	var out []core.MCQCandidate
	for _, c := range cands {
		if critiqueContainsAny(c.ValidationNote, s.cfg.DropPhrases) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func critiqueContainsAny(critique string, phrases []string) bool {
	c := strings.ToLower(critique)
	for _, p := range phrases {
		if strings.Contains(c, p) {
			return true
		}
	}
	return false
}

// Rank orders candidates in place: clean answer keys first, then preferred
// difficulty, then original order.
func Rank(cands []core.MCQCandidate, cfg Config) {
	sort.SliceStable(cands, func(i, j int) bool {
		bi := critiqueContainsAny(cands[i].ValidationNote, cfg.BadKeyPhrases)
		bj := critiqueContainsAny(cands[j].ValidationNote, cfg.BadKeyPhrases)
		if bi != bj {
			return !bi
		}
		mi := cands[i].Difficulty == cfg.PreferredDifficulty
		mj := cands[j].Difficulty == cfg.PreferredDifficulty
		if mi != mj {
			return mi
		}
		return false
	})
}

// filterStructural drops malformed candidates instead of erroring.
func filterStructural(cands []core.MCQCandidate) []core.MCQCandidate {
	var out []core.MCQCandidate
	for _, c := range cands {
		if err := ValidateStructure(c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ValidateStructure checks the option invariants: 4 or 5 options with
// sequential labels from "A", and a correct label that is one of them.
func ValidateStructure(c core.MCQCandidate) error {
	if strings.TrimSpace(c.Question) == "" {
		return fmt.Errorf("empty question")
	}
	n := len(c.Options)
	if n != 4 && n != 5 {
		return fmt.Errorf("got %d options, want 4 or 5", n)
	}
	correctSeen := false
	for i, o := range c.Options {
		want := string(rune('A' + i))
		if o.Label != want {
			return fmt.Errorf("option %d labelled %q, want %q", i, o.Label, want)
		}
		if o.Label == c.CorrectOption {
			correctSeen = true
		}
	}
	if !correctSeen {
		return fmt.Errorf("correct option %q not among labels", c.CorrectOption)
	}
	return nil
}
