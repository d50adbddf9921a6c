package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/chunker"
	"github.com/examsetu/examsetu/internal/core/generation"
	"github.com/examsetu/examsetu/internal/core/selection"
	"github.com/examsetu/examsetu/internal/models"
)

// fakeStore is an in-memory Store with the same transition semantics as
// the database client.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.GenerationJob
	docs      map[string]*models.Document
	topics    []models.Topic
	questions map[string][]models.Question
	usage     map[string]core.TokenUsage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]*models.GenerationJob{},
		docs:      map[string]*models.Document{},
		topics:    []models.Topic{{Slug: "polity", Name: "Polity"}},
		questions: map[string][]models.Question{},
		usage:     map[string]core.TokenUsage{},
	}
}

func (s *fakeStore) GetJobByID(_ context.Context, id string) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) ListTopics(context.Context) ([]models.Topic, error) { return s.topics, nil }

func (s *fakeStore) ListActiveJobs(context.Context) ([]models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GenerationJob
	for _, j := range s.jobs {
		if !models.TerminalJobStatus(j.Status) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionJob(_ context.Context, id string, from []string, to, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	for _, f := range from {
		if j.Status == f {
			j.Status = to
			j.FailureReason = reason
			j.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkJobStarted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.StartedAt = &at
	}
	return nil
}

func (s *fakeStore) TouchJob(_ context.Context, id string, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		if processed > j.ProcessedCandidates {
			j.ProcessedCandidates = processed
		}
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) FinalizeJob(_ context.Context, id, status, reason string, questionsGenerated int, usage core.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if models.TerminalJobStatus(j.Status) {
		return nil
	}
	j.Status = status
	j.FailureReason = reason
	j.QuestionsGenerated = questionsGenerated
	s.usage[id] = usage
	return nil
}

func (s *fakeStore) ReplaceJobQuestions(_ context.Context, jobID string, questions []models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[jobID] = questions
	return nil
}

func (s *fakeStore) job(id string) models.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// countingProvider returns n well-formed distinct candidates per call.
type countingProvider struct {
	mu            sync.Mutex
	n             int
	calls         int
	validateCalls int
	err           error
	delay         time.Duration
	ignoreCtx     bool // sleep through the delay even after cancellation
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	p.mu.Lock()
	p.calls++
	base := p.calls * 100
	p.mu.Unlock()
	if p.delay > 0 {
		if p.ignoreCtx {
			time.Sleep(p.delay)
		} else {
			select {
			case <-time.After(p.delay):
			case <-ctx.Done():
				return nil, core.TokenUsage{}, ctx.Err()
			}
		}
	}
	if p.err != nil {
		return nil, core.TokenUsage{}, p.err
	}
	out := make([]core.MCQCandidate, p.n)
	for i := range out {
		id := base + i
		out[i] = core.MCQCandidate{
			Question: fmt.Sprintf("question%d covers topic%d plus concept%d?", id, id, id),
			Options: []models.Option{
				{Label: "A", Text: fmt.Sprintf("alpha%d", id)},
				{Label: "B", Text: fmt.Sprintf("beta%d", id)},
				{Label: "C", Text: fmt.Sprintf("gamma%d", id)},
				{Label: "D", Text: fmt.Sprintf("delta%d", id)},
			},
			CorrectOption: "A",
			Difficulty:    "medium",
			TopicSlug:     "polity",
		}
	}
	return out, core.TokenUsage{Input: 10, Output: 5}, nil
}

func (p *countingProvider) ValidateMCQ(context.Context, core.MCQCandidate) (string, core.TokenUsage, error) {
	p.mu.Lock()
	p.validateCalls++
	p.mu.Unlock()
	return "The answer key is correct.", core.TokenUsage{Input: 2, Output: 1}, nil
}

func (p *countingProvider) validated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateCalls
}

func (p *countingProvider) Summarize(context.Context, string, int) (string, core.TokenUsage, error) {
	return "outline", core.TokenUsage{}, nil
}

func testRunner(store *fakeStore, provider core.LLMProvider, cfg Config) *Runner {
	log := zap.NewNop().Sugar()
	gen := generation.NewGenerator(provider, nil, nil,
		chunker.Options{Mode: chunker.ModeFixed, Size: 400, OverlapFraction: 0},
		generation.Config{Workers: 2, CandidateExtra: 2, SingleCallMaxChars: 5000, MaxTotalChars: 100000},
		log)
	sel := selection.NewSelector(provider, selection.DefaultConfig(), log)
	return NewRunner(store, gen, sel, cfg, log)
}

func seedJob(store *fakeStore, status string, target int) {
	store.docs["doc-1"] = &models.Document{
		ID:            "doc-1",
		Status:        "ready",
		ExtractedText: "The parliament of India consists of the president and two houses. " +
			"The council of states and the house of the people together exercise legislative power.",
	}
	store.jobs["job-1"] = &models.GenerationJob{
		ID:         "job-1",
		DocumentID: "doc-1",
		Status:     status,
		Metadata:   models.GenerationMetadata{NumQuestions: target, Difficulty: "medium", StaleTimeoutSeconds: 1200},
		UpdatedAt:  time.Now(),
	}
}

func defaultRunnerConfig() Config {
	return Config{
		MaxConcurrent:     2,
		BaseTimeout:       5 * time.Second,
		PerTenChunksExtra: time.Minute,
		HeartbeatInterval: 5 * time.Millisecond,
		ChunkSizeEstimate: 1500,
	}
}

func TestRunCompletesJob(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	r := testRunner(store, &countingProvider{n: 7}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 5, job.QuestionsGenerated)
	assert.NotNil(t, job.StartedAt)
	require.Len(t, store.questions["job-1"], 5)
	for i, q := range store.questions["job-1"] {
		assert.Equal(t, i+1, q.SortOrder)
		assert.Equal(t, "job-1", q.JobID)
	}
	assert.NotZero(t, store.usage["job-1"].Input)
}

func TestRunPartialWhenShort(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	r := testRunner(store, &countingProvider{n: 3}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobPartial, job.Status)
	assert.Equal(t, 3, job.QuestionsGenerated)
}

func TestRunSkipsAlreadyClaimedJob(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobGenerating, 5)
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))
	assert.Equal(t, models.JobGenerating, store.job("job-1").Status)
	assert.Empty(t, store.questions["job-1"])
}

func TestRunFailsWhenDocumentNotReady(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	store.docs["doc-1"].Status = "processing"
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "document is not ready for generation", job.FailureReason)
}

func TestRunTimesOutOnBudget(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	cfg := defaultRunnerConfig()
	cfg.BaseTimeout = 30 * time.Millisecond
	r := testRunner(store, &countingProvider{n: 5, delay: 200 * time.Millisecond}, cfg)

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailedTimeout, job.Status)
	assert.Contains(t, job.FailureReason, "budget")
}

func TestRunFailsOnProviderError(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	r := testRunner(store, &countingProvider{n: 0, err: fmt.Errorf("invalid api key")}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.FailureReason, "invalid api key")
}

func TestCancelActiveJob(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobGenerating, 5)
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	require.NoError(t, r.Cancel(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "Cancelled by user", job.FailureReason)
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobCompleted, 5)
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	err := r.Cancel(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrJobConflict)
}

func TestSweepStaleTimesOutSilentJobs(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobGenerating, 5)
	store.jobs["job-1"].Metadata.StaleTimeoutSeconds = 1
	store.jobs["job-1"].UpdatedAt = time.Now().Add(-time.Minute)
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	r.SweepStale(context.Background())

	job := store.job("job-1")
	assert.Equal(t, models.JobFailedTimeout, job.Status)
	assert.Contains(t, job.FailureReason, "timed out")
}

func TestSweepStaleLeavesFreshJobsAlone(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobGenerating, 5)
	r := testRunner(store, &countingProvider{n: 5}, defaultRunnerConfig())

	r.SweepStale(context.Background())
	assert.Equal(t, models.JobGenerating, store.job("job-1").Status)
}

func TestBudgetScalesWithDocumentSize(t *testing.T) {
	r := testRunner(newFakeStore(), &countingProvider{n: 1}, defaultRunnerConfig())
	base := r.budgetFor(1000)
	assert.Equal(t, 5*time.Second, base)
	// 300k chars at 1500 chars per chunk is 200 chunks, 20 extra minutes
	assert.Equal(t, 5*time.Second+20*time.Minute, r.budgetFor(300_000))
}

func TestRunFailsWithoutTopics(t *testing.T) {
	store := newFakeStore()
	store.topics = nil
	seedJob(store, models.JobPending, 5)
	r := testRunner(store, &countingProvider{n: 7}, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.FailureReason, "no topics")
	assert.Empty(t, store.questions["job-1"])
}

func TestRunFailsBelowWordMinimum(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	cfg := defaultRunnerConfig()
	cfg.MinExtractionWords = 500
	r := testRunner(store, &countingProvider{n: 7}, cfg)

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.FailureReason, "words")
	assert.Empty(t, store.questions["job-1"])
}

func TestRunTimesOutWhenBudgetOverrun(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	cfg := defaultRunnerConfig()
	cfg.BaseTimeout = 20 * time.Millisecond

	// The provider ignores cancellation and returns a full result well
	// past the deadline. The overrun must still finalize as a timeout.
	p := &countingProvider{n: 7, delay: 150 * time.Millisecond, ignoreCtx: true}
	r := testRunner(store, p, cfg)

	require.NoError(t, r.Run(context.Background(), "job-1"))

	job := store.job("job-1")
	assert.Equal(t, models.JobFailedTimeout, job.Status)
	assert.Contains(t, job.FailureReason, "budget")
	assert.Empty(t, store.questions["job-1"])
}

func TestRunSingleCallSkipsValidation(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	p := &countingProvider{n: 7}
	r := testRunner(store, p, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	assert.Equal(t, models.JobCompleted, store.job("job-1").Status)
	assert.Zero(t, p.validated())
}

func TestRunChunkedPathValidates(t *testing.T) {
	store := newFakeStore()
	seedJob(store, models.JobPending, 5)
	store.docs["doc-1"].ExtractedText = strings.Repeat(
		"The parliament of India consists of the president and two houses. ", 100)
	p := &countingProvider{n: 4}
	r := testRunner(store, p, defaultRunnerConfig())

	require.NoError(t, r.Run(context.Background(), "job-1"))

	assert.Equal(t, models.JobCompleted, store.job("job-1").Status)
	assert.Positive(t, p.validated())
}
