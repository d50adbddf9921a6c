package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/generation"
	"github.com/examsetu/examsetu/internal/core/selection"
	"github.com/examsetu/examsetu/internal/models"
)

// Store is the persistence surface the runner needs. core.DbClient
// satisfies it.
type Store interface {
	GetJobByID(ctx context.Context, id string) (*models.GenerationJob, error)
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListTopics(ctx context.Context) ([]models.Topic, error)
	ListActiveJobs(ctx context.Context) ([]models.GenerationJob, error)
	TransitionJob(ctx context.Context, id string, from []string, to string, failureReason string) (bool, error)
	MarkJobStarted(ctx context.Context, id string, at time.Time) error
	TouchJob(ctx context.Context, id string, processedCandidates int) error
	FinalizeJob(ctx context.Context, id string, status string, failureReason string, questionsGenerated int, usage core.TokenUsage) error
	ReplaceJobQuestions(ctx context.Context, jobID string, questions []models.Question) error
}

// Config controls job execution limits and liveness reporting.
type Config struct {
	MaxConcurrent      int
	BaseTimeout        time.Duration // floor of the per-job time budget
	PerTenChunksExtra  time.Duration // budget added per ten estimated chunks
	HeartbeatInterval  time.Duration
	ChunkSizeEstimate  int // chars per chunk, for the budget estimate
	MinExtractionWords int // documents below this word count fail fast
}

const maxFailureReasonLen = 512

// ErrJobConflict is returned when a requested transition is not allowed
// from the job's current status.
var ErrJobConflict = errors.New("job is not in a state that allows this operation")

// Runner executes generation jobs: it claims a pending job, runs the
// generate-validate-select pipeline under a time budget, reports liveness
// through heartbeats, and finalizes the job exactly once.
type Runner struct {
	store Store
	gen   *generation.Generator
	sel   *selection.Selector
	cfg   Config
	sem   chan struct{}
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewRunner(store Store, gen *generation.Generator, sel *selection.Selector, cfg Config, log *zap.SugaredLogger) *Runner {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Runner{
		store: store,
		gen:   gen,
		sel:   sel,
		cfg:   cfg,
		sem:   make(chan struct{}, cfg.MaxConcurrent),
		log:   log,
		now:   time.Now,
	}
}

// Run executes one job to a terminal status. Returns nil when the job was
// already claimed or finished by someone else.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	claimed, err := r.store.TransitionJob(ctx, jobID, []string{models.JobPending}, models.JobGenerating, "")
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		return nil
	}
	if err := r.store.MarkJobStarted(ctx, jobID, r.now()); err != nil {
		r.log.Warnw("could not record job start", "job_id", jobID, "error", err)
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("job panicked", "job_id", jobID, "panic", p)
			r.finalize(jobID, models.JobFailed, truncateReason(fmt.Sprintf("internal error: %v", p)), 0, core.TokenUsage{})
		}
	}()

	job, err := r.store.GetJobByID(ctx, jobID)
	if err != nil || job == nil {
		r.finalize(jobID, models.JobFailed, "job not found after claim", 0, core.TokenUsage{})
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	doc, err := r.store.GetDocumentByID(ctx, job.DocumentID)
	if err != nil || doc == nil {
		r.finalize(jobID, models.JobFailed, "document not found", 0, core.TokenUsage{})
		return fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}
	if doc.Status != "ready" || doc.ExtractedText == "" {
		r.finalize(jobID, models.JobFailed, "document is not ready for generation", 0, core.TokenUsage{})
		return nil
	}
	if r.cfg.MinExtractionWords > 0 {
		if words := len(strings.Fields(doc.ExtractedText)); words < r.cfg.MinExtractionWords {
			r.finalize(jobID, models.JobFailed,
				fmt.Sprintf("document has %d words, at least %d are required", words, r.cfg.MinExtractionWords),
				0, core.TokenUsage{})
			return nil
		}
	}

	topics, err := r.store.ListTopics(ctx)
	if err != nil {
		r.finalize(jobID, models.JobFailed, truncateReason(fmt.Sprintf("could not load topics: %v", err)), 0, core.TokenUsage{})
		return fmt.Errorf("list topics: %w", err)
	}
	if len(topics) == 0 {
		r.finalize(jobID, models.JobFailed, "no topics configured", 0, core.TokenUsage{})
		return nil
	}
	slugs := make([]string, len(topics))
	for i, t := range topics {
		slugs[i] = t.Slug
	}

	started := r.now()
	budget := r.budgetFor(len(doc.ExtractedText))
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var processed atomic.Int64
	stopHeartbeat := r.startHeartbeat(jobID, &processed)
	defer stopHeartbeat()

	target := job.Metadata.NumQuestions
	difficulty := job.Metadata.Difficulty
	r.log.Infow("job started",
		"job_id", jobID, "document_id", doc.ID,
		"target", target, "difficulty", difficulty, "budget", budget)

	var usage core.TokenUsage
	genRes, err := r.gen.Generate(runCtx, doc.ID, doc.ExtractedText, slugs, target, difficulty,
		func(n int) { processed.Store(int64(n)) })
	usage.Add(genRes.Usage)
	if err != nil {
		r.finalizeError(jobID, runCtx, err, usage, budget)
		return nil
	}

	selected, selUsage, err := r.sel.Select(runCtx, genRes.Candidates, target, genRes.NumChunks == 1)
	usage.Add(selUsage)
	if err != nil {
		r.finalizeError(jobID, runCtx, err, usage, budget)
		return nil
	}
	// The budget is enforced here, not mid-call: a run that overstays it
	// times out even when every call returned and enough questions exist.
	if elapsed := r.now().Sub(started); elapsed > budget {
		r.finalize(jobID, models.JobFailedTimeout,
			truncateReason(fmt.Sprintf("generation exceeded the %s budget", budget)), 0, usage)
		return nil
	}
	if len(selected) == 0 {
		r.finalize(jobID, models.JobFailed, "no valid MCQs after filtering", 0, usage)
		return nil
	}

	questions := make([]models.Question, len(selected))
	for i, c := range selected {
		questions[i] = models.Question{
			JobID:            jobID,
			SortOrder:        i + 1,
			Text:             c.Question,
			Options:          c.Options,
			CorrectOption:    c.CorrectOption,
			Explanation:      c.Explanation,
			Difficulty:       c.Difficulty,
			TopicSlug:        c.TopicSlug,
			ValidationResult: c.ValidationNote,
		}
	}
	if err := r.store.ReplaceJobQuestions(context.Background(), jobID, questions); err != nil {
		r.finalize(jobID, models.JobFailed, truncateReason(fmt.Sprintf("could not save questions: %v", err)), 0, usage)
		return fmt.Errorf("save questions for job %s: %w", jobID, err)
	}

	status := models.JobCompleted
	if len(selected) < target {
		status = models.JobPartial
	}
	r.finalize(jobID, status, "", len(selected), usage)
	r.log.Infow("job finished", "job_id", jobID, "status", status, "questions", len(selected))
	return nil
}

// Cancel moves an active job to failed. Returns ErrJobConflict when the
// job is already terminal.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	ok, err := r.store.TransitionJob(ctx, jobID,
		[]string{models.JobPending, models.JobGenerating}, models.JobFailed, "Cancelled by user")
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if !ok {
		return ErrJobConflict
	}
	return nil
}

// Resume re-runs jobs left pending by a previous process, e.g. after a
// restart.
func (r *Runner) Resume(ctx context.Context) {
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		r.log.Warnw("could not list active jobs for resume", "error", err)
		return
	}
	for _, job := range jobs {
		if job.Status != models.JobPending {
			continue
		}
		jobID := job.ID
		go func() {
			if err := r.Run(context.Background(), jobID); err != nil {
				r.log.Errorw("resumed job failed", "job_id", jobID, "error", err)
			}
		}()
	}
}

// SweepStale times out generating jobs whose heartbeat stopped, which
// happens when the process died mid-run.
func (r *Runner) SweepStale(ctx context.Context) {
	jobs, err := r.store.ListActiveJobs(ctx)
	if err != nil {
		r.log.Warnw("could not list active jobs for sweep", "error", err)
		return
	}
	for _, job := range jobs {
		if job.Status != models.JobGenerating {
			continue
		}
		timeout := r.cfg.BaseTimeout
		if job.Metadata.StaleTimeoutSeconds > 0 {
			timeout = time.Duration(job.Metadata.StaleTimeoutSeconds) * time.Second
		}
		if r.now().Sub(job.UpdatedAt) <= timeout {
			continue
		}
		ok, err := r.store.TransitionJob(ctx, job.ID,
			[]string{models.JobGenerating}, models.JobFailedTimeout, "Job timed out; heartbeat stopped")
		if err != nil {
			r.log.Warnw("could not time out stale job", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			r.log.Infow("stale job timed out", "job_id", job.ID, "last_update", job.UpdatedAt)
		}
	}
}

// budgetFor scales the time budget with estimated document size.
func (r *Runner) budgetFor(textLen int) time.Duration {
	estChunks := 0
	if r.cfg.ChunkSizeEstimate > 0 {
		estChunks = textLen / r.cfg.ChunkSizeEstimate
	}
	return r.cfg.BaseTimeout + time.Duration(estChunks/10)*r.cfg.PerTenChunksExtra
}

func (r *Runner) startHeartbeat(jobID string, processed *atomic.Int64) func() {
	if r.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := r.store.TouchJob(hbCtx, jobID, int(processed.Load())); err != nil {
					r.log.Warnw("heartbeat failed", "job_id", jobID, "error", err)
				}
				cancel()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// finalizeError distinguishes a blown time budget from a hard failure.
func (r *Runner) finalizeError(jobID string, runCtx context.Context, err error, usage core.TokenUsage, budget time.Duration) {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		r.finalize(jobID, models.JobFailedTimeout,
			truncateReason(fmt.Sprintf("generation exceeded the %s budget", budget)), 0, usage)
		return
	}
	r.finalize(jobID, models.JobFailed, truncateReason(err.Error()), 0, usage)
}

// finalize writes the terminal status with a background context so a
// cancelled run context cannot lose the result.
func (r *Runner) finalize(jobID, status, reason string, questionsGenerated int, usage core.TokenUsage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.FinalizeJob(ctx, jobID, status, reason, questionsGenerated, usage); err != nil {
		r.log.Errorw("could not finalize job", "job_id", jobID, "status", status, "error", err)
	}
}

func truncateReason(s string) string {
	if len(s) <= maxFailureReasonLen {
		return s
	}
	return s[:maxFailureReasonLen]
}
