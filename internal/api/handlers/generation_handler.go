package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	middleware "github.com/examsetu/examsetu/internal/api/middlewares"
	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/orchestrator"
	"github.com/examsetu/examsetu/internal/models"
)

type GenerationHandler struct {
	db        core.DbClient
	runner    *orchestrator.Runner
	maxTarget int
	staleSec  int
	log       *zap.SugaredLogger
}

func NewGenerationHandler(db core.DbClient, runner *orchestrator.Runner, maxTarget, staleSec int, log *zap.SugaredLogger) *GenerationHandler {
	return &GenerationHandler{db: db, runner: runner, maxTarget: maxTarget, staleSec: staleSec, log: log}
}

type startGenerationRequest struct {
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

var allowedDifficulties = map[string]bool{
	"easy": true, "medium": true, "hard": true, "mixed": true,
}

// StartGeneration creates a pending job for a ready document and launches
// it in the background. One active job per document.
func (h *GenerationHandler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.NumQuestions == 0 {
		req.NumQuestions = 10
	}
	if req.NumQuestions < 1 || req.NumQuestions > h.maxTarget {
		writeError(w, http.StatusBadRequest, "num_questions is out of range")
		return
	}
	req.Difficulty = strings.ToLower(strings.TrimSpace(req.Difficulty))
	if req.Difficulty == "" {
		req.Difficulty = "medium"
	}
	if !allowedDifficulties[req.Difficulty] {
		writeError(w, http.StatusBadRequest, "difficulty must be easy, medium, hard or mixed")
		return
	}

	docID := chi.URLParam(r, "document_id")
	doc, err := h.db.GetDocumentByID(r.Context(), docID)
	if err != nil || doc == nil || doc.UserID != userID {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if doc.Status != "ready" {
		writeError(w, http.StatusConflict, "document is not ready for generation")
		return
	}

	if active, err := h.db.GetActiveJobForDocument(r.Context(), docID); err == nil && active != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a generation job is already running for this document",
			"job_id": active.ID,
		})
		return
	}

	job := &models.GenerationJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: docID,
		Status:     models.JobPending,
		Metadata: models.GenerationMetadata{
			NumQuestions:        req.NumQuestions,
			Difficulty:          req.Difficulty,
			StaleTimeoutSeconds: h.staleSec,
		},
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		// the partial unique index catches races on simultaneous starts
		h.log.Infow("job create rejected", "document_id", docID, "error", err)
		writeError(w, http.StatusConflict, "a generation job is already running for this document")
		return
	}

	go func(jobID string) {
		if err := h.runner.Run(context.Background(), jobID); err != nil {
			h.log.Errorw("generation run failed", "job_id", jobID, "error", err)
		}
	}(job.ID)

	writeJSON(w, http.StatusAccepted, job)
}

// GetJob returns the job's current state for polling.
func (h *GenerationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	h.failIfStale(r.Context(), job)
	writeJSON(w, http.StatusOK, job)
}

// failIfStale times out a generating job whose heartbeat has stopped, so a
// crashed run is surfaced on the next status poll instead of on the next
// startup sweep.
func (h *GenerationHandler) failIfStale(ctx context.Context, job *models.GenerationJob) {
	if job.Status != models.JobGenerating {
		return
	}
	timeout := time.Duration(h.staleSec) * time.Second
	if job.Metadata.StaleTimeoutSeconds > 0 {
		timeout = time.Duration(job.Metadata.StaleTimeoutSeconds) * time.Second
	}
	if time.Since(job.UpdatedAt) <= timeout {
		return
	}
	reason := "Job timed out; heartbeat stopped"
	ok, err := h.db.TransitionJob(ctx, job.ID, []string{models.JobGenerating}, models.JobFailedTimeout, reason)
	if err != nil {
		h.log.Warnw("could not time out stale job", "job_id", job.ID, "error", err)
		return
	}
	if ok {
		job.Status = models.JobFailedTimeout
		job.FailureReason = reason
		h.log.Infow("stale job timed out on read", "job_id", job.ID, "last_update", job.UpdatedAt)
	}
}

// CancelJob stops an active job.
func (h *GenerationHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	if err := h.runner.Cancel(r.Context(), job.ID); err != nil {
		if errors.Is(err, orchestrator.ErrJobConflict) {
			writeError(w, http.StatusConflict, "job has already finished")
			return
		}
		h.log.Errorw("cancel failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.JobFailed, "failure_reason": "Cancelled by user"})
}

// GetQuestions returns the selected questions of a finished job.
func (h *GenerationHandler) GetQuestions(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if job.Status != models.JobCompleted && job.Status != models.JobPartial {
		writeError(w, http.StatusConflict, "job has no questions yet")
		return
	}

	questions, err := h.db.ListQuestionsByJob(r.Context(), job.ID)
	if err != nil {
		h.log.Errorw("list questions failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load questions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":       job,
		"questions": questions,
	})
}

// ListTopics returns the syllabus taxonomy.
func (h *GenerationHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.db.ListTopics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load topics")
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (h *GenerationHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*models.GenerationJob, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	job, err := h.db.GetJobByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil || job == nil || job.UserID != userID {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}
