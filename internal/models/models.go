package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents an uploaded PDF or a pasted-text source.
type Document struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	FileName          string    `db:"file_name" json:"file_name"`
	StorageURL        string    `db:"storage_url" json:"storage_url"` // S3 URL, empty for pasted text
	SourceType        string    `db:"source_type" json:"source_type"` // "pdf" or "text"
	Status            string    `db:"status" json:"status"`           // uploaded | processing | ready | extraction_failed | rejected
	ExtractedText     string    `db:"extracted_text" json:"-"`
	PageCount         int       `db:"page_count" json:"page_count"`
	ExtractionSeconds float64   `db:"extraction_seconds" json:"extraction_seconds"`
	FailureReason     string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Topic is one entry of the syllabus taxonomy questions are tagged with.
type Topic struct {
	ID        string `db:"id" json:"id"`
	Slug      string `db:"slug" json:"slug"`
	Name      string `db:"name" json:"name"`
	SortOrder int    `db:"sort_order" json:"sort_order"`
}

// GenerationMetadata is the request snapshot stored on a job as JSONB.
type GenerationMetadata struct {
	NumQuestions        int    `json:"num_questions"`
	Difficulty          string `json:"difficulty"`
	StaleTimeoutSeconds int    `json:"stale_timeout_seconds"`
}

// Job statuses. Terminal statuses are never overwritten.
const (
	JobPending       = "pending"
	JobGenerating    = "generating"
	JobCompleted     = "completed"
	JobPartial       = "partial"
	JobFailed        = "failed"
	JobFailedTimeout = "failed_timeout"
)

// TerminalJobStatus reports whether a job status permits no further transitions.
func TerminalJobStatus(s string) bool {
	switch s {
	case JobCompleted, JobPartial, JobFailed, JobFailedTimeout:
		return true
	}
	return false
}

// GenerationJob tracks one MCQ generation run over a document.
type GenerationJob struct {
	ID                    string             `db:"id" json:"id"`
	UserID                string             `db:"user_id" json:"user_id"`
	DocumentID            string             `db:"document_id" json:"document_id"`
	Status                string             `db:"status" json:"status"`
	FailureReason         string             `db:"failure_reason" json:"failure_reason,omitempty"`
	QuestionsGenerated    int                `db:"questions_generated" json:"questions_generated"`
	ProcessedCandidates   int                `db:"processed_candidates" json:"processed_candidates"`
	EstimatedInputTokens  int                `db:"estimated_input_tokens" json:"estimated_input_tokens"`
	EstimatedOutputTokens int                `db:"estimated_output_tokens" json:"estimated_output_tokens"`
	Metadata              GenerationMetadata `db:"generation_metadata" json:"generation_metadata"`
	StartedAt             *time.Time         `db:"started_at" json:"started_at,omitempty"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// Option is one answer choice of a question, label "A".."E".
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is a persisted, selected MCQ belonging to a job.
type Question struct {
	ID               string    `db:"id" json:"id"`
	JobID            string    `db:"job_id" json:"job_id"`
	SortOrder        int       `db:"sort_order" json:"sort_order"`
	Text             string    `db:"question" json:"question"`
	Options          []Option  `db:"options" json:"options"` // JSONB column
	CorrectOption    string    `db:"correct_option" json:"correct_option"`
	Explanation      string    `db:"explanation" json:"explanation"`
	Difficulty       string    `db:"difficulty" json:"difficulty"`
	TopicSlug        string    `db:"topic_slug" json:"topic_slug"`
	ValidationResult string    `db:"validation_result" json:"validation_result,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// DocumentChunk is one cached text chunk with its embedding.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"embedding"` // pgvector column
	Position   int       `db:"position" json:"position"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
