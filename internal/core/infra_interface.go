package core

import (
	"context"
	"io"
	"time"

	"github.com/examsetu/examsetu/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string, failureReason string) error
	SetDocumentExtraction(ctx context.Context, id string, text string, pageCount int, seconds float64, status string) error

	ListTopics(ctx context.Context) ([]models.Topic, error)

	CreateJob(ctx context.Context, job *models.GenerationJob) error
	GetJobByID(ctx context.Context, id string) (*models.GenerationJob, error)
	GetActiveJobForDocument(ctx context.Context, documentID string) (*models.GenerationJob, error)
	ListActiveJobs(ctx context.Context) ([]models.GenerationJob, error)
	// TransitionJob moves a job from any of the listed statuses to the target
	// status in a single statement. It reports false when the current status
	// was not among from, which keeps terminal statuses immutable.
	TransitionJob(ctx context.Context, id string, from []string, to string, failureReason string) (bool, error)
	MarkJobStarted(ctx context.Context, id string, at time.Time) error
	TouchJob(ctx context.Context, id string, processedCandidates int) error
	FinalizeJob(ctx context.Context, id string, status string, failureReason string, questionsGenerated int, usage TokenUsage) error

	ReplaceJobQuestions(ctx context.Context, jobID string, questions []models.Question) error
	ListQuestionsByJob(ctx context.Context, jobID string) ([]models.Question, error)

	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	SearchDocumentChunks(ctx context.Context, documentID string, embedding []float32, limit int) ([]models.DocumentChunk, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
