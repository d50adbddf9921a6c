package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/examsetu/examsetu/internal/config"
	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, storage_url, source_type, status,
			 extracted_text, page_count, extraction_seconds, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.StorageURL, doc.SourceType, doc.Status,
		doc.ExtractedText, doc.PageCount, doc.ExtractionSeconds)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, user_id, file_name, storage_url, source_type, status,
		       extracted_text, page_count, extraction_seconds,
		       COALESCE(failure_reason, ''), created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var d models.Document
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.FileName, &d.StorageURL, &d.SourceType, &d.Status,
		&d.ExtractedText, &d.PageCount, &d.ExtractionSeconds,
		&d.FailureReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	const q = `
		SELECT id, user_id, file_name, storage_url, source_type, status,
		       page_count, extraction_seconds, COALESCE(failure_reason, ''),
		       created_at, updated_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.FileName, &d.StorageURL, &d.SourceType, &d.Status,
			&d.PageCount, &d.ExtractionSeconds, &d.FailureReason,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string, failureReason string) error {
	const q = `
		UPDATE documents
		SET status = $2, failure_reason = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, failureReason)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SetDocumentExtraction(ctx context.Context, id string, text string, pageCount int, seconds float64, status string) error {
	const q = `
		UPDATE documents
		SET extracted_text = $2, page_count = $3, extraction_seconds = $4,
		    status = $5, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, text, pageCount, seconds, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// Topics

func (c *DatabaseClient) ListTopics(ctx context.Context) ([]models.Topic, error) {
	const q = `
		SELECT id, slug, name, sort_order
		FROM topics
		ORDER BY sort_order ASC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Generation jobs

const jobColumns = `
	id, user_id, document_id, status, COALESCE(failure_reason, ''),
	questions_generated, processed_candidates,
	estimated_input_tokens, estimated_output_tokens,
	generation_metadata, started_at, created_at, updated_at
`

func scanJob(row interface{ Scan(...any) error }) (*models.GenerationJob, error) {
	var (
		j       models.GenerationJob
		meta    []byte
		started sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.DocumentID, &j.Status, &j.FailureReason,
		&j.QuestionsGenerated, &j.ProcessedCandidates,
		&j.EstimatedInputTokens, &j.EstimatedOutputTokens,
		&meta, &started, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode generation_metadata: %w", err)
		}
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	return &j, nil
}

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode generation_metadata: %w", err)
	}
	const q = `
		INSERT INTO generation_jobs
			(id, user_id, document_id, status, generation_metadata, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, now(), now())
	`
	_, err = c.db.ExecContext(ctx, q, job.ID, job.UserID, job.DocumentID, job.Status, meta)
	return err
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	j, err := scanJob(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (c *DatabaseClient) GetActiveJobForDocument(ctx context.Context, documentID string) (*models.GenerationJob, error) {
	q := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE document_id = $1 AND status IN ('pending', 'generating')
		ORDER BY created_at DESC
		LIMIT 1
	`
	j, err := scanJob(c.db.QueryRowContext(ctx, q, documentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (c *DatabaseClient) ListActiveJobs(ctx context.Context) ([]models.GenerationJob, error) {
	q := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE status IN ('pending', 'generating')
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// TransitionJob is a compare-and-set on status. Terminal jobs stay terminal
// because they are never in the from list of any caller.
func (c *DatabaseClient) TransitionJob(ctx context.Context, id string, from []string, to string, failureReason string) (bool, error) {
	const q = `
		UPDATE generation_jobs
		SET status = $2, failure_reason = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND status = ANY($4)
	`
	res, err := c.db.ExecContext(ctx, q, id, to, failureReason, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) MarkJobStarted(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE generation_jobs
		SET started_at = $2, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, at)
	return err
}

// TouchJob is the heartbeat: it bumps updated_at so the stale sweeper can
// tell a live run from a dead one.
func (c *DatabaseClient) TouchJob(ctx context.Context, id string, processedCandidates int) error {
	const q = `
		UPDATE generation_jobs
		SET processed_candidates = GREATEST(processed_candidates, $2), updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, processedCandidates)
	return err
}

func (c *DatabaseClient) FinalizeJob(ctx context.Context, id string, status string, failureReason string, questionsGenerated int, usage core.TokenUsage) error {
	const q = `
		UPDATE generation_jobs
		SET status = $2, failure_reason = NULLIF($3, ''), questions_generated = $4,
		    estimated_input_tokens = $5, estimated_output_tokens = $6, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, status, failureReason, questionsGenerated, usage.Input, usage.Output)
	return err
}

// Questions

// ReplaceJobQuestions deletes any previous result set for the job and inserts
// the new one in a single transaction, so rerun results never interleave.
func (c *DatabaseClient) ReplaceJobQuestions(ctx context.Context, jobID string, questions []models.Question) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE job_id = $1`, jobID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO questions
			(id, job_id, sort_order, question, options, correct_option,
			 explanation, difficulty, topic_slug, validation_result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range questions {
		qu := &questions[i]
		if qu.ID == "" {
			qu.ID = uuid.NewString()
		}
		opts, err := json.Marshal(qu.Options)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode options: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			qu.ID, jobID, qu.SortOrder, qu.Text, opts, qu.CorrectOption,
			qu.Explanation, qu.Difficulty, qu.TopicSlug, qu.ValidationResult,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListQuestionsByJob(ctx context.Context, jobID string) ([]models.Question, error) {
	const q = `
		SELECT id, job_id, sort_order, question, options, correct_option,
		       explanation, difficulty, topic_slug, COALESCE(validation_result, ''), created_at
		FROM questions
		WHERE job_id = $1
		ORDER BY sort_order ASC
	`
	rows, err := c.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var (
			qu   models.Question
			opts []byte
		)
		if err := rows.Scan(
			&qu.ID, &qu.JobID, &qu.SortOrder, &qu.Text, &opts, &qu.CorrectOption,
			&qu.Explanation, &qu.Difficulty, &qu.TopicSlug, &qu.ValidationResult, &qu.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(opts) > 0 {
			if err := json.Unmarshal(opts, &qu.Options); err != nil {
				return nil, fmt.Errorf("decode options: %w", err)
			}
		}
		out = append(out, qu)
	}
	return out, rows.Err()
}

// Document chunks (embedding cache for retrieval)

// ReplaceDocumentChunks swaps the cached chunk set for a document in one
// transaction. Rechunking with different settings invalidates the old rows.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, position, text, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Position, ch.Text, vec, ch.TokenCount,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, embedding, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchDocumentChunks finds top-k similar chunks within a document for a query embedding.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, embedding, token_count
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, docID, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &emb, &ch.TokenCount); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}
