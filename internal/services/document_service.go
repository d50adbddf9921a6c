package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/core/extraction"
	"github.com/examsetu/examsetu/internal/models"
)

// Document statuses.
const (
	DocUploaded         = "uploaded"
	DocProcessing       = "processing"
	DocReady            = "ready"
	DocExtractionFailed = "extraction_failed"
	DocRejected         = "rejected"
)

// DocumentConfig are the intake limits.
type DocumentConfig struct {
	MaxPDFPages     int
	MinValidTextLen int
	QueueSize       int
	Workers         int
}

// DocumentService owns document intake and the background extraction
// queue. Uploaded PDFs move uploaded -> processing -> ready or
// extraction_failed; pasted text skips extraction and lands ready
// immediately.
type DocumentService struct {
	db        core.DbClient
	storage   core.ObjectClient
	bucket    string
	extractor core.DocumentExtractor
	cfg       DocumentConfig
	jobs      chan string
	log       *zap.SugaredLogger

	pageCount func(string) (int, error)
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, bucket string, extractor core.DocumentExtractor, cfg DocumentConfig, log *zap.SugaredLogger) *DocumentService {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &DocumentService{
		db:        db,
		storage:   storage,
		bucket:    bucket,
		extractor: extractor,
		cfg:       cfg,
		jobs:      make(chan string, cfg.QueueSize),
		log:       log,
		pageCount: extraction.PageCount,
	}
}

// CreatePDF uploads the file to object storage, records the document and
// queues it for extraction.
func (s *DocumentService) CreatePDF(ctx context.Context, userID, filename, contentType string, data []byte) (*models.Document, error) {
	docID := uuid.NewString()
	key := s.objectKey(userID, docID, filename)

	url, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store pdf: %w", err)
	}

	doc := &models.Document{
		ID:         docID,
		UserID:     userID,
		FileName:   filename,
		StorageURL: url,
		SourceType: "pdf",
		Status:     DocUploaded,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("record document: %w", err)
	}

	select {
	case s.jobs <- doc.ID:
	default:
		// Queue full. The document stays uploaded and a sweep or retry can
		// requeue it, better than blocking the upload request.
		s.log.Warnw("extraction queue full", "document_id", doc.ID)
	}
	return doc, nil
}

// CreateText records pasted text as an immediately ready document.
func (s *DocumentService) CreateText(ctx context.Context, userID, title, text string) (*models.Document, error) {
	cleaned := extraction.Preprocess(text)
	if len([]rune(cleaned)) < s.cfg.MinValidTextLen {
		return nil, fmt.Errorf("text must be at least %d characters after cleanup", s.cfg.MinValidTextLen)
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		UserID:     userID,
		FileName:   title,
		SourceType: "text",
		Status:     DocReady,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("record document: %w", err)
	}
	if err := s.db.SetDocumentExtraction(ctx, doc.ID, cleaned, 0, 0, DocReady); err != nil {
		return nil, fmt.Errorf("store text: %w", err)
	}
	doc.ExtractedText = cleaned
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Start launches the extraction workers. They run until ctx is cancelled.
func (s *DocumentService) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case docID := <-s.jobs:
					if err := s.processOne(ctx, docID); err != nil {
						s.log.Errorw("extraction failed", "document_id", docID, "error", err)
					}
				}
			}
		}()
	}
}

// Enqueue schedules a document for extraction, used when re-processing.
func (s *DocumentService) Enqueue(docID string) {
	s.jobs <- docID
}

func (s *DocumentService) processOne(ctx context.Context, docID string) error {
	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil || doc == nil {
		return fmt.Errorf("document %s not found: %w", docID, err)
	}
	if doc.Status != DocUploaded {
		return nil
	}
	if err := s.db.UpdateDocumentStatus(ctx, docID, DocProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	pdfPath, cleanup, err := s.fetchPDF(ctx, doc)
	if err != nil {
		if err := s.db.UpdateDocumentStatus(ctx, docID, DocExtractionFailed, truncate(err.Error(), 512)); err != nil {
			s.log.Errorw("could not record extraction failure", "document_id", docID, "error", err)
		}
		return err
	}
	defer cleanup()

	// Page limit is checked before any extraction work runs.
	if s.cfg.MaxPDFPages > 0 {
		if pages, err := s.pageCount(pdfPath); err == nil && pages > s.cfg.MaxPDFPages {
			reason := fmt.Sprintf("PDF has %d pages, the limit is %d", pages, s.cfg.MaxPDFPages)
			return s.db.UpdateDocumentStatus(ctx, docID, DocRejected, reason)
		}
	}

	started := time.Now()
	result := s.extractor.Extract(ctx, pdfPath)
	seconds := time.Since(started).Seconds()

	if !result.IsValid {
		s.log.Infow("extraction yielded no usable text",
			"document_id", docID, "pages", result.PageCount, "reason", result.ErrorMessage)
		// keep whatever partial text came out, for debugging
		if err := s.db.SetDocumentExtraction(ctx, docID, result.Text, result.PageCount, seconds, DocExtractionFailed); err != nil {
			return fmt.Errorf("store failed extraction: %w", err)
		}
		return s.db.UpdateDocumentStatus(ctx, docID, DocExtractionFailed, result.ErrorMessage)
	}

	s.log.Infow("document extracted",
		"document_id", docID, "pages", result.PageCount, "ocr_pages", result.OCRPages,
		"chars", len(result.Text), "seconds", seconds)
	return s.db.SetDocumentExtraction(ctx, docID, result.Text, result.PageCount, seconds, DocReady)
}

// fetchPDF downloads the stored object into a temp file and returns its
// path with a cleanup func.
func (s *DocumentService) fetchPDF(ctx context.Context, doc *models.Document) (string, func(), error) {
	key := s.objectKey(doc.UserID, doc.ID, doc.FileName)
	data, err := s.storage.GetFile(ctx, s.bucket, key)
	if err != nil {
		return "", nil, fmt.Errorf("fetch pdf: %w", err)
	}

	tmp, err := os.CreateTemp("", "examsetu-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp pdf: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

// objectKey is the canonical S3 layout; rebuilding it from document
// fields avoids parsing storage URLs.
func (s *DocumentService) objectKey(userID, docID, filename string) string {
	filename = strings.ReplaceAll(strings.TrimSpace(path.Base(filename)), " ", "_")
	return path.Join("users", userID, "documents", docID, filename)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
