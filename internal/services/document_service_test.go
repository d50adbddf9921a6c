package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
	"github.com/examsetu/examsetu/internal/models"
)

// stubDB implements only the calls the extraction worker makes. The
// embedded interface panics on anything else.
type stubDB struct {
	core.DbClient

	mu       sync.Mutex
	doc      *models.Document
	statuses []string
	reasons  []string
}

func (d *stubDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil || d.doc.ID != id {
		return nil, nil
	}
	cp := *d.doc
	return &cp, nil
}

func (d *stubDB) UpdateDocumentStatus(_ context.Context, _ string, status, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc.Status = status
	d.statuses = append(d.statuses, status)
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *stubDB) SetDocumentExtraction(_ context.Context, _ string, text string, pageCount int, _ float64, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc.ExtractedText = text
	d.doc.PageCount = pageCount
	d.doc.Status = status
	d.statuses = append(d.statuses, status)
	return nil
}

type stubStorage struct {
	core.ObjectClient
}

func (stubStorage) GetFile(context.Context, string, string) ([]byte, error) {
	return []byte("%PDF-1.4 stub"), nil
}

type stubExtractor struct {
	mu     sync.Mutex
	called bool
	result core.ExtractionResult
}

func (e *stubExtractor) Extract(context.Context, string) core.ExtractionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.called = true
	return e.result
}

func (e *stubExtractor) wasCalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.called
}

func newTestService(db *stubDB, ex *stubExtractor, maxPages int) *DocumentService {
	return NewDocumentService(db, stubStorage{}, "bucket", ex,
		DocumentConfig{MaxPDFPages: maxPages, MinValidTextLen: 10}, zap.NewNop().Sugar())
}

func uploadedDoc() *models.Document {
	return &models.Document{
		ID:         "doc-1",
		UserID:     "user-1",
		FileName:   "budget.pdf",
		SourceType: "pdf",
		Status:     DocUploaded,
	}
}

func TestProcessRejectsOverLimitBeforeExtraction(t *testing.T) {
	db := &stubDB{doc: uploadedDoc()}
	ex := &stubExtractor{}
	svc := newTestService(db, ex, 1000)
	svc.pageCount = func(string) (int, error) { return 1200, nil }

	require.NoError(t, svc.processOne(context.Background(), "doc-1"))

	assert.Equal(t, DocRejected, db.doc.Status)
	assert.Contains(t, db.reasons[len(db.reasons)-1], "limit is 1000")
	assert.False(t, ex.wasCalled(), "an over-limit document must never reach extraction")
}

func TestProcessExtractsWithinPageLimit(t *testing.T) {
	db := &stubDB{doc: uploadedDoc()}
	ex := &stubExtractor{result: core.ExtractionResult{
		Text:      "Enough clean text to be usable downstream.",
		PageCount: 12,
		IsValid:   true,
	}}
	svc := newTestService(db, ex, 1000)
	svc.pageCount = func(string) (int, error) { return 12, nil }

	require.NoError(t, svc.processOne(context.Background(), "doc-1"))

	assert.Equal(t, DocReady, db.doc.Status)
	assert.Equal(t, 12, db.doc.PageCount)
	assert.True(t, ex.wasCalled())
}
