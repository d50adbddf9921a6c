package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	middleware "github.com/examsetu/examsetu/internal/api/middlewares"
	"github.com/examsetu/examsetu/internal/services"
)

const maxUploadBytes = 52 << 20 // 52 MB

type DocumentHandler struct {
	docs *services.DocumentService
	log  *zap.SugaredLogger
}

func NewDocumentHandler(docs *services.DocumentService, log *zap.SugaredLogger) *DocumentHandler {
	return &DocumentHandler{docs: docs, log: log}
}

// UploadDocument accepts a PDF via multipart form, stores it, and queues
// extraction.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a 'file' form field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		writeError(w, http.StatusBadRequest, "file is not a valid PDF")
		return
	}

	doc, err := h.docs.CreatePDF(r.Context(), userID, filename, "application/pdf", data)
	if err != nil {
		h.log.Errorw("upload failed", "user_id", userID, "file", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type pasteTextRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// CreateFromText records pasted study material as a ready document.
func (h *DocumentHandler) CreateFromText(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req pasteTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "Pasted text"
	}

	doc, err := h.docs.CreateText(r.Context(), userID, req.Title, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocuments lists the caller's documents.
func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	documents, err := h.docs.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Errorw("list documents failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

// GetDocument returns one document with its processing status.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil || doc == nil || doc.UserID != userID {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
