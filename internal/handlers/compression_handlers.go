package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/akagifreeez/tinify-dashboard/internal/models"
	"github.com/akagifreeez/tinify-dashboard/internal/services"
)

type CompressionHandler struct {
	service       *services.CompressionService
	maxUploadSize int64
}

func NewCompressionHandler(service *services.CompressionService, maxUploadSize int64) *CompressionHandler {
	return &CompressionHandler{service: service, maxUploadSize: maxUploadSize}
}

type batchResponse struct {
	Results   []models.Compression `json:"results"`
	Completed int                  `json:"completed"`
	Failed    int                  `json:"failed"`
}

// Compress accepts one or more images in the "files" field
// POST /api/v1/compress
func (h *CompressionHandler) Compress(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "At least one file is required in field \"files\"", http.StatusBadRequest)
		return
	}

	uploads := make([]services.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "Failed to read upload "+fh.Filename, http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			http.Error(w, "Failed to read upload "+fh.Filename, http.StatusBadRequest)
			return
		}
		uploads = append(uploads, services.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	op, _ := GetOperatorFromContext(r.Context())
	results := h.service.ProcessBatch(r.Context(), op.Username, uploads)

	resp := batchResponse{Results: results}
	for _, rec := range results {
		if rec.Status == models.StatusCompleted {
			resp.Completed++
		} else {
			resp.Failed++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// List returns compression records, newest first
// GET /api/v1/compressions?limit=50&offset=0
func (h *CompressionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err, "list compressions")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// Get returns one record
// GET /api/v1/compressions/{id}
func (h *CompressionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err, "get compression")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Download streams the compressed image
// GET /api/v1/compressions/{id}/download
func (h *CompressionHandler) Download(w http.ResponseWriter, r *http.Request) {
	rec, data, err := h.service.Output(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err, "download compression")
		return
	}

	contentType := rec.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Delete removes a record and its output
// DELETE /api/v1/compressions/{id}
func (h *CompressionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err, "delete compression")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats aggregates records for the dashboard header
// GET /api/v1/stats
func (h *CompressionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		respondError(w, err, "compression stats")
		return
	}
	respondJSON(w, http.StatusOK, st)
}
