package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tejulabs/corpora/internal/core/ingest"
	"github.com/tejulabs/corpora/internal/services"
)

const maxUploadBytes = 52 << 20 // 52 MB

type ProductHandler struct {
	products   *services.ProductService
	pipeline   *ingest.Pipeline
	businessID string
}

func NewProductHandler(products *services.ProductService, pipeline *ingest.Pipeline, businessID string) *ProductHandler {
	return &ProductHandler{products: products, pipeline: pipeline, businessID: businessID}
}

// chunkView is the serialization contract for chunk reads. Embeddings and
// storage details never leave the API.
type chunkView struct {
	Content    string `json:"content"`
	TokenStart int    `json:"tokenStart"`
	TokenEnd   int    `json:"tokenEnd"`
	CharStart  int    `json:"charStart"`
	CharEnd    int    `json:"charEnd"`
}

// UploadDocument accepts a multipart document, creates the product row, and
// processes it in the background. The task is owned by this request's
// goroutine; there is no process-wide job registry to consult or clean up.
// POST /api/documents/upload
func (h *ProductHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "read upload failed", http.StatusInternalServerError)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	cleanFilename := filepath.Base(header.Filename)
	name := r.FormValue("name")
	if name == "" {
		name = cleanFilename
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	product, err := h.products.Create(r.Context(), h.businessID, name, r.FormValue("description"))
	if err != nil {
		http.Error(w, "failed to create product", http.StatusInternalServerError)
		return
	}

	// Detach from the request context so a closed connection does not abort
	// the pipeline mid-stage.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := h.pipeline.Run(ctx, product.ID, cleanFilename, contentType, data); err != nil {
			log.Printf("ingest: background run for product %s failed: %v", product.ID, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(product)
}

// GetProducts lists the business catalog.
// GET /api/products
func (h *ProductHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListByBusiness(r.Context(), h.businessID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(products)
}

// GetChunks returns a product's chunks in the wire shape.
// GET /api/products/{id}/chunks
func (h *ProductHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	product, err := h.products.Get(r.Context(), productID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if product == nil {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}

	chunks, err := h.products.Chunks(r.Context(), productID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]chunkView, 0, len(chunks))
	for _, ch := range chunks {
		views = append(views, chunkView{
			Content:    ch.Content,
			TokenStart: ch.TokenStart,
			TokenEnd:   ch.TokenEnd,
			CharStart:  ch.CharStart,
			CharEnd:    ch.CharEnd,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetProcessingLog returns the append-only audit trail.
// GET /api/products/{id}/log
func (h *ProductHandler) GetProcessingLog(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	entries, err := h.products.ProcessingLog(r.Context(), productID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

type disableRequest struct {
	Disabled bool `json:"disabled"`
}

// SetDisabled soft-disables or re-enables a product.
// POST /api/products/{id}/disable
func (h *ProductHandler) SetDisabled(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	var req disableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.products.SetDisabled(r.Context(), productID, req.Disabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": productID, "disabled": req.Disabled})
}
