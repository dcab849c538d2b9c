package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/ingest"
	"github.com/tejulabs/corpora/internal/services"
)

type IngestHandler struct {
	pipeline *ingest.Pipeline
	products *services.ProductService
}

func NewIngestHandler(pipeline *ingest.Pipeline, products *services.ProductService) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, products: products}
}

type ingestRunRequest struct {
	ProductID string `json:"productId"`
}

// GetStatus reports the durable pipeline position for a product.
// GET /api/ingest/status?productId=...
func (h *IngestHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		http.Error(w, "productId is required", http.StatusBadRequest)
		return
	}

	status, err := h.products.Status(r.Context(), productID)
	if err != nil {
		if errors.Is(err, core.ErrProductNotFound) {
			http.Error(w, "product not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// RunProcessing re-runs extract, chunk and embed against the last recorded
// upload. Stages are idempotent; identical text is never re-embedded.
// POST /api/ingest/run
func (h *IngestHandler) RunProcessing(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.pipeline.RunExtract(ctx, req.ProductID); err != nil {
		writeStageError(w, err)
		return
	}
	if err := h.pipeline.RunChunk(ctx, req.ProductID); err != nil {
		writeStageError(w, err)
		return
	}
	result, err := h.pipeline.RunEmbed(ctx, req.ProductID)
	if err != nil {
		writeStageError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// RunStage triggers one pipeline stage.
// POST /api/ingest/{stage} where stage is extract, chunk or embed.
func (h *IngestHandler) RunStage(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	req, ok := decodeRunRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	switch stage {
	case "upload":
		// Upload needs the file bytes, so it runs through the multipart
		// document endpoint rather than a bare stage trigger.
		http.Error(w, "upload runs via POST /api/documents/upload", http.StatusBadRequest)
		return
	case "extract":
		if err := h.pipeline.RunExtract(ctx, req.ProductID); err != nil {
			writeStageError(w, err)
			return
		}
	case "chunk":
		if err := h.pipeline.RunChunk(ctx, req.ProductID); err != nil {
			writeStageError(w, err)
			return
		}
	case "embed":
		result, err := h.pipeline.RunEmbed(ctx, req.ProductID)
		if err != nil {
			writeStageError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
		return
	default:
		http.Error(w, fmt.Sprintf("unknown stage %q", stage), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (ingestRunRequest, bool) {
	var req ingestRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.ProductID == "" {
		http.Error(w, "productId is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// writeStageError maps pipeline failures onto HTTP statuses. Stage errors
// have already been persisted; this only shapes the response.
func writeStageError(w http.ResponseWriter, err error) {
	var stageErr *core.StageError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrNoTextExtracted), errors.Is(err, core.ErrChunking):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoSuitableTarget):
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"error": err.Error()}
	if errors.As(err, &stageErr) {
		body["failedStage"] = stageErr.Stage
		body["failureReason"] = stageErr.Reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
