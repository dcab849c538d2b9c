package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/ingest"
	"github.com/tejulabs/corpora/internal/models"
)

type ProductService struct {
	db      core.DbClient
	storage core.ObjectClient
	tracker *ingest.StatusTracker
}

func NewProductService(db core.DbClient, storage core.ObjectClient) *ProductService {
	return &ProductService{db: db, storage: storage, tracker: ingest.NewStatusTracker(db)}
}

// Create registers a product in its pre-upload state.
func (s *ProductService) Create(ctx context.Context, businessID, name, description string) (*models.Product, error) {
	p := &models.Product{
		ID:          uuid.NewString(),
		BusinessID:  businessID,
		Name:        name,
		Description: description,
		Status:      string(ingest.StagePendingUpload),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.db.GetProductByID(ctx, id)
}

func (s *ProductService) ListByBusiness(ctx context.Context, businessID string) ([]models.Product, error) {
	return s.db.ListProductsByBusiness(ctx, businessID)
}

// SetDisabled soft-disables a product. Disabled products stay in the catalog
// but are hidden from assistant tool results. Disabling also removes the
// stored upload; the extracted text and chunks remain for re-enable.
func (s *ProductService) SetDisabled(ctx context.Context, id string, disabled bool) error {
	if err := s.db.SetProductDisabled(ctx, id, disabled); err != nil {
		return err
	}
	if disabled {
		s.cleanupUpload(ctx, id)
	}
	return nil
}

func (s *ProductService) Chunks(ctx context.Context, productID string) ([]models.Chunk, error) {
	return s.db.GetChunksByProduct(ctx, productID)
}

// Status reads the durable pipeline position for a product.
func (s *ProductService) Status(ctx context.Context, productID string) (*ingest.Status, error) {
	return s.tracker.Read(ctx, productID)
}

// ProcessingLog returns the append-only audit trail for a product.
func (s *ProductService) ProcessingLog(ctx context.Context, productID string) ([]models.ProcessingLogEntry, error) {
	return s.db.ListProcessingLog(ctx, productID)
}

// cleanupUpload deletes the last stored object for a disabled product. Best
// effort: a storage error leaves the object orphaned, never fails the disable.
func (s *ProductService) cleanupUpload(ctx context.Context, productID string) {
	entries, err := s.db.ListProcessingLog(ctx, productID)
	if err != nil {
		log.Printf("products: cleanup for %s: read log: %v", productID, err)
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action != "uploaded" {
			continue
		}
		bucket, key, ok := strings.Cut(entries[i].Details, "/")
		if !ok {
			return
		}
		if err := s.storage.DeleteFile(ctx, bucket, key); err != nil {
			log.Printf("products: cleanup for %s: delete %s: %v", productID, entries[i].Details, err)
		}
		return
	}
}
