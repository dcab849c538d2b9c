package core

import (
	"context"
	"io"
	"time"

	"github.com/tejulabs/corpora/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	ListProductsByBusiness(ctx context.Context, businessID string) ([]models.Product, error)
	UpdateProductStatus(ctx context.Context, id string, status string) error
	SetProductDisabled(ctx context.Context, id string, disabled bool) error

	CreateExtractedText(ctx context.Context, et *models.ExtractedText) error
	GetLatestExtractedText(ctx context.Context, productID string) (*models.ExtractedText, error)
	SupersedeExtractedTexts(ctx context.Context, productID string) error

	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunksByProduct(ctx context.Context, productID string) ([]models.Chunk, error)
	CountChunksByProduct(ctx context.Context, productID string) (total int, embedded int, err error)
	SetChunkEmbedding(ctx context.Context, productID, contentHash string, vec []float32) error
	SearchChunks(ctx context.Context, productID string, queryVec []float32, limit int) ([]models.Chunk, error)

	AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error
	ListProcessingLog(ctx context.Context, productID string) ([]models.ProcessingLogEntry, error)

	AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListConversationMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error)

	ListPersonasByBusiness(ctx context.Context, businessID string) ([]models.Persona, error)
	GetPersonaByName(ctx context.Context, businessID, name string) (*models.Persona, error)

	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpdateUserProfile(ctx context.Context, profile *models.UserProfile) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// A locator is an opaque "bucket/key" pair; SignedURL mints a short-lived
// read-back URL for collaborators that cannot hold credentials.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}
