package models

import (
	"time"
)

// Business owns products and personas. It is the tenant boundary for
// everything the ingestion pipeline and chat surface touch.
type Business struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Product is one ingested, document-backed knowledge unit.
// Status walks the pipeline state machine; products are soft-disabled,
// never physically deleted.
type Product struct {
	ID           string    `db:"id" json:"id"`
	BusinessID   string    `db:"business_id" json:"business_id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt,omitempty"`
	Status       string    `db:"status" json:"status"`
	Disabled     bool      `db:"disabled" json:"disabled"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ExtractedText is one raw OCR result per upload attempt. Immutable after
// creation; a re-extraction supersedes the previous row instead of deleting it.
type ExtractedText struct {
	ID               string    `db:"id" json:"id"`
	ProductID        string    `db:"product_id" json:"product_id"`
	RawText          string    `db:"raw_text" json:"raw_text"`
	SourceLocator    string    `db:"source_locator" json:"source_locator"`
	ExtractionMethod string    `db:"extraction_method" json:"extraction_method"`
	PageCount        int       `db:"page_count" json:"page_count"`
	NeedsChunking    bool      `db:"needs_chunking" json:"needs_chunking"`
	NeedsEmbedding   bool      `db:"needs_embedding" json:"needs_embedding"`
	Superseded       bool      `db:"superseded" json:"superseded"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Chunk is a bounded slice of extracted text with exact token and character
// offsets. ContentHash is unique per product: re-chunking identical text is a
// no-op, and Embedding stays nil until the embed stage fills it in.
type Chunk struct {
	ID          string    `db:"id" json:"id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	Content     string    `db:"content" json:"content"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	TokenStart  int       `db:"token_start" json:"token_start"`
	TokenEnd    int       `db:"token_end" json:"token_end"`
	CharStart   int       `db:"char_start" json:"char_start"`
	CharEnd     int       `db:"char_end" json:"char_end"`
	Embedding   []float32 `db:"embedding" json:"-"` // pgvector column, nil until embedded
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	TotalChunks int       `db:"total_chunks" json:"total_chunks"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ProcessingLogEntry is an append-only audit record of pipeline transitions.
// Rows are never mutated or deleted.
type ProcessingLogEntry struct {
	ID        string    `db:"id" json:"id"`
	ProductID string    `db:"product_id" json:"product_id"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationMessage is one row of chat history. Tool-role rows are hidden
// from the user-visible transcript but kept for model context and audit.
type ConversationMessage struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	ToolName  string    `db:"tool_name" json:"tool_name,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Persona is a selectable assistant voice a business exposes to its users.
type Persona struct {
	ID           string    `db:"id" json:"id"`
	BusinessID   string    `db:"business_id" json:"business_id"`
	Name         string    `db:"name" json:"name"`
	Description  string    `db:"description" json:"description"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// UserProfile holds per-user fields the assistant may read and update through
// tool calls.
type UserProfile struct {
	UserID          string    `db:"user_id" json:"user_id"`
	DisplayName     string    `db:"display_name" json:"display_name"`
	Email           string    `db:"email" json:"email"`
	Phone           string    `db:"phone" json:"phone"`
	ActivePersonaID string    `db:"active_persona_id" json:"active_persona_id"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
