package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tejulabs/corpora/internal/config"
	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
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

// Products

func (c *DatabaseClient) CreateProduct(ctx context.Context, p *models.Product) error {
	if p == nil {
		return errors.New("nil product")
	}
	const q = `
		INSERT INTO products
			(id, business_id, name, description, system_prompt, status, disabled, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		p.ID, p.BusinessID, p.Name, p.Description, p.SystemPrompt, p.Status, p.Disabled, nullableTime(p.CreatedAt), nullableTime(p.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	const q = `
		SELECT id, business_id, name, description, system_prompt, status, disabled, created_at, updated_at
		FROM products
		WHERE id = $1
	`
	var p models.Product
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.SystemPrompt, &p.Status, &p.Disabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *DatabaseClient) ListProductsByBusiness(ctx context.Context, businessID string) ([]models.Product, error) {
	const q = `
		SELECT id, business_id, name, description, system_prompt, status, disabled, created_at, updated_at
		FROM products
		WHERE business_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.SystemPrompt, &p.Status, &p.Disabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateProductStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE products
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrProductNotFound, id)
	}
	return nil
}

func (c *DatabaseClient) SetProductDisabled(ctx context.Context, id string, disabled bool) error {
	const q = `
		UPDATE products
		SET disabled = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, disabled)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrProductNotFound, id)
	}
	return nil
}

// Extracted texts

func (c *DatabaseClient) CreateExtractedText(ctx context.Context, et *models.ExtractedText) error {
	if et == nil {
		return errors.New("nil extracted text")
	}
	const q = `
		INSERT INTO extracted_texts
			(id, product_id, raw_text, source_locator, extraction_method, page_count,
			 needs_chunking, needs_embedding, superseded, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		et.ID, et.ProductID, et.RawText, et.SourceLocator, et.ExtractionMethod, et.PageCount,
		et.NeedsChunking, et.NeedsEmbedding, et.Superseded, nullableTime(et.CreatedAt))
	return err
}

func (c *DatabaseClient) GetLatestExtractedText(ctx context.Context, productID string) (*models.ExtractedText, error) {
	const q = `
		SELECT id, product_id, raw_text, source_locator, extraction_method, page_count,
		       needs_chunking, needs_embedding, superseded, created_at
		FROM extracted_texts
		WHERE product_id = $1 AND superseded = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	var et models.ExtractedText
	err := c.db.QueryRowContext(ctx, q, productID).Scan(
		&et.ID, &et.ProductID, &et.RawText, &et.SourceLocator, &et.ExtractionMethod, &et.PageCount,
		&et.NeedsChunking, &et.NeedsEmbedding, &et.Superseded, &et.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &et, nil
}

func (c *DatabaseClient) SupersedeExtractedTexts(ctx context.Context, productID string) error {
	const q = `
		UPDATE extracted_texts
		SET superseded = TRUE
		WHERE product_id = $1 AND superseded = FALSE
	`
	_, err := c.db.ExecContext(ctx, q, productID)
	return err
}

// Chunks

// UpsertChunks writes chunks in one transaction, keyed on (product_id,
// content_hash). A conflicting row keeps its embedding so a re-chunk of
// identical text never forces re-embedding.
func (c *DatabaseClient) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks
			(id, product_id, content, content_hash, token_start, token_end,
			 char_start, char_end, chunk_index, total_chunks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
		ON CONFLICT (product_id, content_hash) DO UPDATE
		SET token_start = EXCLUDED.token_start,
		    token_end = EXCLUDED.token_end,
		    char_start = EXCLUDED.char_start,
		    char_end = EXCLUDED.char_end,
		    chunk_index = EXCLUDED.chunk_index,
		    total_chunks = EXCLUDED.total_chunks
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.ProductID, ch.Content, ch.ContentHash, ch.TokenStart, ch.TokenEnd,
			ch.CharStart, ch.CharEnd, ch.ChunkIndex, ch.TotalChunks, nullableTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByProduct(ctx context.Context, productID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, product_id, content, content_hash, token_start, token_end,
		       char_start, char_end, embedding, chunk_index, total_chunks, created_at
		FROM chunks
		WHERE product_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(
			&ch.ID, &ch.ProductID, &ch.Content, &ch.ContentHash, &ch.TokenStart, &ch.TokenEnd,
			&ch.CharStart, &ch.CharEnd, &emb, &ch.ChunkIndex, &ch.TotalChunks, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		if emb.Valid {
			ch.Embedding = emb.V.Slice()
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountChunksByProduct(ctx context.Context, productID string) (int, int, error) {
	const q = `
		SELECT count(*), count(embedding)
		FROM chunks
		WHERE product_id = $1
	`
	var total, embedded int
	if err := c.db.QueryRowContext(ctx, q, productID).Scan(&total, &embedded); err != nil {
		return 0, 0, err
	}
	return total, embedded, nil
}

func (c *DatabaseClient) SetChunkEmbedding(ctx context.Context, productID, contentHash string, vec []float32) error {
	const q = `
		UPDATE chunks
		SET embedding = $3
		WHERE product_id = $1 AND content_hash = $2
	`
	res, err := c.db.ExecContext(ctx, q, productID, contentHash, pgvector.NewVector(vec))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chunk not found: product=%s hash=%s", productID, contentHash)
	}
	return nil
}

// SearchChunks finds the top-k embedded chunks nearest a query vector.
func (c *DatabaseClient) SearchChunks(ctx context.Context, productID string, queryVec []float32, limit int) ([]models.Chunk, error) {
	const q = `
		SELECT id, product_id, content, content_hash, token_start, token_end,
		       char_start, char_end, embedding, chunk_index, total_chunks, created_at
		FROM chunks
		WHERE product_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, productID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch  models.Chunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.ProductID, &ch.Content, &ch.ContentHash, &ch.TokenStart, &ch.TokenEnd,
			&ch.CharStart, &ch.CharEnd, &emb, &ch.ChunkIndex, &ch.TotalChunks, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Processing log

func (c *DatabaseClient) AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error {
	if entry == nil {
		return errors.New("nil log entry")
	}
	const q = `
		INSERT INTO processing_log (id, product_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		entry.ID, entry.ProductID, entry.Action, entry.Details, nullableTime(entry.CreatedAt))
	return err
}

func (c *DatabaseClient) ListProcessingLog(ctx context.Context, productID string) ([]models.ProcessingLogEntry, error) {
	const q = `
		SELECT id, product_id, action, details, created_at
		FROM processing_log
		WHERE product_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProcessingLogEntry
	for rows.Next() {
		var e models.ProcessingLogEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Conversations

func (c *DatabaseClient) AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	const q = `
		INSERT INTO conversation_messages (id, user_id, role, content, tool_name, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		msg.ID, msg.UserID, msg.Role, msg.Content, msg.ToolName, nullableTime(msg.CreatedAt))
	return err
}

func (c *DatabaseClient) ListConversationMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, user_id, role, content, tool_name, created_at
		FROM (
			SELECT id, user_id, role, content, tool_name, created_at
			FROM conversation_messages
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.ToolName, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Personas

func (c *DatabaseClient) ListPersonasByBusiness(ctx context.Context, businessID string) ([]models.Persona, error) {
	const q = `
		SELECT id, business_id, name, description, system_prompt, created_at
		FROM personas
		WHERE business_id = $1
		ORDER BY name ASC
	`
	rows, err := c.db.QueryContext(ctx, q, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Persona
	for rows.Next() {
		var p models.Persona
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.SystemPrompt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetPersonaByName(ctx context.Context, businessID, name string) (*models.Persona, error) {
	const q = `
		SELECT id, business_id, name, description, system_prompt, created_at
		FROM personas
		WHERE business_id = $1 AND lower(name) = lower($2)
	`
	var p models.Persona
	err := c.db.QueryRowContext(ctx, q, businessID, name).Scan(
		&p.ID, &p.BusinessID, &p.Name, &p.Description, &p.SystemPrompt, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// User profiles

func (c *DatabaseClient) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	const q = `
		SELECT user_id, display_name, email, phone, COALESCE(active_persona_id::text, ''), updated_at
		FROM user_profiles
		WHERE user_id = $1
	`
	var p models.UserProfile
	err := c.db.QueryRowContext(ctx, q, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Email, &p.Phone, &p.ActivePersonaID, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *DatabaseClient) UpdateUserProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile == nil {
		return errors.New("nil profile")
	}
	const q = `
		INSERT INTO user_profiles (user_id, display_name, email, phone, active_persona_id, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, now())
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    active_persona_id = EXCLUDED.active_persona_id,
		    updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q,
		profile.UserID, profile.DisplayName, profile.Email, profile.Phone, profile.ActivePersonaID)
	return err
}

// nullableTime lets COALESCE fall back to now() for zero timestamps.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
